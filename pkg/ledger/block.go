// Package ledger implements the single-writer, append-only,
// hash-chained audit ledger (C1). No pipeline transition is considered
// durable until its ledger block is appended; the ledger is the
// system's linearization point (spec.md §2, §5).
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind enumerates the block kinds named in spec.md §4.1. Each
// corresponds to exactly one stage transition or queue event.
type Kind string

const (
	KindQuestionPaperUpload    Kind = "QUESTION_PAPER_UPLOAD"
	KindAnswerKeyAIVerified    Kind = "ANSWER_KEY_AI_VERIFIED"
	KindAnswerKeyHumanApproved Kind = "ANSWER_KEY_HUMAN_APPROVED"
	KindAnswerKeyLocked        Kind = "ANSWER_KEY_LOCKED"
	KindSheetIngested          Kind = "SHEET_INGESTED"
	KindQualityAssessed        Kind = "QUALITY_ASSESSED"
	KindReconstructed          Kind = "RECONSTRUCTED"
	KindBubblesRead            Kind = "BUBBLES_READ"
	KindAISolved               Kind = "AI_SOLVED"
	KindManualEntered          Kind = "MANUAL_ENTERED"
	KindReconciled             Kind = "RECONCILED"
	KindScored                 Kind = "SCORED"
	KindInterventionOpened     Kind = "INTERVENTION_OPENED"
	KindInterventionResolved   Kind = "INTERVENTION_RESOLVED"
	KindResultFinalized        Kind = "RESULT_FINALIZED"
)

// PayloadEntry is one (key, value-hash) pair in a block's payload.
// The value itself is never stored in the block — only the hash of its
// canonical serialization — keeping blocks small and making the ledger
// an integrity proof rather than a second copy of entity state.
type PayloadEntry struct {
	Key       string `json:"key"`
	ValueHash string `json:"value_hash"` // hex sha256
}

// NewPayloadEntry hashes value's canonical JSON encoding into a PayloadEntry.
func NewPayloadEntry(key string, value interface{}) (PayloadEntry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return PayloadEntry{}, fmt.Errorf("marshal payload value %q: %w", key, err)
	}
	sum := sha256.Sum256(data)
	return PayloadEntry{Key: key, ValueHash: hex.EncodeToString(sum[:])}, nil
}

// Signature is one (signer-kind, signer-key, signature-bytes) tuple.
type Signature struct {
	SignerKind string `json:"signer_kind"`
	SignerKey  string `json:"signer_key"`  // hex-encoded ed25519 public key
	Signature  string `json:"signature"`   // hex-encoded signature bytes
}

// ZeroHash is the genesis block's prev_hash.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is one immutable record in the chain.
type Block struct {
	Index      int64        `json:"index"`
	Timestamp  int64        `json:"timestamp"` // UTC nanoseconds
	Kind       Kind         `json:"kind"`
	Payload    []PayloadEntry `json:"payload"`
	MerkleRoot string       `json:"merkle_root"`
	PrevHash   string       `json:"prev_hash"`
	Signatures []Signature  `json:"signatures"`
	Nonce      uint64       `json:"nonce"`
	SelfHash   string       `json:"self_hash"`
}

// signingInput is the canonical byte sequence hashed to produce
// self_hash: H(index ‖ timestamp ‖ kind ‖ merkle_root ‖ prev_hash ‖
// signatures ‖ nonce), per spec.md §4.1. Signatures are included so a
// signature added after mining would change the hash — callers must
// mine only after attaching every signature the block will carry.
type signingInput struct {
	Index      int64        `json:"index"`
	Timestamp  int64        `json:"timestamp"`
	Kind       Kind         `json:"kind"`
	MerkleRoot string       `json:"merkle_root"`
	PrevHash   string       `json:"prev_hash"`
	Signatures []Signature  `json:"signatures"`
	Nonce      uint64       `json:"nonce"`
}

// computeSelfHash recomputes the block's self_hash from its other
// fields, ignoring whatever is currently stored in SelfHash.
func computeSelfHash(b Block) string {
	sigs := make([]Signature, len(b.Signatures))
	copy(sigs, b.Signatures)
	sort.Slice(sigs, func(i, j int) bool {
		if sigs[i].SignerKind != sigs[j].SignerKind {
			return sigs[i].SignerKind < sigs[j].SignerKind
		}
		return sigs[i].SignerKey < sigs[j].SignerKey
	})

	in := signingInput{
		Index:      b.Index,
		Timestamp:  b.Timestamp,
		Kind:       b.Kind,
		MerkleRoot: b.MerkleRoot,
		PrevHash:   b.PrevHash,
		Signatures: sigs,
		Nonce:      b.Nonce,
	}
	data, err := json.Marshal(in)
	if err != nil {
		// Marshal of a struct of primitive+slice fields cannot fail.
		panic(fmt.Sprintf("ledger: unexpected marshal failure: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isHashSolved reports whether hash satisfies the difficulty predicate:
// its leading `difficulty` hex digits must be zero.
func isHashSolved(difficulty int, hash string) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}
