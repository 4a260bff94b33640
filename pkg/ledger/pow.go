package ledger

import (
	"encoding/json"
	"fmt"
)

// signableContent is what signers actually sign: the block's content
// before mining, excluding signatures and self_hash (which are derived
// afterward). Grounded on the corpus's block-header-only hashing
// rationale (other_examples/.../block.go): sign the content that
// identifies the event, not incidental mining artifacts.
type signableContent struct {
	Index      int64          `json:"index"`
	Timestamp  int64          `json:"timestamp"`
	Kind       Kind           `json:"kind"`
	MerkleRoot string         `json:"merkle_root"`
	PrevHash   string         `json:"prev_hash"`
}

func signableBytes(b Block) []byte {
	data, _ := json.Marshal(signableContent{
		Index:      b.Index,
		Timestamp:  b.Timestamp,
		Kind:       b.Kind,
		MerkleRoot: b.MerkleRoot,
		PrevHash:   b.PrevHash,
	})
	return data
}

// mine scans nonce values deterministically starting from 0 until
// self_hash satisfies the difficulty predicate, or until maxAttempts is
// exhausted. Deterministic scanning (not a random starting point) keeps
// mining reproducible across restarts, which matters here because
// blocks model business events rather than a public proof-of-work chain.
func mine(b Block, difficulty int, maxAttempts uint64) (Block, error) {
	if maxAttempts == 0 {
		maxAttempts = ^uint64(0)
	}

	var attempts uint64
	for nonce := uint64(0); attempts < maxAttempts; nonce++ {
		attempts++
		b.Nonce = nonce
		hash := computeSelfHash(b)
		if isHashSolved(difficulty, hash) {
			b.SelfHash = hash
			return b, nil
		}
	}
	return Block{}, fmt.Errorf("mining_budget_exceeded: no nonce found within %d attempts at difficulty %d", maxAttempts, difficulty)
}
