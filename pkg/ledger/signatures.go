package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// SignerKind enumerates the roles permitted to sign a RESULT_FINALIZED
// block (spec.md §4.1).
type SignerKind string

const (
	SignerAIVerifier      SignerKind = "ai-verifier"
	SignerHumanVerifier   SignerKind = "human-verifier"
	SignerAdminController SignerKind = "admin-controller"
)

// requiredFinalizeSignerKinds is the set a RESULT_FINALIZED block must
// draw at least 3 distinct kinds from.
var requiredFinalizeSignerKinds = map[SignerKind]bool{
	SignerAIVerifier:      true,
	SignerHumanVerifier:   true,
	SignerAdminController: true,
}

// Registry maps signer-kind to its public key, loaded once at startup
// and treated as read-only thereafter (spec.md §5 shared-resources).
type Registry struct {
	keys map[string]ed25519.PublicKey
}

// NewRegistry builds a Registry from decoded hex-encoded public keys
// keyed by "signerKind:signerKeyHex" so the same kind may have more than
// one authorized key (key rotation).
func NewRegistry(entries map[string]string) (*Registry, error) {
	keys := make(map[string]ed25519.PublicKey, len(entries))
	for id, hexKey := range entries {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("signer %q: invalid hex public key: %w", id, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("signer %q: public key must be %d bytes, got %d", id, ed25519.PublicKeySize, len(raw))
		}
		keys[id] = ed25519.PublicKey(raw)
	}
	return &Registry{keys: keys}, nil
}

func registryID(kind, hexKey string) string {
	return kind + ":" + hexKey
}

// Verify checks a signature tuple against the registry.
func (r *Registry) Verify(sig Signature, message []byte) bool {
	pub, ok := r.keys[registryID(sig.SignerKind, sig.SignerKey)]
	if !ok {
		return false
	}
	sigBytes, err := hex.DecodeString(sig.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, sigBytes)
}

// Sign produces a Signature tuple using a held private key; it exists
// for tests and for the admin-controller's own co-located signer.
func Sign(priv ed25519.PrivateKey, kind SignerKind, message []byte) Signature {
	pub := priv.Public().(ed25519.PublicKey)
	sig := ed25519.Sign(priv, message)
	return Signature{
		SignerKind: string(kind),
		SignerKey:  hex.EncodeToString(pub),
		Signature:  hex.EncodeToString(sig),
	}
}

// checkFinalizeSignaturePolicy enforces the multi-signature policy for
// RESULT_FINALIZED blocks: at least 3 signatures of distinct recognized
// kinds, each verifiable against the registry over the block's signing
// input (computed with Signatures temporarily excluded from the hash
// input is not how self_hash works here — signature verification runs
// against the block's pre-mining content, not self_hash, since self_hash
// is derived *from* the signatures).
func checkFinalizeSignaturePolicy(registry *Registry, sigs []Signature, message []byte) error {
	distinctKinds := map[SignerKind]bool{}
	for _, s := range sigs {
		kind := SignerKind(s.SignerKind)
		if !requiredFinalizeSignerKinds[kind] {
			continue
		}
		if registry != nil && !registry.Verify(s, message) {
			continue
		}
		distinctKinds[kind] = true
	}
	if len(distinctKinds) < 3 {
		return fmt.Errorf("signature_insufficient: have %d distinct-kind signatures, need 3", len(distinctKinds))
	}
	return nil
}

// distinctFinalizeSignerCount counts how many distinct recognized,
// verified signer kinds sigs carries against message — used to report
// an accurate "have N, need 3" detail on failure.
func distinctFinalizeSignerCount(registry *Registry, sigs []Signature, message []byte) int {
	distinctKinds := map[SignerKind]bool{}
	for _, s := range sigs {
		kind := SignerKind(s.SignerKind)
		if !requiredFinalizeSignerKinds[kind] {
			continue
		}
		if registry != nil && !registry.Verify(s, message) {
			continue
		}
		distinctKinds[kind] = true
	}
	return len(distinctKinds)
}
