package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// merkleRoot computes the root of a binary hash tree over the ordered
// payload entries' value hashes. A single-leaf tree duplicates that
// leaf so the tree always has a stable (even) shape, per spec.md §4.1.
func merkleRoot(entries []PayloadEntry) string {
	if len(entries) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	level := make([][]byte, len(entries))
	for i, e := range entries {
		h, err := hex.DecodeString(e.ValueHash)
		if err != nil {
			// ValueHash is always produced by NewPayloadEntry as hex
			// sha256 output; a bad string here means a caller built a
			// PayloadEntry by hand with malformed data.
			h = sha256.New().Sum([]byte(e.Key + e.ValueHash))
		}
		level[i] = h
	}

	if len(level) == 1 {
		level = append(level, level[0])
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}
