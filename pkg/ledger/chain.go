package ledger

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
)

// Chain is a single-writer, append-only sequence of Block values backed
// by a length-prefixed append-only file. Readers see the chain as of the
// latest fsynced head (spec.md §4.1, §5). Readers take the same mutex as
// Append, so a read waits while an append is mining or fsyncing.
type Chain struct {
	mu       sync.Mutex // the ledger's single exclusive writer lock
	blocks   []Block
	byHash   map[string]int // self_hash -> index in blocks
	store    *fileStore
	registry *Registry

	difficulty  int
	maxAttempts uint64

	readOnly bool // set by ChainIntegrityError; no further appends permitted
}

// Config configures a Chain.
type Config struct {
	Path               string
	DifficultyHexZeros int
	MaxMiningAttempts  uint64
	Registry           *Registry
}

// Open opens (creating if necessary) the ledger file at cfg.Path,
// replays it into memory, and validates the replayed chain. A chain
// that fails validation on open is returned alongside a
// ChainIntegrityError-class error; the caller decides whether to keep
// it open read-only for audit purposes.
func Open(cfg Config) (*Chain, error) {
	store, err := openFileStore(cfg.Path)
	if err != nil {
		return nil, err
	}

	blocks, err := store.loadAll()
	if err != nil {
		return nil, fmt.Errorf("replay ledger file: %w", err)
	}

	c := &Chain{
		blocks:      blocks,
		byHash:      make(map[string]int, len(blocks)),
		store:       store,
		registry:    cfg.Registry,
		difficulty:  cfg.DifficultyHexZeros,
		maxAttempts: cfg.MaxMiningAttempts,
	}
	for i, b := range blocks {
		c.byHash[b.SelfHash] = i
	}

	if idx, err := c.validateLocked(); err != nil {
		c.readOnly = true
		return c, apperrors.NewChainIntegrityError(idx, err)
	}

	return c, nil
}

// Head returns the most recently appended block, or false if the chain
// is empty (no genesis has been appended yet — unlike the corpus's
// blockchain teacher, this ledger has no synthetic genesis block; the
// first real event block is index 0).
func (c *Chain) Head() (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return Block{}, false
	}
	return c.blocks[len(c.blocks)-1], true
}

// ReadOnly reports whether the chain has been placed into read-only
// mode after a ChainIntegrityError (spec.md §7 policy).
func (c *Chain) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// GetByIndex returns the block at the given index.
func (c *Chain) GetByIndex(index int64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= int64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[index], true
}

// GetByHash returns the block with the given self_hash.
func (c *Chain) GetByHash(hash string) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byHash[hash]
	if !ok {
		return Block{}, false
	}
	return c.blocks[idx], true
}

// Len reports the number of blocks currently in the chain.
func (c *Chain) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.blocks))
}

// AppendOptions controls one Append call.
type AppendOptions struct {
	// ExpectedPrevHash, if non-empty, must match the current head's
	// self_hash or the append fails with ChainStale — modeling the
	// "another append interleaved" case from spec.md §4.1.
	ExpectedPrevHash string
}

// Append computes, mines, signs-checks, persists, and records one new
// block. It is the chain's only mutator.
func (c *Chain) Append(kind Kind, payload []PayloadEntry, sigs []Signature, opts AppendOptions) (Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readOnly {
		return Block{}, apperrors.New(apperrors.ErrorTypeChainIntegrity, "ledger is read-only after an integrity failure")
	}

	prevHash := ZeroHash
	nextIndex := int64(0)
	if len(c.blocks) > 0 {
		head := c.blocks[len(c.blocks)-1]
		prevHash = head.SelfHash
		nextIndex = head.Index + 1
	}

	if opts.ExpectedPrevHash != "" && opts.ExpectedPrevHash != prevHash {
		return Block{}, apperrors.NewChainStale().WithDetailsf("expected prev hash %s, chain head is %s", opts.ExpectedPrevHash, prevHash)
	}

	timestamp := time.Now().UTC().UnixNano()
	if kind == KindResultFinalized {
		msg := signableBytes(Block{Index: nextIndex, Timestamp: timestamp, Kind: kind, PrevHash: prevHash, MerkleRoot: merkleRoot(payload)})
		if err := checkFinalizeSignaturePolicy(c.registry, sigs, msg); err != nil {
			have, need := distinctFinalizeSignerCount(c.registry, sigs, msg), 3
			return Block{}, apperrors.NewSignatureInsufficient(have, need)
		}
	}

	b := Block{
		Index:      nextIndex,
		Timestamp:  timestamp,
		Kind:       kind,
		Payload:    payload,
		MerkleRoot: merkleRoot(payload),
		PrevHash:   prevHash,
		Signatures: sigs,
	}

	mined, err := mine(b, c.difficulty, c.maxAttempts)
	if err != nil {
		return Block{}, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "mining budget exceeded for block %d", nextIndex)
	}

	if err := c.store.append(mined); err != nil {
		return Block{}, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "persist block %d", mined.Index)
	}

	c.blocks = append(c.blocks, mined)
	c.byHash[mined.SelfHash] = len(c.blocks) - 1

	return mined, nil
}

// Validate walks the entire chain, recomputing merkle_root and
// self_hash for each block and checking monotonic indices and linkage.
// It reports the first offending index on mismatch.
func (c *Chain) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.validateLocked()
	if err != nil {
		return apperrors.NewChainIntegrityError(idx, err)
	}
	return nil
}

func (c *Chain) validateLocked() (int64, error) {
	for i, b := range c.blocks {
		if b.Index != int64(i) {
			return b.Index, fmt.Errorf("non-monotonic index: expected %d, found %d", i, b.Index)
		}

		expectedPrev := ZeroHash
		if i > 0 {
			expectedPrev = c.blocks[i-1].SelfHash
		}
		if b.PrevHash != expectedPrev {
			return b.Index, fmt.Errorf("chain linkage broken: prev_hash %s != predecessor self_hash %s", b.PrevHash, expectedPrev)
		}

		expectedRoot := merkleRoot(b.Payload)
		if b.MerkleRoot != expectedRoot {
			return b.Index, fmt.Errorf("merkle root mismatch: stored %s, recomputed %s", b.MerkleRoot, expectedRoot)
		}

		expectedHash := computeSelfHash(b)
		if b.SelfHash != expectedHash {
			return b.Index, fmt.Errorf("self_hash mismatch: stored %s, recomputed %s", b.SelfHash, expectedHash)
		}

		if !isHashSolved(c.difficulty, b.SelfHash) {
			return b.Index, fmt.Errorf("self_hash does not satisfy difficulty %d", c.difficulty)
		}
	}
	return -1, nil
}

// Close releases the underlying file handle.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.close()
}
