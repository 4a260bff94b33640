// Package images provides a content-addressed store for the raw sheet
// and question-paper pixel bytes behind the content hashes that
// pkg/store and pkg/ledger carry. Entities never hold raw bytes
// themselves (spec.md §3's "content hash, never the bytes" rule); this
// package is the one place those bytes actually live.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
)

// FSStore persists each blob as a single file named by its own
// sha256-hex content hash: each Put writes a temporary file and renames
// it into place, so no partial blob is ever observable to a reader. The
// write is not fsynced.
type FSStore struct {
	baseDir string
}

// NewFSStore opens (creating if necessary) a content-addressed store
// rooted at baseDir.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image store dir: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *FSStore) path(hash string) string {
	return filepath.Join(s.baseDir, hash)
}

// Put writes data and returns its content hash. Writing the same bytes
// twice is a no-op the second time: the destination path is already
// correct by construction.
func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	hash := contentHash(data)
	dst := s.path(hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, nil
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write image blob: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("finalize image blob: %w", err)
	}
	return hash, nil
}

// Get returns the bytes stored under contentHash.
func (s *FSStore) Get(_ context.Context, contentHash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("image blob " + contentHash)
		}
		return nil, fmt.Errorf("read image blob: %w", err)
	}
	return data, nil
}
