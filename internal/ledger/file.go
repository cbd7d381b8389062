package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/DeafMist/form8k-radar/internal/apperr"
)

// FileStore keeps the ledger in a local file. The revision is the sha256 of
// the content, so an edit made between Load and Commit is detected.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Location returns the file path for logs.
func (s *FileStore) Location() string {
	return s.path
}

// Load reads the file. A missing file is an empty ledger.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read %s: %v", apperr.ErrLedgerUnavailable, s.path, err)
	}
	return Snapshot{Content: string(data), Revision: digest(data), Exists: true}, nil
}

// Commit replaces the file when its current digest still equals req.Revision.
func (s *FileStore) Commit(ctx context.Context, req WriteRequest) (string, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	if current.Exists == req.Create || current.Revision != req.Revision {
		return "", fmt.Errorf("%w: %s moved since revision %q", apperr.ErrLedgerConflict, s.path, req.Revision)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", apperr.ErrLedgerUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(req.Content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %v", apperr.ErrLedgerUnavailable, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %v", apperr.ErrLedgerUnavailable, tmp.Name(), err)
	}
	// CreateTemp uses 0600; keep the mode the ledger already had.
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %v", apperr.ErrLedgerUnavailable, tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return "", fmt.Errorf("%w: rename into %s: %v", apperr.ErrLedgerUnavailable, s.path, err)
	}

	return digest([]byte(req.Content)), nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
