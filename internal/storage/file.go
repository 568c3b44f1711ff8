package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmerrifield20/GreenLedger/internal/ledger"
)

// DefaultFilePath mirrors the storage key the first GreenLedger deployments
// kept their state under.
const DefaultFilePath = "data/green_ledger_v3.json"

// FileStore keeps the snapshot as a single JSON document on disk. Writes go
// to a temp file in the same directory followed by a rename, so a crash never
// leaves a half-written document behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore writing to path (DefaultFilePath when empty).
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFilePath
	}
	return &FileStore{path: path}
}

// Path returns the document location.
func (f *FileStore) Path() string { return f.path }

// Load implements ledger.Persister.
func (f *FileStore) Load(_ context.Context) (ledger.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ledger.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return ledger.DecodeSnapshot(b)
}

// Save implements ledger.Persister.
func (f *FileStore) Save(_ context.Context, s ledger.Snapshot) error {
	doc, err := ledger.EncodeSnapshot(s)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
