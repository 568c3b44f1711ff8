package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	bolt "go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("ledger")
	boltKey    = []byte("snapshot")
)

// BoltStore keeps the snapshot in a bbolt database, snappy-compressed.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		path = "data/ledger.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load implements ledger.Persister.
func (b *BoltStore) Load(_ context.Context) (ledger.Snapshot, error) {
	var raw []byte
	if err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get(boltKey); v != nil {
			// v is only valid inside the transaction.
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("read bolt snapshot: %w", err)
	}
	if raw == nil {
		return nil, ledger.ErrNoSnapshot
	}
	doc, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return ledger.DecodeSnapshot(doc)
}

// Save implements ledger.Persister.
func (b *BoltStore) Save(_ context.Context, s ledger.Snapshot) error {
	doc, err := ledger.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	packed := snappy.Encode(nil, doc)
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKey, packed)
	}); err != nil {
		return fmt.Errorf("write bolt snapshot: %w", err)
	}
	return nil
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
