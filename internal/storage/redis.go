package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
)

// DefaultRedisKey is the key holding the snapshot when none is configured.
const DefaultRedisKey = "green_ledger_v3"

// RedisStore keeps the snapshot as a single string value.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedis dials addr and checks the connection.
func OpenRedis(ctx context.Context, addr, key string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("storage.redis_addr is required for the redis driver")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(client, key), nil
}

// Load implements ledger.Persister.
func (r *RedisStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	doc, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read redis snapshot: %w", err)
	}
	return ledger.DecodeSnapshot(doc)
}

// Save implements ledger.Persister.
func (r *RedisStore) Save(ctx context.Context, s ledger.Snapshot) error {
	doc, err := ledger.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, doc, 0).Err(); err != nil {
		return fmt.Errorf("write redis snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
