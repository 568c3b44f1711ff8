// Package storage provides the durable ledger.Persister backends used by
// ledgerd: a JSON file, a bbolt database, PostgreSQL and Redis.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"go.uber.org/zap"
)

// Driver names accepted by Open.
const (
	DriverFile     = "file"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver      string
	Path        string // file driver
	BoltPath    string // bolt driver
	DatabaseURL string // postgres driver
	RedisAddr   string // redis driver
	RedisKey    string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closeFunc func()

func (f closeFunc) Close() error { f(); return nil }

// Open builds the Persister named by cfg.Driver. The returned io.Closer
// releases any connection or file handle held by the backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (ledger.Persister, io.Closer, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverFile:
		logger.Info("using file ledger storage", zap.String("path", cfg.Path))
		return NewFileStore(cfg.Path), nopCloser{}, nil

	case DriverBolt:
		bs, err := OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using bolt ledger storage", zap.String("path", cfg.BoltPath))
		return bs, bs, nil

	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("storage.database_url is required for the postgres driver")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("using postgres ledger storage")
		return NewPostgresStore(pool, logger), closeFunc(pool.Close), nil

	case DriverRedis:
		rs, err := OpenRedis(ctx, cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis ledger storage", zap.String("addr", cfg.RedisAddr), zap.String("key", rs.key))
		return rs, rs, nil

	case DriverMemory:
		logger.Warn("using in-memory ledger storage; chains will not survive a restart")
		return ledger.NewMemoryPersister(), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
