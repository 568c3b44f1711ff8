//go:build integration

package storage_test

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/GreenLedger/internal/storage"
	"go.uber.org/zap"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS ledger_snapshot (
		id INTEGER PRIMARY KEY, document JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM ledger_snapshot"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Exec(ctx, "DELETE FROM ledger_snapshot") }) //nolint:errcheck

	exercise(t, storage.NewPostgresStore(pool, zap.NewNop()))
}
