package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"go.uber.org/zap"
)

// snapshotLockKey serialises snapshot writers across ledgerd instances
// pointed at the same database.
const snapshotLockKey = int64(1_734_260_117)

// snapshotRowID is the primary key of the single snapshot row.
const snapshotRowID = 1

// PostgresStore keeps the snapshot as a jsonb document in the
// ledger_snapshot table (see migrations/001_ledger_snapshot.up.sql).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore returns a PostgresStore using pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Load implements ledger.Persister.
func (p *PostgresStore) Load(ctx context.Context) (ledger.Snapshot, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		"SELECT document::text FROM ledger_snapshot WHERE id = $1", snapshotRowID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}
	return ledger.DecodeSnapshot(doc)
}

// Save implements ledger.Persister.
func (p *PostgresStore) Save(ctx context.Context, s ledger.Snapshot) error {
	doc, err := ledger.EncodeSnapshot(s)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", snapshotLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_snapshot (id, document, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		snapshotRowID, string(doc),
	); err != nil {
		return fmt.Errorf("upsert ledger snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}

	p.logger.Debug("ledger snapshot written", zap.Int("bytes", len(doc)))
	return nil
}
