// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics. Entity buckets are snapshotted as JSONB; ledger
// rows are insert-only so the persisted chain is never rewritten.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"agritrace/internal/infra/persistence/memory"
	"agritrace/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/agritrace?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db               *sql.DB
	mu               sync.Mutex
	lastPersistedSeq uint64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the schema exists, and hydrates the in-memory store
// from any existing snapshot. The persisted ledger is chain-verified first.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := domain.VerifyChain(snapshot.Ledger); err != nil {
		return nil, fmt.Errorf("verify persisted ledger: %w", err)
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, lastPersistedSeq: uint64(len(snapshot.Ledger))}, nil
}

// RunInTransaction applies fn within an in-memory transaction, then persists
// the committed state to Postgres.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.StoreTx) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger (
			seq BIGINT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var postgresBuckets = []string{"batches", "lots"}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot

	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case "batches":
			if err := json.Unmarshal(payload, &snapshot.Batches); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode batches: %w", err)
			}
		case "lots":
			if err := json.Unmarshal(payload, &snapshot.Lots); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode lots: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}

	ledgerRows, err := db.QueryContext(ctx, `SELECT payload FROM ledger ORDER BY seq`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select ledger: %w", err)
	}
	defer func() { _ = ledgerRows.Close() }()
	for ledgerRows.Next() {
		var payload []byte
		if err := ledgerRows.Scan(&payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan ledger: %w", err)
		}
		var record domain.Transaction
		if err := json.Unmarshal(payload, &record); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode ledger record: %w", err)
		}
		snapshot.Ledger = append(snapshot.Ledger, record)
	}
	if err := ledgerRows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate ledger: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, bucket := range postgresBuckets {
		var data []byte
		switch bucket {
		case "batches":
			data, err = json.Marshal(snapshot.Batches)
		case "lots":
			data, err = json.Marshal(snapshot.Lots)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}

	for _, record := range snapshot.Ledger {
		if record.Seq <= s.lastPersistedSeq {
			continue
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger(seq,payload) VALUES($1,$2)`, record.Seq, data); err != nil {
			return fmt.Errorf("append ledger seq %d: %w", record.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.lastPersistedSeq = uint64(len(snapshot.Ledger))
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
