// Package sqlite persists the provenance store to an embedded SQLite file.
// Entity state is snapshotted as JSON blobs after every successful
// transaction; the ledger gets its own append-only table keyed by insertion
// index so the chain survives restarts byte for byte.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"agritrace/internal/infra/persistence/memory"
	"agritrace/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to SQLite. Entity buckets are replaced
// wholesale on each persist; ledger rows are only ever inserted.
type Store struct {
	*memory.Store
	db               *sql.DB
	mu               sync.Mutex
	path             string
	lastPersistedSeq uint64
}

// NewStore constructs a SQLite-backed persistent store, hydrating from any
// existing file. The persisted ledger is chain-verified before it is trusted.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "agritrace.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger (
		seq INTEGER PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	bucketBatches = "batches"
	bucketLots    = "lots"
)

func (s *Store) load() error {
	snapshot := memory.Snapshot{}

	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		switch bucket {
		case bucketBatches:
			if err := json.Unmarshal(payload, &snapshot.Batches); err != nil {
				return fmt.Errorf("decode batches: %w", err)
			}
		case bucketLots:
			if err := json.Unmarshal(payload, &snapshot.Lots); err != nil {
				return fmt.Errorf("decode lots: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}

	ledgerRows, err := s.db.Query(`SELECT payload FROM ledger ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("select ledger: %w", err)
	}
	defer func() { _ = ledgerRows.Close() }()
	for ledgerRows.Next() {
		var payload []byte
		if err := ledgerRows.Scan(&payload); err != nil {
			return fmt.Errorf("scan ledger: %w", err)
		}
		var record domain.Transaction
		if err := json.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("decode ledger record: %w", err)
		}
		snapshot.Ledger = append(snapshot.Ledger, record)
	}
	if err := ledgerRows.Err(); err != nil {
		return fmt.Errorf("iterate ledger: %w", err)
	}

	if err := domain.VerifyChain(snapshot.Ledger); err != nil {
		return fmt.Errorf("verify persisted ledger: %w", err)
	}

	if snapshot.Batches == nil && snapshot.Lots == nil && len(snapshot.Ledger) == 0 {
		return nil
	}
	s.ImportState(snapshot)
	s.lastPersistedSeq = uint64(len(snapshot.Ledger))
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for bucket, value := range map[string]any{
		bucketBatches: snapshot.Batches,
		bucketLots:    snapshot.Lots,
	} {
		data, err := json.Marshal(value)
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}

	for _, record := range snapshot.Ledger {
		if record.Seq <= s.lastPersistedSeq {
			continue
		}
		data, err := json.Marshal(record)
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO ledger(seq,payload) VALUES(?,?)`, record.Seq, data); err != nil {
			retErr = fmt.Errorf("append ledger seq %d: %w", record.Seq, err)
			return retErr
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.lastPersistedSeq = uint64(len(snapshot.Ledger))
	return nil
}

// RunInTransaction applies fn within an in-memory transaction, then persists
// the committed state to SQLite.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.StoreTx) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
