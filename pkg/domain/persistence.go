package domain

import "context"

// StoreTx exposes the domain operations that a persistence implementation
// must support within an atomic scope. Entity mutation and ledger appends
// share one scope so that a command either commits both or neither.
type StoreTx interface {
	Snapshot() StoreView
	CreateBatch(Batch) (Batch, error)
	UpdateBatch(id string, mutator func(*Batch) error) (Batch, error)
	CreateLot(Lot) (Lot, error)
	UpdateLot(id string, mutator func(*Lot) error) (Lot, error)
	// AppendTransaction assigns Seq, OccurredAt, PreviousHash, and
	// ContentHash, then appends the record to the ledger tail. The ledger is
	// owned exclusively by the store; no other component constructs records.
	AppendTransaction(TransactionDraft) (Transaction, error)
	FindBatch(id string) (Batch, bool)
	FindLot(id string) (Lot, bool)
}

// StoreView provides read-only access to snapshot data.
type StoreView interface {
	ListBatches() []Batch
	ListLots() []Lot
	FindBatch(id string) (Batch, bool)
	FindLot(id string) (Lot, bool)
	LedgerAll() []Transaction
	LedgerBySubject(id string) []Transaction
	LedgerLen() int
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(StoreTx) error) (Result, error)
	View(ctx context.Context, fn func(StoreView) error) error
	GetBatch(id string) (Batch, bool)
	GetLot(id string) (Lot, bool)
	ListBatches(filter BatchFilter) []Batch
	ListLots(filter LotFilter) []Lot
	LedgerAll() []Transaction
	LedgerBySubject(id string) []Transaction
	// VerifyChain re-validates the hash linkage of the committed ledger.
	VerifyChain() error
}
