// Package memory provides an in-memory implementation of the core
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"agritrace/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the
// domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Batch aliases domain.Batch for in-memory persistence operations.
	Batch = domain.Batch
	// Lot aliases domain.Lot.
	Lot = domain.Lot
	// Transaction aliases domain.Transaction, one immutable ledger record.
	Transaction = domain.Transaction
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// StoreTx aliases domain.StoreTx representing a mutable unit of work.
	StoreTx = domain.StoreTx
	// StoreView aliases domain.StoreView providing read-only state.
	StoreView = domain.StoreView
)

type memoryState struct {
	batches map[string]Batch
	lots    map[string]Lot
	ledger  []Transaction
}

// Snapshot captures a point-in-time clone of the store state. The ledger is
// serialized as an ordered slice so reloads preserve the insertion index.
type Snapshot struct {
	Batches map[string]Batch `json:"batches"`
	Lots    map[string]Lot   `json:"lots"`
	Ledger  []Transaction    `json:"ledger"`
}

func newMemoryState() memoryState {
	return memoryState{
		batches: make(map[string]Batch),
		lots:    make(map[string]Lot),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.batches {
		cloned.batches[k] = cloneBatch(v)
	}
	for k, v := range s.lots {
		cloned.lots[k] = cloneLot(v)
	}
	cloned.ledger = make([]Transaction, len(s.ledger))
	for i, tx := range s.ledger {
		cloned.ledger[i] = tx.Clone()
	}
	return cloned
}

func cloneBatch(b Batch) Batch {
	cp := b
	cp.LotID = cloneOptionalString(b.LotID)
	return cp
}

func cloneLot(l Lot) Lot {
	cp := l
	cp.BatchIDs = append([]string(nil), l.BatchIDs...)
	cp.BuyerID = cloneOptionalString(l.BuyerID)
	cp.BuyerName = cloneOptionalString(l.BuyerName)
	return cp
}

func cloneOptionalString(ptr *string) *string {
	if ptr == nil {
		return nil
	}
	v := *ptr
	return &v
}

func mustEncode(label string, payload domain.ChangePayload, err error) domain.ChangePayload {
	if err != nil {
		panic(fmt.Errorf("memory store encode %s: %w", label, err))
	}
	return payload
}

// Store provides an in-memory transactional store for the core domain.
// All mutations serialize through a single mutex; each transaction operates
// on a cloned state that replaces the committed state only when the
// transaction function and the rules engine both succeed.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func(prefix string) string
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   randomID,
	}
}

func randomID(prefix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}

// RulesEngine returns the engine evaluating transactions against this store.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// NowFunc returns the clock used to stamp records.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// SetNowFunc overrides the clock; intended for deterministic tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// SetIDFunc overrides id generation; intended for deterministic tests.
func (s *Store) SetIDFunc(fn func(prefix string) string) {
	if fn != nil {
		s.idFn = fn
	}
}

// storeTx implements domain.StoreTx over a cloned state.
type storeTx struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// view exposes a read-only snapshot of a state to rules and callers.
type view struct {
	state *memoryState
}

// Snapshot returns a read-only view over the transactional state.
func (tx *storeTx) Snapshot() StoreView { return view{state: &tx.state} }

func (tx *storeTx) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// CreateBatch stores a new batch within the transaction.
func (tx *storeTx) CreateBatch(b Batch) (Batch, error) {
	if b.ID == "" {
		b.ID = tx.store.idFn("batch")
	}
	if _, exists := tx.state.batches[b.ID]; exists {
		return Batch{}, fmt.Errorf("batch %q already exists", b.ID)
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.batches[b.ID] = cloneBatch(b)
	after, err := domain.NewChangePayloadFromValue(b)
	tx.recordChange(Change{
		Entity:   domain.EntityBatch,
		Action:   domain.ActionCreate,
		EntityID: b.ID,
		After:    mustEncode("batch", after, err),
	})
	return cloneBatch(b), nil
}

// UpdateBatch mutates a batch using the provided mutator function. The id
// and creation timestamp are preserved across the mutation.
func (tx *storeTx) UpdateBatch(id string, mutator func(*Batch) error) (Batch, error) {
	current, ok := tx.state.batches[id]
	if !ok {
		return Batch{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: id}
	}
	before := cloneBatch(current)
	if err := mutator(&current); err != nil {
		return Batch{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.batches[id] = cloneBatch(current)
	beforePayload, beforeErr := domain.NewChangePayloadFromValue(before)
	afterPayload, afterErr := domain.NewChangePayloadFromValue(current)
	tx.recordChange(Change{
		Entity:   domain.EntityBatch,
		Action:   domain.ActionUpdate,
		EntityID: id,
		Before:   mustEncode("batch", beforePayload, beforeErr),
		After:    mustEncode("batch", afterPayload, afterErr),
	})
	return cloneBatch(current), nil
}

// CreateLot stores a new lot within the transaction.
func (tx *storeTx) CreateLot(l Lot) (Lot, error) {
	if l.ID == "" {
		l.ID = tx.store.idFn("lot")
	}
	if _, exists := tx.state.lots[l.ID]; exists {
		return Lot{}, fmt.Errorf("lot %q already exists", l.ID)
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.lots[l.ID] = cloneLot(l)
	after, err := domain.NewChangePayloadFromValue(l)
	tx.recordChange(Change{
		Entity:   domain.EntityLot,
		Action:   domain.ActionCreate,
		EntityID: l.ID,
		After:    mustEncode("lot", after, err),
	})
	return cloneLot(l), nil
}

// UpdateLot mutates an existing lot.
func (tx *storeTx) UpdateLot(id string, mutator func(*Lot) error) (Lot, error) {
	current, ok := tx.state.lots[id]
	if !ok {
		return Lot{}, domain.NotFoundError{Entity: domain.EntityLot, ID: id}
	}
	before := cloneLot(current)
	if err := mutator(&current); err != nil {
		return Lot{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.lots[id] = cloneLot(current)
	beforePayload, beforeErr := domain.NewChangePayloadFromValue(before)
	afterPayload, afterErr := domain.NewChangePayloadFromValue(current)
	tx.recordChange(Change{
		Entity:   domain.EntityLot,
		Action:   domain.ActionUpdate,
		EntityID: id,
		Before:   mustEncode("lot", beforePayload, beforeErr),
		After:    mustEncode("lot", afterPayload, afterErr),
	})
	return cloneLot(current), nil
}

// AppendTransaction seals a draft into an immutable ledger record at the
// tail of the chain. Seq is the 1-based insertion index; PreviousHash links
// to the current tail or the genesis sentinel when the ledger is empty.
func (tx *storeTx) AppendTransaction(draft domain.TransactionDraft) (Transaction, error) {
	if draft.Payload == nil {
		return Transaction{}, fmt.Errorf("transaction draft payload cannot be nil")
	}
	if draft.Type == "" {
		draft.Type = draft.Payload.TransactionType()
	}
	if draft.Type != draft.Payload.TransactionType() {
		return Transaction{}, fmt.Errorf("draft type %s does not match payload type %s", draft.Type, draft.Payload.TransactionType())
	}
	raw, err := domain.EncodePayload(draft.Payload)
	if err != nil {
		return Transaction{}, err
	}
	seq := uint64(len(tx.state.ledger)) + 1
	prev := domain.GenesisHash
	if n := len(tx.state.ledger); n > 0 {
		prev = tx.state.ledger[n-1].ContentHash
	}
	record := Transaction{
		ID:           fmt.Sprintf("tx%08d", seq),
		Seq:          seq,
		Type:         draft.Type,
		Actor:        draft.Actor,
		Payload:      raw,
		SubjectIDs:   draft.Payload.Subjects(),
		OccurredAt:   tx.now,
		PreviousHash: prev,
	}
	hash, err := record.ComputeContentHash()
	if err != nil {
		return Transaction{}, err
	}
	record.ContentHash = hash
	tx.state.ledger = append(tx.state.ledger, record.Clone())
	after, encErr := domain.NewChangePayloadFromValue(record)
	tx.recordChange(Change{
		Entity:   domain.EntityTransaction,
		Action:   domain.ActionAppend,
		EntityID: record.ID,
		After:    mustEncode("transaction", after, encErr),
	})
	return record.Clone(), nil
}

// FindBatch retrieves a batch by id from the transactional state.
func (tx *storeTx) FindBatch(id string) (Batch, bool) {
	b, ok := tx.state.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// FindLot retrieves a lot by id from the transactional state.
func (tx *storeTx) FindLot(id string) (Lot, bool) {
	l, ok := tx.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// ListBatches returns all batches in the snapshot ordered by creation time
// then id, keeping filtered listings stable across runs.
func (v view) ListBatches() []Batch {
	out := make([]Batch, 0, len(v.state.batches))
	for _, b := range v.state.batches {
		out = append(out, cloneBatch(b))
	}
	sortBatches(out)
	return out
}

// ListLots returns all lots in the snapshot in stable order.
func (v view) ListLots() []Lot {
	out := make([]Lot, 0, len(v.state.lots))
	for _, l := range v.state.lots {
		out = append(out, cloneLot(l))
	}
	sortLots(out)
	return out
}

// FindBatch retrieves a batch by id from the snapshot.
func (v view) FindBatch(id string) (Batch, bool) {
	b, ok := v.state.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// FindLot retrieves a lot by id from the snapshot.
func (v view) FindLot(id string) (Lot, bool) {
	l, ok := v.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// LedgerAll returns every ledger record in insertion order.
func (v view) LedgerAll() []Transaction {
	out := make([]Transaction, len(v.state.ledger))
	for i, tx := range v.state.ledger {
		out[i] = tx.Clone()
	}
	return out
}

// LedgerBySubject returns the records referencing id, preserving ledger order.
func (v view) LedgerBySubject(id string) []Transaction {
	var out []Transaction
	for _, tx := range v.state.ledger {
		if tx.References(id) {
			out = append(out, tx.Clone())
		}
	}
	return out
}

// LedgerLen returns the number of appended records.
func (v view) LedgerLen() int { return len(v.state.ledger) }

func sortBatches(batches []Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].CreatedAt.Before(batches[j].CreatedAt)
		}
		return batches[i].ID < batches[j].ID
	})
}

func sortLots(lots []Lot) {
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].CreatedAt.Before(lots[j].CreatedAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy replaces the committed state only when fn succeeds and no
// registered rule reports a blocking violation; otherwise every entity
// mutation and ledger append performed by fn is discarded together.
func (s *Store) RunInTransaction(ctx context.Context, fn func(StoreTx) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &storeTx{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, view{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(StoreView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

// GetBatch retrieves a batch by id from committed state.
func (s *Store) GetBatch(id string) (Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// GetLot retrieves a lot by id from committed state.
func (s *Store) GetLot(id string) (Lot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// ListBatches returns committed batches matching the filter in stable order.
func (s *Store) ListBatches(filter domain.BatchFilter) []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Batch, 0, len(s.state.batches))
	for _, b := range s.state.batches {
		if filter.Matches(b) {
			out = append(out, cloneBatch(b))
		}
	}
	sortBatches(out)
	return out
}

// ListLots returns committed lots matching the filter in stable order.
func (s *Store) ListLots(filter domain.LotFilter) []Lot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lot, 0, len(s.state.lots))
	for _, l := range s.state.lots {
		if filter.Matches(l) {
			out = append(out, cloneLot(l))
		}
	}
	sortLots(out)
	return out
}

// LedgerAll returns the committed ledger in insertion order.
func (s *Store) LedgerAll() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, len(s.state.ledger))
	for i, tx := range s.state.ledger {
		out[i] = tx.Clone()
	}
	return out
}

// LedgerBySubject returns committed records referencing id in ledger order.
func (s *Store) LedgerBySubject(id string) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.state.ledger {
		if tx.References(id) {
			out = append(out, tx.Clone())
		}
	}
	return out
}

// VerifyChain re-validates the committed ledger's hash linkage.
func (s *Store) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.VerifyChain(s.state.ledger)
}

// ExportState captures a deep copy of the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Batches: make(map[string]Batch, len(s.state.batches)),
		Lots:    make(map[string]Lot, len(s.state.lots)),
		Ledger:  make([]Transaction, len(s.state.ledger)),
	}
	for k, v := range s.state.batches {
		snap.Batches[k] = cloneBatch(v)
	}
	for k, v := range s.state.lots {
		snap.Lots[k] = cloneLot(v)
	}
	for i, tx := range s.state.ledger {
		snap.Ledger[i] = tx.Clone()
	}
	return snap
}

// ImportState replaces the committed state with the snapshot contents.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snap.Batches {
		state.batches[k] = cloneBatch(v)
	}
	for k, v := range snap.Lots {
		state.lots[k] = cloneLot(v)
	}
	state.ledger = make([]Transaction, len(snap.Ledger))
	for i, tx := range snap.Ledger {
		state.ledger[i] = tx.Clone()
	}
	s.state = state
}
