package core

import (
	"context"
	"math"
	"strings"

	"agritrace/internal/infra/persistence/memory"
	"agritrace/pkg/domain"
)

// Service exposes the transition engine: one operation per life-cycle event.
// Each operation mutates the entity store and appends exactly one ledger
// record inside a single store transaction, or does neither.
type Service struct {
	store   PersistentStore
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithMetricsRecorder wires a metrics recorder into the service.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer wires a tracer into the service.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine. Passing nil installs the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// SubmitBatchInput carries the producer-supplied attributes of a new batch.
type SubmitBatchInput struct {
	CropName          string
	Quantity          float64
	OriginLocation    string
	ExpectedUnitPrice float64
}

func validateActor(actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.ValidationError{Field: "actor.id", Reason: "must not be empty"}
	}
	return nil
}

func (in SubmitBatchInput) validate() error {
	if strings.TrimSpace(in.CropName) == "" {
		return domain.ValidationError{Field: "crop_name", Reason: "must not be empty"}
	}
	if in.Quantity <= 0 {
		return domain.ValidationError{Field: "quantity", Reason: "must be strictly positive"}
	}
	if strings.TrimSpace(in.OriginLocation) == "" {
		return domain.ValidationError{Field: "origin_location", Reason: "must not be empty"}
	}
	if in.ExpectedUnitPrice <= 0 {
		return domain.ValidationError{Field: "expected_unit_price", Reason: "must be strictly positive"}
	}
	return nil
}

// roundPrice normalizes a derived price to currency precision.
func roundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}

// SubmitBatch registers a new pending batch for the producer and appends the
// batch_created record.
func (s *Service) SubmitBatch(ctx context.Context, actor Actor, input SubmitBatchInput) (Batch, Transaction, error) {
	var (
		created Batch
		record  Transaction
	)
	err := s.instrument(ctx, "submit_batch", func(ctx context.Context) error {
		if err := validateActor(actor); err != nil {
			return err
		}
		if err := input.validate(); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx StoreTx) error {
			var err error
			created, err = tx.CreateBatch(Batch{
				CropName:          input.CropName,
				Quantity:          input.Quantity,
				OriginLocation:    input.OriginLocation,
				ExpectedUnitPrice: input.ExpectedUnitPrice,
				ProducerID:        actor.ID,
				ProducerName:      actor.DisplayName,
				Status:            BatchStatusPending,
			})
			if err != nil {
				return err
			}
			record, err = tx.AppendTransaction(domain.TransactionDraft{
				Actor: actor,
				Payload: domain.BatchCreatedPayload{
					BatchID:           created.ID,
					CropName:          created.CropName,
					Quantity:          created.Quantity,
					OriginLocation:    created.OriginLocation,
					ExpectedUnitPrice: created.ExpectedUnitPrice,
				},
			})
			return err
		})
		return err
	})
	if err != nil {
		return Batch{}, Transaction{}, err
	}
	return created, record, nil
}

// ApproveBatch transitions a pending batch to approved and appends the
// batch_approved record.
func (s *Service) ApproveBatch(ctx context.Context, actor Actor, batchID string) (Batch, Transaction, error) {
	var (
		updated Batch
		record  Transaction
	)
	err := s.instrument(ctx, "approve_batch", func(ctx context.Context) error {
		if err := validateActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx StoreTx) error {
			current, ok := tx.FindBatch(batchID)
			if !ok {
				return domain.NotFoundError{Entity: EntityBatch, ID: batchID}
			}
			if current.Status != BatchStatusPending {
				return domain.InvalidTransitionError{
					Entity:    EntityBatch,
					ID:        batchID,
					Status:    string(current.Status),
					Operation: "approve",
				}
			}
			var err error
			updated, err = tx.UpdateBatch(batchID, func(b *Batch) error {
				b.Status = BatchStatusApproved
				return nil
			})
			if err != nil {
				return err
			}
			record, err = tx.AppendTransaction(domain.TransactionDraft{
				Actor:   actor,
				Payload: domain.BatchApprovedPayload{BatchID: batchID},
			})
			return err
		})
		return err
	})
	if err != nil {
		return Batch{}, Transaction{}, err
	}
	return updated, record, nil
}

// RejectBatch transitions a pending batch to the terminal rejected state and
// appends the batch_rejected record. The batch is never deleted.
func (s *Service) RejectBatch(ctx context.Context, actor Actor, batchID, reason string) (Batch, Transaction, error) {
	var (
		updated Batch
		record  Transaction
	)
	err := s.instrument(ctx, "reject_batch", func(ctx context.Context) error {
		if err := validateActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx StoreTx) error {
			current, ok := tx.FindBatch(batchID)
			if !ok {
				return domain.NotFoundError{Entity: EntityBatch, ID: batchID}
			}
			if current.Status != BatchStatusPending {
				return domain.InvalidTransitionError{
					Entity:    EntityBatch,
					ID:        batchID,
					Status:    string(current.Status),
					Operation: "reject",
				}
			}
			var err error
			updated, err = tx.UpdateBatch(batchID, func(b *Batch) error {
				b.Status = BatchStatusRejected
				return nil
			})
			if err != nil {
				return err
			}
			record, err = tx.AppendTransaction(domain.TransactionDraft{
				Actor:   actor,
				Payload: domain.BatchRejectedPayload{BatchID: batchID, Reason: reason},
			})
			return err
		})
		return err
	})
	if err != nil {
		return Batch{}, Transaction{}, err
	}
	return updated, record, nil
}

// CreateLot aggregates approved batches into a new available lot, marks every
// member batch sold, and appends one lot_created record listing the full
// member set. Any ineligible batch aborts the whole operation.
func (s *Service) CreateLot(ctx context.Context, actor Actor, batchIDs []string) (Lot, Transaction, error) {
	var (
		created Lot
		record  Transaction
	)
	err := s.instrument(ctx, "create_lot", func(ctx context.Context) error {
		if err := validateActor(actor); err != nil {
			return err
		}
		if len(batchIDs) == 0 {
			return domain.ValidationError{Field: "batch_ids", Reason: "must not be empty"}
		}
		seen := make(map[string]struct{}, len(batchIDs))
		for _, id := range batchIDs {
			if _, dup := seen[id]; dup {
				return domain.ValidationError{Field: "batch_ids", Reason: "contains duplicate id " + id}
			}
			seen[id] = struct{}{}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx StoreTx) error {
			members := make([]Batch, 0, len(batchIDs))
			for _, id := range batchIDs {
				b, ok := tx.FindBatch(id)
				if !ok {
					return domain.NotFoundError{Entity: EntityBatch, ID: id}
				}
				if b.Status != BatchStatusApproved {
					return domain.InvalidTransitionError{
						Entity:    EntityBatch,
						ID:        id,
						Status:    string(b.Status),
						Operation: "absorb into lot",
					}
				}
				members = append(members, b)
			}

			var totalQuantity, priceSum float64
			for _, b := range members {
				totalQuantity += b.Quantity
				priceSum += b.ExpectedUnitPrice
			}
			averageUnitPrice := roundPrice(priceSum / float64(len(members)))

			var err error
			created, err = tx.CreateLot(Lot{
				BatchIDs:         append([]string(nil), batchIDs...),
				AggregatorID:     actor.ID,
				AggregatorName:   actor.DisplayName,
				TotalQuantity:    totalQuantity,
				AverageUnitPrice: averageUnitPrice,
				Status:           LotStatusAvailable,
			})
			if err != nil {
				return err
			}
			for _, id := range batchIDs {
				lotID := created.ID
				if _, err := tx.UpdateBatch(id, func(b *Batch) error {
					b.Status = BatchStatusSold
					b.LotID = &lotID
					return nil
				}); err != nil {
					return err
				}
			}
			record, err = tx.AppendTransaction(domain.TransactionDraft{
				Actor: actor,
				Payload: domain.LotCreatedPayload{
					LotID:            created.ID,
					BatchIDs:         append([]string(nil), batchIDs...),
					TotalQuantity:    created.TotalQuantity,
					AverageUnitPrice: created.AverageUnitPrice,
				},
			})
			return err
		})
		return err
	})
	if err != nil {
		return Lot{}, Transaction{}, err
	}
	return created, record, nil
}

// PurchaseLot transitions an available lot to sold, records the buyer, and
// appends the lot_purchased record.
func (s *Service) PurchaseLot(ctx context.Context, actor Actor, lotID string) (Lot, Transaction, error) {
	var (
		updated Lot
		record  Transaction
	)
	err := s.instrument(ctx, "purchase_lot", func(ctx context.Context) error {
		if err := validateActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx StoreTx) error {
			current, ok := tx.FindLot(lotID)
			if !ok {
				return domain.NotFoundError{Entity: EntityLot, ID: lotID}
			}
			if current.Status != LotStatusAvailable {
				return domain.InvalidTransitionError{
					Entity:    EntityLot,
					ID:        lotID,
					Status:    string(current.Status),
					Operation: "purchase",
				}
			}
			var err error
			updated, err = tx.UpdateLot(lotID, func(l *Lot) error {
				buyerID := actor.ID
				buyerName := actor.DisplayName
				l.Status = LotStatusSold
				l.BuyerID = &buyerID
				l.BuyerName = &buyerName
				return nil
			})
			if err != nil {
				return err
			}
			record, err = tx.AppendTransaction(domain.TransactionDraft{
				Actor:   actor,
				Payload: domain.LotPurchasedPayload{LotID: lotID, BuyerID: actor.ID},
			})
			return err
		})
		return err
	})
	if err != nil {
		return Lot{}, Transaction{}, err
	}
	return updated, record, nil
}

// DeliverLot appends the lot_delivered audit record for a sold lot. Delivery
// is not a lot state; the entity is left untouched.
func (s *Service) DeliverLot(ctx context.Context, actor Actor, lotID, destination string) (Lot, Transaction, error) {
	var (
		current Lot
		record  Transaction
	)
	err := s.instrument(ctx, "deliver_lot", func(ctx context.Context) error {
		if err := validateActor(actor); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx StoreTx) error {
			lot, ok := tx.FindLot(lotID)
			if !ok {
				return domain.NotFoundError{Entity: EntityLot, ID: lotID}
			}
			if lot.Status != LotStatusSold {
				return domain.InvalidTransitionError{
					Entity:    EntityLot,
					ID:        lotID,
					Status:    string(lot.Status),
					Operation: "deliver",
				}
			}
			current = lot
			var err error
			record, err = tx.AppendTransaction(domain.TransactionDraft{
				Actor:   actor,
				Payload: domain.LotDeliveredPayload{LotID: lotID, Destination: destination},
			})
			return err
		})
		return err
	})
	if err != nil {
		return Lot{}, Transaction{}, err
	}
	return current, record, nil
}

// GetBatch retrieves a batch by id.
func (s *Service) GetBatch(id string) (Batch, bool) { return s.store.GetBatch(id) }

// GetLot retrieves a lot by id.
func (s *Service) GetLot(id string) (Lot, bool) { return s.store.GetLot(id) }

// ListBatches returns batches matching the filter in stable order.
func (s *Service) ListBatches(filter BatchFilter) []Batch { return s.store.ListBatches(filter) }

// ListLots returns lots matching the filter in stable order.
func (s *Service) ListLots(filter LotFilter) []Lot { return s.store.ListLots(filter) }

// Ledger returns the full ledger in insertion order.
func (s *Service) Ledger() []Transaction { return s.store.LedgerAll() }

// History returns the ledger records referencing id, preserving ledger order.
func (s *Service) History(id string) []Transaction { return s.store.LedgerBySubject(id) }

// VerifyChain re-validates the committed ledger's hash linkage.
func (s *Service) VerifyChain() error { return s.store.VerifyChain() }
