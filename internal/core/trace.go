package core

import (
	"context"

	"agritrace/pkg/domain"
)

// TraceByID reconstructs the journey of a batch or lot. The id is resolved as
// a batch first, then as a lot. Tracing is a pure read over one consistent
// snapshot; it never mutates the store or the ledger.
func (s *Service) TraceByID(ctx context.Context, id string) (Journey, error) {
	var journey Journey
	err := s.instrument(ctx, "trace_by_id", func(ctx context.Context) error {
		return s.store.View(ctx, func(view StoreView) error {
			if batch, ok := view.FindBatch(id); ok {
				journey = batchJourney(view, batch)
				return nil
			}
			if lot, ok := view.FindLot(id); ok {
				journey = lotJourney(view, lot)
				return nil
			}
			return domain.NotFoundError{Entity: EntityBatch, ID: id}
		})
	})
	if err != nil {
		return Journey{}, err
	}
	return journey, nil
}

// findBySubjectAndType returns the first ledger record of the given type that
// references id. Ledger order makes "first" well defined.
func findBySubjectAndType(records []Transaction, id string, t TransactionType) (Transaction, bool) {
	for _, tx := range records {
		if tx.Type == t && tx.References(id) {
			return tx, true
		}
	}
	return Transaction{}, false
}

func completedStep(label string, tx Transaction, location string) JourneyStep {
	at := tx.OccurredAt
	return JourneyStep{
		Label:       label,
		Stakeholder: tx.Actor.DisplayName,
		Location:    location,
		Timestamp:   &at,
		Status:      domain.StepCompleted,
	}
}

func pendingStep(label string) JourneyStep {
	return JourneyStep{
		Label:       label,
		Stakeholder: domain.LocationNotApplicable,
		Location:    domain.LocationNotApplicable,
		Status:      domain.StepPending,
	}
}

// batchJourney derives the canonical batch milestones: farm creation, then
// aggregator approval, then retail purchase. The purchase milestone completes
// transitively through the absorbing lot's lot_purchased record.
func batchJourney(view StoreView, batch Batch) Journey {
	records := view.LedgerBySubject(batch.ID)

	steps := make([]JourneyStep, 0, 3)
	if tx, ok := findBySubjectAndType(records, batch.ID, domain.TxBatchCreated); ok {
		steps = append(steps, completedStep(domain.StepFarmCreation, tx, batch.OriginLocation))
	} else {
		steps = append(steps, pendingStep(domain.StepFarmCreation))
	}
	if tx, ok := findBySubjectAndType(records, batch.ID, domain.TxBatchApproved); ok {
		steps = append(steps, completedStep(domain.StepAggregatorApproval, tx, domain.LocationNotApplicable))
	} else {
		steps = append(steps, pendingStep(domain.StepAggregatorApproval))
	}

	purchase := pendingStep(domain.StepRetailPurchase)
	if batch.LotID != nil {
		lotRecords := view.LedgerBySubject(*batch.LotID)
		if tx, ok := findBySubjectAndType(lotRecords, *batch.LotID, domain.TxLotPurchased); ok {
			purchase = completedStep(domain.StepRetailPurchase, tx, domain.LocationNotApplicable)
			records = append(records, tx)
		}
	}
	steps = append(steps, purchase)

	b := batch
	return Journey{
		Subject:      EntityBatch,
		Batch:        &b,
		Steps:        steps,
		Transactions: records,
	}
}

// lotJourney derives the canonical lot milestones: lot creation, then retail
// purchase, then consumer delivery. The transaction set is expanded one level
// to include each member batch's creation and approval records.
func lotJourney(view StoreView, lot Lot) Journey {
	records := view.LedgerBySubject(lot.ID)

	steps := make([]JourneyStep, 0, 3)
	if tx, ok := findBySubjectAndType(records, lot.ID, domain.TxLotCreated); ok {
		steps = append(steps, completedStep(domain.StepLotCreation, tx, domain.LocationNotApplicable))
	} else {
		steps = append(steps, pendingStep(domain.StepLotCreation))
	}
	if tx, ok := findBySubjectAndType(records, lot.ID, domain.TxLotPurchased); ok {
		steps = append(steps, completedStep(domain.StepRetailPurchase, tx, domain.LocationNotApplicable))
	} else {
		steps = append(steps, pendingStep(domain.StepRetailPurchase))
	}
	if tx, ok := findBySubjectAndType(records, lot.ID, domain.TxLotDelivered); ok {
		steps = append(steps, completedStep(domain.StepConsumerDelivery, tx, domain.LocationNotApplicable))
	} else {
		steps = append(steps, pendingStep(domain.StepConsumerDelivery))
	}

	transactions := expandLotRecords(view, lot, records)

	l := lot
	return Journey{
		Subject:      EntityLot,
		Lot:          &l,
		Steps:        steps,
		Transactions: transactions,
	}
}

// expandLotRecords merges the lot's own records with each member batch's
// creation and approval records, deduplicated and restored to ledger order.
func expandLotRecords(view StoreView, lot Lot, own []Transaction) []Transaction {
	bySeq := make(map[uint64]Transaction, len(own))
	for _, tx := range own {
		bySeq[tx.Seq] = tx
	}
	for _, batchID := range lot.BatchIDs {
		for _, tx := range view.LedgerBySubject(batchID) {
			if tx.Type == domain.TxBatchCreated || tx.Type == domain.TxBatchApproved {
				bySeq[tx.Seq] = tx
			}
		}
	}
	merged := make([]Transaction, 0, len(bySeq))
	var maxSeq uint64
	for seq := range bySeq {
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	for seq := uint64(1); seq <= maxSeq; seq++ {
		if tx, ok := bySeq[seq]; ok {
			merged = append(merged, tx)
		}
	}
	return merged
}
