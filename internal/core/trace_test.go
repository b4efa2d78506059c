package core

import (
	"context"
	"reflect"
	"testing"
	"time"

	"agritrace/pkg/domain"
)

// stepTimestamp returns the timestamp of the first completed step carrying
// the given label, if any.
func stepTimestamp(steps []JourneyStep, label string) (time.Time, bool) {
	for _, step := range steps {
		if step.Label == label && step.Timestamp != nil {
			return *step.Timestamp, true
		}
	}
	return time.Time{}, false
}

func stepByLabel(t *testing.T, journey Journey, label string) JourneyStep {
	t.Helper()
	for _, step := range journey.Steps {
		if step.Label == label {
			return step
		}
	}
	t.Fatalf("journey has no %q step: %+v", label, journey.Steps)
	return JourneyStep{}
}

func TestTraceBatchPendingJourney(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.SubmitBatch(ctx, farmer(), riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}

	journey, err := svc.TraceByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("TraceByID: %v", err)
	}
	if journey.Subject != EntityBatch || journey.Batch == nil || journey.Batch.ID != created.ID {
		t.Fatalf("journey subject wrong: %+v", journey)
	}
	if len(journey.Steps) != 3 {
		t.Fatalf("batch journey must always have 3 milestones, got %d", len(journey.Steps))
	}

	creation := stepByLabel(t, journey, domain.StepFarmCreation)
	if creation.Status != domain.StepCompleted {
		t.Fatalf("farm creation must be completed")
	}
	if creation.Location != "Thanjavur" || creation.Stakeholder != "Ramesh" {
		t.Fatalf("farm creation details wrong: %+v", creation)
	}
	if creation.Timestamp == nil {
		t.Fatalf("completed step must carry a timestamp")
	}

	for _, label := range []string{domain.StepAggregatorApproval, domain.StepRetailPurchase} {
		step := stepByLabel(t, journey, label)
		if step.Status != domain.StepPending {
			t.Fatalf("%s must be pending", label)
		}
		if step.Stakeholder != domain.LocationNotApplicable || step.Location != domain.LocationNotApplicable {
			t.Fatalf("pending step must use the not-applicable sentinel: %+v", step)
		}
		if step.Timestamp != nil {
			t.Fatalf("pending step must not carry a timestamp")
		}
	}
	if len(journey.Transactions) != 1 {
		t.Fatalf("journey transactions %d, want 1", len(journey.Transactions))
	}
}

func TestTraceBatchCompletesTransitivelyThroughLot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approved := submitApprovedBatch(t, svc, riceInput())
	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{approved.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	if _, _, err := svc.PurchaseLot(ctx, retailer(), lot.ID); err != nil {
		t.Fatalf("PurchaseLot: %v", err)
	}

	journey, err := svc.TraceByID(ctx, approved.ID)
	if err != nil {
		t.Fatalf("TraceByID: %v", err)
	}
	for _, step := range journey.Steps {
		if step.Status != domain.StepCompleted {
			t.Fatalf("step %q not completed after transitive purchase", step.Label)
		}
	}
	purchase := stepByLabel(t, journey, domain.StepRetailPurchase)
	if purchase.Stakeholder != "FreshMart" {
		t.Fatalf("purchase stakeholder must come from the lot's buyer record, got %q", purchase.Stakeholder)
	}

	// Milestones complete in ledger order.
	createdAt, ok := stepTimestamp(journey.Steps, domain.StepFarmCreation)
	if !ok {
		t.Fatalf("missing farm creation timestamp")
	}
	purchasedAt, ok := stepTimestamp(journey.Steps, domain.StepRetailPurchase)
	if !ok {
		t.Fatalf("missing retail purchase timestamp")
	}
	if !createdAt.Before(purchasedAt) {
		t.Fatalf("timestamps out of order: %v then %v", createdAt, purchasedAt)
	}

	// The lot's purchase record is pulled into the batch transaction set.
	var sawPurchase bool
	for _, tx := range journey.Transactions {
		if tx.Type == domain.TxLotPurchased {
			sawPurchase = true
		}
	}
	if !sawPurchase {
		t.Fatalf("batch journey must include the absorbing lot's purchase record")
	}
}

func TestTraceRejectedBatchNeverCompletes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.SubmitBatch(ctx, farmer(), riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if _, _, err := svc.RejectBatch(ctx, aggregator(), created.ID, "moisture"); err != nil {
		t.Fatalf("RejectBatch: %v", err)
	}

	journey, err := svc.TraceByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("TraceByID: %v", err)
	}
	// Rejection is terminal; approval and purchase stay pending forever.
	if step := stepByLabel(t, journey, domain.StepAggregatorApproval); step.Status != domain.StepPending {
		t.Fatalf("approval must stay pending for a rejected batch")
	}
	if step := stepByLabel(t, journey, domain.StepRetailPurchase); step.Status != domain.StepPending {
		t.Fatalf("purchase must stay pending for a rejected batch")
	}
	// The rejection record itself still shows in the transaction set.
	var sawRejection bool
	for _, tx := range journey.Transactions {
		if tx.Type == domain.TxBatchRejected {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Fatalf("rejection record missing from journey transactions")
	}
}

func TestTraceLotJourney(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := submitApprovedBatch(t, svc, riceInput())
	second := submitApprovedBatch(t, svc, riceInput())
	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}

	journey, err := svc.TraceByID(ctx, lot.ID)
	if err != nil {
		t.Fatalf("TraceByID: %v", err)
	}
	if journey.Subject != EntityLot || journey.Lot == nil || journey.Lot.ID != lot.ID {
		t.Fatalf("journey subject wrong: %+v", journey)
	}
	if stepByLabel(t, journey, domain.StepLotCreation).Status != domain.StepCompleted {
		t.Fatalf("lot creation must be completed")
	}
	if stepByLabel(t, journey, domain.StepRetailPurchase).Status != domain.StepPending {
		t.Fatalf("retail purchase must be pending before a sale")
	}
	if stepByLabel(t, journey, domain.StepConsumerDelivery).Status != domain.StepPending {
		t.Fatalf("consumer delivery must be pending before a sale")
	}

	// One level of expansion: every member batch's creation and approval
	// records appear, in ledger order, without duplicates.
	wantTypes := []TransactionType{
		domain.TxBatchCreated,
		domain.TxBatchApproved,
		domain.TxBatchCreated,
		domain.TxBatchApproved,
		domain.TxLotCreated,
	}
	if len(journey.Transactions) != len(wantTypes) {
		t.Fatalf("expanded transaction set length %d, want %d", len(journey.Transactions), len(wantTypes))
	}
	var lastSeq uint64
	for i, tx := range journey.Transactions {
		if tx.Type != wantTypes[i] {
			t.Fatalf("transactions[%d] = %s, want %s", i, tx.Type, wantTypes[i])
		}
		if tx.Seq <= lastSeq {
			t.Fatalf("expanded set out of ledger order at index %d", i)
		}
		lastSeq = tx.Seq
	}
}

func TestTraceLotAfterPurchaseIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approved := submitApprovedBatch(t, svc, riceInput())
	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{approved.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	if _, _, err := svc.PurchaseLot(ctx, retailer(), lot.ID); err != nil {
		t.Fatalf("PurchaseLot: %v", err)
	}

	journey, err := svc.TraceByID(ctx, lot.ID)
	if err != nil {
		t.Fatalf("TraceByID: %v", err)
	}

	// Creation and purchase are done; delivery is the only open milestone.
	if stepByLabel(t, journey, domain.StepLotCreation).Status != domain.StepCompleted {
		t.Fatalf("lot creation must be completed after purchase")
	}
	if stepByLabel(t, journey, domain.StepRetailPurchase).Status != domain.StepCompleted {
		t.Fatalf("retail purchase must be completed after purchase")
	}
	delivery := stepByLabel(t, journey, domain.StepConsumerDelivery)
	if delivery.Status != domain.StepPending {
		t.Fatalf("consumer delivery must still be pending")
	}
	if delivery.Timestamp != nil || delivery.Stakeholder != domain.LocationNotApplicable {
		t.Fatalf("pending delivery step must carry no details: %+v", delivery)
	}
	for _, step := range journey.Steps {
		if step.Label != domain.StepConsumerDelivery && step.Status != domain.StepCompleted {
			t.Fatalf("unexpected pending step %q", step.Label)
		}
	}

	// Tracing is a pure read: repeating it without a mutation in between
	// yields the identical journey.
	again, err := svc.TraceByID(ctx, lot.ID)
	if err != nil {
		t.Fatalf("TraceByID again: %v", err)
	}
	if !reflect.DeepEqual(journey, again) {
		t.Fatalf("journeys diverged across identical traces:\nfirst:  %+v\nsecond: %+v", journey, again)
	}
	if got := len(svc.Ledger()); got != 4 {
		t.Fatalf("tracing must not append records, ledger length %d", got)
	}
}

func TestTraceLotAfterDelivery(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approved := submitApprovedBatch(t, svc, riceInput())
	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{approved.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	if _, _, err := svc.PurchaseLot(ctx, retailer(), lot.ID); err != nil {
		t.Fatalf("PurchaseLot: %v", err)
	}
	if _, _, err := svc.DeliverLot(ctx, retailer(), lot.ID, "Chennai DC"); err != nil {
		t.Fatalf("DeliverLot: %v", err)
	}

	journey, err := svc.TraceByID(ctx, lot.ID)
	if err != nil {
		t.Fatalf("TraceByID: %v", err)
	}
	for _, step := range journey.Steps {
		if step.Status != domain.StepCompleted {
			t.Fatalf("step %q not completed after delivery", step.Label)
		}
	}
}

func TestTraceByIDNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.TraceByID(context.Background(), "nothing_here")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
