package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agritrace/internal/infra/persistence/memory"
	"agritrace/pkg/domain"
)

func farmer() Actor {
	return Actor{ID: "farmer-1", DisplayName: "Ramesh", Role: domain.RoleFarmer}
}

func aggregator() Actor {
	return Actor{ID: "fpo-1", DisplayName: "Thanjavur FPO", Role: domain.RoleAggregator}
}

func retailer() Actor {
	return Actor{ID: "retail-1", DisplayName: "FreshMart", Role: domain.RoleRetailer}
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	step := 0
	store.SetNowFunc(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	})
	counts := map[string]int{}
	store.SetIDFunc(func(prefix string) string {
		counts[prefix]++
		return fmt.Sprintf("%s_%03d", prefix, counts[prefix])
	})
	return NewService(store, opts...)
}

func riceInput() SubmitBatchInput {
	return SubmitBatchInput{CropName: "Rice", Quantity: 100, OriginLocation: "Thanjavur", ExpectedUnitPrice: 42}
}

func submitApprovedBatch(t *testing.T, svc *Service, input SubmitBatchInput) Batch {
	t.Helper()
	ctx := context.Background()
	created, _, err := svc.SubmitBatch(ctx, farmer(), input)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	approved, _, err := svc.ApproveBatch(ctx, aggregator(), created.ID)
	if err != nil {
		t.Fatalf("ApproveBatch: %v", err)
	}
	return approved
}

func TestSubmitBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, record, err := svc.SubmitBatch(ctx, farmer(), riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if created.Status != BatchStatusPending {
		t.Fatalf("new batch must be pending, got %s", created.Status)
	}
	if created.ProducerID != "farmer-1" || created.ProducerName != "Ramesh" {
		t.Fatalf("producer not recorded: %+v", created)
	}
	if record.Type != domain.TxBatchCreated || record.Seq != 1 {
		t.Fatalf("unexpected record: type=%s seq=%d", record.Type, record.Seq)
	}
	if record.PreviousHash != domain.GenesisHash {
		t.Fatalf("first record must link to genesis")
	}
	if got := len(svc.Ledger()); got != 1 {
		t.Fatalf("ledger length %d, want 1", got)
	}
}

func TestSubmitBatchValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor Actor
		input SubmitBatchInput
	}{
		{"blank actor", Actor{ID: "  "}, riceInput()},
		{"empty crop", farmer(), SubmitBatchInput{CropName: " ", Quantity: 1, OriginLocation: "X", ExpectedUnitPrice: 1}},
		{"zero quantity", farmer(), SubmitBatchInput{CropName: "Rice", Quantity: 0, OriginLocation: "X", ExpectedUnitPrice: 1}},
		{"negative quantity", farmer(), SubmitBatchInput{CropName: "Rice", Quantity: -5, OriginLocation: "X", ExpectedUnitPrice: 1}},
		{"empty origin", farmer(), SubmitBatchInput{CropName: "Rice", Quantity: 1, OriginLocation: "", ExpectedUnitPrice: 1}},
		{"zero price", farmer(), SubmitBatchInput{CropName: "Rice", Quantity: 1, OriginLocation: "X", ExpectedUnitPrice: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.SubmitBatch(ctx, tc.actor, tc.input)
			if !domain.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if got := len(svc.Ledger()); got != 0 {
		t.Fatalf("rejected inputs must not touch the ledger, got %d records", got)
	}
}

func TestApproveAndRejectBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.SubmitBatch(ctx, farmer(), riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	approved, record, err := svc.ApproveBatch(ctx, aggregator(), created.ID)
	if err != nil {
		t.Fatalf("ApproveBatch: %v", err)
	}
	if approved.Status != BatchStatusApproved {
		t.Fatalf("status %s after approval", approved.Status)
	}
	if record.Type != domain.TxBatchApproved || record.Seq != 2 {
		t.Fatalf("unexpected record: type=%s seq=%d", record.Type, record.Seq)
	}

	// A batch leaves pending exactly once.
	if _, _, err := svc.ApproveBatch(ctx, aggregator(), created.ID); !domain.IsInvalidTransition(err) {
		t.Fatalf("double approval must fail with InvalidTransitionError, got %v", err)
	}
	if _, _, err := svc.RejectBatch(ctx, aggregator(), created.ID, "late"); !domain.IsInvalidTransition(err) {
		t.Fatalf("rejecting an approved batch must fail, got %v", err)
	}

	other, _, err := svc.SubmitBatch(ctx, farmer(), riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	rejected, rejRecord, err := svc.RejectBatch(ctx, aggregator(), other.ID, "moisture above threshold")
	if err != nil {
		t.Fatalf("RejectBatch: %v", err)
	}
	if rejected.Status != BatchStatusRejected {
		t.Fatalf("status %s after rejection", rejected.Status)
	}
	if rejRecord.Type != domain.TxBatchRejected {
		t.Fatalf("unexpected record type %s", rejRecord.Type)
	}
	payload, err := domain.DecodeTransactionPayload(rejRecord)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	rp, ok := payload.(domain.BatchRejectedPayload)
	if !ok || rp.Reason != "moisture above threshold" {
		t.Fatalf("rejection reason not preserved: %#v", payload)
	}

	// Rejected is terminal.
	if _, _, err := svc.ApproveBatch(ctx, aggregator(), other.ID); !domain.IsInvalidTransition(err) {
		t.Fatalf("approving a rejected batch must fail, got %v", err)
	}
}

func TestApproveBatchNotFound(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.ApproveBatch(context.Background(), aggregator(), "batch_999")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateLot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := submitApprovedBatch(t, svc, SubmitBatchInput{CropName: "Rice", Quantity: 100, OriginLocation: "Thanjavur", ExpectedUnitPrice: 40})
	second := submitApprovedBatch(t, svc, SubmitBatchInput{CropName: "Rice", Quantity: 60, OriginLocation: "Madurai", ExpectedUnitPrice: 45})

	lot, record, err := svc.CreateLot(ctx, aggregator(), []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	if lot.Status != LotStatusAvailable {
		t.Fatalf("new lot must be available, got %s", lot.Status)
	}
	if lot.TotalQuantity != 160 {
		t.Fatalf("total quantity %v, want 160", lot.TotalQuantity)
	}
	if lot.AverageUnitPrice != 42.5 {
		t.Fatalf("average unit price %v, want 42.5", lot.AverageUnitPrice)
	}
	if record.Type != domain.TxLotCreated {
		t.Fatalf("unexpected record type %s", record.Type)
	}
	if record.SubjectIDs[0] != lot.ID || !record.References(first.ID) || !record.References(second.ID) {
		t.Fatalf("lot_created must reference lot and every member: %v", record.SubjectIDs)
	}

	for _, id := range []string{first.ID, second.ID} {
		member, ok := svc.GetBatch(id)
		if !ok {
			t.Fatalf("member %s missing", id)
		}
		if member.Status != BatchStatusSold {
			t.Fatalf("member %s not sold: %s", id, member.Status)
		}
		if member.LotID == nil || *member.LotID != lot.ID {
			t.Fatalf("member %s not linked to lot", id)
		}
	}
	if got := len(svc.Ledger()); got != 5 {
		t.Fatalf("ledger length %d, want 5 (2 created, 2 approved, 1 lot)", got)
	}
	if err := svc.VerifyChain(); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
}

func TestCreateLotRoundsAveragePrice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := submitApprovedBatch(t, svc, SubmitBatchInput{CropName: "Rice", Quantity: 1, OriginLocation: "X", ExpectedUnitPrice: 10})
	b := submitApprovedBatch(t, svc, SubmitBatchInput{CropName: "Rice", Quantity: 1, OriginLocation: "X", ExpectedUnitPrice: 10.01})
	c := submitApprovedBatch(t, svc, SubmitBatchInput{CropName: "Rice", Quantity: 1, OriginLocation: "X", ExpectedUnitPrice: 10.01})

	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{a.ID, b.ID, c.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	if lot.AverageUnitPrice != 10.01 {
		t.Fatalf("average unit price %v, want 10.01 (rounded to currency precision)", lot.AverageUnitPrice)
	}
}

func TestCreateLotIsAllOrNothing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approved := submitApprovedBatch(t, svc, riceInput())
	pending, _, err := svc.SubmitBatch(ctx, farmer(), riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	ledgerBefore := len(svc.Ledger())

	_, _, err = svc.CreateLot(ctx, aggregator(), []string{approved.ID, pending.ID})
	if !domain.IsInvalidTransition(err) {
		t.Fatalf("lot over a pending batch must fail, got %v", err)
	}

	// The eligible member must be untouched by the aborted operation.
	kept, _ := svc.GetBatch(approved.ID)
	if kept.Status != BatchStatusApproved || kept.LotID != nil {
		t.Fatalf("aborted lot leaked into member batch: %+v", kept)
	}
	if got := len(svc.ListLots(LotFilter{})); got != 0 {
		t.Fatalf("aborted lot persisted: %d lots", got)
	}
	if got := len(svc.Ledger()); got != ledgerBefore {
		t.Fatalf("aborted lot appended records: %d vs %d", got, ledgerBefore)
	}
}

func TestCreateLotInputValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	approved := submitApprovedBatch(t, svc, riceInput())

	if _, _, err := svc.CreateLot(ctx, aggregator(), nil); !domain.IsValidation(err) {
		t.Fatalf("empty member list must fail validation, got %v", err)
	}
	if _, _, err := svc.CreateLot(ctx, aggregator(), []string{approved.ID, approved.ID}); !domain.IsValidation(err) {
		t.Fatalf("duplicate member must fail validation, got %v", err)
	}
	if _, _, err := svc.CreateLot(ctx, aggregator(), []string{"batch_999"}); !domain.IsNotFound(err) {
		t.Fatalf("unknown member must fail with NotFoundError, got %v", err)
	}
}

func TestPurchaseLot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approved := submitApprovedBatch(t, svc, riceInput())
	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{approved.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}

	sold, record, err := svc.PurchaseLot(ctx, retailer(), lot.ID)
	if err != nil {
		t.Fatalf("PurchaseLot: %v", err)
	}
	if sold.Status != LotStatusSold {
		t.Fatalf("status %s after purchase", sold.Status)
	}
	if sold.BuyerID == nil || *sold.BuyerID != "retail-1" {
		t.Fatalf("buyer not recorded: %+v", sold)
	}
	if sold.BuyerName == nil || *sold.BuyerName != "FreshMart" {
		t.Fatalf("buyer name not recorded: %+v", sold)
	}
	if record.Type != domain.TxLotPurchased {
		t.Fatalf("unexpected record type %s", record.Type)
	}

	// Sold is terminal for purchases.
	if _, _, err := svc.PurchaseLot(ctx, retailer(), lot.ID); !domain.IsInvalidTransition(err) {
		t.Fatalf("double purchase must fail, got %v", err)
	}
}

func TestDeliverLot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approved := submitApprovedBatch(t, svc, riceInput())
	lot, _, err := svc.CreateLot(ctx, aggregator(), []string{approved.ID})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}

	// Delivery requires a completed purchase.
	if _, _, err := svc.DeliverLot(ctx, retailer(), lot.ID, "Chennai DC"); !domain.IsInvalidTransition(err) {
		t.Fatalf("delivering an available lot must fail, got %v", err)
	}

	if _, _, err := svc.PurchaseLot(ctx, retailer(), lot.ID); err != nil {
		t.Fatalf("PurchaseLot: %v", err)
	}
	before, _ := svc.GetLot(lot.ID)

	delivered, record, err := svc.DeliverLot(ctx, retailer(), lot.ID, "Chennai DC")
	if err != nil {
		t.Fatalf("DeliverLot: %v", err)
	}
	if record.Type != domain.TxLotDelivered {
		t.Fatalf("unexpected record type %s", record.Type)
	}
	if delivered.Status != LotStatusSold {
		t.Fatalf("delivery must not change lot status, got %s", delivered.Status)
	}
	after, _ := svc.GetLot(lot.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("delivery is audit-only and must not touch the entity")
	}

	// Delivery can be recorded more than once; each append is an audit event.
	if _, _, err := svc.DeliverLot(ctx, retailer(), lot.ID, "Chennai DC"); err != nil {
		t.Fatalf("second delivery record: %v", err)
	}
}

func TestHistoryFollowsSubjects(t *testing.T) {
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

	batchHistory := svc.History(approved.ID)
	wantBatch := []TransactionType{domain.TxBatchCreated, domain.TxBatchApproved, domain.TxLotCreated}
	if len(batchHistory) != len(wantBatch) {
		t.Fatalf("batch history length %d, want %d", len(batchHistory), len(wantBatch))
	}
	for i, want := range wantBatch {
		if batchHistory[i].Type != want {
			t.Fatalf("batch history[%d] = %s, want %s", i, batchHistory[i].Type, want)
		}
	}

	lotHistory := svc.History(lot.ID)
	wantLot := []TransactionType{domain.TxLotCreated, domain.TxLotPurchased}
	if len(lotHistory) != len(wantLot) {
		t.Fatalf("lot history length %d, want %d", len(lotHistory), len(wantLot))
	}
	for i, want := range wantLot {
		if lotHistory[i].Type != want {
			t.Fatalf("lot history[%d] = %s, want %s", i, lotHistory[i].Type, want)
		}
	}
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SubmitBatch(ctx, farmer(), riceInput()); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	other := Actor{ID: "farmer-2", DisplayName: "Lakshmi", Role: domain.RoleFarmer}
	second, _, err := svc.SubmitBatch(ctx, other, riceInput())
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if _, _, err := svc.ApproveBatch(ctx, aggregator(), second.ID); err != nil {
		t.Fatalf("ApproveBatch: %v", err)
	}

	if got := len(svc.ListBatches(BatchFilter{})); got != 2 {
		t.Fatalf("unfiltered list length %d", got)
	}
	if got := len(svc.ListBatches(BatchFilter{ProducerID: "farmer-2"})); got != 1 {
		t.Fatalf("producer filter length %d", got)
	}
	if got := len(svc.ListBatches(BatchFilter{Status: BatchStatusApproved})); got != 1 {
		t.Fatalf("status filter length %d", got)
	}
	if got := len(svc.ListBatches(BatchFilter{ProducerID: "farmer-1", Status: BatchStatusApproved})); got != 0 {
		t.Fatalf("combined filter length %d", got)
	}
}
