package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testActor() Actor {
	return Actor{ID: "farmer-1", DisplayName: "Ramesh", Role: RoleFarmer}
}

func sealedRecord(t *testing.T, seq uint64, prev string, payload TransactionPayload, at time.Time) Transaction {
	t.Helper()
	raw, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	tx := Transaction{
		ID:           "tx00000001",
		Seq:          seq,
		Type:         payload.TransactionType(),
		Actor:        testActor(),
		Payload:      raw,
		SubjectIDs:   payload.Subjects(),
		OccurredAt:   at,
		PreviousHash: prev,
	}
	hash, err := tx.ComputeContentHash()
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	tx.ContentHash = hash
	return tx
}

func TestComputeContentHashDeterministic(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	payload := BatchCreatedPayload{BatchID: "batch_a", CropName: "Rice", Quantity: 100, OriginLocation: "Thanjavur", ExpectedUnitPrice: 42}
	a := sealedRecord(t, 1, GenesisHash, payload, at)
	b := sealedRecord(t, 1, GenesisHash, payload, at)
	if a.ContentHash != b.ContentHash {
		t.Fatalf("hash not deterministic: %s vs %s", a.ContentHash, b.ContentHash)
	}
	if len(a.ContentHash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a.ContentHash))
	}

	c := sealedRecord(t, 2, GenesisHash, payload, at)
	if c.ContentHash == a.ContentHash {
		t.Fatalf("hash must cover seq")
	}
	d := sealedRecord(t, 1, a.ContentHash, payload, at)
	if d.ContentHash == a.ContentHash {
		t.Fatalf("hash must cover previous hash")
	}
}

func TestVerifyChain(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	first := sealedRecord(t, 1, GenesisHash, BatchCreatedPayload{BatchID: "batch_a", CropName: "Rice", Quantity: 100, OriginLocation: "Thanjavur", ExpectedUnitPrice: 42}, at)
	second := sealedRecord(t, 2, first.ContentHash, BatchApprovedPayload{BatchID: "batch_a"}, at.Add(time.Minute))
	ledger := []Transaction{first, second}

	if err := VerifyChain(ledger); err != nil {
		t.Fatalf("intact chain reported broken: %v", err)
	}
	if err := VerifyChain(nil); err != nil {
		t.Fatalf("empty ledger must verify: %v", err)
	}

	tampered := []Transaction{first.Clone(), second.Clone()}
	tampered[0].Payload = json.RawMessage(`{"batch_id":"batch_a","crop_name":"Wheat","quantity":100,"origin_location":"Thanjavur","expected_unit_price":42}`)
	err := VerifyChain(tampered)
	if err == nil {
		t.Fatalf("tampered payload not detected")
	}
	if !IsChainIntegrity(err) {
		t.Fatalf("expected ChainIntegrityError, got %T", err)
	}

	gap := []Transaction{first.Clone(), second.Clone()}
	gap[1].Seq = 3
	if err := VerifyChain(gap); err == nil {
		t.Fatalf("sequence gap not detected")
	} else if !strings.Contains(err.Error(), "sequence gap") {
		t.Fatalf("unexpected error: %v", err)
	}

	relinked := []Transaction{first.Clone(), second.Clone()}
	relinked[1].PreviousHash = GenesisHash
	if err := VerifyChain(relinked); err == nil {
		t.Fatalf("broken link not detected")
	}
}

func TestTransactionCloneIsDeep(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tx := sealedRecord(t, 1, GenesisHash, LotCreatedPayload{LotID: "lot_a", BatchIDs: []string{"batch_a", "batch_b"}, TotalQuantity: 10, AverageUnitPrice: 5}, at)
	cp := tx.Clone()
	cp.SubjectIDs[0] = "mutated"
	cp.Payload[0] = 'X'
	if tx.SubjectIDs[0] != "lot_a" {
		t.Fatalf("clone shares subject slice")
	}
	if tx.Payload[0] == 'X' {
		t.Fatalf("clone shares payload bytes")
	}
}

func TestReferences(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tx := sealedRecord(t, 1, GenesisHash, LotCreatedPayload{LotID: "lot_a", BatchIDs: []string{"batch_a"}, TotalQuantity: 1, AverageUnitPrice: 1}, at)
	if !tx.References("lot_a") || !tx.References("batch_a") {
		t.Fatalf("expected lot and member batch to be referenced: %v", tx.SubjectIDs)
	}
	if tx.References("batch_z") {
		t.Fatalf("unexpected subject match")
	}
	if tx.SubjectIDs[0] != "lot_a" {
		t.Fatalf("primary subject must come first, got %v", tx.SubjectIDs)
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	payloads := []TransactionPayload{
		BatchCreatedPayload{BatchID: "b1", CropName: "Rice", Quantity: 5, OriginLocation: "X", ExpectedUnitPrice: 2},
		BatchRejectedPayload{BatchID: "b1", Reason: "moisture"},
		LotPurchasedPayload{LotID: "l1", BuyerID: "retail-1"},
	}
	for _, p := range payloads {
		raw, err := EncodePayload(p)
		if err != nil {
			t.Fatalf("encode %T: %v", p, err)
		}
		decoded, err := DecodePayload(p.TransactionType(), raw)
		if err != nil {
			t.Fatalf("decode %T: %v", p, err)
		}
		if decoded.TransactionType() != p.TransactionType() {
			t.Fatalf("type mismatch after decode: %s vs %s", decoded.TransactionType(), p.TransactionType())
		}
	}

	if _, err := DecodePayload(TransactionType("unknown"), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if _, err := EncodePayload(nil); err == nil {
		t.Fatalf("expected nil payload error")
	}
}
