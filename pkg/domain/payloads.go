package domain

import (
	"encoding/json"
	"fmt"
)

// TransactionPayload is the closed set of tagged payload variants, one per
// TransactionType. Each variant names the affected batch and/or lot ids so
// the traceability engine can pattern-match without reflection.
type TransactionPayload interface {
	// TransactionType returns the ledger event kind the payload belongs to.
	TransactionType() TransactionType
	// Subjects returns the referenced entity ids, primary subject first.
	Subjects() []string
}

// BatchCreatedPayload records a producer submitting a new batch.
type BatchCreatedPayload struct {
	BatchID           string  `json:"batch_id"`
	CropName          string  `json:"crop_name"`
	Quantity          float64 `json:"quantity"`
	OriginLocation    string  `json:"origin_location"`
	ExpectedUnitPrice float64 `json:"expected_unit_price"`
}

// TransactionType implements TransactionPayload.
func (BatchCreatedPayload) TransactionType() TransactionType { return TxBatchCreated }

// Subjects implements TransactionPayload.
func (p BatchCreatedPayload) Subjects() []string { return []string{p.BatchID} }

// BatchApprovedPayload records an aggregator accepting a pending batch.
type BatchApprovedPayload struct {
	BatchID string `json:"batch_id"`
}

// TransactionType implements TransactionPayload.
func (BatchApprovedPayload) TransactionType() TransactionType { return TxBatchApproved }

// Subjects implements TransactionPayload.
func (p BatchApprovedPayload) Subjects() []string { return []string{p.BatchID} }

// BatchRejectedPayload records an aggregator rejecting a pending batch.
type BatchRejectedPayload struct {
	BatchID string `json:"batch_id"`
	Reason  string `json:"reason,omitempty"`
}

// TransactionType implements TransactionPayload.
func (BatchRejectedPayload) TransactionType() TransactionType { return TxBatchRejected }

// Subjects implements TransactionPayload.
func (p BatchRejectedPayload) Subjects() []string { return []string{p.BatchID} }

// LotCreatedPayload records an aggregation event. BatchIDs lists the full
// set of batches consumed by the lot; they become secondary subjects.
type LotCreatedPayload struct {
	LotID            string   `json:"lot_id"`
	BatchIDs         []string `json:"batch_ids"`
	TotalQuantity    float64  `json:"total_quantity"`
	AverageUnitPrice float64  `json:"average_unit_price"`
}

// TransactionType implements TransactionPayload.
func (LotCreatedPayload) TransactionType() TransactionType { return TxLotCreated }

// Subjects implements TransactionPayload.
func (p LotCreatedPayload) Subjects() []string {
	return append([]string{p.LotID}, p.BatchIDs...)
}

// LotPurchasedPayload records a retailer purchasing an available lot.
type LotPurchasedPayload struct {
	LotID   string `json:"lot_id"`
	BuyerID string `json:"buyer_id"`
}

// TransactionType implements TransactionPayload.
func (LotPurchasedPayload) TransactionType() TransactionType { return TxLotPurchased }

// Subjects implements TransactionPayload.
func (p LotPurchasedPayload) Subjects() []string { return []string{p.LotID} }

// LotDeliveredPayload records final delivery of a sold lot. Delivery is a
// terminal audit event, not a lot state.
type LotDeliveredPayload struct {
	LotID       string `json:"lot_id"`
	Destination string `json:"destination,omitempty"`
}

// TransactionType implements TransactionPayload.
func (LotDeliveredPayload) TransactionType() TransactionType { return TxLotDelivered }

// Subjects implements TransactionPayload.
func (p LotDeliveredPayload) Subjects() []string { return []string{p.LotID} }

// EncodePayload marshals a payload variant into the canonical bytes stored
// on a Transaction.
func EncodePayload(p TransactionPayload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("transaction payload cannot be nil")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.TransactionType(), err)
	}
	return raw, nil
}

// DecodePayload hydrates the typed variant matching the transaction type.
func DecodePayload(t TransactionType, raw json.RawMessage) (TransactionPayload, error) {
	decode := func(target TransactionPayload) error {
		return json.Unmarshal(raw, target)
	}
	switch t {
	case TxBatchCreated:
		var p BatchCreatedPayload
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case TxBatchApproved:
		var p BatchApprovedPayload
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case TxBatchRejected:
		var p BatchRejectedPayload
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case TxLotCreated:
		var p LotCreatedPayload
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case TxLotPurchased:
		var p LotPurchasedPayload
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case TxLotDelivered:
		var p LotDeliveredPayload
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown transaction type %q", t)
	}
}

// DecodeTransactionPayload returns the typed payload carried by a record.
func DecodeTransactionPayload(tx Transaction) (TransactionPayload, error) {
	return DecodePayload(tx.Type, tx.Payload)
}
