package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TransactionType enumerates the closed set of ledger event kinds.
type TransactionType string

// Ledger event kinds, one per tagged payload variant.
const (
	TxBatchCreated  TransactionType = "batch_created"
	TxBatchApproved TransactionType = "batch_approved"
	TxBatchRejected TransactionType = "batch_rejected"
	TxLotCreated    TransactionType = "lot_created"
	TxLotPurchased  TransactionType = "lot_purchased"
	TxLotDelivered  TransactionType = "lot_delivered"
)

// GenesisHash is the previous-hash sentinel carried by the first ledger record.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Transaction is one immutable ledger record. Records are hash-linked:
// PreviousHash of record i equals ContentHash of record i-1, or GenesisHash
// for the first record. Only the store transaction constructs Transactions.
type Transaction struct {
	ID           string          `json:"id"`
	Seq          uint64          `json:"seq"`
	Type         TransactionType `json:"type"`
	Actor        Actor           `json:"actor"`
	Payload      json.RawMessage `json:"payload"`
	SubjectIDs   []string        `json:"subject_ids"`
	OccurredAt   time.Time       `json:"occurred_at"`
	PreviousHash string          `json:"previous_hash"`
	ContentHash  string          `json:"content_hash"`
}

// TransactionDraft carries the caller-supplied portion of a ledger append.
// Seq, OccurredAt, PreviousHash, and ContentHash are assigned by the store.
type TransactionDraft struct {
	Type    TransactionType
	Actor   Actor
	Payload TransactionPayload
}

// hashEnvelope fixes the canonical field order digested into ContentHash.
type hashEnvelope struct {
	Seq          uint64          `json:"seq"`
	Type         TransactionType `json:"type"`
	Actor        Actor           `json:"actor"`
	Payload      json.RawMessage `json:"payload"`
	SubjectIDs   []string        `json:"subject_ids"`
	OccurredAt   time.Time       `json:"occurred_at"`
	PreviousHash string          `json:"previous_hash"`
}

// ComputeContentHash returns the hex SHA-256 digest over the record's
// canonical envelope. The digest is deterministic for a given record: the
// payload bytes are stored canonically and times are UTC.
func (t Transaction) ComputeContentHash() (string, error) {
	env := hashEnvelope{
		Seq:          t.Seq,
		Type:         t.Type,
		Actor:        t.Actor,
		Payload:      t.Payload,
		SubjectIDs:   t.SubjectIDs,
		OccurredAt:   t.OccurredAt.UTC(),
		PreviousHash: t.PreviousHash,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode hash envelope: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy safe to hand across the store boundary.
func (t Transaction) Clone() Transaction {
	cp := t
	cp.SubjectIDs = append([]string(nil), t.SubjectIDs...)
	if t.Payload != nil {
		cp.Payload = make(json.RawMessage, len(t.Payload))
		copy(cp.Payload, t.Payload)
	}
	return cp
}

// References reports whether the record names id among its subjects.
func (t Transaction) References(id string) bool {
	for _, s := range t.SubjectIDs {
		if s == id {
			return true
		}
	}
	return false
}

// VerifyChain walks an ordered ledger and fails closed on the first break:
// non-contiguous sequence numbers, a previous-hash mismatch, or a content
// hash that no longer matches its recomputation. A nil return means the
// chain is intact. Breakage is a program invariant violation, not a
// recoverable runtime condition.
func VerifyChain(ledger []Transaction) error {
	prev := GenesisHash
	for i, tx := range ledger {
		if tx.Seq != uint64(i)+1 {
			return ChainIntegrityError{Seq: tx.Seq, Reason: fmt.Sprintf("sequence gap: record at position %d carries seq %d", i, tx.Seq)}
		}
		if tx.PreviousHash != prev {
			return ChainIntegrityError{Seq: tx.Seq, Reason: fmt.Sprintf("previous hash %s does not match predecessor hash %s", tx.PreviousHash, prev)}
		}
		recomputed, err := tx.ComputeContentHash()
		if err != nil {
			return ChainIntegrityError{Seq: tx.Seq, Reason: err.Error()}
		}
		if recomputed != tx.ContentHash {
			return ChainIntegrityError{Seq: tx.Seq, Reason: fmt.Sprintf("content hash %s does not match recomputed %s", tx.ContentHash, recomputed)}
		}
		prev = tx.ContentHash
	}
	return nil
}
