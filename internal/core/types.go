// Package core implements the transition and traceability engines over the
// provenance store: command validation, lifecycle rules, journey derivation,
// and backend selection.
package core

import "agritrace/pkg/domain"

// Aliases re-export domain types so callers of core do not need to import
// pkg/domain for common operations.
type (
	Actor           = domain.Actor
	Batch           = domain.Batch
	BatchFilter     = domain.BatchFilter
	BatchStatus     = domain.BatchStatus
	Change          = domain.Change
	EntityType      = domain.EntityType
	Journey         = domain.Journey
	JourneyStep     = domain.JourneyStep
	Lot             = domain.Lot
	LotFilter       = domain.LotFilter
	LotStatus       = domain.LotStatus
	PersistentStore = domain.PersistentStore
	Result          = domain.Result
	Rule            = domain.Rule
	RuleView        = domain.RuleView
	RulesEngine     = domain.RulesEngine
	Severity        = domain.Severity
	StoreTx         = domain.StoreTx
	StoreView       = domain.StoreView
	Transaction     = domain.Transaction
	TransactionType = domain.TransactionType
	Violation       = domain.Violation
)

// Commonly used domain constants re-exported for convenience.
const (
	EntityBatch       = domain.EntityBatch
	EntityLot         = domain.EntityLot
	EntityTransaction = domain.EntityTransaction

	BatchStatusPending  = domain.BatchStatusPending
	BatchStatusApproved = domain.BatchStatusApproved
	BatchStatusRejected = domain.BatchStatusRejected
	BatchStatusSold     = domain.BatchStatusSold

	LotStatusAvailable = domain.LotStatusAvailable
	LotStatusSold      = domain.LotStatusSold

	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
