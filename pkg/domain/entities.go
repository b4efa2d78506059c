// Package domain defines the core persistent entities, ledger records, and
// rule evaluation primitives used by agritrace.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityBatch identifies a producer batch record.
	EntityBatch EntityType = "batch"
	// EntityLot identifies an aggregated lot record.
	EntityLot EntityType = "lot"
	// EntityTransaction identifies an appended ledger record.
	EntityTransaction EntityType = "transaction"
)

// Role identifies the supply-chain role of an acting stakeholder.
type Role string

// Canonical stakeholder roles recognised by the transition engine.
const (
	RoleFarmer     Role = "farmer"
	RoleAggregator Role = "aggregator"
	RoleRetailer   Role = "retailer"
	RoleConsumer   Role = "consumer"
	RoleGovernment Role = "government"
)

// BatchStatus represents the canonical batch lifecycle states.
type BatchStatus string

// Batch lifecycle states. Rejected and sold are terminal.
const (
	// BatchStatusPending indicates a submitted batch awaiting aggregator review.
	BatchStatusPending BatchStatus = "pending"
	// BatchStatusApproved indicates an aggregator accepted the batch for sale.
	BatchStatusApproved BatchStatus = "approved"
	BatchStatusRejected BatchStatus = "rejected"
	BatchStatusSold     BatchStatus = "sold"
)

// LotStatus represents the canonical lot lifecycle states.
type LotStatus string

// Lot lifecycle states. Sold is terminal.
const (
	LotStatusAvailable LotStatus = "available"
	LotStatusSold      LotStatus = "sold"
)

// Actor identifies the stakeholder responsible for a command. Values are
// supplied by an external identity provider and trusted as-is; the core
// performs no authentication.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Batch represents one producer's harvested quantity of a single crop,
// tracked from submission to sale.
type Batch struct {
	Base
	CropName          string      `json:"crop_name"`
	Quantity          float64     `json:"quantity"`
	OriginLocation    string      `json:"origin_location"`
	ExpectedUnitPrice float64     `json:"expected_unit_price"`
	ProducerID        string      `json:"producer_id"`
	ProducerName      string      `json:"producer_name"`
	Status            BatchStatus `json:"status"`
	// LotID references the single lot that absorbed this batch. It is set
	// exactly once, when the batch transitions to sold, and never cleared.
	LotID *string `json:"lot_id,omitempty"`
}

// Lot represents an aggregator-created bundle of approved batches offered as
// a single purchasable unit. TotalQuantity and AverageUnitPrice are derived
// from the member set at creation and frozen afterwards.
type Lot struct {
	Base
	BatchIDs         []string  `json:"batch_ids"`
	AggregatorID     string    `json:"aggregator_id"`
	AggregatorName   string    `json:"aggregator_name"`
	TotalQuantity    float64   `json:"total_quantity"`
	AverageUnitPrice float64   `json:"average_unit_price"`
	Status           LotStatus `json:"status"`
	BuyerID          *string   `json:"buyer_id,omitempty"`
	BuyerName        *string   `json:"buyer_name,omitempty"`
}

// BatchFilter narrows ListBatches results. Zero values match everything.
type BatchFilter struct {
	ProducerID string
	Status     BatchStatus
}

// Matches reports whether the batch satisfies the filter.
func (f BatchFilter) Matches(b Batch) bool {
	if f.ProducerID != "" && b.ProducerID != f.ProducerID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}

// LotFilter narrows ListLots results. Zero values match everything.
type LotFilter struct {
	AggregatorID string
	Status       LotStatus
}

// Matches reports whether the lot satisfies the filter.
func (f LotFilter) Matches(l Lot) bool {
	if f.AggregatorID != "" && l.AggregatorID != f.AggregatorID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return true
}

// StepStatus marks whether a journey milestone has occurred.
type StepStatus string

// Journey milestone completion states.
const (
	StepCompleted StepStatus = "completed"
	StepPending   StepStatus = "pending"
)

// Journey milestone labels, emitted in canonical order regardless of ledger order.
const (
	StepFarmCreation       = "Farm Creation"
	StepAggregatorApproval = "Aggregator Approval"
	StepRetailPurchase     = "Retail Purchase"
	StepLotCreation        = "Lot Creation"
	StepConsumerDelivery   = "Consumer Delivery"
)

// LocationNotApplicable is emitted for steps without a meaningful location.
const LocationNotApplicable = "N/A"

// JourneyStep is one derived life-cycle milestone. Timestamp is nil until the
// corresponding ledger record exists; pending steps never carry fabricated dates.
type JourneyStep struct {
	Label       string     `json:"label"`
	Stakeholder string     `json:"stakeholder"`
	Location    string     `json:"location"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Status      StepStatus `json:"status"`
}

// Journey is the derived, canonically ordered chain-of-custody for a batch or
// lot, annotated with completion status and the ledger records it rests on.
type Journey struct {
	Subject      EntityType    `json:"subject"`
	Batch        *Batch        `json:"batch,omitempty"`
	Lot          *Lot          `json:"lot,omitempty"`
	Steps        []JourneyStep `json:"steps"`
	Transactions []Transaction `json:"transactions"`
}
