package procurement

import (
	"errors"
	"time"
)

// Raw purchase order lifecycle statuses.
type RPOStatus string

const (
	RPOStatusDraft     RPOStatus = "DRAFT"
	RPOStatusOrdered   RPOStatus = "ORDERED"
	RPOStatusPartial   RPOStatus = "PARTIAL"
	RPOStatusReceived  RPOStatus = "RECEIVED"
	RPOStatusClosed    RPOStatus = "CLOSED"
	RPOStatusCancelled RPOStatus = "CANCELLED"
)

// millTolerance is the over-receipt allowance on ordered weight. Mills cut
// bar stock to nominal length, so delivered weight runs slightly over.
const millTolerance = 1.02

// RawPurchaseOrder is an order for raw material placed on a supplier.
type RawPurchaseOrder struct {
	ID           int64             `json:"id"`
	RPONumber    string            `json:"rpo_number"`
	SupplierID   int64             `json:"supplier_id"`
	MaterialSpec string            `json:"material_spec"`
	Section      string            `json:"section"`
	OrderedKg    float64           `json:"ordered_kg"`
	RatePerKg    float64           `json:"rate_per_kg"`
	ExpectedDate time.Time         `json:"expected_date"`
	Status       RPOStatus         `json:"status"`
	Notes        *string           `json:"notes,omitempty"`
	CreatedBy    int64             `json:"created_by"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ReceivedKg   float64           `json:"received_kg"`
	Receipts     []MaterialReceipt `json:"receipts,omitempty"`
}

// ReceivableKg returns the weight still receivable within mill tolerance.
func (o RawPurchaseOrder) ReceivableKg() float64 {
	remaining := o.OrderedKg*millTolerance - o.ReceivedKg
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Overdue reports whether the order is past its expected date with material
// still outstanding.
func (o RawPurchaseOrder) Overdue(now time.Time) bool {
	if o.Status != RPOStatusOrdered && o.Status != RPOStatusPartial {
		return false
	}
	return o.ExpectedDate.Before(now.Truncate(24 * time.Hour))
}

// MaterialReceipt records a delivery against an RPO. Receipts are immutable
// once recorded; corrections go through a fresh receipt or a credit note.
type MaterialReceipt struct {
	ID           int64     `json:"id"`
	GRNNumber    string    `json:"grn_number"`
	RPOID        int64     `json:"rpo_id"`
	ReceivedKg   float64   `json:"received_kg"`
	HeatNo       string    `json:"heat_no"`
	MillTCNo     string    `json:"mill_tc_no"`
	ReceivedDate time.Time `json:"received_date"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListFilters narrows RPO listings.
type ListFilters struct {
	Page       int
	Limit      int
	Status     RPOStatus
	SupplierID int64
	Overdue    bool
	Search     string
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrOverTolerance rejects receipts beyond ordered weight plus mill tolerance.
	ErrOverTolerance = errors.New("procurement: receipt exceeds ordered weight with tolerance")
)
