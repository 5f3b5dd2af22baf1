package external

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing move or return.
var ErrNotFound = errors.New("external: not found")

// ErrInvalidState indicates an operation against the wrong move status.
var ErrInvalidState = errors.New("external: invalid state")

// ErrOverAvailable indicates a send that exceeds what the batch still has
// in house.
var ErrOverAvailable = errors.New("external: quantity exceeds batch availability")

// ErrOverReturn indicates a return that exceeds the quantity sent.
var ErrOverReturn = errors.New("external: return exceeds quantity sent")

// MoveStatus tracks a challan through its life.
type MoveStatus string

const (
	StatusSent              MoveStatus = "SENT"
	StatusPartiallyReturned MoveStatus = "PARTIALLY_RETURNED"
	StatusReturned          MoveStatus = "RETURNED"
	StatusClosed            MoveStatus = "CLOSED"
	StatusCancelled         MoveStatus = "CANCELLED"
)

// Fixed overdue thresholds in days.
const (
	overdueWarnDays     = 1
	overdueCriticalDays = 7
)

// defaultSLADays applies when the partner record carries no SLA.
const defaultSLADays = 7

// OverdueSeverity grades how late a move is.
type OverdueSeverity string

const (
	OverdueWarn     OverdueSeverity = "WARN"
	OverdueCritical OverdueSeverity = "CRITICAL"
)

// Move is one challan of material sent to an external processor.
type Move struct {
	ID             int64      `json:"id"`
	ChallanNumber  string     `json:"challan_number"`
	WOID           int64      `json:"wo_id"`
	WONumber       string     `json:"wo_number,omitempty"`
	BatchID        int64      `json:"batch_id"`
	PartnerID      int64      `json:"partner_id"`
	PartnerName    string     `json:"partner_name,omitempty"`
	Process        string     `json:"process"`
	SentQty        int64      `json:"sent_qty"`
	SentDate       time.Time  `json:"sent_date"`
	ExpectedReturn time.Time  `json:"expected_return_date"`
	Vehicle        string     `json:"vehicle,omitempty"`
	Status         MoveStatus `json:"status"`
	ReceivedQty    int64      `json:"received_qty"`
	RejectedQty    int64      `json:"rejected_qty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Returns        []Return   `json:"returns,omitempty"`
}

// Outstanding is what the partner still holds.
func (m Move) Outstanding() int64 {
	out := m.SentQty - m.ReceivedQty - m.RejectedQty
	if out < 0 {
		return 0
	}
	return out
}

// DaysOverdue returns whole days past the expected return date, zero when
// nothing is outstanding or the date has not passed.
func (m Move) DaysOverdue(now time.Time) int {
	if m.Outstanding() <= 0 {
		return 0
	}
	if m.Status == StatusCancelled {
		return 0
	}
	today := now.UTC().Truncate(24 * time.Hour)
	expected := m.ExpectedReturn.UTC().Truncate(24 * time.Hour)
	days := int(today.Sub(expected).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Severity grades the delay. Empty when the move is not overdue.
func (m Move) Severity(now time.Time) OverdueSeverity {
	return SeverityForDays(m.DaysOverdue(now))
}

// SeverityForDays grades a delay in whole days past the expected return.
func SeverityForDays(days int) OverdueSeverity {
	switch {
	case days >= overdueCriticalDays:
		return OverdueCritical
	case days >= overdueWarnDays:
		return OverdueWarn
	default:
		return ""
	}
}

// Return is one GRN against a move. Immutable once recorded.
type Return struct {
	ID           int64     `json:"id"`
	GRNNumber    string    `json:"grn_number"`
	MoveID       int64     `json:"move_id"`
	ReceivedQty  int64     `json:"received_qty"`
	RejectedQty  int64     `json:"rejected_qty"`
	ReceivedDate time.Time `json:"received_date"`
	Notes        string    `json:"notes,omitempty"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListFilters narrows move listings.
type ListFilters struct {
	Page      int
	Limit     int
	Status    MoveStatus
	PartnerID int64
	WOID      int64
	BatchID   int64
	Overdue   bool
	Search    string
}

// OverdueMove is one report row.
type OverdueMove struct {
	Move
	DaysLate     int             `json:"days_late"`
	SeverityFlag OverdueSeverity `json:"severity"`
}

// PartnerOverdue rolls the overdue rows up per partner.
type PartnerOverdue struct {
	PartnerID   int64           `json:"partner_id"`
	PartnerName string          `json:"partner_name"`
	MoveCount   int             `json:"move_count"`
	Outstanding int64           `json:"outstanding_qty"`
	WorstDays   int             `json:"worst_days_late"`
	Severity    OverdueSeverity `json:"severity"`
}

// OverdueReport is the full late-material picture.
type OverdueReport struct {
	Moves    []OverdueMove    `json:"moves"`
	Partners []PartnerOverdue `json:"partners"`
}
