package production

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("production: record not found")
	// ErrInvalidStage rejects a stage move the flow forbids.
	ErrInvalidStage = errors.New("production: invalid stage")
	// ErrOnHold blocks progress while a work order is held.
	ErrOnHold = errors.New("production: work order on hold")
	// ErrOverPlanned rejects production beyond planned quantity plus overrun.
	ErrOverPlanned = errors.New("production: exceeds planned quantity with overrun")
	// ErrInvalidState covers non-stage workflow violations.
	ErrInvalidState = errors.New("production: invalid state")
)

// Priority orders the shop-floor queue.
type Priority string

const (
	PriorityNormal    Priority = "NORMAL"
	PriorityUrgent    Priority = "URGENT"
	PriorityBreakdown Priority = "BREAKDOWN"
)

// Valid reports whether the priority is known.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityUrgent, PriorityBreakdown:
		return true
	}
	return false
}

// setupOverrunPct caps cumulative production over planned quantity. Setup
// pieces make slight overruns routine.
const setupOverrunPct = 5

// MaxProducible returns the integer production ceiling for a planned
// quantity.
func MaxProducible(planned int64) int64 {
	return planned * (100 + setupOverrunPct) / 100
}

// WorkOrder drives a part through the production stages.
type WorkOrder struct {
	ID               int64      `json:"id"`
	WONumber         string     `json:"wo_number"`
	PartID           int64      `json:"part_id"`
	SalesOrderLineID *int64     `json:"sales_order_line_id,omitempty"`
	PlannedQty       int64      `json:"planned_qty"`
	Priority         Priority   `json:"priority"`
	DueDate          time.Time  `json:"due_date"`
	Stage            Stage      `json:"stage"`
	StageEnteredAt   time.Time  `json:"stage_entered_at"`
	OnHold           bool       `json:"on_hold"`
	HoldReason       *string    `json:"hold_reason,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	CreatedBy        int64      `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Batches          []Batch    `json:"batches,omitempty"`
	Summary          *Summary   `json:"summary,omitempty"`
}

// Overdue reports whether the order is past due with dispatch still ahead.
func (w WorkOrder) Overdue(now time.Time) bool {
	if w.Stage.Index() >= StageReady.Index() || w.Stage == StageCancelled {
		return false
	}
	return w.DueDate.Before(now.Truncate(24 * time.Hour))
}

// BatchStatus is derived from a batch's quantity tallies.
type BatchStatus string

const (
	BatchPendingQC  BatchStatus = "PENDING_QC"
	BatchPartialQC  BatchStatus = "PARTIAL_QC"
	BatchQCComplete BatchStatus = "QC_COMPLETE"
	BatchRejected   BatchStatus = "REJECTED"
	BatchPacked     BatchStatus = "PACKED"
	BatchDispatched BatchStatus = "DISPATCHED"
)

// Batch is one production run reported against a work order. QC, packing and
// dispatch maintain the tallies inside their own transactions.
type Batch struct {
	ID            int64     `json:"id"`
	BatchNumber   string    `json:"batch_number"`
	WorkOrderID   int64     `json:"work_order_id"`
	ProducedQty   int64     `json:"produced_qty"`
	Machine       string    `json:"machine"`
	Operator      string    `json:"operator"`
	ProducedAt    time.Time `json:"produced_at"`
	ApprovedQty   int64     `json:"approved_qty"`
	RejectedQty   int64     `json:"rejected_qty"`
	QCComplete    bool      `json:"qc_complete"`
	PackedQty     int64     `json:"packed_qty"`
	DispatchedQty int64     `json:"dispatched_qty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AvailableToPack is the QC-approved quantity not yet packed.
func (b Batch) AvailableToPack() int64 {
	available := b.ApprovedQty - b.PackedQty
	if available < 0 {
		return 0
	}
	return available
}

// Status derives the batch state from its tallies.
func (b Batch) Status() BatchStatus {
	switch {
	case b.DispatchedQty > 0 && b.DispatchedQty >= b.PackedQty:
		return BatchDispatched
	case b.ApprovedQty > 0 && b.PackedQty >= b.ApprovedQty:
		return BatchPacked
	case b.QCComplete && b.ApprovedQty == 0 && b.RejectedQty > 0:
		return BatchRejected
	case b.QCComplete:
		return BatchQCComplete
	case b.ApprovedQty+b.RejectedQty > 0:
		return BatchPartialQC
	default:
		return BatchPendingQC
	}
}

// StageHistory records one stage transition.
type StageHistory struct {
	ID        int64     `json:"id"`
	WOID      int64     `json:"wo_id"`
	FromStage Stage     `json:"from_stage"`
	ToStage   Stage     `json:"to_stage"`
	ChangedBy int64     `json:"changed_by"`
	Note      *string   `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Summary aggregates quantities over a work order's batches.
type Summary struct {
	Planned    int64 `json:"planned"`
	Produced   int64 `json:"produced"`
	Approved   int64 `json:"approved"`
	Rejected   int64 `json:"rejected"`
	Packed     int64 `json:"packed"`
	Dispatched int64 `json:"dispatched"`
}

// ListFilters narrows work order listings.
type ListFilters struct {
	Page       int
	Limit      int
	Stage      Stage
	Priority   Priority
	CustomerID int64
	PartID     int64
	Overdue    bool
	Search     string
}
