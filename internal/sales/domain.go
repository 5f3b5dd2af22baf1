package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("sales: record not found")
	// ErrInvalidStatus indicates a transition the status machine forbids.
	ErrInvalidStatus = errors.New("sales: invalid status transition")
	// ErrHasProduction blocks cancellation once shop-floor work has started.
	ErrHasProduction = errors.New("sales: work orders already in progress")
)

// Status is the sales order lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// SalesOrder is a customer purchase order registered for production.
// COMPLETED is derived: it is set when the final dispatch delivers the last
// open line quantity.
type SalesOrder struct {
	ID                 int64      `json:"id"`
	SONumber           string     `json:"so_number"`
	CustomerID         int64      `json:"customer_id"`
	CustomerPONumber   string     `json:"customer_po_number"`
	OrderDate          time.Time  `json:"order_date"`
	Status             Status     `json:"status"`
	Notes              *string    `json:"notes,omitempty"`
	CreatedBy          int64      `json:"created_by"`
	ConfirmedBy        *int64     `json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledBy        *int64     `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Lines              []Line     `json:"lines,omitempty"`
}

// Line is one part/quantity row of a sales order. DeliveredQty is maintained
// by the dispatch cascade.
type Line struct {
	ID           int64           `json:"id"`
	SalesOrderID int64           `json:"sales_order_id"`
	LineNo       int             `json:"line_no"`
	PartID       int64           `json:"part_id"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	DueDate      *time.Time      `json:"due_date,omitempty"`
	DeliveredQty int64           `json:"delivered_qty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OpenQty returns the undelivered remainder of the line.
func (l Line) OpenQty() int64 {
	open := l.Quantity - l.DeliveredQty
	if open < 0 {
		return 0
	}
	return open
}

// OpenLine is the per-line open-quantity view consumed by planning screens.
type OpenLine struct {
	LineID       int64      `json:"line_id"`
	SalesOrderID int64      `json:"sales_order_id"`
	SONumber     string     `json:"so_number"`
	LineNo       int        `json:"line_no"`
	PartID       int64      `json:"part_id"`
	Ordered      int64      `json:"ordered"`
	Delivered    int64      `json:"delivered"`
	Open         int64      `json:"open"`
	DueDate      *time.Time `json:"due_date,omitempty"`
}

// PlanningLine is the view production planning reads when opening a work
// order against a confirmed line.
type PlanningLine struct {
	LineID       int64      `json:"line_id"`
	SalesOrderID int64      `json:"sales_order_id"`
	SONumber     string     `json:"so_number"`
	OrderStatus  Status     `json:"order_status"`
	PartID       int64      `json:"part_id"`
	OpenQty      int64      `json:"open_qty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
}

// CreateOrderRequest is the draft creation payload.
type CreateOrderRequest struct {
	CustomerID       int64           `json:"customer_id" validate:"required,gt=0"`
	CustomerPONumber string          `json:"customer_po_number" validate:"required,max=100"`
	OrderDate        time.Time       `json:"order_date" validate:"required"`
	Notes            *string         `json:"notes,omitempty"`
	Lines            []CreateLineReq `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineReq is one line of a draft payload. UnitPrice bounds are checked
// in the service; validator tags cannot inspect decimals.
type CreateLineReq struct {
	PartID    int64           `json:"part_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	DueDate   *time.Time      `json:"due_date,omitempty"`
}

// ListOrdersRequest carries list filters.
type ListOrdersRequest struct {
	CustomerID *int64
	Status     *Status
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	PerPage    int
}
