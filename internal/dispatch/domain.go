package dispatch

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing dispatch or carton.
var ErrNotFound = errors.New("dispatch: not found")

// ErrInvalidState rejects an operation against the wrong dispatch status.
var ErrInvalidState = errors.New("dispatch: invalid state")

// ErrCartonUnavailable indicates a carton that is not CLOSED or already
// rides on another active dispatch.
var ErrCartonUnavailable = errors.New("dispatch: carton unavailable")

// ErrCustomerMismatch indicates a carton whose work order sells to a
// different customer than the dispatch.
var ErrCustomerMismatch = errors.New("dispatch: carton belongs to another customer")

// Status walks READY -> DISPATCHED -> DELIVERED. CANCELLED is reachable from
// READY only, before any carton or tally has been touched.
type Status string

const (
	StatusReady      Status = "READY"
	StatusDispatched Status = "DISPATCHED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// CartonLine is the carton detail attached to a dispatch.
type CartonLine struct {
	CartonID      int64    `json:"carton_id"`
	CartonNumber  string   `json:"carton_number"`
	WOID          int64    `json:"wo_id"`
	WONumber      string   `json:"wo_number"`
	BatchID       int64    `json:"batch_id"`
	Qty           int64    `json:"qty"`
	GrossWeightKg *float64 `json:"gross_weight_kg,omitempty"`
}

// Dispatch is one outbound consignment.
type Dispatch struct {
	ID              int64        `json:"id"`
	DispatchNumber  string       `json:"dispatch_number"`
	CustomerID      int64        `json:"customer_id"`
	CustomerName    string       `json:"customer_name,omitempty"`
	DispatchDate    time.Time    `json:"dispatch_date"`
	TransporterID   *int64       `json:"transporter_id,omitempty"`
	TransporterName string       `json:"transporter_name,omitempty"`
	VehicleNo       string       `json:"vehicle_no,omitempty"`
	LRNumber        string       `json:"lr_number,omitempty"`
	Status          Status       `json:"status"`
	Notes           *string      `json:"notes,omitempty"`
	DispatchedAt    *time.Time   `json:"dispatched_at,omitempty"`
	DeliveredAt     *time.Time   `json:"delivered_at,omitempty"`
	PODReference    *string      `json:"pod_reference,omitempty"`
	CreatedBy       int64        `json:"created_by"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CartonCount     int          `json:"carton_count"`
	TotalQty        int64        `json:"total_qty"`
	Cartons         []CartonLine `json:"cartons,omitempty"`
}

// ListFilters narrows dispatch listings.
type ListFilters struct {
	Page       int
	Limit      int
	Status     Status
	CustomerID int64
	From       *time.Time
	To         *time.Time
}

// RegisterRow is one line of the dispatch-register CSV export.
type RegisterRow struct {
	DispatchNumber string
	DispatchDate   time.Time
	CustomerName   string
	Transporter    string
	VehicleNo      string
	LRNumber       string
	Status         string
	CartonCount    int64
	TotalQty       int64
	GrossWeightKg  float64
}
