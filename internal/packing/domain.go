package packing

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing carton.
var ErrNotFound = errors.New("packing: not found")

// ErrInvalidState indicates an operation against the wrong carton or work
// order state.
var ErrInvalidState = errors.New("packing: invalid state")

// ErrWOHeld indicates a pack attempt on a held work order.
var ErrWOHeld = errors.New("packing: work order on hold")

// ErrOverPack indicates a pack that exceeds the batch's approved quantity
// still available.
var ErrOverPack = errors.New("packing: quantity exceeds available to pack")

// CartonStatus walks OPEN -> CLOSED -> DISPATCHED. VOID is only reachable
// before dispatch and hands the quantity back to the batch.
type CartonStatus string

const (
	StatusOpen       CartonStatus = "OPEN"
	StatusClosed     CartonStatus = "CLOSED"
	StatusDispatched CartonStatus = "DISPATCHED"
	StatusVoid       CartonStatus = "VOID"
)

// Carton is one packed box of finished parts.
type Carton struct {
	ID            int64        `json:"id"`
	CartonNumber  string       `json:"carton_number"`
	WOID          int64        `json:"wo_id"`
	WONumber      string       `json:"wo_number,omitempty"`
	BatchID       int64        `json:"batch_id"`
	Qty           int64        `json:"qty"`
	NetWeightKg   *float64     `json:"net_weight_kg,omitempty"`
	GrossWeightKg *float64     `json:"gross_weight_kg,omitempty"`
	Status        CartonStatus `json:"status"`
	PackedBy      int64        `json:"packed_by"`
	PackedAt      time.Time    `json:"packed_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ListFilters narrows carton listings.
type ListFilters struct {
	Page    int
	Limit   int
	WOID    int64
	BatchID int64
	Status  CartonStatus
}

// Summary rolls up packing progress for one work order.
type Summary struct {
	WOID       int64    `json:"wo_id"`
	WONumber   string   `json:"wo_number"`
	Approved   int64    `json:"approved_qty"`
	Packed     int64    `json:"packed_qty"`
	Remaining  int64    `json:"remaining_qty"`
	Open       int      `json:"open_cartons"`
	Closed     int      `json:"closed_cartons"`
	Dispatched int      `json:"dispatched_cartons"`
	Cartons    []Carton `json:"cartons"`
}
