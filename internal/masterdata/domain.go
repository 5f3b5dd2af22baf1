package masterdata

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateCode indicates an insert or update with a code already in use.
var ErrDuplicateCode = errors.New("masterdata: code already in use")

// ErrReferenced indicates a delete blocked by workflow rows; the record is
// deactivated instead.
var ErrReferenced = errors.New("masterdata: record is referenced")

// ErrInvalidPartner indicates partner fields that break the type rules.
var ErrInvalidPartner = errors.New("masterdata: invalid partner")

// PartnerType distinguishes material suppliers, outside processors, and
// transporters.
type PartnerType string

const (
	PartnerSupplier    PartnerType = "SUPPLIER"
	PartnerProcessor   PartnerType = "PROCESSOR"
	PartnerTransporter PartnerType = "TRANSPORTER"
)

// Valid reports whether t is one of the known partner types.
func (t PartnerType) Valid() bool {
	switch t {
	case PartnerSupplier, PartnerProcessor, PartnerTransporter:
		return true
	}
	return false
}

// Part is a manufactured item: a turned or milled component made from bar
// stock against a customer drawing.
type Part struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	DrawingNo   string    `json:"drawing_no"`
	Revision    string    `json:"revision"`
	Material    string    `json:"material"`
	UnitWeightG float64   `json:"unit_weight_g"`
	HSNCode     string    `json:"hsn_code"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Customer places purchase orders and receives dispatches.
type Customer struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	GSTIN            string    `json:"gstin"`
	City             string    `json:"city"`
	PaymentTermsDays int       `json:"payment_terms_days"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Partner is an external party. Processors carry the process they perform
// (e.g. ZINC_PLATING) and an SLA in days for turnaround tracking.
type Partner struct {
	ID        int64       `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      PartnerType `json:"type"`
	Process   string      `json:"process"`
	SLADays   int         `json:"sla_days"`
	City      string      `json:"city"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ListFilters represents standard list page filters.
type ListFilters struct {
	Page   int
	Limit  int
	Search string
	Active *bool

	// Partner specific filters
	Type    PartnerType
	Process string
}

// Repository interface for master data operations.
type Repository interface {
	// Part operations
	ListParts(ctx context.Context, filters ListFilters) ([]Part, int, error)
	GetPart(ctx context.Context, id int64) (Part, error)
	CreatePart(ctx context.Context, part Part) (Part, error)
	UpdatePart(ctx context.Context, id int64, part Part) error
	DeletePart(ctx context.Context, id int64) error
	SetPartActive(ctx context.Context, id int64, active bool) error

	// Customer operations
	ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	CreateCustomer(ctx context.Context, customer Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, id int64, customer Customer) error
	DeleteCustomer(ctx context.Context, id int64) error
	SetCustomerActive(ctx context.Context, id int64, active bool) error

	// Partner operations
	ListPartners(ctx context.Context, filters ListFilters) ([]Partner, int, error)
	GetPartner(ctx context.Context, id int64) (Partner, error)
	CreatePartner(ctx context.Context, partner Partner) (Partner, error)
	UpdatePartner(ctx context.Context, id int64, partner Partner) error
	DeletePartner(ctx context.Context, id int64) error
	SetPartnerActive(ctx context.Context, id int64, active bool) error
}

// Service interface for master data business logic.
type Service interface {
	ListParts(ctx context.Context, filters ListFilters) ([]Part, int, error)
	GetPart(ctx context.Context, id int64) (Part, error)
	CreatePart(ctx context.Context, part Part) (Part, error)
	UpdatePart(ctx context.Context, id int64, part Part) error
	// DeletePart removes the record, or deactivates it when workflow rows
	// still reference it. Reports true when it fell back to deactivation.
	DeletePart(ctx context.Context, id int64) (bool, error)

	ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	CreateCustomer(ctx context.Context, customer Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, id int64, customer Customer) error
	DeleteCustomer(ctx context.Context, id int64) (bool, error)

	ListPartners(ctx context.Context, filters ListFilters) ([]Partner, int, error)
	GetPartner(ctx context.Context, id int64) (Partner, error)
	CreatePartner(ctx context.Context, partner Partner) (Partner, error)
	UpdatePartner(ctx context.Context, id int64, partner Partner) error
	DeletePartner(ctx context.Context, id int64) (bool, error)
}
