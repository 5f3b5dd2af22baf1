package insights

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/qc"
)

// StageCount is one bar of the open work order chart.
type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// ExternalSummary covers material currently at external processors.
type ExternalSummary struct {
	Outstanding int                              `json:"outstanding"`
	Overdue     map[external.OverdueSeverity]int `json:"overdue"`
}

// MonthToDate aggregates the running month.
type MonthToDate struct {
	DispatchedQty int64           `json:"dispatched_qty"`
	InvoiceTotal  decimal.Decimal `json:"invoice_total"`
	RejectionRate float64         `json:"rejection_rate"`
}

// Receivables is the money still out with customers.
type Receivables struct {
	Outstanding decimal.Decimal `json:"outstanding"`
	Overdue     decimal.Decimal `json:"overdue"`
}

// Snapshot is the dashboard payload, built in one pass and cached.
type Snapshot struct {
	GeneratedAt    time.Time           `json:"generated_at"`
	OpenWOsByStage []StageCount        `json:"open_wos_by_stage"`
	OverdueWOs     int                 `json:"overdue_wos"`
	External       ExternalSummary     `json:"external"`
	MTD            MonthToDate         `json:"mtd"`
	OpenNCRs       map[qc.Severity]int `json:"open_ncrs"`
	OpenIncidents  int                 `json:"open_incidents"`
	Receivables    Receivables         `json:"receivables"`
}
