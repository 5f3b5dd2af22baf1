package qc

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing inspection or NCR.
var ErrNotFound = errors.New("qc: not found")

// ErrInvalidState indicates an operation against the wrong record state.
var ErrInvalidState = errors.New("qc: invalid state")

// ErrOverProduced indicates a tally update that would exceed the batch's
// produced quantity.
var ErrOverProduced = errors.New("qc: approved+rejected exceeds produced")

// ErrApprovalRequired indicates a close attempt on a critical NCR without a
// counter-signature from a second operator.
var ErrApprovalRequired = errors.New("qc: approval required")

// InspectionType classifies where in the flow the check happens.
type InspectionType string

const (
	TypeMaterial   InspectionType = "MATERIAL"
	TypeFirstPiece InspectionType = "FIRST_PIECE"
	TypeInProcess  InspectionType = "IN_PROCESS"
	TypeFinal      InspectionType = "FINAL"
)

// Valid reports whether t is a known inspection type.
func (t InspectionType) Valid() bool {
	switch t {
	case TypeMaterial, TypeFirstPiece, TypeInProcess, TypeFinal:
		return true
	}
	return false
}

// Result summarises the outcome of an inspection. It is derived from the
// quantities, never entered by the inspector.
type Result string

const (
	ResultPass        Result = "PASS"
	ResultFail        Result = "FAIL"
	ResultConditional Result = "CONDITIONAL"
)

func resultFor(approved, rejected int64) Result {
	switch {
	case rejected == 0:
		return ResultPass
	case approved == 0:
		return ResultFail
	default:
		return ResultConditional
	}
}

// Inspection is a single quality check against a work order, optionally
// pinned to a production batch. FINAL inspections always carry a batch and
// feed its QC tallies.
type Inspection struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	WOID        int64          `json:"wo_id"`
	BatchID     *int64         `json:"batch_id,omitempty"`
	Type        InspectionType `json:"type"`
	CheckedQty  int64          `json:"checked_qty"`
	ApprovedQty int64          `json:"approved_qty"`
	RejectedQty int64          `json:"rejected_qty"`
	DefectCode  string         `json:"defect_code,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Result      Result         `json:"result"`
	InspectorID int64          `json:"inspector_id"`
	InspectedAt time.Time      `json:"inspected_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RejectionRate returns rejected/checked as a fraction.
func (i Inspection) RejectionRate() float64 {
	if i.CheckedQty <= 0 {
		return 0
	}
	return float64(i.RejectedQty) / float64(i.CheckedQty)
}

// Severity grades an NCR.
type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// DefaultNCRThreshold is the rejection-rate fraction at which a FINAL
// inspection auto-raises an NCR.
const DefaultNCRThreshold = 0.05

// severityFor grades an auto-raised NCR from the rejection rate. The caller
// has already established rate >= threshold.
func severityFor(rate, threshold float64) Severity {
	switch {
	case rate >= 4*threshold:
		return SeverityCritical
	case rate >= 2*threshold:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// Disposition records what happens to the non-conforming material.
type Disposition string

const (
	DispositionRework          Disposition = "REWORK"
	DispositionScrap           Disposition = "SCRAP"
	DispositionUseAsIs         Disposition = "USE_AS_IS"
	DispositionReturnToPartner Disposition = "RETURN_TO_PARTNER"
)

// Valid reports whether d is a known disposition.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionRework, DispositionScrap, DispositionUseAsIs, DispositionReturnToPartner:
		return true
	}
	return false
}

// NCRStatus walks OPEN -> UNDER_REVIEW -> CORRECTIVE_ACTION -> CLOSED.
type NCRStatus string

const (
	NCROpen             NCRStatus = "OPEN"
	NCRUnderReview      NCRStatus = "UNDER_REVIEW"
	NCRCorrectiveAction NCRStatus = "CORRECTIVE_ACTION"
	NCRClosed           NCRStatus = "CLOSED"
)

// NCR is a non-conformance report. PartnerID is set when the defect source
// is an external processor.
type NCR struct {
	ID               int64       `json:"id"`
	Number           string      `json:"number"`
	InspectionID     *int64      `json:"inspection_id,omitempty"`
	WOID             int64       `json:"wo_id"`
	PartnerID        *int64      `json:"partner_id,omitempty"`
	RejectionRate    float64     `json:"rejection_rate"`
	Severity         Severity    `json:"severity"`
	Disposition      Disposition `json:"disposition,omitempty"`
	Status           NCRStatus   `json:"status"`
	RootCause        string      `json:"root_cause,omitempty"`
	CorrectiveAction string      `json:"corrective_action,omitempty"`
	CreatedBy        int64       `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	ClosedBy         *int64      `json:"closed_by,omitempty"`
	ClosedAt         *time.Time  `json:"closed_at,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`

	// Approvals is the counter-signature trail, attached on detail reads.
	Approvals []NCRApproval `json:"approvals,omitempty"`
}

// NCRApproval is one approval-trail row, the read side of what
// shared.ApprovalRecorder writes.
type NCRApproval struct {
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// ListFilters narrows inspection listings.
type ListFilters struct {
	Page    int
	Limit   int
	WOID    int64
	BatchID int64
	Type    InspectionType
	Result  Result
}

// NCRFilters narrows NCR listings.
type NCRFilters struct {
	Page      int
	Limit     int
	WOID      int64
	PartnerID int64
	Status    NCRStatus
	Severity  Severity
}

// SummaryFilters narrows the rejection-rate summaries.
type SummaryFilters struct {
	WOID int64
	From *time.Time
	To   *time.Time
}

// WOSummary aggregates inspection quantities for one work order.
type WOSummary struct {
	WOID     int64   `json:"wo_id"`
	WONumber string  `json:"wo_number"`
	Checked  int64   `json:"checked_qty"`
	Approved int64   `json:"approved_qty"`
	Rejected int64   `json:"rejected_qty"`
	Rate     float64 `json:"rejection_rate"`
}

// PartnerSummary aggregates NCRs attributed to one external partner.
type PartnerSummary struct {
	PartnerID   int64   `json:"partner_id"`
	PartnerName string  `json:"partner_name"`
	NCRCount    int64   `json:"ncr_count"`
	OpenCount   int64   `json:"open_count"`
	Minor       int64   `json:"minor"`
	Major       int64   `json:"major"`
	Critical    int64   `json:"critical"`
	AvgRate     float64 `json:"avg_rejection_rate"`
}
