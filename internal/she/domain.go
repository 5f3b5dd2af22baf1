package she

import (
	"errors"
	"time"
)

// ErrNotFound indicates a missing incident.
var ErrNotFound = errors.New("she: incident not found")

// ErrInvalidState rejects a status move the flow forbids.
var ErrInvalidState = errors.New("she: invalid state")

// ErrActionRequired blocks closing a MAJOR or CRITICAL incident before a
// corrective action is on record.
var ErrActionRequired = errors.New("she: corrective action required")

// IncidentType classifies what happened.
type IncidentType string

const (
	TypeInjury      IncidentType = "INJURY"
	TypeNearMiss    IncidentType = "NEAR_MISS"
	TypeEnvironment IncidentType = "ENVIRONMENT"
	TypeFire        IncidentType = "FIRE"
	TypeProperty    IncidentType = "PROPERTY"
)

// Valid reports whether the type is known.
func (t IncidentType) Valid() bool {
	switch t {
	case TypeInjury, TypeNearMiss, TypeEnvironment, TypeFire, TypeProperty:
		return true
	}
	return false
}

// Severity grades an incident.
type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether the severity is known.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// IncidentStatus walks OPEN -> INVESTIGATION -> ACTION_PENDING -> CLOSED.
// MINOR incidents may close early; MAJOR and CRITICAL must carry a
// corrective action first.
type IncidentStatus string

const (
	StatusOpen          IncidentStatus = "OPEN"
	StatusInvestigation IncidentStatus = "INVESTIGATION"
	StatusActionPending IncidentStatus = "ACTION_PENDING"
	StatusClosed        IncidentStatus = "CLOSED"
)

// Incident is one safety, health or environment event.
type Incident struct {
	ID               int64          `json:"id"`
	Number           string         `json:"number"`
	Type             IncidentType   `json:"type"`
	Area             string         `json:"area"`
	Severity         Severity       `json:"severity"`
	Description      string         `json:"description"`
	ReportedBy       int64          `json:"reported_by"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Status           IncidentStatus `json:"status"`
	CorrectiveAction *string        `json:"corrective_action,omitempty"`
	LostTimeDays     int            `json:"lost_time_days"`
	ClosedBy         *int64         `json:"closed_by,omitempty"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ListFilters narrows incident listings.
type ListFilters struct {
	Page     int
	Limit    int
	Type     IncidentType
	Severity Severity
	Status   IncidentStatus
	Area     string
	From     *time.Time
	To       *time.Time
}

// MonthlyStats is the safety scoreboard for one calendar month.
type MonthlyStats struct {
	Month               string               `json:"month"`
	Total               int                  `json:"total"`
	ByType              map[IncidentType]int `json:"by_type"`
	BySeverity          map[Severity]int     `json:"by_severity"`
	LostTimeDays        int64                `json:"lost_time_days"`
	DaysSinceLastInjury *int                 `json:"days_since_last_injury,omitempty"`
}
