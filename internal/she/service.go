package she

import (
	"context"
	"fmt"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort is the storage surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Incident, error)
	List(ctx context.Context, filters ListFilters) ([]Incident, int, error)
	MonthCounts(ctx context.Context, from, to time.Time) ([]MonthCount, error)
	LastInjuryAt(ctx context.Context) (*time.Time, error)
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives change notifications.
type IntegrationHandler interface {
	OnIncidentChanged(ctx context.Context, incidentID int64, action string)
}

// Service owns the incident lifecycle.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, integration: integration, now: time.Now}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "she_incident",
		EntityID: entityID,
		Meta:     meta,
		At:       time.Now().UTC(),
	})
}

func (s *Service) notify(ctx context.Context, incidentID int64, action string) {
	if s.integration == nil {
		return
	}
	s.integration.OnIncidentChanged(ctx, incidentID, action)
}

// ReportInput carries a new incident report.
type ReportInput struct {
	Type         IncidentType
	Area         string
	Severity     Severity
	Description  string
	OccurredAt   *time.Time
	LostTimeDays int
}

// Report files a new incident in OPEN status.
func (s *Service) Report(ctx context.Context, actorID int64, input ReportInput) (Incident, error) {
	if !input.Type.Valid() {
		return Incident{}, fmt.Errorf("%w: unknown incident type %q", shared.ErrValidation, input.Type)
	}
	if !input.Severity.Valid() {
		return Incident{}, fmt.Errorf("%w: unknown severity %q", shared.ErrValidation, input.Severity)
	}
	if input.LostTimeDays < 0 {
		return Incident{}, fmt.Errorf("%w: lost time days cannot be negative", shared.ErrValidation)
	}
	if input.LostTimeDays > 0 && input.Type != TypeInjury {
		return Incident{}, fmt.Errorf("%w: lost time days apply to INJURY incidents only", shared.ErrValidation)
	}
	occurred := s.now()
	if input.OccurredAt != nil {
		occurred = *input.OccurredAt
	}
	if occurred.After(s.now()) {
		return Incident{}, fmt.Errorf("%w: occurred_at cannot be in the future", shared.ErrValidation)
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "SHE", occurred)
		if err != nil {
			return err
		}
		id, err = tx.InsertIncident(ctx, Incident{
			Number:       number,
			Type:         input.Type,
			Area:         input.Area,
			Severity:     input.Severity,
			Description:  input.Description,
			ReportedBy:   actorID,
			OccurredAt:   occurred,
			Status:       StatusOpen,
			LostTimeDays: input.LostTimeDays,
		})
		return err
	})
	if err != nil {
		return Incident{}, err
	}

	s.recordAudit(ctx, actorID, "she:incident_report", id, map[string]any{
		"type":     string(input.Type),
		"severity": string(input.Severity),
		"area":     input.Area,
	})
	s.notify(ctx, id, "reported")
	return s.repo.Get(ctx, id)
}

// BeginInvestigation moves an OPEN incident to INVESTIGATION.
func (s *Service) BeginInvestigation(ctx context.Context, actorID, incidentID int64) (Incident, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inc, err := tx.LockIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != StatusOpen {
			return fmt.Errorf("%w: incident %s is %s", ErrInvalidState, inc.Number, inc.Status)
		}
		return tx.SetStatus(ctx, incidentID, StatusInvestigation)
	})
	if err != nil {
		return Incident{}, err
	}

	s.recordAudit(ctx, actorID, "she:incident_investigate", incidentID, nil)
	s.notify(ctx, incidentID, "investigation")
	return s.repo.Get(ctx, incidentID)
}

// RecordAction attaches a corrective action and parks the incident in
// ACTION_PENDING until someone closes it.
func (s *Service) RecordAction(ctx context.Context, actorID, incidentID int64, action string) (Incident, error) {
	if action == "" {
		return Incident{}, fmt.Errorf("%w: corrective action text is required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inc, err := tx.LockIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != StatusInvestigation && inc.Status != StatusActionPending {
			return fmt.Errorf("%w: incident %s is %s", ErrInvalidState, inc.Number, inc.Status)
		}
		return tx.RecordAction(ctx, incidentID, action)
	})
	if err != nil {
		return Incident{}, err
	}

	s.recordAudit(ctx, actorID, "she:incident_action", incidentID, map[string]any{"action": action})
	s.notify(ctx, incidentID, "action_recorded")
	return s.repo.Get(ctx, incidentID)
}

// Close finishes an incident. MAJOR and CRITICAL incidents must carry a
// corrective action before they can close.
func (s *Service) Close(ctx context.Context, actorID, incidentID int64) (Incident, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inc, err := tx.LockIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status == StatusClosed {
			return fmt.Errorf("%w: incident %s is already closed", ErrInvalidState, inc.Number)
		}
		if inc.Severity != SeverityMinor && inc.CorrectiveAction == nil {
			return fmt.Errorf("%w: %s incident %s needs a corrective action before closing", ErrActionRequired, inc.Severity, inc.Number)
		}
		return tx.CloseIncident(ctx, incidentID, actorID, s.now())
	})
	if err != nil {
		return Incident{}, err
	}

	s.recordAudit(ctx, actorID, "she:incident_close", incidentID, nil)
	s.notify(ctx, incidentID, "closed")
	return s.repo.Get(ctx, incidentID)
}

// Get fetches one incident.
func (s *Service) Get(ctx context.Context, id int64) (Incident, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered page of incidents.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Incident, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 200 {
		filters.Limit = 200
	}
	return s.repo.List(ctx, filters)
}

// Stats builds the monthly safety scoreboard for the given calendar month.
func (s *Service) Stats(ctx context.Context, year int, month time.Month) (MonthlyStats, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	counts, err := s.repo.MonthCounts(ctx, from, to)
	if err != nil {
		return MonthlyStats{}, err
	}

	stats := MonthlyStats{
		Month:      from.Format("2006-01"),
		ByType:     map[IncidentType]int{},
		BySeverity: map[Severity]int{},
	}
	for _, mc := range counts {
		stats.Total += mc.Count
		stats.ByType[mc.Type] += mc.Count
		stats.BySeverity[mc.Severity] += mc.Count
		stats.LostTimeDays += mc.LostTimeDays
	}

	lastInjury, err := s.repo.LastInjuryAt(ctx)
	if err != nil {
		return MonthlyStats{}, err
	}
	if lastInjury != nil {
		days := int(s.now().Sub(*lastInjury).Hours() / 24)
		if days < 0 {
			days = 0
		}
		stats.DaysSinceLastInjury = &days
	}
	return stats, nil
}
