package she

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testClock = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

type memoryRepo struct {
	incidents map[int64]Incident
	nextID    int64
	seq       int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{incidents: map[int64]Incident{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Incident, error) {
	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	return inc, nil
}

func (m *memoryRepo) List(_ context.Context, filters ListFilters) ([]Incident, int, error) {
	var out []Incident
	for id := int64(1); id <= m.nextID; id++ {
		inc, ok := m.incidents[id]
		if !ok {
			continue
		}
		if filters.Type != "" && inc.Type != filters.Type {
			continue
		}
		if filters.Severity != "" && inc.Severity != filters.Severity {
			continue
		}
		if filters.Status != "" && inc.Status != filters.Status {
			continue
		}
		if filters.Area != "" && !strings.Contains(strings.ToLower(inc.Area), strings.ToLower(filters.Area)) {
			continue
		}
		if filters.From != nil && inc.OccurredAt.Before(*filters.From) {
			continue
		}
		if filters.To != nil && inc.OccurredAt.After(*filters.To) {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, len(out), nil
}

func (m *memoryRepo) MonthCounts(_ context.Context, from, to time.Time) ([]MonthCount, error) {
	cells := map[[2]string]*MonthCount{}
	for _, inc := range m.incidents {
		if inc.OccurredAt.Before(from) || !inc.OccurredAt.Before(to) {
			continue
		}
		key := [2]string{string(inc.Type), string(inc.Severity)}
		cell, ok := cells[key]
		if !ok {
			cell = &MonthCount{Type: inc.Type, Severity: inc.Severity}
			cells[key] = cell
		}
		cell.Count++
		cell.LostTimeDays += int64(inc.LostTimeDays)
	}
	var out []MonthCount
	for _, cell := range cells {
		out = append(out, *cell)
	}
	return out, nil
}

func (m *memoryRepo) LastInjuryAt(_ context.Context) (*time.Time, error) {
	var last *time.Time
	for _, inc := range m.incidents {
		if inc.Type != TypeInjury {
			continue
		}
		at := inc.OccurredAt
		if last == nil || at.After(*last) {
			last = &at
		}
	}
	return last, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) NextDocNumber(_ context.Context, prefix string, date time.Time) (string, error) {
	t.repo.seq++
	return fmt.Sprintf("%s-%s-%04d", prefix, date.Format("0601"), t.repo.seq), nil
}

func (t *memoryTx) InsertIncident(_ context.Context, inc Incident) (int64, error) {
	inc.ID = t.repo.nextID
	inc.CreatedAt = testClock
	inc.UpdatedAt = testClock
	t.repo.incidents[inc.ID] = inc
	t.repo.nextID++
	return inc.ID, nil
}

func (t *memoryTx) LockIncident(_ context.Context, id int64) (Incident, error) {
	inc, ok := t.repo.incidents[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	return inc, nil
}

func (t *memoryTx) SetStatus(_ context.Context, id int64, status IncidentStatus) error {
	inc := t.repo.incidents[id]
	inc.Status = status
	t.repo.incidents[id] = inc
	return nil
}

func (t *memoryTx) RecordAction(_ context.Context, id int64, action string) error {
	inc := t.repo.incidents[id]
	inc.CorrectiveAction = &action
	inc.Status = StatusActionPending
	t.repo.incidents[id] = inc
	return nil
}

func (t *memoryTx) CloseIncident(_ context.Context, id, actorID int64, at time.Time) error {
	inc := t.repo.incidents[id]
	inc.Status = StatusClosed
	inc.ClosedBy = &actorID
	inc.ClosedAt = &at
	t.repo.incidents[id] = inc
	return nil
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return testClock }
	return svc, repo
}

func TestReportCreatesOpenIncident(t *testing.T) {
	svc, _ := newTestService()

	occurred := time.Date(2025, 8, 18, 14, 30, 0, 0, time.UTC)
	inc, err := svc.Report(context.Background(), 7, ReportInput{
		Type:        TypeNearMiss,
		Area:        "CNC Shop",
		Severity:    SeverityMinor,
		Description: "Forklift reversed without spotter near bay 3",
		OccurredAt:  &occurred,
	})
	require.NoError(t, err)
	require.Equal(t, "SHE-2508-0001", inc.Number)
	require.Equal(t, StatusOpen, inc.Status)
	require.Equal(t, occurred, inc.OccurredAt)
	require.Equal(t, int64(7), inc.ReportedBy)
	require.Zero(t, inc.LostTimeDays)
}

func TestReportDefaultsOccurrenceToNow(t *testing.T) {
	svc, _ := newTestService()

	inc, err := svc.Report(context.Background(), 7, ReportInput{
		Type:        TypeProperty,
		Area:        "Stores",
		Severity:    SeverityMinor,
		Description: "Rack upright bent by pallet truck",
	})
	require.NoError(t, err)
	require.Equal(t, testClock, inc.OccurredAt)
}

func TestReportValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Report(ctx, 7, ReportInput{Type: "MISHAP", Severity: SeverityMinor, Description: "x"})
	require.Error(t, err)

	_, err = svc.Report(ctx, 7, ReportInput{Type: TypeFire, Severity: "HUGE", Description: "x"})
	require.Error(t, err)

	_, err = svc.Report(ctx, 7, ReportInput{Type: TypeNearMiss, Severity: SeverityMinor, Description: "x", LostTimeDays: 2})
	require.ErrorContains(t, err, "INJURY")

	_, err = svc.Report(ctx, 7, ReportInput{Type: TypeInjury, Severity: SeverityMajor, Description: "x", LostTimeDays: -1})
	require.Error(t, err)

	future := testClock.Add(time.Hour)
	_, err = svc.Report(ctx, 7, ReportInput{Type: TypeInjury, Severity: SeverityMajor, Description: "x", OccurredAt: &future})
	require.ErrorContains(t, err, "future")
}

func TestMinorClosesWithoutAction(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inc, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeNearMiss,
		Area:        "Plating",
		Severity:    SeverityMinor,
		Description: "Spill contained at tank 2",
	})
	require.NoError(t, err)

	closed, err := svc.Close(ctx, 9, inc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedBy)
	require.Equal(t, int64(9), *closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, testClock, *closed.ClosedAt)
}

func TestMajorNeedsActionBeforeClose(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inc, err := svc.Report(ctx, 7, ReportInput{
		Type:         TypeInjury,
		Area:         "Press Shop",
		Severity:     SeverityMajor,
		Description:  "Hand caught during die change",
		LostTimeDays: 5,
	})
	require.NoError(t, err)

	_, err = svc.Close(ctx, 9, inc.ID)
	require.ErrorIs(t, err, ErrActionRequired)

	inv, err := svc.BeginInvestigation(ctx, 9, inc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInvestigation, inv.Status)

	_, err = svc.Close(ctx, 9, inc.ID)
	require.ErrorIs(t, err, ErrActionRequired)

	acted, err := svc.RecordAction(ctx, 9, inc.ID, "Interlock guard fitted; die change SOP re-issued")
	require.NoError(t, err)
	require.Equal(t, StatusActionPending, acted.Status)
	require.NotNil(t, acted.CorrectiveAction)

	closed, err := svc.Close(ctx, 9, inc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
}

func TestInvestigateOnlyFromOpen(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inc, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeEnvironment,
		Area:        "ETP",
		Severity:    SeverityMajor,
		Description: "Effluent pH out of band for 40 minutes",
	})
	require.NoError(t, err)

	_, err = svc.BeginInvestigation(ctx, 9, inc.ID)
	require.NoError(t, err)

	_, err = svc.BeginInvestigation(ctx, 9, inc.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestActionNeedsInvestigation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inc, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeFire,
		Area:        "Paint Booth",
		Severity:    SeverityCritical,
		Description: "Flash fire at solvent bench",
	})
	require.NoError(t, err)

	_, err = svc.RecordAction(ctx, 9, inc.ID, "Solvent storage moved out of booth")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.RecordAction(ctx, 9, inc.ID, "")
	require.Error(t, err)
}

func TestCloseIsTerminal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inc, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeNearMiss,
		Area:        "Dispatch Yard",
		Severity:    SeverityMinor,
		Description: "Unsecured load spotted before truck left",
	})
	require.NoError(t, err)

	_, err = svc.Close(ctx, 9, inc.ID)
	require.NoError(t, err)

	_, err = svc.Close(ctx, 9, inc.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.BeginInvestigation(ctx, 9, inc.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStatsScoreboard(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	report := func(typ IncidentType, sev Severity, day int, lost int) {
		occurred := time.Date(2025, 8, day, 9, 0, 0, 0, time.UTC)
		_, err := svc.Report(ctx, 7, ReportInput{
			Type:         typ,
			Area:         "Plant",
			Severity:     sev,
			Description:  "scoreboard seed",
			OccurredAt:   &occurred,
			LostTimeDays: lost,
		})
		require.NoError(t, err)
	}
	report(TypeInjury, SeverityMajor, 5, 3)
	report(TypeInjury, SeverityMinor, 12, 1)
	report(TypeNearMiss, SeverityMinor, 15, 0)

	// Previous month, must not count toward August.
	july := time.Date(2025, 7, 30, 9, 0, 0, 0, time.UTC)
	_, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeFire,
		Area:        "Plant",
		Severity:    SeverityCritical,
		Description: "july seed",
		OccurredAt:  &july,
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, 2025, time.August)
	require.NoError(t, err)
	require.Equal(t, "2025-08", stats.Month)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.ByType[TypeInjury])
	require.Equal(t, 1, stats.ByType[TypeNearMiss])
	require.Equal(t, 1, stats.BySeverity[SeverityMajor])
	require.Equal(t, 2, stats.BySeverity[SeverityMinor])
	require.Equal(t, int64(4), stats.LostTimeDays)
	require.NotNil(t, stats.DaysSinceLastInjury)
	require.Equal(t, 8, *stats.DaysSinceLastInjury)
}

func TestStatsWithoutInjuries(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	inc, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeNearMiss,
		Area:        "Stores",
		Severity:    SeverityMinor,
		Description: "ladder left against live rack",
	})
	require.NoError(t, err)
	require.NotZero(t, inc.ID)

	stats, err := svc.Stats(ctx, 2025, time.August)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Nil(t, stats.DaysSinceLastInjury)
}

func TestListFiltersByStatusAndArea(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Report(ctx, 7, ReportInput{
		Type:        TypeNearMiss,
		Area:        "CNC Shop",
		Severity:    SeverityMinor,
		Description: "coolant on walkway",
	})
	require.NoError(t, err)

	_, err = svc.Report(ctx, 7, ReportInput{
		Type:        TypeProperty,
		Area:        "Stores",
		Severity:    SeverityMinor,
		Description: "rack damage",
	})
	require.NoError(t, err)

	_, err = svc.Close(ctx, 9, first.ID)
	require.NoError(t, err)

	open, total, err := svc.List(ctx, ListFilters{Status: StatusOpen})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Stores", open[0].Area)

	cnc, total, err := svc.List(ctx, ListFilters{Area: "cnc"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, first.ID, cnc[0].ID)
}
