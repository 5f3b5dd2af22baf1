package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/izzyftw1/rvi-sub014/internal/external"
	jobmetrics "github.com/izzyftw1/rvi-sub014/internal/jobs"
	"github.com/izzyftw1/rvi-sub014/internal/realtime"
)

// OverdueReporter supplies the late-material report.
type OverdueReporter interface {
	Overdue(ctx context.Context) (external.OverdueReport, error)
}

// EventPublisher pushes scan outcomes onto the realtime stream.
type EventPublisher interface {
	Publish(ctx context.Context, event realtime.Event) error
}

// ExternalOverdueScanJob chases material parked at outside processors past its
// expected return date.
type ExternalOverdueScanJob struct {
	External OverdueReporter
	Events   EventPublisher
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewExternalOverdueScanJob wires dependencies for the overdue scan handler.
func NewExternalOverdueScanJob(externalSvc OverdueReporter, events EventPublisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExternalOverdueScanJob {
	return &ExternalOverdueScanJob{
		External: externalSvc,
		Events:   events,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the overdue scan.
func (j *ExternalOverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.External == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload ExternalOverdueScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskExternalOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	report, err := j.External.Overdue(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("build overdue report", slog.Any("error", err))
		return resultErr
	}

	counts := map[external.OverdueSeverity]map[int64]int{}
	flagged := 0
	for _, m := range report.Moves {
		if payload.PartnerID > 0 && m.PartnerID != payload.PartnerID {
			continue
		}
		j.log().Warn("material overdue at partner",
			slog.String("challan", m.ChallanNumber),
			slog.String("wo", m.WONumber),
			slog.String("partner", m.PartnerName),
			slog.String("process", m.Process),
			slog.Int64("outstanding_qty", m.Outstanding()),
			slog.Int("days_late", m.DaysLate),
			slog.String("severity", string(m.SeverityFlag)),
		)
		flagged++
		byPartner, ok := counts[m.SeverityFlag]
		if !ok {
			byPartner = map[int64]int{}
			counts[m.SeverityFlag] = byPartner
		}
		byPartner[m.PartnerID]++
	}
	for severity, partners := range counts {
		for partnerID, count := range partners {
			j.metrics().SetOverdueMoves(string(severity), partnerID, count)
		}
	}

	if j.Events != nil {
		event := realtime.Event{
			Module: realtime.ModuleExternal,
			Entity: "overdue_report",
			Action: "refreshed",
			At:     j.now(),
		}
		if err := j.Events.Publish(ctx, event); err != nil {
			j.log().Warn("publish overdue event", slog.Any("error", err))
		}
	}

	j.log().Info("completed overdue scan",
		slog.Int("flagged", flagged),
		slog.Int("partners", len(report.Partners)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ExternalOverdueScanJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExternalOverdueScanJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExternalOverdueScan))
	}
	return slog.Default().With(slog.String("job", TaskExternalOverdueScan))
}

func (j *ExternalOverdueScanJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ExternalOverdueScanJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
