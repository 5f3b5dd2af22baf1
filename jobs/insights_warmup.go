package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/izzyftw1/rvi-sub014/internal/insights"
	jobmetrics "github.com/izzyftw1/rvi-sub014/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// warmupTimeout caps one snapshot rebuild so a slow query cannot wedge the
// hourly schedule.
const warmupTimeout = 30 * time.Second

// SnapshotBuilder rebuilds the cached dashboard snapshot.
type SnapshotBuilder interface {
	Rebuild(ctx context.Context) (insights.Snapshot, error)
}

// InsightsWarmupJob keeps the dashboard snapshot hot between requests.
type InsightsWarmupJob struct {
	Insights SnapshotBuilder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewInsightsWarmupJob wires dependencies for the warmup handler.
func NewInsightsWarmupJob(insightsSvc SnapshotBuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *InsightsWarmupJob {
	return &InsightsWarmupJob{
		Insights: insightsSvc,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle rebuilds the dashboard snapshot into the cache.
func (j *InsightsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Insights == nil {
		return errors.New("insights warmup: handler not configured")
	}
	var payload InsightsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInsightsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	snap, err := j.Insights.Rebuild(warmCtx)
	if err != nil {
		resultErr = err
		j.log().Error("rebuild dashboard snapshot", slog.Any("error", err))
		return resultErr
	}

	j.log().Info("completed dashboard warmup",
		slog.Int("open_wo_stages", len(snap.OpenWOsByStage)),
		slog.Int("overdue_wos", snap.OverdueWOs),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *InsightsWarmupJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InsightsWarmupJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInsightsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskInsightsWarmup))
}

func (j *InsightsWarmupJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *InsightsWarmupJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
