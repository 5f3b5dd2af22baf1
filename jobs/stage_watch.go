package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/izzyftw1/rvi-sub014/internal/jobs"
	"github.com/izzyftw1/rvi-sub014/internal/production"
)

// defaultStageThresholdDays is how long a work order may sit in one stage
// before the watch flags it.
const defaultStageThresholdDays = 3

// ProductionScanner finds work orders that stopped moving.
type ProductionScanner interface {
	StaleStages(ctx context.Context, thresholdDays int) ([]production.WorkOrder, error)
	ListWOs(ctx context.Context, filters production.ListFilters) ([]production.WorkOrder, int, error)
}

// StageWatchJob flags work orders past their due date or parked in one stage.
type StageWatchJob struct {
	Production ProductionScanner
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewStageWatchJob wires dependencies for the stage watch handler.
func NewStageWatchJob(productionRepo ProductionScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *StageWatchJob {
	return &StageWatchJob{
		Production: productionRepo,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the stage watch.
func (j *StageWatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Production == nil {
		return errors.New("stage watch: handler not configured")
	}
	var payload StageWatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ThresholdDays <= 0 {
		payload.ThresholdDays = defaultStageThresholdDays
	}

	tracker := j.metrics().Track(TaskProductionStageWatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.log().With(slog.Int("threshold_days", payload.ThresholdDays))

	stale, err := j.Production.StaleStages(ctx, payload.ThresholdDays)
	if err != nil {
		resultErr = err
		logger.Error("scan stale stages", slog.Any("error", err))
		return resultErr
	}
	perStage := map[production.Stage]int{}
	flagged := map[int64]bool{}
	for _, wo := range stale {
		days := int(start.Sub(wo.StageEnteredAt).Hours() / 24)
		logger.Warn("work order parked in stage",
			slog.String("wo", wo.WONumber),
			slog.String("stage", string(wo.Stage)),
			slog.Int("days_in_stage", days),
			slog.Bool("on_hold", wo.OnHold),
		)
		perStage[wo.Stage]++
		flagged[wo.ID] = true
	}
	for stage, count := range perStage {
		j.metrics().SetStaleWorkOrders(string(stage), count)
	}

	overdue, _, err := j.Production.ListWOs(ctx, production.ListFilters{Overdue: true})
	if err != nil {
		resultErr = err
		logger.Error("scan overdue work orders", slog.Any("error", err))
		return resultErr
	}
	pastDue := 0
	for _, wo := range overdue {
		pastDue++
		if flagged[wo.ID] {
			continue
		}
		logger.Warn("work order past due date",
			slog.String("wo", wo.WONumber),
			slog.String("stage", string(wo.Stage)),
			slog.String("due_date", wo.DueDate.Format("2006-01-02")),
		)
	}

	logger.Info("completed stage watch",
		slog.Int("stale", len(stale)),
		slog.Int("past_due", pastDue),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *StageWatchJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StageWatchJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProductionStageWatch))
	}
	return slog.Default().With(slog.String("job", TaskProductionStageWatch))
}

func (j *StageWatchJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *StageWatchJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
