package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/izzyftw1/rvi-sub014/internal/finance"
	jobmetrics "github.com/izzyftw1/rvi-sub014/internal/jobs"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// ledgerLockTTL bounds how long a crashed run can keep the weekly
// reconciliation locked out.
const ledgerLockTTL = 30 * time.Minute

// LedgerVerifier recomputes invoice balances against recorded payments.
type LedgerVerifier interface {
	VerifyLedger(ctx context.Context) ([]finance.Drift, error)
}

// LedgerIntegrityJob reconciles the invoice ledger once a week. A redis lock
// keeps overlapping runs from double-reporting.
type LedgerIntegrityJob struct {
	Finance LedgerVerifier
	Locker  *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob wires dependencies for the reconciliation handler.
func NewLedgerIntegrityJob(financeSvc LedgerVerifier, locker *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Finance: financeSvc,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the ledger reconciliation.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Finance == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	if j.Locker != nil {
		key := shared.JobLockKey(TaskFinanceLedgerIntegrity)
		acquired, err := j.Locker.SetNX(ctx, key, j.now().Format(time.RFC3339), ledgerLockTTL).Result()
		if err != nil {
			return err
		}
		if !acquired {
			j.log().Info("skipping run, lock already held")
			return nil
		}
		defer j.Locker.Del(ctx, key)
	}

	tracker := j.metrics().Track(TaskFinanceLedgerIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	drift, err := j.Finance.VerifyLedger(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("verify ledger", slog.Any("error", err))
		return resultErr
	}
	for _, d := range drift {
		j.log().Warn("invoice balance drift",
			slog.String("invoice", d.InvoiceNumber),
			slog.String("paid_amount", d.PaidAmount.String()),
			slog.String("payment_sum", d.PaymentSum.String()),
			slog.String("delta", d.PaymentSum.Sub(d.PaidAmount).String()),
		)
	}

	j.log().Info("completed ledger integrity check",
		slog.Int("drift_rows", len(drift)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFinanceLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskFinanceLedgerIntegrity))
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LedgerIntegrityJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
