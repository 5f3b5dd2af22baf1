package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue every scheduled job runs on.
	QueueDefault = "default"

	// TaskExternalOverdueScan flags challans past their expected return date.
	TaskExternalOverdueScan = "external:overdue_scan"
	// TaskProductionStageWatch flags work orders parked in one stage too long.
	TaskProductionStageWatch = "production:stage_watch"
	// TaskInsightsWarmup rebuilds the dashboard snapshot ahead of demand.
	TaskInsightsWarmup = "insights:warmup"
	// TaskFinanceLedgerIntegrity reconciles invoice balances against payments.
	TaskFinanceLedgerIntegrity = "finance:ledger_integrity"
)

// ExternalOverdueScanPayload narrows the overdue scan to one partner when set.
type ExternalOverdueScanPayload struct {
	PartnerID int64 `json:"partner_id,omitempty"`
}

// NewExternalOverdueScanTask constructs the overdue scan task.
func NewExternalOverdueScanTask(payload ExternalOverdueScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExternalOverdueScan, body, asynq.Queue(QueueDefault)), nil
}

// StageWatchPayload tunes how long a work order may sit in one stage before
// the watch flags it. Zero falls back to the package default.
type StageWatchPayload struct {
	ThresholdDays int `json:"threshold_days,omitempty"`
}

// NewStageWatchTask constructs the stage watch task.
func NewStageWatchTask(payload StageWatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProductionStageWatch, body, asynq.Queue(QueueDefault)), nil
}

// InsightsWarmupPayload carries no options yet.
type InsightsWarmupPayload struct{}

// NewInsightsWarmupTask constructs the dashboard warmup task.
func NewInsightsWarmupTask() (*asynq.Task, error) {
	body, err := json.Marshal(InsightsWarmupPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInsightsWarmup, body, asynq.Queue(QueueDefault)), nil
}

// LedgerIntegrityPayload carries no options yet.
type LedgerIntegrityPayload struct{}

// NewLedgerIntegrityTask constructs the weekly ledger reconciliation task.
func NewLedgerIntegrityTask() (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFinanceLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}
