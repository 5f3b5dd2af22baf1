package production

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/sales"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetWO(ctx context.Context, id int64) (WorkOrder, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListWOs(ctx context.Context, filters ListFilters) ([]WorkOrder, int, error)
	StageTimeline(ctx context.Context, woID int64) ([]StageHistory, error)
}

// SalesPort provides confirmed line context for planning.
type SalesPort interface {
	LineForPlanning(ctx context.Context, lineID int64) (sales.PlanningLine, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnWorkOrderChanged(ctx context.Context, woID int64, action string)
}

// Service drives the work order workflow.
type Service struct {
	repo        RepositoryPort
	sales       SalesPort
	audit       AuditPort
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs the production service. sales, audit and integration
// may be nil.
func NewService(repo RepositoryPort, salesPort SalesPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, sales: salesPort, audit: audit, integration: integration, now: time.Now}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, woID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "work_order",
			EntityID: woID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notify(ctx context.Context, woID int64, action string) {
	if s.integration != nil {
		s.integration.OnWorkOrderChanged(ctx, woID, action)
	}
}

// CreateInput describes work order creation. When SalesOrderLineID is set
// the part comes from the line and a zero PlannedQty defaults to the line's
// open quantity.
type CreateInput struct {
	PartID           int64
	SalesOrderLineID *int64
	PlannedQty       int64
	Priority         Priority
	DueDate          time.Time
	Notes            *string
}

// BatchInput reports one production run. IdempotencyKey, when set, is
// claimed inside the booking transaction so retried submissions no-op.
type BatchInput struct {
	Qty            int64
	Machine        string
	Operator       string
	ProducedAt     time.Time
	IdempotencyKey string
}

// Create opens a work order in PLANNED.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateInput) (WorkOrder, error) {
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	if !input.Priority.Valid() {
		return WorkOrder{}, fmt.Errorf("%w: unknown priority %q", shared.ErrValidation, input.Priority)
	}

	if input.SalesOrderLineID != nil {
		line, err := s.sales.LineForPlanning(ctx, *input.SalesOrderLineID)
		if err != nil {
			return WorkOrder{}, fmt.Errorf("sales line %d: %w", *input.SalesOrderLineID, err)
		}
		input.PartID = line.PartID
		if input.PlannedQty == 0 {
			input.PlannedQty = line.OpenQty
		}
		if input.DueDate.IsZero() && line.DueDate != nil {
			input.DueDate = *line.DueDate
		}
	}

	if input.PartID <= 0 {
		return WorkOrder{}, fmt.Errorf("%w: part is required", shared.ErrValidation)
	}
	if input.PlannedQty <= 0 {
		return WorkOrder{}, fmt.Errorf("%w: planned quantity must be positive", shared.ErrValidation)
	}
	if input.DueDate.IsZero() {
		return WorkOrder{}, fmt.Errorf("%w: due date is required", shared.ErrValidation)
	}

	var woID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "WO", s.now())
		if err != nil {
			return fmt.Errorf("allocate WO number: %w", err)
		}
		id, err := tx.InsertWO(ctx, WorkOrder{
			WONumber:         number,
			PartID:           input.PartID,
			SalesOrderLineID: input.SalesOrderLineID,
			PlannedQty:       input.PlannedQty,
			Priority:         input.Priority,
			DueDate:          input.DueDate,
			Stage:            StagePlanned,
			Notes:            input.Notes,
			CreatedBy:        actorID,
		})
		if err != nil {
			return err
		}
		woID = id
		return nil
	})
	if err != nil {
		return WorkOrder{}, err
	}

	s.recordAudit(ctx, actorID, "production:wo_create", woID, map[string]any{"planned_qty": input.PlannedQty})
	s.notify(ctx, woID, "created")
	return s.repo.GetWO(ctx, woID)
}

// AdvanceStage moves a work order to a later stage.
func (s *Service) AdvanceStage(ctx context.Context, actorID int64, id int64, target Stage, note *string) (WorkOrder, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.LockWO(ctx, id)
		if err != nil {
			return err
		}
		if wo.OnHold {
			return fmt.Errorf("%w: resume before advancing", ErrOnHold)
		}
		if err := ValidateAdvance(wo.Stage, target); err != nil {
			return err
		}
		return tx.UpdateStage(ctx, id, wo.Stage, target, actorID, note)
	})
	if err != nil {
		return WorkOrder{}, err
	}

	s.recordAudit(ctx, actorID, "production:wo_advance", id, map[string]any{"stage": string(target)})
	s.notify(ctx, id, "stage:"+string(target))
	return s.repo.GetWO(ctx, id)
}

// Hold pauses a work order in place.
func (s *Service) Hold(ctx context.Context, actorID int64, id int64, reason string) (WorkOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return WorkOrder{}, fmt.Errorf("%w: hold reason is required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.LockWO(ctx, id)
		if err != nil {
			return err
		}
		if wo.Stage.Terminal() {
			return fmt.Errorf("%w: work order is %s", ErrInvalidState, wo.Stage)
		}
		if wo.OnHold {
			return fmt.Errorf("%w: already on hold", ErrInvalidState)
		}
		return tx.SetHold(ctx, id, true, &reason)
	})
	if err != nil {
		return WorkOrder{}, err
	}
	s.recordAudit(ctx, actorID, "production:wo_hold", id, map[string]any{"reason": reason})
	s.notify(ctx, id, "hold")
	return s.repo.GetWO(ctx, id)
}

// Resume lifts a hold; the stage is unchanged.
func (s *Service) Resume(ctx context.Context, actorID int64, id int64) (WorkOrder, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.LockWO(ctx, id)
		if err != nil {
			return err
		}
		if !wo.OnHold {
			return fmt.Errorf("%w: not on hold", ErrInvalidState)
		}
		return tx.SetHold(ctx, id, false, nil)
	})
	if err != nil {
		return WorkOrder{}, err
	}
	s.recordAudit(ctx, actorID, "production:wo_resume", id, nil)
	s.notify(ctx, id, "resume")
	return s.repo.GetWO(ctx, id)
}

// Cancel voids a work order before packing has begun.
func (s *Service) Cancel(ctx context.Context, actorID int64, id int64, note *string) (WorkOrder, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.LockWO(ctx, id)
		if err != nil {
			return err
		}
		if wo.Stage.Terminal() {
			return fmt.Errorf("%w: work order is %s", ErrInvalidState, wo.Stage)
		}
		if wo.Stage.Index() >= StagePacking.Index() {
			return fmt.Errorf("%w: packing has begun", ErrInvalidState)
		}
		return tx.UpdateStage(ctx, id, wo.Stage, StageCancelled, actorID, note)
	})
	if err != nil {
		return WorkOrder{}, err
	}
	s.recordAudit(ctx, actorID, "production:wo_cancel", id, nil)
	s.notify(ctx, id, "cancelled")
	return s.repo.GetWO(ctx, id)
}

// ReportProduction books a batch against an order in IN_PRODUCTION.
func (s *Service) ReportProduction(ctx context.Context, actorID int64, woID int64, input BatchInput) (WorkOrder, error) {
	if input.Qty <= 0 {
		return WorkOrder{}, fmt.Errorf("%w: produced quantity must be positive", shared.ErrValidation)
	}
	if input.ProducedAt.IsZero() {
		input.ProducedAt = s.now()
	}

	var batchID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Claimed inside the transaction, so a failed report releases the key.
		if input.IdempotencyKey != "" {
			key := fmt.Sprintf("BATCH:%d:%s", woID, input.IdempotencyKey)
			if err := tx.ClaimIdempotencyKey(ctx, key, "production.batch"); err != nil {
				return err
			}
		}
		wo, err := tx.LockWO(ctx, woID)
		if err != nil {
			return err
		}
		if wo.OnHold {
			return fmt.Errorf("%w: no production while held", ErrOnHold)
		}
		if wo.Stage != StageInProduction {
			return fmt.Errorf("%w: work order is in %s", ErrInvalidState, wo.Stage)
		}
		produced, err := tx.ProducedTotal(ctx, woID)
		if err != nil {
			return err
		}
		if produced+input.Qty > MaxProducible(wo.PlannedQty) {
			return fmt.Errorf("%w: %d planned, %d already produced", ErrOverPlanned, wo.PlannedQty, produced)
		}
		count, err := tx.BatchCount(ctx, woID)
		if err != nil {
			return err
		}
		id, err := tx.InsertBatch(ctx, Batch{
			BatchNumber: wo.WONumber + "-B" + strconv.Itoa(count+1),
			WorkOrderID: woID,
			ProducedQty: input.Qty,
			Machine:     strings.TrimSpace(input.Machine),
			Operator:    strings.TrimSpace(input.Operator),
			ProducedAt:  input.ProducedAt,
		})
		if err != nil {
			return err
		}
		batchID = id
		return nil
	})
	if err != nil {
		return WorkOrder{}, err
	}

	s.recordAudit(ctx, actorID, "production:batch_report", woID, map[string]any{"batch_id": batchID, "qty": input.Qty})
	s.notify(ctx, woID, "batch")
	return s.repo.GetWO(ctx, woID)
}

// Get fetches a work order with batches and summary.
func (s *Service) Get(ctx context.Context, id int64) (WorkOrder, error) {
	return s.repo.GetWO(ctx, id)
}

// GetBatch fetches one batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// List returns work orders matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]WorkOrder, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit < 1 || filters.Limit > 200 {
		filters.Limit = 50
	}
	return s.repo.ListWOs(ctx, filters)
}

// Timeline returns the stage history of a work order.
func (s *Service) Timeline(ctx context.Context, woID int64) ([]StageHistory, error) {
	if _, err := s.repo.GetWO(ctx, woID); err != nil {
		return nil, err
	}
	return s.repo.StageTimeline(ctx, woID)
}
