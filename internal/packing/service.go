package packing

import (
	"context"
	"fmt"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Carton, error)
	List(ctx context.Context, filters ListFilters) ([]Carton, int, error)
	Summary(ctx context.Context, woID int64) (Summary, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnCartonChanged(ctx context.Context, cartonID int64, action string)
}

// Service orchestrates carton packing.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs the packing service. audit and integration may be
// nil.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, integration: integration, now: time.Now}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, cartonID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "carton",
			EntityID: cartonID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notify(ctx context.Context, cartonID int64, action string) {
	if s.integration != nil {
		s.integration.OnCartonChanged(ctx, cartonID, action)
	}
}

// PackInput carries a new carton.
type PackInput struct {
	BatchID       int64
	Qty           int64
	NetWeightKg   *float64
	GrossWeightKg *float64
}

// Pack boxes quantity from a batch. The batch row is locked so the
// available-to-pack check and the packed-quantity bump are atomic; the first
// carton nudges the work order from FINAL_QC to PACKING, and packing out the
// full approved quantity moves it on to READY_TO_DISPATCH.
func (s *Service) Pack(ctx context.Context, actorID int64, in PackInput) (Carton, error) {
	if in.Qty <= 0 {
		return Carton{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if err := validateWeights(in.NetWeightKg, in.GrossWeightKg); err != nil {
		return Carton{}, err
	}

	packedAt := s.now().UTC()
	var cartonID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.LockBatch(ctx, in.BatchID)
		if err != nil {
			return err
		}
		wo, err := tx.LockWO(ctx, batch.WOID)
		if err != nil {
			return err
		}
		switch wo.Stage {
		case "CANCELLED", "DISPATCHED", "COMPLETED":
			return fmt.Errorf("%w: work order %s is %s", ErrInvalidState, wo.Number, wo.Stage)
		}
		if wo.OnHold {
			return fmt.Errorf("%w: %s", ErrWOHeld, wo.Number)
		}
		available := batch.ApprovedQty - batch.PackedQty
		if in.Qty > available {
			return fmt.Errorf("%w: batch %s has %d available", ErrOverPack, batch.BatchNumber, available)
		}

		number, err := tx.NextDocNumber(ctx, "CT", packedAt)
		if err != nil {
			return err
		}
		cartonID, err = tx.InsertCarton(ctx, Carton{
			CartonNumber:  number,
			WOID:          wo.ID,
			BatchID:       batch.ID,
			Qty:           in.Qty,
			NetWeightKg:   in.NetWeightKg,
			GrossWeightKg: in.GrossWeightKg,
			Status:        StatusOpen,
			PackedBy:      actorID,
			PackedAt:      packedAt,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateBatchPacked(ctx, batch.ID, batch.PackedQty+in.Qty); err != nil {
			return err
		}

		stage := wo.Stage
		if stage == "FINAL_QC" {
			if err := tx.AdvanceWOStage(ctx, wo.ID, "FINAL_QC", "PACKING", actorID); err != nil {
				return err
			}
			stage = "PACKING"
		}
		if stage == "PACKING" {
			approved, packed, err := tx.WOPackTotals(ctx, wo.ID)
			if err != nil {
				return err
			}
			if approved > 0 && packed >= approved {
				return tx.AdvanceWOStage(ctx, wo.ID, "PACKING", "READY_TO_DISPATCH", actorID)
			}
		}
		return nil
	})
	if err != nil {
		return Carton{}, err
	}

	s.recordAudit(ctx, actorID, "packing:carton_pack", cartonID, map[string]any{
		"batch_id": in.BatchID, "qty": in.Qty,
	})
	s.notify(ctx, cartonID, "packed")
	return s.repo.Get(ctx, cartonID)
}

// Close seals a carton. Net and gross weights become mandatory here.
func (s *Service) Close(ctx context.Context, actorID, cartonID int64, netKg, grossKg float64) (Carton, error) {
	if netKg <= 0 || grossKg <= 0 {
		return Carton{}, fmt.Errorf("%w: weights must be positive", shared.ErrValidation)
	}
	if grossKg < netKg {
		return Carton{}, fmt.Errorf("%w: gross weight below net weight", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockCarton(ctx, cartonID)
		if err != nil {
			return err
		}
		if c.Status != StatusOpen {
			return fmt.Errorf("%w: carton %s is %s", ErrInvalidState, c.CartonNumber, c.Status)
		}
		return tx.CloseCarton(ctx, cartonID, netKg, grossKg)
	})
	if err != nil {
		return Carton{}, err
	}
	s.recordAudit(ctx, actorID, "packing:carton_close", cartonID, nil)
	s.notify(ctx, cartonID, "closed")
	return s.repo.Get(ctx, cartonID)
}

// Void scraps a carton before dispatch and returns its quantity to the
// batch.
func (s *Service) Void(ctx context.Context, actorID, cartonID int64) (Carton, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockCarton(ctx, cartonID)
		if err != nil {
			return err
		}
		if c.Status == StatusDispatched || c.Status == StatusVoid {
			return fmt.Errorf("%w: carton %s is %s", ErrInvalidState, c.CartonNumber, c.Status)
		}
		batch, err := tx.LockBatch(ctx, c.BatchID)
		if err != nil {
			return err
		}
		packed := batch.PackedQty - c.Qty
		if packed < 0 {
			packed = 0
		}
		if err := tx.UpdateBatchPacked(ctx, batch.ID, packed); err != nil {
			return err
		}
		return tx.SetCartonStatus(ctx, cartonID, StatusVoid)
	})
	if err != nil {
		return Carton{}, err
	}
	s.recordAudit(ctx, actorID, "packing:carton_void", cartonID, nil)
	s.notify(ctx, cartonID, "voided")
	return s.repo.Get(ctx, cartonID)
}

// Get fetches one carton.
func (s *Service) Get(ctx context.Context, id int64) (Carton, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of cartons.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Carton, int, error) {
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

// WOSummary returns the packing roll-up for a work order.
func (s *Service) WOSummary(ctx context.Context, woID int64) (Summary, error) {
	return s.repo.Summary(ctx, woID)
}

func validateWeights(netKg, grossKg *float64) error {
	if netKg != nil && *netKg <= 0 {
		return fmt.Errorf("%w: net weight must be positive", shared.ErrValidation)
	}
	if grossKg != nil && *grossKg <= 0 {
		return fmt.Errorf("%w: gross weight must be positive", shared.ErrValidation)
	}
	if netKg != nil && grossKg != nil && *grossKg < *netKg {
		return fmt.Errorf("%w: gross weight below net weight", shared.ErrValidation)
	}
	return nil
}
