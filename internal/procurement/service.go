package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRPO(ctx context.Context, id int64) (RawPurchaseOrder, error)
	ListRPOs(ctx context.Context, filters ListFilters) ([]RawPurchaseOrder, int, error)
}

// SupplierPort validates the supplier partner before ordering.
type SupplierPort interface {
	IsSupplier(ctx context.Context, partnerID int64) (bool, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnRPOChanged(ctx context.Context, rpoID int64, action string)
}

// IdempotencyPort claims client-supplied tokens so replayed receipt
// submissions do not book the same delivery twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates raw-material procurement flows.
type Service struct {
	repo        RepositoryPort
	suppliers   SupplierPort
	audit       AuditPort
	integration IntegrationHandler
	idempotency IdempotencyPort
	now         func() time.Time
}

// NewService constructs the procurement service. suppliers, audit and
// integration may be nil.
func NewService(repo RepositoryPort, suppliers SupplierPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, suppliers: suppliers, audit: audit, integration: integration, now: time.Now}
}

// SetIdempotencyStore enables replay protection on receipt booking.
func (s *Service) SetIdempotencyStore(store IdempotencyPort) {
	s.idempotency = store
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, rpoID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "raw_purchase_order",
			EntityID: rpoID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notify(ctx context.Context, rpoID int64, action string) {
	if s.integration != nil {
		s.integration.OnRPOChanged(ctx, rpoID, action)
	}
}

// CreateRPOInput describes the creation payload.
type CreateRPOInput struct {
	SupplierID   int64
	MaterialSpec string
	Section      string
	OrderedKg    float64
	RatePerKg    float64
	ExpectedDate time.Time
	Notes        *string
}

// ReceiptInput describes one delivery against an order. IdempotencyKey,
// when set, is claimed before booking so retried submissions no-op.
type ReceiptInput struct {
	ReceivedKg     float64
	HeatNo         string
	MillTCNo       string
	ReceivedDate   time.Time
	Notes          *string
	IdempotencyKey string
}

// CreateRPO registers a draft order.
func (s *Service) CreateRPO(ctx context.Context, actorID int64, input CreateRPOInput) (RawPurchaseOrder, error) {
	input.MaterialSpec = strings.ToUpper(strings.TrimSpace(input.MaterialSpec))
	input.Section = strings.ToUpper(strings.TrimSpace(input.Section))
	if input.MaterialSpec == "" {
		return RawPurchaseOrder{}, fmt.Errorf("%w: material spec is required", shared.ErrValidation)
	}
	if input.OrderedKg <= 0 {
		return RawPurchaseOrder{}, fmt.Errorf("%w: ordered kg must be positive", shared.ErrValidation)
	}
	if input.RatePerKg < 0 {
		return RawPurchaseOrder{}, fmt.Errorf("%w: rate per kg must not be negative", shared.ErrValidation)
	}
	if input.ExpectedDate.IsZero() {
		return RawPurchaseOrder{}, fmt.Errorf("%w: expected date is required", shared.ErrValidation)
	}
	if s.suppliers != nil {
		ok, err := s.suppliers.IsSupplier(ctx, input.SupplierID)
		if err != nil {
			return RawPurchaseOrder{}, err
		}
		if !ok {
			return RawPurchaseOrder{}, fmt.Errorf("%w: partner %d is not a supplier", shared.ErrValidation, input.SupplierID)
		}
	}

	var rpoID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "RPO", s.now())
		if err != nil {
			return fmt.Errorf("allocate RPO number: %w", err)
		}
		id, err := tx.InsertRPO(ctx, RawPurchaseOrder{
			RPONumber:    number,
			SupplierID:   input.SupplierID,
			MaterialSpec: input.MaterialSpec,
			Section:      input.Section,
			OrderedKg:    input.OrderedKg,
			RatePerKg:    input.RatePerKg,
			ExpectedDate: input.ExpectedDate,
			Status:       RPOStatusDraft,
			Notes:        input.Notes,
			CreatedBy:    actorID,
		})
		if err != nil {
			return err
		}
		rpoID = id
		return nil
	})
	if err != nil {
		return RawPurchaseOrder{}, err
	}

	s.recordAudit(ctx, actorID, "procurement:rpo_create", rpoID, map[string]any{"ordered_kg": input.OrderedKg})
	s.notify(ctx, rpoID, "created")
	return s.repo.GetRPO(ctx, rpoID)
}

// MarkOrdered moves a DRAFT order to ORDERED once placed with the supplier.
func (s *Service) MarkOrdered(ctx context.Context, actorID int64, id int64) (RawPurchaseOrder, error) {
	rpo, err := s.repo.GetRPO(ctx, id)
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	if rpo.Status != RPOStatusDraft {
		return RawPurchaseOrder{}, fmt.Errorf("%w: cannot order %s RPO", ErrInvalidState, rpo.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateRPOStatus(ctx, id, RPOStatusOrdered)
	})
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "procurement:rpo_order", id, nil)
	s.notify(ctx, id, "ordered")
	return s.repo.GetRPO(ctx, id)
}

// RecordReceipt books a delivery. The order row is locked so concurrent
// receipts cannot jointly exceed the mill tolerance.
func (s *Service) RecordReceipt(ctx context.Context, actorID int64, rpoID int64, input ReceiptInput) (RawPurchaseOrder, error) {
	if input.ReceivedKg <= 0 {
		return RawPurchaseOrder{}, fmt.Errorf("%w: received kg must be positive", shared.ErrValidation)
	}
	input.HeatNo = strings.ToUpper(strings.TrimSpace(input.HeatNo))
	input.MillTCNo = strings.TrimSpace(input.MillTCNo)
	if input.HeatNo == "" {
		return RawPurchaseOrder{}, fmt.Errorf("%w: heat number is required", shared.ErrValidation)
	}
	if input.ReceivedDate.IsZero() {
		input.ReceivedDate = s.now()
	}

	idemKey := ""
	if s.idempotency != nil && input.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("RECEIPT:%d:%s", rpoID, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "procurement.receipt"); err != nil {
			return RawPurchaseOrder{}, err
		}
	}

	var receiptID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rpo, err := tx.LockRPO(ctx, rpoID)
		if err != nil {
			return err
		}
		if rpo.Status != RPOStatusOrdered && rpo.Status != RPOStatusPartial {
			return fmt.Errorf("%w: cannot receive against %s RPO", ErrInvalidState, rpo.Status)
		}
		newTotal := rpo.ReceivedKg + input.ReceivedKg
		if newTotal > rpo.OrderedKg*millTolerance {
			return fmt.Errorf("%w: %.2f kg would exceed %.2f kg", ErrOverTolerance, newTotal, rpo.OrderedKg*millTolerance)
		}

		number, err := tx.NextDocNumber(ctx, "MGRN", input.ReceivedDate)
		if err != nil {
			return fmt.Errorf("allocate GRN number: %w", err)
		}
		id, err := tx.InsertReceipt(ctx, MaterialReceipt{
			GRNNumber:    number,
			RPOID:        rpoID,
			ReceivedKg:   input.ReceivedKg,
			HeatNo:       input.HeatNo,
			MillTCNo:     input.MillTCNo,
			ReceivedDate: input.ReceivedDate,
			Notes:        input.Notes,
			CreatedBy:    actorID,
		})
		if err != nil {
			return err
		}
		receiptID = id
		if err := tx.AddReceivedKg(ctx, rpoID, input.ReceivedKg); err != nil {
			return err
		}

		status := RPOStatusPartial
		if newTotal >= rpo.OrderedKg {
			status = RPOStatusReceived
		}
		return tx.UpdateRPOStatus(ctx, rpoID, status)
	})
	if err != nil {
		if idemKey != "" {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return RawPurchaseOrder{}, err
	}

	s.recordAudit(ctx, actorID, "procurement:receipt_record", rpoID, map[string]any{
		"receipt_id":  receiptID,
		"received_kg": input.ReceivedKg,
		"heat_no":     input.HeatNo,
	})
	s.notify(ctx, rpoID, "receipt")
	return s.repo.GetRPO(ctx, rpoID)
}

// Close ends a fully received order.
func (s *Service) Close(ctx context.Context, actorID int64, id int64) (RawPurchaseOrder, error) {
	rpo, err := s.repo.GetRPO(ctx, id)
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	if rpo.Status != RPOStatusReceived {
		return RawPurchaseOrder{}, fmt.Errorf("%w: cannot close %s RPO", ErrInvalidState, rpo.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateRPOStatus(ctx, id, RPOStatusClosed)
	})
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "procurement:rpo_close", id, nil)
	s.notify(ctx, id, "closed")
	return s.repo.GetRPO(ctx, id)
}

// Cancel voids an order that has received nothing.
func (s *Service) Cancel(ctx context.Context, actorID int64, id int64) (RawPurchaseOrder, error) {
	rpo, err := s.repo.GetRPO(ctx, id)
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	if rpo.Status != RPOStatusDraft && rpo.Status != RPOStatusOrdered {
		return RawPurchaseOrder{}, fmt.Errorf("%w: cannot cancel %s RPO", ErrInvalidState, rpo.Status)
	}
	if rpo.ReceivedKg > 0 {
		return RawPurchaseOrder{}, fmt.Errorf("%w: material already received", ErrInvalidState)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateRPOStatus(ctx, id, RPOStatusCancelled)
	})
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "procurement:rpo_cancel", id, nil)
	s.notify(ctx, id, "cancelled")
	return s.repo.GetRPO(ctx, id)
}

// Get fetches one order with its receipts.
func (s *Service) Get(ctx context.Context, id int64) (RawPurchaseOrder, error) {
	return s.repo.GetRPO(ctx, id)
}

// List returns orders matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]RawPurchaseOrder, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit < 1 || filters.Limit > 200 {
		filters.Limit = 50
	}
	return s.repo.ListRPOs(ctx, filters)
}
