package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (*SalesOrder, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) ([]SalesOrder, int, error)
	OpenLines(ctx context.Context, customerID *int64) ([]OpenLine, error)
	LineForPlanning(ctx context.Context, lineID int64) (PlanningLine, error)
	CountWorkOrdersPastPlanned(ctx context.Context, orderID int64) (int, error)
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnSalesOrderChanged(ctx context.Context, orderID int64, action string)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service owns sales order lifecycle rules.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
}

// NewService constructs the sales service. audit and integration may be nil.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, integration: integration}
}

func (s *Service) notify(ctx context.Context, orderID int64, action string) {
	if s.integration != nil {
		s.integration.OnSalesOrderChanged(ctx, orderID, action)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "sales_order",
			EntityID: orderID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func validateLines(lines []CreateLineReq) error {
	for i, line := range lines {
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d unit price must not be negative", shared.ErrValidation, i+1)
		}
	}
	return nil
}

// CreateOrder creates a DRAFT order with a generated SO number.
func (s *Service) CreateOrder(ctx context.Context, actorID int64, req CreateOrderRequest) (*SalesOrder, error) {
	req.CustomerPONumber = strings.TrimSpace(req.CustomerPONumber)
	if req.CustomerPONumber == "" {
		return nil, fmt.Errorf("%w: customer PO number is required", shared.ErrValidation)
	}
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	var orderID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		soNumber, err := tx.NextDocNumber(ctx, "SO", req.OrderDate)
		if err != nil {
			return fmt.Errorf("allocate SO number: %w", err)
		}
		id, err := tx.InsertOrder(ctx, SalesOrder{
			SONumber:         soNumber,
			CustomerID:       req.CustomerID,
			CustomerPONumber: req.CustomerPONumber,
			OrderDate:        req.OrderDate,
			Status:           StatusDraft,
			Notes:            req.Notes,
			CreatedBy:        actorID,
		})
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		orderID = id
		for i, line := range req.Lines {
			if _, err := tx.InsertLine(ctx, Line{
				SalesOrderID: id,
				LineNo:       i + 1,
				PartID:       line.PartID,
				Quantity:     line.Quantity,
				UnitPrice:    line.UnitPrice,
				DueDate:      line.DueDate,
			}); err != nil {
				return fmt.Errorf("insert line %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "sales:order_create", orderID, map[string]any{"lines": len(req.Lines)})
	s.notify(ctx, orderID, "created")
	return s.repo.GetOrder(ctx, orderID)
}

// UpdateDraft replaces the header and lines of a DRAFT order.
func (s *Service) UpdateDraft(ctx context.Context, actorID int64, id int64, req CreateOrderRequest) (*SalesOrder, error) {
	req.CustomerPONumber = strings.TrimSpace(req.CustomerPONumber)
	if req.CustomerPONumber == "" {
		return nil, fmt.Errorf("%w: customer PO number is required", shared.ErrValidation)
	}
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	current, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusDraft {
		return nil, fmt.Errorf("%w: only DRAFT orders can be edited", ErrInvalidStatus)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateHeader(ctx, id, req.CustomerID, req.CustomerPONumber, req.OrderDate, req.Notes); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		for i, line := range req.Lines {
			if _, err := tx.InsertLine(ctx, Line{
				SalesOrderID: id,
				LineNo:       i + 1,
				PartID:       line.PartID,
				Quantity:     line.Quantity,
				UnitPrice:    line.UnitPrice,
				DueDate:      line.DueDate,
			}); err != nil {
				return fmt.Errorf("insert line %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "sales:order_update", id, nil)
	s.notify(ctx, id, "updated")
	return s.repo.GetOrder(ctx, id)
}

// Confirm moves a DRAFT order to CONFIRMED, opening its lines for planning.
func (s *Service) Confirm(ctx context.Context, actorID int64, id int64) (*SalesOrder, error) {
	current, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusDraft {
		return nil, fmt.Errorf("%w: cannot confirm %s order", ErrInvalidStatus, current.Status)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusConfirmed, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "sales:order_confirm", id, nil)
	s.notify(ctx, id, "confirmed")
	return s.repo.GetOrder(ctx, id)
}

// Cancel cancels a DRAFT or CONFIRMED order. A reason is mandatory, and
// confirmed orders with work orders past PLANNED cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, actorID int64, id int64, reason string) (*SalesOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", shared.ErrValidation)
	}

	current, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusDraft && current.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot cancel %s order", ErrInvalidStatus, current.Status)
	}
	if current.Status == StatusConfirmed {
		count, err := s.repo.CountWorkOrdersPastPlanned(ctx, id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: %d work orders in progress", ErrHasProduction, count)
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled, actorID, &reason)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "sales:order_cancel", id, map[string]any{"reason": reason})
	s.notify(ctx, id, "cancelled")
	return s.repo.GetOrder(ctx, id)
}

// Get fetches one order with lines.
func (s *Service) Get(ctx context.Context, id int64) (*SalesOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns orders matching the filters.
func (s *Service) List(ctx context.Context, req ListOrdersRequest) ([]SalesOrder, int, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage < 1 || req.PerPage > 200 {
		req.PerPage = 50
	}
	return s.repo.ListOrders(ctx, req)
}

// OpenLines lists undelivered confirmed quantities, optionally per customer.
func (s *Service) OpenLines(ctx context.Context, customerID *int64) ([]OpenLine, error) {
	return s.repo.OpenLines(ctx, customerID)
}

// LineForPlanning returns a confirmed line for work order creation.
func (s *Service) LineForPlanning(ctx context.Context, lineID int64) (PlanningLine, error) {
	line, err := s.repo.LineForPlanning(ctx, lineID)
	if err != nil {
		return PlanningLine{}, err
	}
	if line.OrderStatus != StatusConfirmed {
		return PlanningLine{}, fmt.Errorf("%w: order is %s, not CONFIRMED", ErrInvalidStatus, line.OrderStatus)
	}
	return line, nil
}

// OrderValue totals quantity times unit price across lines.
func OrderValue(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}
	return total
}
