package dispatch

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Dispatch, error)
	List(ctx context.Context, filters ListFilters) ([]Dispatch, int, error)
	Register(ctx context.Context, from, to time.Time, fn func(RegisterRow) error) error
}

// PartnerPort validates transporters against masterdata.
type PartnerPort interface {
	IsTransporter(ctx context.Context, id int64) (bool, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnDispatchChanged(ctx context.Context, dispatchID int64, action string)
}

// Service orchestrates dispatch notes and the delivery cascade.
type Service struct {
	repo        RepositoryPort
	partners    PartnerPort
	audit       AuditPort
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs the dispatch service. audit and integration may be
// nil.
func NewService(repo RepositoryPort, partners PartnerPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		partners:    partners,
		audit:       audit,
		integration: integration,
		now:         time.Now,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, dispatchID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "dispatch",
			EntityID: dispatchID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notify(ctx context.Context, dispatchID int64, action string) {
	if s.integration != nil {
		s.integration.OnDispatchChanged(ctx, dispatchID, action)
	}
}

// CreateInput carries a new dispatch note.
type CreateInput struct {
	CustomerID    int64
	DispatchDate  *time.Time
	TransporterID *int64
	VehicleNo     string
	LRNumber      string
	CartonIDs     []int64
	Notes         *string
}

// Create books a READY dispatch over closed cartons. All cartons must be
// free of other active dispatches and, where their work orders trace to a
// sales line, sold to the dispatch customer.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (Dispatch, error) {
	if in.CustomerID <= 0 {
		return Dispatch{}, fmt.Errorf("%w: customer required", shared.ErrValidation)
	}
	cartonIDs := dedupeIDs(in.CartonIDs)
	if len(cartonIDs) == 0 {
		return Dispatch{}, fmt.Errorf("%w: at least one carton required", shared.ErrValidation)
	}
	if in.TransporterID != nil {
		ok, err := s.partners.IsTransporter(ctx, *in.TransporterID)
		if err != nil {
			return Dispatch{}, err
		}
		if !ok {
			return Dispatch{}, fmt.Errorf("%w: partner %d is not an active transporter", shared.ErrValidation, *in.TransporterID)
		}
	}
	dispatchDate := s.now().UTC()
	if in.DispatchDate != nil {
		dispatchDate = *in.DispatchDate
	}

	var dispatchID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cartons, err := tx.LockCartons(ctx, cartonIDs)
		if err != nil {
			return err
		}
		if len(cartons) != len(cartonIDs) {
			return fmt.Errorf("%w: carton", ErrNotFound)
		}
		for _, c := range cartons {
			if c.Status != "CLOSED" {
				return fmt.Errorf("%w: carton %s is %s", ErrCartonUnavailable, c.CartonNumber, c.Status)
			}
		}
		conflicts, err := tx.ActiveDispatchConflicts(ctx, cartonIDs)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return fmt.Errorf("%w: carton %d already on an active dispatch", ErrCartonUnavailable, conflicts[0])
		}

		woIDs := make([]int64, 0, len(cartons))
		seen := make(map[int64]bool)
		for _, c := range cartons {
			if !seen[c.WOID] {
				seen[c.WOID] = true
				woIDs = append(woIDs, c.WOID)
			}
		}
		owners, err := tx.WOCustomers(ctx, woIDs)
		if err != nil {
			return err
		}
		for _, o := range owners {
			if o.CustomerID != nil && *o.CustomerID != in.CustomerID {
				return fmt.Errorf("%w: work order %s", ErrCustomerMismatch, o.WONumber)
			}
		}

		number, err := tx.NextDocNumber(ctx, "DN", dispatchDate)
		if err != nil {
			return err
		}
		dispatchID, err = tx.InsertDispatch(ctx, Dispatch{
			DispatchNumber: number,
			CustomerID:     in.CustomerID,
			DispatchDate:   dispatchDate,
			TransporterID:  in.TransporterID,
			VehicleNo:      in.VehicleNo,
			LRNumber:       in.LRNumber,
			Status:         StatusReady,
			Notes:          in.Notes,
			CreatedBy:      actorID,
		})
		if err != nil {
			return err
		}
		return tx.InsertDispatchCartons(ctx, dispatchID, cartonIDs)
	})
	if err != nil {
		return Dispatch{}, err
	}

	s.recordAudit(ctx, actorID, "dispatch:create", dispatchID, map[string]any{
		"customer_id": in.CustomerID, "cartons": len(cartonIDs),
	})
	s.notify(ctx, dispatchID, "created")
	return s.repo.Get(ctx, dispatchID)
}

// MarkDispatched flips the consignment out of the gate and runs the whole
// cascade in one transaction: cartons to DISPATCHED, batch dispatched
// tallies, fully dispatched work orders to stage DISPATCHED, sales line
// delivered quantities, and completion of fully delivered sales orders
// together with their work orders.
func (s *Service) MarkDispatched(ctx context.Context, actorID, dispatchID int64) (Dispatch, error) {
	dispatchedAt := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDispatch(ctx, dispatchID)
		if err != nil {
			return err
		}
		if d.Status != StatusReady {
			return fmt.Errorf("%w: dispatch %s is %s", ErrInvalidState, d.Number, d.Status)
		}
		cartonIDs, err := tx.DispatchCartonIDs(ctx, dispatchID)
		if err != nil {
			return err
		}
		cartons, err := tx.LockCartons(ctx, cartonIDs)
		if err != nil {
			return err
		}
		for _, c := range cartons {
			if c.Status != "CLOSED" {
				return fmt.Errorf("%w: carton %s is %s", ErrCartonUnavailable, c.CartonNumber, c.Status)
			}
		}
		if err := tx.SetCartonsDispatched(ctx, cartonIDs); err != nil {
			return err
		}

		qtyByBatch := make(map[int64]int64)
		qtyByWO := make(map[int64]int64)
		for _, c := range cartons {
			qtyByBatch[c.BatchID] += c.Qty
			qtyByWO[c.WOID] += c.Qty
		}
		if err := tx.LockBatches(ctx, sortedKeys(qtyByBatch)); err != nil {
			return err
		}
		for _, batchID := range sortedKeys(qtyByBatch) {
			if err := tx.BumpBatchDispatched(ctx, batchID, qtyByBatch[batchID]); err != nil {
				return err
			}
		}

		wos, err := tx.LockWOs(ctx, sortedKeys(qtyByWO))
		if err != nil {
			return err
		}
		qtyByLine := make(map[int64]int64)
		for _, wo := range wos {
			approved, dispatched, err := tx.WODispatchTotals(ctx, wo.ID)
			if err != nil {
				return err
			}
			switch wo.Stage {
			case "DISPATCHED", "COMPLETED", "CANCELLED":
			default:
				if approved > 0 && dispatched >= approved {
					if err := tx.AdvanceWOStage(ctx, wo.ID, wo.Stage, "DISPATCHED", actorID); err != nil {
						return err
					}
				}
			}
			if wo.SalesOrderLineID != nil {
				qtyByLine[*wo.SalesOrderLineID] += qtyByWO[wo.ID]
			}
		}

		if len(qtyByLine) > 0 {
			lines, err := tx.LockSalesLines(ctx, sortedKeys(qtyByLine))
			if err != nil {
				return err
			}
			soIDs := make(map[int64]bool)
			for _, l := range lines {
				if err := tx.BumpLineDelivered(ctx, l.ID, qtyByLine[l.ID]); err != nil {
					return err
				}
				soIDs[l.SalesOrderID] = true
			}
			for _, soID := range sortedKeys(soIDs) {
				open, err := tx.OpenLineCount(ctx, soID)
				if err != nil {
					return err
				}
				if open > 0 {
					continue
				}
				completed, err := tx.CompleteSalesOrder(ctx, soID)
				if err != nil {
					return err
				}
				if !completed {
					continue
				}
				soWOs, err := tx.SalesOrderWOs(ctx, soID)
				if err != nil {
					return err
				}
				for _, wo := range soWOs {
					if wo.Stage == "DISPATCHED" {
						if err := tx.AdvanceWOStage(ctx, wo.ID, "DISPATCHED", "COMPLETED", actorID); err != nil {
							return err
						}
					}
				}
			}
		}

		return tx.MarkDispatched(ctx, dispatchID, dispatchedAt)
	})
	if err != nil {
		return Dispatch{}, err
	}

	s.recordAudit(ctx, actorID, "dispatch:mark_dispatched", dispatchID, nil)
	s.notify(ctx, dispatchID, "dispatched")
	return s.repo.Get(ctx, dispatchID)
}

// MarkDelivered records proof of delivery.
func (s *Service) MarkDelivered(ctx context.Context, actorID, dispatchID int64, deliveredAt *time.Time, podRef *string) (Dispatch, error) {
	at := s.now().UTC()
	if deliveredAt != nil {
		at = *deliveredAt
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDispatch(ctx, dispatchID)
		if err != nil {
			return err
		}
		if d.Status != StatusDispatched {
			return fmt.Errorf("%w: dispatch %s is %s", ErrInvalidState, d.Number, d.Status)
		}
		return tx.MarkDelivered(ctx, dispatchID, at, podRef)
	})
	if err != nil {
		return Dispatch{}, err
	}
	s.recordAudit(ctx, actorID, "dispatch:mark_delivered", dispatchID, nil)
	s.notify(ctx, dispatchID, "delivered")
	return s.repo.Get(ctx, dispatchID)
}

// Cancel voids a dispatch that never left the gate. Its cartons become
// available for another dispatch.
func (s *Service) Cancel(ctx context.Context, actorID, dispatchID int64) (Dispatch, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDispatch(ctx, dispatchID)
		if err != nil {
			return err
		}
		if d.Status != StatusReady {
			return fmt.Errorf("%w: dispatch %s is %s", ErrInvalidState, d.Number, d.Status)
		}
		return tx.CancelDispatch(ctx, dispatchID)
	})
	if err != nil {
		return Dispatch{}, err
	}
	s.recordAudit(ctx, actorID, "dispatch:cancel", dispatchID, nil)
	s.notify(ctx, dispatchID, "cancelled")
	return s.repo.Get(ctx, dispatchID)
}

// Get fetches one dispatch with carton detail.
func (s *Service) Get(ctx context.Context, id int64) (Dispatch, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of dispatches.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Dispatch, int, error) {
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

// ExportRegister streams the dispatch register for a date range as CSV with
// metadata comment rows.
func (s *Service) ExportRegister(ctx context.Context, w io.Writer, from, to time.Time) error {
	streamer := shared.NewCSVStreamer(w)
	if err := streamer.WriteComment("# Dispatch Register"); err != nil {
		return err
	}
	if err := streamer.WriteComment(fmt.Sprintf("# From %s To %s", from.Format("2006-01-02"), to.Format("2006-01-02"))); err != nil {
		return err
	}
	if err := streamer.WriteComment(fmt.Sprintf("# Generated %s", s.now().UTC().Format(time.RFC3339))); err != nil {
		return err
	}
	if err := streamer.WriteRow([]string{
		"Dispatch No", "Date", "Customer", "Transporter", "Vehicle", "LR Number",
		"Status", "Cartons", "Quantity", "Gross Kg",
	}); err != nil {
		return err
	}

	var totalCartons, totalQty int64
	var totalKg float64
	err := s.repo.Register(ctx, from, to, func(row RegisterRow) error {
		totalCartons += row.CartonCount
		totalQty += row.TotalQty
		totalKg += row.GrossWeightKg
		return streamer.WriteRow([]string{
			row.DispatchNumber,
			row.DispatchDate.Format("2006-01-02"),
			row.CustomerName,
			row.Transporter,
			row.VehicleNo,
			row.LRNumber,
			row.Status,
			fmt.Sprintf("%d", row.CartonCount),
			fmt.Sprintf("%d", row.TotalQty),
			fmt.Sprintf("%.2f", row.GrossWeightKg),
		})
	})
	if err != nil {
		return err
	}
	if err := streamer.WriteRow([]string{"Totals", "", "", "", "", "", "",
		fmt.Sprintf("%d", totalCartons), fmt.Sprintf("%d", totalQty), fmt.Sprintf("%.2f", totalKg)}); err != nil {
		return err
	}
	return streamer.Close()
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
