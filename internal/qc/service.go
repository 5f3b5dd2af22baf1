package qc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInspection(ctx context.Context, id int64) (Inspection, error)
	ListInspections(ctx context.Context, filters ListFilters) ([]Inspection, int, error)
	GetNCR(ctx context.Context, id int64) (NCR, error)
	ListNCRs(ctx context.Context, filters NCRFilters) ([]NCR, int, error)
	WorkOrderRef(ctx context.Context, woID int64) (WORef, error)
	WOSummaries(ctx context.Context, filters SummaryFilters) ([]WOSummary, error)
	PartnerSummaries(ctx context.Context, filters SummaryFilters) ([]PartnerSummary, error)
}

// PartnerPort validates partner attribution on NCRs.
type PartnerPort interface {
	IsProcessor(ctx context.Context, partnerID int64) (bool, error)
}

// ApprovalPort records and checks counter-signatures for critical NCR closes.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref int64, actorID int64, note string) error
	List(ctx context.Context, module string, ref int64) ([]shared.ApprovalLog, error)
	HasApproval(ctx context.Context, module string, ref int64, excludeActor int64) (bool, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnInspectionRecorded(ctx context.Context, inspectionID int64)
	OnNCRChanged(ctx context.Context, ncrID int64, action string)
}

const approvalModule = "qc_ncr"

// Service orchestrates inspections and non-conformance reports.
type Service struct {
	repo        RepositoryPort
	partners    PartnerPort
	approvals   ApprovalPort
	audit       AuditPort
	integration IntegrationHandler
	threshold   float64
	now         func() time.Time
}

// NewService constructs the QC service. partners, approvals, audit and
// integration may be nil.
func NewService(repo RepositoryPort, partners PartnerPort, approvals ApprovalPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		partners:    partners,
		approvals:   approvals,
		audit:       audit,
		integration: integration,
		threshold:   DefaultNCRThreshold,
		now:         time.Now,
	}
}

// SetNCRThreshold overrides the auto-NCR rejection-rate threshold.
func (s *Service) SetNCRThreshold(v float64) {
	if v > 0 {
		s.threshold = v
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   entity,
			EntityID: id,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notifyInspection(ctx context.Context, id int64) {
	if s.integration != nil {
		s.integration.OnInspectionRecorded(ctx, id)
	}
}

func (s *Service) notifyNCR(ctx context.Context, id int64, action string) {
	if s.integration != nil {
		s.integration.OnNCRChanged(ctx, id, action)
	}
}

// RecordInspectionInput carries a new inspection.
type RecordInspectionInput struct {
	WOID        int64
	BatchID     *int64
	Type        InspectionType
	CheckedQty  int64
	ApprovedQty int64
	RejectedQty int64
	DefectCode  string
	Notes       string
	InspectedAt time.Time
}

// RecordInspection stores an inspection. A FINAL inspection locks its batch
// and folds the approved/rejected quantities into the batch tallies in the
// same transaction; when the rejection rate reaches the threshold it also
// raises an NCR.
func (s *Service) RecordInspection(ctx context.Context, actorID int64, in RecordInspectionInput) (Inspection, error) {
	if !in.Type.Valid() {
		return Inspection{}, fmt.Errorf("%w: unknown inspection type %q", shared.ErrValidation, in.Type)
	}
	if in.CheckedQty <= 0 {
		return Inspection{}, fmt.Errorf("%w: checked quantity must be positive", shared.ErrValidation)
	}
	if in.ApprovedQty < 0 || in.RejectedQty < 0 {
		return Inspection{}, fmt.Errorf("%w: quantities must not be negative", shared.ErrValidation)
	}
	if in.ApprovedQty+in.RejectedQty > in.CheckedQty {
		return Inspection{}, fmt.Errorf("%w: approved+rejected exceeds checked quantity", shared.ErrValidation)
	}
	in.DefectCode = strings.ToUpper(strings.TrimSpace(in.DefectCode))
	if in.RejectedQty > 0 && in.DefectCode == "" {
		return Inspection{}, fmt.Errorf("%w: defect code required when pieces are rejected", shared.ErrValidation)
	}
	if in.Type == TypeFinal && in.BatchID == nil {
		return Inspection{}, fmt.Errorf("%w: final inspection requires a batch", shared.ErrValidation)
	}

	ref, err := s.repo.WorkOrderRef(ctx, in.WOID)
	if err != nil {
		return Inspection{}, err
	}
	if ref.Stage == "CANCELLED" {
		return Inspection{}, fmt.Errorf("%w: work order %s is cancelled", ErrInvalidState, ref.Number)
	}

	inspectedAt := in.InspectedAt
	if inspectedAt.IsZero() {
		inspectedAt = s.now().UTC()
	}

	var inspectionID, autoNCRID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "QC", inspectedAt)
		if err != nil {
			return err
		}
		ins := Inspection{
			Number:      number,
			WOID:        in.WOID,
			BatchID:     in.BatchID,
			Type:        in.Type,
			CheckedQty:  in.CheckedQty,
			ApprovedQty: in.ApprovedQty,
			RejectedQty: in.RejectedQty,
			DefectCode:  in.DefectCode,
			Notes:       in.Notes,
			Result:      resultFor(in.ApprovedQty, in.RejectedQty),
			InspectorID: actorID,
			InspectedAt: inspectedAt,
		}

		if in.Type == TypeFinal {
			batch, err := tx.LockBatch(ctx, *in.BatchID)
			if err != nil {
				return err
			}
			if batch.WOID != in.WOID {
				return fmt.Errorf("%w: batch %s belongs to another work order", shared.ErrValidation, batch.BatchNumber)
			}
			approved := batch.ApprovedQty + in.ApprovedQty
			rejected := batch.RejectedQty + in.RejectedQty
			if approved+rejected > batch.ProducedQty {
				return fmt.Errorf("%w: batch %s produced %d", ErrOverProduced, batch.BatchNumber, batch.ProducedQty)
			}
			inspectionID, err = tx.InsertInspection(ctx, ins)
			if err != nil {
				return err
			}
			complete := approved+rejected == batch.ProducedQty
			if err := tx.UpdateBatchTallies(ctx, batch.ID, approved, rejected, complete); err != nil {
				return err
			}
			rate := ins.RejectionRate()
			if rate >= s.threshold {
				ncrNumber, err := tx.NextDocNumber(ctx, "NCR", inspectedAt)
				if err != nil {
					return err
				}
				autoNCRID, err = tx.InsertNCR(ctx, NCR{
					Number:        ncrNumber,
					InspectionID:  &inspectionID,
					WOID:          in.WOID,
					RejectionRate: rate,
					Severity:      severityFor(rate, s.threshold),
					Status:        NCROpen,
					CreatedBy:     actorID,
				})
				return err
			}
			return nil
		}

		inspectionID, err = tx.InsertInspection(ctx, ins)
		return err
	})
	if err != nil {
		return Inspection{}, err
	}

	s.recordAudit(ctx, actorID, "qc:inspection_record", "qc_inspection", inspectionID, map[string]any{
		"wo_id": in.WOID, "type": string(in.Type), "checked": in.CheckedQty, "rejected": in.RejectedQty,
	})
	s.notifyInspection(ctx, inspectionID)
	if autoNCRID != 0 {
		s.recordAudit(ctx, actorID, "qc:ncr_auto_raise", "ncr", autoNCRID, map[string]any{
			"inspection_id": inspectionID,
		})
		s.notifyNCR(ctx, autoNCRID, "auto_raised")
	}
	return s.repo.GetInspection(ctx, inspectionID)
}

// RaiseNCRInput carries a manually raised NCR.
type RaiseNCRInput struct {
	WOID          int64
	InspectionID  *int64
	PartnerID     *int64
	Severity      Severity
	RejectionRate float64
}

// RaiseNCR opens a non-conformance report by hand. When an inspection is
// referenced the rejection rate is taken from it.
func (s *Service) RaiseNCR(ctx context.Context, actorID int64, in RaiseNCRInput) (NCR, error) {
	if !in.Severity.Valid() {
		return NCR{}, fmt.Errorf("%w: unknown severity %q", shared.ErrValidation, in.Severity)
	}
	if _, err := s.repo.WorkOrderRef(ctx, in.WOID); err != nil {
		return NCR{}, err
	}

	rate := in.RejectionRate
	if in.InspectionID != nil {
		ins, err := s.repo.GetInspection(ctx, *in.InspectionID)
		if err != nil {
			return NCR{}, err
		}
		if ins.WOID != in.WOID {
			return NCR{}, fmt.Errorf("%w: inspection %s belongs to another work order", shared.ErrValidation, ins.Number)
		}
		rate = ins.RejectionRate()
	}
	if rate < 0 || rate > 1 {
		return NCR{}, fmt.Errorf("%w: rejection rate must be between 0 and 1", shared.ErrValidation)
	}

	if in.PartnerID != nil && s.partners != nil {
		ok, err := s.partners.IsProcessor(ctx, *in.PartnerID)
		if err != nil {
			return NCR{}, err
		}
		if !ok {
			return NCR{}, fmt.Errorf("%w: partner %d is not a processor", shared.ErrValidation, *in.PartnerID)
		}
	}

	var ncrID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "NCR", s.now().UTC())
		if err != nil {
			return err
		}
		ncrID, err = tx.InsertNCR(ctx, NCR{
			Number:        number,
			InspectionID:  in.InspectionID,
			WOID:          in.WOID,
			PartnerID:     in.PartnerID,
			RejectionRate: rate,
			Severity:      in.Severity,
			Status:        NCROpen,
			CreatedBy:     actorID,
		})
		return err
	})
	if err != nil {
		return NCR{}, err
	}

	s.recordAudit(ctx, actorID, "qc:ncr_raise", "ncr", ncrID, map[string]any{
		"wo_id": in.WOID, "severity": string(in.Severity),
	})
	s.notifyNCR(ctx, ncrID, "raised")
	return s.repo.GetNCR(ctx, ncrID)
}

// ReviewNCR moves an open NCR under review and records the root cause.
func (s *Service) ReviewNCR(ctx context.Context, actorID, id int64, rootCause string) (NCR, error) {
	rootCause = strings.TrimSpace(rootCause)
	if rootCause == "" {
		return NCR{}, fmt.Errorf("%w: root cause required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.LockNCR(ctx, id)
		if err != nil {
			return err
		}
		if n.Status != NCROpen {
			return fmt.Errorf("%w: ncr %s is %s", ErrInvalidState, n.Number, n.Status)
		}
		return tx.MarkNCRReviewed(ctx, id, rootCause)
	})
	if err != nil {
		return NCR{}, err
	}
	s.recordAudit(ctx, actorID, "qc:ncr_review", "ncr", id, nil)
	s.notifyNCR(ctx, id, "review")
	return s.repo.GetNCR(ctx, id)
}

// SetDisposition decides what happens to the non-conforming material.
func (s *Service) SetDisposition(ctx context.Context, actorID, id int64, d Disposition) (NCR, error) {
	if !d.Valid() {
		return NCR{}, fmt.Errorf("%w: unknown disposition %q", shared.ErrValidation, d)
	}
	var severity Severity
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.LockNCR(ctx, id)
		if err != nil {
			return err
		}
		if n.Status != NCRUnderReview && n.Status != NCRCorrectiveAction {
			return fmt.Errorf("%w: ncr %s is %s", ErrInvalidState, n.Number, n.Status)
		}
		if d == DispositionReturnToPartner && n.PartnerID == nil {
			return fmt.Errorf("%w: ncr %s has no partner attributed", shared.ErrValidation, n.Number)
		}
		severity = n.Severity
		return tx.SetNCRDisposition(ctx, id, d)
	})
	if err != nil {
		return NCR{}, err
	}
	if severity == SeverityCritical && s.approvals != nil {
		// Opens the trail the close check reads; the disposition actor is
		// the submitter, so their own signature will not count.
		_ = s.approvals.EnsureSubmit(ctx, approvalModule, id, actorID, string(d))
	}
	s.recordAudit(ctx, actorID, "qc:ncr_disposition", "ncr", id, map[string]any{"disposition": string(d)})
	s.notifyNCR(ctx, id, "disposition")
	return s.repo.GetNCR(ctx, id)
}

// RecordCorrectiveAction stores the corrective action and moves the NCR
// forward.
func (s *Service) RecordCorrectiveAction(ctx context.Context, actorID, id int64, action string) (NCR, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return NCR{}, fmt.Errorf("%w: corrective action required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.LockNCR(ctx, id)
		if err != nil {
			return err
		}
		if n.Status != NCRUnderReview && n.Status != NCRCorrectiveAction {
			return fmt.Errorf("%w: ncr %s is %s", ErrInvalidState, n.Number, n.Status)
		}
		return tx.RecordNCRAction(ctx, id, action)
	})
	if err != nil {
		return NCR{}, err
	}
	s.recordAudit(ctx, actorID, "qc:ncr_action", "ncr", id, nil)
	s.notifyNCR(ctx, id, "corrective_action")
	return s.repo.GetNCR(ctx, id)
}

// ApproveNCR counter-signs an NCR ahead of closing. Critical NCRs cannot be
// closed by the same operator alone.
func (s *Service) ApproveNCR(ctx context.Context, actorID, id int64, note string) error {
	if s.approvals == nil {
		return errors.New("qc: approvals not configured")
	}
	n, err := s.repo.GetNCR(ctx, id)
	if err != nil {
		return err
	}
	if n.Status == NCRClosed {
		return fmt.Errorf("%w: ncr %s is closed", ErrInvalidState, n.Number)
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   id,
		ActorID: actorID,
		Action:  shared.ApprovalApprove,
		Note:    note,
	}); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "qc:ncr_approve", "ncr", id, nil)
	return nil
}

// CloseNCR closes an NCR once its corrective action is recorded and a
// disposition is set. Critical NCRs additionally need an approval from a
// second operator.
func (s *Service) CloseNCR(ctx context.Context, actorID, id int64) (NCR, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.LockNCR(ctx, id)
		if err != nil {
			return err
		}
		if n.Status != NCRCorrectiveAction {
			return fmt.Errorf("%w: ncr %s is %s", ErrInvalidState, n.Number, n.Status)
		}
		if n.Disposition == "" {
			return fmt.Errorf("%w: ncr %s has no disposition", ErrInvalidState, n.Number)
		}
		if n.Severity == SeverityCritical && s.approvals != nil {
			ok, err := s.approvals.HasApproval(ctx, approvalModule, id, actorID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: critical ncr %s needs a second operator", ErrApprovalRequired, n.Number)
			}
		}
		return tx.CloseNCR(ctx, id, actorID, s.now().UTC())
	})
	if err != nil {
		return NCR{}, err
	}
	s.recordAudit(ctx, actorID, "qc:ncr_close", "ncr", id, nil)
	s.notifyNCR(ctx, id, "closed")
	return s.repo.GetNCR(ctx, id)
}

// GetInspection fetches one inspection.
func (s *Service) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	return s.repo.GetInspection(ctx, id)
}

// ListInspections returns a page of inspections.
func (s *Service) ListInspections(ctx context.Context, filters ListFilters) ([]Inspection, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 200 {
		filters.Limit = 200
	}
	return s.repo.ListInspections(ctx, filters)
}

// GetNCR fetches one NCR with its approval trail.
func (s *Service) GetNCR(ctx context.Context, id int64) (NCR, error) {
	n, err := s.repo.GetNCR(ctx, id)
	if err != nil {
		return NCR{}, err
	}
	if s.approvals != nil {
		trail, err := s.approvals.List(ctx, approvalModule, id)
		if err != nil {
			return NCR{}, err
		}
		for _, e := range trail {
			n.Approvals = append(n.Approvals, NCRApproval{
				ActorID: e.ActorID,
				Action:  string(e.Action),
				Note:    e.Note,
				At:      e.At,
			})
		}
	}
	return n, nil
}

// ListNCRs returns a page of NCRs.
func (s *Service) ListNCRs(ctx context.Context, filters NCRFilters) ([]NCR, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 200 {
		filters.Limit = 200
	}
	return s.repo.ListNCRs(ctx, filters)
}

// WOSummaries returns per-work-order rejection tallies.
func (s *Service) WOSummaries(ctx context.Context, filters SummaryFilters) ([]WOSummary, error) {
	return s.repo.WOSummaries(ctx, filters)
}

// PartnerSummaries returns per-partner NCR tallies.
func (s *Service) PartnerSummaries(ctx context.Context, filters SummaryFilters) ([]PartnerSummary, error) {
	return s.repo.PartnerSummaries(ctx, filters)
}
