package qc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

type memoryRepo struct {
	inspections map[int64]*Inspection
	ncrs        map[int64]*NCR
	batches     map[int64]*BatchTallies
	wos         map[int64]WORef
	nextID      int64
	seq         int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		inspections: map[int64]*Inspection{},
		ncrs:        map[int64]*NCR{},
		batches:     map[int64]*BatchTallies{},
		wos:         map[int64]WORef{},
	}
}

type memoryTx struct {
	repo *memoryRepo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (t *memoryTx) NextDocNumber(_ context.Context, prefix string, date time.Time) (string, error) {
	t.repo.seq++
	return fmt.Sprintf("%s-%s-%04d", prefix, date.Format("0601"), t.repo.seq), nil
}

func (t *memoryTx) InsertInspection(_ context.Context, ins Inspection) (int64, error) {
	t.repo.nextID++
	ins.ID = t.repo.nextID
	ins.CreatedAt = time.Now()
	t.repo.inspections[ins.ID] = &ins
	return ins.ID, nil
}

func (t *memoryTx) LockBatch(_ context.Context, id int64) (BatchTallies, error) {
	b, ok := t.repo.batches[id]
	if !ok {
		return BatchTallies{}, ErrNotFound
	}
	return *b, nil
}

func (t *memoryTx) UpdateBatchTallies(_ context.Context, id, approved, rejected int64, complete bool) error {
	b, ok := t.repo.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.ApprovedQty = approved
	b.RejectedQty = rejected
	b.QCComplete = complete
	return nil
}

func (t *memoryTx) InsertNCR(_ context.Context, n NCR) (int64, error) {
	t.repo.nextID++
	n.ID = t.repo.nextID
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	t.repo.ncrs[n.ID] = &n
	return n.ID, nil
}

func (t *memoryTx) LockNCR(_ context.Context, id int64) (NCR, error) {
	n, ok := t.repo.ncrs[id]
	if !ok {
		return NCR{}, ErrNotFound
	}
	return *n, nil
}

func (t *memoryTx) MarkNCRReviewed(_ context.Context, id int64, rootCause string) error {
	n := t.repo.ncrs[id]
	n.Status = NCRUnderReview
	n.RootCause = rootCause
	return nil
}

func (t *memoryTx) SetNCRDisposition(_ context.Context, id int64, d Disposition) error {
	t.repo.ncrs[id].Disposition = d
	return nil
}

func (t *memoryTx) RecordNCRAction(_ context.Context, id int64, action string) error {
	n := t.repo.ncrs[id]
	n.Status = NCRCorrectiveAction
	n.CorrectiveAction = action
	return nil
}

func (t *memoryTx) CloseNCR(_ context.Context, id, actorID int64, at time.Time) error {
	n := t.repo.ncrs[id]
	n.Status = NCRClosed
	n.ClosedBy = &actorID
	n.ClosedAt = &at
	return nil
}

func (m *memoryRepo) GetInspection(_ context.Context, id int64) (Inspection, error) {
	ins, ok := m.inspections[id]
	if !ok {
		return Inspection{}, ErrNotFound
	}
	return *ins, nil
}

func (m *memoryRepo) ListInspections(_ context.Context, filters ListFilters) ([]Inspection, int, error) {
	out := []Inspection{}
	for _, ins := range m.inspections {
		if filters.WOID > 0 && ins.WOID != filters.WOID {
			continue
		}
		if filters.Type != "" && ins.Type != filters.Type {
			continue
		}
		out = append(out, *ins)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetNCR(_ context.Context, id int64) (NCR, error) {
	n, ok := m.ncrs[id]
	if !ok {
		return NCR{}, ErrNotFound
	}
	return *n, nil
}

func (m *memoryRepo) ListNCRs(_ context.Context, filters NCRFilters) ([]NCR, int, error) {
	out := []NCR{}
	for _, n := range m.ncrs {
		if filters.Status != "" && n.Status != filters.Status {
			continue
		}
		if filters.Severity != "" && n.Severity != filters.Severity {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (m *memoryRepo) WorkOrderRef(_ context.Context, woID int64) (WORef, error) {
	ref, ok := m.wos[woID]
	if !ok {
		return WORef{}, ErrNotFound
	}
	return ref, nil
}

func (m *memoryRepo) WOSummaries(_ context.Context, _ SummaryFilters) ([]WOSummary, error) {
	return nil, nil
}

func (m *memoryRepo) PartnerSummaries(_ context.Context, _ SummaryFilters) ([]PartnerSummary, error) {
	return nil, nil
}

type stubPartners struct {
	processors map[int64]bool
}

func (s stubPartners) IsProcessor(_ context.Context, id int64) (bool, error) {
	return s.processors[id], nil
}

type memoryApprovals struct {
	entries []shared.ApprovalLog
}

func (a *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func (a *memoryApprovals) EnsureSubmit(ctx context.Context, module string, ref, actorID int64, note string) error {
	for _, e := range a.entries {
		if e.Module == module && e.RefID == ref && e.Action == shared.ApprovalSubmit {
			return nil
		}
	}
	return a.Record(ctx, shared.ApprovalLog{
		Module: module, RefID: ref, ActorID: actorID, Action: shared.ApprovalSubmit, Note: note,
	})
}

func (a *memoryApprovals) List(_ context.Context, module string, ref int64) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, e := range a.entries {
		if e.Module == module && e.RefID == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memoryApprovals) HasApproval(_ context.Context, module string, ref, excludeActor int64) (bool, error) {
	for _, e := range a.entries {
		if e.Module == module && e.RefID == ref && e.Action == shared.ApprovalApprove && e.ActorID != excludeActor {
			return true, nil
		}
	}
	return false, nil
}

func newTestService() (*Service, *memoryRepo, *memoryApprovals) {
	repo := newMemoryRepo()
	approvals := &memoryApprovals{}
	svc := NewService(repo, stubPartners{processors: map[int64]bool{31: true}}, approvals, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC) }
	repo.wos[1] = WORef{ID: 1, Number: "WO-2508-0001", Stage: "FINAL_QC"}
	return svc, repo, approvals
}

func seedBatch(repo *memoryRepo, id, woID, produced int64) {
	repo.batches[id] = &BatchTallies{
		ID: id, WOID: woID, BatchNumber: fmt.Sprintf("WO-2508-0001-B%d", id), ProducedQty: produced,
	}
}

func finalInput(batchID, checked, approved, rejected int64) RecordInspectionInput {
	in := RecordInspectionInput{
		WOID:        1,
		BatchID:     &batchID,
		Type:        TypeFinal,
		CheckedQty:  checked,
		ApprovedQty: approved,
		RejectedQty: rejected,
	}
	if rejected > 0 {
		in.DefectCode = "burr"
	}
	return in
}

func TestFinalInspectionUpdatesTallies(t *testing.T) {
	svc, repo, _ := newTestService()
	seedBatch(repo, 10, 1, 500)

	ins, err := svc.RecordInspection(context.Background(), 5, finalInput(10, 200, 195, 5))
	require.NoError(t, err)
	require.Equal(t, "QC-2508-0001", ins.Number)
	require.Equal(t, ResultConditional, ins.Result)
	require.Equal(t, "BURR", ins.DefectCode)

	batch := repo.batches[10]
	require.Equal(t, int64(195), batch.ApprovedQty)
	require.Equal(t, int64(5), batch.RejectedQty)
	require.False(t, batch.QCComplete)
	require.Empty(t, repo.ncrs, "rejection below threshold must not raise an NCR")

	_, err = svc.RecordInspection(context.Background(), 5, finalInput(10, 300, 295, 5))
	require.NoError(t, err)
	require.Equal(t, int64(490), batch.ApprovedQty)
	require.Equal(t, int64(10), batch.RejectedQty)
	require.True(t, batch.QCComplete)
}

func TestFinalInspectionRequiresBatch(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.RecordInspection(context.Background(), 5, RecordInspectionInput{
		WOID: 1, Type: TypeFinal, CheckedQty: 100, ApprovedQty: 100,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFinalInspectionRejectsOverProduced(t *testing.T) {
	svc, repo, _ := newTestService()
	seedBatch(repo, 10, 1, 100)

	_, err := svc.RecordInspection(context.Background(), 5, finalInput(10, 150, 120, 30))
	require.ErrorIs(t, err, ErrOverProduced)
	require.Empty(t, repo.inspections)
	require.Zero(t, repo.batches[10].ApprovedQty)
}

func TestFinalInspectionRejectsForeignBatch(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.wos[2] = WORef{ID: 2, Number: "WO-2508-0002", Stage: "FINAL_QC"}
	seedBatch(repo, 10, 2, 500)

	_, err := svc.RecordInspection(context.Background(), 5, finalInput(10, 100, 100, 0))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAutoNCRSeverityTiers(t *testing.T) {
	cases := []struct {
		name     string
		rejected int64
		severity Severity
		raised   bool
	}{
		{"under threshold", 9, "", false},
		{"minor at threshold", 10, SeverityMinor, true},
		{"major at double", 20, SeverityMajor, true},
		{"critical at quadruple", 40, SeverityCritical, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			seedBatch(repo, 10, 1, 1000)

			ins, err := svc.RecordInspection(context.Background(), 5,
				finalInput(10, 200, 200-tc.rejected, tc.rejected))
			require.NoError(t, err)

			if !tc.raised {
				require.Empty(t, repo.ncrs)
				return
			}
			require.Len(t, repo.ncrs, 1)
			for _, n := range repo.ncrs {
				require.Equal(t, tc.severity, n.Severity)
				require.Equal(t, NCROpen, n.Status)
				require.NotNil(t, n.InspectionID)
				require.Equal(t, ins.ID, *n.InspectionID)
				require.InDelta(t, float64(tc.rejected)/200, n.RejectionRate, 1e-9)
			}
		})
	}
}

func TestInspectionDerivesResult(t *testing.T) {
	svc, _, _ := newTestService()

	pass, err := svc.RecordInspection(context.Background(), 5, RecordInspectionInput{
		WOID: 1, Type: TypeInProcess, CheckedQty: 50, ApprovedQty: 50,
	})
	require.NoError(t, err)
	require.Equal(t, ResultPass, pass.Result)

	fail, err := svc.RecordInspection(context.Background(), 5, RecordInspectionInput{
		WOID: 1, Type: TypeFirstPiece, CheckedQty: 1, RejectedQty: 1, DefectCode: "OD-OVERSIZE",
	})
	require.NoError(t, err)
	require.Equal(t, ResultFail, fail.Result)
}

func TestInspectionRequiresDefectCodeOnRejection(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.RecordInspection(context.Background(), 5, RecordInspectionInput{
		WOID: 1, Type: TypeInProcess, CheckedQty: 50, ApprovedQty: 45, RejectedQty: 5,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestInspectionRejectsCancelledWO(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.wos[3] = WORef{ID: 3, Number: "WO-2508-0003", Stage: "CANCELLED"}

	_, err := svc.RecordInspection(context.Background(), 5, RecordInspectionInput{
		WOID: 3, Type: TypeMaterial, CheckedQty: 10, ApprovedQty: 10,
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestInspectionRejectsOverDisposition(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.RecordInspection(context.Background(), 5, RecordInspectionInput{
		WOID: 1, Type: TypeInProcess, CheckedQty: 10, ApprovedQty: 8, RejectedQty: 3, DefectCode: "DENT",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNCRLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	n, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMajor, RejectionRate: 0.12})
	require.NoError(t, err)
	require.Equal(t, "NCR-2508-0001", n.Number)
	require.Equal(t, NCROpen, n.Status)

	n, err = svc.ReviewNCR(ctx, 5, n.ID, "tool wear on second op")
	require.NoError(t, err)
	require.Equal(t, NCRUnderReview, n.Status)
	require.Equal(t, "tool wear on second op", n.RootCause)

	n, err = svc.SetDisposition(ctx, 5, n.ID, DispositionRework)
	require.NoError(t, err)
	require.Equal(t, DispositionRework, n.Disposition)
	require.Equal(t, NCRUnderReview, n.Status)

	n, err = svc.RecordCorrectiveAction(ctx, 5, n.ID, "tool change interval halved")
	require.NoError(t, err)
	require.Equal(t, NCRCorrectiveAction, n.Status)

	n, err = svc.CloseNCR(ctx, 5, n.ID)
	require.NoError(t, err)
	require.Equal(t, NCRClosed, n.Status)
	require.NotNil(t, n.ClosedBy)
	require.Equal(t, int64(5), *n.ClosedBy)
	require.NotNil(t, n.ClosedAt)
}

func TestNCRStatusChainEnforced(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	n, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMinor})
	require.NoError(t, err)

	_, err = svc.CloseNCR(ctx, 5, n.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.SetDisposition(ctx, 5, n.ID, DispositionScrap)
	require.ErrorIs(t, err, ErrInvalidState, "disposition before review")

	_, err = svc.ReviewNCR(ctx, 5, n.ID, "operator error")
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, n.ID, "again")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestNCRCloseRequiresDisposition(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	n, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMinor})
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, n.ID, "material mixup")
	require.NoError(t, err)
	_, err = svc.RecordCorrectiveAction(ctx, 5, n.ID, "heat numbers now verified at issue")
	require.NoError(t, err)

	_, err = svc.CloseNCR(ctx, 5, n.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCriticalNCRNeedsSecondOperator(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	n, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityCritical, RejectionRate: 0.3})
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, n.ID, "wrong material grade")
	require.NoError(t, err)
	_, err = svc.SetDisposition(ctx, 5, n.ID, DispositionScrap)
	require.NoError(t, err)
	_, err = svc.RecordCorrectiveAction(ctx, 5, n.ID, "incoming TC check added")
	require.NoError(t, err)

	_, err = svc.CloseNCR(ctx, 5, n.ID)
	require.ErrorIs(t, err, ErrApprovalRequired)

	// Self-approval does not count.
	require.NoError(t, svc.ApproveNCR(ctx, 5, n.ID, "ok"))
	_, err = svc.CloseNCR(ctx, 5, n.ID)
	require.ErrorIs(t, err, ErrApprovalRequired)

	require.NoError(t, svc.ApproveNCR(ctx, 9, n.ID, "verified scrap"))
	closed, err := svc.CloseNCR(ctx, 5, n.ID)
	require.NoError(t, err)
	require.Equal(t, NCRClosed, closed.Status)
}

func TestCriticalDispositionOpensApprovalTrail(t *testing.T) {
	svc, _, approvals := newTestService()
	ctx := context.Background()

	n, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityCritical, RejectionRate: 0.3})
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, n.ID, "wrong material grade")
	require.NoError(t, err)
	_, err = svc.SetDisposition(ctx, 5, n.ID, DispositionScrap)
	require.NoError(t, err)

	require.Len(t, approvals.entries, 1)
	require.Equal(t, shared.ApprovalSubmit, approvals.entries[0].Action)
	require.Equal(t, int64(5), approvals.entries[0].ActorID)

	require.NoError(t, svc.ApproveNCR(ctx, 9, n.ID, "verified scrap"))

	detail, err := svc.GetNCR(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, detail.Approvals, 2)
	require.Equal(t, string(shared.ApprovalSubmit), detail.Approvals[0].Action)
	require.Equal(t, string(shared.ApprovalApprove), detail.Approvals[1].Action)
	require.Equal(t, int64(9), detail.Approvals[1].ActorID)

	minor, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMinor})
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, minor.ID, "cosmetic scratches")
	require.NoError(t, err)
	_, err = svc.SetDisposition(ctx, 5, minor.ID, DispositionUseAsIs)
	require.NoError(t, err)
	require.Len(t, approvals.entries, 2, "minor NCRs do not open a trail")
}

func TestReturnToPartnerNeedsPartner(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	plain, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMajor})
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, plain.ID, "plating blisters")
	require.NoError(t, err)
	_, err = svc.SetDisposition(ctx, 5, plain.ID, DispositionReturnToPartner)
	require.ErrorIs(t, err, shared.ErrValidation)

	partnerID := int64(31)
	attributed, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMajor, PartnerID: &partnerID})
	require.NoError(t, err)
	_, err = svc.ReviewNCR(ctx, 5, attributed.ID, "plating blisters")
	require.NoError(t, err)
	n, err := svc.SetDisposition(ctx, 5, attributed.ID, DispositionReturnToPartner)
	require.NoError(t, err)
	require.Equal(t, DispositionReturnToPartner, n.Disposition)
}

func TestRaiseNCRValidatesPartnerAndInspection(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	badPartner := int64(99)
	_, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMinor, PartnerID: &badPartner})
	require.ErrorIs(t, err, shared.ErrValidation)

	ins, err := svc.RecordInspection(ctx, 5, RecordInspectionInput{
		WOID: 1, Type: TypeInProcess, CheckedQty: 100, ApprovedQty: 90, RejectedQty: 10, DefectCode: "BURR",
	})
	require.NoError(t, err)

	n, err := svc.RaiseNCR(ctx, 5, RaiseNCRInput{WOID: 1, Severity: SeverityMinor, InspectionID: &ins.ID})
	require.NoError(t, err)
	require.InDelta(t, 0.1, n.RejectionRate, 1e-9)
}
