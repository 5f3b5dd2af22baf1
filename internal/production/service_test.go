package production

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/sales"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

type memoryRepo struct {
	wos     map[int64]*WorkOrder
	batches map[int64][]Batch
	history map[int64][]StageHistory
	claims  map[string]bool
	nextID  int64
	seq     int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		wos:     map[int64]*WorkOrder{},
		batches: map[int64][]Batch{},
		history: map[int64][]StageHistory{},
		claims:  map[string]bool{},
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

func (t *memoryTx) ClaimIdempotencyKey(_ context.Context, key, _ string) error {
	if t.repo.claims[key] {
		return shared.ErrIdempotencyConflict
	}
	t.repo.claims[key] = true
	return nil
}

func (t *memoryTx) InsertWO(_ context.Context, wo WorkOrder) (int64, error) {
	t.repo.nextID++
	wo.ID = t.repo.nextID
	wo.StageEnteredAt = time.Now()
	t.repo.wos[wo.ID] = &wo
	return wo.ID, nil
}

func (t *memoryTx) LockWO(_ context.Context, id int64) (WorkOrder, error) {
	wo, ok := t.repo.wos[id]
	if !ok {
		return WorkOrder{}, ErrNotFound
	}
	return *wo, nil
}

func (t *memoryTx) UpdateStage(_ context.Context, id int64, from, to Stage, actorID int64, note *string) error {
	wo, ok := t.repo.wos[id]
	if !ok {
		return ErrNotFound
	}
	wo.Stage = to
	wo.StageEnteredAt = time.Now()
	t.repo.history[id] = append(t.repo.history[id], StageHistory{
		WOID: id, FromStage: from, ToStage: to, ChangedBy: actorID, Note: note, ChangedAt: time.Now(),
	})
	return nil
}

func (t *memoryTx) SetHold(_ context.Context, id int64, hold bool, reason *string) error {
	wo, ok := t.repo.wos[id]
	if !ok {
		return ErrNotFound
	}
	wo.OnHold = hold
	wo.HoldReason = reason
	return nil
}

func (t *memoryTx) ProducedTotal(_ context.Context, woID int64) (int64, error) {
	var total int64
	for _, b := range t.repo.batches[woID] {
		total += b.ProducedQty
	}
	return total, nil
}

func (t *memoryTx) BatchCount(_ context.Context, woID int64) (int, error) {
	return len(t.repo.batches[woID]), nil
}

func (t *memoryTx) InsertBatch(_ context.Context, batch Batch) (int64, error) {
	t.repo.nextID++
	batch.ID = t.repo.nextID
	t.repo.batches[batch.WorkOrderID] = append(t.repo.batches[batch.WorkOrderID], batch)
	return batch.ID, nil
}

func (m *memoryRepo) GetWO(_ context.Context, id int64) (WorkOrder, error) {
	wo, ok := m.wos[id]
	if !ok {
		return WorkOrder{}, ErrNotFound
	}
	clone := *wo
	clone.Batches = append([]Batch(nil), m.batches[id]...)
	summary := Summary{Planned: wo.PlannedQty}
	for _, b := range clone.Batches {
		summary.Produced += b.ProducedQty
		summary.Approved += b.ApprovedQty
		summary.Rejected += b.RejectedQty
		summary.Packed += b.PackedQty
		summary.Dispatched += b.DispatchedQty
	}
	clone.Summary = &summary
	return clone, nil
}

func (m *memoryRepo) GetBatch(_ context.Context, id int64) (Batch, error) {
	for _, list := range m.batches {
		for _, b := range list {
			if b.ID == id {
				return b, nil
			}
		}
	}
	return Batch{}, ErrNotFound
}

func (m *memoryRepo) ListWOs(_ context.Context, filters ListFilters) ([]WorkOrder, int, error) {
	out := []WorkOrder{}
	for _, wo := range m.wos {
		if filters.Stage != "" && wo.Stage != filters.Stage {
			continue
		}
		out = append(out, *wo)
	}
	return out, len(out), nil
}

func (m *memoryRepo) StageTimeline(_ context.Context, woID int64) ([]StageHistory, error) {
	return m.history[woID], nil
}

type stubSales struct {
	lines map[int64]sales.PlanningLine
}

func (s stubSales) LineForPlanning(_ context.Context, lineID int64) (sales.PlanningLine, error) {
	line, ok := s.lines[lineID]
	if !ok {
		return sales.PlanningLine{}, sales.ErrNotFound
	}
	return line, nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, stubSales{lines: map[int64]sales.PlanningLine{
		21: {LineID: 21, SalesOrderID: 5, SONumber: "SO-2508-0001", OrderStatus: sales.StatusConfirmed, PartID: 11, OpenQty: 500},
	}}, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC) }
	return svc
}

func manualWO(t *testing.T, svc *Service) WorkOrder {
	t.Helper()
	wo, err := svc.Create(context.Background(), 2, CreateInput{
		PartID:     11,
		PlannedQty: 1000,
		DueDate:    time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return wo
}

func inProductionWO(t *testing.T, svc *Service) WorkOrder {
	t.Helper()
	wo := manualWO(t, svc)
	wo, err := svc.AdvanceStage(context.Background(), 2, wo.ID, StageMaterialReady, nil)
	require.NoError(t, err)
	wo, err = svc.AdvanceStage(context.Background(), 2, wo.ID, StageInProduction, nil)
	require.NoError(t, err)
	return wo
}

func TestCreateManualWO(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	wo := manualWO(t, svc)
	require.Equal(t, "WO-2508-0001", wo.WONumber)
	require.Equal(t, StagePlanned, wo.Stage)
	require.Equal(t, PriorityNormal, wo.Priority)
	require.Equal(t, int64(1000), wo.PlannedQty)
}

func TestCreateFromSalesLineDefaultsOpenQty(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	lineID := int64(21)
	wo, err := svc.Create(context.Background(), 2, CreateInput{
		SalesOrderLineID: &lineID,
		DueDate:          time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, int64(11), wo.PartID)
	require.Equal(t, int64(500), wo.PlannedQty)
	require.Equal(t, &lineID, wo.SalesOrderLineID)
}

func TestCreateFromUnknownLineFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	lineID := int64(99)
	_, err := svc.Create(context.Background(), 2, CreateInput{
		SalesOrderLineID: &lineID,
		DueDate:          time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestAdvanceAppendsHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	timeline, err := svc.Timeline(context.Background(), wo.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	require.Equal(t, StagePlanned, timeline[0].FromStage)
	require.Equal(t, StageMaterialReady, timeline[0].ToStage)
	require.Equal(t, StageInProduction, timeline[1].ToStage)
}

func TestAdvanceRejectsBackwards(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	_, err := svc.AdvanceStage(context.Background(), 2, wo.ID, StagePlanned, nil)
	require.ErrorIs(t, err, ErrInvalidStage)

	_, err = svc.AdvanceStage(context.Background(), 2, wo.ID, StageDispatched, nil)
	require.ErrorIs(t, err, ErrInvalidStage)
}

func TestHoldBlocksAdvanceAndProduction(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	held, err := svc.Hold(context.Background(), 2, wo.ID, "tooling broke")
	require.NoError(t, err)
	require.True(t, held.OnHold)
	require.Equal(t, StageInProduction, held.Stage)

	_, err = svc.AdvanceStage(context.Background(), 2, wo.ID, StageFinalQC, nil)
	require.ErrorIs(t, err, ErrOnHold)

	_, err = svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 100})
	require.ErrorIs(t, err, ErrOnHold)

	resumed, err := svc.Resume(context.Background(), 2, wo.ID)
	require.NoError(t, err)
	require.False(t, resumed.OnHold)
	require.Nil(t, resumed.HoldReason)
	require.Equal(t, StageInProduction, resumed.Stage)
}

func TestHoldRequiresReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := manualWO(t, svc)

	_, err := svc.Hold(context.Background(), 2, wo.ID, "  ")
	require.Error(t, err)
}

func TestReportProductionCreatesNumberedBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	first, err := svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 400, Machine: "CNC-3", Operator: "Ravi"})
	require.NoError(t, err)
	require.Len(t, first.Batches, 1)
	require.Equal(t, wo.WONumber+"-B1", first.Batches[0].BatchNumber)
	require.Equal(t, BatchPendingQC, first.Batches[0].Status())

	second, err := svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 600})
	require.NoError(t, err)
	require.Len(t, second.Batches, 2)
	require.Equal(t, wo.WONumber+"-B2", second.Batches[1].BatchNumber)
	require.Equal(t, int64(1000), second.Summary.Produced)
}

func TestReportProductionOverrunCap(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	_, err := svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 1050})
	require.NoError(t, err)

	_, err = svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 1})
	require.ErrorIs(t, err, ErrOverPlanned)
}

func TestReportProductionRejectsZeroAndWrongStage(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := manualWO(t, svc)

	_, err := svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 0})
	require.Error(t, err)

	_, err = svc.ReportProduction(context.Background(), 2, wo.ID, BatchInput{Qty: 10})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestBatchIdempotencyKeyBlocksReplay(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	first, err := svc.ReportProduction(context.Background(), 2, wo.ID,
		BatchInput{Qty: 400, IdempotencyKey: "shift-a-0820"})
	require.NoError(t, err)
	require.Len(t, first.Batches, 1)

	_, err = svc.ReportProduction(context.Background(), 2, wo.ID,
		BatchInput{Qty: 400, IdempotencyKey: "shift-a-0820"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	current, err := svc.Get(context.Background(), wo.ID)
	require.NoError(t, err)
	require.Len(t, current.Batches, 1)
	require.Equal(t, int64(400), current.Summary.Produced)
}

func TestCancelBlockedAfterPacking(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	_, err := svc.AdvanceStage(context.Background(), 2, wo.ID, StagePacking, nil)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), 2, wo.ID, nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelBeforePacking(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	wo := inProductionWO(t, svc)

	cancelled, err := svc.Cancel(context.Background(), 2, wo.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StageCancelled, cancelled.Stage)

	timeline, err := svc.Timeline(context.Background(), wo.ID)
	require.NoError(t, err)
	require.Equal(t, StageCancelled, timeline[len(timeline)-1].ToStage)
}

func TestWorkOrderOverdue(t *testing.T) {
	now := time.Date(2025, 9, 20, 8, 0, 0, 0, time.UTC)
	wo := WorkOrder{Stage: StageInProduction, DueDate: time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)}
	require.True(t, wo.Overdue(now))

	wo.Stage = StageReady
	require.False(t, wo.Overdue(now))

	wo.Stage = StageCancelled
	require.False(t, wo.Overdue(now))
}
