package procurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

type memoryProcRepo struct {
	rpos     map[int64]*RawPurchaseOrder
	receipts map[int64][]MaterialReceipt
	nextID   int64
	seq      int
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		rpos:     map[int64]*RawPurchaseOrder{},
		receipts: map[int64][]MaterialReceipt{},
	}
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryProcTx{repo: r})
}

func (t *memoryProcTx) NextDocNumber(_ context.Context, prefix string, date time.Time) (string, error) {
	t.repo.seq++
	return fmt.Sprintf("%s-%s-%04d", prefix, date.Format("0601"), t.repo.seq), nil
}

func (t *memoryProcTx) InsertRPO(_ context.Context, rpo RawPurchaseOrder) (int64, error) {
	t.repo.nextID++
	rpo.ID = t.repo.nextID
	t.repo.rpos[rpo.ID] = &rpo
	return rpo.ID, nil
}

func (t *memoryProcTx) LockRPO(_ context.Context, id int64) (RawPurchaseOrder, error) {
	rpo, ok := t.repo.rpos[id]
	if !ok {
		return RawPurchaseOrder{}, ErrNotFound
	}
	return *rpo, nil
}

func (t *memoryProcTx) UpdateRPOStatus(_ context.Context, id int64, status RPOStatus) error {
	rpo, ok := t.repo.rpos[id]
	if !ok {
		return ErrNotFound
	}
	rpo.Status = status
	return nil
}

func (t *memoryProcTx) AddReceivedKg(_ context.Context, id int64, kg float64) error {
	rpo, ok := t.repo.rpos[id]
	if !ok {
		return ErrNotFound
	}
	rpo.ReceivedKg += kg
	return nil
}

func (t *memoryProcTx) InsertReceipt(_ context.Context, receipt MaterialReceipt) (int64, error) {
	t.repo.nextID++
	receipt.ID = t.repo.nextID
	t.repo.receipts[receipt.RPOID] = append(t.repo.receipts[receipt.RPOID], receipt)
	return receipt.ID, nil
}

func (r *memoryProcRepo) GetRPO(_ context.Context, id int64) (RawPurchaseOrder, error) {
	rpo, ok := r.rpos[id]
	if !ok {
		return RawPurchaseOrder{}, ErrNotFound
	}
	clone := *rpo
	clone.Receipts = append([]MaterialReceipt(nil), r.receipts[id]...)
	return clone, nil
}

func (r *memoryProcRepo) ListRPOs(_ context.Context, filters ListFilters) ([]RawPurchaseOrder, int, error) {
	out := []RawPurchaseOrder{}
	for _, rpo := range r.rpos {
		if filters.Status != "" && rpo.Status != filters.Status {
			continue
		}
		out = append(out, *rpo)
	}
	return out, len(out), nil
}

type allSuppliers struct{}

func (allSuppliers) IsSupplier(context.Context, int64) (bool, error) { return true, nil }

func newTestService(repo *memoryProcRepo) *Service {
	svc := NewService(repo, allSuppliers{}, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC) }
	return svc
}

func orderedRPO(t *testing.T, svc *Service) RawPurchaseOrder {
	t.Helper()
	rpo, err := svc.CreateRPO(context.Background(), 4, CreateRPOInput{
		SupplierID:   2,
		MaterialSpec: "en8",
		Section:      "round_20mm",
		OrderedKg:    1000,
		RatePerKg:    62.5,
		ExpectedDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	rpo, err = svc.MarkOrdered(context.Background(), 4, rpo.ID)
	require.NoError(t, err)
	return rpo
}

func TestCreateRPONormalizes(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)

	rpo, err := svc.CreateRPO(context.Background(), 4, CreateRPOInput{
		SupplierID:   2,
		MaterialSpec: " en8 ",
		Section:      "round_20mm",
		OrderedKg:    1000,
		ExpectedDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "RPO-2508-0001", rpo.RPONumber)
	require.Equal(t, "EN8", rpo.MaterialSpec)
	require.Equal(t, "ROUND_20MM", rpo.Section)
	require.Equal(t, RPOStatusDraft, rpo.Status)
}

func TestCreateRPORejectsBadInput(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)

	_, err := svc.CreateRPO(context.Background(), 4, CreateRPOInput{
		SupplierID: 2, MaterialSpec: "EN8", OrderedKg: 0,
		ExpectedDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	_, err = svc.CreateRPO(context.Background(), 4, CreateRPOInput{
		SupplierID: 2, MaterialSpec: "", OrderedKg: 100,
		ExpectedDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
}

func TestReceiptMovesStatus(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	rpo := orderedRPO(t, svc)

	partial, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 400, HeatNo: "h123", MillTCNo: "TC-9",
	})
	require.NoError(t, err)
	require.Equal(t, RPOStatusPartial, partial.Status)
	require.InDelta(t, 400, partial.ReceivedKg, 0.001)
	require.Len(t, partial.Receipts, 1)
	require.Equal(t, "H123", partial.Receipts[0].HeatNo)
	require.Equal(t, "MGRN-2508-0002", partial.Receipts[0].GRNNumber)

	full, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 600, HeatNo: "H124",
	})
	require.NoError(t, err)
	require.Equal(t, RPOStatusReceived, full.Status)
	require.InDelta(t, 1000, full.ReceivedKg, 0.001)
}

func TestReceiptToleranceBound(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	rpo := orderedRPO(t, svc)

	// 1020 kg sits exactly at the 2% tolerance for 1000 kg ordered.
	ok, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 1020, HeatNo: "H200",
	})
	require.NoError(t, err)
	require.Equal(t, RPOStatusReceived, ok.Status)

	_, err = svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 1, HeatNo: "H201",
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReceiptOverToleranceRejected(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	rpo := orderedRPO(t, svc)

	_, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 1021, HeatNo: "H300",
	})
	require.ErrorIs(t, err, ErrOverTolerance)

	current, err := svc.Get(context.Background(), rpo.ID)
	require.NoError(t, err)
	require.Zero(t, current.ReceivedKg)
	require.Empty(t, current.Receipts)
}

func TestReceiptRequiresHeatNumber(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	rpo := orderedRPO(t, svc)

	_, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{ReceivedKg: 100})
	require.Error(t, err)
}

func TestCloseOnlyAfterFullReceipt(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	rpo := orderedRPO(t, svc)

	_, err := svc.Close(context.Background(), 4, rpo.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{ReceivedKg: 1000, HeatNo: "H1"})
	require.NoError(t, err)

	closed, err := svc.Close(context.Background(), 4, rpo.ID)
	require.NoError(t, err)
	require.Equal(t, RPOStatusClosed, closed.Status)
}

func TestCancelBlockedAfterReceipt(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	rpo := orderedRPO(t, svc)

	_, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{ReceivedKg: 50, HeatNo: "H1"})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), 4, rpo.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestOverdueDerivation(t *testing.T) {
	now := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
	rpo := RawPurchaseOrder{
		Status:       RPOStatusOrdered,
		ExpectedDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	require.True(t, rpo.Overdue(now))

	rpo.Status = RPOStatusReceived
	require.False(t, rpo.Overdue(now))

	rpo.Status = RPOStatusOrdered
	rpo.ExpectedDate = time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	require.False(t, rpo.Overdue(now))
}

func TestReceivableKg(t *testing.T) {
	rpo := RawPurchaseOrder{OrderedKg: 1000, ReceivedKg: 400}
	require.InDelta(t, 620, rpo.ReceivableKg(), 0.001)

	rpo.ReceivedKg = 1020
	require.Zero(t, rpo.ReceivableKg())
}

type memoryIdemStore struct {
	keys map[string]bool
}

func (m *memoryIdemStore) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdemStore) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestReceiptIdempotencyKeyBlocksReplay(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	svc.SetIdempotencyStore(&memoryIdemStore{keys: map[string]bool{}})
	rpo := orderedRPO(t, svc)

	first, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 400, HeatNo: "H500", IdempotencyKey: "challan-81",
	})
	require.NoError(t, err)
	require.Len(t, first.Receipts, 1)

	_, err = svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 400, HeatNo: "H500", IdempotencyKey: "challan-81",
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	current, err := svc.Get(context.Background(), rpo.ID)
	require.NoError(t, err)
	require.Len(t, current.Receipts, 1)
	require.InDelta(t, 400, current.ReceivedKg, 0.001)
}

func TestReceiptFailureReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := newTestService(repo)
	store := &memoryIdemStore{keys: map[string]bool{}}
	svc.SetIdempotencyStore(store)
	rpo := orderedRPO(t, svc)

	_, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 1021, HeatNo: "H600", IdempotencyKey: "challan-82",
	})
	require.ErrorIs(t, err, ErrOverTolerance)
	require.Empty(t, store.keys)

	done, err := svc.RecordReceipt(context.Background(), 4, rpo.ID, ReceiptInput{
		ReceivedKg: 1000, HeatNo: "H600", IdempotencyKey: "challan-82",
	})
	require.NoError(t, err)
	require.Equal(t, RPOStatusReceived, done.Status)
}
