package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

var testClock = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

type stageChange struct {
	woID int64
	from string
	to   string
}

type batchRec struct {
	woID       int64
	approved   int64
	dispatched int64
}

type soRec struct {
	customer int64
	status   string
}

type memoryRepo struct {
	cartons    map[int64]*CartonRow
	batches    map[int64]*batchRec
	wos        map[int64]*WORow
	lines      map[int64]*SalesLineRow
	sos        map[int64]*soRec
	dispatches map[int64]*Dispatch
	links      map[int64][]int64
	history    []stageChange
	nextID     int64
	seq        int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		cartons:    make(map[int64]*CartonRow),
		batches:    make(map[int64]*batchRec),
		wos:        make(map[int64]*WORow),
		lines:      make(map[int64]*SalesLineRow),
		sos:        make(map[int64]*soRec),
		dispatches: make(map[int64]*Dispatch),
		links:      make(map[int64][]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{r: r})
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Dispatch, error) {
	d, ok := r.dispatches[id]
	if !ok {
		return Dispatch{}, ErrNotFound
	}
	out := *d
	for _, cartonID := range r.links[id] {
		c := r.cartons[cartonID]
		out.Cartons = append(out.Cartons, CartonLine{
			CartonID:     c.ID,
			CartonNumber: c.CartonNumber,
			WOID:         c.WOID,
			BatchID:      c.BatchID,
			Qty:          c.Qty,
		})
		out.TotalQty += c.Qty
	}
	out.CartonCount = len(out.Cartons)
	return out, nil
}

func (r *memoryRepo) List(_ context.Context, filters ListFilters) ([]Dispatch, int, error) {
	var out []Dispatch
	for id := int64(1); id <= r.nextID; id++ {
		d, ok := r.dispatches[id]
		if !ok {
			continue
		}
		if filters.Status != "" && d.Status != filters.Status {
			continue
		}
		if filters.CustomerID != 0 && d.CustomerID != filters.CustomerID {
			continue
		}
		out = append(out, *d)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Register(_ context.Context, from, to time.Time, fn func(RegisterRow) error) error {
	for id := int64(1); id <= r.nextID; id++ {
		d, ok := r.dispatches[id]
		if !ok || d.Status == StatusCancelled {
			continue
		}
		if d.DispatchDate.Before(from) || d.DispatchDate.After(to) {
			continue
		}
		row := RegisterRow{
			DispatchNumber: d.DispatchNumber,
			DispatchDate:   d.DispatchDate,
			CustomerName:   fmt.Sprintf("customer-%d", d.CustomerID),
			Status:         string(d.Status),
		}
		for _, cartonID := range r.links[id] {
			row.CartonCount++
			row.TotalQty += r.cartons[cartonID].Qty
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

type memoryTx struct {
	r *memoryRepo
}

func (t *memoryTx) NextDocNumber(_ context.Context, prefix string, date time.Time) (string, error) {
	t.r.seq++
	return fmt.Sprintf("%s-%s-%04d", prefix, date.Format("0601"), t.r.seq), nil
}

func (t *memoryTx) LockCartons(_ context.Context, ids []int64) ([]CartonRow, error) {
	var out []CartonRow
	for _, id := range ids {
		if c, ok := t.r.cartons[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (t *memoryTx) ActiveDispatchConflicts(_ context.Context, cartonIDs []int64) ([]int64, error) {
	wanted := make(map[int64]bool)
	for _, id := range cartonIDs {
		wanted[id] = true
	}
	var out []int64
	for dispatchID, linked := range t.r.links {
		if t.r.dispatches[dispatchID].Status == StatusCancelled {
			continue
		}
		for _, cartonID := range linked {
			if wanted[cartonID] {
				out = append(out, cartonID)
			}
		}
	}
	return out, nil
}

func (t *memoryTx) WOCustomers(_ context.Context, woIDs []int64) ([]WOCustomer, error) {
	var out []WOCustomer
	for _, id := range woIDs {
		wo, ok := t.r.wos[id]
		if !ok {
			continue
		}
		wc := WOCustomer{WOID: wo.ID, WONumber: wo.Number}
		if wo.SalesOrderLineID != nil {
			line := t.r.lines[*wo.SalesOrderLineID]
			customer := t.r.sos[line.SalesOrderID].customer
			wc.CustomerID = &customer
		}
		out = append(out, wc)
	}
	return out, nil
}

func (t *memoryTx) InsertDispatch(_ context.Context, d Dispatch) (int64, error) {
	t.r.nextID++
	d.ID = t.r.nextID
	t.r.dispatches[d.ID] = &d
	return d.ID, nil
}

func (t *memoryTx) InsertDispatchCartons(_ context.Context, dispatchID int64, cartonIDs []int64) error {
	t.r.links[dispatchID] = append([]int64(nil), cartonIDs...)
	return nil
}

func (t *memoryTx) LockDispatch(_ context.Context, id int64) (DispatchRow, error) {
	d, ok := t.r.dispatches[id]
	if !ok {
		return DispatchRow{}, ErrNotFound
	}
	return DispatchRow{ID: d.ID, Number: d.DispatchNumber, CustomerID: d.CustomerID, Status: d.Status}, nil
}

func (t *memoryTx) DispatchCartonIDs(_ context.Context, dispatchID int64) ([]int64, error) {
	ids := append([]int64(nil), t.r.links[dispatchID]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *memoryTx) SetCartonsDispatched(_ context.Context, cartonIDs []int64) error {
	for _, id := range cartonIDs {
		t.r.cartons[id].Status = "DISPATCHED"
	}
	return nil
}

func (t *memoryTx) LockBatches(_ context.Context, _ []int64) error { return nil }

func (t *memoryTx) BumpBatchDispatched(_ context.Context, batchID, qty int64) error {
	t.r.batches[batchID].dispatched += qty
	return nil
}

func (t *memoryTx) LockWOs(_ context.Context, ids []int64) ([]WORow, error) {
	var out []WORow
	for _, id := range ids {
		if wo, ok := t.r.wos[id]; ok {
			out = append(out, *wo)
		}
	}
	return out, nil
}

func (t *memoryTx) WODispatchTotals(_ context.Context, woID int64) (int64, int64, error) {
	var approved, dispatched int64
	for _, b := range t.r.batches {
		if b.woID != woID {
			continue
		}
		approved += b.approved
		dispatched += b.dispatched
	}
	return approved, dispatched, nil
}

func (t *memoryTx) AdvanceWOStage(_ context.Context, woID int64, from, to string, _ int64) error {
	t.r.wos[woID].Stage = to
	t.r.history = append(t.r.history, stageChange{woID: woID, from: from, to: to})
	return nil
}

func (t *memoryTx) LockSalesLines(_ context.Context, ids []int64) ([]SalesLineRow, error) {
	var out []SalesLineRow
	for _, id := range ids {
		if l, ok := t.r.lines[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (t *memoryTx) BumpLineDelivered(_ context.Context, lineID, qty int64) error {
	t.r.lines[lineID].DeliveredQty += qty
	return nil
}

func (t *memoryTx) OpenLineCount(_ context.Context, salesOrderID int64) (int64, error) {
	var n int64
	for _, l := range t.r.lines {
		if l.SalesOrderID == salesOrderID && l.DeliveredQty < l.Quantity {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) CompleteSalesOrder(_ context.Context, salesOrderID int64) (bool, error) {
	so := t.r.sos[salesOrderID]
	if so.status != "CONFIRMED" {
		return false, nil
	}
	so.status = "COMPLETED"
	return true, nil
}

func (t *memoryTx) SalesOrderWOs(_ context.Context, salesOrderID int64) ([]WORow, error) {
	var out []WORow
	for id := int64(1); id <= 100; id++ {
		wo, ok := t.r.wos[id]
		if !ok || wo.SalesOrderLineID == nil {
			continue
		}
		if t.r.lines[*wo.SalesOrderLineID].SalesOrderID == salesOrderID {
			out = append(out, *wo)
		}
	}
	return out, nil
}

func (t *memoryTx) MarkDispatched(_ context.Context, id int64, at time.Time) error {
	d := t.r.dispatches[id]
	d.Status = StatusDispatched
	d.DispatchedAt = &at
	return nil
}

func (t *memoryTx) MarkDelivered(_ context.Context, id int64, at time.Time, podRef *string) error {
	d := t.r.dispatches[id]
	d.Status = StatusDelivered
	d.DeliveredAt = &at
	d.PODReference = podRef
	return nil
}

func (t *memoryTx) CancelDispatch(_ context.Context, id int64) error {
	t.r.dispatches[id].Status = StatusCancelled
	return nil
}

type stubPartners struct {
	transporters map[int64]bool
}

func (s stubPartners) IsTransporter(_ context.Context, id int64) (bool, error) {
	return s.transporters[id], nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	lineID := int64(100)
	repo.sos[1] = &soRec{customer: 2, status: "CONFIRMED"}
	repo.lines[100] = &SalesLineRow{ID: 100, SalesOrderID: 1, Quantity: 500}
	repo.wos[1] = &WORow{ID: 1, Number: "WO-2508-0001", Stage: "READY_TO_DISPATCH", SalesOrderLineID: &lineID}
	repo.batches[10] = &batchRec{woID: 1, approved: 500}
	repo.cartons[1] = &CartonRow{ID: 1, CartonNumber: "CT-2508-0001", WOID: 1, BatchID: 10, Qty: 300, Status: "CLOSED"}
	repo.cartons[2] = &CartonRow{ID: 2, CartonNumber: "CT-2508-0002", WOID: 1, BatchID: 10, Qty: 200, Status: "CLOSED"}
	svc := NewService(repo, stubPartners{transporters: map[int64]bool{41: true}}, nil, nil)
	svc.now = func() time.Time { return testClock }
	return svc, repo
}

func TestCreateChecksCartonState(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 99}})
	require.ErrorIs(t, err, ErrNotFound)

	repo.cartons[3] = &CartonRow{ID: 3, CartonNumber: "CT-2508-0003", WOID: 1, BatchID: 10, Qty: 50, Status: "OPEN"}
	_, err = svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{3}})
	require.ErrorIs(t, err, ErrCartonUnavailable)

	first, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1}})
	require.NoError(t, err)
	require.Equal(t, "DN-2508-0001", first.DispatchNumber)
	require.Equal(t, StatusReady, first.Status)

	_, err = svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.ErrorIs(t, err, ErrCartonUnavailable)
}

func TestCreateRejectsForeignCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 3, CartonIDs: []int64{1}})
	require.ErrorIs(t, err, ErrCustomerMismatch)
}

func TestCreateRejectsNonTransporter(t *testing.T) {
	svc, _ := newTestService(t)
	badID := int64(99)

	_, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1}, TransporterID: &badID})
	require.ErrorIs(t, err, shared.ErrValidation)

	goodID := int64(41)
	_, err = svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1}, TransporterID: &goodID})
	require.NoError(t, err)
}

func TestDispatchCascadeCompletesChain(t *testing.T) {
	svc, repo := newTestService(t)

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)

	d, err := svc.MarkDispatched(context.Background(), 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, d.Status)
	require.NotNil(t, d.DispatchedAt)
	require.Equal(t, testClock, *d.DispatchedAt)

	require.Equal(t, "DISPATCHED", repo.cartons[1].Status)
	require.Equal(t, "DISPATCHED", repo.cartons[2].Status)
	require.Equal(t, int64(500), repo.batches[10].dispatched)
	require.Equal(t, int64(500), repo.lines[100].DeliveredQty)
	require.Equal(t, "COMPLETED", repo.sos[1].status)
	require.Equal(t, "COMPLETED", repo.wos[1].Stage)

	require.Equal(t, []stageChange{
		{woID: 1, from: "READY_TO_DISPATCH", to: "DISPATCHED"},
		{woID: 1, from: "DISPATCHED", to: "COMPLETED"},
	}, repo.history)
}

func TestPartialDispatchLeavesOrderOpen(t *testing.T) {
	svc, repo := newTestService(t)
	repo.lines[100].Quantity = 800

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = svc.MarkDispatched(context.Background(), 7, created.ID)
	require.NoError(t, err)

	require.Equal(t, "DISPATCHED", repo.wos[1].Stage)
	require.Equal(t, int64(500), repo.lines[100].DeliveredQty)
	require.Equal(t, "CONFIRMED", repo.sos[1].status)
	require.Len(t, repo.history, 1)
}

func TestDispatchBlocksVoidedCarton(t *testing.T) {
	svc, repo := newTestService(t)

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)

	repo.cartons[2].Status = "VOID"
	_, err = svc.MarkDispatched(context.Background(), 7, created.ID)
	require.ErrorIs(t, err, ErrCartonUnavailable)

	require.Equal(t, StatusReady, repo.dispatches[created.ID].Status)
	require.Equal(t, int64(0), repo.batches[10].dispatched)
}

func TestDeliverOnlyAfterDispatch(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)

	_, err = svc.MarkDelivered(context.Background(), 7, created.ID, nil, nil)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.MarkDispatched(context.Background(), 7, created.ID)
	require.NoError(t, err)

	pod := "POD-1142"
	d, err := svc.MarkDelivered(context.Background(), 7, created.ID, nil, &pod)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, d.Status)
	require.NotNil(t, d.DeliveredAt)
	require.Equal(t, "POD-1142", *d.PODReference)
}

func TestCancelFreesCartons(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), 7, created.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	again, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)
	require.Equal(t, "DN-2508-0002", again.DispatchNumber)
}

func TestStockWOSkipsSalesCascade(t *testing.T) {
	svc, repo := newTestService(t)
	repo.wos[1].SalesOrderLineID = nil

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = svc.MarkDispatched(context.Background(), 7, created.ID)
	require.NoError(t, err)

	require.Equal(t, "DISPATCHED", repo.wos[1].Stage)
	require.Equal(t, int64(0), repo.lines[100].DeliveredQty)
	require.Equal(t, "CONFIRMED", repo.sos[1].status)
}

func TestExportRegisterStreams(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), 7, CreateInput{CustomerID: 2, CartonIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = svc.MarkDispatched(context.Background(), 7, created.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	from := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.ExportRegister(context.Background(), &buf, from, to))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "# Dispatch Register\r\n"))
	require.Contains(t, out, "# From 2025-08-01 To 2025-08-31")
	require.Contains(t, out, "Dispatch No,Date,Customer,Transporter,Vehicle,LR Number,Status,Cartons,Quantity,Gross Kg")
	require.Contains(t, out, "DN-2508-0001,2025-08-20,customer-2,,,,DISPATCHED,2,500,0.00")
	require.Contains(t, out, "Totals,,,,,,,2,500,0.00")
}
