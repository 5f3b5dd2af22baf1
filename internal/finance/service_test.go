package finance

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

var testClock = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

type memoryRepo struct {
	invoices   map[int64]*Invoice
	payments   map[int64]*Payment
	dispatches map[int64]*DispatchRef
	prices     map[int64][]PricedCarton
	terms      map[int64]int
	names      map[int64]string
	nextID     int64
	seq        int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:   make(map[int64]*Invoice),
		payments:   make(map[int64]*Payment),
		dispatches: make(map[int64]*DispatchRef),
		prices:     make(map[int64][]PricedCarton),
		terms:      make(map[int64]int),
		names:      make(map[int64]string),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{r: r})
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	out := *inv
	out.CustomerName = r.names[inv.CustomerID]
	var paymentIDs []int64
	for pid, p := range r.payments {
		if p.InvoiceID == id {
			paymentIDs = append(paymentIDs, pid)
		}
	}
	sort.Slice(paymentIDs, func(i, j int) bool { return paymentIDs[i] < paymentIDs[j] })
	for _, pid := range paymentIDs {
		out.Payments = append(out.Payments, *r.payments[pid])
	}
	return out, nil
}

func (r *memoryRepo) List(_ context.Context, filters ListFilters) ([]Invoice, int, error) {
	var out []Invoice
	for id := int64(1); id <= r.nextID; id++ {
		inv, ok := r.invoices[id]
		if !ok {
			continue
		}
		if filters.Status != "" && inv.Status != filters.Status {
			continue
		}
		if filters.CustomerID != 0 && inv.CustomerID != filters.CustomerID {
			continue
		}
		out = append(out, *inv)
	}
	return out, len(out), nil
}

func (r *memoryRepo) CustomerName(_ context.Context, customerID int64) (string, error) {
	name, ok := r.names[customerID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (r *memoryRepo) LedgerDocs(_ context.Context, customerID int64) ([]LedgerDoc, error) {
	type keyed struct {
		doc LedgerDoc
		sub int
		ord int64
	}
	var docs []keyed
	for id := int64(1); id <= r.nextID; id++ {
		if inv, ok := r.invoices[id]; ok && inv.CustomerID == customerID && inv.Status != InvoiceCancelled {
			docs = append(docs, keyed{
				doc: LedgerDoc{DocType: "INVOICE", DocNumber: inv.InvoiceNumber, At: inv.IssueDate, Amount: inv.Total},
				ord: id,
			})
		}
		if p, ok := r.payments[id]; ok {
			inv := r.invoices[p.InvoiceID]
			if inv.CustomerID == customerID && inv.Status != InvoiceCancelled {
				docs = append(docs, keyed{
					doc: LedgerDoc{DocType: "PAYMENT", DocNumber: p.PaymentNumber, At: p.ReceivedDate, Amount: p.Amount},
					sub: 1,
					ord: id,
				})
			}
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].doc.At.Equal(docs[j].doc.At) {
			return docs[i].doc.At.Before(docs[j].doc.At)
		}
		if docs[i].sub != docs[j].sub {
			return docs[i].sub < docs[j].sub
		}
		return docs[i].ord < docs[j].ord
	})
	out := make([]LedgerDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.doc)
	}
	return out, nil
}

func (r *memoryRepo) OpenInvoices(_ context.Context) ([]OpenInvoice, error) {
	var out []OpenInvoice
	for id := int64(1); id <= r.nextID; id++ {
		inv, ok := r.invoices[id]
		if !ok {
			continue
		}
		if inv.Status != InvoiceIssued && inv.Status != InvoicePartPaid {
			continue
		}
		if !inv.Outstanding().IsPositive() {
			continue
		}
		out = append(out, OpenInvoice{
			CustomerID:   inv.CustomerID,
			CustomerName: r.names[inv.CustomerID],
			DueDate:      inv.DueDate,
			Outstanding:  inv.Outstanding(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (r *memoryRepo) LedgerDrift(_ context.Context) ([]Drift, error) {
	var out []Drift
	for id := int64(1); id <= r.nextID; id++ {
		inv, ok := r.invoices[id]
		if !ok || inv.Status == InvoiceCancelled {
			continue
		}
		sum := decimal.Zero
		for _, p := range r.payments {
			if p.InvoiceID == id {
				sum = sum.Add(p.Amount)
			}
		}
		if !sum.Equal(inv.PaidAmount) {
			out = append(out, Drift{
				InvoiceID:     id,
				InvoiceNumber: inv.InvoiceNumber,
				PaidAmount:    inv.PaidAmount,
				PaymentSum:    sum,
			})
		}
	}
	return out, nil
}

type memoryTx struct {
	r *memoryRepo
}

func (t *memoryTx) NextDocNumber(_ context.Context, prefix string, date time.Time) (string, error) {
	t.r.seq++
	return fmt.Sprintf("%s-%s-%04d", prefix, date.Format("0601"), t.r.seq), nil
}

func (t *memoryTx) LockDispatchForInvoice(_ context.Context, dispatchID int64) (DispatchRef, error) {
	d, ok := t.r.dispatches[dispatchID]
	if !ok {
		return DispatchRef{}, ErrNotFound
	}
	return *d, nil
}

func (t *memoryTx) HasActiveInvoice(_ context.Context, dispatchID int64) (bool, error) {
	for _, inv := range t.r.invoices {
		if inv.DispatchID == dispatchID && inv.Status != InvoiceCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) PricedCartons(_ context.Context, dispatchID int64) ([]PricedCarton, error) {
	return t.r.prices[dispatchID], nil
}

func (t *memoryTx) CustomerTerms(_ context.Context, customerID int64) (int, error) {
	days, ok := t.r.terms[customerID]
	if !ok {
		return 0, ErrNotFound
	}
	return days, nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv Invoice) (int64, error) {
	t.r.nextID++
	inv.ID = t.r.nextID
	inv.PaidAmount = decimal.Zero
	t.r.invoices[inv.ID] = &inv
	return inv.ID, nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id int64) (Invoice, error) {
	inv, ok := t.r.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return *inv, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) (int64, error) {
	t.r.nextID++
	p.ID = t.r.nextID
	t.r.payments[p.ID] = &p
	return p.ID, nil
}

func (t *memoryTx) UpdateInvoicePaid(_ context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error {
	inv, ok := t.r.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.PaidAmount = paid
	inv.Status = status
	return nil
}

func (t *memoryTx) CancelInvoice(_ context.Context, id int64) error {
	inv, ok := t.r.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = InvoiceCancelled
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	repo.dispatches[5] = &DispatchRef{ID: 5, Number: "DN-2508-0001", CustomerID: 2, Status: "DISPATCHED"}
	repo.prices[5] = []PricedCarton{
		{CartonNumber: "CT-2508-0001", WONumber: "WO-2508-0001", Qty: 300, UnitPrice: price("12.50")},
		{CartonNumber: "CT-2508-0002", WONumber: "WO-2508-0001", Qty: 200, UnitPrice: price("8.00")},
	}
	repo.terms[2] = 45
	repo.names[2] = "Acme Fasteners"
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return testClock }
	return svc, repo
}

func TestRaiseComputesAmounts(t *testing.T) {
	svc, _ := newTestService(t)

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)
	require.Equal(t, "INV-2508-0001", inv.InvoiceNumber)
	require.Equal(t, InvoiceIssued, inv.Status)
	require.Equal(t, int64(2), inv.CustomerID)
	require.True(t, inv.Subtotal.Equal(dec("5350")), inv.Subtotal.String())
	require.True(t, inv.TaxPercent.Equal(dec("18")))
	require.True(t, inv.TaxAmount.Equal(dec("963")), inv.TaxAmount.String())
	require.True(t, inv.Total.Equal(dec("6313")), inv.Total.String())
	require.Equal(t, time.Date(2025, 10, 4, 10, 0, 0, 0, time.UTC), inv.DueDate)
}

func TestRaiseOncePerDispatch(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)

	_, err = svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.ErrorIs(t, err, ErrDuplicateInvoice)

	_, err = svc.Cancel(context.Background(), 7, first.ID)
	require.NoError(t, err)

	second, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)
	require.Equal(t, "INV-2508-0002", second.InvoiceNumber)
}

func TestRaiseRequiresDispatchedStatus(t *testing.T) {
	svc, repo := newTestService(t)
	repo.dispatches[6] = &DispatchRef{ID: 6, Number: "DN-2508-0002", CustomerID: 2, Status: "READY"}
	repo.dispatches[7] = &DispatchRef{ID: 7, Number: "DN-2508-0003", CustomerID: 2, Status: "DELIVERED"}
	repo.prices[7] = []PricedCarton{{CartonNumber: "CT-2508-0009", WONumber: "WO-2508-0002", Qty: 10, UnitPrice: price("1.00")}}

	_, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 6})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 7})
	require.NoError(t, err)
}

func TestRaiseRejectsUnpricedCarton(t *testing.T) {
	svc, repo := newTestService(t)
	repo.dispatches[8] = &DispatchRef{ID: 8, Number: "DN-2508-0004", CustomerID: 2, Status: "DISPATCHED"}
	repo.prices[8] = []PricedCarton{{CartonNumber: "CT-2508-0010", WONumber: "WO-2508-0003", Qty: 10}}

	_, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 8})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAmountsRoundHalfUp(t *testing.T) {
	svc, repo := newTestService(t)
	repo.dispatches[9] = &DispatchRef{ID: 9, Number: "DN-2508-0005", CustomerID: 2, Status: "DISPATCHED"}
	repo.prices[9] = []PricedCarton{{CartonNumber: "CT-2508-0011", WONumber: "WO-2508-0004", Qty: 3, UnitPrice: price("33.335")}}
	zero := decimal.Zero

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 9, TaxPercent: &zero})
	require.NoError(t, err)
	require.True(t, inv.Subtotal.Equal(dec("100.01")), inv.Subtotal.String())
	require.True(t, inv.Total.Equal(dec("100.01")), inv.Total.String())
}

func TestPaymentLifecycle(t *testing.T) {
	svc, _ := newTestService(t)

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)

	inv, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("3000"), Mode: ModeNEFT})
	require.NoError(t, err)
	require.Equal(t, InvoicePartPaid, inv.Status)
	require.True(t, inv.PaidAmount.Equal(dec("3000")))
	require.Len(t, inv.Payments, 1)
	require.Equal(t, "PAY-2508-0002", inv.Payments[0].PaymentNumber)
	require.True(t, inv.Outstanding().Equal(dec("3313")))

	inv, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("3313"), Mode: ModeUPI})
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, inv.Status)
	require.True(t, inv.Outstanding().IsZero())

	_, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("1"), Mode: ModeCash})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPaymentNeverExceedsOutstanding(t *testing.T) {
	svc, _ := newTestService(t)

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("7000"), Mode: ModeRTGS})
	require.ErrorIs(t, err, ErrOverPayment)

	_, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("6313"), Mode: ModeRTGS})
	require.NoError(t, err)
}

func TestPaymentRejectsBadMode(t *testing.T) {
	svc, _ := newTestService(t)

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("100"), Mode: "BARTER"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelOnlyBeforePayments(t *testing.T) {
	svc, _ := newTestService(t)

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)

	_, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("100"), Mode: ModeCash})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), 7, inv.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestLedgerRunningBalance(t *testing.T) {
	svc, repo := newTestService(t)
	repo.dispatches[7] = &DispatchRef{ID: 7, Number: "DN-2508-0003", CustomerID: 2, Status: "DELIVERED"}
	repo.prices[7] = []PricedCarton{{CartonNumber: "CT-2508-0009", WONumber: "WO-2508-0002", Qty: 100, UnitPrice: price("5.00")}}

	first, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)

	payDate := testClock.AddDate(0, 0, 1)
	_, err = svc.RecordPayment(context.Background(), 7, first.ID, PaymentInput{Amount: dec("3000"), Mode: ModeNEFT, ReceivedDate: &payDate})
	require.NoError(t, err)

	issueDate := testClock.AddDate(0, 0, 2)
	_, err = svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 7, IssueDate: &issueDate})
	require.NoError(t, err)

	ledger, err := svc.Ledger(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "Acme Fasteners", ledger.CustomerName)
	require.Len(t, ledger.Entries, 3)

	require.Equal(t, "INVOICE", ledger.Entries[0].DocType)
	require.True(t, ledger.Entries[0].Balance.Equal(dec("6313")))
	require.Equal(t, "PAYMENT", ledger.Entries[1].DocType)
	require.True(t, ledger.Entries[1].Balance.Equal(dec("3313")))
	require.Equal(t, "INVOICE", ledger.Entries[2].DocType)
	require.True(t, ledger.Entries[2].Balance.Equal(dec("3903")))
	require.True(t, ledger.Balance.Equal(dec("3903")))
}

func seedOpenInvoice(repo *memoryRepo, customerID int64, due time.Time, outstanding string) {
	repo.nextID++
	repo.invoices[repo.nextID] = &Invoice{
		ID:            repo.nextID,
		InvoiceNumber: fmt.Sprintf("INV-SEED-%04d", repo.nextID),
		CustomerID:    customerID,
		IssueDate:     due.AddDate(0, 0, -45),
		DueDate:       due,
		Total:         dec(outstanding),
		PaidAmount:    decimal.Zero,
		Status:        InvoiceIssued,
	}
}

func TestOutstandingSummaryAging(t *testing.T) {
	svc, repo := newTestService(t)

	seedOpenInvoice(repo, 2, testClock.AddDate(0, 0, -10), "100")
	seedOpenInvoice(repo, 2, testClock.AddDate(0, 0, -40), "100")
	seedOpenInvoice(repo, 2, testClock.AddDate(0, 0, -70), "100")
	seedOpenInvoice(repo, 2, testClock.AddDate(0, 0, -100), "100")
	seedOpenInvoice(repo, 2, testClock.AddDate(0, 0, 10), "100")

	summary, err := svc.OutstandingSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, summary, 1)

	row := summary[0]
	require.Equal(t, int64(2), row.CustomerID)
	require.Equal(t, 5, row.InvoiceCount)
	require.True(t, row.Outstanding.Equal(dec("500")), row.Outstanding.String())
	require.True(t, row.Overdue.Equal(dec("400")), row.Overdue.String())
	require.True(t, row.Aging.Days0to30.Equal(dec("200")))
	require.True(t, row.Aging.Days31to60.Equal(dec("100")))
	require.True(t, row.Aging.Days61to90.Equal(dec("100")))
	require.True(t, row.Aging.Over90.Equal(dec("100")))
}

func TestVerifyLedgerFlagsDrift(t *testing.T) {
	svc, repo := newTestService(t)

	inv, err := svc.Raise(context.Background(), 7, RaiseInput{DispatchID: 5})
	require.NoError(t, err)
	_, err = svc.RecordPayment(context.Background(), 7, inv.ID, PaymentInput{Amount: dec("3000"), Mode: ModeNEFT})
	require.NoError(t, err)

	drift, err := svc.VerifyLedger(context.Background())
	require.NoError(t, err)
	require.Empty(t, drift)

	repo.invoices[inv.ID].PaidAmount = dec("2500")
	drift, err = svc.VerifyLedger(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 1)
	require.Equal(t, inv.ID, drift[0].InvoiceID)
	require.True(t, drift[0].PaymentSum.Equal(dec("3000")))
}
