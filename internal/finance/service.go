package finance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, filters ListFilters) ([]Invoice, int, error)
	CustomerName(ctx context.Context, customerID int64) (string, error)
	LedgerDocs(ctx context.Context, customerID int64) ([]LedgerDoc, error)
	OpenInvoices(ctx context.Context) ([]OpenInvoice, error)
	LedgerDrift(ctx context.Context) ([]Drift, error)
}

// AuditPort records actor actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// IntegrationHandler receives notifications after committed changes.
type IntegrationHandler interface {
	OnInvoiceChanged(ctx context.Context, invoiceID int64, action string)
}

// defaultTaxPercent is applied when the caller does not override GST.
var defaultTaxPercent = decimal.NewFromInt(18)

// Service orchestrates the customer invoice ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs the finance service. audit and integration may be
// nil.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, integration: integration, now: time.Now}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "invoice",
			EntityID: invoiceID,
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
}

func (s *Service) notify(ctx context.Context, invoiceID int64, action string) {
	if s.integration != nil {
		s.integration.OnInvoiceChanged(ctx, invoiceID, action)
	}
}

// RaiseInput carries a new invoice.
type RaiseInput struct {
	DispatchID int64
	TaxPercent *decimal.Decimal
	IssueDate  *time.Time
	Notes      *string
}

// Raise books an invoice against a dispatched consignment. Line amounts
// come from the sales prices behind each carton's work order; the due date
// follows the customer's payment terms.
func (s *Service) Raise(ctx context.Context, actorID int64, in RaiseInput) (Invoice, error) {
	if in.DispatchID <= 0 {
		return Invoice{}, fmt.Errorf("%w: dispatch required", shared.ErrValidation)
	}
	taxPercent := defaultTaxPercent
	if in.TaxPercent != nil {
		taxPercent = *in.TaxPercent
	}
	if taxPercent.IsNegative() || taxPercent.GreaterThan(decimal.NewFromInt(100)) {
		return Invoice{}, fmt.Errorf("%w: tax percent out of range", shared.ErrValidation)
	}
	issueDate := s.now().UTC()
	if in.IssueDate != nil {
		issueDate = *in.IssueDate
	}

	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dispatch, err := tx.LockDispatchForInvoice(ctx, in.DispatchID)
		if err != nil {
			return err
		}
		if dispatch.Status != "DISPATCHED" && dispatch.Status != "DELIVERED" {
			return fmt.Errorf("%w: dispatch %s is %s", ErrInvalidState, dispatch.Number, dispatch.Status)
		}
		invoiced, err := tx.HasActiveInvoice(ctx, in.DispatchID)
		if err != nil {
			return err
		}
		if invoiced {
			return fmt.Errorf("%w: %s", ErrDuplicateInvoice, dispatch.Number)
		}

		cartons, err := tx.PricedCartons(ctx, in.DispatchID)
		if err != nil {
			return err
		}
		if len(cartons) == 0 {
			return fmt.Errorf("%w: dispatch %s has no cartons", shared.ErrValidation, dispatch.Number)
		}
		subtotal := decimal.Zero
		for _, c := range cartons {
			if !c.UnitPrice.Valid {
				return fmt.Errorf("%w: work order %s has no sales price", ErrInvalidState, c.WONumber)
			}
			subtotal = subtotal.Add(c.UnitPrice.Decimal.Mul(decimal.NewFromInt(c.Qty)))
		}
		subtotal = round2(subtotal)
		taxAmount := round2(subtotal.Mul(taxPercent).Div(decimal.NewFromInt(100)))
		total := subtotal.Add(taxAmount)

		terms, err := tx.CustomerTerms(ctx, dispatch.CustomerID)
		if err != nil {
			return err
		}
		number, err := tx.NextDocNumber(ctx, "INV", issueDate)
		if err != nil {
			return err
		}
		invoiceID, err = tx.InsertInvoice(ctx, Invoice{
			InvoiceNumber: number,
			DispatchID:    in.DispatchID,
			CustomerID:    dispatch.CustomerID,
			IssueDate:     issueDate,
			DueDate:       issueDate.AddDate(0, 0, terms),
			Subtotal:      subtotal,
			TaxPercent:    taxPercent,
			TaxAmount:     taxAmount,
			Total:         total,
			Status:        InvoiceIssued,
			Notes:         in.Notes,
			CreatedBy:     actorID,
		})
		return err
	})
	if err != nil {
		return Invoice{}, err
	}

	s.recordAudit(ctx, actorID, "finance:invoice_raise", invoiceID, map[string]any{
		"dispatch_id": in.DispatchID,
	})
	s.notify(ctx, invoiceID, "invoice_raised")
	return s.repo.Get(ctx, invoiceID)
}

// PaymentInput carries one settlement.
type PaymentInput struct {
	Amount       decimal.Decimal
	Mode         PaymentMode
	Reference    string
	ReceivedDate *time.Time
	Notes        *string
}

// RecordPayment applies a payment to an open invoice. The sum of payments
// never exceeds the invoice total.
func (s *Service) RecordPayment(ctx context.Context, actorID, invoiceID int64, in PaymentInput) (Invoice, error) {
	if !in.Mode.Valid() {
		return Invoice{}, fmt.Errorf("%w: unknown payment mode %q", shared.ErrValidation, in.Mode)
	}
	amount := round2(in.Amount)
	if !amount.IsPositive() {
		return Invoice{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	receivedDate := s.now().UTC()
	if in.ReceivedDate != nil {
		receivedDate = *in.ReceivedDate
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceIssued && inv.Status != InvoicePartPaid {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, inv.InvoiceNumber, inv.Status)
		}
		outstanding := inv.Outstanding()
		if amount.GreaterThan(outstanding) {
			return fmt.Errorf("%w: %s outstanding on %s", ErrOverPayment, outstanding.StringFixed(2), inv.InvoiceNumber)
		}
		number, err := tx.NextDocNumber(ctx, "PAY", receivedDate)
		if err != nil {
			return err
		}
		if _, err := tx.InsertPayment(ctx, Payment{
			PaymentNumber: number,
			InvoiceID:     invoiceID,
			Amount:        amount,
			Mode:          in.Mode,
			Reference:     in.Reference,
			ReceivedDate:  receivedDate,
			Notes:         in.Notes,
			CreatedBy:     actorID,
		}); err != nil {
			return err
		}
		paid := inv.PaidAmount.Add(amount)
		status := InvoicePartPaid
		if paid.Equal(inv.Total) {
			status = InvoicePaid
		}
		return tx.UpdateInvoicePaid(ctx, invoiceID, paid, status)
	})
	if err != nil {
		return Invoice{}, err
	}

	s.recordAudit(ctx, actorID, "finance:payment_record", invoiceID, map[string]any{
		"amount": amount.StringFixed(2), "mode": string(in.Mode),
	})
	s.notify(ctx, invoiceID, "payment_recorded")
	return s.repo.Get(ctx, invoiceID)
}

// Cancel voids an invoice before any payment lands.
func (s *Service) Cancel(ctx context.Context, actorID, invoiceID int64) (Invoice, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceIssued || inv.PaidAmount.IsPositive() {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, inv.InvoiceNumber, inv.Status)
		}
		return tx.CancelInvoice(ctx, invoiceID)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actorID, "finance:invoice_cancel", invoiceID, nil)
	s.notify(ctx, invoiceID, "invoice_cancelled")
	return s.repo.Get(ctx, invoiceID)
}

// Get fetches one invoice with payments.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of invoices.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
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

// Ledger builds the statement for one customer: invoice debits, payment
// credits, running balance.
func (s *Service) Ledger(ctx context.Context, customerID int64) (Ledger, error) {
	name, err := s.repo.CustomerName(ctx, customerID)
	if err != nil {
		return Ledger{}, err
	}
	docs, err := s.repo.LedgerDocs(ctx, customerID)
	if err != nil {
		return Ledger{}, err
	}
	ledger := Ledger{CustomerID: customerID, CustomerName: name, Balance: decimal.Zero}
	for _, doc := range docs {
		entry := LedgerEntry{Date: doc.At, DocType: doc.DocType, DocNumber: doc.DocNumber}
		if doc.DocType == "INVOICE" {
			entry.Debit = doc.Amount
			ledger.Balance = ledger.Balance.Add(doc.Amount)
		} else {
			entry.Credit = doc.Amount
			ledger.Balance = ledger.Balance.Sub(doc.Amount)
		}
		entry.Balance = ledger.Balance
		ledger.Entries = append(ledger.Entries, entry)
	}
	return ledger, nil
}

// OutstandingSummary rolls up open receivables per customer with aging
// buckets, worst exposure first.
func (s *Service) OutstandingSummary(ctx context.Context) ([]CustomerOutstanding, error) {
	open, err := s.repo.OpenInvoices(ctx)
	if err != nil {
		return nil, err
	}
	today := s.now().UTC().Truncate(24 * time.Hour)

	byCustomer := make(map[int64]*CustomerOutstanding)
	order := []int64{}
	for _, inv := range open {
		row, ok := byCustomer[inv.CustomerID]
		if !ok {
			row = &CustomerOutstanding{CustomerID: inv.CustomerID, CustomerName: inv.CustomerName}
			byCustomer[inv.CustomerID] = row
			order = append(order, inv.CustomerID)
		}
		row.InvoiceCount++
		row.Outstanding = row.Outstanding.Add(inv.Outstanding)

		due := inv.DueDate.UTC().Truncate(24 * time.Hour)
		age := int(today.Sub(due).Hours() / 24)
		if age > 0 {
			row.Overdue = row.Overdue.Add(inv.Outstanding)
		}
		switch {
		case age <= 30:
			row.Aging.Days0to30 = row.Aging.Days0to30.Add(inv.Outstanding)
		case age <= 60:
			row.Aging.Days31to60 = row.Aging.Days31to60.Add(inv.Outstanding)
		case age <= 90:
			row.Aging.Days61to90 = row.Aging.Days61to90.Add(inv.Outstanding)
		default:
			row.Aging.Over90 = row.Aging.Over90.Add(inv.Outstanding)
		}
	}

	out := make([]CustomerOutstanding, 0, len(order))
	for _, id := range order {
		out = append(out, *byCustomer[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Outstanding.Equal(out[j].Outstanding) {
			return out[i].Outstanding.GreaterThan(out[j].Outstanding)
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	return out, nil
}

// VerifyLedger recomputes payment sums against stored invoice balances.
// The weekly integrity job reports any drift it returns.
func (s *Service) VerifyLedger(ctx context.Context) ([]Drift, error) {
	return s.repo.LedgerDrift(ctx)
}
