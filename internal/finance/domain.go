package finance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates a missing invoice or payment.
var ErrNotFound = errors.New("finance: not found")

// ErrInvalidState rejects an operation against the wrong invoice status.
var ErrInvalidState = errors.New("finance: invalid state")

// ErrOverPayment indicates a payment beyond the outstanding balance.
var ErrOverPayment = errors.New("finance: payment exceeds outstanding balance")

// ErrDuplicateInvoice indicates a dispatch that is already invoiced.
var ErrDuplicateInvoice = errors.New("finance: dispatch already invoiced")

// InvoiceStatus walks ISSUED -> PART_PAID -> PAID. CANCELLED is reachable
// only while no payment has been recorded.
type InvoiceStatus string

const (
	InvoiceIssued    InvoiceStatus = "ISSUED"
	InvoicePartPaid  InvoiceStatus = "PART_PAID"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// PaymentMode enumerates accepted settlement channels.
type PaymentMode string

const (
	ModeNEFT   PaymentMode = "NEFT"
	ModeRTGS   PaymentMode = "RTGS"
	ModeCheque PaymentMode = "CHEQUE"
	ModeUPI    PaymentMode = "UPI"
	ModeCash   PaymentMode = "CASH"
)

// Valid reports whether the mode is known.
func (m PaymentMode) Valid() bool {
	switch m {
	case ModeNEFT, ModeRTGS, ModeCheque, ModeUPI, ModeCash:
		return true
	}
	return false
}

// Invoice is a customer invoice raised against one dispatch. Amounts carry
// two decimal places, rounded half up.
type Invoice struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	DispatchID    int64           `json:"dispatch_id"`
	CustomerID    int64           `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxPercent    decimal.Decimal `json:"tax_percent"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Total         decimal.Decimal `json:"total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Status        InvoiceStatus   `json:"status"`
	Notes         *string         `json:"notes,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Payments      []Payment       `json:"payments,omitempty"`
}

// Outstanding returns the unpaid remainder.
func (i Invoice) Outstanding() decimal.Decimal {
	return i.Total.Sub(i.PaidAmount)
}

// Overdue reports whether the invoice is past due with a balance open.
func (i Invoice) Overdue(now time.Time) bool {
	if i.Status != InvoiceIssued && i.Status != InvoicePartPaid {
		return false
	}
	if !i.Outstanding().IsPositive() {
		return false
	}
	return i.DueDate.Before(now.UTC().Truncate(24 * time.Hour))
}

// Payment is one settlement against an invoice.
type Payment struct {
	ID            int64           `json:"id"`
	PaymentNumber string          `json:"payment_number"`
	InvoiceID     int64           `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          PaymentMode     `json:"mode"`
	Reference     string          `json:"reference,omitempty"`
	ReceivedDate  time.Time       `json:"received_date"`
	Notes         *string         `json:"notes,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerEntry is one row of a customer ledger: invoice debits, payment
// credits, running balance.
type LedgerEntry struct {
	Date      time.Time       `json:"date"`
	DocType   string          `json:"doc_type"`
	DocNumber string          `json:"doc_number"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// Ledger is the statement for one customer.
type Ledger struct {
	CustomerID   int64           `json:"customer_id"`
	CustomerName string          `json:"customer_name,omitempty"`
	Entries      []LedgerEntry   `json:"entries"`
	Balance      decimal.Decimal `json:"balance"`
}

// AgingBuckets splits an outstanding amount by days past due. Amounts not
// yet due count in the 0-30 bucket.
type AgingBuckets struct {
	Days0to30  decimal.Decimal `json:"days_0_30"`
	Days31to60 decimal.Decimal `json:"days_31_60"`
	Days61to90 decimal.Decimal `json:"days_61_90"`
	Over90     decimal.Decimal `json:"over_90"`
}

// CustomerOutstanding is one row of the receivables summary.
type CustomerOutstanding struct {
	CustomerID   int64           `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	InvoiceCount int             `json:"invoice_count"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	Overdue      decimal.Decimal `json:"overdue"`
	Aging        AgingBuckets    `json:"aging"`
}

// Drift is one invoice whose stored paid amount disagrees with the sum of
// its payments. The ledger integrity job reports these.
type Drift struct {
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentSum    decimal.Decimal `json:"payment_sum"`
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	Page       int
	Limit      int
	Status     InvoiceStatus
	CustomerID int64
	From       *time.Time
	To         *time.Time
	Overdue    bool
}

// round2 normalises money to two places, half up.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
