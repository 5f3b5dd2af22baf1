package finance

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/izzyftw1/rvi-sub014/internal/platform/db"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Repository provides PostgreSQL backed persistence for invoices and
// payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DispatchRef is the dispatch slice finance validates before invoicing.
type DispatchRef struct {
	ID         int64
	Number     string
	CustomerID int64
	Status     string
}

// PricedCarton pairs a dispatched carton with its sales line price.
// UnitPrice is invalid for stock work orders without a sales line.
type PricedCarton struct {
	CartonNumber string
	WONumber     string
	Qty          int64
	UnitPrice    decimal.NullDecimal
}

// LedgerDoc is one raw document row feeding the customer ledger.
type LedgerDoc struct {
	DocType   string
	DocNumber string
	At        time.Time
	Amount    decimal.Decimal
}

// OpenInvoice is one unpaid invoice row feeding the receivables summary.
type OpenInvoice struct {
	CustomerID   int64
	CustomerName string
	DueDate      time.Time
	Outstanding  decimal.Decimal
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	LockDispatchForInvoice(ctx context.Context, dispatchID int64) (DispatchRef, error)
	HasActiveInvoice(ctx context.Context, dispatchID int64) (bool, error)
	PricedCartons(ctx context.Context, dispatchID int64) ([]PricedCarton, error)
	CustomerTerms(ctx context.Context, customerID int64) (int, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdateInvoicePaid(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error
	CancelInvoice(ctx context.Context, id int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error) {
	return shared.NextDocNumber(ctx, t.tx, prefix, date)
}

func (t *txRepo) LockDispatchForInvoice(ctx context.Context, dispatchID int64) (DispatchRef, error) {
	var d DispatchRef
	err := t.tx.QueryRow(ctx, `
		SELECT id, dispatch_number, customer_id, status
		FROM dispatches WHERE id = $1 FOR UPDATE`, dispatchID).
		Scan(&d.ID, &d.Number, &d.CustomerID, &d.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return DispatchRef{}, ErrNotFound
	}
	return d, err
}

func (t *txRepo) HasActiveInvoice(ctx context.Context, dispatchID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices WHERE dispatch_id = $1 AND status <> 'CANCELLED'
		)`, dispatchID).Scan(&exists)
	return exists, err
}

func (t *txRepo) PricedCartons(ctx context.Context, dispatchID int64) ([]PricedCarton, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT c.carton_number, w.wo_number, c.qty, sol.unit_price
		FROM dispatch_cartons dc
		JOIN cartons c ON c.id = dc.carton_id
		JOIN work_orders w ON w.id = c.wo_id
		LEFT JOIN sales_order_lines sol ON sol.id = w.sales_order_line_id
		WHERE dc.dispatch_id = $1 ORDER BY c.id`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PricedCarton
	for rows.Next() {
		var pc PricedCarton
		if err := rows.Scan(&pc.CartonNumber, &pc.WONumber, &pc.Qty, &pc.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func (t *txRepo) CustomerTerms(ctx context.Context, customerID int64) (int, error) {
	var days int
	err := t.tx.QueryRow(ctx, `
		SELECT payment_terms_days FROM customers WHERE id = $1`, customerID).Scan(&days)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return days, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (invoice_number, dispatch_id, customer_id, issue_date, due_date,
			subtotal, tax_percent, tax_amount, total, paid_amount, status, notes, created_by,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12, NOW(), NOW())
		RETURNING id`,
		inv.InvoiceNumber, inv.DispatchID, inv.CustomerID, inv.IssueDate, inv.DueDate,
		inv.Subtotal, inv.TaxPercent, inv.TaxAmount, inv.Total, inv.Status, inv.Notes,
		inv.CreatedBy).Scan(&id)
	return id, err
}

const invoiceCoreColumns = `id, invoice_number, dispatch_id, customer_id, issue_date, due_date,
	subtotal, tax_percent, tax_amount, total, paid_amount, status, notes, created_by,
	created_at, updated_at`

func (t *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	var inv Invoice
	err := t.tx.QueryRow(ctx, `SELECT `+invoiceCoreColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id).
		Scan(&inv.ID, &inv.InvoiceNumber, &inv.DispatchID, &inv.CustomerID, &inv.IssueDate, &inv.DueDate,
			&inv.Subtotal, &inv.TaxPercent, &inv.TaxAmount, &inv.Total, &inv.PaidAmount, &inv.Status,
			&inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (payment_number, invoice_id, amount, mode, reference, received_date,
			notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id`,
		p.PaymentNumber, p.InvoiceID, p.Amount, p.Mode, p.Reference, p.ReceivedDate,
		p.Notes, p.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateInvoicePaid(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoices SET paid_amount = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, paid, status)
	return err
}

func (t *txRepo) CancelInvoice(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoices SET status = 'CANCELLED', updated_at = NOW() WHERE id = $1`, id)
	return err
}

const invoiceColumns = `i.id, i.invoice_number, i.dispatch_id, i.customer_id, cu.name, i.issue_date,
	i.due_date, i.subtotal, i.tax_percent, i.tax_amount, i.total, i.paid_amount, i.status,
	i.notes, i.created_by, i.created_at, i.updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.DispatchID, &inv.CustomerID, &inv.CustomerName,
		&inv.IssueDate, &inv.DueDate, &inv.Subtotal, &inv.TaxPercent, &inv.TaxAmount, &inv.Total,
		&inv.PaidAmount, &inv.Status, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

// Get loads one invoice with its payments.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i JOIN customers cu ON cu.id = i.customer_id
		WHERE i.id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, payment_number, invoice_id, amount, mode, reference, received_date, notes,
			created_by, created_at
		FROM payments WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.PaymentNumber, &p.InvoiceID, &p.Amount, &p.Mode, &p.Reference,
			&p.ReceivedDate, &p.Notes, &p.CreatedBy, &p.CreatedAt); err != nil {
			return Invoice{}, err
		}
		inv.Payments = append(inv.Payments, p)
	}
	return inv, rows.Err()
}

// List returns a filtered page of invoices, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
	base := ` FROM invoices i JOIN customers cu ON cu.id = i.customer_id WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Status != "" {
		argCount++
		base += ` AND i.status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if filters.CustomerID != 0 {
		argCount++
		base += ` AND i.customer_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.CustomerID)
	}
	if filters.From != nil {
		argCount++
		base += ` AND i.issue_date >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		base += ` AND i.issue_date <= $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}
	if filters.Overdue {
		base += ` AND i.status IN ('ISSUED', 'PART_PAID') AND i.due_date < CURRENT_DATE AND i.total > i.paid_amount`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invoiceColumns + base + ` ORDER BY i.issue_date DESC, i.id DESC`
	if filters.Limit > 0 {
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		query += ` LIMIT ` + strconv.Itoa(filters.Limit) + ` OFFSET ` + strconv.Itoa(offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// CustomerName resolves a customer for ledger headers.
func (r *Repository) CustomerName(ctx context.Context, customerID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM customers WHERE id = $1`, customerID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}

// LedgerDocs returns invoice and payment documents for one customer in
// chronological order. Cancelled invoices and their payments are excluded.
func (r *Repository) LedgerDocs(ctx context.Context, customerID int64) ([]LedgerDoc, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc_type, doc_number, at, amount FROM (
			SELECT 'INVOICE' AS doc_type, i.invoice_number AS doc_number, i.issue_date AS at,
				i.total AS amount, 0 AS sub, i.id AS ord
			FROM invoices i
			WHERE i.customer_id = $1 AND i.status <> 'CANCELLED'
			UNION ALL
			SELECT 'PAYMENT', p.payment_number, p.received_date, p.amount, 1, p.id
			FROM payments p
			JOIN invoices i ON i.id = p.invoice_id
			WHERE i.customer_id = $1 AND i.status <> 'CANCELLED'
		) docs ORDER BY at ASC, sub ASC, ord ASC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerDoc
	for rows.Next() {
		var d LedgerDoc
		if err := rows.Scan(&d.DocType, &d.DocNumber, &d.At, &d.Amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OpenInvoices returns unpaid invoice rows for the receivables summary.
func (r *Repository) OpenInvoices(ctx context.Context) ([]OpenInvoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.customer_id, cu.name, i.due_date, i.total - i.paid_amount
		FROM invoices i
		JOIN customers cu ON cu.id = i.customer_id
		WHERE i.status IN ('ISSUED', 'PART_PAID') AND i.total > i.paid_amount
		ORDER BY i.customer_id, i.due_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenInvoice
	for rows.Next() {
		var o OpenInvoice
		if err := rows.Scan(&o.CustomerID, &o.CustomerName, &o.DueDate, &o.Outstanding); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// LedgerDrift reports invoices whose paid_amount disagrees with the sum of
// their payments.
func (r *Repository) LedgerDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.invoice_number, i.paid_amount, COALESCE(SUM(p.amount), 0)
		FROM invoices i
		LEFT JOIN payments p ON p.invoice_id = i.id
		WHERE i.status <> 'CANCELLED'
		GROUP BY i.id
		HAVING i.paid_amount <> COALESCE(SUM(p.amount), 0)
		ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.InvoiceID, &d.InvoiceNumber, &d.PaidAmount, &d.PaymentSum); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
