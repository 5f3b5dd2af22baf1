package sales

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/izzyftw1/rvi-sub014/internal/platform/db"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Repository provides PostgreSQL backed persistence for sales orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	InsertOrder(ctx context.Context, order SalesOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateHeader(ctx context.Context, id int64, customerID int64, poNumber string, orderDate time.Time, notes *string) error
	UpdateStatus(ctx context.Context, id int64, status Status, actorID int64, reason *string) error
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

func (t *txRepo) InsertOrder(ctx context.Context, order SalesOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales_orders (so_number, customer_id, customer_po_number, order_date, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id`,
		order.SONumber, order.CustomerID, order.CustomerPONumber, order.OrderDate,
		string(order.Status), order.Notes, order.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales_order_lines (sales_order_id, line_no, part_id, quantity, unit_price, due_date, delivered_qty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
		RETURNING id`,
		line.SalesOrderID, line.LineNo, line.PartID, line.Quantity, line.UnitPrice, line.DueDate).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sales_order_lines WHERE sales_order_id = $1`, orderID)
	return err
}

func (t *txRepo) UpdateHeader(ctx context.Context, id int64, customerID int64, poNumber string, orderDate time.Time, notes *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales_orders SET customer_id = $2, customer_po_number = $3, order_date = $4, notes = $5, updated_at = NOW()
		WHERE id = $1`, id, customerID, poNumber, orderDate, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64, reason *string) error {
	var (
		query string
		args  []any
	)
	switch status {
	case StatusConfirmed:
		query = `UPDATE sales_orders SET status = $2, confirmed_by = $3, confirmed_at = NOW(), updated_at = NOW() WHERE id = $1`
		args = []any{id, string(status), actorID}
	case StatusCancelled:
		query = `UPDATE sales_orders SET status = $2, cancelled_by = $3, cancelled_at = NOW(), cancellation_reason = $4, updated_at = NOW() WHERE id = $1`
		args = []any{id, string(status), actorID, reason}
	default:
		query = `UPDATE sales_orders SET status = $2, updated_at = NOW() WHERE id = $1`
		args = []any{id, string(status)}
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const orderColumns = `id, so_number, customer_id, customer_po_number, order_date, status, notes,
	created_by, confirmed_by, confirmed_at, cancelled_by, cancelled_at, cancellation_reason,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*SalesOrder, error) {
	var o SalesOrder
	err := row.Scan(&o.ID, &o.SONumber, &o.CustomerID, &o.CustomerPONumber, &o.OrderDate, &o.Status, &o.Notes,
		&o.CreatedBy, &o.ConfirmedBy, &o.ConfirmedAt, &o.CancelledBy, &o.CancelledAt, &o.CancellationReason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetOrder fetches a sales order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*SalesOrder, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	lines, err := r.orderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (r *Repository) orderLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sales_order_id, line_no, part_id, quantity, unit_price, due_date, delivered_qty, created_at, updated_at
		FROM sales_order_lines WHERE sales_order_id = $1 ORDER BY line_no ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SalesOrderID, &l.LineNo, &l.PartID, &l.Quantity, &l.UnitPrice,
			&l.DueDate, &l.DeliveredQty, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListOrders returns orders matching the filters plus the total count.
func (r *Repository) ListOrders(ctx context.Context, req ListOrdersRequest) ([]SalesOrder, int, error) {
	query := `SELECT ` + orderColumns + ` FROM sales_orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM sales_orders WHERE 1=1`
	args := []any{}
	argCount := 0

	if req.CustomerID != nil {
		argCount++
		cond := ` AND customer_id = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *req.CustomerID)
	}
	if req.Status != nil {
		argCount++
		cond := ` AND status = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, string(*req.Status))
	}
	if req.DateFrom != nil {
		argCount++
		cond := ` AND order_date >= $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *req.DateFrom)
	}
	if req.DateTo != nil {
		argCount++
		cond := ` AND order_date <= $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *req.DateTo)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY order_date DESC, id DESC`
	if req.PerPage > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, req.PerPage)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (req.Page - 1) * req.PerPage
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := []SalesOrder{}
	for rows.Next() {
		var o SalesOrder
		if err := rows.Scan(&o.ID, &o.SONumber, &o.CustomerID, &o.CustomerPONumber, &o.OrderDate, &o.Status, &o.Notes,
			&o.CreatedBy, &o.ConfirmedBy, &o.ConfirmedAt, &o.CancelledBy, &o.CancelledAt, &o.CancellationReason,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

// OpenLines lists confirmed-order lines with undelivered quantity remaining.
func (r *Repository) OpenLines(ctx context.Context, customerID *int64) ([]OpenLine, error) {
	query := `
		SELECT sol.id, so.id, so.so_number, sol.line_no, sol.part_id, sol.quantity, sol.delivered_qty, sol.due_date
		FROM sales_order_lines sol
		JOIN sales_orders so ON so.id = sol.sales_order_id
		WHERE so.status = 'CONFIRMED' AND sol.delivered_qty < sol.quantity`
	args := []any{}
	if customerID != nil {
		query += ` AND so.customer_id = $1`
		args = append(args, *customerID)
	}
	query += ` ORDER BY sol.due_date ASC NULLS LAST, so.id ASC, sol.line_no ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := []OpenLine{}
	for rows.Next() {
		var l OpenLine
		if err := rows.Scan(&l.LineID, &l.SalesOrderID, &l.SONumber, &l.LineNo, &l.PartID,
			&l.Ordered, &l.Delivered, &l.DueDate); err != nil {
			return nil, err
		}
		l.Open = l.Ordered - l.Delivered
		open = append(open, l)
	}
	return open, rows.Err()
}

// LineForPlanning fetches one line with its order context.
func (r *Repository) LineForPlanning(ctx context.Context, lineID int64) (PlanningLine, error) {
	var l PlanningLine
	err := r.pool.QueryRow(ctx, `
		SELECT sol.id, so.id, so.so_number, so.status, sol.part_id,
			GREATEST(sol.quantity - sol.delivered_qty, 0), sol.due_date
		FROM sales_order_lines sol
		JOIN sales_orders so ON so.id = sol.sales_order_id
		WHERE sol.id = $1`, lineID).
		Scan(&l.LineID, &l.SalesOrderID, &l.SONumber, &l.OrderStatus, &l.PartID, &l.OpenQty, &l.DueDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PlanningLine{}, ErrNotFound
		}
		return PlanningLine{}, err
	}
	return l, nil
}

// CountWorkOrdersPastPlanned reports shop-floor work that blocks cancellation.
func (r *Repository) CountWorkOrdersPastPlanned(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM work_orders wo
		JOIN sales_order_lines sol ON sol.id = wo.sales_order_line_id
		WHERE sol.sales_order_id = $1 AND wo.stage NOT IN ('PLANNED', 'CANCELLED')`, orderID).Scan(&count)
	return count, err
}
