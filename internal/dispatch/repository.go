package dispatch

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

// Repository provides PostgreSQL backed persistence for dispatches.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CartonRow is the carton projection dispatch locks and validates.
type CartonRow struct {
	ID           int64
	CartonNumber string
	WOID         int64
	BatchID      int64
	Qty          int64
	Status       string
}

// WOCustomer maps a work order to the customer behind its sales line.
// CustomerID is nil for stock work orders without a sales line.
type WOCustomer struct {
	WOID       int64
	WONumber   string
	CustomerID *int64
}

// WORow is the work-order slice the dispatch cascade reads under lock.
type WORow struct {
	ID               int64
	Number           string
	Stage            string
	SalesOrderLineID *int64
}

// SalesLineRow is the sales-line slice the cascade bumps under lock.
type SalesLineRow struct {
	ID           int64
	SalesOrderID int64
	Quantity     int64
	DeliveredQty int64
}

// DispatchRow is the minimal dispatch projection locked by mutations.
type DispatchRow struct {
	ID         int64
	Number     string
	CustomerID int64
	Status     Status
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	LockCartons(ctx context.Context, ids []int64) ([]CartonRow, error)
	ActiveDispatchConflicts(ctx context.Context, cartonIDs []int64) ([]int64, error)
	WOCustomers(ctx context.Context, woIDs []int64) ([]WOCustomer, error)
	InsertDispatch(ctx context.Context, d Dispatch) (int64, error)
	InsertDispatchCartons(ctx context.Context, dispatchID int64, cartonIDs []int64) error
	LockDispatch(ctx context.Context, id int64) (DispatchRow, error)
	DispatchCartonIDs(ctx context.Context, dispatchID int64) ([]int64, error)
	SetCartonsDispatched(ctx context.Context, cartonIDs []int64) error
	LockBatches(ctx context.Context, ids []int64) error
	BumpBatchDispatched(ctx context.Context, batchID, qty int64) error
	LockWOs(ctx context.Context, ids []int64) ([]WORow, error)
	WODispatchTotals(ctx context.Context, woID int64) (approved, dispatched int64, err error)
	AdvanceWOStage(ctx context.Context, woID int64, from, to string, actorID int64) error
	LockSalesLines(ctx context.Context, ids []int64) ([]SalesLineRow, error)
	BumpLineDelivered(ctx context.Context, lineID, qty int64) error
	OpenLineCount(ctx context.Context, salesOrderID int64) (int64, error)
	CompleteSalesOrder(ctx context.Context, salesOrderID int64) (bool, error)
	SalesOrderWOs(ctx context.Context, salesOrderID int64) ([]WORow, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	MarkDelivered(ctx context.Context, id int64, at time.Time, podRef *string) error
	CancelDispatch(ctx context.Context, id int64) error
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

func (t *txRepo) LockCartons(ctx context.Context, ids []int64) ([]CartonRow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, carton_number, wo_id, batch_id, qty, status
		FROM cartons WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CartonRow
	for rows.Next() {
		var c CartonRow
		if err := rows.Scan(&c.ID, &c.CartonNumber, &c.WOID, &c.BatchID, &c.Qty, &c.Status); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txRepo) ActiveDispatchConflicts(ctx context.Context, cartonIDs []int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT dc.carton_id
		FROM dispatch_cartons dc
		JOIN dispatches d ON d.id = dc.dispatch_id
		WHERE dc.carton_id = ANY($1) AND d.status <> 'CANCELLED'`, cartonIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *txRepo) WOCustomers(ctx context.Context, woIDs []int64) ([]WOCustomer, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT w.id, w.wo_number, so.customer_id
		FROM work_orders w
		LEFT JOIN sales_order_lines sol ON sol.id = w.sales_order_line_id
		LEFT JOIN sales_orders so ON so.id = sol.sales_order_id
		WHERE w.id = ANY($1)`, woIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WOCustomer
	for rows.Next() {
		var wc WOCustomer
		if err := rows.Scan(&wc.WOID, &wc.WONumber, &wc.CustomerID); err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertDispatch(ctx context.Context, d Dispatch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO dispatches (dispatch_number, customer_id, dispatch_date, transporter_id,
			vehicle_no, lr_number, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		d.DispatchNumber, d.CustomerID, d.DispatchDate, d.TransporterID,
		d.VehicleNo, d.LRNumber, d.Status, d.Notes, d.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertDispatchCartons(ctx context.Context, dispatchID int64, cartonIDs []int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dispatch_cartons (dispatch_id, carton_id)
		SELECT $1, UNNEST($2::BIGINT[])`, dispatchID, cartonIDs)
	return err
}

func (t *txRepo) LockDispatch(ctx context.Context, id int64) (DispatchRow, error) {
	var d DispatchRow
	err := t.tx.QueryRow(ctx, `
		SELECT id, dispatch_number, customer_id, status
		FROM dispatches WHERE id = $1 FOR UPDATE`, id).
		Scan(&d.ID, &d.Number, &d.CustomerID, &d.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return DispatchRow{}, ErrNotFound
	}
	return d, err
}

func (t *txRepo) DispatchCartonIDs(ctx context.Context, dispatchID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT carton_id FROM dispatch_cartons WHERE dispatch_id = $1 ORDER BY carton_id`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *txRepo) SetCartonsDispatched(ctx context.Context, cartonIDs []int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE cartons SET status = 'DISPATCHED', updated_at = NOW() WHERE id = ANY($1)`, cartonIDs)
	return err
}

func (t *txRepo) LockBatches(ctx context.Context, ids []int64) error {
	_, err := t.tx.Exec(ctx, `
		SELECT id FROM production_batches WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	return err
}

func (t *txRepo) BumpBatchDispatched(ctx context.Context, batchID, qty int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE production_batches SET dispatched_qty = dispatched_qty + $2, updated_at = NOW()
		WHERE id = $1`, batchID, qty)
	return err
}

func (t *txRepo) LockWOs(ctx context.Context, ids []int64) ([]WORow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, wo_number, stage, sales_order_line_id
		FROM work_orders WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WORow
	for rows.Next() {
		var wo WORow
		if err := rows.Scan(&wo.ID, &wo.Number, &wo.Stage, &wo.SalesOrderLineID); err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (t *txRepo) WODispatchTotals(ctx context.Context, woID int64) (int64, int64, error) {
	var approved, dispatched int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(approved_qty), 0), COALESCE(SUM(dispatched_qty), 0)
		FROM production_batches WHERE wo_id = $1`, woID).Scan(&approved, &dispatched)
	return approved, dispatched, err
}

func (t *txRepo) AdvanceWOStage(ctx context.Context, woID int64, from, to string, actorID int64) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET stage = $2, stage_entered_at = NOW(), updated_at = NOW()
		WHERE id = $1`, woID, to); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wo_stage_history (wo_id, from_stage, to_stage, changed_by, note, changed_at)
		VALUES ($1, $2, $3, $4, NULL, NOW())`, woID, from, to, actorID)
	return err
}

func (t *txRepo) LockSalesLines(ctx context.Context, ids []int64) ([]SalesLineRow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, sales_order_id, quantity, delivered_qty
		FROM sales_order_lines WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesLineRow
	for rows.Next() {
		var l SalesLineRow
		if err := rows.Scan(&l.ID, &l.SalesOrderID, &l.Quantity, &l.DeliveredQty); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) BumpLineDelivered(ctx context.Context, lineID, qty int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sales_order_lines SET delivered_qty = delivered_qty + $2, updated_at = NOW()
		WHERE id = $1`, lineID, qty)
	return err
}

func (t *txRepo) OpenLineCount(ctx context.Context, salesOrderID int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM sales_order_lines
		WHERE sales_order_id = $1 AND delivered_qty < quantity`, salesOrderID).Scan(&n)
	return n, err
}

func (t *txRepo) CompleteSalesOrder(ctx context.Context, salesOrderID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales_orders SET status = 'COMPLETED', updated_at = NOW()
		WHERE id = $1 AND status = 'CONFIRMED'`, salesOrderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) SalesOrderWOs(ctx context.Context, salesOrderID int64) ([]WORow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT w.id, w.wo_number, w.stage, w.sales_order_line_id
		FROM work_orders w
		JOIN sales_order_lines sol ON sol.id = w.sales_order_line_id
		WHERE sol.sales_order_id = $1 ORDER BY w.id FOR UPDATE OF w`, salesOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WORow
	for rows.Next() {
		var wo WORow
		if err := rows.Scan(&wo.ID, &wo.Number, &wo.Stage, &wo.SalesOrderLineID); err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (t *txRepo) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE dispatches SET status = 'DISPATCHED', dispatched_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
	return err
}

func (t *txRepo) MarkDelivered(ctx context.Context, id int64, at time.Time, podRef *string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE dispatches SET status = 'DELIVERED', delivered_at = $2, pod_reference = $3, updated_at = NOW()
		WHERE id = $1`, id, at, podRef)
	return err
}

func (t *txRepo) CancelDispatch(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE dispatches SET status = 'CANCELLED', updated_at = NOW() WHERE id = $1`, id)
	return err
}

const dispatchColumns = `d.id, d.dispatch_number, d.customer_id, cu.name, d.dispatch_date,
	d.transporter_id, COALESCE(p.name, ''), d.vehicle_no, d.lr_number, d.status, d.notes,
	d.dispatched_at, d.delivered_at, d.pod_reference, d.created_by, d.created_at, d.updated_at,
	(SELECT COUNT(*) FROM dispatch_cartons dc WHERE dc.dispatch_id = d.id),
	(SELECT COALESCE(SUM(c.qty), 0) FROM dispatch_cartons dc JOIN cartons c ON c.id = dc.carton_id
		WHERE dc.dispatch_id = d.id)`

const dispatchJoins = ` FROM dispatches d
	JOIN customers cu ON cu.id = d.customer_id
	LEFT JOIN partners p ON p.id = d.transporter_id`

func scanDispatch(row pgx.Row) (Dispatch, error) {
	var d Dispatch
	err := row.Scan(&d.ID, &d.DispatchNumber, &d.CustomerID, &d.CustomerName, &d.DispatchDate,
		&d.TransporterID, &d.TransporterName, &d.VehicleNo, &d.LRNumber, &d.Status, &d.Notes,
		&d.DispatchedAt, &d.DeliveredAt, &d.PODReference, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
		&d.CartonCount, &d.TotalQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dispatch{}, ErrNotFound
	}
	return d, err
}

// Get loads one dispatch with its carton detail.
func (r *Repository) Get(ctx context.Context, id int64) (Dispatch, error) {
	d, err := scanDispatch(r.pool.QueryRow(ctx, `SELECT `+dispatchColumns+dispatchJoins+` WHERE d.id = $1`, id))
	if err != nil {
		return Dispatch{}, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.carton_number, c.wo_id, w.wo_number, c.batch_id, c.qty, c.gross_weight_kg
		FROM dispatch_cartons dc
		JOIN cartons c ON c.id = dc.carton_id
		JOIN work_orders w ON w.id = c.wo_id
		WHERE dc.dispatch_id = $1 ORDER BY c.id`, id)
	if err != nil {
		return Dispatch{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l CartonLine
		if err := rows.Scan(&l.CartonID, &l.CartonNumber, &l.WOID, &l.WONumber, &l.BatchID, &l.Qty, &l.GrossWeightKg); err != nil {
			return Dispatch{}, err
		}
		d.Cartons = append(d.Cartons, l)
	}
	return d, rows.Err()
}

// List returns a filtered page of dispatches, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Dispatch, int, error) {
	base := dispatchJoins + ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Status != "" {
		argCount++
		base += ` AND d.status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if filters.CustomerID != 0 {
		argCount++
		base += ` AND d.customer_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.CustomerID)
	}
	if filters.From != nil {
		argCount++
		base += ` AND d.dispatch_date >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		base += ` AND d.dispatch_date <= $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + dispatchColumns + base + ` ORDER BY d.dispatch_date DESC, d.id DESC`
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

	var out []Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// Register streams register rows for the CSV export, oldest first.
func (r *Repository) Register(ctx context.Context, from, to time.Time, fn func(RegisterRow) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT d.dispatch_number, d.dispatch_date, cu.name, COALESCE(p.name, ''),
			d.vehicle_no, d.lr_number, d.status,
			COUNT(c.id), COALESCE(SUM(c.qty), 0), COALESCE(SUM(c.gross_weight_kg), 0)
		FROM dispatches d
		JOIN customers cu ON cu.id = d.customer_id
		LEFT JOIN partners p ON p.id = d.transporter_id
		LEFT JOIN dispatch_cartons dc ON dc.dispatch_id = d.id
		LEFT JOIN cartons c ON c.id = dc.carton_id
		WHERE d.dispatch_date >= $1 AND d.dispatch_date <= $2 AND d.status <> 'CANCELLED'
		GROUP BY d.id, cu.name, p.name
		ORDER BY d.dispatch_date ASC, d.id ASC`, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var row RegisterRow
		if err := rows.Scan(&row.DispatchNumber, &row.DispatchDate, &row.CustomerName, &row.Transporter,
			&row.VehicleNo, &row.LRNumber, &row.Status, &row.CartonCount, &row.TotalQty, &row.GrossWeightKg); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
