package production

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

// Repository provides PostgreSQL backed persistence for work orders.
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
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	InsertWO(ctx context.Context, wo WorkOrder) (int64, error)
	LockWO(ctx context.Context, id int64) (WorkOrder, error)
	UpdateStage(ctx context.Context, id int64, from, to Stage, actorID int64, note *string) error
	SetHold(ctx context.Context, id int64, hold bool, reason *string) error
	ProducedTotal(ctx context.Context, woID int64) (int64, error)
	BatchCount(ctx context.Context, woID int64) (int, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
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

func (t *txRepo) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, t.tx, key, module)
}

const woColumns = `id, wo_number, part_id, sales_order_line_id, planned_qty, priority, due_date,
	stage, stage_entered_at, on_hold, hold_reason, notes, created_by, created_at, updated_at`

func (t *txRepo) InsertWO(ctx context.Context, wo WorkOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO work_orders (wo_number, part_id, sales_order_line_id, planned_qty, priority,
			due_date, stage, stage_entered_at, on_hold, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), FALSE, $8, $9, NOW(), NOW())
		RETURNING id`,
		wo.WONumber, wo.PartID, wo.SalesOrderLineID, wo.PlannedQty, string(wo.Priority),
		wo.DueDate, string(wo.Stage), wo.Notes, wo.CreatedBy).Scan(&id)
	return id, err
}

func scanWO(row pgx.Row) (WorkOrder, error) {
	var w WorkOrder
	err := row.Scan(&w.ID, &w.WONumber, &w.PartID, &w.SalesOrderLineID, &w.PlannedQty, &w.Priority,
		&w.DueDate, &w.Stage, &w.StageEnteredAt, &w.OnHold, &w.HoldReason, &w.Notes,
		&w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, err
	}
	return w, nil
}

// LockWO reads the work order FOR UPDATE.
func (t *txRepo) LockWO(ctx context.Context, id int64) (WorkOrder, error) {
	return scanWO(t.tx.QueryRow(ctx, `SELECT `+woColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, id))
}

// UpdateStage moves the order and appends the history row in one go.
func (t *txRepo) UpdateStage(ctx context.Context, id int64, from, to Stage, actorID int64, note *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET stage = $2, stage_entered_at = NOW(), updated_at = NOW() WHERE id = $1`,
		id, string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO wo_stage_history (wo_id, from_stage, to_stage, changed_by, note, changed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		id, string(from), string(to), actorID, note)
	return err
}

func (t *txRepo) SetHold(ctx context.Context, id int64, hold bool, reason *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET on_hold = $2, hold_reason = $3, updated_at = NOW() WHERE id = $1`,
		id, hold, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ProducedTotal(ctx context.Context, woID int64) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(produced_qty), 0) FROM production_batches WHERE wo_id = $1`, woID).Scan(&total)
	return total, err
}

func (t *txRepo) BatchCount(ctx context.Context, woID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM production_batches WHERE wo_id = $1`, woID).Scan(&count)
	return count, err
}

func (t *txRepo) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO production_batches (batch_number, wo_id, produced_qty, machine, operator,
			produced_at, approved_qty, rejected_qty, qc_complete, packed_qty, dispatched_qty,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, FALSE, 0, 0, NOW(), NOW())
		RETURNING id`,
		batch.BatchNumber, batch.WorkOrderID, batch.ProducedQty, batch.Machine, batch.Operator,
		batch.ProducedAt).Scan(&id)
	return id, err
}

const batchColumns = `id, batch_number, wo_id, produced_qty, machine, operator, produced_at,
	approved_qty, rejected_qty, qc_complete, packed_qty, dispatched_qty, created_at, updated_at`

func scanBatchRows(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.BatchNumber, &b.WorkOrderID, &b.ProducedQty, &b.Machine,
			&b.Operator, &b.ProducedAt, &b.ApprovedQty, &b.RejectedQty, &b.QCComplete,
			&b.PackedQty, &b.DispatchedQty, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetWO fetches a work order with its batches and quantity summary.
func (r *Repository) GetWO(ctx context.Context, id int64) (WorkOrder, error) {
	wo, err := scanWO(r.pool.QueryRow(ctx, `SELECT `+woColumns+` FROM work_orders WHERE id = $1`, id))
	if err != nil {
		return WorkOrder{}, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM production_batches WHERE wo_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return WorkOrder{}, err
	}
	batches, err := scanBatchRows(rows)
	if err != nil {
		return WorkOrder{}, err
	}
	wo.Batches = batches

	summary := Summary{Planned: wo.PlannedQty}
	for _, b := range batches {
		summary.Produced += b.ProducedQty
		summary.Approved += b.ApprovedQty
		summary.Rejected += b.RejectedQty
		summary.Packed += b.PackedQty
		summary.Dispatched += b.DispatchedQty
	}
	wo.Summary = &summary
	return wo, nil
}

// GetBatch fetches one batch.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	var b Batch
	err := r.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM production_batches WHERE id = $1`, id).
		Scan(&b.ID, &b.BatchNumber, &b.WorkOrderID, &b.ProducedQty, &b.Machine, &b.Operator,
			&b.ProducedAt, &b.ApprovedQty, &b.RejectedQty, &b.QCComplete, &b.PackedQty,
			&b.DispatchedQty, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

// ListWOs returns work orders matching the filters plus the total count.
// The customer filter joins through sales order lines.
func (r *Repository) ListWOs(ctx context.Context, filters ListFilters) ([]WorkOrder, int, error) {
	base := ` FROM work_orders wo`
	if filters.CustomerID > 0 {
		base += ` JOIN sales_order_lines sol ON sol.id = wo.sales_order_line_id
			JOIN sales_orders so ON so.id = sol.sales_order_id`
	}
	base += ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Stage != "" {
		argCount++
		base += ` AND wo.stage = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Stage))
	}
	if filters.Priority != "" {
		argCount++
		base += ` AND wo.priority = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Priority))
	}
	if filters.CustomerID > 0 {
		argCount++
		base += ` AND so.customer_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.CustomerID)
	}
	if filters.PartID > 0 {
		argCount++
		base += ` AND wo.part_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.PartID)
	}
	if filters.Search != "" {
		argCount++
		base += ` AND wo.wo_number ILIKE $` + strconv.Itoa(argCount)
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Overdue {
		base += ` AND wo.due_date < CURRENT_DATE
			AND wo.stage NOT IN ('READY_TO_DISPATCH', 'DISPATCHED', 'COMPLETED', 'CANCELLED')`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT wo.id, wo.wo_number, wo.part_id, wo.sales_order_line_id, wo.planned_qty,
		wo.priority, wo.due_date, wo.stage, wo.stage_entered_at, wo.on_hold, wo.hold_reason,
		wo.notes, wo.created_by, wo.created_at, wo.updated_at` + base +
		` ORDER BY CASE wo.priority WHEN 'BREAKDOWN' THEN 0 WHEN 'URGENT' THEN 1 ELSE 2 END,
		wo.due_date ASC, wo.id ASC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
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

	orders := []WorkOrder{}
	for rows.Next() {
		var w WorkOrder
		if err := rows.Scan(&w.ID, &w.WONumber, &w.PartID, &w.SalesOrderLineID, &w.PlannedQty,
			&w.Priority, &w.DueDate, &w.Stage, &w.StageEnteredAt, &w.OnHold, &w.HoldReason,
			&w.Notes, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, w)
	}
	return orders, total, rows.Err()
}

// StageTimeline lists the stage history of a work order, oldest first.
func (r *Repository) StageTimeline(ctx context.Context, woID int64) ([]StageHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wo_id, from_stage, to_stage, changed_by, note, changed_at
		FROM wo_stage_history WHERE wo_id = $1 ORDER BY changed_at ASC, id ASC`, woID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	history := []StageHistory{}
	for rows.Next() {
		var h StageHistory
		if err := rows.Scan(&h.ID, &h.WOID, &h.FromStage, &h.ToStage, &h.ChangedBy, &h.Note, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// StaleStages lists active orders sitting in one stage for thresholdDays or
// more, for the stage watch job.
func (r *Repository) StaleStages(ctx context.Context, thresholdDays int) ([]WorkOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+woColumns+` FROM work_orders
		WHERE stage NOT IN ('COMPLETED', 'CANCELLED')
		AND stage_entered_at < NOW() - make_interval(days => $1)
		ORDER BY stage_entered_at ASC`, thresholdDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []WorkOrder{}
	for rows.Next() {
		var w WorkOrder
		if err := rows.Scan(&w.ID, &w.WONumber, &w.PartID, &w.SalesOrderLineID, &w.PlannedQty,
			&w.Priority, &w.DueDate, &w.Stage, &w.StageEnteredAt, &w.OnHold, &w.HoldReason,
			&w.Notes, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, w)
	}
	return orders, rows.Err()
}
