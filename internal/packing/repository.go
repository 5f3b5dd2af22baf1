package packing

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

// Repository provides PostgreSQL backed persistence for cartons.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WORow is the work-order slice packing locks while it works.
type WORow struct {
	ID     int64
	Number string
	Stage  string
	OnHold bool
}

// BatchRow is the production batch slice packing reads and writes.
type BatchRow struct {
	ID          int64
	WOID        int64
	BatchNumber string
	ApprovedQty int64
	PackedQty   int64
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	LockWO(ctx context.Context, id int64) (WORow, error)
	LockBatch(ctx context.Context, id int64) (BatchRow, error)
	UpdateBatchPacked(ctx context.Context, id, packed int64) error
	InsertCarton(ctx context.Context, c Carton) (int64, error)
	LockCarton(ctx context.Context, id int64) (Carton, error)
	CloseCarton(ctx context.Context, id int64, netKg, grossKg float64) error
	SetCartonStatus(ctx context.Context, id int64, status CartonStatus) error
	AdvanceWOStage(ctx context.Context, woID int64, from, to string, actorID int64) error
	WOPackTotals(ctx context.Context, woID int64) (approved, packed int64, err error)
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

func (t *txRepo) LockWO(ctx context.Context, id int64) (WORow, error) {
	var w WORow
	err := t.tx.QueryRow(ctx, `
		SELECT id, wo_number, stage, on_hold FROM work_orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&w.ID, &w.Number, &w.Stage, &w.OnHold)
	if errors.Is(err, pgx.ErrNoRows) {
		return WORow{}, ErrNotFound
	}
	return w, err
}

func (t *txRepo) LockBatch(ctx context.Context, id int64) (BatchRow, error) {
	var b BatchRow
	err := t.tx.QueryRow(ctx, `
		SELECT id, wo_id, batch_number, approved_qty, packed_qty
		FROM production_batches WHERE id = $1 FOR UPDATE`, id).
		Scan(&b.ID, &b.WOID, &b.BatchNumber, &b.ApprovedQty, &b.PackedQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchRow{}, ErrNotFound
	}
	return b, err
}

func (t *txRepo) UpdateBatchPacked(ctx context.Context, id, packed int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE production_batches SET packed_qty = $2, updated_at = NOW() WHERE id = $1`, id, packed)
	return err
}

const cartonColumns = `id, carton_number, wo_id, batch_id, qty, net_weight_kg, gross_weight_kg,
	status, packed_by, packed_at, created_at, updated_at`

func (t *txRepo) InsertCarton(ctx context.Context, c Carton) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO cartons (carton_number, wo_id, batch_id, qty, net_weight_kg, gross_weight_kg,
			status, packed_by, packed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		c.CartonNumber, c.WOID, c.BatchID, c.Qty, c.NetWeightKg, c.GrossWeightKg,
		string(c.Status), c.PackedBy, c.PackedAt).Scan(&id)
	return id, err
}

func scanCarton(row pgx.Row) (Carton, error) {
	var c Carton
	var status string
	err := row.Scan(&c.ID, &c.CartonNumber, &c.WOID, &c.BatchID, &c.Qty, &c.NetWeightKg,
		&c.GrossWeightKg, &status, &c.PackedBy, &c.PackedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Carton{}, ErrNotFound
		}
		return Carton{}, err
	}
	c.Status = CartonStatus(status)
	return c, nil
}

func (t *txRepo) LockCarton(ctx context.Context, id int64) (Carton, error) {
	return scanCarton(t.tx.QueryRow(ctx,
		`SELECT `+cartonColumns+` FROM cartons WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) CloseCarton(ctx context.Context, id int64, netKg, grossKg float64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE cartons SET status = 'CLOSED', net_weight_kg = $2, gross_weight_kg = $3,
			updated_at = NOW()
		WHERE id = $1`, id, netKg, grossKg)
	return err
}

func (t *txRepo) SetCartonStatus(ctx context.Context, id int64, status CartonStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE cartons SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (t *txRepo) AdvanceWOStage(ctx context.Context, woID int64, from, to string, actorID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET stage = $2, stage_entered_at = NOW(), updated_at = NOW() WHERE id = $1`,
		woID, to)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO wo_stage_history (wo_id, from_stage, to_stage, changed_by, note, changed_at)
		VALUES ($1, $2, $3, $4, NULL, NOW())`, woID, from, to, actorID)
	return err
}

func (t *txRepo) WOPackTotals(ctx context.Context, woID int64) (int64, int64, error) {
	var approved, packed int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(approved_qty), 0), COALESCE(SUM(packed_qty), 0)
		FROM production_batches WHERE wo_id = $1`, woID).Scan(&approved, &packed)
	return approved, packed, err
}

// Get fetches one carton.
func (r *Repository) Get(ctx context.Context, id int64) (Carton, error) {
	return scanCarton(r.pool.QueryRow(ctx,
		`SELECT `+cartonColumns+` FROM cartons WHERE id = $1`, id))
}

// List returns a filtered page of cartons, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Carton, int, error) {
	base := ` FROM cartons WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.WOID > 0 {
		argCount++
		base += ` AND wo_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.WOID)
	}
	if filters.BatchID > 0 {
		argCount++
		base += ` AND batch_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.BatchID)
	}
	if filters.Status != "" {
		argCount++
		base += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + cartonColumns + base + ` ORDER BY packed_at DESC, id DESC`
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

	cartons := []Carton{}
	for rows.Next() {
		var c Carton
		var status string
		if err := rows.Scan(&c.ID, &c.CartonNumber, &c.WOID, &c.BatchID, &c.Qty, &c.NetWeightKg,
			&c.GrossWeightKg, &status, &c.PackedBy, &c.PackedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		c.Status = CartonStatus(status)
		cartons = append(cartons, c)
	}
	return cartons, total, rows.Err()
}

// Summary builds the packing roll-up for one work order.
func (r *Repository) Summary(ctx context.Context, woID int64) (Summary, error) {
	s := Summary{WOID: woID, Cartons: []Carton{}}
	err := r.pool.QueryRow(ctx, `
		SELECT w.wo_number,
			COALESCE(SUM(b.approved_qty), 0), COALESCE(SUM(b.packed_qty), 0)
		FROM work_orders w
		LEFT JOIN production_batches b ON b.wo_id = w.id
		WHERE w.id = $1
		GROUP BY w.wo_number`, woID).Scan(&s.WONumber, &s.Approved, &s.Packed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	s.Remaining = s.Approved - s.Packed

	rows, err := r.pool.Query(ctx, `
		SELECT `+cartonColumns+` FROM cartons WHERE wo_id = $1 ORDER BY id ASC`, woID)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Carton
		var status string
		if err := rows.Scan(&c.ID, &c.CartonNumber, &c.WOID, &c.BatchID, &c.Qty, &c.NetWeightKg,
			&c.GrossWeightKg, &status, &c.PackedBy, &c.PackedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return Summary{}, err
		}
		c.Status = CartonStatus(status)
		switch c.Status {
		case StatusOpen:
			s.Open++
		case StatusClosed:
			s.Closed++
		case StatusDispatched:
			s.Dispatched++
		}
		s.Cartons = append(s.Cartons, c)
	}
	return s, rows.Err()
}
