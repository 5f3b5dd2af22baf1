package procurement

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

// Repository provides PostgreSQL backed persistence.
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
	InsertRPO(ctx context.Context, rpo RawPurchaseOrder) (int64, error)
	LockRPO(ctx context.Context, id int64) (RawPurchaseOrder, error)
	UpdateRPOStatus(ctx context.Context, id int64, status RPOStatus) error
	AddReceivedKg(ctx context.Context, id int64, kg float64) error
	InsertReceipt(ctx context.Context, receipt MaterialReceipt) (int64, error)
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

const rpoColumns = `id, rpo_number, supplier_id, material_spec, section, ordered_kg, rate_per_kg,
	expected_date, status, notes, created_by, created_at, updated_at, received_kg`

func (t *txRepo) InsertRPO(ctx context.Context, rpo RawPurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO raw_purchase_orders (rpo_number, supplier_id, material_spec, section, ordered_kg,
			rate_per_kg, expected_date, status, notes, created_by, received_kg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, NOW(), NOW())
		RETURNING id`,
		rpo.RPONumber, rpo.SupplierID, rpo.MaterialSpec, rpo.Section, rpo.OrderedKg,
		rpo.RatePerKg, rpo.ExpectedDate, string(rpo.Status), rpo.Notes, rpo.CreatedBy).Scan(&id)
	return id, err
}

// LockRPO reads the order FOR UPDATE so concurrent receipts serialize.
func (t *txRepo) LockRPO(ctx context.Context, id int64) (RawPurchaseOrder, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+rpoColumns+` FROM raw_purchase_orders WHERE id = $1 FOR UPDATE`, id)
	return scanRPO(row)
}

func (t *txRepo) UpdateRPOStatus(ctx context.Context, id int64, status RPOStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE raw_purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AddReceivedKg(ctx context.Context, id int64, kg float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE raw_purchase_orders SET received_kg = received_kg + $2, updated_at = NOW() WHERE id = $1`,
		id, kg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertReceipt(ctx context.Context, receipt MaterialReceipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO material_receipts (grn_number, rpo_id, received_kg, heat_no, mill_tc_no,
			received_date, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id`,
		receipt.GRNNumber, receipt.RPOID, receipt.ReceivedKg, receipt.HeatNo, receipt.MillTCNo,
		receipt.ReceivedDate, receipt.Notes, receipt.CreatedBy).Scan(&id)
	return id, err
}

func scanRPO(row pgx.Row) (RawPurchaseOrder, error) {
	var o RawPurchaseOrder
	err := row.Scan(&o.ID, &o.RPONumber, &o.SupplierID, &o.MaterialSpec, &o.Section, &o.OrderedKg,
		&o.RatePerKg, &o.ExpectedDate, &o.Status, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
		&o.ReceivedKg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RawPurchaseOrder{}, ErrNotFound
		}
		return RawPurchaseOrder{}, err
	}
	return o, nil
}

// GetRPO fetches an order with its receipts.
func (r *Repository) GetRPO(ctx context.Context, id int64) (RawPurchaseOrder, error) {
	rpo, err := scanRPO(r.pool.QueryRow(ctx, `SELECT `+rpoColumns+` FROM raw_purchase_orders WHERE id = $1`, id))
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, grn_number, rpo_id, received_kg, heat_no, mill_tc_no, received_date, notes, created_by, created_at
		FROM material_receipts WHERE rpo_id = $1 ORDER BY received_date ASC, id ASC`, id)
	if err != nil {
		return RawPurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rec MaterialReceipt
		if err := rows.Scan(&rec.ID, &rec.GRNNumber, &rec.RPOID, &rec.ReceivedKg, &rec.HeatNo,
			&rec.MillTCNo, &rec.ReceivedDate, &rec.Notes, &rec.CreatedBy, &rec.CreatedAt); err != nil {
			return RawPurchaseOrder{}, err
		}
		rpo.Receipts = append(rpo.Receipts, rec)
	}
	return rpo, rows.Err()
}

// ListRPOs returns orders matching the filters plus the total count.
func (r *Repository) ListRPOs(ctx context.Context, filters ListFilters) ([]RawPurchaseOrder, int, error) {
	query := `SELECT ` + rpoColumns + ` FROM raw_purchase_orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM raw_purchase_orders WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Status != "" {
		argCount++
		cond := ` AND status = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, string(filters.Status))
	}
	if filters.SupplierID > 0 {
		argCount++
		cond := ` AND supplier_id = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filters.SupplierID)
	}
	if filters.Search != "" {
		argCount++
		cond := ` AND (rpo_number ILIKE $` + strconv.Itoa(argCount) +
			` OR material_spec ILIKE $` + strconv.Itoa(argCount) + `)`
		query += cond
		countQuery += cond
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Overdue {
		cond := ` AND status IN ('ORDERED', 'PARTIAL') AND expected_date < CURRENT_DATE`
		query += cond
		countQuery += cond
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY expected_date ASC, id ASC`
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

	orders := []RawPurchaseOrder{}
	for rows.Next() {
		var o RawPurchaseOrder
		if err := rows.Scan(&o.ID, &o.RPONumber, &o.SupplierID, &o.MaterialSpec, &o.Section, &o.OrderedKg,
			&o.RatePerKg, &o.ExpectedDate, &o.Status, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
			&o.ReceivedKg); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}
