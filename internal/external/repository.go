package external

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

// Repository provides PostgreSQL backed persistence for external moves.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BatchRef is the production batch projection used when sending material out.
type BatchRef struct {
	ID          int64
	WOID        int64
	BatchNumber string
	ProducedQty int64
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	LockBatch(ctx context.Context, id int64) (BatchRef, error)
	OutstandingForBatch(ctx context.Context, batchID int64) (int64, error)
	InsertMove(ctx context.Context, m Move) (int64, error)
	LockMove(ctx context.Context, id int64) (Move, error)
	InsertReturn(ctx context.Context, r Return) (int64, error)
	UpdateMoveTotals(ctx context.Context, id, received, rejected int64, status MoveStatus) error
	UpdateMoveStatus(ctx context.Context, id int64, status MoveStatus) error
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

func (t *txRepo) LockBatch(ctx context.Context, id int64) (BatchRef, error) {
	var b BatchRef
	err := t.tx.QueryRow(ctx, `
		SELECT id, wo_id, batch_number, produced_qty
		FROM production_batches WHERE id = $1 FOR UPDATE`, id).
		Scan(&b.ID, &b.WOID, &b.BatchNumber, &b.ProducedQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchRef{}, ErrNotFound
	}
	return b, err
}

func (t *txRepo) OutstandingForBatch(ctx context.Context, batchID int64) (int64, error) {
	var out int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(sent_qty - received_qty - rejected_qty), 0)
		FROM external_moves WHERE batch_id = $1 AND status <> 'CANCELLED'`, batchID).Scan(&out)
	return out, err
}

func (t *txRepo) InsertMove(ctx context.Context, m Move) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO external_moves (challan_number, wo_id, batch_id, partner_id, process,
			sent_qty, sent_date, expected_return_date, vehicle, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		m.ChallanNumber, m.WOID, m.BatchID, m.PartnerID, m.Process, m.SentQty, m.SentDate,
		m.ExpectedReturn, m.Vehicle, string(m.Status), m.Notes, m.CreatedBy).Scan(&id)
	return id, err
}

const moveColumns = `m.id, m.challan_number, m.wo_id, m.batch_id, m.partner_id, m.process,
	m.sent_qty, m.sent_date, m.expected_return_date, m.vehicle, m.status, m.received_qty,
	m.rejected_qty, m.notes, m.created_by, m.created_at, m.updated_at`

func scanMove(row pgx.Row, withJoins bool) (Move, error) {
	var m Move
	var status string
	dest := []any{&m.ID, &m.ChallanNumber, &m.WOID, &m.BatchID, &m.PartnerID, &m.Process,
		&m.SentQty, &m.SentDate, &m.ExpectedReturn, &m.Vehicle, &status, &m.ReceivedQty,
		&m.RejectedQty, &m.Notes, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt}
	if withJoins {
		dest = append(dest, &m.WONumber, &m.PartnerName)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrNotFound
		}
		return Move{}, err
	}
	m.Status = MoveStatus(status)
	return m, nil
}

func (t *txRepo) LockMove(ctx context.Context, id int64) (Move, error) {
	return scanMove(t.tx.QueryRow(ctx,
		`SELECT `+moveColumns+` FROM external_moves m WHERE m.id = $1 FOR UPDATE`, id), false)
}

func (t *txRepo) InsertReturn(ctx context.Context, r Return) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO external_returns (grn_number, move_id, received_qty, rejected_qty,
			received_date, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		r.GRNNumber, r.MoveID, r.ReceivedQty, r.RejectedQty, r.ReceivedDate, r.Notes,
		r.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateMoveTotals(ctx context.Context, id, received, rejected int64, status MoveStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE external_moves
		SET received_qty = $2, rejected_qty = $3, status = $4, updated_at = NOW()
		WHERE id = $1`, id, received, rejected, string(status))
	return err
}

func (t *txRepo) UpdateMoveStatus(ctx context.Context, id int64, status MoveStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE external_moves SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	return err
}

// Get fetches one move with its returns, newest return last.
func (r *Repository) Get(ctx context.Context, id int64) (Move, error) {
	m, err := scanMove(r.pool.QueryRow(ctx, `
		SELECT `+moveColumns+`, w.wo_number, p.name
		FROM external_moves m
		JOIN work_orders w ON w.id = m.wo_id
		JOIN partners p ON p.id = m.partner_id
		WHERE m.id = $1`, id), true)
	if err != nil {
		return Move{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, grn_number, move_id, received_qty, rejected_qty, received_date, notes,
			created_by, created_at
		FROM external_returns WHERE move_id = $1 ORDER BY received_date ASC, id ASC`, id)
	if err != nil {
		return Move{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ret Return
		if err := rows.Scan(&ret.ID, &ret.GRNNumber, &ret.MoveID, &ret.ReceivedQty,
			&ret.RejectedQty, &ret.ReceivedDate, &ret.Notes, &ret.CreatedBy, &ret.CreatedAt); err != nil {
			return Move{}, err
		}
		m.Returns = append(m.Returns, ret)
	}
	return m, rows.Err()
}

// List returns a filtered page of moves, most recently sent first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Move, int, error) {
	base := ` FROM external_moves m
		JOIN work_orders w ON w.id = m.wo_id
		JOIN partners p ON p.id = m.partner_id
		WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Status != "" {
		argCount++
		base += ` AND m.status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if filters.PartnerID > 0 {
		argCount++
		base += ` AND m.partner_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.PartnerID)
	}
	if filters.WOID > 0 {
		argCount++
		base += ` AND m.wo_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.WOID)
	}
	if filters.BatchID > 0 {
		argCount++
		base += ` AND m.batch_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.BatchID)
	}
	if filters.Search != "" {
		argCount++
		base += ` AND (m.challan_number ILIKE $` + strconv.Itoa(argCount) +
			` OR p.name ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Overdue {
		base += ` AND m.status IN ('SENT', 'PARTIALLY_RETURNED')
			AND m.expected_return_date < CURRENT_DATE
			AND m.sent_qty - m.received_qty - m.rejected_qty > 0`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + moveColumns + `, w.wo_number, p.name` + base +
		` ORDER BY m.sent_date DESC, m.id DESC`
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

	moves := []Move{}
	for rows.Next() {
		var m Move
		var status string
		if err := rows.Scan(&m.ID, &m.ChallanNumber, &m.WOID, &m.BatchID, &m.PartnerID,
			&m.Process, &m.SentQty, &m.SentDate, &m.ExpectedReturn, &m.Vehicle, &status,
			&m.ReceivedQty, &m.RejectedQty, &m.Notes, &m.CreatedBy, &m.CreatedAt,
			&m.UpdatedAt, &m.WONumber, &m.PartnerName); err != nil {
			return nil, 0, err
		}
		m.Status = MoveStatus(status)
		moves = append(moves, m)
	}
	return moves, total, rows.Err()
}
