package qc

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

// Repository provides PostgreSQL backed persistence for inspections and NCRs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BatchTallies is the slice of a production batch that QC reads and writes.
type BatchTallies struct {
	ID          int64
	WOID        int64
	BatchNumber string
	ProducedQty int64
	ApprovedQty int64
	RejectedQty int64
	QCComplete  bool
}

// WORef is the minimal work-order projection used for validation.
type WORef struct {
	ID     int64
	Number string
	Stage  string
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	InsertInspection(ctx context.Context, ins Inspection) (int64, error)
	LockBatch(ctx context.Context, id int64) (BatchTallies, error)
	UpdateBatchTallies(ctx context.Context, id, approved, rejected int64, complete bool) error
	InsertNCR(ctx context.Context, n NCR) (int64, error)
	LockNCR(ctx context.Context, id int64) (NCR, error)
	MarkNCRReviewed(ctx context.Context, id int64, rootCause string) error
	SetNCRDisposition(ctx context.Context, id int64, d Disposition) error
	RecordNCRAction(ctx context.Context, id int64, action string) error
	CloseNCR(ctx context.Context, id, actorID int64, at time.Time) error
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

const inspectionColumns = `id, number, wo_id, batch_id, type, checked_qty, approved_qty,
	rejected_qty, defect_code, notes, result, inspector_id, inspected_at, created_at`

func (t *txRepo) InsertInspection(ctx context.Context, ins Inspection) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO qc_inspections (number, wo_id, batch_id, type, checked_qty, approved_qty,
			rejected_qty, defect_code, notes, result, inspector_id, inspected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		ins.Number, ins.WOID, ins.BatchID, string(ins.Type), ins.CheckedQty, ins.ApprovedQty,
		ins.RejectedQty, ins.DefectCode, ins.Notes, string(ins.Result), ins.InspectorID,
		ins.InspectedAt).Scan(&id)
	return id, err
}

func (t *txRepo) LockBatch(ctx context.Context, id int64) (BatchTallies, error) {
	var b BatchTallies
	err := t.tx.QueryRow(ctx, `
		SELECT id, wo_id, batch_number, produced_qty, approved_qty, rejected_qty, qc_complete
		FROM production_batches WHERE id = $1 FOR UPDATE`, id).
		Scan(&b.ID, &b.WOID, &b.BatchNumber, &b.ProducedQty, &b.ApprovedQty, &b.RejectedQty, &b.QCComplete)
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchTallies{}, ErrNotFound
	}
	return b, err
}

func (t *txRepo) UpdateBatchTallies(ctx context.Context, id, approved, rejected int64, complete bool) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE production_batches
		SET approved_qty = $2, rejected_qty = $3, qc_complete = $4, updated_at = NOW()
		WHERE id = $1`, id, approved, rejected, complete)
	return err
}

const ncrColumns = `id, number, inspection_id, wo_id, partner_id, rejection_rate, severity,
	disposition, status, root_cause, corrective_action, created_by, created_at, closed_by,
	closed_at, updated_at`

func (t *txRepo) InsertNCR(ctx context.Context, n NCR) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ncrs (number, inspection_id, wo_id, partner_id, rejection_rate, severity,
			disposition, status, root_cause, corrective_action, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		n.Number, n.InspectionID, n.WOID, n.PartnerID, n.RejectionRate, string(n.Severity),
		string(n.Disposition), string(n.Status), n.RootCause, n.CorrectiveAction, n.CreatedBy).
		Scan(&id)
	return id, err
}

func scanNCR(row pgx.Row) (NCR, error) {
	var n NCR
	var severity, disposition, status string
	err := row.Scan(&n.ID, &n.Number, &n.InspectionID, &n.WOID, &n.PartnerID, &n.RejectionRate,
		&severity, &disposition, &status, &n.RootCause, &n.CorrectiveAction, &n.CreatedBy,
		&n.CreatedAt, &n.ClosedBy, &n.ClosedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NCR{}, ErrNotFound
		}
		return NCR{}, err
	}
	n.Severity = Severity(severity)
	n.Disposition = Disposition(disposition)
	n.Status = NCRStatus(status)
	return n, nil
}

func (t *txRepo) LockNCR(ctx context.Context, id int64) (NCR, error) {
	return scanNCR(t.tx.QueryRow(ctx,
		`SELECT `+ncrColumns+` FROM ncrs WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) MarkNCRReviewed(ctx context.Context, id int64, rootCause string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ncrs SET status = 'UNDER_REVIEW', root_cause = $2, updated_at = NOW()
		WHERE id = $1`, id, rootCause)
	return err
}

func (t *txRepo) SetNCRDisposition(ctx context.Context, id int64, d Disposition) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ncrs SET disposition = $2, updated_at = NOW() WHERE id = $1`, id, string(d))
	return err
}

func (t *txRepo) RecordNCRAction(ctx context.Context, id int64, action string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ncrs SET status = 'CORRECTIVE_ACTION', corrective_action = $2, updated_at = NOW()
		WHERE id = $1`, id, action)
	return err
}

func (t *txRepo) CloseNCR(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ncrs SET status = 'CLOSED', closed_by = $2, closed_at = $3, updated_at = NOW()
		WHERE id = $1`, id, actorID, at)
	return err
}

// WorkOrderRef fetches the minimal work-order row for validation.
func (r *Repository) WorkOrderRef(ctx context.Context, woID int64) (WORef, error) {
	var ref WORef
	err := r.pool.QueryRow(ctx,
		`SELECT id, wo_number, stage FROM work_orders WHERE id = $1`, woID).
		Scan(&ref.ID, &ref.Number, &ref.Stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return WORef{}, ErrNotFound
	}
	return ref, err
}

func scanInspection(row pgx.Row) (Inspection, error) {
	var ins Inspection
	var itype, result string
	err := row.Scan(&ins.ID, &ins.Number, &ins.WOID, &ins.BatchID, &itype, &ins.CheckedQty,
		&ins.ApprovedQty, &ins.RejectedQty, &ins.DefectCode, &ins.Notes, &result,
		&ins.InspectorID, &ins.InspectedAt, &ins.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inspection{}, ErrNotFound
		}
		return Inspection{}, err
	}
	ins.Type = InspectionType(itype)
	ins.Result = Result(result)
	return ins, nil
}

// GetInspection fetches one inspection.
func (r *Repository) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	return scanInspection(r.pool.QueryRow(ctx,
		`SELECT `+inspectionColumns+` FROM qc_inspections WHERE id = $1`, id))
}

// ListInspections returns a filtered page, newest first.
func (r *Repository) ListInspections(ctx context.Context, filters ListFilters) ([]Inspection, int, error) {
	base := ` FROM qc_inspections WHERE 1=1`
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
	if filters.Type != "" {
		argCount++
		base += ` AND type = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Type))
	}
	if filters.Result != "" {
		argCount++
		base += ` AND result = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Result))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + inspectionColumns + base + ` ORDER BY inspected_at DESC, id DESC`
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

	inspections := []Inspection{}
	for rows.Next() {
		var ins Inspection
		var itype, result string
		if err := rows.Scan(&ins.ID, &ins.Number, &ins.WOID, &ins.BatchID, &itype, &ins.CheckedQty,
			&ins.ApprovedQty, &ins.RejectedQty, &ins.DefectCode, &ins.Notes, &result,
			&ins.InspectorID, &ins.InspectedAt, &ins.CreatedAt); err != nil {
			return nil, 0, err
		}
		ins.Type = InspectionType(itype)
		ins.Result = Result(result)
		inspections = append(inspections, ins)
	}
	return inspections, total, rows.Err()
}

// GetNCR fetches one NCR.
func (r *Repository) GetNCR(ctx context.Context, id int64) (NCR, error) {
	return scanNCR(r.pool.QueryRow(ctx, `SELECT `+ncrColumns+` FROM ncrs WHERE id = $1`, id))
}

// ListNCRs returns a filtered page, newest first.
func (r *Repository) ListNCRs(ctx context.Context, filters NCRFilters) ([]NCR, int, error) {
	base := ` FROM ncrs WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.WOID > 0 {
		argCount++
		base += ` AND wo_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.WOID)
	}
	if filters.PartnerID > 0 {
		argCount++
		base += ` AND partner_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.PartnerID)
	}
	if filters.Status != "" {
		argCount++
		base += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if filters.Severity != "" {
		argCount++
		base += ` AND severity = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Severity))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + ncrColumns + base + ` ORDER BY created_at DESC, id DESC`
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

	ncrs := []NCR{}
	for rows.Next() {
		var n NCR
		var severity, disposition, status string
		if err := rows.Scan(&n.ID, &n.Number, &n.InspectionID, &n.WOID, &n.PartnerID,
			&n.RejectionRate, &severity, &disposition, &status, &n.RootCause,
			&n.CorrectiveAction, &n.CreatedBy, &n.CreatedAt, &n.ClosedBy, &n.ClosedAt,
			&n.UpdatedAt); err != nil {
			return nil, 0, err
		}
		n.Severity = Severity(severity)
		n.Disposition = Disposition(disposition)
		n.Status = NCRStatus(status)
		ncrs = append(ncrs, n)
	}
	return ncrs, total, rows.Err()
}

// WOSummaries aggregates inspection tallies per work order.
func (r *Repository) WOSummaries(ctx context.Context, filters SummaryFilters) ([]WOSummary, error) {
	query := `
		SELECT i.wo_id, w.wo_number,
			COALESCE(SUM(i.checked_qty), 0),
			COALESCE(SUM(i.approved_qty), 0),
			COALESCE(SUM(i.rejected_qty), 0)
		FROM qc_inspections i
		JOIN work_orders w ON w.id = i.wo_id
		WHERE 1=1`
	args := []any{}
	argCount := 0
	if filters.WOID > 0 {
		argCount++
		query += ` AND i.wo_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.WOID)
	}
	if filters.From != nil {
		argCount++
		query += ` AND i.inspected_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		query += ` AND i.inspected_at < $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}
	query += ` GROUP BY i.wo_id, w.wo_number ORDER BY w.wo_number`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []WOSummary{}
	for rows.Next() {
		var s WOSummary
		if err := rows.Scan(&s.WOID, &s.WONumber, &s.Checked, &s.Approved, &s.Rejected); err != nil {
			return nil, err
		}
		if s.Checked > 0 {
			s.Rate = float64(s.Rejected) / float64(s.Checked)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// PartnerSummaries aggregates NCRs attributed to external partners.
func (r *Repository) PartnerSummaries(ctx context.Context, filters SummaryFilters) ([]PartnerSummary, error) {
	query := `
		SELECT n.partner_id, p.name,
			COUNT(*),
			COUNT(*) FILTER (WHERE n.status <> 'CLOSED'),
			COUNT(*) FILTER (WHERE n.severity = 'MINOR'),
			COUNT(*) FILTER (WHERE n.severity = 'MAJOR'),
			COUNT(*) FILTER (WHERE n.severity = 'CRITICAL'),
			COALESCE(AVG(n.rejection_rate), 0)
		FROM ncrs n
		JOIN partners p ON p.id = n.partner_id
		WHERE n.partner_id IS NOT NULL`
	args := []any{}
	argCount := 0
	if filters.From != nil {
		argCount++
		query += ` AND n.created_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		query += ` AND n.created_at < $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}
	query += ` GROUP BY n.partner_id, p.name ORDER BY COUNT(*) DESC, p.name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []PartnerSummary{}
	for rows.Next() {
		var s PartnerSummary
		if err := rows.Scan(&s.PartnerID, &s.PartnerName, &s.NCRCount, &s.OpenCount,
			&s.Minor, &s.Major, &s.Critical, &s.AvgRate); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
