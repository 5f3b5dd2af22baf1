package she

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

// Repository provides PostgreSQL backed persistence for incidents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MonthCount is one type/severity cell of the monthly scoreboard.
type MonthCount struct {
	Type         IncidentType
	Severity     Severity
	Count        int
	LostTimeDays int64
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextDocNumber(ctx context.Context, prefix string, date time.Time) (string, error)
	InsertIncident(ctx context.Context, inc Incident) (int64, error)
	LockIncident(ctx context.Context, id int64) (Incident, error)
	SetStatus(ctx context.Context, id int64, status IncidentStatus) error
	RecordAction(ctx context.Context, id int64, action string) error
	CloseIncident(ctx context.Context, id, actorID int64, at time.Time) error
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

const incidentColumns = `id, number, type, area, severity, description, reported_by, occurred_at,
	status, corrective_action, lost_time_days, closed_by, closed_at, created_at, updated_at`

func scanIncident(row pgx.Row) (Incident, error) {
	var inc Incident
	err := row.Scan(&inc.ID, &inc.Number, &inc.Type, &inc.Area, &inc.Severity, &inc.Description,
		&inc.ReportedBy, &inc.OccurredAt, &inc.Status, &inc.CorrectiveAction, &inc.LostTimeDays,
		&inc.ClosedBy, &inc.ClosedAt, &inc.CreatedAt, &inc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Incident{}, ErrNotFound
	}
	return inc, err
}

func (t *txRepo) InsertIncident(ctx context.Context, inc Incident) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO she_incidents (number, type, area, severity, description, reported_by,
			occurred_at, status, lost_time_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		inc.Number, inc.Type, inc.Area, inc.Severity, inc.Description, inc.ReportedBy,
		inc.OccurredAt, inc.Status, inc.LostTimeDays).Scan(&id)
	return id, err
}

func (t *txRepo) LockIncident(ctx context.Context, id int64) (Incident, error) {
	return scanIncident(t.tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM she_incidents WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status IncidentStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE she_incidents SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) RecordAction(ctx context.Context, id int64, action string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE she_incidents SET corrective_action = $2, status = 'ACTION_PENDING', updated_at = NOW()
		WHERE id = $1`, id, action)
	return err
}

func (t *txRepo) CloseIncident(ctx context.Context, id, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE she_incidents SET status = 'CLOSED', closed_by = $2, closed_at = $3, updated_at = NOW()
		WHERE id = $1`, id, actorID, at)
	return err
}

// Get fetches one incident.
func (r *Repository) Get(ctx context.Context, id int64) (Incident, error) {
	return scanIncident(r.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM she_incidents WHERE id = $1`, id))
}

// List returns a filtered page of incidents, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Incident, int, error) {
	base := ` FROM she_incidents WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Type != "" {
		argCount++
		base += ` AND type = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Type))
	}
	if filters.Severity != "" {
		argCount++
		base += ` AND severity = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Severity))
	}
	if filters.Status != "" {
		argCount++
		base += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filters.Status))
	}
	if filters.Area != "" {
		argCount++
		base += ` AND area ILIKE $` + strconv.Itoa(argCount)
		args = append(args, "%"+filters.Area+"%")
	}
	if filters.From != nil {
		argCount++
		base += ` AND occurred_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		base += ` AND occurred_at <= $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + incidentColumns + base + ` ORDER BY occurred_at DESC, id DESC`
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

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inc)
	}
	return out, total, rows.Err()
}

// MonthCounts aggregates incidents with occurred_at inside [from, to).
func (r *Repository) MonthCounts(ctx context.Context, from, to time.Time) ([]MonthCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT type, severity, COUNT(*), COALESCE(SUM(lost_time_days), 0)
		FROM she_incidents
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY type, severity`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthCount
	for rows.Next() {
		var mc MonthCount
		if err := rows.Scan(&mc.Type, &mc.Severity, &mc.Count, &mc.LostTimeDays); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// LastInjuryAt returns when the most recent injury occurred, nil when the
// record is clean.
func (r *Repository) LastInjuryAt(ctx context.Context) (*time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(occurred_at) FROM she_incidents WHERE type = 'INJURY'`).Scan(&at)
	return at, err
}
