package audit

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit_logs table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func buildFilter(filters TimelineFilters) (string, []any) {
	base := ` FROM audit_logs a LEFT JOIN operators o ON o.id = a.actor_id WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Entity != "" {
		argCount++
		base += ` AND a.entity = $` + strconv.Itoa(argCount)
		args = append(args, filters.Entity)
	}
	if filters.EntityID > 0 {
		argCount++
		base += ` AND a.entity_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.EntityID)
	}
	if filters.Action != "" {
		argCount++
		base += ` AND a.action = $` + strconv.Itoa(argCount)
		args = append(args, filters.Action)
	}
	if filters.ActorID > 0 {
		argCount++
		base += ` AND a.actor_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.ActorID)
	}
	if filters.From != nil {
		argCount++
		base += ` AND a.occurred_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		base += ` AND a.occurred_at <= $` + strconv.Itoa(argCount)
		args = append(args, *filters.To)
	}
	return base, args
}

// Timeline returns a filtered page of entries, newest first.
func (r *Repository) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, int, error) {
	base, args := buildFilter(filters)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT a.id, a.actor_id, COALESCE(o.name, ''), a.action, a.entity, a.entity_id,
		a.meta, a.occurred_at` + base + ` ORDER BY a.occurred_at DESC, a.id DESC`
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

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.Entity, &e.EntityID,
			&e.Meta, &e.At); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Stream walks matching entries oldest first without paging, for exports.
func (r *Repository) Stream(ctx context.Context, filters TimelineFilters, fn func(Entry) error) error {
	base, args := buildFilter(filters)
	query := `SELECT a.id, a.actor_id, COALESCE(o.name, ''), a.action, a.entity, a.entity_id,
		a.meta, a.occurred_at` + base + ` ORDER BY a.occurred_at ASC, a.id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.Entity, &e.EntityID,
			&e.Meta, &e.At); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
