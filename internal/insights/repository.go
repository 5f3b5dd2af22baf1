package insights

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/izzyftw1/rvi-sub014/internal/qc"
)

// Repository runs the snapshot section queries. Each method is a narrow
// read over another module's tables; the dashboard never writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OpenWOsByStage counts work orders not yet completed or cancelled.
func (r *Repository) OpenWOsByStage(ctx context.Context) ([]StageCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stage, COUNT(*)
		FROM work_orders
		WHERE stage NOT IN ('COMPLETED', 'CANCELLED')
		GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StageCount
	for rows.Next() {
		var sc StageCount
		if err := rows.Scan(&sc.Stage, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// OverdueWOCount counts work orders past due that have not reached the
// dispatch bay.
func (r *Repository) OverdueWOCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_orders
		WHERE due_date < CURRENT_DATE
			AND stage NOT IN ('READY_TO_DISPATCH', 'DISPATCHED', 'COMPLETED', 'CANCELLED')`).Scan(&n)
	return n, err
}

// OutstandingMoveDays returns, for every challan with material still at
// the partner, how many whole days it is past its expected return. Moves
// not yet due report zero.
func (r *Repository) OutstandingMoveDays(ctx context.Context) ([]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT GREATEST((CURRENT_DATE - expected_return_date::date), 0)
		FROM external_moves
		WHERE status IN ('SENT', 'PARTIALLY_RETURNED')
			AND sent_qty - received_qty - rejected_qty > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var days int
		if err := rows.Scan(&days); err != nil {
			return nil, err
		}
		out = append(out, days)
	}
	return out, rows.Err()
}

// DispatchedQtyMTD sums carton quantities on dispatches gone out since
// the given instant.
func (r *Repository) DispatchedQtyMTD(ctx context.Context, from time.Time) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(c.qty), 0)
		FROM dispatches d
		JOIN dispatch_cartons dc ON dc.dispatch_id = d.id
		JOIN cartons c ON c.id = dc.carton_id
		WHERE d.status IN ('DISPATCHED', 'DELIVERED') AND d.dispatched_at >= $1`, from).Scan(&qty)
	return qty, err
}

// InvoiceTotalMTD sums invoice totals issued since the given instant.
func (r *Repository) InvoiceTotalMTD(ctx context.Context, from time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM invoices
		WHERE status <> 'CANCELLED' AND issue_date >= $1`, from).Scan(&total)
	return total, err
}

// InspectionTotalsMTD sums checked and rejected quantities across
// inspections recorded since the given instant.
func (r *Repository) InspectionTotalsMTD(ctx context.Context, from time.Time) (checked, rejected int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(checked_qty), 0), COALESCE(SUM(rejected_qty), 0)
		FROM qc_inspections
		WHERE inspected_at >= $1`, from).Scan(&checked, &rejected)
	return checked, rejected, err
}

// OpenNCRCounts groups unresolved NCRs by severity.
func (r *Repository) OpenNCRCounts(ctx context.Context) (map[qc.Severity]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT severity, COUNT(*) FROM ncrs WHERE status <> 'CLOSED' GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[qc.Severity]int{}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		out[qc.Severity(sev)] = n
	}
	return out, rows.Err()
}

// OpenIncidentCount counts SHE incidents not yet closed.
func (r *Repository) OpenIncidentCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM she_incidents WHERE status <> 'CLOSED'`).Scan(&n)
	return n, err
}

// ReceivablesTotals sums open invoice balances, with the overdue portion
// split out.
func (r *Repository) ReceivablesTotals(ctx context.Context) (outstanding, overdue decimal.Decimal, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(total - paid_amount), 0),
			COALESCE(SUM(total - paid_amount) FILTER (WHERE due_date < CURRENT_DATE), 0)
		FROM invoices
		WHERE status IN ('ISSUED', 'PART_PAID')`).Scan(&outstanding, &overdue)
	return outstanding, overdue, err
}
