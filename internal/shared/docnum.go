package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is the single-row query subset shared by pgxpool.Pool and pgx.Tx.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NextDocNumber allocates the next document number for a prefix within the
// month of the given date, e.g. WO-2608-0042. The upsert serialises
// concurrent callers on the sequence row, so numbers never collide even
// across processes.
func NextDocNumber(ctx context.Context, db RowQuerier, prefix string, date time.Time) (string, error) {
	period := date.Format("0601")
	var seq int64
	err := db.QueryRow(ctx, `
INSERT INTO doc_sequences (prefix, period, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, period) DO UPDATE SET last_value = doc_sequences.last_value + 1
RETURNING last_value`, prefix, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("shared: next doc number %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq), nil
}
