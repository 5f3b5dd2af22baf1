package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Repository provides PostgreSQL backed persistence for operators.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const operatorColumns = `id, name, role, active, created_at, updated_at`

// Insert stores a new operator with its key hash.
func (r *Repository) Insert(ctx context.Context, name, role, keyHash string) (Operator, error) {
	var op Operator
	err := r.pool.QueryRow(ctx, `
		INSERT INTO operators (name, role, key_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING `+operatorColumns, name, role, keyHash).
		Scan(&op.ID, &op.Name, &op.Role, &op.Active, &op.CreatedAt, &op.UpdatedAt)
	return op, err
}

// Credentials fetches an operator together with its stored key hash.
func (r *Repository) Credentials(ctx context.Context, id int64) (Credential, error) {
	var cred Credential
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, role, key_hash, active, created_at, updated_at
		FROM operators WHERE id = $1`, id).
		Scan(&cred.Operator.ID, &cred.Operator.Name, &cred.Operator.Role, &cred.KeyHash,
			&cred.Operator.Active, &cred.Operator.CreatedAt, &cred.Operator.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, shared.ErrNotFound
		}
		return Credential{}, err
	}
	return cred, nil
}

// List returns all operators ordered by id.
func (r *Repository) List(ctx context.Context) ([]Operator, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	operators := []Operator{}
	for rows.Next() {
		var op Operator
		if err := rows.Scan(&op.ID, &op.Name, &op.Role, &op.Active, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return operators, nil
}

// UpdateKeyHash replaces the stored hash after a key rotation.
func (r *Repository) UpdateKeyHash(ctx context.Context, id int64, keyHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE operators SET key_hash = $2, updated_at = NOW() WHERE id = $1`, id, keyHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive enables or disables an operator. Disabled operators fail key
// verification immediately.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE operators SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetRole reassigns an operator to another role.
func (r *Repository) SetRole(ctx context.Context, id int64, role string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE operators SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
