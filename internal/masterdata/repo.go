package masterdata

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// repo implements Repository using PostgreSQL.
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicateCode
		case "23503":
			return ErrReferenced
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

// Part operations

func (r *repo) ListParts(ctx context.Context, filters ListFilters) ([]Part, int, error) {
	query := `SELECT id, code, name, drawing_no, revision, material, unit_weight_g, hsn_code, active, created_at, updated_at
	          FROM parts WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM parts WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		cond := ` AND (code ILIKE $` + strconv.Itoa(argCount) + ` OR name ILIKE $` + strconv.Itoa(argCount) + `)`
		query += cond
		countQuery += cond
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Active != nil {
		argCount++
		cond := ` AND active = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filters.Active)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY code ASC`
	query, args = appendPagination(query, args, argCount, filters)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	parts := []Part{}
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.DrawingNo, &p.Revision, &p.Material,
			&p.UnitWeightG, &p.HSNCode, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		parts = append(parts, p)
	}
	return parts, total, rows.Err()
}

func (r *repo) GetPart(ctx context.Context, id int64) (Part, error) {
	var p Part
	err := r.db.QueryRow(ctx, `SELECT id, code, name, drawing_no, revision, material, unit_weight_g, hsn_code, active, created_at, updated_at
	                           FROM parts WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.DrawingNo, &p.Revision, &p.Material,
			&p.UnitWeightG, &p.HSNCode, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Part{}, translateError(err)
	}
	return p, nil
}

func (r *repo) CreatePart(ctx context.Context, part Part) (Part, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO parts (code, name, drawing_no, revision, material, unit_weight_g, hsn_code, active, created_at, updated_at)
	                           VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW())
	                           RETURNING id, active, created_at, updated_at`,
		part.Code, part.Name, part.DrawingNo, part.Revision, part.Material, part.UnitWeightG, part.HSNCode).
		Scan(&part.ID, &part.Active, &part.CreatedAt, &part.UpdatedAt)
	if err != nil {
		return Part{}, translateError(err)
	}
	return part, nil
}

func (r *repo) UpdatePart(ctx context.Context, id int64, part Part) error {
	tag, err := r.db.Exec(ctx, `UPDATE parts SET code = $1, name = $2, drawing_no = $3, revision = $4, material = $5, unit_weight_g = $6, hsn_code = $7, updated_at = NOW()
	                            WHERE id = $8`,
		part.Code, part.Name, part.DrawingNo, part.Revision, part.Material, part.UnitWeightG, part.HSNCode, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) DeletePart(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM parts WHERE id = $1`, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) SetPartActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE parts SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Customer operations

func (r *repo) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	query := `SELECT id, code, name, gstin, city, payment_terms_days, active, created_at, updated_at
	          FROM customers WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM customers WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		cond := ` AND (code ILIKE $` + strconv.Itoa(argCount) + ` OR name ILIKE $` + strconv.Itoa(argCount) + `)`
		query += cond
		countQuery += cond
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Active != nil {
		argCount++
		cond := ` AND active = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filters.Active)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name ASC`
	query, args = appendPagination(query, args, argCount, filters)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.GSTIN, &c.City, &c.PaymentTermsDays,
			&c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}
	return customers, total, rows.Err()
}

func (r *repo) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.db.QueryRow(ctx, `SELECT id, code, name, gstin, city, payment_terms_days, active, created_at, updated_at
	                           FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.GSTIN, &c.City, &c.PaymentTermsDays, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Customer{}, translateError(err)
	}
	return c, nil
}

func (r *repo) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO customers (code, name, gstin, city, payment_terms_days, active, created_at, updated_at)
	                           VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
	                           RETURNING id, active, created_at, updated_at`,
		customer.Code, customer.Name, customer.GSTIN, customer.City, customer.PaymentTermsDays).
		Scan(&customer.ID, &customer.Active, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		return Customer{}, translateError(err)
	}
	return customer, nil
}

func (r *repo) UpdateCustomer(ctx context.Context, id int64, customer Customer) error {
	tag, err := r.db.Exec(ctx, `UPDATE customers SET code = $1, name = $2, gstin = $3, city = $4, payment_terms_days = $5, updated_at = NOW()
	                            WHERE id = $6`,
		customer.Code, customer.Name, customer.GSTIN, customer.City, customer.PaymentTermsDays, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) DeleteCustomer(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) SetCustomerActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE customers SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Partner operations

func (r *repo) ListPartners(ctx context.Context, filters ListFilters) ([]Partner, int, error) {
	query := `SELECT id, code, name, type, process, sla_days, city, active, created_at, updated_at
	          FROM partners WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM partners WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		cond := ` AND (code ILIKE $` + strconv.Itoa(argCount) + ` OR name ILIKE $` + strconv.Itoa(argCount) + `)`
		query += cond
		countQuery += cond
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Active != nil {
		argCount++
		cond := ` AND active = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filters.Active)
	}
	if filters.Type != "" {
		argCount++
		cond := ` AND type = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, string(filters.Type))
	}
	if filters.Process != "" {
		argCount++
		cond := ` AND process = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filters.Process)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name ASC`
	query, args = appendPagination(query, args, argCount, filters)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	partners := []Partner{}
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Type, &p.Process, &p.SLADays,
			&p.City, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		partners = append(partners, p)
	}
	return partners, total, rows.Err()
}

func (r *repo) GetPartner(ctx context.Context, id int64) (Partner, error) {
	var p Partner
	err := r.db.QueryRow(ctx, `SELECT id, code, name, type, process, sla_days, city, active, created_at, updated_at
	                           FROM partners WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Type, &p.Process, &p.SLADays, &p.City, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Partner{}, translateError(err)
	}
	return p, nil
}

func (r *repo) CreatePartner(ctx context.Context, partner Partner) (Partner, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO partners (code, name, type, process, sla_days, city, active, created_at, updated_at)
	                           VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
	                           RETURNING id, active, created_at, updated_at`,
		partner.Code, partner.Name, string(partner.Type), partner.Process, partner.SLADays, partner.City).
		Scan(&partner.ID, &partner.Active, &partner.CreatedAt, &partner.UpdatedAt)
	if err != nil {
		return Partner{}, translateError(err)
	}
	return partner, nil
}

func (r *repo) UpdatePartner(ctx context.Context, id int64, partner Partner) error {
	tag, err := r.db.Exec(ctx, `UPDATE partners SET code = $1, name = $2, type = $3, process = $4, sla_days = $5, city = $6, updated_at = NOW()
	                            WHERE id = $7`,
		partner.Code, partner.Name, string(partner.Type), partner.Process, partner.SLADays, partner.City, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) DeletePartner(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM partners WHERE id = $1`, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) SetPartnerActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE partners SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func appendPagination(query string, args []any, argCount int, filters ListFilters) (string, []any) {
	if filters.Limit <= 0 {
		return query, args
	}
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
	return query, args
}
