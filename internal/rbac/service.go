package rbac

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

const permissionCacheTTL = 5 * time.Minute

type cachedGrants struct {
	perms     []string
	expiresAt time.Time
}

// Service orchestrates role and permission operations.
type Service struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	cache map[string]cachedGrants
	clock func() time.Time
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:  pool,
		cache: make(map[string]cachedGrants),
		clock: time.Now,
	}
}

// ListRoles returns all roles with their grants, ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := s.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// GetRole fetches a role by id with its grants.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id=$1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// RoleByName fetches a role by its lowercase name. The built-in admin role
// resolves without a database row.
func (s *Service) RoleByName(ctx context.Context, name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == AdminRole {
		return Role{Name: AdminRole, Description: "Built-in administrator", Permissions: shared.AllScopes()}, nil
	}
	var role Role
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE name=$1`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	if name == AdminRole {
		return Role{}, ErrImmutableRole
	}
	var role Role
	err := s.pool.QueryRow(ctx, `INSERT INTO roles (name, description, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW()) RETURNING id, name, description, created_at, updated_at`, name, strings.TrimSpace(description)).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role and its grants.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Name == AdminRole {
		return ErrImmutableRole
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.invalidate(role.Name)
	return nil
}

// SetRolePermissions replaces the grants for a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, perms []string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Name == AdminRole {
		return ErrImmutableRole
	}
	known := make(map[string]bool, len(shared.AllScopes()))
	for _, p := range shared.AllScopes() {
		known[p] = true
	}
	cleaned := make([]string, 0, len(perms))
	seen := make(map[string]bool, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		if !known[p] {
			return ErrUnknownPermission
		}
		seen[p] = true
		cleaned = append(cleaned, p)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id=$1`, roleID); err != nil {
		return err
	}
	for _, p := range cleaned {
		if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`, roleID, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.invalidate(role.Name)
	return nil
}

// EffectivePermissions returns the permission names granted to a role. The
// built-in admin role holds everything; results are cached briefly.
func (s *Service) EffectivePermissions(ctx context.Context, roleName string) ([]string, error) {
	roleName = strings.ToLower(strings.TrimSpace(roleName))
	if roleName == "" {
		return nil, nil
	}
	if roleName == AdminRole {
		return shared.AllScopes(), nil
	}

	now := s.clock()
	s.mu.Lock()
	if entry, ok := s.cache[roleName]; ok && now.Before(entry.expiresAt) {
		perms := make([]string, len(entry.perms))
		copy(perms, entry.perms)
		s.mu.Unlock()
		return perms, nil
	}
	s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `SELECT rp.permission FROM role_permissions rp
JOIN roles r ON r.id = rp.role_id
WHERE r.name=$1 ORDER BY rp.permission ASC`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[roleName] = cachedGrants{perms: perms, expiresAt: now.Add(permissionCacheTTL)}
	s.mu.Unlock()
	return perms, nil
}

func (s *Service) rolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT permission FROM role_permissions WHERE role_id=$1 ORDER BY permission ASC`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Service) invalidate(roleName string) {
	s.mu.Lock()
	delete(s.cache, roleName)
	s.mu.Unlock()
}
