package rbac

import (
	"errors"
	"time"
)

// Role represents a high-level permission grouping. Operators carry a role
// name; grants attach permission strings to the role.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AdminRole always holds every permission and cannot be edited.
const AdminRole = "admin"

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrImmutableRole indicates an attempt to modify the built-in admin role.
var ErrImmutableRole = errors.New("rbac: admin role cannot be modified")

// ErrUnknownPermission indicates a grant outside the known permission set.
var ErrUnknownPermission = errors.New("rbac: unknown permission")
