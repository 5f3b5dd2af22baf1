package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// BootstrapID identifies the synthetic operator behind BOOTSTRAP_API_KEY.
// It never collides with a real row; operator ids start at 1.
const BootstrapID int64 = 0

// Resolved keys stay cached so bcrypt runs once per key, not per request.
const resolveCacheTTL = 5 * time.Minute

// ErrUnknownRole indicates an operator assignment to a role that does not exist.
var ErrUnknownRole = errors.New("auth: unknown role")

// RepositoryPort defines persistence operations for operators.
type RepositoryPort interface {
	Insert(ctx context.Context, name, role, keyHash string) (Operator, error)
	Credentials(ctx context.Context, id int64) (Credential, error)
	List(ctx context.Context) ([]Operator, error)
	UpdateKeyHash(ctx context.Context, id int64, keyHash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetRole(ctx context.Context, id int64, role string) error
}

// RoleSource checks that a role exists before it is assigned.
type RoleSource interface {
	RoleByName(ctx context.Context, name string) (rbac.Role, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type cachedActor struct {
	actor     shared.Actor
	expiresAt time.Time
}

// Service issues and verifies operator API keys.
type Service struct {
	repo         RepositoryPort
	roles        RoleSource
	audit        AuditPort
	bootstrapKey string

	mu    sync.Mutex
	cache map[string]cachedActor
	clock func() time.Time
}

// NewService constructs a new Service. bootstrapKey may be empty in tests.
func NewService(repo RepositoryPort, roles RoleSource, audit AuditPort, bootstrapKey string) *Service {
	return &Service{
		repo:         repo,
		roles:        roles,
		audit:        audit,
		bootstrapKey: bootstrapKey,
		cache:        make(map[string]cachedActor),
		clock:        time.Now,
	}
}

// CreateOperator registers an operator and issues its API key. The plaintext
// key is returned exactly once; afterwards only rotation produces a new one.
func (s *Service) CreateOperator(ctx context.Context, name, role string) (IssuedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return IssuedKey{}, errors.New("auth: operator name required")
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if _, err := s.roles.RoleByName(ctx, role); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return IssuedKey{}, ErrUnknownRole
		}
		return IssuedKey{}, err
	}
	secret, err := newSecret()
	if err != nil {
		return IssuedKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return IssuedKey{}, err
	}
	op, err := s.repo.Insert(ctx, name, role, string(hash))
	if err != nil {
		return IssuedKey{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorID(ctx),
			Action:   "auth:operator_create",
			Entity:   "operator",
			EntityID: op.ID,
			Meta:     map[string]any{"name": op.Name, "role": op.Role},
		})
	}
	return IssuedKey{Operator: op, APIKey: formatKey(op.ID, secret)}, nil
}

// ListOperators returns all operators.
func (s *Service) ListOperators(ctx context.Context) ([]Operator, error) {
	return s.repo.List(ctx)
}

// RotateKey issues a replacement key for an operator. The previous key stops
// working as soon as the new hash is stored.
func (s *Service) RotateKey(ctx context.Context, id int64) (IssuedKey, error) {
	cred, err := s.repo.Credentials(ctx, id)
	if err != nil {
		return IssuedKey{}, err
	}
	secret, err := newSecret()
	if err != nil {
		return IssuedKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return IssuedKey{}, err
	}
	if err := s.repo.UpdateKeyHash(ctx, id, string(hash)); err != nil {
		return IssuedKey{}, err
	}
	s.evictOperator(id)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorID(ctx),
			Action:   "auth:key_rotate",
			Entity:   "operator",
			EntityID: id,
		})
	}
	return IssuedKey{Operator: cred.Operator, APIKey: formatKey(id, secret)}, nil
}

// SetActive enables or disables an operator.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.evictOperator(id)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorID(ctx),
			Action:   "auth:operator_set_active",
			Entity:   "operator",
			EntityID: id,
			Meta:     map[string]any{"active": active},
		})
	}
	return nil
}

// SetRole reassigns an operator to another role.
func (s *Service) SetRole(ctx context.Context, id int64, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if _, err := s.roles.RoleByName(ctx, role); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return ErrUnknownRole
		}
		return err
	}
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return err
	}
	s.evictOperator(id)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorID(ctx),
			Action:   "auth:operator_set_role",
			Entity:   "operator",
			EntityID: id,
			Meta:     map[string]any{"role": role},
		})
	}
	return nil
}

// Resolve authenticates an API key and returns the acting operator. Every
// failure mode collapses into ErrInvalidAPIKey so callers cannot probe for
// which part of the key was wrong.
func (s *Service) Resolve(ctx context.Context, apiKey string) (*shared.Actor, error) {
	if apiKey == "" {
		return nil, shared.ErrInvalidAPIKey
	}
	if s.bootstrapKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.bootstrapKey)) == 1 {
		return &shared.Actor{ID: BootstrapID, Name: "bootstrap", Role: rbac.AdminRole}, nil
	}

	now := s.clock()
	s.mu.Lock()
	if entry, ok := s.cache[apiKey]; ok && now.Before(entry.expiresAt) {
		actor := entry.actor
		s.mu.Unlock()
		return &actor, nil
	}
	s.mu.Unlock()

	id, secret, err := splitKey(apiKey)
	if err != nil {
		return nil, err
	}
	cred, err := s.repo.Credentials(ctx, id)
	if err != nil {
		return nil, shared.ErrInvalidAPIKey
	}
	if !cred.Operator.Active {
		return nil, shared.ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.KeyHash), []byte(secret)); err != nil {
		return nil, shared.ErrInvalidAPIKey
	}

	actor := shared.Actor{ID: cred.Operator.ID, Name: cred.Operator.Name, Role: cred.Operator.Role}
	s.mu.Lock()
	s.cache[apiKey] = cachedActor{actor: actor, expiresAt: now.Add(resolveCacheTTL)}
	s.mu.Unlock()
	return &actor, nil
}

// evictOperator drops cached resolutions after rotation, deactivation, or a
// role change so stale grants do not outlive the update.
func (s *Service) evictOperator(id int64) {
	s.mu.Lock()
	for key, entry := range s.cache {
		if entry.actor.ID == id {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()
}
