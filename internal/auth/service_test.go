package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

type memoryOperators struct {
	nextID int64
	rows   map[int64]Credential
}

func newMemoryOperators() *memoryOperators {
	return &memoryOperators{rows: make(map[int64]Credential)}
}

func (m *memoryOperators) Insert(ctx context.Context, name, role, keyHash string) (Operator, error) {
	m.nextID++
	op := Operator{ID: m.nextID, Name: name, Role: role, Active: true}
	m.rows[op.ID] = Credential{Operator: op, KeyHash: keyHash}
	return op, nil
}

func (m *memoryOperators) Credentials(ctx context.Context, id int64) (Credential, error) {
	cred, ok := m.rows[id]
	if !ok {
		return Credential{}, shared.ErrNotFound
	}
	return cred, nil
}

func (m *memoryOperators) List(ctx context.Context) ([]Operator, error) {
	out := make([]Operator, 0, len(m.rows))
	for _, cred := range m.rows {
		out = append(out, cred.Operator)
	}
	return out, nil
}

func (m *memoryOperators) UpdateKeyHash(ctx context.Context, id int64, keyHash string) error {
	cred, ok := m.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	cred.KeyHash = keyHash
	m.rows[id] = cred
	return nil
}

func (m *memoryOperators) SetActive(ctx context.Context, id int64, active bool) error {
	cred, ok := m.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	cred.Operator.Active = active
	m.rows[id] = cred
	return nil
}

func (m *memoryOperators) SetRole(ctx context.Context, id int64, role string) error {
	cred, ok := m.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	cred.Operator.Role = role
	m.rows[id] = cred
	return nil
}

type stubRoles struct {
	known map[string]bool
}

func (s *stubRoles) RoleByName(ctx context.Context, name string) (rbac.Role, error) {
	if name == rbac.AdminRole || s.known[name] {
		return rbac.Role{Name: name}, nil
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func newTestService(bootstrapKey string) (*Service, *memoryOperators) {
	repo := newMemoryOperators()
	roles := &stubRoles{known: map[string]bool{"supervisor": true, "viewer": true}}
	return NewService(repo, roles, nil, bootstrapKey), repo
}

func TestCreateOperatorIssuesUsableKey(t *testing.T) {
	svc, _ := newTestService("")
	ctx := context.Background()

	issued, err := svc.CreateOperator(ctx, "Line 2 Terminal", "Supervisor")
	require.NoError(t, err)
	require.Equal(t, "supervisor", issued.Operator.Role)
	require.NotEmpty(t, issued.APIKey)

	id, _, err := splitKey(issued.APIKey)
	require.NoError(t, err)
	require.Equal(t, issued.Operator.ID, id)

	actor, err := svc.Resolve(ctx, issued.APIKey)
	require.NoError(t, err)
	require.Equal(t, issued.Operator.ID, actor.ID)
	require.Equal(t, "Line 2 Terminal", actor.Name)
	require.Equal(t, "supervisor", actor.Role)
}

func TestCreateOperatorUnknownRole(t *testing.T) {
	svc, _ := newTestService("")
	_, err := svc.CreateOperator(context.Background(), "Someone", "ghost")
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestResolveRejectsBadKeys(t *testing.T) {
	svc, _ := newTestService("")
	ctx := context.Background()

	issued, err := svc.CreateOperator(ctx, "QC Bench", "viewer")
	require.NoError(t, err)

	for _, key := range []string{
		"",
		"rvi",
		"rvi_x_secret",
		"rvi_999_wrongsecret",
		issued.APIKey + "tampered",
		"other_1_secret",
	} {
		_, err := svc.Resolve(ctx, key)
		require.ErrorIs(t, err, shared.ErrInvalidAPIKey, "key %q", key)
	}
}

func TestResolveBootstrap(t *testing.T) {
	svc, _ := newTestService("bootstrap-secret")
	actor, err := svc.Resolve(context.Background(), "bootstrap-secret")
	require.NoError(t, err)
	require.Equal(t, BootstrapID, actor.ID)
	require.Equal(t, rbac.AdminRole, actor.Role)
}

func TestDeactivateRevokesAccess(t *testing.T) {
	svc, _ := newTestService("")
	ctx := context.Background()

	issued, err := svc.CreateOperator(ctx, "Packer", "viewer")
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, issued.APIKey)
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(ctx, issued.Operator.ID, false))

	_, err = svc.Resolve(ctx, issued.APIKey)
	require.ErrorIs(t, err, shared.ErrInvalidAPIKey)
}

func TestRotateKeyInvalidatesOldKey(t *testing.T) {
	svc, _ := newTestService("")
	ctx := context.Background()

	issued, err := svc.CreateOperator(ctx, "Stores", "viewer")
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, issued.APIKey)
	require.NoError(t, err)

	rotated, err := svc.RotateKey(ctx, issued.Operator.ID)
	require.NoError(t, err)
	require.NotEqual(t, issued.APIKey, rotated.APIKey)

	_, err = svc.Resolve(ctx, issued.APIKey)
	require.ErrorIs(t, err, shared.ErrInvalidAPIKey)

	actor, err := svc.Resolve(ctx, rotated.APIKey)
	require.NoError(t, err)
	require.Equal(t, issued.Operator.ID, actor.ID)
}

func TestSetRoleTakesEffectOnNextResolve(t *testing.T) {
	svc, _ := newTestService("")
	ctx := context.Background()

	issued, err := svc.CreateOperator(ctx, "Shift Lead", "viewer")
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, issued.APIKey)
	require.NoError(t, err)

	require.NoError(t, svc.SetRole(ctx, issued.Operator.ID, "supervisor"))

	actor, err := svc.Resolve(ctx, issued.APIKey)
	require.NoError(t, err)
	require.Equal(t, "supervisor", actor.Role)
}
