package masterdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

type memoryRepo struct {
	parts      map[int64]Part
	customers  map[int64]Customer
	partners   map[int64]Partner
	referenced map[int64]bool
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		parts:      make(map[int64]Part),
		customers:  make(map[int64]Customer),
		partners:   make(map[int64]Partner),
		referenced: make(map[int64]bool),
	}
}

func (m *memoryRepo) ListParts(ctx context.Context, filters ListFilters) ([]Part, int, error) {
	out := []Part{}
	for _, p := range m.parts {
		if filters.Active != nil && p.Active != *filters.Active {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetPart(ctx context.Context, id int64) (Part, error) {
	p, ok := m.parts[id]
	if !ok {
		return Part{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) CreatePart(ctx context.Context, part Part) (Part, error) {
	for _, existing := range m.parts {
		if existing.Code == part.Code {
			return Part{}, ErrDuplicateCode
		}
	}
	m.nextID++
	part.ID = m.nextID
	part.Active = true
	m.parts[part.ID] = part
	return part, nil
}

func (m *memoryRepo) UpdatePart(ctx context.Context, id int64, part Part) error {
	if _, ok := m.parts[id]; !ok {
		return shared.ErrNotFound
	}
	part.ID = id
	part.Active = m.parts[id].Active
	m.parts[id] = part
	return nil
}

func (m *memoryRepo) DeletePart(ctx context.Context, id int64) error {
	if _, ok := m.parts[id]; !ok {
		return shared.ErrNotFound
	}
	if m.referenced[id] {
		return ErrReferenced
	}
	delete(m.parts, id)
	return nil
}

func (m *memoryRepo) SetPartActive(ctx context.Context, id int64, active bool) error {
	p, ok := m.parts[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Active = active
	m.parts[id] = p
	return nil
}

func (m *memoryRepo) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	out := []Customer{}
	for _, c := range m.customers {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return Customer{}, shared.ErrNotFound
	}
	return c, nil
}

func (m *memoryRepo) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	m.nextID++
	customer.ID = m.nextID
	customer.Active = true
	m.customers[customer.ID] = customer
	return customer, nil
}

func (m *memoryRepo) UpdateCustomer(ctx context.Context, id int64, customer Customer) error {
	if _, ok := m.customers[id]; !ok {
		return shared.ErrNotFound
	}
	customer.ID = id
	m.customers[id] = customer
	return nil
}

func (m *memoryRepo) DeleteCustomer(ctx context.Context, id int64) error {
	if _, ok := m.customers[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.customers, id)
	return nil
}

func (m *memoryRepo) SetCustomerActive(ctx context.Context, id int64, active bool) error {
	c, ok := m.customers[id]
	if !ok {
		return shared.ErrNotFound
	}
	c.Active = active
	m.customers[id] = c
	return nil
}

func (m *memoryRepo) ListPartners(ctx context.Context, filters ListFilters) ([]Partner, int, error) {
	out := []Partner{}
	for _, p := range m.partners {
		if filters.Type != "" && p.Type != filters.Type {
			continue
		}
		if filters.Process != "" && p.Process != filters.Process {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetPartner(ctx context.Context, id int64) (Partner, error) {
	p, ok := m.partners[id]
	if !ok {
		return Partner{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) CreatePartner(ctx context.Context, partner Partner) (Partner, error) {
	m.nextID++
	partner.ID = m.nextID
	partner.Active = true
	m.partners[partner.ID] = partner
	return partner, nil
}

func (m *memoryRepo) UpdatePartner(ctx context.Context, id int64, partner Partner) error {
	if _, ok := m.partners[id]; !ok {
		return shared.ErrNotFound
	}
	partner.ID = id
	m.partners[id] = partner
	return nil
}

func (m *memoryRepo) DeletePartner(ctx context.Context, id int64) error {
	if _, ok := m.partners[id]; !ok {
		return shared.ErrNotFound
	}
	if m.referenced[id] {
		return ErrReferenced
	}
	delete(m.partners, id)
	return nil
}

func (m *memoryRepo) SetPartnerActive(ctx context.Context, id int64, active bool) error {
	p, ok := m.partners[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Active = active
	m.partners[id] = p
	return nil
}

func TestCreatePartNormalizesAndValidates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	part, err := svc.CreatePart(ctx, Part{Code: " RVI-1042 ", Name: "Hex Bush", Material: "en8"})
	require.NoError(t, err)
	require.Equal(t, "RVI-1042", part.Code)
	require.Equal(t, "EN8", part.Material)
	require.True(t, part.Active)

	_, err = svc.CreatePart(ctx, Part{Code: "", Name: "No Code"})
	require.Error(t, err)

	_, err = svc.CreatePart(ctx, Part{Code: "RVI-1043", Name: "Bad Weight", UnitWeightG: -1})
	require.Error(t, err)
}

func TestDeletePartFallsBackToDeactivate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	part, err := svc.CreatePart(ctx, Part{Code: "RVI-2001", Name: "Spacer"})
	require.NoError(t, err)

	repo.referenced[part.ID] = true

	deactivated, err := svc.DeletePart(ctx, part.ID)
	require.NoError(t, err)
	require.True(t, deactivated)

	got, err := svc.GetPart(ctx, part.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestDeletePartRemovesUnreferenced(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	part, err := svc.CreatePart(ctx, Part{Code: "RVI-2002", Name: "Pin"})
	require.NoError(t, err)

	deactivated, err := svc.DeletePart(ctx, part.ID)
	require.NoError(t, err)
	require.False(t, deactivated)

	_, err = svc.GetPart(ctx, part.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreatePartnerEnforcesProcessorRules(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreatePartner(ctx, Partner{Code: "ZP-01", Name: "Shine Platers", Type: PartnerProcessor})
	require.ErrorIs(t, err, ErrInvalidPartner)

	_, err = svc.CreatePartner(ctx, Partner{Code: "ZP-01", Name: "Shine Platers", Type: PartnerProcessor, Process: "zinc_plating"})
	require.ErrorIs(t, err, ErrInvalidPartner)

	partner, err := svc.CreatePartner(ctx, Partner{
		Code: "ZP-01", Name: "Shine Platers", Type: PartnerProcessor,
		Process: "zinc_plating", SLADays: 5,
	})
	require.NoError(t, err)
	require.Equal(t, "ZINC_PLATING", partner.Process)

	_, err = svc.CreatePartner(ctx, Partner{Code: "XX-01", Name: "Mystery", Type: "COURIER"})
	require.ErrorIs(t, err, ErrInvalidPartner)
}

func TestCreatePartnerTransporterNeedsNoSLA(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	partner, err := svc.CreatePartner(context.Background(), Partner{
		Code: "TR-01", Name: "Highway Logistics", Type: PartnerTransporter,
	})
	require.NoError(t, err)
	require.Equal(t, PartnerTransporter, partner.Type)
}

func TestListPartnersFiltersByProcess(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreatePartner(ctx, Partner{Code: "ZP-01", Name: "Shine", Type: PartnerProcessor, Process: "ZINC_PLATING", SLADays: 5})
	require.NoError(t, err)
	_, err = svc.CreatePartner(ctx, Partner{Code: "HT-01", Name: "Harden Co", Type: PartnerProcessor, Process: "HEAT_TREATMENT", SLADays: 7})
	require.NoError(t, err)

	platers, total, err := svc.ListPartners(ctx, ListFilters{Type: PartnerProcessor, Process: "ZINC_PLATING"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "ZP-01", platers[0].Code)
}
