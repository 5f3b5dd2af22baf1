package masterdata

import (
	"context"
	"errors"
	"strings"
)

// IntegrationHandler receives notifications after committed master data
// changes.
type IntegrationHandler interface {
	OnMasterdataChanged(ctx context.Context, entity string, id int64, action string)
}

// service implements Service.
type service struct {
	repo        Repository
	integration IntegrationHandler
}

// NewService creates a new master data service. integration may be nil.
func NewService(repo Repository, integration IntegrationHandler) Service {
	return &service{repo: repo, integration: integration}
}

func (s *service) notify(ctx context.Context, entity string, id int64, action string) {
	if s.integration != nil {
		s.integration.OnMasterdataChanged(ctx, entity, id, action)
	}
}

// Part operations

func (s *service) ListParts(ctx context.Context, filters ListFilters) ([]Part, int, error) {
	return s.repo.ListParts(ctx, filters)
}

func (s *service) GetPart(ctx context.Context, id int64) (Part, error) {
	if id <= 0 {
		return Part{}, errors.New("invalid part ID")
	}
	return s.repo.GetPart(ctx, id)
}

func (s *service) CreatePart(ctx context.Context, part Part) (Part, error) {
	if err := validatePart(&part); err != nil {
		return Part{}, err
	}
	created, err := s.repo.CreatePart(ctx, part)
	if err != nil {
		return Part{}, err
	}
	s.notify(ctx, "part", created.ID, "created")
	return created, nil
}

func (s *service) UpdatePart(ctx context.Context, id int64, part Part) error {
	if id <= 0 {
		return errors.New("invalid part ID")
	}
	if err := validatePart(&part); err != nil {
		return err
	}
	if err := s.repo.UpdatePart(ctx, id, part); err != nil {
		return err
	}
	s.notify(ctx, "part", id, "updated")
	return nil
}

func (s *service) DeletePart(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, errors.New("invalid part ID")
	}
	err := s.repo.DeletePart(ctx, id)
	if errors.Is(err, ErrReferenced) {
		if err := s.repo.SetPartActive(ctx, id, false); err != nil {
			return false, err
		}
		s.notify(ctx, "part", id, "deactivated")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	s.notify(ctx, "part", id, "deleted")
	return false, nil
}

// Customer operations

func (s *service) ListCustomers(ctx context.Context, filters ListFilters) ([]Customer, int, error) {
	return s.repo.ListCustomers(ctx, filters)
}

func (s *service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	if id <= 0 {
		return Customer{}, errors.New("invalid customer ID")
	}
	return s.repo.GetCustomer(ctx, id)
}

func (s *service) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	if err := validateCustomer(&customer); err != nil {
		return Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return Customer{}, err
	}
	s.notify(ctx, "customer", created.ID, "created")
	return created, nil
}

func (s *service) UpdateCustomer(ctx context.Context, id int64, customer Customer) error {
	if id <= 0 {
		return errors.New("invalid customer ID")
	}
	if err := validateCustomer(&customer); err != nil {
		return err
	}
	if err := s.repo.UpdateCustomer(ctx, id, customer); err != nil {
		return err
	}
	s.notify(ctx, "customer", id, "updated")
	return nil
}

func (s *service) DeleteCustomer(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, errors.New("invalid customer ID")
	}
	err := s.repo.DeleteCustomer(ctx, id)
	if errors.Is(err, ErrReferenced) {
		if err := s.repo.SetCustomerActive(ctx, id, false); err != nil {
			return false, err
		}
		s.notify(ctx, "customer", id, "deactivated")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	s.notify(ctx, "customer", id, "deleted")
	return false, nil
}

// Partner operations

func (s *service) ListPartners(ctx context.Context, filters ListFilters) ([]Partner, int, error) {
	return s.repo.ListPartners(ctx, filters)
}

func (s *service) GetPartner(ctx context.Context, id int64) (Partner, error) {
	if id <= 0 {
		return Partner{}, errors.New("invalid partner ID")
	}
	return s.repo.GetPartner(ctx, id)
}

func (s *service) CreatePartner(ctx context.Context, partner Partner) (Partner, error) {
	if err := validatePartner(&partner); err != nil {
		return Partner{}, err
	}
	created, err := s.repo.CreatePartner(ctx, partner)
	if err != nil {
		return Partner{}, err
	}
	s.notify(ctx, "partner", created.ID, "created")
	return created, nil
}

func (s *service) UpdatePartner(ctx context.Context, id int64, partner Partner) error {
	if id <= 0 {
		return errors.New("invalid partner ID")
	}
	if err := validatePartner(&partner); err != nil {
		return err
	}
	if err := s.repo.UpdatePartner(ctx, id, partner); err != nil {
		return err
	}
	s.notify(ctx, "partner", id, "updated")
	return nil
}

func (s *service) DeletePartner(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, errors.New("invalid partner ID")
	}
	err := s.repo.DeletePartner(ctx, id)
	if errors.Is(err, ErrReferenced) {
		if err := s.repo.SetPartnerActive(ctx, id, false); err != nil {
			return false, err
		}
		s.notify(ctx, "partner", id, "deactivated")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	s.notify(ctx, "partner", id, "deleted")
	return false, nil
}

func validatePart(part *Part) error {
	part.Code = strings.TrimSpace(part.Code)
	part.Name = strings.TrimSpace(part.Name)
	part.Material = strings.ToUpper(strings.TrimSpace(part.Material))
	if part.Code == "" || part.Name == "" {
		return errors.New("part code and name are required")
	}
	if part.UnitWeightG < 0 {
		return errors.New("unit weight cannot be negative")
	}
	return nil
}

func validateCustomer(customer *Customer) error {
	customer.Code = strings.TrimSpace(customer.Code)
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Code == "" || customer.Name == "" {
		return errors.New("customer code and name are required")
	}
	if customer.PaymentTermsDays < 0 {
		return errors.New("payment terms cannot be negative")
	}
	return nil
}

func validatePartner(partner *Partner) error {
	partner.Code = strings.TrimSpace(partner.Code)
	partner.Name = strings.TrimSpace(partner.Name)
	partner.Process = strings.ToUpper(strings.TrimSpace(partner.Process))
	if partner.Code == "" || partner.Name == "" {
		return errors.New("partner code and name are required")
	}
	if !partner.Type.Valid() {
		return ErrInvalidPartner
	}
	if partner.Type == PartnerProcessor {
		if partner.Process == "" {
			return ErrInvalidPartner
		}
		if partner.SLADays <= 0 {
			return ErrInvalidPartner
		}
	}
	return nil
}
