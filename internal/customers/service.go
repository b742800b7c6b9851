package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenant shared.Tenant, id int64) (Customer, error)
	GetByCode(ctx context.Context, tenant shared.Tenant, code string) (Customer, error)
	FindByPhone(ctx context.Context, tenant shared.Tenant, phone string) (Customer, error)
	List(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Customer, error)
	Update(ctx context.Context, c Customer) (Customer, error)
	SetActive(ctx context.Context, tenant shared.Tenant, id int64, active bool) error
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	AllocateCode(ctx context.Context, tenant shared.Tenant) (string, error)
	Create(ctx context.Context, c Customer) (Customer, error)
}

// WalletProvisioner opens a wallet for a new customer.
type WalletProvisioner interface {
	Provision(ctx context.Context, tenant shared.Tenant, customerID int64) (wallet.Wallet, error)
}

// LoyaltyEnroller enrolls a new customer into the active program.
type LoyaltyEnroller interface {
	Enroll(ctx context.Context, tenant shared.Tenant, customerID int64) (loyalty.Account, error)
}

// Service coordinates the customer lifecycle.
type Service struct {
	repo    RepositoryPort
	wallets WalletProvisioner
	loyalty LoyaltyEnroller
	log     *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, wallets WalletProvisioner, enroller LoyaltyEnroller, log *slog.Logger) *Service {
	return &Service{repo: repo, wallets: wallets, loyalty: enroller, log: log}
}

// Create persists the customer with a freshly allocated code, then provisions
// the wallet and loyalty enrolment.
func (s *Service) Create(ctx context.Context, c Customer) (Customer, error) {
	c.Normalize()
	if c.FirstName == "" {
		return Customer{}, ErrNameRequired
	}
	if c.Phone != "" {
		if _, err := s.repo.FindByPhone(ctx, c.Tenant, c.Phone); err == nil {
			return Customer{}, ErrDuplicatePhone
		} else if !errors.Is(err, ErrCustomerNotFound) {
			return Customer{}, err
		}
	}

	var created Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		code, err := tx.AllocateCode(ctx, c.Tenant)
		if err != nil {
			return fmt.Errorf("allocate customer code: %w", err)
		}
		c.Code = code
		c.Active = true
		created, err = tx.Create(ctx, c)
		return err
	})
	if err != nil {
		return Customer{}, err
	}

	if _, err := s.wallets.Provision(ctx, created.Tenant, created.ID); err != nil {
		return Customer{}, fmt.Errorf("provision wallet: %w", err)
	}
	if _, err := s.loyalty.Enroll(ctx, created.Tenant, created.ID); err != nil {
		// No active program is fine; the customer simply starts unenrolled.
		if !errors.Is(err, loyalty.ErrProgramNotFound) {
			return Customer{}, fmt.Errorf("enroll loyalty: %w", err)
		}
		s.log.InfoContext(ctx, "customer created without loyalty enrolment",
			"customer_code", created.Code, "tenant", created.Tenant)
	}
	return created, nil
}

// Get loads a customer by id.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, id int64) (Customer, error) {
	return s.repo.Get(ctx, tenant, id)
}

// GetByCode loads a customer by customer code.
func (s *Service) GetByCode(ctx context.Context, tenant shared.Tenant, code string) (Customer, error) {
	return s.repo.GetByCode(ctx, tenant, code)
}

// List searches customers by name, code, phone or email.
func (s *Service) List(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Customer, error) {
	return s.repo.List(ctx, tenant, query, p)
}

// Update saves mutable profile fields. Code and tenant never change.
func (s *Service) Update(ctx context.Context, c Customer) (Customer, error) {
	current, err := s.repo.Get(ctx, c.Tenant, c.ID)
	if err != nil {
		return Customer{}, err
	}
	c.Normalize()
	if c.FirstName == "" {
		return Customer{}, ErrNameRequired
	}
	c.Code = current.Code
	return s.repo.Update(ctx, c)
}

// Deactivate soft-disables the customer.
func (s *Service) Deactivate(ctx context.Context, tenant shared.Tenant, id int64) error {
	return s.repo.SetActive(ctx, tenant, id, false)
}

// Reactivate re-enables the customer.
func (s *Service) Reactivate(ctx context.Context, tenant shared.Tenant, id int64) error {
	return s.repo.SetActive(ctx, tenant, id, true)
}
