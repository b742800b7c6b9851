package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCategory(ctx context.Context, tenant shared.Tenant, id int64) (Category, error)
	Categories(ctx context.Context, tenant shared.Tenant) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) (Category, error)
	GetProduct(ctx context.Context, tenant shared.Tenant, id int64) (Product, error)
	GetBySKU(ctx context.Context, tenant shared.Tenant, sku string) (Product, error)
	ListProducts(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Product, error)
	LowStock(ctx context.Context, tenant shared.Tenant) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	Movements(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error)
}

// TxRepository exposes the transactional operations the service composes.
type TxRepository interface {
	AllocateSKU(ctx context.Context, tenant shared.Tenant, categoryCode string) (string, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	SaveStock(ctx context.Context, p Product) error
	OpenStockAccount(ctx context.Context, tenant shared.Tenant, productID int64) (ledger.Account, error)
	BindAccount(ctx context.Context, productID, accountID int64) error
	CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
	DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error)
}

// Service coordinates catalog and stock operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// MovementInput describes a stock receive or issue.
type MovementInput struct {
	Tenant    shared.Tenant
	ProductID int64
	Quantity  int64
	UnitCost  decimal.Decimal
	Reference string
	Reason    string
	ActorID   int64
}

// CreateCategory persists a category.
func (s *Service) CreateCategory(ctx context.Context, c Category) (Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Active = true
	return s.repo.CreateCategory(ctx, c)
}

// Categories lists the tenant's categories.
func (s *Service) Categories(ctx context.Context, tenant shared.Tenant) ([]Category, error) {
	return s.repo.Categories(ctx, tenant)
}

// CreateProduct persists a product with a generated SKU and a backing stock
// ledger account. The SKU stream is scoped per tenant and category code, so
// running products share a compact contiguous range within their category.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	category, err := s.repo.GetCategory(ctx, p.Tenant, p.CategoryID)
	if err != nil {
		return Product{}, err
	}
	if p.Gender == "" {
		p.Gender = GenderUnisex
	}
	p.Active = true

	var created Product
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sku, err := tx.AllocateSKU(ctx, p.Tenant, category.SKUCode())
		if err != nil {
			return fmt.Errorf("allocate sku: %w", err)
		}
		p.SKU = sku
		created, err = tx.CreateProduct(ctx, p)
		if err != nil {
			return err
		}
		account, err := tx.OpenStockAccount(ctx, p.Tenant, created.ID)
		if err != nil {
			return fmt.Errorf("open stock account: %w", err)
		}
		created.AccountID = account.ID
		return tx.BindAccount(ctx, created.ID, account.ID)
	})
	return created, err
}

// Get loads a product by id.
func (s *Service) Get(ctx context.Context, tenant shared.Tenant, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, tenant, id)
}

// GetBySKU loads a product by SKU.
func (s *Service) GetBySKU(ctx context.Context, tenant shared.Tenant, sku string) (Product, error) {
	return s.repo.GetBySKU(ctx, tenant, sku)
}

// List searches products.
func (s *Service) List(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Product, error) {
	return s.repo.ListProducts(ctx, tenant, query, p)
}

// LowStock lists tracked products at or below their threshold.
func (s *Service) LowStock(ctx context.Context, tenant shared.Tenant) ([]Product, error) {
	return s.repo.LowStock(ctx, tenant)
}

// Update saves mutable catalog fields. SKU and tenant never change.
func (s *Service) Update(ctx context.Context, p Product) (Product, error) {
	current, err := s.repo.GetProduct(ctx, p.Tenant, p.ID)
	if err != nil {
		return Product{}, err
	}
	p.SKU = current.SKU
	p.AccountID = current.AccountID
	p.StockQuantity = current.StockQuantity
	p.ReservedQuantity = current.ReservedQuantity
	return s.repo.UpdateProduct(ctx, p)
}

// Movements lists the product's stock ledger, newest first.
func (s *Service) Movements(ctx context.Context, tenant shared.Tenant, productID int64, limit int) ([]ledger.Entry, error) {
	product, err := s.repo.GetProduct(ctx, tenant, productID)
	if err != nil {
		return nil, err
	}
	return s.repo.Movements(ctx, product.AccountID, limit)
}

// Receive records incoming stock against the product's ledger.
func (s *Service) Receive(ctx context.Context, input MovementInput) (ledger.Entry, error) {
	return s.move(ctx, input, false, ledger.KindReceive)
}

// Issue records outgoing stock, rejecting issues beyond the on-hand quantity.
func (s *Service) Issue(ctx context.Context, input MovementInput) (ledger.Entry, error) {
	return s.move(ctx, input, true, ledger.KindIssueOut)
}

func (s *Service) move(ctx context.Context, input MovementInput, out bool, kind ledger.Kind) (ledger.Entry, error) {
	if input.Quantity <= 0 {
		return ledger.Entry{}, ErrInvalidQuantity
	}
	var entry ledger.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if !product.TrackInventory {
			return ErrInventoryNotTracked
		}
		qty := decimal.NewFromInt(input.Quantity)
		if out {
			if input.Quantity > product.StockQuantity {
				return fmt.Errorf("%w: have %d, want %d", ErrInsufficientStock, product.StockQuantity, input.Quantity)
			}
			entry, err = tx.DebitAccount(ctx, product.AccountID, qty, kind, input.Reference, input.Reason, input.ActorID)
			if err != nil {
				return err
			}
			product.StockQuantity -= input.Quantity
		} else {
			entry, err = tx.CreditAccount(ctx, product.AccountID, qty, kind, input.Reference, input.Reason, input.ActorID)
			if err != nil {
				return err
			}
			product.StockQuantity += input.Quantity
		}
		return tx.SaveStock(ctx, product)
	})
	return entry, err
}

// Adjust applies a signed manual stock correction.
func (s *Service) Adjust(ctx context.Context, tenant shared.Tenant, productID, quantity int64, reason string, actorID int64) (ledger.Entry, error) {
	if quantity == 0 {
		return ledger.Entry{}, ErrInvalidQuantity
	}
	var entry ledger.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if !product.TrackInventory {
			return ErrInventoryNotTracked
		}
		if quantity > 0 {
			entry, err = tx.CreditAccount(ctx, product.AccountID, decimal.NewFromInt(quantity), ledger.KindAdjust, "", reason, actorID)
			if err != nil {
				return err
			}
			product.StockQuantity += quantity
		} else {
			down := -quantity
			if down > product.StockQuantity {
				return fmt.Errorf("%w: have %d, want %d", ErrInsufficientStock, product.StockQuantity, down)
			}
			entry, err = tx.DebitAccount(ctx, product.AccountID, decimal.NewFromInt(down), ledger.KindAdjust, "", reason, actorID)
			if err != nil {
				return err
			}
			product.StockQuantity -= down
		}
		return tx.SaveStock(ctx, product)
	})
	return entry, err
}

// Reserve holds quantity against pending orders.
func (s *Service) Reserve(ctx context.Context, tenant shared.Tenant, productID, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if quantity > product.Available() {
			return fmt.Errorf("%w: available %d, want %d", ErrInsufficientStock, product.Available(), quantity)
		}
		product.ReservedQuantity += quantity
		return tx.SaveStock(ctx, product)
	})
}

// Release frees a previous reservation.
func (s *Service) Release(ctx context.Context, tenant shared.Tenant, productID, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		product.ReservedQuantity -= quantity
		if product.ReservedQuantity < 0 {
			product.ReservedQuantity = 0
		}
		return tx.SaveStock(ctx, product)
	})
}
