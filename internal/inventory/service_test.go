package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
)

type memoryRepo struct {
	categories map[int64]*Category
	products   map[int64]*Product
	accounts   map[int64]*ledger.Account
	entries    []ledger.Entry
	counters   map[string]int64
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		categories: make(map[int64]*Category),
		products:   make(map[int64]*Product),
		accounts:   make(map[int64]*ledger.Account),
		counters:   make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetCategory(ctx context.Context, tenant shared.Tenant, id int64) (Category, error) {
	c, ok := r.categories[id]
	if !ok || c.Tenant != tenant {
		return Category{}, ErrCategoryNotFound
	}
	return *c, nil
}

func (r *memoryRepo) Categories(ctx context.Context, tenant shared.Tenant) ([]Category, error) {
	var out []Category
	for _, c := range r.categories {
		if c.Tenant == tenant {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateCategory(ctx context.Context, c Category) (Category, error) {
	r.nextID++
	c.ID = r.nextID
	r.categories[c.ID] = &c
	return c, nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, tenant shared.Tenant, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok || p.Tenant != tenant {
		return Product{}, ErrProductNotFound
	}
	return *p, nil
}

func (r *memoryRepo) GetBySKU(ctx context.Context, tenant shared.Tenant, sku string) (Product, error) {
	for _, p := range r.products {
		if p.Tenant == tenant && p.SKU == sku {
			return *p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (r *memoryRepo) ListProducts(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Product, error) {
	var out []Product
	for _, product := range r.products {
		if product.Tenant == tenant {
			out = append(out, *product)
		}
	}
	return out, nil
}

func (r *memoryRepo) LowStock(ctx context.Context, tenant shared.Tenant) ([]Product, error) {
	var out []Product
	for _, product := range r.products {
		if product.Tenant == tenant && product.IsLowStock() {
			out = append(out, *product)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	stored, ok := r.products[p.ID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	*stored = p
	return p, nil
}

func (r *memoryRepo) Movements(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) AllocateSKU(ctx context.Context, tenant shared.Tenant, categoryCode string) (string, error) {
	key := tenant.String() + ":" + categoryCode
	t.repo.counters[key]++
	return fmt.Sprintf("%s%s%04d", tenant.ShortCode(), categoryCode, t.repo.counters[key]), nil
}

func (t *memoryTx) CreateProduct(ctx context.Context, p Product) (Product, error) {
	t.repo.nextID++
	p.ID = t.repo.nextID
	t.repo.products[p.ID] = &p
	return p, nil
}

func (t *memoryTx) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	p, ok := t.repo.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return *p, nil
}

func (t *memoryTx) SaveStock(ctx context.Context, p Product) error {
	stored, ok := t.repo.products[p.ID]
	if !ok {
		return ErrProductNotFound
	}
	stored.StockQuantity = p.StockQuantity
	stored.ReservedQuantity = p.ReservedQuantity
	return nil
}

func (t *memoryTx) OpenStockAccount(ctx context.Context, tenant shared.Tenant, productID int64) (ledger.Account, error) {
	t.repo.nextID++
	account := &ledger.Account{ID: t.repo.nextID, Tenant: tenant, OwnerType: ledger.OwnerStock, OwnerID: productID, Active: true}
	t.repo.accounts[account.ID] = account
	return *account, nil
}

func (t *memoryTx) BindAccount(ctx context.Context, productID, accountID int64) error {
	stored, ok := t.repo.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	stored.AccountID = accountID
	return nil
}

func (t *memoryTx) CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	account, ok := t.repo.accounts[accountID]
	if !ok {
		return ledger.Entry{}, ledger.ErrAccountNotFound
	}
	entry, err := account.ApplyCredit(amount, kind, reference, description)
	if err != nil {
		return ledger.Entry{}, err
	}
	t.repo.entries = append(t.repo.entries, entry)
	return entry, nil
}

func (t *memoryTx) DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	account, ok := t.repo.accounts[accountID]
	if !ok {
		return ledger.Entry{}, ledger.ErrAccountNotFound
	}
	entry, err := account.ApplyDebit(amount, kind, reference, description)
	if err != nil {
		return ledger.Entry{}, err
	}
	t.repo.entries = append(t.repo.entries, entry)
	return entry, nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, Category) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo)
	category, err := svc.CreateCategory(context.Background(), Category{Tenant: shared.TenantMPShoes, Name: "Sneakers"})
	require.NoError(t, err)
	return svc, repo, category
}

func newTestProduct(t *testing.T, svc *Service, category Category) Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), Product{
		Tenant:            shared.TenantMPShoes,
		Name:              "Court Classic",
		CategoryID:        category.ID,
		SellingPrice:      decimal.RequireFromString("2499.00"),
		MRP:               decimal.RequireFromString("2999.00"),
		TrackInventory:    true,
		LowStockThreshold: 5,
	})
	require.NoError(t, err)
	return p
}

func TestCreateProductAllocatesSKU(t *testing.T) {
	svc, repo, category := newTestService(t)

	first := newTestProduct(t, svc, category)
	second := newTestProduct(t, svc, category)

	require.Equal(t, "MPSNE0001", first.SKU)
	require.Equal(t, "MPSNE0002", second.SKU)
	require.NotZero(t, first.AccountID)
	require.Contains(t, repo.accounts, first.AccountID)
}

func TestSKUStreamsPerCategory(t *testing.T) {
	svc, _, sneakers := newTestService(t)
	boots, err := svc.CreateCategory(context.Background(), Category{Tenant: shared.TenantMPShoes, Name: "Boots"})
	require.NoError(t, err)

	a := newTestProduct(t, svc, sneakers)
	b, err := svc.CreateProduct(context.Background(), Product{
		Tenant: shared.TenantMPShoes, Name: "Trail Boot", CategoryID: boots.ID,
		SellingPrice: decimal.RequireFromString("3999.00"), MRP: decimal.RequireFromString("4499.00"),
		TrackInventory: true,
	})
	require.NoError(t, err)

	require.Equal(t, "MPSNE0001", a.SKU)
	require.Equal(t, "MPBOO0001", b.SKU)
}

func TestReceiveAndIssueTrackLedger(t *testing.T) {
	svc, repo, category := newTestService(t)
	product := newTestProduct(t, svc, category)

	_, err := svc.Receive(context.Background(), MovementInput{
		Tenant: shared.TenantMPShoes, ProductID: product.ID, Quantity: 20, Reference: "GRN-1",
	})
	require.NoError(t, err)

	entry, err := svc.Issue(context.Background(), MovementInput{
		Tenant: shared.TenantMPShoes, ProductID: product.ID, Quantity: 6, Reference: "MPS202601010001",
	})
	require.NoError(t, err)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(-6)))
	require.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(14)))

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(14), stored.StockQuantity)
	require.True(t, repo.accounts[product.AccountID].Balance.Equal(decimal.NewFromInt(14)))
}

func TestIssueBeyondStockRejected(t *testing.T) {
	svc, _, category := newTestService(t)
	product := newTestProduct(t, svc, category)

	_, err := svc.Receive(context.Background(), MovementInput{Tenant: shared.TenantMPShoes, ProductID: product.ID, Quantity: 3})
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), MovementInput{Tenant: shared.TenantMPShoes, ProductID: product.ID, Quantity: 4})
	require.ErrorIs(t, err, ErrInsufficientStock)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.StockQuantity)
}

func TestAdjustSigned(t *testing.T) {
	svc, _, category := newTestService(t)
	product := newTestProduct(t, svc, category)

	_, err := svc.Adjust(context.Background(), shared.TenantMPShoes, product.ID, 10, "opening stock", 1)
	require.NoError(t, err)
	_, err = svc.Adjust(context.Background(), shared.TenantMPShoes, product.ID, -2, "damaged pair", 1)
	require.NoError(t, err)
	_, err = svc.Adjust(context.Background(), shared.TenantMPShoes, product.ID, -20, "impossible", 1)
	require.ErrorIs(t, err, ErrInsufficientStock)

	stored, err := svc.Get(context.Background(), shared.TenantMPShoes, product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), stored.StockQuantity)
}

func TestReserveLimitsAvailability(t *testing.T) {
	svc, _, category := newTestService(t)
	product := newTestProduct(t, svc, category)

	_, err := svc.Receive(context.Background(), MovementInput{Tenant: shared.TenantMPShoes, ProductID: product.ID, Quantity: 10})
	require.NoError(t, err)

	require.NoError(t, svc.Reserve(context.Background(), shared.TenantMPShoes, product.ID, 7))
	err = svc.Reserve(context.Background(), shared.TenantMPShoes, product.ID, 4)
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, svc.Release(context.Background(), shared.TenantMPShoes, product.ID, 7))
	require.NoError(t, svc.Reserve(context.Background(), shared.TenantMPShoes, product.ID, 4))
}

func TestUntrackedProductRejectsMovements(t *testing.T) {
	svc, _, category := newTestService(t)
	p, err := svc.CreateProduct(context.Background(), Product{
		Tenant: shared.TenantMPShoes, Name: "Gift Wrap", CategoryID: category.ID,
		SellingPrice: decimal.RequireFromString("49.00"), MRP: decimal.RequireFromString("49.00"),
	})
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), MovementInput{Tenant: shared.TenantMPShoes, ProductID: p.ID, Quantity: 5})
	require.ErrorIs(t, err, ErrInventoryNotTracked)
}

func TestLowStockListing(t *testing.T) {
	svc, _, category := newTestService(t)
	product := newTestProduct(t, svc, category)

	_, err := svc.Receive(context.Background(), MovementInput{Tenant: shared.TenantMPShoes, ProductID: product.ID, Quantity: 4})
	require.NoError(t, err)

	low, err := svc.LowStock(context.Background(), shared.TenantMPShoes)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, product.ID, low[0].ID)
}

func TestDiscountedPrice(t *testing.T) {
	p := Product{
		SellingPrice:       decimal.RequireFromString("2000"),
		DiscountPercentage: decimal.RequireFromString("12.5"),
	}
	require.True(t, p.DiscountedPrice().Equal(decimal.RequireFromString("1750")))
}
