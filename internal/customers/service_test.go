package customers

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/wallet"
)

type memoryRepo struct {
	customers map[int64]*Customer
	nextID    int64
	nextCode  map[shared.Tenant]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{customers: make(map[int64]*Customer), nextCode: make(map[shared.Tenant]int64)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, tenant shared.Tenant, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok || c.Tenant != tenant {
		return Customer{}, ErrCustomerNotFound
	}
	return *c, nil
}

func (r *memoryRepo) GetByCode(ctx context.Context, tenant shared.Tenant, code string) (Customer, error) {
	for _, c := range r.customers {
		if c.Tenant == tenant && c.Code == code {
			return *c, nil
		}
	}
	return Customer{}, ErrCustomerNotFound
}

func (r *memoryRepo) FindByPhone(ctx context.Context, tenant shared.Tenant, phone string) (Customer, error) {
	for _, c := range r.customers {
		if c.Tenant == tenant && c.Phone == phone {
			return *c, nil
		}
	}
	return Customer{}, ErrCustomerNotFound
}

func (r *memoryRepo) List(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Customer, error) {
	var out []Customer
	for _, c := range r.customers {
		if c.Tenant == tenant {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memoryRepo) Update(ctx context.Context, c Customer) (Customer, error) {
	stored, ok := r.customers[c.ID]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	c.CreatedAt = stored.CreatedAt
	*stored = c
	return c, nil
}

func (r *memoryRepo) SetActive(ctx context.Context, tenant shared.Tenant, id int64, active bool) error {
	c, ok := r.customers[id]
	if !ok || c.Tenant != tenant {
		return ErrCustomerNotFound
	}
	c.Active = active
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) AllocateCode(ctx context.Context, tenant shared.Tenant) (string, error) {
	t.repo.nextCode[tenant]++
	return fmt.Sprintf("%sC%05d", tenant.ShortCode(), t.repo.nextCode[tenant]), nil
}

func (t *memoryTx) Create(ctx context.Context, c Customer) (Customer, error) {
	t.repo.nextID++
	c.ID = t.repo.nextID
	t.repo.customers[c.ID] = &c
	return c, nil
}

type fakeWallets struct {
	provisioned []int64
}

func (f *fakeWallets) Provision(ctx context.Context, tenant shared.Tenant, customerID int64) (wallet.Wallet, error) {
	f.provisioned = append(f.provisioned, customerID)
	return wallet.Wallet{ID: customerID, Tenant: tenant, CustomerID: customerID}, nil
}

type fakeLoyalty struct {
	enrolled []int64
	err      error
}

func (f *fakeLoyalty) Enroll(ctx context.Context, tenant shared.Tenant, customerID int64) (loyalty.Account, error) {
	if f.err != nil {
		return loyalty.Account{}, f.err
	}
	f.enrolled = append(f.enrolled, customerID)
	return loyalty.Account{CustomerID: customerID, Tenant: tenant}, nil
}

func newTestService() (*Service, *memoryRepo, *fakeWallets, *fakeLoyalty) {
	repo := newMemoryRepo()
	wallets := &fakeWallets{}
	enroller := &fakeLoyalty{}
	return NewService(repo, wallets, enroller, slog.Default()), repo, wallets, enroller
}

func TestCreateAllocatesCodeAndProvisions(t *testing.T) {
	svc, _, wallets, enroller := newTestService()

	c, err := svc.Create(context.Background(), Customer{
		Tenant:    shared.TenantMPShoes,
		FirstName: "asha",
		LastName:  "nair",
		Phone:     "9876543210",
	})
	require.NoError(t, err)
	require.Equal(t, "MPC00001", c.Code)
	require.Equal(t, "Asha", c.FirstName)
	require.Equal(t, "Asha Nair", c.DisplayName())
	require.True(t, c.Active)
	require.Equal(t, []int64{c.ID}, wallets.provisioned)
	require.Equal(t, []int64{c.ID}, enroller.enrolled)
}

func TestCreateCodesIncrementPerTenant(t *testing.T) {
	svc, _, _, _ := newTestService()

	first, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "One"})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "Two"})
	require.NoError(t, err)
	other, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPFootwear, FirstName: "Three"})
	require.NoError(t, err)

	require.Equal(t, "MPC00001", first.Code)
	require.Equal(t, "MPC00002", second.Code)
	require.Equal(t, "MPC00001", other.Code)
}

func TestCreateRejectsDuplicatePhone(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "Asha", Phone: "9876543210"})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "Ravi", Phone: "9876543210"})
	require.ErrorIs(t, err, ErrDuplicatePhone)
}

func TestCreateRequiresFirstName(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "   "})
	require.ErrorIs(t, err, ErrNameRequired)
}

func TestCreateWithoutActiveProgram(t *testing.T) {
	svc, _, wallets, enroller := newTestService()
	enroller.err = loyalty.ErrProgramNotFound

	c, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "Asha"})
	require.NoError(t, err)
	require.Equal(t, []int64{c.ID}, wallets.provisioned)
	require.Empty(t, enroller.enrolled)
}

func TestBusinessDisplayName(t *testing.T) {
	c := Customer{Type: TypeBusiness, CompanyName: "Stride Traders", FirstName: "Asha"}
	require.Equal(t, "Stride Traders", c.DisplayName())
}

func TestUpdateKeepsCode(t *testing.T) {
	svc, _, _, _ := newTestService()

	created, err := svc.Create(context.Background(), Customer{Tenant: shared.TenantMPShoes, FirstName: "Asha"})
	require.NoError(t, err)

	created.FirstName = "Aisha"
	created.Code = "TAMPERED"
	updated, err := svc.Update(context.Background(), created)
	require.NoError(t, err)
	require.Equal(t, "MPC00001", updated.Code)
	require.Equal(t, "Aisha", updated.FirstName)
}
