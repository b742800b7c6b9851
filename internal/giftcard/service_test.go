package giftcard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/shared"
)

type memoryRepo struct {
	cards    map[int64]*GiftCard
	accounts map[int64]*ledger.Account
	entries  []ledger.Entry
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{cards: make(map[int64]*GiftCard), accounts: make(map[int64]*ledger.Account)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetByCode(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error) {
	for _, c := range r.cards {
		if c.Tenant == tenant && c.Code == code {
			return *c, nil
		}
	}
	return GiftCard{}, ErrCardNotFound
}

func (r *memoryRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	for _, c := range r.cards {
		if c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) History(ctx context.Context, cardID int64, limit int) ([]ledger.Entry, error) {
	card, ok := r.cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	var out []ledger.Entry
	for _, e := range r.entries {
		if e.AccountID == card.AccountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]GiftCard, error) {
	var due []GiftCard
	for _, c := range r.cards {
		if c.Status == StatusActive && c.ExpiryDate.Before(asOf) {
			due = append(due, *c)
		}
	}
	return due, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Create(ctx context.Context, c GiftCard) (GiftCard, error) {
	t.repo.nextID++
	c.ID = t.repo.nextID
	t.repo.cards[c.ID] = &c
	return c, nil
}

func (t *memoryTx) GetByCodeForUpdate(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error) {
	return t.repo.GetByCode(ctx, tenant, code)
}

func (t *memoryTx) SaveUsage(ctx context.Context, c GiftCard) error {
	stored, ok := t.repo.cards[c.ID]
	if !ok {
		return ErrCardNotFound
	}
	stored.CurrentBalance = c.CurrentBalance
	stored.TimesUsed = c.TimesUsed
	stored.FirstUsedAt = c.FirstUsedAt
	stored.LastUsedAt = c.LastUsedAt
	return nil
}

func (t *memoryTx) SetStatus(ctx context.Context, id int64, status Status) error {
	stored, ok := t.repo.cards[id]
	if !ok {
		return ErrCardNotFound
	}
	stored.Status = status
	return nil
}

func (t *memoryTx) OpenAccount(ctx context.Context, tenant shared.Tenant, cardID int64) (ledger.Account, error) {
	t.repo.nextID++
	account := &ledger.Account{ID: t.repo.nextID, Tenant: tenant, OwnerType: ledger.OwnerGiftCard, OwnerID: cardID, Active: true}
	t.repo.accounts[account.ID] = account
	return *account, nil
}

func (t *memoryTx) BindAccount(ctx context.Context, cardID, accountID int64) error {
	stored, ok := t.repo.cards[cardID]
	if !ok {
		return ErrCardNotFound
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
	entry.CreatedAt = time.Now()
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
	entry.CreatedAt = time.Now()
	t.repo.entries = append(t.repo.entries, entry)
	return entry, nil
}

func (t *memoryTx) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	account, ok := t.repo.accounts[accountID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	account.Active = active
	return nil
}

func staticIssuer() CodeIssuer {
	n := 0
	return func(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
		for {
			n++
			code := fmt.Sprintf("CARD%08d", n)
			taken, err := exists(ctx, code)
			if err != nil {
				return "", err
			}
			if !taken {
				return code, nil
			}
		}
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	return NewService(repo, staticIssuer()), repo
}

func issueCard(t *testing.T, svc *Service, amount string) GiftCard {
	t.Helper()
	card, err := svc.Issue(context.Background(), IssueInput{
		Tenant:     shared.TenantMPShoes,
		Amount:     dec(amount),
		ExpiryDate: time.Now().AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	return card
}

func TestIssueLoadsFaceValue(t *testing.T) {
	svc, repo := newTestService()

	card := issueCard(t, svc, "500")
	require.Equal(t, StatusActive, card.Status)
	require.True(t, card.CurrentBalance.Equal(dec("500")))
	require.True(t, card.InitialAmount.Equal(dec("500")))

	account := repo.accounts[card.AccountID]
	require.True(t, account.Balance.Equal(dec("500")))
	require.True(t, account.LifetimeIn.Equal(dec("500")))
}

func TestFullRedemptionTerminatesCard(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "500")

	entry, redeemed, err := svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("500"), OrderRef: "MPO20240501000001"})
	require.NoError(t, err)
	require.True(t, entry.Amount.Equal(dec("-500")))
	require.True(t, redeemed.CurrentBalance.IsZero())
	require.Equal(t, StatusRedeemed, redeemed.Status)
	require.False(t, repo.accounts[redeemed.AccountID].Active)

	// Any further redemption attempt is rejected as not active.
	_, _, err = svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("1")})
	require.ErrorIs(t, err, ErrCardNotActive)
}

func TestReverseReopensRedeemedCard(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "500")
	_, redeemed, err := svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("500"), OrderRef: "MPO20240501000001"})
	require.NoError(t, err)
	require.Equal(t, StatusRedeemed, redeemed.Status)

	entry, reversed, err := svc.Reverse(ctx, ReverseInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("500"), OrderRef: "MPO20240501000001"})
	require.NoError(t, err)
	require.Equal(t, StatusActive, reversed.Status)
	require.True(t, reversed.CurrentBalance.Equal(dec("500")))
	require.Equal(t, 0, reversed.TimesUsed)
	require.True(t, entry.Amount.Equal(dec("500")))
	require.True(t, repo.accounts[reversed.AccountID].Active)

	// The reopened card redeems again.
	_, _, err = svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("100")})
	require.NoError(t, err)
}

func TestReverseRejectsCancelledCard(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "200")
	require.NoError(t, svc.Cancel(ctx, shared.TenantMPShoes, card.Code))

	_, _, err := svc.Reverse(ctx, ReverseInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("50")})
	require.ErrorIs(t, err, ErrBadStatusChange)
}

func TestPartialRedemptionsTrackUsage(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "300")

	_, after, err := svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("120")})
	require.NoError(t, err)
	require.True(t, after.CurrentBalance.Equal(dec("180")))
	require.Equal(t, StatusActive, after.Status)
	require.Equal(t, 1, after.TimesUsed)
	require.NotNil(t, after.FirstUsedAt)

	_, after, err = svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("80")})
	require.NoError(t, err)
	require.Equal(t, 2, after.TimesUsed)

	history, err := svc.History(ctx, shared.TenantMPShoes, card.Code, 10)
	require.NoError(t, err)
	require.Len(t, history, 3) // issue + two redemptions

	account := repo.accounts[after.AccountID]
	require.True(t, account.Balance.Equal(dec("100")))
}

func TestRedeemBeyondBalance(t *testing.T) {
	svc, _ := newTestService()

	card := issueCard(t, svc, "100")
	_, _, err := svc.Redeem(context.Background(), RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("100.01")})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestRedeemEnforcesMinimumOrderAmount(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	card, err := svc.Issue(ctx, IssueInput{
		Tenant:             shared.TenantMPShoes,
		Amount:             dec("200"),
		ExpiryDate:         time.Now().AddDate(0, 6, 0),
		MinimumOrderAmount: dec("1000"),
	})
	require.NoError(t, err)

	subtotal := dec("999.99")
	_, _, err = svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("50"), OrderSubtotal: &subtotal})
	require.ErrorIs(t, err, ErrMinimumOrderNotMet)

	subtotal = dec("1000")
	_, _, err = svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("50"), OrderSubtotal: &subtotal})
	require.NoError(t, err)
}

func TestRedeemExpiredCard(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "100")

	future := svc.WithClock(func() time.Time { return time.Now().AddDate(2, 0, 0) })
	_, _, err := future.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("10")})
	require.ErrorIs(t, err, ErrCardExpired)
}

func TestSuspendBlocksUntilReactivated(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "100")
	require.NoError(t, svc.Suspend(ctx, shared.TenantMPShoes, card.Code))

	_, _, err := svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("10")})
	require.ErrorIs(t, err, ErrCardNotActive)

	require.NoError(t, svc.Reactivate(ctx, shared.TenantMPShoes, card.Code))
	_, _, err = svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("10")})
	require.NoError(t, err)
}

func TestCancelIsTerminal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "100")
	require.NoError(t, svc.Cancel(ctx, shared.TenantMPShoes, card.Code))

	require.ErrorIs(t, svc.Reactivate(ctx, shared.TenantMPShoes, card.Code), ErrBadStatusChange)
	_, _, err := svc.Redeem(ctx, RedeemInput{Tenant: shared.TenantMPShoes, Code: card.Code, Amount: dec("10")})
	require.ErrorIs(t, err, ErrCardNotActive)
}

func TestExpireDueSweep(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	card := issueCard(t, svc, "100")
	repo.cards[card.ID].ExpiryDate = time.Now().AddDate(0, 0, -1)

	expired, err := svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, StatusExpired, repo.cards[card.ID].Status)
	require.False(t, repo.accounts[card.AccountID].Active)

	// Idempotent: a second sweep finds nothing.
	expired, err = svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, expired)
}
