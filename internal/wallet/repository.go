package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Repository persists wallets in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Store
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, ledger: ledger.NewStore()}
}

type txRepo struct {
	tx     pgx.Tx
	ledger *ledger.Store
	alloc  *sequence.Allocator
}

// WithTx runs fn inside a transaction, with ledger writes and sequence
// allocation bound to the same transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepo{
			tx:     tx,
			ledger: r.ledger,
			alloc:  sequence.NewAllocator(sequence.NewPGCounterStore(tx)),
		}
		return fn(ctx, wrapper)
	})
}

const walletColumns = `id, tenant, customer_id, account_id, main_balance, cashback_balance, promotional_balance,
	daily_spend_limit, monthly_spend_limit, status, status_reason, pin_hash, last_transaction_at, created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var tenant, status string
	err := row.Scan(&w.ID, &tenant, &w.CustomerID, &w.AccountID, &w.MainBalance, &w.CashbackBalance, &w.PromotionalBalance,
		&w.DailySpendLimit, &w.MonthlySpendLimit, &status, &w.StatusReason, &w.PINHash, &w.LastTransactionAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.Tenant = shared.Tenant(tenant)
	w.Status = Status(status)
	return w, nil
}

// GetByCustomer loads a customer's wallet.
func (r *Repository) GetByCustomer(ctx context.Context, tenant shared.Tenant, customerID int64) (Wallet, error) {
	const q = `SELECT ` + walletColumns + ` FROM wallets WHERE tenant = $1 AND customer_id = $2`
	return scanWallet(r.pool.QueryRow(ctx, q, tenant.String(), customerID))
}

// Get loads a wallet by id.
func (r *Repository) Get(ctx context.Context, id int64) (Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

// Transactions lists the wallet's ledger history.
func (r *Repository) Transactions(ctx context.Context, walletID int64, limit int) ([]ledger.Entry, error) {
	w, err := r.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return r.ledger.Entries(ctx, r.pool, w.AccountID, limit)
}

func (t *txRepo) Create(ctx context.Context, w Wallet) (Wallet, error) {
	const q = `
		INSERT INTO wallets (tenant, customer_id, account_id, main_balance, cashback_balance, promotional_balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, $4, NOW(), NOW())
		RETURNING ` + walletColumns
	return scanWallet(t.tx.QueryRow(ctx, q, w.Tenant.String(), w.CustomerID, w.AccountID, string(w.Status)))
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SaveBuckets(ctx context.Context, w Wallet) error {
	const q = `
		UPDATE wallets
		SET main_balance = $2, cashback_balance = $3, promotional_balance = $4, last_transaction_at = $5, updated_at = NOW()
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, w.ID, w.MainBalance, w.CashbackBalance, w.PromotionalBalance, w.LastTransactionAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status, reason string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET status = $2, status_reason = $3, updated_at = NOW() WHERE id = $1`, id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *txRepo) SetPINHash(ctx context.Context, id int64, hash string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET pin_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *txRepo) SpentSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error) {
	const q = `
		SELECT COALESCE(-SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND amount < 0 AND created_at >= $2`
	var spent decimal.Decimal
	if err := t.tx.QueryRow(ctx, q, accountID, since).Scan(&spent); err != nil {
		return decimal.Zero, err
	}
	return spent, nil
}

func (t *txRepo) CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Credit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}

func (t *txRepo) DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Debit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}

func (t *txRepo) OpenAccount(ctx context.Context, tenant shared.Tenant, customerID int64) (ledger.Account, error) {
	return t.ledger.Open(ctx, t.tx, ledger.Account{Tenant: tenant, OwnerType: ledger.OwnerWallet, OwnerID: customerID})
}

func (t *txRepo) AllocateTransactionID(ctx context.Context, tenant shared.Tenant) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryWalletTxn})
}
