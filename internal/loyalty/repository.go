package loyalty

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Repository persists loyalty programs and accounts in PostgreSQL.
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
}

// WithTx runs fn inside a transaction with ledger writes bound to it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: r.ledger})
	})
}

const programColumns = `id, tenant, name, points_per_rupee, cashback_percentage, minimum_redemption, inactivity_expiry_days, active, start_date, end_date, created_at, updated_at`

func scanProgram(row pgx.Row) (Program, error) {
	var p Program
	var tenant string
	err := row.Scan(&p.ID, &tenant, &p.Name, &p.PointsPerRupee, &p.CashbackPercentage, &p.MinimumRedemption, &p.InactivityExpiryDays, &p.Active, &p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Program{}, ErrProgramNotFound
		}
		return Program{}, err
	}
	p.Tenant = shared.Tenant(tenant)
	return p, nil
}

const accountColumns = `id, tenant, customer_id, program_id, account_id, points_balance, total_earned, total_redeemed, last_activity_at, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var tenant string
	err := row.Scan(&a.ID, &tenant, &a.CustomerID, &a.ProgramID, &a.AccountID, &a.PointsBalance, &a.TotalEarned, &a.TotalRedeemed, &a.LastActivityAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Tenant = shared.Tenant(tenant)
	return a, nil
}

// CreateProgram inserts a program row.
func (r *Repository) CreateProgram(ctx context.Context, p Program) (Program, error) {
	const q = `
		INSERT INTO loyalty_programs (tenant, name, points_per_rupee, cashback_percentage, minimum_redemption, inactivity_expiry_days, active, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING ` + programColumns
	return scanProgram(r.pool.QueryRow(ctx, q, p.Tenant.String(), p.Name, p.PointsPerRupee, p.CashbackPercentage, p.MinimumRedemption, p.InactivityExpiryDays, p.Active, p.StartDate, p.EndDate))
}

// GetProgram loads a program by id.
func (r *Repository) GetProgram(ctx context.Context, id int64) (Program, error) {
	return scanProgram(r.pool.QueryRow(ctx, `SELECT `+programColumns+` FROM loyalty_programs WHERE id = $1`, id))
}

// GetActiveProgram loads the tenant's currently active program.
func (r *Repository) GetActiveProgram(ctx context.Context, tenant shared.Tenant) (Program, error) {
	const q = `SELECT ` + programColumns + ` FROM loyalty_programs WHERE tenant = $1 AND active ORDER BY id DESC LIMIT 1`
	return scanProgram(r.pool.QueryRow(ctx, q, tenant.String()))
}

// GetAccount loads a customer's loyalty account.
func (r *Repository) GetAccount(ctx context.Context, tenant shared.Tenant, customerID int64) (Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM loyalty_accounts WHERE tenant = $1 AND customer_id = $2`
	return scanAccount(r.pool.QueryRow(ctx, q, tenant.String(), customerID))
}

// History lists ledger entries for the backing account.
func (r *Repository) History(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	return r.ledger.Entries(ctx, r.pool, accountID, limit)
}

// ListIdleAccounts returns accounts with a positive balance whose last
// activity predates their program's inactivity window.
func (r *Repository) ListIdleAccounts(ctx context.Context, asOf time.Time, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
		SELECT ` + accountColumns + `
		FROM loyalty_accounts a
		JOIN loyalty_programs p ON p.id = a.program_id
		WHERE p.inactivity_expiry_days IS NOT NULL
		  AND a.points_balance > 0
		  AND a.last_activity_at IS NOT NULL
		  AND a.last_activity_at < $1::timestamptz - make_interval(days => p.inactivity_expiry_days)
		ORDER BY a.last_activity_at
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (t *txRepo) CreateAccount(ctx context.Context, a Account) (Account, error) {
	const q = `
		INSERT INTO loyalty_accounts (tenant, customer_id, program_id, account_id, points_balance, total_earned, total_redeemed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, NOW(), NOW())
		RETURNING ` + accountColumns
	return scanAccount(t.tx.QueryRow(ctx, q, a.Tenant.String(), a.CustomerID, a.ProgramID, a.AccountID))
}

func (t *txRepo) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM loyalty_accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SaveTotals(ctx context.Context, a Account) error {
	const q = `
		UPDATE loyalty_accounts
		SET points_balance = $2, total_earned = $3, total_redeemed = $4, last_activity_at = $5, updated_at = NOW()
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, a.ID, a.PointsBalance, a.TotalEarned, a.TotalRedeemed, a.LastActivityAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *txRepo) OpenLedgerAccount(ctx context.Context, tenant shared.Tenant, customerID int64) (ledger.Account, error) {
	return t.ledger.Open(ctx, t.tx, ledger.Account{Tenant: tenant, OwnerType: ledger.OwnerLoyalty, OwnerID: customerID})
}

func (t *txRepo) CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Credit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}

func (t *txRepo) DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Debit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}
