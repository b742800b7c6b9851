package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Store persists accounts and entries in PostgreSQL. Methods take a DBTX so
// domain repositories can fold ledger writes into their own transactions;
// Credit and Debit lock the account row and therefore only make sense inside
// an open transaction.
type Store struct{}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{}
}

const accountColumns = `id, tenant, owner_type, owner_id, balance, lifetime_in, lifetime_out, allow_negative, active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var tenant string
	err := row.Scan(&a.ID, &tenant, &a.OwnerType, &a.OwnerID, &a.Balance, &a.LifetimeIn, &a.LifetimeOut, &a.AllowNegative, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Tenant = shared.Tenant(tenant)
	return a, nil
}

// Open creates an account with zero balances.
func (s *Store) Open(ctx context.Context, dbtx db.DBTX, a Account) (Account, error) {
	const q = `
		INSERT INTO ledger_accounts (tenant, owner_type, owner_id, balance, lifetime_in, lifetime_out, allow_negative, active, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, $4, TRUE, NOW(), NOW())
		RETURNING ` + accountColumns
	return scanAccount(dbtx.QueryRow(ctx, q, a.Tenant.String(), a.OwnerType, a.OwnerID, a.AllowNegative))
}

// Get loads an account by id.
func (s *Store) Get(ctx context.Context, dbtx db.DBTX, id int64) (Account, error) {
	return scanAccount(dbtx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, id))
}

// GetByOwner loads an account by its owning record.
func (s *Store) GetByOwner(ctx context.Context, dbtx db.DBTX, tenant shared.Tenant, owner OwnerType, ownerID int64) (Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM ledger_accounts WHERE tenant = $1 AND owner_type = $2 AND owner_id = $3`
	return scanAccount(dbtx.QueryRow(ctx, q, tenant.String(), owner, ownerID))
}

// GetForUpdate loads an account under a row lock.
func (s *Store) GetForUpdate(ctx context.Context, dbtx db.DBTX, id int64) (Account, error) {
	return scanAccount(dbtx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1 FOR UPDATE`, id))
}

// SetActive flips the account's active flag.
func (s *Store) SetActive(ctx context.Context, dbtx db.DBTX, id int64, active bool) error {
	tag, err := dbtx.Exec(ctx, `UPDATE ledger_accounts SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Credit applies a positive delta under the account row lock and appends the
// entry. Must run inside a transaction.
func (s *Store) Credit(ctx context.Context, dbtx db.DBTX, accountID int64, amount decimal.Decimal, kind Kind, reference, description string, actorID int64) (Entry, error) {
	return s.apply(ctx, dbtx, accountID, amount, false, kind, reference, description, actorID)
}

// Debit applies a negative delta under the account row lock and appends the
// entry. Must run inside a transaction.
func (s *Store) Debit(ctx context.Context, dbtx db.DBTX, accountID int64, amount decimal.Decimal, kind Kind, reference, description string, actorID int64) (Entry, error) {
	return s.apply(ctx, dbtx, accountID, amount, true, kind, reference, description, actorID)
}

func (s *Store) apply(ctx context.Context, dbtx db.DBTX, accountID int64, amount decimal.Decimal, debit bool, kind Kind, reference, description string, actorID int64) (Entry, error) {
	account, err := s.GetForUpdate(ctx, dbtx, accountID)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	if debit {
		entry, err = account.ApplyDebit(amount, kind, reference, description)
	} else {
		entry, err = account.ApplyCredit(amount, kind, reference, description)
	}
	if err != nil {
		return Entry{}, err
	}
	entry.CreatedBy = actorID

	if err := s.saveBalances(ctx, dbtx, account); err != nil {
		return Entry{}, err
	}
	return s.insertEntry(ctx, dbtx, entry)
}

func (s *Store) saveBalances(ctx context.Context, dbtx db.DBTX, a Account) error {
	tag, err := dbtx.Exec(ctx,
		`UPDATE ledger_accounts SET balance = $2, lifetime_in = $3, lifetime_out = $4, updated_at = NOW() WHERE id = $1`,
		a.ID, a.Balance, a.LifetimeIn, a.LifetimeOut)
	if err != nil {
		return fmt.Errorf("ledger: save balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) insertEntry(ctx context.Context, dbtx db.DBTX, e Entry) (Entry, error) {
	const q = `
		INSERT INTO ledger_entries (account_id, amount, balance_after, kind, reference, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at`
	err := dbtx.QueryRow(ctx, q, e.AccountID, e.Amount, e.BalanceAfter, e.Kind, e.Reference, e.Description, e.CreatedBy).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return e, nil
}

// Entries lists an account's history, newest first.
func (s *Store) Entries(ctx context.Context, dbtx db.DBTX, accountID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, account_id, amount, balance_after, kind, reference, description, created_by, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := dbtx.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.BalanceAfter, &e.Kind, &e.Reference, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
