package giftcard

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

// Repository persists gift cards in PostgreSQL.
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

const cardColumns = `id, tenant, code, account_id, initial_amount, current_balance, issued_date, expiry_date, status,
	purchaser_id, purchase_order, recipient_name, recipient_email, recipient_phone, gift_message,
	minimum_order_amount, times_used, first_used_at, last_used_at, created_at, updated_at`

func scanCard(row pgx.Row) (GiftCard, error) {
	var c GiftCard
	var tenant, status string
	err := row.Scan(&c.ID, &tenant, &c.Code, &c.AccountID, &c.InitialAmount, &c.CurrentBalance, &c.IssuedDate, &c.ExpiryDate, &status,
		&c.PurchaserID, &c.PurchaseOrder, &c.RecipientName, &c.RecipientEmail, &c.RecipientPhone, &c.GiftMessage,
		&c.MinimumOrderAmount, &c.TimesUsed, &c.FirstUsedAt, &c.LastUsedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GiftCard{}, ErrCardNotFound
		}
		return GiftCard{}, err
	}
	c.Tenant = shared.Tenant(tenant)
	c.Status = Status(status)
	return c, nil
}

// GetByCode loads a card by its redemption code.
func (r *Repository) GetByCode(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error) {
	const q = `SELECT ` + cardColumns + ` FROM gift_cards WHERE tenant = $1 AND code = $2`
	return scanCard(r.pool.QueryRow(ctx, q, tenant.String(), code))
}

// CodeExists reports whether a code is already in circulation for any tenant.
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM gift_cards WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// History lists the card's ledger entries.
func (r *Repository) History(ctx context.Context, cardID int64, limit int) ([]ledger.Entry, error) {
	var accountID int64
	err := r.pool.QueryRow(ctx, `SELECT account_id FROM gift_cards WHERE id = $1`, cardID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return r.ledger.Entries(ctx, r.pool, accountID, limit)
}

// ListExpiring returns ACTIVE cards whose expiry date has passed.
func (r *Repository) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]GiftCard, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `SELECT ` + cardColumns + ` FROM gift_cards WHERE status = 'ACTIVE' AND expiry_date < $1 ORDER BY expiry_date LIMIT $2`
	rows, err := r.pool.Query(ctx, q, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []GiftCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (t *txRepo) Create(ctx context.Context, c GiftCard) (GiftCard, error) {
	const q = `
		INSERT INTO gift_cards (tenant, code, account_id, initial_amount, current_balance, issued_date, expiry_date, status,
			purchaser_id, purchase_order, recipient_name, recipient_email, recipient_phone, gift_message,
			minimum_order_amount, times_used, created_at, updated_at)
		VALUES ($1, $2, 0, $3, 0, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, NOW(), NOW())
		RETURNING ` + cardColumns
	return scanCard(t.tx.QueryRow(ctx, q, c.Tenant.String(), c.Code, c.InitialAmount, c.IssuedDate, c.ExpiryDate, string(c.Status),
		c.PurchaserID, c.PurchaseOrder, c.RecipientName, c.RecipientEmail, c.RecipientPhone, c.GiftMessage, c.MinimumOrderAmount))
}

func (t *txRepo) GetByCodeForUpdate(ctx context.Context, tenant shared.Tenant, code string) (GiftCard, error) {
	const q = `SELECT ` + cardColumns + ` FROM gift_cards WHERE tenant = $1 AND code = $2 FOR UPDATE`
	return scanCard(t.tx.QueryRow(ctx, q, tenant.String(), code))
}

func (t *txRepo) SaveUsage(ctx context.Context, c GiftCard) error {
	const q = `
		UPDATE gift_cards
		SET current_balance = $2, times_used = $3, first_used_at = $4, last_used_at = $5, updated_at = NOW()
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, c.ID, c.CurrentBalance, c.TimesUsed, c.FirstUsedAt, c.LastUsedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE gift_cards SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (t *txRepo) OpenAccount(ctx context.Context, tenant shared.Tenant, cardID int64) (ledger.Account, error) {
	return t.ledger.Open(ctx, t.tx, ledger.Account{Tenant: tenant, OwnerType: ledger.OwnerGiftCard, OwnerID: cardID})
}

func (t *txRepo) BindAccount(ctx context.Context, cardID, accountID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE gift_cards SET account_id = $2, updated_at = NOW() WHERE id = $1`, cardID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (t *txRepo) CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Credit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}

func (t *txRepo) DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Debit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}

func (t *txRepo) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	return t.ledger.SetActive(ctx, t.tx, accountID, active)
}
