package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Repository persists customers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx    pgx.Tx
	alloc *sequence.Allocator
}

// WithTx runs fn inside a transaction with code allocation bound to it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, alloc: sequence.NewAllocator(sequence.NewPGCounterStore(tx))})
	})
}

const customerColumns = `id, tenant, code, first_name, last_name, company_name, customer_type, email, phone,
	alternate_phone, date_of_birth, gstin, credit_limit, segment, acquisition_source, notes, tags, active,
	created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	var tenant, ctype, segment string
	err := row.Scan(&c.ID, &tenant, &c.Code, &c.FirstName, &c.LastName, &c.CompanyName, &ctype, &c.Email, &c.Phone,
		&c.AlternatePhone, &c.DateOfBirth, &c.GSTIN, &c.CreditLimit, &segment, &c.AcquisitionSource, &c.Notes, &c.Tags, &c.Active,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	c.Tenant = shared.Tenant(tenant)
	c.Type = Type(ctype)
	c.Segment = Segment(segment)
	return c, nil
}

// Get loads a customer by id.
func (r *Repository) Get(ctx context.Context, tenant shared.Tenant, id int64) (Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers WHERE tenant = $1 AND id = $2`
	return scanCustomer(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// GetByCode loads a customer by customer code.
func (r *Repository) GetByCode(ctx context.Context, tenant shared.Tenant, code string) (Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers WHERE tenant = $1 AND code = $2`
	return scanCustomer(r.pool.QueryRow(ctx, q, tenant.String(), code))
}

// FindByPhone loads a customer by primary phone.
func (r *Repository) FindByPhone(ctx context.Context, tenant shared.Tenant, phone string) (Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers WHERE tenant = $1 AND phone = $2`
	return scanCustomer(r.pool.QueryRow(ctx, q, tenant.String(), phone))
}

// List searches customers. An empty query lists everyone, newest first.
func (r *Repository) List(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Customer, error) {
	const q = `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE tenant = $1
		  AND ($2 = '' OR code ILIKE '%' || $2 || '%' OR first_name ILIKE '%' || $2 || '%'
		       OR last_name ILIKE '%' || $2 || '%' OR phone ILIKE '%' || $2 || '%'
		       OR email ILIKE '%' || $2 || '%')
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, q, tenant.String(), query, p.PerPage, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Update saves mutable profile fields.
func (r *Repository) Update(ctx context.Context, c Customer) (Customer, error) {
	const q = `
		UPDATE customers
		SET first_name = $3, last_name = $4, company_name = $5, customer_type = $6, email = $7, phone = $8,
		    alternate_phone = $9, date_of_birth = $10, gstin = $11, credit_limit = $12, segment = $13,
		    acquisition_source = $14, notes = $15, tags = $16, updated_at = NOW()
		WHERE tenant = $1 AND id = $2
		RETURNING ` + customerColumns
	return scanCustomer(r.pool.QueryRow(ctx, q, c.Tenant.String(), c.ID,
		c.FirstName, c.LastName, c.CompanyName, string(c.Type), c.Email, c.Phone,
		c.AlternatePhone, c.DateOfBirth, c.GSTIN, c.CreditLimit, string(c.Segment),
		c.AcquisitionSource, c.Notes, c.Tags))
}

// SetActive toggles the soft-disable flag.
func (r *Repository) SetActive(ctx context.Context, tenant shared.Tenant, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET active = $3, updated_at = NOW() WHERE tenant = $1 AND id = $2`,
		tenant.String(), id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (t *txRepo) AllocateCode(ctx context.Context, tenant shared.Tenant) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryCustomer})
}

func (t *txRepo) Create(ctx context.Context, c Customer) (Customer, error) {
	const q = `
		INSERT INTO customers (tenant, code, first_name, last_name, company_name, customer_type, email, phone,
			alternate_phone, date_of_birth, gstin, credit_limit, segment, acquisition_source, notes, tags, active,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING ` + customerColumns
	return scanCustomer(t.tx.QueryRow(ctx, q, c.Tenant.String(), c.Code, c.FirstName, c.LastName, c.CompanyName,
		string(c.Type), c.Email, c.Phone, c.AlternatePhone, c.DateOfBirth, c.GSTIN, c.CreditLimit,
		string(c.Segment), c.AcquisitionSource, c.Notes, c.Tags, c.Active))
}
