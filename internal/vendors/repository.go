package vendors

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Repository persists vendors, bills and payments in PostgreSQL.
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

// WithTx runs fn inside a transaction with number allocation bound to it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, alloc: sequence.NewAllocator(sequence.NewPGCounterStore(tx))})
	})
}

const vendorColumns = `id, tenant, code, company_name, contact_person, email, phone, vendor_type, gstin, pan,
	credit_limit, payment_terms, rating, notes, active, created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	var tenant, vtype, terms string
	err := row.Scan(&v.ID, &tenant, &v.Code, &v.CompanyName, &v.ContactPerson, &v.Email, &v.Phone, &vtype, &v.GSTIN, &v.PAN,
		&v.CreditLimit, &terms, &v.Rating, &v.Notes, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrVendorNotFound
		}
		return Vendor{}, err
	}
	v.Tenant = shared.Tenant(tenant)
	v.Type = Type(vtype)
	v.PaymentTerms = PaymentTerms(terms)
	return v, nil
}

const billColumns = `id, tenant, number, vendor_bill_number, vendor_id, status, bill_date, due_date,
	subtotal, discount_amount, tax_amount, total_amount, paid_amount, description, created_at, updated_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	var tenant, status string
	err := row.Scan(&b.ID, &tenant, &b.Number, &b.VendorBillNumber, &b.VendorID, &status, &b.BillDate, &b.DueDate,
		&b.Subtotal, &b.DiscountAmount, &b.TaxAmount, &b.TotalAmount, &b.PaidAmount, &b.Description, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	b.Tenant = shared.Tenant(tenant)
	b.Status = BillStatus(status)
	return b, nil
}

const paymentColumns = `id, tenant, number, vendor_id, amount, payment_date, payment_method, reference_number, description, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var tenant, method string
	err := row.Scan(&p.ID, &tenant, &p.Number, &p.VendorID, &p.Amount, &p.PaymentDate, &method, &p.ReferenceNumber, &p.Description, &p.CreatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Tenant = shared.Tenant(tenant)
	p.Method = PaymentMethod(method)
	return p, nil
}

// GetVendor loads a vendor by id.
func (r *Repository) GetVendor(ctx context.Context, tenant shared.Tenant, id int64) (Vendor, error) {
	const q = `SELECT ` + vendorColumns + ` FROM vendors WHERE tenant = $1 AND id = $2`
	return scanVendor(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// ListVendors searches vendors by code, name or contact.
func (r *Repository) ListVendors(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Vendor, error) {
	const q = `
		SELECT ` + vendorColumns + `
		FROM vendors
		WHERE tenant = $1
		  AND ($2 = '' OR code ILIKE '%' || $2 || '%' OR company_name ILIKE '%' || $2 || '%'
		       OR contact_person ILIKE '%' || $2 || '%')
		ORDER BY company_name
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, q, tenant.String(), query, p.PerPage, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateVendor saves mutable vendor fields.
func (r *Repository) UpdateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	const q = `
		UPDATE vendors
		SET company_name = $3, contact_person = $4, email = $5, phone = $6, vendor_type = $7, gstin = $8, pan = $9,
		    credit_limit = $10, payment_terms = $11, rating = $12, notes = $13, active = $14, updated_at = NOW()
		WHERE tenant = $1 AND id = $2
		RETURNING ` + vendorColumns
	return scanVendor(r.pool.QueryRow(ctx, q, v.Tenant.String(), v.ID,
		v.CompanyName, v.ContactPerson, v.Email, v.Phone, string(v.Type), v.GSTIN, v.PAN,
		v.CreditLimit, string(v.PaymentTerms), v.Rating, v.Notes, v.Active))
}

// GetBill loads a bill by id.
func (r *Repository) GetBill(ctx context.Context, tenant shared.Tenant, id int64) (Bill, error) {
	const q = `SELECT ` + billColumns + ` FROM vendor_bills WHERE tenant = $1 AND id = $2`
	return scanBill(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// ListBills lists bills, optionally filtered by vendor and status.
func (r *Repository) ListBills(ctx context.Context, tenant shared.Tenant, vendorID int64, statuses []BillStatus) ([]Bill, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	const q = `
		SELECT ` + billColumns + `
		FROM vendor_bills
		WHERE tenant = $1
		  AND ($2 = 0 OR vendor_id = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY bill_date DESC`
	rows, err := r.pool.Query(ctx, q, tenant.String(), vendorID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListPayments lists a vendor's payments, newest first.
func (r *Repository) ListPayments(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM vendor_payments WHERE tenant = $1 AND vendor_id = $2 ORDER BY payment_date DESC, id DESC`
	rows, err := r.pool.Query(ctx, q, tenant.String(), vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepo) AllocateVendorCode(ctx context.Context, tenant shared.Tenant) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryVendor})
}

func (t *txRepo) AllocateBillNumber(ctx context.Context, tenant shared.Tenant, billDate time.Time) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryBill, Date: billDate})
}

func (t *txRepo) AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant, paymentDate time.Time) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryVendorPayment, Date: paymentDate})
}

func (t *txRepo) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	const q = `
		INSERT INTO vendors (tenant, code, company_name, contact_person, email, phone, vendor_type, gstin, pan,
			credit_limit, payment_terms, rating, notes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING ` + vendorColumns
	return scanVendor(t.tx.QueryRow(ctx, q, v.Tenant.String(), v.Code, v.CompanyName, v.ContactPerson, v.Email, v.Phone,
		string(v.Type), v.GSTIN, v.PAN, v.CreditLimit, string(v.PaymentTerms), v.Rating, v.Notes, v.Active))
}

func (t *txRepo) CreateBill(ctx context.Context, b Bill) (Bill, error) {
	const q = `
		INSERT INTO vendor_bills (tenant, number, vendor_bill_number, vendor_id, status, bill_date, due_date,
			subtotal, discount_amount, tax_amount, total_amount, paid_amount, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING ` + billColumns
	created, err := scanBill(t.tx.QueryRow(ctx, q, b.Tenant.String(), b.Number, b.VendorBillNumber, b.VendorID, string(b.Status),
		b.BillDate, b.DueDate, b.Subtotal, b.DiscountAmount, b.TaxAmount, b.TotalAmount, b.PaidAmount, b.Description))
	return created, sequence.MapDuplicate(err)
}

func (t *txRepo) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	return scanBill(t.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM vendor_bills WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SaveBill(ctx context.Context, b Bill) error {
	const q = `UPDATE vendor_bills SET status = $2, paid_amount = $3, updated_at = NOW() WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, b.ID, string(b.Status), b.PaidAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (t *txRepo) OutstandingBillsForUpdate(ctx context.Context, tenant shared.Tenant, vendorID int64) ([]Bill, error) {
	const q = `
		SELECT ` + billColumns + `
		FROM vendor_bills
		WHERE tenant = $1 AND vendor_id = $2
		  AND status IN ('PENDING', 'PARTIALLY_PAID', 'OVERDUE')
		ORDER BY bill_date
		FOR UPDATE`
	rows, err := t.tx.Query(ctx, q, tenant.String(), vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *txRepo) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	const q = `
		INSERT INTO vendor_payments (tenant, number, vendor_id, amount, payment_date, payment_method, reference_number, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING ` + paymentColumns
	created, err := scanPayment(t.tx.QueryRow(ctx, q, p.Tenant.String(), p.Number, p.VendorID, p.Amount, p.PaymentDate,
		string(p.Method), p.ReferenceNumber, p.Description))
	return created, sequence.MapDuplicate(err)
}

func (t *txRepo) CreateAllocation(ctx context.Context, a Allocation) error {
	const q = `INSERT INTO vendor_bill_payments (payment_id, bill_id, allocated_amount) VALUES ($1, $2, $3)`
	_, err := t.tx.Exec(ctx, q, a.PaymentID, a.BillID, a.Amount)
	return err
}
