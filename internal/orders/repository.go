package orders

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

// Repository persists orders in PostgreSQL.
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

const orderColumns = `id, tenant, number, display_id, customer_id, customer_email, customer_phone,
	order_date, delivered_at, status, payment_status,
	subtotal, discount_amount, coupon_discount, tax_amount, shipping_amount, total_amount, paid_amount, refunded_amount,
	loyalty_points_used, loyalty_points_earned, source, notes,
	billing_first_name, billing_last_name, billing_line1, billing_line2, billing_city, billing_state, billing_postal_code, billing_country, billing_phone,
	shipping_first_name, shipping_last_name, shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_postal_code, shipping_country, shipping_phone,
	created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var tenant, status, payStatus string
	err := row.Scan(&o.ID, &tenant, &o.Number, &o.DisplayID, &o.CustomerID, &o.CustomerEmail, &o.CustomerPhone,
		&o.OrderDate, &o.DeliveredAt, &status, &payStatus,
		&o.Subtotal, &o.DiscountAmount, &o.CouponDiscount, &o.TaxAmount, &o.ShippingAmount, &o.TotalAmount, &o.PaidAmount, &o.RefundedAmount,
		&o.LoyaltyPointsUsed, &o.LoyaltyPointsEarned, &o.Source, &o.Notes,
		&o.BillingAddress.FirstName, &o.BillingAddress.LastName, &o.BillingAddress.Line1, &o.BillingAddress.Line2,
		&o.BillingAddress.City, &o.BillingAddress.State, &o.BillingAddress.PostalCode, &o.BillingAddress.Country, &o.BillingAddress.Phone,
		&o.ShippingAddress.FirstName, &o.ShippingAddress.LastName, &o.ShippingAddress.Line1, &o.ShippingAddress.Line2,
		&o.ShippingAddress.City, &o.ShippingAddress.State, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country, &o.ShippingAddress.Phone,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	o.Tenant = shared.Tenant(tenant)
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(payStatus)
	return o, nil
}

const lineColumns = `id, order_id, product_id, product_name, product_sku, size, color,
	unit_price, quantity, discount_percentage, discount_amount, tax_rate, tax_amount, line_total`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.ProductSKU, &l.Size, &l.Color,
		&l.UnitPrice, &l.Quantity, &l.DiscountPercentage, &l.DiscountAmount, &l.TaxRate, &l.TaxAmount, &l.LineTotal)
	return l, err
}

const paymentColumns = `id, tenant, order_id, number, amount, payment_method, gateway, gateway_trans_id, completed_at, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var tenant, method string
	err := row.Scan(&p.ID, &tenant, &p.OrderID, &p.Number, &p.Amount, &method, &p.Gateway, &p.GatewayTransID, &p.CompletedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrOrderNotFound
		}
		return Payment{}, err
	}
	p.Tenant = shared.Tenant(tenant)
	p.Method = Method(method)
	return p, nil
}

const refundColumns = `id, tenant, order_id, payment_id, number, amount, reason, notes, created_at`

func scanRefund(row pgx.Row) (Refund, error) {
	var r Refund
	var tenant, reason string
	err := row.Scan(&r.ID, &tenant, &r.OrderID, &r.PaymentID, &r.Number, &r.Amount, &reason, &r.Notes, &r.CreatedAt)
	if err != nil {
		return Refund{}, err
	}
	r.Tenant = shared.Tenant(tenant)
	r.Reason = RefundReason(reason)
	return r, nil
}

// Get loads an order by id.
func (r *Repository) Get(ctx context.Context, tenant shared.Tenant, id int64) (Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE tenant = $1 AND id = $2`
	return scanOrder(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// GetByDisplayID loads an order by its customer-facing id.
func (r *Repository) GetByDisplayID(ctx context.Context, tenant shared.Tenant, displayID string) (Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE tenant = $1 AND display_id = $2`
	return scanOrder(r.pool.QueryRow(ctx, q, tenant.String(), displayID))
}

// List lists orders newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Order, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	const q = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY order_date DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, q, tenant.String(), filter, p.PerPage, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Lines returns the order's lines in insertion order.
func (r *Repository) Lines(ctx context.Context, orderID int64) ([]Line, error) {
	const q = `SELECT ` + lineColumns + ` FROM order_lines WHERE order_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Payments lists the order's payments, newest first.
func (r *Repository) Payments(ctx context.Context, orderID int64) ([]Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM order_payments WHERE order_id = $1 ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, q, orderID)
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

// GetPayment loads a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM order_payments WHERE id = $1`, id))
}

// Refunds lists the order's refunds, newest first.
func (r *Repository) Refunds(ctx context.Context, orderID int64) ([]Refund, error) {
	const q = `SELECT ` + refundColumns + ` FROM order_refunds WHERE order_id = $1 ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

// History returns the order's status trail, oldest first.
func (r *Repository) History(ctx context.Context, orderID int64) ([]StatusChange, error) {
	const q = `SELECT id, order_id, from_status, to_status, note, changed_by, changed_at FROM order_status_history WHERE order_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var h StatusChange
		var from, to string
		if err := rows.Scan(&h.ID, &h.OrderID, &from, &to, &h.Note, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.From = Status(from)
		h.To = Status(to)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *txRepo) AllocateOrderNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryOrder, Date: at})
}

func (t *txRepo) AllocateDisplayID(ctx context.Context, tenant shared.Tenant) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryOrderDisplay})
}

func (t *txRepo) AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryPayment})
}

func (t *txRepo) AllocateRefundNumber(ctx context.Context, tenant shared.Tenant) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategoryRefund})
}

func (t *txRepo) CreateOrder(ctx context.Context, o Order) (Order, error) {
	const q = `
		INSERT INTO orders (tenant, number, display_id, customer_id, customer_email, customer_phone,
			order_date, status, payment_status,
			subtotal, discount_amount, coupon_discount, tax_amount, shipping_amount, total_amount, paid_amount, refunded_amount,
			loyalty_points_used, loyalty_points_earned, source, notes,
			billing_first_name, billing_last_name, billing_line1, billing_line2, billing_city, billing_state, billing_postal_code, billing_country, billing_phone,
			shipping_first_name, shipping_last_name, shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_postal_code, shipping_country, shipping_phone,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0, 0, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27, $28,
			$29, $30, $31, $32, $33, $34, $35, $36, $37, NOW(), NOW())
		RETURNING ` + orderColumns
	b, sh := o.BillingAddress, o.ShippingAddress
	created, err := scanOrder(t.tx.QueryRow(ctx, q, o.Tenant.String(), o.Number, o.DisplayID, o.CustomerID, o.CustomerEmail, o.CustomerPhone,
		o.OrderDate, string(o.Status), string(o.PaymentStatus),
		o.Subtotal, o.DiscountAmount, o.CouponDiscount, o.TaxAmount, o.ShippingAmount, o.TotalAmount,
		o.LoyaltyPointsUsed, o.LoyaltyPointsEarned, o.Source, o.Notes,
		b.FirstName, b.LastName, b.Line1, b.Line2, b.City, b.State, b.PostalCode, b.Country, b.Phone,
		sh.FirstName, sh.LastName, sh.Line1, sh.Line2, sh.City, sh.State, sh.PostalCode, sh.Country, sh.Phone))
	return created, sequence.MapDuplicate(err)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SaveOrder(ctx context.Context, o Order) error {
	const q = `
		UPDATE orders
		SET status = $2, payment_status = $3, delivered_at = $4,
		    subtotal = $5, discount_amount = $6, coupon_discount = $7, tax_amount = $8,
		    shipping_amount = $9, total_amount = $10, paid_amount = $11, refunded_amount = $12,
		    loyalty_points_used = $13, loyalty_points_earned = $14, updated_at = NOW()
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, o.ID, string(o.Status), string(o.PaymentStatus), o.DeliveredAt,
		o.Subtotal, o.DiscountAmount, o.CouponDiscount, o.TaxAmount,
		o.ShippingAmount, o.TotalAmount, o.PaidAmount, o.RefundedAmount,
		o.LoyaltyPointsUsed, o.LoyaltyPointsEarned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *txRepo) ReplaceLines(ctx context.Context, orderID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	const q = `
		INSERT INTO order_lines (order_id, product_id, product_name, product_sku, size, color,
			unit_price, quantity, discount_percentage, discount_amount, tax_rate, tax_amount, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	for _, l := range lines {
		if _, err := t.tx.Exec(ctx, q, orderID, l.ProductID, l.ProductName, l.ProductSKU, l.Size, l.Color,
			l.UnitPrice, l.Quantity, l.DiscountPercentage, l.DiscountAmount, l.TaxRate, l.TaxAmount, l.LineTotal); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, h StatusChange) error {
	const q = `
		INSERT INTO order_status_history (order_id, from_status, to_status, note, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := t.tx.Exec(ctx, q, h.OrderID, string(h.From), string(h.To), h.Note, h.ChangedBy, h.ChangedAt)
	return err
}

func (t *txRepo) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	const q = `
		INSERT INTO order_payments (tenant, order_id, number, amount, payment_method, gateway, gateway_trans_id, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING ` + paymentColumns
	created, err := scanPayment(t.tx.QueryRow(ctx, q, p.Tenant.String(), p.OrderID, p.Number, p.Amount, string(p.Method),
		p.Gateway, p.GatewayTransID, p.CompletedAt))
	return created, sequence.MapDuplicate(err)
}

func (t *txRepo) CreateRefund(ctx context.Context, r Refund) (Refund, error) {
	const q = `
		INSERT INTO order_refunds (tenant, order_id, payment_id, number, amount, reason, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + refundColumns
	created, err := scanRefund(t.tx.QueryRow(ctx, q, r.Tenant.String(), r.OrderID, r.PaymentID, r.Number, r.Amount,
		string(r.Reason), r.Notes))
	return created, sequence.MapDuplicate(err)
}
