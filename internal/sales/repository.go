package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Repository persists sales, tenders and returns in PostgreSQL.
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

const saleColumns = `id, tenant, number, sale_type, sale_date,
	customer_id, customer_name, customer_phone,
	subtotal, discount_percentage, discount_amount, tax_amount, total_amount, paid_amount, refunded_amount,
	status, payment_status, sales_person_id, notes, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var tenant, stype, status, payStatus string
	err := row.Scan(&s.ID, &tenant, &s.Number, &stype, &s.SaleDate,
		&s.CustomerID, &s.CustomerName, &s.CustomerPhone,
		&s.Subtotal, &s.DiscountPercentage, &s.DiscountAmount, &s.TaxAmount, &s.TotalAmount, &s.PaidAmount, &s.RefundedAmount,
		&status, &payStatus, &s.SalesPersonID, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	s.Tenant = shared.Tenant(tenant)
	s.Type = Type(stype)
	s.Status = Status(status)
	s.PaymentStatus = PaymentStatus(payStatus)
	return s, nil
}

const lineColumns = `id, sale_id, product_id, product_name, product_sku, size, color,
	quantity, unit_price, cost_price, discount_percentage, discount_amount, tax_rate, tax_amount, line_total`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.ProductName, &l.ProductSKU, &l.Size, &l.Color,
		&l.Quantity, &l.UnitPrice, &l.CostPrice, &l.DiscountPercentage, &l.DiscountAmount, &l.TaxRate, &l.TaxAmount, &l.LineTotal)
	return l, err
}

const paymentColumns = `id, tenant, sale_id, number, amount, payment_method, reference_number, card_last_four, paid_at, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var tenant, method string
	err := row.Scan(&p.ID, &tenant, &p.SaleID, &p.Number, &p.Amount, &method, &p.ReferenceNumber, &p.CardLastFour, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Tenant = shared.Tenant(tenant)
	p.Method = Method(method)
	return p, nil
}

const returnColumns = `id, tenant, sale_id, number, reason, description,
	return_amount, restocking_fee, refund_amount, refund_method, returned_at, created_at`

func scanReturn(row pgx.Row) (Return, error) {
	var r Return
	var tenant, reason, method string
	err := row.Scan(&r.ID, &tenant, &r.SaleID, &r.Number, &reason, &r.Description,
		&r.ReturnAmount, &r.RestockingFee, &r.RefundAmount, &method, &r.ReturnedAt, &r.CreatedAt)
	if err != nil {
		return Return{}, err
	}
	r.Tenant = shared.Tenant(tenant)
	r.Reason = ReturnReason(reason)
	r.RefundMethod = RefundMethod(method)
	return r, nil
}

// Get loads a sale by id.
func (r *Repository) Get(ctx context.Context, tenant shared.Tenant, id int64) (Sale, error) {
	const q = `SELECT ` + saleColumns + ` FROM sales WHERE tenant = $1 AND id = $2`
	return scanSale(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// GetByNumber loads a sale by its till number.
func (r *Repository) GetByNumber(ctx context.Context, tenant shared.Tenant, number string) (Sale, error) {
	const q = `SELECT ` + saleColumns + ` FROM sales WHERE tenant = $1 AND number = $2`
	return scanSale(r.pool.QueryRow(ctx, q, tenant.String(), number))
}

// List pages through sales, newest first.
func (r *Repository) List(ctx context.Context, tenant shared.Tenant, statuses []Status, p shared.Pagination) ([]Sale, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	const q = `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE tenant = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY sale_date DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, q, tenant.String(), filter, p.PerPage, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Lines returns the sale's lines.
func (r *Repository) Lines(ctx context.Context, saleID int64) ([]Line, error) {
	const q = `SELECT ` + lineColumns + ` FROM sale_lines WHERE sale_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, saleID)
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

// Payments returns the sale's tenders, oldest first.
func (r *Repository) Payments(ctx context.Context, saleID int64) ([]Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM sale_payments WHERE sale_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, saleID)
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

// Returns returns the sale's returns, oldest first.
func (r *Repository) Returns(ctx context.Context, saleID int64) ([]Return, error) {
	const q = `SELECT ` + returnColumns + ` FROM sale_returns WHERE sale_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

// DailySummary aggregates one day of till activity by tender.
func (r *Repository) DailySummary(ctx context.Context, tenant shared.Tenant, day time.Time) (Summary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	s := Summary{Tenant: tenant, Day: start}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		const salesQ = `
			SELECT count(*), coalesce(sum(total_amount), 0),
				coalesce((SELECT sum(l.quantity) FROM sale_lines l JOIN sales sl ON sl.id = l.sale_id
					WHERE sl.tenant = $1 AND sl.sale_date >= $2 AND sl.sale_date < $3
					  AND sl.status IN ('CONFIRMED', 'COMPLETED', 'RETURNED')), 0)
			FROM sales
			WHERE tenant = $1 AND sale_date >= $2 AND sale_date < $3
			  AND status IN ('CONFIRMED', 'COMPLETED', 'RETURNED')`
		return r.pool.QueryRow(ctx, salesQ, tenant.String(), start, end).Scan(&s.SalesCount, &s.Gross, &s.ItemsSold)
	})

	g.Go(func() error {
		const tenderQ = `
			SELECT
				coalesce(sum(amount) FILTER (WHERE payment_method = 'CASH'), 0),
				coalesce(sum(amount) FILTER (WHERE payment_method = 'CARD'), 0),
				coalesce(sum(amount) FILTER (WHERE payment_method = 'UPI'), 0),
				coalesce(sum(amount) FILTER (WHERE payment_method NOT IN ('CASH', 'CARD', 'UPI')), 0)
			FROM sale_payments
			WHERE tenant = $1 AND paid_at >= $2 AND paid_at < $3`
		return r.pool.QueryRow(ctx, tenderQ, tenant.String(), start, end).
			Scan(&s.CashAmount, &s.CardAmount, &s.UPIAmount, &s.OtherAmount)
	})

	g.Go(func() error {
		const returnsQ = `
			SELECT count(*), coalesce(sum(refund_amount), 0)
			FROM sale_returns
			WHERE tenant = $1 AND returned_at >= $2 AND returned_at < $3`
		return r.pool.QueryRow(ctx, returnsQ, tenant.String(), start, end).Scan(&s.ReturnsCount, &s.ReturnsAmount)
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func (t *txRepo) AllocateSaleNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategorySale, Date: at})
}

func (t *txRepo) AllocatePaymentNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategorySalePayment, Date: at})
}

func (t *txRepo) AllocateReturnNumber(ctx context.Context, tenant shared.Tenant, at time.Time) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategorySaleReturn, Date: at})
}

func (t *txRepo) CreateSale(ctx context.Context, s Sale) (Sale, error) {
	const q = `
		INSERT INTO sales (tenant, number, sale_type, sale_date,
			customer_id, customer_name, customer_phone,
			subtotal, discount_percentage, discount_amount, tax_amount, total_amount, paid_amount, refunded_amount,
			status, payment_status, sales_person_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0, $13, $14, $15, $16)
		RETURNING ` + saleColumns
	created, err := scanSale(t.tx.QueryRow(ctx, q,
		s.Tenant.String(), s.Number, string(s.Type), s.SaleDate,
		s.CustomerID, s.CustomerName, s.CustomerPhone,
		s.Subtotal, s.DiscountPercentage, s.DiscountAmount, s.TaxAmount, s.TotalAmount,
		string(s.Status), string(s.PaymentStatus), s.SalesPersonID, s.Notes))
	return created, sequence.MapDuplicate(err)
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	const q = `SELECT ` + saleColumns + ` FROM sales WHERE id = $1 FOR UPDATE`
	return scanSale(t.tx.QueryRow(ctx, q, id))
}

func (t *txRepo) SaveSale(ctx context.Context, s Sale) error {
	const q = `
		UPDATE sales
		SET status = $2, payment_status = $3,
			subtotal = $4, discount_percentage = $5, discount_amount = $6, tax_amount = $7,
			total_amount = $8, paid_amount = $9, refunded_amount = $10,
			notes = $11, updated_at = now()
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, s.ID, string(s.Status), string(s.PaymentStatus),
		s.Subtotal, s.DiscountPercentage, s.DiscountAmount, s.TaxAmount,
		s.TotalAmount, s.PaidAmount, s.RefundedAmount, s.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (t *txRepo) ReplaceLines(ctx context.Context, saleID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID); err != nil {
		return err
	}
	const q = `
		INSERT INTO sale_lines (sale_id, product_id, product_name, product_sku, size, color,
			quantity, unit_price, cost_price, discount_percentage, discount_amount, tax_rate, tax_amount, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, q, saleID, l.ProductID, l.ProductName, l.ProductSKU, l.Size, l.Color,
			l.Quantity, l.UnitPrice, l.CostPrice, l.DiscountPercentage, l.DiscountAmount, l.TaxRate, l.TaxAmount, l.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	const q = `
		INSERT INTO sale_payments (tenant, sale_id, number, amount, payment_method, reference_number, card_last_four, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + paymentColumns
	created, err := scanPayment(t.tx.QueryRow(ctx, q,
		p.Tenant.String(), p.SaleID, p.Number, p.Amount, string(p.Method),
		p.ReferenceNumber, p.CardLastFour, p.PaidAt))
	return created, sequence.MapDuplicate(err)
}

func (t *txRepo) CreateReturn(ctx context.Context, r Return, lines []ReturnLine) (Return, error) {
	const q = `
		INSERT INTO sale_returns (tenant, sale_id, number, reason, description,
			return_amount, restocking_fee, refund_amount, refund_method, returned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + returnColumns
	created, err := scanReturn(t.tx.QueryRow(ctx, q,
		r.Tenant.String(), r.SaleID, r.Number, string(r.Reason), r.Description,
		r.ReturnAmount, r.RestockingFee, r.RefundAmount, string(r.RefundMethod), r.ReturnedAt))
	if err != nil {
		return Return{}, sequence.MapDuplicate(err)
	}
	const lineQ = `
		INSERT INTO sale_return_lines (return_id, line_id, quantity, item_condition, restock, refund_amount)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, lineQ, created.ID, l.LineID, l.Quantity, l.Condition, l.Restock, l.RefundAmount)
		if err != nil {
			return Return{}, err
		}
	}
	return created, nil
}

func (t *txRepo) ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]int64, error) {
	const q = `
		SELECT rl.line_id, sum(rl.quantity)
		FROM sale_return_lines rl
		JOIN sale_returns r ON r.id = rl.return_id
		WHERE r.sale_id = $1
		GROUP BY rl.line_id`
	rows, err := t.tx.Query(ctx, q, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var lineID, qty int64
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		out[lineID] = qty
	}
	return out, rows.Err()
}
