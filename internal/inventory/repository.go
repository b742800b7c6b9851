package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mpfootwear/backoffice/internal/ledger"
	"github.com/mpfootwear/backoffice/internal/platform/db"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
)

// Repository persists categories and products in PostgreSQL.
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

// WithTx runs fn inside a transaction, with SKU allocation and stock ledger
// writes bound to the same transaction.
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

const categoryColumns = `id, tenant, name, description, parent_id, active, created_at, updated_at`

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	var tenant string
	err := row.Scan(&c.ID, &tenant, &c.Name, &c.Description, &c.ParentID, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, ErrCategoryNotFound
		}
		return Category{}, err
	}
	c.Tenant = shared.Tenant(tenant)
	return c, nil
}

const productColumns = `id, tenant, sku, barcode, name, category_id, brand, gender, size, color,
	cost_price, selling_price, mrp, discount_percentage, account_id, track_inventory,
	stock_quantity, reserved_quantity, low_stock_threshold, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var tenant, gender string
	err := row.Scan(&p.ID, &tenant, &p.SKU, &p.Barcode, &p.Name, &p.CategoryID, &p.Brand, &gender, &p.Size, &p.Color,
		&p.CostPrice, &p.SellingPrice, &p.MRP, &p.DiscountPercentage, &p.AccountID, &p.TrackInventory,
		&p.StockQuantity, &p.ReservedQuantity, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	p.Tenant = shared.Tenant(tenant)
	p.Gender = Gender(gender)
	return p, nil
}

// GetCategory loads a category by id.
func (r *Repository) GetCategory(ctx context.Context, tenant shared.Tenant, id int64) (Category, error) {
	const q = `SELECT ` + categoryColumns + ` FROM product_categories WHERE tenant = $1 AND id = $2`
	return scanCategory(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// Categories lists the tenant's categories.
func (r *Repository) Categories(ctx context.Context, tenant shared.Tenant) ([]Category, error) {
	const q = `SELECT ` + categoryColumns + ` FROM product_categories WHERE tenant = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, q, tenant.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory persists a category.
func (r *Repository) CreateCategory(ctx context.Context, c Category) (Category, error) {
	const q = `
		INSERT INTO product_categories (tenant, name, description, parent_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + categoryColumns
	return scanCategory(r.pool.QueryRow(ctx, q, c.Tenant.String(), c.Name, c.Description, c.ParentID, c.Active))
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, tenant shared.Tenant, id int64) (Product, error) {
	const q = `SELECT ` + productColumns + ` FROM products WHERE tenant = $1 AND id = $2`
	return scanProduct(r.pool.QueryRow(ctx, q, tenant.String(), id))
}

// GetBySKU loads a product by SKU.
func (r *Repository) GetBySKU(ctx context.Context, tenant shared.Tenant, sku string) (Product, error) {
	const q = `SELECT ` + productColumns + ` FROM products WHERE tenant = $1 AND sku = $2`
	return scanProduct(r.pool.QueryRow(ctx, q, tenant.String(), sku))
}

// ListProducts searches products by SKU, name, brand or barcode.
func (r *Repository) ListProducts(ctx context.Context, tenant shared.Tenant, query string, p shared.Pagination) ([]Product, error) {
	const q = `
		SELECT ` + productColumns + `
		FROM products
		WHERE tenant = $1
		  AND ($2 = '' OR sku ILIKE '%' || $2 || '%' OR name ILIKE '%' || $2 || '%'
		       OR brand ILIKE '%' || $2 || '%' OR barcode = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, q, tenant.String(), query, p.PerPage, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, rows.Err()
}

// LowStock lists tracked products at or below their threshold.
func (r *Repository) LowStock(ctx context.Context, tenant shared.Tenant) ([]Product, error) {
	const q = `
		SELECT ` + productColumns + `
		FROM products
		WHERE tenant = $1 AND track_inventory AND active
		  AND stock_quantity - reserved_quantity <= low_stock_threshold
		ORDER BY stock_quantity - reserved_quantity`
	rows, err := r.pool.Query(ctx, q, tenant.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, rows.Err()
}

// UpdateProduct saves mutable catalog fields.
func (r *Repository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	const q = `
		UPDATE products
		SET barcode = $3, name = $4, category_id = $5, brand = $6, gender = $7, size = $8, color = $9,
		    cost_price = $10, selling_price = $11, mrp = $12, discount_percentage = $13,
		    track_inventory = $14, low_stock_threshold = $15, active = $16, updated_at = NOW()
		WHERE tenant = $1 AND id = $2
		RETURNING ` + productColumns
	return scanProduct(r.pool.QueryRow(ctx, q, p.Tenant.String(), p.ID,
		p.Barcode, p.Name, p.CategoryID, p.Brand, string(p.Gender), p.Size, p.Color,
		p.CostPrice, p.SellingPrice, p.MRP, p.DiscountPercentage,
		p.TrackInventory, p.LowStockThreshold, p.Active))
}

// Movements lists the product's stock ledger.
func (r *Repository) Movements(ctx context.Context, accountID int64, limit int) ([]ledger.Entry, error) {
	return r.ledger.Entries(ctx, r.pool, accountID, limit)
}

func (t *txRepo) AllocateSKU(ctx context.Context, tenant shared.Tenant, categoryCode string) (string, error) {
	return t.alloc.Allocate(ctx, sequence.Scope{Tenant: tenant, Category: sequence.CategorySKU, Qualifier: categoryCode})
}

func (t *txRepo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	const q = `
		INSERT INTO products (tenant, sku, barcode, name, category_id, brand, gender, size, color,
			cost_price, selling_price, mrp, discount_percentage, account_id, track_inventory,
			stock_quantity, reserved_quantity, low_stock_threshold, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, 0, 0, $15, $16, NOW(), NOW())
		RETURNING ` + productColumns
	return scanProduct(t.tx.QueryRow(ctx, q, p.Tenant.String(), p.SKU, p.Barcode, p.Name, p.CategoryID, p.Brand,
		string(p.Gender), p.Size, p.Color, p.CostPrice, p.SellingPrice, p.MRP, p.DiscountPercentage,
		p.TrackInventory, p.LowStockThreshold, p.Active))
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) SaveStock(ctx context.Context, p Product) error {
	const q = `UPDATE products SET stock_quantity = $2, reserved_quantity = $3, updated_at = NOW() WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, p.ID, p.StockQuantity, p.ReservedQuantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *txRepo) OpenStockAccount(ctx context.Context, tenant shared.Tenant, productID int64) (ledger.Account, error) {
	return t.ledger.Open(ctx, t.tx, ledger.Account{Tenant: tenant, OwnerType: ledger.OwnerStock, OwnerID: productID})
}

func (t *txRepo) BindAccount(ctx context.Context, productID, accountID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET account_id = $2 WHERE id = $1`, productID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *txRepo) CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Credit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}

func (t *txRepo) DebitAccount(ctx context.Context, accountID int64, amount decimal.Decimal, kind ledger.Kind, reference, description string, actorID int64) (ledger.Entry, error) {
	return t.ledger.Debit(ctx, t.tx, accountID, amount, kind, reference, description, actorID)
}
