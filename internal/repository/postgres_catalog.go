package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// CreateCategory добавляет категорию каталога.
func (r *PostgresRepository) CreateCategory(ctx context.Context, c model.Category) (*model.Category, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (id, name, description, active, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		c.ID, c.Name, c.Description, c.Active, c.CreatedAt,
	).Scan(&c.CreatedAt)
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return nil, ErrAlreadyExists
		}
		return nil, storageErr("insert category", err)
	}
	return &c, nil
}

// ListCategories возвращает категории, упорядоченные по названию.
func (r *PostgresRepository) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, active, created_at FROM categories
		 WHERE ($1::BOOLEAN = FALSE OR active)
		 ORDER BY name, id`,
		activeOnly,
	)
	if err != nil {
		return nil, storageErr("select categories", err)
	}
	defer rows.Close()

	var res []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.CreatedAt); err != nil {
			return nil, storageErr("scan category", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

const productColumns = `id, category_id, name, description, active, created_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	if err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct добавляет товар в существующую категорию.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	res, err := scanProduct(r.pool.QueryRow(ctx,
		`INSERT INTO products (category_id, name, description, active, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+productColumns,
		p.CategoryID, p.Name, p.Description, p.Active, p.CreatedAt,
	))
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return nil, ErrNotFound
		}
		return nil, storageErr("insert product", err)
	}
	return res, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get product", err)
	}
	return p, nil
}

// ListProducts возвращает товары категории. Пустой categoryID означает все категории.
func (r *PostgresRepository) ListProducts(ctx context.Context, categoryID string, activeOnly bool) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE ($1::TEXT = '' OR category_id = $1)
		   AND ($2::BOOLEAN = FALSE OR active)
		 ORDER BY id`,
		categoryID, activeOnly,
	)
	if err != nil {
		return nil, storageErr("select products", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageErr("scan product", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

const variantColumns = `id, product_id, name, price, stock, active, created_at`

func scanVariant(row pgx.Row) (*model.Variant, error) {
	var (
		v     model.Variant
		price int64
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.Name, &price, &v.Stock, &v.Active, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Price = money.Money(price)
	return &v, nil
}

func scanVariants(rows pgx.Rows) ([]model.Variant, error) {
	defer rows.Close()

	var res []model.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, storageErr("scan variant", err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

// CreateVariant добавляет вариант к существующему товару.
func (r *PostgresRepository) CreateVariant(ctx context.Context, v model.Variant) (*model.Variant, error) {
	res, err := scanVariant(r.pool.QueryRow(ctx,
		`INSERT INTO variants (product_id, name, price, stock, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+variantColumns,
		v.ProductID, v.Name, int64(v.Price), v.Stock, v.Active, v.CreatedAt,
	))
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return nil, ErrNotFound
		}
		return nil, storageErr("insert variant", err)
	}
	return res, nil
}

// GetVariant возвращает вариант по идентификатору.
func (r *PostgresRepository) GetVariant(ctx context.Context, id int64) (*model.Variant, error) {
	v, err := scanVariant(r.pool.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get variant", err)
	}
	return v, nil
}

// ListVariants возвращает варианты товара, упорядоченные по цене.
func (r *PostgresRepository) ListVariants(ctx context.Context, productID int64, activeOnly bool) ([]model.Variant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+variantColumns+` FROM variants
		 WHERE product_id = $1 AND ($2::BOOLEAN = FALSE OR active)
		 ORDER BY price, id`,
		productID, activeOnly,
	)
	if err != nil {
		return nil, storageErr("select variants", err)
	}
	return scanVariants(rows)
}

// SetVariantStock устанавливает остаток варианта.
func (r *PostgresRepository) SetVariantStock(ctx context.Context, id int64, stock int) (*model.Variant, error) {
	v, err := scanVariant(r.pool.QueryRow(ctx,
		`UPDATE variants SET stock = $2 WHERE id = $1 RETURNING `+variantColumns, id, stock))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("set variant stock", err)
	}
	return v, nil
}

// AddVariantStock изменяет остаток на delta. Если остаток стал бы отрицательным, возвращается ErrOutOfStock.
func (r *PostgresRepository) AddVariantStock(ctx context.Context, id int64, delta int) (*model.Variant, error) {
	v, err := scanVariant(r.pool.QueryRow(ctx,
		`UPDATE variants SET stock = stock + $2
		 WHERE id = $1 AND stock + $2 BETWEEN 0 AND $3
		 RETURNING `+variantColumns,
		id, delta, model.MaxStock,
	))
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storageErr("add variant stock", err)
	}

	current, err := r.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Stock+delta > model.MaxStock {
		return nil, ErrInvalidQuantity
	}
	return nil, ErrOutOfStock
}

// LowStockVariants возвращает активные варианты с остатком не выше порога.
func (r *PostgresRepository) LowStockVariants(ctx context.Context, threshold int) ([]model.Variant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+variantColumns+` FROM variants
		 WHERE active AND stock <= $1
		 ORDER BY stock, id`,
		threshold,
	)
	if err != nil {
		return nil, storageErr("select low stock variants", err)
	}
	return scanVariants(rows)
}

// CatalogEmpty сообщает, что в каталоге нет ни одного товара.
func (r *PostgresRepository) CatalogEmpty(ctx context.Context) (bool, error) {
	var empty bool
	if err := r.pool.QueryRow(ctx, `SELECT NOT EXISTS (SELECT 1 FROM products)`).Scan(&empty); err != nil {
		return false, storageErr("check catalog", err)
	}
	return empty, nil
}

const voucherColumns = `id, code, name, description, discount_type, discount_value, minimum_order, maximum_discount,
	usage_limit, usage_count, valid_from, valid_until, is_active, created_at`

func scanVoucher(row pgx.Row) (*model.Voucher, error) {
	var (
		v                    model.Voucher
		discountType         string
		minimum, maxDiscount int64
		validFrom            time.Time
	)
	err := row.Scan(&v.ID, &v.Code, &v.Name, &v.Description, &discountType, &v.DiscountValue,
		&minimum, &maxDiscount, &v.UsageLimit, &v.UsageCount, &validFrom, &v.ValidUntil, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.DiscountType = model.DiscountType(discountType)
	v.MinimumOrder = money.Money(minimum)
	v.MaximumDiscount = money.Money(maxDiscount)
	v.ValidFrom = validFrom
	return &v, nil
}

// CreateVoucher сохраняет новый ваучер. Дублирующийся код возвращает ErrAlreadyExists.
func (r *PostgresRepository) CreateVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	res, err := scanVoucher(r.pool.QueryRow(ctx,
		`INSERT INTO vouchers (code, name, description, discount_type, discount_value, minimum_order,
			maximum_discount, usage_limit, usage_count, valid_from, valid_until, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12)
		 RETURNING `+voucherColumns,
		v.Code, v.Name, v.Description, string(v.DiscountType), v.DiscountValue, int64(v.MinimumOrder),
		int64(v.MaximumDiscount), v.UsageLimit, v.ValidFrom, v.ValidUntil, v.IsActive, v.CreatedAt,
	))
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return nil, ErrAlreadyExists
		}
		return nil, storageErr("insert voucher", err)
	}
	return res, nil
}

// GetVoucher возвращает ваучер по коду.
func (r *PostgresRepository) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get voucher", err)
	}
	return v, nil
}

// ListVouchers возвращает ваучеры, новые первыми.
func (r *PostgresRepository) ListVouchers(ctx context.Context, activeOnly bool) ([]model.Voucher, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+voucherColumns+` FROM vouchers
		 WHERE ($1::BOOLEAN = FALSE OR is_active)
		 ORDER BY created_at DESC, id DESC`,
		activeOnly,
	)
	if err != nil {
		return nil, storageErr("select vouchers", err)
	}
	defer rows.Close()

	var res []model.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, storageErr("scan voucher", err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

// SetVoucherActive включает или отключает ваучер.
func (r *PostgresRepository) SetVoucherActive(ctx context.Context, code string, active bool) (*model.Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx,
		`UPDATE vouchers SET is_active = $2 WHERE code = $1 RETURNING `+voucherColumns, code, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("set voucher active", err)
	}
	return v, nil
}
