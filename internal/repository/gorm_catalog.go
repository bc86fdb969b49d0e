package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/iwrumi/corebotstore/internal/model"
)

func existsRow(tx *gorm.DB, dest any, op, query string, args ...any) (bool, error) {
	err := first(tx, dest, op, query, args...)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// CreateCategory добавляет категорию каталога.
func (r *GormRepository) CreateCategory(ctx context.Context, c model.Category) (*model.Category, error) {
	row := categoryRow{ID: c.ID, Name: c.Name, Description: c.Description, Active: c.Active, CreatedAt: c.CreatedAt}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := existsRow(tx, &categoryRow{}, "get category", "id = ?", c.ID)
		if err != nil {
			return err
		}
		if found {
			return ErrAlreadyExists
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return storageErr("insert category", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := row.toModel()
	return &res, nil
}

// ListCategories возвращает категории, упорядоченные по названию.
func (r *GormRepository) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	q := r.db.WithContext(ctx).Model(&categoryRow{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var rows []categoryRow
	if err := q.Order("name, id").Find(&rows).Error; err != nil {
		return nil, storageErr("select categories", err)
	}

	res := make([]model.Category, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

// CreateProduct добавляет товар в существующую категорию.
func (r *GormRepository) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	row := productRow{CategoryID: p.CategoryID, Name: p.Name, Description: p.Description, Active: p.Active, CreatedAt: p.CreatedAt}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := first(tx, &categoryRow{}, "get category", "id = ?", p.CategoryID); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return storageErr("insert product", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := row.toModel()
	return &res, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *GormRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var row productRow
	if err := first(r.db.WithContext(ctx), &row, "get product", "id = ?", id); err != nil {
		return nil, err
	}
	p := row.toModel()
	return &p, nil
}

// ListProducts возвращает товары категории. Пустой categoryID означает все категории.
func (r *GormRepository) ListProducts(ctx context.Context, categoryID string, activeOnly bool) ([]model.Product, error) {
	q := r.db.WithContext(ctx).Model(&productRow{})
	if categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	}
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var rows []productRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, storageErr("select products", err)
	}

	res := make([]model.Product, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

func variantModels(rows []variantRow) []model.Variant {
	res := make([]model.Variant, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res
}

// CreateVariant добавляет вариант к существующему товару.
func (r *GormRepository) CreateVariant(ctx context.Context, v model.Variant) (*model.Variant, error) {
	row := variantRow{
		ProductID: v.ProductID,
		Name:      v.Name,
		Price:     int64(v.Price),
		Stock:     v.Stock,
		Active:    v.Active,
		CreatedAt: v.CreatedAt,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := first(tx, &productRow{}, "get product", "id = ?", v.ProductID); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return storageErr("insert variant", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := row.toModel()
	return &res, nil
}

// GetVariant возвращает вариант по идентификатору.
func (r *GormRepository) GetVariant(ctx context.Context, id int64) (*model.Variant, error) {
	var row variantRow
	if err := first(r.db.WithContext(ctx), &row, "get variant", "id = ?", id); err != nil {
		return nil, err
	}
	v := row.toModel()
	return &v, nil
}

// ListVariants возвращает варианты товара, упорядоченные по цене.
func (r *GormRepository) ListVariants(ctx context.Context, productID int64, activeOnly bool) ([]model.Variant, error) {
	q := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var rows []variantRow
	if err := q.Order("price, id").Find(&rows).Error; err != nil {
		return nil, storageErr("select variants", err)
	}
	return variantModels(rows), nil
}

// SetVariantStock устанавливает остаток варианта.
func (r *GormRepository) SetVariantStock(ctx context.Context, id int64, stock int) (*model.Variant, error) {
	var row variantRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock variant for update", "id = ?", id); err != nil {
			return err
		}
		if err := tx.Model(&variantRow{}).Where("id = ?", id).Update("stock", stock).Error; err != nil {
			return storageErr("set variant stock", err)
		}
		row.Stock = stock
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := row.toModel()
	return &v, nil
}

// AddVariantStock изменяет остаток на delta. Если остаток стал бы отрицательным, возвращается ErrOutOfStock.
func (r *GormRepository) AddVariantStock(ctx context.Context, id int64, delta int) (*model.Variant, error) {
	var row variantRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock variant for update", "id = ?", id); err != nil {
			return err
		}
		if row.Stock+delta < 0 {
			return ErrOutOfStock
		}
		if row.Stock+delta > model.MaxStock {
			return ErrInvalidQuantity
		}
		if err := tx.Model(&variantRow{}).Where("id = ?", id).Update("stock", gorm.Expr("stock + ?", delta)).Error; err != nil {
			return storageErr("add variant stock", err)
		}
		row.Stock += delta
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := row.toModel()
	return &v, nil
}

// LowStockVariants возвращает активные варианты с остатком не выше порога.
func (r *GormRepository) LowStockVariants(ctx context.Context, threshold int) ([]model.Variant, error) {
	var rows []variantRow
	err := r.db.WithContext(ctx).
		Where("active = ? AND stock <= ?", true, threshold).
		Order("stock, id").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("select low stock variants", err)
	}
	return variantModels(rows), nil
}

// CatalogEmpty сообщает, что в каталоге нет ни одного товара.
func (r *GormRepository) CatalogEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&productRow{}).Count(&count).Error; err != nil {
		return false, storageErr("check catalog", err)
	}
	return count == 0, nil
}

// CreateVoucher сохраняет новый ваучер. Дублирующийся код возвращает ErrAlreadyExists.
func (r *GormRepository) CreateVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error) {
	row := voucherRow{
		Code:            v.Code,
		Name:            v.Name,
		Description:     v.Description,
		DiscountType:    string(v.DiscountType),
		DiscountValue:   v.DiscountValue,
		MinimumOrder:    int64(v.MinimumOrder),
		MaximumDiscount: int64(v.MaximumDiscount),
		UsageLimit:      v.UsageLimit,
		ValidFrom:       v.ValidFrom,
		ValidUntil:      v.ValidUntil,
		IsActive:        v.IsActive,
		CreatedAt:       v.CreatedAt,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := existsRow(tx, &voucherRow{}, "get voucher", "code = ?", v.Code)
		if err != nil {
			return err
		}
		if found {
			return ErrAlreadyExists
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return storageErr("insert voucher", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := row.toModel()
	return &res, nil
}

// GetVoucher возвращает ваучер по коду.
func (r *GormRepository) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	var row voucherRow
	if err := first(r.db.WithContext(ctx), &row, "get voucher", "code = ?", code); err != nil {
		return nil, err
	}
	v := row.toModel()
	return &v, nil
}

// ListVouchers возвращает ваучеры, новые первыми.
func (r *GormRepository) ListVouchers(ctx context.Context, activeOnly bool) ([]model.Voucher, error) {
	q := r.db.WithContext(ctx).Model(&voucherRow{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var rows []voucherRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, storageErr("select vouchers", err)
	}

	res := make([]model.Voucher, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

// SetVoucherActive включает или отключает ваучер.
func (r *GormRepository) SetVoucherActive(ctx context.Context, code string, active bool) (*model.Voucher, error) {
	var row voucherRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock voucher", "code = ?", code); err != nil {
			return err
		}
		if err := tx.Model(&voucherRow{}).Where("id = ?", row.ID).Update("is_active", active).Error; err != nil {
			return storageErr("set voucher active", err)
		}
		row.IsActive = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := row.toModel()
	return &v, nil
}
