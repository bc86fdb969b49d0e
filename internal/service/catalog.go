package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/validation"
)

// CreateCategory добавляет активную категорию.
func (s *Service) CreateCategory(ctx context.Context, id, name, description string) (*model.Category, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !validation.IsValidSlug(id) || !validation.IsValidName(name) {
		return nil, fmt.Errorf("%w: category %q", ErrInvalidInput, id)
	}
	return s.repo.CreateCategory(ctx, model.Category{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   s.now(),
	})
}

// Categories возвращает активные категории.
func (s *Service) Categories(ctx context.Context) ([]model.Category, error) {
	return s.repo.ListCategories(ctx, true)
}

// CreateProduct добавляет активный товар в категорию.
func (s *Service) CreateProduct(ctx context.Context, categoryID, name, description string) (*model.Product, error) {
	if !validation.IsValidName(name) {
		return nil, fmt.Errorf("%w: product name", ErrInvalidInput)
	}
	return s.repo.CreateProduct(ctx, model.Product{
		CategoryID:  strings.ToLower(strings.TrimSpace(categoryID)),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   s.now(),
	})
}

// Products возвращает активные товары категории; пустой categoryID означает весь каталог.
func (s *Service) Products(ctx context.Context, categoryID string) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, categoryID, true)
}

// Product возвращает товар по идентификатору.
func (s *Service) Product(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateVariant добавляет вариант товара.
func (s *Service) CreateVariant(ctx context.Context, productID int64, name string, price money.Money, stock int) (*model.Variant, error) {
	if !validation.IsValidName(name) {
		return nil, fmt.Errorf("%w: variant name", ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	if stock < 0 || stock > model.MaxStock {
		return nil, ErrInvalidQuantity
	}
	return s.repo.CreateVariant(ctx, model.Variant{
		ProductID: productID,
		Name:      strings.TrimSpace(name),
		Price:     price,
		Stock:     stock,
		Active:    true,
		CreatedAt: s.now(),
	})
}

// Variants возвращает активные варианты товара.
func (s *Service) Variants(ctx context.Context, productID int64) ([]model.Variant, error) {
	return s.repo.ListVariants(ctx, productID, true)
}

// Variant возвращает вариант по идентификатору.
func (s *Service) Variant(ctx context.Context, id int64) (*model.Variant, error) {
	return s.repo.GetVariant(ctx, id)
}

// SetStock устанавливает остаток варианта.
func (s *Service) SetStock(ctx context.Context, variantID int64, stock int) (*model.Variant, error) {
	if stock < 0 || stock > model.MaxStock {
		return nil, ErrInvalidQuantity
	}
	v, err := s.repo.SetVariantStock(ctx, variantID, stock)
	if err != nil {
		return nil, err
	}

	s.logger.Info("stock set", zap.Int64("variantID", variantID), zap.Int("stock", v.Stock))
	s.checkLowStock(ctx, *v)
	return v, nil
}

// AddStock изменяет остаток варианта на delta.
func (s *Service) AddStock(ctx context.Context, variantID int64, delta int) (*model.Variant, error) {
	if delta == 0 || delta > model.MaxStock || delta < -model.MaxStock {
		return nil, ErrInvalidQuantity
	}
	v, err := s.repo.AddVariantStock(ctx, variantID, delta)
	if err != nil {
		return nil, err
	}

	s.logger.Info("stock changed", zap.Int64("variantID", variantID), zap.Int("delta", delta), zap.Int("stock", v.Stock))
	s.checkLowStock(ctx, *v)
	return v, nil
}

// LowStock возвращает активные варианты с остатком не выше порога.
func (s *Service) LowStock(ctx context.Context) ([]model.Variant, error) {
	return s.repo.LowStockVariants(ctx, s.opts.LowStockThreshold)
}

func (s *Service) checkLowStock(ctx context.Context, v model.Variant) {
	if v.Active && v.Stock <= s.opts.LowStockThreshold {
		s.notifier.LowStock(ctx, v)
	}
}

// CatalogEmpty сообщает, что в каталоге ещё нет товаров.
func (s *Service) CatalogEmpty(ctx context.Context) (bool, error) {
	return s.repo.CatalogEmpty(ctx)
}
