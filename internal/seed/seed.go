// Package seed загружает начальные данные магазина из YAML-файла.
package seed

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/payment"
	"github.com/iwrumi/corebotstore/internal/support"
)

// File описывает содержимое файла начальных данных.
type File struct {
	PaymentMethods []model.PaymentMethod `yaml:"payment_methods"`
	Catalog        []Category            `yaml:"catalog"`
	FAQs           []support.FAQ         `yaml:"faqs"`
}

// Category: категория каталога вместе с товарами.
type Category struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Products    []Product `yaml:"products"`
}

// Product: товар вместе с вариантами.
type Product struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Variants    []Variant `yaml:"variants"`
}

// Variant: вариант товара.
type Variant struct {
	Name  string      `yaml:"name"`
	Price money.Money `yaml:"price"`
	Stock int         `yaml:"stock"`
}

// Catalog: операции каталога, необходимые для применения начальных данных.
type Catalog interface {
	CatalogEmpty(ctx context.Context) (bool, error)
	CreateCategory(ctx context.Context, id, name, description string) (*model.Category, error)
	CreateProduct(ctx context.Context, categoryID, name, description string) (*model.Product, error)
	CreateVariant(ctx context.Context, productID int64, name string, price money.Money, stock int) (*model.Variant, error)
}

// LoadFile читает и разбирает файл начальных данных.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Decode(data)
}

// Decode разбирает начальные данные из YAML.
func Decode(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	for i, m := range f.PaymentMethods {
		if m.ID == "" || m.Name == "" {
			return nil, fmt.Errorf("decode seed file: payment method #%d needs id and name", i+1)
		}
	}
	for i, q := range f.FAQs {
		if q.Question == "" || q.Answer == "" {
			return nil, fmt.Errorf("decode seed file: faq #%d needs question and answer", i+1)
		}
		if q.Category == "" {
			f.FAQs[i].Category = support.CategoryGeneral
		}
	}
	return &f, nil
}

// Registry строит справочник способов оплаты: способы из файла добавляются к стандартным
// и заменяют их при совпадении идентификатора.
func (f *File) Registry() *payment.Registry {
	methods := payment.DefaultMethods()
	if f != nil {
		methods = append(methods, f.PaymentMethods...)
	}
	return payment.NewRegistry(methods...)
}

// Desk строит справочник поддержки; без статей в файле используется встроенный.
func (f *File) Desk() *support.Desk {
	if f == nil {
		return support.NewDesk(nil)
	}
	return support.NewDesk(f.FAQs)
}

// Apply заполняет каталог, если в нём ещё нет товаров. Возвращает число созданных вариантов.
func Apply(ctx context.Context, c Catalog, f *File, logger *zap.Logger) (int, error) {
	if f == nil || len(f.Catalog) == 0 {
		return 0, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	empty, err := c.CatalogEmpty(ctx)
	if err != nil {
		return 0, fmt.Errorf("check catalog: %w", err)
	}
	if !empty {
		logger.Info("catalog already populated, seed skipped")
		return 0, nil
	}

	created := 0
	for _, cat := range f.Catalog {
		if _, err := c.CreateCategory(ctx, cat.ID, cat.Name, cat.Description); err != nil {
			return created, fmt.Errorf("seed category %q: %w", cat.ID, err)
		}
		for _, p := range cat.Products {
			product, err := c.CreateProduct(ctx, cat.ID, p.Name, p.Description)
			if err != nil {
				return created, fmt.Errorf("seed product %q: %w", p.Name, err)
			}
			for _, v := range p.Variants {
				if _, err := c.CreateVariant(ctx, product.ID, v.Name, v.Price, v.Stock); err != nil {
					return created, fmt.Errorf("seed variant %q: %w", v.Name, err)
				}
				created++
			}
		}
	}

	logger.Info("catalog seeded",
		zap.Int("categories", len(f.Catalog)),
		zap.Int("variants", created),
	)
	return created, nil
}
