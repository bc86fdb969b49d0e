package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/validation"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

// maxPercent: 100% в сотых долях процента.
const maxPercent = 100 * 100

const generatedCodeLength = 8

// NewVoucher описывает создаваемый ваучер. Пустой Code означает сгенерированный код.
type NewVoucher struct {
	Code            string
	Name            string
	Description     string
	DiscountType    model.DiscountType
	DiscountValue   int64
	MinimumOrder    money.Money
	MaximumDiscount money.Money
	UsageLimit      int
	ValidFrom       time.Time
	ValidUntil      *time.Time
}

// CreateVoucher проверяет параметры и сохраняет активный ваучер.
func (s *Service) CreateVoucher(ctx context.Context, nv NewVoucher) (*model.Voucher, error) {
	code := voucher.Normalize(nv.Code)
	if code == "" {
		generated, err := voucher.GenerateCode(generatedCodeLength)
		if err != nil {
			return nil, err
		}
		code = generated
	}
	if !validation.IsValidVoucherCode(code) {
		return nil, fmt.Errorf("%w: voucher code %q", ErrInvalidInput, code)
	}

	switch nv.DiscountType {
	case model.DiscountPercentage:
		if nv.DiscountValue <= 0 || nv.DiscountValue > maxPercent {
			return nil, fmt.Errorf("%w: percentage must be in (0, 100]", ErrInvalidInput)
		}
	case model.DiscountFixedAmount:
		if nv.DiscountValue <= 0 {
			return nil, fmt.Errorf("%w: fixed discount must be positive", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: discount type %q", ErrInvalidInput, nv.DiscountType)
	}

	if nv.MinimumOrder < 0 || nv.MaximumDiscount < 0 || nv.UsageLimit < 0 {
		return nil, fmt.Errorf("%w: negative limits", ErrInvalidInput)
	}

	now := s.now()
	validFrom := nv.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if nv.ValidUntil != nil && !nv.ValidUntil.After(validFrom) {
		return nil, fmt.Errorf("%w: validity window is empty", ErrInvalidInput)
	}

	name := strings.TrimSpace(nv.Name)
	if name == "" {
		name = code
	}

	v, err := s.repo.CreateVoucher(ctx, model.Voucher{
		Code:            code,
		Name:            name,
		Description:     strings.TrimSpace(nv.Description),
		DiscountType:    nv.DiscountType,
		DiscountValue:   nv.DiscountValue,
		MinimumOrder:    nv.MinimumOrder,
		MaximumDiscount: nv.MaximumDiscount,
		UsageLimit:      nv.UsageLimit,
		ValidFrom:       validFrom,
		ValidUntil:      nv.ValidUntil,
		IsActive:        true,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("voucher created", zap.String("code", v.Code), zap.String("discount", voucher.Label(*v)))
	return v, nil
}

// ValidateVoucher проверяет применимость ваучера к сумме заказа и возвращает ваучер и размер скидки.
// Неизвестный код возвращает ошибку voucher.ErrInvalid с причиной not_found.
func (s *Service) ValidateVoucher(ctx context.Context, code string, orderTotal money.Money) (*model.Voucher, money.Money, error) {
	code = voucher.Normalize(code)
	v, err := s.repo.GetVoucher(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, voucher.Invalid(code, voucher.ReasonNotFound)
		}
		return nil, 0, err
	}

	discount, err := voucher.Evaluate(*v, orderTotal, s.now())
	if err != nil {
		return v, 0, err
	}
	return v, discount, nil
}

// Vouchers возвращает ваучеры.
func (s *Service) Vouchers(ctx context.Context, activeOnly bool) ([]model.Voucher, error) {
	return s.repo.ListVouchers(ctx, activeOnly)
}

// DisableVoucher отключает ваучер.
func (s *Service) DisableVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	v, err := s.repo.SetVoucherActive(ctx, voucher.Normalize(code), false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("voucher disabled", zap.String("code", v.Code))
	return v, nil
}
