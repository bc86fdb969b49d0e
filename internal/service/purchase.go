package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

// Purchase покупает quantity единиц варианта за счёт баланса. Непустой код ваучера,
// который нельзя применить, прерывает покупку.
func (s *Service) Purchase(ctx context.Context, userID, variantID int64, quantity int, voucherCode string) (*repository.PurchaseResult, error) {
	if quantity < 1 || quantity > model.MaxOrderQuantity {
		return nil, ErrInvalidQuantity
	}

	now := s.now()
	res, err := s.repo.Purchase(ctx, repository.PurchaseParams{
		UserID:      userID,
		VariantID:   variantID,
		Quantity:    quantity,
		VoucherCode: voucher.Normalize(voucherCode),
		OrderNumber: newOrderNumber(now),
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order completed",
		zap.String("order", res.Order.Number),
		zap.Int64("userID", userID),
		zap.Int64("variantID", variantID),
		zap.Int("quantity", quantity),
		zap.String("total", res.Order.Total.String()),
	)

	s.notifier.OrderCompleted(ctx, res.Order, res.Balance)
	if res.RemainingStock <= s.opts.LowStockThreshold {
		if v, err := s.repo.GetVariant(ctx, variantID); err == nil {
			s.checkLowStock(ctx, *v)
		}
	}
	return res, nil
}

// Orders возвращает заказы пользователя.
func (s *Service) Orders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	return s.repo.ListOrders(ctx, userID, limit)
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.Format("20060102") + "-" + suffix
}
