package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// Purchase выполняет покупку в одной транзакции, блокируя пользователя, вариант и ваучер в этом порядке.
func (r *GormRepository) Purchase(ctx context.Context, p PurchaseParams) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user userRow
		if err := lockFirst(tx, &user, "lock user for update", "id = ?", p.UserID); err != nil {
			return err
		}

		var variant variantRow
		if err := lockFirst(tx, &variant, "lock variant for update", "id = ? AND active = ?", p.VariantID, true); err != nil {
			return err
		}
		var product productRow
		if err := first(tx, &product, "get product", "id = ? AND active = ?", variant.ProductID, true); err != nil {
			return err
		}

		var vch *model.Voucher
		var voucherID int64
		if p.VoucherCode != "" {
			var row voucherRow
			err := lockFirst(tx, &row, "lock voucher for update", "code = ?", p.VoucherCode)
			switch {
			case err == nil:
				m := row.toModel()
				vch = &m
				voucherID = row.ID
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		pr, err := priceOrder(variant.toModel(), p.Quantity, p.VoucherCode, vch, money.Money(user.Balance), p.Now)
		if err != nil {
			return err
		}

		err = tx.Model(&userRow{}).Where("id = ?", user.ID).Updates(map[string]any{
			"balance":     gorm.Expr("balance - ?", int64(pr.total)),
			"total_spent": gorm.Expr("total_spent + ?", int64(pr.total)),
			"order_count": gorm.Expr("order_count + 1"),
		}).Error
		if err != nil {
			return storageErr("debit balance", err)
		}

		err = tx.Model(&variantRow{}).Where("id = ?", variant.ID).
			Update("stock", gorm.Expr("stock - ?", p.Quantity)).Error
		if err != nil {
			return storageErr("decrement stock", err)
		}

		if vch != nil {
			err = tx.Model(&voucherRow{}).Where("id = ?", voucherID).
				Update("usage_count", gorm.Expr("usage_count + 1")).Error
			if err != nil {
				return storageErr("increment voucher usage", err)
			}
		}

		balance := money.Money(user.Balance) - pr.total
		err = gormInsertLedger(tx, model.LedgerEntry{
			UserID:       user.ID,
			Kind:         model.LedgerKindPurchase,
			Amount:       -pr.total,
			BalanceAfter: balance,
			Reason:       orderReason(p.OrderNumber),
			CreatedAt:    p.Now,
		})
		if err != nil {
			return err
		}

		order := orderRow{
			Number:      p.OrderNumber,
			UserID:      user.ID,
			VariantID:   variant.ID,
			ProductName: product.Name,
			VariantName: variant.Name,
			Quantity:    p.Quantity,
			UnitPrice:   variant.Price,
			Subtotal:    int64(pr.subtotal),
			Discount:    int64(pr.discount),
			Total:       int64(pr.total),
			VoucherCode: p.VoucherCode,
			Status:      string(model.OrderStatusCompleted),
			CreatedAt:   p.Now,
		}
		if err := tx.Create(&order).Error; err != nil {
			return storageErr("insert order", err)
		}

		res = &PurchaseResult{Order: order.toModel(), Balance: balance, RemainingStock: variant.Stock - p.Quantity}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (r *GormRepository) ListOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	var rows []orderRow
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(listLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("select orders", err)
	}

	res := make([]model.Order, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

// CreateBroadcast сохраняет рассылку в статусе sending.
func (r *GormRepository) CreateBroadcast(ctx context.Context, b model.Broadcast) (*model.Broadcast, error) {
	row := broadcastRow{
		Message:   b.Message,
		Segment:   string(b.Segment),
		Status:    string(model.BroadcastStatusSending),
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, storageErr("insert broadcast", err)
	}

	b.ID = row.ID
	b.Status = model.BroadcastStatusSending
	return &b, nil
}

// FinishBroadcast фиксирует итоги рассылки.
func (r *GormRepository) FinishBroadcast(ctx context.Context, id int64, sent, failed int, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&broadcastRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":       string(broadcastOutcome(sent, failed)),
		"sent_count":   sent,
		"failed_count": failed,
		"sent_at":      now,
	})
	if res.Error != nil {
		return storageErr("finish broadcast", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecipients возвращает незаблокированных пользователей сегмента.
func (r *GormRepository) ListRecipients(ctx context.Context, f RecipientFilter) ([]model.User, error) {
	q := r.db.WithContext(ctx).Model(&userRow{}).Where("is_banned = ?", false)

	const recentOrder = "SELECT 1 FROM orders WHERE orders.user_id = users.id AND orders.created_at >= ?"
	switch f.Segment {
	case model.SegmentActive:
		q = q.Where("EXISTS ("+recentOrder+")", f.ActiveSince)
	case model.SegmentInactive:
		q = q.Where("NOT EXISTS ("+recentOrder+")", f.ActiveSince)
	case model.SegmentVIP:
		q = q.Where("total_spent > ?", int64(f.VIPThreshold))
	}

	var rows []userRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, storageErr("select recipients", err)
	}

	res := make([]model.User, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

// Stats возвращает сводку по пользователям, пополнениям и продажам.
func (r *GormRepository) Stats(ctx context.Context) (*model.Stats, error) {
	db := r.db.WithContext(ctx)
	open := statusStrings([]model.DepositStatus{model.DepositStatusPending, model.DepositStatusProofSubmitted})

	var (
		users, withBalance, pendingCount, orders  int64
		totalBalance, completed, pending, revenue int64
	)
	steps := []struct {
		op  string
		run func() error
	}{
		{"count users", func() error { return db.Model(&userRow{}).Count(&users).Error }},
		{"count users with balance", func() error {
			return db.Model(&userRow{}).Where("balance > 0").Count(&withBalance).Error
		}},
		{"sum balances", func() error {
			return db.Model(&userRow{}).Select("COALESCE(SUM(balance), 0)").Scan(&totalBalance).Error
		}},
		{"sum completed deposits", func() error {
			return db.Model(&depositRow{}).Where("status = ?", string(model.DepositStatusCompleted)).
				Select("COALESCE(SUM(amount), 0)").Scan(&completed).Error
		}},
		{"count pending deposits", func() error {
			return db.Model(&depositRow{}).Where("status IN ?", open).Count(&pendingCount).Error
		}},
		{"sum pending deposits", func() error {
			return db.Model(&depositRow{}).Where("status IN ?", open).
				Select("COALESCE(SUM(amount), 0)").Scan(&pending).Error
		}},
		{"count orders", func() error { return db.Model(&orderRow{}).Count(&orders).Error }},
		{"sum revenue", func() error {
			return db.Model(&orderRow{}).Select("COALESCE(SUM(total), 0)").Scan(&revenue).Error
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, storageErr(step.op, err)
		}
	}

	methods, err := completedByMethod(db)
	if err != nil {
		return nil, err
	}

	return &model.Stats{
		Users:               int(users),
		UsersWithBalance:    int(withBalance),
		TotalUserBalance:    money.Money(totalBalance),
		CompletedDeposits:   money.Money(completed),
		PendingDeposits:     int(pendingCount),
		PendingDepositTotal: money.Money(pending),
		Orders:              int(orders),
		Revenue:             money.Money(revenue),
		Methods:             methods,
	}, nil
}
