package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// Purchase списывает стоимость заказа с баланса, уменьшает остаток варианта,
// увеличивает счётчик использований ваучера и сохраняет заказ в одной транзакции.
// Строки блокируются в порядке пользователь, вариант, ваучер.
func (r *PostgresRepository) Purchase(ctx context.Context, p PurchaseParams) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := r.inTx(ctx, "purchase", func(tx pgx.Tx) error {
		balance, err := lockBalance(ctx, tx, p.UserID)
		if err != nil {
			return err
		}

		var (
			v           model.Variant
			price       int64
			productName string
		)
		err = tx.QueryRow(ctx,
			`SELECT v.id, v.product_id, v.name, v.price, v.stock, v.active, v.created_at, p.name
			 FROM variants v
			 JOIN products p ON p.id = v.product_id
			 WHERE v.id = $1 AND v.active AND p.active
			 FOR UPDATE OF v`,
			p.VariantID,
		).Scan(&v.ID, &v.ProductID, &v.Name, &price, &v.Stock, &v.Active, &v.CreatedAt, &productName)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return storageErr("lock variant for update", err)
		}
		v.Price = money.Money(price)

		var vch *model.Voucher
		if p.VoucherCode != "" {
			vch, err = scanVoucher(tx.QueryRow(ctx,
				`SELECT `+voucherColumns+` FROM vouchers WHERE code = $1 FOR UPDATE`, p.VoucherCode))
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return storageErr("lock voucher for update", err)
			}
		}

		pr, err := priceOrder(v, p.Quantity, p.VoucherCode, vch, balance, p.Now)
		if err != nil {
			return err
		}

		var after int64
		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance - $2, total_spent = total_spent + $2, order_count = order_count + 1
			 WHERE id = $1 RETURNING balance`,
			p.UserID, int64(pr.total),
		).Scan(&after)
		if err != nil {
			return storageErr("debit balance", err)
		}

		var stock int
		err = tx.QueryRow(ctx,
			`UPDATE variants SET stock = stock - $2 WHERE id = $1 RETURNING stock`,
			v.ID, p.Quantity,
		).Scan(&stock)
		if err != nil {
			return storageErr("decrement stock", err)
		}

		if vch != nil {
			if _, err := tx.Exec(ctx, `UPDATE vouchers SET usage_count = usage_count + 1 WHERE id = $1`, vch.ID); err != nil {
				return storageErr("increment voucher usage", err)
			}
		}

		err = insertLedger(ctx, tx, model.LedgerEntry{
			UserID:       p.UserID,
			Kind:         model.LedgerKindPurchase,
			Amount:       -pr.total,
			BalanceAfter: money.Money(after),
			Reason:       orderReason(p.OrderNumber),
			CreatedAt:    p.Now,
		})
		if err != nil {
			return err
		}

		order := model.Order{
			Number:      p.OrderNumber,
			UserID:      p.UserID,
			VariantID:   v.ID,
			ProductName: productName,
			VariantName: v.Name,
			Quantity:    p.Quantity,
			UnitPrice:   v.Price,
			Subtotal:    pr.subtotal,
			Discount:    pr.discount,
			Total:       pr.total,
			VoucherCode: p.VoucherCode,
			Status:      model.OrderStatusCompleted,
			CreatedAt:   p.Now,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (number, user_id, variant_id, product_name, variant_name, quantity,
				unit_price, subtotal, discount, total, voucher_code, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id`,
			order.Number, order.UserID, order.VariantID, order.ProductName, order.VariantName, order.Quantity,
			int64(order.UnitPrice), int64(order.Subtotal), int64(order.Discount), int64(order.Total),
			order.VoucherCode, string(order.Status), order.CreatedAt,
		).Scan(&order.ID)
		if err != nil {
			return storageErr("insert order", err)
		}

		res = &PurchaseResult{Order: order, Balance: money.Money(after), RemainingStock: stock}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, number, user_id, variant_id, product_name, variant_name, quantity,
			unit_price, subtotal, discount, total, voucher_code, status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, storageErr("select orders", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var (
			o                                    model.Order
			unitPrice, subtotal, discount, total int64
			status                               string
		)
		err := rows.Scan(&o.ID, &o.Number, &o.UserID, &o.VariantID, &o.ProductName, &o.VariantName, &o.Quantity,
			&unitPrice, &subtotal, &discount, &total, &o.VoucherCode, &status, &o.CreatedAt)
		if err != nil {
			return nil, storageErr("scan order", err)
		}
		o.UnitPrice = money.Money(unitPrice)
		o.Subtotal = money.Money(subtotal)
		o.Discount = money.Money(discount)
		o.Total = money.Money(total)
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

// CreateBroadcast сохраняет рассылку в статусе sending.
func (r *PostgresRepository) CreateBroadcast(ctx context.Context, b model.Broadcast) (*model.Broadcast, error) {
	b.Status = model.BroadcastStatusSending
	err := r.pool.QueryRow(ctx,
		`INSERT INTO broadcasts (message, segment, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		b.Message, string(b.Segment), string(b.Status), b.CreatedBy, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		return nil, storageErr("insert broadcast", err)
	}
	return &b, nil
}

// FinishBroadcast фиксирует итоги рассылки.
func (r *PostgresRepository) FinishBroadcast(ctx context.Context, id int64, sent, failed int, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE broadcasts SET status = $2, sent_count = $3, failed_count = $4, sent_at = $5 WHERE id = $1`,
		id, string(broadcastOutcome(sent, failed)), sent, failed, now,
	)
	if err != nil {
		return storageErr("finish broadcast", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecipients возвращает незаблокированных пользователей сегмента.
func (r *PostgresRepository) ListRecipients(ctx context.Context, f RecipientFilter) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE NOT is_banned`
	var args []any

	switch f.Segment {
	case model.SegmentActive:
		query += ` AND EXISTS (SELECT 1 FROM orders o WHERE o.user_id = u.id AND o.created_at >= $1)`
		args = append(args, f.ActiveSince)
	case model.SegmentInactive:
		query += ` AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.user_id = u.id AND o.created_at >= $1)`
		args = append(args, f.ActiveSince)
	case model.SegmentVIP:
		query += ` AND total_spent > $1`
		args = append(args, int64(f.VIPThreshold))
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("select recipients", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storageErr("scan recipient", err)
		}
		res = append(res, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

// Stats возвращает сводку по пользователям, пополнениям и продажам.
func (r *PostgresRepository) Stats(ctx context.Context) (*model.Stats, error) {
	var (
		s                                         model.Stats
		totalBalance, completed, pending, revenue int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE balance > 0),
			(SELECT COALESCE(SUM(balance), 0)::BIGINT FROM users),
			(SELECT COALESCE(SUM(amount), 0)::BIGINT FROM deposits WHERE status = $1),
			(SELECT COUNT(*) FROM deposits WHERE status IN ($2, $3)),
			(SELECT COALESCE(SUM(amount), 0)::BIGINT FROM deposits WHERE status IN ($2, $3)),
			(SELECT COUNT(*) FROM orders),
			(SELECT COALESCE(SUM(total), 0)::BIGINT FROM orders)`,
		string(model.DepositStatusCompleted), string(model.DepositStatusPending), string(model.DepositStatusProofSubmitted),
	).Scan(&s.Users, &s.UsersWithBalance, &totalBalance, &completed, &s.PendingDeposits, &pending, &s.Orders, &revenue)
	if err != nil {
		return nil, storageErr("select stats", err)
	}

	s.TotalUserBalance = money.Money(totalBalance)
	s.CompletedDeposits = money.Money(completed)
	s.PendingDepositTotal = money.Money(pending)
	s.Revenue = money.Money(revenue)

	s.Methods, err = r.depositsByMethod(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return &s, nil
}
