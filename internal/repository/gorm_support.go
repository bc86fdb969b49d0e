package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// CreateTicket сохраняет обращение пользователя в состоянии open.
func (r *GormRepository) CreateTicket(ctx context.Context, nt NewTicket) (*model.Ticket, error) {
	row := ticketRow{
		Number:    nt.Number,
		UserID:    nt.UserID,
		Subject:   nt.Subject,
		Message:   nt.Message,
		Priority:  string(nt.Priority),
		Category:  nt.Category,
		Status:    string(model.TicketStatusOpen),
		CreatedAt: nt.Now,
		UpdatedAt: nt.Now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := first(tx, &userRow{}, "get user", "id = ?", nt.UserID); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return storageErr("insert ticket", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := row.toModel()
	return &t, nil
}

// GetTicket возвращает обращение по идентификатору.
func (r *GormRepository) GetTicket(ctx context.Context, id int64) (*model.Ticket, error) {
	var row ticketRow
	if err := first(r.db.WithContext(ctx), &row, "get ticket", "id = ?", id); err != nil {
		return nil, err
	}
	t := row.toModel()
	return &t, nil
}

// ListTickets возвращает обращения по фильтру, новые первыми.
func (r *GormRepository) ListTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	q := r.db.WithContext(ctx).Model(&ticketRow{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", ticketStatusStrings(f.Statuses))
	}

	var rows []ticketRow
	if err := q.Order("created_at DESC, id DESC").Limit(listLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, storageErr("select tickets", err)
	}

	res := make([]model.Ticket, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

// RespondTicket сохраняет ответ администратора. Открытое обращение переходит в in_progress.
func (r *GormRepository) RespondTicket(ctx context.Context, id, adminID int64, response string, now time.Time) (*model.Ticket, error) {
	var row ticketRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock ticket for update", "id = ?", id); err != nil {
			return err
		}
		status, err := respondedStatus(model.TicketStatus(row.Status))
		if err != nil {
			return err
		}

		row.Status = string(status)
		row.Response = response
		row.RespondedBy = adminID
		row.RespondedAt = &now
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return storageErr("update ticket", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := row.toModel()
	return &t, nil
}

// SetTicketStatus меняет состояние обращения. Закрытое обращение не меняется.
func (r *GormRepository) SetTicketStatus(ctx context.Context, id int64, status model.TicketStatus, now time.Time) (*model.Ticket, error) {
	var row ticketRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock ticket for update", "id = ?", id); err != nil {
			return err
		}
		if model.TicketStatus(row.Status) == model.TicketStatusClosed {
			return ErrAlreadyProcessed
		}

		row.Status = string(status)
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return storageErr("update ticket status", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := row.toModel()
	return &t, nil
}

type methodStatRow struct {
	Method string
	Count  int
	Amount int64
}

func toMethodStats(rows []methodStatRow) []model.MethodStat {
	res := make([]model.MethodStat, 0, len(rows))
	for _, row := range rows {
		res = append(res, model.MethodStat{Method: row.Method, Count: row.Count, Amount: money.Money(row.Amount)})
	}
	return res
}

// completedByMethod группирует подтверждённые пополнения по способу оплаты, крупные суммы первыми.
func completedByMethod(q *gorm.DB) ([]model.MethodStat, error) {
	var rows []methodStatRow
	err := q.Model(&depositRow{}).
		Select("payment_method AS method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("status = ?", string(model.DepositStatusCompleted)).
		Group("payment_method").
		Order("amount DESC, method").
		Scan(&rows).Error
	if err != nil {
		return nil, storageErr("group deposits by method", err)
	}
	return toMethodStats(rows), nil
}

// Revenue агрегирует подтверждённые пополнения и заказы за интервал (from, to].
// Пополнение относится к интервалу по времени подтверждения.
func (r *GormRepository) Revenue(ctx context.Context, from, to time.Time) (*model.Revenue, error) {
	db := r.db.WithContext(ctx)
	res := model.Revenue{From: from, To: to}

	var deposits struct {
		Count  int
		Amount int64
	}
	err := db.Model(&depositRow{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("status = ? AND processed_at > ? AND processed_at <= ?", string(model.DepositStatusCompleted), from, to).
		Scan(&deposits).Error
	if err != nil {
		return nil, storageErr("sum deposits in period", err)
	}
	res.DepositCount = deposits.Count
	res.Deposits = money.Money(deposits.Amount)

	var orders struct {
		Count     int
		Sales     int64
		Discounts int64
		Customers int
	}
	err = db.Model(&orderRow{}).
		Select("COUNT(*) AS count, COALESCE(SUM(total), 0) AS sales, COALESCE(SUM(discount), 0) AS discounts, COUNT(DISTINCT user_id) AS customers").
		Where("created_at > ? AND created_at <= ?", from, to).
		Scan(&orders).Error
	if err != nil {
		return nil, storageErr("sum orders in period", err)
	}
	res.Orders = orders.Count
	res.Sales = money.Money(orders.Sales)
	res.Discounts = money.Money(orders.Discounts)
	res.Customers = orders.Customers

	res.Methods, err = completedByMethod(db.Where("processed_at > ? AND processed_at <= ?", from, to))
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// TopCustomers возвращает покупателей с наибольшей суммой заказов за интервал (from, to].
func (r *GormRepository) TopCustomers(ctx context.Context, from, to time.Time, limit int) ([]model.CustomerStat, error) {
	var rows []struct {
		UserID    int64
		Username  string
		FirstName string
		Orders    int
		Spent     int64
	}
	err := r.db.WithContext(ctx).Table("orders").
		Select("orders.user_id AS user_id, users.username AS username, users.first_name AS first_name, COUNT(*) AS orders, SUM(orders.total) AS spent").
		Joins("JOIN users ON users.id = orders.user_id").
		Where("orders.created_at > ? AND orders.created_at <= ?", from, to).
		Group("orders.user_id, users.username, users.first_name").
		Order("spent DESC, user_id").
		Limit(listLimit(limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, storageErr("select top customers", err)
	}

	res := make([]model.CustomerStat, 0, len(rows))
	for _, row := range rows {
		res = append(res, model.CustomerStat{
			UserID:    row.UserID,
			Username:  row.Username,
			FirstName: row.FirstName,
			Orders:    row.Orders,
			Spent:     money.Money(row.Spent),
		})
	}
	return res, nil
}
