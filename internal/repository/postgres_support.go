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

const ticketColumns = `id, number, user_id, subject, message, priority, category, status, response, responded_by, responded_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		t                model.Ticket
		priority, status string
	)
	err := row.Scan(&t.ID, &t.Number, &t.UserID, &t.Subject, &t.Message, &priority, &t.Category,
		&status, &t.Response, &t.RespondedBy, &t.RespondedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = model.TicketPriority(priority)
	t.Status = model.TicketStatus(status)
	return &t, nil
}

// CreateTicket сохраняет обращение пользователя в состоянии open.
func (r *PostgresRepository) CreateTicket(ctx context.Context, nt NewTicket) (*model.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx,
		`INSERT INTO tickets (number, user_id, subject, message, priority, category, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING `+ticketColumns,
		nt.Number, nt.UserID, nt.Subject, nt.Message, string(nt.Priority), nt.Category,
		string(model.TicketStatusOpen), nt.Now,
	))
	switch {
	case isPgCode(err, pgerrcode.ForeignKeyViolation):
		return nil, ErrNotFound
	case isPgCode(err, pgerrcode.UniqueViolation):
		return nil, ErrAlreadyExists
	case err != nil:
		return nil, storageErr("insert ticket", err)
	}
	return t, nil
}

// GetTicket возвращает обращение по идентификатору.
func (r *PostgresRepository) GetTicket(ctx context.Context, id int64) (*model.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get ticket", err)
	}
	return t, nil
}

// ListTickets возвращает обращения по фильтру, новые первыми.
func (r *PostgresRepository) ListTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE ($1::BIGINT = 0 OR user_id = $1)
		   AND (cardinality($2::TEXT[]) = 0 OR status = ANY($2))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		f.UserID, ticketStatusStrings(f.Statuses), listLimit(f.Limit),
	)
	if err != nil {
		return nil, storageErr("select tickets", err)
	}
	defer rows.Close()

	var res []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, storageErr("scan ticket", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

func lockTicket(ctx context.Context, tx pgx.Tx, id int64) (*model.Ticket, error) {
	t, err := scanTicket(tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("lock ticket", err)
	}
	return t, nil
}

// RespondTicket сохраняет ответ администратора. Открытое обращение переходит в in_progress.
func (r *PostgresRepository) RespondTicket(ctx context.Context, id, adminID int64, response string, now time.Time) (*model.Ticket, error) {
	var res *model.Ticket
	err := r.inTx(ctx, "respond ticket", func(tx pgx.Tx) error {
		t, err := lockTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		status, err := respondedStatus(t.Status)
		if err != nil {
			return err
		}

		res, err = scanTicket(tx.QueryRow(ctx,
			`UPDATE tickets
			 SET status = $2, response = $3, responded_by = $4, responded_at = $5, updated_at = $5
			 WHERE id = $1
			 RETURNING `+ticketColumns,
			id, string(status), response, adminID, now,
		))
		if err != nil {
			return storageErr("update ticket", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetTicketStatus меняет состояние обращения. Закрытое обращение не меняется.
func (r *PostgresRepository) SetTicketStatus(ctx context.Context, id int64, status model.TicketStatus, now time.Time) (*model.Ticket, error) {
	var res *model.Ticket
	err := r.inTx(ctx, "set ticket status", func(tx pgx.Tx) error {
		t, err := lockTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status == model.TicketStatusClosed {
			return ErrAlreadyProcessed
		}

		res, err = scanTicket(tx.QueryRow(ctx,
			`UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+ticketColumns,
			id, string(status), now,
		))
		if err != nil {
			return storageErr("update ticket status", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// depositsByMethod группирует подтверждённые пополнения по способу оплаты.
// Нулевые from и to означают всё время.
func (r *PostgresRepository) depositsByMethod(ctx context.Context, from, to time.Time) ([]model.MethodStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT payment_method, COUNT(*), COALESCE(SUM(amount), 0)::BIGINT AS total
		 FROM deposits
		 WHERE status = $1
		   AND ($2::TIMESTAMPTZ IS NULL OR processed_at > $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR processed_at <= $3)
		 GROUP BY payment_method
		 ORDER BY total DESC, payment_method`,
		string(model.DepositStatusCompleted), nullTime(from), nullTime(to),
	)
	if err != nil {
		return nil, storageErr("group deposits by method", err)
	}
	defer rows.Close()

	res := []model.MethodStat{}
	for rows.Next() {
		var (
			m      model.MethodStat
			amount int64
		)
		if err := rows.Scan(&m.Method, &m.Count, &amount); err != nil {
			return nil, storageErr("scan method stat", err)
		}
		m.Amount = money.Money(amount)
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Revenue агрегирует подтверждённые пополнения и заказы за интервал (from, to].
// Пополнение относится к интервалу по времени подтверждения.
func (r *PostgresRepository) Revenue(ctx context.Context, from, to time.Time) (*model.Revenue, error) {
	res := model.Revenue{From: from, To: to}
	var deposits, sales, discounts int64
	err := r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM deposits WHERE status = $1 AND processed_at > $2 AND processed_at <= $3),
			(SELECT COALESCE(SUM(amount), 0)::BIGINT FROM deposits WHERE status = $1 AND processed_at > $2 AND processed_at <= $3),
			COUNT(*),
			COALESCE(SUM(total), 0)::BIGINT,
			COALESCE(SUM(discount), 0)::BIGINT,
			COUNT(DISTINCT user_id)
		 FROM orders
		 WHERE created_at > $2 AND created_at <= $3`,
		string(model.DepositStatusCompleted), from, to,
	).Scan(&res.DepositCount, &deposits, &res.Orders, &sales, &discounts, &res.Customers)
	if err != nil {
		return nil, storageErr("select revenue", err)
	}
	res.Deposits = money.Money(deposits)
	res.Sales = money.Money(sales)
	res.Discounts = money.Money(discounts)

	res.Methods, err = r.depositsByMethod(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// TopCustomers возвращает покупателей с наибольшей суммой заказов за интервал (from, to].
func (r *PostgresRepository) TopCustomers(ctx context.Context, from, to time.Time, limit int) ([]model.CustomerStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.user_id, u.username, u.first_name, COUNT(*), SUM(o.total)::BIGINT AS spent
		 FROM orders o
		 JOIN users u ON u.id = o.user_id
		 WHERE o.created_at > $1 AND o.created_at <= $2
		 GROUP BY o.user_id, u.username, u.first_name
		 ORDER BY spent DESC, o.user_id
		 LIMIT $3`,
		from, to, listLimit(limit),
	)
	if err != nil {
		return nil, storageErr("select top customers", err)
	}
	defer rows.Close()

	var res []model.CustomerStat
	for rows.Next() {
		var (
			c     model.CustomerStat
			spent int64
		)
		if err := rows.Scan(&c.UserID, &c.Username, &c.FirstName, &c.Orders, &spent); err != nil {
			return nil, storageErr("scan customer stat", err)
		}
		c.Spent = money.Money(spent)
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}
	return res, nil
}
