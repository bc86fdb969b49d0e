package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 50

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if i == len(delays) || !isRetryable(err) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryable сообщает, что транзакцию можно повторить: конфликт сериализации, взаимоблокировка или обрыв соединения.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// inTx выполняет fn в транзакции с повтором при конфликтах.
func (r *PostgresRepository) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return storageErr(op+": begin tx", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return storageErr(op+": commit tx", err)
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, username, first_name, last_name, balance, total_deposited, total_spent, order_count, is_banned, created_at, last_activity`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u                         model.User
		balance, deposited, spent int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName,
		&balance, &deposited, &spent, &u.OrderCount, &u.IsBanned, &u.CreatedAt, &u.LastActivity)
	if err != nil {
		return nil, err
	}
	u.Balance = money.Money(balance)
	u.TotalDeposited = money.Money(deposited)
	u.TotalSpent = money.Money(spent)
	return &u, nil
}

// EnsureUser создаёт пользователя при первом обращении и обновляет его профиль при последующих.
func (r *PostgresRepository) EnsureUser(ctx context.Context, p model.UserProfile, now time.Time) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, first_name, last_name, created_at, last_activity)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			last_activity = EXCLUDED.last_activity
		 RETURNING `+userColumns,
		p.ID, p.Username, p.FirstName, p.LastName, now,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, storageErr("ensure user", err)
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get user", err)
	}
	return u, nil
}

// lockBalance блокирует строку пользователя и возвращает текущий баланс.
func lockBalance(ctx context.Context, q querier, userID int64) (money.Money, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, storageErr("lock user for update", err)
	}
	return money.Money(balance), nil
}

func insertLedger(ctx context.Context, q querier, e model.LedgerEntry) error {
	_, err := q.Exec(ctx,
		`INSERT INTO ledger_entries (user_id, kind, amount, balance_after, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.UserID, string(e.Kind), int64(e.Amount), int64(e.BalanceAfter), e.Reason, e.CreatedAt,
	)
	if err != nil {
		return storageErr("insert ledger entry", err)
	}
	return nil
}

// credit зачисляет сумму на баланс и увеличивает сумму пополнений.
func credit(ctx context.Context, q querier, userID int64, amount money.Money, reason string, now time.Time) (money.Money, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2, total_deposited = total_deposited + $2
		 WHERE id = $1 RETURNING balance`,
		userID, int64(amount),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, storageErr("credit balance", err)
	}

	err = insertLedger(ctx, q, model.LedgerEntry{
		UserID:       userID,
		Kind:         model.LedgerKindDeposit,
		Amount:       amount,
		BalanceAfter: money.Money(balance),
		Reason:       reason,
		CreatedAt:    now,
	})
	return money.Money(balance), err
}

// Debit списывает сумму с баланса пользователя. Использует блокировку строки пользователя для сериализации списаний.
func (r *PostgresRepository) Debit(ctx context.Context, userID int64, amount money.Money, reason string, now time.Time) (money.Money, error) {
	var balance money.Money
	err := r.inTx(ctx, "debit", func(tx pgx.Tx) error {
		current, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current < amount {
			return ErrInsufficientBalance
		}

		var after int64
		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance - $2, total_spent = total_spent + $2
			 WHERE id = $1 RETURNING balance`,
			userID, int64(amount),
		).Scan(&after)
		if err != nil {
			return storageErr("debit balance", err)
		}
		balance = money.Money(after)

		return insertLedger(ctx, tx, model.LedgerEntry{
			UserID:       userID,
			Kind:         model.LedgerKindDebit,
			Amount:       -amount,
			BalanceAfter: balance,
			Reason:       reason,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListLedger возвращает историю движений по балансу пользователя, новые записи первыми.
func (r *PostgresRepository) ListLedger(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, kind, amount, balance_after, reason, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, storageErr("select ledger", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e             model.LedgerEntry
			kind          string
			amount, after int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &amount, &after, &e.Reason, &e.CreatedAt); err != nil {
			return nil, storageErr("scan ledger entry", err)
		}
		e.Kind = model.LedgerKind(kind)
		e.Amount = money.Money(amount)
		e.BalanceAfter = money.Money(after)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}

	return res, nil
}
