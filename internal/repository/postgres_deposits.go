package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

const depositColumns = `id, user_id, amount, payment_method, status, proof_file_id, reference, processed_by, note, created_at, updated_at, processed_at`

func scanDeposit(row pgx.Row) (*model.Deposit, error) {
	var (
		d      model.Deposit
		amount int64
		status string
	)
	err := row.Scan(&d.ID, &d.UserID, &amount, &d.PaymentMethod, &status, &d.ProofFileID,
		&d.Reference, &d.ProcessedBy, &d.Note, &d.CreatedAt, &d.UpdatedAt, &d.ProcessedAt)
	if err != nil {
		return nil, err
	}
	d.Amount = money.Money(amount)
	d.Status = model.DepositStatus(status)
	return &d, nil
}

func depositReason(id int64) string {
	return fmt.Sprintf("deposit #%d", id)
}

// CreateDeposit создаёт заявку на пополнение. Для автоматически подтверждаемых способов
// заявка сразу переходит в completed, а сумма зачисляется на баланс.
func (r *PostgresRepository) CreateDeposit(ctx context.Context, nd NewDeposit) (*DepositResult, error) {
	var res *DepositResult
	err := r.inTx(ctx, "create deposit", func(tx pgx.Tx) error {
		balance, err := lockBalance(ctx, tx, nd.UserID)
		if err != nil {
			return err
		}

		status := model.DepositStatusPending
		var processedAt *time.Time
		if nd.AutoComplete {
			status = model.DepositStatusCompleted
			processedAt = &nd.Now
		}

		d, err := scanDeposit(tx.QueryRow(ctx,
			`INSERT INTO deposits (user_id, amount, payment_method, status, created_at, updated_at, processed_at)
			 VALUES ($1, $2, $3, $4, $5, $5, $6)
			 RETURNING `+depositColumns,
			nd.UserID, int64(nd.Amount), nd.PaymentMethod, string(status), nd.Now, processedAt,
		))
		if err != nil {
			return storageErr("insert deposit", err)
		}

		if nd.AutoComplete {
			balance, err = credit(ctx, tx, nd.UserID, d.Amount, depositReason(d.ID), nd.Now)
			if err != nil {
				return err
			}
		}

		res = &DepositResult{Deposit: *d, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetDeposit возвращает заявку по идентификатору.
func (r *PostgresRepository) GetDeposit(ctx context.Context, id int64) (*model.Deposit, error) {
	d, err := scanDeposit(r.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get deposit", err)
	}
	return d, nil
}

// ListDeposits возвращает заявки по фильтру, новые первыми.
func (r *PostgresRepository) ListDeposits(ctx context.Context, f DepositFilter) ([]model.Deposit, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+depositColumns+` FROM deposits
		 WHERE ($1::BIGINT = 0 OR user_id = $1)
		   AND (cardinality($2::TEXT[]) = 0 OR status = ANY($2))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		f.UserID, statusStrings(f.Statuses), limit,
	)
	if err != nil {
		return nil, storageErr("select deposits", err)
	}
	defer rows.Close()

	var res []model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, storageErr("scan deposit", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}

	return res, nil
}

func lockDeposit(ctx context.Context, tx pgx.Tx, id int64) (*model.Deposit, error) {
	d, err := scanDeposit(tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("lock deposit", err)
	}
	return d, nil
}

// SubmitDepositProof прикрепляет подтверждение оплаты к заявке пользователя.
// Заявка другого пользователя считается не найденной.
func (r *PostgresRepository) SubmitDepositProof(ctx context.Context, id, userID int64, proofFileID, reference string, now time.Time) (*model.Deposit, error) {
	var res *model.Deposit
	err := r.inTx(ctx, "submit deposit proof", func(tx pgx.Tx) error {
		d, err := lockDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.UserID != userID {
			return ErrNotFound
		}
		if d.Status != model.DepositStatusPending {
			return ErrAlreadyProcessed
		}

		res, err = scanDeposit(tx.QueryRow(ctx,
			`UPDATE deposits SET status = $2, proof_file_id = $3, reference = $4, updated_at = $5
			 WHERE id = $1 RETURNING `+depositColumns,
			id, string(model.DepositStatusProofSubmitted), proofFileID, reference, now,
		))
		if err != nil {
			return storageErr("update deposit proof", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CompleteDeposit подтверждает заявку и зачисляет сумму на баланс в одной транзакции.
// Повторное подтверждение возвращает ErrAlreadyProcessed и баланс не меняет.
func (r *PostgresRepository) CompleteDeposit(ctx context.Context, id, adminID int64, now time.Time) (*DepositResult, error) {
	var res *DepositResult
	err := r.inTx(ctx, "complete deposit", func(tx pgx.Tx) error {
		d, err := lockDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canComplete(d.Status) {
			return ErrAlreadyProcessed
		}

		d, err = scanDeposit(tx.QueryRow(ctx,
			`UPDATE deposits SET status = $2, processed_by = $3, processed_at = $4, updated_at = $4
			 WHERE id = $1 RETURNING `+depositColumns,
			id, string(model.DepositStatusCompleted), adminID, now,
		))
		if err != nil {
			return storageErr("update deposit status", err)
		}

		balance, err := credit(ctx, tx, d.UserID, d.Amount, depositReason(d.ID), now)
		if err != nil {
			return err
		}

		res = &DepositResult{Deposit: *d, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelDeposit отклоняет незавершённую заявку. Баланс не меняется.
func (r *PostgresRepository) CancelDeposit(ctx context.Context, id, adminID int64, reason string, now time.Time) (*model.Deposit, error) {
	var res *model.Deposit
	err := r.inTx(ctx, "cancel deposit", func(tx pgx.Tx) error {
		d, err := lockDeposit(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			return ErrAlreadyProcessed
		}

		res, err = scanDeposit(tx.QueryRow(ctx,
			`UPDATE deposits SET status = $2, processed_by = $3, note = $4, processed_at = $5, updated_at = $5
			 WHERE id = $1 RETURNING `+depositColumns,
			id, string(model.DepositStatusCancelled), adminID, reason, now,
		))
		if err != nil {
			return storageErr("update deposit status", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExpireDeposits отменяет заявки в статусе pending, созданные раньше createdBefore.
func (r *PostgresRepository) ExpireDeposits(ctx context.Context, createdBefore, now time.Time) ([]model.Deposit, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE deposits SET status = $1, note = $2, processed_at = $3, updated_at = $3
		 WHERE status = $4 AND created_at < $5
		 RETURNING `+depositColumns,
		string(model.DepositStatusCancelled), ExpiredNote, now, string(model.DepositStatusPending), createdBefore,
	)
	if err != nil {
		return nil, storageErr("expire deposits", err)
	}
	defer rows.Close()

	var res []model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, storageErr("scan deposit", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("rows error", err)
	}

	return res, nil
}
