package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// EnsureUser создаёт пользователя при первом обращении и обновляет его профиль при последующих.
func (r *GormRepository) EnsureUser(ctx context.Context, p model.UserProfile, now time.Time) (*model.User, error) {
	row := userRow{
		ID:           p.ID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		CreatedAt:    now,
		LastActivity: now,
	}

	var res userRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_name", "last_activity"}),
		}).Create(&row).Error
		if err != nil {
			return storageErr("upsert user", err)
		}
		return first(tx, &res, "get user", "id = ?", p.ID)
	})
	if err != nil {
		return nil, err
	}

	u := res.toModel()
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *GormRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var row userRow
	if err := first(r.db.WithContext(ctx), &row, "get user", "id = ?", id); err != nil {
		return nil, err
	}
	u := row.toModel()
	return &u, nil
}

func gormInsertLedger(tx *gorm.DB, e model.LedgerEntry) error {
	row := ledgerRow{
		UserID:       e.UserID,
		Kind:         string(e.Kind),
		Amount:       int64(e.Amount),
		BalanceAfter: int64(e.BalanceAfter),
		Reason:       e.Reason,
		CreatedAt:    e.CreatedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return storageErr("insert ledger entry", err)
	}
	return nil
}

// gormCredit зачисляет сумму на заблокированного пользователя.
func gormCredit(tx *gorm.DB, user *userRow, amount money.Money, reason string, now time.Time) (money.Money, error) {
	err := tx.Model(&userRow{}).Where("id = ?", user.ID).Updates(map[string]any{
		"balance":         gorm.Expr("balance + ?", int64(amount)),
		"total_deposited": gorm.Expr("total_deposited + ?", int64(amount)),
	}).Error
	if err != nil {
		return 0, storageErr("credit balance", err)
	}

	balance := money.Money(user.Balance) + amount
	err = gormInsertLedger(tx, model.LedgerEntry{
		UserID:       user.ID,
		Kind:         model.LedgerKindDeposit,
		Amount:       amount,
		BalanceAfter: balance,
		Reason:       reason,
		CreatedAt:    now,
	})
	return balance, err
}

// Debit списывает сумму с баланса пользователя.
func (r *GormRepository) Debit(ctx context.Context, userID int64, amount money.Money, reason string, now time.Time) (money.Money, error) {
	var balance money.Money
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user userRow
		if err := lockFirst(tx, &user, "lock user for update", "id = ?", userID); err != nil {
			return err
		}
		if money.Money(user.Balance) < amount {
			return ErrInsufficientBalance
		}

		err := tx.Model(&userRow{}).Where("id = ?", userID).Updates(map[string]any{
			"balance":     gorm.Expr("balance - ?", int64(amount)),
			"total_spent": gorm.Expr("total_spent + ?", int64(amount)),
		}).Error
		if err != nil {
			return storageErr("debit balance", err)
		}

		balance = money.Money(user.Balance) - amount
		return gormInsertLedger(tx, model.LedgerEntry{
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
func (r *GormRepository) ListLedger(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	var rows []ledgerRow
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(listLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("select ledger", err)
	}

	res := make([]model.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

// CreateDeposit создаёт заявку на пополнение; автоматически подтверждаемая заявка зачисляется сразу.
func (r *GormRepository) CreateDeposit(ctx context.Context, nd NewDeposit) (*DepositResult, error) {
	var res *DepositResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user userRow
		if err := lockFirst(tx, &user, "lock user for update", "id = ?", nd.UserID); err != nil {
			return err
		}

		row := depositRow{
			UserID:        nd.UserID,
			Amount:        int64(nd.Amount),
			PaymentMethod: nd.PaymentMethod,
			Status:        string(model.DepositStatusPending),
			CreatedAt:     nd.Now,
			UpdatedAt:     nd.Now,
		}
		if nd.AutoComplete {
			row.Status = string(model.DepositStatusCompleted)
			processed := nd.Now
			row.ProcessedAt = &processed
		}
		if err := tx.Create(&row).Error; err != nil {
			return storageErr("insert deposit", err)
		}

		balance := money.Money(user.Balance)
		if nd.AutoComplete {
			var err error
			balance, err = gormCredit(tx, &user, nd.Amount, depositReason(row.ID), nd.Now)
			if err != nil {
				return err
			}
		}

		res = &DepositResult{Deposit: row.toModel(), Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetDeposit возвращает заявку по идентификатору.
func (r *GormRepository) GetDeposit(ctx context.Context, id int64) (*model.Deposit, error) {
	var row depositRow
	if err := first(r.db.WithContext(ctx), &row, "get deposit", "id = ?", id); err != nil {
		return nil, err
	}
	d := row.toModel()
	return &d, nil
}

// ListDeposits возвращает заявки по фильтру, новые первыми.
func (r *GormRepository) ListDeposits(ctx context.Context, f DepositFilter) ([]model.Deposit, error) {
	q := r.db.WithContext(ctx).Model(&depositRow{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}

	var rows []depositRow
	if err := q.Order("created_at DESC, id DESC").Limit(listLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, storageErr("select deposits", err)
	}

	res := make([]model.Deposit, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}

func updateDeposit(tx *gorm.DB, row *depositRow, fields map[string]any) error {
	if err := tx.Model(&depositRow{}).Where("id = ?", row.ID).Updates(fields).Error; err != nil {
		return storageErr("update deposit", err)
	}
	return first(tx, row, "reload deposit", "id = ?", row.ID)
}

// SubmitDepositProof прикрепляет подтверждение оплаты к заявке пользователя.
func (r *GormRepository) SubmitDepositProof(ctx context.Context, id, userID int64, proofFileID, reference string, now time.Time) (*model.Deposit, error) {
	var row depositRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock deposit", "id = ?", id); err != nil {
			return err
		}
		if row.UserID != userID {
			return ErrNotFound
		}
		if model.DepositStatus(row.Status) != model.DepositStatusPending {
			return ErrAlreadyProcessed
		}

		return updateDeposit(tx, &row, map[string]any{
			"status":        string(model.DepositStatusProofSubmitted),
			"proof_file_id": proofFileID,
			"reference":     reference,
			"updated_at":    now,
		})
	})
	if err != nil {
		return nil, err
	}
	d := row.toModel()
	return &d, nil
}

// CompleteDeposit подтверждает заявку и зачисляет сумму на баланс в одной транзакции.
// Заявка блокируется раньше пользователя, как и в PostgresRepository.
func (r *GormRepository) CompleteDeposit(ctx context.Context, id, adminID int64, now time.Time) (*DepositResult, error) {
	var res *DepositResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row depositRow
		if err := lockFirst(tx, &row, "lock deposit", "id = ?", id); err != nil {
			return err
		}
		if !canComplete(model.DepositStatus(row.Status)) {
			return ErrAlreadyProcessed
		}

		var user userRow
		if err := lockFirst(tx, &user, "lock user for update", "id = ?", row.UserID); err != nil {
			return err
		}

		err := updateDeposit(tx, &row, map[string]any{
			"status":       string(model.DepositStatusCompleted),
			"processed_by": adminID,
			"processed_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}

		balance, err := gormCredit(tx, &user, money.Money(row.Amount), depositReason(row.ID), now)
		if err != nil {
			return err
		}

		res = &DepositResult{Deposit: row.toModel(), Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelDeposit отклоняет незавершённую заявку.
func (r *GormRepository) CancelDeposit(ctx context.Context, id, adminID int64, reason string, now time.Time) (*model.Deposit, error) {
	var row depositRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockFirst(tx, &row, "lock deposit", "id = ?", id); err != nil {
			return err
		}
		if model.DepositStatus(row.Status).Terminal() {
			return ErrAlreadyProcessed
		}

		return updateDeposit(tx, &row, map[string]any{
			"status":       string(model.DepositStatusCancelled),
			"processed_by": adminID,
			"note":         reason,
			"processed_at": now,
			"updated_at":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	d := row.toModel()
	return &d, nil
}

// ExpireDeposits отменяет заявки в статусе pending, созданные раньше createdBefore.
func (r *GormRepository) ExpireDeposits(ctx context.Context, createdBefore, now time.Time) ([]model.Deposit, error) {
	var rows []depositRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND created_at < ?", string(model.DepositStatusPending), createdBefore).
			Order("id").
			Find(&rows).Error
		if err != nil {
			return storageErr("select stale deposits", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}

		err = tx.Model(&depositRow{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":       string(model.DepositStatusCancelled),
			"note":         ExpiredNote,
			"processed_at": now,
			"updated_at":   now,
		}).Error
		if err != nil {
			return storageErr("expire deposits", err)
		}
		if err := tx.Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
			return storageErr("reload expired deposits", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := make([]model.Deposit, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toModel())
	}
	return res, nil
}
