package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/validation"
)

// ValidateDepositAmount проверяет сумму пополнения: целое число единиц в пределах [MinDeposit, MaxDeposit].
func (s *Service) ValidateDepositAmount(amount money.Money) error {
	if amount <= 0 || !amount.IsWhole() {
		return fmt.Errorf("%w: %s is not a positive whole amount", ErrDepositOutOfRange, amount)
	}
	if s.opts.MinDeposit > 0 && amount < s.opts.MinDeposit {
		return fmt.Errorf("%w: minimum deposit is %s", ErrDepositOutOfRange, s.opts.MinDeposit)
	}
	if s.opts.MaxDeposit > 0 && amount > s.opts.MaxDeposit {
		return fmt.Errorf("%w: maximum deposit is %s", ErrDepositOutOfRange, s.opts.MaxDeposit)
	}
	return nil
}

// CreateDeposit создаёт заявку на пополнение. Для способов с автоматическим подтверждением
// заявка сразу завершается и сумма зачисляется на баланс.
func (s *Service) CreateDeposit(ctx context.Context, userID int64, amount money.Money, methodID string) (*repository.DepositResult, error) {
	if err := s.ValidateDepositAmount(amount); err != nil {
		return nil, err
	}

	method, ok := s.payments.Lookup(methodID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, methodID)
	}
	if method.MinOrder > 0 && amount < method.MinOrder {
		return nil, fmt.Errorf("%w: %s requires at least %s", ErrInvalidAmount, method.Name, method.MinOrder)
	}

	res, err := s.repo.CreateDeposit(ctx, repository.NewDeposit{
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: method.ID,
		AutoComplete:  method.AutoVerify,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit created",
		zap.Int64("depositID", res.Deposit.ID),
		zap.Int64("userID", userID),
		zap.String("amount", amount.String()),
		zap.String("method", method.ID),
		zap.String("status", string(res.Deposit.Status)),
	)

	if res.Deposit.Status == model.DepositStatusCompleted {
		s.notifier.DepositCompleted(ctx, res.Deposit, res.Balance)
	}
	return res, nil
}

// SubmitProof прикрепляет к заявке подтверждение оплаты и уведомляет администраторов.
// Номер транзакции необязателен, но если указан, должен соответствовать формату способа оплаты.
func (s *Service) SubmitProof(ctx context.Context, userID, depositID int64, proofFileID, reference string) (*model.Deposit, error) {
	proofFileID = strings.TrimSpace(proofFileID)
	reference = strings.TrimSpace(reference)
	if proofFileID == "" && reference == "" {
		return nil, fmt.Errorf("%w: proof or reference required", ErrInvalidInput)
	}

	if reference != "" {
		d, err := s.repo.GetDeposit(ctx, depositID)
		if err != nil {
			return nil, err
		}
		if d.UserID != userID {
			return nil, repository.ErrNotFound
		}
		if !validation.IsValidReference(d.PaymentMethod, reference) {
			return nil, ErrInvalidReference
		}
	}

	d, err := s.repo.SubmitDepositProof(ctx, depositID, userID, proofFileID, reference, s.now())
	if err != nil {
		return nil, err
	}

	if u, err := s.repo.GetUser(ctx, userID); err == nil {
		s.notifier.DepositProofSubmitted(ctx, *d, *u)
	} else {
		s.logger.Warn("load user for proof notification", zap.Int64("userID", userID), zap.Error(err))
	}
	return d, nil
}

// ApproveDeposit подтверждает заявку и зачисляет сумму на баланс ровно один раз.
func (s *Service) ApproveDeposit(ctx context.Context, depositID, adminID int64) (*repository.DepositResult, error) {
	res, err := s.repo.CompleteDeposit(ctx, depositID, adminID, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit approved",
		zap.Int64("depositID", depositID),
		zap.Int64("adminID", adminID),
		zap.Int64("userID", res.Deposit.UserID),
		zap.String("amount", res.Deposit.Amount.String()),
	)
	s.notifier.DepositCompleted(ctx, res.Deposit, res.Balance)
	return res, nil
}

// RejectDeposit отменяет заявку без изменения баланса.
func (s *Service) RejectDeposit(ctx context.Context, depositID, adminID int64, reason string) (*model.Deposit, error) {
	d, err := s.repo.CancelDeposit(ctx, depositID, adminID, strings.TrimSpace(reason), s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit rejected",
		zap.Int64("depositID", depositID),
		zap.Int64("adminID", adminID),
		zap.String("reason", d.Note),
	)
	s.notifier.DepositCancelled(ctx, *d)
	return d, nil
}

// GetDeposit возвращает заявку по идентификатору.
func (s *Service) GetDeposit(ctx context.Context, id int64) (*model.Deposit, error) {
	return s.repo.GetDeposit(ctx, id)
}

// PendingDeposits возвращает заявки, ожидающие решения администратора.
func (s *Service) PendingDeposits(ctx context.Context, limit int) ([]model.Deposit, error) {
	return s.repo.ListDeposits(ctx, repository.DepositFilter{
		Statuses: []model.DepositStatus{model.DepositStatusProofSubmitted, model.DepositStatusPending},
		Limit:    limit,
	})
}

// ListDeposits возвращает заявки по фильтру.
func (s *Service) ListDeposits(ctx context.Context, f repository.DepositFilter) ([]model.Deposit, error) {
	return s.repo.ListDeposits(ctx, f)
}

// UserDeposits возвращает заявки пользователя.
func (s *Service) UserDeposits(ctx context.Context, userID int64, limit int) ([]model.Deposit, error) {
	return s.repo.ListDeposits(ctx, repository.DepositFilter{UserID: userID, Limit: limit})
}

// LatestOpenDeposit возвращает последнюю заявку пользователя в статусе pending.
func (s *Service) LatestOpenDeposit(ctx context.Context, userID int64) (*model.Deposit, error) {
	deposits, err := s.repo.ListDeposits(ctx, repository.DepositFilter{
		UserID:   userID,
		Statuses: []model.DepositStatus{model.DepositStatusPending},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(deposits) == 0 {
		return nil, repository.ErrNotFound
	}
	return &deposits[0], nil
}
