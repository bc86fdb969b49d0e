package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpireStaleDeposits отменяет заявки в статусе pending, по которым не прислано подтверждение
// в течение DepositProofTTL, и возвращает их количество.
func (s *Service) ExpireStaleDeposits(ctx context.Context) (int, error) {
	if s.opts.DepositProofTTL <= 0 {
		return 0, nil
	}

	now := s.now()
	expired, err := s.repo.ExpireDeposits(ctx, now.Add(-s.opts.DepositProofTTL), now)
	if err != nil {
		return 0, err
	}

	for _, d := range expired {
		s.notifier.DepositCancelled(ctx, d)
	}
	if len(expired) > 0 {
		s.logger.Info("stale deposits expired", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// StartDepositExpiry запускает фоновую отмену просроченных заявок. Возвращается сразу;
// цикл завершается вместе с ctx.
func (s *Service) StartDepositExpiry(ctx context.Context) {
	if s.opts.DepositProofTTL <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.opts.ExpiryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ExpireStaleDeposits(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("expire stale deposits", zap.Error(err))
				}
			}
		}
	}()
}
