package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/repository"
)

// MaxBroadcastLength ограничивает длину текста рассылки лимитом сообщения Telegram.
const MaxBroadcastLength = 4096

// CreateBroadcast сохраняет рассылку для сегмента.
func (s *Service) CreateBroadcast(ctx context.Context, message string, segment model.Segment, adminID int64) (*model.Broadcast, error) {
	message = strings.TrimSpace(message)
	if message == "" || len([]rune(message)) > MaxBroadcastLength {
		return nil, fmt.Errorf("%w: broadcast message", ErrInvalidInput)
	}
	return s.repo.CreateBroadcast(ctx, model.Broadcast{
		Message:   message,
		Segment:   model.ParseSegment(string(segment)),
		CreatedBy: adminID,
		CreatedAt: s.now(),
	})
}

// Recipients возвращает получателей сегмента. Активными считаются пользователи с заказами за ActiveWindow.
func (s *Service) Recipients(ctx context.Context, segment model.Segment) ([]model.User, error) {
	return s.repo.ListRecipients(ctx, repository.RecipientFilter{
		Segment:      segment,
		ActiveSince:  s.now().Add(-s.opts.ActiveWindow),
		VIPThreshold: s.opts.VIPThreshold,
	})
}

// FinishBroadcast сохраняет итоги рассылки.
func (s *Service) FinishBroadcast(ctx context.Context, id int64, sent, failed int) error {
	return s.repo.FinishBroadcast(ctx, id, sent, failed, s.now())
}
