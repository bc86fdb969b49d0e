package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/support"
)

// CreateTicket регистрирует обращение в поддержку и уведомляет администраторов.
// Категория определяется по тексту обращения.
func (s *Service) CreateTicket(ctx context.Context, userID int64, subject, message string, priority model.TicketPriority) (*model.Ticket, error) {
	subject, message = strings.TrimSpace(subject), strings.TrimSpace(message)
	if n := utf8.RuneCountInString(subject); n < model.MinTicketSubject || n > model.MaxTicketSubject {
		return nil, fmt.Errorf("%w: subject must be %d-%d characters", ErrInvalidInput, model.MinTicketSubject, model.MaxTicketSubject)
	}
	if n := utf8.RuneCountInString(message); n < model.MinTicketMessage || n > model.MaxTicketMessage {
		return nil, fmt.Errorf("%w: message must be %d-%d characters", ErrInvalidInput, model.MinTicketMessage, model.MaxTicketMessage)
	}
	priority, ok := model.ParseTicketPriority(string(priority))
	if !ok {
		return nil, fmt.Errorf("%w: unknown priority", ErrInvalidInput)
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t, err := s.repo.CreateTicket(ctx, repository.NewTicket{
		Number:   newTicketNumber(now),
		UserID:   userID,
		Subject:  subject,
		Message:  message,
		Priority: priority,
		Category: support.Categorize(subject + " " + message),
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("support ticket created",
		zap.String("ticket", t.Number),
		zap.Int64("userID", userID),
		zap.String("priority", string(t.Priority)),
		zap.String("category", t.Category),
	)
	s.notifier.TicketCreated(ctx, *t, *user)
	return t, nil
}

// Tickets возвращает обращения пользователя, новые первыми.
func (s *Service) Tickets(ctx context.Context, userID int64, limit int) ([]model.Ticket, error) {
	return s.repo.ListTickets(ctx, repository.TicketFilter{UserID: userID, Limit: limit})
}

// PendingTickets возвращает обращения, ожидающие ответа.
func (s *Service) PendingTickets(ctx context.Context, limit int) ([]model.Ticket, error) {
	return s.repo.ListTickets(ctx, repository.TicketFilter{
		Statuses: []model.TicketStatus{model.TicketStatusOpen, model.TicketStatusInProgress},
		Limit:    limit,
	})
}

// Ticket возвращает обращение по идентификатору.
func (s *Service) Ticket(ctx context.Context, id int64) (*model.Ticket, error) {
	return s.repo.GetTicket(ctx, id)
}

// RespondTicket сохраняет ответ администратора и пересылает его пользователю.
func (s *Service) RespondTicket(ctx context.Context, id, adminID int64, response string) (*model.Ticket, error) {
	response = strings.TrimSpace(response)
	if response == "" || utf8.RuneCountInString(response) > model.MaxTicketResponse {
		return nil, fmt.Errorf("%w: response must be 1-%d characters", ErrInvalidInput, model.MaxTicketResponse)
	}

	t, err := s.repo.RespondTicket(ctx, id, adminID, response, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("support ticket answered",
		zap.String("ticket", t.Number),
		zap.Int64("adminID", adminID),
	)
	s.notifier.TicketAnswered(ctx, *t)
	return t, nil
}

// SetTicketStatus меняет состояние обращения.
func (s *Service) SetTicketStatus(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error) {
	st, ok := model.ParseTicketStatus(string(status))
	if !ok {
		return nil, fmt.Errorf("%w: unknown ticket status %q", ErrInvalidInput, status)
	}

	t, err := s.repo.SetTicketStatus(ctx, id, st, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("support ticket status changed",
		zap.String("ticket", t.Number),
		zap.String("status", string(t.Status)),
	)
	return t, nil
}

func newTicketNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "TK-" + now.Format("20060102") + "-" + suffix
}
