// Package broadcast рассылает сообщения сегментам пользователей с ограничением параллельности.
package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iwrumi/corebotstore/internal/model"
)

const (
	DefaultConcurrency = 10
	DefaultDelay       = 100 * time.Millisecond
)

// Sender отправляет сообщения Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Store сохраняет рассылки и выбирает получателей.
type Store interface {
	CreateBroadcast(ctx context.Context, message string, segment model.Segment, adminID int64) (*model.Broadcast, error)
	Recipients(ctx context.Context, segment model.Segment) ([]model.User, error)
	FinishBroadcast(ctx context.Context, id int64, sent, failed int) error
}

// Result содержит итоги рассылки.
type Result struct {
	Broadcast  model.Broadcast
	Recipients int
	Sent       int
	Failed     int
}

// Broadcaster выполняет рассылки.
type Broadcaster struct {
	store       Store
	sender      Sender
	logger      *zap.Logger
	concurrency int
	delay       time.Duration
}

// New создаёт Broadcaster. Неположительная параллельность заменяется значением по умолчанию.
func New(store Store, sender Sender, logger *zap.Logger, concurrency int, delay time.Duration) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if delay < 0 {
		delay = 0
	}
	return &Broadcaster{store: store, sender: sender, logger: logger, concurrency: concurrency, delay: delay}
}

// Greeting добавляет к тексту персональное обращение.
func Greeting(u model.User, message string) string {
	return fmt.Sprintf("Hi %s!\n\n%s", u.DisplayName(), message)
}

// Send создаёт рассылку и отправляет её всем получателям сегмента.
// Ошибки доставки отдельным пользователям не прерывают рассылку и учитываются в Failed.
func (b *Broadcaster) Send(ctx context.Context, message string, segment model.Segment, adminID int64) (*Result, error) {
	bc, err := b.store.CreateBroadcast(ctx, message, segment, adminID)
	if err != nil {
		return nil, err
	}

	users, err := b.store.Recipients(ctx, bc.Segment)
	if err != nil {
		if ferr := b.store.FinishBroadcast(context.WithoutCancel(ctx), bc.ID, 0, 0); ferr != nil {
			b.logger.Error("failed to close broadcast", zap.Int64("broadcastID", bc.ID), zap.Error(ferr))
		}
		return nil, err
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, u := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			msg := tgbotapi.NewMessage(u.ID, Greeting(u, bc.Message))
			if _, err := b.sender.Send(msg); err != nil {
				failed.Add(1)
				b.logger.Debug("broadcast message not delivered",
					zap.Int64("broadcastID", bc.ID),
					zap.Int64("userID", u.ID),
					zap.Error(err),
				)
			} else {
				sent.Add(1)
			}
			if b.delay > 0 {
				select {
				case <-gctx.Done():
				case <-time.After(b.delay):
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		Broadcast:  *bc,
		Recipients: len(users),
		Sent:       int(sent.Load()),
		Failed:     int(failed.Load()),
	}
	if err := b.store.FinishBroadcast(context.WithoutCancel(ctx), bc.ID, res.Sent, res.Failed); err != nil {
		return res, err
	}

	b.logger.Info("broadcast finished",
		zap.Int64("broadcastID", bc.ID),
		zap.String("segment", string(bc.Segment)),
		zap.Int("recipients", res.Recipients),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	return res, ctx.Err()
}
