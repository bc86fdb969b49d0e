package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/notify"
)

// Префиксы callback-данных кнопок.
const (
	cbAmount   = "amt:"
	cbMethod   = "pay:"
	cbCategory = "cat:"
	cbProduct  = "prod:"
	cbBuy      = "buy:"
)

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.logger.Debug("failed to answer callback", zap.Error(err))
	}
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return
	}
	chatID := q.Message.Chat.ID

	user := b.register(ctx, chatID, q.From)
	if user == nil {
		return
	}

	data := q.Data
	switch {
	case strings.HasPrefix(data, cbAmount):
		amount, err := money.Parse(strings.TrimPrefix(data, cbAmount))
		if err != nil {
			return
		}
		b.offerMethods(chatID, amount)

	case strings.HasPrefix(data, cbMethod):
		raw, method, ok := strings.Cut(strings.TrimPrefix(data, cbMethod), ":")
		if !ok {
			return
		}
		amount, err := money.Parse(raw)
		if err != nil {
			return
		}
		b.createDeposit(ctx, chatID, user.ID, amount, method)

	case strings.HasPrefix(data, cbCategory):
		b.showProducts(ctx, chatID, strings.TrimPrefix(data, cbCategory))

	case strings.HasPrefix(data, cbProduct):
		if id, ok := parseID(data, cbProduct); ok {
			b.showVariants(ctx, chatID, id)
		}

	case strings.HasPrefix(data, cbBuy):
		if id, ok := parseID(data, cbBuy); ok {
			b.purchase(ctx, chatID, user.ID, id, 1, "")
		}

	case strings.HasPrefix(data, notify.CallbackApprove):
		if id, ok := parseID(data, notify.CallbackApprove); ok && b.policy.IsAdmin(user.ID) {
			b.approve(ctx, chatID, user.ID, id)
		}

	case strings.HasPrefix(data, notify.CallbackReject):
		if id, ok := parseID(data, notify.CallbackReject); ok && b.policy.IsAdmin(user.ID) {
			b.rejectDeposit(ctx, chatID, user.ID, id, "")
		}
	}
}

func parseID(data, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	return id, err == nil && id > 0
}
