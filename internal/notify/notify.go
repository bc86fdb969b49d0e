// Package notify доставляет уведомления о пополнениях, заказах, остатках и обращениях в Telegram.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/access"
	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/service"
)

// Префиксы callback-данных кнопок модерации заявок.
const (
	CallbackApprove = "dep_ok:"
	CallbackReject  = "dep_no:"
)

// Sender отправляет сообщения Telegram; реализуется *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления пользователям и администраторам. Ошибки доставки только логируются.
type Telegram struct {
	sender   Sender
	policy   *access.Policy
	logger   *zap.Logger
	currency string
}

// NewTelegram создаёт уведомитель.
func NewTelegram(sender Sender, policy *access.Policy, logger *zap.Logger, currency string) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{sender: sender, policy: policy, logger: logger, currency: currency}
}

func (t *Telegram) amount(m money.Money) string {
	return t.currency + m.String()
}

func (t *Telegram) send(c tgbotapi.Chattable, chatID int64, kind string) {
	if _, err := t.sender.Send(c); err != nil {
		t.logger.Warn("notification not delivered",
			zap.String("kind", kind),
			zap.Int64("chatID", chatID),
			zap.Error(err),
		)
	}
}

func (t *Telegram) toAdmins(kind string, build func(chatID int64) tgbotapi.Chattable) {
	for _, id := range t.policy.Admins() {
		t.send(build(id), id, kind)
	}
}

// ModerationKeyboard возвращает кнопки подтверждения и отклонения заявки.
func ModerationKeyboard(depositID int64) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(depositID, 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", CallbackApprove+id),
			tgbotapi.NewInlineKeyboardButtonData("Reject", CallbackReject+id),
		),
	)
}

// DepositProofSubmitted пересылает администраторам подтверждение оплаты с кнопками модерации.
func (t *Telegram) DepositProofSubmitted(_ context.Context, d model.Deposit, u model.User) {
	var b strings.Builder
	fmt.Fprintf(&b, "Deposit #%d awaiting review\n", d.ID)
	fmt.Fprintf(&b, "User: %s (%d)\n", u.DisplayName(), u.ID)
	fmt.Fprintf(&b, "Amount: %s via %s\n", t.amount(d.Amount), d.PaymentMethod)
	if d.Reference != "" {
		fmt.Fprintf(&b, "Reference: %s\n", d.Reference)
	}
	text := b.String()

	t.toAdmins("deposit_proof", func(chatID int64) tgbotapi.Chattable {
		if d.ProofFileID != "" {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(d.ProofFileID))
			photo.Caption = text
			photo.ReplyMarkup = ModerationKeyboard(d.ID)
			return photo
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = ModerationKeyboard(d.ID)
		return msg
	})
}

// DepositCompleted сообщает пользователю о зачислении.
func (t *Telegram) DepositCompleted(_ context.Context, d model.Deposit, balance money.Money) {
	text := fmt.Sprintf("Deposit #%d approved: %s added.\nNew balance: %s",
		d.ID, t.amount(d.Amount), t.amount(balance))
	t.send(tgbotapi.NewMessage(d.UserID, text), d.UserID, "deposit_completed")
}

// DepositCancelled сообщает пользователю об отмене заявки.
func (t *Telegram) DepositCancelled(_ context.Context, d model.Deposit) {
	text := fmt.Sprintf("Deposit #%d for %s was cancelled.", d.ID, t.amount(d.Amount))
	if d.Note != "" {
		text += "\nReason: " + d.Note
	}
	t.send(tgbotapi.NewMessage(d.UserID, text), d.UserID, "deposit_cancelled")
}

// OrderCompleted отправляет пользователю чек.
func (t *Telegram) OrderCompleted(_ context.Context, o model.Order, balance money.Money) {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s completed\n", o.Number)
	fmt.Fprintf(&b, "%s / %s x%d\n", o.ProductName, o.VariantName, o.Quantity)
	fmt.Fprintf(&b, "Subtotal: %s\n", t.amount(o.Subtotal))
	if o.Discount > 0 {
		fmt.Fprintf(&b, "Discount (%s): -%s\n", o.VoucherCode, t.amount(o.Discount))
	}
	fmt.Fprintf(&b, "Total: %s\n", t.amount(o.Total))
	fmt.Fprintf(&b, "Balance: %s", t.amount(balance))
	t.send(tgbotapi.NewMessage(o.UserID, b.String()), o.UserID, "order_completed")
}

// LowStock предупреждает администраторов о заканчивающемся остатке.
func (t *Telegram) LowStock(_ context.Context, v model.Variant) {
	text := fmt.Sprintf("Low stock: variant #%d %q has %d left", v.ID, v.Name, v.Stock)
	t.toAdmins("low_stock", func(chatID int64) tgbotapi.Chattable {
		return tgbotapi.NewMessage(chatID, text)
	})
}

// TicketCreated пересылает администраторам новое обращение в поддержку.
func (t *Telegram) TicketCreated(_ context.Context, tk model.Ticket, u model.User) {
	var b strings.Builder
	fmt.Fprintf(&b, "New support ticket #%d (%s)\n", tk.ID, tk.Number)
	fmt.Fprintf(&b, "User: %s (%d)\n", u.DisplayName(), u.ID)
	fmt.Fprintf(&b, "Priority: %s, category: %s\n", tk.Priority, tk.Category)
	fmt.Fprintf(&b, "Subject: %s\n\n%s\n\n", tk.Subject, tk.Message)
	fmt.Fprintf(&b, "Reply with /reply %d <text>", tk.ID)
	text := b.String()

	t.toAdmins("ticket_created", func(chatID int64) tgbotapi.Chattable {
		return tgbotapi.NewMessage(chatID, text)
	})
}

// TicketAnswered пересылает пользователю ответ поддержки.
func (t *Telegram) TicketAnswered(_ context.Context, tk model.Ticket) {
	text := fmt.Sprintf("Support replied to your ticket %s (%s):\n\n%s", tk.Number, tk.Subject, tk.Response)
	t.send(tgbotapi.NewMessage(tk.UserID, text), tk.UserID, "ticket_answered")
}

var _ service.Notifier = (*Telegram)(nil)
