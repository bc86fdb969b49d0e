package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iwrumi/corebotstore/internal/access"
	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

type fakeSender struct {
	sent    []tgbotapi.Chattable
	failFor map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		if f.failFor[m.ChatID] {
			return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
		}
	case tgbotapi.PhotoConfig:
		if f.failFor[m.ChatID] {
			return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
		}
	}
	return tgbotapi.Message{}, nil
}

func TestProofGoesToEveryAdminWithModerationButtons(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, access.NewPolicy([]int64{20, 10}), nil, "₱")

	n.DepositProofSubmitted(context.Background(),
		model.Deposit{ID: 7, UserID: 1, Amount: money.FromUnits(100), PaymentMethod: "gcash", ProofFileID: "file-1"},
		model.User{ID: 1, FirstName: "Ana"},
	)

	require.Len(t, sender.sent, 2)
	photo, ok := sender.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(10), photo.ChatID)
	assert.Contains(t, photo.Caption, "Deposit #7")
	assert.Contains(t, photo.Caption, "₱100.00")

	kb, ok := photo.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, CallbackApprove+"7", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, CallbackReject+"7", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestProofWithoutPhotoSendsText(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, access.NewPolicy([]int64{10}), nil, "₱")

	n.DepositProofSubmitted(context.Background(),
		model.Deposit{ID: 3, UserID: 1, Amount: money.FromUnits(50), PaymentMethod: "gcash", Reference: "09171234567"},
		model.User{ID: 1},
	)

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(t, msg.Text, "Reference: 09171234567")
}

func TestDeliveryFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sender := &fakeSender{failFor: map[int64]bool{1: true}}
	n := NewTelegram(sender, access.NewPolicy(nil), zap.New(core), "₱")

	n.OrderCompleted(context.Background(), model.Order{
		Number: "ORD-1", UserID: 1, ProductName: "Netflix", VariantName: "1 Month", Quantity: 1,
		Subtotal: money.FromUnits(100), Discount: money.FromUnits(20), Total: money.FromUnits(80), VoucherCode: "SAVE20",
	}, money.FromUnits(20))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.True(t, strings.Contains(msg.Text, "Discount (SAVE20): -₱20.00"))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notification not delivered", logs.All()[0].Message)
}

func TestCancelledIncludesReason(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, access.NewPolicy(nil), nil, "$")

	n.DepositCancelled(context.Background(), model.Deposit{ID: 2, UserID: 5, Amount: money.FromUnits(20), Note: "expired"})

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(5), msg.ChatID)
	assert.Contains(t, msg.Text, "Reason: expired")
}

func TestTicketCreatedGoesToAdmins(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, access.NewPolicy([]int64{10, 20}), nil, "₱")

	n.TicketCreated(context.Background(),
		model.Ticket{ID: 4, Number: "TK-20250310-ABCDEF", UserID: 1, Subject: "Missing deposit", Message: "Paid yesterday",
			Priority: model.TicketPriorityHigh, Category: "payments"},
		model.User{ID: 1, FirstName: "Ana"},
	)

	require.Len(t, sender.sent, 2)
	msg, ok := sender.sent[1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(20), msg.ChatID)
	assert.Contains(t, msg.Text, "TK-20250310-ABCDEF")
	assert.Contains(t, msg.Text, "Ana (1)")
	assert.Contains(t, msg.Text, "Priority: high")
	assert.Contains(t, msg.Text, "/reply 4")
}

func TestTicketAnsweredGoesToUser(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, access.NewPolicy([]int64{10}), nil, "₱")

	n.TicketAnswered(context.Background(), model.Ticket{
		Number: "TK-1", UserID: 5, Subject: "Login", Response: "Password reset sent.",
	})

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(5), msg.ChatID)
	assert.True(t, strings.HasSuffix(msg.Text, "Password reset sent."))
}
