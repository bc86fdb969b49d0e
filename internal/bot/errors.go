package bot

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/service"
	"github.com/iwrumi/corebotstore/internal/voucher"
	"github.com/iwrumi/corebotstore/internal/wizard"
)

var voucherReasons = map[voucher.Reason]string{
	voucher.ReasonNotFound:       "Voucher code not found.",
	voucher.ReasonInactive:       "This voucher is no longer active.",
	voucher.ReasonNotStarted:     "This voucher is not valid yet.",
	voucher.ReasonExpired:        "This voucher has expired.",
	voucher.ReasonBelowMinimum:   "Your order does not reach the voucher's minimum amount.",
	voucher.ReasonUsageExhausted: "This voucher has reached its usage limit.",
}

// errorText переводит ошибку в сообщение для пользователя.
func (b *Bot) errorText(err error) string {
	if reason, ok := voucher.ReasonOf(err); ok {
		if text, ok := voucherReasons[reason]; ok {
			return text
		}
		return "This voucher cannot be used."
	}

	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		return "Insufficient balance. Top up with /deposit."
	case errors.Is(err, repository.ErrOutOfStock):
		return "Sorry, there is not enough stock for this item."
	case errors.Is(err, repository.ErrAlreadyProcessed):
		return "This deposit has already been processed."
	case errors.Is(err, repository.ErrAlreadyExists):
		return "That already exists."
	case errors.Is(err, repository.ErrNotFound):
		return "Not found."
	case errors.Is(err, service.ErrDepositOutOfRange):
		opts := b.svc.Options()
		return fmt.Sprintf("Amount must be a whole number from %s to %s.", b.amount(opts.MinDeposit), b.amount(opts.MaxDeposit))
	case errors.Is(err, service.ErrInvalidAmount):
		detail := strings.TrimPrefix(err.Error(), service.ErrInvalidAmount.Error())
		return "Invalid amount" + detail + "."
	case errors.Is(err, money.ErrInvalidAmount):
		return "That is not a valid amount."
	case errors.Is(err, service.ErrUnknownPaymentMethod):
		return "Unknown payment method."
	case errors.Is(err, service.ErrInvalidQuantity):
		return "Quantity must be a positive whole number."
	case errors.Is(err, service.ErrInvalidReference):
		return "That reference number does not match the payment method."
	case errors.Is(err, service.ErrInvalidInput):
		detail := strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error())
		return "Invalid input" + detail + "."
	case errors.Is(err, wizard.ErrInvalidStep):
		return strings.TrimPrefix(err.Error(), wizard.ErrInvalidStep.Error()+": ")
	}

	b.logger.Error("request failed", zap.Error(err))
	return "Something went wrong. Please try again later."
}

func (b *Bot) replyError(chatID int64, err error) {
	b.reply(chatID, b.errorText(err))
}
