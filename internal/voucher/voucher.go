// Package voucher реализует проверку промокодов и расчёт скидки.
package voucher

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// Reason описывает причину, по которой ваучер нельзя применить.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonInactive       Reason = "inactive"
	ReasonNotStarted     Reason = "not_started"
	ReasonExpired        Reason = "expired"
	ReasonBelowMinimum   Reason = "below_minimum"
	ReasonUsageExhausted Reason = "usage_exhausted"
)

// ErrInvalid сопоставляется с любой ошибкой InvalidError через errors.Is.
var ErrInvalid = errors.New("invalid voucher")

// InvalidError возвращается, если ваучер не проходит проверку.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("voucher %q: %s", e.Code, e.Reason)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrInvalid).
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

// Invalid создаёт ошибку проверки ваучера.
func Invalid(code string, reason Reason) error {
	return &InvalidError{Code: code, Reason: reason}
}

// ReasonOf извлекает причину отказа из ошибки.
func ReasonOf(err error) (Reason, bool) {
	var ie *InvalidError
	if errors.As(err, &ie) {
		return ie.Reason, true
	}
	return "", false
}

// Normalize приводит код к каноническому виду: без пробелов, в верхнем регистре.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate проверяет применимость ваучера к сумме заказа и возвращает размер скидки.
// Проверки выполняются в порядке: активность, окно действия, минимальная сумма, лимит использований.
// Скидка не превышает сумму заказа.
func Evaluate(v model.Voucher, orderTotal money.Money, now time.Time) (money.Money, error) {
	if !v.IsActive {
		return 0, Invalid(v.Code, ReasonInactive)
	}
	if !v.ValidFrom.IsZero() && now.Before(v.ValidFrom) {
		return 0, Invalid(v.Code, ReasonNotStarted)
	}
	if v.ValidUntil != nil && !now.Before(*v.ValidUntil) {
		return 0, Invalid(v.Code, ReasonExpired)
	}
	if orderTotal < v.MinimumOrder {
		return 0, Invalid(v.Code, ReasonBelowMinimum)
	}
	if v.UsageLimit > 0 && v.UsageCount >= v.UsageLimit {
		return 0, Invalid(v.Code, ReasonUsageExhausted)
	}

	return Discount(v, orderTotal), nil
}

// Discount рассчитывает скидку без проверки условий применимости.
func Discount(v model.Voucher, orderTotal money.Money) money.Money {
	var discount money.Money

	switch v.DiscountType {
	case model.DiscountPercentage:
		discount = orderTotal.Percent(v.DiscountValue)
		if v.MaximumDiscount > 0 {
			discount = money.Min(discount, v.MaximumDiscount)
		}
	default:
		discount = money.Money(v.DiscountValue)
	}

	if discount < 0 {
		return 0
	}
	return money.Min(discount, orderTotal)
}

// Label возвращает краткое описание скидки, например "20% OFF" или "50.00 OFF".
func Label(v model.Voucher) string {
	if v.DiscountType == model.DiscountPercentage {
		return money.Money(v.DiscountValue).String() + "% OFF"
	}
	return money.Money(v.DiscountValue).String() + " OFF"
}

// Без 0/O и 1/I, чтобы коды было проще вводить вручную.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode создаёт случайный код ваучера указанной длины.
func GenerateCode(length int) (string, error) {
	if length < 3 || length > 20 {
		return "", fmt.Errorf("voucher code length %d out of range", length)
	}

	var b strings.Builder
	b.Grow(length)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate voucher code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
