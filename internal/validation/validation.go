// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength ограничивает длину названий товаров, вариантов и категорий.
const MaxNameLength = 64

var (
	voucherCodeRe = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)
	gcashRefRe    = regexp.MustCompile(`^[0-9]{10,15}$`)
	paymayaRefRe  = regexp.MustCompile(`^[0-9A-Z]{10,20}$`)
	slugRe        = regexp.MustCompile(`^[a-z0-9_]{2,32}$`)
)

// IsValidVoucherCode проверяет формат кода ваучера: 3–20 заглавных латинских букв и цифр.
func IsValidVoucherCode(code string) bool {
	return voucherCodeRe.MatchString(code)
}

// IsValidReference проверяет номер транзакции платежа с учётом способа оплаты.
func IsValidReference(method, reference string) bool {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false
	}

	switch method {
	case "gcash":
		return gcashRefRe.MatchString(reference)
	case "paymaya":
		return paymayaRefRe.MatchString(strings.ToUpper(reference))
	default:
		return utf8.RuneCountInString(reference) >= 6
	}
}

// IsValidName проверяет, что название непустое, печатное и не длиннее MaxNameLength.
func IsValidName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// IsValidSlug проверяет идентификатор категории.
func IsValidSlug(s string) bool {
	return slugRe.MatchString(s)
}
