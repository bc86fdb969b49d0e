// Package money описывает денежные суммы в минимальных единицах валюты.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale: количество минимальных единиц в одной единице валюты.
const Scale = 100

var (
	// ErrInvalidAmount возвращается, если сумму невозможно разобрать.
	ErrInvalidAmount = errors.New("invalid money amount")
	// ErrOverflow возвращается, если результат не помещается в Money.
	ErrOverflow = errors.New("money amount overflow")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Money хранит сумму в минимальных единицах (сентаво, копейки).
type Money int64

// FromUnits создаёт сумму из целого числа единиц валюты.
func FromUnits(units int64) Money {
	return Money(units * Scale)
}

// Parse разбирает сумму вида "100", "100.5" или "1,000.50".
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrInvalidAmount, s)
	}

	if minor.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}

	return Money(minor.IntPart()), nil
}

// MustParse разбирает сумму и паникует при ошибке. Используется для констант и тестов.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String форматирует сумму с двумя знаками после точки.
func (m Money) String() string {
	return decimal.New(int64(m), -2).StringFixed(2)
}

// IsWhole сообщает, что сумма не содержит дробной части.
func (m Money) IsWhole() bool {
	return m%Scale == 0
}

// Units возвращает целую часть суммы в единицах валюты.
func (m Money) Units() int64 {
	return int64(m) / Scale
}

// Percent возвращает долю суммы, заданную в сотых долях процента (2000 = 20%), с округлением вниз.
func (m Money) Percent(hundredths int64) Money {
	share := decimal.NewFromInt(int64(m)).Mul(decimal.NewFromInt(hundredths)).Shift(-4).Floor()
	if share.Abs().GreaterThan(maxMinor) {
		return m
	}
	return Money(share.IntPart())
}

// Times умножает сумму на неотрицательное количество.
func (m Money) Times(qty int64) (Money, error) {
	if qty < 0 || m < 0 {
		return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, m, qty)
	}
	if m != 0 && qty > math.MaxInt64/int64(m) {
		return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, m, qty)
	}
	return m * Money(qty), nil
}

// PercentChange возвращает изменение от from к to в процентах с точностью до десятых.
// При нулевом from изменение не определено.
func PercentChange(from, to Money) (decimal.Decimal, bool) {
	if from == 0 {
		return decimal.Zero, false
	}
	base := decimal.NewFromInt(int64(from))
	diff := decimal.NewFromInt(int64(to)).Sub(base)
	return diff.Mul(decimal.NewFromInt(100)).Div(base.Abs()).Round(1), true
}

// Min возвращает меньшую из сумм.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// UnmarshalText позволяет читать суммы из переменных окружения и YAML.
func (m *Money) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText сериализует сумму в текстовом виде.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
