package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/validation"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

// Названия мастеров.
const (
	FlowNewVoucher = "new_voucher"
	FlowNewProduct = "new_product"
	FlowNewVariant = "new_variant"
	FlowBroadcast  = "broadcast"
	FlowTicket     = "ticket"
)

// Ключи шагов.
const (
	KeyCode        = "code"
	KeyName        = "name"
	KeyType        = "type"
	KeyValue       = "value"
	KeyMinOrder    = "min_order"
	KeyMaxDiscount = "max_discount"
	KeyUsageLimit  = "usage_limit"
	KeyValidDays   = "valid_days"
	KeyCategory    = "category"
	KeyDescription = "description"
	KeyProduct     = "product"
	KeyPrice       = "price"
	KeyStock       = "stock"
	KeySegment     = "segment"
	KeyMessage     = "message"
	KeySubject     = "subject"
	KeyPriority    = "priority"
)

// MaxMessageLength ограничивает длину текста рассылки.
const MaxMessageLength = 4096

// NewVoucherFlow собирает параметры ваучера. Значение процентной скидки вводится в процентах
// с точностью до сотых и хранится в сотых долях процента.
func NewVoucherFlow() Flow {
	return Flow{Name: FlowNewVoucher, Steps: []Step{
		{Key: KeyCode, Prompt: "Voucher code (A-Z, 0-9)", Optional: true, Validate: VoucherCode},
		{Key: KeyName, Prompt: "Voucher name", Validate: Name},
		{Key: KeyType, Prompt: "Discount type: percentage or fixed", Validate: DiscountType},
		{Key: KeyValue, Prompt: "Discount value (percent or amount)", Validate: PositiveAmount},
		{Key: KeyMinOrder, Prompt: "Minimum order amount", Optional: true, Validate: Amount},
		{Key: KeyMaxDiscount, Prompt: "Maximum discount amount", Optional: true, Validate: Amount},
		{Key: KeyUsageLimit, Prompt: "Usage limit (0 = unlimited)", Optional: true, Validate: Count},
		{Key: KeyValidDays, Prompt: "Valid for how many days", Optional: true, Validate: PositiveCount},
	}}
}

// NewProductFlow собирает параметры товара.
func NewProductFlow() Flow {
	return Flow{Name: FlowNewProduct, Steps: []Step{
		{Key: KeyCategory, Prompt: "Category id (a-z, 0-9, _)", Validate: Slug},
		{Key: KeyName, Prompt: "Product name", Validate: Name},
		{Key: KeyDescription, Prompt: "Description", Optional: true},
	}}
}

// NewVariantFlow собирает параметры варианта товара.
func NewVariantFlow() Flow {
	return Flow{Name: FlowNewVariant, Steps: []Step{
		{Key: KeyProduct, Prompt: "Product id", Validate: PositiveCount},
		{Key: KeyName, Prompt: "Variant name", Validate: Name},
		{Key: KeyPrice, Prompt: "Price", Validate: PositiveAmount},
		{Key: KeyStock, Prompt: "Initial stock", Validate: Count},
	}}
}

// BroadcastFlow собирает сегмент и текст рассылки.
func BroadcastFlow() Flow {
	return Flow{Name: FlowBroadcast, Steps: []Step{
		{Key: KeySegment, Prompt: "Audience: all, active, inactive or vip", Validate: Segment},
		{Key: KeyMessage, Prompt: "Message text", Validate: Message},
	}}
}

// TicketFlow собирает тему, текст и приоритет обращения в поддержку.
func TicketFlow() Flow {
	return Flow{Name: FlowTicket, Steps: []Step{
		{Key: KeySubject, Prompt: "Subject of your request", Validate: TicketSubject},
		{Key: KeyMessage, Prompt: "Describe the problem (order number, deposit id, what went wrong)", Validate: TicketMessage},
		{Key: KeyPriority, Prompt: "Priority: low, medium, high or urgent", Optional: true, Validate: TicketPriority},
	}}
}

func VoucherCode(s string) (string, error) {
	code := voucher.Normalize(s)
	if !validation.IsValidVoucherCode(code) {
		return "", errors.New("code must be 3-20 letters or digits")
	}
	return code, nil
}

func Name(s string) (string, error) {
	if !validation.IsValidName(s) {
		return "", errors.New("name must be 1-64 printable characters")
	}
	return s, nil
}

func Slug(s string) (string, error) {
	s = strings.ToLower(s)
	if !validation.IsValidSlug(s) {
		return "", errors.New("id must be 2-32 characters of a-z, 0-9 or _")
	}
	return s, nil
}

// DiscountType принимает percentage/percent/% и fixed/fixed_amount.
func DiscountType(s string) (string, error) {
	switch strings.ToLower(s) {
	case "percentage", "percent", "%":
		return string(model.DiscountPercentage), nil
	case "fixed", "fixed_amount", "amount":
		return string(model.DiscountFixedAmount), nil
	default:
		return "", errors.New("type must be percentage or fixed")
	}
}

func Amount(s string) (string, error) {
	m, err := money.Parse(s)
	if err != nil || m < 0 {
		return "", errors.New("enter a non-negative amount like 100 or 99.50")
	}
	return m.String(), nil
}

func PositiveAmount(s string) (string, error) {
	m, err := money.Parse(s)
	if err != nil || m <= 0 {
		return "", errors.New("enter a positive amount like 100 or 99.50")
	}
	return m.String(), nil
}

func Count(s string) (string, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return "", errors.New("enter a whole number")
	}
	return strconv.Itoa(n), nil
}

func PositiveCount(s string) (string, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return "", errors.New("enter a positive whole number")
	}
	return strconv.Itoa(n), nil
}

func Segment(s string) (string, error) {
	seg := model.Segment(strings.ToLower(s))
	if model.ParseSegment(string(seg)) != seg {
		return "", errors.New("audience must be all, active, inactive or vip")
	}
	return string(seg), nil
}

func Message(s string) (string, error) {
	if utf8.RuneCountInString(s) > MaxMessageLength {
		return "", errors.New("message is too long")
	}
	return s, nil
}

func TicketSubject(s string) (string, error) {
	if n := utf8.RuneCountInString(s); n < model.MinTicketSubject || n > model.MaxTicketSubject {
		return "", fmt.Errorf("subject must be %d-%d characters", model.MinTicketSubject, model.MaxTicketSubject)
	}
	return s, nil
}

func TicketMessage(s string) (string, error) {
	if n := utf8.RuneCountInString(s); n < model.MinTicketMessage || n > model.MaxTicketMessage {
		return "", fmt.Errorf("message must be %d-%d characters", model.MinTicketMessage, model.MaxTicketMessage)
	}
	return s, nil
}

func TicketPriority(s string) (string, error) {
	p, ok := model.ParseTicketPriority(strings.ToLower(s))
	if !ok {
		return "", errors.New("priority must be low, medium, high or urgent")
	}
	return string(p), nil
}
