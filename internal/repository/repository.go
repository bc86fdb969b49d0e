// Package repository содержит реализации хранилища магазина на PostgreSQL (pgx) и GORM.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

var (
	// ErrNotFound возвращается, если запись (пользователь, заявка, товар, ваучер) не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed возвращается при попытке перехода заявки из неподходящего состояния.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrOutOfStock возвращается, если остатка варианта недостаточно.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyExists возвращается при нарушении уникальности (код ваучера, идентификатор категории).
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidQuantity возвращается для количества или остатка вне допустимых границ.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// StorageError оборачивает ошибки драйвера базы данных.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError сообщает, что ошибка вызвана сбоем хранилища.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ExpiredNote записывается в заявку, отменённую по истечении срока ожидания оплаты.
const ExpiredNote = "expired"

// NewDeposit описывает создаваемую заявку на пополнение.
// При AutoComplete заявка сразу переходит в completed и зачисляется на баланс в той же транзакции.
type NewDeposit struct {
	UserID        int64
	Amount        money.Money
	PaymentMethod string
	AutoComplete  bool
	Now           time.Time
}

// DepositResult возвращается операциями, которые могут изменить баланс.
type DepositResult struct {
	Deposit model.Deposit
	Balance money.Money
}

// DepositFilter задаёт условия выборки заявок. Нулевой UserID означает любого пользователя.
type DepositFilter struct {
	UserID   int64
	Statuses []model.DepositStatus
	Limit    int
}

// PurchaseParams описывает покупку варианта за счёт баланса.
type PurchaseParams struct {
	UserID      int64
	VariantID   int64
	Quantity    int
	VoucherCode string
	OrderNumber string
	Now         time.Time
}

// PurchaseResult содержит итог покупки.
type PurchaseResult struct {
	Order          model.Order
	Balance        money.Money
	RemainingStock int
}

// RecipientFilter задаёт аудиторию рассылки.
type RecipientFilter struct {
	Segment      model.Segment
	ActiveSince  time.Time
	VIPThreshold money.Money
}

// NewTicket описывает создаваемое обращение в поддержку.
type NewTicket struct {
	Number   string
	UserID   int64
	Subject  string
	Message  string
	Priority model.TicketPriority
	Category string
	Now      time.Time
}

// TicketFilter задаёт условия выборки обращений. Нулевой UserID означает любого пользователя.
type TicketFilter struct {
	UserID   int64
	Statuses []model.TicketStatus
	Limit    int
}

// TopCustomersLimit: размер рейтинга покупателей в отчёте.
const TopCustomersLimit = 5

func ticketStatusStrings(statuses []model.TicketStatus) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}

// respondedStatus возвращает состояние обращения после ответа администратора.
// Закрытое обращение не принимает ответов.
func respondedStatus(s model.TicketStatus) (model.TicketStatus, error) {
	switch s {
	case model.TicketStatusClosed:
		return "", ErrAlreadyProcessed
	case model.TicketStatusOpen:
		return model.TicketStatusInProgress, nil
	default:
		return s, nil
	}
}

func statusStrings(statuses []model.DepositStatus) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}

// canComplete сообщает, можно ли подтвердить заявку из текущего состояния.
func canComplete(s model.DepositStatus) bool {
	return s == model.DepositStatusPending || s == model.DepositStatusProofSubmitted
}

type pricing struct {
	subtotal money.Money
	discount money.Money
	total    money.Money
}

// priceOrder проверяет остаток, ваучер и баланс для заблокированных строк.
// v равен nil, если код не указан; code непустой, а v равен nil, если ваучер не найден.
func priceOrder(variant model.Variant, qty int, code string, v *model.Voucher, balance money.Money, now time.Time) (pricing, error) {
	if qty < 1 || qty > model.MaxOrderQuantity {
		return pricing{}, ErrInvalidQuantity
	}
	if variant.Stock < qty {
		return pricing{}, ErrOutOfStock
	}

	subtotal, err := variant.Price.Times(int64(qty))
	if err != nil {
		return pricing{}, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	p := pricing{subtotal: subtotal}

	if code != "" {
		if v == nil {
			return pricing{}, voucher.Invalid(code, voucher.ReasonNotFound)
		}
		discount, err := voucher.Evaluate(*v, p.subtotal, now)
		if err != nil {
			return pricing{}, err
		}
		p.discount = discount
	}

	p.total = p.subtotal - p.discount
	if p.total < 0 {
		p.discount, p.total = p.subtotal, 0
	}
	if balance < p.total {
		return pricing{}, ErrInsufficientBalance
	}
	return p, nil
}

func orderReason(number string) string {
	return "order " + number
}

// broadcastOutcome считает рассылку неудачной, только если не доставлено ни одно сообщение из отправленных.
func broadcastOutcome(sent, failed int) model.BroadcastStatus {
	if sent == 0 && failed > 0 {
		return model.BroadcastStatusFailed
	}
	return model.BroadcastStatusSent
}
