// Package model содержит доменные сущности магазина.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iwrumi/corebotstore/internal/money"
)

// User представляет покупателя, идентифицируемого внешним (Telegram) идентификатором.
type User struct {
	ID             int64
	Username       string
	FirstName      string
	LastName       string
	Balance        money.Money
	TotalDeposited money.Money
	TotalSpent     money.Money
	OrderCount     int
	IsBanned       bool
	CreatedAt      time.Time
	LastActivity   time.Time
}

// DisplayName возвращает имя пользователя для обращений в сообщениях.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "there"
	}
}

// UserProfile содержит данные, которые обновляются при каждом обращении пользователя.
type UserProfile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// LedgerKind описывает причину движения средств по балансу.
type LedgerKind string

const (
	LedgerKindDeposit  LedgerKind = "deposit"
	LedgerKindPurchase LedgerKind = "purchase"
	LedgerKindDebit    LedgerKind = "debit"
)

// LedgerEntry: неизменяемая запись о движении средств по балансу пользователя.
type LedgerEntry struct {
	ID           int64
	UserID       int64
	Kind         LedgerKind
	Amount       money.Money
	BalanceAfter money.Money
	Reason       string
	CreatedAt    time.Time
}

// DepositStatus описывает состояние заявки на пополнение.
type DepositStatus string

const (
	DepositStatusPending        DepositStatus = "pending"
	DepositStatusProofSubmitted DepositStatus = "proof_submitted"
	DepositStatusCompleted      DepositStatus = "completed"
	DepositStatusCancelled      DepositStatus = "cancelled"
)

// Terminal сообщает, что из состояния нет переходов.
func (s DepositStatus) Terminal() bool {
	return s == DepositStatusCompleted || s == DepositStatusCancelled
}

// Deposit описывает заявку на пополнение баланса.
type Deposit struct {
	ID            int64
	UserID        int64
	Amount        money.Money
	PaymentMethod string
	Status        DepositStatus
	ProofFileID   string
	Reference     string
	ProcessedBy   int64
	Note          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// PaymentMethod описывает способ оплаты пополнения.
type PaymentMethod struct {
	ID           string      `yaml:"id"`
	Name         string      `yaml:"name"`
	Account      string      `yaml:"account"`
	Instructions string      `yaml:"instructions"`
	AutoVerify   bool        `yaml:"auto_verify"`
	Fee          money.Money `yaml:"fee"`
	MinOrder     money.Money `yaml:"min_order"`
}

// Category группирует товары каталога.
type Category struct {
	ID          string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// Product описывает товар каталога.
type Product struct {
	ID          int64
	CategoryID  string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// Ограничения остатка и количества в одном заказе.
const (
	MaxStock         = 1_000_000
	MaxOrderQuantity = 100
)

// Variant описывает конкретную позицию товара (SKU) с ценой и остатком.
type Variant struct {
	ID        int64
	ProductID int64
	Name      string
	Price     money.Money
	Stock     int
	Active    bool
	CreatedAt time.Time
}

// DiscountType описывает способ расчёта скидки по ваучеру.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Voucher описывает промокод.
// Для процентных ваучеров DiscountValue задан в сотых долях процента (2000 = 20%),
// для фиксированных в минимальных единицах валюты.
type Voucher struct {
	ID              int64
	Code            string
	Name            string
	Description     string
	DiscountType    DiscountType
	DiscountValue   int64
	MinimumOrder    money.Money
	MaximumDiscount money.Money
	UsageLimit      int
	UsageCount      int
	ValidFrom       time.Time
	ValidUntil      *time.Time
	IsActive        bool
	CreatedAt       time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusCompleted OrderStatus = "completed"
)

// Order: запись о совершённой покупке.
type Order struct {
	ID          int64
	Number      string
	UserID      int64
	VariantID   int64
	ProductName string
	VariantName string
	Quantity    int
	UnitPrice   money.Money
	Subtotal    money.Money
	Discount    money.Money
	Total       money.Money
	VoucherCode string
	Status      OrderStatus
	CreatedAt   time.Time
}

// Segment описывает целевую аудиторию рассылки.
type Segment string

const (
	SegmentAll      Segment = "all"
	SegmentActive   Segment = "active"
	SegmentInactive Segment = "inactive"
	SegmentVIP      Segment = "vip"
)

// ParseSegment возвращает сегмент по названию; неизвестные значения означают всех пользователей.
func ParseSegment(s string) Segment {
	switch Segment(s) {
	case SegmentActive, SegmentInactive, SegmentVIP:
		return Segment(s)
	default:
		return SegmentAll
	}
}

// BroadcastStatus описывает состояние рассылки.
type BroadcastStatus string

const (
	BroadcastStatusSending BroadcastStatus = "sending"
	BroadcastStatusSent    BroadcastStatus = "sent"
	BroadcastStatusFailed  BroadcastStatus = "failed"
)

// Broadcast описывает рассылку сообщения пользователям.
type Broadcast struct {
	ID          int64
	Message     string
	Segment     Segment
	Status      BroadcastStatus
	SentCount   int
	FailedCount int
	CreatedBy   int64
	CreatedAt   time.Time
	SentAt      *time.Time
}

// Stats содержит сводку по балансам и продажам для администраторов.
type Stats struct {
	Users               int
	UsersWithBalance    int
	TotalUserBalance    money.Money
	CompletedDeposits   money.Money
	PendingDeposits     int
	PendingDepositTotal money.Money
	Orders              int
	Revenue             money.Money
	// Methods: подтверждённые пополнения за всё время по способам оплаты.
	Methods []MethodStat
	// Periods: выручка за сегодня, неделю и месяц.
	Periods []PeriodRevenue
}

// MethodStat содержит число и сумму подтверждённых пополнений одного способа оплаты.
type MethodStat struct {
	Method string
	Count  int
	Amount money.Money
}

// Revenue агрегирует пополнения и продажи за интервал (From, To].
type Revenue struct {
	From         time.Time
	To           time.Time
	Deposits     money.Money
	DepositCount int
	Sales        money.Money
	Discounts    money.Money
	Orders       int
	Customers    int
	Methods      []MethodStat
}

// AverageOrder возвращает среднюю сумму заказа или ноль, если заказов не было.
func (r Revenue) AverageOrder() money.Money {
	if r.Orders == 0 {
		return 0
	}
	return r.Sales / money.Money(r.Orders)
}

// Period описывает отчётный период.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod возвращает период по названию; пустая строка означает daily.
func ParsePeriod(s string) (Period, bool) {
	switch p := Period(s); p {
	case "":
		return PeriodDaily, true
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, true
	default:
		return "", false
	}
}

// PeriodRevenue связывает период с выручкой за него.
type PeriodRevenue struct {
	Period  Period
	Revenue Revenue
}

// CustomerStat описывает покупателя в рейтинге по сумме покупок.
type CustomerStat struct {
	UserID    int64
	Username  string
	FirstName string
	Orders    int
	Spent     money.Money
}

// Report: финансовый отчёт за период со сравнением с предыдущим интервалом той же длины.
type Report struct {
	Period       Period
	Current      Revenue
	Previous     Revenue
	TopCustomers []CustomerStat
}

// Growth возвращает изменение выручки от продаж относительно предыдущего интервала в процентах.
// Без продаж в предыдущем интервале изменение не определено.
func (r Report) Growth() (decimal.Decimal, bool) {
	return money.PercentChange(r.Previous.Sales, r.Current.Sales)
}

// TicketStatus описывает состояние обращения в поддержку.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// ParseTicketStatus проверяет название состояния.
func ParseTicketStatus(s string) (TicketStatus, bool) {
	switch st := TicketStatus(s); st {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return st, true
	default:
		return "", false
	}
}

// TicketPriority описывает срочность обращения.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// ParseTicketPriority проверяет название приоритета; пустая строка означает medium.
func ParseTicketPriority(s string) (TicketPriority, bool) {
	switch p := TicketPriority(s); p {
	case "":
		return TicketPriorityMedium, true
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return p, true
	default:
		return "", false
	}
}

// Границы длины обращения в символах.
const (
	MinTicketSubject  = 5
	MaxTicketSubject  = 100
	MinTicketMessage  = 20
	MaxTicketMessage  = 1000
	MaxTicketResponse = 4000
)

// Ticket: обращение пользователя в поддержку и ответ администратора.
type Ticket struct {
	ID          int64
	Number      string
	UserID      int64
	Subject     string
	Message     string
	Priority    TicketPriority
	Category    string
	Status      TicketStatus
	Response    string
	RespondedBy int64
	RespondedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Open сообщает, что обращение ожидает ответа.
func (t Ticket) Open() bool {
	return t.Status == TicketStatusOpen || t.Status == TicketStatusInProgress
}
