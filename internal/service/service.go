// Package service реализует бизнес-логику магазина: баланс, пополнения, каталог, ваучеры и покупки.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/payment"
	"github.com/iwrumi/corebotstore/internal/repository"
)

var (
	// ErrInvalidAmount возвращается, если сумма вне допустимых границ или не является целым числом единиц.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrDepositOutOfRange уточняет ErrInvalidAmount для сумм пополнения вне [MinDeposit, MaxDeposit].
	ErrDepositOutOfRange = fmt.Errorf("%w: deposit out of range", ErrInvalidAmount)
	// ErrUnknownPaymentMethod возвращается для неизвестного способа оплаты.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	// ErrInvalidQuantity возвращается для количества или остатка вне допустимых границ.
	ErrInvalidQuantity = repository.ErrInvalidQuantity
	// ErrInvalidReference возвращается, если номер транзакции не соответствует формату способа оплаты.
	ErrInvalidReference = errors.New("invalid payment reference")
	// ErrInvalidInput возвращается для некорректных названий, кодов и параметров скидки.
	ErrInvalidInput = errors.New("invalid input")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	EnsureUser(ctx context.Context, p model.UserProfile, now time.Time) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListLedger(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
	Debit(ctx context.Context, userID int64, amount money.Money, reason string, now time.Time) (money.Money, error)

	CreateDeposit(ctx context.Context, nd repository.NewDeposit) (*repository.DepositResult, error)
	GetDeposit(ctx context.Context, id int64) (*model.Deposit, error)
	ListDeposits(ctx context.Context, f repository.DepositFilter) ([]model.Deposit, error)
	SubmitDepositProof(ctx context.Context, id, userID int64, proofFileID, reference string, now time.Time) (*model.Deposit, error)
	CompleteDeposit(ctx context.Context, id, adminID int64, now time.Time) (*repository.DepositResult, error)
	CancelDeposit(ctx context.Context, id, adminID int64, reason string, now time.Time) (*model.Deposit, error)
	ExpireDeposits(ctx context.Context, createdBefore, now time.Time) ([]model.Deposit, error)

	CreateCategory(ctx context.Context, c model.Category) (*model.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error)
	CreateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, categoryID string, activeOnly bool) ([]model.Product, error)
	CreateVariant(ctx context.Context, v model.Variant) (*model.Variant, error)
	GetVariant(ctx context.Context, id int64) (*model.Variant, error)
	ListVariants(ctx context.Context, productID int64, activeOnly bool) ([]model.Variant, error)
	SetVariantStock(ctx context.Context, id int64, stock int) (*model.Variant, error)
	AddVariantStock(ctx context.Context, id int64, delta int) (*model.Variant, error)
	LowStockVariants(ctx context.Context, threshold int) ([]model.Variant, error)
	CatalogEmpty(ctx context.Context) (bool, error)

	CreateVoucher(ctx context.Context, v model.Voucher) (*model.Voucher, error)
	GetVoucher(ctx context.Context, code string) (*model.Voucher, error)
	ListVouchers(ctx context.Context, activeOnly bool) ([]model.Voucher, error)
	SetVoucherActive(ctx context.Context, code string, active bool) (*model.Voucher, error)

	Purchase(ctx context.Context, p repository.PurchaseParams) (*repository.PurchaseResult, error)
	ListOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error)

	CreateBroadcast(ctx context.Context, b model.Broadcast) (*model.Broadcast, error)
	FinishBroadcast(ctx context.Context, id int64, sent, failed int, now time.Time) error
	ListRecipients(ctx context.Context, f repository.RecipientFilter) ([]model.User, error)

	CreateTicket(ctx context.Context, nt repository.NewTicket) (*model.Ticket, error)
	GetTicket(ctx context.Context, id int64) (*model.Ticket, error)
	ListTickets(ctx context.Context, f repository.TicketFilter) ([]model.Ticket, error)
	RespondTicket(ctx context.Context, id, adminID int64, response string, now time.Time) (*model.Ticket, error)
	SetTicketStatus(ctx context.Context, id int64, status model.TicketStatus, now time.Time) (*model.Ticket, error)

	Stats(ctx context.Context) (*model.Stats, error)
	Revenue(ctx context.Context, from, to time.Time) (*model.Revenue, error)
	TopCustomers(ctx context.Context, from, to time.Time, limit int) ([]model.CustomerStat, error)
}

var (
	_ Repository = (*repository.PostgresRepository)(nil)
	_ Repository = (*repository.GormRepository)(nil)
)

// Notifier доставляет уведомления пользователям и администраторам.
// Реализация не должна блокировать вызывающего надолго; ошибки доставки не возвращаются.
type Notifier interface {
	DepositProofSubmitted(ctx context.Context, d model.Deposit, u model.User)
	DepositCompleted(ctx context.Context, d model.Deposit, balance money.Money)
	DepositCancelled(ctx context.Context, d model.Deposit)
	OrderCompleted(ctx context.Context, o model.Order, balance money.Money)
	LowStock(ctx context.Context, v model.Variant)
	TicketCreated(ctx context.Context, t model.Ticket, u model.User)
	TicketAnswered(ctx context.Context, t model.Ticket)
}

// Options задаёт параметры бизнес-правил.
type Options struct {
	MinDeposit        money.Money
	MaxDeposit        money.Money
	DepositProofTTL   time.Duration
	ExpiryInterval    time.Duration
	LowStockThreshold int
	VIPThreshold      money.Money
	ActiveWindow      time.Duration
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		MinDeposit:        money.FromUnits(20),
		MaxDeposit:        money.FromUnits(10000),
		DepositProofTTL:   30 * time.Minute,
		ExpiryInterval:    time.Minute,
		LowStockThreshold: 5,
		VIPThreshold:      money.FromUnits(1000),
		ActiveWindow:      30 * 24 * time.Hour,
	}
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	payments *payment.Registry
	notifier Notifier
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис. Нулевые notifier и logger заменяются заглушками.
func NewService(repo Repository, payments *payment.Registry, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	if payments == nil {
		payments = payment.NewRegistry(payment.DefaultMethods()...)
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ExpiryInterval <= 0 {
		opts.ExpiryInterval = time.Minute
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 30 * 24 * time.Hour
	}

	return &Service{
		repo:     repo,
		payments: payments,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник текущего времени.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Options возвращает текущие параметры бизнес-правил.
func (s *Service) Options() Options {
	return s.opts
}

// Payments возвращает справочник способов оплаты.
func (s *Service) Payments() *payment.Registry {
	return s.payments
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) DepositProofSubmitted(context.Context, model.Deposit, model.User) {}
func (nopNotifier) DepositCompleted(context.Context, model.Deposit, money.Money)     {}
func (nopNotifier) DepositCancelled(context.Context, model.Deposit)                  {}
func (nopNotifier) OrderCompleted(context.Context, model.Order, money.Money)         {}
func (nopNotifier) LowStock(context.Context, model.Variant)                          {}
func (nopNotifier) TicketCreated(context.Context, model.Ticket, model.User)          {}
func (nopNotifier) TicketAnswered(context.Context, model.Ticket)                     {}

// RegisterUser создаёт пользователя при первом обращении и обновляет профиль при последующих.
func (s *Service) RegisterUser(ctx context.Context, p model.UserProfile) (*model.User, error) {
	return s.repo.EnsureUser(ctx, p, s.now())
}

// GetUser возвращает пользователя с текущим балансом.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUser(ctx, id)
}

// History возвращает последние движения по балансу.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	return s.repo.ListLedger(ctx, userID, limit)
}

// Debit списывает сумму с баланса пользователя (корректировка администратором).
func (s *Service) Debit(ctx context.Context, userID int64, amount money.Money, reason string) (money.Money, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	balance, err := s.repo.Debit(ctx, userID, amount, reason, s.now())
	if err != nil {
		return 0, err
	}

	s.logger.Info("balance debited",
		zap.Int64("userID", userID),
		zap.String("amount", amount.String()),
		zap.String("reason", reason),
	)
	return balance, nil
}
