// Package bot обрабатывает обновления Telegram: команды покупателей и администраторов,
// inline-кнопки каталога и модерации, загрузку подтверждений оплаты и пошаговые мастера.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/access"
	"github.com/iwrumi/corebotstore/internal/broadcast"
	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/payment"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/service"
	"github.com/iwrumi/corebotstore/internal/support"
	"github.com/iwrumi/corebotstore/internal/wizard"
)

const (
	listLimit     = 10
	pendingLimit  = 20
	sweepInterval = time.Minute
)

// API: часть клиента Telegram, используемая ботом; реализуется *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Service определяет контракт бизнес-логики, используемой ботом.
type Service interface {
	Options() service.Options
	Payments() *payment.Registry

	RegisterUser(ctx context.Context, p model.UserProfile) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
	Debit(ctx context.Context, userID int64, amount money.Money, reason string) (money.Money, error)
	Stats(ctx context.Context) (*model.Stats, error)

	ValidateDepositAmount(amount money.Money) error
	CreateDeposit(ctx context.Context, userID int64, amount money.Money, methodID string) (*repository.DepositResult, error)
	SubmitProof(ctx context.Context, userID, depositID int64, proofFileID, reference string) (*model.Deposit, error)
	ApproveDeposit(ctx context.Context, depositID, adminID int64) (*repository.DepositResult, error)
	RejectDeposit(ctx context.Context, depositID, adminID int64, reason string) (*model.Deposit, error)
	PendingDeposits(ctx context.Context, limit int) ([]model.Deposit, error)
	UserDeposits(ctx context.Context, userID int64, limit int) ([]model.Deposit, error)
	LatestOpenDeposit(ctx context.Context, userID int64) (*model.Deposit, error)

	CreateCategory(ctx context.Context, id, name, description string) (*model.Category, error)
	Categories(ctx context.Context) ([]model.Category, error)
	CreateProduct(ctx context.Context, categoryID, name, description string) (*model.Product, error)
	Products(ctx context.Context, categoryID string) ([]model.Product, error)
	Product(ctx context.Context, id int64) (*model.Product, error)
	CreateVariant(ctx context.Context, productID int64, name string, price money.Money, stock int) (*model.Variant, error)
	Variants(ctx context.Context, productID int64) ([]model.Variant, error)
	Variant(ctx context.Context, id int64) (*model.Variant, error)
	SetStock(ctx context.Context, variantID int64, stock int) (*model.Variant, error)
	AddStock(ctx context.Context, variantID int64, delta int) (*model.Variant, error)
	LowStock(ctx context.Context) ([]model.Variant, error)

	CreateVoucher(ctx context.Context, nv service.NewVoucher) (*model.Voucher, error)
	ValidateVoucher(ctx context.Context, code string, orderTotal money.Money) (*model.Voucher, money.Money, error)
	Vouchers(ctx context.Context, activeOnly bool) ([]model.Voucher, error)
	DisableVoucher(ctx context.Context, code string) (*model.Voucher, error)

	Purchase(ctx context.Context, userID, variantID int64, quantity int, voucherCode string) (*repository.PurchaseResult, error)
	Orders(ctx context.Context, userID int64, limit int) ([]model.Order, error)

	CreateTicket(ctx context.Context, userID int64, subject, message string, priority model.TicketPriority) (*model.Ticket, error)
	Tickets(ctx context.Context, userID int64, limit int) ([]model.Ticket, error)
	PendingTickets(ctx context.Context, limit int) ([]model.Ticket, error)
	RespondTicket(ctx context.Context, id, adminID int64, response string) (*model.Ticket, error)
	SetTicketStatus(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error)
	Report(ctx context.Context, period model.Period) (*model.Report, error)
}

var _ Service = (*service.Service)(nil)

// Broadcaster выполняет рассылку.
type Broadcaster interface {
	Send(ctx context.Context, message string, segment model.Segment, adminID int64) (*broadcast.Result, error)
}

// TokenIssuer выпускает токены административного API.
type TokenIssuer interface {
	IssueToken(adminID int64) (string, time.Time, error)
}

// Options задаёт необязательные зависимости бота.
// Desk отвечает на сообщения вне команд; по умолчанию используется встроенный справочник.
type Options struct {
	Currency    string
	Broadcaster Broadcaster
	Tokens      TokenIssuer
	Wizards     *wizard.Manager
	Desk        *support.Desk
}

type request struct {
	chatID int64
	user   *model.User
	args   []string
}

type command func(ctx context.Context, r request)

// Bot обрабатывает обновления Telegram.
type Bot struct {
	api         API
	svc         Service
	policy      *access.Policy
	logger      *zap.Logger
	currency    string
	broadcaster Broadcaster
	tokens      TokenIssuer
	wizards     *wizard.Manager
	desk        *support.Desk

	userCommands  map[string]command
	adminCommands map[string]command

	wg sync.WaitGroup
}

// New создаёт бота.
func New(api API, svc Service, policy *access.Policy, logger *zap.Logger, opts Options) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Wizards == nil {
		opts.Wizards = wizard.NewManager(wizard.DefaultIdleTimeout)
	}
	if opts.Desk == nil {
		opts.Desk = support.NewDesk(nil)
	}

	b := &Bot{
		api:         api,
		svc:         svc,
		policy:      policy,
		logger:      logger,
		currency:    opts.Currency,
		broadcaster: opts.Broadcaster,
		tokens:      opts.Tokens,
		wizards:     opts.Wizards,
		desk:        opts.Desk,
	}

	b.userCommands = map[string]command{
		"start":    b.cmdStart,
		"help":     b.cmdHelp,
		"balance":  b.cmdBalance,
		"history":  b.cmdHistory,
		"deposit":  b.cmdDeposit,
		"proof":    b.cmdProof,
		"deposits": b.cmdDeposits,
		"catalog":  b.cmdCatalog,
		"buy":      b.cmdBuy,
		"voucher":  b.cmdVoucher,
		"orders":   b.cmdOrders,
		"support":  b.cmdSupport,
		"ticket":   b.startWizard(wizard.TicketFlow),
		"faq":      b.cmdFAQ,
		"cancel":   b.cmdCancel,
	}
	b.adminCommands = map[string]command{
		"pending":        b.cmdPending,
		"approve":        b.cmdApprove,
		"reject":         b.cmdReject,
		"deduct":         b.cmdDeduct,
		"stock":          b.cmdStock,
		"addstock":       b.cmdAddStock,
		"lowstock":       b.cmdLowStock,
		"newcategory":    b.cmdNewCategory,
		"newproduct":     b.startWizard(wizard.NewProductFlow),
		"newvariant":     b.startWizard(wizard.NewVariantFlow),
		"newvoucher":     b.startWizard(wizard.NewVoucherFlow),
		"broadcast":      b.startWizard(wizard.BroadcastFlow),
		"vouchers":       b.cmdVouchers,
		"disablevoucher": b.cmdDisableVoucher,
		"stats":          b.cmdStats,
		"report":         b.cmdReport,
		"tickets":        b.cmdTickets,
		"reply":          b.cmdReply,
		"ticketstatus":   b.cmdTicketStatus,
		"token":          b.cmdToken,
	}
	return b
}

// Run обрабатывает обновления до отмены контекста или закрытия канала.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	b.logger.Info("bot started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot stopped")
			return nil
		case <-ticker.C:
			if n := b.wizards.Sweep(); n > 0 {
				b.logger.Debug("expired wizard sessions removed", zap.Int("count", n))
			}
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// Wait ожидает завершения запущенных ботом рассылок.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate обрабатывает одно обновление.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func profileOf(u *tgbotapi.User) model.UserProfile {
	return model.UserProfile{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// register обновляет профиль автора; nil означает, что обработку нужно прекратить.
func (b *Bot) register(ctx context.Context, chatID int64, from *tgbotapi.User) *model.User {
	user, err := b.svc.RegisterUser(ctx, profileOf(from))
	if err != nil {
		b.replyError(chatID, err)
		return nil
	}
	if user.IsBanned {
		b.reply(chatID, "Your account is suspended.")
		return nil
	}
	return user
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	user := b.register(ctx, chatID, msg.From)
	if user == nil {
		return
	}

	switch {
	case msg.IsCommand():
		name := strings.ToLower(msg.Command())
		if name != "cancel" {
			b.wizards.Cancel(chatID)
		}
		r := request{chatID: chatID, user: user, args: strings.Fields(msg.CommandArguments())}
		if cmd, ok := b.userCommands[name]; ok {
			cmd(ctx, r)
			return
		}
		if cmd, ok := b.adminCommands[name]; ok && b.policy.IsAdmin(user.ID) {
			cmd(ctx, r)
			return
		}
		b.reply(chatID, "Unknown command. Send /help to see what I can do.")

	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, chatID, user, msg)

	default:
		if _, active := b.wizards.Active(chatID); active {
			b.advanceWizard(ctx, chatID, user, msg.Text)
			return
		}
		if r, ok := b.desk.AutoRespond(msg.Text); ok {
			b.reply(chatID, r.Text)
			return
		}
		b.reply(chatID, "Send /help to see what I can do.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("failed to send message", zap.Error(err))
	}
}

func (b *Bot) amount(m money.Money) string {
	if m < 0 {
		return "-" + b.currency + (-m).String()
	}
	return b.currency + m.String()
}
