// Package handler содержит HTTP-обработчики магазина: вебхук Telegram, проверку здоровья и административное API.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/broadcast"
	"github.com/iwrumi/corebotstore/internal/middleware"
	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/service"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

// SecretTokenHeader: заголовок, в котором Telegram передаёт секрет вебхука.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListDeposits(ctx context.Context, f repository.DepositFilter) ([]model.Deposit, error)
	ApproveDeposit(ctx context.Context, depositID, adminID int64) (*repository.DepositResult, error)
	RejectDeposit(ctx context.Context, depositID, adminID int64, reason string) (*model.Deposit, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Vouchers(ctx context.Context, activeOnly bool) ([]model.Voucher, error)
	CreateVoucher(ctx context.Context, nv service.NewVoucher) (*model.Voucher, error)
	DisableVoucher(ctx context.Context, code string) (*model.Voucher, error)
	SetStock(ctx context.Context, variantID int64, stock int) (*model.Variant, error)

	Tickets(ctx context.Context, userID int64, limit int) ([]model.Ticket, error)
	PendingTickets(ctx context.Context, limit int) ([]model.Ticket, error)
	RespondTicket(ctx context.Context, id, adminID int64, response string) (*model.Ticket, error)
	SetTicketStatus(ctx context.Context, id int64, status model.TicketStatus) (*model.Ticket, error)
	Report(ctx context.Context, period model.Period) (*model.Report, error)
}

// UpdateHandler обрабатывает обновления Telegram, полученные через вебхук.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

// Broadcaster выполняет рассылку.
type Broadcaster interface {
	Send(ctx context.Context, message string, segment model.Segment, adminID int64) (*broadcast.Result, error)
}

// Options задаёт необязательные зависимости обработчика.
type Options struct {
	Updates       UpdateHandler
	WebhookSecret string
	Broadcaster   Broadcaster
}

// Handler реализует HTTP-обработчики магазина.
type Handler struct {
	service     Service
	logger      *zap.Logger
	auth        *middleware.AdminAuth
	updates     UpdateHandler
	secret      string
	broadcaster Broadcaster
}

// NewHandler создаёт обработчик. При nil auth административное API не подключается.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AdminAuth, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:     s,
		logger:      logger,
		auth:        auth,
		updates:     opts.Updates,
		secret:      opts.WebhookSecret,
		broadcaster: opts.Broadcaster,
	}
}

// statusOf сопоставляет ошибку бизнес-логики HTTP-статусу.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrAlreadyProcessed),
		errors.Is(err, repository.ErrAlreadyExists),
		errors.Is(err, repository.ErrOutOfStock):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidReference),
		errors.Is(err, service.ErrUnknownPaymentMethod),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, voucher.ErrInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// Health сообщает, что процесс жив.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Webhook принимает обновления Telegram.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.updates == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if h.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.updates.HandleUpdate(r.Context(), upd)
	w.WriteHeader(http.StatusOK)
}

type depositResponse struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"user_id"`
	Amount        money.Money `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	Status        string      `json:"status"`
	ProofFileID   string      `json:"proof_file_id,omitempty"`
	Reference     string      `json:"reference,omitempty"`
	Note          string      `json:"note,omitempty"`
	CreatedAt     string      `json:"created_at"`
	ProcessedAt   string      `json:"processed_at,omitempty"`
	Balance       *string     `json:"balance,omitempty"`
}

func toDepositResponse(d model.Deposit) depositResponse {
	resp := depositResponse{
		ID:            d.ID,
		UserID:        d.UserID,
		Amount:        d.Amount,
		PaymentMethod: d.PaymentMethod,
		Status:        string(d.Status),
		ProofFileID:   d.ProofFileID,
		Reference:     d.Reference,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
	}
	if d.ProcessedAt != nil {
		resp.ProcessedAt = d.ProcessedAt.Format(time.RFC3339)
	}
	return resp
}

// ListDeposits возвращает заявки с фильтром по статусам (?status=a,b), пользователю и лимиту.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.DepositFilter{}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, model.DepositStatus(strings.TrimSpace(s)))
		}
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.UserID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	deposits, err := h.service.ListDeposits(r.Context(), f)
	if err != nil {
		h.writeError(w, "list deposits", err)
		return
	}

	resp := make([]depositResponse, 0, len(deposits))
	for _, d := range deposits {
		resp = append(resp, toDepositResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApproveDeposit подтверждает заявку от имени администратора из токена.
func (h *Handler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.AdminIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ApproveDeposit(r.Context(), id, adminID)
	if err != nil {
		h.writeError(w, "approve deposit", err)
		return
	}

	resp := toDepositResponse(res.Deposit)
	balance := res.Balance.String()
	resp.Balance = &balance
	writeJSON(w, http.StatusOK, resp)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectDeposit отменяет заявку. Тело запроса необязательно.
func (h *Handler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.AdminIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req rejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	d, err := h.service.RejectDeposit(r.Context(), id, adminID, req.Reason)
	if err != nil {
		h.writeError(w, "reject deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositResponse(*d))
}

type statsResponse struct {
	Users               int                `json:"users"`
	UsersWithBalance    int                `json:"users_with_balance"`
	TotalUserBalance    money.Money        `json:"total_user_balance"`
	CompletedDeposits   money.Money        `json:"completed_deposits"`
	PendingDeposits     int                `json:"pending_deposits"`
	PendingDepositTotal money.Money        `json:"pending_deposit_total"`
	Orders              int                `json:"orders"`
	Revenue             money.Money        `json:"revenue"`
	Methods             []methodResponse   `json:"methods"`
	Periods             map[string]revenue `json:"periods"`
}

// Stats возвращает сводку по магазину.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, "stats", err)
		return
	}

	resp := statsResponse{
		Users:               s.Users,
		UsersWithBalance:    s.UsersWithBalance,
		TotalUserBalance:    s.TotalUserBalance,
		CompletedDeposits:   s.CompletedDeposits,
		PendingDeposits:     s.PendingDeposits,
		PendingDepositTotal: s.PendingDepositTotal,
		Orders:              s.Orders,
		Revenue:             s.Revenue,
		Methods:             toMethodResponses(s.Methods),
		Periods:             make(map[string]revenue, len(s.Periods)),
	}
	for _, p := range s.Periods {
		resp.Periods[string(p.Period)] = toRevenue(p.Revenue)
	}
	writeJSON(w, http.StatusOK, resp)
}

type voucherResponse struct {
	Code            string      `json:"code"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	DiscountType    string      `json:"discount_type"`
	DiscountValue   money.Money `json:"discount_value"`
	Label           string      `json:"label"`
	MinimumOrder    money.Money `json:"minimum_order"`
	MaximumDiscount money.Money `json:"maximum_discount"`
	UsageLimit      int         `json:"usage_limit"`
	UsageCount      int         `json:"usage_count"`
	ValidFrom       string      `json:"valid_from"`
	ValidUntil      string      `json:"valid_until,omitempty"`
	IsActive        bool        `json:"is_active"`
}

func toVoucherResponse(v model.Voucher) voucherResponse {
	resp := voucherResponse{
		Code:            v.Code,
		Name:            v.Name,
		Description:     v.Description,
		DiscountType:    string(v.DiscountType),
		DiscountValue:   money.Money(v.DiscountValue),
		Label:           voucher.Label(v),
		MinimumOrder:    v.MinimumOrder,
		MaximumDiscount: v.MaximumDiscount,
		UsageLimit:      v.UsageLimit,
		UsageCount:      v.UsageCount,
		ValidFrom:       v.ValidFrom.Format(time.RFC3339),
		IsActive:        v.IsActive,
	}
	if v.ValidUntil != nil {
		resp.ValidUntil = v.ValidUntil.Format(time.RFC3339)
	}
	return resp
}

// ListVouchers возвращает ваучеры; ?active=true оставляет только активные.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	vouchers, err := h.service.Vouchers(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, "list vouchers", err)
		return
	}

	resp := make([]voucherResponse, 0, len(vouchers))
	for _, v := range vouchers {
		resp = append(resp, toVoucherResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// createVoucherRequest: суммы передаются строками ("20", "99.50"),
// процент для процентных ваучеров тоже передаётся строкой ("12.5" = 12,5%).
type createVoucherRequest struct {
	Code            string      `json:"code"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	DiscountType    string      `json:"discount_type"`
	DiscountValue   money.Money `json:"discount_value"`
	MinimumOrder    money.Money `json:"minimum_order"`
	MaximumDiscount money.Money `json:"maximum_discount"`
	UsageLimit      int         `json:"usage_limit"`
	ValidFrom       *time.Time  `json:"valid_from"`
	ValidUntil      *time.Time  `json:"valid_until"`
}

// CreateVoucher создаёт ваучер.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req createVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	nv := service.NewVoucher{
		Code:            req.Code,
		Name:            req.Name,
		Description:     req.Description,
		DiscountType:    model.DiscountType(req.DiscountType),
		DiscountValue:   int64(req.DiscountValue),
		MinimumOrder:    req.MinimumOrder,
		MaximumDiscount: req.MaximumDiscount,
		UsageLimit:      req.UsageLimit,
		ValidUntil:      req.ValidUntil,
	}
	if req.ValidFrom != nil {
		nv.ValidFrom = *req.ValidFrom
	}

	v, err := h.service.CreateVoucher(r.Context(), nv)
	if err != nil {
		h.writeError(w, "create voucher", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoucherResponse(*v))
}

// DisableVoucher отключает ваучер.
func (h *Handler) DisableVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.DisableVoucher(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, "disable voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherResponse(*v))
}

type stockRequest struct {
	Stock *int `json:"stock"`
}

type variantResponse struct {
	ID        int64       `json:"id"`
	ProductID int64       `json:"product_id"`
	Name      string      `json:"name"`
	Price     money.Money `json:"price"`
	Stock     int         `json:"stock"`
	Active    bool        `json:"active"`
}

// SetStock задаёт остаток варианта.
func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stock == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	v, err := h.service.SetStock(r.Context(), id, *req.Stock)
	if err != nil {
		h.writeError(w, "set stock", err)
		return
	}
	writeJSON(w, http.StatusOK, variantResponse{
		ID:        v.ID,
		ProductID: v.ProductID,
		Name:      v.Name,
		Price:     v.Price,
		Stock:     v.Stock,
		Active:    v.Active,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
	Segment string `json:"segment"`
}

type broadcastResponse struct {
	ID         int64  `json:"id"`
	Segment    string `json:"segment"`
	Recipients int    `json:"recipients"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// CreateBroadcast выполняет рассылку и возвращает её итоги.
func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.AdminIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if h.broadcaster == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.broadcaster.Send(r.Context(), req.Message, model.ParseSegment(req.Segment), adminID)
	if err != nil {
		h.writeError(w, "broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, broadcastResponse{
		ID:         res.Broadcast.ID,
		Segment:    string(res.Broadcast.Segment),
		Recipients: res.Recipients,
		Sent:       res.Sent,
		Failed:     res.Failed,
	})
}
