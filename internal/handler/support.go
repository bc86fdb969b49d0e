package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/iwrumi/corebotstore/internal/middleware"
	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

type methodResponse struct {
	Method string      `json:"method"`
	Count  int         `json:"count"`
	Amount money.Money `json:"amount"`
}

func toMethodResponses(methods []model.MethodStat) []methodResponse {
	resp := make([]methodResponse, 0, len(methods))
	for _, m := range methods {
		resp = append(resp, methodResponse(m))
	}
	return resp
}

type revenue struct {
	From         string           `json:"from"`
	To           string           `json:"to"`
	Sales        money.Money      `json:"sales"`
	Orders       int              `json:"orders"`
	Customers    int              `json:"customers"`
	AverageOrder money.Money      `json:"average_order"`
	Discounts    money.Money      `json:"discounts"`
	Deposits     money.Money      `json:"deposits"`
	DepositCount int              `json:"deposit_count"`
	Methods      []methodResponse `json:"methods"`
}

func toRevenue(r model.Revenue) revenue {
	return revenue{
		From:         r.From.Format(time.RFC3339),
		To:           r.To.Format(time.RFC3339),
		Sales:        r.Sales,
		Orders:       r.Orders,
		Customers:    r.Customers,
		AverageOrder: r.AverageOrder(),
		Discounts:    r.Discounts,
		Deposits:     r.Deposits,
		DepositCount: r.DepositCount,
		Methods:      toMethodResponses(r.Methods),
	}
}

type customerResponse struct {
	UserID    int64       `json:"user_id"`
	Username  string      `json:"username,omitempty"`
	FirstName string      `json:"first_name,omitempty"`
	Orders    int         `json:"orders"`
	Spent     money.Money `json:"spent"`
}

type reportResponse struct {
	Period       string             `json:"period"`
	Current      revenue            `json:"current"`
	Previous     revenue            `json:"previous"`
	Growth       *string            `json:"growth,omitempty"`
	TopCustomers []customerResponse `json:"top_customers"`
}

// Report возвращает финансовый отчёт; ?period=daily|weekly|monthly, по умолчанию daily.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.Report(r.Context(), model.Period(r.URL.Query().Get("period")))
	if err != nil {
		h.writeError(w, "report", err)
		return
	}

	resp := reportResponse{
		Period:       string(rep.Period),
		Current:      toRevenue(rep.Current),
		Previous:     toRevenue(rep.Previous),
		TopCustomers: make([]customerResponse, 0, len(rep.TopCustomers)),
	}
	if g, ok := rep.Growth(); ok {
		growth := g.String()
		resp.Growth = &growth
	}
	for _, c := range rep.TopCustomers {
		resp.TopCustomers = append(resp.TopCustomers, customerResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type ticketResponse struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	UserID      int64  `json:"user_id"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Response    string `json:"response,omitempty"`
	RespondedBy int64  `json:"responded_by,omitempty"`
	RespondedAt string `json:"responded_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toTicketResponse(t model.Ticket) ticketResponse {
	resp := ticketResponse{
		ID:          t.ID,
		Number:      t.Number,
		UserID:      t.UserID,
		Subject:     t.Subject,
		Message:     t.Message,
		Priority:    string(t.Priority),
		Category:    t.Category,
		Status:      string(t.Status),
		Response:    t.Response,
		RespondedBy: t.RespondedBy,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if t.RespondedAt != nil {
		resp.RespondedAt = t.RespondedAt.Format(time.RFC3339)
	}
	return resp
}

// ListTickets возвращает обращения, ожидающие ответа, или все обращения пользователя (?user_id=).
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		tickets []model.Ticket
		err     error
	)
	if raw := q.Get("user_id"); raw != "" {
		userID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		tickets, err = h.service.Tickets(r.Context(), userID, limit)
	} else {
		tickets, err = h.service.PendingTickets(r.Context(), limit)
	}
	if err != nil {
		h.writeError(w, "list tickets", err)
		return
	}

	resp := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, toTicketResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

type replyRequest struct {
	Response string `json:"response"`
}

// ReplyTicket отвечает на обращение от имени администратора из токена.
func (h *Handler) ReplyTicket(w http.ResponseWriter, r *http.Request) {
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

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RespondTicket(r.Context(), id, adminID, req.Response)
	if err != nil {
		h.writeError(w, "reply ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(*t))
}

type ticketStatusRequest struct {
	Status string `json:"status"`
}

// SetTicketStatus меняет состояние обращения.
func (h *Handler) SetTicketStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req ticketStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.SetTicketStatus(r.Context(), id, model.TicketStatus(req.Status))
	if err != nil {
		h.writeError(w, "set ticket status", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(*t))
}
