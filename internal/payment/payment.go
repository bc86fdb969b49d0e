// Package payment содержит справочник способов оплаты пополнений.
package payment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// SuggestedAmounts: суммы пополнения, предлагаемые пользователю по умолчанию, в единицах валюты.
var SuggestedAmounts = []int64{20, 50, 100, 200, 500, 1000}

// Registry хранит доступные способы оплаты.
type Registry struct {
	methods map[string]model.PaymentMethod
	order   []string
}

// DefaultMethods возвращает набор способов оплаты по умолчанию.
func DefaultMethods() []model.PaymentMethod {
	return []model.PaymentMethod{
		{
			ID:           "gcash",
			Name:         "GCash",
			Instructions: "Send the exact amount to the GCash number and upload a screenshot of the receipt.",
		},
		{
			ID:           "paymaya",
			Name:         "PayMaya",
			Instructions: "Send the exact amount to the PayMaya account and upload the confirmation.",
		},
		{
			ID:           "bank_transfer",
			Name:         "Bank Transfer",
			Instructions: "Transfer to the bank account and send the reference number.",
		},
		{
			ID:           "cod",
			Name:         "Cash on Delivery",
			Instructions: "Pay in cash upon delivery.",
			AutoVerify:   true,
			Fee:          money.FromUnits(50),
			MinOrder:     money.FromUnits(100),
		},
	}
}

// NewRegistry создаёт справочник. Способы с совпадающим ID заменяют предыдущие.
func NewRegistry(methods ...model.PaymentMethod) *Registry {
	r := &Registry{methods: make(map[string]model.PaymentMethod, len(methods))}
	for _, m := range methods {
		r.Add(m)
	}
	return r
}

// Add добавляет или заменяет способ оплаты.
func (r *Registry) Add(m model.PaymentMethod) {
	m.ID = strings.ToLower(strings.TrimSpace(m.ID))
	if m.ID == "" {
		return
	}
	if _, ok := r.methods[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.methods[m.ID] = m
}

// Lookup возвращает способ оплаты по идентификатору.
func (r *Registry) Lookup(id string) (model.PaymentMethod, bool) {
	m, ok := r.methods[strings.ToLower(strings.TrimSpace(id))]
	return m, ok
}

// List возвращает способы оплаты в порядке добавления.
func (r *Registry) List() []model.PaymentMethod {
	res := make([]model.PaymentMethod, 0, len(r.order))
	for _, id := range r.order {
		res = append(res, r.methods[id])
	}
	return res
}

// Available возвращает способы, доступные для указанной суммы.
func (r *Registry) Available(amount money.Money) []model.PaymentMethod {
	var res []model.PaymentMethod
	for _, m := range r.List() {
		if m.MinOrder > 0 && amount < m.MinOrder {
			continue
		}
		res = append(res, m)
	}
	return res
}

// IDs возвращает отсортированный список идентификаторов.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.methods))
	for id := range r.methods {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AmountDue возвращает сумму к оплате с учётом комиссии способа.
func AmountDue(m model.PaymentMethod, amount money.Money) money.Money {
	return amount + m.Fee
}

// Instructions формирует текст инструкции по оплате.
func Instructions(m model.PaymentMethod, amount money.Money, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s payment\n", m.Name)
	if m.Account != "" {
		fmt.Fprintf(&b, "Account: %s\n", m.Account)
	}
	fmt.Fprintf(&b, "Amount to pay: %s%s\n", currency, AmountDue(m, amount))
	if m.Fee > 0 {
		fmt.Fprintf(&b, "Includes fee: %s%s\n", currency, m.Fee)
	}
	if m.Instructions != "" {
		b.WriteString(m.Instructions)
		b.WriteString("\n")
	}
	return b.String()
}
