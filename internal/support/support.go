// Package support содержит справочник частых вопросов и автоматические ответы на типовые обращения.
package support

import (
	"regexp"
	"sort"
	"strings"
)

// MinAutoScore: минимальная релевантность статьи справочника для автоматического ответа.
const MinAutoScore = 5

// Веса совпадений при поиске.
const (
	scoreQuestion = 10
	scoreKeyword  = 5
	scoreAnswer   = 2
)

// Категории обращений.
const (
	CategoryGeneral  = "general"
	CategoryOrders   = "orders"
	CategoryPayments = "payments"
	CategoryAccount  = "account"
)

// FAQ: статья справочника.
type FAQ struct {
	Category string   `yaml:"category"`
	Question string   `yaml:"question"`
	Answer   string   `yaml:"answer"`
	Keywords []string `yaml:"keywords"`
}

// Match: найденная статья и её релевантность.
type Match struct {
	FAQ   FAQ
	Score int
}

// Reply: автоматический ответ на сообщение пользователя.
type Reply struct {
	Kind string
	Text string
}

type quickReply struct {
	kind    string
	pattern *regexp.Regexp
	text    string
}

// Порядок важен: срабатывает первый подходящий шаблон.
var quickReplies = []quickReply{
	{
		kind:    "greeting",
		pattern: regexp.MustCompile(`\b(hi|hello|hey|good (morning|afternoon|evening))\b`),
		text:    "Hi there! How can I help you today? Send /faq to browse answers or /ticket to contact support.",
	},
	{
		kind:    "order_status",
		pattern: regexp.MustCompile(`\b(order status|track|tracking|where.*order|order.*status)\b`),
		text:    "To check your orders, send /orders. If something is missing, open a ticket with /ticket and include the order number.",
	},
	{
		kind:    "payment_issue",
		pattern: regexp.MustCompile(`\b(payment|pay|gcash|paymaya|bank transfer|cod|cash on delivery)\b`),
		text:    "For deposits, send /deposits to see their status. Pending proofs are reviewed by an admin. If a payment went missing, open a ticket with /ticket and include the reference number.",
	},
	{
		kind:    "product_inquiry",
		pattern: regexp.MustCompile(`\b(product|item|available|stock|price|cost|how much)\b`),
		text:    "Send /catalog to browse products with current prices and stock.",
	},
	{
		kind:    "contact_human",
		pattern: regexp.MustCompile(`\b(human|agent|representative|talk to|speak to|contact|help me)\b`),
		text:    "Open a ticket with /ticket and our team will get back to you.",
	},
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryPayments, []string{"deposit", "payment", "paid", "gcash", "paymaya", "bank", "refund", "balance"}},
	{CategoryOrders, []string{"order", "purchase", "bought", "account details", "delivery", "voucher"}},
	{CategoryAccount, []string{"account", "banned", "suspended", "profile"}},
}

// Desk отвечает на вопросы по справочнику. Безопасен для конкурентного чтения.
type Desk struct {
	faqs []FAQ
}

// NewDesk создаёт справочник; без статей используются DefaultFAQs.
func NewDesk(faqs []FAQ) *Desk {
	if len(faqs) == 0 {
		faqs = DefaultFAQs()
	}
	return &Desk{faqs: faqs}
}

// FAQs возвращает все статьи.
func (d *Desk) FAQs() []FAQ {
	return d.faqs
}

// Categories возвращает категории статей в порядке первого появления.
func (d *Desk) Categories() []string {
	seen := make(map[string]bool)
	var res []string
	for _, f := range d.faqs {
		if !seen[f.Category] {
			seen[f.Category] = true
			res = append(res, f.Category)
		}
	}
	return res
}

// Search ищет статьи по запросу: совпадение в вопросе весит 10, ключевое слово 5, текст ответа 2.
// Результаты отсортированы по убыванию релевантности, при равенстве сохраняется порядок справочника.
func (d *Desk) Search(query string, limit int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var res []Match
	for _, f := range d.faqs {
		if score := relevance(f, q); score > 0 {
			res = append(res, Match{FAQ: f, Score: score})
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func relevance(f FAQ, q string) int {
	score := 0
	if strings.Contains(strings.ToLower(f.Question), q) {
		score += scoreQuestion
	}
	for _, kw := range f.Keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(q, kw) || strings.Contains(kw, q) {
			score += scoreKeyword
		}
	}
	if strings.Contains(strings.ToLower(f.Answer), q) {
		score += scoreAnswer
	}
	return score
}

// AutoRespond подбирает ответ на сообщение: сначала по шаблонам, затем по справочнику.
func (d *Desk) AutoRespond(message string) (Reply, bool) {
	lower := strings.ToLower(message)
	for _, qr := range quickReplies {
		if qr.pattern.MatchString(lower) {
			return Reply{Kind: qr.kind, Text: qr.text}, true
		}
	}

	if matches := d.Search(message, 1); len(matches) > 0 && matches[0].Score > MinAutoScore {
		f := matches[0].FAQ
		return Reply{Kind: "faq", Text: "This might help:\n\n" + f.Question + "\n" + f.Answer}, true
	}
	return Reply{}, false
}

// Categorize относит обращение к категории по ключевым словам.
func Categorize(text string) string {
	lower := strings.ToLower(text)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// DefaultFAQs возвращает встроенный справочник.
func DefaultFAQs() []FAQ {
	return []FAQ{
		{
			Category: CategoryOrders,
			Question: "How do I place an order?",
			Answer:   "Top up your balance with /deposit, browse /catalog, pick a variant and confirm with /buy. The price is deducted from your balance.",
			Keywords: []string{"order", "buy", "purchase", "how to order"},
		},
		{
			Category: CategoryOrders,
			Question: "Where can I see my orders?",
			Answer:   "Send /orders to list your recent purchases with their order numbers.",
			Keywords: []string{"my orders", "order history", "receipt"},
		},
		{
			Category: CategoryOrders,
			Question: "How do vouchers work?",
			Answer:   "Check a code with /voucher CODE amount, then add it to /buy. A voucher may have a minimum order, a usage limit and an expiry date.",
			Keywords: []string{"voucher", "discount", "coupon", "promo"},
		},
		{
			Category: CategoryPayments,
			Question: "How do I top up my balance?",
			Answer:   "Send /deposit amount method, pay using the instructions, then send a screenshot of the payment or use /proof with the reference number.",
			Keywords: []string{"deposit", "top up", "gcash", "paymaya", "bank", "cash on delivery"},
		},
		{
			Category: CategoryPayments,
			Question: "How long does payment verification take?",
			Answer:   "An admin reviews each proof manually, usually within a few hours. Unverified requests expire automatically and nothing is charged.",
			Keywords: []string{"verification", "verify payment", "how long", "payment confirmation", "pending"},
		},
		{
			Category: CategoryAccount,
			Question: "How do I check my balance?",
			Answer:   "Send /balance for your current balance and /history for recent movements.",
			Keywords: []string{"balance", "history", "transactions"},
		},
		{
			Category: CategoryGeneral,
			Question: "How do I contact support?",
			Answer:   "Open a ticket with /ticket. You will get a message here as soon as an admin replies. Send /support to see your tickets.",
			Keywords: []string{"support", "ticket", "complaint", "problem"},
		},
	}
}
