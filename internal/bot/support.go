package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/wizard"
)

const faqResults = 3

func (b *Bot) cmdSupport(ctx context.Context, r request) {
	tickets, err := b.svc.Tickets(ctx, r.user.ID, listLimit)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(tickets) == 0 {
		b.reply(r.chatID, "You have no support tickets. Send /ticket to open one or /faq to browse answers.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your tickets:\n")
	for _, t := range tickets {
		fmt.Fprintf(&sb, "%s %q: %s\n", t.Number, t.Subject, t.Status)
		if t.Response != "" {
			fmt.Fprintf(&sb, "  Reply: %s\n", t.Response)
		}
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) cmdFAQ(ctx context.Context, r request) {
	if len(r.args) == 0 {
		b.reply(r.chatID, fmt.Sprintf("Topics: %s\n\nSend /faq <question> to search.",
			strings.Join(b.desk.Categories(), ", ")))
		return
	}

	matches := b.desk.Search(strings.Join(r.args, " "), faqResults)
	if len(matches) == 0 {
		b.reply(r.chatID, "Nothing found. Send /ticket to ask our team.")
		return
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m.FAQ.Question+"\n"+m.FAQ.Answer)
	}
	b.reply(r.chatID, strings.Join(parts, "\n\n"))
}

func (b *Bot) finishTicket(ctx context.Context, chatID, userID int64, v wizard.Values) {
	t, err := b.svc.CreateTicket(ctx, userID, v.Get(wizard.KeySubject), v.Get(wizard.KeyMessage),
		model.TicketPriority(v.Get(wizard.KeyPriority)))
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Ticket %s created with %s priority. We will reply here; send /support to check its status.",
		t.Number, t.Priority))
}

func (b *Bot) cmdTickets(ctx context.Context, r request) {
	tickets, err := b.svc.PendingTickets(ctx, pendingLimit)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(tickets) == 0 {
		b.reply(r.chatID, "No open tickets.")
		return
	}

	for _, t := range tickets {
		b.reply(r.chatID, fmt.Sprintf("Ticket #%d %s [%s, %s]\nUser: %d\nSubject: %s\n\n%s\n\nReply with /reply %d <text>",
			t.ID, t.Number, t.Priority, t.Status, t.UserID, t.Subject, t.Message, t.ID))
	}
}

func (b *Bot) cmdReply(ctx context.Context, r request) {
	id, ok := argID(r.args, 0)
	if !ok || len(r.args) < 2 {
		b.reply(r.chatID, "Usage: /reply <ticket id> <text>")
		return
	}

	t, err := b.svc.RespondTicket(ctx, id, r.user.ID, strings.Join(r.args[1:], " "))
	if err != nil {
		b.replyTicketError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Reply to ticket %s sent to user %d.", t.Number, t.UserID))
}

func (b *Bot) cmdTicketStatus(ctx context.Context, r request) {
	const usage = "Usage: /ticketstatus <ticket id> <open|in_progress|resolved|closed>"
	id, ok := argID(r.args, 0)
	if !ok || len(r.args) < 2 {
		b.reply(r.chatID, usage)
		return
	}
	status, ok := model.ParseTicketStatus(strings.ToLower(r.args[1]))
	if !ok {
		b.reply(r.chatID, usage)
		return
	}

	t, err := b.svc.SetTicketStatus(ctx, id, status)
	if err != nil {
		b.replyTicketError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Ticket %s is now %s.", t.Number, t.Status))
}

func (b *Bot) replyTicketError(chatID int64, err error) {
	if errors.Is(err, repository.ErrAlreadyProcessed) {
		b.reply(chatID, "This ticket is closed.")
		return
	}
	b.replyError(chatID, err)
}

func (b *Bot) cmdReport(ctx context.Context, r request) {
	var period model.Period
	if len(r.args) > 0 {
		p, ok := model.ParsePeriod(strings.ToLower(r.args[0]))
		if !ok {
			b.reply(r.chatID, "Usage: /report [daily|weekly|monthly]")
			return
		}
		period = p
	}

	rep, err := b.svc.Report(ctx, period)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, b.reportText(rep))
}

func (b *Bot) reportText(rep *model.Report) string {
	cur := rep.Current

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s report, %s to %s UTC\n", strings.ToUpper(string(rep.Period[:1]))+string(rep.Period[1:]),
		cur.From.UTC().Format("2006-01-02 15:04"), cur.To.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "Sales: %s from %d orders (%d customers)\n", b.amount(cur.Sales), cur.Orders, cur.Customers)
	fmt.Fprintf(&sb, "Average order: %s\n", b.amount(cur.AverageOrder()))
	fmt.Fprintf(&sb, "Discounts: %s\n", b.amount(cur.Discounts))
	fmt.Fprintf(&sb, "Deposits: %s (%d)\n", b.amount(cur.Deposits), cur.DepositCount)

	if g, ok := rep.Growth(); ok {
		sign := ""
		if g.IsPositive() {
			sign = "+"
		}
		fmt.Fprintf(&sb, "Change vs previous period: %s%s%%\n", sign, g.String())
	} else {
		sb.WriteString("Change vs previous period: n/a\n")
	}

	if len(cur.Methods) > 0 {
		sb.WriteString("\nDeposits by method:\n")
		for _, m := range cur.Methods {
			fmt.Fprintf(&sb, "%s: %s (%d)\n", m.Method, b.amount(m.Amount), m.Count)
		}
	}
	if len(rep.TopCustomers) > 0 {
		sb.WriteString("\nTop customers:\n")
		for i, c := range rep.TopCustomers {
			fmt.Fprintf(&sb, "%d. %s (%d): %s, %d orders\n", i+1, customerName(c), c.UserID, b.amount(c.Spent), c.Orders)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func customerName(c model.CustomerStat) string {
	if c.Username != "" {
		return "@" + c.Username
	}
	return c.FirstName
}
