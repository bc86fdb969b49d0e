package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/notify"
	"github.com/iwrumi/corebotstore/internal/service"
	"github.com/iwrumi/corebotstore/internal/voucher"
	"github.com/iwrumi/corebotstore/internal/wizard"
)

const defaultDebitReason = "admin adjustment"

func (b *Bot) cmdPending(ctx context.Context, r request) {
	deposits, err := b.svc.PendingDeposits(ctx, pendingLimit)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(deposits) == 0 {
		b.reply(r.chatID, "No deposits awaiting review.")
		return
	}

	for _, d := range deposits {
		text := b.depositLine(d) + fmt.Sprintf("\nUser: %d", d.UserID)
		if d.Reference != "" {
			text += "\nReference: " + d.Reference
		}
		if d.ProofFileID != "" {
			text += "\nReceipt photo attached"
		}
		b.replyWithKeyboard(r.chatID, text, notify.ModerationKeyboard(d.ID))
	}
}

func (b *Bot) cmdApprove(ctx context.Context, r request) {
	id, ok := argID(r.args, 0)
	if !ok {
		b.reply(r.chatID, "Usage: /approve <deposit id>")
		return
	}
	b.approve(ctx, r.chatID, r.user.ID, id)
}

func (b *Bot) approve(ctx context.Context, chatID, adminID, depositID int64) {
	res, err := b.svc.ApproveDeposit(ctx, depositID, adminID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Deposit #%d approved: %s credited to user %d, balance %s.",
		res.Deposit.ID, b.amount(res.Deposit.Amount), res.Deposit.UserID, b.amount(res.Balance)))
}

func (b *Bot) cmdReject(ctx context.Context, r request) {
	id, ok := argID(r.args, 0)
	if !ok {
		b.reply(r.chatID, "Usage: /reject <deposit id> [reason]")
		return
	}
	b.rejectDeposit(ctx, r.chatID, r.user.ID, id, strings.Join(r.args[1:], " "))
}

func (b *Bot) rejectDeposit(ctx context.Context, chatID, adminID, depositID int64, reason string) {
	d, err := b.svc.RejectDeposit(ctx, depositID, adminID, reason)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Deposit #%d rejected.", d.ID))
}

func (b *Bot) cmdDeduct(ctx context.Context, r request) {
	const usage = "Usage: /deduct <user id> <amount> [reason]"
	userID, ok := argID(r.args, 0)
	if !ok || len(r.args) < 2 {
		b.reply(r.chatID, usage)
		return
	}
	amount, err := money.Parse(r.args[1])
	if err != nil {
		b.reply(r.chatID, usage)
		return
	}
	reason := strings.Join(r.args[2:], " ")
	if reason == "" {
		reason = defaultDebitReason
	}

	balance, err := b.svc.Debit(ctx, userID, amount, reason)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Debited %s from user %d. New balance: %s.", b.amount(amount), userID, b.amount(balance)))
}

func (b *Bot) cmdStock(ctx context.Context, r request) {
	b.changeStock(ctx, r, "Usage: /stock <variant id> <qty>", b.svc.SetStock)
}

func (b *Bot) cmdAddStock(ctx context.Context, r request) {
	b.changeStock(ctx, r, "Usage: /addstock <variant id> <delta>", b.svc.AddStock)
}

func (b *Bot) changeStock(ctx context.Context, r request, usage string,
	apply func(ctx context.Context, variantID int64, n int) (*model.Variant, error)) {
	id, ok := argID(r.args, 0)
	if !ok || len(r.args) < 2 {
		b.reply(r.chatID, usage)
		return
	}
	n, err := strconv.Atoi(r.args[1])
	if err != nil {
		b.reply(r.chatID, usage)
		return
	}

	v, err := apply(ctx, id, n)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Variant #%d %q stock: %d.", v.ID, v.Name, v.Stock))
}

func (b *Bot) cmdLowStock(ctx context.Context, r request) {
	variants, err := b.svc.LowStock(ctx)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(variants) == 0 {
		b.reply(r.chatID, "All variants are well stocked.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Low stock:\n")
	for _, v := range variants {
		fmt.Fprintf(&sb, "#%d %s: %d left\n", v.ID, v.Name, v.Stock)
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) cmdNewCategory(ctx context.Context, r request) {
	if len(r.args) < 2 {
		b.reply(r.chatID, "Usage: /newcategory <id> <name>")
		return
	}
	c, err := b.svc.CreateCategory(ctx, strings.ToLower(r.args[0]), strings.Join(r.args[1:], " "), "")
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Category %q (%s) created.", c.Name, c.ID))
}

func (b *Bot) cmdVouchers(ctx context.Context, r request) {
	vouchers, err := b.svc.Vouchers(ctx, false)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(vouchers) == 0 {
		b.reply(r.chatID, "No vouchers yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Vouchers:\n")
	for _, v := range vouchers {
		usage := strconv.Itoa(v.UsageCount)
		if v.UsageLimit > 0 {
			usage += "/" + strconv.Itoa(v.UsageLimit)
		}
		state := "active"
		if !v.IsActive {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "%s %s, used %s, %s\n", v.Code, voucher.Label(v), usage, state)
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) cmdDisableVoucher(ctx context.Context, r request) {
	if len(r.args) == 0 {
		b.reply(r.chatID, "Usage: /disablevoucher <code>")
		return
	}
	v, err := b.svc.DisableVoucher(ctx, r.args[0])
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Voucher %s disabled.", v.Code))
}

func (b *Bot) cmdStats(ctx context.Context, r request) {
	s, err := b.svc.Stats(ctx)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Users: %d (%d with balance)
Total user balance: %s
Completed deposits: %s
Pending deposits: %d (%s)
Orders: %d
Revenue: %s`,
		s.Users, s.UsersWithBalance, b.amount(s.TotalUserBalance), b.amount(s.CompletedDeposits),
		s.PendingDeposits, b.amount(s.PendingDepositTotal), s.Orders, b.amount(s.Revenue))

	if len(s.Periods) > 0 {
		sb.WriteString("\n\nSales:")
		for _, p := range s.Periods {
			fmt.Fprintf(&sb, "\n%s: %s from %d orders, %s deposited",
				p.Period, b.amount(p.Revenue.Sales), p.Revenue.Orders, b.amount(p.Revenue.Deposits))
		}
	}
	if len(s.Methods) > 0 {
		sb.WriteString("\n\nDeposits by method:")
		for _, m := range s.Methods {
			fmt.Fprintf(&sb, "\n%s: %s (%d)", m.Method, b.amount(m.Amount), m.Count)
		}
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) cmdToken(ctx context.Context, r request) {
	if b.tokens == nil {
		b.reply(r.chatID, "The admin API is disabled.")
		return
	}
	token, expires, err := b.tokens.IssueToken(r.user.ID)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("Admin API token (valid until %s UTC):\n%s",
		expires.UTC().Format("2006-01-02 15:04"), token))
}

func (b *Bot) startWizard(flow func() wizard.Flow) command {
	return func(ctx context.Context, r request) {
		prompt := b.wizards.Start(r.chatID, flow())
		b.reply(r.chatID, prompt+"\n\nSend /cancel to stop.")
	}
}

func (b *Bot) advanceWizard(ctx context.Context, chatID int64, user *model.User, text string) {
	reply, err := b.wizards.Advance(chatID, text)
	switch {
	case errors.Is(err, wizard.ErrNoSession):
		b.reply(chatID, "Send /help to see what I can do.")
		return
	case err != nil:
		b.reply(chatID, b.errorText(err)+"\n"+reply.Prompt)
		return
	case !reply.Done:
		b.reply(chatID, reply.Prompt)
		return
	}

	if reply.Flow == wizard.FlowTicket {
		b.finishTicket(ctx, chatID, user.ID, reply.Values)
		return
	}
	if !b.policy.IsAdmin(user.ID) {
		return
	}
	switch reply.Flow {
	case wizard.FlowNewVoucher:
		b.finishVoucher(ctx, chatID, reply.Values)
	case wizard.FlowNewProduct:
		b.finishProduct(ctx, chatID, reply.Values)
	case wizard.FlowNewVariant:
		b.finishVariant(ctx, chatID, reply.Values)
	case wizard.FlowBroadcast:
		b.finishBroadcast(ctx, chatID, user.ID, reply.Values)
	}
}

func optionalMoney(s string) money.Money {
	if s == "" {
		return 0
	}
	m, _ := money.Parse(s)
	return m
}

func optionalInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func (b *Bot) finishVoucher(ctx context.Context, chatID int64, v wizard.Values) {
	nv := service.NewVoucher{
		Code:         v.Get(wizard.KeyCode),
		Name:         v.Get(wizard.KeyName),
		DiscountType: model.DiscountType(v.Get(wizard.KeyType)),
		// проценты и суммы вводятся с двумя знаками: 12.5% и 12.50 хранятся как 1250
		DiscountValue:   int64(optionalMoney(v.Get(wizard.KeyValue))),
		MinimumOrder:    optionalMoney(v.Get(wizard.KeyMinOrder)),
		MaximumDiscount: optionalMoney(v.Get(wizard.KeyMaxDiscount)),
		UsageLimit:      optionalInt(v.Get(wizard.KeyUsageLimit)),
	}
	if days := optionalInt(v.Get(wizard.KeyValidDays)); days > 0 {
		until := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
		nv.ValidUntil = &until
	}

	created, err := b.svc.CreateVoucher(ctx, nv)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Voucher %s created: %s.", created.Code, voucher.Label(*created)))
}

func (b *Bot) finishProduct(ctx context.Context, chatID int64, v wizard.Values) {
	p, err := b.svc.CreateProduct(ctx, v.Get(wizard.KeyCategory), v.Get(wizard.KeyName), v.Get(wizard.KeyDescription))
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Product #%d %q created. Add options with /newvariant.", p.ID, p.Name))
}

func (b *Bot) finishVariant(ctx context.Context, chatID int64, v wizard.Values) {
	productID, _ := strconv.ParseInt(v.Get(wizard.KeyProduct), 10, 64)
	created, err := b.svc.CreateVariant(ctx, productID, v.Get(wizard.KeyName),
		optionalMoney(v.Get(wizard.KeyPrice)), optionalInt(v.Get(wizard.KeyStock)))
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Variant #%d %q created at %s with %d in stock.",
		created.ID, created.Name, b.amount(created.Price), created.Stock))
}

func (b *Bot) finishBroadcast(ctx context.Context, chatID, adminID int64, v wizard.Values) {
	if b.broadcaster == nil {
		b.reply(chatID, "Broadcasts are disabled.")
		return
	}

	segment := model.ParseSegment(v.Get(wizard.KeySegment))
	message := v.Get(wizard.KeyMessage)
	b.reply(chatID, fmt.Sprintf("Broadcast to %s users started.", segment))

	bctx := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res, err := b.broadcaster.Send(bctx, message, segment, adminID)
		if err != nil {
			b.logger.Error("broadcast failed", zap.Error(err))
			b.replyError(chatID, err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Broadcast #%d finished: %d sent, %d failed.",
			res.Broadcast.ID, res.Sent, res.Failed))
	}()
}

func argID(args []string, i int) (int64, bool) {
	if len(args) <= i {
		return 0, false
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	return id, err == nil && id > 0
}
