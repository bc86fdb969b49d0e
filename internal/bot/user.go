package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/payment"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

const userHelp = `Commands:
/balance - your balance
/history - recent balance changes
/deposit <amount> [method] - top up your balance
/proof <deposit id> <reference> - send a payment reference
/deposits - your deposits
/catalog - browse products
/buy <variant id> [qty] [voucher] - buy an item
/voucher <code> <total> - check a voucher
/orders - your orders
/ticket - contact support
/support - your support tickets
/faq [question] - frequently asked questions
/cancel - cancel the current dialog

Send a photo of your receipt to attach it to your open deposit.`

const adminHelp = `Admin:
/pending - deposits awaiting review
/approve <id> - approve a deposit
/reject <id> [reason] - reject a deposit
/deduct <user id> <amount> [reason] - debit a balance
/stock <variant id> <qty> - set stock
/addstock <variant id> <delta> - change stock
/lowstock - variants running out
/newcategory <id> <name> - add a category
/newproduct - add a product
/newvariant - add a variant
/newvoucher - create a voucher
/vouchers - list vouchers
/disablevoucher <code> - disable a voucher
/broadcast - message users
/stats - store statistics
/report [daily|weekly|monthly] - sales report
/tickets - open support tickets
/reply <ticket id> <text> - answer a ticket
/ticketstatus <ticket id> <status> - change ticket status
/token - admin API token`

func (b *Bot) cmdStart(ctx context.Context, r request) {
	text := fmt.Sprintf("Welcome, %s!\nYour balance: %s\n\n", r.user.DisplayName(), b.amount(r.user.Balance))
	b.reply(r.chatID, text+b.helpText(r.user.ID))
}

func (b *Bot) cmdHelp(ctx context.Context, r request) {
	b.reply(r.chatID, b.helpText(r.user.ID))
}

func (b *Bot) helpText(userID int64) string {
	if b.policy.IsAdmin(userID) {
		return userHelp + "\n\n" + adminHelp
	}
	return userHelp
}

func (b *Bot) cmdBalance(ctx context.Context, r request) {
	u := r.user
	b.reply(r.chatID, fmt.Sprintf("Balance: %s\nTotal deposited: %s\nTotal spent: %s\nOrders: %d",
		b.amount(u.Balance), b.amount(u.TotalDeposited), b.amount(u.TotalSpent), u.OrderCount))
}

func (b *Bot) cmdHistory(ctx context.Context, r request) {
	entries, err := b.svc.History(ctx, r.user.ID, listLimit)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(entries) == 0 {
		b.reply(r.chatID, "No balance changes yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent balance changes:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s %s %s (%s), balance %s\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, b.amount(e.Amount), e.Reason, b.amount(e.BalanceAfter))
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) cmdDeposit(ctx context.Context, r request) {
	if len(r.args) == 0 {
		b.replyWithKeyboard(r.chatID, "How much would you like to deposit?", b.amountsKeyboard())
		return
	}

	amount, err := money.Parse(r.args[0])
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(r.args) < 2 {
		b.offerMethods(r.chatID, amount)
		return
	}
	b.createDeposit(ctx, r.chatID, r.user.ID, amount, strings.ToLower(r.args[1]))
}

func (b *Bot) amountsKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, units := range payment.SuggestedAmounts {
		m := money.FromUnits(units)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.amount(m), cbAmount+m.String()))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) offerMethods(chatID int64, amount money.Money) {
	if err := b.svc.ValidateDepositAmount(amount); err != nil {
		b.replyError(chatID, err)
		return
	}

	methods := b.svc.Payments().Available(amount)
	if len(methods) == 0 {
		b.reply(chatID, "No payment method accepts this amount.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range methods {
		label := m.Name
		if m.Fee > 0 {
			label += " (+" + b.amount(m.Fee) + " fee)"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbMethod+amount.String()+":"+m.ID),
		))
	}
	b.replyWithKeyboard(chatID, "Choose a payment method for "+b.amount(amount)+":", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) createDeposit(ctx context.Context, chatID, userID int64, amount money.Money, methodID string) {
	res, err := b.svc.CreateDeposit(ctx, userID, amount, methodID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	d := res.Deposit
	if d.Status == model.DepositStatusCompleted {
		// уведомление о зачислении отправляет сервис
		return
	}

	method, _ := b.svc.Payments().Lookup(d.PaymentMethod)
	text := fmt.Sprintf("Deposit #%d created.\n\n%s\nAfter paying, send a photo of the receipt here, or /proof %d <reference>.",
		d.ID, payment.Instructions(method, d.Amount, b.currency), d.ID)
	b.reply(chatID, text)
}

func (b *Bot) cmdProof(ctx context.Context, r request) {
	if len(r.args) < 2 {
		b.reply(r.chatID, "Usage: /proof <deposit id> <reference>")
		return
	}
	id, err := strconv.ParseInt(r.args[0], 10, 64)
	if err != nil {
		b.reply(r.chatID, "Usage: /proof <deposit id> <reference>")
		return
	}
	b.submitProof(ctx, r.chatID, r.user.ID, id, "", strings.Join(r.args[1:], " "))
}

func (b *Bot) handlePhoto(ctx context.Context, chatID int64, user *model.User, msg *tgbotapi.Message) {
	d, err := b.svc.LatestOpenDeposit(ctx, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		b.reply(chatID, "You have no open deposit. Start one with /deposit.")
		return
	}
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	// последний элемент содержит фото наибольшего размера
	fileID := msg.Photo[len(msg.Photo)-1].FileID
	b.submitProof(ctx, chatID, user.ID, d.ID, fileID, msg.Caption)
}

func (b *Bot) submitProof(ctx context.Context, chatID, userID, depositID int64, fileID, reference string) {
	d, err := b.svc.SubmitProof(ctx, userID, depositID, fileID, reference)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Thanks! Deposit #%d is now awaiting review.", d.ID))
}

func (b *Bot) cmdDeposits(ctx context.Context, r request) {
	deposits, err := b.svc.UserDeposits(ctx, r.user.ID, listLimit)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(deposits) == 0 {
		b.reply(r.chatID, "You have no deposits yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your deposits:\n")
	for _, d := range deposits {
		sb.WriteString(b.depositLine(d))
		sb.WriteString("\n")
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) depositLine(d model.Deposit) string {
	line := fmt.Sprintf("#%d %s via %s: %s", d.ID, b.amount(d.Amount), d.PaymentMethod, d.Status)
	if d.Note != "" {
		line += " (" + d.Note + ")"
	}
	return line
}

func (b *Bot) cmdCatalog(ctx context.Context, r request) {
	categories, err := b.svc.Categories(ctx)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(categories) == 0 {
		b.reply(r.chatID, "The catalog is empty.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range categories {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.Name, cbCategory+c.ID),
		))
	}
	b.replyWithKeyboard(r.chatID, "Choose a category:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) showProducts(ctx context.Context, chatID int64, categoryID string) {
	products, err := b.svc.Products(ctx, categoryID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if len(products) == 0 {
		b.reply(chatID, "No products in this category yet.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range products {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Name, cbProduct+strconv.FormatInt(p.ID, 10)),
		))
	}
	b.replyWithKeyboard(chatID, "Choose a product:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) showVariants(ctx context.Context, chatID, productID int64) {
	product, err := b.svc.Product(ctx, productID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	variants, err := b.svc.Variants(ctx, productID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	var sb strings.Builder
	sb.WriteString(product.Name)
	if product.Description != "" {
		sb.WriteString("\n" + product.Description)
	}
	if len(variants) == 0 {
		b.reply(chatID, sb.String()+"\n\nNo options available yet.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, v := range variants {
		label := fmt.Sprintf("%s - %s", v.Name, b.amount(v.Price))
		if v.Stock == 0 {
			sb.WriteString("\n" + label + " (sold out)")
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbBuy+strconv.FormatInt(v.ID, 10)),
		))
	}
	if len(rows) == 0 {
		b.reply(chatID, sb.String())
		return
	}
	b.replyWithKeyboard(chatID, sb.String()+"\n\nChoose an option to buy one:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) cmdBuy(ctx context.Context, r request) {
	const usage = "Usage: /buy <variant id> [qty] [voucher]"
	if len(r.args) == 0 {
		b.reply(r.chatID, usage)
		return
	}
	variantID, err := strconv.ParseInt(r.args[0], 10, 64)
	if err != nil {
		b.reply(r.chatID, usage)
		return
	}

	qty := 1
	code := ""
	if len(r.args) > 1 {
		if n, err := strconv.Atoi(r.args[1]); err == nil {
			qty = n
			if len(r.args) > 2 {
				code = r.args[2]
			}
		} else {
			code = r.args[1]
		}
	}
	b.purchase(ctx, r.chatID, r.user.ID, variantID, qty, code)
}

func (b *Bot) purchase(ctx context.Context, chatID, userID, variantID int64, qty int, code string) {
	if _, err := b.svc.Purchase(ctx, userID, variantID, qty, code); err != nil {
		b.replyError(chatID, err)
	}
	// чек отправляет сервис через уведомления
}

func (b *Bot) cmdVoucher(ctx context.Context, r request) {
	if len(r.args) < 2 {
		b.reply(r.chatID, "Usage: /voucher <code> <order total>")
		return
	}
	total, err := money.Parse(r.args[1])
	if err != nil || total <= 0 {
		b.reply(r.chatID, "Usage: /voucher <code> <order total>")
		return
	}

	v, discount, err := b.svc.ValidateVoucher(ctx, r.args[0], total)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	b.reply(r.chatID, fmt.Sprintf("%s (%s): %s\nDiscount: %s\nYou pay: %s",
		v.Code, voucher.Label(*v), v.Name, b.amount(discount), b.amount(total-discount)))
}

func (b *Bot) cmdOrders(ctx context.Context, r request) {
	orders, err := b.svc.Orders(ctx, r.user.ID, listLimit)
	if err != nil {
		b.replyError(r.chatID, err)
		return
	}
	if len(orders) == 0 {
		b.reply(r.chatID, "You have no orders yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your orders:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "%s %s / %s x%d: %s\n", o.Number, o.ProductName, o.VariantName, o.Quantity, b.amount(o.Total))
	}
	b.reply(r.chatID, sb.String())
}

func (b *Bot) cmdCancel(ctx context.Context, r request) {
	if b.wizards.Cancel(r.chatID) {
		b.reply(r.chatID, "Cancelled.")
		return
	}
	b.reply(r.chatID, "Nothing to cancel.")
}
