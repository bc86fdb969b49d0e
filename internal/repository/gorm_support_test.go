package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

func TestTicketLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, 1, 0)

	_, err := r.CreateTicket(ctx, NewTicket{Number: "TK-0", UserID: 42, Subject: "Lost", Message: "nobody", Now: testNow})
	assert.ErrorIs(t, err, ErrNotFound)

	tk, err := r.CreateTicket(ctx, NewTicket{
		Number:   "TK-1",
		UserID:   1,
		Subject:  "Order not delivered",
		Message:  "I paid for Netflix but got nothing",
		Priority: model.TicketPriorityHigh,
		Category: "orders",
		Now:      testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusOpen, tk.Status)
	assert.Equal(t, model.TicketPriorityHigh, tk.Priority)
	assert.Nil(t, tk.RespondedAt)

	_, err = r.CreateTicket(ctx, NewTicket{Number: "TK-1", UserID: 1, Subject: "dup", Message: "dup", Now: testNow})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	later := testNow.Add(time.Hour)
	answered, err := r.RespondTicket(ctx, tk.ID, 99, "Resent your account details", later)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusInProgress, answered.Status)
	assert.Equal(t, "Resent your account details", answered.Response)
	assert.Equal(t, int64(99), answered.RespondedBy)
	require.NotNil(t, answered.RespondedAt)
	assert.True(t, answered.RespondedAt.Equal(later))

	resolved, err := r.SetTicketStatus(ctx, tk.ID, model.TicketStatusResolved, later)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusResolved, resolved.Status)

	again, err := r.RespondTicket(ctx, tk.ID, 99, "One more note", later)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusResolved, again.Status, "answer keeps a resolved ticket resolved")

	_, err = r.SetTicketStatus(ctx, tk.ID, model.TicketStatusClosed, later)
	require.NoError(t, err)

	_, err = r.RespondTicket(ctx, tk.ID, 99, "late", later)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	_, err = r.SetTicketStatus(ctx, tk.ID, model.TicketStatusOpen, later)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = r.RespondTicket(ctx, 404, 99, "x", later)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetTicket(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTickets(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, 1, 0)
	seedUser(t, r, 2, 0)

	var ids []int64
	for i, user := range []int64{1, 2, 1} {
		tk, err := r.CreateTicket(ctx, NewTicket{
			Number:   "TK-" + string(rune('A'+i)),
			UserID:   user,
			Subject:  "Subject",
			Message:  "Message body",
			Priority: model.TicketPriorityMedium,
			Now:      testNow.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, tk.ID)
	}
	_, err := r.SetTicketStatus(ctx, ids[0], model.TicketStatusResolved, testNow)
	require.NoError(t, err)

	mine, err := r.ListTickets(ctx, TicketFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, ids[2], mine[0].ID, "newest first")

	pending, err := r.ListTickets(ctx, TicketFilter{Statuses: []model.TicketStatus{model.TicketStatusOpen, model.TicketStatusInProgress}})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, tk := range pending {
		assert.True(t, tk.Open())
	}

	limited, err := r.ListTickets(ctx, TicketFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRevenueAndTopCustomers(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, 1, money.FromUnits(500))
	seedUser(t, r, 2, money.FromUnits(300))
	v := seedVariant(t, r, money.FromUnits(100), 10)

	_, err := r.CreateDeposit(ctx, NewDeposit{UserID: 2, Amount: money.FromUnits(50), PaymentMethod: "gcash", Now: testNow})
	require.NoError(t, err)
	gcash, err := r.CreateDeposit(ctx, NewDeposit{UserID: 2, Amount: money.FromUnits(70), PaymentMethod: "gcash", Now: testNow})
	require.NoError(t, err)
	_, err = r.CompleteDeposit(ctx, gcash.Deposit.ID, 99, testNow)
	require.NoError(t, err)

	for i, p := range []PurchaseParams{
		{UserID: 1, VariantID: v.ID, Quantity: 3},
		{UserID: 2, VariantID: v.ID, Quantity: 1},
		{UserID: 1, VariantID: v.ID, Quantity: 1},
	} {
		p.OrderNumber = "ORD-" + string(rune('A'+i))
		p.Now = testNow
		_, err := r.Purchase(ctx, p)
		require.NoError(t, err)
	}

	from, to := testNow.Add(-time.Hour), testNow.Add(time.Hour)
	rev, err := r.Revenue(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, rev.DepositCount, "pending deposit is not revenue")
	assert.Equal(t, money.FromUnits(870), rev.Deposits)
	assert.Equal(t, 3, rev.Orders)
	assert.Equal(t, money.FromUnits(500), rev.Sales)
	assert.Equal(t, 2, rev.Customers)
	assert.Equal(t, money.FromUnits(166)+66, rev.AverageOrder())
	assert.Equal(t, []model.MethodStat{
		{Method: "cod", Count: 2, Amount: money.FromUnits(800)},
		{Method: "gcash", Count: 1, Amount: money.FromUnits(70)},
	}, rev.Methods)

	empty, err := r.Revenue(ctx, to, to.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Orders)
	assert.Zero(t, empty.Deposits)
	assert.Empty(t, empty.Methods)
	assert.Equal(t, money.Money(0), empty.AverageOrder())

	top, err := r.TopCustomers(ctx, from, to, TopCustomersLimit)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].UserID)
	assert.Equal(t, "user1", top[0].FirstName)
	assert.Equal(t, 2, top[0].Orders)
	assert.Equal(t, money.FromUnits(400), top[0].Spent)
	assert.Equal(t, int64(2), top[1].UserID)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, rev.Methods, stats.Methods)
}
