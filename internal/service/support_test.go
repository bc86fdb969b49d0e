package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/support"
)

func TestTicketFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, err := f.svc.CreateTicket(ctx, 1, "Missing deposit", "I paid 500 via GCash yesterday and my balance is still zero.", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tk.Number, "TK-20250310-"), tk.Number)
	assert.Equal(t, model.TicketPriorityMedium, tk.Priority)
	assert.Equal(t, support.CategoryPayments, tk.Category)
	assert.Equal(t, model.TicketStatusOpen, tk.Status)
	require.Len(t, f.notifier.tickets, 1)

	mine, err := f.svc.Tickets(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	pending, err := f.svc.PendingTickets(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	answered, err := f.svc.RespondTicket(ctx, tk.ID, 99, "  Credited, sorry for the delay.  ")
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusInProgress, answered.Status)
	assert.Equal(t, "Credited, sorry for the delay.", answered.Response)
	require.Len(t, f.notifier.answered, 1)
	assert.Equal(t, tk.ID, f.notifier.answered[0].ID)

	closed, err := f.svc.SetTicketStatus(ctx, tk.ID, model.TicketStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusClosed, closed.Status)

	pending, err = f.svc.PendingTickets(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.svc.RespondTicket(ctx, tk.ID, 99, "Anything else?")
	assert.ErrorIs(t, err, repository.ErrAlreadyProcessed)
	assert.Len(t, f.notifier.answered, 1)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	message := "Please help, the account I bought does not work."

	tests := []struct {
		name     string
		subject  string
		message  string
		priority model.TicketPriority
	}{
		{"short subject", "Hi", message, ""},
		{"long subject", strings.Repeat("s", model.MaxTicketSubject+1), message, ""},
		{"short message", "Broken login", "does not work", ""},
		{"long message", "Broken login", strings.Repeat("m", model.MaxTicketMessage+1), ""},
		{"unknown priority", "Broken login", message, "asap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTicket(ctx, 1, tt.subject, tt.message, tt.priority)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := f.svc.CreateTicket(ctx, 404, "Broken login", message, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	tk, err := f.svc.CreateTicket(ctx, 1, "Broken login", message, model.TicketPriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, model.TicketPriorityUrgent, tk.Priority)
	assert.Equal(t, support.CategoryOrders, tk.Category)
	assert.Len(t, f.notifier.tickets, 1)
}

func TestTicketAdminValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RespondTicket(ctx, 1, 99, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.SetTicketStatus(ctx, 1, "done")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.SetTicketStatus(ctx, 404, model.TicketStatusResolved)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now
	v := f.variant(t, money.FromUnits(100), 50)

	f.now = start.Add(-36 * time.Hour)
	f.fund(t, 1, money.FromUnits(1000))
	_, err := f.svc.Purchase(ctx, 1, v.ID, 2, "")
	require.NoError(t, err)

	f.now = start.Add(-time.Hour)
	_, err = f.svc.Purchase(ctx, 1, v.ID, 3, "")
	require.NoError(t, err)

	f.now = start
	daily, err := f.svc.Report(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.PeriodDaily, daily.Period)
	assert.Equal(t, 1, daily.Current.Orders)
	assert.Equal(t, money.FromUnits(300), daily.Current.Sales)
	assert.Zero(t, daily.Current.Deposits)
	assert.Equal(t, money.FromUnits(200), daily.Previous.Sales)
	assert.Equal(t, money.FromUnits(1000), daily.Previous.Deposits)
	growth, ok := daily.Growth()
	require.True(t, ok)
	assert.Equal(t, "50", growth.String())
	require.Len(t, daily.TopCustomers, 1)
	assert.Equal(t, "Ana", daily.TopCustomers[0].FirstName)

	weekly, err := f.svc.Report(ctx, model.PeriodWeekly)
	require.NoError(t, err)
	assert.Equal(t, 2, weekly.Current.Orders)
	assert.Equal(t, money.FromUnits(500), weekly.Current.Sales)
	assert.Equal(t, money.FromUnits(250), weekly.Current.AverageOrder())
	assert.Equal(t, []model.MethodStat{{Method: "gcash", Count: 1, Amount: money.FromUnits(1000)}}, weekly.Current.Methods)
	_, ok = weekly.Growth()
	assert.False(t, ok, "no sales in the previous week")

	_, err = f.svc.Report(ctx, "yearly")
	assert.ErrorIs(t, err, ErrInvalidInput)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Periods, 3)
	assert.Equal(t, model.PeriodDaily, stats.Periods[0].Period)
	assert.Equal(t, money.FromUnits(300), stats.Periods[0].Revenue.Sales)
	assert.Equal(t, money.FromUnits(500), stats.Periods[2].Revenue.Sales)
	assert.Equal(t, weekly.Current.Methods, stats.Methods)
}
