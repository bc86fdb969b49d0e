package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/payment"
	"github.com/iwrumi/corebotstore/internal/repository"
	"github.com/iwrumi/corebotstore/internal/voucher"
)

// stubRepo реализует только нужные тестам методы; остальные паникуют через встроенный nil-интерфейс.
type stubRepo struct {
	Repository

	createDepositCalls int
	getUserErr         error
	purchaseErr        error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateDeposit(ctx context.Context, nd repository.NewDeposit) (*repository.DepositResult, error) {
	s.createDepositCalls++
	return &repository.DepositResult{Deposit: model.Deposit{ID: 1, UserID: nd.UserID, Amount: nd.Amount, Status: model.DepositStatusPending}}, nil
}

func (s *stubRepo) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if s.getUserErr != nil {
		return nil, s.getUserErr
	}
	return &model.User{ID: id}, nil
}

func (s *stubRepo) Purchase(ctx context.Context, p repository.PurchaseParams) (*repository.PurchaseResult, error) {
	return nil, s.purchaseErr
}

func TestCreateDepositValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, nil, DefaultOptions())

	tests := []struct {
		name    string
		amount  money.Money
		method  string
		wantErr error
	}{
		{"below minimum", money.FromUnits(5), "gcash", ErrInvalidAmount},
		{"above maximum", money.FromUnits(10001), "gcash", ErrInvalidAmount},
		{"fractional", money.MustParse("20.50"), "gcash", ErrInvalidAmount},
		{"zero", 0, "gcash", ErrInvalidAmount},
		{"unknown method", money.FromUnits(100), "crypto", ErrUnknownPaymentMethod},
		{"cod below its minimum", money.FromUnits(50), "cod", ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateDeposit(context.Background(), 1, tt.amount, tt.method)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	_, err := svc.CreateDeposit(context.Background(), 1, money.FromUnits(5), "gcash")
	assert.ErrorIs(t, err, ErrDepositOutOfRange)
	_, err = svc.CreateDeposit(context.Background(), 1, money.FromUnits(50), "cod")
	assert.NotErrorIs(t, err, ErrDepositOutOfRange)
	assert.Contains(t, err.Error(), "Cash on Delivery requires at least 100.00")

	if repo.createDepositCalls != 0 {
		t.Fatalf("invalid deposits must not reach storage, got %d calls", repo.createDepositCalls)
	}

	if _, err := svc.CreateDeposit(context.Background(), 1, money.FromUnits(20), "GCash"); err != nil {
		t.Fatalf("minimum deposit must be accepted: %v", err)
	}
	if repo.createDepositCalls != 1 {
		t.Fatalf("expected one storage call, got %d", repo.createDepositCalls)
	}
}

func TestPurchase_PropagatesStorageError(t *testing.T) {
	cause := errors.New("connection reset")
	repo := &stubRepo{purchaseErr: &repository.StorageError{Op: "purchase", Err: cause}}
	svc := NewService(repo, nil, nil, nil, DefaultOptions())

	_, err := svc.Purchase(context.Background(), 1, 1, 1, "")
	if !repository.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("storage error must keep its cause, got %v", err)
	}
}

func TestPurchase_RejectsQuantityOutOfRange(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil, DefaultOptions())

	for _, qty := range []int{0, -1, model.MaxOrderQuantity + 1, 10_000_000_000} {
		_, err := svc.Purchase(context.Background(), 1, 1, qty, "")
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("qty %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil, DefaultOptions())

	if _, err := svc.Debit(context.Background(), 1, 0, "noop"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestNewOrderNumberFormat(t *testing.T) {
	n := newOrderNumber(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(n, "ORD-20250310-") || len(n) != len("ORD-20250310-")+8 {
		t.Fatalf("unexpected order number %q", n)
	}
	if n == newOrderNumber(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("order numbers must be unique")
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	proofs    []model.Deposit
	completed []model.Deposit
	cancelled []model.Deposit
	orders    []model.Order
	lowStock  []model.Variant
	tickets   []model.Ticket
	answered  []model.Ticket
}

func (n *recordingNotifier) DepositProofSubmitted(_ context.Context, d model.Deposit, _ model.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proofs = append(n.proofs, d)
}

func (n *recordingNotifier) DepositCompleted(_ context.Context, d model.Deposit, _ money.Money) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, d)
}

func (n *recordingNotifier) DepositCancelled(_ context.Context, d model.Deposit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, d)
}

func (n *recordingNotifier) OrderCompleted(_ context.Context, o model.Order, _ money.Money) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o)
}

func (n *recordingNotifier) LowStock(_ context.Context, v model.Variant) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lowStock = append(n.lowStock, v)
}

func (n *recordingNotifier) TicketCreated(_ context.Context, t model.Ticket, _ model.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tickets = append(n.tickets, t)
}

func (n *recordingNotifier) TicketAnswered(_ context.Context, t model.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answered = append(n.answered, t)
}

type fixture struct {
	svc      *Service
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.OpenGorm(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	f := &fixture{
		notifier: &recordingNotifier{},
		now:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(repo, payment.NewRegistry(payment.DefaultMethods()...), f.notifier, nil, DefaultOptions())
	f.svc.SetClock(func() time.Time { return f.now })
	t.Cleanup(func() { _ = f.svc.Close() })

	_, err = f.svc.RegisterUser(context.Background(), model.UserProfile{ID: 1, FirstName: "Ana"})
	require.NoError(t, err)
	return f
}

func (f *fixture) fund(t *testing.T, userID int64, amount money.Money) {
	t.Helper()
	ctx := context.Background()

	res, err := f.svc.CreateDeposit(ctx, userID, amount, "gcash")
	require.NoError(t, err)
	_, err = f.svc.ApproveDeposit(ctx, res.Deposit.ID, 99)
	require.NoError(t, err)
}

func (f *fixture) variant(t *testing.T, price money.Money, stock int) model.Variant {
	t.Helper()
	ctx := context.Background()

	if _, err := f.svc.CreateCategory(ctx, "streaming", "Streaming", ""); err != nil {
		require.ErrorIs(t, err, repository.ErrAlreadyExists)
	}
	p, err := f.svc.CreateProduct(ctx, "streaming", "Netflix Premium", "")
	require.NoError(t, err)
	v, err := f.svc.CreateVariant(ctx, p.ID, "1 Month", price, stock)
	require.NoError(t, err)
	return *v
}

func TestDepositApprovalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateDeposit(ctx, 1, money.FromUnits(100), "gcash")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusPending, res.Deposit.Status)

	_, err = f.svc.SubmitProof(ctx, 1, res.Deposit.ID, "", "12")
	assert.ErrorIs(t, err, ErrInvalidReference)

	d, err := f.svc.SubmitProof(ctx, 1, res.Deposit.ID, "photo-1", "09171234567")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusProofSubmitted, d.Status)
	require.Len(t, f.notifier.proofs, 1)

	pending, err := f.svc.PendingDeposits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := f.svc.ApproveDeposit(ctx, res.Deposit.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(100), approved.Balance)
	require.Len(t, f.notifier.completed, 1)

	_, err = f.svc.ApproveDeposit(ctx, res.Deposit.ID, 99)
	assert.ErrorIs(t, err, repository.ErrAlreadyProcessed)
	assert.Len(t, f.notifier.completed, 1)

	u, err := f.svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(100), u.Balance)
	assert.Equal(t, money.FromUnits(100), u.TotalDeposited)
}

func TestDepositBelowMinimumCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDeposit(ctx, 1, money.FromUnits(5), "gcash")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	deposits, err := f.svc.UserDeposits(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, deposits)
}

func TestAutoVerifyDepositCompletesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateDeposit(ctx, 1, money.FromUnits(150), "cod")
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusCompleted, res.Deposit.Status)
	assert.Equal(t, money.FromUnits(150), res.Balance)
	assert.Len(t, f.notifier.completed, 1)

	_, err = f.svc.ApproveDeposit(ctx, res.Deposit.ID, 99)
	assert.ErrorIs(t, err, repository.ErrAlreadyProcessed)
}

func TestRejectDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateDeposit(ctx, 1, money.FromUnits(100), "gcash")
	require.NoError(t, err)

	d, err := f.svc.RejectDeposit(ctx, res.Deposit.ID, 99, " blurry screenshot ")
	require.NoError(t, err)
	assert.Equal(t, "blurry screenshot", d.Note)
	assert.Len(t, f.notifier.cancelled, 1)

	_, err = f.svc.SubmitProof(ctx, 1, res.Deposit.ID, "photo", "")
	assert.ErrorIs(t, err, repository.ErrAlreadyProcessed)

	u, err := f.svc.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Money(0), u.Balance)
}

func TestExpireStaleDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.svc.CreateDeposit(ctx, 1, money.FromUnits(100), "gcash")
	require.NoError(t, err)

	f.now = f.now.Add(20 * time.Minute)
	fresh, err := f.svc.CreateDeposit(ctx, 1, money.FromUnits(100), "gcash")
	require.NoError(t, err)

	f.now = f.now.Add(15 * time.Minute)
	n, err := f.svc.ExpireStaleDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.notifier.cancelled, 1)
	assert.Equal(t, stale.Deposit.ID, f.notifier.cancelled[0].ID)

	d, err := f.svc.GetDeposit(ctx, fresh.Deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusPending, d.Status)

	latest, err := f.svc.LatestOpenDeposit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fresh.Deposit.ID, latest.ID)
}

func TestExpiryDisabled(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil, Options{DepositProofTTL: 0})

	n, err := svc.ExpireStaleDeposits(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// purchase with receipt and low-stock alert.
func TestPurchaseFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, money.FromUnits(100))
	v := f.variant(t, money.FromUnits(60), 1)

	res, err := f.svc.Purchase(ctx, 1, v.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(40), res.Balance)
	assert.Equal(t, 0, res.RemainingStock)
	assert.True(t, strings.HasPrefix(res.Order.Number, "ORD-20250310-"))
	assert.Len(t, f.notifier.orders, 1)
	require.Len(t, f.notifier.lowStock, 1)
	assert.Equal(t, 0, f.notifier.lowStock[0].Stock)

	_, err = f.svc.Purchase(ctx, 1, v.ID, 1, "")
	assert.ErrorIs(t, err, repository.ErrOutOfStock)

	history, err := f.svc.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.LedgerKindPurchase, history[0].Kind)
	assert.Equal(t, money.FromUnits(40), history[0].BalanceAfter)

	orders, err := f.svc.Orders(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestVoucherRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateVoucher(ctx, NewVoucher{
		Code: " save20 ", DiscountType: model.DiscountPercentage, DiscountValue: 2000,
		MaximumDiscount: money.FromUnits(15),
	})
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", created.Code)

	_, discount, err := f.svc.ValidateVoucher(ctx, "Save20", money.FromUnits(200))
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(15), discount)

	_, discount, err = f.svc.ValidateVoucher(ctx, "SAVE20", money.FromUnits(50))
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(10), discount)

	_, _, err = f.svc.ValidateVoucher(ctx, "MISSING", money.FromUnits(50))
	reason, ok := voucher.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, voucher.ReasonNotFound, reason)

	_, err = f.svc.DisableVoucher(ctx, "save20")
	require.NoError(t, err)
	_, _, err = f.svc.ValidateVoucher(ctx, "SAVE20", money.FromUnits(200))
	reason, _ = voucher.ReasonOf(err)
	assert.Equal(t, voucher.ReasonInactive, reason)

	_, err = f.svc.CreateVoucher(ctx, NewVoucher{Code: "SAVE20", DiscountType: model.DiscountFixedAmount, DiscountValue: 100})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestCreateVoucherValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.now.Add(-time.Hour)

	tests := []struct {
		name string
		nv   NewVoucher
	}{
		{"bad code", NewVoucher{Code: "NO-DASH", DiscountType: model.DiscountFixedAmount, DiscountValue: 100}},
		{"percent over 100", NewVoucher{Code: "TOOMUCH", DiscountType: model.DiscountPercentage, DiscountValue: 10001}},
		{"zero fixed", NewVoucher{Code: "ZERO", DiscountType: model.DiscountFixedAmount}},
		{"unknown type", NewVoucher{Code: "ODD", DiscountType: "bogo", DiscountValue: 1}},
		{"empty window", NewVoucher{Code: "LATE", DiscountType: model.DiscountFixedAmount, DiscountValue: 1, ValidUntil: &past}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateVoucher(ctx, tt.nv)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	generated, err := f.svc.CreateVoucher(ctx, NewVoucher{DiscountType: model.DiscountFixedAmount, DiscountValue: 500})
	require.NoError(t, err)
	assert.Len(t, generated.Code, generatedCodeLength)
}

func TestPurchaseWithVoucherAbortsOnUnusableCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, money.FromUnits(500))
	v := f.variant(t, money.FromUnits(100), 10)

	_, err := f.svc.CreateVoucher(ctx, NewVoucher{
		Code: "BIG", DiscountType: model.DiscountFixedAmount, DiscountValue: int64(money.FromUnits(30)),
		MinimumOrder: money.FromUnits(150),
	})
	require.NoError(t, err)

	_, err = f.svc.Purchase(ctx, 1, v.ID, 1, "big")
	reason, ok := voucher.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, voucher.ReasonBelowMinimum, reason)

	res, err := f.svc.Purchase(ctx, 1, v.ID, 2, "big")
	require.NoError(t, err)
	assert.Equal(t, money.FromUnits(170), res.Order.Total)
	assert.Equal(t, "BIG", res.Order.VoucherCode)
	assert.Equal(t, money.FromUnits(330), res.Balance)
}

func TestStockAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, money.FromUnits(100), 20)

	_, err := f.svc.SetStock(ctx, v.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.SetStock(ctx, v.ID, model.MaxStock+1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.AddStock(ctx, v.ID, model.MaxStock)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	updated, err := f.svc.AddStock(ctx, v.ID, -16)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Stock)
	assert.Len(t, f.notifier.lowStock, 1)

	low, err := f.svc.LowStock(ctx)
	require.NoError(t, err)
	assert.Len(t, low, 1)

	updated, err = f.svc.SetStock(ctx, v.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Stock)
	assert.Len(t, f.notifier.lowStock, 1)

	_, err = f.svc.CreateVariant(ctx, v.ProductID, "Free", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.CreateCategory(ctx, "Bad Slug!", "x", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBroadcastRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterUser(ctx, model.UserProfile{ID: 2, FirstName: "Ben"})
	require.NoError(t, err)
	f.fund(t, 1, money.FromUnits(2000))
	v := f.variant(t, money.FromUnits(1200), 5)
	_, err = f.svc.Purchase(ctx, 1, v.ID, 1, "")
	require.NoError(t, err)

	vip, err := f.svc.Recipients(ctx, model.SegmentVIP)
	require.NoError(t, err)
	require.Len(t, vip, 1)
	assert.Equal(t, "Ana", vip[0].FirstName)

	inactive, err := f.svc.Recipients(ctx, model.SegmentInactive)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, int64(2), inactive[0].ID)

	_, err = f.svc.CreateBroadcast(ctx, "   ", model.SegmentAll, 99)
	assert.ErrorIs(t, err, ErrInvalidInput)

	b, err := f.svc.CreateBroadcast(ctx, "Sale today", "unknown", 99)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentAll, b.Segment)
	require.NoError(t, f.svc.FinishBroadcast(ctx, b.ID, 2, 0))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, money.FromUnits(1200), stats.Revenue)
	assert.Equal(t, money.FromUnits(2000), stats.CompletedDeposits)
}
