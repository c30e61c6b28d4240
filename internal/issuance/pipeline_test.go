package issuance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hsync/entity"
	"hsync/internal/database"
	"hsync/internal/gateway"
	"hsync/internal/gateway/gatewaytest"
	"hsync/lib/clock"
)

type notifier struct {
	mu        sync.Mutex
	issued    []*entity.IssuanceEvent
	operators []string
}

func (n *notifier) NotifyIssued(event *entity.IssuanceEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.issued = append(n.issued, event)
}

func (n *notifier) NotifyOperators(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operators = append(n.operators, msg)
}

type recorder struct {
	mu  sync.Mutex
	txs []*entity.Transaction
	err error
}

func (r *recorder) SaveTransaction(tx *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.txs = append(r.txs, tx)
	return nil
}

type fixture struct {
	ledger     *database.Memory
	controller *gatewaytest.Controller
	notifier   *notifier
	recorder   *recorder
	clock      *clock.Fixed
	pipeline   *Pipeline
	profile    *entity.Profile
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		ledger:     database.NewMemory(),
		controller: gatewaytest.New(),
		notifier:   &notifier{},
		recorder:   &recorder{},
		clock:      &clock.Fixed{T: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)},
	}
	f.pipeline = New(f.ledger, f.controller, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.pipeline.SetNotifier(f.notifier)
	f.pipeline.SetRecorder(f.recorder)
	f.pipeline.SetClock(f.clock)

	f.profile = &entity.Profile{
		Name:           "P1",
		Duration:       entity.Duration{Amount: 1, Unit: entity.UnitHours},
		WholesalePrice: 3000,
		RetailPrice:    5000,
		RemoteProfile:  "hourly",
		CodeLength:     4,
		Active:         true,
	}
	_, err := f.ledger.CreateProfile(context.Background(), f.profile)
	require.NoError(t, err)
	return f
}

func (f *fixture) reseller(t *testing.T, balance int64) *entity.Reseller {
	ctx := context.Background()
	r := &entity.Reseller{Name: "kiosk", TelegramId: 555}
	_, err := f.ledger.CreateReseller(ctx, r)
	require.NoError(t, err)
	r, err = f.ledger.CreditReseller(ctx, r.Id, balance)
	require.NoError(t, err)
	return r
}

func (f *fixture) order(t *testing.T, id string) *string {
	err := f.ledger.CreateOrder(context.Background(), &entity.Order{
		OrderId:   id,
		ProfileId: f.profile.Id,
		Amount:    f.profile.RetailPrice,
		Status:    entity.OrderPending,
		CreatedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	return &id
}

func sequence(codes ...string) func(int) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

func TestIssue_OrderPaidOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderId := f.order(t, "ORD1")

	v, err := f.pipeline.Issue(ctx, Request{Profile: f.profile, OrderId: orderId, PaymentReference: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, "ORD1", *v.OrderId)
	assert.Equal(t, int64(5000), v.Price)
	assert.True(t, f.controller.Has(v.Code))

	order, err := f.ledger.GetOrder(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCompleted, order.Status)

	_, err = f.pipeline.Issue(ctx, Request{Profile: f.profile, OrderId: orderId, PaymentReference: "tx-1"})
	assert.ErrorIs(t, err, entity.ErrDuplicateOrder)

	vouchers, _ := f.ledger.ActiveVouchers(ctx, time.Time{})
	assert.Len(t, vouchers, 1)
	assert.Equal(t, 1, f.controller.Len())
	assert.Len(t, f.notifier.issued, 1)
}

func TestIssue_OrderAmountAndAuditRecord(t *testing.T) {
	f := newFixture(t)
	orderId := f.order(t, "ORD2")

	v, err := f.pipeline.Issue(context.Background(), Request{Profile: f.profile, OrderId: orderId, Amount: 4500})
	require.NoError(t, err)
	assert.Equal(t, int64(4500), v.Price)

	require.Len(t, f.recorder.txs, 1)
	tx := f.recorder.txs[0]
	assert.Equal(t, entity.TxOrder, tx.Kind)
	assert.Equal(t, "ORD2", tx.OrderId)
	assert.Equal(t, int64(4500), tx.Amount)
	assert.Equal(t, f.clock.Now(), tx.CreatedAt)
}

func TestIssue_ConcurrentCallbacksIssueOneVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderId := f.order(t, "ORD1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, duplicates := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Issue(ctx, Request{Profile: f.profile, OrderId: orderId})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, entity.ErrDuplicateOrder):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, duplicates)
	vouchers, _ := f.ledger.ActiveVouchers(ctx, time.Time{})
	assert.Len(t, vouchers, 1)
}

func TestIssue_ResellerDebitAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reseller(t, 10000)

	v, err := f.pipeline.Issue(ctx, Request{Profile: f.profile, Reseller: r, Recipient: r.TelegramId})
	require.NoError(t, err)
	assert.Len(t, v.Code, 4)
	assert.Regexp(t, `^[0-9]{4}$`, v.Code)
	assert.Equal(t, f.clock.Now().Add(time.Hour), v.ExpiresAt)
	assert.Equal(t, int64(3000), v.Price)
	assert.False(t, v.Used)

	r, err = f.ledger.GetReseller(ctx, r.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), r.Balance)

	require.Len(t, f.notifier.issued, 1)
	assert.Equal(t, int64(555), f.notifier.issued[0].Recipient)
	require.Len(t, f.recorder.txs, 1)
	assert.Equal(t, entity.TxSale, f.recorder.txs[0].Kind)
}

func TestIssue_ExactBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reseller(t, 3000)

	_, err := f.pipeline.Issue(ctx, Request{Profile: f.profile, Reseller: r})
	require.NoError(t, err)

	_, err = f.pipeline.Issue(ctx, Request{Profile: f.profile, Reseller: r})
	assert.ErrorIs(t, err, entity.ErrInsufficientBalance)

	r, _ = f.ledger.GetReseller(ctx, r.Id)
	assert.Equal(t, int64(0), r.Balance)
	vouchers, _ := f.ledger.ActiveVouchers(ctx, time.Time{})
	assert.Len(t, vouchers, 1)
}

func TestIssue_ControllerDownKeepsVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.controller.Fail(gatewaytest.Unreachable())

	v, err := f.pipeline.Issue(ctx, Request{Profile: f.profile})
	require.NoError(t, err)

	stored, err := f.ledger.GetVoucher(ctx, v.Id)
	require.NoError(t, err)
	assert.False(t, stored.Used)
	assert.Equal(t, 0, f.controller.Len())
	assert.Empty(t, f.notifier.operators)
}

func TestIssue_PermanentFailureAlertsOperators(t *testing.T) {
	f := newFixture(t)
	f.controller.Fail(gatewaytest.Rejected())

	v, err := f.pipeline.Issue(context.Background(), Request{Profile: f.profile})
	require.NoError(t, err)
	assert.NotZero(t, v.Id)
	assert.Len(t, f.notifier.operators, 1)
}

func TestIssue_RetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pipeline.SetCodeGenerator(sequence("1111", "1111", "2222"))

	first, err := f.pipeline.Issue(ctx, Request{Profile: f.profile})
	require.NoError(t, err)
	assert.Equal(t, "1111", first.Code)

	second, err := f.pipeline.Issue(ctx, Request{Profile: f.profile})
	require.NoError(t, err)
	assert.Equal(t, "2222", second.Code)
}

func TestIssue_CodeExhaustedLeavesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reseller(t, 10000)
	f.pipeline.SetCodeGenerator(sequence("1111"))

	_, err := f.pipeline.Issue(ctx, Request{Profile: f.profile})
	require.NoError(t, err)

	_, err = f.pipeline.Issue(ctx, Request{Profile: f.profile, Reseller: r})
	assert.ErrorIs(t, err, entity.ErrCodeExhausted)

	r, _ = f.ledger.GetReseller(ctx, r.Id)
	assert.Equal(t, int64(10000), r.Balance)
}

func TestIssue_ReplacesStaleRemoteUser(t *testing.T) {
	f := newFixture(t)
	f.pipeline.SetCodeGenerator(sequence("1111"))
	f.controller.Put(gateway.User{Name: "1111", Comment: "hsync:999", Uptime: time.Hour})

	v, err := f.pipeline.Issue(context.Background(), Request{Profile: f.profile})
	require.NoError(t, err)

	u, ok := f.controller.User("1111")
	require.True(t, ok)
	owner, owned := u.VoucherId()
	assert.True(t, owned)
	assert.Equal(t, v.Id, owner)
	assert.False(t, gateway.LooksConsumed(u))
}

func TestIssue_KeepsUnusedForeignUser(t *testing.T) {
	f := newFixture(t)
	f.pipeline.SetCodeGenerator(sequence("1111"))
	f.controller.Put(gateway.User{Name: "1111"})

	_, err := f.pipeline.Issue(context.Background(), Request{Profile: f.profile})
	require.NoError(t, err)
	assert.Equal(t, 0, f.controller.Deletes)
}

func TestIssue_InactiveProfile(t *testing.T) {
	f := newFixture(t)
	f.profile.Active = false

	_, err := f.pipeline.Issue(context.Background(), Request{Profile: f.profile})
	assert.ErrorIs(t, err, entity.ErrProfileInactive)
}

func TestIssue_AuditFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.recorder.err = errors.New("mongo down")

	v, err := f.pipeline.Issue(context.Background(), Request{Profile: f.profile})
	require.NoError(t, err)
	assert.NotZero(t, v.Id)
}

func TestIssueBatch_TransientFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reseller(t, 10000)
	f.controller.Fail(gatewaytest.Unreachable())

	result, err := f.pipeline.IssueBatch(ctx, Request{Profile: f.profile, Reseller: r}, 3)
	require.NoError(t, err)
	assert.Len(t, result.Vouchers, 3)
	assert.Equal(t, 3, result.Degraded)

	r, _ = f.ledger.GetReseller(ctx, r.Id)
	assert.Equal(t, int64(1000), r.Balance)
}

func TestIssueBatch_StopsOnLedgerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reseller(t, 7000)

	result, err := f.pipeline.IssueBatch(ctx, Request{Profile: f.profile, Reseller: r}, 3)
	assert.ErrorIs(t, err, entity.ErrInsufficientBalance)
	require.NotNil(t, result)
	assert.Len(t, result.Vouchers, 2)
}

func TestNumericCode(t *testing.T) {
	for _, length := range []int{4, 6, 12} {
		code, err := numericCode(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
		assert.Regexp(t, `^[0-9]+$`, code)
	}
	_, err := numericCode(0)
	assert.Error(t, err)
}
