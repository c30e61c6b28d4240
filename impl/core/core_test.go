package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"hsync/entity"
	"hsync/internal/database"
	"hsync/internal/gateway/gatewaytest"
	"hsync/internal/issuance"
	"hsync/lib/clock"
)

type notifier struct {
	mu       sync.Mutex
	rejected []string
	topUps   []int64
}

func (n *notifier) NotifyRejected(order *entity.Order, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, order.OrderId+":"+status)
}

func (n *notifier) NotifyTopUp(_ *entity.Reseller, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topUps = append(n.topUps, amount)
}

type events struct {
	mu       sync.Mutex
	txs      []*entity.Transaction
	payments []*entity.PaymentNotification
	stripe   []string
}

func (e *events) SaveTransaction(tx *entity.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txs = append(e.txs, tx)
	return nil
}

func (e *events) SavePaymentEvent(event *entity.PaymentNotification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payments = append(e.payments, event)
	return nil
}

func (e *events) SaveStripeEvent(id string, _ interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stripe = append(e.stripe, id)
	return nil
}

// payments is a checkout provider that settles whatever event it is given
type payments struct {
	notification *entity.PaymentNotification
}

func (p *payments) Currency() string { return "eur" }

func (p *payments) CreateCheckout(order *entity.Order, _ *entity.Profile) (*entity.Checkout, error) {
	return &entity.Checkout{OrderId: order.OrderId, Amount: order.Amount, Link: "https://pay.test/" + order.OrderId, SessionId: "cs_" + order.OrderId}, nil
}

func (p *payments) VerifySignature(_ []byte, header string, _ time.Duration) bool {
	return header == "valid"
}

func (p *payments) ParseEvent(payload []byte) (*stripe.Event, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty")
	}
	return &stripe.Event{ID: "evt_1"}, nil
}

func (p *payments) Notification(_ *stripe.Event) *entity.PaymentNotification {
	return p.notification
}

type fixture struct {
	ledger     *database.Memory
	controller *gatewaytest.Controller
	notifier   *notifier
	events     *events
	core       *Core
	profile    *entity.Profile
}

func newFixture(t *testing.T) *fixture {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cl := &clock.Fixed{T: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		ledger:     database.NewMemory(),
		controller: gatewaytest.New(),
		notifier:   &notifier{},
		events:     &events{},
	}
	pipeline := issuance.New(f.ledger, f.controller, log)
	pipeline.SetClock(cl)

	f.core = New(f.ledger, pipeline, log)
	f.core.SetClock(cl)
	f.core.SetController(f.controller)
	f.core.SetNotifier(f.notifier)
	f.core.SetEventStore(f.events)
	f.core.SetMaxBatch(10)

	var err error
	f.profile, err = f.core.CreateProfile(context.Background(), &entity.ProfileRequest{
		Name:           "P1",
		Duration:       entity.Duration{Amount: 1, Unit: entity.UnitHours},
		WholesalePrice: 3000,
		RetailPrice:    5000,
		RemoteProfile:  "hourly",
		CodeLength:     6,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) order(t *testing.T) string {
	checkout, err := f.core.CreateOrder(context.Background(), &entity.OrderRequest{
		ProfileId: f.profile.Id,
		Customer:  &entity.Customer{Name: "Ann", Email: "ann@example.com", Country: "Poland", TelegramId: 555},
		Method:    entity.MethodCallback,
	})
	require.NoError(t, err)
	return checkout.OrderId
}

func paid(orderId string) *entity.PaymentNotification {
	return &entity.PaymentNotification{OrderId: orderId, TransactionStatus: "settlement", TransactionId: "tx-1", Provider: "callback"}
}

func TestConfirmPayment_IssuesOnceAndReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderId := f.order(t)

	first, err := f.core.ConfirmPayment(ctx, paid(orderId))
	require.NoError(t, err)
	assert.Equal(t, "completed", first.Status)
	assert.False(t, first.Replay)
	require.NotNil(t, first.Voucher)
	assert.Equal(t, int64(5000), first.Voucher.Price)
	assert.True(t, f.controller.Has(first.Voucher.Code))

	again, err := f.core.ConfirmPayment(ctx, paid(orderId))
	require.NoError(t, err)
	assert.True(t, again.Replay)
	assert.Equal(t, first.Voucher.Id, again.Voucher.Id)
	assert.Equal(t, 1, f.controller.Len())

	view, err := f.core.GetOrderStatus(ctx, orderId)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCompleted, view.Order.Status)
	assert.Equal(t, "PL", view.Order.Customer.Country)
	assert.Equal(t, first.Voucher.Code, view.Voucher.Code)
	assert.Len(t, f.events.payments, 2)
}

func TestConfirmPayment_ConcurrentCallbacks(t *testing.T) {
	f := newFixture(t)
	orderId := f.order(t)

	const callers = 10
	results := make([]*entity.PaymentResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.core.ConfirmPayment(context.Background(), paid(orderId))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		require.NotNil(t, r.Voucher)
		assert.Equal(t, results[0].Voucher.Id, r.Voucher.Id)
		if !r.Replay {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.controller.Len())
}

func TestConfirmPayment_FailedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderId := f.order(t)

	failed := &entity.PaymentNotification{OrderId: orderId, TransactionStatus: "expire", TransactionId: "tx-2"}
	result, err := f.core.ConfirmPayment(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, []string{orderId + ":expire"}, f.notifier.rejected)

	result, err = f.core.ConfirmPayment(ctx, failed)
	require.NoError(t, err)
	assert.True(t, result.Replay)
	assert.Len(t, f.notifier.rejected, 1)

	_, err = f.core.ConfirmPayment(ctx, paid(orderId))
	assert.ErrorIs(t, err, entity.ErrOrderNotPending)
	assert.Zero(t, f.controller.Len())
}

func TestConfirmPayment_IgnoresOtherStatuses(t *testing.T) {
	f := newFixture(t)
	orderId := f.order(t)

	result, err := f.core.ConfirmPayment(context.Background(), &entity.PaymentNotification{OrderId: orderId, TransactionStatus: "pending"})
	require.NoError(t, err)
	assert.Equal(t, "pending", result.Status)
	assert.Nil(t, result.Voucher)
}

func TestConfirmPayment_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.core.ConfirmPayment(context.Background(), paid("nope"))
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestConfirmPayment_ProfileDisabledAfterOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderId := f.order(t)
	require.NoError(t, f.core.DisableProfile(ctx, f.profile.Id))

	result, err := f.core.ConfirmPayment(ctx, paid(orderId))
	require.NoError(t, err)
	require.NotNil(t, result.Voucher)

	_, err = f.core.CreateOrder(ctx, &entity.OrderRequest{
		ProfileId: f.profile.Id,
		Customer:  &entity.Customer{Name: "Bob", Email: "bob@example.com"},
		Method:    entity.MethodCallback,
	})
	assert.ErrorIs(t, err, entity.ErrProfileInactive)
}

func TestConfirmPayment_ChargesOrderAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderId := f.order(t)

	_, err := f.core.UpdateProfile(ctx, f.profile.Id, &entity.ProfileRequest{
		Name:          "P1",
		Duration:      entity.Duration{Amount: 1, Unit: entity.UnitHours},
		RetailPrice:   9000,
		RemoteProfile: "hourly",
		CodeLength:    6,
	})
	require.NoError(t, err)

	result, err := f.core.ConfirmPayment(ctx, paid(orderId))
	require.NoError(t, err)
	require.NotNil(t, result.Voucher)
	assert.Equal(t, int64(5000), result.Voucher.Price)
}

func TestStripeOrderFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := &payments{}
	f.core.SetPaymentProvider(provider)

	checkout, err := f.core.CreateOrder(ctx, &entity.OrderRequest{
		ProfileId: f.profile.Id,
		Customer:  &entity.Customer{Name: "Ann", Email: "ann@example.com"},
		Method:    entity.MethodStripe,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/"+checkout.OrderId, checkout.Link)

	order, err := f.ledger.GetOrder(ctx, checkout.OrderId)
	require.NoError(t, err)
	assert.Equal(t, "eur", order.Currency)
	assert.Equal(t, checkout.Link, order.CheckoutUrl)

	assert.True(t, f.core.StripeVerifySignature([]byte("{}"), "valid", time.Minute))
	assert.False(t, f.core.StripeVerifySignature([]byte("{}"), "forged", time.Minute))

	result, err := f.core.StripeEvent(ctx, []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.Nil(t, result, "event without a notification settles nothing")

	provider.notification = &entity.PaymentNotification{OrderId: checkout.OrderId, TransactionStatus: "paid", TransactionId: "cs_1", Provider: "stripe"}
	result, err = f.core.StripeEvent(ctx, []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	require.NotNil(t, result.Voucher)
	assert.Equal(t, []string{"evt_1", "evt_1"}, f.events.stripe)
}

func TestCreateOrder_StripeUnavailable(t *testing.T) {
	f := newFixture(t)
	_, err := f.core.CreateOrder(context.Background(), &entity.OrderRequest{
		ProfileId: f.profile.Id,
		Customer:  &entity.Customer{Name: "Ann", Email: "ann@example.com"},
		Method:    entity.MethodStripe,
	})
	assert.ErrorIs(t, err, entity.ErrUnavailable)
}

func (f *fixture) reseller(t *testing.T, balance int64) (*entity.Reseller, *entity.User) {
	ctx := context.Background()
	r, err := f.core.CreateReseller(ctx, &entity.ResellerRequest{Name: "Kiosk", TelegramId: 42})
	require.NoError(t, err)
	if balance > 0 {
		r, err = f.core.TopUp(ctx, r.Id, balance)
		require.NoError(t, err)
	}
	return r, &entity.User{Username: "kiosk", Role: entity.RoleReseller, ResellerId: r.Id}
}

func TestSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, user := f.reseller(t, 10000)

	result, err := f.core.Sell(ctx, user, &entity.SaleRequest{ProfileId: f.profile.Id, Count: 3})
	require.NoError(t, err)
	assert.Len(t, result.Vouchers, 3)

	stored, err := f.core.GetReseller(ctx, r.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Balance)

	_, err = f.core.Sell(ctx, user, &entity.SaleRequest{ProfileId: f.profile.Id, Count: 1})
	assert.ErrorIs(t, err, entity.ErrInsufficientBalance)

	_, err = f.core.Sell(ctx, user, &entity.SaleRequest{ProfileId: f.profile.Id, Count: 11})
	assert.ErrorIs(t, err, entity.ErrBatchLimit)

	_, err = f.core.Sell(ctx, &entity.User{Role: entity.RoleOperator}, &entity.SaleRequest{ProfileId: f.profile.Id, Count: 1})
	assert.ErrorIs(t, err, entity.ErrForbidden)
}

func TestGetVoucher_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, owner := f.reseller(t, 3000)
	_, stranger := f.reseller(t, 0)

	result, err := f.core.Sell(ctx, owner, &entity.SaleRequest{ProfileId: f.profile.Id, Count: 1})
	require.NoError(t, err)
	code := result.Vouchers[0].Code

	v, err := f.core.GetVoucher(ctx, owner, code)
	require.NoError(t, err)
	assert.Equal(t, code, v.Code)

	_, err = f.core.GetVoucher(ctx, stranger, code)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = f.core.GetVoucher(ctx, &entity.User{Role: entity.RoleOperator}, code)
	assert.NoError(t, err)
}

func TestDeleteVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.core.IssueVouchers(ctx, &entity.IssueRequest{ProfileId: f.profile.Id, Count: 2})
	require.NoError(t, err)
	require.Len(t, result.Vouchers, 2)
	assert.Zero(t, result.Vouchers[0].Price)
	code := result.Vouchers[0].Code

	require.NoError(t, f.core.DeleteVoucher(ctx, code))
	assert.False(t, f.controller.Has(code))
	_, err = f.ledger.GetVoucherByCode(ctx, code)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	assert.ErrorIs(t, f.core.DeleteVoucher(ctx, code), entity.ErrNotFound)
}

func TestDeleteVoucher_ControllerDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.core.IssueVouchers(ctx, &entity.IssueRequest{ProfileId: f.profile.Id, Count: 1})
	require.NoError(t, err)

	f.controller.Fail(gatewaytest.Unreachable())
	assert.NoError(t, f.core.DeleteVoucher(ctx, result.Vouchers[0].Code))
}

func TestTopUp(t *testing.T) {
	f := newFixture(t)
	r, _ := f.reseller(t, 2500)
	assert.Equal(t, int64(2500), r.Balance)
	assert.Equal(t, []int64{2500}, f.notifier.topUps)
	require.Len(t, f.events.txs, 1)
	assert.Equal(t, entity.TxTopUp, f.events.txs[0].Kind)
	assert.Equal(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC), f.events.txs[0].CreatedAt)

	_, err := f.core.TopUp(context.Background(), r.Id, 0)
	assert.Error(t, err)
	_, err = f.core.TopUp(context.Background(), 999, 100)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestUpdateProfile_KeepsIssuedVouchers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.core.IssueVouchers(ctx, &entity.IssueRequest{ProfileId: f.profile.Id, Count: 1})
	require.NoError(t, err)
	issued := result.Vouchers[0]

	updated, err := f.core.UpdateProfile(ctx, f.profile.Id, &entity.ProfileRequest{
		Name:          "P1",
		Duration:      entity.Duration{Amount: 2, Unit: entity.UnitDays},
		RetailPrice:   9000,
		RemoteProfile: "daily",
		CodeLength:    6,
	})
	require.NoError(t, err)
	assert.True(t, updated.Active)

	v, err := f.ledger.GetVoucherByCode(ctx, issued.Code)
	require.NoError(t, err)
	assert.Equal(t, issued.ExpiresAt, v.ExpiresAt)
	assert.Equal(t, entity.UnitHours, v.Duration.Unit)
}

func TestVerifyCallback(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"order_id":"o1","transaction_status":"settlement"}`)
	assert.False(t, f.core.VerifyCallback(body, "00"), "no secret configured")

	f.core.SetCallbackSecret("s3cret")
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, f.core.VerifyCallback(body, sig))
	assert.False(t, f.core.VerifyCallback(append(body, ' '), sig))
	assert.False(t, f.core.VerifyCallback(body, ""))
}

type reports struct {
	last *entity.ReconcileReport
}

func (r *reports) LastReport() *entity.ReconcileReport {
	return r.last
}

func TestReconcileStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.core.ReconcileStatus()
	assert.ErrorIs(t, err, entity.ErrUnavailable)

	rec := &reports{}
	f.core.SetReconciler(rec)
	_, err = f.core.ReconcileStatus()
	assert.ErrorIs(t, err, entity.ErrNotFound)

	rec.last = &entity.ReconcileReport{Created: 2}
	report, err := f.core.ReconcileStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
}

func TestTestController(t *testing.T) {
	f := newFixture(t)
	identity, err := f.core.TestController(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gatewaytest", identity.Name)

	f.controller.Fail(gatewaytest.Unreachable())
	_, err = f.core.TestController(context.Background())
	assert.Error(t, err)
}
