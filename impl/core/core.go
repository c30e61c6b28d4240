package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"hsync/entity"
	"hsync/internal/gateway"
	"hsync/internal/issuance"
	"hsync/lib/clock"
	"hsync/lib/sl"
)

const defaultMaxBatch = 100

type AuthService interface {
	UserByToken(token string) (*entity.User, error)
}

type Ledger interface {
	GetVoucherByCode(ctx context.Context, code string) (*entity.Voucher, error)
	GetVoucherByOrder(ctx context.Context, orderId string) (*entity.Voucher, error)
	DeleteVoucher(ctx context.Context, id int64) error
	CreateProfile(ctx context.Context, p *entity.Profile) (int64, error)
	UpdateProfile(ctx context.Context, p *entity.Profile) error
	SetProfileActive(ctx context.Context, id int64, active bool) error
	GetProfile(ctx context.Context, id int64) (*entity.Profile, error)
	ListProfiles(ctx context.Context, activeOnly bool) ([]*entity.Profile, error)
	CreateReseller(ctx context.Context, r *entity.Reseller) (int64, error)
	GetReseller(ctx context.Context, id int64) (*entity.Reseller, error)
	CreditReseller(ctx context.Context, id, amount int64) (*entity.Reseller, error)
	CreateOrder(ctx context.Context, o *entity.Order) error
	GetOrder(ctx context.Context, orderId string) (*entity.Order, error)
	SetCheckout(ctx context.Context, orderId, url, reference string) error
	FailOrder(ctx context.Context, orderId, reference string, at time.Time) error
}

type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (*entity.Voucher, error)
	IssueBatch(ctx context.Context, req issuance.Request, count int) (*issuance.BatchResult, error)
}

type Controller interface {
	DeleteUser(ctx context.Context, code string) (bool, error)
	TestConnection(ctx context.Context) (*gateway.Identity, error)
}

type Reconciler interface {
	LastReport() *entity.ReconcileReport
}

type PaymentProvider interface {
	Currency() string
	CreateCheckout(order *entity.Order, profile *entity.Profile) (*entity.Checkout, error)
	VerifySignature(payload []byte, header string, tolerance time.Duration) bool
	ParseEvent(payload []byte) (*stripe.Event, error)
	Notification(evt *stripe.Event) *entity.PaymentNotification
}

// EventStore keeps the audit trail; its failures never fail an operation
type EventStore interface {
	SaveTransaction(tx *entity.Transaction) error
	SavePaymentEvent(event *entity.PaymentNotification) error
	SaveStripeEvent(id string, event interface{}) error
}

type Notifier interface {
	NotifyRejected(order *entity.Order, status string)
	NotifyTopUp(reseller *entity.Reseller, amount int64)
}

type Core struct {
	ledger         Ledger
	issuer         Issuer
	auth           AuthService
	controller     Controller
	reconciler     Reconciler
	payments       PaymentProvider
	events         EventStore
	notifier       Notifier
	clock          clock.Clock
	currency       string
	callbackSecret string
	maxBatch       int
	log            *slog.Logger
}

func New(ledger Ledger, issuer Issuer, log *slog.Logger) *Core {
	if ledger == nil || issuer == nil {
		panic("ledger and issuer are required")
	}
	return &Core{
		ledger:   ledger,
		issuer:   issuer,
		clock:    clock.System{},
		currency: "usd",
		maxBatch: defaultMaxBatch,
		log:      log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

func (c *Core) SetController(controller Controller) {
	c.controller = controller
}

func (c *Core) SetReconciler(reconciler Reconciler) {
	c.reconciler = reconciler
}

func (c *Core) SetPaymentProvider(payments PaymentProvider) {
	c.payments = payments
	if payments != nil && payments.Currency() != "" {
		c.currency = payments.Currency()
	}
}

func (c *Core) SetEventStore(events EventStore) {
	c.events = events
}

func (c *Core) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

func (c *Core) SetClock(cl clock.Clock) {
	c.clock = cl
}

func (c *Core) SetCallbackSecret(secret string) {
	c.callbackSecret = secret
}

func (c *Core) SetMaxBatch(n int) {
	if n > 0 {
		c.maxBatch = n
	}
}

func (c *Core) SetCurrency(currency string) {
	if currency != "" {
		c.currency = strings.ToLower(currency)
	}
}

func (c *Core) AuthenticateByToken(token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(token)
}

func (c *Core) TestController(ctx context.Context) (*gateway.Identity, error) {
	if c.controller == nil {
		return nil, entity.ErrUnavailable
	}
	return c.controller.TestConnection(ctx)
}

// ReconcileStatus returns the last finished pass
func (c *Core) ReconcileStatus() (*entity.ReconcileReport, error) {
	if c.reconciler == nil {
		return nil, entity.ErrUnavailable
	}
	report := c.reconciler.LastReport()
	if report == nil {
		return nil, entity.ErrNotFound
	}
	return report, nil
}

func (c *Core) saveTransaction(tx *entity.Transaction) {
	if c.events == nil {
		return
	}
	if err := c.events.SaveTransaction(tx); err != nil {
		c.log.With(slog.String("kind", string(tx.Kind))).Warn("audit record not saved", sl.Err(err))
	}
}
