// Package issuance turns a paid order, a reseller sale or an operator
// request into exactly one persisted voucher and provisions it on the
// controller. A controller failure never fails the sale: the voucher stays
// unused in the ledger and reconciliation creates it later.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"hsync/entity"
	"hsync/internal/gateway"
	"hsync/internal/metrics"
	"hsync/lib/clock"
	"hsync/lib/sl"
)

const defaultCodeAttempts = 5

type Ledger interface {
	InsertVoucher(ctx context.Context, v *entity.Voucher, funding entity.Funding) (int64, error)
}

type Controller interface {
	CreateUser(ctx context.Context, spec gateway.UserSpec) error
	GetUser(ctx context.Context, code string) (*gateway.User, error)
	DeleteUser(ctx context.Context, code string) (bool, error)
}

type Recorder interface {
	SaveTransaction(tx *entity.Transaction) error
}

type Notifier interface {
	NotifyIssued(event *entity.IssuanceEvent)
	NotifyOperators(msg string)
}

// ProvisioningDegradedError marks a voucher that is persisted but not yet
// present on the controller
type ProvisioningDegradedError struct {
	VoucherId int64
	Err       error
}

func (e *ProvisioningDegradedError) Error() string {
	return fmt.Sprintf("voucher %d not provisioned: %v", e.VoucherId, e.Err)
}

func (e *ProvisioningDegradedError) Unwrap() error {
	return e.Err
}

// Request describes one voucher to issue. OrderId and Reseller are mutually
// exclusive; with neither set the voucher is an unfunded operator issue.
type Request struct {
	Profile          *entity.Profile
	OrderId          *string
	PaymentReference string
	// Amount is what the order was charged; zero takes the retail price
	Amount           int64
	Reseller         *entity.Reseller
	Recipient        int64
}

func (r *Request) source() string {
	switch {
	case r.OrderId != nil:
		return "order"
	case r.Reseller != nil:
		return "reseller"
	}
	return "operator"
}

type BatchResult struct {
	Vouchers []*entity.Voucher `json:"vouchers"`
	Degraded int               `json:"degraded"`
}

type Pipeline struct {
	ledger     Ledger
	controller Controller
	recorder   Recorder
	notifier   Notifier
	clock      clock.Clock
	attempts   int
	generate   func(length int) (string, error)
	log        *slog.Logger
}

func New(ledger Ledger, controller Controller, log *slog.Logger) *Pipeline {
	return &Pipeline{
		ledger:     ledger,
		controller: controller,
		clock:      clock.System{},
		attempts:   defaultCodeAttempts,
		generate:   numericCode,
		log:        log.With(sl.Module("issuance")),
	}
}

func (p *Pipeline) SetRecorder(recorder Recorder) {
	p.recorder = recorder
}

func (p *Pipeline) SetNotifier(notifier Notifier) {
	p.notifier = notifier
}

func (p *Pipeline) SetClock(c clock.Clock) {
	p.clock = c
}

func (p *Pipeline) SetCodeAttempts(n int) {
	if n > 0 {
		p.attempts = n
	}
}

// SetCodeGenerator replaces the random code source
func (p *Pipeline) SetCodeGenerator(generate func(length int) (string, error)) {
	p.generate = generate
}

// Issue persists one voucher, funding included, then provisions it remotely.
// A repeated order returns entity.ErrDuplicateOrder and issues nothing.
func (p *Pipeline) Issue(ctx context.Context, req Request) (*entity.Voucher, error) {
	v, _, err := p.issue(ctx, req)
	return v, err
}

// IssueBatch issues count vouchers, each funded on its own. Controller
// failures do not stop the batch; a ledger failure does, and the vouchers
// issued so far are returned with the error.
func (p *Pipeline) IssueBatch(ctx context.Context, req Request, count int) (*BatchResult, error) {
	if req.OrderId != nil && count > 1 {
		return nil, fmt.Errorf("an order pays for a single voucher")
	}
	result := &BatchResult{}
	for i := 0; i < count; i++ {
		v, degraded, err := p.issue(ctx, req)
		if err != nil {
			p.log.With(
				slog.Int("issued", len(result.Vouchers)),
				slog.Int("requested", count),
				sl.Err(err),
			).Warn("batch stopped")
			return result, err
		}
		result.Vouchers = append(result.Vouchers, v)
		if degraded != nil {
			result.Degraded++
		}
	}
	return result, nil
}

func (p *Pipeline) issue(ctx context.Context, req Request) (*entity.Voucher, *ProvisioningDegradedError, error) {
	profile := req.Profile
	if profile == nil {
		return nil, nil, fmt.Errorf("profile is required")
	}
	if !profile.Active {
		return nil, nil, entity.ErrProfileInactive
	}
	if req.OrderId != nil && req.Reseller != nil {
		return nil, nil, fmt.Errorf("voucher funded by both order and reseller")
	}

	log := p.log.With(
		slog.String("profile", profile.Name),
		slog.String("source", req.source()),
	)

	now := p.clock.Now()
	v := &entity.Voucher{
		ProfileId:   profile.Id,
		ProfileName: profile.Name,
		Duration:    profile.Duration,
		CreatedAt:   now,
		ExpiresAt:   profile.Duration.ExpiresAt(now),
		OrderId:     req.OrderId,
	}
	funding := entity.Funding{OrderId: req.OrderId, PaymentReference: req.PaymentReference}
	switch {
	case req.OrderId != nil:
		v.Price = profile.RetailPrice
		if req.Amount > 0 {
			v.Price = req.Amount
		}
		log = log.With(slog.String("order_id", *req.OrderId))
	case req.Reseller != nil:
		resellerId := req.Reseller.Id
		v.Price = profile.WholesalePrice
		v.ResellerId = &resellerId
		funding.ResellerId = &resellerId
		funding.Amount = profile.WholesalePrice
		log = log.With(slog.Int64("reseller_id", resellerId))
	}

	if err := p.persist(ctx, v, funding, profile.CodeLength); err != nil {
		if !errors.Is(err, entity.ErrDuplicateOrder) {
			log.Warn("voucher not issued", sl.Err(err))
		}
		return nil, nil, err
	}
	metrics.VoucherIssued(req.source())
	log = log.With(slog.Int64("voucher_id", v.Id), sl.Code(v.Code))
	log.Info("voucher issued")

	degraded := p.provision(ctx, v, profile)
	if degraded != nil {
		class := gateway.Transient
		if gateway.IsPermanent(degraded.Err) {
			class = gateway.Permanent
		}
		metrics.ProvisioningDegraded(class.String())
		if class == gateway.Permanent {
			log.Error("provisioning degraded", sl.Err(degraded))
			if p.notifier != nil {
				p.notifier.NotifyOperators(fmt.Sprintf("Controller rejected voucher %d: %v", v.Id, degraded.Err))
			}
		} else {
			log.Warn("provisioning degraded", sl.Err(degraded))
		}
	}

	p.record(v, req)
	if p.notifier != nil {
		p.notifier.NotifyIssued(&entity.IssuanceEvent{
			Code:        v.Code,
			ProfileName: v.ProfileName,
			ExpiresAt:   v.ExpiresAt,
			Recipient:   req.Recipient,
			OrderId:     deref(req.OrderId),
			ResellerId:  derefId(v.ResellerId),
		})
	}
	return v, degraded, nil
}

// persist allocates a code unique among unused vouchers
func (p *Pipeline) persist(ctx context.Context, v *entity.Voucher, funding entity.Funding, length int) error {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		code, err := p.generate(length)
		if err != nil {
			return err
		}
		v.Code = code
		_, err = p.ledger.InsertVoucher(ctx, v, funding)
		if err == nil {
			return nil
		}
		if !errors.Is(err, entity.ErrDuplicateCode) {
			return err
		}
		p.log.With(slog.Int("attempt", attempt)).Debug("code collision")
	}
	return entity.ErrCodeExhausted
}

// provision creates the controller user. A user already holding the code
// is kept when it belongs to this voucher or was never used; a stale
// record of another voucher is replaced.
func (p *Pipeline) provision(ctx context.Context, v *entity.Voucher, profile *entity.Profile) *ProvisioningDegradedError {
	spec := gateway.UserSpec{
		Code:        v.Code,
		Profile:     profile.RemoteProfile,
		LimitUptime: profile.Duration.LimitUptime(),
		VoucherId:   v.Id,
	}
	err := p.controller.CreateUser(ctx, spec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gateway.ErrUserExists) {
		return &ProvisioningDegradedError{VoucherId: v.Id, Err: err}
	}

	existing, err := p.controller.GetUser(ctx, v.Code)
	if err != nil {
		return &ProvisioningDegradedError{VoucherId: v.Id, Err: err}
	}
	if existing == nil {
		if err = p.controller.CreateUser(ctx, spec); err != nil && !errors.Is(err, gateway.ErrUserExists) {
			return &ProvisioningDegradedError{VoucherId: v.Id, Err: err}
		}
		return nil
	}
	owner, owned := existing.VoucherId()
	if owned && owner == v.Id {
		return nil
	}
	if !gateway.LooksConsumed(*existing) && !owned {
		return nil
	}

	p.log.With(sl.Code(v.Code), slog.Int64("voucher_id", v.Id)).Info("replacing stale controller user")
	if _, err = p.controller.DeleteUser(ctx, v.Code); err != nil {
		return &ProvisioningDegradedError{VoucherId: v.Id, Err: err}
	}
	if err = p.controller.CreateUser(ctx, spec); err != nil {
		return &ProvisioningDegradedError{VoucherId: v.Id, Err: err}
	}
	return nil
}

func (p *Pipeline) record(v *entity.Voucher, req Request) {
	if p.recorder == nil {
		return
	}
	tx := &entity.Transaction{
		Id:        uuid.NewString(),
		Kind:      entity.TxIssue,
		VoucherId: v.Id,
		Code:      v.Code,
		Amount:    v.Price,
		CreatedAt: p.clock.Now().UTC(),
	}
	switch {
	case req.OrderId != nil:
		tx.Kind = entity.TxOrder
		tx.OrderId = *req.OrderId
	case req.Reseller != nil:
		tx.Kind = entity.TxSale
		tx.ResellerId = req.Reseller.Id
	}
	if err := p.recorder.SaveTransaction(tx); err != nil {
		p.log.With(slog.Int64("voucher_id", v.Id)).Warn("audit record not saved", sl.Err(err))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefId(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
