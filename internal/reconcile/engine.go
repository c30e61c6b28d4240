// Package reconcile periodically converges the controller's hotspot users
// with the voucher ledger. The ledger is authoritative for which vouchers
// exist; the controller is authoritative for usage.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"hsync/entity"
	"hsync/internal/gateway"
	"hsync/internal/metrics"
	"hsync/lib/clock"
	"hsync/lib/sl"
)

type Ledger interface {
	ActiveVouchers(ctx context.Context, usedSince time.Time) ([]*entity.Voucher, error)
	MarkUsed(ctx context.Context, ids []int64, at time.Time) (int, error)
	GetProfile(ctx context.Context, id int64) (*entity.Profile, error)
}

type Controller interface {
	ListUsers(ctx context.Context) ([]gateway.User, error)
	ListActiveSessions(ctx context.Context) ([]string, error)
	CreateUser(ctx context.Context, spec gateway.UserSpec) error
	DeleteUser(ctx context.Context, code string) (bool, error)
}

type Notifier interface {
	NotifyOperators(msg string)
}

type Options struct {
	Interval           time.Duration
	UsedRetention      time.Duration
	KeepActiveSessions bool
}

var errSkipped = errors.New("skipped after connection loss")

type Engine struct {
	ledger     Ledger
	controller Controller
	notifier   Notifier
	clock      clock.Clock
	opts       Options
	group      singleflight.Group
	mu         sync.RWMutex
	last       *entity.ReconcileReport
	down       bool
	log        *slog.Logger
}

func New(ledger Ledger, controller Controller, opts Options, log *slog.Logger) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &Engine{
		ledger:     ledger,
		controller: controller,
		clock:      clock.System{},
		opts:       opts,
		log:        log.With(sl.Module("reconcile")),
	}
}

func (e *Engine) SetNotifier(notifier Notifier) {
	e.notifier = notifier
}

func (e *Engine) SetClock(c clock.Clock) {
	e.clock = c
}

// Start runs a pass immediately and then every interval until ctx is done
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()
		for {
			_, _ = e.RunOnce(ctx)
			select {
			case <-ctx.Done():
				e.log.Info("reconciliation stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// RunOnce performs a pass; callers arriving while a pass is running share
// its result instead of starting another
func (e *Engine) RunOnce(ctx context.Context) (*entity.ReconcileReport, error) {
	res, err, _ := e.group.Do("pass", func() (interface{}, error) {
		return e.pass(ctx)
	})
	report, _ := res.(*entity.ReconcileReport)
	return report, err
}

// LastReport returns the most recent finished pass, nil before the first one
func (e *Engine) LastReport() *entity.ReconcileReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Engine) pass(ctx context.Context) (*entity.ReconcileReport, error) {
	now := e.clock.Now()
	started := time.Now()
	report := &entity.ReconcileReport{StartedAt: now}

	err := e.run(ctx, now, report)
	report.FinishedAt = e.clock.Now()

	result := "ok"
	switch {
	case err != nil:
		result = "aborted"
		report.Aborted = err.Error()
	case report.Unreachable:
		result = "unreachable"
	case len(report.Errors) > 0:
		result = "partial"
	}
	metrics.ReconcilePass(result, time.Since(started))
	e.track(report, err)

	e.mu.Lock()
	e.last = report
	e.mu.Unlock()
	return report, err
}

func (e *Engine) run(ctx context.Context, now time.Time, report *entity.ReconcileReport) error {
	vouchers, err := e.ledger.ActiveVouchers(ctx, now.Add(-e.opts.UsedRetention))
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	users, err := e.controller.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	sessions, err := e.controller.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	report.Ledger = len(vouchers)
	report.Remote = len(users)
	report.Sessions = len(sessions)

	delta := Plan(vouchers, users, sessions, now, e.opts.KeepActiveSessions)
	report.Deferred = len(delta.Deferred)
	if delta.Empty() {
		return nil
	}
	e.apply(ctx, now, delta, report)
	return nil
}

// apply executes the delta. After the first connection loss the remaining
// controller calls are skipped; ledger updates still happen.
func (e *Engine) apply(ctx context.Context, now time.Time, d *Delta, report *entity.ReconcileReport) {
	remote := func(fn func() error) error {
		if report.Unreachable {
			report.Skipped++
			return errSkipped
		}
		err := fn()
		if err != nil && gateway.IsConnectionLoss(err) {
			report.Unreachable = true
		}
		return err
	}
	failed := func(action, code string, err error) {
		if errors.Is(err, errSkipped) {
			return
		}
		report.Errors = append(report.Errors, fmt.Sprintf("%s %s: %v", action, code, err))
		if !gateway.IsConnectionLoss(err) {
			e.log.With(sl.Code(code), slog.String("action", action)).Warn("reconcile action failed", sl.Err(err))
		}
	}

	// a consumed code stays on the controller until the ledger records it used
	var hold map[string]bool
	if len(d.MarkUsed) > 0 {
		n, err := e.ledger.MarkUsed(ctx, d.MarkUsed, now)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("mark used: %v", err))
			e.log.Error("mark used", sl.Err(err))
			hold = d.consumed
		}
		report.MarkedUsed = n
		metrics.ReconcileAction("mark_used", n)
	}

	for _, code := range d.Delete {
		if hold[code] {
			report.Deferred++
			continue
		}
		var existed bool
		err := remote(func() (err error) {
			existed, err = e.controller.DeleteUser(ctx, code)
			return err
		})
		if err != nil {
			failed("delete", code, err)
			continue
		}
		if existed {
			report.Deleted++
		}
	}

	// expired vouchers are retired whatever the delete outcome
	if len(d.Expire) > 0 {
		n, err := e.ledger.MarkUsed(ctx, d.Expire, now)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("expire: %v", err))
			e.log.Error("mark expired", sl.Err(err))
		}
		report.Expired = n
		metrics.ReconcileAction("expire", n)
	}

	profiles := make(map[int64]*entity.Profile)
	specFor := func(v *entity.Voucher) (gateway.UserSpec, error) {
		p, ok := profiles[v.ProfileId]
		if !ok {
			var err error
			p, err = e.ledger.GetProfile(ctx, v.ProfileId)
			if err != nil {
				return gateway.UserSpec{}, fmt.Errorf("profile %d: %w", v.ProfileId, err)
			}
			profiles[v.ProfileId] = p
		}
		return gateway.UserSpec{
			Code:        v.Code,
			Profile:     p.RemoteProfile,
			LimitUptime: v.Duration.LimitUptime(),
			VoucherId:   v.Id,
		}, nil
	}

	for _, v := range d.Replace {
		spec, err := specFor(v)
		if err != nil {
			failed("replace", v.Code, err)
			continue
		}
		err = remote(func() error {
			if _, err := e.controller.DeleteUser(ctx, v.Code); err != nil {
				return err
			}
			report.Deleted++
			return e.controller.CreateUser(ctx, spec)
		})
		if err != nil {
			failed("replace", v.Code, err)
			continue
		}
		report.Created++
	}

	for _, v := range d.Create {
		spec, err := specFor(v)
		if err != nil {
			failed("create", v.Code, err)
			continue
		}
		err = remote(func() error {
			return e.controller.CreateUser(ctx, spec)
		})
		if errors.Is(err, gateway.ErrUserExists) {
			continue
		}
		if err != nil {
			failed("create", v.Code, err)
			continue
		}
		report.Created++
	}

	metrics.ReconcileAction("create", report.Created)
	metrics.ReconcileAction("delete", report.Deleted)
}

// track logs the pass outcome and reports controller outages on transition
func (e *Engine) track(report *entity.ReconcileReport, err error) {
	log := e.log.With(
		slog.Int("ledger", report.Ledger),
		slog.Int("remote", report.Remote),
		slog.Int("created", report.Created),
		slog.Int("deleted", report.Deleted),
		slog.Int("marked_used", report.MarkedUsed),
		slog.Int("expired", report.Expired),
		slog.Int("deferred", report.Deferred),
	)

	lost := report.Unreachable || (err != nil && gateway.IsConnectionLoss(err))
	e.mu.Lock()
	wasDown := e.down
	e.down = lost
	e.mu.Unlock()

	switch {
	case lost && !wasDown:
		log.With(slog.Int("skipped", report.Skipped)).Error("controller unreachable", sl.Err(err))
		if e.notifier != nil {
			e.notifier.NotifyOperators("Controller unreachable, reconciliation paused")
		}
	case lost:
		log.With(slog.Int("skipped", report.Skipped)).Warn("controller still unreachable")
	case err != nil:
		log.Error("reconciliation aborted", sl.Err(err))
	case wasDown:
		log.Info("controller reachable again")
		if e.notifier != nil {
			e.notifier.NotifyOperators("Controller reachable again, reconciliation resumed")
		}
	case report.Mutations() > 0 || report.MarkedUsed > 0 || report.Expired > 0 || len(report.Errors) > 0:
		log.With(slog.Int("errors", len(report.Errors))).Info("reconciliation pass")
	default:
		log.Debug("reconciliation pass")
	}
}
