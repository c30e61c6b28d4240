package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"hsync/entity"
	"hsync/internal/issuance"
	"hsync/lib/sl"
)

// Sell issues count vouchers against the reseller's balance. On a ledger
// failure mid-batch the vouchers issued so far come back with the error.
func (c *Core) Sell(ctx context.Context, user *entity.User, req *entity.SaleRequest) (*issuance.BatchResult, error) {
	if user == nil || !user.IsReseller() {
		return nil, entity.ErrForbidden
	}
	if req.Count > c.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", entity.ErrBatchLimit, req.Count, c.maxBatch)
	}
	reseller, err := c.ledger.GetReseller(ctx, user.ResellerId)
	if err != nil {
		return nil, fmt.Errorf("reseller: %w", err)
	}
	if !reseller.Active {
		return nil, entity.ErrResellerInactive
	}
	profile, err := c.ledger.GetProfile(ctx, req.ProfileId)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return c.issuer.IssueBatch(ctx, issuance.Request{Profile: profile, Reseller: reseller}, req.Count)
}

// IssueVouchers is operator issuance without funding or owner
func (c *Core) IssueVouchers(ctx context.Context, req *entity.IssueRequest) (*issuance.BatchResult, error) {
	profile, err := c.ledger.GetProfile(ctx, req.ProfileId)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return c.issuer.IssueBatch(ctx, issuance.Request{Profile: profile}, req.Count)
}

// GetVoucher finds a voucher by code; resellers only see their own
func (c *Core) GetVoucher(ctx context.Context, user *entity.User, code string) (*entity.Voucher, error) {
	v, err := c.ledger.GetVoucherByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if user != nil && user.IsOperator() {
		return v, nil
	}
	if user == nil || v.ResellerId == nil || *v.ResellerId != user.ResellerId {
		return nil, entity.ErrNotFound
	}
	return v, nil
}

// DeleteVoucher removes the voucher from the ledger, then its controller
// user unless the code now belongs to another unused voucher
func (c *Core) DeleteVoucher(ctx context.Context, code string) error {
	v, err := c.ledger.GetVoucherByCode(ctx, code)
	if err != nil {
		return err
	}
	if err = c.ledger.DeleteVoucher(ctx, v.Id); err != nil {
		return err
	}
	log := c.log.With(slog.Int64("voucher_id", v.Id), sl.Code(v.Code))
	log.Info("voucher deleted")

	if other, err := c.ledger.GetVoucherByCode(ctx, code); err == nil && !other.Used {
		return nil
	}
	if c.controller == nil {
		return nil
	}
	if _, err = c.controller.DeleteUser(ctx, code); err != nil {
		log.Warn("controller user not deleted", sl.Err(err))
	}
	return nil
}

func (c *Core) ListProfiles(ctx context.Context, activeOnly bool) ([]*entity.Profile, error) {
	return c.ledger.ListProfiles(ctx, activeOnly)
}

func (c *Core) CreateProfile(ctx context.Context, req *entity.ProfileRequest) (*entity.Profile, error) {
	profile := req.Profile()
	profile.Active = true
	if _, err := c.ledger.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	c.log.With(slog.Int64("profile_id", profile.Id), slog.String("name", profile.Name)).Info("profile created")
	return profile, nil
}

// UpdateProfile edits a profile in place; vouchers already issued keep
// their price, duration and expiry
func (c *Core) UpdateProfile(ctx context.Context, id int64, req *entity.ProfileRequest) (*entity.Profile, error) {
	current, err := c.ledger.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	profile := req.Profile()
	profile.Id = id
	profile.Active = current.Active
	if err = c.ledger.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	c.log.With(slog.Int64("profile_id", id)).Info("profile updated")
	return profile, nil
}

func (c *Core) DisableProfile(ctx context.Context, id int64) error {
	if err := c.ledger.SetProfileActive(ctx, id, false); err != nil {
		return err
	}
	c.log.With(slog.Int64("profile_id", id)).Info("profile disabled")
	return nil
}

func (c *Core) CreateReseller(ctx context.Context, req *entity.ResellerRequest) (*entity.Reseller, error) {
	reseller := &entity.Reseller{
		Name:       req.Name,
		TelegramId: req.TelegramId,
		Active:     true,
	}
	if _, err := c.ledger.CreateReseller(ctx, reseller); err != nil {
		return nil, err
	}
	c.log.With(slog.Int64("reseller_id", reseller.Id), slog.String("name", reseller.Name)).Info("reseller created")
	return reseller, nil
}

func (c *Core) GetReseller(ctx context.Context, id int64) (*entity.Reseller, error) {
	return c.ledger.GetReseller(ctx, id)
}

// TopUp credits a reseller balance, records it and tells the reseller
func (c *Core) TopUp(ctx context.Context, id int64, amount int64) (*entity.Reseller, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	reseller, err := c.ledger.CreditReseller(ctx, id, amount)
	if err != nil {
		return nil, err
	}
	c.log.With(
		slog.Int64("reseller_id", id),
		slog.Int64("amount", amount),
		slog.Int64("balance", reseller.Balance),
	).Info("reseller credited")

	c.saveTransaction(&entity.Transaction{
		Id:         uuid.NewString(),
		Kind:       entity.TxTopUp,
		ResellerId: id,
		Amount:     amount,
		CreatedAt:  c.clock.Now().UTC(),
	})
	if c.notifier != nil {
		c.notifier.NotifyTopUp(reseller, amount)
	}
	return reseller, nil
}
