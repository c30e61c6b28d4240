// Package admin serves the operator routes.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"hsync/entity"
	"hsync/internal/gateway"
	"hsync/internal/issuance"
	"hsync/lib/api/cont"
	"hsync/lib/api/response"
	"hsync/lib/sl"
)

type Core interface {
	IssueVouchers(ctx context.Context, req *entity.IssueRequest) (*issuance.BatchResult, error)
	DeleteVoucher(ctx context.Context, code string) error
	ListProfiles(ctx context.Context, activeOnly bool) ([]*entity.Profile, error)
	CreateProfile(ctx context.Context, req *entity.ProfileRequest) (*entity.Profile, error)
	UpdateProfile(ctx context.Context, id int64, req *entity.ProfileRequest) (*entity.Profile, error)
	DisableProfile(ctx context.Context, id int64) error
	CreateReseller(ctx context.Context, req *entity.ResellerRequest) (*entity.Reseller, error)
	GetReseller(ctx context.Context, id int64) (*entity.Reseller, error)
	TopUp(ctx context.Context, id int64, amount int64) (*entity.Reseller, error)
	TestController(ctx context.Context) (*gateway.Identity, error)
	ReconcileStatus() (*entity.ReconcileReport, error)
}

func logger(log *slog.Logger, r *http.Request) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.admin"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user", cont.GetUser(r.Context()).Username),
	)
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
}

func failed(w http.ResponseWriter, r *http.Request, what string, err error) {
	render.Status(r, response.StatusOf(err))
	render.JSON(w, r, response.Error(fmt.Sprintf("%s: %v", what, err)))
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func IssueVouchers(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logger(log, r)

		var req entity.IssueRequest
		if err := render.Bind(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}
		logger = logger.With(slog.Int64("profile_id", req.ProfileId), slog.Int("count", req.Count))

		result, err := handler.IssueVouchers(r.Context(), &req)
		if err != nil {
			logger.Warn("issue vouchers", sl.Err(err))
			render.Status(r, response.StatusOf(err))
			render.JSON(w, r, response.Failed(fmt.Sprintf("Issue: %v", err), result))
			return
		}
		logger.With(slog.Int("degraded", result.Degraded)).Info("vouchers issued")

		render.JSON(w, r, response.Ok(result))
	}
}

func DeleteVoucher(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		logger := logger(log, r).With(sl.Code(code))

		if err := handler.DeleteVoucher(r.Context(), code); err != nil {
			logger.Warn("delete voucher", sl.Err(err))
			failed(w, r, "Delete voucher", err)
			return
		}

		render.JSON(w, r, response.Ok(nil))
	}
}

func ListProfiles(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := handler.ListProfiles(r.Context(), false)
		if err != nil {
			logger(log, r).Error("list profiles", sl.Err(err))
			failed(w, r, "Profiles", err)
			return
		}
		render.JSON(w, r, response.Ok(profiles))
	}
}

func CreateProfile(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entity.ProfileRequest
		if err := render.Bind(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}

		profile, err := handler.CreateProfile(r.Context(), &req)
		if err != nil {
			logger(log, r).With(slog.String("name", req.Name)).Warn("create profile", sl.Err(err))
			failed(w, r, "Create profile", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(profile))
	}
}

func UpdateProfile(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		var req entity.ProfileRequest
		if err = render.Bind(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}

		profile, err := handler.UpdateProfile(r.Context(), id, &req)
		if err != nil {
			logger(log, r).With(slog.Int64("profile_id", id)).Warn("update profile", sl.Err(err))
			failed(w, r, "Update profile", err)
			return
		}

		render.JSON(w, r, response.Ok(profile))
	}
}

func DisableProfile(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			badRequest(w, r, err)
			return
		}

		if err = handler.DisableProfile(r.Context(), id); err != nil {
			logger(log, r).With(slog.Int64("profile_id", id)).Warn("disable profile", sl.Err(err))
			failed(w, r, "Disable profile", err)
			return
		}

		render.JSON(w, r, response.Ok(nil))
	}
}

func CreateReseller(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entity.ResellerRequest
		if err := render.Bind(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}

		reseller, err := handler.CreateReseller(r.Context(), &req)
		if err != nil {
			logger(log, r).Error("create reseller", sl.Err(err))
			failed(w, r, "Create reseller", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(reseller))
	}
}

func GetReseller(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			badRequest(w, r, err)
			return
		}

		reseller, err := handler.GetReseller(r.Context(), id)
		if err != nil {
			logger(log, r).With(slog.Int64("reseller_id", id)).Debug("get reseller", sl.Err(err))
			failed(w, r, "Reseller", err)
			return
		}

		render.JSON(w, r, response.Ok(reseller))
	}
}

func TopUp(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		var req entity.TopUpRequest
		if err = render.Bind(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}

		reseller, err := handler.TopUp(r.Context(), id, req.Amount)
		if err != nil {
			logger(log, r).With(slog.Int64("reseller_id", id)).Warn("top-up", sl.Err(err))
			failed(w, r, "Top-up", err)
			return
		}

		render.JSON(w, r, response.Ok(reseller))
	}
}

// Controller checks that the controller answers with the configured credentials
func Controller(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := handler.TestController(r.Context())
		if err != nil {
			logger(log, r).Warn("controller check", sl.Err(err))
			status := response.StatusOf(err)
			var ce *gateway.ConnectionError
			if errors.As(err, &ce) {
				status = http.StatusBadGateway
			}
			render.Status(r, status)
			render.JSON(w, r, response.Error(fmt.Sprintf("Controller: %v", err)))
			return
		}

		render.JSON(w, r, response.Ok(identity))
	}
}

func Reconcile(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := handler.ReconcileStatus()
		if err != nil {
			logger(log, r).Debug("reconcile status", sl.Err(err))
			failed(w, r, "Reconciliation", err)
			return
		}

		render.JSON(w, r, response.Ok(report))
	}
}
