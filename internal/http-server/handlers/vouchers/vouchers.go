package vouchers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"hsync/entity"
	"hsync/internal/issuance"
	"hsync/lib/api/cont"
	"hsync/lib/api/response"
	"hsync/lib/sl"
)

type Core interface {
	Sell(ctx context.Context, user *entity.User, req *entity.SaleRequest) (*issuance.BatchResult, error)
	GetVoucher(ctx context.Context, user *entity.User, code string) (*entity.Voucher, error)
	ListProfiles(ctx context.Context, activeOnly bool) ([]*entity.Profile, error)
}

// Sell is the reseller sale; a batch that stops midway still returns
// the vouchers already paid for
func Sell(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.vouchers"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
		)

		var req entity.SaleRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.Int64("profile_id", req.ProfileId),
			slog.Int("count", req.Count),
		)

		result, err := handler.Sell(r.Context(), user, &req)
		if err != nil {
			logger.Warn("sale", sl.Err(err))
			render.Status(r, response.StatusOf(err))
			if result != nil && len(result.Vouchers) > 0 {
				render.JSON(w, r, response.Failed(fmt.Sprintf("Sale stopped: %v", err), result))
				return
			}
			render.JSON(w, r, response.Error(fmt.Sprintf("Sale: %v", err)))
			return
		}
		logger.With(slog.Int("degraded", result.Degraded)).Debug("sale completed")

		render.JSON(w, r, response.Ok(result))
	}
}

func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.vouchers"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", user.Username),
			sl.Code(code),
		)

		v, err := handler.GetVoucher(r.Context(), user, code)
		if err != nil {
			logger.Debug("voucher lookup", sl.Err(err))
			render.Status(r, response.StatusOf(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Voucher: %v", err)))
			return
		}

		render.JSON(w, r, response.Ok(v))
	}
}

// Profiles lists the profiles open for sale
func Profiles(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := handler.ListProfiles(r.Context(), true)
		if err != nil {
			log.With(
				sl.Module("http.handlers.vouchers"),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			).Error("list profiles", sl.Err(err))
			render.Status(r, response.StatusOf(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Profiles: %v", err)))
			return
		}

		render.JSON(w, r, response.Ok(profiles))
	}
}
