package orders

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"hsync/entity"
	"hsync/lib/api/response"
	"hsync/lib/sl"
)

type Core interface {
	CreateOrder(ctx context.Context, req *entity.OrderRequest) (*entity.Checkout, error)
	GetOrderStatus(ctx context.Context, orderId string) (*entity.OrderStatusView, error)
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.orders"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req entity.OrderRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.Int64("profile_id", req.ProfileId),
			slog.String("method", string(req.Method)),
		)

		checkout, err := handler.CreateOrder(r.Context(), &req)
		if err != nil {
			logger.Error("create order", sl.Err(err))
			render.Status(r, response.StatusOf(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Create order: %v", err)))
			return
		}
		logger.With(slog.String("order_id", checkout.OrderId)).Debug("order created")

		render.JSON(w, r, response.Ok(checkout))
	}
}

func Status(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.orders"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("order_id", id),
		)

		view, err := handler.GetOrderStatus(r.Context(), id)
		if err != nil {
			logger.Warn("order status", sl.Err(err))
			render.Status(r, response.StatusOf(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Order: %v", err)))
			return
		}

		render.JSON(w, r, response.Ok(view))
	}
}
