// Package webhook receives payment provider notifications. Bodies are read
// raw because signatures are computed over the exact bytes sent.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"hsync/entity"
	"hsync/lib/api/response"
	"hsync/lib/sl"
)

const (
	tolerance = 5 * time.Minute
	maxBody   = 1 << 16

	SignatureHeader = "X-Signature"
)

type Core interface {
	StripeVerifySignature(payload []byte, header string, tolerance time.Duration) bool
	StripeEvent(ctx context.Context, payload []byte) (*entity.PaymentResult, error)
	VerifyCallback(payload []byte, signature string) bool
	ConfirmPayment(ctx context.Context, n *entity.PaymentNotification) (*entity.PaymentResult, error)
}

func Stripe(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.webhook"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("provider", "stripe"),
		)

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			logger.Error("read request body", sl.Err(err))
			badRequest(w, r, "Read body")
			return
		}

		if !handler.StripeVerifySignature(payload, r.Header.Get("Stripe-Signature"), tolerance) {
			logger.Warn("invalid webhook signature")
			badRequest(w, r, "Invalid signature")
			return
		}

		result, err := handler.StripeEvent(r.Context(), payload)
		respond(w, r, logger, result, err)
	}
}

// Payment takes a notification signed with the shared callback secret
func Payment(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.webhook"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("provider", "callback"),
		)

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			logger.Error("read request body", sl.Err(err))
			badRequest(w, r, "Read body")
			return
		}

		if !handler.VerifyCallback(payload, r.Header.Get(SignatureHeader)) {
			logger.Warn("invalid callback signature")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("Invalid signature"))
			return
		}

		var n entity.PaymentNotification
		if err = render.DecodeJSON(bytes.NewReader(payload), &n); err != nil {
			logger.Warn("decode notification", sl.Err(err))
			badRequest(w, r, fmt.Sprintf("Invalid request: %v", err))
			return
		}
		if err = n.Bind(r); err != nil {
			logger.Warn("bind notification", sl.Err(err))
			badRequest(w, r, fmt.Sprintf("Invalid request: %v", err))
			return
		}

		result, err := handler.ConfirmPayment(r.Context(), &n)
		respond(w, r, logger.With(slog.String("order_id", n.OrderId)), result, err)
	}
}

func respond(w http.ResponseWriter, r *http.Request, logger *slog.Logger, result *entity.PaymentResult, err error) {
	if err != nil {
		logger.Error("payment notification", sl.Err(err))
		render.Status(r, response.StatusOf(err))
		render.JSON(w, r, response.Error(fmt.Sprintf("Payment: %v", err)))
		return
	}
	if result == nil {
		render.JSON(w, r, response.Accepted("Event ignored", nil))
		return
	}
	if result.Replay {
		logger.With(slog.String("order_id", result.OrderId)).Debug("notification replay")
		render.JSON(w, r, response.Accepted("Already processed", result))
		return
	}
	render.JSON(w, r, response.Ok(result))
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error(message))
}
