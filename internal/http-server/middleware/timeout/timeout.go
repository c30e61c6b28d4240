package timeout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"hsync/lib/api/response"
)

// Timeout bounds the request context. A handler that ran out of time
// without answering gets 504. A zero timeout disables the bound.
func Timeout(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			if ww.Status() == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				render.Status(r, http.StatusGatewayTimeout)
				render.JSON(ww, r, response.Error("Request timed out"))
			}
		}
		return http.HandlerFunc(fn)
	}
}
