package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"hsync/entity"
	"hsync/internal/config"
	"hsync/internal/http-server/handlers/admin"
	herrors "hsync/internal/http-server/handlers/errors"
	"hsync/internal/http-server/handlers/orders"
	"hsync/internal/http-server/handlers/vouchers"
	"hsync/internal/http-server/handlers/webhook"
	"hsync/internal/http-server/middleware/authenticate"
	"hsync/internal/http-server/middleware/metrics"
	"hsync/internal/http-server/middleware/ratelimit"
	"hsync/internal/http-server/middleware/timeout"
	"hsync/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	orders.Core
	vouchers.Core
	admin.Core
	webhook.Core
}

// Router builds the route tree. Public order and webhook routes are rate
// limited per client address; everything under /v1 except orders needs a token.
func Router(conf *config.Config, log *slog.Logger, handler Handler, limiter *ratelimit.Limiter) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(metrics.Metrics)
	router.Use(timeout.Timeout(conf.Listen.RequestTimeout))
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(herrors.NotFound(log))
	router.MethodNotAllowed(herrors.NotAllowed(log))

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(public chi.Router) {
			public.Use(limiter.Handler)
			public.Post("/orders", orders.Create(log, handler))
			public.Get("/orders/{id}", orders.Status(log, handler))
		})

		v1.Group(func(private chi.Router) {
			private.Use(authenticate.New(log, handler))
			private.Get("/profiles", vouchers.Profiles(log, handler))
			private.Get("/vouchers/{code}", vouchers.Get(log, handler))
			private.With(authenticate.Require(entity.RoleReseller)).Post("/vouchers", vouchers.Sell(log, handler))

			private.Route("/admin", func(adm chi.Router) {
				adm.Use(authenticate.Require(entity.RoleOperator))
				adm.Post("/vouchers", admin.IssueVouchers(log, handler))
				adm.Delete("/vouchers/{code}", admin.DeleteVoucher(log, handler))
				adm.Get("/profiles", admin.ListProfiles(log, handler))
				adm.Post("/profiles", admin.CreateProfile(log, handler))
				adm.Put("/profiles/{id}", admin.UpdateProfile(log, handler))
				adm.Post("/profiles/{id}/disable", admin.DisableProfile(log, handler))
				adm.Post("/resellers", admin.CreateReseller(log, handler))
				adm.Get("/resellers/{id}", admin.GetReseller(log, handler))
				adm.Post("/resellers/{id}/topup", admin.TopUp(log, handler))
				adm.Get("/controller", admin.Controller(log, handler))
				adm.Get("/reconcile", admin.Reconcile(log, handler))
			})
		})
	})

	router.Route("/webhook", func(wh chi.Router) {
		wh.Use(limiter.Handler)
		wh.Post("/stripe", webhook.Stripe(log, handler))
		wh.Post("/payment", webhook.Payment(log, handler))
	})

	return router
}

// New serves the API until ctx is cancelled
func New(ctx context.Context, conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	limiter := ratelimit.New(conf.RateLimit.Rps, conf.RateLimit.Burst)
	limiter.Start(ctx)

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      Router(conf, log, handler, limiter),
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: conf.Listen.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.httpServer.Shutdown(shutdown); err != nil {
			server.log.Error("shutdown", sl.Err(err))
		}
	}()

	server.log.Info("starting api server", slog.String("address", serverAddress))

	err = server.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
