package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hsync/bot"
	"hsync/impl/auth"
	"hsync/impl/core"
	"hsync/internal/config"
	"hsync/internal/database"
	"hsync/internal/gateway"
	"hsync/internal/http-server/api"
	"hsync/internal/issuance"
	"hsync/internal/reconcile"
	"hsync/internal/stripeclient"
	"hsync/lib/logger"
	"hsync/lib/sl"
)

const logFileName = "hsync.log"

// ledger is what the memory and MySQL drivers both provide
type ledger interface {
	core.Ledger
	issuance.Ledger
	reconcile.Ledger
}

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	log := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	log.Info("starting hsync", slog.String("config", *configPath), slog.String("env", conf.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store ledger
	switch conf.Ledger.Driver {
	case "memory":
		log.Warn("using in-memory ledger; state is lost on restart")
		store = database.NewMemory()
	default:
		sqlClient, err := database.NewSQLClient(conf, log)
		if err != nil {
			log.Error("ledger", sl.Err(err))
			os.Exit(1)
		}
		defer sqlClient.Close()
		store = sqlClient
	}

	mongo := database.NewMongoClient(conf)
	if mongo == nil {
		log.Warn("mongo disabled; no api users, no audit trail")
	}

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled && mongo != nil {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.ApiKey, mongo, log, bot.BotConfig{
			DigestInterval: conf.Telegram.DigestInterval,
			Currency:       conf.Stripe.Currency,
		})
		if err != nil {
			log.Error("telegram bot", sl.Err(err))
		} else {
			log = logger.WithTelegram(log, tgBot, conf.Telegram.MinLevel)
			go func() {
				if err := tgBot.Start(); err != nil {
					log.Error("telegram bot", sl.Err(err))
				}
			}()
			defer tgBot.Stop()
		}
	}

	gwConf := gateway.Config{
		Host:     conf.Controller.Host,
		Port:     conf.Controller.Port,
		User:     conf.Controller.User,
		Password: conf.Controller.Password,
		TLS:      conf.Controller.TLS,
		Insecure: conf.Controller.Insecure,
		Timeout:  conf.Controller.Timeout,
		Server:   conf.Controller.Server,
	}
	// each client serializes its own commands, so issuance never waits
	// behind a reconciliation pass
	issueGateway := gateway.New(gwConf, log)
	reconcileGateway := gateway.New(gwConf, log)

	if identity, err := issueGateway.TestConnection(ctx); err != nil {
		log.Warn("controller not reachable at startup", sl.Err(err))
	} else {
		log.With(slog.String("identity", identity.Name)).Info("controller connected")
	}

	pipeline := issuance.New(store, issueGateway, log)
	pipeline.SetCodeAttempts(conf.Issuance.CodeAttempts)
	if mongo != nil {
		pipeline.SetRecorder(mongo)
	}
	if tgBot != nil {
		pipeline.SetNotifier(tgBot)
	}

	handler := core.New(store, pipeline, log)
	handler.SetController(issueGateway)
	handler.SetMaxBatch(conf.Issuance.MaxBatch)
	handler.SetCurrency(conf.Stripe.Currency)
	handler.SetCallbackSecret(conf.Payment.CallbackSecret)
	if conf.Stripe.APIKey != "" || conf.Stripe.TestMode {
		handler.SetPaymentProvider(stripeclient.New(conf, log))
	}
	if mongo != nil {
		handler.SetAuthService(auth.New(mongo))
		handler.SetEventStore(mongo)
	}
	if tgBot != nil {
		handler.SetNotifier(tgBot)
	}

	if conf.Reconcile.Enabled {
		engine := reconcile.New(store, reconcileGateway, reconcile.Options{
			Interval:           conf.Reconcile.Interval,
			UsedRetention:      conf.Reconcile.UsedRetention,
			KeepActiveSessions: conf.Reconcile.KeepActiveSessions,
		}, log)
		if tgBot != nil {
			engine.SetNotifier(tgBot)
		}
		engine.Start(ctx)
		handler.SetReconciler(engine)
	}

	if err := api.New(ctx, conf, log, handler); err != nil {
		log.Error("server", sl.Err(err))
		os.Exit(1)
	}
	log.Info("hsync stopped")
}
