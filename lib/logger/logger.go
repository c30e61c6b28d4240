package logger

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func SetupLogger(env, logPath string) *slog.Logger {
	var logFile *os.File
	var err error

	if env != envLocal {
		logFile, err = os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("error opening log file: ", err)
		}
		log.Printf("env: %s; log file: %s", env, logPath)
	}

	var handler slog.Handler
	switch env {
	case envLocal:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	case envDev:
		handler = slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	case envProd:
		handler = slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo})
	default:
		log.Fatal("invalid environment: ", env)
	}

	return slog.New(handler)
}

// WithTelegram returns a logger that also forwards records at minLevel
// and above to Telegram
func WithTelegram(logger *slog.Logger, sender Sender, minLevel string) *slog.Logger {
	return slog.New(NewTelegramHandler(logger.Handler(), sender, ParseLevel(minLevel)))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}
