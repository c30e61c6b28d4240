// Package bot delivers notifications over Telegram.
//
//   - tgbot.go     TgBot lifecycle and the user cache
//   - commands.go  /start, /stop, /level, /topics
//   - notifier.go  issuance, rejection, top-up and operator events
//   - messaging.go log and topic routing: level filter, topic filter, digest
//   - digest.go    DigestBuffer for batched delivery
//   - helpers.go   Sanitize, plainResponse, splitMessage
//
// Subscribers are API users with a Telegram id; operators among them also
// receive alerts. Every send runs in the background, so callers never wait
// on Telegram and never see its errors.
package bot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"hsync/entity"
	"hsync/lib/sl"
)

type BotConfig struct {
	DigestInterval time.Duration
	Currency       string
}

// Database is implemented by internal/database/mongo.go
type Database interface {
	GetTelegramUsers() ([]*entity.User, error)
	SetTelegramEnabled(id int64, isActive bool, logLevel int) error
	SetTelegramTopics(id int64, topics []string) error
}

// sendFunc posts one message; replaced in tests
type sendFunc func(chatId int64, text string, opts *tgbotapi.SendMessageOpts) error

type TgBot struct {
	log         *slog.Logger
	api         *tgbotapi.Bot
	send        sendFunc
	db          Database
	mu          sync.RWMutex
	users       map[int64]*entity.User
	operatorIds []int64
	minLogLevel slog.Level
	updater     *ext.Updater
	digest      *DigestBuffer
	config      BotConfig
	pending     sync.WaitGroup
}

func NewTgBot(apiKey string, db Database, log *slog.Logger, cfg BotConfig) (*TgBot, error) {
	if cfg.DigestInterval == 0 {
		cfg.DigestInterval = time.Hour
	}

	tgBot := &TgBot{
		log:         log.With(sl.Module("tgbot")),
		db:          db,
		minLogLevel: slog.LevelDebug,
		users:       make(map[int64]*entity.User),
		config:      cfg,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api
	tgBot.send = func(chatId int64, text string, opts *tgbotapi.SendMessageOpts) error {
		_, err := api.SendMessage(chatId, text, opts)
		return err
	}

	return tgBot, nil
}

// Start loads subscribers and polls for commands; it blocks until Stop
func (t *TgBot) Start() error {
	t.loadUsers()

	t.digest = NewDigestBuffer(t, t.config.DigestInterval)
	t.digest.StartTicker()

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("stop", t.stop))
	dispatcher.AddHandler(handlers.NewCommand("level", t.level))
	dispatcher.AddHandler(handlers.NewCommand("topics", t.topics))

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
	t.pending.Wait()
	if t.digest != nil {
		t.digest.Stop()
	}
}

// loadUsers refreshes the subscriber cache; called on startup and after
// every command that changes a user
func (t *TgBot) loadUsers() {
	if t.db == nil {
		return
	}
	users, err := t.db.GetTelegramUsers()
	if err != nil {
		t.log.Error("loading users", sl.Err(err))
		return
	}
	t.setUsers(users)
}

func (t *TgBot) setUsers(users []*entity.User) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.users = make(map[int64]*entity.User, len(users))
	t.operatorIds = nil
	active := 0
	for _, user := range users {
		t.users[user.TelegramId] = user
		if !user.TelegramEnabled {
			continue
		}
		active++
		if user.IsOperator() {
			t.operatorIds = append(t.operatorIds, user.TelegramId)
		}
	}
	t.log.With(
		slog.Int("count", len(t.users)),
		slog.Int("active", active),
		slog.Int("operators", len(t.operatorIds)),
	).Debug("loaded users")
}

func (t *TgBot) findUser(id int64) *entity.User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.users[id]
}

// background runs fn without blocking the caller; Stop waits for it
func (t *TgBot) background(fn func()) {
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		fn()
	}()
}
