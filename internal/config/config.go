package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
	// RequestTimeout bounds a single API call
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"30s"`
}

type LedgerConfig struct {
	Driver   string `yaml:"driver" env:"LEDGER_DRIVER" env-default:"mysql"`
	HostName string `yaml:"hostname" env:"LEDGER_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"LEDGER_PORT" env-default:"3306"`
	UserName string `yaml:"username" env:"LEDGER_USER" env-default:""`
	Password string `yaml:"password" env:"LEDGER_PASSWORD" env-default:""`
	Database string `yaml:"database" env:"LEDGER_DATABASE" env-default:"hsync"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:"admin"`
	Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:"pass"`
	Database string `yaml:"database" env-default:""`
}

type ControllerConfig struct {
	Host     string        `yaml:"host" env:"CONTROLLER_HOST" env-default:"192.168.88.1"`
	Port     string        `yaml:"port" env-default:""`
	User     string        `yaml:"user" env:"CONTROLLER_USER" env-default:"admin"`
	Password string        `yaml:"password" env:"CONTROLLER_PASSWORD" env-default:""`
	TLS      bool          `yaml:"tls" env-default:"true"`
	Insecure bool          `yaml:"insecure" env-default:"false"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
	Server   string        `yaml:"server" env-default:""`
}

type StripeConfig struct {
	APIKey            string `yaml:"api_key" env:"STRIPE_API_KEY" env-default:""`
	WebhookSecret     string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-default:""`
	TestMode          bool   `yaml:"test_mode" env-default:"false"`
	TestKey           string `yaml:"test_key" env-default:""`
	TestWebhookSecret string `yaml:"test_webhook_secret" env-default:""`
	SuccessURL        string `yaml:"success_url" env-default:""`
	CancelURL         string `yaml:"cancel_url" env-default:""`
	Currency          string `yaml:"currency" env-default:"usd"`
}

type PaymentConfig struct {
	CallbackSecret string `yaml:"callback_secret" env:"PAYMENT_CALLBACK_SECRET" env-default:""`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	ApiKey   string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	MinLevel string `yaml:"min_level" env-default:"warn"`
	// DigestInterval flushes buffered messages of digest subscribers
	DigestInterval time.Duration `yaml:"digest_interval" env-default:"1h"`
}

type ReconcileConfig struct {
	Enabled            bool          `yaml:"enabled" env-default:"true"`
	Interval           time.Duration `yaml:"interval" env-default:"5m"`
	UsedRetention      time.Duration `yaml:"used_retention" env-default:"168h"`
	KeepActiveSessions bool          `yaml:"keep_active_sessions" env-default:"true"`
}

type IssuanceConfig struct {
	CodeAttempts int `yaml:"code_attempts" env-default:"5"`
	MaxBatch     int `yaml:"max_batch" env-default:"100"`
}

type RateLimitConfig struct {
	Rps   int `yaml:"rps" env-default:"5"`
	Burst int `yaml:"burst" env-default:"10"`
}

type Config struct {
	Env        string           `yaml:"env" env-default:"local"`
	Listen     Listen           `yaml:"listen"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Controller ControllerConfig `yaml:"controller"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Payment    PaymentConfig    `yaml:"payment"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Issuance   IssuanceConfig   `yaml:"issuance"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
