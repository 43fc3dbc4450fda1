package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// メール送信プロバイダー
const (
	ProviderPostmark = "postmark"
	ProviderMailgun  = "mailgun"
	ProviderSES      = "ses"
	ProviderAMQP     = "amqp"
)

// 確認メールの配信方式
const (
	DeliveryOutbox = "outbox"
	DeliveryDirect = "direct"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	BaseURL           string
	TrustProxyHeaders bool

	// Logging
	LogLevel string

	// Email
	Email         EmailConfig
	EmailDelivery string

	// Rate Limit
	RateLimitSubscribe int

	// Newsletter
	PublishConcurrency int
	PublishMaxRetries  int

	// Outbox worker
	OutboxInterval      time.Duration
	OutboxBatchSize     int
	OutboxMaxConcurrent int
	OutboxMaxAttempts   int
	OutboxRetentionDays int
}

// EmailConfig はメール送信プロバイダーの設定。
// Providerに応じて必要な項目だけが使われる。
type EmailConfig struct {
	Provider string
	Sender   string
	Timeout  time.Duration

	// Postmark
	PostmarkBaseURL string
	PostmarkToken   string

	// Mailgun
	MailgunDomain  string
	MailgunAPIKey  string
	MailgunAPIBase string

	// Amazon SES
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// RabbitMQ
	AMQPURL       string
	AMQPQueue     string
	RelayProvider string
}

// LoadDotEnv は.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.Email.Sender = os.Getenv("EMAIL_SENDER")
	if cfg.Email.Sender == "" {
		missing = append(missing, "EMAIL_SENDER")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.EmailDelivery = strings.ToLower(getEnvString("EMAIL_DELIVERY", DeliveryOutbox))
	cfg.RateLimitSubscribe = getEnvInt("RATE_LIMIT_SUBSCRIBE", 10)
	cfg.PublishConcurrency = getEnvInt("PUBLISH_CONCURRENCY", 4)
	cfg.PublishMaxRetries = getEnvInt("PUBLISH_MAX_RETRIES", 2)
	cfg.OutboxInterval = getEnvDuration("OUTBOX_INTERVAL", 10*time.Second)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxConcurrent = getEnvInt("OUTBOX_MAX_CONCURRENT", 5)
	cfg.OutboxMaxAttempts = getEnvInt("OUTBOX_MAX_ATTEMPTS", 8)
	cfg.OutboxRetentionDays = getEnvInt("OUTBOX_RETENTION_DAYS", 14)

	cfg.Email.Provider = strings.ToLower(getEnvString("EMAIL_PROVIDER", ProviderPostmark))
	cfg.Email.Timeout = getEnvDuration("EMAIL_TIMEOUT", 10*time.Second)
	cfg.Email.PostmarkBaseURL = getEnvString("EMAIL_BASE_URL", "https://api.postmarkapp.com")
	cfg.Email.PostmarkToken = os.Getenv("EMAIL_AUTH_TOKEN")
	cfg.Email.MailgunDomain = os.Getenv("MAILGUN_DOMAIN")
	cfg.Email.MailgunAPIKey = os.Getenv("MAILGUN_API_KEY")
	cfg.Email.MailgunAPIBase = os.Getenv("MAILGUN_API_BASE")
	cfg.Email.AWSRegion = os.Getenv("AWS_REGION")
	cfg.Email.AWSAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.Email.AWSSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.Email.AMQPURL = os.Getenv("AMQP_URL")
	cfg.Email.AMQPQueue = getEnvString("AMQP_QUEUE", "newsletter.emails")
	cfg.Email.RelayProvider = strings.ToLower(getEnvString("RELAY_PROVIDER", ProviderPostmark))

	switch cfg.EmailDelivery {
	case DeliveryOutbox, DeliveryDirect:
	default:
		return nil, fmt.Errorf("EMAIL_DELIVERY must be %q or %q, got %q", DeliveryOutbox, DeliveryDirect, cfg.EmailDelivery)
	}

	if err := cfg.Email.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate はProviderに必要な設定が揃っているかを検証する。
// amqpの場合はRELAY_PROVIDERの設定も検証する。
func (e EmailConfig) Validate() error {
	missing, err := e.missingFor(e.Provider)
	if err != nil {
		return err
	}
	if e.Provider == ProviderAMQP {
		if e.RelayProvider == ProviderAMQP {
			return errors.New("RELAY_PROVIDER must not be amqp")
		}
		relayMissing, err := e.missingFor(e.RelayProvider)
		if err != nil {
			return fmt.Errorf("RELAY_PROVIDER: %w", err)
		}
		missing = append(missing, relayMissing...)
	}
	if len(missing) > 0 {
		return fmt.Errorf("email provider %q requires environment variables: %v", e.Provider, missing)
	}
	return nil
}

// ForProvider はProviderを差し替えた設定を返す。relayで下位プロバイダーを組み立てる際に使う。
func (e EmailConfig) ForProvider(provider string) EmailConfig {
	e.Provider = provider
	return e
}

func (e EmailConfig) missingFor(provider string) ([]string, error) {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch provider {
	case ProviderPostmark:
		require("EMAIL_BASE_URL", e.PostmarkBaseURL)
		require("EMAIL_AUTH_TOKEN", e.PostmarkToken)
	case ProviderMailgun:
		require("MAILGUN_DOMAIN", e.MailgunDomain)
		require("MAILGUN_API_KEY", e.MailgunAPIKey)
	case ProviderSES:
		require("AWS_REGION", e.AWSRegion)
	case ProviderAMQP:
		require("AMQP_URL", e.AMQPURL)
		require("AMQP_QUEUE", e.AMQPQueue)
	default:
		return nil, fmt.Errorf("unknown email provider %q", provider)
	}
	return missing, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
