package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MinPollInterval is the floor below which a configured poll interval is
// accepted but reported as suspicious.
const MinPollInterval = 100 * time.Millisecond

var DefaultTerminalMarkers = []string{
	"USAGE_LIMIT_EXCEEDED",
	"STARGIFT_USAGE_LIMITED",
	"PREMIUM_ACCOUNT_REQUIRED",
	"BALANCE_TOO_LOW",
	"INSUFFICIENT_BALANCE",
	"STARGIFT_INVALID",
	"PEER_ID_INVALID",
	"Could not find the input entity",
}

type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	PollInterval        time.Duration
	SupplyCeiling       int64
	QuantityPerIdentity int
	AutoAcquire         bool
	ForcedTestItemID    string
	MaxAttempts         int
	RetryBackoff        time.Duration
	AcquireRPS          float64
	AnonymousAcquire    bool
	SelectionFilter     string
	TerminalMarkers     []string
	TerminalMarkersFile string

	IdentitiesFile        string
	IdentityEncryptionKey string
	RemoteBaseURL         string
	RemoteTimeout         time.Duration

	StoreMode   string
	DatabaseURL string
	SQLitePath  string

	AdminUsername string
	AdminPassword string
	JWTSecret     string

	TelegramBotToken string
	TelegramChatID   string

	WebhookURL        string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookRetryBase  time.Duration
	WebhookRetryMax   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	return Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":18080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "text"),

		PollInterval:        getDuration("POLL_INTERVAL", time.Second),
		SupplyCeiling:       int64(getInt("SUPPLY_CEILING", 1000)),
		QuantityPerIdentity: getInt("QUANTITY_PER_IDENTITY", 1),
		AutoAcquire:         getBool("AUTO_ACQUIRE", true),
		ForcedTestItemID:    getEnv("FORCED_TEST_ITEM_ID", ""),
		MaxAttempts:         getInt("MAX_ATTEMPTS", 5),
		RetryBackoff:        getDuration("RETRY_BACKOFF", 300*time.Millisecond),
		AcquireRPS:          getFloat("ACQUIRE_RPS", 0),
		AnonymousAcquire:    getBool("ANONYMOUS_ACQUIRE", true),
		SelectionFilter:     getEnv("SELECTION_FILTER", ""),
		TerminalMarkers:     getList("TERMINAL_MARKERS", DefaultTerminalMarkers),
		TerminalMarkersFile: getEnv("TERMINAL_MARKERS_FILE", ""),

		IdentitiesFile:        getEnv("IDENTITIES_FILE", "identities.yaml"),
		IdentityEncryptionKey: getEnv("IDENTITY_ENCRYPTION_KEY", ""),
		RemoteBaseURL:         getEnv("REMOTE_BASE_URL", ""),
		RemoteTimeout:         getDuration("REMOTE_TIMEOUT", 10*time.Second),

		StoreMode:   getEnv("STORE_MODE", "memory"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "dropwatch.db"),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:     getEnv("JWT_SECRET", "change-this-secret"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		WebhookTimeout:    getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries: getInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookRetryBase:  getDuration("WEBHOOK_RETRY_BASE", 500*time.Millisecond),
		WebhookRetryMax:   getDuration("WEBHOOK_RETRY_MAX", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_CHANNEL", "dropwatch.events"),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		OTLPInsecure: getBool("OTLP_INSECURE", false),
	}
}

// PollIntervalTooLow reports whether the poll interval is below MinPollInterval.
func (c Config) PollIntervalTooLow() bool {
	return c.PollInterval < MinPollInterval
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
