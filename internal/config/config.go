package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const webhookSecretPrefix = "WEBHOOK_SECRET_"

type Config struct {
	AppEnv string

	HTTPAddr         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// Postgres
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBAutoMigrate  bool

	// Redis & Caching. Empty RedisURL runs the service store-only.
	RedisURL                 string
	CacheLinkTTL             time.Duration
	CachePrewarmLimit        int
	CacheInvalidationEnabled bool

	// RabbitMQ
	RabbitURL      string
	RabbitExchange string

	// Commission policy
	PlatformFeeRate         decimal.Decimal
	DefaultCookieWindowDays int

	// Redirects
	RedirectPrefix       string
	RedirectNotFoundURL  string
	RedirectStoreTimeout time.Duration
	CookiePrefix         string

	// Click recording
	IPHashSalt          string
	ClickQueueSize      int
	ClickWorkers        int
	ClickMaxAttempts    int
	ClickVelocityLimit  int
	ClickVelocityWindow time.Duration

	// Webhooks
	WebhookSharedSecret    string
	WebhookSecrets         map[string]string
	WebhookProviders       map[string]WebhookProvider
	WebhookSignatureMaxAge time.Duration
	WebhookMaxBodyBytes    int64
	WebhookAllowUnsigned   bool

	// Rate Limiting
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 5*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 10*time.Second)
	cfg.HTTPIdleTimeout = getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.DBMaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", 10)
	cfg.DBAutoMigrate = getBoolEnv("DB_AUTO_MIGRATE", false)

	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.CacheLinkTTL = getDuration("CACHE_LINK_TTL", time.Hour)
	cfg.CachePrewarmLimit = getIntEnv("CACHE_PREWARM_LIMIT", 1000)
	cfg.CacheInvalidationEnabled = getBoolEnv("CACHE_INVALIDATION_ENABLED", true)

	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "affiliate.events")

	cfg.PlatformFeeRate = getDecimalEnv("PLATFORM_FEE_RATE", decimal.RequireFromString("0.20"))
	cfg.DefaultCookieWindowDays = getIntEnv("DEFAULT_COOKIE_WINDOW_DAYS", 7)

	cfg.RedirectPrefix = strings.Trim(getEnv("REDIRECT_PREFIX", "l"), "/")
	cfg.RedirectNotFoundURL = getEnv("REDIRECT_NOT_FOUND_URL", "")
	cfg.RedirectStoreTimeout = getDuration("REDIRECT_STORE_TIMEOUT", 50*time.Millisecond)
	cfg.CookiePrefix = getEnv("COOKIE_PREFIX", "aff_ref")

	cfg.IPHashSalt = getEnv("IP_HASH_SALT", "")
	cfg.ClickQueueSize = getIntEnv("CLICK_QUEUE_SIZE", 1024)
	cfg.ClickWorkers = getIntEnv("CLICK_WORKERS", 4)
	cfg.ClickMaxAttempts = getIntEnv("CLICK_MAX_ATTEMPTS", 3)
	cfg.ClickVelocityLimit = getIntEnv("CLICK_VELOCITY_LIMIT", 100)
	cfg.ClickVelocityWindow = getDuration("CLICK_VELOCITY_WINDOW", 60*time.Second)

	cfg.WebhookSharedSecret = getEnv("WEBHOOK_SECRET", "")
	cfg.WebhookSecrets = webhookSecretsFromEnv(os.Environ())
	cfg.WebhookSignatureMaxAge = getDuration("WEBHOOK_SIGNATURE_MAX_AGE", 5*time.Minute)
	cfg.WebhookMaxBodyBytes = int64(getIntEnv("WEBHOOK_MAX_BODY_BYTES", 1<<20))
	cfg.WebhookAllowUnsigned = getBoolEnv("WEBHOOK_ALLOW_UNSIGNED", true)

	providers, err := LoadProviders(getEnv("WEBHOOK_PROVIDERS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.WebhookProviders = providers

	// Rate Limiting Defaults: 100 reqs / 1 min
	cfg.RLEnabled = getEnv("RL_ENABLED", "true") == "true"
	cfg.RLLimit = getIntEnv("RL_IP_LIMIT", 100)
	cfg.RLWindow = getDuration("RL_IP_WINDOW", 1*time.Minute)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing DATABASE_URL")
	}
	if c.RedirectPrefix == "" {
		return fmt.Errorf("REDIRECT_PREFIX must not be empty")
	}
	if c.PlatformFeeRate.IsNegative() || c.PlatformFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("PLATFORM_FEE_RATE must be within [0, 1], got %s", c.PlatformFeeRate)
	}
	if c.DefaultCookieWindowDays <= 0 {
		return fmt.Errorf("DEFAULT_COOKIE_WINDOW_DAYS must be positive")
	}
	if c.ClickQueueSize <= 0 || c.ClickWorkers <= 0 {
		return fmt.Errorf("CLICK_QUEUE_SIZE and CLICK_WORKERS must be positive")
	}
	if c.RedirectNotFoundURL != "" {
		u, err := url.Parse(c.RedirectNotFoundURL)
		if err != nil || (!u.IsAbs() && !strings.HasPrefix(c.RedirectNotFoundURL, "/")) {
			return fmt.Errorf("REDIRECT_NOT_FOUND_URL must be an absolute URL or a path")
		}
	}

	if !c.IsDev() {
		if c.RabbitURL == "" {
			return fmt.Errorf("missing RABBIT_URL (required when APP_ENV != dev)")
		}
		if c.IPHashSalt == "" {
			return fmt.Errorf("missing IP_HASH_SALT (required when APP_ENV != dev)")
		}
		// Unsigned webhooks are a local development convenience only.
		c.WebhookAllowUnsigned = false
	}
	if c.IPHashSalt == "" {
		c.IPHashSalt = "dev-salt"
	}
	return nil
}

func (c *Config) IsDev() bool { return c.AppEnv == "dev" }

// SecretFor returns the HMAC secret for a webhook source, falling back to
// the shared WEBHOOK_SECRET.
func (c *Config) SecretFor(source string) string {
	if s, ok := c.WebhookSecrets[strings.ToLower(source)]; ok && s != "" {
		return s
	}
	return c.WebhookSharedSecret
}

func webhookSecretsFromEnv(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, webhookSecretPrefix) {
			continue
		}
		source := strings.ToLower(strings.TrimPrefix(k, webhookSecretPrefix))
		if v = strings.TrimSpace(v); source != "" && v != "" {
			out[source] = v
		}
	}
	return out
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getBoolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDecimalEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}
