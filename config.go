package deepwhisperer

import (
	"os"
	"strconv"
	"time"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultMaxRetries      = 1
	DefaultRetryDelay      = 3 * time.Second
	DefaultQueueSize       = 100
	DefaultDedupTTL        = 5 * time.Minute
	DefaultBatchInterval   = 15 * time.Second
	DefaultRatePerSec      = 30
	DefaultCacheMaxEntries = 100
)

// Config carries everything a Notifier needs. It is passed explicitly;
// there is no package-level state.
type Config struct {
	// Token is the bot API token. Required.
	Token string
	// ChatID is the default target chat. When empty it is discovered from
	// the bot's pending updates at startup.
	ChatID string
	// BaseURL overrides the Bot API server, for tests or a self-hosted
	// bot API instance.
	BaseURL string

	// MaxRetries is the number of extra attempts after a transient
	// delivery failure. Zero means the default of one retry; a negative
	// value disables retries. Rate-limit and auth failures are never
	// retried.
	MaxRetries int
	// RetryDelay is the exponential backoff base between attempts.
	RetryDelay time.Duration
	// QueueSize bounds the pending message queue.
	QueueSize int
	// DedupTTL is how long an identical (content, target) pair is
	// suppressed and how long delivery results stay cached.
	DedupTTL time.Duration
	// BatchInterval is the window over which queued text messages are
	// coalesced into a single send.
	BatchInterval time.Duration
	// RatePerSec caps outbound API calls.
	RatePerSec int
	// CacheMaxEntries bounds the in-memory result cache.
	CacheMaxEntries int

	Redis RedisConfig
}

// RedisConfig enables a shared result cache. Disabled unless REDIS_ADDR
// is set.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	// TTL overrides DedupTTL for cached results when set.
	TTL time.Duration
}

// FromEnv builds a Config from environment variables. Callers that keep
// credentials in a .env file should run godotenv.Load first, as the CLI
// does.
func FromEnv() (Config, error) {
	token := os.Getenv("DEEP_WHISPERER_API_KEY")
	if token == "" {
		return Config{}, &ConfigError{Key: "DEEP_WHISPERER_API_KEY", Reason: "missing required env var"}
	}

	cfg := Config{
		Token:  token,
		ChatID: os.Getenv("DEEP_WHISPERER_CHAT_ID"),
	}

	var err error
	if cfg.MaxRetries, err = getEnvInt("DEEP_WHISPERER_MAX_RETRIES", DefaultMaxRetries); err != nil {
		return Config{}, err
	}
	retryDelay, err := getEnvInt("DEEP_WHISPERER_RETRY_DELAY_SECONDS", int(DefaultRetryDelay/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.RetryDelay = time.Duration(retryDelay) * time.Second

	if cfg.QueueSize, err = getEnvInt("DEEP_WHISPERER_QUEUE_SIZE", DefaultQueueSize); err != nil {
		return Config{}, err
	}
	dedupTTL, err := getEnvInt("DEEP_WHISPERER_DEDUP_TTL_SECONDS", int(DefaultDedupTTL/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.DedupTTL = time.Duration(dedupTTL) * time.Second

	batchInterval, err := getEnvInt("DEEP_WHISPERER_BATCH_INTERVAL_SECONDS", int(DefaultBatchInterval/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.BatchInterval = time.Duration(batchInterval) * time.Second

	if cfg.RatePerSec, err = getEnvInt("DEEP_WHISPERER_RATE_PER_SEC", DefaultRatePerSec); err != nil {
		return Config{}, err
	}
	if cfg.CacheMaxEntries, err = getEnvInt("DEEP_WHISPERER_CACHE_MAX_ENTRIES", DefaultCacheMaxEntries); err != nil {
		return Config{}, err
	}

	cfg.Redis, err = loadRedisConfig()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 0)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = DefaultCacheMaxEntries
	}
}

func (c *Config) validate() error {
	if c.Token == "" {
		return &ConfigError{Key: "Token", Reason: "must not be empty"}
	}
	return nil
}

// cacheTTL is the TTL for memoized results: DedupTTL, unless the Redis
// block carries its own.
func (c *Config) cacheTTL() time.Duration {
	if c.Redis.Enabled && c.Redis.TTL > 0 {
		return c.Redis.TTL
	}
	return c.DedupTTL
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: "invalid integer: " + v}
	}
	return i, nil
}
