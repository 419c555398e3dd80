package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/service"
	"points_ledger/internal/syncengine"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort     string
	DatabaseURL string
	JWTSecret   string
	AdminToken  string
	Memory      bool

	LogLevel string
	LogJSON  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	Workers       int

	LocalStorePath string
	CacheMaxAge    time.Duration

	PollInterval      time.Duration
	DrainInterval     time.Duration
	ReconcileInterval time.Duration
	QueueMaxRetries   int
	QueueBaseDelay    time.Duration
	QueueMaxDelay     time.Duration

	AllowedOrigins []string
	APIRateLimit   int
	APIRateWindow  time.Duration

	Location          *time.Location
	FarmingDuration   time.Duration
	FarmingBaseReward int64
	DailyBaseReward   int64
	ReferralReward    int64
	MinWithdrawal     int64
	WithdrawalLimits  map[domain.VIPTier]int64
}

type Option func(*Config)

// InMemory drops the DATABASE_URL requirement for the -memory dev mode.
func InMemory() Option {
	return func(c *Config) { c.Memory = true }
}

// Load reads the configuration from the environment and an optional .env file.
func Load(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	for _, o := range opts {
		o(cfg)
	}
	if os.Getenv("MEMORY_MODE") == "true" {
		cfg.Memory = true
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && !cfg.Memory {
		return nil, domain.ConfigFailure("DATABASE_URL is not set")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, domain.ConfigFailure("JWT_SECRET is not set")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		return nil, domain.ConfigFailure("ADMIN_TOKEN is not set")
	}

	cfg.AppPort = str("APP_PORT", "8080")
	cfg.LogLevel = str("LOG_LEVEL", "info")
	cfg.LogJSON = os.Getenv("LOG_JSON") == "true"
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.LocalStorePath = str("LOCAL_STORE_PATH", "ledger-local.db")

	// ALLOWED_ORIGINS is comma separated; empty allows any origin
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	tz := str("LEDGER_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, domain.ConfigFailure("LEDGER_TIMEZONE %q: %v", tz, err)
	}
	cfg.Location = loc

	defaults := service.DefaultRules()
	sync := syncengine.DefaultConfig()
	p := parser{}

	cfg.RedisDB = p.int("REDIS_DB", 0)
	cfg.Workers = p.int("OUTBOX_WORKERS", 4)
	cfg.APIRateLimit = p.int("API_RATE_LIMIT", 60)
	cfg.APIRateWindow = time.Duration(p.int("API_RATE_WINDOW_SECONDS", 60)) * time.Second
	cfg.CacheMaxAge = p.duration("CACHE_MAX_AGE", 24*time.Hour)
	cfg.PollInterval = p.duration("POLL_INTERVAL", 10*time.Second)
	cfg.DrainInterval = p.duration("DRAIN_INTERVAL", sync.DrainInterval)
	cfg.ReconcileInterval = p.duration("RECONCILE_INTERVAL", sync.ReconcileInterval)
	cfg.QueueMaxRetries = p.int("QUEUE_MAX_RETRIES", sync.MaxRetries)
	cfg.QueueBaseDelay = p.duration("QUEUE_BASE_DELAY", sync.BaseDelay)
	cfg.QueueMaxDelay = p.duration("QUEUE_MAX_DELAY", sync.MaxDelay)

	cfg.FarmingDuration = p.duration("FARMING_DURATION", defaults.FarmingDuration)
	cfg.FarmingBaseReward = p.int64("FARMING_BASE_REWARD", defaults.FarmingBaseReward)
	cfg.DailyBaseReward = p.int64("DAILY_BASE_REWARD", defaults.DailyBaseReward)
	cfg.ReferralReward = p.int64("REFERRAL_REWARD", defaults.ReferralReward)
	cfg.MinWithdrawal = p.int64("MIN_WITHDRAWAL", defaults.MinWithdrawal)
	cfg.WithdrawalLimits = map[domain.VIPTier]int64{
		domain.VIPFree:  p.int64("WITHDRAWAL_LIMIT_FREE", defaults.WithdrawalLimits[domain.VIPFree]),
		domain.VIPTier1: p.int64("WITHDRAWAL_LIMIT_TIER1", defaults.WithdrawalLimits[domain.VIPTier1]),
		domain.VIPTier2: p.int64("WITHDRAWAL_LIMIT_TIER2", defaults.WithdrawalLimits[domain.VIPTier2]),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Rules returns the economy constants with the configured overrides applied.
func (c *Config) Rules() service.Rules {
	r := service.DefaultRules()
	r.Location = c.Location
	r.FarmingDuration = c.FarmingDuration
	r.FarmingBaseReward = c.FarmingBaseReward
	r.DailyBaseReward = c.DailyBaseReward
	r.ReferralReward = c.ReferralReward
	r.MinWithdrawal = c.MinWithdrawal
	r.WithdrawalLimits = c.WithdrawalLimits
	return r
}

// Sync returns the queue delivery settings.
func (c *Config) Sync() syncengine.Config {
	s := syncengine.DefaultConfig()
	s.MaxRetries = c.QueueMaxRetries
	s.BaseDelay = c.QueueBaseDelay
	s.MaxDelay = c.QueueMaxDelay
	s.DrainInterval = c.DrainInterval
	s.ReconcileInterval = c.ReconcileInterval
	return s
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parser keeps the first invalid value it meets.
type parser struct{ err error }

func (p *parser) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		p.fail(key, v)
		return def
	}
	return n
}

func (p *parser) int(key string, def int) int {
	return int(p.int64(key, int64(def)))
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(key, v)
		return def
	}
	return d
}

func (p *parser) fail(key, v string) {
	if p.err == nil {
		p.err = domain.ConfigFailure("%s: invalid value %q", key, v)
	}
}
