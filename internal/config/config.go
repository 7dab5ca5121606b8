package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/casinoscope/casinoscopecom/internal/ratelimit"
)

type RateLimitPolicy struct {
	WindowMinutes    int `toml:"window_minutes"`
	MaxRequests      int `toml:"max_requests"`
	BaseBlockMinutes int `toml:"base_block_minutes"`
}

func (p RateLimitPolicy) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		Window:      time.Duration(p.WindowMinutes) * time.Minute,
		MaxRequests: p.MaxRequests,
		BaseBlock:   time.Duration(p.BaseBlockMinutes) * time.Minute,
	}
}

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// prometheus metrics server
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// rate limiting
	// store backend: redis | postgres | memory (memory refused in production)
	RateLimitStore        string          `toml:"rate_limit_store"`
	RateLimitAdmin        RateLimitPolicy `toml:"rate_limit_admin"`
	RateLimitStrict       RateLimitPolicy `toml:"rate_limit_strict"`
	RateLimitAPI          RateLimitPolicy `toml:"rate_limit_api"`
	PublicReqsPerMin      int             `toml:"public_reqs_per_min"`
	ListingsCacheDisabled bool            `toml:"listings_cache_disabled"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, path string) (*Config, error) {
	var confToml Toml
	if _, err := toml.DecodeFile(path, &confToml); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	cfg, err := confToml.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config section for env [%s] empty", env)
	}

	if cfg.Environment == "" {
		cfg.Environment = strings.ToLower(env)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

func (c *Config) Validate() error {
	if c.Port <= 0 {
		return errors.New("port not set")
	}
	if c.PostgresHost == "" || c.PostgresPort == "" || c.PostgresDBName == "" {
		return errors.New("postgres connection params not set")
	}

	if c.IsProduction() {
		if c.RedisHost == "" || c.RedisPort == "" {
			return errors.New("redis connection params not set")
		}
		if strings.ToLower(c.RateLimitStore) == "memory" {
			// an in-process limiter does not survive restarts and is trivial
			// to wash out with a restart-inducing load, refuse it outright
			return errors.New("in-memory rate limit store not allowed in production")
		}
	}

	for name, p := range map[string]RateLimitPolicy{
		"rate_limit_admin":  c.RateLimitAdmin,
		"rate_limit_strict": c.RateLimitStrict,
		"rate_limit_api":    c.RateLimitAPI,
	} {
		if p.WindowMinutes <= 0 || p.MaxRequests <= 0 || p.BaseBlockMinutes <= 0 {
			return fmt.Errorf("%s policy not fully set", name)
		}
	}

	return nil
}
