// Package config loads service configuration.
//
// Values start from Default, are overlaid by an optional YAML file named by
// CONFIG_FILE, and finally by individual environment variables. An empty
// database URL selects the in-memory store.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	PubNub     PubNubConfig     `yaml:"pubnub"`
	Prediction PredictionConfig `yaml:"prediction"`
	Cache      CacheConfig      `yaml:"cache"`
	Worker     WorkerConfig     `yaml:"worker"`
	Log        LogConfig        `yaml:"log"`

	// Seed populates the in-memory store at startup.
	Seed []SeedService `yaml:"seed,omitempty"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	// URL is a Postgres DSN. Empty selects the in-memory store.
	URL string `yaml:"url"`

	// Migrate applies embedded migrations at startup.
	Migrate bool `yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PubNubConfig struct {
	PublishKey   string `yaml:"publish_key"`
	SubscribeKey string `yaml:"subscribe_key"`
	SecretKey    string `yaml:"secret_key"`
	UserID       string `yaml:"user_id"`
	SubscriberID string `yaml:"subscriber_id"`
}

// Enabled reports whether enough keys are set to talk to PubNub.
func (p PubNubConfig) Enabled() bool {
	return p.PublishKey != "" && p.SubscribeKey != ""
}

type PredictionConfig struct {
	RequestChannel string `yaml:"request_channel"`
	ReplyPrefix    string `yaml:"reply_prefix"`
	// Timeout bounds one round trip. Go duration syntax, e.g. "10s".
	Timeout string `yaml:"timeout"`
	// Timezone is the IANA zone used for hour and day-of-week features.
	Timezone string `yaml:"timezone"`
}

type CacheConfig struct {
	Prefix string `yaml:"prefix"`
	TTL    string `yaml:"ttl"`
}

type WorkerConfig struct {
	Concurrency   int    `yaml:"concurrency"`
	ReconcileCron string `yaml:"reconcile_cron"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SeedService struct {
	Name  string   `yaml:"name"`
	Lines []string `yaml:"lines"`
}

func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Addr: ":8081"},
		Database: DatabaseConfig{Migrate: true},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		PubNub:   PubNubConfig{UserID: "linewait-server", SubscriberID: "linewait-customer"},
		Prediction: PredictionConfig{
			RequestChannel: "predict_request",
			ReplyPrefix:    "predict_reply:",
			Timeout:        "10s",
			Timezone:       "Local",
		},
		Cache:  CacheConfig{Prefix: "cache:", TTL: "5m"},
		Worker: WorkerConfig{Concurrency: 10, ReconcileCron: "*/1 * * * *"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads CONFIG_FILE if set, applies the environment and validates.
func FromEnv() (*Config, error) {
	cfg, err := Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HTTP_ADDR", &c.HTTP.Addr)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("PN_PUBLISH_KEY", &c.PubNub.PublishKey)
	str("PN_SUBSCRIBE_KEY", &c.PubNub.SubscribeKey)
	str("PN_SECRET_KEY", &c.PubNub.SecretKey)
	str("PN_USER_ID", &c.PubNub.UserID)
	str("PREDICTION_REQUEST_CHANNEL", &c.Prediction.RequestChannel)
	str("PREDICTION_REPLY_PREFIX", &c.Prediction.ReplyPrefix)
	str("PREDICTION_TIMEOUT", &c.Prediction.Timeout)
	str("PREDICTION_TIMEZONE", &c.Prediction.Timezone)
	str("CACHE_PREFIX", &c.Cache.Prefix)
	str("RECONCILE_CRON", &c.Worker.ReconcileCron)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("DATABASE_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DATABASE_MIGRATE: %w", err)
		}
		c.Database.Migrate = b
	}
	if err := num("REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}
	return num("WORKER_CONCURRENCY", &c.Worker.Concurrency)
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Prediction.RequestChannel == "" {
		errs = append(errs, errors.New("prediction.request_channel is required"))
	}
	if c.Prediction.ReplyPrefix == "" {
		errs = append(errs, errors.New("prediction.reply_prefix is required"))
	}
	if d, err := time.ParseDuration(c.Prediction.Timeout); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("prediction.timeout must be a positive duration, got %q", c.Prediction.Timeout))
	}
	if _, err := time.LoadLocation(c.Prediction.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("prediction.timezone: %w", err))
	}
	if d, err := time.ParseDuration(c.Cache.TTL); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be a positive duration, got %q", c.Cache.TTL))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	for _, s := range c.Seed {
		if s.Name == "" {
			errs = append(errs, errors.New("seed: service name is required"))
		}
	}
	return errors.Join(errs...)
}

// PredictionTimeout assumes Validate has passed.
func (c *Config) PredictionTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Prediction.Timeout)
	return d
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Prediction.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.TTL)
	return d
}

func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.Log.Level)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
