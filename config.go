package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
	storeMongo  = "mongo"

	authAllowAll = "allow_all"
	authOwner    = "owner"
)

// Config is the process configuration. Values come from an optional TOML file
// named by HORIZON_CONFIG, then from HORIZON_* environment variables, which
// take precedence.
type Config struct {
	HTTPAddr          string
	LogFormat         string
	Store             string
	RedisAddr         string
	RedisPrefix       string
	MongoURI          string
	MongoDB           string
	AuthMode          string
	OwnerField        string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	RequestTimeout    time.Duration
	MaxBatch          int
}

// fileConfig mirrors Config for TOML decoding. Durations are strings such as
// "10s".
type fileConfig struct {
	HTTPAddr          string `toml:"http_addr"`
	LogFormat         string `toml:"log_format"`
	Store             string `toml:"store"`
	RedisAddr         string `toml:"redis_addr"`
	RedisPrefix       string `toml:"redis_prefix"`
	MongoURI          string `toml:"mongo_uri"`
	MongoDB           string `toml:"mongo_db"`
	AuthMode          string `toml:"auth_mode"`
	OwnerField        string `toml:"owner_field"`
	ShutdownTimeout   string `toml:"shutdown_timeout"`
	ReadHeaderTimeout string `toml:"read_header_timeout"`
	RequestTimeout    string `toml:"request_timeout"`
	MaxBatch          int    `toml:"max_batch"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:          "127.0.0.1:8181",
		LogFormat:         "text",
		Store:             storeMemory,
		RedisAddr:         "127.0.0.1:6379",
		RedisPrefix:       "horizon:doc:",
		MongoURI:          "mongodb://127.0.0.1:27017",
		MongoDB:           "horizon",
		AuthMode:          authAllowAll,
		OwnerField:        "owner",
		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxBatch:          1000,
	}
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if path := strings.TrimSpace(getenv("HORIZON_CONFIG")); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := fc.applyTo(&cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	setString := func(key string, dest *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dest = v
		}
	}

	setDuration := func(key string, dest *time.Duration) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("%s must be a non-negative duration", key)
		}
		*dest = d
		return nil
	}

	setInt := func(key string, dest *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		*dest = n
		return nil
	}

	setString("HORIZON_HTTP_ADDR", &cfg.HTTPAddr)
	setString("HORIZON_LOG_FORMAT", &cfg.LogFormat)
	setString("HORIZON_STORE", &cfg.Store)
	setString("HORIZON_REDIS_ADDR", &cfg.RedisAddr)
	setString("HORIZON_REDIS_PREFIX", &cfg.RedisPrefix)
	setString("HORIZON_MONGO_URI", &cfg.MongoURI)
	setString("HORIZON_MONGO_DB", &cfg.MongoDB)
	setString("HORIZON_AUTH_MODE", &cfg.AuthMode)
	setString("HORIZON_OWNER_FIELD", &cfg.OwnerField)

	for _, call := range []error{
		setDuration("HORIZON_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout),
		setDuration("HORIZON_READ_HEADER_TIMEOUT", &cfg.ReadHeaderTimeout),
		setDuration("HORIZON_REQUEST_TIMEOUT", &cfg.RequestTimeout),
		setInt("HORIZON_MAX_BATCH", &cfg.MaxBatch),
	} {
		if call != nil {
			return Config{}, call
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (fc fileConfig) applyTo(cfg *Config) error {
	for _, s := range []struct {
		v    string
		dest *string
	}{
		{fc.HTTPAddr, &cfg.HTTPAddr},
		{fc.LogFormat, &cfg.LogFormat},
		{fc.Store, &cfg.Store},
		{fc.RedisAddr, &cfg.RedisAddr},
		{fc.RedisPrefix, &cfg.RedisPrefix},
		{fc.MongoURI, &cfg.MongoURI},
		{fc.MongoDB, &cfg.MongoDB},
		{fc.AuthMode, &cfg.AuthMode},
		{fc.OwnerField, &cfg.OwnerField},
	} {
		if v := strings.TrimSpace(s.v); v != "" {
			*s.dest = v
		}
	}

	for _, d := range []struct {
		key  string
		v    string
		dest *time.Duration
	}{
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"read_header_timeout", fc.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
	} {
		if strings.TrimSpace(d.v) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.v))
		if err != nil || parsed < 0 {
			return fmt.Errorf("%s must be a non-negative duration", d.key)
		}
		*d.dest = parsed
	}

	if fc.MaxBatch < 0 {
		return fmt.Errorf("max_batch must be a positive integer")
	}
	if fc.MaxBatch > 0 {
		cfg.MaxBatch = fc.MaxBatch
	}
	return nil
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeRedis, storeMongo:
	default:
		return fmt.Errorf("HORIZON_STORE must be one of %s, %s, %s", storeMemory, storeRedis, storeMongo)
	}
	switch c.AuthMode {
	case authAllowAll, authOwner:
	default:
		return fmt.Errorf("HORIZON_AUTH_MODE must be one of %s, %s", authAllowAll, authOwner)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("HORIZON_LOG_FORMAT must be text or json")
	}
	return nil
}
