// Package config loads the service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds everything the service needs at startup. Loaded once in main
// and handed to constructors explicitly; nothing reads the environment after
// Load returns.
type Config struct {
	ListenAddr string `env:"DINGHY_LISTEN_ADDR,default=:8080"`

	RedisAddr     string `env:"DINGHY_REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"DINGHY_REDIS_PASSWORD"`
	RedisDB       int    `env:"DINGHY_REDIS_DB,default=0"`

	DataDir    string `env:"DINGHY_DATA_DIR,default=./data/files"`
	SQLitePath string `env:"DINGHY_SQLITE_PATH,default=./data/dinghy.db"`

	AuthUsername string `env:"DINGHY_AUTH_USERNAME"`
	AuthPassword string `env:"DINGHY_AUTH_PASSWORD"`

	// Requests admitted per client IP per window.
	RateWindowSeconds int64 `env:"DINGHY_RATE_WINDOW_SECONDS,default=60"`
	RateThreshold     int64 `env:"DINGHY_RATE_THRESHOLD,default=100"`

	// Auth failures before lockout, and failure record retention.
	LockoutThreshold  int64 `env:"DINGHY_LOCKOUT_THRESHOLD,default=4"`
	FailureTTLSeconds int64 `env:"DINGHY_FAILURE_TTL_SECONDS,default=86400"`

	// Times a file may be downloaded before it goes dark.
	FileAccessLimit int64 `env:"DINGHY_FILE_ACCESS_LIMIT,default=100"`

	Extras env.EnvSet
}

// Load reads the optional .env file at envFile (empty = skip, missing file is
// not an error) and then unmarshals the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Values already present in the environment win over the file.
		_ = godotenv.Load(envFile)
	}

	var cfg Config
	extras, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.Extras = extras

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RateWindow is the fixed rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// FailureTTL is the auth failure record retention as a duration.
func (c *Config) FailureTTL() time.Duration {
	return time.Duration(c.FailureTTLSeconds) * time.Second
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.AuthUsername == "" || c.AuthPassword == "" {
		return errors.New("DINGHY_AUTH_USERNAME and DINGHY_AUTH_PASSWORD must be set")
	}
	if c.RateThreshold <= 0 {
		return errors.New("DINGHY_RATE_THRESHOLD must be positive")
	}
	if c.RateWindowSeconds <= 0 {
		return errors.New("DINGHY_RATE_WINDOW_SECONDS must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("DINGHY_LOCKOUT_THRESHOLD must be positive")
	}
	if c.FailureTTLSeconds <= 0 {
		return errors.New("DINGHY_FAILURE_TTL_SECONDS must be positive")
	}
	if c.FileAccessLimit < 0 {
		return errors.New("DINGHY_FILE_ACCESS_LIMIT must not be negative")
	}
	return nil
}
