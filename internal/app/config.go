package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/aussiebroadwan/studyhall/internal/kvstore"
)

type Config struct {
	APIBaseURL   string `mapstructure:"API_BASE_URL"`   // Required: learning platform backend, e.g. https://api.studyhall.example
	StoreDriver  string `mapstructure:"STORE_DRIVER"`   // Optional: memory, sqlite or file (default: sqlite)
	StorePath    string `mapstructure:"STORE_PATH"`     // Optional: database file or directory for the store (default: ./studyhall.db)
	StoreSealKey string `mapstructure:"STORE_SEAL_KEY"` // Optional: when set, persisted credentials are encrypted at rest
	Env          string `mapstructure:"ENV"`            // Environment (dev, staging, prod) (default: dev)
	LogLevel     string `mapstructure:"LOG_LEVEL"`      // Log level (debug, info, warn, error) (default: info)
	LogFormat    string `mapstructure:"LOG_FORMAT"`     // Log format (json, text) (default: text)
	MetricsAddr  string `mapstructure:"METRICS_ADDR"`   // Optional: serve Prometheus metrics here, e.g. :9090

	TokenLifetime           time.Duration `mapstructure:"TOKEN_LIFETIME"`            // Assumed access token lifetime (default: 1h)
	RefreshBuffer           time.Duration `mapstructure:"REFRESH_BUFFER"`            // Refresh this long before expiry (default: 5m)
	InactivityTimeout       time.Duration `mapstructure:"INACTIVITY_TIMEOUT"`        // Idle time before forced logout (default: 1h)
	InactivityCheckInterval time.Duration `mapstructure:"INACTIVITY_CHECK_INTERVAL"` // Persisted idle re-check period (default: 30s)
	HeartbeatInterval       time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`        // Liveness ping period (default: 60s)
	RefreshRetries          int           `mapstructure:"REFRESH_RETRIES"`           // Retries for a transient refresh failure (default: 0)
	LoginAttemptsPerMinute  int           `mapstructure:"LOGIN_ATTEMPTS_PER_MINUTE"` // Client-side login limit, 0 disables (default: 5)
	HTTPTimeout             time.Duration `mapstructure:"HTTP_TIMEOUT"`              // Per-request backend timeout (default: 10s)
	ShutdownGracePeriod     time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`     // Time allowed for beacons and servers at exit (default: 5s)
	DocCacheSize            int           `mapstructure:"DOC_CACHE_SIZE"`            // Extracted documents kept per session (default: 64)
}

// LoadConfig reads .env (if present), then the environment. Env vars
// override .env.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore a missing .env

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("STORE_DRIVER", kvstore.DriverSQLite)
	v.SetDefault("STORE_PATH", "studyhall.db")
	v.SetDefault("STORE_SEAL_KEY", "")
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("TOKEN_LIFETIME", time.Hour)
	v.SetDefault("REFRESH_BUFFER", 5*time.Minute)
	v.SetDefault("INACTIVITY_TIMEOUT", time.Hour)
	v.SetDefault("INACTIVITY_CHECK_INTERVAL", 30*time.Second)
	v.SetDefault("HEARTBEAT_INTERVAL", 60*time.Second)
	v.SetDefault("REFRESH_RETRIES", 0)
	v.SetDefault("LOGIN_ATTEMPTS_PER_MINUTE", 5)
	v.SetDefault("HTTP_TIMEOUT", 10*time.Second)
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", 5*time.Second)
	v.SetDefault("DOC_CACHE_SIZE", 64)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("config: API_BASE_URL must be set")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: API_BASE_URL %q is not an http(s) URL", c.APIBaseURL)
	}

	switch c.StoreDriver {
	case kvstore.DriverMemory:
	case kvstore.DriverSQLite, kvstore.DriverFile:
		if c.StorePath == "" {
			return fmt.Errorf("config: STORE_PATH must be set for the %s driver", c.StoreDriver)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.RefreshBuffer >= c.TokenLifetime {
		return errors.New("config: REFRESH_BUFFER must be shorter than TOKEN_LIFETIME")
	}
	if c.RefreshRetries < 0 {
		return errors.New("config: REFRESH_RETRIES must not be negative")
	}
	if c.LoginAttemptsPerMinute < 0 {
		return errors.New("config: LOGIN_ATTEMPTS_PER_MINUTE must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"TOKEN_LIFETIME":            c.TokenLifetime,
		"INACTIVITY_TIMEOUT":        c.InactivityTimeout,
		"INACTIVITY_CHECK_INTERVAL": c.InactivityCheckInterval,
		"HEARTBEAT_INTERVAL":        c.HeartbeatInterval,
		"HTTP_TIMEOUT":              c.HTTPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}

	return nil
}
