package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/logging"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "MOVIEREVIEWS"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabaseDSN        = "moviereviews.db"
	defaultDatabaseTimeout    = 5 * time.Second
	defaultDatabaseMaxConns   = 10
	defaultLogLevel           = "info"
	defaultRatingAttempts     = 3
	defaultRatingRetryBackoff = 50 * time.Millisecond
	defaultCORSOrigin         = "*"
)

var supportedDrivers = map[string]struct{}{
	"sqlite":   {},
	"postgres": {},
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	CORSOrigins          []string
	DatabaseDriver       string
	DatabaseDSN          string
	DatabaseTimeout      time.Duration
	DatabaseMaxOpenConns int
	LogLevel             string
	RatingRetryAttempts  int
	RatingRetryBackoff   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.cors_origins", defaultCORSOrigin)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("database.timeout", defaultDatabaseTimeout)
	configViper.SetDefault("database.max_open_conns", defaultDatabaseMaxConns)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("ratings.retry_attempts", defaultRatingAttempts)
	configViper.SetDefault("ratings.retry_backoff", defaultRatingRetryBackoff)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		CORSOrigins:          splitList(configViper.GetString("http.cors_origins")),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		DatabaseTimeout:      configViper.GetDuration("database.timeout"),
		DatabaseMaxOpenConns: configViper.GetInt("database.max_open_conns"),
		LogLevel:             configViper.GetString("log.level"),
		RatingRetryAttempts:  configViper.GetInt("ratings.retry_attempts"),
		RatingRetryBackoff:   configViper.GetDuration("ratings.retry_backoff"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if _, ok := supportedDrivers[c.DatabaseDriver]; !ok {
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("database.timeout must be positive")
	}
	if c.DatabaseMaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.RatingRetryAttempts <= 0 {
		return fmt.Errorf("ratings.retry_attempts must be positive")
	}
	if c.RatingRetryBackoff < 0 {
		return fmt.Errorf("ratings.retry_backoff must not be negative")
	}
	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("http.cors_origins is required")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
