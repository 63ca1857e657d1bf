package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/httpapi"
	"github.com/mapvision/authority/notify"
	"github.com/mapvision/authority/store"
)

const envPrefix = "AUTHD_"

// serverConfig holds the process settings. Engine tuning lives in
// authority.Config, loaded from ConfigFile and AUTHORITY_* variables.
type serverConfig struct {
	Addr            string        `env:"ADDR"`
	LogLevel        string        `env:"LOG_LEVEL"`
	ConfigFile      string        `env:"CONFIG_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	// Instance labels every exported metric sample when set.
	Instance string `env:"INSTANCE"`

	Store store.Config          `envPrefix:"STORE_"`
	Redis redisConfig           `envPrefix:"REDIS_"`
	SMTP  notify.SMTPConfig     `envPrefix:"SMTP_"`
	Kafka authority.KafkaConfig `envPrefix:"KAFKA_"`
	HTTP  httpapi.Config        `envPrefix:"HTTP_"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

type redisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Addr:            ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
		Store: store.Config{
			Driver: "sqlite",
			DSN:    "authority.db",
		},
		SMTP: notify.SMTPConfig{
			Port:       587,
			Encryption: notify.EncryptionSTARTTLS,
			Timeout:    10 * time.Second,
		},
	}
}

// loadServerConfig overlays AUTHD_* variables on the defaults. lookup
// replaces the process environment in tests.
func loadServerConfig(lookup map[string]string) (serverConfig, error) {
	cfg := defaultServerConfig()
	opts := env.Options{Prefix: envPrefix}
	if lookup != nil {
		opts.Environment = lookup
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return serverConfig{}, fmt.Errorf("parse server environment: %w", err)
	}
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return serverConfig{}, fmt.Errorf("%sADMIN_EMAIL and %sADMIN_PASSWORD must be set together", envPrefix, envPrefix)
	}
	if cfg.SMTP.Host != "" {
		if err := cfg.SMTP.Validate(); err != nil {
			return serverConfig{}, err
		}
	}
	return cfg, nil
}

// loadEngineConfig reads the optional config file, then AUTHORITY_* variables.
func loadEngineConfig(path string) (authority.Config, error) {
	cfg := authority.DefaultConfig()
	if path != "" {
		loaded, err := authority.LoadConfigFile(path)
		if err != nil {
			return authority.Config{}, err
		}
		cfg = loaded
	}
	if err := authority.ApplyEnv(&cfg); err != nil {
		return authority.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return authority.Config{}, err
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
