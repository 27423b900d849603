package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTIssuer   string        `yaml:"jwt_issuer"`
	JWTDuration time.Duration `yaml:"jwt_duration"`
}

type MangaDexConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second
	UserAgent      string        `yaml:"user_agent"`
}

type QueryConfig struct {
	StaleTime time.Duration `yaml:"stale_time"`
	GCTime    time.Duration `yaml:"gc_time"`
}

type ShellConfig struct {
	UIAddr     string         `yaml:"ui_addr"`
	BridgeAddr string         `yaml:"bridge_addr"`
	DBPath     string         `yaml:"db_path"`
	LogLevel   string         `yaml:"log_level"`
	Auth       AuthConfig     `yaml:"auth"`
	MangaDex   MangaDexConfig `yaml:"mangadex"`
	Query      QueryConfig    `yaml:"query"`
}

func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		// the UI port is fixed; the shell refuses to start elsewhere
		UIAddr:     "127.0.0.1:1420",
		BridgeAddr: "127.0.0.1:7071",
		LogLevel:   "info",
		Auth: AuthConfig{
			// dev default (change for release builds)
			JWTSecret:   "dev-secret-change-me",
			JWTIssuer:   "mangashell",
			JWTDuration: 24 * time.Hour,
		},
		MangaDex: MangaDexConfig{
			BaseURL:        "https://api.mangadex.org",
			RequestTimeout: 12 * time.Second,
			RateLimit:      5,
			UserAgent:      "mangashell/0.1",
		},
		Query: QueryConfig{
			StaleTime: 30 * time.Minute,
			GCTime:    5 * time.Minute,
		},
	}
}

// LoadShellConfig layers defaults, the optional YAML file at path (or
// $MANGASHELL_CONFIG when path is empty) and MANGASHELL_* env overrides.
func LoadShellConfig(path string) (ShellConfig, error) {
	cfg := DefaultShellConfig()

	if path == "" {
		path = os.Getenv("MANGASHELL_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *ShellConfig) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("MANGASHELL_UI_ADDR", &cfg.UIAddr)
	setString("MANGASHELL_BRIDGE_ADDR", &cfg.BridgeAddr)
	setString("MANGASHELL_DB_PATH", &cfg.DBPath)
	setString("MANGASHELL_LOG_LEVEL", &cfg.LogLevel)
	setString("MANGASHELL_JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("MANGASHELL_JWT_ISSUER", &cfg.Auth.JWTIssuer)
	setString("MANGASHELL_MANGADEX_URL", &cfg.MangaDex.BaseURL)

	if v := os.Getenv("MANGASHELL_JWT_TTL_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return fmt.Errorf("MANGASHELL_JWT_TTL_HOURS: invalid value %q", v)
		}
		cfg.Auth.JWTDuration = time.Duration(hours) * time.Hour
	}
	if v := os.Getenv("MANGASHELL_STALE_TIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MANGASHELL_STALE_TIME: %w", err)
		}
		cfg.Query.StaleTime = d
	}
	return nil
}
