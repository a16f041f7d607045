// Package config loads process configuration: defaults, then an optional YAML
// file named by ARENA_CONFIG, then ARENA_* environment variables.
package config

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix   = "ARENA_"
	EnvFilePath = "ARENA_CONFIG"
)

type Config struct {
	HTTPAddr        string        `koanf:"http_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	DatabaseURL     string        `koanf:"database_url"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	RoutingAllowlistPath string `koanf:"routing_allowlist_path"`

	AuthzModelPath           string `koanf:"authz_model_path"`
	AuthzPolicyPath          string `koanf:"authz_policy_path"`
	AuthzMode                string `koanf:"authz_mode"`
	AuthzUnsafeAllowDisabled bool   `koanf:"authz_unsafe_allow_disabled"`

	// EligibilityRulesPath names a versioned YAML rule file. Empty means the
	// built-in expression.
	EligibilityRulesPath string `koanf:"eligibility_rules_path"`

	BackfillActor        string `koanf:"backfill_actor"`
	BackfillDefaultLimit int    `koanf:"backfill_default_limit"`
	BackfillMaxLimit     int    `koanf:"backfill_max_limit"`
}

func New() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		ShutdownTimeout:      10 * time.Second,
		LogLevel:             "info",
		LogFormat:            "json",
		RoutingAllowlistPath: "config/routing/allowlist.yaml",
		AuthzModelPath:       "config/access/model.conf",
		AuthzPolicyPath:      "config/access/policy.csv",
		AuthzMode:            "enforce",
		BackfillActor:        "system:backfill",
		BackfillDefaultLimit: 50,
		BackfillMaxLimit:     500,
	}
}

func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvFilePath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// ARENA_BACKFILL_MAX_LIMIT -> backfill_max_limit. Keys are flat, so the
	// delimiter never splits them.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		cfg.DatabaseURL = dbDSNFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("config: http_addr must not be empty"))
	}
	if strings.TrimSpace(c.BackfillActor) == "" {
		errs = append(errs, errors.New("config: backfill_actor must not be empty"))
	}
	if c.BackfillDefaultLimit <= 0 || c.BackfillMaxLimit <= 0 {
		errs = append(errs, errors.New("config: backfill limits must be positive"))
	} else if c.BackfillDefaultLimit > c.BackfillMaxLimit {
		errs = append(errs, errors.New("config: backfill_default_limit exceeds backfill_max_limit"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("config: shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// dbDSNFromEnv keeps the DATABASE_URL / DB_* convention for deployments that
// do not set ARENA_DATABASE_URL.
func dbDSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getenvDefault("DB_USER", "app"), getenvDefault("DB_PASSWORD", "app")),
		Host:   getenvDefault("DB_HOST", "127.0.0.1") + ":" + getenvDefault("DB_PORT", "5438"),
		Path:   "/" + getenvDefault("DB_NAME", "arena"),
	}
	q := u.Query()
	q.Set("sslmode", getenvDefault("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
