// Package config loads service configuration from the environment. Invalid
// configuration fails fast at startup.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config holds the configuration shared by both services.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	KVURL       string `mapstructure:"kv_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	Port        int    `mapstructure:"port"`
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`

	CompletionAPIKey string `mapstructure:"completion_api_key"`
	CompletionURL    string `mapstructure:"completion_url"`

	ObjectStore ObjectStoreConfig `mapstructure:",squash"`

	CDNBaseURL string `mapstructure:"cdn_base_url"`

	StepWorkerConcurrency  int     `mapstructure:"step_worker_concurrency"`
	BuildWorkerConcurrency int     `mapstructure:"build_worker_concurrency"`
	StepRateLimit          float64 `mapstructure:"step_rate_limit"`
}

type ObjectStoreConfig struct {
	Endpoint       string `mapstructure:"object_store_endpoint"`
	Region         string `mapstructure:"object_store_region"`
	Bucket         string `mapstructure:"object_store_bucket"`
	AccessKey      string `mapstructure:"object_store_access_key"`
	SecretKey      string `mapstructure:"object_store_secret_key"`
	ForcePathStyle bool   `mapstructure:"object_store_force_path_style"`
	UseSSL         bool   `mapstructure:"object_store_use_ssl"`
}

// Load reads configuration from the environment, applies defaults, and
// validates. No configuration file is read.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("env", string(EnvDevelopment))
	v.SetDefault("log_level", "info")
	v.SetDefault("object_store_region", "us-east-1")
	v.SetDefault("object_store_bucket", "site-artifacts")
	v.SetDefault("step_worker_concurrency", 10)
	v.SetDefault("build_worker_concurrency", 2)
	v.SetDefault("step_rate_limit", 50)

	// viper only materializes env vars it has been told about
	for _, key := range []string{
		"database_url", "kv_url", "jwt_secret", "completion_api_key",
		"completion_url", "cdn_base_url", "object_store_endpoint",
		"object_store_access_key", "object_store_secret_key",
		"object_store_force_path_style", "object_store_use_ssl",
	} {
		v.SetDefault(key, "")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the required options and value whitelists.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.KVURL == "" {
		return errors.New("KV_URL is required")
	}
	if len(c.JWTSecret) < 8 {
		return errors.New("JWT_SECRET must be at least 8 characters")
	}
	switch Environment(c.Env) {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("ENV must be one of development, production, test; got %q", c.Env)
	}
	switch strings.ToLower(c.LogLevel) {
	case "fatal", "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not recognized", c.LogLevel)
	}
	return nil
}

// IsDevelopment reports whether dev-mode logging and permissive CORS apply.
func (c *Config) IsDevelopment() bool {
	return Environment(c.Env) == EnvDevelopment
}

func (c *Config) IsProduction() bool {
	return Environment(c.Env) == EnvProduction
}

// MockCompletions reports whether the completion capability should return
// deterministic mock responses.
func (c *Config) MockCompletions() bool {
	return c.CompletionAPIKey == ""
}
