// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/guarzo/cardshop/internal/aggregator"
	"github.com/guarzo/cardshop/internal/logx"
	"github.com/guarzo/cardshop/internal/ruten"
	"github.com/guarzo/cardshop/internal/store"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CARDSHOP"

// Config holds every configurable parameter, sourced from CARDSHOP_*
// environment variables.
type Config struct {
	Environment string `default:"development"`

	Redis      store.RedisConfig
	Ruten      RutenConfig
	Aggregator AggregatorConfig
	Watch      WatchConfig
}

// RutenConfig configures the marketplace client.
type RutenConfig struct {
	SearchBaseURL     string        `split_words:"true"`
	ProductBaseURL    string        `split_words:"true"`
	ShopBaseURL       string        `split_words:"true"`
	CallTimeout       time.Duration `split_words:"true" default:"15s"`
	RequestsPerSecond float64       `split_words:"true" default:"5"`
	Burst             int           `default:"5"`
	SellerIDTTL       time.Duration `envconfig:"SELLER_ID_TTL" default:"24h"`
}

// AggregatorConfig tunes an aggregation run.
type AggregatorConfig struct {
	ProbeInterval    time.Duration `split_words:"true" default:"150ms"`
	ProbeWorkers     int           `split_words:"true" default:"1"`
	ShippingWorkers  int           `split_words:"true" default:"0"`
	ShippingAttempts int           `split_words:"true" default:"3"`
	RetryBackoff     time.Duration `split_words:"true" default:"500ms"`
	TaskTimeout      time.Duration `split_words:"true" default:"0s"`
	StrictResolve    bool          `split_words:"true" default:"false"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Schedule string `default:"@every 30m"`
}

// Load reads .env files, then the environment. With no files named, a
// missing default .env is ignored; files named explicitly must exist.
func Load(envFiles ...string) (*Config, error) {
	err := godotenv.Load(envFiles...)
	if err != nil && (len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.Ruten.CallTimeout < 0 {
		return fmt.Errorf("ruten call timeout must not be negative")
	}
	if c.Ruten.RequestsPerSecond < 0 {
		return fmt.Errorf("ruten requests per second must not be negative")
	}
	if c.Aggregator.ProbeInterval < 0 {
		return fmt.Errorf("probe interval must not be negative")
	}
	if c.Aggregator.ProbeWorkers < 1 {
		return fmt.Errorf("probe workers must be at least 1, got %d", c.Aggregator.ProbeWorkers)
	}
	if c.Aggregator.ShippingAttempts < 1 {
		return fmt.Errorf("shipping attempts must be at least 1, got %d", c.Aggregator.ShippingAttempts)
	}
	if c.Aggregator.RetryBackoff < 0 || c.Aggregator.TaskTimeout < 0 {
		return fmt.Errorf("retry backoff and task timeout must not be negative")
	}
	return nil
}

// Env returns the logging environment.
func (c *Config) Env() logx.Environment {
	return logx.ParseEnvironment(c.Environment)
}

// RutenClientConfig converts the marketplace settings into a client config.
func (c *Config) RutenClientConfig() ruten.Config {
	return ruten.Config{
		SearchBaseURL:     c.Ruten.SearchBaseURL,
		ProductBaseURL:    c.Ruten.ProductBaseURL,
		ShopBaseURL:       c.Ruten.ShopBaseURL,
		CallTimeout:       c.Ruten.CallTimeout,
		RequestsPerSecond: c.Ruten.RequestsPerSecond,
		Burst:             c.Ruten.Burst,
		SellerIDTTL:       c.Ruten.SellerIDTTL,
	}
}

// AggregatorOptions converts the run settings into aggregator options.
func (c *Config) AggregatorOptions() []aggregator.Option {
	return []aggregator.Option{
		aggregator.WithProbeInterval(c.Aggregator.ProbeInterval),
		aggregator.WithProbeWorkers(c.Aggregator.ProbeWorkers),
		aggregator.WithShippingWorkers(c.Aggregator.ShippingWorkers),
		aggregator.WithShippingRetry(c.Aggregator.ShippingAttempts, c.Aggregator.RetryBackoff),
		aggregator.WithTaskTimeout(c.Aggregator.TaskTimeout),
		aggregator.WithStrictResolve(c.Aggregator.StrictResolve),
	}
}
