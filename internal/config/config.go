package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/chunkfetch/internal/download"
	"github.com/ligustah/chunkfetch/internal/http"
	"github.com/ligustah/chunkfetch/internal/retry"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "CHUNKFETCH_"

// Config defines configuration for the chunkfetch CLI.
type Config struct {
	Bucket            string        `yaml:"bucket"`
	Manifest          string        `yaml:"manifest"`
	Strategy          string        `yaml:"strategy"`
	Workers           int           `yaml:"workers"`
	ProcessingWorkers int           `yaml:"processing_workers"`
	SchedulerWorkers  int           `yaml:"scheduler_workers"`
	Progress          bool          `yaml:"progress"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	LinkTTL           time.Duration `yaml:"link_ttl"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig defines async retry behavior. The blocking strategy always
// makes download.MaxRetries immediate attempts.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	Jitter     time.Duration `yaml:"jitter"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Strategy:          string(download.StrategyBlocking),
		Workers:           16,
		ProcessingWorkers: download.DefaultProcessingWorkers,
		SchedulerWorkers:  4,
		RequestTimeout:    60 * time.Second,
		LinkTTL:           15 * time.Minute,
		Retry: RetryConfig{
			Attempts:   policy.MaxAttempts,
			Backoff:    policy.BaseDelay,
			MaxBackoff: policy.MaxDelay,
			Jitter:     policy.Jitter,
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their defaults; durations use time.ParseDuration syntax.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from dotenv files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CHUNKFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	vars := []struct {
		name string
		set  func(string) error
	}{
		{"BUCKET", setString(&c.Bucket)},
		{"MANIFEST", setString(&c.Manifest)},
		{"STRATEGY", setString(&c.Strategy)},
		{"WORKERS", setInt(&c.Workers)},
		{"PROCESSING_WORKERS", setInt(&c.ProcessingWorkers)},
		{"SCHEDULER_WORKERS", setInt(&c.SchedulerWorkers)},
		{"PROGRESS", setBool(&c.Progress)},
		{"REQUEST_TIMEOUT", setDuration(&c.RequestTimeout)},
		{"REQUESTS_PER_SECOND", setFloat(&c.RequestsPerSecond)},
		{"LINK_TTL", setDuration(&c.LinkTTL)},
		{"METRICS_ADDR", setString(&c.MetricsAddr)},
		{"RETRY_ATTEMPTS", setInt(&c.Retry.Attempts)},
		{"RETRY_BACKOFF", setDuration(&c.Retry.Backoff)},
		{"RETRY_MAX_BACKOFF", setDuration(&c.Retry.MaxBackoff)},
		{"RETRY_JITTER", setDuration(&c.Retry.Jitter)},
	}

	for _, v := range vars {
		name := EnvPrefix + v.name
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if err := v.set(value); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		*dst = f
		return err
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		*dst = v == "true" || v == "1"
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		*dst = d
		return err
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Manifest == "" {
		return errors.New("config: manifest is required")
	}
	if _, err := download.ParseStrategy(c.Strategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ProcessingWorkers <= 0 || c.SchedulerWorkers <= 0 {
		return errors.New("config: processing_workers and scheduler_workers must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("config: requests_per_second must not be negative")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RetryPolicy returns the async retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.Attempts,
		BaseDelay:   c.Retry.Backoff,
		MaxDelay:    c.Retry.MaxBackoff,
		Jitter:      c.Retry.Jitter,
	}
}

// HTTPOptions returns the fetch client options.
func (c *Config) HTTPOptions() http.Options {
	opts := http.DefaultOptions()
	if c.Workers*2 > opts.MaxIdleConnsPerHost {
		opts.MaxIdleConnsPerHost = c.Workers * 2
	}
	if c.RequestTimeout > 0 {
		opts.Timeout = c.RequestTimeout
	}
	opts.RequestsPerSecond = c.RequestsPerSecond
	opts.UserAgent = "chunkfetch"
	return opts
}

// DownloadOptions returns downloader options without the optional
// progress, metrics and logger fields.
func (c *Config) DownloadOptions() download.Options {
	return download.Options{
		Strategy:          download.Strategy(c.Strategy),
		Workers:           c.Workers,
		ProcessingWorkers: c.ProcessingWorkers,
		SchedulerWorkers:  c.SchedulerWorkers,
		Retry:             c.RetryPolicy(),
	}
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	mergeString(&c.Bucket, override.Bucket)
	mergeString(&c.Manifest, override.Manifest)
	mergeString(&c.Strategy, override.Strategy)
	mergeString(&c.MetricsAddr, override.MetricsAddr)
	mergeNum(&c.Workers, override.Workers)
	mergeNum(&c.ProcessingWorkers, override.ProcessingWorkers)
	mergeNum(&c.SchedulerWorkers, override.SchedulerWorkers)
	mergeNum(&c.RequestTimeout, override.RequestTimeout)
	mergeNum(&c.RequestsPerSecond, override.RequestsPerSecond)
	mergeNum(&c.LinkTTL, override.LinkTTL)
	mergeNum(&c.Retry.Attempts, override.Retry.Attempts)
	mergeNum(&c.Retry.Backoff, override.Retry.Backoff)
	mergeNum(&c.Retry.MaxBackoff, override.Retry.MaxBackoff)
	mergeNum(&c.Retry.Jitter, override.Retry.Jitter)
	if override.Progress {
		c.Progress = true
	}
	return c
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeNum[T int | float64 | time.Duration](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}
