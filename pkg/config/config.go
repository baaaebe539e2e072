package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the gateway.
//
// YAML example:
//
//	address: ":9000"
//	dataRoot: "/mnt/fs/buckets"
//	region: "us-east-1"
//	authMode: "sigv4"       # "sigv4" or "none"
//	accessKeys:
//	  - accessKey: "AKIAEXAMPLE"
//	    secretKey: "secret"
//	    user: "local"
//	maxClockSkew: "15m"
//	strictRanges: false
//	strictBucketNames: false
//	limits:
//	  maxObjectSize: "5GiB"
//
// Environment overrides use the S3GW_ prefix, e.g. S3GW_ADDR, S3GW_DATA_ROOT,
// S3GW_AUTH_MODE, S3GW_ACCESS_KEYS ("AK:SK[:USER],..."). S3GW_CONFIG names
// the YAML file; if empty, the loader tries ./config.yaml then defaults.
type Config struct {
	Address           string            `yaml:"address"`
	DataRoot          string            `yaml:"dataRoot"`
	Region            string            `yaml:"region"`
	AuthMode          string            `yaml:"authMode"` // "sigv4" or "none"
	AccessKeys        []StaticAccessKey `yaml:"accessKeys"`
	MaxClockSkew      string            `yaml:"maxClockSkew"` // "0" disables the freshness check
	StrictRanges      bool              `yaml:"strictRanges"`
	StrictBucketNames bool              `yaml:"strictBucketNames"` // S3 naming rules on bucket creation
	Limits            LimitsConfig      `yaml:"limits"`
	TempSweep         TempSweepConfig   `yaml:"tempSweep"`
	Logging           LoggingConfig     `yaml:"logging"`
	Tracing           TracingConfig     `yaml:"tracing"`
	Metrics           MetricsConfig     `yaml:"metrics"`
}

// StaticAccessKey defines a static credential pair.
type StaticAccessKey struct {
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	User      string `yaml:"user,omitempty"`
}

// LimitsConfig bounds request sizes. Sizes are human readable ("5GiB", "100MB").
type LimitsConfig struct {
	MaxObjectSize string `yaml:"maxObjectSize"`
}

// TempSweepConfig controls the periodic removal of staging files left by
// interrupted writes.
type TempSweepConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interval  string `yaml:"interval,omitempty"`  // e.g., "15m"
	OlderThan string `yaml:"olderThan,omitempty"` // e.g., "24h"
}

// LoggingConfig selects the slog handler and level.
type LoggingConfig struct {
	Format string `yaml:"format"` // "text" or "json"
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`              // OTLP collector endpoint (host:port or URL)
	Protocol    string  `yaml:"protocol,omitempty"`    // "grpc" (default) or "http"
	SampleRatio float64 `yaml:"sampleRatio,omitempty"` // 0.0 - 1.0
	ServiceName string  `yaml:"serviceName,omitempty"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

const (
	AuthSigV4 = "sigv4"
	AuthNone  = "none"
)

// Default returns a Config with safe, local defaults.
func Default() Config {
	return Config{
		Address:      ":9000",
		DataRoot:     "./data/buckets",
		Region:       "us-east-1",
		AuthMode:     AuthSigV4,
		MaxClockSkew: "15m",
		Limits: LimitsConfig{
			MaxObjectSize: "5GiB",
		},
		TempSweep: TempSweepConfig{
			Enabled:   true,
			Interval:  "15m",
			OlderThan: "24h",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			ServiceName: "s3gw",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from path. If path is empty, it attempts to read
// ./config.yaml; if not found, returns Default(). Environment overrides are
// applied last.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("S3GW_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg := Default()
	if path == "" {
		return applyEnvOverrides(cfg), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return applyEnvOverrides(cfg), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return applyEnvOverrides(cfg), nil
}

// Validate reports settings the gateway cannot start with.
func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthSigV4:
		if len(c.AccessKeys) == 0 {
			return errors.New("config: authMode sigv4 requires at least one access key")
		}
		for i, k := range c.AccessKeys {
			if k.AccessKey == "" || k.SecretKey == "" {
				return fmt.Errorf("config: accessKeys[%d] needs both accessKey and secretKey", i)
			}
		}
	case AuthNone:
	default:
		return fmt.Errorf("config: unknown authMode %q", c.AuthMode)
	}
	if c.DataRoot == "" {
		return errors.New("config: dataRoot is required")
	}
	if _, err := c.ClockSkew(); err != nil {
		return err
	}
	if _, err := c.MaxObjectBytes(); err != nil {
		return err
	}
	if _, _, err := c.SweepDurations(); err != nil {
		return err
	}
	if c.Tracing.Protocol != "" && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("config: unknown tracing protocol %q", c.Tracing.Protocol)
	}
	return nil
}

// ClockSkew parses MaxClockSkew. "0" or empty disables the check.
func (c Config) ClockSkew() (time.Duration, error) {
	s := strings.TrimSpace(c.MaxClockSkew)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid maxClockSkew %q", c.MaxClockSkew)
	}
	return d, nil
}

// SweepDurations parses the temp sweep interval and age threshold.
func (c Config) SweepDurations() (interval, olderThan time.Duration, err error) {
	if interval, err = time.ParseDuration(c.TempSweep.Interval); err != nil || interval <= 0 {
		return 0, 0, fmt.Errorf("config: invalid tempSweep.interval %q", c.TempSweep.Interval)
	}
	if olderThan, err = time.ParseDuration(c.TempSweep.OlderThan); err != nil || olderThan <= 0 {
		return 0, 0, fmt.Errorf("config: invalid tempSweep.olderThan %q", c.TempSweep.OlderThan)
	}
	return interval, olderThan, nil
}

// MaxObjectBytes parses Limits.MaxObjectSize. Empty or "0" means unlimited.
func (c Config) MaxObjectBytes() (int64, error) {
	s := strings.TrimSpace(c.Limits.MaxObjectSize)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid limits.maxObjectSize %q: %w", s, err)
	}
	return int64(n), nil
}

// EnsureDirs creates the data root with 0700 if it doesn't exist.
func EnsureDirs(cfg Config) error {
	abs, err := filepath.Abs(cfg.DataRoot)
	if err != nil {
		return fmt.Errorf("abs path %q: %w", cfg.DataRoot, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return fmt.Errorf("mkdir %q: %w", abs, err)
	}
	return nil
}

func parseBool(v string) (val, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

func applyEnvOverrides(cfg Config) Config {
	if v := os.Getenv("S3GW_ADDR"); v != "" {
		cfg.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3GW_DATA_ROOT"); v != "" {
		cfg.DataRoot = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3GW_REGION"); v != "" {
		cfg.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3GW_AUTH_MODE"); v != "" {
		mode := strings.ToLower(strings.TrimSpace(v))
		switch mode {
		case AuthNone, AuthSigV4:
			cfg.AuthMode = mode
		default:
			// ignore invalid value; keep existing
		}
	}
	if b, ok := parseBool(os.Getenv("S3GW_AUTH_DISABLED")); ok && b {
		cfg.AuthMode = AuthNone
	}
	ak, sk := os.Getenv("S3GW_ACCESS_KEY"), os.Getenv("S3GW_SECRET_KEY")
	if ak != "" && sk != "" {
		cfg.AccessKeys = []StaticAccessKey{{AccessKey: strings.TrimSpace(ak), SecretKey: strings.TrimSpace(sk)}}
	}
	if v := os.Getenv("S3GW_ACCESS_KEYS"); v != "" {
		if keys := parseAccessKeysEnv(v); len(keys) > 0 {
			cfg.AccessKeys = keys
		}
	}
	if v := os.Getenv("S3GW_MAX_CLOCK_SKEW"); v != "" {
		cfg.MaxClockSkew = strings.TrimSpace(v)
	}
	if b, ok := parseBool(os.Getenv("S3GW_STRICT_RANGES")); ok {
		cfg.StrictRanges = b
	}
	if b, ok := parseBool(os.Getenv("S3GW_STRICT_BUCKET_NAMES")); ok {
		cfg.StrictBucketNames = b
	}
	if v := os.Getenv("S3GW_MAX_OBJECT_SIZE"); v != "" {
		cfg.Limits.MaxObjectSize = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3GW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("S3GW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if b, ok := parseBool(os.Getenv("S3GW_TEMP_SWEEP_ENABLED")); ok {
		cfg.TempSweep.Enabled = b
	}
	if v := os.Getenv("S3GW_TEMP_SWEEP_INTERVAL"); v != "" {
		cfg.TempSweep.Interval = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3GW_TEMP_SWEEP_OLDER_THAN"); v != "" {
		cfg.TempSweep.OlderThan = strings.TrimSpace(v)
	}
	if b, ok := parseBool(os.Getenv("S3GW_METRICS_ENABLED")); ok {
		cfg.Metrics.Enabled = b
	}

	// Tracing overrides
	if b, ok := parseBool(os.Getenv("S3GW_TRACING_ENABLED")); ok {
		cfg.Tracing.Enabled = b
	}
	if v := os.Getenv("S3GW_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3GW_TRACING_PROTOCOL"); v != "" {
		p := strings.ToLower(strings.TrimSpace(v))
		if p == "grpc" || p == "http" {
			cfg.Tracing.Protocol = p
		}
	}
	if v := os.Getenv("S3GW_TRACING_SAMPLE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Tracing.SampleRatio = min(max(f, 0), 1)
		}
	}
	if v := os.Getenv("S3GW_TRACING_SERVICE"); v != "" {
		cfg.Tracing.ServiceName = strings.TrimSpace(v)
	}
	return cfg
}

func splitAndTrim(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, ",") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// parseAccessKeysEnv reads comma-separated ACCESS_KEY:SECRET_KEY[:USER]
// entries, skipping malformed ones.
func parseAccessKeysEnv(s string) []StaticAccessKey {
	var out []StaticAccessKey
	for _, e := range splitAndTrim(s) {
		parts := strings.Split(e, ":")
		if len(parts) < 2 {
			continue
		}
		ak := strings.TrimSpace(parts[0])
		sk := strings.TrimSpace(parts[1])
		user := ""
		if len(parts) >= 3 {
			user = strings.TrimSpace(parts[2])
		}
		if ak == "" || sk == "" {
			continue
		}
		out = append(out, StaticAccessKey{AccessKey: ak, SecretKey: sk, User: user})
	}
	return out
}
