package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/common/validation"
	"github.com/vnykmshr/bufstream/pkg/streaming/httpsink"
	"github.com/vnykmshr/bufstream/pkg/streaming/producer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BUFSTREAM_"

// Config is the complete bufstreamd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Report  ReportConfig  `yaml:"report"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int           `yaml:"max_body_bytes"`
}

// StreamConfig configures how bodies are streamed to clients.
type StreamConfig struct {
	ChunkSize       int  `yaml:"chunk_size"`
	RateBytesPerSec int  `yaml:"rate_bytes_per_sec"`
	BurstBytes      int  `yaml:"burst_bytes"`
	Eager           bool `yaml:"eager"`
}

// StoreConfig selects and configures the body store.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`

	// MaxBytes caps the memory backend. Zero means unlimited.
	MaxBytes int         `yaml:"max_bytes"`
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis body store.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ReportConfig configures the periodic stats log line.
type ReportConfig struct {
	// Schedule is a cron spec; empty disables reporting.
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    64 << 20,
		},
		Stream: StreamConfig{
			ChunkSize:  producer.DefaultChunkSize,
			BurstBytes: producer.DefaultChunkSize,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "bufstream:body:",
				Timeout:   2 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Report: ReportConfig{
			Schedule: "@every 1m",
		},
	}
}

// Load reads configuration with priority defaults < YAML file < environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with a custom environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_ADDR":      &c.Server.Addr,
		"STORE_BACKEND":    &c.Store.Backend,
		"REDIS_ADDR":       &c.Store.Redis.Addr,
		"REDIS_PASSWORD":   &c.Store.Redis.Password,
		"REDIS_KEY_PREFIX": &c.Store.Redis.KeyPrefix,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FORMAT":       &c.Log.Format,
		"METRICS_PATH":     &c.Metrics.Path,
		"REPORT_SCHEDULE":  &c.Report.Schedule,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_MAX_BODY_BYTES":     &c.Server.MaxBodyBytes,
		"STREAM_CHUNK_SIZE":         &c.Stream.ChunkSize,
		"STREAM_RATE_BYTES_PER_SEC": &c.Stream.RateBytesPerSec,
		"STREAM_BURST_BYTES":        &c.Stream.BurstBytes,
		"STORE_MAX_BYTES":           &c.Store.MaxBytes,
		"REDIS_DB":                  &c.Store.Redis.DB,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return bserrors.NewValidationError("config", EnvPrefix+name, v, "not an integer")
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"STREAM_EAGER":    &c.Stream.Eager,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return bserrors.NewValidationError("config", EnvPrefix+name, v, "not a boolean")
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"SERVER_READ_TIMEOUT":     &c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT":    &c.Server.WriteTimeout,
		"SERVER_SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,
		"STORE_TTL":               &c.Store.TTL,
		"REDIS_TIMEOUT":           &c.Store.Redis.Timeout,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return bserrors.NewValidationError("config", EnvPrefix+name, v, "not a duration")
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks every field that has a constrained range.
func (c *Config) Validate() error {
	checks := []error{
		validation.ValidateNotEmpty("config", "server.addr", c.Server.Addr),
		validation.ValidatePositive("config", "server.max_body_bytes", c.Server.MaxBodyBytes),
		validation.ValidatePositive("config", "stream.chunk_size", c.Stream.ChunkSize),
		validation.ValidateNonNegative("config", "stream.rate_bytes_per_sec", c.Stream.RateBytesPerSec),
		validation.ValidateNonNegative("config", "stream.burst_bytes", c.Stream.BurstBytes),
		validation.ValidateOneOf("config", "store.backend", c.Store.Backend, "memory", "redis"),
		validation.ValidateNonNegative("config", "store.max_bytes", c.Store.MaxBytes),
		validation.ValidateOneOf("config", "log.level", c.Log.Level, "debug", "info", "warn", "error"),
		validation.ValidateOneOf("config", "log.format", c.Log.Format, "json", "console"),
	}
	if c.Store.Backend == "redis" {
		checks = append(checks, validation.ValidateNotEmpty("config", "store.redis.addr", c.Store.Redis.Addr))
	}
	if c.Metrics.Enabled {
		checks = append(checks, validation.ValidateNotEmpty("config", "metrics.path", c.Metrics.Path))
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.Store.Backend == "redis" && c.Store.Redis.Timeout <= 0 {
		return bserrors.NewValidationError("config", "store.redis.timeout", c.Store.Redis.Timeout, "must be positive")
	}

	if c.Report.Schedule != "" {
		if _, err := cron.ParseStandard(c.Report.Schedule); err != nil {
			return bserrors.NewValidationError("config", "report.schedule", c.Report.Schedule, err.Error()).
				WithHint("use a cron expression or a descriptor such as @every 1m")
		}
	}
	return nil
}

// StreamOptions converts the stream section into producer and sink settings.
func (c *Config) StreamOptions() httpsink.StreamConfig {
	sc := httpsink.DefaultStreamConfig()
	sc.Producer.ChunkSize = c.Stream.ChunkSize
	sc.Sink.RateBytesPerSec = c.Stream.RateBytesPerSec
	sc.Sink.BurstBytes = c.Stream.BurstBytes
	sc.Sink.Eager = c.Stream.Eager
	return sc
}
