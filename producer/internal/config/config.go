package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBufferSize    = 1000
	DefaultUrgentAfter   = 15 * time.Minute
	DefaultCapacity      = 10
	DefaultTargetWait    = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultHeader        = "x-api-key"
)

// Config is the top-level producer configuration. The `server:` key in the
// same file is ignored.
type Config struct {
	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig holds all producer-side settings.
type ProducerConfig struct {
	// ServerEndpoint is the gRPC address of branchbus-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// BufferSize is the maximum number of events held in memory while the
	// server is unreachable. The oldest event is dropped on overflow.
	BufferSize int `yaml:"buffer_size"`

	// LogLevel is one of: debug | info | warn | error. Reloadable.
	LogLevel string `yaml:"log_level"`

	// ServerAuth configures how the producer authenticates to the server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	Feed    FeedConfig    `yaml:"feed"`
	Kitchen KitchenConfig `yaml:"kitchen"`
}

// AuthConfig specifies how the producer authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the gRPC metadata key carrying the API key. Defaults to x-api-key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the lowercased metadata key, or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultHeader
}

// FeedConfig describes where domain events come from.
type FeedConfig struct {
	// Path is an NDJSON file of event envelopes, or "-" for stdin.
	Path string `yaml:"path"`

	// Interval paces the feed: the delay between two events. Zero replays
	// as fast as the buffer accepts.
	Interval time.Duration `yaml:"interval"`
}

// KitchenConfig tunes the derived kitchen metrics. Reloadable.
type KitchenConfig struct {
	// UrgentAfter is how long an open order may wait before urgent-order is sent.
	UrgentAfter time.Duration `yaml:"urgent_after"`

	// Capacity is the number of open orders the kitchen handles comfortably.
	Capacity int `yaml:"capacity"`

	// TargetWait is the acceptable average wait.
	TargetWait time.Duration `yaml:"target_wait"`

	// SweepInterval is how often waiting orders are re-checked.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Level returns the slog level for LogLevel.
func (p ProducerConfig) Level() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("producer config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("producer config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("producer config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Producer: ProducerConfig{
			BufferSize: DefaultBufferSize,
			LogLevel:   "info",
			Feed:       FeedConfig{Path: "-"},
			Kitchen: KitchenConfig{
				UrgentAfter:   DefaultUrgentAfter,
				Capacity:      DefaultCapacity,
				TargetWait:    DefaultTargetWait,
				SweepInterval: DefaultSweepInterval,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	p := cfg.Producer
	if p.ServerEndpoint == "" {
		return fmt.Errorf("producer.server_endpoint is required")
	}
	if p.BufferSize <= 0 {
		return fmt.Errorf("producer.buffer_size must be positive")
	}
	switch strings.ToLower(p.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("producer.log_level %q unknown: want debug|info|warn|error", p.LogLevel)
	}
	switch p.ServerAuth.Mode {
	case "mtls":
		if p.ServerAuth.CertFile == "" || p.ServerAuth.KeyFile == "" {
			return fmt.Errorf("producer.server_auth: mtls needs cert_file and key_file")
		}
	case "apikey":
		if p.ServerAuth.KeyEnv == "" {
			return fmt.Errorf("producer.server_auth: apikey needs key_env")
		}
	case "none", "":
	default:
		return fmt.Errorf("producer.server_auth.mode %q unknown: want mtls|apikey|none", p.ServerAuth.Mode)
	}
	if p.Feed.Path == "" {
		return fmt.Errorf("producer.feed.path is required")
	}
	if p.Feed.Interval < 0 {
		return fmt.Errorf("producer.feed.interval must not be negative")
	}
	k := p.Kitchen
	if k.UrgentAfter <= 0 || k.TargetWait <= 0 || k.SweepInterval <= 0 {
		return fmt.Errorf("producer.kitchen durations must be positive")
	}
	if k.Capacity <= 0 {
		return fmt.Errorf("producer.kitchen.capacity must be positive")
	}
	return nil
}
