package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig controls inventory alerting and webhook delivery.
type AlertsConfig struct {
	// Cooldown suppresses a repeated alert for the same item at the same or a
	// lower severity. Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// MinSeverity is the lowest alert severity sent to this target
	// (info | warning | critical). Defaults to critical.
	MinSeverity string `yaml:"min_severity"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8080
	DefaultLogLevel         = "info"
	DefaultSendBuffer       = 256
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultMaxMessageSize   = 64 * 1024
	DefaultPresenceDebounce = 250 * time.Millisecond
	DefaultReconnectWindow  = 2 * time.Minute
	DefaultCompactInterval  = time.Minute
	DefaultAlertCooldown    = 15 * time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `producer:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port producers publish on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port for the REST API, metrics and the WebSocket gateway (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error. Reloadable.
	LogLevel string `yaml:"log_level"`

	// Auth configures how producers authenticate on gRPC and REST ingress.
	Auth AuthConfig `yaml:"auth"`

	WebSocket WebSocketConfig `yaml:"websocket"`
	Presence  PresenceConfig  `yaml:"presence"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// AuthConfig controls producer authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// WebSocketConfig tunes client connections.
type WebSocketConfig struct {
	// SendBuffer is the number of frames queued per client before it is
	// considered slow and disconnected.
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// PresenceConfig controls branch-metrics broadcasts.
type PresenceConfig struct {
	// Debounce coalesces presence changes. Zero broadcasts on every change. Reloadable.
	Debounce time.Duration `yaml:"debounce"`
}

// ReconnectConfig controls reconnect detection.
type ReconnectConfig struct {
	// Window is how long after a disconnect a returning user counts as a reconnect.
	Window time.Duration `yaml:"window"`
}

// RoomsConfig controls channel bookkeeping.
type RoomsConfig struct {
	CompactInterval time.Duration `yaml:"compact_interval"`
}

// Level returns the slog level for LogLevel.
func (s ServerConfig) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. It is also
// what the server runs with when no config file exists.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			WebSocket: WebSocketConfig{
				SendBuffer:     DefaultSendBuffer,
				WriteTimeout:   DefaultWriteTimeout,
				PongWait:       DefaultPongWait,
				MaxMessageSize: DefaultMaxMessageSize,
			},
			Presence:  PresenceConfig{Debounce: DefaultPresenceDebounce},
			Reconnect: ReconnectConfig{Window: DefaultReconnectWindow},
			Rooms:     RoomsConfig{CompactInterval: DefaultCompactInterval},
			Alerts:    AlertsConfig{Cooldown: DefaultAlertCooldown},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("server.websocket.send_buffer must be positive")
	}
	if s.WebSocket.WriteTimeout <= 0 || s.WebSocket.PongWait <= 0 {
		return fmt.Errorf("server.websocket timeouts must be positive")
	}
	if s.Presence.Debounce < 0 {
		return fmt.Errorf("server.presence.debounce must not be negative")
	}
	if s.Reconnect.Window < 0 {
		return fmt.Errorf("server.reconnect.window must not be negative")
	}
	if s.Alerts.Cooldown < 0 {
		return fmt.Errorf("server.alerts.cooldown must not be negative")
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
		switch w.MinSeverity {
		case "", "info", "warning", "critical":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].min_severity %q unknown", i, w.MinSeverity)
		}
	}
	return nil
}
