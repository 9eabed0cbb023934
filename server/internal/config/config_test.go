package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, `producer:
  server_endpoint: "localhost:50051"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", s.GRPCPort, DefaultGRPCPort)
	}
	if s.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", s.HTTPPort, DefaultHTTPPort)
	}
	if s.Presence.Debounce != DefaultPresenceDebounce {
		t.Errorf("presence.debounce: got %v, want %v", s.Presence.Debounce, DefaultPresenceDebounce)
	}
	if s.Reconnect.Window != DefaultReconnectWindow {
		t.Errorf("reconnect.window: got %v, want %v", s.Reconnect.Window, DefaultReconnectWindow)
	}
	if s.WebSocket.SendBuffer != DefaultSendBuffer {
		t.Errorf("websocket.send_buffer: got %d, want %d", s.WebSocket.SendBuffer, DefaultSendBuffer)
	}
	if s.Level() != slog.LevelInfo {
		t.Errorf("Level: got %v, want info", s.Level())
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  log_level: debug
  auth:
    mode: apikey
    key_env: MY_KEY
    header: X-Bus-Key
  websocket:
    send_buffer: 32
    pong_wait: 30s
  presence:
    debounce: 0s
  reconnect:
    window: 5m
  alerts:
    cooldown: 1m
    webhooks:
      - type: slack
        url_env: SLACK_URL
        min_severity: warning
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != 9090 {
		t.Errorf("grpc_port: got %d, want 9090", s.GRPCPort)
	}
	if s.Level() != slog.LevelDebug {
		t.Errorf("Level: got %v, want debug", s.Level())
	}
	if s.Auth.EffectiveHeader() != "x-bus-key" {
		t.Errorf("header: got %q, want x-bus-key", s.Auth.EffectiveHeader())
	}
	if s.WebSocket.SendBuffer != 32 || s.WebSocket.PongWait != 30*time.Second {
		t.Errorf("websocket: got %+v", s.WebSocket)
	}
	if s.WebSocket.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("websocket.write_timeout: got %v, want default", s.WebSocket.WriteTimeout)
	}
	if s.Presence.Debounce != 0 {
		t.Errorf("presence.debounce: got %v, want 0", s.Presence.Debounce)
	}
	if s.Reconnect.Window != 5*time.Minute {
		t.Errorf("reconnect.window: got %v, want 5m", s.Reconnect.Window)
	}
	if len(s.Alerts.Webhooks) != 1 || s.Alerts.Webhooks[0].MinSeverity != "warning" {
		t.Errorf("alerts.webhooks: got %+v", s.Alerts.Webhooks)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_HOOK_URL", "https://hooks.example.com/x")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
  alerts:
    webhooks:
      - type: http
        url_env: TEST_HOOK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if u := cfg.Server.Alerts.Webhooks[0].URL(); u != "https://hooks.example.com/x" {
		t.Errorf("URL(): got %q", u)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"auth mode": `server:
  auth:
    mode: oauth2
`,
		"port": `server:
  http_port: 70000
`,
		"log level": `server:
  log_level: chatty
`,
		"send buffer": `server:
  websocket:
    send_buffer: 0
`,
		"negative debounce": `server:
  presence:
    debounce: -1s
`,
		"webhook type": `server:
  alerts:
    webhooks:
      - type: pagerduty
`,
		"yaml": "server: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_Reloads(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c })

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Server.LogLevel != "debug" {
			t.Errorf("log_level: got %q, want debug", c.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
