// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `producer:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort                : port for producer ingress (default 50051)
//   - HTTPPort                : REST API, /metrics and /ws (default 8080)
//   - LogLevel                : debug | info | warn | error (reloadable)
//   - Auth.Mode               : "apikey" or "none"
//   - Auth.KeyEnv             : environment variable holding the expected API key
//   - Auth.Header             : gRPC metadata/HTTP header name (default "x-api-key")
//   - WebSocket.*             : per-client buffer, timeouts, frame size, origins
//   - Presence.Debounce       : branch-metrics coalescing window (default 250ms, reloadable)
//   - Reconnect.Window        : reconnect detection window (default 2m)
//   - Rooms.CompactInterval   : empty channel cleanup (default 1m)
//   - Alerts.Cooldown/Webhooks: inventory alert suppression and delivery (reloadable)
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change.
package config
