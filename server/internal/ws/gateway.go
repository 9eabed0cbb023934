package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/bus"
	"github.com/tillu/branchbus/server/internal/registry"
	"github.com/tillu/branchbus/server/internal/router"
)

// Bus is the part of *bus.Bus the gateway drives.
type Bus interface {
	Attach(id string, t router.Transport) error
	Join(id string, identity registry.Identity) (bus.JoinResult, error)
	Leave(id, branchID string) (registry.Identity, bool)
	Disconnect(id string)
	Publish(e events.Event) (router.Result, error)
	PublishToConnection(id string, e events.Event) (router.Result, error)
	Send(id string, frame []byte) error
	Connection(id string) (registry.Connection, bool)
}

// Options tunes client connections. Zero values fall back to defaults.
type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	return o
}

// pingPeriod must stay below pongWait.
func (o Options) pingPeriod() time.Duration { return (o.PongWait * 9) / 10 }

// Gateway accepts WebSocket clients and connects them to the bus.
type Gateway struct {
	bus      Bus
	opts     Options
	upgrader websocket.Upgrader
	newID    func() string

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a Gateway over b.
func New(b Bus, opts Options) *Gateway {
	opts = opts.withDefaults()
	g := &Gateway{
		bus:     b,
		opts:    opts,
		newID:   uuid.NewString,
		clients: make(map[string]*client),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.opts.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   g.newID(),
		conn: conn,
		send: make(chan []byte, g.opts.SendBuffer),
		gw:   g,
	}
	if err := g.bus.Attach(c.id, c); err != nil {
		slog.Error("ws: attach failed", "conn", c.id, "err", err)
		conn.Close()
		return
	}
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()
	defer g.drop(c)

	slog.Debug("ws: client connected", "conn", c.id, "remote", r.RemoteAddr)
	g.reply(c, "connection-established", map[string]any{
		"connectionId": c.id,
		"timestamp":    time.Now().UTC(),
	})

	go c.writePump()
	c.readPump() // blocks until the connection closes
}

// Count returns the number of open client connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Run blocks until ctx is cancelled, then closes every client.
func (g *Gateway) Run(ctx context.Context) {
	<-ctx.Done()
	g.mu.RLock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	slog.Info("ws: gateway closed", "clients", len(clients))
}

// drop removes c from the gateway and the bus. Safe to call more than once.
func (g *Gateway) drop(c *client) {
	g.mu.Lock()
	_, ok := g.clients[c.id]
	delete(g.clients, c.id)
	g.mu.Unlock()

	c.close()
	if ok {
		g.bus.Disconnect(c.id)
		slog.Debug("ws: client disconnected", "conn", c.id)
	}
}

// frame is an incoming client message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// reply sends an unsequenced control frame to c through the bus so that it is
// ordered with the events c receives.
func (g *Gateway) reply(c *client, event string, data any) {
	msg, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		slog.Error("ws: encode reply", "event", event, "err", err)
		return
	}
	if err := g.bus.Send(c.id, msg); err != nil {
		slog.Debug("ws: reply not sent", "conn", c.id, "event", event, "err", err)
	}
}

func (g *Gateway) fail(c *client, event, code, message string) {
	g.reply(c, "error", errorBody{Code: code, Message: message, Event: event})
}

func (g *Gateway) handle(c *client, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		g.fail(c, "", "bad_frame", "frames must be JSON objects with an event name")
		return
	}
	if len(f.Data) == 0 || string(f.Data) == "null" {
		f.Data = json.RawMessage("{}")
	}

	switch f.Event {
	case "join-branch":
		var in struct {
			BranchID string `json:"branchId"`
			Role     string `json:"role"`
			UserID   string `json:"userId"`
		}
		if err := json.Unmarshal(f.Data, &in); err != nil {
			g.fail(c, f.Event, "bad_frame", err.Error())
			return
		}
		role, err := events.ParseRole(in.Role)
		if err != nil {
			g.fail(c, f.Event, "invalid_identity", err.Error())
			return
		}
		g.join(c, f.Event, registry.Identity{BranchID: in.BranchID, Role: role, UserID: in.UserID})

	case "join-customer":
		var in struct {
			BranchID   string `json:"branchId"`
			CustomerID string `json:"customerId"`
		}
		if err := json.Unmarshal(f.Data, &in); err != nil {
			g.fail(c, f.Event, "bad_frame", err.Error())
			return
		}
		g.join(c, f.Event, registry.Identity{BranchID: in.BranchID, Role: events.RoleCustomer, UserID: in.CustomerID})

	case "leave-branch", "leave-customer":
		var in struct {
			BranchID string `json:"branchId"`
		}
		if err := json.Unmarshal(f.Data, &in); err != nil {
			g.fail(c, f.Event, "bad_frame", err.Error())
			return
		}
		identity, ok := g.bus.Leave(c.id, in.BranchID)
		if !ok {
			g.fail(c, f.Event, "not_joined", "connection has not joined this branch")
			return
		}
		g.reply(c, "branch-left", map[string]any{"branchId": identity.BranchID})

	case "ping":
		g.reply(c, "pong", map[string]any{"timestamp": time.Now().UTC()})

	default:
		g.forward(c, f)
	}
}

func (g *Gateway) join(c *client, event string, identity registry.Identity) {
	res, err := g.bus.Join(c.id, identity)
	if err != nil {
		code := "internal"
		if errors.Is(err, registry.ErrInvalidIdentity) {
			code = "invalid_identity"
		}
		g.fail(c, event, code, err.Error())
		return
	}
	g.reply(c, "branch-joined", map[string]any{
		"branchId":      res.Connection.Identity.BranchID,
		"role":          res.Connection.Identity.Role,
		"channels":      res.Channels,
		"activeUsers":   res.Presence.ActiveUsers,
		"perRoleCounts": res.Presence.PerRole,
		"reconnected":   res.Connection.Reconnected,
	})

	// The joiner gets the branch presence as a sequenced event so it can
	// order later branch-metrics broadcasts against it.
	snap := events.New(res.Connection.Identity.BranchID, res.Presence.Payload())
	if _, err := g.bus.PublishToConnection(c.id, snap); err != nil {
		slog.Warn("ws: presence snapshot not sent", "conn", c.id, "err", err)
	}
}

// forward publishes a client-originated event.
func (g *Gateway) forward(c *client, f frame) {
	if _, known := clientEvents[f.Event]; !known {
		g.fail(c, f.Event, "unknown_event", "unknown event "+f.Event)
		return
	}
	conn, ok := g.bus.Connection(c.id)
	if !ok {
		g.fail(c, f.Event, "not_joined", "join a branch before sending events")
		return
	}
	e, err := translate(conn.Identity, f.Event, f.Data)
	if err != nil {
		code := "invalid_event"
		switch {
		case errors.Is(err, errForbidden):
			code = "forbidden"
		case errors.Is(err, errUnknownEvent):
			code = "unknown_event"
		}
		g.fail(c, f.Event, code, err.Error())
		return
	}
	res, err := g.bus.Publish(e)
	if err != nil {
		g.fail(c, f.Event, "invalid_event", err.Error())
		return
	}
	slog.Debug("ws: client event published",
		"conn", c.id, "client_event", f.Event, "event", e.Kind(), "outcome", res.Outcome.String())
}
