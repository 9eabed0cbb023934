package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/presence"
	"github.com/tillu/branchbus/server/internal/registry"
	"github.com/tillu/branchbus/server/internal/rooms"
	"github.com/tillu/branchbus/server/internal/router"
	"github.com/tillu/branchbus/server/internal/store"
)

// Config tunes the bus.
type Config struct {
	// PresenceDebounce coalesces presence broadcasts. Zero broadcasts inline.
	PresenceDebounce time.Duration
	// ReconnectWindow is how long a departure is remembered.
	ReconnectWindow time.Duration
	// CompactInterval is how often empty channel records are dropped.
	CompactInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectWindow <= 0 {
		c.ReconnectWindow = 2 * time.Minute
	}
	if c.CompactInterval <= 0 {
		c.CompactInterval = time.Minute
	}
	return c
}

// JoinResult describes a connection after a join.
type JoinResult struct {
	Connection registry.Connection
	Channels   []events.Channel
	Joined     []events.Channel
	Left       []events.Channel
	Presence   presence.Snapshot
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Router      router.Stats        `json:"router"`
	Connections int                 `json:"connections"`
	Attached    int                 `json:"attached"`
	Channels    int                 `json:"channels"`
	Reconnects  uint64              `json:"reconnects"`
	Presence    []presence.Snapshot `json:"presence"`
}

// Bus is the branch event bus.
type Bus struct {
	mu sync.Mutex

	cfg        Config
	departures *store.Store
	registry   *registry.Registry
	rooms      *rooms.Multiplexer
	router     *router.Router
	presence   *presence.Aggregator

	touched []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Bus. Call Start to run housekeeping.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{cfg: cfg}
	b.departures = store.New(cfg.ReconnectWindow)
	b.registry = registry.New(b.departures)
	b.rooms = rooms.New()
	b.router = router.New(b.rooms)
	b.presence = presence.New(b.registry, b.publishPresence)
	b.presence.SetDebounce(cfg.PresenceDebounce)
	b.presence.SetExecutor(func(f func()) {
		b.mu.Lock()
		defer b.mu.Unlock()
		f()
	})
	b.registry.OnChange(func(branchIDs ...string) {
		b.touched = append(b.touched, branchIDs...)
	})
	return b
}

// publishPresence runs with b.mu held.
func (b *Bus) publishPresence(e events.Event) {
	res, err := b.router.Publish(e)
	if err != nil {
		slog.Error("bus: presence publish failed", "branch", e.BranchID, "err", err)
		return
	}
	slog.Debug("bus: presence broadcast", "branch", e.BranchID, "outcome", res.Outcome.String())
}

// settle hands the branches touched by the current operation to the
// aggregator. Called with b.mu held, after rooms are in sync.
func (b *Bus) settle() {
	if len(b.touched) == 0 {
		return
	}
	touched := b.touched
	b.touched = nil
	b.presence.Request(touched...)
}

// Start runs departure eviction and channel compaction until ctx is done or
// Stop is called.
func (b *Bus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.departures.Run(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.compactLoop(ctx)
	}()
	slog.Info("bus: started",
		"presence_debounce", b.cfg.PresenceDebounce.String(),
		"reconnect_window", b.cfg.ReconnectWindow.String())
}

func (b *Bus) compactLoop(ctx context.Context) {
	t := time.NewTicker(b.cfg.CompactInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.mu.Lock()
			n := b.rooms.Compact()
			b.mu.Unlock()
			if n > 0 {
				slog.Debug("bus: compacted channels", "count", n)
			}
		}
	}
}

// Stop flushes pending presence, detaches every transport and stops
// housekeeping. Connections are not closed; that is the gateway's job.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.presence.Flush()
	b.presence.Stop()
	for _, c := range b.registry.All() {
		b.rooms.LeaveAll(c.ID)
		b.router.Detach(c.ID)
	}
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	slog.Info("bus: stopped")
}

// Attach binds a transport to a new connection id. The connection receives
// nothing but control frames until it joins.
func (b *Bus) Attach(id string, t router.Transport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.router.Has(id) {
		return fmt.Errorf("attach %s: %w", id, registry.ErrDuplicateConnection)
	}
	b.router.Attach(id, t)
	return nil
}

// Join registers id under identity, or switches an already registered
// connection to it, and brings its channels in line.
func (b *Bus) Join(id string, identity registry.Identity) (JoinResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.settle()

	if !b.router.Has(id) {
		return JoinResult{}, fmt.Errorf("join %s: %w", id, router.ErrUnknownConnection)
	}

	var conn registry.Connection
	if _, ok := b.registry.Find(id); ok {
		if _, _, err := b.registry.UpdateIdentity(id, registry.Patch{
			Role:     &identity.Role,
			BranchID: &identity.BranchID,
			UserID:   &identity.UserID,
		}); err != nil {
			return JoinResult{}, err
		}
		conn, _ = b.registry.Find(id)
	} else {
		c, err := b.registry.Register(id, identity)
		if err != nil {
			return JoinResult{}, err
		}
		conn = c
	}

	joined, left := b.rooms.Sync(id, conn.Identity)
	res := JoinResult{
		Connection: conn,
		Channels:   b.rooms.ChannelsOf(id),
		Joined:     joined,
		Left:       left,
		Presence:   b.presence.Snapshot(conn.Identity.BranchID),
	}
	slog.Debug("bus: joined",
		"conn", id, "branch", conn.Identity.BranchID, "role", conn.Identity.Role,
		"joined", len(joined), "left", len(left))
	return res, nil
}

// Leave unregisters the identity of id and removes it from all channels. The
// transport stays attached so the connection can join again. A non-empty
// branchID must match the connection's branch. Unknown connections are a no-op.
func (b *Bus) Leave(id, branchID string) (registry.Identity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.settle()

	c, ok := b.registry.Find(id)
	if !ok || (branchID != "" && c.Identity.BranchID != branchID) {
		return registry.Identity{}, false
	}
	identity, _ := b.registry.Unregister(id)
	b.rooms.LeaveAll(id)
	return identity, true
}

// Disconnect removes every trace of id. It is idempotent.
func (b *Bus) Disconnect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.settle()

	identity, registered := b.registry.Depart(id)
	left := b.rooms.LeaveAll(id)
	b.router.Detach(id)
	if registered {
		slog.Debug("bus: disconnected", "conn", id, "branch", identity.BranchID, "channels", len(left))
	}
}

// Publish routes e to its target channel.
func (b *Bus) Publish(e events.Event) (router.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.router.Publish(e)
}

// PublishToConnection sends e to one connection.
func (b *Bus) PublishToConnection(id string, e events.Event) (router.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.router.PublishToConnection(id, e)
}

// Send writes a control frame to one connection.
func (b *Bus) Send(id string, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.router.Send(id, frame)
}

// Presence computes the current snapshot of a branch.
func (b *Bus) Presence(branchID string) presence.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presence.Snapshot(branchID)
}

// FlushPresence broadcasts every pending presence change now.
func (b *Bus) FlushPresence() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presence.Flush()
}

// SetPresenceDebounce changes the presence window at runtime.
func (b *Bus) SetPresenceDebounce(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence.SetDebounce(d)
	if d <= 0 {
		b.presence.Flush()
	}
}

// Connection returns the registered connection id.
func (b *Bus) Connection(id string) (registry.Connection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.Find(id)
}

// Connections lists registered connections of branchID, or all of them when
// branchID is empty.
func (b *Bus) Connections(branchID string) []registry.Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if branchID == "" {
		return b.registry.All()
	}
	return b.registry.Branch(branchID)
}

// ChannelsOf returns the channels id is in.
func (b *Bus) ChannelsOf(id string) []events.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms.ChannelsOf(id)
}

// MembersOf returns the connections in ch.
func (b *Bus) MembersOf(ch events.Channel) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms.MembersOf(ch)
}

// Attached returns the number of attached transports, joined or not.
func (b *Bus) Attached() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.router.Attached()
}

// Stats returns counters and presence for every active branch.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		Router:      b.router.Stats(),
		Connections: b.registry.Count(),
		Attached:    b.router.Attached(),
		Channels:    b.rooms.Channels(),
		Reconnects:  b.registry.Reconnects(),
	}
	for _, branch := range b.registry.Branches() {
		s.Presence = append(s.Presence, b.presence.Snapshot(branch))
	}
	return s
}
