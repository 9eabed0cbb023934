package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/store"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrInvalidIdentity     = errors.New("invalid identity")
)

// Identity is what a client declares when it joins.
type Identity struct {
	Role     events.Role `json:"role"`
	BranchID string      `json:"branchId"`
	UserID   string      `json:"userId,omitempty"`
}

// Validate reports whether id can be registered.
func (id Identity) Validate() error {
	if id.BranchID == "" {
		return fmt.Errorf("%w: branchId is required", ErrInvalidIdentity)
	}
	if !id.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, id.Role)
	}
	return nil
}

// Patch changes parts of an identity; nil fields are left as they are.
type Patch struct {
	Role     *events.Role
	BranchID *string
	UserID   *string
}

func (p Patch) apply(id Identity) Identity {
	if p.Role != nil {
		id.Role = *p.Role
	}
	if p.BranchID != nil {
		id.BranchID = *p.BranchID
	}
	if p.UserID != nil {
		id.UserID = *p.UserID
	}
	return id
}

// Connection is one registered client.
type Connection struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity"`
	ConnectedAt time.Time `json:"connectedAt"`
	Live        bool      `json:"live"`
	Reconnected bool      `json:"reconnected"`
}

// ChangeFunc is told which branches changed membership.
type ChangeFunc func(branchIDs ...string)

// Registry maps connection ids to identities.
type Registry struct {
	conns      map[string]*Connection
	departures *store.Store
	onChange   ChangeFunc
	reconnects uint64
	now        func() time.Time
}

// New returns an empty registry. departures may be nil, in which case
// reconnects are not detected.
func New(departures *store.Store) *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		departures: departures,
		now:        time.Now,
	}
}

// OnChange installs the hook called after every membership change.
func (r *Registry) OnChange(fn ChangeFunc) { r.onChange = fn }

func (r *Registry) changed(branchIDs ...string) {
	if r.onChange != nil {
		r.onChange(branchIDs...)
	}
}

// Register adds a live connection.
func (r *Registry) Register(id string, identity Identity) (Connection, error) {
	if id == "" {
		return Connection{}, fmt.Errorf("%w: empty connection id", ErrInvalidIdentity)
	}
	if _, ok := r.conns[id]; ok {
		return Connection{}, fmt.Errorf("register %s: %w", id, ErrDuplicateConnection)
	}
	if err := identity.Validate(); err != nil {
		return Connection{}, err
	}

	c := &Connection{
		ID:          id,
		Identity:    identity,
		ConnectedAt: r.now(),
		Live:        true,
	}
	if r.departures != nil {
		if d, ok := r.departures.Take(identity.BranchID, identity.UserID); ok {
			c.Reconnected = true
			r.reconnects++
			slog.Debug("registry: reconnect",
				"conn", id, "previous", d.ConnectionID,
				"branch", identity.BranchID, "user", identity.UserID)
		}
	}
	r.conns[id] = c
	r.changed(identity.BranchID)
	return *c, nil
}

// Unregister drops the identity of a connection whose socket stays open.
// It is not a departure, so a later join on the same socket is not a
// reconnect. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) (Identity, bool) {
	return r.remove(id, false)
}

// Depart removes a connection whose transport has gone away and remembers
// the user for reconnect detection. Unknown ids are a no-op.
func (r *Registry) Depart(id string) (Identity, bool) {
	return r.remove(id, true)
}

func (r *Registry) remove(id string, departed bool) (Identity, bool) {
	c, ok := r.conns[id]
	if !ok {
		return Identity{}, false
	}
	delete(r.conns, id)
	if departed && r.departures != nil {
		r.departures.Put(store.Departure{
			BranchID:     c.Identity.BranchID,
			UserID:       c.Identity.UserID,
			Role:         c.Identity.Role,
			ConnectionID: id,
			LeftAt:       r.now(),
		})
	}
	r.changed(c.Identity.BranchID)
	return c.Identity, true
}

// UpdateIdentity applies patch to a registered connection and returns the
// identity before and after.
func (r *Registry) UpdateIdentity(id string, patch Patch) (old, updated Identity, err error) {
	c, ok := r.conns[id]
	if !ok {
		return Identity{}, Identity{}, fmt.Errorf("update %s: %w", id, ErrUnknownConnection)
	}
	old = c.Identity
	updated = patch.apply(old)
	if err := updated.Validate(); err != nil {
		return old, old, err
	}
	c.Identity = updated
	if old.BranchID != updated.BranchID {
		r.changed(old.BranchID, updated.BranchID)
	} else if old != updated {
		r.changed(updated.BranchID)
	}
	return old, updated, nil
}

// Find returns the connection registered under id.
func (r *Registry) Find(id string) (Connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Branch returns the live connections of a branch ordered by id.
func (r *Registry) Branch(branchID string) []Connection {
	var out []Connection
	for _, c := range r.conns {
		if c.Live && c.Identity.BranchID == branchID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Branches returns the ids of branches with at least one connection, sorted.
func (r *Registry) Branches() []string {
	seen := make(map[string]struct{})
	for _, c := range r.conns {
		seen[c.Identity.BranchID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// All returns every registered connection ordered by id.
func (r *Registry) All() []Connection {
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int { return len(r.conns) }

// Reconnects returns how many registrations matched a recent departure.
func (r *Registry) Reconnects() uint64 { return r.reconnects }
