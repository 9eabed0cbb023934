package router

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tillu/branchbus/pkg/events"
)

var (
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrUnknownConnection = errors.New("no transport for connection")
)

// Transport writes one frame to a connection without blocking.
type Transport interface {
	Send(frame []byte) error
}

// Resolver returns the connection ids subscribed to a channel.
type Resolver interface {
	MembersOf(ch events.Channel) []string
}

// Outcome summarises a publish.
type Outcome int

const (
	// Delivered means every target received the event.
	Delivered Outcome = iota
	// PartiallyDelivered means at least one target did not.
	PartiallyDelivered
	// NoTargets means the channel was empty and nothing was written.
	NoTargets
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case PartiallyDelivered:
		return "partially_delivered"
	case NoTargets:
		return "no_targets"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failure is one recipient that could not be written to.
type Failure struct {
	ConnectionID string
	Err          error
}

// Result reports what happened to a published event.
type Result struct {
	Event     events.Event
	Channel   events.Channel
	Targets   []string
	Delivered int
	Failed    int
	Stale     int
	Outcome   Outcome
	Failures  []Failure
}

// Stats are cumulative router counters.
type Stats struct {
	Published  map[events.Kind]uint64 `json:"published"`
	Deliveries uint64                 `json:"deliveries"`
	Failures   uint64                 `json:"failures"`
	Dropped    uint64                 `json:"dropped"`
	Stale      uint64                 `json:"stale"`
}

type seqKey struct {
	branch string
	entity string
}

func keyOf(e events.Event) seqKey { return seqKey{branch: e.BranchID, entity: e.EntityID} }

// Router fans events out to transports.
type Router struct {
	resolver   Resolver
	transports map[string]Transport
	seq        map[seqKey]uint64
	lastSent   map[string]map[seqKey]uint64
	stats      Stats
	now        func() time.Time
}

// New returns a Router resolving channel members through resolver.
func New(resolver Resolver) *Router {
	return &Router{
		resolver:   resolver,
		transports: make(map[string]Transport),
		seq:        make(map[seqKey]uint64),
		lastSent:   make(map[string]map[seqKey]uint64),
		stats:      Stats{Published: make(map[events.Kind]uint64)},
		now:        time.Now,
	}
}

// Attach binds a transport to a connection id, replacing any previous one.
func (r *Router) Attach(id string, t Transport) { r.transports[id] = t }

// Detach forgets the transport and ordering state of a connection.
func (r *Router) Detach(id string) {
	delete(r.transports, id)
	delete(r.lastSent, id)
}

// Has reports whether id has a transport.
func (r *Router) Has(id string) bool {
	_, ok := r.transports[id]
	return ok
}

// Attached returns the number of attached transports.
func (r *Router) Attached() int { return len(r.transports) }

func (r *Router) stamp(e events.Event) events.Event {
	k := keyOf(e)
	r.seq[k]++
	e.Sequence = r.seq[k]
	if e.EmittedAt.IsZero() {
		e.EmittedAt = r.now().UTC()
	}
	return e
}

// Publish sequences e and delivers it to every member of its target channel.
// The returned error is non-nil only for events that fail validation or
// encoding; delivery problems are reported in the Result.
func (r *Router) Publish(e events.Event) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	e = r.stamp(e)
	r.stats.Published[e.Kind()]++

	ch := events.Target(e)
	res := Result{Event: e, Channel: ch, Targets: r.resolver.MembersOf(ch)}
	if len(res.Targets) == 0 {
		res.Outcome = NoTargets
		r.stats.Dropped++
		slog.Debug("router: no targets", "event", e.Kind(), "channel", ch)
		return res, nil
	}

	frame, err := events.Encode(e)
	if err != nil {
		return Result{}, err
	}
	for _, id := range res.Targets {
		r.deliver(&res, id, frame)
	}
	res.Outcome = outcomeOf(res)
	return res, nil
}

// PublishToConnection sends e to a single connection, bypassing channels.
// An event that already carries a sequence keeps it, so re-sending an older
// event is suppressed by the ordering guard.
func (r *Router) PublishToConnection(id string, e events.Event) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	if !r.Has(id) {
		return Result{}, fmt.Errorf("publish to %s: %w", id, ErrUnknownConnection)
	}
	if e.Sequence == 0 {
		e = r.stamp(e)
		r.stats.Published[e.Kind()]++
	}

	frame, err := events.Encode(e)
	if err != nil {
		return Result{}, err
	}
	res := Result{Event: e, Targets: []string{id}}
	r.deliver(&res, id, frame)
	res.Outcome = outcomeOf(res)
	return res, nil
}

// Send writes an unsequenced control frame to one connection.
func (r *Router) Send(id string, frame []byte) error {
	t, ok := r.transports[id]
	if !ok {
		return fmt.Errorf("send to %s: %w", id, ErrUnknownConnection)
	}
	if err := t.Send(frame); err != nil {
		return fmt.Errorf("send to %s: %w: %v", id, ErrDeliveryFailed, err)
	}
	return nil
}

func (r *Router) deliver(res *Result, id string, frame []byte) {
	e := res.Event
	k := keyOf(e)
	if last, ok := r.lastSent[id][k]; ok && e.Sequence <= last {
		res.Stale++
		r.stats.Stale++
		slog.Debug("router: stale event suppressed",
			"conn", id, "event", e.Kind(), "sequence", e.Sequence, "last", last)
		return
	}

	t, ok := r.transports[id]
	var err error
	if !ok {
		err = fmt.Errorf("%w: %w", ErrDeliveryFailed, ErrUnknownConnection)
	} else if sendErr := t.Send(frame); sendErr != nil {
		err = fmt.Errorf("%w: %v", ErrDeliveryFailed, sendErr)
	}
	if err != nil {
		res.Failed++
		res.Failures = append(res.Failures, Failure{ConnectionID: id, Err: err})
		r.stats.Failures++
		slog.Warn("router: delivery failed", "conn", id, "event", e.Kind(), "err", err)
		return
	}

	sent, ok := r.lastSent[id]
	if !ok {
		sent = make(map[seqKey]uint64)
		r.lastSent[id] = sent
	}
	sent[k] = e.Sequence
	res.Delivered++
	r.stats.Deliveries++
}

func outcomeOf(res Result) Outcome {
	if len(res.Targets) == 0 {
		return NoTargets
	}
	if res.Delivered == len(res.Targets) {
		return Delivered
	}
	return PartiallyDelivered
}

// Stats returns a copy of the router counters.
func (r *Router) Stats() Stats {
	out := r.stats
	out.Published = make(map[events.Kind]uint64, len(r.stats.Published))
	for k, v := range r.stats.Published {
		out.Published[k] = v
	}
	return out
}
