package kitchen

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tillu/branchbus/pkg/events"
)

// Order statuses that keep an order in the kitchen queue, and those that
// take it out. Anything else leaves the queue untouched.
var (
	openStatuses   = map[string]bool{"pending": true, "new": true, "confirmed": true, "in_progress": true, "preparing": true}
	closedStatuses = map[string]bool{"ready": true, "completed": true, "served": true, "delivered": true, "cancelled": true}
)

// Settings tunes the engine.
type Settings struct {
	UrgentAfter time.Duration
	Capacity    int
	TargetWait  time.Duration
}

// Engine maintains per-branch order queues and derives kitchen events.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	settings Settings
	branches map[string]*branchState
}

type branchState struct {
	open map[string]*openOrder
}

type openOrder struct {
	id     string
	number string
	since  time.Time
	urgent bool
}

// NewEngine returns a ready-to-use Engine.
func NewEngine(s Settings) *Engine {
	return &Engine{settings: s, branches: make(map[string]*branchState)}
}

// SetSettings swaps the settings, e.g. after a config reload.
func (e *Engine) SetSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

// Process ingests one event and returns the events derived from it.
//
// Only order-updated affects the queue. An order enters the queue the first
// time it is seen with an open status, at the event's timestamp or now when it
// has none, and leaves it on a closing status. When the queue of a branch
// changes, a kitchen-updated for that branch is returned.
func (e *Engine) Process(ev events.Event, now time.Time) []events.Event {
	p, ok := ev.Payload.(events.OrderUpdated)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	status := strings.ToLower(p.Status)
	st := e.branches[ev.BranchID]
	switch {
	case openStatuses[status]:
		if st == nil {
			st = &branchState{open: make(map[string]*openOrder)}
			e.branches[ev.BranchID] = st
		}
		if _, seen := st.open[p.OrderID]; seen {
			return nil
		}
		since := ev.EmittedAt
		if since.IsZero() || since.After(now) {
			since = now
		}
		st.open[p.OrderID] = &openOrder{id: p.OrderID, number: p.OrderNumber, since: since}

	case closedStatuses[status]:
		if st == nil {
			return nil
		}
		if _, seen := st.open[p.OrderID]; !seen {
			return nil
		}
		delete(st.open, p.OrderID)

	default:
		return nil
	}

	out := events.New(ev.BranchID, e.metrics(st, now))
	if len(st.open) == 0 {
		delete(e.branches, ev.BranchID)
	}
	return []events.Event{out}
}

// Sweep returns urgent-order for every open order that has waited at least
// UrgentAfter and was not flagged before, plus a fresh kitchen-updated for
// every branch with open orders. Branches are visited in id order.
func (e *Engine) Sweep(now time.Time) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.branches))
	for id := range e.branches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []events.Event
	for _, branchID := range ids {
		st := e.branches[branchID]
		for _, o := range st.sorted() {
			waited := now.Sub(o.since)
			if o.urgent || e.settings.UrgentAfter <= 0 || waited < e.settings.UrgentAfter {
				continue
			}
			o.urgent = true
			slog.Info("kitchen: order is urgent",
				"branch", branchID, "order", o.id, "waited", waited.Round(time.Second))
			out = append(out, events.New(branchID, events.UrgentOrder{
				OrderID:        o.id,
				OrderNumber:    o.number,
				WaitingSeconds: math.Round(waited.Seconds()),
			}))
		}
		out = append(out, events.New(branchID, e.metrics(st, now)))
	}
	return out
}

// QueueLength returns the number of open orders in branchID.
func (e *Engine) QueueLength(branchID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.branches[branchID]; ok {
		return len(st.open)
	}
	return 0
}

func (e *Engine) metrics(st *branchState, now time.Time) events.KitchenUpdated {
	var total time.Duration
	for _, o := range st.open {
		if w := now.Sub(o.since); w > 0 {
			total += w
		}
	}
	var avg time.Duration
	if n := len(st.open); n > 0 {
		avg = total / time.Duration(n)
	}

	score := Compute(Input{
		QueueLength: len(st.open),
		Capacity:    e.settings.Capacity,
		AverageWait: avg,
		TargetWait:  e.settings.TargetWait,
	})
	return events.KitchenUpdated{
		QueueLength:     len(st.open),
		AverageWaitTime: math.Round(avg.Seconds()),
		Load:            score.State,
	}
}

func (st *branchState) sorted() []*openOrder {
	out := make([]*openOrder, 0, len(st.open))
	for _, o := range st.open {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].since.Equal(out[j].since) {
			return out[i].since.Before(out[j].since)
		}
		return out[i].id < out[j].id
	})
	return out
}
