package presence

import (
	"sort"
	"time"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/registry"
)

// Source lists the live connections of a branch.
type Source interface {
	Branch(branchID string) []registry.Connection
}

// Snapshot is the presence of one branch. PerRole has an entry for every role.
type Snapshot struct {
	BranchID    string              `json:"branchId"`
	ActiveUsers int                 `json:"activeUsers"`
	PerRole     map[events.Role]int `json:"perRoleCounts"`
}

// Compute builds the snapshot of branchID from its live connections.
func Compute(branchID string, conns []registry.Connection) Snapshot {
	s := empty(branchID)
	for _, c := range conns {
		if !c.Live || c.Identity.BranchID != branchID {
			continue
		}
		s.ActiveUsers++
		s.PerRole[c.Identity.Role]++
	}
	return s
}

func empty(branchID string) Snapshot {
	s := Snapshot{BranchID: branchID, PerRole: make(map[events.Role]int, len(events.Roles))}
	for _, r := range events.Roles {
		s.PerRole[r] = 0
	}
	return s
}

// Equal reports whether s and o hold the same counts.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.BranchID != o.BranchID || s.ActiveUsers != o.ActiveUsers {
		return false
	}
	for _, r := range events.Roles {
		if s.PerRole[r] != o.PerRole[r] {
			return false
		}
	}
	return true
}

// Payload converts s to a branch-metrics payload.
func (s Snapshot) Payload() events.BranchMetrics {
	counts := make(map[events.Role]int, len(s.PerRole))
	for r, n := range s.PerRole {
		counts[r] = n
	}
	return events.BranchMetrics{ActiveUsers: s.ActiveUsers, PerRoleCounts: counts}
}

// Aggregator recomputes presence on request and publishes changes.
type Aggregator struct {
	src      Source
	publish  func(events.Event)
	exec     func(func())
	debounce time.Duration

	last    map[string]Snapshot
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

// New returns an Aggregator reading from src and broadcasting through publish.
func New(src Source, publish func(events.Event)) *Aggregator {
	return &Aggregator{
		src:     src,
		publish: publish,
		exec:    func(f func()) { f() },
		last:    make(map[string]Snapshot),
		pending: make(map[string]struct{}),
	}
}

// SetDebounce sets the window used by Request. Zero recomputes inline.
func (a *Aggregator) SetDebounce(d time.Duration) { a.debounce = d }

// Debounce returns the current window.
func (a *Aggregator) Debounce() time.Duration { return a.debounce }

// SetExecutor installs the function debounced flushes run through.
func (a *Aggregator) SetExecutor(exec func(func())) { a.exec = exec }

// Snapshot computes the current presence of branchID without broadcasting.
func (a *Aggregator) Snapshot(branchID string) Snapshot {
	return Compute(branchID, a.src.Branch(branchID))
}

// Last returns the snapshot most recently broadcast for branchID.
func (a *Aggregator) Last(branchID string) (Snapshot, bool) {
	s, ok := a.last[branchID]
	return s, ok
}

// Recompute computes the presence of branchID and broadcasts it if it differs
// from the last broadcast. It reports whether a broadcast happened.
func (a *Aggregator) Recompute(branchID string) (Snapshot, bool) {
	snap := a.Snapshot(branchID)
	prev, ok := a.last[branchID]
	if !ok {
		prev = empty(branchID)
	}
	if snap.Equal(prev) {
		return snap, false
	}
	if snap.ActiveUsers == 0 {
		delete(a.last, branchID)
	} else {
		a.last[branchID] = snap
	}
	if a.publish != nil {
		a.publish(events.New(branchID, snap.Payload()))
	}
	return snap, true
}

// Request marks branches for recomputation. With no debounce they are
// recomputed immediately; otherwise on the first flush after the window.
func (a *Aggregator) Request(branchIDs ...string) {
	for _, b := range branchIDs {
		if b != "" {
			a.pending[b] = struct{}{}
		}
	}
	if len(a.pending) == 0 {
		return
	}
	if a.debounce <= 0 || a.stopped {
		a.Flush()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.debounce, func() { a.exec(a.fire) })
	}
}

func (a *Aggregator) fire() {
	a.timer = nil
	a.Flush()
}

// Flush recomputes every pending branch and returns how many broadcasts it made.
func (a *Aggregator) Flush() int {
	branches := a.Pending()
	a.pending = make(map[string]struct{})
	n := 0
	for _, b := range branches {
		if _, changed := a.Recompute(b); changed {
			n++
		}
	}
	return n
}

// Pending returns the branches waiting for recomputation, sorted.
func (a *Aggregator) Pending() []string {
	out := make([]string, 0, len(a.pending))
	for b := range a.pending {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Stop cancels the pending timer. Later requests are recomputed inline.
func (a *Aggregator) Stop() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.stopped = true
}
