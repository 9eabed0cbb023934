package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tillu/branchbus/pkg/events"
)

func dep(branch, user string) Departure {
	return Departure{BranchID: branch, UserID: user, Role: events.RoleCashier, ConnectionID: "c-" + user}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndTake(t *testing.T) {
	st := New(2 * time.Minute)
	st.Put(dep("b1", "u1"))

	d, ok := st.Take("b1", "u1")
	if !ok {
		t.Fatal("Take: expected departure, got none")
	}
	if d.ConnectionID != "c-u1" {
		t.Errorf("ConnectionID: got %q, want c-u1", d.ConnectionID)
	}
	if d.LeftAt.IsZero() {
		t.Error("LeftAt: expected Put to stamp the time")
	}
	if _, ok := st.Take("b1", "u1"); ok {
		t.Error("Take: second call should find nothing")
	}
}

func TestTake_OtherBranch(t *testing.T) {
	st := New(2 * time.Minute)
	st.Put(dep("b1", "u1"))
	if _, ok := st.Take("b2", "u1"); ok {
		t.Fatal("Take: same user in another branch must not match")
	}
}

func TestPut_IgnoresAnonymous(t *testing.T) {
	st := New(2 * time.Minute)
	st.Put(dep("b1", ""))
	if n := st.Count(); n != 0 {
		t.Errorf("Count: got %d, want 0", n)
	}
	if _, ok := st.Take("b1", ""); ok {
		t.Error("Take with empty user: expected false")
	}
}

func TestTake_ExpiredOutsideWindow(t *testing.T) {
	base := time.Now()
	st := New(2 * time.Minute)

	st.now = fixedClock(base.Add(-5 * time.Minute))
	st.Put(dep("b1", "u1"))

	st.now = fixedClock(base)
	if _, ok := st.Take("b1", "u1"); ok {
		t.Fatal("Take: departure outside the window should not match")
	}
	if n := st.Count(); n != 0 {
		t.Errorf("Count after expired Take: got %d, want 0", n)
	}
}

func TestEvict_RemovesExpired(t *testing.T) {
	base := time.Now()
	st := New(2 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(dep("b1", "old1"))
	st.Put(dep("b1", "old2"))

	st.now = fixedClock(base)
	st.Put(dep("b1", "live"))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(2 * time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Put(dep("b1", "u"))
		}()
		go func() {
			defer wg.Done()
			st.Take("b1", "u")
		}()
	}
	wg.Wait()
}
