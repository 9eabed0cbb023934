package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/registry"
	"github.com/tillu/branchbus/server/internal/router"
)

// --- helpers ---

type sink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *sink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

// events returns the decoded domain events received, optionally filtered by kind.
func (s *sink) events(t *testing.T, kinds ...events.Kind) []events.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, f := range s.frames {
		e, err := events.Decode(f)
		if err != nil {
			continue
		}
		if len(kinds) > 0 && !contains(kinds, e.Kind()) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func contains(kinds []events.Kind, k events.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func newBus(t *testing.T) *Bus {
	t.Helper()
	b := New(Config{})
	b.Start(context.Background())
	t.Cleanup(b.Stop)
	return b
}

func connect(t *testing.T, b *Bus, id, branch string, role events.Role) *sink {
	t.Helper()
	s := &sink{}
	if err := b.Attach(id, s); err != nil {
		t.Fatalf("Attach %s: %v", id, err)
	}
	if _, err := b.Join(id, registry.Identity{BranchID: branch, Role: role}); err != nil {
		t.Fatalf("Join %s: %v", id, err)
	}
	return s
}

func publish(t *testing.T, b *Bus, e events.Event) router.Result {
	t.Helper()
	res, err := b.Publish(e)
	if err != nil {
		t.Fatalf("Publish %s: %v", e.Kind(), err)
	}
	return res
}

// --- scenarios ---

func TestScenario_RoleScopedAndOrderedDelivery(t *testing.T) {
	b := newBus(t)
	a := connect(t, b, "A", "store-1", events.RoleKitchen)
	m := connect(t, b, "B", "store-1", events.RoleManager)

	publish(t, b, events.New("store-1", events.KitchenUpdated{QueueLength: 3}))
	if got := len(a.events(t, events.KindKitchenUpdated)); got != 1 {
		t.Errorf("A kitchen-updated: got %d, want 1", got)
	}
	if got := len(m.events(t, events.KindKitchenUpdated)); got != 0 {
		t.Errorf("B kitchen-updated: got %d, want 0", got)
	}

	publish(t, b, events.New("store-1", events.OrderUpdated{OrderID: "o1", Status: "confirmed"}))
	publish(t, b, events.New("store-1", events.OrderUpdated{OrderID: "o1", Status: "preparing"}))

	for name, s := range map[string]*sink{"A": a, "B": m} {
		got := s.events(t, events.KindOrderUpdated)
		if len(got) != 2 {
			t.Fatalf("%s order-updated: got %d, want 2", name, len(got))
		}
		first := got[0].Payload.(events.OrderUpdated)
		second := got[1].Payload.(events.OrderUpdated)
		if first.Status != "confirmed" || second.Status != "preparing" {
			t.Errorf("%s order: got %q then %q", name, first.Status, second.Status)
		}
		if got[0].Sequence >= got[1].Sequence {
			t.Errorf("%s sequences not increasing: %d then %d", name, got[0].Sequence, got[1].Sequence)
		}
	}
}

func TestScenario_DisconnectEmptiesRole(t *testing.T) {
	b := newBus(t)
	connect(t, b, "A", "store-1", events.RoleKitchen)
	m := connect(t, b, "B", "store-1", events.RoleManager)

	b.Disconnect("A")
	b.FlushPresence()

	if got := b.Presence("store-1").PerRole[events.RoleKitchen]; got != 0 {
		t.Errorf("kitchen presence: got %d, want 0", got)
	}
	metrics := m.events(t, events.KindBranchMetrics)
	if len(metrics) == 0 {
		t.Fatal("B received no branch-metrics")
	}
	last := metrics[len(metrics)-1].Payload.(events.BranchMetrics)
	if last.ActiveUsers != 1 || last.PerRoleCounts[events.RoleKitchen] != 0 {
		t.Errorf("last metrics: got %+v", last)
	}

	res := publish(t, b, events.New("store-1", events.KitchenUpdated{QueueLength: 1}))
	if res.Outcome != router.NoTargets {
		t.Errorf("Outcome: got %v, want no_targets", res.Outcome)
	}
}

// --- properties ---

func TestDisconnect_RemovesFromEveryChannel(t *testing.T) {
	b := newBus(t)
	s := &sink{}
	b.Attach("c1", s)
	res, err := b.Join("c1", registry.Identity{BranchID: "b1", Role: events.RoleCustomer, UserID: "cust"})
	if err != nil {
		t.Fatal(err)
	}
	b.Disconnect("c1")
	b.Disconnect("c1")

	for _, ch := range res.Channels {
		for _, id := range b.MembersOf(ch) {
			if id == "c1" {
				t.Errorf("c1 still member of %s", ch)
			}
		}
	}
	if _, ok := b.Connection("c1"); ok {
		t.Error("connection still registered")
	}
	if b.Attached() != 0 {
		t.Errorf("Attached: got %d, want 0", b.Attached())
	}
}

func TestJoin_RequiresAttach(t *testing.T) {
	b := newBus(t)
	_, err := b.Join("ghost", registry.Identity{BranchID: "b1", Role: events.RoleCashier})
	if !errors.Is(err, router.ErrUnknownConnection) {
		t.Fatalf("got %v, want ErrUnknownConnection", err)
	}
}

func TestAttach_Duplicate(t *testing.T) {
	b := newBus(t)
	b.Attach("c1", &sink{})
	if err := b.Attach("c1", &sink{}); !errors.Is(err, registry.ErrDuplicateConnection) {
		t.Fatalf("got %v, want ErrDuplicateConnection", err)
	}
}

func TestJoin_InvalidIdentity(t *testing.T) {
	b := newBus(t)
	b.Attach("c1", &sink{})
	_, err := b.Join("c1", registry.Identity{Role: events.RoleCashier})
	if !errors.Is(err, registry.ErrInvalidIdentity) {
		t.Fatalf("got %v, want ErrInvalidIdentity", err)
	}
}

func TestJoin_SwitchBranch(t *testing.T) {
	b := newBus(t)
	connect(t, b, "c1", "b1", events.RoleCashier)

	res, err := b.Join("c1", registry.Identity{BranchID: "b2", Role: events.RoleCashier})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Left) != 2 || len(res.Joined) != 2 {
		t.Errorf("left=%v joined=%v, want 2 each", res.Left, res.Joined)
	}
	if n := len(b.MembersOf(events.BranchChannel("b1"))); n != 0 {
		t.Errorf("b1 members: got %d, want 0", n)
	}
	if got := b.Presence("b1").ActiveUsers; got != 0 {
		t.Errorf("b1 presence: got %d, want 0", got)
	}
	if got := b.Presence("b2").ActiveUsers; got != 1 {
		t.Errorf("b2 presence: got %d, want 1", got)
	}
}

func TestJoin_ReportsPresence(t *testing.T) {
	b := newBus(t)
	connect(t, b, "c1", "b1", events.RoleCashier)
	s := &sink{}
	b.Attach("c2", s)
	res, err := b.Join("c2", registry.Identity{BranchID: "b1", Role: events.RoleKitchen})
	if err != nil {
		t.Fatal(err)
	}
	if res.Presence.ActiveUsers != 2 {
		t.Errorf("Presence.ActiveUsers: got %d, want 2", res.Presence.ActiveUsers)
	}
	// The joining connection is already in the branch channel when the
	// presence broadcast goes out.
	if len(s.events(t, events.KindBranchMetrics)) != 1 {
		t.Error("joining connection did not receive branch-metrics")
	}
}

func TestLeave_KeepsTransport(t *testing.T) {
	b := newBus(t)
	connect(t, b, "c1", "b1", events.RoleCashier)

	if _, ok := b.Leave("c1", "other"); ok {
		t.Error("Leave with wrong branch: got true")
	}
	id, ok := b.Leave("c1", "b1")
	if !ok || id.BranchID != "b1" {
		t.Fatalf("Leave: got %+v, %v", id, ok)
	}
	if len(b.ChannelsOf("c1")) != 0 {
		t.Errorf("ChannelsOf after Leave: %v", b.ChannelsOf("c1"))
	}
	if err := b.Send("c1", []byte(`{"event":"pong"}`)); err != nil {
		t.Errorf("Send after Leave: %v", err)
	}
	if _, err := b.Join("c1", registry.Identity{BranchID: "b1", Role: events.RoleCashier}); err != nil {
		t.Errorf("rejoin: %v", err)
	}
}

func TestReconnect_Counted(t *testing.T) {
	b := newBus(t)
	b.Attach("c1", &sink{})
	b.Join("c1", registry.Identity{BranchID: "b1", Role: events.RoleCashier, UserID: "u1"})
	b.Disconnect("c1")

	b.Attach("c2", &sink{})
	res, err := b.Join("c2", registry.Identity{BranchID: "b1", Role: events.RoleCashier, UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Connection.Reconnected {
		t.Error("Reconnected: got false, want true")
	}
	if got := b.Stats().Reconnects; got != 1 {
		t.Errorf("Stats.Reconnects: got %d, want 1", got)
	}
}

func TestPresence_DebouncedThroughLock(t *testing.T) {
	b := New(Config{PresenceDebounce: 20 * time.Millisecond})
	b.Start(context.Background())
	t.Cleanup(b.Stop)

	m := connect(t, b, "m", "b1", events.RoleManager)
	connect(t, b, "k", "b1", events.RoleKitchen)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := m.events(t, events.KindBranchMetrics)
		if len(got) > 0 {
			last := got[len(got)-1].Payload.(events.BranchMetrics)
			if last.ActiveUsers == 2 {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("debounced presence never reached ActiveUsers=2")
}

func TestConcurrentJoinPublishDisconnect(t *testing.T) {
	b := newBus(t)
	var wg sync.WaitGroup
	ids := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			b.Attach(id, &sink{})
			b.Join(id, registry.Identity{BranchID: "b1", Role: events.RoleCashier})
			b.Publish(events.New("b1", events.OrderUpdated{OrderID: "o1", Status: "new"}))
			b.Disconnect(id)
		}(id)
	}
	wg.Wait()
	b.FlushPresence()

	if got := b.Presence("b1").ActiveUsers; got != 0 {
		t.Errorf("presence after all disconnects: got %d, want 0", got)
	}
	if n := len(b.MembersOf(events.BranchChannel("b1"))); n != 0 {
		t.Errorf("members after all disconnects: %d", n)
	}
}

func TestStats(t *testing.T) {
	b := newBus(t)
	connect(t, b, "c1", "b1", events.RoleCashier)
	publish(t, b, events.New("b1", events.SystemAlert{Title: "t", Message: "m"}))

	s := b.Stats()
	if s.Connections != 1 || s.Attached != 1 {
		t.Errorf("Connections/Attached: got %d/%d", s.Connections, s.Attached)
	}
	if s.Router.Published[events.KindSystemAlert] != 1 {
		t.Errorf("Published[system-alert]: got %d", s.Router.Published[events.KindSystemAlert])
	}
	if len(s.Presence) != 1 || s.Presence[0].BranchID != "b1" {
		t.Errorf("Presence: got %+v", s.Presence)
	}
}

func TestPublishToConnection_Unicast(t *testing.T) {
	b := newBus(t)
	c1 := connect(t, b, "c1", "b1", events.RoleCashier)
	c2 := connect(t, b, "c2", "b1", events.RoleCashier)

	res, err := b.PublishToConnection("c1", events.New("b1", events.StaffNotification{Message: "see me"}))
	if err != nil {
		t.Fatalf("PublishToConnection: %v", err)
	}
	if res.Outcome != router.Delivered || res.Delivered != 1 || len(res.Targets) != 1 || res.Targets[0] != "c1" {
		t.Errorf("result: got %+v", res)
	}
	if res.Event.Sequence == 0 {
		t.Error("unicast event was not sequenced")
	}

	got := c1.events(t, events.KindStaffNotification)
	if len(got) != 1 || got[0].Sequence != res.Event.Sequence {
		t.Errorf("c1 received %+v, want one notification with sequence %d", got, res.Event.Sequence)
	}
	if n := len(c2.events(t, events.KindStaffNotification)); n != 0 {
		t.Errorf("c2 received %d notifications, want 0", n)
	}
}

func TestPublishToConnection_UnknownConnection(t *testing.T) {
	b := newBus(t)
	e := events.New("b1", events.StaffNotification{Message: "m"})

	if _, err := b.PublishToConnection("ghost", e); !errors.Is(err, router.ErrUnknownConnection) {
		t.Errorf("unknown id: got %v, want ErrUnknownConnection", err)
	}

	connect(t, b, "c1", "b1", events.RoleCashier)
	b.Disconnect("c1")
	if _, err := b.PublishToConnection("c1", e); !errors.Is(err, router.ErrUnknownConnection) {
		t.Errorf("after Disconnect: got %v, want ErrUnknownConnection", err)
	}
}

func TestPublish_UserChannel(t *testing.T) {
	b := newBus(t)
	u := &sink{}
	b.Attach("c1", u)
	if _, err := b.Join("c1", registry.Identity{BranchID: "b1", Role: events.RoleKitchen, UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	other := connect(t, b, "c2", "b1", events.RoleKitchen)

	res := publish(t, b, events.New("b1", events.StaffNotification{Message: "your break", TargetUserID: "u1"}))
	if res.Channel != events.UserChannel("u1") || res.Delivered != 1 {
		t.Errorf("result: got channel %q delivered %d", res.Channel, res.Delivered)
	}
	if n := len(u.events(t, events.KindStaffNotification)); n != 1 {
		t.Errorf("addressed user received %d, want 1", n)
	}
	if n := len(other.events(t, events.KindStaffNotification)); n != 0 {
		t.Errorf("other kitchen connection received %d, want 0", n)
	}
}

func TestLeave_RejoinIsNotReconnect(t *testing.T) {
	b := newBus(t)
	b.Attach("c1", &sink{})
	identity := registry.Identity{BranchID: "b1", Role: events.RoleCashier, UserID: "u1"}
	if _, err := b.Join("c1", identity); err != nil {
		t.Fatal(err)
	}
	b.Leave("c1", "b1")

	res, err := b.Join("c1", identity)
	if err != nil {
		t.Fatal(err)
	}
	if res.Connection.Reconnected {
		t.Error("rejoin on the same socket flagged as reconnect")
	}
	if got := b.Stats().Reconnects; got != 0 {
		t.Errorf("Stats.Reconnects: got %d, want 0", got)
	}
}
