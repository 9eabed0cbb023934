package rooms

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/registry"
)

func ident(branch string, role events.Role, user string) registry.Identity {
	return registry.Identity{BranchID: branch, Role: role, UserID: user}
}

func TestChannelsFor(t *testing.T) {
	got := ChannelsFor(ident("store-1", events.RoleKitchen, ""))
	want := []events.Channel{"branch:store-1", "branch:store-1:role:kitchen"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("without user: got %v, want %v", got, want)
	}

	got = ChannelsFor(ident("store-1", events.RoleCustomer, "cust-9"))
	want = append(want[:1:1], "branch:store-1:role:customer", "user:cust-9")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("with user: got %v, want %v", got, want)
	}

	if got := ChannelsFor(registry.Identity{}); len(got) != 0 {
		t.Errorf("empty identity: got %v, want none", got)
	}
}

func TestJoinLeave(t *testing.T) {
	m := New()
	ch := events.BranchChannel("b1")

	if !m.Join("c1", ch) {
		t.Error("first Join: got false")
	}
	if m.Join("c1", ch) {
		t.Error("repeated Join: got true")
	}
	m.Join("c2", ch)

	if got := m.MembersOf(ch); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Errorf("MembersOf: got %v", got)
	}
	if !m.Leave("c1", ch) {
		t.Error("Leave: got false")
	}
	if m.Leave("c1", ch) {
		t.Error("repeated Leave: got true")
	}
	if m.Leave("c1", "nowhere") {
		t.Error("Leave unknown channel: got true")
	}
	if got := m.MembersOf(ch); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Errorf("MembersOf after leave: got %v", got)
	}
}

func TestLeaveAll(t *testing.T) {
	m := New()
	m.Sync("c1", ident("b1", events.RoleManager, "u1"))

	left := m.LeaveAll("c1")
	if len(left) != 3 {
		t.Fatalf("LeaveAll: got %v, want 3 channels", left)
	}
	for _, ch := range left {
		for _, id := range m.MembersOf(ch) {
			if id == "c1" {
				t.Errorf("c1 still in %s", ch)
			}
		}
	}
	if got := m.ChannelsOf("c1"); len(got) != 0 {
		t.Errorf("ChannelsOf after LeaveAll: got %v", got)
	}
}

func TestSync_SwitchBranch(t *testing.T) {
	m := New()
	m.Sync("c1", ident("b1", events.RoleCashier, "u1"))

	joined, left := m.Sync("c1", ident("b2", events.RoleCashier, "u1"))
	wantJoined := []events.Channel{"branch:b2", "branch:b2:role:cashier"}
	wantLeft := []events.Channel{"branch:b1", "branch:b1:role:cashier"}
	if !reflect.DeepEqual(joined, wantJoined) {
		t.Errorf("joined: got %v, want %v", joined, wantJoined)
	}
	if !reflect.DeepEqual(left, wantLeft) {
		t.Errorf("left: got %v, want %v", left, wantLeft)
	}
	if m.Size("branch:b1") != 0 {
		t.Errorf("branch:b1 size: got %d, want 0", m.Size("branch:b1"))
	}
}

func TestSync_NoChange(t *testing.T) {
	m := New()
	id := ident("b1", events.RoleKitchen, "")
	m.Sync("c1", id)
	joined, left := m.Sync("c1", id)
	if len(joined) != 0 || len(left) != 0 {
		t.Errorf("got joined=%v left=%v, want none", joined, left)
	}
}

// Membership after any series of identity changes equals ChannelsFor of the
// final identity.
func TestSync_MatchesChannelsFor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	branches := []string{"b1", "b2", "b3"}
	users := []string{"", "u1", "u2"}
	m := New()

	var last registry.Identity
	for i := 0; i < 200; i++ {
		last = ident(
			branches[rng.Intn(len(branches))],
			events.Roles[rng.Intn(len(events.Roles))],
			users[rng.Intn(len(users))],
		)
		m.Sync("c1", last)
		if rng.Intn(5) == 0 {
			// Stray manual joins must be repaired by the next Sync.
			m.Join("c1", events.BranchChannel("stray"))
			m.Sync("c1", last)
		}
	}

	want := ChannelsFor(last)
	got := m.ChannelsOf("c1")
	if len(got) != len(want) {
		t.Fatalf("ChannelsOf: got %v, want %v", got, want)
	}
	wantSet := make(map[events.Channel]bool)
	for _, ch := range want {
		wantSet[ch] = true
	}
	for _, ch := range got {
		if !wantSet[ch] {
			t.Errorf("unexpected channel %s", ch)
		}
	}
}

func TestCompact(t *testing.T) {
	m := New()
	m.Join("c1", "branch:b1")
	m.Join("c2", "branch:b2")
	m.Leave("c1", "branch:b1")

	if m.Channels() != 2 {
		t.Errorf("Channels before compact: got %d, want 2 (empty records kept)", m.Channels())
	}
	if n := m.Compact(); n != 1 {
		t.Errorf("Compact: removed %d, want 1", n)
	}
	if m.Channels() != 1 {
		t.Errorf("Channels after compact: got %d, want 1", m.Channels())
	}
}
