package registry

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/store"
)

func cashier(branch, user string) Identity {
	return Identity{Role: events.RoleCashier, BranchID: branch, UserID: user}
}

func TestRegister(t *testing.T) {
	r := New(nil)
	c, err := r.Register("c1", cashier("b1", "u1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !c.Live {
		t.Error("Live: got false, want true")
	}
	if c.ConnectedAt.IsZero() {
		t.Error("ConnectedAt not set")
	}
	got, ok := r.Find("c1")
	if !ok || got.Identity != cashier("b1", "u1") {
		t.Errorf("Find: got %+v, %v", got, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Count: got %d, want 1", r.Count())
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := New(nil)
	if _, err := r.Register("c1", cashier("b1", "")); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register("c1", cashier("b2", ""))
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("got %v, want ErrDuplicateConnection", err)
	}
	if c, _ := r.Find("c1"); c.Identity.BranchID != "b1" {
		t.Errorf("duplicate register overwrote identity: %+v", c.Identity)
	}
}

func TestRegister_InvalidIdentity(t *testing.T) {
	r := New(nil)
	cases := []Identity{
		{Role: events.RoleCashier},
		{Role: "chef", BranchID: "b1"},
	}
	for _, id := range cases {
		if _, err := r.Register("c", id); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("Register(%+v): got %v, want ErrInvalidIdentity", id, err)
		}
	}
	if _, err := r.Register("", cashier("b1", "")); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("Register with empty id: got %v", err)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New(nil)
	r.Register("c1", cashier("b1", "u1"))

	id, ok := r.Unregister("c1")
	if !ok || id.BranchID != "b1" {
		t.Fatalf("Unregister: got %+v, %v", id, ok)
	}
	if _, ok := r.Unregister("c1"); ok {
		t.Error("second Unregister: got true, want false")
	}
	if _, ok := r.Find("c1"); ok {
		t.Error("Find after Unregister: still present")
	}
}

func TestUpdateIdentity(t *testing.T) {
	r := New(nil)
	r.Register("c1", cashier("b1", "u1"))

	branch := "b2"
	role := events.RoleManager
	old, updated, err := r.UpdateIdentity("c1", Patch{BranchID: &branch, Role: &role})
	if err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}
	if old.BranchID != "b1" || updated.BranchID != "b2" || updated.Role != events.RoleManager {
		t.Errorf("got old=%+v new=%+v", old, updated)
	}
	if updated.UserID != "u1" {
		t.Errorf("UserID: got %q, want u1 (untouched)", updated.UserID)
	}
}

func TestUpdateIdentity_Unknown(t *testing.T) {
	r := New(nil)
	_, _, err := r.UpdateIdentity("ghost", Patch{})
	if !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("got %v, want ErrUnknownConnection", err)
	}
}

func TestUpdateIdentity_InvalidKeepsOld(t *testing.T) {
	r := New(nil)
	r.Register("c1", cashier("b1", ""))
	empty := ""
	if _, _, err := r.UpdateIdentity("c1", Patch{BranchID: &empty}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("got %v, want ErrInvalidIdentity", err)
	}
	if c, _ := r.Find("c1"); c.Identity.BranchID != "b1" {
		t.Errorf("identity changed after failed update: %+v", c.Identity)
	}
}

func TestOnChange_ReportsBranches(t *testing.T) {
	r := New(nil)
	var got [][]string
	r.OnChange(func(b ...string) { got = append(got, b) })

	r.Register("c1", cashier("b1", ""))
	branch := "b2"
	r.UpdateIdentity("c1", Patch{BranchID: &branch})
	r.Unregister("c1")
	r.Unregister("c1")

	want := [][]string{{"b1"}, {"b1", "b2"}, {"b2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changes: got %v, want %v", got, want)
	}
}

func TestBranch_SortedAndScoped(t *testing.T) {
	r := New(nil)
	r.Register("c3", cashier("b1", ""))
	r.Register("c1", Identity{Role: events.RoleKitchen, BranchID: "b1"})
	r.Register("c2", cashier("b2", ""))

	conns := r.Branch("b1")
	if len(conns) != 2 || conns[0].ID != "c1" || conns[1].ID != "c3" {
		t.Errorf("Branch(b1): got %+v", conns)
	}
	if got := r.Branches(); !reflect.DeepEqual(got, []string{"b1", "b2"}) {
		t.Errorf("Branches: got %v", got)
	}
	if len(r.All()) != 3 {
		t.Errorf("All: got %d, want 3", len(r.All()))
	}
}

func TestRegister_DetectsReconnect(t *testing.T) {
	deps := store.New(2 * time.Minute)
	r := New(deps)

	r.Register("c1", cashier("b1", "u1"))
	r.Depart("c1")

	c, err := r.Register("c2", cashier("b1", "u1"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Reconnected {
		t.Error("Reconnected: got false, want true")
	}
	if r.Reconnects() != 1 {
		t.Errorf("Reconnects: got %d, want 1", r.Reconnects())
	}

	c, _ = r.Register("c3", cashier("b1", "u2"))
	if c.Reconnected {
		t.Error("first-time user flagged as reconnect")
	}
}

func TestUnregister_IsNotADeparture(t *testing.T) {
	deps := store.New(2 * time.Minute)
	r := New(deps)

	r.Register("c1", cashier("b1", "u1"))
	r.Unregister("c1")

	c, err := r.Register("c1", cashier("b1", "u1"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Reconnected {
		t.Error("rejoin after Unregister flagged as reconnect")
	}
	if r.Reconnects() != 0 {
		t.Errorf("Reconnects: got %d, want 0", r.Reconnects())
	}
	if deps.Count() != 0 {
		t.Errorf("departures recorded: got %d, want 0", deps.Count())
	}
}

func TestDepart_Idempotent(t *testing.T) {
	r := New(store.New(time.Minute))
	r.Register("c1", cashier("b1", "u1"))

	if id, ok := r.Depart("c1"); !ok || id.UserID != "u1" {
		t.Fatalf("Depart: got %+v, %v", id, ok)
	}
	if _, ok := r.Depart("c1"); ok {
		t.Error("second Depart: got true, want false")
	}
}
