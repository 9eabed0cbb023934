package rooms

import (
	"sort"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/registry"
)

// ChannelsFor returns the channels a connection with identity id belongs to:
// its branch, its role within the branch and, when known, its user.
func ChannelsFor(id registry.Identity) []events.Channel {
	if id.BranchID == "" {
		return nil
	}
	chs := []events.Channel{
		events.BranchChannel(id.BranchID),
		events.RoleChannel(id.BranchID, id.Role),
	}
	if id.UserID != "" {
		chs = append(chs, events.UserChannel(id.UserID))
	}
	return chs
}

type set map[string]struct{}

// Multiplexer is a two-way index between channels and connection ids.
// Channels that lose their last member keep an empty record until Compact.
type Multiplexer struct {
	members  map[events.Channel]set
	channels map[string]map[events.Channel]struct{}
}

// New returns an empty Multiplexer.
func New() *Multiplexer {
	return &Multiplexer{
		members:  make(map[events.Channel]set),
		channels: make(map[string]map[events.Channel]struct{}),
	}
}

// Join adds id to ch. It reports false when id was already a member.
func (m *Multiplexer) Join(id string, ch events.Channel) bool {
	mem, ok := m.members[ch]
	if !ok {
		mem = make(set)
		m.members[ch] = mem
	}
	if _, in := mem[id]; in {
		return false
	}
	mem[id] = struct{}{}

	chs, ok := m.channels[id]
	if !ok {
		chs = make(map[events.Channel]struct{})
		m.channels[id] = chs
	}
	chs[ch] = struct{}{}
	return true
}

// Leave removes id from ch. It reports false when id was not a member.
func (m *Multiplexer) Leave(id string, ch events.Channel) bool {
	mem, ok := m.members[ch]
	if !ok {
		return false
	}
	if _, in := mem[id]; !in {
		return false
	}
	delete(mem, id)

	if chs, ok := m.channels[id]; ok {
		delete(chs, ch)
		if len(chs) == 0 {
			delete(m.channels, id)
		}
	}
	return true
}

// LeaveAll removes id from every channel and returns them, sorted.
func (m *Multiplexer) LeaveAll(id string) []events.Channel {
	left := m.ChannelsOf(id)
	for _, ch := range left {
		m.Leave(id, ch)
	}
	return left
}

// Sync makes the membership of id equal ChannelsFor(identity) and returns the
// channels joined and left.
func (m *Multiplexer) Sync(id string, identity registry.Identity) (joined, left []events.Channel) {
	want := make(map[events.Channel]struct{})
	for _, ch := range ChannelsFor(identity) {
		want[ch] = struct{}{}
	}
	for _, ch := range m.ChannelsOf(id) {
		if _, keep := want[ch]; !keep {
			m.Leave(id, ch)
			left = append(left, ch)
		}
	}
	for _, ch := range ChannelsFor(identity) {
		if m.Join(id, ch) {
			joined = append(joined, ch)
		}
	}
	return joined, left
}

// MembersOf returns the connection ids in ch, sorted.
func (m *Multiplexer) MembersOf(ch events.Channel) []string {
	mem := m.members[ch]
	out := make([]string, 0, len(mem))
	for id := range mem {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ChannelsOf returns the channels id is in, sorted.
func (m *Multiplexer) ChannelsOf(id string) []events.Channel {
	chs := m.channels[id]
	out := make([]events.Channel, 0, len(chs))
	for ch := range chs {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size returns the number of members of ch.
func (m *Multiplexer) Size(ch events.Channel) int { return len(m.members[ch]) }

// Channels returns the number of channel records, including empty ones.
func (m *Multiplexer) Channels() int { return len(m.members) }

// Compact drops empty channel records and returns how many were removed.
func (m *Multiplexer) Compact() int {
	removed := 0
	for ch, mem := range m.members {
		if len(mem) == 0 {
			delete(m.members, ch)
			removed++
		}
	}
	return removed
}
