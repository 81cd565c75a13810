package replication

import (
	"encoding/json"
	"fmt"
	"sort"
)

type MemberStatus int

const (
	StatusJoining MemberStatus = iota
	StatusSyncing
	StatusActive
	StatusRemoved
)

func (s MemberStatus) String() string {
	switch s {
	case StatusJoining:
		return "joining"
	case StatusSyncing:
		return "syncing"
	case StatusActive:
		return "active"
	case StatusRemoved:
		return "removed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func ParseStatus(s string) (MemberStatus, error) {
	for _, st := range []MemberStatus{StatusJoining, StatusSyncing, StatusActive, StatusRemoved} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown member status %q", s)
}

// CanTransition reports whether a member may go from s to next.
func (s MemberStatus) CanTransition(next MemberStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusJoining:
		return next == StatusSyncing || next == StatusActive || next == StatusRemoved
	case StatusSyncing:
		return next == StatusActive || next == StatusRemoved
	case StatusActive:
		return next == StatusSyncing || next == StatusRemoved
	}
	return false
}

// Hello is what a peer announces about itself when it joins.
type Hello struct {
	Name string `json:"name"`
}

type Member struct {
	PeerID string
	Status MemberStatus
	// Missing members have dropped their connection but are still counted.
	Missing bool
	Hello   Hello
}

// Group is the local view of group membership.
type Group struct {
	ID        string
	CreatorID string
	LeaderID  string
	Policy    Policy
	// ClockBase is the wall time in ms at which group time was zero.
	ClockBase int64

	members map[string]*Member
}

func NewGroup(id, creator string, policy Policy) *Group {
	return &Group{
		ID:        id,
		CreatorID: creator,
		LeaderID:  creator,
		Policy:    policy,
		members:   map[string]*Member{},
	}
}

// CreateGroupMember builds a member from a peer id and its hello payload. A
// malformed hello is not fatal; the member just has no name.
func CreateGroupMember(peerID string, hello []byte) *Member {
	m := &Member{PeerID: peerID, Status: StatusJoining}
	if len(hello) > 0 {
		_ = json.Unmarshal(hello, &m.Hello)
	}
	if m.Hello.Name == "" {
		m.Hello.Name = peerID
	}
	return m
}

func (g *Group) Add(m *Member) {
	g.members[m.PeerID] = m
}

// Remove forgets a member entirely.
func (g *Group) Remove(id string) {
	delete(g.members, id)
}

func (g *Group) Member(id string) *Member {
	return g.members[id]
}

// SetStatus moves a member to next, rejecting invalid transitions.
func (g *Group) SetStatus(id string, next MemberStatus) (MemberStatus, error) {
	m, ok := g.members[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotMember, id)
	}
	prev := m.Status
	if !prev.CanTransition(next) {
		return prev, fmt.Errorf("%w: %s %s -> %s", ErrBadTransition, id, prev, next)
	}
	m.Status = next
	return prev, nil
}

func (g *Group) SetMissing(id string, missing bool) error {
	m, ok := g.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMember, id)
	}
	m.Missing = missing
	return nil
}

// Members returns copies of all members sorted by peer id.
func (g *Group) Members() []Member {
	out := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// ActiveCount is the quorum population: active members, missing or not.
func (g *Group) ActiveCount() int {
	n := 0
	for _, m := range g.members {
		if m.Status == StatusActive {
			n++
		}
	}
	return n
}

// CountByStatus is used for the member gauge.
func (g *Group) CountByStatus() map[MemberStatus]int {
	out := map[MemberStatus]int{}
	for _, m := range g.members {
		out[m.Status]++
	}
	return out
}
