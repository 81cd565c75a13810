package replication

import (
	"fmt"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/quorum"
)

const (
	PolicyCreatorSays      = "creator-says"
	PolicyLeaderSays       = "leader-says"
	PolicySinglePeer       = "single-peer"
	PolicyTrustedObservers = "trusted-observers"
)

// Policy decides who may turn an observation into a command. It is chosen
// once, when the group is created.
type Policy struct {
	Name string
	// Quorum is set for policies where every member observes and votes.
	Quorum bool
	// Threshold applies when Quorum is set.
	Threshold quorum.Threshold

	authority func(g *Group) string
}

// PolicyByName returns the named policy. threshold is only used by
// trusted-observers; nil means majority.
func PolicyByName(name string, threshold quorum.Threshold) (Policy, error) {
	switch name {
	case PolicyCreatorSays, "":
		return Policy{Name: PolicyCreatorSays, authority: func(g *Group) string { return g.CreatorID }}, nil
	case PolicyLeaderSays:
		return Policy{Name: PolicyLeaderSays, authority: func(g *Group) string { return g.LeaderID }}, nil
	case PolicySinglePeer:
		// The group has one member; whoever that is decides.
		return Policy{Name: PolicySinglePeer, authority: func(g *Group) string { return g.CreatorID }}, nil
	case PolicyTrustedObservers:
		if threshold == nil {
			threshold = quorum.Majority
		}
		return Policy{Name: PolicyTrustedObservers, Quorum: true, Threshold: threshold}, nil
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// Authority is the single peer allowed to emit, or "" under a quorum policy.
func (p Policy) Authority(g *Group) string {
	if p.Quorum || p.authority == nil {
		return ""
	}
	return p.authority(g)
}

// MayEmit reports whether self may send observations at all. Under a quorum
// policy every active member may; otherwise only the authority.
func (p Policy) MayEmit(g *Group, self string) bool {
	if p.Quorum {
		m := g.Member(self)
		return m != nil && m.Status == StatusActive
	}
	return p.Authority(g) == self
}

// ClockAuthority reports whether self runs the live clock: ticks the world
// from wall time and reports what it sees. Other peers only advance through
// catch-up when commands arrive.
func (p Policy) ClockAuthority(g *Group, self string) bool {
	return p.MayEmit(g, self)
}

// Coordinator is the peer that speaks for the group about membership, such as
// announcing that a departed member's player left.
func (p Policy) Coordinator(g *Group) string {
	if a := p.Authority(g); a != "" {
		return a
	}
	return g.LeaderID
}
