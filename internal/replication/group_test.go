package replication

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/quorum"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
)

func groupWith(t *testing.T, policy string, members map[string]MemberStatus) *Group {
	t.Helper()
	p, err := PolicyByName(policy, nil)
	require.NoError(t, err)
	g := NewGroup("g1", "a", p)
	for id, st := range members {
		m := CreateGroupMember(id, nil)
		m.Status = st
		g.Add(m)
	}
	return g
}

func TestPolicy_AuthorityAndEmit(t *testing.T) {
	members := map[string]MemberStatus{"a": StatusActive, "b": StatusActive, "c": StatusSyncing}

	g := groupWith(t, PolicyCreatorSays, members)
	require.Equal(t, "a", g.Policy.Authority(g))
	require.True(t, g.Policy.MayEmit(g, "a"))
	require.False(t, g.Policy.MayEmit(g, "b"))

	g = groupWith(t, PolicyLeaderSays, members)
	g.LeaderID = "b"
	require.Equal(t, "b", g.Policy.Coordinator(g))
	require.True(t, g.Policy.MayEmit(g, "b"))
	require.False(t, g.Policy.MayEmit(g, "a"))

	g = groupWith(t, PolicyTrustedObservers, members)
	require.Empty(t, g.Policy.Authority(g))
	require.True(t, g.Policy.MayEmit(g, "a"))
	require.True(t, g.Policy.MayEmit(g, "b"))
	require.False(t, g.Policy.MayEmit(g, "c"), "syncing members do not vote")
	require.False(t, g.Policy.MayEmit(g, "zed"))
	require.Equal(t, "a", g.Policy.Coordinator(g))
	require.Equal(t, 2, g.Policy.Threshold(3))

	g = groupWith(t, PolicySinglePeer, map[string]MemberStatus{"a": StatusActive})
	require.True(t, g.Policy.ClockAuthority(g, "a"))
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("", nil)
	require.NoError(t, err)
	require.Equal(t, PolicyCreatorSays, p.Name)

	p, err = PolicyByName(PolicyTrustedObservers, quorum.Unanimous)
	require.NoError(t, err)
	require.True(t, p.Quorum)
	require.Equal(t, 4, p.Threshold(4))

	_, err = PolicyByName("mob-rule", nil)
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestMemberStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to MemberStatus
		ok       bool
	}{
		{StatusJoining, StatusSyncing, true},
		{StatusJoining, StatusActive, true},
		{StatusSyncing, StatusActive, true},
		{StatusActive, StatusSyncing, true},
		{StatusActive, StatusRemoved, true},
		{StatusSyncing, StatusJoining, false},
		{StatusActive, StatusJoining, false},
		{StatusRemoved, StatusActive, false},
		{StatusRemoved, StatusRemoved, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	for _, st := range []MemberStatus{StatusJoining, StatusSyncing, StatusActive, StatusRemoved} {
		got, err := ParseStatus(st.String())
		require.NoError(t, err)
		require.Equal(t, st, got)
	}
	_, err := ParseStatus("asleep")
	require.Error(t, err)
}

func TestGroup_MembersSortedAndCounted(t *testing.T) {
	g := groupWith(t, PolicyCreatorSays, map[string]MemberStatus{
		"c": StatusActive, "a": StatusActive, "b": StatusSyncing,
	})
	var ids []string
	for _, m := range g.Members() {
		ids = append(ids, m.PeerID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
	require.Equal(t, 2, g.ActiveCount())
	require.Equal(t, map[MemberStatus]int{StatusActive: 2, StatusSyncing: 1}, g.CountByStatus())

	prev, err := g.SetStatus("b", StatusActive)
	require.NoError(t, err)
	require.Equal(t, StatusSyncing, prev)
	_, err = g.SetStatus("nobody", StatusActive)
	require.ErrorIs(t, err, ErrNotMember)
}

func TestCreateGroupMember_Hello(t *testing.T) {
	m := CreateGroupMember("p1", []byte(`{"name":"Ada"}`))
	require.Equal(t, "Ada", m.Hello.Name)
	require.Equal(t, StatusJoining, m.Status)

	m = CreateGroupMember("p2", []byte(`not json`))
	require.Equal(t, "p2", m.Hello.Name)
}

func TestScoring(t *testing.T) {
	s := Scoring{ClaimCost: 10, HitPenalty: 150, FriendlyBonus: 5}
	me := &world.Bike{ID: "b1", Team: 1}
	mate := &world.Bike{ID: "b2", Team: 1}
	enemy := &world.Bike{ID: "b3", Team: 2}

	require.Equal(t, map[string]int{"b1": -10}, s.ClaimUpdates(me))
	require.Equal(t, map[string]int{"b1": 5}, s.HitUpdates(me, mate))
	require.Equal(t, map[string]int{"b1": 5}, s.HitUpdates(me, me))
	require.Equal(t, map[string]int{"b1": -150, "b3": 150}, s.HitUpdates(me, enemy))
	require.Equal(t, map[string]int{"b1": -150}, s.HitUpdates(me, nil))

	s.FriendlyBonus, s.ClaimCost = 0, 0
	require.Nil(t, s.HitUpdates(me, mate))
	require.Nil(t, s.ClaimUpdates(me))
}
