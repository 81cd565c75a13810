package replication

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

func TestMemberRemoved_CoordinatorAnnouncesPlayerLeft(t *testing.T) {
	tr := &recorder{}
	b := newBridge(t, testConfig("a"), tr, Options{})
	join(t, b, PolicyCreatorSays, "a", true)
	f := &feeder{t: t, b: b}
	f.must("a", newPlayer("a", 0))
	f.must("b", newPlayer("b", 40))

	b.OnMemberJoined(CreateGroupMember("b", []byte(`{"name":"bob"}`)))
	require.Equal(t, "bob", b.Group().Member("b").Hello.Name)
	require.NoError(t, b.OnMemberStatusChanged("b", StatusActive))
	require.Equal(t, 2, b.Group().ActiveCount())

	require.NoError(t, b.OnMemberStatusChanged("b", StatusRemoved))
	require.Len(t, tr.requests, 1)
	left := tr.requests[0].(protocol.PlayerLeft)
	require.Equal(t, "b", left.PlayerID)
	require.Equal(t, int64(40), left.Timestamp)

	// Repeated removal is not announced twice.
	require.NoError(t, b.OnMemberStatusChanged("b", StatusRemoved))
	require.Len(t, tr.requests, 1)
}

func TestMemberRemoved_OthersStayQuiet(t *testing.T) {
	tr := &recorder{}
	b := newBridge(t, testConfig("c"), tr, Options{})
	join(t, b, PolicyCreatorSays, "a", true)
	f := &feeder{t: t, b: b}
	f.must("b", newPlayer("b", 0))

	require.NoError(t, b.OnMemberStatusChanged("b", StatusRemoved))
	require.Empty(t, tr.requests)
}

func TestMemberRemoved_NewLeaderAnnouncesOldLeader(t *testing.T) {
	tr := &recorder{}
	b := newBridge(t, testConfig("b"), tr, Options{})
	require.NoError(t, b.JoinGroup(GroupInfo{ID: "g1", Policy: PolicyLeaderSays, CreatorID: "a", LeaderID: "a", Fresh: true}, nil))
	f := &feeder{t: t, b: b}
	f.must("a", newPlayer("a", 0))

	require.NoError(t, b.OnMemberStatusChanged("a", StatusRemoved))
	require.Empty(t, tr.requests)

	b.SetLeader("b")
	require.Equal(t, "b", b.Group().LeaderID)
	require.Equal(t, []protocol.Kind{protocol.KindPlayerLeft}, tr.kinds())
	require.Equal(t, "a", tr.requests[0].(protocol.PlayerLeft).PlayerID)
}

func TestMemberStatus_SelfOnlyHonorsRemoval(t *testing.T) {
	b := newBridge(t, testConfig("a"), &recorder{}, Options{})
	join(t, b, PolicyCreatorSays, "a", true)

	require.NoError(t, b.OnMemberStatusChanged("a", StatusSyncing))
	require.Equal(t, StatusActive, b.Status())

	require.NoError(t, b.OnMemberStatusChanged("a", StatusRemoved))
	require.Equal(t, StatusRemoved, b.Status())
	require.Nil(t, b.Group())
	require.ErrorIs(t, b.OnMemberStatusChanged("x", StatusActive), ErrNoGroup)
}

func TestMemberStatus_BadTransition(t *testing.T) {
	b := newBridge(t, testConfig("a"), &recorder{}, Options{})
	join(t, b, PolicyCreatorSays, "a", true)
	require.NoError(t, b.OnMemberStatusChanged("b", StatusRemoved))
	require.ErrorIs(t, b.OnMemberStatusChanged("b", StatusActive), ErrBadTransition)
}

func TestMemberMissing_StillCounted(t *testing.T) {
	m := newCounters()
	b := newBridge(t, testConfig("a"), &recorder{}, Options{Metrics: m})
	join(t, b, PolicyTrustedObservers, "a", true)
	require.NoError(t, b.OnMemberStatusChanged("b", StatusActive))

	require.NoError(t, b.OnMemberMissing("b"))
	require.True(t, b.Group().Member("b").Missing)
	require.Equal(t, 2, b.Group().ActiveCount())
	require.Equal(t, 2, m.members["active"])

	require.NoError(t, b.OnMemberReturned("b"))
	require.False(t, b.Group().Member("b").Missing)
	require.ErrorIs(t, b.OnMemberMissing("zed"), ErrNotMember)
}
