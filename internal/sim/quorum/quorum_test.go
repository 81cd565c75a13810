package quorum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

func TestAddVote_MajorityOfFive(t *testing.T) {
	tl := New(Majority, 0)

	require.False(t, tl.AddVote("k", "a", 5))
	require.False(t, tl.AddVote("k", "b", 5))
	require.Equal(t, 2, tl.Count("k"))
	// Repeat voter does not count.
	require.False(t, tl.AddVote("k", "a", 5))
	require.Equal(t, 2, tl.Count("k"))

	require.True(t, tl.AddVote("k", "c", 5))
	require.True(t, tl.Decided("k"))

	// Late votes after quorum are absorbed.
	require.False(t, tl.AddVote("k", "d", 5))
	require.False(t, tl.AddVote("k", "e", 5))
	require.Empty(t, tl.Pending())
}

func TestAddVote_SameKeyLaterEvent(t *testing.T) {
	tl := New(Majority, 10000)
	for _, v := range []string{"a", "b", "c"} {
		tl.AddVote("k", v, 5)
	}
	require.True(t, tl.Decided("k"))
	require.False(t, tl.AddVote("k", "d", 5))

	// a and b were counted for the first event; their next votes are for a
	// second one.
	require.False(t, tl.AddVote("k", "a", 5))
	require.False(t, tl.AddVote("k", "b", 5))
	require.Equal(t, 2, tl.Count("k"))
	require.False(t, tl.AddVote("k", "e", 5), "e has not voted on the first event yet")
	require.True(t, tl.AddVote("k", "d", 5))

	// c and e still owe their vote on the second event.
	require.False(t, tl.AddVote("k", "c", 5))
	require.False(t, tl.AddVote("k", "e", 5))
	require.Empty(t, tl.Pending())
}

func TestAddVote_TwoOfFiveNeverPromotes(t *testing.T) {
	tl := New(Majority, 0)
	require.False(t, tl.AddVote("k", "a", 5))
	for i := 0; i < 10; i++ {
		require.False(t, tl.AddVote("k", "b", 5))
	}
	require.Equal(t, []string{"k"}, tl.Pending())
}

func TestAddVote_KeysIndependent(t *testing.T) {
	tl := New(Majority, 0)
	require.False(t, tl.AddVote("x", "a", 3))
	require.False(t, tl.AddVote("y", "a", 3))
	require.True(t, tl.AddVote("x", "b", 3))
	require.Equal(t, 1, tl.Count("y"))
}

func TestThresholds(t *testing.T) {
	cases := []struct {
		name  string
		th    Threshold
		total int
		want  int
	}{
		{"majority 1", Majority, 1, 1},
		{"majority 4", Majority, 4, 3},
		{"majority 5", Majority, 5, 3},
		{"supermajority 3", Supermajority, 3, 3},
		{"supermajority 6", Supermajority, 6, 5},
		{"unanimous 4", Unanimous, 4, 4},
		{"unanimous 0", Unanimous, 0, 1},
		{"fixed 2 of 5", Fixed(2), 5, 2},
		{"fixed 4 of 2", Fixed(4), 2, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.th(tc.total))
		})
	}
}

func TestParseRule(t *testing.T) {
	th, err := ParseRule("majority")
	require.NoError(t, err)
	require.Equal(t, 3, th(5))

	th, err = ParseRule("fixed:2")
	require.NoError(t, err)
	require.Equal(t, 2, th(9))

	th, err = ParseRule("")
	require.NoError(t, err)
	require.Equal(t, 2, th(2))

	_, err = ParseRule("plurality")
	require.Error(t, err)
}

func TestPrune_DropsStaleRecords(t *testing.T) {
	tl := New(Majority, 1000)
	tl.SetTime(100)
	require.False(t, tl.AddVote("old", "a", 5))
	tl.SetTime(900)
	require.False(t, tl.AddVote("new", "a", 5))

	tl.SetTime(1200)
	require.Equal(t, []string{"new"}, tl.Pending())
	require.Equal(t, 0, tl.Count("old"))

	// A fresh vote for the pruned key starts over.
	require.False(t, tl.AddVote("old", "b", 5))
	require.Equal(t, 1, tl.Count("old"))
}

func TestPrune_ForgetsDecidedKeys(t *testing.T) {
	tl := New(Majority, 500)
	require.True(t, tl.AddVote("k", "a", 1))
	require.True(t, tl.Decided("k"))
	tl.SetTime(501)
	require.False(t, tl.Decided("k"))
}

func TestReset(t *testing.T) {
	tl := New(Majority, 0)
	tl.AddVote("a", "p1", 5)
	tl.AddVote("b", "p1", 1)
	tl.Reset()
	require.Empty(t, tl.Pending())
	require.False(t, tl.Decided("b"))
}

func TestKeyOf(t *testing.T) {
	a := protocol.CellClaim{Stamp: protocol.At(10), BikeID: "b1", X: 1, Z: 2, ScoreUpdates: map[string]int{"b1": -1}}
	b := protocol.CellClaim{Stamp: protocol.At(12), BikeID: "b1", X: 1, Z: 2}
	ka, ok := KeyOf(a)
	require.True(t, ok)
	kb, _ := KeyOf(b)
	require.Equal(t, ka, kb)

	kh, _ := KeyOf(protocol.CellHit{BikeID: "b1", X: 1, Z: 2})
	require.NotEqual(t, ka, kh)

	kr, ok := KeyOf(protocol.CellRemoved{X: 1, Z: 2})
	require.True(t, ok)
	require.Equal(t, "removed:1:2", kr)

	_, ok = KeyOf(protocol.NewPlayer{PlayerID: "p"})
	require.False(t, ok)
}
