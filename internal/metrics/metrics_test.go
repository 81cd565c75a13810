package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.CommandApplied("CellClaim")
	c.CommandApplied("CellClaim")
	c.CommandSkipped("BikeTurn", "unknown_bike")
	c.Vote(false)
	c.Vote(true)
	c.Desync()
	c.Members("active", 3)

	require.Equal(t, 2.0, promtest.ToFloat64(c.commands.WithLabelValues("CellClaim")))
	require.Equal(t, 1.0, promtest.ToFloat64(c.desyncs))

	expected := `
# HELP beam_group_members Group members by status.
# TYPE beam_group_members gauge
beam_group_members{status="active"} 3
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "beam_group_members"))
}

func TestRelay(t *testing.T) {
	r := NewRelay()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(r))

	r.Sequenced("CellClaim")
	r.Rejected("E_RATE_LIMIT")
	r.Rejected("E_RATE_LIMIT")
	r.Peers(2)

	require.Equal(t, 2.0, promtest.ToFloat64(r.rejected.WithLabelValues("E_RATE_LIMIT")))
	expected := `
# HELP beam_relay_peers Connected peers.
# TYPE beam_relay_peers gauge
beam_relay_peers 2
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "beam_relay_peers"))
}
