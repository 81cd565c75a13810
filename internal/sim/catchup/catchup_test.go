package catchup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
)

type recorder struct {
	now   int64
	ticks []int64
}

func (r *recorder) Now() int64 { return r.now }

func (r *recorder) Tick(now int64) world.TickReport {
	r.ticks = append(r.ticks, now)
	r.now = now
	return world.TickReport{}
}

func TestAdvance_FullAndPartialTicks(t *testing.T) {
	r := &recorder{now: 1000}
	res := Advance(r, 1162, 40)

	require.Equal(t, 4, res.FullTicks)
	require.Equal(t, int64(2), res.PartialTick)
	require.Equal(t, []int64{1040, 1080, 1120, 1160, 1162}, r.ticks)
	require.Equal(t, int64(1162), r.Now())
	require.Equal(t, int64(1162), res.To)
}

func TestAdvance_ExactMultiple(t *testing.T) {
	r := &recorder{now: 0}
	res := Advance(r, 120, 40)
	require.Equal(t, 3, res.FullTicks)
	require.Zero(t, res.PartialTick)
	require.Equal(t, []int64{40, 80, 120}, r.ticks)
}

func TestAdvance_NotAhead(t *testing.T) {
	r := &recorder{now: 500}
	res := Advance(r, 500, 40)
	require.Zero(t, res.FullTicks)
	require.Empty(t, r.ticks)

	Advance(r, 100, 40)
	require.Empty(t, r.ticks)
}

func TestAdvance_ShorterThanOneTick(t *testing.T) {
	r := &recorder{now: 10}
	res := Advance(r, 25, 40)
	require.Zero(t, res.FullTicks)
	require.Equal(t, int64(15), res.PartialTick)
	require.Equal(t, []int64{25}, r.ticks)
}

func TestAdvance_WorldsConverge(t *testing.T) {
	build := func() *world.World {
		w := world.New(world.DefaultConfig())
		require.NoError(t, w.AddPlayer(world.Player{ID: "p1"}))
		_, err := w.AddBike(world.Bike{
			ID: "b1", OwnerID: "p1", BaseHeading: protocol.North, EntryHeading: protocol.North,
			Speed: 15,
		})
		require.NoError(t, err)
		w.ClaimCell("b1", 0, 0, 900)
		return w
	}

	live := build()
	var liveRep world.TickReport
	for now := int64(16); now <= 1162; now += 16 {
		liveRep.Merge(live.Tick(now))
	}
	liveRep.Merge(live.Tick(1162))

	lagging := build()
	res := Advance(lagging, 1162, 40)

	require.Equal(t, live.Now(), lagging.Now())
	require.Len(t, res.Report.Expired, 1)
	require.Equal(t, len(liveRep.Crossings), len(res.Report.Crossings))

	a, err := live.Serialize(1162)
	require.NoError(t, err)
	b, err := lagging.Serialize(1162)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
