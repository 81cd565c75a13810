package world

import (
	"math"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

// Bike is a mobile entity owned by a player.
//
// Kinematic state is (BasePos, BaseHeading, EntryHeading, BaseTime, Speed).
// After BaseTime the bike travels from BasePos along BaseHeading; before
// BaseTime it is approaching BasePos along EntryHeading. Position is a pure
// function of that state and a logical time, never of wall-clock deltas.
type Bike struct {
	ID       string
	OwnerID  string
	Name     string
	Team     int
	Score    int
	CtrlType string

	BasePos      Vec2
	BaseHeading  protocol.Heading
	EntryHeading protocol.Heading
	BaseTime     int64
	Speed        float64

	// Derived by Tick; not part of the replicated state.
	Pos      Vec2
	Heading  protocol.Heading
	lastTick int64
}

// PositionAt evaluates the bike's kinematic state at logical time t (ms).
func (b *Bike) PositionAt(t int64) (Vec2, protocol.Heading) {
	dt := float64(t-b.BaseTime) / 1000
	if dt >= 0 {
		return b.BasePos.Add(HeadingVec(b.BaseHeading).Scale(b.Speed * dt)), b.BaseHeading
	}
	return b.BasePos.Add(HeadingVec(b.EntryHeading).Scale(b.Speed * dt)), b.EntryHeading
}

// rebase moves the kinematic anchor. lastTick is pulled forward so a crossing
// that produced this rebase is not reported a second time.
func (b *Bike) rebase(pos Vec2, entry, exit protocol.Heading, t int64) {
	b.BasePos = pos
	b.EntryHeading = entry
	b.BaseHeading = exit
	b.BaseTime = t
	if b.lastTick < t {
		b.lastTick = t
	}
}

// Crossing is reported by Tick when a bike passes a grid point.
type Crossing struct {
	BikeID       string
	OwnerID      string
	X            int
	Z            int
	EntryHeading protocol.Heading
	ExitHeading  protocol.Heading
	Time         int64
}

type segment struct {
	from, to int64
	heading  protocol.Heading
}

// advance refreshes the derived position and returns grid points crossed in
// (lastTick, now].
func (b *Bike) advance(w *World, now int64) []Crossing {
	t0 := b.lastTick
	b.Pos, b.Heading = b.PositionAt(now)
	if now <= t0 {
		return nil
	}
	b.lastTick = now
	if b.Speed <= 0 {
		return nil
	}

	var segs []segment
	if t0 < b.BaseTime {
		segs = append(segs, segment{from: t0, to: min(now, b.BaseTime), heading: b.EntryHeading})
	}
	if now > b.BaseTime {
		segs = append(segs, segment{from: max(t0, b.BaseTime), to: now, heading: b.BaseHeading})
	}

	var out []Crossing
	for _, s := range segs {
		out = w.appendCrossings(out, b, s)
	}
	return out
}

func (w *World) appendCrossings(out []Crossing, b *Bike, s segment) []Crossing {
	g := w.cfg.GridSize
	p0, _ := b.PositionAt(s.from)
	p1 := p0.Add(HeadingVec(s.heading).Scale(b.Speed * float64(s.to-s.from) / 1000))

	c0 := p0.Along(s.heading) / g
	c1 := p1.Along(s.heading) / g
	first := math.Floor(c0+gridEps) + 1
	last := math.Floor(c1 + gridEps)
	for k := first; k <= last; k++ {
		dist := (k - c0) * g
		pt := p0.Add(HeadingVec(s.heading).Scale(dist))
		t := s.from + int64(math.Round(dist/b.Speed*1000))
		if t <= s.from {
			continue
		}
		x, z := w.CellAt(pt)
		exit := s.heading
		if s.to == b.BaseTime && w.CellPos(x, z).Near(b.BasePos) {
			exit = b.BaseHeading
		}
		out = append(out, Crossing{
			BikeID:       b.ID,
			OwnerID:      b.OwnerID,
			X:            x,
			Z:            z,
			EntryHeading: s.heading,
			ExitHeading:  exit,
			Time:         t,
		})
	}
	return out
}
