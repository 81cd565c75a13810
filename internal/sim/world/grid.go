package world

import (
	"math"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

// gridEps absorbs float drift when snapping positions onto grid lines.
const gridEps = 1e-6

type Vec2 struct {
	X float64
	Z float64
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Z: v.Z + o.Z} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{X: v.X - o.X, Z: v.Z - o.Z} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{X: v.X * s, Z: v.Z * s} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Z*o.Z }

func (v Vec2) Near(o Vec2) bool {
	return math.Abs(v.X-o.X) < gridEps && math.Abs(v.Z-o.Z) < gridEps
}

// Along is the signed distance of v along heading h.
func (v Vec2) Along(h protocol.Heading) float64 { return v.Dot(HeadingVec(h)) }

// HeadingVec is the unit vector for h: North is +Z, East is +X.
func HeadingVec(h protocol.Heading) Vec2 {
	switch h {
	case protocol.North:
		return Vec2{Z: 1}
	case protocol.East:
		return Vec2{X: 1}
	case protocol.South:
		return Vec2{Z: -1}
	case protocol.West:
		return Vec2{X: -1}
	}
	return Vec2{}
}

// PosHash is the identity of cell (x,z). It is collision free for 32-bit
// indices.
func PosHash(x, z int) int64 {
	return int64(int32(x))<<32 | int64(uint32(int32(z)))
}

// CellPos returns the world position of grid point (x,z).
func (w *World) CellPos(x, z int) Vec2 {
	g := w.cfg.GridSize
	return Vec2{X: float64(x) * g, Z: float64(z) * g}
}

// CellAt returns the grid point nearest to p.
func (w *World) CellAt(p Vec2) (x, z int) {
	g := w.cfg.GridSize
	return int(math.Round(p.X / g)), int(math.Round(p.Z / g))
}

// NextCell returns the first grid point strictly ahead of p along h.
func (w *World) NextCell(p Vec2, h protocol.Heading) (x, z int) {
	g := w.cfg.GridSize
	x, z = w.CellAt(p)
	c := p.Along(h) / g
	next := math.Floor(c+gridEps) + 1
	switch h {
	case protocol.North:
		z = int(next)
	case protocol.South:
		z = -int(next)
	case protocol.East:
		x = int(next)
	case protocol.West:
		x = -int(next)
	}
	return x, z
}
