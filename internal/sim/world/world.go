package world

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

var (
	ErrDuplicatePlayer = errors.New("player already exists")
	ErrDuplicateBike   = errors.New("bike already exists")
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrUnknownBike     = errors.New("unknown bike")
	ErrBadTurn         = errors.New("turn point not ahead of bike")
	ErrStopped         = errors.New("bike is stopped")
)

type Config struct {
	// GridSize is the distance between adjacent grid points.
	GridSize float64
	// BikeSpeed is the default speed in units per second.
	BikeSpeed float64
}

func DefaultConfig() Config {
	return Config{GridSize: 10, BikeSpeed: 15}
}

// World is the replicated state container. It is single-writer: all mutation
// happens inside Tick or inside command dispatch, from one goroutine.
type World struct {
	cfg Config
	now int64

	players map[string]*Player
	bikes   map[string]*Bike
	claims  map[int64]*Claim

	pending PendingRemovals
}

func New(cfg Config) *World {
	if cfg.GridSize <= 0 {
		cfg.GridSize = DefaultConfig().GridSize
	}
	if cfg.BikeSpeed <= 0 {
		cfg.BikeSpeed = DefaultConfig().BikeSpeed
	}
	return &World{
		cfg:     cfg,
		players: map[string]*Player{},
		bikes:   map[string]*Bike{},
		claims:  map[int64]*Claim{},
	}
}

func (w *World) Config() Config { return w.cfg }

// Now is the local simulated time in ms.
func (w *World) Now() int64 { return w.now }

func (w *World) AddPlayer(p Player) error {
	if _, ok := w.players[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlayer, p.ID)
	}
	pp := p
	w.players[p.ID] = &pp
	return nil
}

func (w *World) Player(id string) (Player, bool) {
	p, ok := w.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players returns a copy of all players sorted by id.
func (w *World) Players() []Player {
	out := make([]Player, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddBike inserts a bike. Its owner must exist. A bike whose BaseTime is
// already behind the world clock reports the crossings it missed on the next
// tick.
func (w *World) AddBike(b Bike) (*Bike, error) {
	if _, ok := w.bikes[b.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBike, b.ID)
	}
	if _, ok := w.players[b.OwnerID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, b.OwnerID)
	}
	bb := b
	bb.lastTick = min(bb.BaseTime, w.now)
	bb.Pos, bb.Heading = bb.PositionAt(w.now)
	w.bikes[b.ID] = &bb
	return &bb, nil
}

// Bike returns the live bike; callers inside command handling may mutate it.
func (w *World) Bike(id string) *Bike {
	return w.bikes[id]
}

// Bikes returns copies of all bikes sorted by id.
func (w *World) Bikes() []Bike {
	out := make([]Bike, 0, len(w.bikes))
	for _, id := range w.bikeIDs() {
		out = append(out, *w.bikes[id])
	}
	return out
}

// BikesOf returns the ids of the bikes owned by player, sorted.
func (w *World) BikesOf(player string) []string {
	var out []string
	for _, id := range w.bikeIDs() {
		if w.bikes[id].OwnerID == player {
			out = append(out, id)
		}
	}
	return out
}

func (w *World) bikeIDs() []string {
	ids := make([]string, 0, len(w.bikes))
	for id := range w.bikes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClaimCell claims (x,z) for bike. It returns nil if the cell holds an active
// claim or the bike does not exist; the caller treats nil as a failed claim.
// An expired claim that has not been cleaned up yet is replaced.
func (w *World) ClaimCell(bikeID string, x, z int, expireAt int64) *Claim {
	return w.ClaimCellAt(bikeID, x, z, w.now, expireAt)
}

// ClaimCellAt is ClaimCell with the occupancy check made at logical time at
// rather than the world's current time. Command handlers use the command
// timestamp so the outcome does not depend on how far the local clock ran.
func (w *World) ClaimCellAt(bikeID string, x, z int, at, expireAt int64) *Claim {
	if _, ok := w.bikes[bikeID]; !ok {
		return nil
	}
	h := PosHash(x, z)
	if cur, ok := w.claims[h]; ok && !cur.Expired(at) {
		return nil
	}
	c := &Claim{X: x, Z: z, BikeID: bikeID, ExpireAt: expireAt}
	w.claims[h] = c
	return c
}

// GetClaim returns the claim on (x,z), if any. Expired claims that have not
// been removed yet are still returned.
func (w *World) GetClaim(x, z int) *Claim {
	return w.claims[PosHash(x, z)]
}

// Claims returns copies of all claims sorted by (expiration, position hash).
func (w *World) Claims() []Claim {
	out := make([]Claim, 0, len(w.claims))
	for _, c := range w.claims {
		out = append(out, *c)
	}
	sortClaims(out)
	return out
}

func sortClaims(cs []Claim) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].ExpireAt != cs[j].ExpireAt {
			return cs[i].ExpireAt < cs[j].ExpireAt
		}
		return cs[i].Hash() < cs[j].Hash()
	})
}

// TickReport carries what Tick discovered. Callers turn these into
// observations; Tick itself never changes the maps.
type TickReport struct {
	Crossings []Crossing
	Expired   []Claim
}

func (r *TickReport) Merge(o TickReport) {
	r.Crossings = append(r.Crossings, o.Crossings...)
	r.Expired = append(r.Expired, o.Expired...)
}

func (r TickReport) Empty() bool { return len(r.Crossings) == 0 && len(r.Expired) == 0 }

// Tick advances the world to now. Each claim whose expiration has passed is
// reported once; later ticks do not report it again.
func (w *World) Tick(now int64) TickReport {
	var rep TickReport
	if now < w.now {
		return rep
	}
	for _, id := range w.bikeIDs() {
		rep.Crossings = append(rep.Crossings, w.bikes[id].advance(w, now)...)
	}
	hashes := make([]int64, 0, len(w.claims))
	for h := range w.claims {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	for _, h := range hashes {
		c := w.claims[h]
		if c.timedOut || !c.Expired(now) {
			continue
		}
		c.timedOut = true
		rep.Expired = append(rep.Expired, *c)
	}
	sortClaims(rep.Expired)
	w.now = now
	return rep
}

// Turn schedules dir at grid point (x,z). The bike is re-based at that point
// with BaseTime set to the moment it gets there, so the result does not
// depend on when the command is applied locally. from, if non-nil, is the
// requester's view of the bike at t.
func (w *World) Turn(b *Bike, dir protocol.TurnDir, entry protocol.Heading, x, z int, from *protocol.BikeState, t int64) error {
	pos, heading := b.PositionAt(t)
	if from != nil {
		pos, heading = Vec2{X: from.X, Z: from.Z}, from.Heading
	}
	if heading != entry {
		return fmt.Errorf("%w: heading %s, turn expects %s", ErrBadTurn, heading, entry)
	}
	if b.Speed <= 0 {
		return ErrStopped
	}
	point := w.CellPos(x, z)
	delta := point.Sub(pos)
	dist := delta.Along(heading)
	side := delta.Sub(HeadingVec(heading).Scale(dist))
	if dist < -gridEps || math.Abs(side.X) > gridEps || math.Abs(side.Z) > gridEps {
		return fmt.Errorf("%w: (%d,%d)", ErrBadTurn, x, z)
	}
	arrive := t + int64(math.Round(math.Max(dist, 0)/b.Speed*1000))
	b.BasePos = point
	b.EntryHeading = heading
	b.BaseHeading = heading.Turn(dir)
	b.BaseTime = arrive
	return nil
}

// Stop halts the bike where it is at t.
func (w *World) Stop(b *Bike, t int64) {
	pos, h := b.PositionAt(t)
	b.rebase(pos, h, h, t)
	b.Speed = 0
}

// Go restarts a stopped bike at the default speed.
func (w *World) Go(b *Bike, t int64) {
	if b.Speed > 0 {
		return
	}
	pos, h := b.PositionAt(t)
	b.rebase(pos, h, h, t)
	b.Speed = w.cfg.BikeSpeed
}

// Rebase anchors the bike at grid point (x,z) at time t, leaving along exit.
// Commands older than the current anchor are ignored so a late claim cannot
// undo a turn already scheduled further along the path.
func (w *World) Rebase(b *Bike, x, z int, entry, exit protocol.Heading, t int64) bool {
	if t <= b.BaseTime {
		return false
	}
	b.rebase(w.CellPos(x, z), entry, exit, t)
	return true
}
