package world

import "sort"

// PendingRemovals is the removal batch for a single command application.
// Nothing in it takes effect until World.CommitRemovals.
type PendingRemovals struct {
	Players []string
	Bikes   []string
	Claims  []*Claim
}

func (p *PendingRemovals) Empty() bool {
	return len(p.Players) == 0 && len(p.Bikes) == 0 && len(p.Claims) == 0
}

// Removed is what CommitRemovals actually deleted, cascades included.
type Removed struct {
	Players []string
	Bikes   []string
	Claims  []Claim
}

func (r Removed) Empty() bool {
	return len(r.Players) == 0 && len(r.Bikes) == 0 && len(r.Claims) == 0
}

// RemovePlayer marks a player for removal. Its bikes, and their claims, go
// with it on commit.
func (w *World) RemovePlayer(id string) bool {
	if _, ok := w.players[id]; !ok {
		return false
	}
	w.pending.Players = append(w.pending.Players, id)
	return true
}

// RemoveBike marks a bike, and on commit every claim it owns, for removal.
func (w *World) RemoveBike(id string) bool {
	if _, ok := w.bikes[id]; !ok {
		return false
	}
	w.pending.Bikes = append(w.pending.Bikes, id)
	return true
}

// RemoveClaim marks the claim on cell (x,z) for removal.
func (w *World) RemoveClaim(x, z int) bool {
	c, ok := w.claims[PosHash(x, z)]
	if !ok {
		return false
	}
	w.pending.Claims = append(w.pending.Claims, c)
	return true
}

// Pending exposes the current batch (read only).
func (w *World) Pending() PendingRemovals { return w.pending }

// CommitRemovals applies the pending batch. It must run exactly once per
// top-level command application, after all handler logic.
func (w *World) CommitRemovals() Removed {
	batch := w.pending
	w.pending = PendingRemovals{}
	if batch.Empty() {
		return Removed{}
	}

	players := map[string]bool{}
	for _, id := range batch.Players {
		if _, ok := w.players[id]; ok {
			players[id] = true
		}
	}
	bikes := map[string]bool{}
	for _, id := range batch.Bikes {
		if _, ok := w.bikes[id]; ok {
			bikes[id] = true
		}
	}
	if len(players) > 0 {
		for id, b := range w.bikes {
			if players[b.OwnerID] {
				bikes[id] = true
			}
		}
	}
	claims := map[int64]*Claim{}
	for _, c := range batch.Claims {
		// The cell may have been re-claimed since the claim was posted.
		if cur, ok := w.claims[c.Hash()]; ok && cur == c {
			claims[c.Hash()] = c
		}
	}
	if len(bikes) > 0 {
		for h, c := range w.claims {
			if bikes[c.BikeID] {
				claims[h] = c
			}
		}
	}

	var out Removed
	for h, c := range claims {
		out.Claims = append(out.Claims, *c)
		delete(w.claims, h)
	}
	for id := range bikes {
		out.Bikes = append(out.Bikes, id)
		delete(w.bikes, id)
	}
	for id := range players {
		out.Players = append(out.Players, id)
		delete(w.players, id)
	}
	sort.Strings(out.Players)
	sort.Strings(out.Bikes)
	sortClaims(out.Claims)
	return out
}
