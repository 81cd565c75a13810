package replication

import "github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"

// Scoring turns claims and hits into score deltas keyed by bike id. The
// deltas travel inside the observation, so every peer applies the numbers the
// observer computed.
type Scoring struct {
	StartScore    int
	ClaimCost     int
	HitPenalty    int
	FriendlyBonus int
}

func (s Scoring) ClaimUpdates(claimer *world.Bike) map[string]int {
	if s.ClaimCost == 0 {
		return nil
	}
	return map[string]int{claimer.ID: -s.ClaimCost}
}

// HitUpdates scores hitter crossing a cell claimed by owner. owner may be nil
// when the claiming bike is already gone.
func (s Scoring) HitUpdates(hitter, owner *world.Bike) map[string]int {
	out := map[string]int{}
	switch {
	case owner != nil && (owner.ID == hitter.ID || owner.Team == hitter.Team):
		if s.FriendlyBonus != 0 {
			out[hitter.ID] = s.FriendlyBonus
		}
	case owner != nil:
		out[hitter.ID] = -s.HitPenalty
		out[owner.ID] = s.HitPenalty
	default:
		out[hitter.ID] = -s.HitPenalty
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
