package world

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

const checkpointVersion = 1

var ErrBadCheckpoint = errors.New("bad checkpoint payload")

// The checkpoint payload is a msgpack array: [base, peers, bikes, claims].
// Peers and bikes are sorted by id; claims by (expiration, position hash).
// Bikes reference their owner by index into peers and claims reference their
// bike by index into bikes, so equal states always encode to equal bytes.

type checkpointV1 struct {
	_msgpack struct{} `msgpack:",as_array"`

	Base   baseV1
	Peers  []peerV1
	Bikes  []bikeV1
	Claims []claimV1
}

type baseV1 struct {
	_msgpack struct{} `msgpack:",as_array"`

	Version   int
	Timestamp int64
}

type peerV1 struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID   string
	Name string
}

type bikeV1 struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID           string
	PeerIdx      int
	Name         string
	Team         int
	Score        int
	CtrlType     string
	X            float64
	Z            float64
	Heading      int
	EntryHeading int
	BaseTime     int64
	Speed        float64
}

type claimV1 struct {
	_msgpack struct{} `msgpack:",as_array"`

	X        int
	Z        int
	BikeIdx  int
	ExpireAt int64
}

// Serialize renders the canonical checkpoint payload at logical time ts.
// Claims expiring at or before ts, and claims whose bike is gone, are local
// clean-up lag and are left out.
func (w *World) Serialize(ts int64) ([]byte, error) {
	players := w.Players()
	peerIdx := make(map[string]int, len(players))
	cp := checkpointV1{
		Base:  baseV1{Version: checkpointVersion, Timestamp: ts},
		Peers: make([]peerV1, 0, len(players)),
	}
	for i, p := range players {
		peerIdx[p.ID] = i
		cp.Peers = append(cp.Peers, peerV1{ID: p.ID, Name: p.Name})
	}

	bikes := w.Bikes()
	bikeIdx := make(map[string]int, len(bikes))
	cp.Bikes = make([]bikeV1, 0, len(bikes))
	for i, b := range bikes {
		bikeIdx[b.ID] = i
		pi, ok := peerIdx[b.OwnerID]
		if !ok {
			pi = -1
		}
		cp.Bikes = append(cp.Bikes, bikeV1{
			ID:           b.ID,
			PeerIdx:      pi,
			Name:         b.Name,
			Team:         b.Team,
			Score:        b.Score,
			CtrlType:     b.CtrlType,
			X:            b.BasePos.X,
			Z:            b.BasePos.Z,
			Heading:      int(b.BaseHeading),
			EntryHeading: int(b.EntryHeading),
			BaseTime:     b.BaseTime,
			Speed:        b.Speed,
		})
	}

	claims := w.Claims()
	cp.Claims = make([]claimV1, 0, len(claims))
	for _, c := range claims {
		if c.ExpireAt <= ts {
			continue
		}
		bi, ok := bikeIdx[c.BikeID]
		if !ok {
			continue
		}
		cp.Claims = append(cp.Claims, claimV1{X: c.X, Z: c.Z, BikeIdx: bi, ExpireAt: c.ExpireAt})
	}

	b, err := msgpack.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return b, nil
}

// Deserialize replaces the world state with the payload. On error the world is
// left untouched. It returns the payload's logical timestamp, which becomes
// the world's current time.
func (w *World) Deserialize(data []byte) (int64, error) {
	var cp checkpointV1
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	if cp.Base.Version != checkpointVersion {
		return 0, fmt.Errorf("%w: version %d", ErrBadCheckpoint, cp.Base.Version)
	}
	ts := cp.Base.Timestamp

	players := make(map[string]*Player, len(cp.Peers))
	for _, p := range cp.Peers {
		if _, dup := players[p.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate player %s", ErrBadCheckpoint, p.ID)
		}
		players[p.ID] = &Player{ID: p.ID, Name: p.Name}
	}

	bikes := make(map[string]*Bike, len(cp.Bikes))
	for _, bv := range cp.Bikes {
		owner := ""
		if bv.PeerIdx >= 0 {
			if bv.PeerIdx >= len(cp.Peers) {
				return 0, fmt.Errorf("%w: bike %s peer index %d", ErrBadCheckpoint, bv.ID, bv.PeerIdx)
			}
			owner = cp.Peers[bv.PeerIdx].ID
		}
		if _, dup := bikes[bv.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate bike %s", ErrBadCheckpoint, bv.ID)
		}
		b := &Bike{
			ID:           bv.ID,
			OwnerID:      owner,
			Name:         bv.Name,
			Team:         bv.Team,
			Score:        bv.Score,
			CtrlType:     bv.CtrlType,
			BasePos:      Vec2{X: bv.X, Z: bv.Z},
			BaseHeading:  protocol.Heading(bv.Heading),
			EntryHeading: protocol.Heading(bv.EntryHeading),
			BaseTime:     bv.BaseTime,
			Speed:        bv.Speed,
			lastTick:     ts,
		}
		b.Pos, b.Heading = b.PositionAt(ts)
		bikes[b.ID] = b
	}

	claims := make(map[int64]*Claim, len(cp.Claims))
	for _, cv := range cp.Claims {
		if cv.BikeIdx < 0 || cv.BikeIdx >= len(cp.Bikes) {
			return 0, fmt.Errorf("%w: claim (%d,%d) bike index %d", ErrBadCheckpoint, cv.X, cv.Z, cv.BikeIdx)
		}
		h := PosHash(cv.X, cv.Z)
		if _, dup := claims[h]; dup {
			return 0, fmt.Errorf("%w: duplicate claim (%d,%d)", ErrBadCheckpoint, cv.X, cv.Z)
		}
		claims[h] = &Claim{X: cv.X, Z: cv.Z, BikeID: cp.Bikes[cv.BikeIdx].ID, ExpireAt: cv.ExpireAt}
	}

	w.players, w.bikes, w.claims = players, bikes, claims
	w.pending = PendingRemovals{}
	w.now = ts
	return ts, nil
}

// Summary counts what a payload holds without loading it.
type Summary struct {
	Timestamp int64
	Players   int
	Bikes     int
	Claims    int
}

func Summarize(data []byte) (Summary, error) {
	var cp checkpointV1
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	return Summary{
		Timestamp: cp.Base.Timestamp,
		Players:   len(cp.Peers),
		Bikes:     len(cp.Bikes),
		Claims:    len(cp.Claims),
	}, nil
}

// SortedKeys is used by handlers that must apply map-shaped updates in a
// deterministic order.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
