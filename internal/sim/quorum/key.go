package quorum

import (
	"fmt"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

// KeyOf returns the candidate key for a votable observation. Two observations
// with the same key describe the same event even when incidental fields, such
// as the timestamp or score updates, differ between observers.
func KeyOf(m protocol.Msg) (string, bool) {
	switch v := m.(type) {
	case protocol.CellClaim:
		return fmt.Sprintf("claim:%d:%d:%s", v.X, v.Z, v.BikeID), true
	case protocol.CellHit:
		return fmt.Sprintf("hit:%d:%d:%s", v.X, v.Z, v.BikeID), true
	case protocol.CellRemoved:
		return fmt.Sprintf("removed:%d:%d", v.X, v.Z), true
	case protocol.BikeRemove:
		return "remove:" + v.BikeID, true
	}
	return "", false
}
