package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	require.NoError(t, err)

	samples := []protocol.Msg{
		protocol.NewPlayer{Stamp: protocol.At(10), PlayerID: "p1", Name: "alice"},
		protocol.PlayerLeft{Stamp: protocol.At(11), PlayerID: "p1"},
		protocol.BikeCreate{Stamp: protocol.At(12), BikeID: "b1", OwnerID: "p1", Name: "bike", Team: 1, Score: protocol.Ptr(100), CtrlType: protocol.CtrlLocal, BaseTime: protocol.Ptr(int64(12)), X: 0, Z: 0, Heading: protocol.North},
		protocol.BikeRemove{Stamp: protocol.At(13), BikeID: "b1"},
		protocol.BikeTurn{Stamp: protocol.At(14), BikeID: "b1", OwnerID: "p1", Dir: protocol.TurnLeft, EntryHeading: protocol.North, NextX: 0, NextZ: 1,
			Snapshot: &protocol.BikeState{X: 0, Z: 3, Heading: protocol.North, Speed: 15}},
		protocol.BikeCommand{Stamp: protocol.At(15), BikeID: "b1", OwnerID: "p1", Cmd: protocol.CmdStop},
		protocol.CellClaim{Stamp: protocol.At(16), BikeID: "b1", OwnerID: "p1", X: 0, Z: 1, EntryHeading: protocol.North, ExitHeading: protocol.West, ScoreUpdates: map[string]int{"b1": -1}},
		protocol.CellHit{Stamp: protocol.At(17), BikeID: "b2", OwnerID: "p2", X: 0, Z: 1, EntryHeading: protocol.East, ExitHeading: protocol.East},
		protocol.CellRemoved{Stamp: protocol.At(18), X: 0, Z: 1},
		protocol.Checkpoint{Stamp: protocol.At(19), Seq: 200, Hash: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
	}
	for _, m := range samples {
		b, err := protocol.Encode(m)
		require.NoError(t, err)
		require.NoError(t, v.ValidateEnvelope(b), "kind %s", m.Kind())
	}

	bad := [][]byte{
		[]byte(`{"kind":"NewPlayer","timestamp":1}`),
		[]byte(`{"kind":"Nope","timestamp":1}`),
		[]byte(`{"kind":"CellClaim","timestamp":1,"bike_id":"b1","x":0,"z":0,"entry_heading":7,"exit_heading":0}`),
		[]byte(`{"kind":"Checkpoint","timestamp":1,"seq":3,"hash":"xyz"}`),
		[]byte(`{"timestamp":1}`),
		[]byte(`{"kind":"BikeCreate","timestamp":1,"bike_id":"b1","owner_id":"p1","x":0,"z":0,"heading":0,"base_time":-5}`),
	}
	for _, b := range bad {
		require.Error(t, v.ValidateEnvelope(b), string(b))
	}
}
