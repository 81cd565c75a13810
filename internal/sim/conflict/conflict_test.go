package conflict

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

func claim(bike string, x, z int) protocol.CellClaim {
	return protocol.CellClaim{Stamp: protocol.At(100), BikeID: bike, X: x, Z: z}
}

func hit(bike string, x, z int) protocol.CellHit {
	return protocol.CellHit{Stamp: protocol.At(100), BikeID: bike, X: x, Z: z}
}

func TestValidate_Table(t *testing.T) {
	cases := []struct {
		name string
		prev protocol.Msg
		cand protocol.Msg
		want Result
	}{
		{"claim then claim same cell", claim("A", 0, 1), claim("B", 0, 1), Invalidated},
		{"claim then claim other cell", claim("A", 0, 1), claim("B", 0, 2), Unaffected},
		{"hit then claim same cell", hit("A", 0, 1), claim("B", 0, 1), Invalidated},
		{"hit then claim other cell", hit("A", 0, 1), claim("B", 1, 1), Unaffected},
		{"bike removed then its claim", protocol.BikeRemove{BikeID: "A"}, claim("A", 3, 3), Invalidated},
		{"bike removed then other claim", protocol.BikeRemove{BikeID: "A"}, claim("B", 3, 3), Unaffected},
		{"cell freed then claim", protocol.CellRemoved{X: 2, Z: 2}, claim("B", 2, 2), Validated},
		{"cell freed then claim elsewhere", protocol.CellRemoved{X: 2, Z: 2}, claim("B", 2, 3), Unaffected},
		{"cell freed then hit", protocol.CellRemoved{X: 2, Z: 2}, hit("B", 2, 2), Invalidated},
		{"bike removed then its hit", protocol.BikeRemove{BikeID: "A"}, hit("A", 5, 5), Invalidated},
		{"claim then hit same cell", claim("A", 4, 4), hit("B", 4, 4), Validated},
		{"claim then hit other cell", claim("A", 4, 4), hit("B", 4, 5), Unaffected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := Validate(tc.prev, tc.cand)
			require.Equal(t, tc.want, got)
			if got != Unaffected {
				require.NotEmpty(t, reason)
			}
		})
	}
}

func TestValidate_Directional(t *testing.T) {
	// Hit after claim is valid; claim after hit is not.
	r, _ := Validate(claim("A", 0, 0), hit("B", 0, 0))
	require.Equal(t, Validated, r)
	r, _ = Validate(hit("B", 0, 0), claim("A", 0, 0))
	require.Equal(t, Invalidated, r)

	// Claim after CellRemoved is covered; the reverse is not.
	require.True(t, HasRule(protocol.KindCellRemoved, protocol.KindCellClaim))
	require.False(t, HasRule(protocol.KindCellClaim, protocol.KindCellRemoved))
}

func TestValidate_UndefinedPairsUnaffected(t *testing.T) {
	pairs := [][2]protocol.Msg{
		{protocol.NewPlayer{PlayerID: "p"}, claim("A", 0, 0)},
		{claim("A", 0, 0), protocol.CellRemoved{X: 0, Z: 0}},
		{hit("A", 0, 0), hit("B", 0, 0)},
		{protocol.BikeTurn{BikeID: "A"}, protocol.BikeRemove{BikeID: "A"}},
		{nil, claim("A", 0, 0)},
	}
	for _, p := range pairs {
		r, reason := Validate(p[0], p[1])
		require.Equal(t, Unaffected, r)
		require.Empty(t, reason)
	}
}
