package protocol

import "encoding/json"

const Version = "1.0"

// Kind tags a replicated payload.
type Kind string

const (
	KindNewPlayer   Kind = "NewPlayer"
	KindPlayerLeft  Kind = "PlayerLeft"
	KindBikeCreate  Kind = "BikeCreate"
	KindBikeRemove  Kind = "BikeRemove"
	KindBikeTurn    Kind = "BikeTurn"
	KindBikeCommand Kind = "BikeCommand"
	KindCellClaim   Kind = "CellClaim"
	KindCellHit     Kind = "CellHit"
	KindCellRemoved Kind = "CellRemoved"
	KindCheckpoint  Kind = "Checkpoint"
)

// Kinds lists every defined payload kind in a stable order.
var Kinds = []Kind{
	KindNewPlayer,
	KindPlayerLeft,
	KindBikeCreate,
	KindBikeRemove,
	KindBikeTurn,
	KindBikeCommand,
	KindCellClaim,
	KindCellHit,
	KindCellRemoved,
	KindCheckpoint,
}

// Msg is the closed set of payloads exchanged between peers. A Msg is an
// Observation until the sequencer wraps it in a Command.
type Msg interface {
	Kind() Kind
	Time() int64
	sealed()
}

// Stamp carries the logical timestamp (milliseconds of group time).
type Stamp struct {
	Timestamp int64 `json:"timestamp"`
}

func (s Stamp) Time() int64 { return s.Timestamp }
func (Stamp) sealed()       {}

// At returns a Stamp for the given logical time.
func At(ms int64) Stamp { return Stamp{Timestamp: ms} }

// Ptr returns a pointer to v, for optional payload fields.
func Ptr[T any](v T) *T { return &v }

// Command is a Msg that has been given its place in the global order.
// Seq is assigned once by the sequencer and never revised.
type Command struct {
	Seq    uint64 `json:"seq"`
	Source string `json:"source,omitempty"`
	// Vote marks an observation submitted for quorum tally rather than as an
	// authoritative request.
	Vote bool `json:"vote,omitempty"`
	// Quorum is the voting population the sequencer saw for a vote.
	Quorum int `json:"quorum,omitempty"`
	Msg    Msg `json:"-"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	body, err := Encode(c.Msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Seq    uint64          `json:"seq"`
		Source string          `json:"source,omitempty"`
		Vote   bool            `json:"vote,omitempty"`
		Quorum int             `json:"quorum,omitempty"`
		Msg    json.RawMessage `json:"msg"`
	}{c.Seq, c.Source, c.Vote, c.Quorum, body})
}

func (c *Command) UnmarshalJSON(b []byte) error {
	var raw struct {
		Seq    uint64          `json:"seq"`
		Source string          `json:"source,omitempty"`
		Vote   bool            `json:"vote,omitempty"`
		Quorum int             `json:"quorum,omitempty"`
		Msg    json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m, err := Decode(raw.Msg)
	if err != nil {
		return err
	}
	c.Seq, c.Source, c.Vote, c.Quorum, c.Msg = raw.Seq, raw.Source, raw.Vote, raw.Quorum, m
	return nil
}

// Heading is one of the four grid directions.
type Heading int

const (
	North Heading = iota
	East
	South
	West
)

func (h Heading) Valid() bool { return h >= North && h <= West }

func (h Heading) String() string {
	switch h {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	}
	return "?"
}

// Turn returns the heading after applying dir.
func (h Heading) Turn(dir TurnDir) Heading {
	switch dir {
	case TurnLeft:
		return (h + 3) % 4
	case TurnRight:
		return (h + 1) % 4
	}
	return h
}

// TurnDir is the turn a bike takes at its next grid point.
type TurnDir int

const (
	TurnUnset TurnDir = iota
	TurnStraight
	TurnLeft
	TurnRight
)

// BikeCmd is a player command for a bike.
type BikeCmd int

const (
	CmdStop BikeCmd = iota + 1
	CmdGo
	CmdLeft
	CmdRight
	CmdStraight
)

// TurnDir maps a steering command to a turn; ok is false for Stop/Go.
func (c BikeCmd) TurnDir() (TurnDir, bool) {
	switch c {
	case CmdLeft:
		return TurnLeft, true
	case CmdRight:
		return TurnRight, true
	case CmdStraight:
		return TurnStraight, true
	}
	return TurnUnset, false
}

// Bike control types.
const (
	CtrlLocal  = "LOCAL"
	CtrlRemote = "REMOTE"
	CtrlAI     = "AI"
)
