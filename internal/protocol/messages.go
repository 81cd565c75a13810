package protocol

// NewPlayer announces a peer's player.
type NewPlayer struct {
	Stamp
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// PlayerLeft removes a player and, by cascade, its bikes and their claims.
type PlayerLeft struct {
	Stamp
	PlayerID string `json:"player_id"`
}

// BikeCreate announces a bike. A nil Score means the group's starting score
// and a nil BaseTime means the command's timestamp; zero is a real value for
// both.
type BikeCreate struct {
	Stamp
	BikeID   string  `json:"bike_id"`
	OwnerID  string  `json:"owner_id"`
	Name     string  `json:"name"`
	Team     int     `json:"team"`
	Score    *int    `json:"score,omitempty"`
	CtrlType string  `json:"ctrl_type"`
	BaseTime *int64  `json:"base_time,omitempty"`
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	Heading  Heading `json:"heading"`
}

type BikeRemove struct {
	Stamp
	BikeID string `json:"bike_id"`
}

// BikeState is the requesting peer's view of a bike at the message timestamp.
type BikeState struct {
	X       float64 `json:"x"`
	Z       float64 `json:"z"`
	Heading Heading `json:"heading"`
	Speed   float64 `json:"speed"`
}

// BikeTurn schedules a turn at grid point (NextX, NextZ).
type BikeTurn struct {
	Stamp
	BikeID       string     `json:"bike_id"`
	OwnerID      string     `json:"owner_id"`
	Dir          TurnDir    `json:"dir"`
	EntryHeading Heading    `json:"entry_heading"`
	NextX        int        `json:"next_x"`
	NextZ        int        `json:"next_z"`
	Snapshot     *BikeState `json:"snapshot,omitempty"`
}

type BikeCommand struct {
	Stamp
	BikeID  string  `json:"bike_id"`
	OwnerID string  `json:"owner_id"`
	Cmd     BikeCmd `json:"cmd"`
	NextX   int     `json:"next_x"`
	NextZ   int     `json:"next_z"`
}

// CellClaim records a bike claiming the cell it just crossed.
type CellClaim struct {
	Stamp
	BikeID       string         `json:"bike_id"`
	OwnerID      string         `json:"owner_id"`
	X            int            `json:"x"`
	Z            int            `json:"z"`
	EntryHeading Heading        `json:"entry_heading"`
	ExitHeading  Heading        `json:"exit_heading"`
	ScoreUpdates map[string]int `json:"score_updates,omitempty"`
}

// CellHit records a bike crossing a cell already claimed by someone.
type CellHit struct {
	Stamp
	BikeID       string         `json:"bike_id"`
	OwnerID      string         `json:"owner_id"`
	X            int            `json:"x"`
	Z            int            `json:"z"`
	EntryHeading Heading        `json:"entry_heading"`
	ExitHeading  Heading        `json:"exit_heading"`
	ScoreUpdates map[string]int `json:"score_updates,omitempty"`
}

// CellRemoved frees a cell whose claim expired.
type CellRemoved struct {
	Stamp
	X int `json:"x"`
	Z int `json:"z"`
}

// Checkpoint is the convergence report a peer publishes after checkpointing.
type Checkpoint struct {
	Stamp
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

func (NewPlayer) Kind() Kind   { return KindNewPlayer }
func (PlayerLeft) Kind() Kind  { return KindPlayerLeft }
func (BikeCreate) Kind() Kind  { return KindBikeCreate }
func (BikeRemove) Kind() Kind  { return KindBikeRemove }
func (BikeTurn) Kind() Kind    { return KindBikeTurn }
func (BikeCommand) Kind() Kind { return KindBikeCommand }
func (CellClaim) Kind() Kind   { return KindCellClaim }
func (CellHit) Kind() Kind     { return KindCellHit }
func (CellRemoved) Kind() Kind { return KindCellRemoved }
func (Checkpoint) Kind() Kind  { return KindCheckpoint }
