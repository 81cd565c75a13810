package protocol

import "encoding/json"

// Relay frame types.
const (
	TypeHello    = "HELLO"
	TypeGroup    = "GROUP"
	TypeMember   = "MEMBER"
	TypeSubmit   = "SUBMIT"
	TypeCommand  = "COMMAND"
	TypeSyncReq  = "SYNC_REQ"
	TypeSyncData = "SYNC_DATA"
	TypeError    = "ERROR"
)

// Membership events carried by MEMBER frames.
const (
	MemberJoined   = "JOINED"
	MemberStatus   = "STATUS"
	MemberMissing  = "MISSING"
	MemberReturned = "RETURNED"
)

// BaseFrame lets us route unknown JSON frames by type.
type BaseFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseFrame, error) {
	var f BaseFrame
	err := json.Unmarshal(b, &f)
	return f, err
}

// HELLO (peer -> relay)
type HelloFrame struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	GroupID         string          `json:"group_id"`
	PeerID          string          `json:"peer_id"`
	Hello           json.RawMessage `json:"hello,omitempty"`
}

// GROUP (relay -> peer): sent on admission and whenever the leader changes.
type GroupFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GroupID         string `json:"group_id"`
	// PeerID is the id the relay admitted the receiving peer under.
	PeerID    string `json:"peer_id"`
	Policy    string `json:"policy"`
	CreatorID string `json:"creator_id"`
	LeaderID  string `json:"leader_id"`
	// ClockBase is the relay wall clock (unix ms) at group time zero.
	ClockBase int64 `json:"clock_base"`
	// Fresh is set only for the peer whose HELLO created the group.
	Fresh bool `json:"fresh,omitempty"`
}

// MEMBER (relay -> peer)
type MemberFrame struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Event           string          `json:"event"`
	PeerID          string          `json:"peer_id"`
	Status          string          `json:"status,omitempty"`
	Hello           json.RawMessage `json:"hello,omitempty"`
}

// SUBMIT (peer -> relay): a request (Vote=false) or an observation (Vote=true).
type SubmitFrame struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Vote            bool            `json:"vote,omitempty"`
	Msg             json.RawMessage `json:"msg"`
	// Status lets a peer report its own membership status change.
	Status string `json:"status,omitempty"`
}

// COMMAND (relay -> peer)
type CommandFrame struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Command         Command `json:"command"`
}

// SYNC_REQ (peer -> relay to ask for a checkpoint, relay -> active peer to
// request one on behalf of PeerID)
type SyncReqFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PeerID          string `json:"peer_id"`
}

// SYNC_DATA (active peer -> relay -> joining peer)
type SyncDataFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PeerID          string `json:"peer_id"`
	Seq             uint64 `json:"seq"`
	Timestamp       int64  `json:"timestamp"`
	Hash            string `json:"hash"`
	Data            []byte `json:"data"`
	// Error is set by a source that could not capture its state.
	Error string `json:"error,omitempty"`
}

type ErrorFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
