package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Group routing/state.
	ErrGroupMismatch = "E_GROUP_MISMATCH"
	ErrGroupDenied   = "E_GROUP_DENIED"
	ErrPeerTaken     = "E_PEER_TAKEN"
	ErrNotActive     = "E_NOT_ACTIVE"

	// Submission layer.
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrBadPayload = "E_BAD_PAYLOAD"
	ErrNoSync     = "E_NO_SYNC_SOURCE"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrGroupMismatch:   {},
	ErrGroupDenied:     {},
	ErrPeerTaken:       {},
	ErrNotActive:       {},
	ErrRateLimit:       {},
	ErrBadPayload:      {},
	ErrNoSync:          {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
