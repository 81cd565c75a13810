package replication

import "errors"

var (
	// ErrSequenceGap is fatal for the current session: the peer must resync
	// from a checkpoint.
	ErrSequenceGap     = errors.New("command sequence gap")
	ErrNotMember       = errors.New("peer is not a group member")
	ErrNoGroup         = errors.New("not in a group")
	ErrBadTransition   = errors.New("invalid member status transition")
	ErrUnknownPolicy   = errors.New("unknown group policy")
	ErrNotSyncing      = errors.New("peer is not syncing")
	ErrNotActive       = errors.New("peer is not active")
	ErrNilTransport    = errors.New("nil transport")
	ErrUnsupportedKind = errors.New("kind cannot be sent this way")
)
