package replication

// Event is what a Notification reports.
type Event string

const (
	EventPlayerJoined Event = "player_joined"
	EventPlayerLeft   Event = "player_left"
	EventBikeCreated  Event = "bike_created"
	EventBikeRemoved  Event = "bike_removed"
	EventBikeTurned   Event = "bike_turned"
	EventCellClaimed  Event = "cell_claimed"
	EventCellHit      Event = "cell_hit"
	EventCellFreed    Event = "cell_freed"
)

// Notification is a read-only record of a committed change, delivered after
// the command's removals are committed.
type Notification struct {
	Seq      uint64
	Time     int64
	Event    Event
	PlayerID string
	BikeID   string
	X, Z     int
}

// Listener receives notifications on the replication goroutine. It must not
// call back into the bridge or the world.
type Listener interface {
	OnNotification(n Notification)
}

type ListenerFunc func(Notification)

func (f ListenerFunc) OnNotification(n Notification) { f(n) }

type nopListener struct{}

func (nopListener) OnNotification(Notification) {}
