package world

// Player is a peer's identity in the world.
type Player struct {
	ID   string
	Name string
}
