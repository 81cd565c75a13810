package world

// Claim ("place") is an exclusive, time-limited ownership record over one
// grid cell. At most one claim exists per cell.
type Claim struct {
	X        int
	Z        int
	BikeID   string
	ExpireAt int64

	timedOut bool
}

func (c *Claim) Hash() int64 { return PosHash(c.X, c.Z) }

// Expired reports whether the claim is no longer active at logical time now.
func (c *Claim) Expired(now int64) bool { return c.ExpireAt <= now }
