package replication

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
)

var (
	errClaimFailed   = errors.New("claim failed")
	errNoClaim       = errors.New("no claim on cell")
	errClaimActive   = errors.New("claim still active")
	errBadBikeCmd    = errors.New("bad bike command")
	errPayloadType   = errors.New("payload does not match kind")
	errOwnCheckpoint = errors.New("own checkpoint report")
)

// handler applies one command. A returned error means the effect was
// skipped; it is logged and never stops the stream.
type handler func(b *Bridge, cmd protocol.Command) error

func on[T protocol.Msg](fn func(b *Bridge, cmd protocol.Command, m T) error) handler {
	return func(b *Bridge, cmd protocol.Command) error {
		m, ok := cmd.Msg.(T)
		if !ok {
			return fmt.Errorf("%w: %T", errPayloadType, cmd.Msg)
		}
		return fn(b, cmd, m)
	}
}

var handlers = map[protocol.Kind]handler{
	protocol.KindNewPlayer:   on(handleNewPlayer),
	protocol.KindPlayerLeft:  on(handlePlayerLeft),
	protocol.KindBikeCreate:  on(handleBikeCreate),
	protocol.KindBikeRemove:  on(handleBikeRemove),
	protocol.KindBikeTurn:    on(handleBikeTurn),
	protocol.KindBikeCommand: on(handleBikeCommand),
	protocol.KindCellClaim:   on(handleCellClaim),
	protocol.KindCellHit:     on(handleCellHit),
	protocol.KindCellRemoved: on(handleCellRemoved),
	protocol.KindCheckpoint:  on(handleCheckpoint),
}

func (b *Bridge) dispatch(cmd protocol.Command) {
	kind := cmd.Msg.Kind()
	h, ok := handlers[kind]
	if !ok {
		b.log.Info("no handler for command", zap.String("kind", string(kind)), zap.Uint64("seq", cmd.Seq))
		b.metrics.CommandSkipped(string(kind), "no_handler")
		return
	}
	if err := h(b, cmd); err != nil {
		if errors.Is(err, errOwnCheckpoint) {
			return
		}
		reason := skipReason(err)
		fields := []zap.Field{
			zap.String("kind", string(kind)),
			zap.Uint64("seq", cmd.Seq),
			zap.String("source", cmd.Source),
			zap.Error(err),
		}
		if reason == "duplicate_player" || reason == "unknown_bike" {
			b.log.Warn("command skipped", fields...)
		} else {
			b.log.Debug("command skipped", fields...)
		}
		b.metrics.CommandSkipped(string(kind), reason)
		return
	}
	b.metrics.CommandApplied(string(kind))
	b.remember(cmd.Msg)
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, world.ErrUnknownBike):
		return "unknown_bike"
	case errors.Is(err, world.ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, world.ErrDuplicatePlayer):
		return "duplicate_player"
	case errors.Is(err, world.ErrDuplicateBike):
		return "duplicate_bike"
	case errors.Is(err, world.ErrBadTurn), errors.Is(err, world.ErrStopped), errors.Is(err, errBadBikeCmd):
		return "bad_turn"
	case errors.Is(err, errClaimFailed):
		return "claim_failed"
	case errors.Is(err, errNoClaim), errors.Is(err, errClaimActive):
		return "stale_removal"
	}
	return "other"
}

func (b *Bridge) note(cmd protocol.Command, ev Event, player, bike string, x, z int) {
	b.notes = append(b.notes, Notification{
		Seq:      cmd.Seq,
		Time:     cmd.Msg.Time(),
		Event:    ev,
		PlayerID: player,
		BikeID:   bike,
		X:        x,
		Z:        z,
	})
}

func (b *Bridge) noteRemoved(cmd protocol.Command, rm world.Removed) {
	for _, c := range rm.Claims {
		b.note(cmd, EventCellFreed, "", c.BikeID, c.X, c.Z)
	}
	for _, id := range rm.Bikes {
		b.note(cmd, EventBikeRemoved, "", id, 0, 0)
	}
	for _, id := range rm.Players {
		b.note(cmd, EventPlayerLeft, id, "", 0, 0)
	}
}

func (b *Bridge) bike(id string) (*world.Bike, error) {
	bk := b.world.Bike(id)
	if bk == nil {
		return nil, fmt.Errorf("%w: %s", world.ErrUnknownBike, id)
	}
	return bk, nil
}

// applyScores adds deltas in bike id order. A bike whose score drops to zero
// or below is removed when the command commits.
func (b *Bridge) applyScores(updates map[string]int) {
	for _, id := range world.SortedKeys(updates) {
		bk := b.world.Bike(id)
		if bk == nil {
			continue
		}
		bk.Score += updates[id]
		if bk.Score <= 0 {
			b.world.RemoveBike(id)
		}
	}
}

func handleNewPlayer(b *Bridge, cmd protocol.Command, m protocol.NewPlayer) error {
	if err := b.world.AddPlayer(world.Player{ID: m.PlayerID, Name: m.Name}); err != nil {
		return err
	}
	b.note(cmd, EventPlayerJoined, m.PlayerID, "", 0, 0)
	return nil
}

func handlePlayerLeft(b *Bridge, _ protocol.Command, m protocol.PlayerLeft) error {
	if !b.world.RemovePlayer(m.PlayerID) {
		return fmt.Errorf("%w: %s", world.ErrUnknownPlayer, m.PlayerID)
	}
	return nil
}

func handleBikeCreate(b *Bridge, cmd protocol.Command, m protocol.BikeCreate) error {
	base := m.Timestamp
	if m.BaseTime != nil {
		base = *m.BaseTime
	}
	score := b.cfg.Scoring.StartScore
	if m.Score != nil {
		score = *m.Score
	}
	_, err := b.world.AddBike(world.Bike{
		ID:           m.BikeID,
		OwnerID:      m.OwnerID,
		Name:         m.Name,
		Team:         m.Team,
		Score:        score,
		CtrlType:     m.CtrlType,
		BasePos:      world.Vec2{X: m.X, Z: m.Z},
		BaseHeading:  m.Heading,
		EntryHeading: m.Heading,
		BaseTime:     base,
		Speed:        b.world.Config().BikeSpeed,
	})
	if err != nil {
		return err
	}
	b.note(cmd, EventBikeCreated, m.OwnerID, m.BikeID, 0, 0)
	if score <= 0 {
		b.world.RemoveBike(m.BikeID)
	}
	return nil
}

func handleBikeRemove(b *Bridge, _ protocol.Command, m protocol.BikeRemove) error {
	if !b.world.RemoveBike(m.BikeID) {
		return fmt.Errorf("%w: %s", world.ErrUnknownBike, m.BikeID)
	}
	return nil
}

func handleBikeTurn(b *Bridge, cmd protocol.Command, m protocol.BikeTurn) error {
	bk, err := b.bike(m.BikeID)
	if err != nil {
		return err
	}
	if err := b.world.Turn(bk, m.Dir, m.EntryHeading, m.NextX, m.NextZ, m.Snapshot, m.Timestamp); err != nil {
		return err
	}
	b.note(cmd, EventBikeTurned, m.OwnerID, m.BikeID, m.NextX, m.NextZ)
	return nil
}

func handleBikeCommand(b *Bridge, cmd protocol.Command, m protocol.BikeCommand) error {
	bk, err := b.bike(m.BikeID)
	if err != nil {
		return err
	}
	switch m.Cmd {
	case protocol.CmdStop:
		b.world.Stop(bk, m.Timestamp)
		return nil
	case protocol.CmdGo:
		b.world.Go(bk, m.Timestamp)
		return nil
	}
	dir, ok := m.Cmd.TurnDir()
	if !ok {
		return fmt.Errorf("%w: %d", errBadBikeCmd, m.Cmd)
	}
	_, heading := bk.PositionAt(m.Timestamp)
	if err := b.world.Turn(bk, dir, heading, m.NextX, m.NextZ, nil, m.Timestamp); err != nil {
		return err
	}
	b.note(cmd, EventBikeTurned, m.OwnerID, m.BikeID, m.NextX, m.NextZ)
	return nil
}

func handleCellClaim(b *Bridge, cmd protocol.Command, m protocol.CellClaim) error {
	bk, err := b.bike(m.BikeID)
	if err != nil {
		return err
	}
	t := m.Timestamp
	if b.world.ClaimCellAt(m.BikeID, m.X, m.Z, t, t+b.cfg.PlaceTimeoutMs) == nil {
		reason := "cell occupied"
		if cur := b.world.GetClaim(m.X, m.Z); cur != nil {
			prior := protocol.CellClaim{Stamp: protocol.At(t), BikeID: cur.BikeID, X: cur.X, Z: cur.Z}
			if _, why := b.ValidateObservations(prior, m); why != "" {
				reason = why
			}
		}
		return fmt.Errorf("%w: (%d,%d) by %s: %s", errClaimFailed, m.X, m.Z, m.BikeID, reason)
	}
	b.world.Rebase(bk, m.X, m.Z, m.EntryHeading, m.ExitHeading, t)
	b.applyScores(m.ScoreUpdates)
	b.note(cmd, EventCellClaimed, m.OwnerID, m.BikeID, m.X, m.Z)
	return nil
}

func handleCellHit(b *Bridge, cmd protocol.Command, m protocol.CellHit) error {
	bk, err := b.bike(m.BikeID)
	if err != nil {
		return err
	}
	b.world.Rebase(bk, m.X, m.Z, m.EntryHeading, m.ExitHeading, m.Timestamp)
	b.applyScores(m.ScoreUpdates)
	b.note(cmd, EventCellHit, m.OwnerID, m.BikeID, m.X, m.Z)
	return nil
}

// handleCellRemoved frees an expired claim. A claim that is still active at
// the command's time was placed after the one that expired, and stays.
func handleCellRemoved(b *Bridge, _ protocol.Command, m protocol.CellRemoved) error {
	c := b.world.GetClaim(m.X, m.Z)
	if c == nil {
		return fmt.Errorf("%w: (%d,%d)", errNoClaim, m.X, m.Z)
	}
	if !c.Expired(m.Timestamp) {
		return fmt.Errorf("%w: (%d,%d) until %d", errClaimActive, m.X, m.Z, c.ExpireAt)
	}
	b.world.RemoveClaim(m.X, m.Z)
	return nil
}

func handleCheckpoint(b *Bridge, cmd protocol.Command, m protocol.Checkpoint) error {
	if cmd.Source == b.cfg.PeerID {
		return errOwnCheckpoint
	}
	rep := checkpoint.Report{GroupID: b.ckpt.GroupID(), Seq: m.Seq, Timestamp: m.Timestamp, Hash: m.Hash}
	if !b.ckpt.Verify(rep, cmd.Source) {
		b.metrics.Divergence()
	}
	return nil
}
