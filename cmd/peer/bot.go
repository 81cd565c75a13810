package main

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
)

// bot plays for the local player: it joins, keeps one bike on the grid and
// steers it at random.
type bot struct {
	self, name string
	turnEvery  int64
	rng        *rand.Rand
	log        *zap.Logger

	joined   bool
	bikes    int
	bikeID   string
	nextTurn int64
}

func newBot(self, name string, turnEvery int64, seed int64, log *zap.Logger) *bot {
	if turnEvery <= 0 {
		turnEvery = 3000
	}
	return &bot{
		self:      self,
		name:      name,
		turnEvery: turnEvery,
		rng:       rand.New(rand.NewSource(seed)),
		log:       log.Named("bot"),
	}
}

func (bt *bot) drive(b *replication.Bridge, now int64) {
	if b.Status() != replication.StatusActive {
		return
	}
	if !bt.joined {
		bt.joined = bt.request(b, protocol.NewPlayer{Stamp: protocol.At(now), PlayerID: bt.self, Name: bt.name})
		return
	}
	w := b.World()
	if _, ok := w.Player(bt.self); !ok {
		return
	}

	// Spawn a new bike whenever the last one is gone.
	if bt.bikeID == "" || (w.Bike(bt.bikeID) == nil && now >= bt.nextTurn) {
		bt.bikes++
		id := fmt.Sprintf("%s:%d", bt.self, bt.bikes)
		pos := w.CellPos(bt.rng.Intn(21)-10, bt.rng.Intn(21)-10)
		if bt.request(b, protocol.BikeCreate{
			Stamp:    protocol.At(now),
			BikeID:   id,
			OwnerID:  bt.self,
			Name:     fmt.Sprintf("%s-%d", bt.name, bt.bikes),
			CtrlType: protocol.CtrlAI,
			X:        pos.X,
			Z:        pos.Z,
			Heading:  protocol.Heading(bt.rng.Intn(4)),
		}) {
			bt.bikeID = id
			bt.nextTurn = now + bt.turnEvery
		}
		return
	}

	bk := w.Bike(bt.bikeID)
	if bk == nil || now < bt.nextTurn {
		return
	}
	pos, h := bk.PositionAt(now)
	x, z := w.NextCell(pos, h)
	cmd := []protocol.BikeCmd{protocol.CmdLeft, protocol.CmdRight, protocol.CmdStraight}[bt.rng.Intn(3)]
	bt.request(b, protocol.BikeCommand{Stamp: protocol.At(now), BikeID: bt.bikeID, OwnerID: bt.self, Cmd: cmd, NextX: x, NextZ: z})
	bt.nextTurn = now + bt.turnEvery/2 + bt.rng.Int63n(bt.turnEvery)
}

func (bt *bot) request(b *replication.Bridge, m protocol.Msg) bool {
	if err := b.Request(m); err != nil {
		bt.log.Debug("request", zap.String("kind", string(m.Kind())), zap.Error(err))
		return false
	}
	return true
}
