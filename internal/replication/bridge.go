// Package replication turns local observations into sequenced commands and
// applies the command stream to the world.
package replication

import (
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/catchup"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/conflict"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/quorum"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/tuning"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
)

// Transport is the ordering collaborator. Everything sent comes back, to
// every member, as a sequenced Command.
type Transport interface {
	// SendRequest submits an authoritative request.
	SendRequest(msg protocol.Msg) error
	// SendObservation submits a vote under a quorum policy.
	SendObservation(msg protocol.Msg) error
	// RequestSync asks for a checkpoint to resynchronize from.
	RequestSync() error
}

// Journal records applied commands for offline replay.
type Journal interface {
	WriteCommand(cmd protocol.Command) error
}

type journals []Journal

// Journals writes each command to every non-nil journal.
func Journals(js ...Journal) Journal {
	var out journals
	for _, j := range js {
		if j != nil {
			out = append(out, j)
		}
	}
	return out
}

func (js journals) WriteCommand(cmd protocol.Command) error {
	var errs []error
	for _, j := range js {
		errs = append(errs, j.WriteCommand(cmd))
	}
	return errors.Join(errs...)
}

// Metrics is the subset of the metrics collector the bridge reports to.
type Metrics interface {
	CommandApplied(kind string)
	CommandSkipped(kind, reason string)
	ObservationDropped(kind string)
	Vote(promoted bool)
	Desync()
	CheckpointTaken()
	Divergence()
	CatchupTicks(n int)
	Members(status string, n int)
}

type nopMetrics struct{}

func (nopMetrics) CommandApplied(string)         {}
func (nopMetrics) CommandSkipped(string, string) {}
func (nopMetrics) ObservationDropped(string)     {}
func (nopMetrics) Vote(bool)                     {}
func (nopMetrics) Desync()                       {}
func (nopMetrics) CheckpointTaken()              {}
func (nopMetrics) Divergence()                   {}
func (nopMetrics) CatchupTicks(int)              {}
func (nopMetrics) Members(string, int)           {}

type Config struct {
	PeerID          string
	TickMs          int64
	PlaceTimeoutMs  int64
	CheckpointEvery uint64
	HashHistory     int
	// Threshold is handed to the trusted-observers policy when a group is
	// joined; the group's policy owns it from then on.
	Threshold quorum.Threshold
	VoteTTLMs int64
	Scoring   Scoring
}

// ConfigFromTuning maps loaded tuning onto a bridge config for peerID.
func ConfigFromTuning(t tuning.Tuning, peerID string) (Config, error) {
	th, err := quorum.ParseRule(t.QuorumRule)
	if err != nil {
		return Config{}, err
	}
	return Config{
		PeerID:          peerID,
		TickMs:          t.TickMs,
		PlaceTimeoutMs:  t.PlaceTimeoutMs,
		CheckpointEvery: t.CheckpointEvery,
		HashHistory:     t.HashHistory,
		Threshold:       th,
		VoteTTLMs:       t.VoteTTLMs,
		Scoring: Scoring{
			StartScore:    t.Scoring.StartScore,
			ClaimCost:     t.Scoring.ClaimCost,
			HitPenalty:    t.Scoring.HitPenalty,
			FriendlyBonus: t.Scoring.FriendlyBonus,
		},
	}, nil
}

type Options struct {
	Logger   *zap.Logger
	Metrics  Metrics
	Listener Listener
	Store    checkpoint.Store
	Journal  Journal
}

// GroupInfo describes the group being joined, as announced by the relay.
type GroupInfo struct {
	ID        string
	Policy    string
	CreatorID string
	LeaderID  string
	ClockBase int64
	// Fresh is set when the local peer just created the group: there is no
	// history to sync.
	Fresh bool
}

// Bridge owns the observation to command pipeline for one peer. It is not
// safe for concurrent use: OnCommand, Update, Request, Observe and the
// membership calls must all come from the same goroutine.
type Bridge struct {
	cfg      Config
	world    *world.World
	tr       Transport
	log      *zap.Logger
	metrics  Metrics
	listener Listener
	journal  Journal

	group *Group
	tally *quorum.Tally
	ckpt  *checkpoint.Manager

	lastSeq  uint64
	lastTime int64
	buffered []protocol.Command

	// recent holds the latest accepted message per cell and per bike, for
	// conflict checks on new observations.
	recent *lru.Cache
	queue  []protocol.Msg
	notes  []Notification
	// departed are removed members whose player has not been announced gone
	// because they were the coordinator.
	departed []string
}

func New(cfg Config, w *world.World, tr Transport, opts Options) (*Bridge, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	if cfg.TickMs <= 0 {
		cfg.TickMs = 40
	}
	if cfg.PlaceTimeoutMs <= 0 {
		cfg.PlaceTimeoutMs = 15000
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		cfg:      cfg,
		world:    w,
		tr:       tr,
		log:      log.Named("bridge").With(zap.String("peer", cfg.PeerID)),
		metrics:  opts.Metrics,
		listener: opts.Listener,
		journal:  opts.Journal,
		tally:    quorum.New(nil, cfg.VoteTTLMs),
	}
	if b.metrics == nil {
		b.metrics = nopMetrics{}
	}
	if b.listener == nil {
		b.listener = nopListener{}
	}
	recent, err := lru.New(1024)
	if err != nil {
		return nil, err
	}
	b.recent = recent
	b.ckpt, err = checkpoint.New("", w, checkpoint.Options{
		HistorySize: cfg.HashHistory,
		Store:       opts.Store,
		Logger:      log,
		Publish:     b.publishReport,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) World() *world.World              { return b.world }
func (b *Bridge) Group() *Group                    { return b.group }
func (b *Bridge) LastSeq() uint64                  { return b.lastSeq }
func (b *Bridge) LastTime() int64                  { return b.lastTime }
func (b *Bridge) Epoch() checkpoint.Epoch          { return b.ckpt.Epoch() }
func (b *Bridge) Checkpoints() *checkpoint.Manager { return b.ckpt }

// Status is the local peer's membership status; Removed when not in a group.
func (b *Bridge) Status() MemberStatus {
	if b.group == nil {
		return StatusRemoved
	}
	if m := b.group.Member(b.cfg.PeerID); m != nil {
		return m.Status
	}
	return StatusRemoved
}

// LiveClock reports whether this peer ticks the world from its own clock.
func (b *Bridge) LiveClock() bool {
	return b.group != nil && b.Status() == StatusActive && b.group.Policy.ClockAuthority(b.group, b.cfg.PeerID)
}

// JoinGroup binds the bridge to a group. members is the roster known at join
// time. Unless the group is fresh the peer starts Syncing and asks for a
// checkpoint.
func (b *Bridge) JoinGroup(info GroupInfo, members []*Member) error {
	p, err := PolicyByName(info.Policy, b.cfg.Threshold)
	if err != nil {
		return err
	}
	g := NewGroup(info.ID, info.CreatorID, p)
	if info.LeaderID != "" {
		g.LeaderID = info.LeaderID
	}
	g.ClockBase = info.ClockBase
	for _, m := range members {
		g.Add(m)
	}
	self := g.Member(b.cfg.PeerID)
	if self == nil {
		self = CreateGroupMember(b.cfg.PeerID, nil)
		g.Add(self)
	}

	b.group = g
	b.ckpt.SetGroup(info.ID)
	b.tally = quorum.New(p.Threshold, b.cfg.VoteTTLMs)
	b.recent.Purge()
	b.lastSeq, b.lastTime = 0, 0
	b.buffered, b.queue, b.departed = nil, nil, nil

	if info.Fresh {
		self.Status = StatusActive
		b.log.Info("created group", zap.String("group", g.ID), zap.String("policy", p.Name))
	} else {
		self.Status = StatusSyncing
		b.log.Info("joining group", zap.String("group", g.ID), zap.String("policy", p.Name))
		if err := b.tr.RequestSync(); err != nil {
			b.log.Warn("request sync", zap.Error(err))
		}
	}
	b.reportMembers()
	return nil
}

// Leave drops the group. Vote tallies never survive a group change.
func (b *Bridge) Leave() {
	if b.group == nil {
		return
	}
	b.log.Info("left group", zap.String("group", b.group.ID))
	b.group = nil
	b.tally.Reset()
	b.recent.Purge()
	b.buffered, b.queue, b.departed = nil, nil, nil
}

// OnCommand applies the next command of the stream. A command at or below the
// last applied seq is a duplicate and is ignored. A sequence gap returns
// ErrSequenceGap and puts the peer back into Syncing. Commands that arrive
// while Syncing are buffered until Restore.
func (b *Bridge) OnCommand(cmd protocol.Command) error {
	if b.group == nil {
		return ErrNoGroup
	}
	switch b.Status() {
	case StatusJoining, StatusSyncing:
		b.buffered = append(b.buffered, cmd)
		return nil
	case StatusRemoved:
		return ErrNotActive
	}
	return b.apply(cmd)
}

func (b *Bridge) apply(cmd protocol.Command) error {
	if cmd.Seq <= b.lastSeq {
		b.log.Debug("duplicate command", zap.Uint64("seq", cmd.Seq), zap.Uint64("have", b.lastSeq))
		return nil
	}
	if cmd.Seq != b.lastSeq+1 {
		b.log.Error("sequence gap, resyncing",
			zap.Uint64("have", b.lastSeq),
			zap.Uint64("got", cmd.Seq))
		b.metrics.Desync()
		b.resync()
		b.buffered = append(b.buffered, cmd)
		return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, b.lastSeq, cmd.Seq)
	}
	b.lastSeq = cmd.Seq
	defer b.afterCommand(cmd)

	if cmd.Msg == nil {
		b.log.Warn("command without payload", zap.Uint64("seq", cmd.Seq))
		return nil
	}
	t := cmd.Msg.Time()
	if t > b.lastTime {
		b.lastTime = t
	}
	if !b.LiveClock() && t > b.world.Now() {
		res := catchup.Advance(b.world, t, b.cfg.TickMs)
		ticks := res.FullTicks
		if res.PartialTick > 0 {
			ticks++
		}
		b.metrics.CatchupTicks(ticks)
	}

	if cmd.Vote && b.group.Policy.Quorum {
		b.tally.SetTime(t)
		if key, ok := quorum.KeyOf(cmd.Msg); ok {
			total := cmd.Quorum
			if total <= 0 {
				total = b.group.ActiveCount()
			}
			promoted := b.tally.AddVote(key, cmd.Source, total)
			b.metrics.Vote(promoted)
			if !promoted {
				return nil
			}
			b.log.Debug("quorum reached", zap.String("key", key), zap.Uint64("seq", cmd.Seq))
		}
	}

	b.dispatch(cmd)
	removed := b.world.CommitRemovals()
	b.noteRemoved(cmd, removed)
	for _, n := range b.notes {
		b.listener.OnNotification(n)
	}
	b.notes = b.notes[:0]
	return nil
}

// afterCommand runs for every sequenced command, applied or not.
func (b *Bridge) afterCommand(cmd protocol.Command) {
	if b.journal != nil {
		if err := b.journal.WriteCommand(cmd); err != nil {
			b.log.Warn("journal command", zap.Uint64("seq", cmd.Seq), zap.Error(err))
		}
	}
	if b.cfg.CheckpointEvery > 0 && cmd.Seq%b.cfg.CheckpointEvery == 0 {
		if _, _, err := b.ckpt.Checkpoint(cmd.Seq, b.lastTime); err != nil {
			b.log.Error("checkpoint", zap.Uint64("seq", cmd.Seq), zap.Error(err))
			return
		}
		b.metrics.CheckpointTaken()
	}
}

func (b *Bridge) resync() {
	if _, err := b.group.SetStatus(b.cfg.PeerID, StatusSyncing); err != nil {
		b.log.Warn("enter syncing", zap.Error(err))
	}
	b.tally.Reset()
	b.recent.Purge()
	b.queue = nil
	b.reportMembers()
	if err := b.tr.RequestSync(); err != nil {
		b.log.Warn("request sync", zap.Error(err))
	}
}

// Checkpoint snapshots the world after command seq, records and publishes
// the hash.
func (b *Bridge) Checkpoint(seq uint64, ts int64) (string, []byte, error) {
	return b.ckpt.Checkpoint(seq, ts)
}

// SyncData captures the current state for a peer that asked to sync.
func (b *Bridge) SyncData() (seq uint64, ts int64, hash string, data []byte, err error) {
	if b.Status() != StatusActive {
		return 0, 0, "", nil, ErrNotActive
	}
	hash, data, err = b.ckpt.Capture(b.lastTime)
	if err != nil {
		return 0, 0, "", nil, err
	}
	return b.lastSeq, b.lastTime, hash, data, nil
}

// Restore loads a checkpoint, starts a new epoch and replays the buffered
// commands that follow it. A failed restore leaves the peer Syncing; the
// caller should retry with another source.
func (b *Bridge) Restore(seq uint64, ts int64, hash string, data []byte) error {
	if b.group == nil {
		return ErrNoGroup
	}
	if st := b.Status(); st != StatusSyncing && st != StatusJoining {
		return fmt.Errorf("%w: %s", ErrNotSyncing, st)
	}
	if err := b.ckpt.Restore(seq, ts, hash, data); err != nil {
		b.log.Error("restore", zap.Uint64("seq", seq), zap.Error(err))
		return err
	}
	b.lastSeq, b.lastTime = seq, ts
	b.tally.Reset()
	b.recent.Purge()
	if _, err := b.group.SetStatus(b.cfg.PeerID, StatusActive); err != nil {
		return err
	}
	b.reportMembers()

	pending := b.buffered
	b.buffered = nil
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	for i, cmd := range pending {
		if cmd.Seq <= b.lastSeq {
			continue
		}
		if err := b.apply(cmd); err != nil {
			b.buffered = append(b.buffered, pending[i+1:]...)
			return err
		}
	}
	b.log.Info("synced", zap.Uint64("seq", b.lastSeq), zap.Int("replayed", len(pending)))
	return nil
}

// ValidateObservations reports how an accepted message prev affects test.
func (b *Bridge) ValidateObservations(prev, test protocol.Msg) (conflict.Result, string) {
	return conflict.Validate(prev, test)
}

// Request submits a local intent, such as joining or steering a bike. It is
// forwarded whatever the policy.
func (b *Bridge) Request(msg protocol.Msg) error {
	if b.group == nil {
		return ErrNoGroup
	}
	if b.Status() != StatusActive {
		return ErrNotActive
	}
	if msg.Kind() == protocol.KindCheckpoint {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, msg.Kind())
	}
	return b.tr.SendRequest(msg)
}

// Observe submits a world-derived event. It is dropped when the policy does
// not let this peer emit, or when a recently accepted message invalidates
// it.
func (b *Bridge) Observe(msg protocol.Msg) bool {
	kind := string(msg.Kind())
	if b.group == nil || !b.group.Policy.MayEmit(b.group, b.cfg.PeerID) {
		b.metrics.ObservationDropped(kind)
		return false
	}
	if res, reason := b.checkRecent(msg); res == conflict.Invalidated {
		b.log.Debug("observation invalidated", zap.String("kind", kind), zap.String("reason", reason))
		b.metrics.ObservationDropped(kind)
		return false
	}
	b.remember(msg)

	var err error
	if b.group.Policy.Quorum {
		err = b.tr.SendObservation(msg)
	} else {
		err = b.tr.SendRequest(msg)
	}
	if err != nil {
		b.log.Warn("send observation", zap.String("kind", kind), zap.Error(err))
		return false
	}
	return true
}

// Update advances the world to group time now when this peer runs the live
// clock. Crossings and expirations seen by the tick are queued and sent as
// observations once the tick is done.
func (b *Bridge) Update(now int64) {
	if !b.LiveClock() {
		return
	}
	rep := b.world.Tick(now)
	for _, c := range rep.Expired {
		b.queue = append(b.queue, protocol.CellRemoved{Stamp: protocol.At(c.ExpireAt), X: c.X, Z: c.Z})
	}
	for _, c := range rep.Crossings {
		if m := b.crossingObservation(c); m != nil {
			b.queue = append(b.queue, m)
		}
	}
	b.flush()
}

func (b *Bridge) flush() {
	q := b.queue
	b.queue = nil
	sort.SliceStable(q, func(i, j int) bool { return q[i].Time() < q[j].Time() })
	for _, m := range q {
		b.Observe(m)
	}
}

func (b *Bridge) crossingObservation(c world.Crossing) protocol.Msg {
	bike := b.world.Bike(c.BikeID)
	if bike == nil {
		return nil
	}
	if cl := b.world.GetClaim(c.X, c.Z); cl != nil && !cl.Expired(c.Time) {
		return protocol.CellHit{
			Stamp:        protocol.At(c.Time),
			BikeID:       c.BikeID,
			OwnerID:      c.OwnerID,
			X:            c.X,
			Z:            c.Z,
			EntryHeading: c.EntryHeading,
			ExitHeading:  c.ExitHeading,
			ScoreUpdates: b.cfg.Scoring.HitUpdates(bike, b.world.Bike(cl.BikeID)),
		}
	}
	return protocol.CellClaim{
		Stamp:        protocol.At(c.Time),
		BikeID:       c.BikeID,
		OwnerID:      c.OwnerID,
		X:            c.X,
		Z:            c.Z,
		EntryHeading: c.EntryHeading,
		ExitHeading:  c.ExitHeading,
		ScoreUpdates: b.cfg.Scoring.ClaimUpdates(bike),
	}
}

func subjects(m protocol.Msg) []string {
	switch v := m.(type) {
	case protocol.CellClaim:
		return []string{cellSubject(v.X, v.Z), "bike:" + v.BikeID}
	case protocol.CellHit:
		return []string{cellSubject(v.X, v.Z), "bike:" + v.BikeID}
	case protocol.CellRemoved:
		return []string{cellSubject(v.X, v.Z)}
	case protocol.BikeRemove:
		return []string{"bike:" + v.BikeID}
	}
	return nil
}

func cellSubject(x, z int) string { return fmt.Sprintf("cell:%d:%d", x, z) }

// checkRecent evaluates msg against the latest accepted message for each of
// its subjects. Invalidated wins over Validated.
func (b *Bridge) checkRecent(msg protocol.Msg) (conflict.Result, string) {
	res, why := conflict.Unaffected, ""
	for _, s := range subjects(msg) {
		v, ok := b.recent.Get(s)
		if !ok {
			continue
		}
		r, reason := conflict.Validate(v.(protocol.Msg), msg)
		if r == conflict.Invalidated {
			return r, reason
		}
		if r == conflict.Validated {
			res, why = r, reason
		}
	}
	return res, why
}

// remember records msg as the latest for its subjects unless a newer message
// is already recorded.
func (b *Bridge) remember(msg protocol.Msg) {
	for _, s := range subjects(msg) {
		if v, ok := b.recent.Get(s); ok && v.(protocol.Msg).Time() > msg.Time() {
			continue
		}
		b.recent.Add(s, msg)
	}
}
