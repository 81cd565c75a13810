package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/quorum"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
)

func testConfig(id string) Config {
	return Config{
		PeerID:         id,
		TickMs:         40,
		PlaceTimeoutMs: 15000,
		Threshold:      quorum.Majority,
		VoteTTLMs:      10000,
		Scoring:        Scoring{StartScore: 2000, ClaimCost: 10, HitPenalty: 150},
	}
}

// recorder is a Transport that keeps what was sent.
type recorder struct {
	requests     []protocol.Msg
	observations []protocol.Msg
	syncs        int
}

func (r *recorder) SendRequest(m protocol.Msg) error {
	r.requests = append(r.requests, m)
	return nil
}

func (r *recorder) SendObservation(m protocol.Msg) error {
	r.observations = append(r.observations, m)
	return nil
}

func (r *recorder) RequestSync() error {
	r.syncs++
	return nil
}

func (r *recorder) kinds() []protocol.Kind {
	var out []protocol.Kind
	for _, m := range r.requests {
		out = append(out, m.Kind())
	}
	return out
}

type memStore struct {
	saved       []checkpoint.Report
	divergences []checkpoint.Divergence
}

func (s *memStore) SaveCheckpoint(_ context.Context, rep checkpoint.Report, _ []byte) error {
	s.saved = append(s.saved, rep)
	return nil
}

func (s *memStore) RecordDivergence(_ context.Context, d checkpoint.Divergence) error {
	s.divergences = append(s.divergences, d)
	return nil
}

type counters struct {
	applied     map[string]int
	skipped     map[string]int
	dropped     int
	votes       int
	promoted    int
	desyncs     int
	checkpoints int
	divergences int
	members     map[string]int
}

func newCounters() *counters {
	return &counters{applied: map[string]int{}, skipped: map[string]int{}, members: map[string]int{}}
}

func (c *counters) CommandApplied(kind string)         { c.applied[kind]++ }
func (c *counters) CommandSkipped(kind, reason string) { c.skipped[kind+"/"+reason]++ }
func (c *counters) ObservationDropped(string)          { c.dropped++ }
func (c *counters) Desync()                            { c.desyncs++ }
func (c *counters) CheckpointTaken()                   { c.checkpoints++ }
func (c *counters) Divergence()                        { c.divergences++ }
func (c *counters) CatchupTicks(int)                   {}
func (c *counters) Members(status string, n int)       { c.members[status] = n }

func (c *counters) Vote(promoted bool) {
	c.votes++
	if promoted {
		c.promoted++
	}
}

func newBridge(t *testing.T, cfg Config, tr Transport, opts Options) *Bridge {
	t.Helper()
	b, err := New(cfg, world.New(world.DefaultConfig()), tr, opts)
	require.NoError(t, err)
	return b
}

func join(t *testing.T, b *Bridge, policy, creator string, fresh bool) {
	t.Helper()
	require.NoError(t, b.JoinGroup(GroupInfo{ID: "g1", Policy: policy, CreatorID: creator, Fresh: fresh}, nil))
}

// feeder hands a bridge consecutive commands as if from a relay.
type feeder struct {
	t   *testing.T
	b   *Bridge
	seq uint64
}

func (f *feeder) send(source string, m protocol.Msg) error {
	f.seq++
	return f.b.OnCommand(protocol.Command{Seq: f.seq, Source: source, Msg: m})
}

func (f *feeder) must(source string, m protocol.Msg) {
	f.t.Helper()
	require.NoError(f.t, f.send(source, m))
}

func (f *feeder) vote(source string, total int, m protocol.Msg) {
	f.t.Helper()
	f.seq++
	require.NoError(f.t, f.b.OnCommand(protocol.Command{Seq: f.seq, Source: source, Vote: true, Quorum: total, Msg: m}))
}

func newPlayer(id string, ts int64) protocol.NewPlayer {
	return protocol.NewPlayer{Stamp: protocol.At(ts), PlayerID: id, Name: id}
}

func newBike(id, owner string, ts int64) protocol.BikeCreate {
	return protocol.BikeCreate{Stamp: protocol.At(ts), BikeID: id, OwnerID: owner, Name: id, CtrlType: protocol.CtrlAI, Heading: protocol.North}
}

// hub is an in-memory sequencer: every submission gets the next seq and is
// delivered to every attached bridge, in order, by pump.
type hub struct {
	t      *testing.T
	seq    uint64
	quorum int
	queue  []protocol.Command
	log    []protocol.Command
	order  []string
	peers  map[string]*Bridge
	sent   map[string]int
	syncs  []string
}

func newHub(t *testing.T) *hub {
	return &hub{t: t, peers: map[string]*Bridge{}, sent: map[string]int{}}
}

type endpoint struct {
	h  *hub
	id string
}

func (e endpoint) SendRequest(m protocol.Msg) error {
	e.h.submit(e.id, m, false)
	return nil
}

func (e endpoint) SendObservation(m protocol.Msg) error {
	e.h.submit(e.id, m, true)
	return nil
}

func (e endpoint) RequestSync() error {
	e.h.syncs = append(e.h.syncs, e.id)
	return nil
}

func (h *hub) submit(source string, m protocol.Msg, vote bool) {
	h.seq++
	cmd := protocol.Command{Seq: h.seq, Source: source, Vote: vote, Msg: m}
	if vote {
		cmd.Quorum = h.quorum
	}
	h.queue = append(h.queue, cmd)
	h.log = append(h.log, cmd)
	h.sent[source]++
}

// attach creates a bridge on the hub. It receives only commands sequenced
// after this call.
func (h *hub) attach(id string, cfg Config) *Bridge {
	h.t.Helper()
	b := newBridge(h.t, cfg, endpoint{h: h, id: id}, Options{})
	h.order = append(h.order, id)
	h.peers[id] = b
	return b
}

func (h *hub) pump() {
	h.t.Helper()
	for len(h.queue) > 0 {
		cmd := h.queue[0]
		h.queue = h.queue[1:]
		for _, id := range h.order {
			require.NoError(h.t, h.peers[id].OnCommand(cmd), "peer %s seq %d", id, cmd.Seq)
		}
	}
}

func (h *hub) count(kind protocol.Kind, match func(protocol.Msg) bool) int {
	n := 0
	for _, c := range h.log {
		if c.Msg.Kind() == kind && (match == nil || match(c.Msg)) {
			n++
		}
	}
	return n
}

func hashAt(t *testing.T, b *Bridge, ts int64) string {
	t.Helper()
	hash, _, err := b.Checkpoints().Capture(ts)
	require.NoError(t, err)
	return hash
}
