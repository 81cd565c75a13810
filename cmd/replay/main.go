package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	persistlog "github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/log"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/snapshot"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/tuning"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
)

const replayPeer = "replay"

func main() {
	var (
		dir        = flag.String("dir", "", "peer data dir (<data>/<group>/<peer>)")
		ckptPath   = flag.String("checkpoint", "", "checkpoint to start from (default: oldest in <dir>/checkpoints, none to start empty)")
		policy     = flag.String("policy", "", "group policy (default: from tuning)")
		tuningPath = flag.String("tuning", "./configs/beam.yaml", "path to beam.yaml the peer ran with")
		toSeq      = flag.Uint64("to_seq", 0, "stop after seq (inclusive, optional)")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "missing -dir")
		os.Exit(2)
	}
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if *policy == "" {
		*policy = tune.Policy
	}

	// Every checkpoint file the peer wrote is a hash to check against.
	ckptDir := filepath.Join(*dir, "checkpoints")
	files, err := snapshot.List(ckptDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list checkpoints:", err)
		os.Exit(1)
	}
	want := map[uint64]string{}
	var groupID string
	for _, path := range files {
		h, _, err := snapshot.Read(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read checkpoint:", err)
			os.Exit(1)
		}
		want[h.Seq] = h.Hash
		groupID = h.GroupID
	}

	start := *ckptPath
	if start == "" && len(files) > 0 {
		start = files[0]
	}

	counts := &counters{}
	b, err := newReplayBridge(tune, *policy, counts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
		os.Exit(1)
	}

	info := replication.GroupInfo{ID: groupID, Policy: *policy}
	if start == "" {
		info.Fresh = true
		if err := b.JoinGroup(info, nil); err != nil {
			fmt.Fprintln(os.Stderr, "join:", err)
			os.Exit(1)
		}
		fmt.Println("no checkpoint, replaying from an empty world")
	} else {
		h, data, err := snapshot.Read(start)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read checkpoint:", err)
			os.Exit(1)
		}
		sum, err := world.Summarize(data)
		if err != nil {
			fmt.Fprintln(os.Stderr, "summarize checkpoint:", err)
			os.Exit(1)
		}
		fmt.Printf("checkpoint group=%s seq=%d ts=%d hash=%s size=%s players=%d bikes=%d claims=%d\n",
			h.GroupID, h.Seq, h.Timestamp, h.Hash, humanize.Bytes(uint64(len(data))), sum.Players, sum.Bikes, sum.Claims)

		info.ID = h.GroupID
		if err := b.JoinGroup(info, nil); err != nil {
			fmt.Fprintln(os.Stderr, "join:", err)
			os.Exit(1)
		}
		if err := b.Restore(h.Seq, h.Timestamp, h.Hash, data); err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
	}

	var verified int
	errStop := errors.New("stop")
	err = persistlog.ReadCommands(filepath.Join(*dir, "commands"), func(cmd protocol.Command) error {
		if cmd.Seq <= b.LastSeq() {
			return nil
		}
		if *toSeq != 0 && cmd.Seq > *toSeq {
			return errStop
		}
		// Peers that run the live clock tick before applying; so do we.
		if cmd.Msg != nil && b.LiveClock() {
			b.Update(cmd.Msg.Time())
		}
		if err := b.OnCommand(cmd); err != nil {
			return fmt.Errorf("seq %d: %w", cmd.Seq, err)
		}
		if hash, ok := want[cmd.Seq]; ok {
			got, _ := b.Checkpoints().HashAt(cmd.Seq)
			if got != hash {
				return fmt.Errorf("hash mismatch at seq %d: got=%s want=%s", cmd.Seq, got, hash)
			}
			verified++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if counts.divergences > 0 {
		fmt.Fprintf(os.Stderr, "replay: %d reported checkpoints diverge from the replayed state\n", counts.divergences)
		os.Exit(1)
	}

	fmt.Printf("replay ok: seq=%d applied=%s skipped=%s checkpoints=%d verified=%d\n",
		b.LastSeq(), humanize.Comma(int64(counts.applied)), humanize.Comma(int64(counts.skipped)), counts.checkpoints, verified)
}

func newReplayBridge(tune tuning.Tuning, policy string, m replication.Metrics) (*replication.Bridge, error) {
	cfg, err := replication.ConfigFromTuning(tune, replayPeer)
	if err != nil {
		return nil, err
	}
	if _, err := replication.PolicyByName(policy, cfg.Threshold); err != nil {
		return nil, err
	}
	w := world.New(world.Config{GridSize: tune.GridSize, BikeSpeed: tune.BikeSpeed})
	return replication.New(cfg, w, discard{}, replication.Options{Metrics: m})
}

// discard is the transport for offline replay: nothing is ever sent.
type discard struct{}

func (discard) SendRequest(protocol.Msg) error     { return nil }
func (discard) SendObservation(protocol.Msg) error { return nil }
func (discard) RequestSync() error                 { return nil }

type counters struct {
	applied, skipped, checkpoints, divergences int
}

func (c *counters) CommandApplied(string)         { c.applied++ }
func (c *counters) CommandSkipped(string, string) { c.skipped++ }
func (c *counters) ObservationDropped(string)     {}
func (c *counters) Vote(bool)                     {}
func (c *counters) Desync()                       {}
func (c *counters) CheckpointTaken() { c.checkpoints++ }
func (c *counters) Divergence()      { c.divergences++ }
func (c *counters) CatchupTicks(int)              {}
func (c *counters) Members(string, int)           {}
