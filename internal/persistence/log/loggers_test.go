package log

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
)

func TestCommandLogger_RoundTripAcrossHours(t *testing.T) {
	dir := t.TempDir()
	l := NewCommandLogger(dir)
	clock := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	cmds := []protocol.Command{
		{Seq: 1, Source: "a", Msg: protocol.NewPlayer{Stamp: protocol.At(0), PlayerID: "a", Name: "alice"}},
		{Seq: 2, Source: "a", Vote: true, Quorum: 3, Msg: protocol.CellClaim{Stamp: protocol.At(667), BikeID: "bk1", X: 0, Z: 1}},
		{Seq: 3, Source: "b", Msg: protocol.CellRemoved{Stamp: protocol.At(15667), X: 0, Z: 1}},
	}
	for i, c := range cmds {
		if i == 2 {
			clock = clock.Add(2 * time.Minute)
		}
		if err := l.WriteCommand(c); err != nil {
			t.Fatalf("write %d: %v", c.Seq, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "commands"))
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}

	var got []protocol.Command
	if err := ReadCommands(filepath.Join(dir, "commands"), func(c protocol.Command) error {
		got = append(got, c)
		return nil
	}); err != nil {
		t.Fatalf("ReadCommands: %v", err)
	}
	if len(got) != len(cmds) {
		t.Fatalf("read %d commands", len(got))
	}
	for i := range cmds {
		if got[i].Seq != cmds[i].Seq || got[i].Source != cmds[i].Source || got[i].Vote != cmds[i].Vote || got[i].Quorum != cmds[i].Quorum {
			t.Fatalf("command %d: got %+v want %+v", i, got[i], cmds[i])
		}
		if got[i].Msg.Kind() != cmds[i].Msg.Kind() || got[i].Msg.Time() != cmds[i].Msg.Time() {
			t.Fatalf("payload %d: got %#v", i, got[i].Msg)
		}
	}
}

func TestReadCommands_StopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := NewCommandLogger(dir)
	for seq := uint64(1); seq <= 3; seq++ {
		if err := l.WriteCommand(protocol.Command{Seq: seq, Msg: protocol.CellRemoved{Stamp: protocol.At(int64(seq))}}); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Close()

	stop := errors.New("stop")
	n := 0
	err := ReadCommands(filepath.Join(dir, "commands"), func(protocol.Command) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestEventLogger_WritesNotifications(t *testing.T) {
	dir := t.TempDir()
	var failures []error
	l := NewEventLogger(dir, func(err error) { failures = append(failures, err) })
	l.OnNotification(replication.Notification{Seq: 7, Time: 667, Event: replication.EventCellClaimed, BikeID: "bk1", X: 0, Z: 1})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures: %v", failures)
	}
	files, err := Files(filepath.Join(dir, "events"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
}
