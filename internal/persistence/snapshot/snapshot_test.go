package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := []byte("payload bytes")
	path := Path(dir, 42)
	h := Header{GroupID: "g1", Seq: 42, Timestamp: 9000, Hash: checkpoint.Hash(data)}
	if err := Write(path, h, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, payload, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(payload, data) {
		t.Fatalf("payload mismatch: %q", payload)
	}
	if got.Seq != 42 || got.GroupID != "g1" || got.Timestamp != 9000 || got.Version != Version || got.Size != len(data) {
		t.Fatalf("header mismatch: %+v", got)
	}
	if rep := got.Report(); rep.Hash != h.Hash || rep.Seq != 42 {
		t.Fatalf("report mismatch: %+v", rep)
	}
}

func TestRead_HashMismatch(t *testing.T) {
	path := Path(t.TempDir(), 1)
	if err := Write(path, Header{Seq: 1, Hash: "nope"}, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, _, err := Read(path); !errors.Is(err, checkpoint.ErrHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if _, err := Latest(dir); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("empty dir: %v", err)
	}
	for _, seq := range []uint64{9, 200, 64} {
		data := []byte{byte(seq)}
		if err := Write(Path(dir, seq), Header{Seq: seq, Hash: checkpoint.Hash(data)}, data); err != nil {
			t.Fatalf("Write %d: %v", seq, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Latest(dir)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got != Path(dir, 200) {
		t.Fatalf("latest=%s", got)
	}
}

func TestDir_SaveAndPrune(t *testing.T) {
	d := Dir{Root: t.TempDir(), Keep: 2}
	for seq := uint64(1); seq <= 4; seq++ {
		data := []byte{byte(seq), 'x'}
		rep := checkpoint.Report{GroupID: "g1", Seq: seq * 10, Timestamp: int64(seq) * 100, Hash: checkpoint.Hash(data)}
		if err := d.SaveCheckpoint(context.Background(), rep, data); err != nil {
			t.Fatalf("save %d: %v", seq, err)
		}
	}
	paths, err := List(d.Root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 2 || paths[0] != Path(d.Root, 30) || paths[1] != Path(d.Root, 40) {
		t.Fatalf("kept %v", paths)
	}
	h, _, err := Read(paths[1])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Timestamp != 400 {
		t.Fatalf("timestamp=%d", h.Timestamp)
	}
}
