package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqCommand}

	_ = s.SaveCheckpoint(context.Background(), checkpoint.Report{Seq: 1}, nil)
	_ = s.RecordDivergence(context.Background(), checkpoint.Divergence{Seq: 1})
	_ = s.WriteCommand(protocol.Command{Seq: 2})

	st := s.Stats()
	if st.DropCheckpointTotal != 1 {
		t.Fatalf("DropCheckpointTotal=%d want=1", st.DropCheckpointTotal)
	}
	if st.DropDivergenceTotal != 1 {
		t.Fatalf("DropDivergenceTotal=%d want=1", st.DropDivergenceTotal)
	}
	if st.DropCommandTotal != 1 {
		t.Fatalf("DropCommandTotal=%d want=1", st.DropCommandTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_CheckpointsAndDivergences(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	if _, ok, err := idx.LatestCheckpoint(ctx, "g1"); err != nil || ok {
		t.Fatalf("empty index: ok=%v err=%v", ok, err)
	}

	for _, seq := range []uint64{64, 128, 192} {
		rep := checkpoint.Report{GroupID: "g1", Seq: seq, Timestamp: int64(seq) * 10, Hash: "h"}
		if err := idx.SaveCheckpoint(ctx, rep, []byte("abc")); err != nil {
			t.Fatal(err)
		}
	}
	_ = idx.SaveCheckpoint(ctx, checkpoint.Report{GroupID: "g2", Seq: 999, Hash: "other"}, nil)
	_ = idx.RecordDivergence(ctx, checkpoint.Divergence{GroupID: "g1", Seq: 128, LocalHash: "l", RemoteHash: "r", Source: "p2"})

	rep, ok, err := idx.LatestCheckpoint(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if rep.Seq != 192 || rep.Timestamp != 1920 || rep.Hash != "h" || rep.GroupID != "g1" {
		t.Fatalf("latest=%+v", rep)
	}

	ds, err := idx.Divergences(ctx, "g1")
	if err != nil {
		t.Fatalf("divergences: %v", err)
	}
	want := checkpoint.Divergence{GroupID: "g1", Seq: 128, LocalHash: "l", RemoteHash: "r", Source: "p2"}
	if len(ds) != 1 || ds[0] != want {
		t.Fatalf("divergences=%+v", ds)
	}
}

func TestSQLiteIndex_CommandsPersistAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.WriteCommand(protocol.Command{Seq: 1, Source: "a", Msg: protocol.NewPlayer{Stamp: protocol.At(5), PlayerID: "a"}})
	_ = idx.WriteCommand(protocol.Command{Seq: 2, Source: "a", Vote: true, Msg: protocol.CellRemoved{Stamp: protocol.At(9)}})
	_ = idx.WriteCommand(protocol.Command{Seq: 3, Source: "b", Vote: true, Msg: protocol.CellRemoved{Stamp: protocol.At(9)}})

	counts, err := idx.CommandCounts(context.Background())
	if err != nil {
		t.Fatalf("CommandCounts: %v", err)
	}
	if counts["NewPlayer"] != 1 || counts["CellRemoved"] != 2 {
		t.Fatalf("counts=%v", counts)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		kind   string
		source string
		ts     int64
		vote   bool
	)
	row := db.QueryRow(`SELECT kind,source,ts,vote FROM commands WHERE seq=3`)
	if err := row.Scan(&kind, &source, &ts, &vote); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if kind != "CellRemoved" || source != "b" || ts != 9 || !vote {
		t.Fatalf("row mismatch: kind=%s source=%s ts=%d vote=%v", kind, source, ts, vote)
	}
}
