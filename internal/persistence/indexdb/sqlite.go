package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
)

// SQLiteIndex is a secondary, queryable index of checkpoints, divergences
// and applied commands. Writes are queued and applied by one goroutine in
// batched transactions; the JSONL journal and checkpoint files remain the
// source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCheckpoint atomic.Uint64
	dropDivergence atomic.Uint64
	dropCommand    atomic.Uint64
}

type reqKind int

const (
	reqCheckpoint reqKind = iota + 1
	reqDivergence
	reqCommand
	reqFlush
)

type req struct {
	kind reqKind

	checkpoint checkpointRow
	divergence checkpoint.Divergence
	command    commandRow
	done       chan struct{}
}

type checkpointRow struct {
	checkpoint.Report
	Size int
}

type commandRow struct {
	Seq    uint64
	Kind   string
	Source string
	Time   int64
	Vote   bool
}

// Stats reports queue health.
type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	DropCheckpointTotal uint64
	DropDivergenceTotal uint64
	DropCommandTotal    uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			group_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			hash TEXT NOT NULL,
			size INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (group_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS divergences (
			group_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			source TEXT NOT NULL,
			local_hash TEXT NOT NULL,
			remote_hash TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (group_id, seq, source)
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			ts INTEGER NOT NULL,
			vote INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_kind_ts ON commands(kind, ts);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropCheckpointTotal: s.dropCheckpoint.Load(),
		DropDivergenceTotal: s.dropDivergence.Load(),
		DropCommandTotal:    s.dropCommand.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind.
		drops.Add(1)
	}
}

// SaveCheckpoint implements checkpoint.Store.
func (s *SQLiteIndex) SaveCheckpoint(_ context.Context, rep checkpoint.Report, data []byte) error {
	s.enqueue(req{kind: reqCheckpoint, checkpoint: checkpointRow{Report: rep, Size: len(data)}}, &s.dropCheckpoint)
	return nil
}

// RecordDivergence implements checkpoint.Store.
func (s *SQLiteIndex) RecordDivergence(_ context.Context, d checkpoint.Divergence) error {
	s.enqueue(req{kind: reqDivergence, divergence: d}, &s.dropDivergence)
	return nil
}

// WriteCommand indexes a sequenced command by kind and time.
func (s *SQLiteIndex) WriteCommand(cmd protocol.Command) error {
	row := commandRow{Seq: cmd.Seq, Source: cmd.Source, Vote: cmd.Vote}
	if cmd.Msg != nil {
		row.Kind = string(cmd.Msg.Kind())
		row.Time = cmd.Msg.Time()
	}
	s.enqueue(req{kind: reqCommand, command: row}, &s.dropCommand)
	return nil
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatestCheckpoint returns the newest indexed checkpoint for group.
func (s *SQLiteIndex) LatestCheckpoint(ctx context.Context, groupID string) (checkpoint.Report, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return checkpoint.Report{}, false, err
	}
	rep := checkpoint.Report{GroupID: groupID}
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq,ts,hash FROM checkpoints WHERE group_id=? ORDER BY seq DESC LIMIT 1`, groupID,
	).Scan(&seq, &rep.Timestamp, &rep.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Report{}, false, nil
	}
	if err != nil {
		return checkpoint.Report{}, false, err
	}
	rep.Seq = uint64(seq)
	return rep, true, nil
}

// Divergences lists the recorded divergences for group, by seq.
func (s *SQLiteIndex) Divergences(ctx context.Context, groupID string) ([]checkpoint.Divergence, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,source,local_hash,remote_hash FROM divergences WHERE group_id=? ORDER BY seq, source`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []checkpoint.Divergence
	for rows.Next() {
		d := checkpoint.Divergence{GroupID: groupID}
		var seq int64
		if err := rows.Scan(&seq, &d.Source, &d.LocalHash, &d.RemoteHash); err != nil {
			return nil, err
		}
		d.Seq = uint64(seq)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CommandCounts returns how many indexed commands there are of each kind.
func (s *SQLiteIndex) CommandCounts(ctx context.Context) (map[string]int, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM commands GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(group_id,seq,ts,hash,size,recorded_at) VALUES(?,?,?,?,?,?)`)
	insertDivergence, _ := s.db.Prepare(`INSERT OR REPLACE INTO divergences(group_id,seq,source,local_hash,remote_hash,recorded_at) VALUES(?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(seq,kind,source,ts,vote) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertCheckpoint, insertDivergence, insertCommand} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch r.kind {
		case reqCheckpoint:
			c := r.checkpoint
			exec(insertCheckpoint, c.GroupID, int64(c.Seq), c.Timestamp, c.Hash, c.Size, now)
		case reqDivergence:
			d := r.divergence
			exec(insertDivergence, d.GroupID, int64(d.Seq), d.Source, d.LocalHash, d.RemoteHash, now)
		case reqCommand:
			c := r.command
			exec(insertCommand, int64(c.Seq), c.Kind, c.Source, c.Time, c.Vote)
		}
		flushIfNeeded()
	}

	commit()
}
