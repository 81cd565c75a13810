package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
)

const fileExt = ".jsonl.zst"

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-<yyyy-mm-dd-hh>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s%s", w.prefix, hour, fileExt))
}

// CommandLogger journals every sequenced command (compressed JSONL).
type CommandLogger struct{ w *JSONLZstdWriter }

func NewCommandLogger(groupDir string) *CommandLogger {
	return &CommandLogger{w: NewJSONLZstdWriter(filepath.Join(groupDir, "commands"), "commands")}
}

func (l *CommandLogger) WriteCommand(cmd protocol.Command) error { return l.w.Write(cmd) }
func (l *CommandLogger) Close() error                            { return l.w.Close() }

// EventLogger records committed world changes (compressed JSONL).
type EventLogger struct {
	w   *JSONLZstdWriter
	err func(error)
}

// NewEventLogger returns a logger; onErr, if set, receives write failures
// since listeners cannot return them.
func NewEventLogger(groupDir string, onErr func(error)) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(groupDir, "events"), "events"), err: onErr}
}

type eventLine struct {
	Seq      uint64            `json:"seq"`
	Time     int64             `json:"time"`
	Event    replication.Event `json:"event"`
	PlayerID string            `json:"player_id,omitempty"`
	BikeID   string            `json:"bike_id,omitempty"`
	X        int               `json:"x"`
	Z        int               `json:"z"`
}

func (l *EventLogger) OnNotification(n replication.Notification) {
	err := l.w.Write(eventLine{
		Seq:      n.Seq,
		Time:     n.Time,
		Event:    n.Event,
		PlayerID: n.PlayerID,
		BikeID:   n.BikeID,
		X:        n.X,
		Z:        n.Z,
	})
	if err != nil && l.err != nil {
		l.err(err)
	}
}

func (l *EventLogger) Close() error { return l.w.Close() }

// Files lists the journal files under dir in write order.
func Files(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileExt) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadCommands decodes every command in the journal files under dir, in
// file then line order. fn returning an error stops the scan.
func ReadCommands(dir string, fn func(protocol.Command) error) error {
	files, err := Files(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readFile(path string, fn func(protocol.Command) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	for line := 1; ; line++ {
		b, err := br.ReadBytes('\n')
		if len(b) > 0 {
			var cmd protocol.Command
			if jerr := json.Unmarshal(b, &cmd); jerr != nil {
				return fmt.Errorf("line %d: %w", line, jerr)
			}
			if ferr := fn(cmd); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
