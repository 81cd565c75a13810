// Package snapshot stores world checkpoints on disk: a JSON header line
// followed by the canonical payload, zstd compressed.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
)

const (
	Version = 1
	ext     = ".ckpt.zst"
)

var ErrNoCheckpoint = errors.New("no checkpoint found")

type Header struct {
	Version   int    `json:"version"`
	GroupID   string `json:"group_id"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
	Size      int    `json:"size"`
}

func (h Header) Report() checkpoint.Report {
	return checkpoint.Report{GroupID: h.GroupID, Seq: h.Seq, Timestamp: h.Timestamp, Hash: h.Hash}
}

// Path is the file name for the checkpoint after seq. Names sort by seq.
func Path(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", seq, ext))
}

func Write(path string, h Header, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, h, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(w io.Writer, h Header, data []byte) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	h.Version = Version
	h.Size = len(data)
	hb, _ := json.Marshal(h)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(data); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read loads a checkpoint file and checks the payload against the header
// hash.
func Read(path string) (Header, []byte, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, nil, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("unsupported checkpoint version %d", h.Version)
	}
	data, err := io.ReadAll(br)
	if err != nil {
		return h, nil, fmt.Errorf("read payload: %w", err)
	}
	if len(data) != h.Size {
		return h, nil, fmt.Errorf("payload is %d bytes, header says %d", len(data), h.Size)
	}
	if got := checkpoint.Hash(data); got != h.Hash {
		return h, nil, fmt.Errorf("%w: %s", checkpoint.ErrHashMismatch, path)
	}
	return h, data, nil
}

// List returns the checkpoint files in dir, oldest first.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		if _, err := strconv.ParseUint(strings.TrimSuffix(name, ext), 10, 64); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// Latest returns the path of the newest checkpoint in dir.
func Latest(dir string) (string, error) {
	paths, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}
	return paths[len(paths)-1], nil
}

// Dir is a checkpoint.Store that writes every checkpoint to a directory and
// keeps the newest Keep files (all when Keep is zero).
type Dir struct {
	Root string
	Keep int
}

func (d Dir) SaveCheckpoint(_ context.Context, rep checkpoint.Report, data []byte) error {
	h := Header{GroupID: rep.GroupID, Seq: rep.Seq, Timestamp: rep.Timestamp, Hash: rep.Hash}
	if err := Write(Path(d.Root, rep.Seq), h, data); err != nil {
		return err
	}
	return d.prune()
}

// RecordDivergence is a no-op; divergences belong in the index.
func (Dir) RecordDivergence(context.Context, checkpoint.Divergence) error { return nil }

func (d Dir) prune() error {
	if d.Keep <= 0 {
		return nil
	}
	paths, err := List(d.Root)
	if err != nil {
		return err
	}
	var errs []error
	for len(paths) > d.Keep {
		if err := os.Remove(paths[0]); err != nil {
			errs = append(errs, err)
		}
		paths = paths[1:]
	}
	return errors.Join(errs...)
}
