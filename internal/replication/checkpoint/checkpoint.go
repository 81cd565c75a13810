// Package checkpoint snapshots and restores the world with a content hash,
// and keeps the hash history used to cross-check other peers.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

var (
	ErrHashMismatch = errors.New("checkpoint hash mismatch")
	ErrRestore      = errors.New("checkpoint restore failed")
)

// State is the canonical (de)serialization of the replicated world.
type State interface {
	Serialize(ts int64) ([]byte, error)
	Deserialize(data []byte) (int64, error)
}

// Report is what a peer publishes after checkpointing so others can compare
// without exchanging state.
type Report struct {
	GroupID   string
	Seq       uint64
	Timestamp int64
	Hash      string
}

// Epoch is the command history since the last restore. Number starts at 0
// for a group created locally.
type Epoch struct {
	Number    int
	StartSeq  uint64
	StartTime int64
	Hash      string
}

// Divergence is a report from another peer that did not match local history.
type Divergence struct {
	GroupID    string
	Seq        uint64
	LocalHash  string
	RemoteHash string
	Source     string
}

// Store persists checkpoints and divergences. Implementations should not
// block the replication loop for long.
type Store interface {
	SaveCheckpoint(ctx context.Context, rep Report, data []byte) error
	RecordDivergence(ctx context.Context, d Divergence) error
}

type multiStore []Store

// Stores fans out to every non-nil store, joining their errors.
func Stores(stores ...Store) Store {
	var out multiStore
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiStore) SaveCheckpoint(ctx context.Context, rep Report, data []byte) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveCheckpoint(ctx, rep, data))
	}
	return errors.Join(errs...)
}

func (m multiStore) RecordDivergence(ctx context.Context, d Divergence) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordDivergence(ctx, d))
	}
	return errors.Join(errs...)
}

type Options struct {
	// HistorySize bounds how many (seq, hash) pairs are remembered.
	HistorySize int
	Store       Store
	Logger      *zap.Logger
	// Publish, if set, receives every report made by Checkpoint.
	Publish func(Report)
}

type Manager struct {
	groupID string
	state   State
	history *lru.Cache
	epoch   Epoch
	last    Report

	store   Store
	publish func(Report)
	log     *zap.Logger
}

func New(groupID string, state State, opts Options) (*Manager, error) {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 64
	}
	h, err := lru.New(opts.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("checkpoint history: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		groupID: groupID,
		state:   state,
		history: h,
		store:   opts.Store,
		publish: opts.Publish,
		log:     log.Named("checkpoint"),
	}, nil
}

// Hash is the content hash of a serialized state.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SetGroup rebinds the manager to a new group and forgets old history.
func (m *Manager) SetGroup(id string) {
	m.groupID = id
	m.history.Purge()
	m.epoch = Epoch{}
	m.last = Report{}
}

func (m *Manager) GroupID() string { return m.groupID }
func (m *Manager) Epoch() Epoch    { return m.epoch }

// Last is the most recent local report, zero before the first checkpoint.
func (m *Manager) Last() Report { return m.last }

// Capture serializes the state at ts without recording anything.
func (m *Manager) Capture(ts int64) (string, []byte, error) {
	data, err := m.state.Serialize(ts)
	if err != nil {
		return "", nil, err
	}
	return Hash(data), data, nil
}

// Checkpoint serializes and hashes the state after command seq, remembers the
// hash, persists it if a store is configured and publishes the report.
func (m *Manager) Checkpoint(seq uint64, ts int64) (string, []byte, error) {
	hash, data, err := m.Capture(ts)
	if err != nil {
		return "", nil, fmt.Errorf("checkpoint %d: %w", seq, err)
	}
	m.history.Add(seq, hash)
	rep := Report{GroupID: m.groupID, Seq: seq, Timestamp: ts, Hash: hash}
	m.last = rep
	if m.store != nil {
		if err := m.store.SaveCheckpoint(context.Background(), rep, data); err != nil {
			m.log.Warn("save checkpoint", zap.Uint64("seq", seq), zap.Error(err))
		}
	}
	if m.publish != nil {
		m.publish(rep)
	}
	return hash, data, nil
}

// Restore replaces the state wholesale and starts a new epoch anchored at
// hash. The data must hash to hash.
func (m *Manager) Restore(seq uint64, ts int64, hash string, data []byte) error {
	if got := Hash(data); got != hash {
		return fmt.Errorf("%w: seq %d want %s got %s", ErrHashMismatch, seq, hash, got)
	}
	if _, err := m.state.Deserialize(data); err != nil {
		return fmt.Errorf("%w: seq %d: %v", ErrRestore, seq, err)
	}
	m.history.Purge()
	m.history.Add(seq, hash)
	m.epoch = Epoch{
		Number:    m.epoch.Number + 1,
		StartSeq:  seq,
		StartTime: ts,
		Hash:      hash,
	}
	m.last = Report{GroupID: m.groupID, Seq: seq, Timestamp: ts, Hash: hash}
	m.log.Info("restored",
		zap.Int("epoch", m.epoch.Number),
		zap.Uint64("seq", seq),
		zap.String("hash", hash))
	return nil
}

// HashAt returns the local hash recorded for seq, if still in history.
func (m *Manager) HashAt(seq uint64) (string, bool) {
	v, ok := m.history.Get(seq)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Verify compares a report from source against local history. It returns
// false only when the local hash is known and differs; the divergence is
// logged and stored.
func (m *Manager) Verify(rep Report, source string) bool {
	local, ok := m.HashAt(rep.Seq)
	if !ok || local == rep.Hash {
		return true
	}
	d := Divergence{
		GroupID:    m.groupID,
		Seq:        rep.Seq,
		LocalHash:  local,
		RemoteHash: rep.Hash,
		Source:     source,
	}
	m.log.Error("checkpoint divergence",
		zap.String("group", d.GroupID),
		zap.Uint64("seq", d.Seq),
		zap.String("local", d.LocalHash),
		zap.String("remote", d.RemoteHash),
		zap.String("source", d.Source))
	if m.store != nil {
		if err := m.store.RecordDivergence(context.Background(), d); err != nil {
			m.log.Warn("record divergence", zap.Error(err))
		}
	}
	return false
}
