// Package quorum counts distinct votes for candidate observations under the
// trusted-observers policy.
package quorum

import (
	"fmt"
	"sort"
	"strings"
)

// Threshold returns the number of distinct votes needed out of total peers.
type Threshold func(total int) int

// Majority is strictly more than half of total.
func Majority(total int) int { return total/2 + 1 }

// Supermajority is strictly more than two thirds of total.
func Supermajority(total int) int { return 2*total/3 + 1 }

func Unanimous(total int) int { return max(total, 1) }

// Fixed requires n votes, or every peer when fewer than n are present.
func Fixed(n int) Threshold {
	return func(total int) int { return max(min(n, total), 1) }
}

// ParseRule maps a configured rule name to a Threshold.
func ParseRule(name string) (Threshold, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "majority":
		return Majority, nil
	case "supermajority":
		return Supermajority, nil
	case "unanimous":
		return Unanimous, nil
	}
	var n int
	if _, err := fmt.Sscanf(name, "fixed:%d", &n); err == nil && n > 0 {
		return Fixed(n), nil
	}
	return nil, fmt.Errorf("unknown quorum rule %q", name)
}

type record struct {
	voters  map[string]struct{}
	created int64
}

// verdict is what is left of a record once it reaches quorum. Voters seen
// here have had their vote for the decided event counted.
type verdict struct {
	voters map[string]struct{}
	at     int64
}

// Tally holds one record per candidate key. It is owned by the replication
// loop and is not safe for concurrent use.
type Tally struct {
	threshold Threshold
	ttl       int64
	now       int64

	records map[string]*record
	// decided remembers keys that reached quorum so stragglers do not start
	// a second record for the same candidate.
	decided map[string]*verdict
}

// New returns a tally. A ttl of zero keeps undecided records until Reset.
func New(threshold Threshold, ttlMs int64) *Tally {
	if threshold == nil {
		threshold = Majority
	}
	return &Tally{
		threshold: threshold,
		ttl:       ttlMs,
		records:   map[string]*record{},
		decided:   map[string]*verdict{},
	}
}

// SetTime sets the logical time used to stamp and expire records, then
// prunes.
func (t *Tally) SetTime(now int64) {
	if now > t.now {
		t.now = now
	}
	t.Prune()
}

// AddVote records voter's vote for key. It returns true on the call that
// brings the distinct voter count of the open record to the threshold for
// total. Repeat votes from the same voter within a record are ignored.
//
// Once a key is decided, the first vote from a voter that was not counted is
// a late vote for the decided event and is absorbed. A vote from a voter that
// was already counted is for a later event with the same key and opens a new
// record.
func (t *Tally) AddVote(key, voter string, total int) bool {
	if d, ok := t.decided[key]; ok {
		if _, counted := d.voters[voter]; !counted {
			d.voters[voter] = struct{}{}
			return false
		}
	}
	r, ok := t.records[key]
	if !ok {
		r = &record{voters: map[string]struct{}{}, created: t.now}
		t.records[key] = r
	}
	if _, dup := r.voters[voter]; dup {
		return false
	}
	r.voters[voter] = struct{}{}
	if len(r.voters) < t.threshold(total) {
		return false
	}
	delete(t.records, key)
	t.decided[key] = &verdict{voters: r.voters, at: t.now}
	return true
}

// Count returns the distinct voters in key's open record.
func (t *Tally) Count(key string) int {
	if r, ok := t.records[key]; ok {
		return len(r.voters)
	}
	return 0
}

func (t *Tally) Decided(key string) bool {
	_, ok := t.decided[key]
	return ok
}

// Pending lists undecided keys, sorted.
func (t *Tally) Pending() []string {
	keys := make([]string, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prune drops undecided records and decided markers older than the ttl and
// returns how many undecided records were dropped.
func (t *Tally) Prune() int {
	if t.ttl <= 0 {
		return 0
	}
	cutoff := t.now - t.ttl
	n := 0
	for k, r := range t.records {
		if r.created < cutoff {
			delete(t.records, k)
			n++
		}
	}
	for k, d := range t.decided {
		if d.at < cutoff {
			delete(t.decided, k)
		}
	}
	return n
}

// Reset discards every record. Called when the local peer leaves, rejoins or
// resyncs a group.
func (t *Tally) Reset() {
	t.records = map[string]*record{}
	t.decided = map[string]*verdict{}
}
