package tuning

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickMs         int64   `yaml:"tick_ms" env:"BEAM_TICK_MS"`
	GridSize       float64 `yaml:"grid_size" env:"BEAM_GRID_SIZE"`
	BikeSpeed      float64 `yaml:"bike_speed" env:"BEAM_BIKE_SPEED"`
	PlaceTimeoutMs int64   `yaml:"place_timeout_ms" env:"BEAM_PLACE_TIMEOUT_MS"`

	CheckpointEvery uint64 `yaml:"checkpoint_every" env:"BEAM_CHECKPOINT_EVERY"`
	HashHistory     int    `yaml:"hash_history" env:"BEAM_HASH_HISTORY"`

	Policy     string `yaml:"policy" env:"BEAM_POLICY"`
	QuorumRule string `yaml:"quorum_rule" env:"BEAM_QUORUM_RULE"`
	VoteTTLMs  int64  `yaml:"vote_ttl_ms" env:"BEAM_VOTE_TTL_MS"`

	Scoring Scoring `yaml:"scoring"`

	RateLimits RateLimits `yaml:"rate_limits"`
	Relay      Relay      `yaml:"relay"`
}

type Scoring struct {
	StartScore    int `yaml:"start_score" env:"BEAM_START_SCORE"`
	ClaimCost     int `yaml:"claim_cost" env:"BEAM_CLAIM_COST"`
	HitPenalty    int `yaml:"hit_penalty" env:"BEAM_HIT_PENALTY"`
	FriendlyBonus int `yaml:"friendly_bonus" env:"BEAM_FRIENDLY_BONUS"`
}

// RateLimits bounds what the relay accepts from a single peer.
type RateLimits struct {
	SubmitPerSec float64 `yaml:"submit_per_sec" env:"BEAM_SUBMIT_PER_SEC"`
	SubmitBurst  int     `yaml:"submit_burst" env:"BEAM_SUBMIT_BURST"`
}

// Relay configures the reference sequencing relay.
type Relay struct {
	// Backlog is how many recent commands per group are kept for peers that
	// resync from a checkpoint.
	Backlog        int   `yaml:"backlog" env:"BEAM_RELAY_BACKLOG"`
	MissingGraceMs int64 `yaml:"missing_grace_ms" env:"BEAM_MISSING_GRACE_MS"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickMs:          40,
		GridSize:        10,
		BikeSpeed:       15,
		PlaceTimeoutMs:  15000,
		CheckpointEvery: 200,
		HashHistory:     64,
		Policy:          "creator-says",
		QuorumRule:      "majority",
		VoteTTLMs:       10000,
		Scoring: Scoring{
			StartScore:    2000,
			ClaimCost:     10,
			HitPenalty:    150,
			FriendlyBonus: 0,
		},
		RateLimits: RateLimits{SubmitPerSec: 50, SubmitBurst: 100},
		Relay:      Relay{Backlog: 4096, MissingGraceMs: 10000},
	}
}

// Load reads path on top of Defaults, applies BEAM_* environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickMs <= 0 {
		errs = append(errs, fmt.Errorf("tick_ms must be > 0"))
	}
	if t.GridSize <= 0 {
		errs = append(errs, fmt.Errorf("grid_size must be > 0"))
	}
	if t.BikeSpeed <= 0 {
		errs = append(errs, fmt.Errorf("bike_speed must be > 0"))
	}
	if t.PlaceTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("place_timeout_ms must be > 0"))
	}
	if t.HashHistory <= 0 {
		errs = append(errs, fmt.Errorf("hash_history must be > 0"))
	}
	if t.Relay.Backlog <= 0 {
		errs = append(errs, fmt.Errorf("relay.backlog must be > 0"))
	}
	if t.VoteTTLMs < 0 {
		errs = append(errs, fmt.Errorf("vote_ttl_ms must be >= 0"))
	}
	return errors.Join(errs...)
}
