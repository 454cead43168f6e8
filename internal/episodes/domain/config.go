package episodes

import "errors"

// MergeStrategy controls how the end of a merged episode is resolved.
type MergeStrategy string

const (
	MergeExtend  MergeStrategy = "extend"
	MergeReplace MergeStrategy = "replace"
	// MergeSkip currently resolves end time exactly like MergeReplace.
	MergeSkip MergeStrategy = "skip"
)

// Valid returns true when strategy is supported.
func (s MergeStrategy) Valid() bool {
	switch s {
	case MergeExtend, MergeReplace, MergeSkip:
		return true
	default:
		return false
	}
}

// ConflictResolution controls overlapping same-identifier events.
type ConflictResolution string

const (
	ConflictLatest   ConflictResolution = "latest"
	ConflictEarliest ConflictResolution = "earliest"
	ConflictLongest  ConflictResolution = "longest"
	ConflictMerge    ConflictResolution = "merge"
)

// Valid returns true when resolution is supported.
func (c ConflictResolution) Valid() bool {
	switch c {
	case ConflictLatest, ConflictEarliest, ConflictLongest, ConflictMerge:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidMaxGap             = errors.New("episodes: max gap minutes must be positive")
	ErrInvalidMinDuration        = errors.New("episodes: min duration minutes must not be negative")
	ErrInvalidMergeStrategy      = errors.New("episodes: invalid merge strategy")
	ErrInvalidConflictResolution = errors.New("episodes: invalid conflict resolution")
)

// Config is the interval consolidation policy.
type Config struct {
	MaxGapMinutes      float64            `yaml:"max_gap_minutes" toml:"max_gap_minutes" json:"maxGapMinutes"`
	MinDurationMinutes float64            `yaml:"min_duration_minutes" toml:"min_duration_minutes" json:"minDurationMinutes"`
	AllowOverlap       bool               `yaml:"allow_overlap" toml:"allow_overlap" json:"allowOverlap"`
	MergeStrategy      MergeStrategy      `yaml:"merge_strategy" toml:"merge_strategy" json:"mergeStrategy"`
	ConflictResolution ConflictResolution `yaml:"conflict_resolution" toml:"conflict_resolution" json:"conflictResolution"`
}

// DefaultConfig returns the default consolidation policy.
func DefaultConfig() Config {
	return Config{
		MaxGapMinutes:      15,
		MinDurationMinutes: 0,
		AllowOverlap:       true,
		MergeStrategy:      MergeExtend,
		ConflictResolution: ConflictLatest,
	}
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.MaxGapMinutes <= 0 {
		return ErrInvalidMaxGap
	}
	if c.MinDurationMinutes < 0 {
		return ErrInvalidMinDuration
	}
	if !c.MergeStrategy.Valid() {
		return ErrInvalidMergeStrategy
	}
	if !c.ConflictResolution.Valid() {
		return ErrInvalidConflictResolution
	}
	return nil
}
