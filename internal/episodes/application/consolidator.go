package application

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	episodes "equipment-alerts/internal/episodes/domain"
	"equipment-alerts/internal/identity"
	"equipment-alerts/internal/observability/metrics"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

var errInvariant = errors.New("episodes: episode ends before it starts")

// EquipmentResult is the outcome of consolidating one equipment stream.
type EquipmentResult struct {
	Equipment  string
	Kind       telemetry.Kind
	Episodes   []episodes.ConsolidatedEpisode
	FailedOpen bool
	Err        error
}

// Consolidator merges chains of normalized events into episodes.
type Consolidator struct {
	mu     sync.RWMutex
	cfg    episodes.Config
	logger *log.Logger
}

// ConsolidatorOption configures the consolidator.
type ConsolidatorOption func(*Consolidator)

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ConsolidatorOption {
	return func(c *Consolidator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsolidator validates cfg and constructs a consolidator.
func NewConsolidator(cfg episodes.Config, opts ...ConsolidatorOption) (*Consolidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Consolidator{cfg: cfg, logger: log.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the active policy.
func (c *Consolidator) Config() episodes.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig swaps the policy. An invalid cfg is rejected and the
// previous policy stays in effect.
func (c *Consolidator) UpdateConfig(cfg episodes.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Consolidate merges events of the given kind into episodes. An empty kind
// accepts every event.
func (c *Consolidator) Consolidate(events []telemetry.NormalizedEvent, kind telemetry.Kind) []episodes.ConsolidatedEpisode {
	return c.ConsolidateEquipment("", events, kind).Episodes
}

// ConsolidateEquipment is Consolidate with fail-open handling: any internal
// failure returns the input events unmerged instead of dropping them.
func (c *Consolidator) ConsolidateEquipment(equipment string, events []telemetry.NormalizedEvent, kind telemetry.Kind) (result EquipmentResult) {
	result = EquipmentResult{Equipment: equipment, Kind: kind}
	cfg := c.Config()
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("episodes: consolidation panic: %v", r)
		}
		if result.Err != nil {
			result.Episodes = passthrough(events, kind)
			result.FailedOpen = true
			metrics.IncConsolidationFailOpen(string(kind))
			c.logger.Printf("episodes: consolidation failed, returning raw events: equipment=%s kind=%s err=%v", equipment, kind, result.Err)
		}
	}()
	out, err := consolidate(cfg, events, kind)
	if err != nil {
		result.Err = err
		return result
	}
	result.Episodes = out
	metrics.AddEpisodes(string(kind), len(out))
	return result
}

func consolidate(cfg episodes.Config, events []telemetry.NormalizedEvent, kind telemetry.Kind) ([]episodes.ConsolidatedEpisode, error) {
	sorted := make([]telemetry.NormalizedEvent, 0, len(events))
	for _, event := range events {
		if eligible(event, kind) {
			sorted = append(sorted, event)
		}
	}
	if len(sorted) == 0 {
		return []episodes.ConsolidatedEpisode{}, nil
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	var out []episodes.ConsolidatedEpisode
	group := []telemetry.NormalizedEvent{sorted[0]}
	for _, next := range sorted[1:] {
		if joins(cfg, group[len(group)-1], next) {
			group = append(group, next)
			continue
		}
		episode, err := buildEpisode(cfg, group)
		if err != nil {
			return nil, err
		}
		out = append(out, episode)
		group = []telemetry.NormalizedEvent{next}
	}
	episode, err := buildEpisode(cfg, group)
	if err != nil {
		return nil, err
	}
	out = append(out, episode)

	if !cfg.AllowOverlap {
		out = resolveOverlaps(cfg.ConflictResolution, out)
	}
	if cfg.MinDurationMinutes > 0 {
		kept := out[:0]
		for _, ep := range out {
			if ep.DurationMinutes >= cfg.MinDurationMinutes {
				kept = append(kept, ep)
			}
		}
		out = kept
	}
	return out, nil
}

// eligible reports whether event belongs to kind and carries both timestamps.
func eligible(event telemetry.NormalizedEvent, kind telemetry.Kind) bool {
	if kind != "" && event.Kind != kind {
		return false
	}
	return !event.StartTime.IsZero() && !event.EndTime.IsZero()
}

func joins(cfg episodes.Config, last, next telemetry.NormalizedEvent) bool {
	if last.Identifier != next.Identifier {
		return false
	}
	gap := telemetry.Minutes(next.StartTime.Sub(last.EndTime))
	if gap > cfg.MaxGapMinutes {
		return false
	}
	if gap < 0 && cfg.ConflictResolution != episodes.ConflictMerge {
		return false
	}
	return true
}

func buildEpisode(cfg episodes.Config, group []telemetry.NormalizedEvent) (episodes.ConsolidatedEpisode, error) {
	first := group[0]
	if len(group) == 1 {
		if first.EndTime.Before(first.StartTime) {
			return episodes.ConsolidatedEpisode{}, errInvariant
		}
		return episodes.Single(first), nil
	}

	last := group[len(group)-1]
	end := last.EndTime
	if cfg.MergeStrategy == episodes.MergeExtend {
		for _, member := range group {
			if member.EndTime.After(end) {
				end = member.EndTime
			}
		}
	}
	if end.Before(first.StartTime) {
		return episodes.ConsolidatedEpisode{}, errInvariant
	}

	var original float64
	records := 0
	gaps := 0
	conflicts := 0
	ids := make([]string, 0, len(group))
	for i, member := range group {
		original += member.DurationMinutes
		records += member.Records()
		ids = append(ids, member.ID)
		if i == 0 {
			continue
		}
		prevEnd := group[i-1].EndTime
		if member.StartTime.Before(prevEnd) {
			conflicts++
		} else if member.StartTime.After(prevEnd) {
			gaps++
		}
	}
	duration := telemetry.Minutes(end.Sub(first.StartTime))
	ratio := 1.0
	if original > 0 {
		ratio = duration / original
	}
	members := make([]telemetry.NormalizedEvent, len(group))
	copy(members, group)

	return episodes.ConsolidatedEpisode{
		ID:              identity.Prefixed("ep", ids...),
		StartTime:       first.StartTime,
		EndTime:         end,
		Identifier:      first.Identifier,
		DurationMinutes: duration,
		Kind:            first.Kind,
		Consolidated:    true,
		RecordCount:     records,
		SourceEvents:    members,
		Efficiency: episodes.Efficiency{
			OriginalDuration:     original,
			ConsolidatedDuration: duration,
			GapsEliminated:       gaps,
			CompressionRatio:     ratio,
		},
		ConflictsResolved: conflicts,
	}, nil
}

// resolveOverlaps drops one side of every overlapping same-identifier pair
// that the scan left unmerged. ConflictMerge keeps both.
func resolveOverlaps(policy episodes.ConflictResolution, in []episodes.ConsolidatedEpisode) []episodes.ConsolidatedEpisode {
	if policy == episodes.ConflictMerge {
		return in
	}
	dropped := make([]bool, len(in))
	lastByIdentifier := make(map[string]int)
	for i := range in {
		ep := in[i]
		idx, seen := lastByIdentifier[ep.Identifier]
		if !seen || !ep.StartTime.Before(in[idx].EndTime) {
			lastByIdentifier[ep.Identifier] = i
			continue
		}
		keepNew := false
		switch policy {
		case episodes.ConflictLatest:
			keepNew = true
		case episodes.ConflictLongest:
			keepNew = ep.DurationMinutes > in[idx].DurationMinutes
		}
		if keepNew {
			dropped[idx] = true
			in[i].ConflictsResolved += in[idx].ConflictsResolved + 1
			lastByIdentifier[ep.Identifier] = i
			continue
		}
		dropped[i] = true
		in[idx].ConflictsResolved++
	}
	out := make([]episodes.ConsolidatedEpisode, 0, len(in))
	for i, ep := range in {
		if !dropped[i] {
			out = append(out, ep)
		}
	}
	return out
}

func passthrough(events []telemetry.NormalizedEvent, kind telemetry.Kind) []episodes.ConsolidatedEpisode {
	out := make([]episodes.ConsolidatedEpisode, 0, len(events))
	for _, event := range events {
		if !eligible(event, kind) {
			continue
		}
		out = append(out, episodes.Single(event))
	}
	return out
}
