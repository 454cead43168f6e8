package episodes

import (
	"time"

	telemetry "equipment-alerts/internal/telemetry/domain"
)

// Efficiency summarizes what consolidation did to a group of events.
type Efficiency struct {
	OriginalDuration     float64 `json:"originalDuration"`
	ConsolidatedDuration float64 `json:"consolidatedDuration"`
	GapsEliminated       int     `json:"gapsEliminated"`
	CompressionRatio     float64 `json:"compressionRatio"`
}

// ConsolidatedEpisode is one merged chain of same-identifier events.
type ConsolidatedEpisode struct {
	ID                string                      `json:"id"`
	StartTime         time.Time                   `json:"startTime"`
	EndTime           time.Time                   `json:"endTime"`
	Identifier        string                      `json:"identifier"`
	DurationMinutes   float64                     `json:"durationMinutes"`
	Kind              telemetry.Kind              `json:"kind"`
	Consolidated      bool                        `json:"consolidated"`
	RecordCount       int                         `json:"recordCount"`
	SourceEvents      []telemetry.NormalizedEvent `json:"sourceEvents"`
	Efficiency        Efficiency                  `json:"efficiency"`
	ConflictsResolved int                         `json:"conflictsResolved"`
}

// AsEvent converts the episode back into a single normalized event.
func (e ConsolidatedEpisode) AsEvent() telemetry.NormalizedEvent {
	return telemetry.NormalizedEvent{
		ID:              e.ID,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		Identifier:      e.Identifier,
		DurationMinutes: e.DurationMinutes,
		Kind:            e.Kind,
		RecordCount:     e.RecordCount,
	}
}

// Single wraps one event as an unconsolidated episode.
func Single(event telemetry.NormalizedEvent) ConsolidatedEpisode {
	return ConsolidatedEpisode{
		ID:              event.ID,
		StartTime:       event.StartTime,
		EndTime:         event.EndTime,
		Identifier:      event.Identifier,
		DurationMinutes: event.DurationMinutes,
		Kind:            event.Kind,
		Consolidated:    event.Records() > 1,
		RecordCount:     event.Records(),
		SourceEvents:    []telemetry.NormalizedEvent{event},
		Efficiency: Efficiency{
			OriginalDuration:     event.DurationMinutes,
			ConsolidatedDuration: event.DurationMinutes,
			CompressionRatio:     1,
		},
	}
}
