package telemetry

import (
	"errors"
	"time"
)

// Kind identifies the telemetry stream an event belongs to.
type Kind string

const (
	KindStatus      Kind = "status"
	KindApontamento Kind = "apontamento"
)

// Valid returns true when kind is supported.
func (k Kind) Valid() bool {
	switch k {
	case KindStatus, KindApontamento:
		return true
	default:
		return false
	}
}

var (
	ErrUnknownKind       = errors.New("telemetry: unknown event kind")
	ErrInvalidStart      = errors.New("telemetry: unparseable start time")
	ErrInvalidEnd        = errors.New("telemetry: unparseable end time")
	ErrEndBeforeStart    = errors.New("telemetry: end before start")
	ErrMissingIdentifier = errors.New("telemetry: missing identifier")
)

// RawEvent is a record as delivered by the acquisition side. Field values are
// left in their transport shape and resolved by the normalizer.
type RawEvent struct {
	Source        string         `json:"source"`
	Kind          Kind           `json:"kind"`
	StartRaw      any            `json:"start"`
	EndRaw        any            `json:"end"`
	IdentifierRaw any            `json:"identifier"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NormalizedEvent is a validated event with resolved timestamps.
type NormalizedEvent struct {
	ID              string         `json:"id"`
	StartTime       time.Time      `json:"startTime"`
	EndTime         time.Time      `json:"endTime"`
	Identifier      string         `json:"identifier"`
	DurationMinutes float64        `json:"durationMinutes"`
	Kind            Kind           `json:"kind"`
	OriginalPayload map[string]any `json:"originalPayload,omitempty"`
	// RecordCount is the number of raw records the event stands for when it
	// was rebuilt from an episode. Zero means one.
	RecordCount int `json:"recordCount,omitempty"`
}

// Records returns how many raw records the event represents.
func (e NormalizedEvent) Records() int {
	if e.RecordCount < 1 {
		return 1
	}
	return e.RecordCount
}

// Duration returns the event span.
func (e NormalizedEvent) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Minutes converts a duration to fractional minutes.
func Minutes(d time.Duration) float64 {
	return float64(d) / float64(time.Minute)
}

// EquipmentBatch groups the raw events of one equipment for a refresh cycle.
type EquipmentBatch struct {
	Equipment    string     `json:"equipment"`
	Groups       []string   `json:"groups,omitempty"`
	Status       []RawEvent `json:"status,omitempty"`
	Apontamentos []RawEvent `json:"apontamentos,omitempty"`
}

// Events returns raw events of the requested kind.
func (b EquipmentBatch) Events(kind Kind) []RawEvent {
	switch kind {
	case KindStatus:
		return b.Status
	case KindApontamento:
		return b.Apontamentos
	default:
		return nil
	}
}
