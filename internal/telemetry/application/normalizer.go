package application

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"equipment-alerts/internal/identity"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// Rejection records why a raw event was dropped.
type Rejection struct {
	Index  int
	Source string
	Kind   telemetry.Kind
	Err    error
}

// NormalizeResult holds the accepted events and the dropped records.
type NormalizeResult struct {
	Events   []telemetry.NormalizedEvent
	Rejected []Rejection
}

// Dropped returns the number of rejected records.
func (r NormalizeResult) Dropped() int {
	return len(r.Rejected)
}

// Normalizer converts raw events into NormalizedEvents.
type Normalizer struct {
	location *time.Location
}

// NormalizerOption configures the normalizer.
type NormalizerOption func(*Normalizer)

// WithLocation sets the zone used for timestamps without an offset.
func WithLocation(loc *time.Location) NormalizerOption {
	return func(n *Normalizer) {
		if loc != nil {
			n.location = loc
		}
	}
}

// NewNormalizer constructs a normalizer. Naive timestamps default to UTC.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{location: time.UTC}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize parses every raw event, dropping malformed records.
func (n *Normalizer) Normalize(raw []telemetry.RawEvent) NormalizeResult {
	result := NormalizeResult{Events: make([]telemetry.NormalizedEvent, 0, len(raw))}
	for i, record := range raw {
		event, err := n.NormalizeOne(record)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Index: i, Source: record.Source, Kind: record.Kind, Err: err})
			continue
		}
		result.Events = append(result.Events, event)
	}
	return result
}

// NormalizeOne parses a single raw event.
func (n *Normalizer) NormalizeOne(record telemetry.RawEvent) (telemetry.NormalizedEvent, error) {
	if !record.Kind.Valid() {
		return telemetry.NormalizedEvent{}, telemetry.ErrUnknownKind
	}
	start, ok := n.parseTime(record.StartRaw)
	if !ok {
		return telemetry.NormalizedEvent{}, telemetry.ErrInvalidStart
	}
	end, ok := n.parseTime(record.EndRaw)
	if !ok {
		return telemetry.NormalizedEvent{}, telemetry.ErrInvalidEnd
	}
	if end.Before(start) {
		return telemetry.NormalizedEvent{}, telemetry.ErrEndBeforeStart
	}
	id := parseIdentifier(record.IdentifierRaw)
	if id == "" {
		return telemetry.NormalizedEvent{}, telemetry.ErrMissingIdentifier
	}
	return telemetry.NormalizedEvent{
		ID:              identity.Prefixed("evt", record.Source, string(record.Kind), id, identity.Time(start), identity.Time(end)),
		StartTime:       start,
		EndTime:         end,
		Identifier:      id,
		DurationMinutes: telemetry.Minutes(end.Sub(start)),
		Kind:            record.Kind,
		OriginalPayload: record.Payload,
	}, nil
}

func (n *Normalizer) parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case int64:
		return epoch(v)
	case int:
		return epoch(int64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, false
		}
		return epoch(int64(v))
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return epoch(parsed)
	case string:
		return n.parseString(v)
	default:
		return time.Time{}, false
	}
}

func (n *Normalizer) parseString(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if numeric, err := strconv.ParseInt(value, 10, 64); err == nil {
		return epoch(numeric)
	}
	for _, layout := range timeLayouts {
		parsed, err := time.ParseInLocation(layout, value, n.location)
		if err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// epoch accepts milliseconds or seconds.
func epoch(value int64) (time.Time, bool) {
	if value <= 0 {
		return time.Time{}, false
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), true
	}
	return time.Unix(value, 0).UTC(), true
}

func parseIdentifier(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
