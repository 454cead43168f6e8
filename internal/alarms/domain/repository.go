package alarms

import (
	"context"
	"time"
)

// DefaultListLimit bounds ListRecent when the query sets no limit.
const DefaultListLimit = 500

// AlertQuery filters persisted alerts. Zero fields are not applied.
type AlertQuery struct {
	Equipment string
	From      time.Time
	To        time.Time
	Limit     int
}

// EffectiveLimit returns the limit to apply.
func (q AlertQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	return q.Limit
}

// Matches reports whether alert satisfies the query filters.
func (q AlertQuery) Matches(alert Alert) bool {
	if q.Equipment != "" && alert.Equipment != q.Equipment {
		return false
	}
	if !q.From.IsZero() && alert.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !alert.Timestamp.Before(q.To) {
		return false
	}
	return true
}

// AlertRepository persists final alerts keyed by UniqueID. Upserting an alert
// whose UniqueID exists replaces the stored content.
type AlertRepository interface {
	Upsert(ctx context.Context, alerts []Alert) error
	GetByUniqueID(ctx context.Context, uniqueID string) (*Alert, error)
	ListRecent(ctx context.Context, query AlertQuery) ([]Alert, error)
}
