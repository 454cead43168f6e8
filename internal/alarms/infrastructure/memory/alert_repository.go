package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	alarms "equipment-alerts/internal/alarms/domain"
)

// AlertRepository keeps alerts in memory.
type AlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]alarms.Alert
}

// NewAlertRepository constructs an empty repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]alarms.Alert)}
}

// Upsert stores alerts by UniqueID.
func (r *AlertRepository) Upsert(ctx context.Context, alerts []alarms.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, alert := range alerts {
		if alert.UniqueID == "" {
			return errors.New("alert repo: empty unique id")
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, alert := range alerts {
		if prev, ok := r.alerts[alert.UniqueID]; ok && prev.ID != "" {
			alert.ID = prev.ID
		}
		r.alerts[alert.UniqueID] = alert
	}
	return nil
}

// GetByUniqueID returns a stored alert.
func (r *AlertRepository) GetByUniqueID(_ context.Context, uniqueID string) (*alarms.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[uniqueID]
	if !ok {
		return nil, alarms.ErrNotFound
	}
	return &alert, nil
}

// ListRecent returns matching alerts, newest first.
func (r *AlertRepository) ListRecent(_ context.Context, query alarms.AlertQuery) ([]alarms.Alert, error) {
	r.mu.RLock()
	out := make([]alarms.Alert, 0, len(r.alerts))
	for _, alert := range r.alerts {
		if query.Matches(alert) {
			out = append(out, alert)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].UniqueID < out[j].UniqueID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := query.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
