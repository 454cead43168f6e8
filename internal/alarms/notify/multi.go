package notify

import (
	"context"
	"errors"

	alarms "equipment-alerts/internal/alarms/domain"
)

// Sink consumes final alerts.
type Sink interface {
	Publish(ctx context.Context, alerts []alarms.Alert) error
}

// MultiSink dispatches alerts to multiple sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink constructs a MultiSink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish forwards alerts to every sink and joins their errors.
func (m *MultiSink) Publish(ctx context.Context, alerts []alarms.Alert) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, sink := range m.sinks {
		if sink != nil {
			if err := sink.Publish(ctx, alerts); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
