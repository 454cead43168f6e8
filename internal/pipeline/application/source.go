package application

import (
	"context"
	"errors"
	"sync"

	telemetry "equipment-alerts/internal/telemetry/domain"
)

// ErrBufferFull is returned when an ingest would exceed the buffer limit.
var ErrBufferFull = errors.New("pipeline: event buffer full")

// EventSource supplies equipment batches for a refresh cycle.
type EventSource interface {
	Fetch(ctx context.Context) ([]telemetry.EquipmentBatch, error)
}

// Buffer is an in-memory EventSource fed by the ingest endpoint. Fetch drains it.
type Buffer struct {
	mu     sync.Mutex
	limit  int
	size   int
	order  []string
	byName map[string]*telemetry.EquipmentBatch
}

// NewBuffer constructs a buffer holding at most limit raw events; limit <= 0 means unbounded.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit, byName: make(map[string]*telemetry.EquipmentBatch)}
}

// Add merges batches into the buffer by equipment. Either all batches are
// accepted or none.
func (b *Buffer) Add(batches ...telemetry.EquipmentBatch) error {
	incoming := 0
	for _, batch := range batches {
		if batch.Equipment == "" {
			return errors.New("pipeline: empty equipment")
		}
		incoming += len(batch.Status) + len(batch.Apontamentos)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.size+incoming > b.limit {
		return ErrBufferFull
	}
	for _, batch := range batches {
		current, ok := b.byName[batch.Equipment]
		if !ok {
			current = &telemetry.EquipmentBatch{Equipment: batch.Equipment}
			b.byName[batch.Equipment] = current
			b.order = append(b.order, batch.Equipment)
		}
		if len(batch.Groups) > 0 {
			current.Groups = append([]string(nil), batch.Groups...)
		}
		current.Status = append(current.Status, batch.Status...)
		current.Apontamentos = append(current.Apontamentos, batch.Apontamentos...)
	}
	b.size += incoming
	return nil
}

// Len returns the number of buffered raw events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Fetch drains the buffer in first-ingest order.
func (b *Buffer) Fetch(ctx context.Context) ([]telemetry.EquipmentBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]telemetry.EquipmentBatch, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.byName[name])
	}
	b.order = nil
	b.byName = make(map[string]*telemetry.EquipmentBatch)
	b.size = 0
	return out, nil
}

// MultiSource concatenates batches from several sources. A failing source is
// reported after the others have been fetched.
type MultiSource []EventSource

// Fetch implements EventSource.
func (m MultiSource) Fetch(ctx context.Context) ([]telemetry.EquipmentBatch, error) {
	var (
		out  []telemetry.EquipmentBatch
		errs []error
	)
	for _, src := range m {
		if src == nil {
			continue
		}
		batches, err := src.Fetch(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, batches...)
	}
	return out, errors.Join(errs...)
}
