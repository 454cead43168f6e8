package application

import (
	"context"
	"errors"

	alarms "equipment-alerts/internal/alarms/domain"
)

// RepositorySink persists final alerts through an AlertRepository.
type RepositorySink struct {
	repo alarms.AlertRepository
}

// NewRepositorySink constructs a RepositorySink.
func NewRepositorySink(repo alarms.AlertRepository) (*RepositorySink, error) {
	if repo == nil {
		return nil, errors.New("pipeline: nil alert repository")
	}
	return &RepositorySink{repo: repo}, nil
}

// Publish upserts alerts by UniqueID.
func (s *RepositorySink) Publish(ctx context.Context, items []alarms.Alert) error {
	if len(items) == 0 {
		return nil
	}
	return s.repo.Upsert(ctx, items)
}
