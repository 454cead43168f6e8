package application

import (
	"context"
	"log"
	"time"
)

// Scheduler runs refresh cycles on a fixed interval.
type Scheduler struct {
	pipeline *Pipeline
	source   EventSource
	interval time.Duration
	logger   *log.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(pipeline *Pipeline, source EventSource, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		pipeline: pipeline,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the scheduler loop and returns when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.pipeline == nil || s.source == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.pipeline.RunOnce(ctx, s.source); err != nil && ctx.Err() == nil {
		s.logger.Printf("pipeline schedule error: err=%v", err)
	}
}
