package application

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often stale windows are expired.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically expires stale alert windows.
type Sweeper struct {
	consolidator *WindowConsolidator
	interval     time.Duration
	logger       *log.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(consolidator *WindowConsolidator, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{consolidator: consolidator, interval: interval, logger: logger}
}

// Start runs the sweep loop until ctx is done. It may be started again afterwards.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil || s.consolidator == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.consolidator.Sweep(); n > 0 {
				s.logger.Printf("alarms: swept windows count=%d", n)
			}
		}
	}
}
