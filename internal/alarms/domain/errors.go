package alarms

import "errors"

var (
	// ErrNotFound indicates a missing alert record.
	ErrNotFound = errors.New("alarm: not found")

	ErrInvalidConsolidationWindow = errors.New("alarm windows: consolidation window must be positive")
	ErrInvalidMaxConsolidated     = errors.New("alarm windows: max consolidated alerts must be positive")
	ErrInvalidMinToConsolidate    = errors.New("alarm windows: min alerts to consolidate must be at least 2")
	ErrInvalidMaxAge              = errors.New("alarm windows: max consolidation age must be positive")
)
