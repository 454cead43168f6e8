package application

import (
	"sort"
	"sync"
	"time"

	alarms "equipment-alerts/internal/alarms/domain"
	"equipment-alerts/internal/observability/metrics"
)

const (
	historyLimit  = 1000
	historyRetain = 500
)

// WindowStore owns active windows and the bounded window history. Its mutex
// is held for a whole Process or Sweep call.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string]*alarms.ActiveWindow
	history []alarms.HistoryEntry
}

// NewWindowStore constructs an empty store.
func NewWindowStore() *WindowStore {
	return &WindowStore{windows: make(map[string]*alarms.ActiveWindow)}
}

// Sweep removes windows whose age reached maxAge and returns how many were removed.
func (s *WindowStore) Sweep(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now, maxAge)
}

func (s *WindowStore) sweepLocked(now time.Time, maxAge time.Duration) int {
	var expired []string
	for key, w := range s.windows {
		if w.Age(now) >= maxAge {
			expired = append(expired, key)
		}
	}
	sort.Strings(expired)
	for _, key := range expired {
		s.sealLocked(key, now)
	}
	if len(expired) > 0 {
		metrics.AddWindowsSwept(len(expired))
	}
	metrics.SetActiveWindows(len(s.windows))
	return len(expired)
}

func (s *WindowStore) sealLocked(key string, now time.Time) {
	w, ok := s.windows[key]
	if !ok {
		return
	}
	delete(s.windows, key)
	s.history = append(s.history, alarms.HistoryEntry{
		GroupKey:   key,
		Timestamp:  now,
		AlertCount: w.Count,
	})
	if len(s.history) > historyLimit {
		trimmed := make([]alarms.HistoryEntry, historyRetain)
		copy(trimmed, s.history[len(s.history)-historyRetain:])
		s.history = trimmed
	}
}

// Snapshot returns copies of the active windows ordered by group key.
func (s *WindowStore) Snapshot() []alarms.ActiveWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alarms.ActiveWindow, 0, len(s.windows))
	for _, w := range s.windows {
		cp := *w
		cp.Alerts = append([]alarms.Alert(nil), w.Alerts...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupKey < out[j].GroupKey })
	return out
}

// History returns a copy of the sealed window history, oldest first.
func (s *WindowStore) History() []alarms.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alarms.HistoryEntry(nil), s.history...)
}

// Len returns the number of active windows.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
