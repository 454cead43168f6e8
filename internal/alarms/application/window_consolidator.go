package application

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	alarms "equipment-alerts/internal/alarms/domain"
	"equipment-alerts/internal/identity"
	"equipment-alerts/internal/observability/metrics"
)

const (
	defaultGroupKey = "default"
	multipleValue   = "multiple"
	sampleMaxRunes  = 100
)

// WindowConsolidator collapses bursts of similar alerts into summary alerts.
type WindowConsolidator struct {
	mu     sync.RWMutex
	cfg    alarms.WindowConfig
	store  *WindowStore
	clock  Clock
	logger *log.Logger
}

// WindowOption configures the window consolidator.
type WindowOption func(*WindowConsolidator)

// WithWindowStore shares a store, e.g. with a diagnostics handler.
func WithWindowStore(store *WindowStore) WindowOption {
	return func(c *WindowConsolidator) {
		if store != nil {
			c.store = store
		}
	}
}

// WithWindowClock overrides the default clock.
func WithWindowClock(clock Clock) WindowOption {
	return func(c *WindowConsolidator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithWindowLogger assigns a logger.
func WithWindowLogger(logger *log.Logger) WindowOption {
	return func(c *WindowConsolidator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewWindowConsolidator constructs a consolidator with a validated config.
func NewWindowConsolidator(cfg alarms.WindowConfig, opts ...WindowOption) (*WindowConsolidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &WindowConsolidator{
		cfg:    cfg,
		store:  NewWindowStore(),
		clock:  systemClock{},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the active config.
func (c *WindowConsolidator) Config() alarms.WindowConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig replaces the config; an invalid config leaves the previous one in place.
func (c *WindowConsolidator) UpdateConfig(cfg alarms.WindowConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Store exposes the underlying window store.
func (c *WindowConsolidator) Store() *WindowStore {
	return c.store
}

// Sweep expires stale windows using the configured max age.
func (c *WindowConsolidator) Sweep() int {
	return c.store.Sweep(c.clock.Now(), c.Config().MaxConsolidationAge)
}

// Process groups alerts, merges qualifying groups into active windows and
// returns pass-through alerts plus one summary per touched window. Any
// internal failure returns the input unchanged.
func (c *WindowConsolidator) Process(alerts []alarms.Alert) (out []alarms.Alert) {
	if len(alerts) == 0 {
		return []alarms.Alert{}
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("alarms: window consolidation failed, passing alerts through: count=%d err=%v", len(alerts), r)
			metrics.ObserveWindowProcess(metrics.ResultError, time.Since(started))
			out = append([]alarms.Alert(nil), alerts...)
		}
	}()

	cfg := c.Config()
	now := c.clock.Now()

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.sweepLocked(now, cfg.MaxConsolidationAge)
	out = c.processLocked(alerts, cfg, now)
	c.store.sweepLocked(now, cfg.MaxConsolidationAge)

	metrics.ObserveWindowProcess(metrics.ResultSuccess, time.Since(started))
	return out
}

func (c *WindowConsolidator) processLocked(alerts []alarms.Alert, cfg alarms.WindowConfig, now time.Time) []alarms.Alert {
	var keys []string
	groups := make(map[string][]alarms.Alert)
	for _, alert := range alerts {
		key := GroupKey(alert, cfg.GroupBy)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], alert)
	}

	out := make([]alarms.Alert, 0, len(alerts))
	var passed, summaries int
	for _, key := range keys {
		recent, stale := splitByWindow(groups[key], cfg.ConsolidationWindow)
		out = append(out, stale...)
		passed += len(stale)
		if len(recent) < cfg.MinAlertsToConsolidate {
			out = append(out, recent...)
			passed += len(recent)
			continue
		}

		// A window never holds more than MaxConsolidatedAlerts; overflow
		// seals it and continues in a fresh one.
		for remaining := recent; len(remaining) > 0; {
			window := c.store.windows[key]
			if window != nil && window.Age(now) < cfg.MaxConsolidationAge && window.Count < cfg.MaxConsolidatedAlerts {
				take := min(cfg.MaxConsolidatedAlerts-window.Count, len(remaining))
				window.Alerts = append(window.Alerts, remaining[:take]...)
				window.Count = len(window.Alerts)
				window.LastUpdated = now
				remaining = remaining[take:]
			} else {
				if window != nil {
					c.store.sealLocked(key, now)
				}
				take := min(cfg.MaxConsolidatedAlerts, len(remaining))
				members := append([]alarms.Alert(nil), remaining[:take]...)
				window = &alarms.ActiveWindow{
					ID:          identity.Prefixed("win", key, identity.Time(now), members[0].UniqueID),
					GroupKey:    key,
					Alerts:      members,
					CreatedAt:   now,
					LastUpdated: now,
					Count:       len(members),
				}
				c.store.windows[key] = window
				remaining = remaining[take:]
			}
			out = append(out, summarize(window, cfg))
			summaries++
		}
	}
	metrics.AddAlertsEmitted(false, passed)
	metrics.AddAlertsEmitted(true, summaries)
	return out
}

// splitByWindow separates alerts within window of the group's newest alert
// from older ones. Both keep input order.
func splitByWindow(alerts []alarms.Alert, window time.Duration) (recent, stale []alarms.Alert) {
	var newest time.Time
	for _, alert := range alerts {
		if alert.Timestamp.After(newest) {
			newest = alert.Timestamp
		}
	}
	for _, alert := range alerts {
		if newest.Sub(alert.Timestamp) <= window {
			recent = append(recent, alert)
		} else {
			stale = append(stale, alert)
		}
	}
	return recent, stale
}

// GroupKey builds the window key for alert from the enabled group-by fields.
func GroupKey(alert alarms.Alert, by alarms.GroupBy) string {
	var parts []string
	if by.Equipment && alert.Equipment != "" {
		parts = append(parts, "equipment:"+alert.Equipment)
	}
	if by.EventType && alert.EventType != "" {
		parts = append(parts, "eventType:"+alert.EventType)
	}
	if by.EquipmentGroups && len(alert.EquipmentGroups) > 0 {
		groups := append([]string(nil), alert.EquipmentGroups...)
		sort.Strings(groups)
		parts = append(parts, "equipmentGroups:"+strings.Join(groups, ","))
	}
	if by.RuleID && alert.RuleID != "" {
		parts = append(parts, "ruleId:"+alert.RuleID)
	}
	if by.Severity && alert.Severity != "" {
		parts = append(parts, "severity:"+string(alert.Severity))
	}
	if len(parts) == 0 {
		return defaultGroupKey
	}
	return strings.Join(parts, "|")
}

var errEmptyWindow = errors.New("alarms: empty window")

func summarize(window *alarms.ActiveWindow, cfg alarms.WindowConfig) alarms.Alert {
	members := window.Alerts
	if len(members) == 0 {
		panic(errEmptyWindow)
	}
	first := members[0]
	severity := first.Severity
	score := first.CriticalityScore
	earliest, latest := first.Timestamp, first.Timestamp
	equipment, eventType, ruleID := first.Equipment, first.EventType, first.RuleID
	var groups []string
	seen := make(map[string]struct{})
	for _, m := range members {
		severity = alarms.MaxSeverity(severity, m.Severity)
		if m.CriticalityScore > score {
			score = m.CriticalityScore
		}
		if m.Timestamp.Before(earliest) {
			earliest = m.Timestamp
		}
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
		if m.Equipment != equipment {
			equipment = multipleValue
		}
		if m.EventType != eventType {
			eventType = multipleValue
		}
		if m.RuleID != ruleID {
			ruleID = multipleValue
		}
		for _, g := range m.EquipmentGroups {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			groups = append(groups, g)
		}
	}
	if groups == nil {
		groups = []string{}
	}

	minutes := int(cfg.ConsolidationWindow / time.Minute)
	message := fmt.Sprintf("[CONSOLIDATED] %d similar alerts for %s (%s) in %d minutes. Example: \"%s\"",
		len(members), equipment, eventType, minutes, truncate(first.Message, sampleMaxRunes))

	return alarms.Alert{
		ID:                window.ID,
		UniqueID:          SummaryUniqueID(window),
		Equipment:         equipment,
		EquipmentGroups:   groups,
		RuleID:            ruleID,
		Severity:          severity,
		Message:           message,
		EventType:         eventType,
		Timestamp:         latest,
		Consolidated:      true,
		ConsolidatedCount: len(members),
		FirstOccurrence:   earliest,
		LastOccurrence:    latest,
		CriticalityScore:  score,
	}
}

// SummaryUniqueID identifies the summary of window. It depends on the window
// alone so every re-emission replaces the previous summary downstream.
func SummaryUniqueID(window *alarms.ActiveWindow) string {
	return identity.Prefixed("alert", "window", window.ID)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
