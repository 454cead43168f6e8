package alarms

import "time"

// ActiveWindow accumulates alerts sharing a group key.
type ActiveWindow struct {
	ID          string    `json:"id"`
	GroupKey    string    `json:"groupKey"`
	Alerts      []Alert   `json:"alerts"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	Count       int       `json:"count"`
}

// Age returns how long the window has existed at now.
func (w ActiveWindow) Age(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}

// HistoryEntry is a diagnostic record of a sealed or swept window.
type HistoryEntry struct {
	GroupKey   string    `json:"groupKey"`
	Timestamp  time.Time `json:"timestamp"`
	AlertCount int       `json:"alertCount"`
}

// GroupBy selects the alert fields that form the window group key.
type GroupBy struct {
	Equipment       bool `yaml:"equipment" toml:"equipment" json:"equipment"`
	EventType       bool `yaml:"event_type" toml:"event_type" json:"eventType"`
	EquipmentGroups bool `yaml:"equipment_groups" toml:"equipment_groups" json:"equipmentGroups"`
	RuleID          bool `yaml:"rule_id" toml:"rule_id" json:"ruleId"`
	Severity        bool `yaml:"severity" toml:"severity" json:"severity"`
}

// WindowConfig is the alert window consolidation policy.
type WindowConfig struct {
	ConsolidationWindow    time.Duration `yaml:"consolidation_window" toml:"consolidation_window" json:"consolidationWindow"`
	MaxConsolidatedAlerts  int           `yaml:"max_consolidated_alerts" toml:"max_consolidated_alerts" json:"maxConsolidatedAlerts"`
	MinAlertsToConsolidate int           `yaml:"min_alerts_to_consolidate" toml:"min_alerts_to_consolidate" json:"minAlertsToConsolidate"`
	MaxConsolidationAge    time.Duration `yaml:"max_consolidation_age" toml:"max_consolidation_age" json:"maxConsolidationAge"`
	GroupBy                GroupBy       `yaml:"group_by" toml:"group_by" json:"groupBy"`
}

// DefaultWindowConfig returns the default window policy.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		ConsolidationWindow:    30 * time.Minute,
		MaxConsolidatedAlerts:  50,
		MinAlertsToConsolidate: 3,
		MaxConsolidationAge:    2 * time.Hour,
		GroupBy: GroupBy{
			Equipment: true,
			EventType: true,
			RuleID:    true,
		},
	}
}

// Validate checks config invariants.
func (c WindowConfig) Validate() error {
	if c.ConsolidationWindow <= 0 {
		return ErrInvalidConsolidationWindow
	}
	if c.MaxConsolidatedAlerts <= 0 {
		return ErrInvalidMaxConsolidated
	}
	if c.MinAlertsToConsolidate < 2 {
		return ErrInvalidMinToConsolidate
	}
	if c.MaxConsolidationAge <= 0 {
		return ErrInvalidMaxAge
	}
	return nil
}
