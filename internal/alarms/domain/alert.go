package alarms

import (
	"time"

	telemetry "equipment-alerts/internal/telemetry/domain"
)

const EventTypeError = "error"

// RuleMatch is one rule that fired for an equipment episode.
type RuleMatch struct {
	RuleID     string         `json:"ruleId"`
	Name       string         `json:"name"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// EquipmentContext carries equipment state used to enrich alerts.
type EquipmentContext struct {
	Groups       []string                    `json:"groups,omitempty"`
	Status       []telemetry.NormalizedEvent `json:"status,omitempty"`
	Apontamentos []telemetry.NormalizedEvent `json:"apontamentos,omitempty"`
}

// PrimaryGroup returns the first group, or "".
func (c EquipmentContext) PrimaryGroup() string {
	if len(c.Groups) == 0 {
		return ""
	}
	return c.Groups[0]
}

// StatusSample is a compact view of a recent status event.
type StatusSample struct {
	Identifier string    `json:"identifier"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// AlertContext is optional enrichment computed from EquipmentContext.
type AlertContext struct {
	RecentStatus    []StatusSample `json:"recentStatus,omitempty"`
	EventFrequency  float64        `json:"eventFrequency"`
	UtilizationRate float64        `json:"utilizationRate"`
}

// Alert is a generated notification, either raw or a window summary.
type Alert struct {
	ID                string        `json:"id"`
	UniqueID          string        `json:"uniqueId"`
	Equipment         string        `json:"equipment"`
	EquipmentGroups   []string      `json:"equipmentGroups"`
	RuleID            string        `json:"ruleId"`
	Severity          Severity      `json:"severity"`
	Message           string        `json:"message"`
	EventType         string        `json:"eventType"`
	Timestamp         time.Time     `json:"timestamp"`
	Consolidated      bool          `json:"consolidated"`
	ConsolidatedCount int           `json:"consolidatedCount"`
	FirstOccurrence   time.Time     `json:"firstOccurrence"`
	LastOccurrence    time.Time     `json:"lastOccurrence"`
	CriticalityScore  int           `json:"criticalityScore"`
	Context           *AlertContext `json:"context,omitempty"`
}
