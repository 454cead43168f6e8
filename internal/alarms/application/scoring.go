package application

import (
	"sort"
	"strings"

	alarms "equipment-alerts/internal/alarms/domain"
	episodes "equipment-alerts/internal/episodes/domain"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

const recentStatusSamples = 5

// DefaultOperatingIdentifiers are status identifiers counted as utilized time.
var DefaultOperatingIdentifiers = []string{
	"on",
	"operating",
	"running",
	"working",
	"ligado",
	"operando",
	"em operacao",
	"trabalhando",
}

// enrichment is AlertContext plus whether utilization could be measured.
type enrichment struct {
	alarms.AlertContext
	utilizationKnown bool
}

func enrich(ctx alarms.EquipmentContext, episode episodes.ConsolidatedEpisode, operating map[string]struct{}) enrichment {
	var out enrichment

	status := make([]telemetry.NormalizedEvent, len(ctx.Status))
	copy(status, ctx.Status)
	sort.SliceStable(status, func(i, j int) bool {
		return status[i].StartTime.Before(status[j].StartTime)
	})
	from := len(status) - recentStatusSamples
	if from < 0 {
		from = 0
	}
	for _, evt := range status[from:] {
		out.RecentStatus = append(out.RecentStatus, alarms.StatusSample{
			Identifier: evt.Identifier,
			StartTime:  evt.StartTime,
			EndTime:    evt.EndTime,
		})
	}

	if len(ctx.Apontamentos) > 0 {
		same := 0
		for _, evt := range ctx.Apontamentos {
			if evt.Identifier == episode.Identifier {
				same++
			}
		}
		out.EventFrequency = float64(same) / float64(len(ctx.Apontamentos))
	}

	var total, busy float64
	for _, evt := range ctx.Status {
		total += evt.DurationMinutes
		if _, ok := operating[strings.ToLower(strings.TrimSpace(evt.Identifier))]; ok {
			busy += evt.DurationMinutes
		}
	}
	if total > 0 {
		out.UtilizationRate = busy / total
		out.utilizationKnown = true
	}
	return out
}

// CriticalityScore combines severity with duration, consolidation and usage
// signals into a 0-10 score.
func CriticalityScore(severity alarms.Severity, durationMinutes float64, consolidated bool, utilization, frequency float64) int {
	score := severity.Rank()
	switch {
	case durationMinutes > 60:
		score += 2
	case durationMinutes > 30:
		score++
	}
	if consolidated {
		score++
	}
	if utilization > 0.8 {
		score++
	}
	if frequency > 0.5 {
		score++
	}
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// ScaleSeverity moves severity one step up or down from episode signals.
// When both directions trigger the severity is left unchanged.
func ScaleSeverity(severity alarms.Severity, episode episodes.ConsolidatedEpisode, utilization float64, utilizationKnown bool) alarms.Severity {
	escalate := episode.DurationMinutes > 120 ||
		(episode.Consolidated && episode.RecordCount > 10) ||
		(utilizationKnown && utilization > 0.9)
	deescalate := episode.DurationMinutes < 5 ||
		(utilizationKnown && utilization < 0.1)
	switch {
	case escalate && deescalate:
		return severity
	case escalate:
		return severity.Escalate()
	case deescalate:
		return severity.Deescalate()
	default:
		return severity
	}
}
