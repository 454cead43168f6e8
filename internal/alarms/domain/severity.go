package alarms

import "strings"

// Severity is the alert urgency level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityLadder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity normalizes a severity string. Unknown values map to medium.
func ParseSeverity(value string) Severity {
	s := Severity(strings.TrimSpace(strings.ToLower(value)))
	if s.Rank() == 0 {
		return SeverityMedium
	}
	return s
}

// Rank returns the ordinal of s, low=1 through critical=4, 0 when unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Escalate returns the next higher severity, saturating at critical.
func (s Severity) Escalate() Severity {
	r := s.Rank()
	if r == 0 {
		return s
	}
	if r >= len(severityLadder) {
		return SeverityCritical
	}
	return severityLadder[r]
}

// Deescalate returns the next lower severity, saturating at low.
func (s Severity) Deescalate() Severity {
	r := s.Rank()
	if r <= 1 {
		return s
	}
	return severityLadder[r-2]
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
