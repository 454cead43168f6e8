package rules

import (
	"errors"
	"strings"

	alarms "equipment-alerts/internal/alarms/domain"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Rule is a duration threshold evaluated against consolidated episodes.
type Rule struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Severity         string         `yaml:"severity"`
	Message          string         `yaml:"message"`
	Kind             telemetry.Kind `yaml:"kind"`
	Identifiers      []string       `yaml:"identifiers"`
	Groups           []string       `yaml:"groups"`
	Operator         Operator       `yaml:"operator"`
	ThresholdMinutes float64        `yaml:"threshold_minutes"`
	Enabled          *bool          `yaml:"enabled"`
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rule: empty id")
	}
	if r.Kind != "" && !r.Kind.Valid() {
		return errors.New("rule: invalid kind")
	}
	if !r.Operator.Valid() {
		return errors.New("rule: invalid operator")
	}
	if r.ThresholdMinutes < 0 {
		return errors.New("rule: negative threshold")
	}
	return nil
}

// IsEnabled reports whether the rule participates in matching. Rules are
// enabled unless explicitly disabled.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r Rule) match() alarms.RuleMatch {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	return alarms.RuleMatch{
		RuleID:   r.ID,
		Name:     name,
		Severity: alarms.ParseSeverity(r.Severity),
		Message:  r.Message,
	}
}

func shouldTrigger(rule Rule, minutes float64) bool {
	switch rule.Operator {
	case OperatorGreater:
		return minutes > rule.ThresholdMinutes
	case OperatorGreaterOrEqual:
		return minutes >= rule.ThresholdMinutes
	case OperatorLess:
		return minutes < rule.ThresholdMinutes
	case OperatorLessOrEqual:
		return minutes <= rule.ThresholdMinutes
	default:
		return false
	}
}
