package application

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	alarms "equipment-alerts/internal/alarms/domain"
	episodes "equipment-alerts/internal/episodes/domain"
	"equipment-alerts/internal/observability/metrics"
)

// FallbackMessage is the message of alerts substituted after a build failure.
const FallbackMessage = "Failed to generate alert details"

// ContextEnricher computes optional alert context.
type ContextEnricher func(ctx alarms.EquipmentContext, episode episodes.ConsolidatedEpisode) alarms.AlertContext

// AlertFactory builds alerts from rule matches and episodes.
type AlertFactory struct {
	templates    *TemplateRegistry
	clock        Clock
	newID        func() string
	location     *time.Location
	operating    map[string]struct{}
	enricher     ContextEnricher
	autoScale    bool
	stripUnknown bool
	logger       *log.Logger
}

// FactoryOption configures the factory.
type FactoryOption func(*AlertFactory)

// WithTemplates assigns the message template registry.
func WithTemplates(templates *TemplateRegistry) FactoryOption {
	return func(f *AlertFactory) {
		if templates != nil {
			f.templates = templates
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) FactoryOption {
	return func(f *AlertFactory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() string) FactoryOption {
	return func(f *AlertFactory) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// WithLocation sets the zone used for {date}, {time} and {timeRange}.
func WithLocation(loc *time.Location) FactoryOption {
	return func(f *AlertFactory) {
		if loc != nil {
			f.location = loc
		}
	}
}

// WithOperatingIdentifiers replaces the status identifiers counted as utilized.
func WithOperatingIdentifiers(identifiers []string) FactoryOption {
	return func(f *AlertFactory) {
		if len(identifiers) > 0 {
			f.operating = identifierSet(identifiers)
		}
	}
}

// WithContextEnricher replaces the built-in context enrichment.
func WithContextEnricher(fn ContextEnricher) FactoryOption {
	return func(f *AlertFactory) {
		f.enricher = fn
	}
}

// WithAutoScaleSeverity enables severity scaling from episode signals.
func WithAutoScaleSeverity(enabled bool) FactoryOption {
	return func(f *AlertFactory) {
		f.autoScale = enabled
	}
}

// WithStripUnknownPlaceholders removes unresolved {placeholders}.
func WithStripUnknownPlaceholders(enabled bool) FactoryOption {
	return func(f *AlertFactory) {
		f.stripUnknown = enabled
	}
}

// WithFactoryLogger assigns a logger.
func WithFactoryLogger(logger *log.Logger) FactoryOption {
	return func(f *AlertFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewAlertFactory constructs an alert factory.
func NewAlertFactory(opts ...FactoryOption) *AlertFactory {
	f := &AlertFactory{
		templates: NewTemplateRegistry(""),
		clock:     systemClock{},
		newID:     uuid.NewString,
		location:  time.UTC,
		operating: identifierSet(DefaultOperatingIdentifiers),
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build assembles an alert. It never fails: a panic during assembly yields a
// minimal fallback alert so one bad equipment cannot stop the batch.
func (f *AlertFactory) Build(match alarms.RuleMatch, equipment string, episode episodes.ConsolidatedEpisode, ctx alarms.EquipmentContext) (alert alarms.Alert) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Printf("alarms: alert build failed, using fallback: equipment=%s rule=%s err=%v", equipment, match.RuleID, r)
			metrics.IncAlertFallback()
			alert = f.fallback(match, equipment, episode, ctx)
		}
	}()
	alert = f.build(match, equipment, episode, ctx)
	metrics.IncAlertBuilt(string(alert.Severity))
	return alert
}

func (f *AlertFactory) build(match alarms.RuleMatch, equipment string, episode episodes.ConsolidatedEpisode, ctx alarms.EquipmentContext) alarms.Alert {
	info := f.context(ctx, episode)

	severity := alarms.ParseSeverity(string(match.Severity))
	if f.autoScale {
		severity = ScaleSeverity(severity, episode, info.UtilizationRate, info.utilizationKnown)
	}

	values := f.placeholders(match, equipment, episode, ctx.Groups, severity)
	template := f.templates.Resolve(ctx.PrimaryGroup())
	message := Render(template, values, f.stripUnknown)

	alertContext := info.AlertContext
	return alarms.Alert{
		ID:                f.newID(),
		UniqueID:          alarms.UniqueID(equipment, match.RuleID, episode.Identifier, episode.StartTime, episode.EndTime, episode.Consolidated),
		Equipment:         equipment,
		EquipmentGroups:   copyStrings(ctx.Groups),
		RuleID:            match.RuleID,
		Severity:          severity,
		Message:           message,
		EventType:         string(episode.Kind),
		Timestamp:         f.occurredAt(episode),
		Consolidated:      episode.Consolidated,
		ConsolidatedCount: episode.RecordCount,
		FirstOccurrence:   episode.StartTime,
		LastOccurrence:    episode.EndTime,
		CriticalityScore:  CriticalityScore(severity, episode.DurationMinutes, episode.Consolidated, info.UtilizationRate, info.EventFrequency),
		Context:           &alertContext,
	}
}

func (f *AlertFactory) context(ctx alarms.EquipmentContext, episode episodes.ConsolidatedEpisode) enrichment {
	if f.enricher != nil {
		custom := f.enricher(ctx, episode)
		return enrichment{AlertContext: custom, utilizationKnown: len(ctx.Status) > 0}
	}
	return enrich(ctx, episode, f.operating)
}

func (f *AlertFactory) fallback(match alarms.RuleMatch, equipment string, episode episodes.ConsolidatedEpisode, ctx alarms.EquipmentContext) alarms.Alert {
	id := ""
	if f.newID != nil {
		id = f.newID()
	}
	return alarms.Alert{
		ID:                id,
		UniqueID:          alarms.UniqueID(equipment, match.RuleID, episode.Identifier, episode.StartTime, episode.EndTime, episode.Consolidated),
		Equipment:         equipment,
		EquipmentGroups:   copyStrings(ctx.Groups),
		RuleID:            match.RuleID,
		Severity:          alarms.SeverityMedium,
		Message:           FallbackMessage,
		EventType:         alarms.EventTypeError,
		Timestamp:         f.occurredAt(episode),
		ConsolidatedCount: 1,
		FirstOccurrence:   episode.StartTime,
		LastOccurrence:    episode.EndTime,
	}
}

func (f *AlertFactory) occurredAt(episode episodes.ConsolidatedEpisode) time.Time {
	if !episode.EndTime.IsZero() {
		return episode.EndTime.UTC()
	}
	return f.clock.Now().UTC()
}

func (f *AlertFactory) placeholders(match alarms.RuleMatch, equipment string, episode episodes.ConsolidatedEpisode, groups []string, severity alarms.Severity) map[string]string {
	start := episode.StartTime.In(f.location)
	end := episode.EndTime.In(f.location)
	message := match.Message
	if message == "" {
		message = match.Name
	}
	rule := match.Name
	if rule == "" {
		rule = match.RuleID
	}
	return map[string]string{
		"equipment":   equipment,
		"identifier":  episode.Identifier,
		"duration":    FormatDuration(episode.DurationMinutes),
		"timeRange":   start.Format("15:04") + " - " + end.Format("15:04"),
		"groups":      strings.Join(groups, ", "),
		"recordCount": strconv.Itoa(episode.RecordCount),
		"date":        start.Format("02/01/2006"),
		"time":        start.Format("15:04"),
		"severity":    strings.ToUpper(string(severity)),
		"rule":        rule,
		"message":     message,
	}
}

// FormatDuration renders minutes as "N min" or "Hh MMmin".
func FormatDuration(minutes float64) string {
	if minutes < 0 {
		minutes = 0
	}
	total := int(minutes + 0.5)
	if total < 60 {
		return fmt.Sprintf("%d min", total)
	}
	return fmt.Sprintf("%dh %02dmin", total/60, total%60)
}

func identifierSet(identifiers []string) map[string]struct{} {
	set := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		set[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return set
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
