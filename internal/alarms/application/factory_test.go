package application

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	alarms "equipment-alerts/internal/alarms/domain"
	episodes "equipment-alerts/internal/episodes/domain"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + strconv.Itoa(n)
	}
}

func episodeOf(identifier string, startMin, minutes int, records int) episodes.ConsolidatedEpisode {
	start := t0.Add(time.Duration(startMin) * time.Minute)
	end := start.Add(time.Duration(minutes) * time.Minute)
	return episodes.ConsolidatedEpisode{
		ID:              "ep-" + identifier,
		StartTime:       start,
		EndTime:         end,
		Identifier:      identifier,
		DurationMinutes: float64(minutes),
		Kind:            telemetry.KindApontamento,
		Consolidated:    records > 1,
		RecordCount:     records,
	}
}

func statusEvent(identifier string, startMin, minutes int) telemetry.NormalizedEvent {
	start := t0.Add(time.Duration(startMin) * time.Minute)
	return telemetry.NormalizedEvent{
		StartTime:       start,
		EndTime:         start.Add(time.Duration(minutes) * time.Minute),
		Identifier:      identifier,
		DurationMinutes: float64(minutes),
		Kind:            telemetry.KindStatus,
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	factory := NewAlertFactory(WithIDGenerator(sequentialIDs()))
	match := alarms.RuleMatch{RuleID: "long-stop", Name: "Long stop", Severity: alarms.SeverityHigh, Message: "stopped too long"}
	ep := episodeOf("Manutencao", 0, 45, 3)

	first := factory.Build(match, "TR-01", ep, alarms.EquipmentContext{Groups: []string{"Tratores"}})
	second := factory.Build(match, "TR-01", ep, alarms.EquipmentContext{Groups: []string{"Tratores"}})

	if first.UniqueID != second.UniqueID {
		t.Fatalf("unique id changed: %s vs %s", first.UniqueID, second.UniqueID)
	}
	if !strings.HasPrefix(first.UniqueID, "alert-") || len(first.UniqueID) != len("alert-")+16 {
		t.Fatalf("unexpected unique id %q", first.UniqueID)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids, got %s", first.ID)
	}
	if first.Message != second.Message || first.CriticalityScore != second.CriticalityScore {
		t.Fatalf("expected identical content")
	}

	other := factory.Build(match, "TR-02", ep, alarms.EquipmentContext{})
	if other.UniqueID == first.UniqueID {
		t.Fatalf("expected different unique id for different equipment")
	}
}

func TestBuildPopulatesFields(t *testing.T) {
	factory := NewAlertFactory()
	match := alarms.RuleMatch{RuleID: "long-stop", Name: "Long stop", Severity: alarms.SeverityHigh, Message: "stopped too long"}
	ep := episodeOf("Manutencao", 0, 45, 3)

	alert := factory.Build(match, "TR-01", ep, alarms.EquipmentContext{Groups: []string{"Tratores", "Frota A"}})

	if alert.Equipment != "TR-01" || alert.RuleID != "long-stop" || alert.EventType != "apontamento" {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if !alert.Consolidated || alert.ConsolidatedCount != 3 {
		t.Fatalf("expected consolidated count 3, got %+v", alert)
	}
	if !alert.FirstOccurrence.Equal(ep.StartTime) || !alert.LastOccurrence.Equal(ep.EndTime) || !alert.Timestamp.Equal(ep.EndTime) {
		t.Fatalf("unexpected occurrence times %+v", alert)
	}
	want := "[HIGH] TR-01: stopped too long - Manutencao for 45 min (08:00 - 08:45)"
	if alert.Message != want {
		t.Fatalf("message = %q, want %q", alert.Message, want)
	}
	if len(alert.EquipmentGroups) != 2 || alert.Context == nil {
		t.Fatalf("expected groups and context")
	}
}

func TestBuildUsesGroupTemplate(t *testing.T) {
	templates := NewTemplateRegistry("")
	templates.Register("Colhedoras", "{equipment} parado {duration} em {date} {missing}")
	ep := episodeOf("Chuva", 0, 125, 1)
	match := alarms.RuleMatch{RuleID: "r1", Severity: alarms.SeverityLow}

	keep := NewAlertFactory(WithTemplates(templates))
	alert := keep.Build(match, "CH-7", ep, alarms.EquipmentContext{Groups: []string{"Colhedoras"}})
	if alert.Message != "CH-7 parado 2h 05min em 02/03/2026 {missing}" {
		t.Fatalf("unexpected message %q", alert.Message)
	}

	strip := NewAlertFactory(WithTemplates(templates), WithStripUnknownPlaceholders(true))
	alert = strip.Build(match, "CH-7", ep, alarms.EquipmentContext{Groups: []string{"Colhedoras"}})
	if alert.Message != "CH-7 parado 2h 05min em 02/03/2026 " {
		t.Fatalf("unexpected stripped message %q", alert.Message)
	}

	alert = strip.Build(match, "CH-7", ep, alarms.EquipmentContext{Groups: []string{"Outros", "Colhedoras"}})
	if !strings.HasPrefix(alert.Message, "[LOW] CH-7:") {
		t.Fatalf("expected default template for non-primary group, got %q", alert.Message)
	}
}

func TestRenderDoesNotExpandSubstitutedValues(t *testing.T) {
	got := Render("{equipment} {identifier}", map[string]string{"equipment": "{identifier}", "identifier": "x"}, false)
	if got != "{identifier} x" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestCriticalityScoreBounds(t *testing.T) {
	if got := CriticalityScore(alarms.SeverityLow, 1, false, 0, 0); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := CriticalityScore(alarms.SeverityCritical, 90, true, 0.95, 0.9); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
	if got := CriticalityScore(alarms.SeverityMedium, 45, false, 0, 0); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := CriticalityScore(alarms.Severity("bogus"), 0, false, 0, 0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestBuildCriticalityUsesContext(t *testing.T) {
	factory := NewAlertFactory()
	ep := episodeOf("Manutencao", 0, 90, 4)
	ctx := alarms.EquipmentContext{
		Status: []telemetry.NormalizedEvent{statusEvent("running", 0, 90), statusEvent("off", 90, 10)},
		Apontamentos: []telemetry.NormalizedEvent{
			{Identifier: "Manutencao"}, {Identifier: "Manutencao"}, {Identifier: "Almoco"},
		},
	}
	alert := factory.Build(alarms.RuleMatch{RuleID: "r", Severity: alarms.SeverityMedium}, "TR-01", ep, ctx)

	// medium 2 + long 2 + consolidated 1 + utilization 0.9 1 + frequency 0.67 1
	if alert.CriticalityScore != 7 {
		t.Fatalf("expected 7, got %d (context %+v)", alert.CriticalityScore, alert.Context)
	}
	if alert.Context.UtilizationRate != 0.9 {
		t.Fatalf("unexpected utilization %v", alert.Context.UtilizationRate)
	}
	if len(alert.Context.RecentStatus) != 2 {
		t.Fatalf("expected 2 recent status samples, got %d", len(alert.Context.RecentStatus))
	}
}

func TestRecentStatusKeepsLastFive(t *testing.T) {
	var status []telemetry.NormalizedEvent
	for i := 7; i >= 0; i-- {
		status = append(status, statusEvent("s"+strconv.Itoa(i), i*10, 10))
	}
	factory := NewAlertFactory()
	alert := factory.Build(alarms.RuleMatch{RuleID: "r"}, "TR-01", episodeOf("x", 0, 10, 1), alarms.EquipmentContext{Status: status})
	samples := alert.Context.RecentStatus
	if len(samples) != 5 || samples[0].Identifier != "s3" || samples[4].Identifier != "s7" {
		t.Fatalf("unexpected samples %+v", samples)
	}
}

func TestAutoScaleSeverity(t *testing.T) {
	cases := []struct {
		name   string
		ep     episodes.ConsolidatedEpisode
		status []telemetry.NormalizedEvent
		want   alarms.Severity
	}{
		{name: "long escalates", ep: episodeOf("x", 0, 150, 1), want: alarms.SeverityCritical},
		{name: "many records escalate", ep: episodeOf("x", 0, 60, 11), want: alarms.SeverityCritical},
		{name: "short deescalates", ep: episodeOf("x", 0, 3, 1), want: alarms.SeverityMedium},
		{name: "neutral", ep: episodeOf("x", 0, 60, 2), want: alarms.SeverityHigh},
		{
			name:   "conflicting signals keep severity",
			ep:     episodeOf("x", 0, 150, 1),
			status: []telemetry.NormalizedEvent{statusEvent("off", 0, 100)},
			want:   alarms.SeverityHigh,
		},
		{
			name:   "low utilization deescalates",
			ep:     episodeOf("x", 0, 60, 1),
			status: []telemetry.NormalizedEvent{statusEvent("off", 0, 95), statusEvent("on", 95, 5)},
			want:   alarms.SeverityMedium,
		},
	}
	factory := NewAlertFactory(WithAutoScaleSeverity(true))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := factory.Build(alarms.RuleMatch{RuleID: "r", Severity: alarms.SeverityHigh}, "TR-01", tc.ep, alarms.EquipmentContext{Status: tc.status})
			if alert.Severity != tc.want {
				t.Fatalf("severity = %s, want %s", alert.Severity, tc.want)
			}
		})
	}

	plain := NewAlertFactory()
	alert := plain.Build(alarms.RuleMatch{RuleID: "r", Severity: alarms.SeverityHigh}, "TR-01", episodeOf("x", 0, 150, 1), alarms.EquipmentContext{})
	if alert.Severity != alarms.SeverityHigh {
		t.Fatalf("expected no scaling when disabled, got %s", alert.Severity)
	}
}

func TestSeveritySaturates(t *testing.T) {
	factory := NewAlertFactory(WithAutoScaleSeverity(true))
	alert := factory.Build(alarms.RuleMatch{RuleID: "r", Severity: alarms.SeverityCritical}, "TR-01", episodeOf("x", 0, 500, 1), alarms.EquipmentContext{})
	if alert.Severity != alarms.SeverityCritical {
		t.Fatalf("expected critical, got %s", alert.Severity)
	}
	alert = factory.Build(alarms.RuleMatch{RuleID: "r", Severity: alarms.SeverityLow}, "TR-01", episodeOf("x", 0, 1, 1), alarms.EquipmentContext{})
	if alert.Severity != alarms.SeverityLow {
		t.Fatalf("expected low, got %s", alert.Severity)
	}
}

func TestBuildFallsBackOnPanic(t *testing.T) {
	match := alarms.RuleMatch{RuleID: "r1", Severity: alarms.SeverityCritical, Message: "boom"}
	ep := episodeOf("Manutencao", 0, 45, 1)

	healthy := NewAlertFactory().Build(match, "TR-01", ep, alarms.EquipmentContext{})
	broken := NewAlertFactory(WithContextEnricher(func(alarms.EquipmentContext, episodes.ConsolidatedEpisode) alarms.AlertContext {
		panic("enrichment exploded")
	}))

	alert := broken.Build(match, "TR-01", ep, alarms.EquipmentContext{})
	if alert.Message != FallbackMessage {
		t.Fatalf("expected fallback message, got %q", alert.Message)
	}
	if alert.Severity != alarms.SeverityMedium || alert.EventType != alarms.EventTypeError {
		t.Fatalf("unexpected fallback %+v", alert)
	}
	if alert.UniqueID != healthy.UniqueID {
		t.Fatalf("fallback unique id %s != %s", alert.UniqueID, healthy.UniqueID)
	}
	if alert.ID == "" {
		t.Fatalf("expected fallback id")
	}
}

func TestTimestampFallsBackToClock(t *testing.T) {
	clock := &fakeClock{now: t0.Add(time.Hour)}
	factory := NewAlertFactory(WithClock(clock))
	alert := factory.Build(alarms.RuleMatch{RuleID: "r"}, "TR-01", episodes.ConsolidatedEpisode{Identifier: "x", RecordCount: 1}, alarms.EquipmentContext{})
	if !alert.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected clock time, got %s", alert.Timestamp)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[float64]string{
		0:    "0 min",
		45:   "45 min",
		59.4: "59 min",
		60:   "1h 00min",
		125:  "2h 05min",
		-3:   "0 min",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", in, got, want)
		}
	}
}
