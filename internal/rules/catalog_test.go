package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	alarms "equipment-alerts/internal/alarms/domain"
	episodes "equipment-alerts/internal/episodes/domain"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

const catalogYAML = `
rules:
  - id: long-maintenance
    name: Long maintenance
    severity: high
    message: maintenance over one hour
    kind: apontamento
    identifiers: [Manutencao]
    operator: ">"
    threshold_minutes: 60
  - id: harvester-stop
    severity: critical
    kind: status
    identifiers: ["off"]
    groups: [Colhedoras]
    operator: ">="
    threshold_minutes: 30
  - id: disabled
    operator: ">"
    threshold_minutes: 0
    enabled: false
`

func episode(kind telemetry.Kind, identifier string, minutes float64) episodes.ConsolidatedEpisode {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return episodes.ConsolidatedEpisode{
		StartTime:       start,
		EndTime:         start.Add(time.Duration(minutes * float64(time.Minute))),
		Identifier:      identifier,
		DurationMinutes: minutes,
		Kind:            kind,
		RecordCount:     1,
	}
}

func TestCatalogMatch(t *testing.T) {
	catalog, err := ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	ctx := context.Background()

	matches, err := catalog.Match(ctx, "TR-01", nil, episode(telemetry.KindApontamento, "manutencao", 61))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matches) != 1 || matches[0].RuleID != "long-maintenance" || matches[0].Severity != alarms.SeverityHigh {
		t.Fatalf("unexpected matches %+v", matches)
	}
	if matches[0].Conditions["thresholdMinutes"] != float64(60) {
		t.Fatalf("unexpected conditions %+v", matches[0].Conditions)
	}

	matches, _ = catalog.Match(ctx, "TR-01", nil, episode(telemetry.KindApontamento, "Manutencao", 60))
	if len(matches) != 0 {
		t.Fatalf("expected no match at threshold, got %+v", matches)
	}

	matches, _ = catalog.Match(ctx, "CH-1", []string{"Colhedoras"}, episode(telemetry.KindStatus, "off", 30))
	if len(matches) != 1 || matches[0].Name != "harvester-stop" || matches[0].Severity != alarms.SeverityCritical {
		t.Fatalf("unexpected status matches %+v", matches)
	}

	matches, _ = catalog.Match(ctx, "TR-01", []string{"Tratores"}, episode(telemetry.KindStatus, "off", 300))
	if len(matches) != 0 {
		t.Fatalf("expected group filter to reject, got %+v", matches)
	}
}

func TestCatalogRejectsInvalidRules(t *testing.T) {
	cases := map[string][]Rule{
		"empty id":  {{Operator: OperatorGreater}},
		"operator":  {{ID: "a", Operator: "=="}},
		"kind":      {{ID: "a", Operator: OperatorLess, Kind: "bogus"}},
		"duplicate": {{ID: "a", Operator: OperatorLess}, {ID: "a", Operator: OperatorLess}},
	}
	for name, rules := range cases {
		if _, err := NewCatalog(rules); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	catalog, err := NewCatalog([]Rule{{ID: "keep", Operator: OperatorGreater}})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if err := catalog.Replace([]Rule{{ID: ""}}); err == nil {
		t.Fatalf("expected replace error")
	}
	if rules := catalog.Rules(); len(rules) != 1 || rules[0].ID != "keep" {
		t.Fatalf("catalog changed after failed replace: %+v", rules)
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(catalog.Rules()) != 3 {
		t.Fatalf("expected 3 rules")
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestMatchHonorsCancelledContext(t *testing.T) {
	catalog, _ := NewCatalog(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := catalog.Match(ctx, "TR-01", nil, episode(telemetry.KindStatus, "on", 1)); err == nil {
		t.Fatalf("expected context error")
	}
}
