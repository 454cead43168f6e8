package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alarmapp "equipment-alerts/internal/alarms/application"
	alarms "equipment-alerts/internal/alarms/domain"
	"equipment-alerts/internal/alarms/infrastructure/memory"
	episodeapp "equipment-alerts/internal/episodes/application"
	episodes "equipment-alerts/internal/episodes/domain"
	"equipment-alerts/internal/rules"
	telemetryapp "equipment-alerts/internal/telemetry/application"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

var day = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []alarms.Alert
	calls  int
	err    error
}

func (s *recordingSink) Publish(_ context.Context, alerts []alarms.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.alerts = append(s.alerts, alerts...)
	return s.err
}

func (s *recordingSink) snapshot() ([]alarms.Alert, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alarms.Alert(nil), s.alerts...), s.calls
}

type recordingEpisodes struct {
	mu    sync.Mutex
	saved map[string]int
}

func (r *recordingEpisodes) SaveEpisodes(_ context.Context, equipment string, items []episodes.ConsolidatedEpisode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[string]int)
	}
	r.saved[equipment] += len(items)
	return nil
}

func raw(kind telemetry.Kind, identifier string, startMin, endMin int) telemetry.RawEvent {
	return telemetry.RawEvent{
		Kind:          kind,
		StartRaw:      day.Add(time.Duration(startMin) * time.Minute).Format(time.RFC3339),
		EndRaw:        day.Add(time.Duration(endMin) * time.Minute).Format(time.RFC3339),
		IdentifierRaw: identifier,
	}
}

func newPipeline(t *testing.T, window time.Duration, opts ...Option) *Pipeline {
	t.Helper()
	consolidator, err := episodeapp.NewConsolidator(episodes.DefaultConfig())
	if err != nil {
		t.Fatalf("consolidator: %v", err)
	}
	catalog, err := rules.NewCatalog([]rules.Rule{
		{ID: "long-off", Severity: "high", Kind: telemetry.KindStatus, Identifiers: []string{"off"}, Operator: rules.OperatorGreater, ThresholdMinutes: 30},
		{ID: "long-maintenance", Severity: "medium", Kind: telemetry.KindApontamento, Identifiers: []string{"Manutencao"}, Operator: rules.OperatorGreaterOrEqual, ThresholdMinutes: 30},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	cfg := alarms.DefaultWindowConfig()
	if window > 0 {
		cfg.ConsolidationWindow = window
	}
	windows, err := alarmapp.NewWindowConsolidator(cfg)
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	p, err := NewPipeline(telemetryapp.NewNormalizer(), consolidator, catalog, alarmapp.NewAlertFactory(), windows, opts...)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p
}

func TestRefreshConsolidatesAndAlerts(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingEpisodes{}
	p := newPipeline(t, 0, WithSinks(sink), WithEpisodeSink(store), WithRunIDGenerator(func() string { return "run-1" }))

	result, err := p.Refresh(context.Background(), []telemetry.EquipmentBatch{{
		Equipment: "TR-01",
		Groups:    []string{"Tratores"},
		Status: []telemetry.RawEvent{
			raw("", "off", 0, 10),
			raw("", "off", 12, 40),
			raw("", "on", 40, 90),
			{StartRaw: "garbage", EndRaw: "2026-03-02T07:00:00Z", IdentifierRaw: "on"},
		},
	}})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.RunID != "run-1" || result.EventsNormalized != 3 || result.EventsDropped != 1 || result.Episodes != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(result.Alerts))
	}
	alert := result.Alerts[0]
	if alert.RuleID != "long-off" || alert.ConsolidatedCount != 2 || !alert.Consolidated || alert.EventType != "status" {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.Context == nil || alert.Context.UtilizationRate == 0 {
		t.Fatalf("expected utilization context, got %+v", alert.Context)
	}
	got, calls := sink.snapshot()
	if calls != 1 || len(got) != 1 || got[0].UniqueID != alert.UniqueID {
		t.Fatalf("sink got %d calls %+v", calls, got)
	}
	if store.saved["TR-01"] != 2 {
		t.Fatalf("expected 2 saved episodes, got %+v", store.saved)
	}
}

func TestRefreshCollapsesAlertBurst(t *testing.T) {
	p := newPipeline(t, 6*time.Hour)
	var apontamentos []telemetry.RawEvent
	for i := 0; i < 5; i++ {
		start := i * 60
		apontamentos = append(apontamentos, raw(telemetry.KindApontamento, "Manutencao", start, start+40))
	}
	result, err := p.Refresh(context.Background(), []telemetry.EquipmentBatch{{Equipment: "CH-2", Apontamentos: apontamentos}})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.RawAlerts != 5 || len(result.Alerts) != 1 {
		t.Fatalf("expected 5 raw alerts collapsed into 1, got %d -> %d", result.RawAlerts, len(result.Alerts))
	}
	if result.Alerts[0].ConsolidatedCount != 5 {
		t.Fatalf("expected consolidated count 5, got %d", result.Alerts[0].ConsolidatedCount)
	}
}

func TestRefreshReprocessingKeepsUniqueIDs(t *testing.T) {
	batch := []telemetry.EquipmentBatch{{Equipment: "TR-01", Status: []telemetry.RawEvent{raw(telemetry.KindStatus, "off", 0, 45)}}}
	first, err := newPipeline(t, 0).Refresh(context.Background(), batch)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second, err := newPipeline(t, 0).Refresh(context.Background(), batch)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(first.Alerts) != 1 || first.Alerts[0].UniqueID != second.Alerts[0].UniqueID {
		t.Fatalf("expected stable unique ids")
	}
}

func TestRefreshJoinsSinkErrors(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	p := newPipeline(t, 0, WithSinks(failing, ok))
	_, err := p.Refresh(context.Background(), []telemetry.EquipmentBatch{{
		Equipment: "TR-01",
		Status:    []telemetry.RawEvent{raw(telemetry.KindStatus, "off", 0, 45)},
	}})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected sink error, got %v", err)
	}
	if _, calls := ok.snapshot(); calls != 1 {
		t.Fatalf("expected remaining sink to run")
	}
}

func TestRefreshStopsOnCancelledContext(t *testing.T) {
	p := newPipeline(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Refresh(ctx, []telemetry.EquipmentBatch{{Equipment: "TR-01"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPipelineValidatesDependencies(t *testing.T) {
	if _, err := NewPipeline(nil, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunOnceDrainsBuffer(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, 0, WithSinks(sink))
	buffer := NewBuffer(0)
	if err := buffer.Add(telemetry.EquipmentBatch{Equipment: "TR-01", Status: []telemetry.RawEvent{raw(telemetry.KindStatus, "off", 0, 45)}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := p.RunOnce(context.Background(), buffer); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected drained buffer")
	}
	if got, _ := sink.snapshot(); len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
}

func TestRunOnceKeepsBufferedEventsWhenAnotherSourceFails(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, 0, WithSinks(sink))
	buffer := NewBuffer(0)
	if err := buffer.Add(telemetry.EquipmentBatch{Equipment: "truck-1", Status: []telemetry.RawEvent{raw(telemetry.KindStatus, "off", 0, 45)}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	upstream := errors.New("upstream down")
	source := MultiSource{buffer, stubSource{err: upstream}}

	result, err := p.RunOnce(context.Background(), source)
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if result.Equipments != 1 || len(result.Alerts) != 1 {
		t.Fatalf("expected buffered batch refreshed, got %+v", result)
	}
	if got, _ := sink.snapshot(); len(got) != 1 || got[0].Equipment != "truck-1" {
		t.Fatalf("expected alert for truck-1, got %+v", got)
	}
}

func TestRunOnceFetchFailureWithoutBatches(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, 0, WithSinks(sink))
	result, err := p.RunOnce(context.Background(), stubSource{err: errors.New("upstream down")})
	if err == nil || result.RunID != "" {
		t.Fatalf("expected fetch error without a run, got %+v err=%v", result, err)
	}
	if _, calls := sink.snapshot(); calls != 0 {
		t.Fatalf("expected no sink calls, got %d", calls)
	}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, 0, WithSinks(sink))
	buffer := NewBuffer(0)
	_ = buffer.Add(telemetry.EquipmentBatch{Equipment: "TR-01", Status: []telemetry.RawEvent{raw(telemetry.KindStatus, "off", 0, 45)}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(p, buffer, time.Millisecond, nil).Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if got, _ := sink.snapshot(); len(got) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler did not refresh")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

func TestRepositorySinkPersistsFinalAlerts(t *testing.T) {
	repo := memory.NewAlertRepository()
	sink, err := NewRepositorySink(repo)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	p := newPipeline(t, 0, WithSinks(sink))
	batch := telemetry.EquipmentBatch{Equipment: "TR-01", Status: []telemetry.RawEvent{raw(telemetry.KindStatus, "off", 0, 45)}}

	first, err := p.Refresh(context.Background(), []telemetry.EquipmentBatch{batch})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := p.Refresh(context.Background(), []telemetry.EquipmentBatch{batch}); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	stored, err := repo.ListRecent(context.Background(), alarms.AlertQuery{Equipment: "TR-01"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored alert after reprocessing, got %d", len(stored))
	}
	if stored[0].UniqueID != first.Alerts[0].UniqueID {
		t.Fatalf("unique id changed: %s vs %s", stored[0].UniqueID, first.Alerts[0].UniqueID)
	}
	if _, err := NewRepositorySink(nil); err == nil {
		t.Fatalf("expected nil repository error")
	}
}
