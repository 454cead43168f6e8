package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	alarmapp "equipment-alerts/internal/alarms/application"
	alarms "equipment-alerts/internal/alarms/domain"
	"equipment-alerts/internal/audit"
	"equipment-alerts/internal/auth"
	episodeapp "equipment-alerts/internal/episodes/application"
	episodes "equipment-alerts/internal/episodes/domain"
	pipelineapp "equipment-alerts/internal/pipeline/application"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

type recordingAudit struct {
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type stubRefresher struct {
	batches  []telemetry.EquipmentBatch
	sourced  bool
	result   pipelineapp.RefreshResult
	err      error
	fetchErr error
}

func (s *stubRefresher) Refresh(_ context.Context, batches []telemetry.EquipmentBatch) (pipelineapp.RefreshResult, error) {
	s.batches = batches
	return s.result, s.err
}

func (s *stubRefresher) RunOnce(ctx context.Context, source pipelineapp.EventSource) (pipelineapp.RefreshResult, error) {
	s.sourced = true
	if s.fetchErr != nil {
		return pipelineapp.RefreshResult{}, s.fetchErr
	}
	return s.result, s.err
}

func TestRefreshHandlerUsesRequestBatches(t *testing.T) {
	stub := &stubRefresher{result: pipelineapp.RefreshResult{RunID: "run-1", Equipments: 1}}
	handler, err := NewRefreshHandler(stub, pipelineapp.NewBuffer(0), nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := `{"equipments":[{"equipment":"TR-01","status":[{"start":"2026-03-02T08:00:00Z","end":"2026-03-02T09:00:00Z","identifier":"off"}]}]}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", strings.NewReader(body)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(stub.batches) != 1 || stub.batches[0].Equipment != "TR-01" || stub.sourced {
		t.Fatalf("unexpected refresh call: %+v sourced=%v", stub.batches, stub.sourced)
	}
	var got refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.Error != "" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestRefreshHandlerDrainsSource(t *testing.T) {
	stub := &stubRefresher{result: pipelineapp.RefreshResult{RunID: "run-2"}}
	handler, _ := NewRefreshHandler(stub, pipelineapp.NewBuffer(0), nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	if resp.Code != http.StatusOK || !stub.sourced {
		t.Fatalf("expected source refresh, got %d sourced=%v", resp.Code, stub.sourced)
	}
}

func TestRefreshHandlerErrors(t *testing.T) {
	cases := []struct {
		name   string
		stub   *stubRefresher
		method string
		body   string
		want   int
	}{
		{name: "method", stub: &stubRefresher{}, method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "bad json", stub: &stubRefresher{}, method: http.MethodPost, body: "{", want: http.StatusBadRequest},
		{name: "fetch failure", stub: &stubRefresher{fetchErr: errors.New("upstream down")}, method: http.MethodPost, want: http.StatusInternalServerError},
		{name: "sink failure", stub: &stubRefresher{result: pipelineapp.RefreshResult{RunID: "run-3"}, err: errors.New("webhook down")}, method: http.MethodPost, want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := NewRefreshHandler(tc.stub, pipelineapp.NewBuffer(0), nil)
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(tc.method, "/api/v1/refresh", strings.NewReader(tc.body)))
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestRefreshHandlerWithoutSource(t *testing.T) {
	handler, _ := NewRefreshHandler(&stubRefresher{}, nil, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if _, err := NewRefreshHandler(nil, nil, nil); err == nil {
		t.Fatalf("expected nil pipeline error")
	}
}

func newConfigHandler(t *testing.T) (*ConfigHandler, *episodeapp.Consolidator, *alarmapp.WindowConsolidator) {
	t.Helper()
	consolidator, err := episodeapp.NewConsolidator(episodes.DefaultConfig())
	if err != nil {
		t.Fatalf("consolidator: %v", err)
	}
	windows, err := alarmapp.NewWindowConsolidator(alarms.DefaultWindowConfig())
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	handler, err := NewConfigHandler(consolidator, windows, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler, consolidator, windows
}

func TestConfigHandlerUpdatesWindows(t *testing.T) {
	handler, _, windows := newConfigHandler(t)

	body := `{"consolidationWindow":"45m","maxConsolidatedAlerts":20,"minAlertsToConsolidate":4,"maxConsolidationAge":"3h","groupBy":{"equipment":true}}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/api/v1/config/windows", strings.NewReader(body)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	cfg := windows.Config()
	if cfg.ConsolidationWindow.Minutes() != 45 || cfg.MinAlertsToConsolidate != 4 || cfg.GroupBy.RuleID {
		t.Fatalf("config not applied: %+v", cfg)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/config/windows", nil))
	var got windowConfigBody
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConsolidationWindow != "45m0s" || got.MaxConsolidationAge != "3h0m0s" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestConfigHandlerRejectsInvalidUpdates(t *testing.T) {
	handler, consolidator, windows := newConfigHandler(t)
	beforeEpisodes := consolidator.Config()
	beforeWindows := windows.Config()

	cases := []struct {
		path string
		body string
	}{
		{"/api/v1/config/windows", `{"consolidationWindow":"30m","maxConsolidatedAlerts":10,"minAlertsToConsolidate":1,"maxConsolidationAge":"2h"}`},
		{"/api/v1/config/windows", `{"consolidationWindow":"soon","maxConsolidationAge":"2h"}`},
		{"/api/v1/config/episodes", `{"maxGapMinutes":0,"mergeStrategy":"extend","conflictResolution":"latest"}`},
		{"/api/v1/config/episodes", `{"maxGapMinutes":5,"mergeStrategy":"sideways","conflictResolution":"latest"}`},
		{"/api/v1/config/episodes", `not json`},
	}
	for _, tc := range cases {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, tc.path, strings.NewReader(tc.body)))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", tc.path, tc.body, resp.Code)
		}
	}
	if consolidator.Config() != beforeEpisodes {
		t.Fatalf("episodes config changed after rejected update")
	}
	if windows.Config() != beforeWindows {
		t.Fatalf("window config changed after rejected update")
	}
}

func TestConfigHandlerUpdatesEpisodes(t *testing.T) {
	handler, consolidator, _ := newConfigHandler(t)
	body := `{"maxGapMinutes":10,"minDurationMinutes":1,"allowOverlap":true,"mergeStrategy":"replace","conflictResolution":"longest"}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/api/v1/config/episodes", strings.NewReader(body)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	cfg := consolidator.Config()
	if cfg.MaxGapMinutes != 10 || cfg.MergeStrategy != episodes.MergeReplace || cfg.ConflictResolution != episodes.ConflictLongest {
		t.Fatalf("config not applied: %+v", cfg)
	}
}

func TestConfigHandlerAuditsAcceptedUpdatesOnly(t *testing.T) {
	handler, _, _ := newConfigHandler(t)
	recorder := &recordingAudit{}
	handler.Audit = recorder

	send := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/config/episodes", strings.NewReader(body))
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "ana"))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}
	if code := send(`{"maxGapMinutes":0,"mergeStrategy":"extend","conflictResolution":"latest"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code := send(`{"maxGapMinutes":20,"mergeStrategy":"extend","conflictResolution":"latest"}`); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Actor != "ana" || entry.Action != "config.update" || entry.ResourceID != "episodes" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !strings.Contains(string(entry.Metadata), `"maxGapMinutes":20`) {
		t.Fatalf("unexpected metadata %s", entry.Metadata)
	}
}
