package apihttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	alarms "equipment-alerts/internal/alarms/domain"
	alarminterfaces "equipment-alerts/internal/alarms/interfaces"
)

const (
	timeLayout = time.RFC3339
	// exportLimit bounds the rows of a single report.
	exportLimit = 10000
)

// ExportAlertsHandler serves alert reports in csv, xlsx and pdf.
type ExportAlertsHandler struct {
	repo   alarms.AlertRepository
	now    func() time.Time
	logger *log.Logger
}

// NewExportAlertsHandler constructs an ExportAlertsHandler.
func NewExportAlertsHandler(repo alarms.AlertRepository, logger *log.Logger) (*ExportAlertsHandler, error) {
	if repo == nil {
		return nil, errors.New("export handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportAlertsHandler{repo: repo, now: func() time.Time { return time.Now().UTC() }, logger: logger}, nil
}

type exportFormat struct {
	contentType string
	build       func(alarminterfaces.Report) ([]byte, error)
}

var exportFormats = map[string]exportFormat{
	"csv":  {contentType: "text/csv; charset=utf-8", build: alarminterfaces.BuildAlertsCSV},
	"xlsx": {contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", build: alarminterfaces.BuildAlertsXLSX},
	"pdf":  {contentType: "application/pdf", build: alarminterfaces.BuildAlertsPDF},
}

// ServeHTTP handles GET /api/v1/exports/alerts.{csv,xlsx,pdf}.
func (h *ExportAlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/")
	ext, ok := strings.CutPrefix(name, "alerts.")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	format, ok := exportFormats[ext]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.repo.ListRecent(r.Context(), alarms.AlertQuery{
		Equipment: strings.TrimSpace(r.URL.Query().Get("equipment")),
		From:      from,
		To:        to,
		Limit:     exportLimit,
	})
	if err != nil {
		h.logger.Printf("export: query alerts error: %v", err)
		http.Error(w, "query alerts error", http.StatusInternalServerError)
		return
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })

	data, err := format.build(alarminterfaces.Report{From: from, To: to, GeneratedAt: h.now(), Alerts: list})
	if err != nil {
		h.logger.Printf("export: render %s error: %v", ext, err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"alerts_"+from.Format("20060102")+"_"+to.Format("20060102")+"."+ext+"\"")
	_, _ = w.Write(data)
}

// StatsHandler serves alert counts per severity and equipment.
type StatsHandler struct {
	repo alarms.AlertRepository
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(repo alarms.AlertRepository) *StatsHandler {
	return &StatsHandler{repo: repo}
}

type statsResponse struct {
	From         string                  `json:"from"`
	To           string                  `json:"to"`
	Total        int                     `json:"total"`
	Consolidated int                     `json:"consolidated"`
	BySeverity   map[alarms.Severity]int `json:"bySeverity"`
	ByEquipment  map[string]int          `json:"byEquipment"`
}

// ServeHTTP handles GET /api/v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.repo.ListRecent(r.Context(), alarms.AlertQuery{From: from, To: to, Limit: exportLimit})
	if err != nil {
		http.Error(w, "query alerts error", http.StatusInternalServerError)
		return
	}

	report := alarminterfaces.Report{From: from, To: to, Alerts: list}
	resp := statsResponse{
		From:         formatTime(from),
		To:           formatTime(to),
		Total:        len(list),
		Consolidated: report.ConsolidatedCount(),
		BySeverity:   report.SeverityCounts(),
		ByEquipment:  make(map[string]int),
	}
	for _, alert := range list {
		resp.ByEquipment[alert.Equipment]++
	}
	writeJSON(w, resp)
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
