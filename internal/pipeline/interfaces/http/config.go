package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	alarmapp "equipment-alerts/internal/alarms/application"
	alarms "equipment-alerts/internal/alarms/domain"
	episodeapp "equipment-alerts/internal/episodes/application"
	episodes "equipment-alerts/internal/episodes/domain"
	"equipment-alerts/internal/audit"
)

// ConfigHandler reads and updates runtime consolidation policies.
type ConfigHandler struct {
	episodes *episodeapp.Consolidator
	windows  *alarmapp.WindowConsolidator
	logger   *log.Logger
	// Audit records accepted updates when set.
	Audit audit.Logger
}

// NewConfigHandler constructs a ConfigHandler.
func NewConfigHandler(consolidator *episodeapp.Consolidator, windows *alarmapp.WindowConsolidator, logger *log.Logger) (*ConfigHandler, error) {
	if consolidator == nil {
		return nil, errors.New("config handler: nil consolidator")
	}
	if windows == nil {
		return nil, errors.New("config handler: nil window consolidator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ConfigHandler{episodes: consolidator, windows: windows, logger: logger}, nil
}

// windowConfigBody mirrors alarms.WindowConfig with readable durations.
type windowConfigBody struct {
	ConsolidationWindow    string         `json:"consolidationWindow"`
	MaxConsolidatedAlerts  int            `json:"maxConsolidatedAlerts"`
	MinAlertsToConsolidate int            `json:"minAlertsToConsolidate"`
	MaxConsolidationAge    string         `json:"maxConsolidationAge"`
	GroupBy                alarms.GroupBy `json:"groupBy"`
}

func toWindowBody(cfg alarms.WindowConfig) windowConfigBody {
	return windowConfigBody{
		ConsolidationWindow:    cfg.ConsolidationWindow.String(),
		MaxConsolidatedAlerts:  cfg.MaxConsolidatedAlerts,
		MinAlertsToConsolidate: cfg.MinAlertsToConsolidate,
		MaxConsolidationAge:    cfg.MaxConsolidationAge.String(),
		GroupBy:                cfg.GroupBy,
	}
}

func (b windowConfigBody) toConfig() (alarms.WindowConfig, error) {
	window, err := time.ParseDuration(b.ConsolidationWindow)
	if err != nil {
		return alarms.WindowConfig{}, errors.New("consolidationWindow must be a duration")
	}
	age, err := time.ParseDuration(b.MaxConsolidationAge)
	if err != nil {
		return alarms.WindowConfig{}, errors.New("maxConsolidationAge must be a duration")
	}
	return alarms.WindowConfig{
		ConsolidationWindow:    window,
		MaxConsolidatedAlerts:  b.MaxConsolidatedAlerts,
		MinAlertsToConsolidate: b.MinAlertsToConsolidate,
		MaxConsolidationAge:    age,
		GroupBy:                b.GroupBy,
	}, nil
}

// ServeHTTP handles /api/v1/config/episodes and /api/v1/config/windows.
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/config/episodes":
		h.handleEpisodes(w, r)
	case "/api/v1/config/windows":
		h.handleWindows(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ConfigHandler) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.episodes.Config())
	case http.MethodPut:
		var cfg episodes.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := h.episodes.UpdateConfig(cfg); err != nil {
			h.logger.Printf("config: episodes update rejected: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("config: episodes updated: max_gap=%v merge=%s conflict=%s", cfg.MaxGapMinutes, cfg.MergeStrategy, cfg.ConflictResolution)
		h.recordAudit(r, "episodes", cfg)
		writeJSON(w, h.episodes.Config())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ConfigHandler) handleWindows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, toWindowBody(h.windows.Config()))
	case http.MethodPut:
		var body windowConfigBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		cfg, err := body.toConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.windows.UpdateConfig(cfg); err != nil {
			h.logger.Printf("config: windows update rejected: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("config: windows updated: window=%s min=%d max=%d", cfg.ConsolidationWindow, cfg.MinAlertsToConsolidate, cfg.MaxConsolidatedAlerts)
		h.recordAudit(r, "windows", body)
		writeJSON(w, toWindowBody(h.windows.Config()))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ConfigHandler) recordAudit(r *http.Request, resource string, value any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.Log(r.Context(), audit.FromRequest(r, "config.update", "consolidation_config", resource, value)); err != nil {
		h.logger.Printf("config: audit log error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
