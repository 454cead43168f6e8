package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "equipment-alerts/internal/alarms/application"
	alarms "equipment-alerts/internal/alarms/domain"
)

const timeLayout = time.RFC3339

// Handler provides alert query endpoints.
type Handler struct {
	repo  alarms.AlertRepository
	store *alarmapp.WindowStore
}

// NewHandler constructs a handler. store may be nil when windows are not exposed.
func NewHandler(repo alarms.AlertRepository, store *alarmapp.WindowStore) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("alerts handler: nil repository")
	}
	return &Handler{repo: repo, store: store}, nil
}

// ServeHTTP handles /api/v1/alerts, /api/v1/alerts/{uniqueId} and /api/v1/windows.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/alerts":
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleGet(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"))
	case r.URL.Path == "/api/v1/windows":
		h.handleWindows(w)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query, err := parseAlertQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.repo.ListRecent(r.Context(), query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.Alert{}
	}
	writeJSON(w, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, uniqueID string) {
	if uniqueID == "" || strings.Contains(uniqueID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	alert, err := h.repo.GetByUniqueID(r.Context(), uniqueID)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, alert)
}

type windowsResponse struct {
	Active  []alarms.ActiveWindow `json:"active"`
	History []alarms.HistoryEntry `json:"history"`
}

func (h *Handler) handleWindows(w http.ResponseWriter) {
	if h.store == nil {
		http.Error(w, "windows not available", http.StatusServiceUnavailable)
		return
	}
	resp := windowsResponse{Active: h.store.Snapshot(), History: h.store.History()}
	if resp.Active == nil {
		resp.Active = []alarms.ActiveWindow{}
	}
	if resp.History == nil {
		resp.History = []alarms.HistoryEntry{}
	}
	writeJSON(w, resp)
}

// parseAlertQuery reads equipment, from, to and limit. Time bounds are optional.
func parseAlertQuery(r *http.Request) (alarms.AlertQuery, error) {
	query := alarms.AlertQuery{Equipment: strings.TrimSpace(r.URL.Query().Get("equipment"))}
	var err error
	if query.From, err = parseOptionalTime(r, "from"); err != nil {
		return alarms.AlertQuery{}, err
	}
	if query.To, err = parseOptionalTime(r, "to"); err != nil {
		return alarms.AlertQuery{}, err
	}
	if !query.From.IsZero() && !query.To.IsZero() && !query.To.After(query.From) {
		return alarms.AlertQuery{}, errors.New("to must be after from")
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return alarms.AlertQuery{}, errors.New("limit must be a positive integer")
		}
		query.Limit = limit
	}
	return query, nil
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
