package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"equipment-alerts/internal/audit"
	pipelineapp "equipment-alerts/internal/pipeline/application"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

const maxRefreshBody = 10 << 20

// Refresher runs refresh cycles.
type Refresher interface {
	Refresh(ctx context.Context, batches []telemetry.EquipmentBatch) (pipelineapp.RefreshResult, error)
	RunOnce(ctx context.Context, source pipelineapp.EventSource) (pipelineapp.RefreshResult, error)
}

// RefreshHandler triggers an immediate refresh cycle.
type RefreshHandler struct {
	pipeline Refresher
	source   pipelineapp.EventSource
	logger   *log.Logger
	// Audit records manual refresh triggers when set.
	Audit audit.Logger
}

// NewRefreshHandler constructs the handler. source is drained when the
// request carries no batches.
func NewRefreshHandler(pipeline Refresher, source pipelineapp.EventSource, logger *log.Logger) (*RefreshHandler, error) {
	if pipeline == nil {
		return nil, errors.New("refresh handler: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RefreshHandler{pipeline: pipeline, source: source, logger: logger}, nil
}

type refreshRequest struct {
	Equipments []telemetry.EquipmentBatch `json:"equipments"`
}

type refreshResponse struct {
	pipelineapp.RefreshResult
	Error string `json:"error,omitempty"`
}

// ServeHTTP handles POST /api/v1/refresh.
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRefreshBody))
	if err != nil {
		h.logger.Printf("refresh: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req refreshRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.Printf("refresh: decode error: %v", err)
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	var result pipelineapp.RefreshResult
	switch {
	case len(req.Equipments) > 0:
		result, err = h.pipeline.Refresh(r.Context(), req.Equipments)
	case h.source != nil:
		result, err = h.pipeline.RunOnce(r.Context(), h.source)
	default:
		http.Error(w, "no equipments and no source configured", http.StatusBadRequest)
		return
	}

	if h.Audit != nil {
		entry := audit.FromRequest(r, "refresh.trigger", "refresh_run", result.RunID, map[string]int{
			"equipments": result.Equipments,
			"alerts":     len(result.Alerts),
		})
		if auditErr := h.Audit.Log(r.Context(), entry); auditErr != nil {
			h.logger.Printf("refresh: audit log error: %v", auditErr)
		}
	}

	status := http.StatusOK
	resp := refreshResponse{RefreshResult: result}
	if err != nil {
		h.logger.Printf("refresh: run=%s err=%v", result.RunID, err)
		resp.Error = err.Error()
		status = http.StatusBadGateway
		if result.RunID == "" {
			status = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
