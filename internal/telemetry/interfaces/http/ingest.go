package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	telemetry "equipment-alerts/internal/telemetry/domain"
)

const maxIngestBody = 10 << 20

// ErrBackpressure signals that the ingester cannot take more events right now.
var ErrBackpressure = errors.New("telemetry ingest: backpressure")

// Ingester accepts equipment batches for the next refresh cycle.
type Ingester interface {
	Add(batches ...telemetry.EquipmentBatch) error
}

// IngestHandler accepts telemetry events over HTTP.
type IngestHandler struct {
	ingester Ingester
	isFull   func(error) bool
	logger   *log.Logger
}

// NewIngestHandler constructs an ingest handler. isFull reports ingester
// errors that should be answered with 503 instead of 500.
func NewIngestHandler(ingester Ingester, isFull func(error) bool, logger *log.Logger) (*IngestHandler, error) {
	if ingester == nil {
		return nil, errors.New("telemetry ingest: nil ingester")
	}
	if isFull == nil {
		isFull = func(err error) bool { return errors.Is(err, ErrBackpressure) }
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{ingester: ingester, isFull: isFull, logger: logger}, nil
}

// ServeHTTP ingests one equipment batch or {"equipments": [...]}.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	var req ingestRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	batches, events, err := req.toBatches()
	if err != nil {
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.ingester.Add(batches...); err != nil {
		if h.isFull(err) {
			h.logger.Printf("telemetry ingest: buffer full: events=%d", events)
			http.Error(w, "buffer full", http.StatusServiceUnavailable)
			return
		}
		h.logger.Printf("telemetry ingest: add error: %v", err)
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"equipments": len(batches), "accepted": events})
}

type ingestRequest struct {
	telemetry.EquipmentBatch
	Equipments []telemetry.EquipmentBatch `json:"equipments"`
}

func (r ingestRequest) toBatches() ([]telemetry.EquipmentBatch, int, error) {
	batches := r.Equipments
	if len(batches) == 0 && r.Equipment != "" {
		batches = []telemetry.EquipmentBatch{r.EquipmentBatch}
	}
	if len(batches) == 0 {
		return nil, 0, errors.New("no equipment batches")
	}
	events := 0
	for i := range batches {
		if batches[i].Equipment == "" {
			return nil, 0, errors.New("missing equipment")
		}
		fillKind(batches[i].Status, telemetry.KindStatus)
		fillKind(batches[i].Apontamentos, telemetry.KindApontamento)
		events += len(batches[i].Status) + len(batches[i].Apontamentos)
	}
	if events == 0 {
		return nil, 0, errors.New("no events")
	}
	return batches, events, nil
}

func fillKind(events []telemetry.RawEvent, kind telemetry.Kind) {
	for i := range events {
		if events[i].Kind == "" {
			events[i].Kind = kind
		}
	}
}
