package httpsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	telemetry "equipment-alerts/internal/telemetry/domain"
)

func TestFetchAllEquipment(t *testing.T) {
	var (
		mu     sync.Mutex
		sinces []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		sinces = append(sinces, r.URL.Query().Get("since"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"equipments":[{"equipment":"TR-01","groups":["Tratores"],"status":[{"kind":"status","start":1770710400,"end":"2026-02-10T08:30:00Z","identifier":"off"}]}]}`))
	}))
	defer server.Close()

	src, err := NewSource(server.URL, "secret")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	src.limiter = rate.NewLimiter(rate.Inf, 1)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	batches, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(batches) != 1 || batches[0].Equipment != "TR-01" || len(batches[0].Status) != 1 {
		t.Fatalf("unexpected batches %+v", batches)
	}
	if _, ok := batches[0].Status[0].StartRaw.(interface{ Int64() (int64, error) }); !ok {
		t.Fatalf("expected json.Number start, got %T", batches[0].Status[0].StartRaw)
	}
	if batches[0].Status[0].Kind != telemetry.KindStatus {
		t.Fatalf("unexpected kind %q", batches[0].Status[0].Kind)
	}

	now = now.Add(time.Minute)
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sinces) != 2 || sinces[0] != "2026-02-10T08:00:00Z" || sinces[1] != "2026-02-10T09:00:00Z" {
		t.Fatalf("unexpected watermarks %v", sinces)
	}
}

func TestFetchPerEquipment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/equipments/TR-01/"):
			_, _ = w.Write([]byte(`{"apontamentos":[{"kind":"apontamento","start":"2026-02-10 08:00","end":"2026-02-10 08:40","identifier":"Manutencao"}]}`))
		case strings.HasPrefix(r.URL.Path, "/api/equipments/BROKEN/"):
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	src, err := NewSource(server.URL, "", WithEquipments([]string{"TR-01", "GONE"}))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	src.limiter = rate.NewLimiter(rate.Inf, 1)
	batches, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(batches) != 1 || batches[0].Equipment != "TR-01" || len(batches[0].Apontamentos) != 1 {
		t.Fatalf("unexpected batches %+v", batches)
	}

	broken, _ := NewSource(server.URL, "", WithEquipments([]string{"BROKEN"}))
	broken.limiter = rate.NewLimiter(rate.Inf, 1)
	if _, err := broken.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if !broken.since.IsZero() {
		t.Fatalf("watermark advanced after failure")
	}
}

func TestFetchRespectsCancelledContext(t *testing.T) {
	src, _ := NewSource("http://127.0.0.1:1", "", WithRateLimit(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Fetch(ctx); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewSourceRequiresURL(t *testing.T) {
	if _, err := NewSource("", ""); err == nil {
		t.Fatalf("expected error")
	}
}
