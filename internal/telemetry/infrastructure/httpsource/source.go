package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	telemetry "equipment-alerts/internal/telemetry/domain"
)

var errNotFound = errors.New("httpsource: not found")

// Source pulls equipment batches from a remote telemetry API.
type Source struct {
	baseURL    string
	token      string
	equipments []string
	lookback   time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	now        func() time.Time

	mu    sync.Mutex
	since time.Time
}

// Option configures the source.
type Option func(*Source)

// WithEquipments restricts fetching to the given equipment, one request each.
func WithEquipments(equipments []string) Option {
	return func(s *Source) {
		s.equipments = append([]string(nil), equipments...)
	}
}

// WithLookback sets how far back the first fetch reaches.
func WithLookback(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithRateLimit sets the minimum interval between outgoing requests.
func WithRateLimit(every time.Duration) Option {
	return func(s *Source) {
		if every > 0 {
			s.limiter = rate.NewLimiter(rate.Every(every), 1)
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Source) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSource constructs a pull source.
func NewSource(baseURL, token string, opts ...Option) (*Source, error) {
	if baseURL == "" {
		return nil, errors.New("httpsource: empty base url")
	}
	s := &Source{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		lookback: time.Hour,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type eventsResponse struct {
	Equipments []telemetry.EquipmentBatch `json:"equipments"`
}

// Fetch returns events recorded since the previous successful fetch. The
// watermark only advances when every request succeeded.
func (s *Source) Fetch(ctx context.Context) ([]telemetry.EquipmentBatch, error) {
	now := s.now()
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-s.lookback)
	}

	query := url.Values{}
	query.Set("since", since.Format(time.RFC3339))
	query.Set("until", now.Format(time.RFC3339))

	var out []telemetry.EquipmentBatch
	if len(s.equipments) == 0 {
		var resp eventsResponse
		if err := s.getJSON(ctx, "/api/events?"+query.Encode(), &resp); err != nil {
			return nil, err
		}
		out = resp.Equipments
	} else {
		for _, equipment := range s.equipments {
			var batch telemetry.EquipmentBatch
			path := fmt.Sprintf("/api/equipments/%s/events?%s", url.PathEscape(equipment), query.Encode())
			err := s.getJSON(ctx, path, &batch)
			if errors.Is(err, errNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("httpsource: equipment %s: %w", equipment, err)
			}
			if batch.Equipment == "" {
				batch.Equipment = equipment
			}
			out = append(out, batch)
		}
	}

	s.mu.Lock()
	s.since = now
	s.mu.Unlock()
	return out, nil
}

func (s *Source) getJSON(ctx context.Context, path string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpsource: http %d", resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}
