package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	alarmapp "equipment-alerts/internal/alarms/application"
	alarms "equipment-alerts/internal/alarms/domain"
	episodeapp "equipment-alerts/internal/episodes/application"
	episodes "equipment-alerts/internal/episodes/domain"
	"equipment-alerts/internal/observability/metrics"
	"equipment-alerts/internal/rules"
	telemetryapp "equipment-alerts/internal/telemetry/application"
	telemetry "equipment-alerts/internal/telemetry/domain"
)

// AlertSink receives the final alerts of a refresh cycle.
type AlertSink interface {
	Publish(ctx context.Context, alerts []alarms.Alert) error
}

// EpisodeSink receives consolidated episodes per equipment.
type EpisodeSink interface {
	SaveEpisodes(ctx context.Context, equipment string, items []episodes.ConsolidatedEpisode) error
}

// RefreshResult summarizes one refresh cycle.
type RefreshResult struct {
	RunID            string         `json:"runId"`
	StartedAt        time.Time      `json:"startedAt"`
	FinishedAt       time.Time      `json:"finishedAt"`
	Equipments       int            `json:"equipments"`
	EventsNormalized int            `json:"eventsNormalized"`
	EventsDropped    int            `json:"eventsDropped"`
	Episodes         int            `json:"episodes"`
	FailedOpen       int            `json:"failedOpen"`
	RawAlerts        int            `json:"rawAlerts"`
	Alerts           []alarms.Alert `json:"alerts"`
}

// Pipeline runs normalization, consolidation, rule matching, alert building
// and window consolidation for a batch of equipment.
type Pipeline struct {
	mu           sync.Mutex
	normalizer   *telemetryapp.Normalizer
	consolidator *episodeapp.Consolidator
	matcher      rules.Matcher
	factory      *alarmapp.AlertFactory
	windows      *alarmapp.WindowConsolidator
	sinks        []AlertSink
	episodeSink  EpisodeSink
	newRunID     func() string
	logger       *log.Logger
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithSinks appends alert sinks.
func WithSinks(sinks ...AlertSink) Option {
	return func(p *Pipeline) {
		for _, sink := range sinks {
			if sink != nil {
				p.sinks = append(p.sinks, sink)
			}
		}
	}
}

// WithEpisodeSink stores consolidated episodes.
func WithEpisodeSink(sink EpisodeSink) Option {
	return func(p *Pipeline) {
		p.episodeSink = sink
	}
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newRunID = fn
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline constructs a pipeline.
func NewPipeline(
	normalizer *telemetryapp.Normalizer,
	consolidator *episodeapp.Consolidator,
	matcher rules.Matcher,
	factory *alarmapp.AlertFactory,
	windows *alarmapp.WindowConsolidator,
	opts ...Option,
) (*Pipeline, error) {
	if normalizer == nil {
		return nil, errors.New("pipeline: nil normalizer")
	}
	if consolidator == nil {
		return nil, errors.New("pipeline: nil consolidator")
	}
	if matcher == nil {
		return nil, errors.New("pipeline: nil matcher")
	}
	if factory == nil {
		return nil, errors.New("pipeline: nil alert factory")
	}
	if windows == nil {
		return nil, errors.New("pipeline: nil window consolidator")
	}
	p := &Pipeline{
		normalizer:   normalizer,
		consolidator: consolidator,
		matcher:      matcher,
		factory:      factory,
		windows:      windows,
		newRunID:     uuid.NewString,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Refresh processes one batch. Concurrent calls are serialized. Per-equipment
// failures are logged and skipped; only context cancellation aborts the cycle.
// Sink errors are joined into the returned error after every sink has run.
func (p *Pipeline) Refresh(ctx context.Context, batches []telemetry.EquipmentBatch) (RefreshResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := RefreshResult{RunID: p.newRunID(), StartedAt: time.Now().UTC(), Equipments: len(batches)}
	var raw []alarms.Alert
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			metrics.ObserveRefresh(metrics.ResultError, time.Since(result.StartedAt))
			return result, err
		}
		alerts, err := p.processEquipment(ctx, batch, &result)
		if err != nil {
			metrics.ObserveRefresh(metrics.ResultError, time.Since(result.StartedAt))
			return result, err
		}
		raw = append(raw, alerts...)
	}
	result.RawAlerts = len(raw)

	final := p.windows.Process(raw)
	result.Alerts = final

	var sinkErrs []error
	if len(final) > 0 {
		for _, sink := range p.sinks {
			if err := sink.Publish(ctx, final); err != nil {
				p.logger.Printf("pipeline: sink publish failed: run=%s err=%v", result.RunID, err)
				sinkErrs = append(sinkErrs, err)
			}
		}
	}
	result.FinishedAt = time.Now().UTC()

	outcome := metrics.ResultSuccess
	if len(sinkErrs) > 0 {
		outcome = metrics.ResultError
	}
	metrics.ObserveRefresh(outcome, result.FinishedAt.Sub(result.StartedAt))
	p.logger.Printf("pipeline: refresh done: run=%s equipments=%d episodes=%d raw_alerts=%d alerts=%d dropped=%d",
		result.RunID, result.Equipments, result.Episodes, result.RawAlerts, len(final), result.EventsDropped)
	return result, errors.Join(sinkErrs...)
}

func (p *Pipeline) processEquipment(ctx context.Context, batch telemetry.EquipmentBatch, result *RefreshResult) ([]alarms.Alert, error) {
	status := p.normalize(batch, telemetry.KindStatus, result)
	apontamentos := p.normalize(batch, telemetry.KindApontamento, result)
	equipmentCtx := alarms.EquipmentContext{
		Groups:       batch.Groups,
		Status:       status,
		Apontamentos: apontamentos,
	}

	var all []episodes.ConsolidatedEpisode
	for _, part := range []struct {
		kind   telemetry.Kind
		events []telemetry.NormalizedEvent
	}{
		{telemetry.KindStatus, status},
		{telemetry.KindApontamento, apontamentos},
	} {
		if len(part.events) == 0 {
			continue
		}
		res := p.consolidator.ConsolidateEquipment(batch.Equipment, part.events, part.kind)
		if res.FailedOpen {
			result.FailedOpen++
		}
		all = append(all, res.Episodes...)
	}
	result.Episodes += len(all)

	if p.episodeSink != nil && len(all) > 0 {
		if err := p.episodeSink.SaveEpisodes(ctx, batch.Equipment, all); err != nil {
			p.logger.Printf("pipeline: save episodes failed: equipment=%s err=%v", batch.Equipment, err)
		}
	}

	var alerts []alarms.Alert
	for _, episode := range all {
		matches, err := p.matcher.Match(ctx, batch.Equipment, batch.Groups, episode)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.logger.Printf("pipeline: rule match failed: equipment=%s episode=%s err=%v", batch.Equipment, episode.ID, err)
			continue
		}
		for _, match := range matches {
			alerts = append(alerts, p.factory.Build(match, batch.Equipment, episode, equipmentCtx))
		}
	}
	return alerts, nil
}

func (p *Pipeline) normalize(batch telemetry.EquipmentBatch, kind telemetry.Kind, result *RefreshResult) []telemetry.NormalizedEvent {
	raw := append([]telemetry.RawEvent(nil), batch.Events(kind)...)
	if len(raw) == 0 {
		return nil
	}
	for i := range raw {
		if raw[i].Kind == "" {
			raw[i].Kind = kind
		}
		if raw[i].Source == "" {
			raw[i].Source = batch.Equipment
		}
	}
	res := p.normalizer.Normalize(raw)
	for _, rej := range res.Rejected {
		p.logger.Printf("pipeline: dropped malformed event: equipment=%s kind=%s index=%d err=%v", batch.Equipment, kind, rej.Index, rej.Err)
	}
	result.EventsNormalized += len(res.Events)
	result.EventsDropped += res.Dropped()
	metrics.AddEventsNormalized(string(kind), len(res.Events))
	metrics.AddEventsDropped(string(kind), res.Dropped())
	return res.Events
}

// RunOnce fetches from source and refreshes. Batches returned alongside a
// fetch error are still refreshed; the fetch error is joined into the result.
func (p *Pipeline) RunOnce(ctx context.Context, source EventSource) (RefreshResult, error) {
	batches, fetchErr := source.Fetch(ctx)
	if fetchErr != nil {
		if len(batches) == 0 {
			metrics.ObserveRefresh(metrics.ResultError, 0)
			return RefreshResult{}, fetchErr
		}
		p.logger.Printf("pipeline: partial fetch, refreshing %d batches: err=%v", len(batches), fetchErr)
	}
	result, err := p.Refresh(ctx, batches)
	return result, errors.Join(fetchErr, err)
}

// Windows returns the window consolidator used by the pipeline.
func (p *Pipeline) Windows() *alarmapp.WindowConsolidator {
	return p.windows
}

// Consolidator returns the interval consolidator used by the pipeline.
func (p *Pipeline) Consolidator() *episodeapp.Consolidator {
	return p.consolidator
}
