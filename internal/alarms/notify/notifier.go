package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	alarms "equipment-alerts/internal/alarms/domain"
)

const (
	eventNew     = "new"
	eventUpdated = "updated"
)

// Clock provides time for send bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders final alerts and delivers them through a channel. Resends
// for the same UniqueID are throttled by cooldown and content dedupe.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	logger       *log.Logger
	minSeverity  alarms.Severity
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
	retention    time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithMinSeverity skips alerts below severity.
func WithMinSeverity(severity alarms.Severity) Option {
	return func(n *Notifier) {
		n.minSeverity = severity
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:   channel,
		template:  template,
		clock:     systemClock{},
		logger:    log.Default(),
		sent:      make(map[string]sendRecord),
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.cooldown > n.retention {
		n.retention = n.cooldown
	}
	if n.dedupeWindow > n.retention {
		n.retention = n.dedupeWindow
	}
	return n, nil
}

// Publish notifies every eligible alert. Delivery errors are joined.
func (n *Notifier) Publish(ctx context.Context, items []alarms.Alert) error {
	if n == nil || n.channel == nil {
		return nil
	}
	n.prune()
	var errs []error
	for _, alert := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n.minSeverity != "" && alert.Severity.Rank() < n.minSeverity.Rank() {
			continue
		}
		if err := n.dispatch(ctx, alert); err != nil {
			n.logger.Printf("alert notifier: send failed: unique_id=%s err=%v", alert.UniqueID, err)
			errs = append(errs, fmt.Errorf("notify %s: %w", alert.UniqueID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) dispatch(ctx context.Context, alert alarms.Alert) error {
	event := eventNew
	n.mu.Lock()
	if _, ok := n.sent[alert.UniqueID]; ok {
		event = eventUpdated
	}
	n.mu.Unlock()

	content, err := n.template.Render(buildTemplateData(event, alert))
	if err != nil {
		return err
	}
	if !n.shouldSend(alert.UniqueID, content) {
		return nil
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return err
	}
	n.markSent(alert.UniqueID, content)
	return nil
}

func buildTemplateData(event string, alert alarms.Alert) TemplateData {
	return TemplateData{
		Equipment:       alert.Equipment,
		Groups:          strings.Join(alert.EquipmentGroups, ", "),
		Rule:            alert.RuleID,
		Severity:        string(alert.Severity),
		Criticality:     alert.CriticalityScore,
		EventType:       alert.EventType,
		Message:         alert.Message,
		FirstOccurrence: formatTime(alert.FirstOccurrence),
		LastOccurrence:  formatTime(alert.LastOccurrence),
		Consolidated:    alert.Consolidated,
		Count:           alert.ConsolidatedCount,
		Suggestion:      suggestionFor(alert.Severity),
		UniqueID:        alert.UniqueID,
		Event:           event,
		EventLabel:      eventLabel(event),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func eventLabel(event string) string {
	switch event {
	case eventNew:
		return "New"
	case eventUpdated:
		return "Updated"
	default:
		return event
	}
}

func suggestionFor(severity alarms.Severity) string {
	switch severity {
	case alarms.SeverityCritical, alarms.SeverityHigh:
		return "Investigate immediately and dispatch maintenance."
	case alarms.SeverityMedium:
		return "Verify the equipment condition and take action if needed."
	default:
		return "Monitor the equipment."
	}
}

func (n *Notifier) shouldSend(uniqueID, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[uniqueID]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(uniqueID, content string) {
	n.mu.Lock()
	n.sent[uniqueID] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

// prune drops send records older than the retention period.
func (n *Notifier) prune() {
	now := n.clock.Now().UTC()
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, record := range n.sent {
		if now.Sub(record.at) > n.retention {
			delete(n.sent, key)
		}
	}
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
