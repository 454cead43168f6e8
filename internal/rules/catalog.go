package rules

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	alarms "equipment-alerts/internal/alarms/domain"
	episodes "equipment-alerts/internal/episodes/domain"
)

// Matcher evaluates rules for one equipment episode.
type Matcher interface {
	Match(ctx context.Context, equipment string, groups []string, episode episodes.ConsolidatedEpisode) ([]alarms.RuleMatch, error)
}

type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// Catalog is an in-memory rule set, usually loaded from YAML.
type Catalog struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewCatalog validates rules and constructs a catalog.
func NewCatalog(rules []Rule) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCatalog decodes a YAML rule document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rules: parse catalog: %w", err)
	}
	return NewCatalog(file.Rules)
}

// LoadCatalog reads a YAML rule document from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Replace swaps the rule set. Invalid or duplicate rules leave the catalog unchanged.
func (c *Catalog) Replace(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules: rule %d: %w", i, err)
		}
		if _, ok := seen[rule.ID]; ok {
			return fmt.Errorf("rules: duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	cp := append([]Rule(nil), rules...)
	c.mu.Lock()
	c.rules = cp
	c.mu.Unlock()
	return nil
}

// Rules returns a copy of the rule set.
func (c *Catalog) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rule(nil), c.rules...)
}

// Match returns one RuleMatch per enabled rule whose filters accept the
// episode and whose duration threshold triggers, in catalog order.
func (c *Catalog) Match(ctx context.Context, equipment string, groups []string, episode episodes.ConsolidatedEpisode) ([]alarms.RuleMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []alarms.RuleMatch
	for _, rule := range c.rules {
		if !rule.IsEnabled() {
			continue
		}
		if rule.Kind != "" && rule.Kind != episode.Kind {
			continue
		}
		if len(rule.Identifiers) > 0 && !containsFold(rule.Identifiers, episode.Identifier) {
			continue
		}
		if len(rule.Groups) > 0 && !intersects(rule.Groups, groups) {
			continue
		}
		if !shouldTrigger(rule, episode.DurationMinutes) {
			continue
		}
		m := rule.match()
		m.Conditions = map[string]any{
			"equipment":        equipment,
			"operator":         string(rule.Operator),
			"thresholdMinutes": rule.ThresholdMinutes,
			"durationMinutes":  episode.DurationMinutes,
		}
		out = append(out, m)
	}
	return out, nil
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range b {
		if containsFold(a, x) {
			return true
		}
	}
	return false
}
