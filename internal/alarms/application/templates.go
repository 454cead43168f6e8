package application

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultMessageTemplate is used when no group template is registered.
const DefaultMessageTemplate = "[{severity}] {equipment}: {message} - {identifier} for {duration} ({timeRange})"

var placeholderPattern = regexp.MustCompile(`\{[A-Za-z][A-Za-z0-9_]*\}`)

// TemplateRegistry maps equipment groups to message templates.
type TemplateRegistry struct {
	mu       sync.RWMutex
	byGroup  map[string]string
	fallback string
}

// NewTemplateRegistry constructs a registry with the given default template.
// An empty default falls back to DefaultMessageTemplate.
func NewTemplateRegistry(defaultTemplate string) *TemplateRegistry {
	if defaultTemplate == "" {
		defaultTemplate = DefaultMessageTemplate
	}
	return &TemplateRegistry{byGroup: make(map[string]string), fallback: defaultTemplate}
}

// Register sets the template for a group. An empty template removes it.
func (r *TemplateRegistry) Register(group, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if template == "" {
		delete(r.byGroup, group)
		return
	}
	r.byGroup[group] = template
}

// Resolve returns the template for group, or the default.
func (r *TemplateRegistry) Resolve(group string) string {
	if r == nil {
		return DefaultMessageTemplate
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tpl, ok := r.byGroup[group]; ok && group != "" {
		return tpl
	}
	return r.fallback
}

// Render substitutes {name} placeholders literally. Placeholders without a
// value stay in the output unless stripUnknown is set.
func Render(template string, values map[string]string, stripUnknown bool) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if value, ok := values[name]; ok {
			return value
		}
		if stripUnknown {
			return ""
		}
		return token
	})
}
