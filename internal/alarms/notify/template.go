package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Equipment Alert {{.EventLabel}}]
Equipment: {{.Equipment}}{{ if .Groups }} ({{.Groups}}){{ end }}
Rule: {{.Rule}}
Severity: {{.Severity}} (criticality {{.Criticality}}/10)
Type: {{.EventType}}
Message: {{.Message}}
Period: {{.FirstOccurrence}} - {{.LastOccurrence}}
{{ if .Consolidated }}Occurrences: {{.Count}}
{{ end }}Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Equipment       string
	Groups          string
	Rule            string
	Severity        string
	Criticality     int
	EventType       string
	Message         string
	FirstOccurrence string
	LastOccurrence  string
	Consolidated    bool
	Count           int
	Suggestion      string
	UniqueID        string
	Event           string
	EventLabel      string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
