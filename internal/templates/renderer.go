package templates

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"
)

// bareField matches placeholders written without the leading dot, e.g. "{{ nome }}".
var bareField = regexp.MustCompile(`{{-?\s*([A-Za-z_][A-Za-z0-9_]*)\s*-?}}`)

// Renderer renders small text templates for outbound messaging.
type Renderer struct{}

// Render compiles the provided template text with strict missing-key semantics.
// Placeholders may be written as "{{ .nome }}" or "{{ nome }}".
func (Renderer) Render(name, tmpl string, data any) (string, error) {
	if tmpl == "" {
		return "", fmt.Errorf("templates: template text required")
	}
	t, err := template.New(name).Option("missingkey=error").Parse(normalize(tmpl))
	if err != nil {
		return "", fmt.Errorf("templates: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute: %w", err)
	}
	return buf.String(), nil
}

func normalize(tmpl string) string {
	return bareField.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := bareField.FindStringSubmatch(m)
		switch sub[1] {
		case "end", "else", "nil", "true", "false", "break", "continue":
			return m
		}
		return "{{ ." + sub[1] + " }}"
	})
}
