package providers

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

const defaultInstructionTemplate = `You are a {{.Persona}} visiting a website.

Start at: {{.StartingURL}}

Your goal: {{.Goal}}
{{- if .Steps}}

Suggested steps:
{{.Steps}}
{{- end}}

Behave the way this kind of visitor would. Stay on the site unless the goal
requires leaving it. When the goal is reached, or you are sure it cannot be
reached, finish and explain the outcome in one or two sentences.
`

// InstructionBuilder renders the agent instruction for a resolved task.
type InstructionBuilder struct {
	tmpl *template.Template
}

// NewInstructionBuilder parses the template at path, or the built-in persona
// template when path is empty.
func NewInstructionBuilder(path string) (*InstructionBuilder, error) {
	src := defaultInstructionTemplate
	name := "default"
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read instruction template: %w", err)
		}
		src, name = string(b), path
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse instruction template: %w", err)
	}
	return &InstructionBuilder{tmpl: tmpl}, nil
}

func (b *InstructionBuilder) Build(task domain.Task) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, task); err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	return buf.String(), nil
}
