// Package prompt renders the engine's on-disk prompt templates (NPC
// decision, agent plan) through text/template with strict missing-key
// handling, so a renamed context field fails loudly at render time
// instead of silently producing "<no value>" in a prompt.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

// Template is a prompt template loaded from disk.
type Template struct {
	path  string
	funcs template.FuncMap

	mu   sync.RWMutex
	tmpl *template.Template
}

// NewTemplate parses the template at path with the given function map.
func NewTemplate(path string, funcs template.FuncMap) (*Template, error) {
	if path == "" {
		return nil, fmt.Errorf("prompt: template path is empty")
	}
	t := &Template{path: path, funcs: funcs}
	if err := t.parse(); err != nil {
		return nil, err
	}
	return t, nil
}

// Render executes the template against data.
func (t *Template) Render(data any) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder
	if err := t.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompt: execute %q: %w", t.path, err)
	}
	return b.String(), nil
}

// Reload re-reads and re-parses the template from disk.
func (t *Template) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parse()
}

func (t *Template) parse() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("prompt: read %q: %w", t.path, err)
	}
	tmpl := template.New(filepath.Base(t.path)).Option("missingkey=error")
	if len(t.funcs) > 0 {
		tmpl = tmpl.Funcs(t.funcs)
	}
	if _, err := tmpl.Parse(string(data)); err != nil {
		return fmt.Errorf("prompt: parse %q: %w", t.path, err)
	}
	t.tmpl = tmpl
	return nil
}
