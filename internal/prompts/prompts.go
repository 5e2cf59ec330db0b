// Package prompts renders the model prompts used by the workflows from a
// YAML catalog.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// TaskPrefix starts every rendered prompt, followed by the prompt ID.
const TaskPrefix = "### task: "

// Catalog holds parsed templates keyed by prompt ID.
type Catalog struct {
	templates map[string]*template.Template
}

var funcs = template.FuncMap{"join": strings.Join}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog, nil)
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog with entries from the YAML file at path
// layered on top. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return parse(data, base)
}

func parse(data []byte, base *Catalog) (*Catalog, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	c := &Catalog{templates: make(map[string]*template.Template)}
	if base != nil {
		for id, t := range base.templates {
			c.templates[id] = t
		}
	}
	for id, text := range raw {
		t, err := template.New(id).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", id, err)
		}
		c.templates[id] = t
	}
	return c, nil
}

// Has reports whether the catalog defines id.
func (c *Catalog) Has(id string) bool {
	_, ok := c.templates[id]
	return ok
}

// Render executes the template id with data.
func (c *Catalog) Render(id string, data any) (string, error) {
	t, ok := c.templates[id]
	if !ok {
		return "", fmt.Errorf("prompt %s not found", id)
	}
	var b strings.Builder
	b.WriteString(TaskPrefix)
	b.WriteString(id)
	b.WriteByte('\n')
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", id, err)
	}
	return b.String(), nil
}

// Task extracts the prompt ID and payload from a rendered prompt. The payload
// is the text after the last "---" line.
func Task(prompt string) (id, payload string) {
	if rest, ok := strings.CutPrefix(prompt, TaskPrefix); ok {
		id, _, _ = strings.Cut(rest, "\n")
	}
	if i := strings.LastIndex(prompt, "\n---\n"); i >= 0 {
		payload = strings.TrimSpace(prompt[i+len("\n---\n"):])
	}
	return strings.TrimSpace(id), payload
}
