package ollama

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

type Category struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

// Catalogue lists the clinically relevant attributes by category.
type Catalogue struct {
	Categories []Category `yaml:"categories"`
}

func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultCatalogue)
}

func ParseCatalogue(raw []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse field catalogue: %w", err)
	}
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("parse field catalogue: no categories")
	}
	return &c, nil
}

func (c *Catalogue) Fields() []string {
	var out []string
	for _, cat := range c.Categories {
		out = append(out, cat.Fields...)
	}
	return out
}

// Select keeps the catalogue fields present in meta with a non-empty value.
func (c *Catalogue) Select(meta map[string]domain.Value) map[string]domain.Value {
	out := map[string]domain.Value{}
	for _, field := range c.Fields() {
		v, ok := meta[field]
		if !ok || isEmpty(v) {
			continue
		}
		out[field] = v
	}
	return out
}

func (c *Catalogue) describe() string {
	var b strings.Builder
	for _, cat := range c.Categories {
		b.WriteString("- ")
		b.WriteString(cat.Name)
		b.WriteString(": ")
		b.WriteString(strings.Join(cat.Fields, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func isEmpty(v domain.Value) bool {
	if v.IsNull() {
		return true
	}
	if s, ok := v.AsString(); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return v.Kind() == domain.KindList && len(v.Items()) == 0
}
