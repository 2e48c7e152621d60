package volume

import (
	"sort"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

const (
	DefaultValueLimit = 1000
	truncationMarker  = "..."
)

// Consolidator merges per-file attributes; the first file to set a key wins.
type Consolidator struct {
	merged map[string]domain.Value
}

func NewConsolidator() *Consolidator {
	return &Consolidator{merged: make(map[string]domain.Value)}
}

func (c *Consolidator) Merge(attrs map[string]domain.Value) {
	for key, value := range attrs {
		if _, exists := c.merged[key]; exists {
			continue
		}
		c.merged[key] = value
	}
}

func (c *Consolidator) Len() int {
	return len(c.merged)
}

func (c *Consolidator) Result() map[string]domain.Value {
	out := make(map[string]domain.Value, len(c.merged))
	for k, v := range c.merged {
		out[k] = v
	}
	return out
}

// Consolidate merges attribute maps in the given order.
func Consolidate(attrs ...map[string]domain.Value) map[string]domain.Value {
	c := NewConsolidator()
	for _, a := range attrs {
		c.Merge(a)
	}
	return c.Result()
}

// Flatten renders metadata as key/value text rows sorted by key. Null values
// are dropped and text longer than limit runes is cut with a "..." marker.
func Flatten(meta map[string]domain.Value, limit int) []domain.MetadataEntry {
	if limit <= 0 {
		limit = DefaultValueLimit
	}

	keys := make([]string, 0, len(meta))
	for k, v := range meta {
		if v.IsNull() {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]domain.MetadataEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, domain.MetadataEntry{
			Key:   k,
			Value: Truncate(meta[k].Text(), limit),
		})
	}
	return entries
}

func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}
