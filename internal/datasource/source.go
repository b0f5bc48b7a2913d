// Package datasource resolves the items a collection element renders.
// Each Source knows one kind of origin (inline items, an HTTP endpoint, a
// file, a database query); a Registry maps binding source types to them.
package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the per-binding source configuration, decoded from JSON.
type Config map[string]any

// String returns the string value of key, "" when absent.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// ConfigField describes a single configuration input for a source.
// The builder UI renders the binding form from this spec.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "select" | "textarea" | "file" | "connection"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type and its config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source produces collection items.
type Source interface {
	Spec() SourceSpec
	Fetch(ctx context.Context, cfg Config) ([]Item, error)
}

// Registry maps source types to sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry returns a registry holding the built-in static, http,
// jsonfile and csvfile sources. Relative file paths resolve against baseDir.
// The database source needs connections and is registered by the caller.
func NewRegistry(baseDir string) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	r.RegisterSource(staticSource{})
	r.RegisterSource(&httpSource{})
	r.RegisterSource(&jsonFileSource{baseDir: baseDir})
	r.RegisterSource(&csvFileSource{baseDir: baseDir})
	return r
}

// RegisterSource adds s, replacing any source of the same type.
func (r *Registry) RegisterSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Spec().Type] = s
}

// GetSource returns a registered source by type.
func (r *Registry) GetSource(typ string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources sorted by type.
func (r *Registry) ListSources() []SourceSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]SourceSpec, 0, len(r.sources))
	for _, s := range r.sources {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// Collect fetches items for a binding and runs the transforms listed under
// cfg["transforms"].
func (r *Registry) Collect(ctx context.Context, sourceType string, cfg Config) ([]Item, error) {
	src, err := r.GetSource(sourceType)
	if err != nil {
		return nil, err
	}
	transforms, err := ParseTransforms(cfg["transforms"])
	if err != nil {
		return nil, err
	}
	items, err := src.Fetch(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s source: %w", sourceType, err)
	}
	return Apply(items, BuildTransformers(transforms)), nil
}
