package datasource

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers reshape items between the source and the collection.
// Each returns the (possibly modified) item and whether to keep it.

type Transformer interface {
	Transform(Item) (Item, bool)
}

// TransformConfig is a declarative transform stored in a binding config.
type TransformConfig struct {
	Type   string         `json:"type"` // "filter" | "rename" | "select" | "dedupe" | "cast" | "sort" | "limit"
	Config map[string]any `json:"config"`
}

// FilterTransform drops items where the field does not match the value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains"
	Value any
}

func (t *FilterTransform) Transform(it Item) (Item, bool) {
	v, ok := it[t.Field]
	if !ok {
		return it, false
	}
	switch t.Op {
	case "eq":
		return it, fmt.Sprint(v) == fmt.Sprint(t.Value)
	case "neq":
		return it, fmt.Sprint(v) != fmt.Sprint(t.Value)
	case "contains":
		return it, strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(t.Value)))
	case "gt":
		return it, toFloat(v) > toFloat(t.Value)
	case "lt":
		return it, toFloat(v) < toFloat(t.Value)
	default:
		return it, true
	}
}

// RenameTransform renames fields.
type RenameTransform struct {
	Mapping map[string]string // old → new
}

func (t *RenameTransform) Transform(it Item) (Item, bool) {
	for from, to := range t.Mapping {
		if v, ok := it[from]; ok {
			it[to] = v
			delete(it, from)
		}
	}
	return it, true
}

// SelectTransform keeps only the listed fields.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(it Item) (Item, bool) {
	kept := make(Item, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := it[f]; ok {
			kept[f] = v
		}
	}
	return kept, true
}

// DedupeTransform drops items whose key value was already seen.
type DedupeTransform struct {
	Key  string
	seen map[string]bool
}

func NewDedupeTransform(key string) *DedupeTransform {
	return &DedupeTransform{Key: key, seen: make(map[string]bool)}
}

func (t *DedupeTransform) Transform(it Item) (Item, bool) {
	v := fmt.Sprint(it[t.Key])
	if t.seen[v] {
		return it, false
	}
	t.seen[v] = true
	return it, true
}

// CastTransform converts a field to "number", "string" or "bool".
type CastTransform struct {
	Field    string
	CastType string
}

func (t *CastTransform) Transform(it Item) (Item, bool) {
	v, ok := it[t.Field]
	if !ok {
		return it, true
	}
	switch t.CastType {
	case "number":
		it[t.Field] = toFloat(v)
	case "string":
		it[t.Field] = fmt.Sprint(v)
	case "bool":
		it[t.Field] = toBool(v)
	}
	return it, true
}

// SortTransform and LimitTransform act on the whole list after the
// per-item chain; Apply runs them in order.
type SortTransform struct {
	Field     string
	Direction string // "asc" | "desc"
}

func (t *SortTransform) Transform(it Item) (Item, bool) { return it, true }

type LimitTransform struct {
	Count int
}

func (t *LimitTransform) Transform(it Item) (Item, bool) { return it, true }

// ParseTransforms decodes the "transforms" entry of a binding config.
func ParseTransforms(raw any) ([]TransformConfig, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode transforms: %w", err)
	}
	var out []TransformConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse transforms: %w", err)
	}
	return out, nil
}

// BuildTransformers turns configs into transformers, skipping incomplete ones.
func BuildTransformers(configs []TransformConfig) []Transformer {
	var ts []Transformer
	for _, tc := range configs {
		cfg := Config(tc.Config)
		switch tc.Type {
		case "filter":
			if field, op := cfg.String("field"), cfg.String("op"); field != "" && op != "" {
				ts = append(ts, &FilterTransform{Field: field, Op: op, Value: cfg["value"]})
			}
		case "rename":
			if mapping, ok := cfg["mapping"].(map[string]any); ok {
				m := make(map[string]string, len(mapping))
				for k, v := range mapping {
					m[k] = fmt.Sprint(v)
				}
				ts = append(ts, &RenameTransform{Mapping: m})
			}
		case "select":
			if fields, ok := cfg["fields"].([]any); ok {
				ff := make([]string, 0, len(fields))
				for _, f := range fields {
					ff = append(ff, fmt.Sprint(f))
				}
				ts = append(ts, &SelectTransform{Fields: ff})
			}
		case "dedupe":
			if key := cfg.String("key"); key != "" {
				ts = append(ts, NewDedupeTransform(key))
			}
		case "cast":
			if field := cfg.String("field"); field != "" {
				ts = append(ts, &CastTransform{Field: field, CastType: cfg.String("type")})
			}
		case "sort":
			if field := cfg.String("field"); field != "" {
				ts = append(ts, &SortTransform{Field: field, Direction: cfg.String("direction")})
			}
		case "limit":
			if n := int(toFloat(cfg["count"])); n > 0 {
				ts = append(ts, &LimitTransform{Count: n})
			}
		}
	}
	return ts
}

// Apply runs ts over copies of items, then the sort and limit steps.
func Apply(items []Item, ts []Transformer) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		cp := make(Item, len(it))
		for k, v := range it {
			cp[k] = v
		}
		keep := true
		for _, t := range ts {
			if cp, keep = t.Transform(cp); !keep {
				break
			}
		}
		if keep {
			out = append(out, cp)
		}
	}

	for _, t := range ts {
		switch bt := t.(type) {
		case *SortTransform:
			dir := 1
			if bt.Direction == "desc" {
				dir = -1
			}
			sort.SliceStable(out, func(i, j int) bool {
				return compareValues(out[i][bt.Field], out[j][bt.Field])*dir < 0
			})
		case *LimitTransform:
			if len(out) > bt.Count {
				out = out[:bt.Count]
			}
		}
	}
	return out
}

func compareValues(a, b any) int {
	fa, aOk := toFloatSafe(a)
	fb, bOk := toFloatSafe(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatSafe(v)
	return f
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}
