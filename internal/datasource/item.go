package datasource

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Item is one row of a collection.
type Item = map[string]any

// Field describes a single column of a collection.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text" | "number" | "boolean"
}

// Schema describes the shape of a collection's items.
type Schema struct {
	Fields []Field `json:"fields"`
}

// InferSchema derives a schema from items, typing each field by the first
// non-nil value seen. Fields are sorted by name.
func InferSchema(items []Item) *Schema {
	types := make(map[string]string)
	for _, it := range items {
		for k, v := range it {
			if t, ok := types[k]; ok && t != "" {
				continue
			}
			types[k] = inferType(v)
		}
	}
	schema := &Schema{Fields: make([]Field, 0, len(types))}
	for name, typ := range types {
		if typ == "" {
			typ = "text"
		}
		schema.Fields = append(schema.Fields, Field{Name: name, Type: typ})
	}
	sort.Slice(schema.Fields, func(i, j int) bool { return schema.Fields[i].Name < schema.Fields[j].Name })
	return schema
}

func inferType(v any) string {
	if v == nil {
		return ""
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Float64, reflect.Float32, reflect.Int, reflect.Int32, reflect.Int64:
		return "number"
	case reflect.Bool:
		return "boolean"
	default:
		return "text"
	}
}

// toItems converts a decoded JSON value into items. A single object is one
// item; scalars inside an array are wrapped as {"value": v}.
func toItems(raw any) []Item {
	switch v := raw.(type) {
	case []any:
		items := make([]Item, 0, len(v))
		for _, el := range v {
			if m, ok := el.(map[string]any); ok {
				items = append(items, m)
			} else {
				items = append(items, Item{"value": el})
			}
		}
		return items
	case map[string]any:
		return []Item{v}
	default:
		return []Item{}
	}
}

// navigatePath walks a dot-separated path into nested maps.
func navigatePath(obj any, path string) (any, error) {
	if path == "" {
		return obj, nil
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid data path: %q not found", part)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("invalid data path: %q not found", part)
		}
	}
	return current, nil
}
