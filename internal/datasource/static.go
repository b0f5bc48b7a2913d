package datasource

import (
	"context"
	"encoding/json"
	"fmt"
)

// staticSource serves items stored inline in the binding config.
type staticSource struct{}

func (staticSource) Spec() SourceSpec {
	return SourceSpec{
		Type:  "static",
		Label: "Static Items",
		ConfigFields: []ConfigField{
			{Key: "items", Label: "Items", Type: "textarea", Required: true, Help: "JSON array of objects"},
		},
	}
}

func (staticSource) Fetch(_ context.Context, cfg Config) ([]Item, error) {
	switch v := cfg["items"].(type) {
	case nil:
		return []Item{}, nil
	case string:
		var raw any
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return nil, fmt.Errorf("parse items: %w", err)
		}
		return toItems(raw), nil
	case []any:
		return toItems(v), nil
	case []map[string]any:
		return append([]Item(nil), v...), nil
	default:
		return nil, fmt.Errorf("items must be an array, got %T", v)
	}
}
