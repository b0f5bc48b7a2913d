package mcpserver

import (
	"encoding/json"
	"fmt"

	"pagebuilder/internal/domain"
)

// parseJSON parses a JSON string into the target type.
func parseJSON(data string, target any) error {
	return json.Unmarshal([]byte(data), target)
}

// propsArg reads key as a props object, given either as JSON text or an object.
func propsArg(args map[string]any, key string) (domain.Props, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return domain.Props(v), nil
	case string:
		if v == "" {
			return nil, nil
		}
		var props domain.Props
		if err := parseJSON(v, &props); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object: %w", key, err)
		}
		return props, nil
	default:
		return nil, fmt.Errorf("%s must be a JSON object", key)
	}
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func boolPtr(v bool) *bool { return &v }

// elementSummary is the compact view of an element returned by list tools.
type elementSummary struct {
	ID       string `json:"id"`
	Tag      string `json:"tag"`
	ParentID string `json:"parentId,omitempty"`
	OrderNum int    `json:"orderNum"`
	Text     string `json:"text,omitempty"`
	Events   int    `json:"events,omitempty"`
}

func summarizeElement(e domain.Element) elementSummary {
	text, _ := e.Props["children"].(string)
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80]) + "…"
	}
	return elementSummary{
		ID:       e.ID,
		Tag:      string(e.Tag),
		ParentID: string(e.ParentID),
		OrderNum: e.OrderNum,
		Text:     text,
		Events:   len(e.Events),
	}
}
