package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"pagebuilder/internal/domain"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldRule is one validateForm rule.
type FieldRule struct {
	Field     string
	Type      string
	Message   string
	Required  bool
	MinLength int
	MaxLength int
	Pattern   string
}

func parseRules(raw any) []FieldRule {
	list, _ := raw.([]any)
	out := make([]FieldRule, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := FieldRule{
			Field:   str(m, "field"),
			Type:    str(m, "type"),
			Message: str(m, "message"),
			Pattern: str(m, "pattern"),
		}
		r.Required, _ = m["required"].(bool)
		r.MinLength = intOf(m["minLength"])
		r.MaxLength = intOf(m["maxLength"])
		out = append(out, r)
	}
	return out
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

// ValidateFields applies rules to form values and returns every failure.
func ValidateFields(values map[string]string, rules []FieldRule) []string {
	var errs []string
	fail := func(r FieldRule, def string) {
		if r.Message != "" {
			errs = append(errs, r.Message)
			return
		}
		errs = append(errs, def)
	}

	for _, r := range rules {
		raw, ok := values[r.Field]
		if !ok {
			errs = append(errs, fmt.Sprintf("Field %q not found", r.Field))
			continue
		}
		value := strings.TrimSpace(raw)
		length := len([]rune(value))

		if r.Required && value == "" {
			fail(r, fmt.Sprintf("Field %q is required", r.Field))
			continue
		}
		if r.MinLength > 0 && length < r.MinLength {
			fail(r, fmt.Sprintf("Field %q must be at least %d characters", r.Field, r.MinLength))
		}
		if r.MaxLength > 0 && length > r.MaxLength {
			fail(r, fmt.Sprintf("Field %q must be no more than %d characters", r.Field, r.MaxLength))
		}
		if r.Pattern != "" && value != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil || !re.MatchString(value) {
				fail(r, fmt.Sprintf("Field %q format is invalid", r.Field))
			}
		}
		if value == "" {
			continue
		}
		switch r.Type {
		case "email":
			if !emailPattern.MatchString(value) {
				fail(r, fmt.Sprintf("Field %q must be a valid email", r.Field))
			}
		case "number":
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				fail(r, fmt.Sprintf("Field %q must be a number", r.Field))
			}
		case "url":
			if u, err := url.Parse(value); err != nil || u.Scheme == "" {
				fail(r, fmt.Sprintf("Field %q must be a valid URL", r.Field))
			}
		}
	}
	return errs
}

func (e *Engine) validateForm(_ context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	formID := str(p, "formId")
	if formID == "" {
		return nil, errors.New("Invalid form ID")
	}
	values, ok := e.host.FormValues(formID)
	if !ok {
		return nil, fmt.Errorf("Form with ID %q not found", formID)
	}

	errs := ValidateFields(values, parseRules(p["rules"]))
	if len(errs) > 0 {
		e.logger.Printf("[EventEngine] form %s validation errors: %v", formID, errs)
		e.SetState("formErrors", map[string]any{"formId": formID, "errors": errs})
	}
	return map[string]any{"isValid": len(errs) == 0, "errors": errs}, nil
}
