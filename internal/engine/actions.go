package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"pagebuilder/internal/apierr"
	"pagebuilder/internal/domain"
)

// payload is the action's config, falling back to its value.
func payload(a domain.Action) map[string]any {
	if len(a.Config) > 0 {
		return a.Config
	}
	if a.Value != nil {
		return a.Value
	}
	return map[string]any{}
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func flag(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

// ── State ──────────────────────────────────────────────────

func (e *Engine) updateState(_ context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	key := str(p, "key")
	if key == "" {
		return nil, nil
	}
	e.SetState(key, p["value"])
	return map[string]any{"key": key, "value": p["value"]}, nil
}

// ── Navigation ─────────────────────────────────────────────

var externalURL = regexp.MustCompile(`(?i)^(https?://|//|mailto:|tel:)`)

func (e *Engine) navigate(ctx context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	target := str(p, "path", "url")
	if target == "" {
		return nil, errors.New("Invalid path")
	}
	replace := flag(p, "replace", false)

	if flag(p, "openInNewTab", false) || flag(p, "newTab", false) {
		if err := e.host.OpenTab(ctx, target); err != nil {
			return nil, fmt.Errorf("open tab: %w", err)
		}
		return map[string]any{"url": target, "newTab": true}, nil
	}

	if !externalURL.MatchString(target) && strings.HasPrefix(target, "/") {
		if e.host.Embedded() && e.poster != nil {
			if err := e.poster.Post(ctx, "NAVIGATE_TO_PAGE", map[string]any{"path": target, "replace": replace}); err != nil {
				return nil, fmt.Errorf("post navigation: %w", err)
			}
			return map[string]any{"path": target}, nil
		}
		if err := e.host.Navigate(ctx, target, replace); err != nil {
			return nil, fmt.Errorf("navigate: %w", err)
		}
		return map[string]any{"path": target}, nil
	}

	u, err := url.Parse(target)
	if err != nil || (u.Scheme == "" && !strings.HasPrefix(target, "//")) {
		return nil, errors.New("Invalid URL")
	}
	if err := e.host.Navigate(ctx, target, replace); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	return map[string]any{"url": target}, nil
}

// ── Visibility and overlays ────────────────────────────────

func (e *Engine) toggleVisibility(_ context.Context, a domain.Action, ec Context) (any, error) {
	p := payload(a)
	id := str(p, "elementId")
	if id == "" {
		id = ec.ElementID
	}
	if id == "" {
		return nil, errors.New("Invalid element ID")
	}
	display := "block"
	if show, ok := p["show"].(bool); ok && !show {
		display = "none"
	}
	if !e.host.SetDisplay(id, display) {
		return nil, fmt.Errorf("Element with ID %q not found", id)
	}
	return map[string]any{"elementId": id, "display": display}, nil
}

func (e *Engine) showModal(_ context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	id := str(p, "modalId")
	if id == "" {
		return nil, errors.New("Invalid modal ID")
	}
	if err := e.host.ShowModal(id, flag(p, "backdrop", true)); err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return nil, fmt.Errorf("Modal with ID %q not found", id)
		}
		return nil, fmt.Errorf("show modal: %w", err)
	}
	return map[string]any{"modalId": id}, nil
}

func (e *Engine) hideModal(_ context.Context, a domain.Action, _ Context) (any, error) {
	id := str(payload(a), "modalId")
	if id == "" {
		return nil, errors.New("Invalid modal ID")
	}
	if !e.host.HideModal(id) {
		e.logger.Printf("[EventEngine] modal %q not found", id)
	}
	return map[string]any{"modalId": id}, nil
}

func (e *Engine) scrollTo(_ context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	id := str(p, "elementId")
	behavior := str(p, "behavior")
	if behavior == "" {
		behavior = "smooth"
	}
	if !e.host.ScrollTo(id, behavior) {
		e.logger.Printf("[EventEngine] scroll target %q not found", id)
		return nil, nil
	}
	return map[string]any{"elementId": id}, nil
}

func (e *Engine) copyToClipboard(ctx context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	text, ok := p["text"].(string)
	if !ok {
		text = fmt.Sprint(p["text"])
	}
	if err := e.host.CopyToClipboard(ctx, text); err != nil {
		return nil, fmt.Errorf("copy to clipboard: %w", err)
	}
	return map[string]any{"text": text}, nil
}

func (e *Engine) showToast(ctx context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	msg := str(p, "message")
	variant := str(p, "variant", "type")
	if variant == "" {
		variant = "info"
	}
	if e.host.Embedded() && e.poster != nil {
		if err := e.poster.Post(ctx, "SHOW_TOAST", map[string]any{"message": msg, "variant": variant, "duration": p["duration"]}); err != nil {
			return nil, fmt.Errorf("post toast: %w", err)
		}
		return map[string]any{"message": msg}, nil
	}
	e.logger.Printf("[Toast %s]: %s", variant, msg)
	return map[string]any{"message": msg}, nil
}

// ── Forms ──────────────────────────────────────────────────

func (e *Engine) resetForm(_ context.Context, a domain.Action, _ Context) (any, error) {
	id := str(payload(a), "formId")
	if id == "" {
		return nil, errors.New("Invalid form ID")
	}
	if !e.host.ResetForm(id) {
		e.logger.Printf("[EventEngine] form %q not found", id)
	}
	return map[string]any{"formId": id}, nil
}

func (e *Engine) submitForm(_ context.Context, a domain.Action, _ Context) (any, error) {
	id := str(payload(a), "formId")
	if id == "" {
		return nil, errors.New("Invalid form ID")
	}
	if !e.host.SubmitForm(id) {
		return nil, fmt.Errorf("Form with ID %q not found", id)
	}
	return map[string]any{"formId": id}, nil
}

func (e *Engine) updateFormField(_ context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	name := str(p, "fieldName", "field")
	if name == "" {
		return nil, errors.New("Field name is required")
	}
	value := fmt.Sprint(p["value"])
	if p["value"] == nil {
		value = ""
	}
	if !e.host.SetFormField(str(p, "formId"), name, value) {
		return nil, fmt.Errorf("Field %q not found", name)
	}
	return map[string]any{"field": name, "value": value}, nil
}

// ── API calls ──────────────────────────────────────────────

func (e *Engine) apiCall(ctx context.Context, a domain.Action, _ Context) (any, error) {
	p := payload(a)
	endpoint := str(p, "endpoint", "url")
	if endpoint == "" {
		return nil, errors.New("API endpoint is required")
	}
	method := strings.ToUpper(str(p, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if b, ok := p["body"]; ok && b != nil && method != http.MethodGet {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if hs, ok := p["headers"].(map[string]any); ok {
		for k, v := range hs {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API call failed: %w", &apierr.StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)})
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw), nil
	}
	return decoded, nil
}

// ── Component relays ───────────────────────────────────────

// relay forwards a component-level action to the builder when embedded. In a
// published page there is no component runtime yet, so it logs and succeeds.
func (e *Engine) relay(t domain.ActionType, msgType string) Handler {
	return func(ctx context.Context, a domain.Action, ec Context) (any, error) {
		p := payload(a)
		if !e.host.Embedded() || e.poster == nil {
			e.logger.Printf("[EventEngine] %s in published mode not yet implemented", t)
			return map[string]any{"skipped": true}, nil
		}
		msg := make(map[string]any, len(p)+1)
		for k, v := range p {
			msg[k] = v
		}
		if _, ok := msg["elementId"]; !ok && ec.ElementID != "" {
			msg["elementId"] = ec.ElementID
		}
		if err := e.poster.Post(ctx, msgType, msg); err != nil {
			return nil, fmt.Errorf("post %s: %w", msgType, err)
		}
		return msg, nil
	}
}
