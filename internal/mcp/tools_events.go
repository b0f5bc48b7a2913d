package mcpserver

import (
	"context"
	"fmt"
	"sync"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/engine"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerEventTools() {
	// ── execute_event ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("execute_event",
		mcp.WithDescription("Dry-run the handlers an element has for an event type against an in-memory page. API calls are not sent; navigation, modals, forms and state changes are reported."),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("eventType", mcp.Description("Event type, e.g. onClick (default onClick)")),
		mcp.WithString("state", mcp.Description("Initial state as a JSON object (optional)")),
	), s.handleExecuteEvent)

	// ── list_action_types ──────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_action_types",
		mcp.WithDescription("List the action types event handlers can use"),
	), s.handleListActionTypes)
}

// dryRun is what execute_event reports.
type dryRun struct {
	Events   []domain.EventResult         `json:"events"`
	Location string                       `json:"location,omitempty"`
	Tabs     []string                     `json:"tabs,omitempty"`
	Display  map[string]string            `json:"display,omitempty"`
	Modals   map[string]bool              `json:"modals,omitempty"`
	Forms    map[string]map[string]string `json:"forms,omitempty"`
	Posted   []engine.PostedMessage       `json:"posted,omitempty"`
	Requests []map[string]any             `json:"requests,omitempty"`
	Console  []string                     `json:"console,omitempty"`
	State    map[string]any               `json:"state"`
}

func (s *Server) handleExecuteEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, scope, err := s.elementScope(ctx, args)
	if err != nil {
		return nil, err
	}
	eventType := domain.EventType(req.GetString("eventType", string(domain.EventClick)))
	initial, err := propsArg(args, "state")
	if err != nil {
		return nil, err
	}

	list, err := s.elements.Elements(ctx, scope)
	if err != nil {
		return nil, err
	}
	var target *domain.Element
	for i := range list {
		if list[i].ID == id {
			target = &list[i]
		}
	}
	if target == nil {
		return nil, fmt.Errorf("element %s not found", id)
	}

	host := pageHost(list)
	poster := &engine.RecordingPoster{}
	var (
		mu       sync.Mutex
		console  []string
		requests []map[string]any
	)
	opts := s.engine
	opts.Host = host
	opts.Poster = poster
	opts.Console = func(level string, args ...any) {
		mu.Lock()
		console = append(console, level+": "+fmt.Sprint(args...))
		mu.Unlock()
	}
	eng := engine.New(opts)
	defer eng.Cleanup()
	eng.Register(domain.ActionAPICall, func(_ context.Context, a domain.Action, _ engine.Context) (any, error) {
		mu.Lock()
		requests = append(requests, a.Config)
		mu.Unlock()
		return map[string]any{"dryRun": true}, nil
	})
	for k, v := range initial {
		eng.SetState(k, v)
	}

	out := dryRun{}
	ec := engine.Context{Element: target, ElementID: target.ID, Event: map[string]any{"type": string(eventType)}}
	for _, ev := range target.Events {
		if ev.EventType != eventType || !ev.IsEnabled() {
			continue
		}
		out.Events = append(out.Events, eng.ExecuteEvent(ctx, ev, ec))
	}
	if len(out.Events) == 0 {
		return textResult(fmt.Sprintf("Element %s has no %s handlers", id, eventType)), nil
	}

	mu.Lock()
	out.Console = console
	out.Requests = requests
	mu.Unlock()
	out.Location = host.Location
	out.Tabs = host.Tabs
	out.Display = host.Display
	out.Modals = host.Modals
	out.Forms = host.Forms
	out.Posted = poster.Posted()
	out.State = eng.State()
	return jsonResult(out)
}

// pageHost builds an in-memory document holding the page's dialogs and forms.
func pageHost(list []domain.Element) *engine.MemoryHost {
	host := engine.NewMemoryHost(false)
	parent := make(map[string]string, len(list))
	for _, e := range list {
		parent[e.ID] = string(e.ParentID)
	}
	for _, e := range list {
		switch e.Tag {
		case domain.TagDialog, "Modal":
			host.Modals[e.ID] = false
		case domain.TagForm:
			host.Forms[e.ID] = map[string]string{}
		}
	}
	// named fields land in the nearest enclosing form
	for _, e := range list {
		name, _ := e.Props["name"].(string)
		if name == "" {
			continue
		}
		seen := map[string]bool{}
		for p := parent[e.ID]; p != "" && !seen[p]; p = parent[p] {
			seen[p] = true
			if fields, ok := host.Forms[p]; ok {
				fields[name] = fmt.Sprint(valueOr(e.Props["defaultValue"], ""))
				break
			}
		}
	}
	return host
}

func valueOr(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func (s *Server) handleListActionTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types := engine.New(engine.Options{}).Registered()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return jsonResult(names)
}
