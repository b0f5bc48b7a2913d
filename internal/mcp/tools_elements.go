package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/factory"
	"pagebuilder/internal/hierarchy"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerElementTools() {
	// ── list_elements ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_elements",
		mcp.WithDescription("List the elements of a page, optionally filtered by tag"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("tag", mcp.Description("Filter by tag, e.g. Button (optional)")),
	), s.handleListElements)

	// ── get_element_tree ───────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_element_tree",
		mcp.WithDescription("Get the element tree of a page in render order"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleGetElementTree)

	// ── add_component ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("add_component",
		mcp.WithDescription("Add a component. Composite tags ("+strings.Join(tagNames(factory.Tags()), ", ")+") are created with their default children; any other tag becomes a single element."),
		mcp.WithString("tag", mcp.Description("Component tag"), mcp.Required()),
		mcp.WithString("parentId", mcp.Description("Parent element ID (optional, defaults to the page body)")),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleAddComponent)

	// ── add_element ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("add_element",
		mcp.WithDescription("Add a single element with the given props"),
		mcp.WithString("tag", mcp.Description("Element tag, e.g. div, Button, Text"), mcp.Required()),
		mcp.WithString("parentId", mcp.Description("Parent element ID (optional, defaults to the page body)")),
		mcp.WithString("props", mcp.Description("Props as a JSON object (optional)")),
		mcp.WithNumber("index", mcp.Description("Position among the siblings (0 = first; omitted = last)")),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleAddElement)

	// ── update_element_props ───────────────────────────
	s.mcp.AddTool(mcp.NewTool("update_element_props",
		mcp.WithDescription("Update the props of an element. Keys are merged into the existing props unless replace is true."),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("props", mcp.Description("Props as a JSON object"), mcp.Required()),
		mcp.WithBoolean("replace", mcp.Description("Replace all props instead of merging")),
	), s.handleUpdateElementProps)

	// ── set_element_events ─────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_element_events",
		mcp.WithDescription("Replace the event handlers of an element. events is a JSON array of {id, event_type, actions:[{id, type, config}]}."),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("events", mcp.Description("Events as a JSON array"), mcp.Required()),
	), s.handleSetElementEvents)

	// ── move_element ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("move_element",
		mcp.WithDescription("Move an element under a new parent at the given child index"),
		mcp.WithString("elementId", mcp.Description("Element ID"), mcp.Required()),
		mcp.WithString("parentId", mcp.Description("New parent ID"), mcp.Required()),
		mcp.WithNumber("index", mcp.Description("Position among the new siblings (0 = first)")),
	), s.handleMoveElement)

	// ── delete_element (destructive) ───────────────────
	s.mcp.AddTool(mcp.NewTool("delete_element",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete an element and everything inside it. Requires user approval."),
		mcp.WithString("elementId", mcp.Description("Element ID to delete"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteElement)

	// ── validate_hierarchy ─────────────────────────────
	s.mcp.AddTool(mcp.NewTool("validate_hierarchy",
		mcp.WithDescription("Check a page for orphans, cycles and duplicate order numbers"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleValidateHierarchy)

	// ── undo / redo ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last edit on a page"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleUndo)
	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone edit on a page"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleRedo)
}

func tagNames(tags []domain.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

// ── Handlers ───────────────────────────────────────────────

func (s *Server) handleListElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, scope, err := s.resolvePage(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	list, err := s.elements.Elements(ctx, scope)
	if err != nil {
		return nil, err
	}
	filter := req.GetString("tag", "")
	summaries := make([]elementSummary, 0, len(list))
	for _, e := range list {
		if filter != "" && string(e.Tag) != filter {
			continue
		}
		summaries = append(summaries, summarizeElement(e))
	}
	return jsonResult(summaries)
}

// treeNode is the compact tree returned by get_element_tree.
type treeNode struct {
	elementSummary
	Children []treeNode `json:"children,omitempty"`
}

func compactTree(nodes []*hierarchy.Node, seen map[string]bool) []treeNode {
	out := make([]treeNode, 0, len(nodes))
	for _, n := range nodes {
		if seen[n.Element.ID] {
			continue
		}
		seen[n.Element.ID] = true
		out = append(out, treeNode{
			elementSummary: summarizeElement(n.Element),
			Children:       compactTree(n.Children, seen),
		})
	}
	return out
}

func (s *Server) handleGetElementTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, scope, err := s.resolvePage(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	tree, err := s.elements.Tree(ctx, scope)
	if err != nil {
		return nil, err
	}
	return jsonResult(compactTree(tree.Roots, map[string]bool{}))
}

func (s *Server) handleAddComponent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	tag := req.GetString("tag", "")
	if tag == "" {
		return nil, fmt.Errorf("tag is required")
	}
	pageID, scope, err := s.resolvePage(ctx, args)
	if err != nil {
		return nil, err
	}
	res, err := s.elements.AddComponent(ctx, scope, domain.Tag(tag), req.GetString("parentId", ""))
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", tag, err)
	}
	if err := s.commit(ctx, pageID); err != nil {
		return nil, err
	}

	created := make([]elementSummary, len(res.AllElements))
	for i, e := range res.AllElements {
		e.ID = s.elements.ResolveID(scope, e.ID)
		if e.ParentID != "" {
			e.ParentID = domain.NullableID(s.elements.ResolveID(scope, string(e.ParentID)))
		}
		created[i] = summarizeElement(e)
	}
	return jsonResult(map[string]any{
		"id":       s.elements.ResolveID(scope, res.Parent.ID),
		"elements": created,
	})
}

func (s *Server) handleAddElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	tag := req.GetString("tag", "")
	if tag == "" {
		return nil, fmt.Errorf("tag is required")
	}
	props, err := propsArg(args, "props")
	if err != nil {
		return nil, err
	}
	pageID, scope, err := s.resolvePage(ctx, args)
	if err != nil {
		return nil, err
	}
	e, err := s.elements.InsertElement(ctx, scope, domain.Element{
		Tag:      domain.Tag(tag),
		Props:    props,
		ParentID: domain.NullableID(req.GetString("parentId", "")),
	}, intArg(args, "index", -1))
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", tag, err)
	}
	if err := s.commit(ctx, pageID); err != nil {
		return nil, err
	}
	e.ID = s.elements.ResolveID(scope, e.ID)
	return jsonResult(e)
}

// elementScope finds the page an element lives on. Elements of layouts are
// addressed the same way.
func (s *Server) elementScope(ctx context.Context, args map[string]any) (string, domain.Scope, error) {
	id, _ := args["elementId"].(string)
	if id == "" {
		return "", domain.Scope{}, fmt.Errorf("elementId is required")
	}
	scope, err := s.elements.Locate(ctx, id)
	if err != nil {
		return "", domain.Scope{}, fmt.Errorf("element %s: %w", id, err)
	}
	if _, err := s.elements.Reload(ctx, scope); err != nil {
		return "", domain.Scope{}, err
	}
	return id, scope, nil
}

func (s *Server) handleUpdateElementProps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	props, err := propsArg(args, "props")
	if err != nil {
		return nil, err
	}
	if props == nil {
		return nil, fmt.Errorf("props is required")
	}
	id, scope, err := s.elementScope(ctx, args)
	if err != nil {
		return nil, err
	}
	updated, err := s.elements.UpdateProps(ctx, scope, id, props, !req.GetBool("replace", false))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if err := s.commit(ctx, scope.ID); err != nil {
		return nil, err
	}
	return jsonResult(updated)
}

func (s *Server) handleSetElementEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	raw := req.GetString("events", "")
	var events []domain.ElementEvent
	if err := parseJSON(raw, &events); err != nil {
		return nil, fmt.Errorf("events must be a JSON array: %w", err)
	}
	id, scope, err := s.elementScope(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := s.elements.SetEvents(ctx, scope, id, events); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, scope.ID); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Element %s now has %d event handler(s)", id, len(events))), nil
}

func (s *Server) handleMoveElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	parentID := req.GetString("parentId", "")
	if parentID == "" {
		return nil, fmt.Errorf("parentId is required")
	}
	id, scope, err := s.elementScope(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := s.elements.MoveElement(ctx, scope, id, parentID, intArg(args, "index", 0)); err != nil {
		return nil, fmt.Errorf("move %s: %w", id, err)
	}
	if err := s.commit(ctx, scope.ID); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Element %s moved under %s", id, parentID)), nil
}

func (s *Server) handleDeleteElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, scope, err := s.elementScope(ctx, args)
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
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("element %s not found", id)
	}

	desc := fmt.Sprintf("Delete %s %s", target.Tag, id)
	if n := len(descendants(id, list)); n > 0 {
		desc += fmt.Sprintf(" and %d element(s) inside it", n)
	}
	meta, _ := json.Marshal(map[string]any{"pageId": scope.ID, "elementIds": []string{id}})
	if err := s.approval.Request(ctx, "delete_element", desc, string(meta)); err != nil {
		return nil, err
	}

	removed, err := s.elements.RemoveElement(ctx, scope, id)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}
	if err := s.commit(ctx, scope.ID); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Deleted %d element(s)", len(removed))), nil
}

// descendants returns the ids below id.
func descendants(id string, list []domain.Element) []string {
	children := make(map[string][]string)
	for _, e := range list {
		if e.ParentID != "" {
			children[string(e.ParentID)] = append(children[string(e.ParentID)], e.ID)
		}
	}
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	return out
}

func (s *Server) handleValidateHierarchy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, scope, err := s.resolvePage(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	v, err := s.elements.Validate(ctx, scope)
	if err != nil {
		return nil, err
	}
	return jsonResult(v)
}

func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step(ctx, req, "undo")
}

func (s *Server) handleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.step(ctx, req, "redo")
}

func (s *Server) step(ctx context.Context, req mcp.CallToolRequest, dir string) (*mcp.CallToolResult, error) {
	pageID, scope, err := s.resolvePage(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	var ok bool
	if dir == "undo" {
		ok, err = s.elements.Undo(ctx, scope)
	} else {
		ok, err = s.elements.Redo(ctx, scope)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return textResult(fmt.Sprintf("Nothing to %s on page %s", dir, pageID)), nil
	}
	if err := s.commit(ctx, pageID); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Applied %s on page %s", dir, pageID)), nil
}
