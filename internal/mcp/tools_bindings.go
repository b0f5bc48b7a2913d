package mcpserver

import (
	"context"
	"fmt"

	"pagebuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerBindingTools() {
	// ── list_data_sources ──────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_data_sources",
		mcp.WithDescription("List the data source types collection elements can be bound to, with their config fields"),
	), s.handleListDataSources)

	// ── bind_collection ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("bind_collection",
		mcp.WithDescription("Feed a collection element (Table, ListBox, Select, ...) from a data source"),
		mcp.WithString("elementId", mcp.Description("Collection element ID"), mcp.Required()),
		mcp.WithString("sourceType", mcp.Description("Source type from list_data_sources"), mcp.Required()),
		mcp.WithString("config", mcp.Description("Source config as a JSON object"), mcp.Required()),
		mcp.WithString("refreshCron", mcp.Description("Cron expression for background refresh (optional)")),
		mcp.WithNumber("ttlSeconds", mcp.Description("How long fetched items stay cached (optional)")),
	), s.handleBindCollection)

	// ── get_collection ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_collection",
		mcp.WithDescription("Get the items of a binding, from cache when fresh"),
		mcp.WithString("bindingId", mcp.Description("Binding ID"), mcp.Required()),
	), s.handleGetCollection)

	// ── refresh_collection ─────────────────────────────
	s.mcp.AddTool(mcp.NewTool("refresh_collection",
		mcp.WithDescription("Refetch the items of a binding, bypassing the cache"),
		mcp.WithString("bindingId", mcp.Description("Binding ID"), mcp.Required()),
	), s.handleRefreshCollection)
}

func (s *Server) handleListDataSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.bindings.ListSources())
}

func (s *Server) handleBindCollection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	config, err := propsArg(args, "config")
	if err != nil {
		return nil, err
	}
	elementID := req.GetString("elementId", "")
	if elementID == "" {
		return nil, fmt.Errorf("elementId is required")
	}
	if scope, err := s.elements.Locate(ctx, elementID); err == nil {
		elementID = s.elements.ResolveID(scope, elementID)
	}
	b, err := s.bindings.CreateBinding(ctx, service.BindingInput{
		ElementID:    elementID,
		SourceType:   req.GetString("sourceType", ""),
		SourceConfig: config,
		RefreshCron:  req.GetString("refreshCron", ""),
		TTLSeconds:   intArg(args, "ttlSeconds", 0),
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(b)
}

func (s *Server) handleGetCollection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("bindingId", "")
	if id == "" {
		return nil, fmt.Errorf("bindingId is required")
	}
	data, err := s.bindings.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	return jsonResult(data)
}

func (s *Server) handleRefreshCollection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("bindingId", "")
	if id == "" {
		return nil, fmt.Errorf("bindingId is required")
	}
	data, err := s.bindings.Refresh(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", id, err)
	}
	return textResult(fmt.Sprintf("Binding %s refreshed: %d item(s)", id, len(data.Items))), nil
}
