package mcpserver

import (
	"context"
	"fmt"

	"pagebuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPageTools() {
	// ── list_pages ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List all pages of the site"),
	), s.handleListPages)

	// ── create_page ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a new page. The page starts with an empty body and becomes the active page."),
		mcp.WithString("title", mcp.Description("Title of the new page"), mcp.Required()),
		mcp.WithString("slug", mcp.Description("URL slug (optional, derived from the title)")),
	), s.handleCreatePage)

	// ── set_active_page ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_active_page",
		mcp.WithDescription("Set the active page for subsequent tool calls. Tools that accept pageId will default to this."),
		mcp.WithString("pageId", mcp.Description("ID of the page to make active"), mcp.Required()),
	), s.handleSetActivePage)

	// ── get_page_state ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_page_state",
		mcp.WithDescription("Get a page with its full element list and undo/redo availability"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleGetPageState)
}

func (s *Server) handleListPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.pages.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return jsonResult(pages)
}

func (s *Server) handleCreatePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	page, err := s.pages.CreatePage(ctx, service.PageInput{Title: title, Slug: req.GetString("slug", "")})
	if err != nil {
		return nil, err
	}
	// Auto-set as active page
	s.setActivePage(page.ID)
	return jsonResult(page)
}

func (s *Server) handleSetActivePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID := req.GetString("pageId", "")
	if pageID == "" {
		return nil, fmt.Errorf("pageId is required")
	}
	page, err := s.pages.GetPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", pageID, err)
	}
	s.setActivePage(page.ID)
	return textResult(fmt.Sprintf("Active page set to %s (%s)", page.ID, page.Title)), nil
}

func (s *Server) handleGetPageState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, _, err := s.resolvePage(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	state, err := s.pages.State(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return jsonResult(state)
}
