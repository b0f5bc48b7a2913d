package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/engine"
	"pagebuilder/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ServerName    = "pagebuilder-mcp"
	ServerVersion = "1.0.0"

	EventElementsChanged = "mcp:elements-changed"
)

// Server is the MCP server of the page builder.
// It exposes tools, resources, and prompts so AI agents can edit pages.
type Server struct {
	mcp      *server.MCPServer
	emitter  EventEmitter
	approval *ApprovalQueue

	// Services (injected from app layer)
	pages    *service.PageService
	elements *service.ElementService
	bindings *service.BindingService
	engine   engine.Options

	// Active page context (set by set_active_page tool)
	mu           sync.Mutex
	activePageID string
}

// Deps holds all dependencies passed from the App layer to the MCP server.
type Deps struct {
	Emitter  EventEmitter
	Pages    *service.PageService
	Elements *service.ElementService
	Bindings *service.BindingService
	// Engine carries the action and event timeouts of execute_event.
	Engine engine.Options
	// Approvals, when set, routes approvals through the database (standalone mode).
	Approvals ApprovalPersister
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		emitter:  deps.Emitter,
		approval: NewApprovalQueue(deps.Emitter, deps.Approvals),
		pages:    deps.Pages,
		elements: deps.Elements,
		bindings: deps.Bindings,
		engine:   deps.Engine,
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerPageTools()
	s.registerElementTools()
	s.registerEventTools()
	if s.bindings != nil {
		s.registerBindingTools()
	}
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer exposes the underlying server, e.g. for an in-process client.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// Approvals returns the queue destructive tools wait on.
func (s *Server) Approvals() *ApprovalQueue { return s.approval }

// ── Helpers ────────────────────────────────────────────────

// commit waits for the page's pending writes so other processes (and the
// next tool call) see them, then notifies listeners.
func (s *Server) commit(ctx context.Context, pageID string) error {
	if err := s.elements.Flush(ctx); err != nil {
		return err
	}
	if err := s.elements.Errors().LastError(); err != nil {
		s.elements.Errors().Dismiss()
		return fmt.Errorf("saving page %s: %w", pageID, err)
	}
	s.emitter.Emit(ctx, EventElementsChanged, map[string]string{"pageId": pageID})
	return nil
}

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// resolvePage returns the page scope from tool args or falls back to the
// active page. The page's store is brought up to date with storage first.
func (s *Server) resolvePage(ctx context.Context, args map[string]any) (string, domain.Scope, error) {
	pageID, _ := args["pageId"].(string)
	if pageID == "" {
		s.mu.Lock()
		pageID = s.activePageID
		s.mu.Unlock()
	}
	if pageID == "" {
		return "", domain.Scope{}, fmt.Errorf("no pageId provided and no active page set (use set_active_page first)")
	}
	if _, err := s.pages.GetPage(ctx, pageID); err != nil {
		return "", domain.Scope{}, fmt.Errorf("page %s: %w", pageID, err)
	}
	scope := domain.PageScope(pageID)
	if _, err := s.elements.Reload(ctx, scope); err != nil {
		log.Printf("[MCP] reload %s: %v", scope.Key(), err)
	}
	return pageID, scope, nil
}

func (s *Server) setActivePage(id string) {
	s.mu.Lock()
	s.activePageID = id
	s.mu.Unlock()
}

// ActivePage returns the page tools default to.
func (s *Server) ActivePage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePageID
}
