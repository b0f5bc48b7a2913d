package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	pagesURI      = "pagebuilder://pages"
	pagePrefixURI = "pagebuilder://pages/"
)

func (s *Server) registerResources() {
	// ── pagebuilder://pages ────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		pagesURI,
		"All Pages",
		mcp.WithMIMEType("application/json"),
	), s.handlePagesResource)

	// ── pagebuilder://pages/{pageId} ───────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			pagePrefixURI+"{pageId}",
			"Page with its elements",
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handlePageResource,
	)
}

func (s *Server) handlePagesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	pages, err := s.pages.ListPages(ctx)
	if err != nil {
		return nil, err
	}

	type pageSummary struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Slug  string `json:"slug"`
	}
	summaries := make([]pageSummary, 0, len(pages))
	for _, p := range pages {
		summaries = append(summaries, pageSummary{ID: p.ID, Title: p.Title, Slug: p.Slug})
	}
	return jsonContents(pagesURI, summaries)
}

func (s *Server) handlePageResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	pageID := pageIDFromURI(uri)
	if pageID == "" {
		return nil, fmt.Errorf("could not extract pageId from URI: %s", uri)
	}
	state, err := s.pages.State(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, state)
}

// pageIDFromURI extracts the page ID from "pagebuilder://pages/{id}".
func pageIDFromURI(uri string) string {
	id, ok := strings.CutPrefix(uri, pagePrefixURI)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
