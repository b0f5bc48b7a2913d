package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("build_form",
		mcp.WithPromptDescription("Guide through building a validated form with a submit action"),
		mcp.WithArgument("purpose",
			mcp.ArgumentDescription("What the form collects, e.g. newsletter signup"),
			mcp.RequiredArgument(),
		),
	), s.handleBuildFormPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("landing_page",
		mcp.WithPromptDescription("Lay out a landing page with a hero, feature cards and a call to action"),
		mcp.WithArgument("product",
			mcp.ArgumentDescription("Product or topic of the page"),
			mcp.RequiredArgument(),
		),
	), s.handleLandingPagePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("data_table",
		mcp.WithPromptDescription("Add a table fed from a data source and refreshed on a schedule"),
		mcp.WithArgument("sourceType",
			mcp.ArgumentDescription("Data source type (e.g. static, http, database)"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("description",
			mcp.ArgumentDescription("What the table shows"),
			mcp.RequiredArgument(),
		),
	), s.handleDataTablePrompt)
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: text},
			},
		},
	}
}

func (s *Server) handleBuildFormPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	purpose := req.Params.Arguments["purpose"]
	return userPrompt(fmt.Sprintf("Build a form for: %s", purpose), fmt.Sprintf(`Build a form for "%s" on the active page. Follow these steps:

1. Use add_component with tag "Form" to create the form with its default fields
2. Add one TextField per value to collect with add_component (parentId = the form id) and give each a "name" prop with update_element_props
3. Mark required fields with {"isRequired": true}
4. Use set_element_events on the submit Button: an onClick event with a validateForm action followed by a showToast action
5. Check the result with execute_event on the submit Button, then validate_hierarchy

Keep labels short and put the submit button last.`, purpose)), nil
}

func (s *Server) handleLandingPagePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	product := req.Params.Arguments["product"]
	return userPrompt(fmt.Sprintf("Create a landing page for: %s", product), fmt.Sprintf(`Create a landing page about "%s". Follow these steps:

1. Use create_page with a title for the page (it becomes the active page)
2. Add a hero section: a div with a Heading ("%s") and a Text with a one-sentence pitch
3. Add three Card components side by side, one per key feature, and fill in their titles and text with update_element_props
4. Add a Button "Get started" whose onClick navigates to /signup (set_element_events with a navigate action)
5. Finish with validate_hierarchy and fix anything it reports

Use get_element_tree to review the structure before finishing.`, product, product)), nil
}

func (s *Server) handleDataTablePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sourceType := req.Params.Arguments["sourceType"]
	description := req.Params.Arguments["description"]
	return userPrompt(fmt.Sprintf("Add a %s data table", sourceType), fmt.Sprintf(`Add a data table: %s. Follow these steps:

1. Use list_data_sources to see the config fields of the "%s" source
2. Use add_component with tag "Table" on the active page
3. Use bind_collection on the table with source type "%s", a refreshCron such as "@every 15m" and a ttlSeconds of 300
4. Call get_collection to check the items, and adjust the table columns with update_element_props to match the item keys

If get_collection fails, fix the source config and try refresh_collection.`, description, sourceType, sourceType)), nil
}
