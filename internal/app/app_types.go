package app

// QueryInput is the body of POST /api/connections/{id}/query.
type QueryInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// QueryResultView is the reply of a connection query, used by the builder
// to preview what a "database" binding will return.
type QueryResultView struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	TotalRows  int      `json:"totalRows"`
	HasMore    bool     `json:"hasMore"`
	DurationMs int      `json:"durationMs"`
	Query      string   `json:"query"`
}

// ApprovalView is a pending MCP approval as listed to builder UIs.
type ApprovalView struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Metadata    string `json:"metadata"`
	CreatedAt   string `json:"createdAt"`
	// InProcess is set for requests from the MCP endpoint of this server.
	InProcess bool `json:"inProcess"`
}
