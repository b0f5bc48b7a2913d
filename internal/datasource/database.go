package datasource

import (
	"context"
	"fmt"

	"pagebuilder/internal/dbclient"
)

// Connectors hands out live connectors by data connection id.
type Connectors interface {
	Connector(ctx context.Context, connectionID string) (dbclient.Connector, error)
}

// DatabaseSource runs a read query against a stored data connection.
type DatabaseSource struct {
	conns Connectors
}

func NewDatabaseSource(conns Connectors) *DatabaseSource {
	return &DatabaseSource{conns: conns}
}

func (s *DatabaseSource) Spec() SourceSpec {
	return SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []ConfigField{
			{Key: "connectionId", Label: "Connection", Type: "connection", Required: true},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "SELECT statement, or a JSON find/aggregate for MongoDB"},
			{Key: "limit", Label: "Row Limit", Type: "string", Default: "500"},
		},
	}
}

func (s *DatabaseSource) Fetch(ctx context.Context, cfg Config) ([]Item, error) {
	connID, query := cfg.String("connectionId"), cfg.String("query")
	if connID == "" || query == "" {
		return nil, fmt.Errorf("connectionId and query are required")
	}
	conn, err := s.conns.Connector(ctx, connID)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, query, int(toFloat(cfg["limit"])))
	if err != nil {
		return nil, err
	}
	return rows.Items(), nil
}
