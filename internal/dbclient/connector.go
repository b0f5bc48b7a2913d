package dbclient

import (
	"context"
	"errors"
	"fmt"

	"pagebuilder/internal/domain"
)

// ErrWriteQuery is returned when a collection query would modify data.
var ErrWriteQuery = errors.New("only read queries can feed a collection")

// DefaultLimit caps rows read for one collection when the caller sets none.
const DefaultLimit = 500

// Rows is the result of a collection query.
type Rows struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"` // more rows existed beyond the limit
}

// Items converts rows to one map per row keyed by column name.
func (r *Rows) Items() []map[string]any {
	items := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		item := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				item[col] = row[i]
			}
		}
		items = append(items, item)
	}
	return items
}

// Connector reads collection data from an external database.
type Connector interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Query runs a read query and returns at most limit rows.
	Query(ctx context.Context, query string, limit int) (*Rows, error)

	Close() error
}

// NewConnector creates a Connector for the given connection.
// The password must be provided separately (from the secret store).
func NewConnector(conn *domain.DataConnection, password string) (Connector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password))
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
