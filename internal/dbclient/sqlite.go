package dbclient

import (
	"pagebuilder/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector creates a connector for an external SQLite file.
// Writes are refused by Query, not by the driver.
func newSQLiteConnector(conn *domain.DataConnection) (*sqlConnector, error) {
	dsn := conn.Host + "?_pragma=busy_timeout(5000)"
	return newSQLConnector("sqlite", dsn)
}
