package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/domain"
)

// DataConnectionStore manages external database connection records.
// Passwords are kept in the secret store, never here.
type DataConnectionStore struct {
	db *DB
}

// NewDataConnectionStore creates a new DataConnectionStore.
func NewDataConnectionStore(db *DB) *DataConnectionStore {
	return &DataConnectionStore{db: db}
}

const connectionColumns = `id, name, driver, host, port, database_name, username, ssl_mode, extra_json, created_at, updated_at`

func scanConnection(r rowScanner, c *domain.DataConnection) error {
	return r.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username, &c.SSLMode, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt)
}

func (s *DataConnectionStore) CreateConnection(ctx context.Context, c *domain.DataConnection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ExtraJSON == "" {
		c.ExtraJSON = "{}"
	}

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO data_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *DataConnectionStore) GetConnection(ctx context.Context, id string) (*domain.DataConnection, error) {
	c := &domain.DataConnection{}
	err := scanConnection(s.db.conn.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM data_connections WHERE id = ?`, id), c)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("data connection %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *DataConnectionStore) ListConnections(ctx context.Context) ([]domain.DataConnection, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT `+connectionColumns+` FROM data_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := []domain.DataConnection{}
	for rows.Next() {
		var c domain.DataConnection
		if err := scanConnection(rows, &c); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *DataConnectionStore) UpdateConnection(ctx context.Context, c *domain.DataConnection) error {
	c.UpdatedAt = time.Now()
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE data_connections SET name=?, driver=?, host=?, port=?, database_name=?, username=?, ssl_mode=?, extra_json=?, updated_at=?
		 WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	return err
}

func (s *DataConnectionStore) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM data_connections WHERE id = ?`, id)
	return err
}
