package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pagebuilder/internal/dbclient"
	"pagebuilder/internal/domain"
	"pagebuilder/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// Connection Service: external databases behind "database" bindings
// ─────────────────────────────────────────────────────────────

// ConnectionInput is the service-layer DTO for creating/updating connections.
type ConnectionInput struct {
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SSLMode   string `json:"sslMode"`
	ExtraJSON string `json:"extraJson"`
}

// ConnectionPersister stores connection metadata.
type ConnectionPersister interface {
	CreateConnection(ctx context.Context, c *domain.DataConnection) error
	GetConnection(ctx context.Context, id string) (*domain.DataConnection, error)
	ListConnections(ctx context.Context) ([]domain.DataConnection, error)
	UpdateConnection(ctx context.Context, c *domain.DataConnection) error
	DeleteConnection(ctx context.Context, id string) error
}

// ConnectionService manages external database connections. It keeps a pool
// of live connectors so collection refreshes reuse them.
type ConnectionService struct {
	store   ConnectionPersister
	secrets secret.SecretStore

	mu               sync.Mutex
	activeConnectors map[string]*connEntry
}

type connEntry struct {
	connector dbclient.Connector
	createdAt time.Time
}

// NewConnectionService creates a ConnectionService. secrets may be nil, in
// which case connections are opened without a password.
func NewConnectionService(store ConnectionPersister, secrets secret.SecretStore) *ConnectionService {
	return &ConnectionService{
		store:            store,
		secrets:          secrets,
		activeConnectors: make(map[string]*connEntry),
	}
}

// ── Connection CRUD ────────────────────────────────────────

func (s *ConnectionService) ListConnections(ctx context.Context) ([]domain.DataConnection, error) {
	return s.store.ListConnections(ctx)
}

func (s *ConnectionService) GetConnection(ctx context.Context, id string) (*domain.DataConnection, error) {
	return s.store.GetConnection(ctx, id)
}

func validDriver(d domain.DatabaseDriver) bool {
	switch d {
	case domain.DatabaseDriverMySQL, domain.DatabaseDriverPostgres, domain.DatabaseDriverMongoDB, domain.DatabaseDriverSQLite:
		return true
	}
	return false
}

func (s *ConnectionService) CreateConnection(ctx context.Context, input ConnectionInput) (*domain.DataConnection, error) {
	conn := &domain.DataConnection{}
	applyConnectionInput(conn, input)
	if !validDriver(conn.Driver) {
		return nil, fmt.Errorf("%w: unsupported driver %s", ErrInvalidInput, input.Driver)
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	s.storePassword(conn, input.Password)
	return conn, nil
}

func (s *ConnectionService) UpdateConnection(ctx context.Context, id string, input ConnectionInput) error {
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	applyConnectionInput(conn, input)
	if !validDriver(conn.Driver) {
		return fmt.Errorf("%w: unsupported driver %s", ErrInvalidInput, input.Driver)
	}
	if err := s.store.UpdateConnection(ctx, conn); err != nil {
		return err
	}
	s.storePassword(conn, input.Password)
	// Invalidate cached connector so the next query re-connects with new config.
	s.drop(id)
	return nil
}

func (s *ConnectionService) DeleteConnection(ctx context.Context, id string) error {
	s.drop(id)
	if s.secrets != nil {
		_ = s.secrets.Delete((&domain.DataConnection{ID: id}).SecretKey())
	}
	return s.store.DeleteConnection(ctx, id)
}

func applyConnectionInput(conn *domain.DataConnection, input ConnectionInput) {
	conn.Name = input.Name
	conn.Driver = domain.DatabaseDriver(input.Driver)
	conn.Host = input.Host
	conn.Port = input.Port
	conn.Database = input.Database
	conn.Username = input.Username
	conn.SSLMode = input.SSLMode
	if input.ExtraJSON != "" {
		conn.ExtraJSON = input.ExtraJSON
	}
}

func (s *ConnectionService) storePassword(conn *domain.DataConnection, password string) {
	if password == "" || s.secrets == nil {
		return
	}
	if err := s.secrets.Set(conn.SecretKey(), []byte(password)); err != nil {
		log.Printf("[connections] store password for %s: %v", conn.ID, err)
	}
}

// ── Test + Query ───────────────────────────────────────────

func (s *ConnectionService) TestConnection(ctx context.Context, id string) error {
	connector, err := s.Connector(ctx, id)
	if err != nil {
		return err
	}
	return connector.Ping(ctx)
}

// Query previews a read query against a connection.
func (s *ConnectionService) Query(ctx context.Context, id, query string, limit int) (*dbclient.Rows, error) {
	connector, err := s.Connector(ctx, id)
	if err != nil {
		return nil, err
	}
	return connector.Query(ctx, query, limit)
}

// ── Connector Pool ─────────────────────────────────────────

// Connector returns the live connector for id, opening it on first use.
func (s *ConnectionService) Connector(ctx context.Context, id string) (dbclient.Connector, error) {
	s.mu.Lock()
	if e, ok := s.activeConnectors[id]; ok {
		s.mu.Unlock()
		return e.connector, nil
	}
	s.mu.Unlock()

	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}

	var password string
	if s.secrets != nil {
		if pw, err := s.secrets.Get(conn.SecretKey()); err == nil {
			password = string(pw)
		}
	}

	connector, err := dbclient.NewConnector(conn, password)
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}

	s.mu.Lock()
	if e, ok := s.activeConnectors[id]; ok {
		s.mu.Unlock()
		_ = connector.Close()
		return e.connector, nil
	}
	s.activeConnectors[id] = &connEntry{connector: connector, createdAt: time.Now()}
	s.mu.Unlock()
	return connector, nil
}

func (s *ConnectionService) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[id]; ok {
		_ = e.connector.Close()
		delete(s.activeConnectors, id)
	}
}

// Close tears down all active connectors.
func (s *ConnectionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.activeConnectors {
		_ = entry.connector.Close()
		delete(s.activeConnectors, id)
	}
}
