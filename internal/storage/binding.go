package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/domain"
)

// BindingStore persists the data bindings of collection elements.
type BindingStore struct {
	db *DB
}

func NewBindingStore(db *DB) *BindingStore {
	return &BindingStore{db: db}
}

const bindingColumns = `id, element_id, source_type, source_config, refresh_cron, ttl_seconds, created_at, updated_at`

func scanBinding(r rowScanner) (domain.DataBinding, error) {
	var (
		b   domain.DataBinding
		cfg string
	)
	if err := r.Scan(&b.ID, &b.ElementID, &b.SourceType, &cfg, &b.RefreshCron, &b.TTLSeconds, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return b, err
	}
	json.Unmarshal([]byte(cfg), &b.SourceConfig)
	return b, nil
}

func (s *BindingStore) CreateBinding(ctx context.Context, b *domain.DataBinding) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	cfg, _ := json.Marshal(b.SourceConfig)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO data_bindings (`+bindingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ElementID, b.SourceType, string(cfg), b.RefreshCron, b.TTLSeconds, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create binding: %w", err)
	}
	return nil
}

func (s *BindingStore) GetBinding(ctx context.Context, id string) (*domain.DataBinding, error) {
	b, err := scanBinding(s.db.conn.QueryRowContext(ctx, `SELECT `+bindingColumns+` FROM data_bindings WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("binding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BindingStore) ListBindings(ctx context.Context) ([]domain.DataBinding, error) {
	return s.query(ctx, `SELECT `+bindingColumns+` FROM data_bindings ORDER BY created_at ASC`)
}

func (s *BindingStore) ListBindingsByElement(ctx context.Context, elementID string) ([]domain.DataBinding, error) {
	return s.query(ctx, `SELECT `+bindingColumns+` FROM data_bindings WHERE element_id = ? ORDER BY created_at ASC`, elementID)
}

func (s *BindingStore) query(ctx context.Context, q string, args ...any) ([]domain.DataBinding, error) {
	rows, err := s.db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := []domain.DataBinding{}
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (s *BindingStore) UpdateBinding(ctx context.Context, b *domain.DataBinding) error {
	b.UpdatedAt = time.Now()
	cfg, _ := json.Marshal(b.SourceConfig)
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE data_bindings SET element_id = ?, source_type = ?, source_config = ?, refresh_cron = ?, ttl_seconds = ?, updated_at = ? WHERE id = ?`,
		b.ElementID, b.SourceType, string(cfg), b.RefreshCron, b.TTLSeconds, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("binding %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

func (s *BindingStore) DeleteBinding(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM data_bindings WHERE id = ?`, id)
	return err
}
