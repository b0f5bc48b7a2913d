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

// MaxSnapshots is how many save points are kept per scope.
const MaxSnapshots = 40

// Snapshot is a persisted copy of a scope's element list taken at a save
// point. The newest one is what a crashed session restores.
type Snapshot struct {
	ID        string           `json:"id"`
	ScopeKey  string           `json:"scopeKey"`
	Label     string           `json:"label"`
	Elements  []domain.Element `json:"elements"`
	CreatedAt time.Time        `json:"createdAt"`
}

// SnapshotStore manages history snapshots in SQLite.
type SnapshotStore struct {
	db *DB
}

func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Push stores a snapshot of elements for scope and prunes the oldest ones
// beyond MaxSnapshots.
func (s *SnapshotStore) Push(ctx context.Context, scope domain.Scope, label string, elements []domain.Element) (*Snapshot, error) {
	if elements == nil {
		elements = []domain.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	snap := &Snapshot{
		ID:        uuid.New().String(),
		ScopeKey:  scope.Key(),
		Label:     label,
		Elements:  domain.CloneElements(elements),
		CreatedAt: time.Now(),
	}
	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO history_snapshots (id, scope_key, label, snapshot_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.ScopeKey, snap.Label, string(data), snap.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := s.prune(ctx, snap.ScopeKey, MaxSnapshots); err != nil {
		return nil, err
	}
	return snap, nil
}

// prune deletes everything but the newest keep snapshots of scopeKey.
func (s *SnapshotStore) prune(ctx context.Context, scopeKey string, keep int) error {
	_, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM history_snapshots WHERE id IN (
			SELECT id FROM history_snapshots WHERE scope_key = ?
			ORDER BY rowid DESC LIMIT -1 OFFSET ?
		)`, scopeKey, keep,
	)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot of scope, or nil when there is none.
func (s *SnapshotStore) Latest(ctx context.Context, scope domain.Scope) (*Snapshot, error) {
	var (
		snap Snapshot
		data string
	)
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT id, scope_key, label, snapshot_json, created_at FROM history_snapshots
		 WHERE scope_key = ? ORDER BY rowid DESC LIMIT 1`, scope.Key(),
	).Scan(&snap.ID, &snap.ScopeKey, &snap.Label, &data, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Elements); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	return &snap, nil
}

// Count returns how many snapshots scope has.
func (s *SnapshotStore) Count(ctx context.Context, scope domain.Scope) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_snapshots WHERE scope_key = ?`, scope.Key()).Scan(&n)
	return n, err
}

// Clear removes all snapshots of scope.
func (s *SnapshotStore) Clear(ctx context.Context, scope domain.Scope) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM history_snapshots WHERE scope_key = ?`, scope.Key())
	return err
}
