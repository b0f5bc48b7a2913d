package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/factory"
)

// ElementStore implements domain.ElementStore using SQLite. Ids that are
// empty or still carry the temporary prefix are replaced by server ids.
type ElementStore struct {
	db *DB
}

func NewElementStore(db *DB) *ElementStore {
	return &ElementStore{db: db}
}

const elementColumns = `id, tag, props_json, parent_id, page_id, layout_id, order_num, events_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(r rowScanner) (domain.Element, error) {
	var (
		e                 domain.Element
		tag               string
		props, events     string
		parent, page, lyt sql.NullString
	)
	if err := r.Scan(&e.ID, &tag, &props, &parent, &page, &lyt, &e.OrderNum, &events, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.Tag = domain.Tag(tag)
	e.ParentID = domain.NullableID(parent.String)
	e.PageID = domain.NullableID(page.String)
	e.LayoutID = domain.NullableID(lyt.String)
	if err := json.Unmarshal([]byte(props), &e.Props); err != nil {
		return e, fmt.Errorf("decode props of %s: %w", e.ID, err)
	}
	if e.Props == nil {
		e.Props = domain.Props{}
	}
	if events != "" && events != "null" {
		if err := json.Unmarshal([]byte(events), &e.Events); err != nil {
			return e, fmt.Errorf("decode events of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func encodeElement(e *domain.Element) (props, events string, err error) {
	p := e.Props
	if p == nil {
		p = domain.Props{}
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encode props: %w", err)
	}
	ev := e.Events
	if ev == nil {
		ev = []domain.ElementEvent{}
	}
	eb, err := json.Marshal(ev)
	if err != nil {
		return "", "", fmt.Errorf("encode events: %w", err)
	}
	return string(pb), string(eb), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertElement(ctx context.Context, x execer, e *domain.Element) error {
	props, events, err := encodeElement(e)
	if err != nil {
		return err
	}
	_, err = x.ExecContext(ctx,
		`INSERT INTO elements (`+elementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Tag), props, nullable(string(e.ParentID)), nullable(string(e.PageID)), nullable(string(e.LayoutID)),
		e.OrderNum, events, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// CreateElement inserts e and returns the stored copy with its final id.
func (s *ElementStore) CreateElement(ctx context.Context, e *domain.Element) (*domain.Element, error) {
	saved := e.Clone()
	if saved.ID == "" || strings.HasPrefix(saved.ID, factory.TempIDPrefix) {
		saved.ID = uuid.New().String()
	}
	now := time.Now()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	if err := insertElement(ctx, s.db.conn, &saved); err != nil {
		return nil, fmt.Errorf("create element: %w", err)
	}
	return &saved, nil
}

func (s *ElementStore) GetElement(ctx context.Context, id string) (*domain.Element, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM elements WHERE id = ?`, id)
	e, err := scanElement(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("element %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get element: %w", err)
	}
	return &e, nil
}

// UpdateElement overwrites every column of id with e.
func (s *ElementStore) UpdateElement(ctx context.Context, id string, e *domain.Element) (*domain.Element, error) {
	props, events, err := encodeElement(e)
	if err != nil {
		return nil, err
	}
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE elements SET tag = ?, props_json = ?, parent_id = ?, page_id = ?, layout_id = ?, order_num = ?, events_json = ?, updated_at = ? WHERE id = ?`,
		string(e.Tag), props, nullable(string(e.ParentID)), nullable(string(e.PageID)), nullable(string(e.LayoutID)),
		e.OrderNum, events, time.Now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update element: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("element %s: %w", id, ErrNotFound)
	}
	return s.GetElement(ctx, id)
}

// UpdateElementProps replaces the stored props of id. Merging is the
// caller's concern; the editor store already holds the merged bag.
func (s *ElementStore) UpdateElementProps(ctx context.Context, id string, props domain.Props) (*domain.Element, error) {
	if props == nil {
		props = domain.Props{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode props: %w", err)
	}
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE elements SET props_json = ?, updated_at = ? WHERE id = ?`, string(data), time.Now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update element props: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("element %s: %w", id, ErrNotFound)
	}
	return s.GetElement(ctx, id)
}

// DeleteElement removes id and everything below it.
func (s *ElementStore) DeleteElement(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`WITH RECURSIVE sub(id) AS (
			SELECT id FROM elements WHERE id = ?
			UNION ALL
			SELECT e.id FROM elements e JOIN sub ON e.parent_id = sub.id
		)
		DELETE FROM elements WHERE id IN (SELECT id FROM sub)`, id,
	)
	if err != nil {
		return fmt.Errorf("delete element: %w", err)
	}
	return nil
}

func (s *ElementStore) GetElementsByPageID(ctx context.Context, pageID string) ([]domain.Element, error) {
	return s.list(ctx, `page_id`, pageID)
}

func (s *ElementStore) GetElementsByLayoutID(ctx context.Context, layoutID string) ([]domain.Element, error) {
	return s.list(ctx, `layout_id`, layoutID)
}

// GetElementsByScope lists the elements of a page or a layout.
func (s *ElementStore) GetElementsByScope(ctx context.Context, scope domain.Scope) ([]domain.Element, error) {
	return s.list(ctx, scopeColumn(scope), scope.ID)
}

func scopeColumn(scope domain.Scope) string {
	if scope.Kind == domain.ScopeLayout {
		return `layout_id`
	}
	return `page_id`
}

func (s *ElementStore) list(ctx context.Context, column, id string) ([]domain.Element, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+elementColumns+` FROM elements WHERE `+column+` = ? ORDER BY order_num ASC, created_at ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	defer rows.Close()

	elements := []domain.Element{}
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	return elements, rows.Err()
}

// ReplaceScopeElements atomically replaces every element of scope.
// Used by undo/redo to fully sync the DB with the editor.
func (s *ElementStore) ReplaceScopeElements(ctx context.Context, scope domain.Scope, elements []domain.Element) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE `+scopeColumn(scope)+` = ?`, scope.ID); err != nil {
		return fmt.Errorf("delete elements: %w", err)
	}

	now := time.Now()
	for _, e := range elements {
		e := e.Clone()
		scope.Own(&e)
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		if err := insertElement(ctx, tx, &e); err != nil {
			return fmt.Errorf("insert element %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Fingerprint summarizes the rows of scope. It changes whenever an element
// of the scope is written, so a poller can detect edits made by another
// process.
func (s *ElementStore) Fingerprint(ctx context.Context, scope domain.Scope) (string, error) {
	var (
		count   int
		size    int64
		updated sql.NullString
	)
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(props_json) + order_num), 0), MAX(updated_at)
		 FROM elements WHERE `+scopeColumn(scope)+` = ?`, scope.ID,
	).Scan(&count, &size, &updated)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", scope.Key(), err)
	}
	return fmt.Sprintf("%d:%d:%s", count, size, updated.String), nil
}
