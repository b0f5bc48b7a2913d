package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/domain"
)

// PageStore implements domain.PageStore using SQLite. Creating a page or a
// layout also creates its root body element.
type PageStore struct {
	db *DB
}

func NewPageStore(db *DB) *PageStore {
	return &PageStore{db: db}
}

func bodyElement(scope domain.Scope, now time.Time) domain.Element {
	e := domain.Element{
		ID:        uuid.New().String(),
		Tag:       domain.TagBody,
		Props:     domain.Props{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	scope.Own(&e)
	return e
}

// ── Pages ──────────────────────────────────────────────────

func (s *PageStore) CreatePage(ctx context.Context, p *domain.Page) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pages (id, title, slug, layout_id, order_num, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Slug, nullable(string(p.LayoutID)), p.OrderNum, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	body := bodyElement(domain.PageScope(p.ID), now)
	if err := insertElement(ctx, tx, &body); err != nil {
		return fmt.Errorf("create page body: %w", err)
	}
	return tx.Commit()
}

const pageColumns = `id, title, slug, layout_id, order_num, created_at, updated_at`

func scanPage(r rowScanner) (domain.Page, error) {
	var (
		p      domain.Page
		layout sql.NullString
	)
	err := r.Scan(&p.ID, &p.Title, &p.Slug, &layout, &p.OrderNum, &p.CreatedAt, &p.UpdatedAt)
	p.LayoutID = domain.NullableID(layout.String)
	return p, err
}

func (s *PageStore) GetPage(ctx context.Context, id string) (*domain.Page, error) {
	p, err := scanPage(s.db.conn.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return &p, nil
}

func (s *PageStore) ListPages(ctx context.Context) ([]domain.Page, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY order_num ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pages := []domain.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *PageStore) UpdatePage(ctx context.Context, p *domain.Page) error {
	p.UpdatedAt = time.Now()
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE pages SET title = ?, slug = ?, layout_id = ?, order_num = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Slug, nullable(string(p.LayoutID)), p.OrderNum, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("page %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeletePage removes the page with its elements and saved snapshots.
func (s *PageStore) DeletePage(ctx context.Context, id string) error {
	return s.deleteScope(ctx, `pages`, domain.PageScope(id))
}

func (s *PageStore) deleteScope(ctx context.Context, table string, scope domain.Scope) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE `+scopeColumn(scope)+` = ?`, scope.ID); err != nil {
		return fmt.Errorf("delete elements: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_snapshots WHERE scope_key = ?`, scope.Key()); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, scope.ID); err != nil {
		return fmt.Errorf("delete %s: %w", scope.Key(), err)
	}
	return tx.Commit()
}

// ── Layouts ────────────────────────────────────────────────

func (s *PageStore) CreateLayout(ctx context.Context, l *domain.Layout) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO layouts (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Description, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create layout: %w", err)
	}
	body := bodyElement(domain.LayoutScope(l.ID), now)
	if err := insertElement(ctx, tx, &body); err != nil {
		return fmt.Errorf("create layout body: %w", err)
	}
	return tx.Commit()
}

func (s *PageStore) GetLayout(ctx context.Context, id string) (*domain.Layout, error) {
	l := &domain.Layout{}
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM layouts WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("layout %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get layout: %w", err)
	}
	return l, nil
}

func (s *PageStore) ListLayouts(ctx context.Context) ([]domain.Layout, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id, name, description, created_at, updated_at FROM layouts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	layouts := []domain.Layout{}
	for rows.Next() {
		var l domain.Layout
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		layouts = append(layouts, l)
	}
	return layouts, rows.Err()
}

// DeleteLayout removes the layout and its elements. Pages that used it are
// detached.
func (s *PageStore) DeleteLayout(ctx context.Context, id string) error {
	if _, err := s.db.conn.ExecContext(ctx, `UPDATE pages SET layout_id = NULL WHERE layout_id = ?`, id); err != nil {
		return fmt.Errorf("detach pages: %w", err)
	}
	return s.deleteScope(ctx, `layouts`, domain.LayoutScope(id))
}
