package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"pagebuilder/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Page Service: pages and layouts
// ─────────────────────────────────────────────────────────────

// PageInput is the service-layer DTO for creating/updating pages.
type PageInput struct {
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	LayoutID string `json:"layoutId"`
	OrderNum int    `json:"orderNum"`
}

// LayoutInput is the service-layer DTO for creating layouts.
type LayoutInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PageService manages pages and layouts. Element lists are owned by the
// ElementService; deleting a page closes its store first.
type PageService struct {
	pages    domain.PageStore
	elements *ElementService
	emitter  EventEmitter
}

func NewPageService(pages domain.PageStore, elements *ElementService, emitter EventEmitter) *PageService {
	return &PageService{pages: pages, elements: elements, emitter: emitter}
}

// ── Pages ──────────────────────────────────────────────────

func (s *PageService) ListPages(ctx context.Context) ([]domain.Page, error) {
	return s.pages.ListPages(ctx)
}

func (s *PageService) GetPage(ctx context.Context, id string) (*domain.Page, error) {
	return s.pages.GetPage(ctx, id)
}

// CreatePage stores a page together with its body element. An empty slug is
// derived from the title.
func (s *PageService) CreatePage(ctx context.Context, input PageInput) (*domain.Page, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("create page: %w: title is required", ErrInvalidInput)
	}
	p := &domain.Page{
		Title:    input.Title,
		Slug:     input.Slug,
		LayoutID: domain.NullableID(input.LayoutID),
		OrderNum: input.OrderNum,
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	if err := s.pages.CreatePage(ctx, p); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	s.emitter.Emit(ctx, EventPagesChanged, p.ID)
	return p, nil
}

func (s *PageService) UpdatePage(ctx context.Context, id string, input PageInput) (*domain.Page, error) {
	p, err := s.pages.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Title != "" {
		p.Title = input.Title
	}
	if input.Slug != "" {
		p.Slug = input.Slug
	}
	p.LayoutID = domain.NullableID(input.LayoutID)
	p.OrderNum = input.OrderNum
	if err := s.pages.UpdatePage(ctx, p); err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, EventPagesChanged, p.ID)
	return p, nil
}

// DeletePage waits for pending element writes, closes the page's store and
// removes the page with everything it owns.
func (s *PageService) DeletePage(ctx context.Context, id string) error {
	if err := s.elements.Flush(ctx); err != nil {
		return err
	}
	s.elements.Forget(domain.PageScope(id))
	if err := s.pages.DeletePage(ctx, id); err != nil {
		return err
	}
	s.emitter.Emit(ctx, EventPagesChanged, id)
	return nil
}

// State loads the page and its element list.
func (s *PageService) State(ctx context.Context, id string) (*domain.PageState, error) {
	p, err := s.pages.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.elements.State(ctx, *p)
}

// ── Layouts ────────────────────────────────────────────────

func (s *PageService) ListLayouts(ctx context.Context) ([]domain.Layout, error) {
	return s.pages.ListLayouts(ctx)
}

func (s *PageService) GetLayout(ctx context.Context, id string) (*domain.Layout, error) {
	return s.pages.GetLayout(ctx, id)
}

func (s *PageService) CreateLayout(ctx context.Context, input LayoutInput) (*domain.Layout, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("create layout: %w: name is required", ErrInvalidInput)
	}
	l := &domain.Layout{Name: input.Name, Description: input.Description}
	if err := s.pages.CreateLayout(ctx, l); err != nil {
		return nil, fmt.Errorf("create layout: %w", err)
	}
	s.emitter.Emit(ctx, EventPagesChanged, l.ID)
	return l, nil
}

// DeleteLayout removes the layout; pages using it fall back to none.
func (s *PageService) DeleteLayout(ctx context.Context, id string) error {
	if err := s.elements.Flush(ctx); err != nil {
		return err
	}
	s.elements.Forget(domain.LayoutScope(id))
	if err := s.pages.DeleteLayout(ctx, id); err != nil {
		return err
	}
	s.emitter.Emit(ctx, EventPagesChanged, id)
	return nil
}

// Slugify lowercases title and joins its letters and digits with dashes.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
