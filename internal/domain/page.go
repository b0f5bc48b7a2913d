package domain

import (
	"context"
	"time"
)

type Page struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Slug      string     `json:"slug"`
	LayoutID  NullableID `json:"layout_id"`
	OrderNum  int        `json:"order_num"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Layout is a template whose Slot elements are filled by pages.
type Layout struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PageStore interface {
	CreatePage(ctx context.Context, p *Page) error
	GetPage(ctx context.Context, id string) (*Page, error)
	ListPages(ctx context.Context) ([]Page, error)
	UpdatePage(ctx context.Context, p *Page) error
	DeletePage(ctx context.Context, id string) error

	CreateLayout(ctx context.Context, l *Layout) error
	GetLayout(ctx context.Context, id string) (*Layout, error)
	ListLayouts(ctx context.Context) ([]Layout, error)
	DeleteLayout(ctx context.Context, id string) error
}
