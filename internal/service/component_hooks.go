package service

import (
	"context"
	"fmt"
	"sync"

	"pagebuilder/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Component Hooks: per-tag lifecycle callbacks
// ─────────────────────────────────────────────────────────────

// ComponentHook is the Go-side contract for tag-specific side effects.
// Implement it to react to elements of one tag being persisted or deleted.
type ComponentHook interface {
	// Tag returns the element tag this hook handles (e.g. "Table").
	Tag() domain.Tag
	// OnCreate is called after an element of this tag is persisted.
	OnCreate(ctx context.Context, e domain.Element) error
	// OnDelete is called after an element of this tag is deleted.
	OnDelete(ctx context.Context, e domain.Element) error
}

// ComponentHooks manages registered hooks. A tag may carry several hooks;
// they run in registration order.
type ComponentHooks struct {
	mu    sync.RWMutex
	hooks map[domain.Tag][]ComponentHook
}

// NewComponentHooks creates an empty registry.
func NewComponentHooks() *ComponentHooks {
	return &ComponentHooks{hooks: make(map[domain.Tag][]ComponentHook)}
}

// Register adds a hook for its tag.
func (r *ComponentHooks) Register(h ComponentHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.Tag()] = append(r.hooks[h.Tag()], h)
}

func (r *ComponentHooks) forTag(tag domain.Tag) []ComponentHook {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ComponentHook(nil), r.hooks[tag]...)
}

// OnCreate dispatches a create lifecycle event to the hooks of e.Tag (if any).
func (r *ComponentHooks) OnCreate(ctx context.Context, e domain.Element) error {
	for _, h := range r.forTag(e.Tag) {
		if err := h.OnCreate(ctx, e); err != nil {
			return fmt.Errorf("%s create hook for %s: %w", e.Tag, e.ID, err)
		}
	}
	return nil
}

// OnDelete dispatches a delete lifecycle event to the hooks of e.Tag (if any).
func (r *ComponentHooks) OnDelete(ctx context.Context, e domain.Element) error {
	for _, h := range r.forTag(e.Tag) {
		if err := h.OnDelete(ctx, e); err != nil {
			return fmt.Errorf("%s delete hook for %s: %w", e.Tag, e.ID, err)
		}
	}
	return nil
}

// ForEach iterates every registered hook.
func (r *ComponentHooks) ForEach(fn func(ComponentHook)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, hs := range r.hooks {
		for _, h := range hs {
			fn(h)
		}
	}
}
