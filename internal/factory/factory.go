// Package factory builds composite components (a parent plus its fixed
// structural children) and persists them parent-first.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
	"pagebuilder/internal/hierarchy"
)

// TempIDPrefix marks client-generated ids that have not been persisted yet.
const TempIDPrefix = "temp-"

// Result is the bundle produced by CreateComplexComponent. AllElements is
// the parent followed by every descendant in depth-first order.
type Result struct {
	Parent      domain.Element   `json:"parent"`
	Children    []domain.Element `json:"children"`
	AllElements []domain.Element `json:"allElements"`
}

// Factory turns definitions into element bundles and applies them to a store.
type Factory struct {
	store *editor.Store
	newID func() string
	now   func() time.Time
}

// New creates a Factory that applies bundles to store.
func New(store *editor.Store) *Factory {
	return &Factory{
		store: store,
		newID: func() string { return TempIDPrefix + uuid.NewString() },
		now:   time.Now,
	}
}

// CreateComplexComponent builds the component for tag under parent (or the
// scope's body element when parent is nil) and adds it to the store as one
// history entry. Persistence is left to the caller.
func (f *Factory) CreateComplexComponent(ctx context.Context, tag domain.Tag, parent *domain.Element, scope domain.Scope, current []domain.Element) (*Result, error) {
	create, ok := definitions[tag]
	if !ok {
		return nil, fmt.Errorf("No creator found for component type: %s", tag)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parentID := ""
	if parent != nil {
		parentID = parent.ID
	} else if body := FindBody(current, scope); body != nil {
		parentID = body.ID
	}

	res := f.build(create(), parentID, scope, current)
	if f.store != nil {
		if err := f.store.AddElements(res.AllElements, "Add "+string(tag)); err != nil {
			return nil, fmt.Errorf("add %s: %w", tag, err)
		}
	}
	return res, nil
}

func (f *Factory) build(def Node, parentID string, scope domain.Scope, current []domain.Element) *Result {
	now := f.now()
	mk := func(n Node, id, parent string, order int) domain.Element {
		e := domain.Element{
			ID:        id,
			Tag:       n.Tag,
			Props:     n.Props.Clone(),
			ParentID:  domain.NullableID(parent),
			OrderNum:  order,
			CreatedAt: now,
			UpdatedAt: now,
		}
		scope.Own(&e)
		return e
	}

	root := mk(def, f.newID(), parentID, hierarchy.CalculateNextOrderNum(parentID, current))
	res := &Result{Parent: root}

	var walk func(n Node, parent string)
	walk = func(n Node, parent string) {
		for i, c := range n.Children {
			child := mk(c, f.newID(), parent, i+1)
			res.Children = append(res.Children, child)
			walk(c, child.ID)
		}
	}
	walk(def, root.ID)

	res.AllElements = append([]domain.Element{root}, res.Children...)
	return res
}

// FindBody returns the root body element of scope, or nil.
func FindBody(elements []domain.Element, scope domain.Scope) *domain.Element {
	for i := range elements {
		e := &elements[i]
		if e.Tag == domain.TagBody && e.IsRoot() && e.Scope() == scope {
			return e
		}
	}
	return nil
}
