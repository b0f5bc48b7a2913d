package factory

import (
	"context"
	"fmt"
	"log"

	"pagebuilder/internal/domain"
)

// IDMap maps temporary ids to persisted ids.
type IDMap map[string]string

// ElementCreator is the slice of domain.ElementStore the saver needs.
type ElementCreator interface {
	CreateElement(ctx context.Context, e *domain.Element) (*domain.Element, error)
}

// IDRemapper is told about every id swap, typically an editor.Store.
type IDRemapper interface {
	RemapID(oldID, newID string) error
}

// BatchSaver persists a bundle so that no element is saved before its parent
// has a persisted id. Elements are grouped into levels by their depth inside
// the bundle; levels are saved in order, members of a level sequentially in
// input order.
type BatchSaver struct {
	store ElementCreator
	remap IDRemapper
}

// NewBatchSaver creates a saver. remap may be nil.
func NewBatchSaver(store ElementCreator, remap IDRemapper) *BatchSaver {
	return &BatchSaver{store: store, remap: remap}
}

// Save persists elements and returns the id map. On failure the partial map
// built so far is returned together with the error; already saved elements
// stay saved.
func (b *BatchSaver) Save(ctx context.Context, elements []domain.Element) (IDMap, error) {
	levels, err := Levels(elements)
	if err != nil {
		return IDMap{}, err
	}

	ids := make(IDMap, len(elements))
	for _, level := range levels {
		for _, e := range level {
			if err := ctx.Err(); err != nil {
				return ids, err
			}
			e = e.Clone()
			oldID := e.ID
			if pid, ok := ids[string(e.ParentID)]; ok {
				e.ParentID = domain.NullableID(pid)
			}
			saved, err := b.store.CreateElement(ctx, &e)
			if err != nil {
				return ids, fmt.Errorf("save %s (%s): %w", e.Tag, oldID, err)
			}
			ids[oldID] = saved.ID
			if b.remap != nil && saved.ID != oldID {
				if err := b.remap.RemapID(oldID, saved.ID); err != nil {
					log.Printf("[factory] remap %s -> %s: %v", oldID, saved.ID, err)
				}
			}
		}
	}
	return ids, nil
}

// Levels groups elements by depth inside the bundle. An element whose parent
// is outside the bundle sits on level 0. A parent cycle inside the bundle is
// an error.
func Levels(elements []domain.Element) ([][]domain.Element, error) {
	inBundle := make(map[string]domain.Element, len(elements))
	for _, e := range elements {
		inBundle[e.ID] = e
	}

	depth := make(map[string]int, len(elements))
	const visiting = -1
	var resolve func(id string) (int, error)
	resolve = func(id string) (int, error) {
		if d, ok := depth[id]; ok {
			if d == visiting {
				return 0, fmt.Errorf("parent cycle in bundle at %s", id)
			}
			return d, nil
		}
		e := inBundle[id]
		pid := string(e.ParentID)
		if _, ok := inBundle[pid]; !ok || e.IsRoot() {
			depth[id] = 0
			return 0, nil
		}
		depth[id] = visiting
		d, err := resolve(pid)
		if err != nil {
			return 0, err
		}
		depth[id] = d + 1
		return d + 1, nil
	}

	var levels [][]domain.Element
	for _, e := range elements {
		d, err := resolve(e.ID)
		if err != nil {
			return nil, err
		}
		for len(levels) <= d {
			levels = append(levels, nil)
		}
	}
	for _, e := range elements {
		levels[depth[e.ID]] = append(levels[depth[e.ID]], e)
	}
	return levels, nil
}
