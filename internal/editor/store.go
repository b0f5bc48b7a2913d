// Package editor holds the authoritative element list of the open page or
// layout and records every mutation in the undo history.
package editor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/hierarchy"
	"pagebuilder/internal/history"
)

var (
	ErrNotFound      = errors.New("element not found")
	ErrDuplicateID   = errors.New("duplicate element id")
	ErrUnknownParent = errors.New("parent element not found")
	ErrCycle         = errors.New("move would create a cycle")
	ErrInvalidTree   = errors.New("invalid element hierarchy")
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeOpen   ChangeKind = "open"
	ChangeSet    ChangeKind = "set"
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
	ChangeMove   ChangeKind = "move"
	ChangeRemap  ChangeKind = "remap"
	ChangeUndo   ChangeKind = "undo"
	ChangeRedo   ChangeKind = "redo"
)

// Change is delivered to subscribers after every successful mutation.
// Elements is a private copy of the full list.
type Change struct {
	Kind     ChangeKind
	Scope    domain.Scope
	Elements []domain.Element
	Label    string
	CanUndo  bool
	CanRedo  bool
}

// Options tweak SetElements.
type Options struct {
	// SkipHistory applies the list without recording an undo entry.
	SkipHistory bool
	Label       string
}

// Store owns the element list of one scope at a time.
type Store struct {
	mu       sync.Mutex
	scope    domain.Scope
	elements []domain.Element
	history  *history.History
	now      func() time.Time

	listenerMu sync.Mutex
	listeners  map[int]func(Change)
	nextID     int
}

// New creates a Store recording into h. A nil h gets a fresh History.
func New(h *history.History) *Store {
	if h == nil {
		h = history.New(history.DefaultLimit)
	}
	return &Store{history: h, now: time.Now, listeners: make(map[int]func(Change))}
}

// Subscribe registers fn for every change and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(c Change) {
	s.listenerMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// change builds a Change for the current state. Caller holds s.mu.
func (s *Store) change(kind ChangeKind, label string) Change {
	key := s.scope.Key()
	return Change{
		Kind:     kind,
		Scope:    s.scope,
		Elements: domain.CloneElements(s.elements),
		Label:    label,
		CanUndo:  s.history.CanUndo(key),
		CanRedo:  s.history.CanRedo(key),
	}
}

// OpenScope switches the store to scope with the given list. History of the
// scope is kept, so reopening a page restores its undo stack.
func (s *Store) OpenScope(scope domain.Scope, elements []domain.Element) {
	s.mu.Lock()
	s.scope = scope
	s.elements = domain.CloneElements(elements)
	c := s.change(ChangeOpen, "")
	s.mu.Unlock()
	s.notify(c)
}

// Scope returns the scope currently open.
func (s *Store) Scope() domain.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Elements returns a copy of the current list.
func (s *Store) Elements() []domain.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneElements(s.elements)
}

// Element returns a copy of one element.
func (s *Store) Element(id string) (domain.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.elements[i].Clone(), true
	}
	return domain.Element{}, false
}

func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo(s.scope.Key())
}

func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanRedo(s.scope.Key())
}

func (s *Store) indexOf(id string) int {
	for i := range s.elements {
		if s.elements[i].ID == id {
			return i
		}
	}
	return -1
}

// commit validates next, swaps it in and records cmd. Caller holds s.mu.
func (s *Store) commit(next []domain.Element, cmd history.Command) error {
	if v := hierarchy.ValidateHierarchy(next); !v.IsValid {
		return fmt.Errorf("%w: %s", ErrInvalidTree, strings.Join(v.Errors, "; "))
	}
	s.elements = next
	if cmd != nil {
		s.history.Push(s.scope.Key(), cmd)
	}
	return nil
}

// SetElements replaces the whole list. Lists with duplicate ids or cycles are
// rejected; orphans are accepted.
func (s *Store) SetElements(list []domain.Element, opts Options) error {
	s.mu.Lock()
	next := domain.CloneElements(list)
	var cmd history.Command
	if !opts.SkipHistory {
		label := opts.Label
		if label == "" {
			label = "Set elements"
		}
		cmd = history.ReplaceCommand{Before: domain.CloneElements(s.elements), After: domain.CloneElements(next), Name: label}
	}
	if err := s.commit(next, cmd); err != nil {
		s.mu.Unlock()
		return err
	}
	c := s.change(ChangeSet, opts.Label)
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// AddElement appends a single element. Missing owner fields are stamped from
// the open scope and a zero order_num is placed after the last sibling.
func (s *Store) AddElement(e domain.Element) error {
	return s.AddElements([]domain.Element{e}, "Add "+string(e.Tag))
}

// InsertElement adds e at index among its siblings (0-based). Siblings from
// index on move back one place; an index past the end appends.
func (s *Store) InsertElement(e domain.Element, index int) error {
	return s.addBundle([]domain.Element{e}, "Insert "+string(e.Tag), index)
}

// AddElements applies a bundle atomically with a single history entry.
// Parents may be existing elements or earlier members of the bundle.
func (s *Store) AddElements(bundle []domain.Element, label string) error {
	return s.addBundle(bundle, label, -1)
}

// addBundle adds bundle; index >= 0 places the first element at that
// sibling position.
func (s *Store) addBundle(bundle []domain.Element, label string, index int) error {
	if len(bundle) == 0 {
		return nil
	}
	s.mu.Lock()
	known := make(map[string]bool, len(s.elements)+len(bundle))
	for _, e := range s.elements {
		known[e.ID] = true
	}
	added := make([]domain.Element, 0, len(bundle))
	next := domain.CloneElements(s.elements)
	cmd := history.AddCommand{Name: label}
	for n, e := range bundle {
		if e.ID == "" || known[e.ID] {
			s.mu.Unlock()
			return fmt.Errorf("add %q: %w", e.ID, ErrDuplicateID)
		}
		if !e.IsRoot() && !known[string(e.ParentID)] && !inBundle(bundle, string(e.ParentID)) {
			s.mu.Unlock()
			return fmt.Errorf("add %q under %q: %w", e.ID, e.ParentID, ErrUnknownParent)
		}
		known[e.ID] = true

		e = e.Clone()
		if e.PageID == "" && e.LayoutID == "" {
			s.scope.Own(&e)
		}
		if n == 0 && index >= 0 {
			e.OrderNum, cmd.ShiftedFrom, cmd.ShiftedTo = insertionSlot(string(e.ParentID), index, next)
			setOrders(next, cmd.ShiftedTo)
		}
		if e.OrderNum == 0 {
			e.OrderNum = hierarchy.CalculateNextOrderNum(string(e.ParentID), next)
		}
		if e.Props == nil {
			e.Props = domain.Props{}
		}
		now := s.now()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		next = append(next, e)
		added = append(added, e)
	}
	cmd.Added = added
	if err := s.commit(next, cmd); err != nil {
		s.mu.Unlock()
		return err
	}
	c := s.change(ChangeAdd, label)
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// insertionSlot returns the order_num for a new child of parentID at index
// and the sibling order_nums before and after making room.
func insertionSlot(parentID string, index int, elements []domain.Element) (int, map[string]int, map[string]int) {
	siblings := hierarchy.GetOrderedChildren(parentID, elements)
	if index >= len(siblings) {
		return hierarchy.CalculateNextOrderNum(parentID, elements), nil, nil
	}
	shifted := hierarchy.CalculateOrderNumsForInsertion(parentID, index, elements)
	before := make(map[string]int, len(shifted))
	for _, sib := range siblings {
		if _, ok := shifted[sib.ID]; ok {
			before[sib.ID] = sib.OrderNum
		}
	}
	return siblings[index].OrderNum, before, shifted
}

func setOrders(elements []domain.Element, orders map[string]int) {
	for i := range elements {
		if n, ok := orders[elements[i].ID]; ok {
			elements[i].OrderNum = n
		}
	}
}

func inBundle(bundle []domain.Element, id string) bool {
	for _, e := range bundle {
		if e.ID == id {
			return true
		}
	}
	return false
}

// UpdateElementProps shallow-merges partial into the element's props.
func (s *Store) UpdateElementProps(id string, partial domain.Props) (domain.Element, error) {
	return s.writeProps(id, partial, true)
}

// ReplaceElementProps swaps the whole props object of id.
func (s *Store) ReplaceElementProps(id string, props domain.Props) (domain.Element, error) {
	return s.writeProps(id, props, false)
}

func (s *Store) writeProps(id string, props domain.Props, merge bool) (domain.Element, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Element{}, fmt.Errorf("update %q: %w", id, ErrNotFound)
	}
	before := s.elements[i].Props.Clone()
	after := props.Clone()
	if merge {
		after = s.elements[i].Props.Merge(props)
	}
	cmd := history.UpdatePropsCommand{ElementID: id, Before: before, After: after, Name: "Update properties"}
	next := cmd.Apply(s.elements)
	next[i].UpdatedAt = s.now()
	if err := s.commit(next, cmd); err != nil {
		s.mu.Unlock()
		return domain.Element{}, err
	}
	updated := s.elements[i].Clone()
	c := s.change(ChangeUpdate, cmd.Name)
	s.mu.Unlock()
	s.notify(c)
	return updated, nil
}

// SetEvents replaces the event list of id as one undoable edit.
func (s *Store) SetEvents(id string, events []domain.ElementEvent) (domain.Element, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Element{}, fmt.Errorf("set events on %q: %w", id, ErrNotFound)
	}
	cmd := history.UpdateEventsCommand{
		ElementID: id,
		Before:    domain.CloneEvents(s.elements[i].Events),
		After:     domain.CloneEvents(events),
		Name:      "Edit events",
	}
	next := cmd.Apply(s.elements)
	next[i].UpdatedAt = s.now()
	if err := s.commit(next, cmd); err != nil {
		s.mu.Unlock()
		return domain.Element{}, err
	}
	updated := s.elements[i].Clone()
	c := s.change(ChangeUpdate, cmd.Name)
	s.mu.Unlock()
	s.notify(c)
	return updated, nil
}

// RemoveElement deletes id and every descendant. The removed elements are
// returned in list order.
func (s *Store) RemoveElement(id string) ([]domain.Element, error) {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	doomed := Descendants(id, s.elements)
	doomed[id] = true

	cmd := history.RemoveCommand{Name: "Remove element"}
	for i, e := range s.elements {
		if doomed[e.ID] {
			cmd.Removed = append(cmd.Removed, e.Clone())
			cmd.Indices = append(cmd.Indices, i)
		}
	}
	if err := s.commit(cmd.Apply(s.elements), cmd); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	c := s.change(ChangeRemove, cmd.Name)
	s.mu.Unlock()
	s.notify(c)
	return cmd.Removed, nil
}

// Descendants returns the ids of every element below id. Cyclic input is
// tolerated.
func Descendants(id string, elements []domain.Element) map[string]bool {
	children := make(map[string][]string)
	for _, e := range elements {
		if !e.IsRoot() {
			children[string(e.ParentID)] = append(children[string(e.ParentID)], e.ID)
		}
	}
	out := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if c == id || out[c] {
				continue
			}
			out[c] = true
			queue = append(queue, c)
		}
	}
	return out
}

// MoveElement reparents id under newParentID ("" for root) at newIndex among
// its new siblings and renumbers both sibling lists.
func (s *Store) MoveElement(id, newParentID string, newIndex int) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("move %q: %w", id, ErrNotFound)
	}
	if newParentID != "" {
		if s.indexOf(newParentID) < 0 {
			s.mu.Unlock()
			return fmt.Errorf("move %q under %q: %w", id, newParentID, ErrUnknownParent)
		}
		if newParentID == id || Descendants(id, s.elements)[newParentID] {
			s.mu.Unlock()
			return fmt.Errorf("move %q under %q: %w", id, newParentID, ErrCycle)
		}
	}

	updates := hierarchy.CalculateMoveOrderNums(id, newParentID, newIndex, s.elements)
	cmd := history.MoveCommand{
		ElementID: id,
		OldParent: s.elements[i].ParentID,
		NewParent: domain.NullableID(newParentID),
		OldOrders: make(map[string]int, len(updates)),
		NewOrders: updates,
		Name:      "Move element",
	}
	for _, e := range s.elements {
		if _, ok := updates[e.ID]; ok {
			cmd.OldOrders[e.ID] = e.OrderNum
		}
	}
	next := cmd.Apply(s.elements)
	now := s.now()
	for j := range next {
		if _, ok := updates[next[j].ID]; ok {
			next[j].UpdatedAt = now
		}
	}
	if err := s.commit(next, cmd); err != nil {
		s.mu.Unlock()
		return err
	}
	c := s.change(ChangeMove, cmd.Name)
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// RemapID renames an element, usually a temporary id replaced by the
// persisted one. Children and recorded history follow; no entry is added.
func (s *Store) RemapID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	s.mu.Lock()
	if s.indexOf(oldID) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remap %q: %w", oldID, ErrNotFound)
	}
	if s.indexOf(newID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("remap %q to %q: %w", oldID, newID, ErrDuplicateID)
	}
	s.elements = history.RemapElements(s.elements, oldID, newID)
	s.history.RemapID(s.scope.Key(), oldID, newID)
	c := s.change(ChangeRemap, "")
	s.mu.Unlock()
	s.notify(c)
	return nil
}

// Undo reverts the last recorded edit of the open scope.
func (s *Store) Undo() bool {
	return s.step(ChangeUndo)
}

// Redo re-applies the last undone edit.
func (s *Store) Redo() bool {
	return s.step(ChangeRedo)
}

func (s *Store) step(kind ChangeKind) bool {
	s.mu.Lock()
	var (
		next  []domain.Element
		label string
		ok    bool
	)
	if kind == ChangeUndo {
		next, label, ok = s.history.Undo(s.scope.Key(), s.elements)
	} else {
		next, label, ok = s.history.Redo(s.scope.Key(), s.elements)
	}
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.elements = next
	c := s.change(kind, label)
	s.mu.Unlock()
	s.notify(c)
	return true
}
