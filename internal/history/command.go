// Package history keeps per-scope undo/redo stacks of reversible commands.
package history

import "pagebuilder/internal/domain"

// Command is one reversible edit. Apply redoes it against the current list,
// Invert undoes it. Both return a new list and leave the input untouched.
type Command interface {
	Apply(elements []domain.Element) []domain.Element
	Invert(elements []domain.Element) []domain.Element
	Label() string
}

// remapper is implemented by commands that hold element ids. History.RemapID
// uses it so entries recorded under a temporary id keep working after the
// element receives its persisted id.
type remapper interface {
	remap(oldID, newID string) Command
}

// ── Add ────────────────────────────────────────────────────

// AddCommand records elements appended to the list: one element or a whole
// factory bundle as a single entry. An insertion at an index also records the
// order_num of the siblings it pushed back.
type AddCommand struct {
	Added []domain.Element
	// ShiftedFrom and ShiftedTo hold sibling order_nums before and after.
	ShiftedFrom map[string]int
	ShiftedTo   map[string]int
	Name        string
}

func (c AddCommand) Label() string { return c.Name }

func (c AddCommand) Apply(elements []domain.Element) []domain.Element {
	out := domain.CloneElements(elements)
	present := indexByID(out)
	for _, e := range c.Added {
		if _, ok := present[e.ID]; !ok {
			out = append(out, e.Clone())
		}
	}
	setOrders(out, c.ShiftedTo)
	return out
}

func (c AddCommand) Invert(elements []domain.Element) []domain.Element {
	drop := make(map[string]bool, len(c.Added))
	for _, e := range c.Added {
		drop[e.ID] = true
	}
	out := filter(elements, drop)
	setOrders(out, c.ShiftedFrom)
	return out
}

// ── Remove ─────────────────────────────────────────────────

// RemoveCommand is the memento of a removed subtree: the removed elements
// and the positions they occupied, so undo restores list order.
type RemoveCommand struct {
	Removed []domain.Element
	Indices []int
	Name    string
}

func (c RemoveCommand) Label() string { return c.Name }

func (c RemoveCommand) Apply(elements []domain.Element) []domain.Element {
	drop := make(map[string]bool, len(c.Removed))
	for _, e := range c.Removed {
		drop[e.ID] = true
	}
	return filter(elements, drop)
}

func (c RemoveCommand) Invert(elements []domain.Element) []domain.Element {
	out := domain.CloneElements(elements)
	for i, e := range c.Removed {
		idx := len(out)
		if i < len(c.Indices) && c.Indices[i] <= len(out) {
			idx = c.Indices[i]
		}
		out = append(out, domain.Element{})
		copy(out[idx+1:], out[idx:])
		out[idx] = e.Clone()
	}
	return out
}

// ── Update props ───────────────────────────────────────────

// UpdatePropsCommand swaps the full props bag of one element.
type UpdatePropsCommand struct {
	ElementID string
	Before    domain.Props
	After     domain.Props
	Name      string
}

func (c UpdatePropsCommand) Label() string { return c.Name }

func (c UpdatePropsCommand) Apply(elements []domain.Element) []domain.Element {
	return setProps(elements, c.ElementID, c.After)
}

func (c UpdatePropsCommand) Invert(elements []domain.Element) []domain.Element {
	return setProps(elements, c.ElementID, c.Before)
}

// ── Move ───────────────────────────────────────────────────

// MoveCommand reparents one element and renumbers the siblings it displaced.
// OldOrders and NewOrders cover every id whose order_num changed, the moved
// element included; nothing else in the list is touched.
type MoveCommand struct {
	ElementID string
	OldParent domain.NullableID
	NewParent domain.NullableID
	OldOrders map[string]int
	NewOrders map[string]int
	Name      string
}

func (c MoveCommand) Label() string { return c.Name }

func (c MoveCommand) Apply(elements []domain.Element) []domain.Element {
	return c.place(elements, c.NewParent, c.NewOrders)
}

func (c MoveCommand) Invert(elements []domain.Element) []domain.Element {
	return c.place(elements, c.OldParent, c.OldOrders)
}

func (c MoveCommand) place(elements []domain.Element, parent domain.NullableID, orders map[string]int) []domain.Element {
	out := domain.CloneElements(elements)
	for i := range out {
		if out[i].ID == c.ElementID {
			out[i].ParentID = parent
		}
	}
	setOrders(out, orders)
	return out
}

// ── Update events ──────────────────────────────────────────

// UpdateEventsCommand swaps the event list of one element.
type UpdateEventsCommand struct {
	ElementID string
	Before    []domain.ElementEvent
	After     []domain.ElementEvent
	Name      string
}

func (c UpdateEventsCommand) Label() string { return c.Name }

func (c UpdateEventsCommand) Apply(elements []domain.Element) []domain.Element {
	return setEvents(elements, c.ElementID, c.After)
}

func (c UpdateEventsCommand) Invert(elements []domain.Element) []domain.Element {
	return setEvents(elements, c.ElementID, c.Before)
}

// ── Replace ────────────────────────────────────────────────

// ReplaceCommand stores full before/after lists. Used for whole-list
// replacements such as restoring a snapshot.
type ReplaceCommand struct {
	Before []domain.Element
	After  []domain.Element
	Name   string
}

func (c ReplaceCommand) Label() string { return c.Name }

func (c ReplaceCommand) Apply([]domain.Element) []domain.Element {
	return domain.CloneElements(c.After)
}

func (c ReplaceCommand) Invert([]domain.Element) []domain.Element {
	return domain.CloneElements(c.Before)
}

// ── Remap ──────────────────────────────────────────────────

func (c AddCommand) remap(oldID, newID string) Command {
	c.Added = remapElements(c.Added, oldID, newID)
	c.ShiftedFrom = remapKeys(c.ShiftedFrom, oldID, newID)
	c.ShiftedTo = remapKeys(c.ShiftedTo, oldID, newID)
	return c
}

func (c MoveCommand) remap(oldID, newID string) Command {
	if c.ElementID == oldID {
		c.ElementID = newID
	}
	if string(c.OldParent) == oldID {
		c.OldParent = domain.NullableID(newID)
	}
	if string(c.NewParent) == oldID {
		c.NewParent = domain.NullableID(newID)
	}
	c.OldOrders = remapKeys(c.OldOrders, oldID, newID)
	c.NewOrders = remapKeys(c.NewOrders, oldID, newID)
	return c
}

func (c UpdateEventsCommand) remap(oldID, newID string) Command {
	if c.ElementID == oldID {
		c.ElementID = newID
	}
	return c
}

func (c RemoveCommand) remap(oldID, newID string) Command {
	c.Removed = remapElements(c.Removed, oldID, newID)
	return c
}

func (c UpdatePropsCommand) remap(oldID, newID string) Command {
	if c.ElementID == oldID {
		c.ElementID = newID
	}
	return c
}

func (c ReplaceCommand) remap(oldID, newID string) Command {
	c.Before = remapElements(c.Before, oldID, newID)
	c.After = remapElements(c.After, oldID, newID)
	return c
}

// RemapElements returns a copy of elements with oldID replaced by newID both
// as an element id and as a parent reference.
func RemapElements(elements []domain.Element, oldID, newID string) []domain.Element {
	return remapElements(elements, oldID, newID)
}

func remapElements(elements []domain.Element, oldID, newID string) []domain.Element {
	out := domain.CloneElements(elements)
	for i := range out {
		if out[i].ID == oldID {
			out[i].ID = newID
		}
		if string(out[i].ParentID) == oldID {
			out[i].ParentID = domain.NullableID(newID)
		}
	}
	return out
}

// ── helpers ────────────────────────────────────────────────

func indexByID(elements []domain.Element) map[string]int {
	idx := make(map[string]int, len(elements))
	for i, e := range elements {
		idx[e.ID] = i
	}
	return idx
}

func filter(elements []domain.Element, drop map[string]bool) []domain.Element {
	out := make([]domain.Element, 0, len(elements))
	for _, e := range elements {
		if !drop[e.ID] {
			out = append(out, e.Clone())
		}
	}
	return out
}

func setOrders(elements []domain.Element, orders map[string]int) {
	if len(orders) == 0 {
		return
	}
	for i := range elements {
		if n, ok := orders[elements[i].ID]; ok {
			elements[i].OrderNum = n
		}
	}
}

func remapKeys(m map[string]int, oldID, newID string) map[string]int {
	n, ok := m[oldID]
	if !ok {
		return m
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	delete(out, oldID)
	out[newID] = n
	return out
}

func setEvents(elements []domain.Element, id string, events []domain.ElementEvent) []domain.Element {
	out := domain.CloneElements(elements)
	for i := range out {
		if out[i].ID == id {
			out[i].Events = domain.CloneEvents(events)
		}
	}
	return out
}

func setProps(elements []domain.Element, id string, props domain.Props) []domain.Element {
	out := domain.CloneElements(elements)
	for i := range out {
		if out[i].ID == id {
			out[i].Props = props.Clone()
		}
	}
	return out
}
