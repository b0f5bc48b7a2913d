package history

import (
	"sync"

	"pagebuilder/internal/domain"
)

// DefaultLimit caps entries kept per scope; the oldest entry is dropped first.
const DefaultLimit = 50

// stack is the history of one page or layout. cursor counts applied entries:
// entries[:cursor] can be undone, entries[cursor:] can be redone.
type stack struct {
	entries []Command
	cursor  int
}

// History holds one stack per scope key. Stacks are created on first push,
// so edits to different pages never interfere.
type History struct {
	mu     sync.Mutex
	limit  int
	stacks map[string]*stack
}

// New creates a History keeping at most limit entries per scope.
func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{limit: limit, stacks: make(map[string]*stack)}
}

// Push records an applied command. Any redo tail is discarded.
func (h *History) Push(scope string, cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stacks[scope]
	if s == nil {
		s = &stack{}
		h.stacks[scope] = s
	}
	s.entries = append(s.entries[:s.cursor], cmd)
	s.cursor++
	if over := len(s.entries) - h.limit; over > 0 {
		s.entries = append([]Command(nil), s.entries[over:]...)
		s.cursor -= over
	}
}

// Undo inverts the last applied command against current. ok is false when
// there is nothing to undo.
func (h *History) Undo(scope string, current []domain.Element) (next []domain.Element, label string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stacks[scope]
	if s == nil || s.cursor == 0 {
		return current, "", false
	}
	s.cursor--
	cmd := s.entries[s.cursor]
	return cmd.Invert(current), cmd.Label(), true
}

// Redo re-applies the next undone command.
func (h *History) Redo(scope string, current []domain.Element) (next []domain.Element, label string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stacks[scope]
	if s == nil || s.cursor >= len(s.entries) {
		return current, "", false
	}
	cmd := s.entries[s.cursor]
	s.cursor++
	return cmd.Apply(current), cmd.Label(), true
}

func (h *History) CanUndo(scope string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stacks[scope]
	return s != nil && s.cursor > 0
}

func (h *History) CanRedo(scope string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stacks[scope]
	return s != nil && s.cursor < len(s.entries)
}

// Len returns the number of entries recorded for scope.
func (h *History) Len(scope string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.stacks[scope]; s != nil {
		return len(s.entries)
	}
	return 0
}

// RemapID rewrites every recorded entry of scope so that oldID reads as newID.
func (h *History) RemapID(scope, oldID, newID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stacks[scope]
	if s == nil {
		return
	}
	for i, cmd := range s.entries {
		if r, ok := cmd.(remapper); ok {
			s.entries[i] = r.remap(oldID, newID)
		}
	}
}

// Clear drops the stack of one scope.
func (h *History) Clear(scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.stacks, scope)
}
