package editor_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
	"pagebuilder/internal/hierarchy"
)

func el(id, parent string, order int) domain.Element {
	return domain.Element{ID: id, Tag: domain.TagButton, ParentID: domain.NullableID(parent), OrderNum: order, Props: domain.Props{}}
}

func ids(list []domain.Element) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func openStore(t *testing.T, elements ...domain.Element) *editor.Store {
	t.Helper()
	s := editor.New(nil)
	s.OpenScope(domain.PageScope("p1"), elements)
	return s
}

func assertValid(t *testing.T, s *editor.Store) {
	t.Helper()
	v := hierarchy.ValidateHierarchy(s.Elements())
	assert.Empty(t, v.Errors)
}

func TestStore_AddElementStampsScopeAndOrder(t *testing.T) {
	s := openStore(t, el("body", "", 1), el("a", "body", 1))

	require.NoError(t, s.AddElement(domain.Element{ID: "b", Tag: domain.TagText, ParentID: "body"}))
	got, ok := s.Element("b")
	require.True(t, ok)
	assert.Equal(t, "p1", got.PageID.String())
	assert.Equal(t, 2, got.OrderNum)
	assert.False(t, got.CreatedAt.IsZero())
	assertValid(t, s)
}

func TestStore_AddElementRejectsDuplicateAndUnknownParent(t *testing.T) {
	s := openStore(t, el("a", "", 1))

	assert.ErrorIs(t, s.AddElement(el("a", "", 2)), editor.ErrDuplicateID)
	assert.ErrorIs(t, s.AddElement(el("x", "ghost", 1)), editor.ErrUnknownParent)
	assert.Len(t, s.Elements(), 1)
	assert.False(t, s.CanUndo())
}

func TestStore_AddElementsIsOneHistoryEntry(t *testing.T) {
	s := openStore(t, el("body", "", 1))
	bundle := []domain.Element{el("field", "body", 0), el("label", "field", 1), el("input", "field", 2)}
	require.NoError(t, s.AddElements(bundle, "Add TextField"))
	assert.Len(t, s.Elements(), 4)

	require.True(t, s.Undo())
	assert.Equal(t, []string{"body"}, ids(s.Elements()))
	assert.False(t, s.CanUndo())

	require.True(t, s.Redo())
	assert.Len(t, s.Elements(), 4)
}

func TestStore_UpdateElementPropsMergesShallow(t *testing.T) {
	a := el("a", "", 1)
	a.Props = domain.Props{"children": "Click", "variant": "primary"}
	s := openStore(t, a)

	updated, err := s.UpdateElementProps("a", domain.Props{"children": "Go"})
	require.NoError(t, err)
	assert.Equal(t, "Go", updated.Props.String("children"))
	assert.Equal(t, "primary", updated.Props.String("variant"))

	require.True(t, s.Undo())
	got, _ := s.Element("a")
	assert.Equal(t, "Click", got.Props.String("children"))

	_, err = s.UpdateElementProps("missing", domain.Props{})
	assert.ErrorIs(t, err, editor.ErrNotFound)
}

func TestStore_ReplaceElementPropsDropsOldKeys(t *testing.T) {
	a := el("a", "", 1)
	a.Props = domain.Props{"children": "Click", "variant": "primary"}
	s := openStore(t, a)

	updated, err := s.ReplaceElementProps("a", domain.Props{"children": "Go"})
	require.NoError(t, err)
	assert.Equal(t, domain.Props{"children": "Go"}, updated.Props)

	require.True(t, s.Undo())
	got, _ := s.Element("a")
	assert.Equal(t, "primary", got.Props.String("variant"))
}

func TestStore_RemoveElementCascadesAndUndoRestoresOrder(t *testing.T) {
	s := openStore(t,
		el("root", "", 1),
		el("a", "root", 1),
		el("b", "root", 2),
		el("a1", "a", 1),
		el("a1x", "a1", 1),
	)

	removed, err := s.RemoveElement("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a1", "a1x"}, ids(removed))
	assert.Equal(t, []string{"root", "b"}, ids(s.Elements()))
	assertValid(t, s)

	require.True(t, s.Undo())
	assert.Equal(t, []string{"root", "a", "b", "a1", "a1x"}, ids(s.Elements()))
}

func TestStore_MoveElement(t *testing.T) {
	s := openStore(t,
		el("P", "", 1), el("Q", "", 2),
		el("p1", "P", 1), el("x", "P", 2), el("p3", "P", 3),
		el("q1", "Q", 1),
	)
	require.NoError(t, s.MoveElement("x", "Q", 0))

	got := map[string]domain.Element{}
	for _, e := range s.Elements() {
		got[e.ID] = e
	}
	assert.Equal(t, "Q", got["x"].ParentID.String())
	assert.Equal(t, 1, got["x"].OrderNum)
	assert.Equal(t, 2, got["q1"].OrderNum)
	assert.Equal(t, 2, got["p3"].OrderNum)
	assertValid(t, s)

	require.True(t, s.Undo())
	x, _ := s.Element("x")
	assert.Equal(t, "P", x.ParentID.String())
}

func TestStore_MoveElementRejectsCycle(t *testing.T) {
	s := openStore(t, el("a", "", 1), el("b", "a", 1), el("c", "b", 1))
	assert.ErrorIs(t, s.MoveElement("a", "c", 0), editor.ErrCycle)
	assert.ErrorIs(t, s.MoveElement("a", "a", 0), editor.ErrCycle)
	assert.ErrorIs(t, s.MoveElement("a", "nope", 0), editor.ErrUnknownParent)
	assertValid(t, s)
}

func TestStore_SetElementsSkipHistory(t *testing.T) {
	s := openStore(t, el("a", "", 1))
	require.NoError(t, s.SetElements([]domain.Element{el("b", "", 1)}, editor.Options{SkipHistory: true}))
	assert.False(t, s.CanUndo())

	require.NoError(t, s.SetElements([]domain.Element{el("c", "", 1)}, editor.Options{}))
	require.True(t, s.Undo())
	assert.Equal(t, []string{"b"}, ids(s.Elements()))
}

func TestStore_SetElementsRejectsCycle(t *testing.T) {
	s := openStore(t, el("a", "", 1))
	err := s.SetElements([]domain.Element{el("x", "y", 1), el("y", "x", 1)}, editor.Options{})
	assert.ErrorIs(t, err, editor.ErrInvalidTree)
	assert.Equal(t, []string{"a"}, ids(s.Elements()))
}

func TestStore_RemapIDRewritesChildrenAndHistory(t *testing.T) {
	s := openStore(t, el("body", "", 1))
	require.NoError(t, s.AddElements([]domain.Element{el("temp-1", "body", 1), el("temp-2", "temp-1", 1)}, "Add"))

	require.NoError(t, s.RemapID("temp-1", "srv-1"))
	child, _ := s.Element("temp-2")
	assert.Equal(t, "srv-1", child.ParentID.String())
	assert.True(t, s.CanUndo())

	require.True(t, s.Undo())
	assert.Equal(t, []string{"body"}, ids(s.Elements()))
}

func TestStore_HistoryIsPerScope(t *testing.T) {
	s := editor.New(nil)
	s.OpenScope(domain.PageScope("p1"), nil)
	require.NoError(t, s.AddElement(el("a", "", 1)))

	s.OpenScope(domain.PageScope("p2"), nil)
	assert.False(t, s.CanUndo())

	s.OpenScope(domain.PageScope("p1"), []domain.Element{el("a", "", 1)})
	assert.True(t, s.CanUndo())
}

func TestStore_SubscribeReceivesChanges(t *testing.T) {
	s := openStore(t)
	var (
		mu    sync.Mutex
		kinds []editor.ChangeKind
	)
	unsubscribe := s.Subscribe(func(c editor.Change) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, c.Kind)
	})
	require.NoError(t, s.AddElement(el("a", "", 1)))
	s.Undo()
	unsubscribe()
	require.NoError(t, s.AddElement(el("b", "", 1)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []editor.ChangeKind{editor.ChangeAdd, editor.ChangeUndo}, kinds)
}

func TestStore_UndoMoveKeepsUnrecordedEdits(t *testing.T) {
	s := openStore(t,
		el("P", "", 1), el("Q", "", 2),
		el("p1", "P", 1), el("x", "P", 2), el("p3", "P", 3),
		el("q1", "Q", 1),
	)
	require.NoError(t, s.MoveElement("x", "Q", 0))

	// A preview edit arrives without a history entry.
	list := s.Elements()
	for i := range list {
		if list[i].ID == "p1" {
			list[i].Props = domain.Props{"value": "typed"}
		}
	}
	require.NoError(t, s.SetElements(list, editor.Options{SkipHistory: true}))

	require.True(t, s.Undo())
	got := map[string]domain.Element{}
	for _, e := range s.Elements() {
		got[e.ID] = e
	}
	assert.Equal(t, domain.Props{"value": "typed"}, got["p1"].Props)
	assert.Equal(t, "P", got["x"].ParentID.String())
	assert.Equal(t, 2, got["x"].OrderNum)
	assert.Equal(t, 3, got["p3"].OrderNum)
	assert.Equal(t, 1, got["q1"].OrderNum)
	assertValid(t, s)

	require.True(t, s.Redo())
	x, _ := s.Element("x")
	assert.Equal(t, "Q", x.ParentID.String())
	p1, _ := s.Element("p1")
	assert.Equal(t, "typed", p1.Props["value"])
}

func TestStore_SetEventsIsUndoable(t *testing.T) {
	s := openStore(t, el("a", "", 1), el("b", "", 2))
	events := []domain.ElementEvent{{ID: "ev", EventType: domain.EventClick,
		Actions: []domain.Action{{ID: "a1", Type: domain.ActionSetState, Config: map[string]any{"key": "k"}}}}}

	updated, err := s.SetEvents("a", events)
	require.NoError(t, err)
	require.Len(t, updated.Events, 1)

	updated.Events[0].Actions[0].Config["key"] = "mutated"
	a, _ := s.Element("a")
	assert.Equal(t, "k", a.Events[0].Actions[0].Config["key"])

	list := s.Elements()
	list[1].Props = domain.Props{"children": "later"}
	require.NoError(t, s.SetElements(list, editor.Options{SkipHistory: true}))

	require.True(t, s.Undo())
	a, _ = s.Element("a")
	assert.Empty(t, a.Events)
	b, _ := s.Element("b")
	assert.Equal(t, "later", b.Props["children"])

	_, err = s.SetEvents("ghost", events)
	assert.ErrorIs(t, err, editor.ErrNotFound)
}

func TestStore_InsertElementShiftsSiblings(t *testing.T) {
	s := openStore(t, el("P", "", 1), el("a", "P", 1), el("b", "P", 2), el("c", "P", 3))

	require.NoError(t, s.InsertElement(el("n", "P", 0), 1))
	assert.Equal(t, []string{"a", "n", "b", "c"}, ids(hierarchy.GetOrderedChildren("P", s.Elements())))
	n, _ := s.Element("n")
	assert.Equal(t, 2, n.OrderNum)
	assertValid(t, s)

	require.True(t, s.Undo())
	assert.Equal(t, []string{"a", "b", "c"}, ids(hierarchy.GetOrderedChildren("P", s.Elements())))
	c, _ := s.Element("c")
	assert.Equal(t, 3, c.OrderNum)

	require.NoError(t, s.InsertElement(el("z", "P", 0), 10))
	z, _ := s.Element("z")
	assert.Equal(t, 4, z.OrderNum)
}
