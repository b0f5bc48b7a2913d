package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/apierr"
	"pagebuilder/internal/domain"
	"pagebuilder/internal/factory"
	"pagebuilder/internal/service"
	"pagebuilder/internal/storage"
)

type env struct {
	db       *storage.DB
	elements *storage.ElementStore
	em       *service.MockEmitter
	hooks    *service.ComponentHooks
	svc      *service.ElementService
	pages    *service.PageService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "pb.db"), dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:       db,
		elements: storage.NewElementStore(db),
		em:       &service.MockEmitter{},
		hooks:    service.NewComponentHooks(),
	}
	e.svc = service.NewElementService(e.elements, storage.NewSnapshotStore(db), e.hooks, e.em, service.ElementServiceOptions{
		Retry: apierr.RetryOptions{MaxRetries: 1, Delay: time.Millisecond},
	})
	e.pages = service.NewPageService(storage.NewPageStore(db), e.svc, e.em)
	return e
}

func (e *env) page(t *testing.T) domain.Scope {
	t.Helper()
	p, err := e.pages.CreatePage(context.Background(), service.PageInput{Title: "Home"})
	require.NoError(t, err)
	return domain.PageScope(p.ID)
}

func (e *env) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.svc.Flush(ctx))
}

func (e *env) stored(t *testing.T, scope domain.Scope) map[string]domain.Element {
	t.Helper()
	list, err := e.elements.GetElementsByScope(context.Background(), scope)
	require.NoError(t, err)
	m := make(map[string]domain.Element, len(list))
	for _, el := range list {
		m[el.ID] = el
	}
	return m
}

func TestElementService_AddComponentPersistsWithFinalIDs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	res, err := e.svc.AddComponent(ctx, scope, "TextField", "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Parent.ID, factory.TempIDPrefix))
	e.flush(t)

	stored := e.stored(t, scope)
	assert.Len(t, stored, 1+len(res.AllElements))
	for id := range stored {
		assert.False(t, strings.HasPrefix(id, factory.TempIDPrefix), id)
	}

	finalID := e.svc.ResolveID(scope, res.Parent.ID)
	require.NotEqual(t, res.Parent.ID, finalID)
	parent, ok := stored[finalID]
	require.True(t, ok)
	assert.Equal(t, domain.Tag("TextField"), parent.Tag)

	// children point at the persisted parent id
	children := 0
	for _, el := range stored {
		if string(el.ParentID) == finalID {
			children++
		}
	}
	assert.Equal(t, len(res.Children), children)

	// the store was remapped as well
	list, err := e.svc.Elements(ctx, scope)
	require.NoError(t, err)
	for _, el := range list {
		assert.False(t, strings.HasPrefix(el.ID, factory.TempIDPrefix), el.ID)
	}
}

func TestElementService_PrimitiveAddDefaultsToBody(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	el, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagButton, Props: domain.Props{"children": "Go"}})
	require.NoError(t, err)
	list, _ := e.svc.Elements(ctx, scope)
	body := factory.FindBody(list, scope)
	require.NotNil(t, body)
	assert.Equal(t, domain.NullableID(body.ID), el.ParentID)
	assert.Equal(t, domain.NullableID(scope.ID), el.PageID)

	_, err = e.svc.AddElement(ctx, scope, domain.Element{})
	assert.Error(t, err)
}

func TestElementService_UpdateAndRemovePersist(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	el, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagButton, Props: domain.Props{"children": "Go", "variant": "primary"}})
	require.NoError(t, err)
	e.flush(t)
	id := e.svc.ResolveID(scope, el.ID)

	// the temp id still works after the swap
	_, err = e.svc.UpdateProps(ctx, scope, el.ID, domain.Props{"children": "Stop"}, true)
	require.NoError(t, err)
	e.flush(t)
	got := e.stored(t, scope)[id]
	assert.Equal(t, "Stop", got.Props["children"])
	assert.Equal(t, "primary", got.Props["variant"])

	_, err = e.svc.UpdateProps(ctx, scope, id, domain.Props{"children": "Only"}, false)
	require.NoError(t, err)
	e.flush(t)
	got = e.stored(t, scope)[id]
	assert.Equal(t, domain.Props{"children": "Only"}, got.Props)

	removed, err := e.svc.RemoveElement(ctx, scope, id)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	e.flush(t)
	_, ok := e.stored(t, scope)[id]
	assert.False(t, ok)
}

func TestElementService_RemoveBodyRefused(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	list, err := e.svc.Elements(ctx, scope)
	require.NoError(t, err)
	body := factory.FindBody(list, scope)
	require.NotNil(t, body)

	_, err = e.svc.RemoveElement(ctx, scope, body.ID)
	assert.ErrorIs(t, err, service.ErrProtectedElement)
}

func TestElementService_UndoRedoPersist(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	el, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText, Props: domain.Props{"children": "Hi"}})
	require.NoError(t, err)
	e.flush(t)
	id := e.svc.ResolveID(scope, el.ID)
	require.Contains(t, e.stored(t, scope), id)

	ok, err := e.svc.Undo(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)
	e.flush(t)
	assert.NotContains(t, e.stored(t, scope), id)

	ok, err = e.svc.Redo(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)
	e.flush(t)
	assert.Contains(t, e.stored(t, scope), id, "redo restores the persisted id")

	ok, err = e.svc.Redo(ctx, scope)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestElementService_MovePersistsOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	a, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	b, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	e.flush(t)

	require.NoError(t, e.svc.MoveElement(ctx, scope, b.ID, string(b.ParentID), 0))
	e.flush(t)

	stored := e.stored(t, scope)
	sa, sb := stored[e.svc.ResolveID(scope, a.ID)], stored[e.svc.ResolveID(scope, b.ID)]
	assert.Less(t, sb.OrderNum, sa.OrderNum)
}

func TestElementService_SetEvents(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	el, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagButton})
	require.NoError(t, err)
	events := []domain.ElementEvent{{ID: "ev1", EventType: domain.EventClick, Actions: []domain.Action{{ID: "a1", Type: domain.ActionShowToast}}}}
	require.NoError(t, e.svc.SetEvents(ctx, scope, el.ID, events))
	e.flush(t)

	got := e.stored(t, scope)[e.svc.ResolveID(scope, el.ID)]
	require.Len(t, got.Events, 1)
	assert.Equal(t, domain.EventClick, got.Events[0].EventType)

	assert.Error(t, e.svc.SetEvents(ctx, scope, "missing", events))
}

func TestElementService_EmitsElementsChanged(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	_, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	e.flush(t)

	changes := e.em.Named(service.EventElementsChanged)
	require.NotEmpty(t, changes)
	var kinds []string
	for _, c := range changes {
		ch := c.Data.(service.ElementsChanged)
		assert.Equal(t, scope, ch.Scope)
		kinds = append(kinds, string(ch.Kind))
	}
	assert.Contains(t, kinds, "add")
	assert.Contains(t, kinds, "remap")

	last := changes[len(changes)-1].Data.(service.ElementsChanged)
	assert.True(t, last.CanUndo)
}

func TestElementService_ReloadPicksUpExternalWrites(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	list, err := e.svc.Elements(ctx, scope)
	require.NoError(t, err)
	body := factory.FindBody(list, scope)

	changed, err := e.svc.Reload(ctx, scope)
	require.NoError(t, err)
	assert.False(t, changed)

	ext := domain.Element{Tag: domain.TagText, ParentID: domain.NullableID(body.ID), OrderNum: 1, Props: domain.Props{"children": "from mcp"}}
	scope.Own(&ext)
	saved, err := e.elements.CreateElement(ctx, &ext)
	require.NoError(t, err)

	changed, err = e.svc.Reload(ctx, scope)
	require.NoError(t, err)
	assert.True(t, changed)
	store, _ := e.svc.Open(ctx, scope)
	_, ok := store.Element(saved.ID)
	assert.True(t, ok)
	assert.False(t, store.CanUndo(), "reloads are not undoable")

	e.flush(t)
	changed, err = e.svc.Reload(ctx, scope)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestElementService_SnapshotsAndRestore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)
	snaps := storage.NewSnapshotStore(e.db)

	_, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	e.flush(t)

	n, err := snaps.Count(ctx, scope)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	ok, err := e.svc.Restore(ctx, scope)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.svc.Restore(ctx, domain.PageScope("nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

type recordingHook struct {
	tag domain.Tag

	mu      sync.Mutex
	created []string
	deleted []string
}

func (h *recordingHook) Tag() domain.Tag { return h.tag }

func (h *recordingHook) OnCreate(_ context.Context, e domain.Element) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, e.ID)
	return nil
}

func (h *recordingHook) OnDelete(_ context.Context, e domain.Element) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, e.ID)
	return nil
}

func TestElementService_HooksSeeFinalIDs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	hook := &recordingHook{tag: domain.TagButton}
	e.hooks.Register(hook)
	scope := e.page(t)

	el, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagButton})
	require.NoError(t, err)
	_, err = e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	e.flush(t)
	id := e.svc.ResolveID(scope, el.ID)

	_, err = e.svc.RemoveElement(ctx, scope, id)
	require.NoError(t, err)
	e.flush(t)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	assert.Equal(t, []string{id}, hook.created)
	assert.Equal(t, []string{id}, hook.deleted)
}

type failingElements struct {
	*storage.ElementStore
}

func (failingElements) CreateElement(context.Context, *domain.Element) (*domain.Element, error) {
	return nil, errors.New("validation failed: tag rejected")
}

func TestElementService_PersistFailureIsReported(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)
	em := &service.MockEmitter{}
	svc := service.NewElementService(failingElements{e.elements}, nil, nil, em, service.ElementServiceOptions{
		Retry: apierr.RetryOptions{MaxRetries: 1, Delay: time.Millisecond},
	})

	_, err := svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err, "edits are optimistic")
	require.NoError(t, svc.Flush(ctx))

	failed := em.Named(service.EventPersistFailed)
	require.Len(t, failed, 1)
	pf := failed[0].Data.(service.PersistFailed)
	assert.Equal(t, apierr.Validation, pf.Type)
	require.NotNil(t, svc.Errors().LastError())

	// the element stays in the store
	list, err := svc.Elements(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestElementService_LocateAndTree(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	res, err := e.svc.AddComponent(ctx, scope, "TextField", "")
	require.NoError(t, err)
	e.flush(t)

	id := e.svc.ResolveID(scope, res.Parent.ID)
	got, err := e.svc.Locate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, scope, got)

	tree, err := e.svc.Tree(ctx, scope)
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, domain.TagBody, tree.Roots[0].Element.Tag)

	v, err := e.svc.Validate(ctx, scope)
	require.NoError(t, err)
	assert.True(t, v.IsValid)

	_, err = e.svc.AddComponent(ctx, scope, "TextField", "missing-parent")
	assert.Error(t, err)
}

func TestElementService_InsertElementAtIndex(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	scope := e.page(t)

	first, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	second, err := e.svc.AddElement(ctx, scope, domain.Element{Tag: domain.TagText})
	require.NoError(t, err)
	ins, err := e.svc.InsertElement(ctx, scope, domain.Element{Tag: domain.TagButton}, 0)
	require.NoError(t, err)
	e.flush(t)

	stored := e.stored(t, scope)
	firstOrder := stored[e.svc.ResolveID(scope, first.ID)].OrderNum
	assert.Equal(t, firstOrder-1, stored[e.svc.ResolveID(scope, ins.ID)].OrderNum)
	assert.Equal(t, firstOrder+1, stored[e.svc.ResolveID(scope, second.ID)].OrderNum)
}
