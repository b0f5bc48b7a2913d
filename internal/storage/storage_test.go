package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/storage"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "db", "test.db"), filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_MigratesTwice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := storage.New(path, dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// the ALTER TABLE migration must be tolerated on reopen
	db, err = storage.New(path, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, db.DataDir())
	require.NoError(t, db.Close())
}

func TestPageStore_CreatePageCreatesBody(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	pages := storage.NewPageStore(db)
	elements := storage.NewElementStore(db)

	p := &domain.Page{Title: "Home", Slug: "home"}
	require.NoError(t, pages.CreatePage(ctx, p))
	require.NotEmpty(t, p.ID)

	list, err := elements.GetElementsByPageID(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.TagBody, list[0].Tag)
	assert.True(t, list[0].IsRoot())
	assert.Equal(t, domain.NullableID(p.ID), list[0].PageID)

	got, err := pages.GetPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Home", got.Title)
	assert.Equal(t, domain.NullableID(""), got.LayoutID)
}

func TestPageStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	pages := storage.NewPageStore(db)
	elements := storage.NewElementStore(db)

	l := &domain.Layout{Name: "Shell"}
	require.NoError(t, pages.CreateLayout(ctx, l))
	p := &domain.Page{Title: "About"}
	require.NoError(t, pages.CreatePage(ctx, p))

	p.LayoutID = domain.NullableID(l.ID)
	p.Title = "About us"
	require.NoError(t, pages.UpdatePage(ctx, p))
	got, err := pages.GetPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "About us", got.Title)
	assert.Equal(t, domain.NullableID(l.ID), got.LayoutID)

	require.NoError(t, pages.DeleteLayout(ctx, l.ID))
	got, err = pages.GetPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NullableID(""), got.LayoutID)
	layoutEls, err := elements.GetElementsByLayoutID(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, layoutEls)

	require.NoError(t, pages.DeletePage(ctx, p.ID))
	_, err = pages.GetPage(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	left, err := elements.GetElementsByPageID(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	assert.ErrorIs(t, pages.UpdatePage(ctx, &domain.Page{ID: "missing"}), storage.ErrNotFound)
}

func TestElementStore_CreateAssignsServerIDs(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := storage.NewElementStore(db)

	saved, err := store.CreateElement(ctx, &domain.Element{
		ID:     "temp-123",
		Tag:    domain.TagButton,
		Props:  domain.Props{"label": "Go"},
		PageID: "p1",
		Events: []domain.ElementEvent{{ID: "ev1", EventType: domain.EventClick}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, "temp-123", saved.ID)
	assert.NotEmpty(t, saved.ID)

	kept, err := store.CreateElement(ctx, &domain.Element{ID: "fixed", Tag: domain.TagText, PageID: "p1", ParentID: domain.NullableID(saved.ID)})
	require.NoError(t, err)
	assert.Equal(t, "fixed", kept.ID)

	got, err := store.GetElement(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Props["label"])
	require.Len(t, got.Events, 1)
	assert.Equal(t, domain.EventClick, got.Events[0].EventType)

	child, err := store.GetElement(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, domain.NullableID(saved.ID), child.ParentID)
	assert.Equal(t, domain.Props{}, child.Props)
}

func TestElementStore_UpdateAndDeleteSubtree(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := storage.NewElementStore(db)

	for _, e := range []domain.Element{
		{ID: "root", Tag: domain.TagBody, PageID: "p1"},
		{ID: "panel", Tag: domain.TagPanel, PageID: "p1", ParentID: "root"},
		{ID: "txt", Tag: domain.TagText, PageID: "p1", ParentID: "panel"},
		{ID: "other", Tag: domain.TagText, PageID: "p1", ParentID: "root", OrderNum: 2},
	} {
		_, err := store.CreateElement(ctx, &e)
		require.NoError(t, err)
	}

	updated, err := store.UpdateElementProps(ctx, "txt", domain.Props{"children": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", updated.Props["children"])

	moved := &domain.Element{Tag: domain.TagText, PageID: "p1", ParentID: "root", OrderNum: 3, Props: domain.Props{"children": "hi"}}
	updated, err = store.UpdateElement(ctx, "txt", moved)
	require.NoError(t, err)
	assert.Equal(t, domain.NullableID("root"), updated.ParentID)
	assert.Equal(t, 3, updated.OrderNum)

	_, err = store.UpdateElementProps(ctx, "nope", domain.Props{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// txt was moved out, so deleting panel keeps it
	require.NoError(t, store.DeleteElement(ctx, "panel"))
	list, err := store.GetElementsByPageID(ctx, "p1")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{"root", "txt", "other"}, ids)

	require.NoError(t, store.DeleteElement(ctx, "root"))
	list, err = store.GetElementsByPageID(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestElementStore_ReplaceScopeAndFingerprint(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := storage.NewElementStore(db)
	scope := domain.PageScope("p1")

	before, err := store.Fingerprint(ctx, scope)
	require.NoError(t, err)

	require.NoError(t, store.ReplaceScopeElements(ctx, scope, []domain.Element{
		{ID: "b", Tag: domain.TagBody},
		{ID: "t", Tag: domain.TagText, ParentID: "b", Props: domain.Props{"children": "x"}},
	}))
	list, err := store.GetElementsByScope(ctx, scope)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, e := range list {
		assert.Equal(t, domain.NullableID("p1"), e.PageID)
	}

	after, err := store.Fingerprint(ctx, scope)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	same, err := store.Fingerprint(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, after, same)

	_, err = store.UpdateElementProps(ctx, "t", domain.Props{"children": "longer text"})
	require.NoError(t, err)
	changed, err := store.Fingerprint(ctx, scope)
	require.NoError(t, err)
	assert.NotEqual(t, after, changed)

	require.NoError(t, store.ReplaceScopeElements(ctx, scope, []domain.Element{{ID: "b", Tag: domain.TagBody}}))
	list, err = store.GetElementsByScope(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSnapshotStore_PushLatestPrune(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	snaps := storage.NewSnapshotStore(db)
	scope := domain.PageScope("p1")

	latest, err := snaps.Latest(ctx, scope)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i := 0; i < storage.MaxSnapshots+5; i++ {
		_, err := snaps.Push(ctx, scope, "edit", []domain.Element{{ID: "b", Tag: domain.TagBody, OrderNum: i}})
		require.NoError(t, err)
	}
	n, err := snaps.Count(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, storage.MaxSnapshots, n)

	latest, err = snaps.Latest(ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Len(t, latest.Elements, 1)
	assert.Equal(t, storage.MaxSnapshots+4, latest.Elements[0].OrderNum)

	require.NoError(t, snaps.Clear(ctx, scope))
	n, err = snaps.Count(ctx, scope)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBindingAndConnectionStores(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	bindings := storage.NewBindingStore(db)
	conns := storage.NewDataConnectionStore(db)

	b := &domain.DataBinding{
		ElementID:    "list1",
		SourceType:   "static",
		SourceConfig: map[string]any{"items": []any{map[string]any{"id": "1"}}},
		RefreshCron:  "@every 1m",
		TTLSeconds:   30,
	}
	require.NoError(t, bindings.CreateBinding(ctx, b))
	got, err := bindings.GetBinding(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "static", got.SourceType)
	assert.Len(t, got.SourceConfig["items"], 1)

	b.TTLSeconds = 60
	require.NoError(t, bindings.UpdateBinding(ctx, b))
	byEl, err := bindings.ListBindingsByElement(ctx, "list1")
	require.NoError(t, err)
	require.Len(t, byEl, 1)
	assert.Equal(t, 60, byEl[0].TTLSeconds)

	require.NoError(t, bindings.DeleteBinding(ctx, b.ID))
	_, err = bindings.GetBinding(ctx, b.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	c := &domain.DataConnection{Name: "analytics", Driver: domain.DatabaseDriverPostgres, Host: "localhost", Port: 5432, Database: "app"}
	require.NoError(t, conns.CreateConnection(ctx, c))
	gotConn, err := conns.GetConnection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DatabaseDriverPostgres, gotConn.Driver)
	assert.Equal(t, "{}", gotConn.ExtraJSON)

	all, err := conns.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	require.NoError(t, conns.DeleteConnection(ctx, c.ID))
	_, err = conns.GetConnection(ctx, c.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApprovalStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	approvals := storage.NewApprovalStore(openDB(t))

	a := &storage.Approval{ID: "a1", Tool: "delete_element", Description: "Delete Button b1"}
	require.NoError(t, approvals.Create(ctx, a))
	require.NoError(t, approvals.Create(ctx, &storage.Approval{ID: "a2", Tool: "delete_element"}))

	pending, err := approvals.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "{}", pending[0].Metadata)

	require.NoError(t, approvals.Resolve(ctx, "a1", true))
	status, err := approvals.Status(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, storage.ApprovalApproved, status)

	// only pending approvals can be resolved
	assert.ErrorIs(t, approvals.Resolve(ctx, "a1", false), storage.ErrNotFound)

	require.NoError(t, approvals.Delete(ctx, "a1"))
	_, err = approvals.Status(ctx, "a1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pending, err = approvals.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].ID)
}
