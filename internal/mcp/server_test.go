package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/apierr"
	"pagebuilder/internal/cache"
	"pagebuilder/internal/datasource"
	"pagebuilder/internal/domain"
	"pagebuilder/internal/factory"
	"pagebuilder/internal/service"
	"pagebuilder/internal/storage"
)

// approver answers in-process approval requests as soon as they are emitted.
type approver struct {
	mu      sync.Mutex
	srv     *Server
	approve bool
	events  []string
}

func (a *approver) Emit(_ context.Context, event string, data any) {
	a.mu.Lock()
	a.events = append(a.events, event)
	srv, approve := a.srv, a.approve
	a.mu.Unlock()
	if event != EventApprovalRequired || srv == nil {
		return
	}
	id := data.(PendingAction).ID
	go func() {
		if approve {
			srv.approval.Approve(id)
		} else {
			srv.approval.Reject(id)
		}
	}()
}

func (a *approver) seen(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	srv       *Server
	em        *approver
	db        *storage.DB
	approvals *storage.ApprovalStore
}

func newTestServer(t *testing.T, stored bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "pb.db"), dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	em := &approver{approve: true}
	elements := service.NewElementService(storage.NewElementStore(db), storage.NewSnapshotStore(db), nil, em, service.ElementServiceOptions{
		Retry: apierr.RetryOptions{MaxRetries: 1, Delay: time.Millisecond},
	})
	bindings := service.NewBindingService(storage.NewBindingStore(db), datasource.NewRegistry(dir), cache.New(cache.Options{}), em)
	t.Cleanup(bindings.Stop)

	env := &testEnv{em: em, db: db, approvals: storage.NewApprovalStore(db)}
	deps := Deps{
		Emitter:  em,
		Pages:    service.NewPageService(storage.NewPageStore(db), elements, em),
		Elements: elements,
		Bindings: bindings,
	}
	if stored {
		deps.Approvals = env.approvals
	}
	env.srv = New(deps)
	em.mu.Lock()
	em.srv = env.srv
	em.mu.Unlock()
	return env
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) string {
	t.Helper()
	res, err := h(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res.Content[0].(mcp.TextContent).Text
}

func decode[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(text), &v))
	return v
}

func createPage(t *testing.T, env *testEnv) domain.Page {
	t.Helper()
	return decode[domain.Page](t, call(t, env.srv.handleCreatePage, map[string]any{"title": "Landing"}))
}

func TestServer_ToolsRequireActivePage(t *testing.T) {
	env := newTestServer(t, false)
	_, err := env.srv.handleListElements(context.Background(), mcp.CallToolRequest{})
	assert.ErrorContains(t, err, "no active page")

	_, err = env.srv.handleSetActivePage(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]any{"pageId": "missing"}},
	})
	assert.Error(t, err)
}

func TestServer_AddComponentReturnsPersistedIDs(t *testing.T) {
	env := newTestServer(t, false)
	page := createPage(t, env)
	assert.Equal(t, page.ID, env.srv.ActivePage())

	out := decode[struct {
		ID       string           `json:"id"`
		Elements []elementSummary `json:"elements"`
	}](t, call(t, env.srv.handleAddComponent, map[string]any{"tag": "Form"}))

	require.NotEmpty(t, out.Elements)
	assert.False(t, strings.HasPrefix(out.ID, factory.TempIDPrefix))
	for _, e := range out.Elements {
		assert.False(t, strings.HasPrefix(e.ID, factory.TempIDPrefix), e.ID)
		assert.False(t, strings.HasPrefix(e.ParentID, factory.TempIDPrefix), e.ParentID)
	}

	// the rows are in storage, not only in the open store
	stored, err := storage.NewElementStore(env.db).GetElementsByPageID(context.Background(), page.ID)
	require.NoError(t, err)
	assert.Len(t, stored, len(out.Elements)+1) // plus body

	forms := decode[[]elementSummary](t, call(t, env.srv.handleListElements, map[string]any{"tag": "Form"}))
	require.Len(t, forms, 1)
	assert.Equal(t, out.ID, forms[0].ID)

	tree := decode[[]treeNode](t, call(t, env.srv.handleGetElementTree, nil))
	require.Len(t, tree, 1)
	assert.Equal(t, string(domain.TagBody), tree[0].Tag)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, out.ID, tree[0].Children[0].ID)
}

func TestServer_UpdateMoveUndo(t *testing.T) {
	env := newTestServer(t, false)
	createPage(t, env)

	a := decode[domain.Element](t, call(t, env.srv.handleAddElement, map[string]any{"tag": "Text", "props": `{"children":"first"}`}))
	b := decode[domain.Element](t, call(t, env.srv.handleAddElement, map[string]any{"tag": "div"}))

	updated := decode[domain.Element](t, call(t, env.srv.handleUpdateElementProps, map[string]any{
		"elementId": a.ID,
		"props":     map[string]any{"className": "lead"},
	}))
	assert.Equal(t, "first", updated.Props["children"])
	assert.Equal(t, "lead", updated.Props["className"])

	call(t, env.srv.handleMoveElement, map[string]any{"elementId": a.ID, "parentId": b.ID})
	list := decode[[]elementSummary](t, call(t, env.srv.handleListElements, map[string]any{"tag": "Text"}))
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ParentID)

	assert.Contains(t, call(t, env.srv.handleUndo, nil), "Applied undo")
	list = decode[[]elementSummary](t, call(t, env.srv.handleListElements, map[string]any{"tag": "Text"}))
	assert.NotEqual(t, b.ID, list[0].ParentID)

	v := decode[map[string]any](t, call(t, env.srv.handleValidateHierarchy, nil))
	assert.Equal(t, true, v["isValid"])
}

func TestServer_DeleteElementNeedsApproval(t *testing.T) {
	env := newTestServer(t, false)
	createPage(t, env)
	card := decode[map[string]any](t, call(t, env.srv.handleAddComponent, map[string]any{"tag": "Card"}))
	id := card["id"].(string)

	env.em.mu.Lock()
	env.em.approve = false
	env.em.mu.Unlock()
	_, err := env.srv.handleDeleteElement(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]any{"elementId": id}},
	})
	assert.ErrorContains(t, err, "rejected")
	assert.Len(t, decode[[]elementSummary](t, call(t, env.srv.handleListElements, map[string]any{"tag": "Card"})), 1)

	env.em.mu.Lock()
	env.em.approve = true
	env.em.mu.Unlock()
	assert.Contains(t, call(t, env.srv.handleDeleteElement, map[string]any{"elementId": id}), "Deleted")
	assert.Empty(t, decode[[]elementSummary](t, call(t, env.srv.handleListElements, map[string]any{"tag": "Card"})))
	assert.True(t, env.em.seen(EventElementsChanged))
}

func TestApprovalQueue_TimesOut(t *testing.T) {
	em := &approver{}
	q := NewApprovalQueue(em, nil)
	q.SetTimeout(20 * time.Millisecond)

	err := q.Request(context.Background(), "delete_element", "Delete x", "")
	assert.ErrorContains(t, err, "timed out")
	assert.True(t, em.seen(EventApprovalDismissed))
	assert.Empty(t, q.Pending())
}

func TestApprovalQueue_Stored(t *testing.T) {
	env := newTestServer(t, true)
	ctx := context.Background()

	go func() {
		for i := 0; i < 100; i++ {
			pending, _ := env.approvals.ListPending(ctx)
			if len(pending) == 1 {
				_ = env.approvals.Resolve(ctx, pending[0].ID, true)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	require.NoError(t, env.srv.Approvals().Request(ctx, "delete_element", "Delete x", `{"elementIds":["x"]}`))

	// resolved rows are removed
	pending, err := env.approvals.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestServer_ExecuteEventDryRun(t *testing.T) {
	env := newTestServer(t, false)
	createPage(t, env)
	btn := decode[domain.Element](t, call(t, env.srv.handleAddElement, map[string]any{"tag": "Button"}))

	events, _ := json.Marshal([]domain.ElementEvent{{
		ID:        "ev1",
		EventType: domain.EventClick,
		Actions: []domain.Action{
			{ID: "a1", Type: domain.ActionUpdateState, Config: map[string]any{"key": "clicked", "value": true}},
			{ID: "a2", Type: domain.ActionAPICall, Config: map[string]any{"endpoint": "https://api.example.com/track", "method": "POST"}},
			{ID: "a3", Type: domain.ActionNavigate, Config: map[string]any{"path": "/thanks"}},
		},
	}})
	call(t, env.srv.handleSetElementEvents, map[string]any{"elementId": btn.ID, "events": string(events)})

	out := decode[dryRun](t, call(t, env.srv.handleExecuteEvent, map[string]any{"elementId": btn.ID}))
	require.Len(t, out.Events, 1)
	assert.True(t, out.Events[0].Success)
	assert.Len(t, out.Events[0].ActionResults, 3)
	assert.Equal(t, "/thanks", out.Location)
	assert.Equal(t, true, out.State["clicked"])
	require.Len(t, out.Requests, 1)
	assert.Equal(t, "POST", out.Requests[0]["method"])

	text := call(t, env.srv.handleExecuteEvent, map[string]any{"elementId": btn.ID, "eventType": "onBlur"})
	assert.Contains(t, text, "no onBlur handlers")
}

func TestServer_BindCollection(t *testing.T) {
	env := newTestServer(t, false)
	createPage(t, env)
	table := decode[map[string]any](t, call(t, env.srv.handleAddComponent, map[string]any{"tag": "Table"}))

	b := decode[domain.DataBinding](t, call(t, env.srv.handleBindCollection, map[string]any{
		"elementId":  table["id"],
		"sourceType": "static",
		"config":     `{"items":[{"name":"a"},{"name":"b"}]}`,
	}))
	assert.Equal(t, table["id"], b.ElementID)

	data := decode[domain.CollectionData](t, call(t, env.srv.handleGetCollection, map[string]any{"bindingId": b.ID}))
	assert.Len(t, data.Items, 2)
	assert.Contains(t, call(t, env.srv.handleRefreshCollection, map[string]any{"bindingId": b.ID}), "2 item(s)")
}

func TestPageIDFromURI(t *testing.T) {
	assert.Equal(t, "abc", pageIDFromURI("pagebuilder://pages/abc"))
	assert.Equal(t, "", pageIDFromURI("pagebuilder://pages/"))
	assert.Equal(t, "", pageIDFromURI("pagebuilder://pages/abc/elements"))
	assert.Equal(t, "", pageIDFromURI("notes://page/abc"))
}

func TestServer_PageResource(t *testing.T) {
	env := newTestServer(t, false)
	page := createPage(t, env)

	var req mcp.ReadResourceRequest
	req.Params.URI = pagePrefixURI + page.ID
	contents, err := env.srv.handlePageResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	state := decode[domain.PageState](t, contents[0].(mcp.TextResourceContents).Text)
	assert.Equal(t, page.ID, state.Page.ID)
	require.Len(t, state.Elements, 1)
	assert.Equal(t, domain.TagBody, state.Elements[0].Tag)
}
