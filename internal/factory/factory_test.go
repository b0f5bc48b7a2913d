package factory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
	"pagebuilder/internal/factory"
	"pagebuilder/internal/hierarchy"
)

// recordingStore assigns sequential ids and records the order of saves.
type recordingStore struct {
	mu     sync.Mutex
	saved  []domain.Element
	failOn domain.Tag
}

func (r *recordingStore) CreateElement(_ context.Context, e *domain.Element) (*domain.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && e.Tag == r.failOn {
		return nil, errors.New("backend down")
	}
	out := *e
	out.ID = fmt.Sprintf("srv-%d", len(r.saved)+1)
	r.saved = append(r.saved, out)
	return &out, nil
}

func body() domain.Element {
	return domain.Element{ID: "body", Tag: domain.TagBody, PageID: "p1", OrderNum: 1, Props: domain.Props{}}
}

func newStore(elements ...domain.Element) *editor.Store {
	s := editor.New(nil)
	s.OpenScope(domain.PageScope("p1"), elements)
	return s
}

func TestCreateComplexComponent_UnknownTag(t *testing.T) {
	f := factory.New(newStore())
	_, err := f.CreateComplexComponent(context.Background(), "Nope", nil, domain.PageScope("p1"), nil)
	require.Error(t, err)
	assert.Equal(t, "No creator found for component type: Nope", err.Error())
}

func TestCreateComplexComponent_TextFieldUnderBody(t *testing.T) {
	store := newStore(body())
	f := factory.New(store)

	res, err := f.CreateComplexComponent(context.Background(), "TextField", nil, domain.PageScope("p1"), store.Elements())
	require.NoError(t, err)

	assert.Equal(t, "body", res.Parent.ParentID.String())
	assert.Equal(t, 1, res.Parent.OrderNum)
	assert.True(t, strings.HasPrefix(res.Parent.ID, factory.TempIDPrefix))

	var tags []domain.Tag
	for _, c := range res.Children {
		tags = append(tags, c.Tag)
		assert.Equal(t, res.Parent.ID, c.ParentID.String())
		assert.Equal(t, "p1", c.PageID.String())
	}
	assert.Equal(t, []domain.Tag{"Label", "Input", "Description", "FieldError"}, tags)
	assert.Len(t, res.AllElements, 5)

	// The whole bundle is one history entry.
	assert.Len(t, store.Elements(), 6)
	require.True(t, store.Undo())
	assert.Len(t, store.Elements(), 1)
}

func TestCreateComplexComponent_TabsPairByTabID(t *testing.T) {
	store := newStore(body())
	res, err := factory.New(store).CreateComplexComponent(context.Background(), domain.TagTabs, nil, domain.PageScope("p1"), store.Elements())
	require.NoError(t, err)

	paired := hierarchy.GetSpecialComponentChildren(res.Parent.ID, store.Elements(), domain.TagTabs)
	require.Len(t, paired, 4)
	for i := 0; i < 4; i += 2 {
		assert.Equal(t, domain.TagTab, paired[i].Tag)
		assert.Equal(t, domain.TagPanel, paired[i+1].Tag)
		assert.Equal(t, paired[i].Props.String("tabId"), paired[i+1].Props.String("tabId"))
	}
}

func TestCreateComplexComponent_LayoutScope(t *testing.T) {
	store := editor.New(nil)
	store.OpenScope(domain.LayoutScope("l1"), nil)
	res, err := factory.New(store).CreateComplexComponent(context.Background(), domain.TagSlot, nil, domain.LayoutScope("l1"), nil)
	require.NoError(t, err)
	assert.True(t, res.Parent.IsRoot())
	assert.Equal(t, "l1", res.Parent.LayoutID.String())
	assert.Empty(t, res.Parent.PageID)
}

func TestEveryDefinitionBuildsAValidTree(t *testing.T) {
	for _, tag := range factory.Tags() {
		t.Run(string(tag), func(t *testing.T) {
			store := newStore(body())
			res, err := factory.New(store).CreateComplexComponent(context.Background(), tag, nil, domain.PageScope("p1"), store.Elements())
			require.NoError(t, err)
			assert.Equal(t, tag, res.Parent.Tag)
			v := hierarchy.ValidateHierarchy(store.Elements())
			assert.True(t, v.IsValid)
			assert.Empty(t, v.Warnings)
		})
	}
}

func TestLevels_Table(t *testing.T) {
	store := newStore(body())
	res, err := factory.New(store).CreateComplexComponent(context.Background(), domain.TagTable, nil, domain.PageScope("p1"), store.Elements())
	require.NoError(t, err)

	levels, err := factory.Levels(res.AllElements)
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Equal(t, domain.TagTable, levels[0][0].Tag)
	for _, e := range levels[1] {
		assert.Contains(t, []domain.Tag{"TableHeader", "TableBody"}, e.Tag)
	}
	for _, e := range levels[2] {
		assert.Contains(t, []domain.Tag{"Column", "Row"}, e.Tag)
	}
	for _, e := range levels[3] {
		assert.Equal(t, domain.Tag("Cell"), e.Tag)
	}
}

func TestLevels_Cycle(t *testing.T) {
	_, err := factory.Levels([]domain.Element{
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	})
	assert.Error(t, err)
}

func TestBatchSaver_ParentsBeforeChildren(t *testing.T) {
	store := newStore(body())
	res, err := factory.New(store).CreateComplexComponent(context.Background(), domain.TagTable, nil, domain.PageScope("p1"), store.Elements())
	require.NoError(t, err)

	backend := &recordingStore{}
	ids, err := factory.NewBatchSaver(backend, store).Save(context.Background(), res.AllElements)
	require.NoError(t, err)
	assert.Len(t, ids, len(res.AllElements))

	saved := map[string]bool{"body": true}
	for _, e := range backend.saved {
		assert.True(t, saved[e.ParentID.String()], "%s saved before its parent %s", e.ID, e.ParentID)
		saved[e.ID] = true
	}

	// The store now only holds persisted ids.
	for _, e := range store.Elements() {
		assert.False(t, strings.HasPrefix(e.ID, factory.TempIDPrefix), e.ID)
	}
	assert.Empty(t, hierarchy.ValidateHierarchy(store.Elements()).Warnings)
}

func TestBatchSaver_PartialMapOnError(t *testing.T) {
	store := newStore(body())
	res, err := factory.New(store).CreateComplexComponent(context.Background(), "TextField", nil, domain.PageScope("p1"), store.Elements())
	require.NoError(t, err)

	backend := &recordingStore{failOn: "Description"}
	ids, err := factory.NewBatchSaver(backend, store).Save(context.Background(), res.AllElements)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Len(t, ids, 3) // TextField, Label, Input

	// Optimistic state is kept.
	assert.Len(t, store.Elements(), 6)
}

func TestBatchSaver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ids, err := factory.NewBatchSaver(&recordingStore{}, nil).Save(ctx, []domain.Element{{ID: "a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ids)
}
