package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/dbclient"
)

func TestRegistry_ListAndGet(t *testing.T) {
	r := NewRegistry(t.TempDir())
	var types []string
	for _, s := range r.ListSources() {
		types = append(types, s.Type)
	}
	assert.Equal(t, []string{"csvfile", "http", "jsonfile", "static"}, types)

	_, err := r.GetSource("database")
	assert.EqualError(t, err, `unknown source type: "database"`)
}

func TestCollect_StaticWithTransforms(t *testing.T) {
	r := NewRegistry("")
	items, err := r.Collect(context.Background(), "static", Config{
		"items": []any{
			map[string]any{"name": "pear", "price": 3.0, "tag": "fruit"},
			map[string]any{"name": "apple", "price": 1.0, "tag": "fruit"},
			map[string]any{"name": "kale", "price": 2.0, "tag": "veg"},
			map[string]any{"name": "fig", "price": 5.0, "tag": "fruit"},
		},
		"transforms": []any{
			map[string]any{"type": "filter", "config": map[string]any{"field": "tag", "op": "eq", "value": "fruit"}},
			map[string]any{"type": "select", "config": map[string]any{"fields": []any{"name", "price"}}},
			map[string]any{"type": "sort", "config": map[string]any{"field": "price", "direction": "desc"}},
			map[string]any{"type": "limit", "config": map[string]any{"count": 2}},
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, Item{"name": "fig", "price": 5.0}, items[0])
	assert.Equal(t, "pear", items[1]["name"])
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := []Item{{"a": 1.0}}
	out := Apply(in, []Transformer{&RenameTransform{Mapping: map[string]string{"a": "b"}}})
	assert.Equal(t, Item{"b": 1.0}, out[0])
	assert.Equal(t, Item{"a": 1.0}, in[0])
}

func TestStatic_ItemsAsJSONString(t *testing.T) {
	items, err := staticSource{}.Fetch(context.Background(), Config{"items": `[{"id":1},"loose"]`})
	require.NoError(t, err)
	assert.Equal(t, []Item{{"id": 1.0}, {"value": "loose"}}, items)

	_, err = staticSource{}.Fetch(context.Background(), Config{"items": 42})
	assert.Error(t, err)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "k1" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"items":[{"id":1},{"id":2}]}}`))
	}))
	defer srv.Close()

	src := &httpSource{client: srv.Client()}
	items, err := src.Fetch(context.Background(), Config{
		"url":      srv.URL,
		"headers":  map[string]any{"X-Key": "k1"},
		"dataPath": "data.items",
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = src.Fetch(context.Background(), Config{"url": srv.URL})
	assert.ErrorContains(t, err, "http 401: no key")

	_, err = src.Fetch(context.Background(), Config{"url": srv.URL, "headers": `{"X-Key":"k1"}`, "dataPath": "data.missing"})
	assert.ErrorContains(t, err, `"missing" not found`)
}

func TestFileSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people.json"), []byte(`{"people":[{"name":"ana"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scores.csv"), []byte("name,score,active\nana, 10,yes\nbo,7.5,no\n"), 0o644))

	r := NewRegistry(dir)
	items, err := r.Collect(context.Background(), "jsonfile", Config{"filePath": "people.json", "dataPath": "people"})
	require.NoError(t, err)
	assert.Equal(t, []Item{{"name": "ana"}}, items)

	items, err = r.Collect(context.Background(), "csvfile", Config{"filePath": filepath.Join(dir, "scores.csv")})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, Item{"name": "ana", "score": 10.0, "active": true}, items[0])
	assert.Equal(t, false, items[1]["active"])

	items, err = r.Collect(context.Background(), "csvfile", Config{"filePath": "scores.csv", "hasHeader": "false"})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, "name", items[0]["col_1"])

	_, err = r.Collect(context.Background(), "jsonfile", Config{})
	assert.ErrorContains(t, err, "filePath is required")
}

type fakeConnector struct{ rows *dbclient.Rows }

func (f *fakeConnector) Ping(context.Context) error { return nil }
func (f *fakeConnector) Query(_ context.Context, _ string, limit int) (*dbclient.Rows, error) {
	return f.rows, nil
}
func (f *fakeConnector) Close() error { return nil }

type fakeConns map[string]dbclient.Connector

func (f fakeConns) Connector(_ context.Context, id string) (dbclient.Connector, error) {
	c, ok := f[id]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}

func TestDatabaseSource(t *testing.T) {
	r := NewRegistry("")
	r.RegisterSource(NewDatabaseSource(fakeConns{"c1": &fakeConnector{rows: &dbclient.Rows{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{int64(1), "a"}, {int64(2), "b"}},
	}}}))

	items, err := r.Collect(context.Background(), "database", Config{"connectionId": "c1", "query": "SELECT id, name FROM t"})
	require.NoError(t, err)
	assert.Equal(t, []Item{{"id": int64(1), "name": "a"}, {"id": int64(2), "name": "b"}}, items)

	_, err = r.Collect(context.Background(), "database", Config{"connectionId": "c1"})
	assert.ErrorContains(t, err, "connectionId and query are required")

	_, err = r.Collect(context.Background(), "database", Config{"connectionId": "nope", "query": "SELECT 1"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestInferSchema(t *testing.T) {
	s := InferSchema([]Item{{"a": nil, "b": true}, {"a": 2.0, "c": "x"}})
	assert.Equal(t, []Field{{Name: "a", Type: "number"}, {Name: "b", Type: "boolean"}, {Name: "c", Type: "text"}}, s.Fields)
}
