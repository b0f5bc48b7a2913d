package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/factory"
)

// ============================================================
// Elements
// ============================================================

// componentInput is the body of POST .../components.
type componentInput struct {
	Tag      string `json:"tag"`
	ParentID string `json:"parentId"`
}

// propsInput is the body of PATCH /api/elements/{id}.
type propsInput struct {
	Props   domain.Props `json:"props"`
	Replace bool         `json:"replace"`
}

// moveInput is the body of POST /api/elements/{id}/move.
type moveInput struct {
	ParentID string `json:"parentId"`
	Index    int    `json:"index"`
}

// historyResult reports an undo, redo or restore.
type historyResult struct {
	Applied bool `json:"applied"`
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
}

func (a *App) handleListElements(w http.ResponseWriter, r *http.Request) {
	list, err := a.elements.Elements(r.Context(), scopeOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		filtered := list[:0:0]
		for _, e := range list {
			if string(e.Tag) == tag {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []domain.Element{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := a.elements.Tree(r.Context(), scopeOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (a *App) handleValidate(w http.ResponseWriter, r *http.Request) {
	v, err := a.elements.Validate(r.Context(), scopeOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) handleAddElement(w http.ResponseWriter, r *http.Request) {
	var e domain.Element
	if err := decode(r, &e); err != nil {
		writeError(w, r, err)
		return
	}
	index := -1
	if v := r.URL.Query().Get("index"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: index %q", errBadRequest, v))
			return
		}
		index = n
	}
	scope := scopeOf(r)
	added, err := a.elements.InsertElement(r.Context(), scope, e, index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.settle(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.resolved(scope, added))
}

// handleAddComponent builds a component from its definition, children
// included, and replies with the saved ids.
func (a *App) handleAddComponent(w http.ResponseWriter, r *http.Request) {
	var input componentInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if input.Tag == "" {
		writeError(w, r, fmt.Errorf("%w: tag is required", errBadRequest))
		return
	}
	scope := scopeOf(r)
	res, err := a.elements.AddComponent(r.Context(), scope, domain.Tag(input.Tag), input.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.settle(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}

	out := factory.Result{Parent: a.resolved(scope, res.Parent)}
	for _, e := range res.Children {
		out.Children = append(out.Children, a.resolved(scope, e))
	}
	for _, e := range res.AllElements {
		out.AllElements = append(out.AllElements, a.resolved(scope, e))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *App) handleUpdateElement(w http.ResponseWriter, r *http.Request) {
	var input propsInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	id, scope, err := a.locate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := a.elements.UpdateProps(r.Context(), scope, id, input.Props, !input.Replace)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *App) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	id, scope, err := a.locate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := a.elements.RemoveElement(r.Context(), scope, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]string, len(removed))
	for i, e := range removed {
		ids[i] = e.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": ids})
}

func (a *App) handleMoveElement(w http.ResponseWriter, r *http.Request) {
	var input moveInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	id, scope, err := a.locate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.elements.MoveElement(r.Context(), scope, id, input.ParentID, input.Index); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSetEvents(w http.ResponseWriter, r *http.Request) {
	var events []domain.ElementEvent
	if err := decode(r, &events); err != nil {
		writeError(w, r, err)
		return
	}
	id, scope, err := a.locate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.elements.SetEvents(r.Context(), scope, id, events); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── History ────────────────────────────────────────────────

func (a *App) handleUndo(w http.ResponseWriter, r *http.Request) {
	a.step(w, r, a.elements.Undo)
}

func (a *App) handleRedo(w http.ResponseWriter, r *http.Request) {
	a.step(w, r, a.elements.Redo)
}

// handleRestore brings back the latest save point after a crash.
func (a *App) handleRestore(w http.ResponseWriter, r *http.Request) {
	a.step(w, r, a.elements.Restore)
}

func (a *App) step(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Scope) (bool, error)) {
	scope := scopeOf(r)
	applied, err := fn(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	store, err := a.elements.Open(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResult{Applied: applied, CanUndo: store.CanUndo(), CanRedo: store.CanRedo()})
}

// ── Helpers ────────────────────────────────────────────────

// locate resolves the {id} route variable to an element and its scope.
func (a *App) locate(r *http.Request) (string, domain.Scope, error) {
	id := mux.Vars(r)["id"]
	scope, err := a.elements.Locate(r.Context(), id)
	if err != nil {
		return "", domain.Scope{}, fmt.Errorf("element %s: %w", id, err)
	}
	return id, scope, nil
}

// settle waits for pending writes so replies carry persisted ids.
func (a *App) settle(ctx context.Context) error {
	if err := a.elements.Flush(ctx); err != nil {
		return err
	}
	if err := a.elements.Errors().LastError(); err != nil {
		a.elements.Errors().Dismiss()
		return err
	}
	return nil
}

func (a *App) resolved(scope domain.Scope, e domain.Element) domain.Element {
	e.ID = a.elements.ResolveID(scope, e.ID)
	if e.ParentID != "" {
		e.ParentID = domain.NullableID(a.elements.ResolveID(scope, string(e.ParentID)))
	}
	return e
}
