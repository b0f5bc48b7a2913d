package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/service"
)

// ============================================================
// Pages
// ============================================================

func (a *App) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := a.pages.ListPages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pages == nil {
		pages = []domain.Page{}
	}
	writeJSON(w, http.StatusOK, pages)
}

func (a *App) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var input service.PageInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.pages.CreatePage(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleGetPage returns the page with its elements and undo state.
func (a *App) handleGetPage(w http.ResponseWriter, r *http.Request) {
	state, err := a.pages.State(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *App) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var input service.PageInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.pages.UpdatePage(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.pages.DeletePage(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	a.dropSession(domain.PageScope(id))
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================
// Layouts
// ============================================================

func (a *App) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	layouts, err := a.pages.ListLayouts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if layouts == nil {
		layouts = []domain.Layout{}
	}
	writeJSON(w, http.StatusOK, layouts)
}

func (a *App) handleCreateLayout(w http.ResponseWriter, r *http.Request) {
	var input service.LayoutInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.pages.CreateLayout(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (a *App) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	l, err := a.pages.GetLayout(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *App) handleDeleteLayout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.pages.DeleteLayout(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	a.dropSession(domain.LayoutScope(id))
	w.WriteHeader(http.StatusNoContent)
}
