package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/service"
)

const defaultQueryLimit = 100

// ============================================================
// Data connections
// ============================================================

func (a *App) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := a.conns.ListConnections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if conns == nil {
		conns = []domain.DataConnection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (a *App) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var input service.ConnectionInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := a.conns.CreateConnection(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (a *App) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var input service.ConnectionInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.conns.UpdateConnection(r.Context(), mux.Vars(r)["id"], input); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := a.conns.DeleteConnection(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if err := a.conns.TestConnection(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleQueryConnection(w http.ResponseWriter, r *http.Request) {
	var input QueryInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if input.Limit <= 0 {
		input.Limit = defaultQueryLimit
	}
	start := time.Now()
	rows, err := a.conns.Query(r.Context(), mux.Vars(r)["id"], input.Query, input.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResultView{
		Columns:    rows.Columns,
		Rows:       rows.Rows,
		TotalRows:  len(rows.Rows),
		HasMore:    rows.Truncated,
		DurationMs: int(time.Since(start).Milliseconds()),
		Query:      input.Query,
	})
}

// ============================================================
// Bindings and collections
// ============================================================

func (a *App) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.bindings.ListSources())
}

// handleListBindings lists every binding, or those of ?elementId=.
func (a *App) handleListBindings(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.DataBinding
		err  error
	)
	if el := r.URL.Query().Get("elementId"); el != "" {
		list, err = a.bindings.ListBindingsByElement(r.Context(), el)
	} else {
		list, err = a.bindings.ListBindings(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.DataBinding{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var input service.BindingInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := a.bindings.CreateBinding(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *App) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	b, err := a.bindings.GetBinding(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *App) handleUpdateBinding(w http.ResponseWriter, r *http.Request) {
	var input service.BindingInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.bindings.UpdateBinding(r.Context(), mux.Vars(r)["id"], input); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	if err := a.bindings.DeleteBinding(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetCollection serves a binding's items, from cache while fresh.
func (a *App) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	data, err := a.bindings.Resolve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *App) handleRefreshCollection(w http.ResponseWriter, r *http.Request) {
	data, err := a.bindings.Refresh(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *App) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.bindings.CacheStats())
}
