package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mark3labs/mcp-go/server"

	"pagebuilder/internal/apierr"
	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
	"pagebuilder/internal/messaging"
	"pagebuilder/internal/service"
	"pagebuilder/internal/storage"
)

const maxBodyBytes = 4 << 20

// scopePath matches the element-owning resources: pages and layouts.
const scopePath = "/{kind:pages|layouts}/{id}"

func (a *App) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// ── Pages and layouts ──────────────────────────────────
	api.HandleFunc("/pages", a.handleListPages).Methods("GET")
	api.HandleFunc("/pages", a.handleCreatePage).Methods("POST")
	api.HandleFunc("/pages/{id}", a.handleGetPage).Methods("GET")
	api.HandleFunc("/pages/{id}", a.handleUpdatePage).Methods("PUT")
	api.HandleFunc("/pages/{id}", a.handleDeletePage).Methods("DELETE")
	api.HandleFunc("/layouts", a.handleListLayouts).Methods("GET")
	api.HandleFunc("/layouts", a.handleCreateLayout).Methods("POST")
	api.HandleFunc("/layouts/{id}", a.handleGetLayout).Methods("GET")
	api.HandleFunc("/layouts/{id}", a.handleDeleteLayout).Methods("DELETE")

	// ── Elements ───────────────────────────────────────────
	api.HandleFunc(scopePath+"/elements", a.handleListElements).Methods("GET")
	api.HandleFunc(scopePath+"/elements", a.handleAddElement).Methods("POST")
	api.HandleFunc(scopePath+"/components", a.handleAddComponent).Methods("POST")
	api.HandleFunc(scopePath+"/tree", a.handleTree).Methods("GET")
	api.HandleFunc(scopePath+"/validate", a.handleValidate).Methods("GET")
	api.HandleFunc(scopePath+"/undo", a.handleUndo).Methods("POST")
	api.HandleFunc(scopePath+"/redo", a.handleRedo).Methods("POST")
	api.HandleFunc(scopePath+"/restore", a.handleRestore).Methods("POST")
	api.HandleFunc("/elements/{id}", a.handleUpdateElement).Methods("PATCH")
	api.HandleFunc("/elements/{id}", a.handleDeleteElement).Methods("DELETE")
	api.HandleFunc("/elements/{id}/move", a.handleMoveElement).Methods("POST")
	api.HandleFunc("/elements/{id}/events", a.handleSetEvents).Methods("PUT")

	// ── Data ───────────────────────────────────────────────
	api.HandleFunc("/connections", a.handleListConnections).Methods("GET")
	api.HandleFunc("/connections", a.handleCreateConnection).Methods("POST")
	api.HandleFunc("/connections/{id}", a.handleUpdateConnection).Methods("PUT")
	api.HandleFunc("/connections/{id}", a.handleDeleteConnection).Methods("DELETE")
	api.HandleFunc("/connections/{id}/test", a.handleTestConnection).Methods("POST")
	api.HandleFunc("/connections/{id}/query", a.handleQueryConnection).Methods("POST")
	api.HandleFunc("/sources", a.handleListSources).Methods("GET")
	api.HandleFunc("/bindings", a.handleListBindings).Methods("GET")
	api.HandleFunc("/bindings", a.handleCreateBinding).Methods("POST")
	api.HandleFunc("/bindings/{id}", a.handleGetBinding).Methods("GET")
	api.HandleFunc("/bindings/{id}", a.handleUpdateBinding).Methods("PUT")
	api.HandleFunc("/bindings/{id}", a.handleDeleteBinding).Methods("DELETE")
	api.HandleFunc("/collections/{id}", a.handleGetCollection).Methods("GET")
	api.HandleFunc("/collections/{id}/refresh", a.handleRefreshCollection).Methods("POST")
	api.HandleFunc("/cache", a.handleCacheStats).Methods("GET")

	// ── MCP approvals ──────────────────────────────────────
	api.HandleFunc("/approvals", a.handleListApprovals).Methods("GET")
	api.HandleFunc("/approvals/{id}/{decision:approve|reject}", a.handleResolveApproval).Methods("POST")

	r.HandleFunc("/ws/{role:builder|preview}"+scopePath, a.handleSocket).Methods("GET")
	r.Handle("/mcp", server.NewStreamableHTTPServer(a.mcp.MCPServer()))
	return r
}

// corsMiddleware answers preflight requests for the allowed origins.
func corsMiddleware(policy messaging.OriginPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && policy.Allows(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Mcp-Session-Id")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	sessions := len(a.sessions)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"sessions":  sessions,
		"scopes":    len(a.elements.OpenScopes()),
		"scheduled": a.bindings.Scheduled(),
		"jobs":      append(a.elements.Persisting(), a.bindings.Refreshing()...),
	})
}

// ── Helpers ────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

// errorStatus maps service errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, editor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrProtectedElement), errors.Is(err, service.ErrRefreshRunning),
		errors.Is(err, editor.ErrDuplicateID), errors.Is(err, editor.ErrCycle):
		return http.StatusConflict
	case errors.Is(err, editor.ErrUnknownParent), errors.Is(err, editor.ErrInvalidTree), errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		switch ae.Type {
		case apierr.Validation:
			return http.StatusBadRequest
		case apierr.NotFound:
			return http.StatusNotFound
		case apierr.Authentication:
			return http.StatusUnauthorized
		case apierr.Authorization:
			return http.StatusForbidden
		case apierr.RateLimit:
			return http.StatusTooManyRequests
		case apierr.Network:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

// writeError replies with the classified error. 5xx responses are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
	}
	ae := apierr.Classify(err, r.Method+" "+r.URL.Path)
	writeJSON(w, status, map[string]any{
		"error":   err.Error(),
		"type":    ae.Type,
		"message": apierr.UserMessage(ae),
	})
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// scopeOf reads the {kind}/{id} route variables.
func scopeOf(r *http.Request) domain.Scope {
	vars := mux.Vars(r)
	if vars["kind"] == "layouts" {
		return domain.LayoutScope(vars["id"])
	}
	return domain.PageScope(vars["id"])
}
