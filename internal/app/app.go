package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"pagebuilder/internal/apierr"
	"pagebuilder/internal/cache"
	"pagebuilder/internal/config"
	"pagebuilder/internal/datasource"
	"pagebuilder/internal/domain"
	"pagebuilder/internal/engine"
	"pagebuilder/internal/hierarchy"
	mcpserver "pagebuilder/internal/mcp"
	"pagebuilder/internal/messaging"
	"pagebuilder/internal/secret"
	"pagebuilder/internal/service"
	"pagebuilder/internal/storage"
	"pagebuilder/internal/theme"
)

const shutdownTimeout = 5 * time.Second

// services is the storage and service graph shared by the HTTP server and
// the standalone MCP process.
type services struct {
	elementStore *storage.ElementStore
	approvals    *storage.ApprovalStore

	elements *service.ElementService
	pages    *service.PageService
	bindings *service.BindingService
	conns    *service.ConnectionService
}

func newServices(db *storage.DB, cfg *config.Config, emitter service.EventEmitter) services {
	elementStore := storage.NewElementStore(db)
	conns := service.NewConnectionService(storage.NewDataConnectionStore(db), secret.Default())

	sources := datasource.NewRegistry(db.DataDir())
	sources.RegisterSource(datasource.NewDatabaseSource(conns))
	collections := cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: cfg.Cache.TTL.Duration,
	})
	bindings := service.NewBindingService(storage.NewBindingStore(db), sources, collections, emitter)

	// Removing a collection element drops its bindings.
	hooks := service.NewComponentHooks()
	for _, h := range bindings.Hooks() {
		hooks.Register(h)
	}

	elements := service.NewElementService(elementStore, storage.NewSnapshotStore(db), hooks, emitter, service.ElementServiceOptions{
		HistoryLimit: cfg.HistoryLimit,
		Retry: apierr.RetryOptions{
			MaxRetries: cfg.Sync.RetryCount,
			Delay:      cfg.Sync.RetryDelay.Duration,
		},
	})

	return services{
		elementStore: elementStore,
		approvals:    storage.NewApprovalStore(db),
		elements:     elements,
		pages:        service.NewPageService(storage.NewPageStore(db), elements, emitter),
		bindings:     bindings,
		conns:        conns,
	}
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		ActionTimeout: cfg.Engine.ActionTimeout.Duration,
		EventTimeout:  cfg.Engine.EventTimeout.Duration,
	}
}

// App is the page builder server: a REST API over pages and elements,
// websocket sessions for builder UIs and previews, and an MCP endpoint.
type App struct {
	services

	cfg    *config.Config
	db     *storage.DB
	mcp    *mcpserver.Server
	policy messaging.OriginPolicy

	router  *mux.Router
	server  *http.Server
	watcher *pageWatcher
	theme   *theme.Watcher

	mu       sync.Mutex
	sessions map[string]*pageSession
}

// New opens the database and wires every service. Nothing runs until Run.
func New(cfg *config.Config) (*App, error) {
	db, err := storage.New(cfg.DBPath, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &App{
		cfg:      cfg,
		db:       db,
		policy:   messaging.OriginPolicy{Allowed: cfg.AllowedOrigins},
		sessions: make(map[string]*pageSession),
	}
	a.services = newServices(db, cfg, a)
	a.mcp = mcpserver.New(mcpserver.Deps{
		Emitter:  a,
		Pages:    a.pages,
		Elements: a.elements,
		Bindings: a.bindings,
		Engine:   engineOptions(cfg),
	})
	a.router = a.routes()
	a.watcher = newPageWatcher(a, cfg.Sync.WatchEvery.Duration)
	return a, nil
}

// Handler returns the HTTP handler serving the API, websockets and MCP.
func (a *App) Handler() http.Handler { return corsMiddleware(a.policy, a.router) }

// Run starts background refreshes, the page and theme watchers, and serves
// HTTP on cfg.Addr until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.bindings.Start(ctx)
	a.watcher.Start(ctx)
	if a.cfg.ThemeFile != "" {
		w, err := theme.Watch(a.cfg.ThemeFile, theme.DefaultDebounce, a.pushTheme)
		if err != nil {
			log.Printf("[app] theme watcher disabled: %v", err)
		} else {
			a.mu.Lock()
			a.theme = w
			a.mu.Unlock()
		}
	}

	a.server = &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[app] listening on %s", a.cfg.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops serving, waits for pending writes and running refreshes,
// and closes every resource.
func (a *App) Shutdown(ctx context.Context) {
	if a.server != nil {
		sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := a.server.Shutdown(sctx); err != nil {
			log.Printf("[app] http shutdown: %v", err)
		}
		cancel()
	}
	a.watcher.Stop()

	a.mu.Lock()
	for key, s := range a.sessions {
		s.session.Close()
		delete(a.sessions, key)
	}
	tw := a.theme
	a.theme = nil
	a.mu.Unlock()
	if tw != nil {
		tw.Close()
	}

	a.Close(ctx)
}

// Close flushes pending element writes and releases storage and
// connections. Shutdown calls it; commands that never Run call it directly.
func (a *App) Close(ctx context.Context) {
	if err := a.elements.Flush(ctx); err != nil {
		log.Printf("[app] flush elements: %v", err)
	}
	a.bindings.WaitRunning(ctx)
	a.bindings.Stop()
	a.conns.Close()
	if err := a.db.Close(); err != nil {
		log.Printf("[app] close database: %v", err)
	}
}

// Validate reports the hierarchy problems of a stored page.
func (a *App) Validate(ctx context.Context, pageID string) (hierarchy.Validation, error) {
	if _, err := a.pages.GetPage(ctx, pageID); err != nil {
		return hierarchy.Validation{}, fmt.Errorf("page %s: %w", pageID, err)
	}
	return a.elements.Validate(ctx, domain.PageScope(pageID))
}

// ── Events ─────────────────────────────────────────────────

// elementsNotice is what editors receive for EventElementsChanged; the
// tree itself reaches them through the session's UPDATE_ELEMENTS.
type elementsNotice struct {
	Scope   domain.Scope `json:"scope"`
	Kind    string       `json:"kind"`
	Label   string       `json:"label,omitempty"`
	CanUndo bool         `json:"canUndo"`
	CanRedo bool         `json:"canRedo"`
}

// Emit implements service.EventEmitter. Scoped events go to the editors of
// that scope; everything else is broadcast to all editors.
func (a *App) Emit(ctx context.Context, event string, data any) {
	var payload any = data
	var scope *domain.Scope
	switch v := data.(type) {
	case service.ElementsChanged:
		scope = &v.Scope
		payload = elementsNotice{Scope: v.Scope, Kind: string(v.Kind), Label: v.Label, CanUndo: v.CanUndo, CanRedo: v.CanRedo}
	case service.PersistFailed:
		scope = &v.Scope
	}

	for _, s := range a.editorSessions(scope) {
		if err := s.events.Post(ctx, event, payload); err != nil {
			log.Printf("[app] emit %s: %v", event, err)
		}
	}
}

func (a *App) editorSessions(scope *domain.Scope) []*pageSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*pageSession
	for key, s := range a.sessions {
		if scope != nil && key != scope.Key() {
			continue
		}
		out = append(out, s)
	}
	return out
}
