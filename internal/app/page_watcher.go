package app

import (
	"context"
	"log"
	"sync"
	"time"

	mcpserver "pagebuilder/internal/mcp"
)

const defaultWatchEvery = 2 * time.Second

// pageWatcher polls the database for changes to open scopes made outside
// this process (e.g. by the standalone MCP server), reloads their stores so
// sessions rebroadcast, and surfaces stored MCP approvals to editors.
type pageWatcher struct {
	app   *App
	every time.Duration

	mu sync.Mutex
	// last fingerprint per scope key
	fingerprints map[string]string
	// approval ids already announced, to avoid re-emitting them every tick
	emittedApprovals map[string]bool
	stopCh           chan struct{}
	stopOnce         sync.Once
}

func newPageWatcher(app *App, every time.Duration) *pageWatcher {
	if every <= 0 {
		every = defaultWatchEvery
	}
	return &pageWatcher{
		app:              app,
		every:            every,
		fingerprints:     map[string]string{},
		emittedApprovals: map[string]bool{},
		stopCh:           make(chan struct{}),
	}
}

// Start begins the polling loop.
func (w *pageWatcher) Start(ctx context.Context) {
	go w.pollLoop(ctx)
}

// Stop terminates the polling loop.
func (w *pageWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *pageWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *pageWatcher) check(ctx context.Context) {
	w.checkScopes(ctx)
	w.checkApprovals(ctx)
}

// ── Scopes ─────────────────────────────────────────────────

func (w *pageWatcher) checkScopes(ctx context.Context) {
	open := map[string]bool{}
	for _, scope := range w.app.elements.OpenScopes() {
		key := scope.Key()
		open[key] = true

		fp, err := w.app.elementStore.Fingerprint(ctx, scope)
		if err != nil {
			log.Printf("[watcher] fingerprint %s: %v", key, err)
			continue
		}
		w.mu.Lock()
		last, seen := w.fingerprints[key]
		w.fingerprints[key] = fp
		w.mu.Unlock()
		if !seen || last == fp {
			continue
		}

		// Reload compares against what this process last wrote, so our own
		// saves do not count as changes.
		changed, err := w.app.elements.Reload(ctx, scope)
		if err != nil {
			log.Printf("[watcher] %v", err)
			continue
		}
		if changed {
			w.app.Emit(ctx, mcpserver.EventElementsChanged, map[string]string{"scope": key})
		}
	}

	w.mu.Lock()
	for key := range w.fingerprints {
		if !open[key] {
			delete(w.fingerprints, key)
		}
	}
	w.mu.Unlock()
}

// ── Approvals (cross-process IPC) ──────────────────────────

func (w *pageWatcher) checkApprovals(ctx context.Context) {
	pending, err := w.app.approvals.ListPending(ctx)
	if err != nil {
		log.Printf("[watcher] list approvals: %v", err)
		return
	}

	still := make(map[string]bool, len(pending))
	for _, ap := range pending {
		still[ap.ID] = true
		w.mu.Lock()
		alreadySent := w.emittedApprovals[ap.ID]
		w.emittedApprovals[ap.ID] = true
		w.mu.Unlock()
		if alreadySent {
			continue
		}
		w.app.Emit(ctx, mcpserver.EventApprovalRequired, mcpserver.PendingAction{
			ID:          ap.ID,
			Tool:        ap.Tool,
			Description: ap.Description,
			CreatedAt:   ap.CreatedAt.Format(time.RFC3339),
			Metadata:    ap.Metadata,
		})
	}

	// Resolved or deleted approvals (the standalone process deletes them
	// once read) are dismissed.
	w.mu.Lock()
	var gone []string
	for id := range w.emittedApprovals {
		if !still[id] {
			delete(w.emittedApprovals, id)
			gone = append(gone, id)
		}
	}
	w.mu.Unlock()
	for _, id := range gone {
		w.app.Emit(ctx, mcpserver.EventApprovalDismissed, map[string]string{"id": id})
	}
}
