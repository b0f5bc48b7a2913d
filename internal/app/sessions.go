package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/messaging"
	"pagebuilder/internal/theme"
)

// ============================================================
// Websocket sessions
// ============================================================

// pageSession is the messaging session of one open scope. peers counts the
// sockets attached to it; the session closes with the last one.
type pageSession struct {
	session *messaging.Session
	events  *messaging.Poster
	peers   int
}

// handleSocket serves /ws/{builder|preview}/{pages|layouts}/{id}.
func (a *App) handleSocket(w http.ResponseWriter, r *http.Request) {
	role := mux.Vars(r)["role"]
	scope := scopeOf(r)

	s, err := a.acquire(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer a.release(scope, s)

	// Upgrade has already answered the request when it fails.
	port, err := messaging.Upgrade(w, r, a.policy, messaging.WSOptions{InboundRate: a.cfg.Sync.InboundRate})
	if err != nil {
		log.Printf("[ws] %s %s: %v", role, scope.Key(), err)
		return
	}

	join := s.session.JoinEditor
	if role == "preview" {
		join = s.session.JoinPreview
	}
	log.Printf("[ws] %s joined %s", role, scope.Key())
	if err := join(r.Context(), port); err != nil && !errors.Is(err, messaging.ErrClosed) && !errors.Is(err, context.Canceled) {
		log.Printf("[ws] %s %s: %v", role, scope.Key(), err)
	}
}

// acquire returns the session of scope, creating it over the scope's
// editor store on first use.
func (a *App) acquire(ctx context.Context, scope domain.Scope) (*pageSession, error) {
	info, err := a.pageInfo(ctx, scope)
	if err != nil {
		return nil, err
	}
	store, err := a.elements.Open(ctx, scope)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[scope.Key()]
	if !ok {
		session := messaging.NewSession(store, a.policy, info)
		session.OnPreviewJoin = func(ctx context.Context) {
			a.mu.Lock()
			tw := a.theme
			a.mu.Unlock()
			if tw != nil {
				sendTheme(ctx, session, tw.Current())
			}
		}
		s = &pageSession{session: session, events: messaging.NewPoster(session.Editors)}
		a.sessions[scope.Key()] = s
	}
	s.peers++
	return s, nil
}

func (a *App) release(scope domain.Scope, s *pageSession) {
	a.mu.Lock()
	s.peers--
	idle := s.peers <= 0 && a.sessions[scope.Key()] == s
	if idle {
		delete(a.sessions, scope.Key())
	}
	a.mu.Unlock()
	if idle {
		s.session.Close()
	}
}

// dropSession disconnects every socket of a deleted scope.
func (a *App) dropSession(scope domain.Scope) {
	a.mu.Lock()
	s, ok := a.sessions[scope.Key()]
	delete(a.sessions, scope.Key())
	a.mu.Unlock()
	if ok {
		s.session.Close()
	}
}

func (a *App) pageInfo(ctx context.Context, scope domain.Scope) (*messaging.PageInfo, error) {
	switch scope.Kind {
	case domain.ScopeLayout:
		if _, err := a.pages.GetLayout(ctx, scope.ID); err != nil {
			return nil, fmt.Errorf("layout %s: %w", scope.ID, err)
		}
		return &messaging.PageInfo{LayoutID: domain.NullableID(scope.ID)}, nil
	default:
		p, err := a.pages.GetPage(ctx, scope.ID)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", scope.ID, err)
		}
		return &messaging.PageInfo{PageID: domain.NullableID(p.ID), LayoutID: p.LayoutID}, nil
	}
}

// ── Theme ──────────────────────────────────────────────────

func sendTheme(ctx context.Context, s *messaging.Session, t theme.Theme) {
	if len(t.Tokens) > 0 {
		if err := s.Builder.SendThemeTokens(ctx, t.Tokens); err != nil {
			log.Printf("[theme] send tokens: %v", err)
		}
	}
	if vars := t.Vars(); len(vars) > 0 {
		if err := s.Builder.SendThemeVars(ctx, vars); err != nil {
			log.Printf("[theme] send vars: %v", err)
		}
	}
}

// pushTheme sends a reloaded theme file to every open session.
func (a *App) pushTheme(t theme.Theme) {
	ctx := context.Background()
	sessions := a.editorSessions(nil)
	for _, s := range sessions {
		sendTheme(ctx, s.session, t)
	}
	log.Printf("[theme] pushed to %d session(s)", len(sessions))
}
