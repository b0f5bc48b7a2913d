package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pagebuilder/internal/editor"
)

// Session joins one page's Builder to two hubs: preview sockets that
// render the page, and editor sockets of builder UIs that observe it.
type Session struct {
	Builder  *Builder
	Previews *Hub
	Editors  *Hub

	// OnPreviewJoin, when set, runs after a new preview received the tree.
	OnPreviewJoin func(ctx context.Context)

	policy OriginPolicy
}

type fanout []Sink

func (f fanout) Send(ctx context.Context, data []byte) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSession creates a session over store. Control messages and
// selections coming from previews are relayed to editors.
func NewSession(store *editor.Store, policy OriginPolicy, info *PageInfo) *Session {
	s := &Session{
		Previews: NewHub("preview"),
		Editors:  NewHub("editor"),
		policy:   policy,
	}
	relay := NewPoster(s.Editors)
	s.Builder = NewBuilder(store, fanout{s.Previews, s.Editors}, BuilderOptions{
		Policy:   policy,
		PageInfo: info,
		Control: func(ctx context.Context, m Message) {
			if err := relay.Post(ctx, string(m.Type), m.ControlPayload()); err != nil {
				log.Printf("[session] relay %s: %v", m.Type, err)
			}
		},
		OnSelect: func(id string, p SelectionPayload) {
			p.Source = SourcePreview
			sel := selectionMessage(id, p)
			if err := relay.out.send(context.Background(), sel); err != nil {
				log.Printf("[session] relay selection: %v", err)
			}
		},
	})
	return s
}

// JoinPreview serves a preview socket. The current tree is sent as soon as
// the socket attaches.
func (s *Session) JoinPreview(ctx context.Context, port Port) error {
	return s.Previews.Join(ctx, port, s.Builder.Handle, func(ctx context.Context, _ Port) {
		if err := s.Builder.Broadcast(ctx); err != nil {
			log.Printf("[session] initial broadcast: %v", err)
		}
		if s.OnPreviewJoin != nil {
			s.OnPreviewJoin(ctx)
		}
	})
}

// JoinEditor serves a builder UI socket.
func (s *Session) JoinEditor(ctx context.Context, port Port) error {
	return s.Editors.Join(ctx, port, s.HandleEditor, nil)
}

// HandleEditor applies a frame from a builder UI: selection, overlay and
// theme commands are forwarded to previews through the Builder.
func (s *Session) HandleEditor(ctx context.Context, env Envelope) error {
	m, err := receive(s.policy, env)
	if err != nil {
		return err
	}
	b := s.Builder
	switch m.Type {
	case TypeElementSelected:
		return b.Select(ctx, m.ElementID)
	case TypeClearOverlay:
		return b.ClearOverlay(ctx)
	case TypeRequestSelection:
		return b.RequestSelection(ctx, m.ElementID)
	case TypeUpdateThemeTokens:
		return b.SendThemeTokens(ctx, m.Styles)
	case TypeThemeVars:
		return b.SendThemeVars(ctx, m.Vars)
	case TypeSetDarkMode:
		return b.SetDarkMode(ctx, m.IsDark != nil && *m.IsDark)
	case TypeSetEditMode:
		return b.SetEditMode(ctx, m.Mode)
	case TypeUpdatePageInfo:
		return b.SetPageInfo(ctx, PageInfo{PageID: m.PageID, LayoutID: m.LayoutID})
	case TypeUpdateElementProps, TypeElementPropsUpdate, TypeUpdateElements:
		return b.Handle(ctx, env)
	}
	return fmt.Errorf("%w: %s is not accepted from an editor", ErrUnknownMessage, m.Type)
}

// Close detaches every socket and stops broadcasting.
func (s *Session) Close() {
	s.Builder.Close()
	s.Previews.Close()
	s.Editors.Close()
}
