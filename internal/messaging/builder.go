package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
)

// Ack is the last ELEMENTS_UPDATED_ACK a preview sent.
type Ack struct {
	ElementCount int
	Timestamp    time.Time
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Policy OriginPolicy
	// Control receives NAVIGATE_TO_PAGE, SHOW_TOAST and the other control
	// messages a preview forwards from its event engine.
	Control func(ctx context.Context, m Message)
	// OnSelect is called when a preview selects an element.
	OnSelect func(elementID string, p SelectionPayload)
	PageInfo *PageInfo
}

// Builder is the store-owning side of a session. Every store change is
// broadcast as UPDATE_ELEMENTS; inbound preview traffic is applied to the
// store.
type Builder struct {
	store *editor.Store
	out   outbox
	opts  BuilderOptions

	mu         sync.Mutex
	selected   string
	ready      bool
	lastAck    *Ack
	autoSelect string

	unsubscribe func()
}

// NewBuilder wires store changes to out. Close detaches it.
func NewBuilder(store *editor.Store, out Sink, opts BuilderOptions) *Builder {
	b := &Builder{store: store, out: outbox{sink: out}, opts: opts}
	b.unsubscribe = store.Subscribe(func(c editor.Change) {
		if err := b.broadcast(context.Background(), c.Elements); err != nil {
			log.Printf("[builder] broadcast: %v", err)
		}
	})
	return b
}

// Close stops broadcasting store changes.
func (b *Builder) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}

// Broadcast sends the full element list.
func (b *Builder) Broadcast(ctx context.Context) error {
	return b.broadcast(ctx, b.store.Elements())
}

func (b *Builder) broadcast(ctx context.Context, elements []domain.Element) error {
	b.mu.Lock()
	info := b.opts.PageInfo
	b.mu.Unlock()
	return b.out.send(ctx, Message{
		Type:     TypeUpdateElements,
		Elements: elements,
		PageInfo: info,
	})
}

// Serve handles frames from port until it closes.
func (b *Builder) Serve(ctx context.Context, port Port) error {
	return serve(ctx, "builder", port, b.Handle)
}

// Selected returns the selected element id.
func (b *Builder) Selected() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

// Ready reports whether a preview announced PREVIEW_READY.
func (b *Builder) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// LastAck returns the last acknowledgement, or nil.
func (b *Builder) LastAck() *Ack {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastAck == nil {
		return nil
	}
	a := *b.lastAck
	return &a
}

// Select selects id and tells the preview to draw its overlay.
func (b *Builder) Select(ctx context.Context, id string) error {
	el, ok := b.store.Element(id)
	if !ok {
		return fmt.Errorf("select %q: %w", id, editor.ErrNotFound)
	}
	b.mu.Lock()
	b.selected = id
	b.mu.Unlock()
	return b.out.send(ctx, selectionMessage(id, SelectionPayload{Tag: el.Tag, Props: el.Props, Source: SourceBuilder}))
}

// SelectAfterAck selects id once the preview acknowledges the next update,
// so the overlay lands on a rendered node.
func (b *Builder) SelectAfterAck(id string) {
	b.mu.Lock()
	b.autoSelect = id
	b.mu.Unlock()
}

// ClearOverlay drops the selection on both sides.
func (b *Builder) ClearOverlay(ctx context.Context) error {
	b.mu.Lock()
	b.selected = ""
	b.mu.Unlock()
	return b.out.send(ctx, Message{Type: TypeClearOverlay})
}

// RequestSelection asks the preview to report the rect of id.
func (b *Builder) RequestSelection(ctx context.Context, id string) error {
	return b.out.send(ctx, Message{Type: TypeRequestSelection, ElementID: id})
}

// SendThemeTokens pushes a CSS variable block.
func (b *Builder) SendThemeTokens(ctx context.Context, styles map[string]string) error {
	return b.out.send(ctx, Message{Type: TypeUpdateThemeTokens, Styles: styles})
}

// SendThemeVars pushes light and dark theme variables.
func (b *Builder) SendThemeVars(ctx context.Context, vars []ThemeVar) error {
	return b.out.send(ctx, Message{Type: TypeThemeVars, Vars: vars})
}

func (b *Builder) SetDarkMode(ctx context.Context, dark bool) error {
	return b.out.send(ctx, Message{Type: TypeSetDarkMode, IsDark: &dark})
}

func (b *Builder) SetEditMode(ctx context.Context, mode string) error {
	return b.out.send(ctx, Message{Type: TypeSetEditMode, Mode: mode})
}

// SetPageInfo records the page shown and sends it to the preview.
func (b *Builder) SetPageInfo(ctx context.Context, info PageInfo) error {
	b.mu.Lock()
	b.opts.PageInfo = &info
	b.mu.Unlock()
	return b.out.send(ctx, Message{Type: TypeUpdatePageInfo, PageID: info.PageID, LayoutID: info.LayoutID})
}

// Handle applies one inbound frame.
func (b *Builder) Handle(ctx context.Context, env Envelope) error {
	m, err := receive(b.opts.Policy, env)
	if err != nil {
		return err
	}

	switch m.Type {
	case TypeElementSelected:
		if m.SelectionSource() == SourceBuilder {
			return nil
		}
		b.mu.Lock()
		same := b.selected == m.ElementID
		b.selected = m.ElementID
		b.mu.Unlock()
		if !same && b.opts.OnSelect != nil {
			b.opts.OnSelect(m.ElementID, m.Selection())
		}
		return nil

	case TypeElementClick:
		b.mu.Lock()
		b.selected = m.ElementID
		b.mu.Unlock()
		if b.opts.OnSelect != nil {
			b.opts.OnSelect(m.ElementID, m.Selection())
		}
		if _, ok := b.store.Element(m.ElementID); !ok {
			return nil
		}
		return b.Select(ctx, m.ElementID)

	case TypeUpdateElementProps, TypeElementPropsUpdate:
		patch := m.PropsPatch()
		if m.ShouldMerge() {
			_, err = b.store.UpdateElementProps(m.ElementID, patch)
		} else {
			_, err = b.store.ReplaceElementProps(m.ElementID, patch)
		}
		return err

	case TypeUpdateElements:
		return b.store.SetElements(m.Elements, editor.Options{SkipHistory: true})

	case TypeElementsUpdatedAck:
		ack := Ack{Timestamp: time.UnixMilli(m.Timestamp)}
		if m.ElementCount != nil {
			ack.ElementCount = *m.ElementCount
		}
		b.mu.Lock()
		b.lastAck = &ack
		pending := b.autoSelect
		b.autoSelect = ""
		b.mu.Unlock()
		if pending != "" {
			return b.Select(ctx, pending)
		}
		return nil

	case TypePreviewReady:
		b.mu.Lock()
		b.ready = true
		b.mu.Unlock()
		return b.Broadcast(ctx)

	case TypeClearOverlay:
		b.mu.Lock()
		b.selected = ""
		b.mu.Unlock()
		return nil
	}

	if m.Type.IsControl() {
		if b.opts.Control == nil {
			log.Printf("[builder] no control handler for %s", m.Type)
			return nil
		}
		b.opts.Control(ctx, m)
		return nil
	}
	return fmt.Errorf("%w: %s is not handled by the builder", ErrUnknownMessage, m.Type)
}

// IsRejection reports whether err came from the origin or shape checks
// rather than from applying a valid message.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUntrustedOrigin) || errors.Is(err, ErrUnknownMessage) || errors.Is(err, ErrMalformed)
}
