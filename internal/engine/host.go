package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrNodeNotFound is returned by a Host when a lookup finds nothing.
var ErrNodeNotFound = errors.New("node not found")

// Host is the rendered document the engine acts on. In a preview session it
// is backed by the client over the websocket; MemoryHost serves dry runs.
type Host interface {
	// Embedded reports whether execution happens inside the builder frame.
	Embedded() bool
	Navigate(ctx context.Context, url string, replace bool) error
	OpenTab(ctx context.Context, url string) error
	// SetDisplay sets the inline display of the node carrying
	// data-element-id. It reports whether the node exists.
	SetDisplay(elementID, display string) bool
	ShowModal(modalID string, backdrop bool) error
	HideModal(modalID string) bool
	ScrollTo(elementID, behavior string) bool
	CopyToClipboard(ctx context.Context, text string) error
	// FormValues returns the named field values of a form.
	FormValues(formID string) (map[string]string, bool)
	ResetForm(formID string) bool
	SubmitForm(formID string) bool
	SetFormField(formID, name, value string) bool
	// Node returns a read-only projection (style, textContent, value) of
	// the node with the given DOM id.
	Node(id string) (map[string]any, bool)
}

// Poster delivers control messages to the embedding builder.
type Poster interface {
	Post(ctx context.Context, msgType string, payload any) error
}

// ─────────────────────────────────────────────────────────────
// MemoryHost: in-memory document for dry runs and tests
// ─────────────────────────────────────────────────────────────

// MemoryHost records every effect instead of touching a document.
type MemoryHost struct {
	mu sync.Mutex

	IsEmbedded bool
	Location   string
	Replaced   bool
	Tabs       []string
	Display    map[string]string
	// Modals maps a modal id to its open state; absent ids do not exist.
	Modals    map[string]bool
	Backdrops map[string]bool
	Scrolled  []string
	Clipboard string
	Forms     map[string]map[string]string
	Resets    []string
	Submits   []string
	Nodes     map[string]map[string]any
}

// NewMemoryHost creates an empty document.
func NewMemoryHost(embedded bool) *MemoryHost {
	return &MemoryHost{
		IsEmbedded: embedded,
		Display:    map[string]string{},
		Modals:     map[string]bool{},
		Backdrops:  map[string]bool{},
		Forms:      map[string]map[string]string{},
		Nodes:      map[string]map[string]any{},
	}
}

func (h *MemoryHost) Embedded() bool { return h.IsEmbedded }

func (h *MemoryHost) Navigate(_ context.Context, url string, replace bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Location, h.Replaced = url, replace
	return nil
}

func (h *MemoryHost) OpenTab(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tabs = append(h.Tabs, url)
	return nil
}

// SetDisplay accepts any id so dry runs do not need a populated document.
func (h *MemoryHost) SetDisplay(elementID, display string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Display[elementID] = display
	return true
}

func (h *MemoryHost) ShowModal(modalID string, backdrop bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Modals[modalID]; !ok {
		return ErrNodeNotFound
	}
	h.Modals[modalID] = true
	if backdrop {
		h.Backdrops[modalID] = true
	}
	return nil
}

func (h *MemoryHost) HideModal(modalID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Modals[modalID]; !ok {
		return false
	}
	h.Modals[modalID] = false
	delete(h.Backdrops, modalID)
	return true
}

func (h *MemoryHost) ScrollTo(elementID, _ string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Scrolled = append(h.Scrolled, elementID)
	return true
}

func (h *MemoryHost) CopyToClipboard(_ context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Clipboard = text
	return nil
}

func (h *MemoryHost) FormValues(formID string) (map[string]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.Forms[formID]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out, true
}

func (h *MemoryHost) ResetForm(formID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.Forms[formID]
	if !ok {
		return false
	}
	for k := range f {
		f[k] = ""
	}
	h.Resets = append(h.Resets, formID)
	return true
}

func (h *MemoryHost) SubmitForm(formID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Forms[formID]; !ok {
		return false
	}
	h.Submits = append(h.Submits, formID)
	return true
}

func (h *MemoryHost) SetFormField(formID, name, value string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, f := range h.Forms {
		if formID != "" && id != formID {
			continue
		}
		if _, ok := f[name]; ok {
			f[name] = value
			return true
		}
	}
	return false
}

func (h *MemoryHost) Node(id string) (map[string]any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.Nodes[id]
	return n, ok
}

// ── RecordingPoster ────────────────────────────────────────

// PostedMessage is one control message captured by RecordingPoster.
type PostedMessage struct {
	Type    string
	Payload any
}

// RecordingPoster keeps every posted message.
type RecordingPoster struct {
	mu       sync.Mutex
	Messages []PostedMessage
}

func (p *RecordingPoster) Post(_ context.Context, msgType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, PostedMessage{Type: msgType, Payload: payload})
	return nil
}

// Posted returns a copy of the recorded messages.
func (p *RecordingPoster) Posted() []PostedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PostedMessage(nil), p.Messages...)
}
