package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pagebuilder/internal/domain"
)

// PreviewState is a snapshot of what the preview renders.
type PreviewState struct {
	Elements  []domain.Element
	PageInfo  PageInfo
	Selected  string
	ThemeCSS  string
	VarsCSS   string
	Dark      bool
	EditMode  string
	LastSeq   uint64
	StaleSeqs int
}

// Preview mirrors the builder's element list. Updates are applied in
// arrival order: an UPDATE_ELEMENTS with an older sequence number than one
// already applied still replaces the mirror.
type Preview struct {
	policy   OriginPolicy
	out      outbox
	now      func() time.Time
	onChange func(PreviewState)

	mu    sync.Mutex
	state PreviewState
}

// PreviewOptions configures a Preview.
type PreviewOptions struct {
	Policy   OriginPolicy
	OnChange func(PreviewState)
	Now      func() time.Time
}

func NewPreview(out Sink, opts PreviewOptions) *Preview {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Preview{policy: opts.Policy, out: outbox{sink: out}, now: opts.Now, onChange: opts.OnChange, state: PreviewState{EditMode: "page"}}
}

// Serve handles frames from port until it closes.
func (p *Preview) Serve(ctx context.Context, port Port) error {
	return serve(ctx, "preview", port, p.Handle)
}

// State returns a copy of the mirrored state.
func (p *Preview) State() PreviewState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Elements = domain.CloneElements(p.state.Elements)
	return s
}

// Ready announces the preview can render.
func (p *Preview) Ready(ctx context.Context) error {
	return p.out.send(ctx, Message{Type: TypePreviewReady})
}

// Click reports a click on a rendered element.
func (p *Preview) Click(ctx context.Context, id string, rect *Rect) error {
	el, ok := p.element(id)
	if !ok {
		return fmt.Errorf("click %q: element not rendered", id)
	}
	m := selectionMessage(id, SelectionPayload{Tag: el.Tag, Rect: rect, Props: el.Props, Source: SourcePreview})
	m.Type = TypeElementClick
	return p.out.send(ctx, m)
}

// UpdateProps sends a props change made inside the preview runtime.
func (p *Preview) UpdateProps(ctx context.Context, id string, props domain.Props) error {
	return p.out.send(ctx, Message{Type: TypeElementPropsUpdate, ElementID: id, Props: props})
}

// PushElements sends the mirror back to the builder after a runtime
// mutation.
func (p *Preview) PushElements(ctx context.Context) error {
	return p.out.send(ctx, Message{Type: TypeUpdateElements, Elements: p.State().Elements})
}

// Post forwards a control message to the builder.
func (p *Preview) Post(ctx context.Context, msgType string, payload any) error {
	m, err := ControlMessage(MessageType(msgType), payload)
	if err != nil {
		return err
	}
	return p.out.send(ctx, m)
}

func (p *Preview) element(id string) (domain.Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.state.Elements {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return domain.Element{}, false
}

// Handle applies one inbound frame.
func (p *Preview) Handle(ctx context.Context, env Envelope) error {
	m, err := receive(p.policy, env)
	if err != nil {
		return err
	}

	var reply *Message
	p.mu.Lock()
	if m.Seq != 0 {
		if m.Seq <= p.state.LastSeq {
			p.state.StaleSeqs++
		} else {
			p.state.LastSeq = m.Seq
		}
	}

	switch m.Type {
	case TypeUpdateElements:
		if m.PageInfo != nil {
			p.state.PageInfo = *m.PageInfo
		}
		p.state.Elements = domain.CloneElements(m.Elements)
		count := len(m.Elements)
		reply = &Message{Type: TypeElementsUpdatedAck, ElementCount: &count, Timestamp: p.now().UnixMilli()}

	case TypeUpdateElementProps, TypeElementPropsUpdate:
		for i := range p.state.Elements {
			if p.state.Elements[i].ID != m.ElementID {
				continue
			}
			if m.ShouldMerge() {
				p.state.Elements[i].Props = p.state.Elements[i].Props.Merge(m.PropsPatch())
			} else {
				p.state.Elements[i].Props = m.PropsPatch().Clone()
			}
		}

	case TypeDeleteElement:
		p.state.Elements = without(p.state.Elements, map[string]bool{m.ElementID: true})

	case TypeDeleteElements:
		doomed := make(map[string]bool, len(m.ElementIDs))
		for _, id := range m.ElementIDs {
			doomed[id] = true
		}
		p.state.Elements = without(p.state.Elements, doomed)

	case TypeUpdateThemeTokens:
		p.state.ThemeCSS = ThemeTokensCSS(m.Styles)

	case TypeThemeVars:
		p.state.VarsCSS = ThemeVarsCSS(m.Vars)

	case TypeSetDarkMode:
		p.state.Dark = m.IsDark != nil && *m.IsDark

	case TypeSetEditMode:
		p.state.EditMode = m.Mode

	case TypeUpdatePageInfo:
		p.state.PageInfo = PageInfo{PageID: m.PageID, LayoutID: m.LayoutID}

	case TypeElementSelected:
		if m.SelectionSource() != SourcePreview {
			p.state.Selected = m.ElementID
		}

	case TypeClearOverlay:
		p.state.Selected = ""

	case TypeRequestSelection:
		for _, e := range p.state.Elements {
			if e.ID == m.ElementID {
				p.state.Selected = e.ID
				sel := selectionMessage(e.ID, SelectionPayload{Tag: e.Tag, Props: e.Props.Clone(), Source: SourcePreview})
				reply = &sel
				break
			}
		}
		if reply == nil {
			log.Printf("[preview] requested selection of unknown element %s", m.ElementID)
		}

	default:
		p.mu.Unlock()
		return fmt.Errorf("%w: %s is not handled by the preview", ErrUnknownMessage, m.Type)
	}
	snapshot := p.state
	snapshot.Elements = domain.CloneElements(p.state.Elements)
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange(snapshot)
	}
	if reply != nil {
		return p.out.send(ctx, *reply)
	}
	return nil
}

func without(list []domain.Element, doomed map[string]bool) []domain.Element {
	out := list[:0:0]
	for _, e := range list {
		if !doomed[e.ID] {
			out = append(out, e)
		}
	}
	return out
}
