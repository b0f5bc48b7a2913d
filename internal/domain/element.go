package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Tag selects the renderer and the props shape of an element.
type Tag string

const (
	TagBody    Tag = "body"
	TagButton  Tag = "Button"
	TagText    Tag = "Text"
	TagLabel   Tag = "Label"
	TagInput   Tag = "Input"
	TagSlot    Tag = "Slot"
	TagTabs    Tag = "Tabs"
	TagTab     Tag = "Tab"
	TagPanel   Tag = "Panel"
	TagTable   Tag = "Table"
	TagForm    Tag = "Form"
	TagDialog  Tag = "Dialog"
	TagDivider Tag = "Separator"
)

// NullableID is an id that encodes as JSON null when empty.
// parent_id, page_id and layout_id all travel this way on the wire.
type NullableID string

func (id NullableID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

func (id *NullableID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = NullableID(s)
	return nil
}

// String returns the id, "" for null.
func (id NullableID) String() string { return string(id) }

// Element is one node of the page tree. A root has an empty ParentID.
// Exactly one of PageID and LayoutID is set.
type Element struct {
	ID        string         `json:"id"`
	Tag       Tag            `json:"tag"`
	Props     Props          `json:"props"`
	ParentID  NullableID     `json:"parent_id"`
	PageID    NullableID     `json:"page_id"`
	LayoutID  NullableID     `json:"layout_id"`
	OrderNum  int            `json:"order_num"`
	Events    []ElementEvent `json:"events,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsRoot reports whether the element has no parent.
func (e *Element) IsRoot() bool { return e.ParentID == "" }

// Scope returns the page or layout the element belongs to.
func (e *Element) Scope() Scope {
	if e.LayoutID != "" {
		return Scope{Kind: ScopeLayout, ID: string(e.LayoutID)}
	}
	return Scope{Kind: ScopePage, ID: string(e.PageID)}
}

// Clone returns a deep copy, props and event actions included.
func (e Element) Clone() Element {
	c := e
	c.Props = e.Props.Clone()
	c.Events = CloneEvents(e.Events)
	return c
}

// CloneElements deep-copies a list of elements.
func CloneElements(list []Element) []Element {
	if list == nil {
		return nil
	}
	out := make([]Element, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}

// ScopeKind distinguishes page-owned from layout-owned elements.
type ScopeKind string

const (
	ScopePage   ScopeKind = "page"
	ScopeLayout ScopeKind = "layout"
)

// Scope identifies the owner of an element list (one page or one layout).
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// PageScope is shorthand for a page scope.
func PageScope(pageID string) Scope { return Scope{Kind: ScopePage, ID: pageID} }

// LayoutScope is shorthand for a layout scope.
func LayoutScope(layoutID string) Scope { return Scope{Kind: ScopeLayout, ID: layoutID} }

// Key is a stable string form used as a map key.
func (s Scope) Key() string { return string(s.Kind) + ":" + s.ID }

// Own stamps the owner fields of e for this scope.
func (s Scope) Own(e *Element) {
	switch s.Kind {
	case ScopeLayout:
		e.LayoutID = NullableID(s.ID)
		e.PageID = ""
	default:
		e.PageID = NullableID(s.ID)
		e.LayoutID = ""
	}
}

// ElementStore is the persistence collaborator for elements.
type ElementStore interface {
	CreateElement(ctx context.Context, e *Element) (*Element, error)
	UpdateElement(ctx context.Context, id string, e *Element) (*Element, error)
	UpdateElementProps(ctx context.Context, id string, props Props) (*Element, error)
	DeleteElement(ctx context.Context, id string) error
	GetElementsByPageID(ctx context.Context, pageID string) ([]Element, error)
	GetElementsByLayoutID(ctx context.Context, layoutID string) ([]Element, error)
}
