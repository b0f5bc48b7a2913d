// Package messaging keeps the builder's element store and the preview's
// mirrored copy consistent. Both sides exchange flat JSON messages tagged by
// "type" over a Port; every inbound message is origin-checked before it is
// decoded.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"pagebuilder/internal/domain"
)

// MessageType is the "type" tag of a wire message.
type MessageType string

const (
	TypeUpdateElements      MessageType = "UPDATE_ELEMENTS"
	TypeElementSelected     MessageType = "ELEMENT_SELECTED"
	TypeClearOverlay        MessageType = "CLEAR_OVERLAY"
	TypeUpdateElementProps  MessageType = "UPDATE_ELEMENT_PROPS"
	TypeElementPropsUpdate  MessageType = "element-props-update"
	TypeElementClick        MessageType = "element-click"
	TypeUpdateThemeTokens   MessageType = "UPDATE_THEME_TOKENS"
	TypeThemeVars           MessageType = "THEME_VARS"
	TypeSetDarkMode         MessageType = "SET_DARK_MODE"
	TypeSetEditMode         MessageType = "SET_EDIT_MODE"
	TypeUpdatePageInfo      MessageType = "UPDATE_PAGE_INFO"
	TypeDeleteElement       MessageType = "DELETE_ELEMENT"
	TypeDeleteElements      MessageType = "DELETE_ELEMENTS"
	TypeRequestSelection    MessageType = "REQUEST_ELEMENT_SELECTION"
	TypeElementsUpdatedAck  MessageType = "ELEMENTS_UPDATED_ACK"
	TypePreviewReady        MessageType = "PREVIEW_READY"
	TypeNavigateToPage      MessageType = "NAVIGATE_TO_PAGE"
	TypeShowToast           MessageType = "SHOW_TOAST"
	TypeSetComponentState   MessageType = "SET_COMPONENT_STATE"
	TypeTriggerComponent    MessageType = "TRIGGER_COMPONENT_ACTION"
	TypeFilterCollection    MessageType = "FILTER_COLLECTION"
	TypeSelectItem          MessageType = "SELECT_ITEM"
	TypeClearSelection      MessageType = "CLEAR_SELECTION"
)

var knownTypes = map[MessageType]bool{
	TypeUpdateElements: true, TypeElementSelected: true, TypeClearOverlay: true,
	TypeUpdateElementProps: true, TypeElementPropsUpdate: true, TypeElementClick: true,
	TypeUpdateThemeTokens: true, TypeThemeVars: true, TypeSetDarkMode: true,
	TypeSetEditMode: true, TypeUpdatePageInfo: true, TypeDeleteElement: true,
	TypeDeleteElements: true, TypeRequestSelection: true, TypeElementsUpdatedAck: true,
	TypePreviewReady: true, TypeNavigateToPage: true, TypeShowToast: true,
	TypeSetComponentState: true, TypeTriggerComponent: true, TypeFilterCollection: true,
	TypeSelectItem: true, TypeClearSelection: true,
}

// IsControl reports whether t is a control message the preview runtime
// sends to the builder on behalf of the event engine.
func (t MessageType) IsControl() bool {
	switch t {
	case TypeNavigateToPage, TypeShowToast, TypeSetComponentState, TypeTriggerComponent,
		TypeFilterCollection, TypeSelectItem, TypeClearSelection:
		return true
	}
	return false
}

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMalformed      = errors.New("malformed message")
)

// Source tags carried by selection messages.
const (
	SourceBuilder = "builder"
	SourcePreview = "preview"
)

// Rect is an element's bounding box in the preview.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SelectionPayload is the payload of ELEMENT_SELECTED and element-click.
type SelectionPayload struct {
	Tag    domain.Tag   `json:"tag,omitempty"`
	Rect   *Rect        `json:"rect,omitempty"`
	Props  domain.Props `json:"props,omitempty"`
	Source string       `json:"source,omitempty"`
}

// ThemeVar is one CSS custom property of a THEME_VARS message.
type ThemeVar struct {
	CSSVar string `json:"cssVar"`
	Value  string `json:"value"`
	IsDark bool   `json:"isDark,omitempty"`
}

// PageInfo tells the preview which page and layout it renders.
type PageInfo struct {
	PageID   domain.NullableID `json:"pageId"`
	LayoutID domain.NullableID `json:"layoutId"`
}

// Message is the union of every wire shape; only the fields of its Type
// are set. Seq is stamped by the sender and increases per sender.
type Message struct {
	Type         MessageType       `json:"type"`
	Seq          uint64            `json:"seq,omitempty"`
	Elements     []domain.Element  `json:"elements,omitempty"`
	PageInfo     *PageInfo         `json:"pageInfo,omitempty"`
	ElementID    string            `json:"elementId,omitempty"`
	ElementIDs   []string          `json:"elementIds,omitempty"`
	Props        domain.Props      `json:"props,omitempty"`
	Merge        *bool             `json:"merge,omitempty"`
	Source       string            `json:"source,omitempty"`
	Styles       map[string]string `json:"styles,omitempty"`
	Vars         []ThemeVar        `json:"vars,omitempty"`
	IsDark       *bool             `json:"isDark,omitempty"`
	Mode         string            `json:"mode,omitempty"`
	PageID       domain.NullableID `json:"pageId,omitempty"`
	LayoutID     domain.NullableID `json:"layoutId,omitempty"`
	ElementCount *int              `json:"elementCount,omitempty"`
	Timestamp    int64             `json:"timestamp,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
}

// Selection decodes Payload as a selection payload. A missing or foreign
// payload yields the zero value.
func (m Message) Selection() SelectionPayload {
	var p SelectionPayload
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &p)
	}
	return p
}

// SelectionSource returns the top-level source, falling back to the one
// inside the payload.
func (m Message) SelectionSource() string {
	if m.Source != "" {
		return m.Source
	}
	return m.Selection().Source
}

// PropsPatch returns the props of a prop update, which arrive either at the
// top level or under payload.props.
func (m Message) PropsPatch() domain.Props {
	if m.Props != nil {
		return m.Props
	}
	return m.Selection().Props
}

// ShouldMerge reports the merge flag of a prop update, true when absent.
func (m Message) ShouldMerge() bool { return m.Merge == nil || *m.Merge }

// ControlPayload decodes Payload as a free-form object.
func (m Message) ControlPayload() map[string]any {
	out := map[string]any{}
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &out)
	}
	return out
}

// Decode parses one wire message. It never panics: non-JSON input and shapes
// missing required fields return ErrMalformed, unknown types
// ErrUnknownMessage.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !knownTypes[m.Type] {
		return m, fmt.Errorf("%w: %s", ErrUnknownMessage, m.Type)
	}
	switch m.Type {
	case TypeElementSelected, TypeElementClick, TypeUpdateElementProps,
		TypeElementPropsUpdate, TypeDeleteElement, TypeRequestSelection:
		if m.ElementID == "" {
			return m, fmt.Errorf("%w: %s without elementId", ErrMalformed, m.Type)
		}
	case TypeSetEditMode:
		if m.Mode == "" {
			return m, fmt.Errorf("%w: %s without mode", ErrMalformed, m.Type)
		}
	}
	return m, nil
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// ControlMessage builds a control message with payload as its payload.
func ControlMessage(t MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: raw}, nil
}

func selectionMessage(id string, p SelectionPayload) Message {
	raw, _ := json.Marshal(p)
	return Message{Type: TypeElementSelected, ElementID: id, Source: p.Source, Payload: raw}
}
