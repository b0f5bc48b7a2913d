package domain

import (
	"encoding/json"
	"fmt"
)

// Props is the free-form property bag of an element. Keys beyond the typed
// shape of a tag pass through untouched.
type Props map[string]any

// Clone returns a deep copy via JSON so nested maps are not shared.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		out := make(Props, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	var out Props
	_ = json.Unmarshal(data, &out)
	return out
}

// Merge returns a copy of p with every key of patch applied on top.
func (p Props) Merge(patch Props) Props {
	out := p.Clone()
	if out == nil {
		out = Props{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// String returns p[key] when it is a string.
func (p Props) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns p[key] when it is a bool.
func (p Props) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// ── Typed views ────────────────────────────────────────────

// PropsKind names a family of tags that share a props shape.
type PropsKind string

const (
	KindGeneric    PropsKind = "generic"
	KindField      PropsKind = "field"
	KindButton     PropsKind = "button"
	KindText       PropsKind = "text"
	KindTabs       PropsKind = "tabs"
	KindTab        PropsKind = "tab"
	KindPanel      PropsKind = "panel"
	KindCollection PropsKind = "collection"
	KindModal      PropsKind = "modal"
	KindForm       PropsKind = "form"
)

// TypedProps is the closed set of typed props views. Every implementation
// lives in this file; DecodeProps switches over all of them.
type TypedProps interface {
	Kind() PropsKind
}

type FieldProps struct {
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Description string `json:"description,omitempty"`
	ErrorText   string `json:"errorMessage,omitempty"`
	Value       any    `json:"value,omitempty"`
	IsRequired  bool   `json:"isRequired,omitempty"`
	IsDisabled  bool   `json:"isDisabled,omitempty"`
	Type        string `json:"type,omitempty"`
}

type ButtonProps struct {
	Children   string `json:"children,omitempty"`
	Variant    string `json:"variant,omitempty"`
	Size       string `json:"size,omitempty"`
	IsDisabled bool   `json:"isDisabled,omitempty"`
}

type TextProps struct {
	Children string `json:"children,omitempty"`
	Level    int    `json:"level,omitempty"`
}

type TabsProps struct {
	DefaultSelectedKey string `json:"defaultSelectedKey,omitempty"`
	Orientation        string `json:"orientation,omitempty"`
}

type TabProps struct {
	Title string `json:"title,omitempty"`
	TabID string `json:"tabId,omitempty"`
}

type PanelProps struct {
	Title string `json:"title,omitempty"`
	TabID string `json:"tabId,omitempty"`
}

type CollectionProps struct {
	Label         string `json:"label,omitempty"`
	BindingID     string `json:"bindingId,omitempty"`
	SelectionMode string `json:"selectionMode,omitempty"`
	ItemLabelKey  string `json:"itemLabelKey,omitempty"`
}

type ModalProps struct {
	Title         string `json:"title,omitempty"`
	IsDismissable bool   `json:"isDismissable,omitempty"`
}

type FormProps struct {
	Action string `json:"action,omitempty"`
	Method string `json:"method,omitempty"`
}

// GenericProps carries tags that have no typed view.
type GenericProps struct {
	Values Props `json:"-"`
}

func (FieldProps) Kind() PropsKind      { return KindField }
func (ButtonProps) Kind() PropsKind     { return KindButton }
func (TextProps) Kind() PropsKind       { return KindText }
func (TabsProps) Kind() PropsKind       { return KindTabs }
func (TabProps) Kind() PropsKind        { return KindTab }
func (PanelProps) Kind() PropsKind      { return KindPanel }
func (CollectionProps) Kind() PropsKind { return KindCollection }
func (ModalProps) Kind() PropsKind      { return KindModal }
func (FormProps) Kind() PropsKind       { return KindForm }
func (GenericProps) Kind() PropsKind    { return KindGeneric }

// KindOf maps a tag to its props family.
func KindOf(tag Tag) PropsKind {
	switch tag {
	case "TextField", "TextArea", "NumberField", "SearchField", "DateField", "TimeField",
		"ColorField", "Input", "Checkbox", "Radio", "Switch", "Slider", "DatePicker",
		"DateRangePicker", "CheckboxGroup", "RadioGroup":
		return KindField
	case "Button", "ToggleButton":
		return KindButton
	case "Text", "Label", "Description", "FieldError", "Heading":
		return KindText
	case "Tabs":
		return KindTabs
	case "Tab":
		return KindTab
	case "Panel":
		return KindPanel
	case "ListBox", "GridList", "Select", "ComboBox", "TagGroup", "Tree", "Table", "DataTable", "Menu":
		return KindCollection
	case "Dialog", "Popover", "Modal":
		return KindModal
	case "Form":
		return KindForm
	default:
		return KindGeneric
	}
}

// DecodeProps returns the typed view of p for tag.
func DecodeProps(tag Tag, p Props) (TypedProps, error) {
	var target TypedProps
	switch KindOf(tag) {
	case KindField:
		target = &FieldProps{}
	case KindButton:
		target = &ButtonProps{}
	case KindText:
		target = &TextProps{}
	case KindTabs:
		target = &TabsProps{}
	case KindTab:
		target = &TabProps{}
	case KindPanel:
		target = &PanelProps{}
	case KindCollection:
		target = &CollectionProps{}
	case KindModal:
		target = &ModalProps{}
	case KindForm:
		target = &FormProps{}
	default:
		return GenericProps{Values: p.Clone()}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode props: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decode %s props: %w", tag, err)
	}
	return target, nil
}

// EncodeProps converts a typed view back into a props bag.
func EncodeProps(tp TypedProps) Props {
	if g, ok := tp.(GenericProps); ok {
		return g.Values.Clone()
	}
	if g, ok := tp.(*GenericProps); ok {
		return g.Values.Clone()
	}
	data, err := json.Marshal(tp)
	if err != nil {
		return Props{}
	}
	out := Props{}
	_ = json.Unmarshal(data, &out)
	return out
}
