package factory

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"pagebuilder/internal/domain"
)

// Node is the declarative shape of one element in a composite component.
type Node struct {
	Tag      domain.Tag
	Props    domain.Props
	Children []Node
}

// Creator returns a fresh definition. Definitions are built per call so
// generated values (tab ids) differ between instances.
type Creator func() Node

func leaf(tag domain.Tag, props domain.Props) Node {
	if props == nil {
		props = domain.Props{}
	}
	return Node{Tag: tag, Props: props}
}

func text(tag domain.Tag, children string) Node {
	return leaf(tag, domain.Props{"children": children})
}

func node(tag domain.Tag, props domain.Props, children ...Node) Node {
	n := leaf(tag, props)
	n.Children = children
	return n
}

func column() domain.Props {
	return domain.Props{"style": map[string]any{"display": "flex", "flexDirection": "column", "gap": "4px", "width": "100%"}}
}

// ─────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────

var definitions = map[domain.Tag]Creator{
	// Form components
	"TextField":   textField,
	"TextArea":    textArea,
	"Form":        form,
	"Toast":       toast,
	"Toolbar":     toolbar,
	"NumberField": numberField,
	"SearchField": searchField,
	"Slider":      slider,

	// Groups
	"Group":             group,
	"ToggleButtonGroup": toggleButtonGroup,
	"Switcher":          switcher,
	"CheckboxGroup":     checkboxGroup,
	"RadioGroup":        radioGroup,
	"Checkbox":          labelled("Checkbox"),
	"Radio":             labelled("Radio"),
	"Switch":            labelled("Switch"),
	"TagGroup":          tagGroup,
	"Breadcrumbs":       breadcrumbs,

	// Selection
	"Select":   selectBox,
	"ComboBox": comboBox,
	"ListBox":  items("ListBox", "ListBoxItem", 3),
	"GridList": items("GridList", "GridListItem", 4),

	// Layout
	"Card": card,
	"Tabs": tabs,
	"Tree": tree,

	// Navigation
	"Menu":            menu,
	"Disclosure":      disclosure,
	"DisclosureGroup": disclosureGroup,

	// Overlays
	"Dialog":  dialog,
	"Popover": popover,
	"Tooltip": tooltip,

	// Data
	"Table":     table,
	"DataTable": dataTable,
	"Slot":      slot,

	// Date and color
	"DatePicker":      datePicker,
	"DateRangePicker": dateRangePicker,
	"Calendar":        calendar,
	"ColorPicker":     colorPicker,
	"DateField":       segmented("DateField", "Date", "DateSegment", "MM", "DD", "YYYY"),
	"TimeField":       segmented("TimeField", "Time", "TimeSegment", "HH", "MM", "SS"),
	"ColorField":      colorField,
}

// Tags lists every tag with a registered creator, sorted.
func Tags() []domain.Tag {
	out := make([]domain.Tag, 0, len(definitions))
	for t := range definitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether tag is a composite component.
func Has(tag domain.Tag) bool {
	_, ok := definitions[tag]
	return ok
}

// ── Form components ────────────────────────────────────────

func textField() Node {
	return node("TextField",
		domain.Props{"label": "Text Field", "placeholder": "Enter text...", "value": "", "type": "text", "isRequired": false, "isDisabled": false, "isReadOnly": false},
		text("Label", "Text Field"),
		leaf("Input", domain.Props{"placeholder": "Enter text...", "type": "text"}),
		text("Description", ""),
		text("FieldError", ""),
	)
}

func textArea() Node {
	return node("TextArea",
		domain.Props{"label": "Text Area", "placeholder": "Enter text...", "value": "", "rows": 4},
		text("Label", "Text Area"),
		leaf("Input", domain.Props{"placeholder": "Enter text...", "multiline": true}),
		text("Description", ""),
	)
}

func form() Node {
	field := func(label string) Node {
		return node("FormField", column(),
			text("Label", label),
			leaf("TextField", domain.Props{"label": "Text Field", "placeholder": "Enter value...", "value": "", "type": "text"}),
		)
	}
	return node("Form",
		domain.Props{"style": map[string]any{"display": "flex", "flexDirection": "column", "gap": "16px", "width": "100%"}},
		field("Field Label"),
		field("Another Field"),
	)
}

func toast() Node {
	return node("Toast", domain.Props{"variant": "info"},
		text("Heading", "Toast Title"),
		text("Description", "Toast message content."),
	)
}

func toolbar() Node {
	return node("Toolbar", domain.Props{"orientation": "horizontal"},
		text("Button", "Action 1"),
		text("Button", "Action 2"),
		leaf(domain.TagDivider, domain.Props{"orientation": "vertical"}),
		text("Button", "Action 3"),
	)
}

func numberField() Node {
	return node("NumberField", domain.Props{"label": "Number", "value": 0, "step": 1},
		text("Label", "Number"),
		text("Button", "−"),
		leaf("Input", domain.Props{"type": "number"}),
		text("Button", "+"),
	)
}

func searchField() Node {
	return node("SearchField", domain.Props{"label": "Search", "placeholder": "Search..."},
		text("Label", "Search"),
		leaf("Input", domain.Props{"type": "search", "placeholder": "Search..."}),
		text("Button", "✕"),
	)
}

func slider() Node {
	return node("Slider", domain.Props{"label": "Slider", "value": 50, "minValue": 0, "maxValue": 100},
		text("Label", "Slider"),
		text("SliderOutput", "50"),
		node("SliderTrack", nil, leaf("SliderThumb", nil)),
	)
}

// ── Groups ─────────────────────────────────────────────────

func group() Node {
	return leaf("Group", domain.Props{"style": map[string]any{"display": "flex", "gap": "8px"}})
}

func toggleButtonGroup() Node {
	return node("ToggleButtonGroup", domain.Props{"selectionMode": "single"},
		text("ToggleButton", "Toggle 1"),
		text("ToggleButton", "Toggle 2"),
	)
}

func switcher() Node {
	return node("Switcher", domain.Props{"selectionMode": "single"},
		text("ToggleButton", "Tab 1"),
		text("ToggleButton", "Tab 2"),
	)
}

func checkboxGroup() Node {
	return node("CheckboxGroup", domain.Props{"label": "Checkbox Group"},
		text("Checkbox", "Option 1"),
		text("Checkbox", "Option 2"),
	)
}

func radioGroup() Node {
	return node("RadioGroup", domain.Props{"label": "Radio Group"},
		text("Radio", "Option 1"),
		text("Radio", "Option 2"),
	)
}

// labelled builds a control that renders its caption as a Label child.
func labelled(tag domain.Tag) Creator {
	return func() Node {
		return node(tag, domain.Props{"children": string(tag)}, text("Label", string(tag)))
	}
}

func tagGroup() Node {
	return node("TagGroup", domain.Props{"label": "Tag Group", "selectionMode": "none"},
		text("Label", "Tag Group"),
		node("TagList", nil, text("Tag", "Tag 1"), text("Tag", "Tag 2")),
	)
}

func breadcrumbs() Node {
	return node("Breadcrumbs", nil,
		text("Breadcrumb", "Home"),
		text("Breadcrumb", "Category"),
		text("Breadcrumb", "Page"),
	)
}

// ── Selection ──────────────────────────────────────────────

func selectBox() Node {
	return node("Select", domain.Props{"label": "Select", "placeholder": "Choose an option..."},
		text("Label", "Select"),
		node("SelectTrigger", nil, text("SelectValue", "Choose an option..."), text("SelectIcon", "")),
		text("SelectItem", "Option 1"),
	)
}

func comboBox() Node {
	return node("ComboBox", domain.Props{"label": "Combo Box"},
		text("Label", "Combo Box"),
		node("ComboBoxWrapper", nil, text("ComboBoxInput", ""), text("ComboBoxTrigger", "")),
		text("ComboBoxItem", "Option 1"),
	)
}

// items builds a collection with n numbered item children.
func items(tag, itemTag domain.Tag, n int) Creator {
	return func() Node {
		children := make([]Node, n)
		for i := range children {
			children[i] = text(itemTag, "Item "+strconv.Itoa(i+1))
		}
		return node(tag, domain.Props{"selectionMode": "single"}, children...)
	}
}

// ── Layout ─────────────────────────────────────────────────

func card() Node {
	return node("Card", domain.Props{"variant": "default"},
		text("Heading", "Card Title"),
		text("Description", "Card description."),
		text("Text", "Card content"),
	)
}

// tabs pairs each Tab with a Panel through a shared tabId.
func tabs() Node {
	pair := func(n int) (Node, Node) {
		id := uuid.NewString()
		title := "Tab " + strconv.Itoa(n)
		return leaf(domain.TagTab, domain.Props{"title": title, "tabId": id}),
			leaf(domain.TagPanel, domain.Props{"title": "Panel " + strconv.Itoa(n), "tabId": id})
	}
	t1, p1 := pair(1)
	t2, p2 := pair(2)
	return node(domain.TagTabs, domain.Props{"orientation": "horizontal", "defaultSelectedKey": t1.Props.String("tabId")}, t1, p1, t2, p2)
}

func tree() Node {
	return node("Tree", domain.Props{"selectionMode": "single"},
		node("TreeItem", domain.Props{"title": "Folder"}, leaf("TreeItem", domain.Props{"title": "File"})),
		leaf("TreeItem", domain.Props{"title": "Item"}),
	)
}

// ── Navigation ─────────────────────────────────────────────

func menu() Node {
	return node("Menu", domain.Props{"label": "Menu"},
		text("MenuItem", "Item 1"),
		text("MenuItem", "Item 2"),
		text("MenuItem", "Item 3"),
	)
}

func disclosure() Node {
	return node("Disclosure", domain.Props{"title": "Disclosure"},
		text("DisclosureHeader", "Disclosure"),
		text("DisclosurePanel", "Disclosure content"),
	)
}

func disclosureGroup() Node {
	return node("DisclosureGroup", domain.Props{"allowsMultipleExpanded": false}, disclosure(), disclosure())
}

// ── Overlays ───────────────────────────────────────────────

func dialog() Node {
	return node(domain.TagDialog, domain.Props{"title": "Dialog", "isDismissable": true},
		text("Heading", "Dialog Title"),
		text("Text", "Dialog content"),
		text("Button", "Close"),
	)
}

func popover() Node {
	return node("Popover", domain.Props{"placement": "bottom"},
		text("Heading", "Popover Title"),
		text("Text", "Popover content"),
	)
}

func tooltip() Node {
	return node("Tooltip", domain.Props{"placement": "top"}, text("Text", "Tooltip"))
}

// ── Data ───────────────────────────────────────────────────

// table is the deepest composite: Table, header/body sections, columns and
// rows, then cells.
func table() Node {
	cols := []string{"Name", "Email", "Role"}
	header := make([]Node, len(cols))
	for i, c := range cols {
		header[i] = leaf("Column", domain.Props{"children": c, "key": c})
	}
	rows := make([]Node, 2)
	for r := range rows {
		cells := make([]Node, len(cols))
		for i := range cols {
			cells[i] = text("Cell", "")
		}
		rows[r] = node("Row", nil, cells...)
	}
	return node(domain.TagTable, domain.Props{"selectionMode": "none"},
		node("TableHeader", nil, header...),
		node("TableBody", nil, rows...),
	)
}

func dataTable() Node {
	return leaf("DataTable", domain.Props{"bindingId": "", "columns": []any{}})
}

func slot() Node {
	return leaf(domain.TagSlot, domain.Props{"name": "content"})
}

// ── Date and color ─────────────────────────────────────────

func datePicker() Node {
	return node("DatePicker", domain.Props{"label": "Date"},
		leaf("DateField", domain.Props{"label": "Date"}),
		leaf("Calendar", nil),
	)
}

func dateRangePicker() Node {
	return node("DateRangePicker", domain.Props{"label": "Date Range"},
		leaf("DateField", domain.Props{"slot": "start"}),
		leaf(domain.TagDivider, domain.Props{"children": "–"}),
		leaf("DateField", domain.Props{"slot": "end"}),
	)
}

func calendar() Node {
	return node("Calendar", nil,
		text("CalendarHeader", ""),
		leaf("CalendarGrid", nil),
	)
}

// segmented builds a field with a Label and one child per segment.
func segmented(tag domain.Tag, label string, segTag domain.Tag, segments ...string) Creator {
	return func() Node {
		children := []Node{text("Label", label)}
		for _, s := range segments {
			children = append(children, leaf(segTag, domain.Props{"children": s, "placeholder": s}))
		}
		return node(tag, domain.Props{"label": label}, children...)
	}
}

func colorField() Node {
	return node("ColorField", domain.Props{"label": "Color", "value": "#000000"},
		text("Label", "Color"),
		leaf("Input", domain.Props{"type": "text", "value": "#000000"}),
		leaf("ColorSwatch", domain.Props{"color": "#000000"}),
	)
}

func colorPicker() Node {
	return node("ColorPicker", domain.Props{"value": "#000000"},
		leaf("ColorArea", nil),
		leaf("ColorSlider", domain.Props{"channel": "hue"}),
		leaf("ColorField", domain.Props{"label": "Hex"}),
	)
}
