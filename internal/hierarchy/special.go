package hierarchy

import "pagebuilder/internal/domain"

// itemTags lists the child tag each collection-like component renders.
var itemTags = map[domain.Tag]domain.Tag{
	"Tree":              "TreeItem",
	"ToggleButtonGroup": "ToggleButton",
	"CheckboxGroup":     "Checkbox",
	"RadioGroup":        "Radio",
	"Select":            "SelectItem",
	"ComboBox":          "ComboBoxItem",
	"ListBox":           "ListBoxItem",
	"GridList":          "GridListItem",
	"TagGroup":          "Tag",
}

// GetSpecialComponentChildren selects the children a component renders.
// Tabs pairs its Tab and Panel children by sorted position (tab0, panel0,
// tab1, panel1, ...), not by tabId; uneven tails are kept.
func GetSpecialComponentChildren(parentID string, elements []domain.Element, componentType domain.Tag) []domain.Element {
	children := GetOrderedChildren(parentID, elements)

	if componentType == domain.TagTabs {
		var tabs, panels []domain.Element
		for _, c := range children {
			switch c.Tag {
			case domain.TagTab:
				tabs = append(tabs, c)
			case domain.TagPanel:
				panels = append(panels, c)
			}
		}
		paired := make([]domain.Element, 0, len(tabs)+len(panels))
		for i := 0; i < max(len(tabs), len(panels)); i++ {
			if i < len(tabs) {
				paired = append(paired, tabs[i])
			}
			if i < len(panels) {
				paired = append(paired, panels[i])
			}
		}
		return paired
	}

	if item, ok := itemTags[componentType]; ok {
		var out []domain.Element
		for _, c := range children {
			if c.Tag == item {
				out = append(out, c)
			}
		}
		return out
	}
	return children
}
