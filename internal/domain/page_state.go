package domain

// PageState is everything a builder needs to render one page.
type PageState struct {
	Page     Page      `json:"page"`
	Elements []Element `json:"elements"`
	CanUndo  bool      `json:"canUndo"`
	CanRedo  bool      `json:"canRedo"`
}
