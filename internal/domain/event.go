package domain

// EventType is the DOM event an ElementEvent listens to.
type EventType string

const (
	EventClick      EventType = "onClick"
	EventFocus      EventType = "onFocus"
	EventBlur       EventType = "onBlur"
	EventChange     EventType = "onChange"
	EventSubmit     EventType = "onSubmit"
	EventKeyDown    EventType = "onKeyDown"
	EventKeyUp      EventType = "onKeyUp"
	EventMouseEnter EventType = "onMouseEnter"
	EventMouseLeave EventType = "onMouseLeave"
)

// ActionType names an action handler in the event engine registry.
type ActionType string

const (
	ActionNavigate               ActionType = "navigate"
	ActionUpdateState            ActionType = "updateState"
	ActionSetState               ActionType = "setState"
	ActionToggleVisibility       ActionType = "toggleVisibility"
	ActionShowModal              ActionType = "showModal"
	ActionHideModal              ActionType = "hideModal"
	ActionScrollTo               ActionType = "scrollTo"
	ActionCopyToClipboard        ActionType = "copyToClipboard"
	ActionCustomFunction         ActionType = "customFunction"
	ActionValidateForm           ActionType = "validateForm"
	ActionResetForm              ActionType = "resetForm"
	ActionSubmitForm             ActionType = "submitForm"
	ActionShowToast              ActionType = "showToast"
	ActionAPICall                ActionType = "apiCall"
	ActionSetComponentState      ActionType = "setComponentState"
	ActionTriggerComponentAction ActionType = "triggerComponentAction"
	ActionUpdateFormField        ActionType = "updateFormField"
	ActionFilterCollection       ActionType = "filterCollection"
	ActionSelectItem             ActionType = "selectItem"
	ActionClearSelection         ActionType = "clearSelection"
)

// Action is one step of an ElementEvent.
type Action struct {
	ID        string         `json:"id"`
	Type      ActionType     `json:"type"`
	Enabled   *bool          `json:"enabled,omitempty"`
	Delay     int            `json:"delay,omitempty"` // milliseconds
	Condition string         `json:"condition,omitempty"`
	Value     map[string]any `json:"value,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (a Action) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// Clone copies the payload maps and the enabled flag.
func (a Action) Clone() Action {
	c := a
	c.Enabled = cloneFlag(a.Enabled)
	c.Value = map[string]any(Props(a.Value).Clone())
	c.Config = map[string]any(Props(a.Config).Clone())
	return c
}

// ElementEvent binds an ordered action list to an event type.
type ElementEvent struct {
	ID        string    `json:"id"`
	EventType EventType `json:"event_type"`
	Actions   []Action  `json:"actions"`
	Enabled   *bool     `json:"enabled,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (e ElementEvent) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// Clone deep-copies the event and its actions.
func (e ElementEvent) Clone() ElementEvent {
	c := e
	c.Enabled = cloneFlag(e.Enabled)
	if e.Actions != nil {
		c.Actions = make([]Action, len(e.Actions))
		for i, a := range e.Actions {
			c.Actions[i] = a.Clone()
		}
	}
	return c
}

// CloneEvents deep-copies an event list.
func CloneEvents(events []ElementEvent) []ElementEvent {
	if events == nil {
		return nil
	}
	out := make([]ElementEvent, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

func cloneFlag(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	ActionID string `json:"actionId"`
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EventResult aggregates the action results of one event execution.
type EventResult struct {
	Success       bool           `json:"success"`
	ActionResults []ActionResult `json:"actionResults"`
}
