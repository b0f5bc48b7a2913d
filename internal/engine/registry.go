package engine

import (
	"context"
	"sort"

	"pagebuilder/internal/domain"
)

// Handler runs one action. ctx carries the action timeout.
type Handler func(ctx context.Context, a domain.Action, ec Context) (any, error)

// legacyAliases maps snake_case names still found in saved projects to their
// current handler.
var legacyAliases = map[domain.ActionType]domain.ActionType{
	"update_state":      domain.ActionUpdateState,
	"navigate":          domain.ActionNavigate,
	"toggle_visibility": domain.ActionToggleVisibility,
	"show_modal":        domain.ActionShowModal,
	"hide_modal":        domain.ActionHideModal,
	"scroll_to":         domain.ActionScrollTo,
	"copy_to_clipboard": domain.ActionCopyToClipboard,
	"custom_function":   domain.ActionCustomFunction,
	"validate_form":     domain.ActionValidateForm,
	"reset_form":        domain.ActionResetForm,
}

// knownActionTypes is every action type the editor can author.
var knownActionTypes = map[domain.ActionType]bool{
	domain.ActionNavigate:               true,
	domain.ActionUpdateState:            true,
	domain.ActionSetState:               true,
	domain.ActionToggleVisibility:       true,
	domain.ActionShowModal:              true,
	domain.ActionHideModal:              true,
	domain.ActionScrollTo:               true,
	domain.ActionCopyToClipboard:        true,
	domain.ActionCustomFunction:         true,
	domain.ActionValidateForm:           true,
	domain.ActionResetForm:              true,
	domain.ActionSubmitForm:             true,
	domain.ActionShowToast:              true,
	domain.ActionAPICall:                true,
	domain.ActionSetComponentState:      true,
	domain.ActionTriggerComponentAction: true,
	domain.ActionUpdateFormField:        true,
	domain.ActionFilterCollection:       true,
	domain.ActionSelectItem:             true,
	domain.ActionClearSelection:         true,
}

// IsKnownActionType reports whether t is an authored action type or one of
// its legacy aliases.
func IsKnownActionType(t domain.ActionType) bool {
	if knownActionTypes[t] {
		return true
	}
	_, ok := legacyAliases[t]
	return ok
}

func builtinHandlers(e *Engine) map[domain.ActionType]Handler {
	h := map[domain.ActionType]Handler{
		domain.ActionNavigate:               e.navigate,
		domain.ActionUpdateState:            e.updateState,
		domain.ActionSetState:               e.updateState,
		domain.ActionToggleVisibility:       e.toggleVisibility,
		domain.ActionShowModal:              e.showModal,
		domain.ActionHideModal:              e.hideModal,
		domain.ActionScrollTo:               e.scrollTo,
		domain.ActionCopyToClipboard:        e.copyToClipboard,
		domain.ActionCustomFunction:         e.customFunction,
		domain.ActionValidateForm:           e.validateForm,
		domain.ActionResetForm:              e.resetForm,
		domain.ActionSubmitForm:             e.submitForm,
		domain.ActionShowToast:              e.showToast,
		domain.ActionAPICall:                e.apiCall,
		domain.ActionUpdateFormField:        e.updateFormField,
		domain.ActionSetComponentState:      e.relay(domain.ActionSetComponentState, "SET_COMPONENT_STATE"),
		domain.ActionTriggerComponentAction: e.relay(domain.ActionTriggerComponentAction, "TRIGGER_COMPONENT_ACTION"),
		domain.ActionFilterCollection:       e.relay(domain.ActionFilterCollection, "FILTER_COLLECTION"),
		domain.ActionSelectItem:             e.relay(domain.ActionSelectItem, "SELECT_ITEM"),
		domain.ActionClearSelection:         e.relay(domain.ActionClearSelection, "CLEAR_SELECTION"),
	}
	for alias, target := range legacyAliases {
		if _, taken := h[alias]; !taken {
			h[alias] = h[target]
		}
	}
	return h
}

// Register installs or replaces the handler for t.
func (e *Engine) Register(t domain.ActionType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
}

// Unregister removes the handler for t. Known types without a handler fail
// as not implemented.
func (e *Engine) Unregister(t domain.ActionType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, t)
}

// Registered lists the action types that currently have a handler.
func (e *Engine) Registered() []domain.ActionType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ActionType, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
