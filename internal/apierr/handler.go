package apierr

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Handler is the opt-in error hook of an editing session: it keeps the last
// error for the banner and a stack of rollback functions registered before
// optimistic changes. Nothing calls it automatically.
type Handler struct {
	mu        sync.Mutex
	last      *Error
	rollbacks []func(context.Context) error
}

func NewHandler() *Handler { return &Handler{} }

// Handle classifies and logs err and remembers it as the last error.
func (h *Handler) Handle(_ context.Context, err error, operation string) *Error {
	if err == nil {
		return nil
	}
	ae := Classify(err, operation)
	log.Printf("[%s] %s: %s", ae.Operation, ae.Type, ae.Message)
	h.mu.Lock()
	h.last = ae
	h.mu.Unlock()
	return ae
}

// LastError returns the error currently shown, or nil.
func (h *Handler) LastError() *Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Dismiss clears the banner.
func (h *Handler) Dismiss() {
	h.mu.Lock()
	h.last = nil
	h.mu.Unlock()
}

// PushRollback registers fn to undo an optimistic change.
func (h *Handler) PushRollback(fn func(context.Context) error) {
	h.mu.Lock()
	h.rollbacks = append(h.rollbacks, fn)
	h.mu.Unlock()
}

// Commit forgets every registered rollback.
func (h *Handler) Commit() {
	h.mu.Lock()
	h.rollbacks = nil
	h.mu.Unlock()
}

// Pending returns the number of registered rollbacks.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rollbacks)
}

// Rollback runs registered rollbacks newest first and clears the stack.
// Every function runs even when an earlier one fails.
func (h *Handler) Rollback(ctx context.Context) error {
	h.mu.Lock()
	fns := h.rollbacks
	h.rollbacks = nil
	h.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
