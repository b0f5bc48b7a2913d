package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/storage"
)

const (
	EventApprovalRequired  = "mcp:approval-required"
	EventApprovalDismissed = "mcp:approval-dismissed"

	defaultApprovalTimeout = 120 * time.Second
	approvalPollInterval   = 500 * time.Millisecond
)

// EventEmitter allows the approval queue to notify connected builders.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// ApprovalPersister is the shared table used when the MCP server runs in its
// own process and the builder answers through the HTTP server.
type ApprovalPersister interface {
	Create(ctx context.Context, a *storage.Approval) error
	Status(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

// PendingAction represents a destructive operation awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	Metadata    string `json:"metadata"` // JSON with extra context (e.g. element IDs)
}

// ApprovalQueue manages human-in-the-loop approval for destructive MCP tool calls.
// It supports two modes:
//   - In-process: channels plus emitted events
//   - Stored (standalone MCP): rows in mcp_approvals, polled for the answer
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan bool
	emitter EventEmitter
	timeout time.Duration
	store   ApprovalPersister
}

// NewApprovalQueue creates a queue. With a non-nil store approvals go
// through the database instead of in-process channels.
func NewApprovalQueue(emitter EventEmitter, store ApprovalPersister) *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]chan bool),
		emitter: emitter,
		timeout: defaultApprovalTimeout,
		store:   store,
	}
}

// SetTimeout changes how long a request waits before it counts as rejected.
func (q *ApprovalQueue) SetTimeout(d time.Duration) {
	q.mu.Lock()
	q.timeout = d
	q.mu.Unlock()
}

// Request asks for approval and blocks until approved, rejected, timed out
// or ctx is done. metadata is optional JSON (e.g. element IDs to highlight).
func (q *ApprovalQueue) Request(ctx context.Context, tool, description, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	action := PendingAction{
		ID:          uuid.New().String(),
		Tool:        tool,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    metadata,
	}

	q.mu.Lock()
	timeout := q.timeout
	q.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if q.store != nil {
		return q.requestStored(ctx, action, timeout)
	}
	return q.requestInProcess(ctx, action, timeout)
}

// requestStored writes a pending approval and polls until resolved.
func (q *ApprovalQueue) requestStored(ctx context.Context, action PendingAction, timeout time.Duration) error {
	err := q.store.Create(ctx, &storage.Approval{
		ID:          action.ID,
		Tool:        action.Tool,
		Description: action.Description,
		Metadata:    action.Metadata,
	})
	if err != nil {
		return err
	}
	// the row goes away whatever the outcome
	defer q.store.Delete(context.WithoutCancel(ctx), action.ID)

	ticker := time.NewTicker(approvalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			status, err := q.store.Status(ctx, action.ID)
			if err != nil {
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return nil
			case storage.ApprovalRejected:
				return fmt.Errorf("action rejected by user: %s", action.Tool)
			}
		case <-ctx.Done():
			return q.expired(ctx, action.Tool, timeout)
		}
	}
}

func (q *ApprovalQueue) requestInProcess(ctx context.Context, action PendingAction, timeout time.Duration) error {
	ch := make(chan bool, 1)
	q.mu.Lock()
	q.pending[action.ID] = ch
	q.mu.Unlock()
	defer q.cleanup(action.ID)

	q.emitter.Emit(ctx, EventApprovalRequired, action)

	select {
	case approved := <-ch:
		if !approved {
			return fmt.Errorf("action rejected by user: %s", action.Tool)
		}
		return nil
	case <-ctx.Done():
		q.emitter.Emit(context.WithoutCancel(ctx), EventApprovalDismissed, map[string]string{"id": action.ID})
		return q.expired(ctx, action.Tool, timeout)
	}
}

func (q *ApprovalQueue) expired(ctx context.Context, tool string, timeout time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("action timed out after %s: %s", timeout, tool)
	}
	return fmt.Errorf("approval for %s: %w", tool, ctx.Err())
}

// Pending returns the ids waiting on an in-process answer.
func (q *ApprovalQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	return ids
}

// Approve marks a pending action as approved (in-process mode).
func (q *ApprovalQueue) Approve(actionID string) {
	q.resolve(actionID, true)
}

// Reject marks a pending action as rejected (in-process mode).
func (q *ApprovalQueue) Reject(actionID string) {
	q.resolve(actionID, false)
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	q.mu.Unlock()
	if ok {
		select {
		case ch <- approved:
		default:
		}
	}
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
