// Package engine executes element events: ordered action lists run against a
// Host document, with per-action and per-event timeouts and a state bag
// owned by each Engine instance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"pagebuilder/internal/domain"
)

const (
	DefaultActionTimeout = 5 * time.Second
	DefaultEventTimeout  = 10 * time.Second
)

// Context is what an event fired with.
type Context struct {
	Element   *domain.Element
	ElementID string
	Event     map[string]any
}

// Options configures an Engine. Zero values take the defaults.
type Options struct {
	Host          Host
	Poster        Poster
	HTTPClient    *http.Client
	Logger        *log.Logger
	ActionTimeout time.Duration
	EventTimeout  time.Duration
	// Console receives console.* calls made by custom functions.
	Console func(level string, args ...any)
}

// Engine runs events. Each instance owns its state; concurrent events on one
// instance share it with last-write-wins semantics.
type Engine struct {
	host          Host
	poster        Poster
	client        *http.Client
	logger        *log.Logger
	actionTimeout time.Duration
	eventTimeout  time.Duration
	console       func(level string, args ...any)

	mu       sync.RWMutex
	state    map[string]any
	handlers map[domain.ActionType]Handler
}

// New creates an Engine with every built-in handler registered.
func New(opts Options) *Engine {
	if opts.Host == nil {
		opts.Host = NewMemoryHost(false)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = DefaultEventTimeout
	}
	e := &Engine{
		host:          opts.Host,
		poster:        opts.Poster,
		client:        opts.HTTPClient,
		logger:        opts.Logger,
		actionTimeout: opts.ActionTimeout,
		eventTimeout:  opts.EventTimeout,
		console:       opts.Console,
		state:         map[string]any{},
	}
	if e.console == nil {
		e.console = func(level string, args ...any) {
			e.logger.Printf("[Custom Function] %s: %s", level, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
		}
	}
	e.handlers = builtinHandlers(e)
	return e
}

// ── State ──────────────────────────────────────────────────

func (e *Engine) SetState(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state[key] = value
}

// State returns a shallow copy of the state bag.
func (e *Engine) State() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.state))
	for k, v := range e.state {
		out[k] = v
	}
	return out
}

// Cleanup clears the state bag.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = map[string]any{}
}

// ── Execution ──────────────────────────────────────────────

// results collects action results; once sealed, late results from an event
// that already timed out are dropped.
type results struct {
	mu     sync.Mutex
	list   []domain.ActionResult
	sealed bool
}

func (r *results) add(ar domain.ActionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sealed {
		r.list = append(r.list, ar)
	}
}

func (r *results) seal() []domain.ActionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	return append([]domain.ActionResult(nil), r.list...)
}

// ExecuteEvent runs the enabled actions of ev in order. A failing or timed
// out action is recorded and the next one still runs. If the whole event
// exceeds the event timeout, one synthetic failure is appended and the
// remaining actions are abandoned.
func (e *Engine) ExecuteEvent(ctx context.Context, ev domain.ElementEvent, ec Context) domain.EventResult {
	eventCtx, cancel := context.WithTimeout(ctx, e.eventTimeout)
	defer cancel()

	res := &results{}
	done := make(chan struct{})
	var aborted bool
	go func() {
		defer close(done)
		for _, a := range ev.Actions {
			if !a.IsEnabled() {
				continue
			}
			if eventCtx.Err() != nil {
				aborted = true
				return
			}
			if a.Condition != "" && !e.conditionHolds(a.Condition) {
				continue
			}
			data, err := e.runWithTimeout(eventCtx, a, ec)
			if errors.Is(err, errAborted) {
				aborted = true
				return
			}
			if err != nil {
				e.logger.Printf("[EventEngine] action %s (%s) failed: %v", a.ID, a.Type, err)
				res.add(domain.ActionResult{ActionID: a.ID, Success: false, Error: err.Error()})
				continue
			}
			res.add(domain.ActionResult{ActionID: a.ID, Success: true, Data: data})
		}
	}()

	var list []domain.ActionResult
	select {
	case <-done:
		list = res.seal()
		if aborted {
			list = append(list, e.abortResult(ctx))
		}
	case <-eventCtx.Done():
		list = res.seal()
		list = append(list, e.abortResult(ctx))
	}

	out := domain.EventResult{Success: true, ActionResults: list}
	for _, r := range list {
		if !r.Success {
			out.Success = false
			break
		}
	}
	return out
}

// errAborted marks an action cut short by the event deadline or by the
// caller; it never shows up in a result.
var errAborted = errors.New("event aborted")

func (e *Engine) abortResult(ctx context.Context) domain.ActionResult {
	if err := ctx.Err(); err != nil {
		return domain.ActionResult{ActionID: "event", Success: false, Error: err.Error()}
	}
	return domain.ActionResult{ActionID: "event", Success: false, Error: "Event execution timeout"}
}

// runWithTimeout honors the action delay, then runs the handler bounded by
// the action timeout. The handler's context is cancelled on timeout; a
// handler that ignores it keeps running in the background.
func (e *Engine) runWithTimeout(ctx context.Context, a domain.Action, ec Context) (any, error) {
	if a.Delay > 0 {
		t := time.NewTimer(time.Duration(a.Delay) * time.Millisecond)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, errAborted
		}
	}

	actx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		data, err := e.executeAction(actx, a, ec)
		ch <- outcome{data, err}
	}()

	select {
	case o := <-ch:
		return o.data, o.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, errAborted
		}
		return nil, fmt.Errorf("Action timeout: %s", a.Type)
	}
}

func (e *Engine) executeAction(ctx context.Context, a domain.Action, ec Context) (any, error) {
	e.mu.RLock()
	h, ok := e.handlers[a.Type]
	e.mu.RUnlock()
	if !ok {
		if IsKnownActionType(a.Type) {
			return nil, fmt.Errorf("Action type not implemented: %s", a.Type)
		}
		return nil, fmt.Errorf("Unknown action type: %s", a.Type)
	}
	return h(ctx, a, ec)
}

// conditionHolds evaluates "key", "state.key" or "!state.key" against the
// state bag using JavaScript truthiness.
func (e *Engine) conditionHolds(cond string) bool {
	cond = strings.TrimSpace(cond)
	negate := strings.HasPrefix(cond, "!")
	key := strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(cond, "!")), "state.")
	e.mu.RLock()
	v := e.state[key]
	e.mu.RUnlock()
	return truthy(v) != negate
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
