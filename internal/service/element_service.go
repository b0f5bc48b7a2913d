package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagebuilder/internal/apierr"
	"pagebuilder/internal/domain"
	"pagebuilder/internal/editor"
	"pagebuilder/internal/factory"
	"pagebuilder/internal/hierarchy"
	"pagebuilder/internal/history"
	"pagebuilder/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Element Service: open scopes, optimistic edits, background sync
// ─────────────────────────────────────────────────────────────

// ErrProtectedElement is returned when removing the body of a scope.
var ErrProtectedElement = errors.New("the body element cannot be removed")

// ElementPersister is the element persistence the service needs.
type ElementPersister interface {
	domain.ElementStore
	GetElement(ctx context.Context, id string) (*domain.Element, error)
	GetElementsByScope(ctx context.Context, scope domain.Scope) ([]domain.Element, error)
}

// SnapshotPersister records save points for crash recovery.
type SnapshotPersister interface {
	Push(ctx context.Context, scope domain.Scope, label string, elements []domain.Element) (*storage.Snapshot, error)
	Latest(ctx context.Context, scope domain.Scope) (*storage.Snapshot, error)
}

// ElementsChanged is the payload of EventElementsChanged.
type ElementsChanged struct {
	Scope    domain.Scope      `json:"scope"`
	Kind     editor.ChangeKind `json:"kind"`
	Label    string            `json:"label,omitempty"`
	Elements []domain.Element  `json:"elements"`
	CanUndo  bool              `json:"canUndo"`
	CanRedo  bool              `json:"canRedo"`
}

// PersistFailed is the payload of EventPersistFailed.
type PersistFailed struct {
	Scope   domain.Scope `json:"scope"`
	Type    apierr.Type  `json:"type"`
	Message string       `json:"message"`
}

// ElementServiceOptions tunes background persistence.
type ElementServiceOptions struct {
	HistoryLimit int
	Retry        apierr.RetryOptions
	// SyncTimeout bounds one persistence pass.
	SyncTimeout time.Duration
}

// openScope is one page or layout loaded into its own editor.Store.
type openScope struct {
	scope       domain.Scope
	store       *editor.Store
	unsubscribe func()

	// editMu is held by service edits and by id swaps.
	editMu sync.Mutex

	mu      sync.Mutex
	dirty   bool
	running bool
	label   string
	ids     factory.IDMap

	// syncMu serializes passes over persisted, the last state written.
	syncMu    sync.Mutex
	persisted map[string]domain.Element
}

// ElementService owns the editor stores of open scopes. Every edit is applied
// to the store first and written to storage by a per-scope background loop;
// a burst of edits collapses into one pass.
type ElementService struct {
	elements  ElementPersister
	snapshots SnapshotPersister
	hooks     *ComponentHooks
	emitter   EventEmitter
	errs      *apierr.Handler
	history   *history.History
	trees     *hierarchy.Manager
	opts      ElementServiceOptions
	jobs      jobGuard

	mu     sync.Mutex
	scopes map[string]*openScope
}

// NewElementService creates an ElementService. snapshots and hooks may be nil.
func NewElementService(
	elements ElementPersister,
	snapshots SnapshotPersister,
	hooks *ComponentHooks,
	emitter EventEmitter,
	opts ElementServiceOptions,
) *ElementService {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return &ElementService{
		elements:  elements,
		snapshots: snapshots,
		hooks:     hooks,
		emitter:   emitter,
		errs:      apierr.NewHandler(),
		history:   history.New(opts.HistoryLimit),
		trees:     hierarchy.New(),
		opts:      opts,
		scopes:    make(map[string]*openScope),
	}
}

// Errors returns the handler holding the last persistence failure.
func (s *ElementService) Errors() *apierr.Handler { return s.errs }

// ── Scopes ─────────────────────────────────────────────────

// Open loads scope into a store, or returns the store already open.
func (s *ElementService) Open(ctx context.Context, scope domain.Scope) (*editor.Store, error) {
	sc, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	return sc.store, nil
}

func (s *ElementService) open(ctx context.Context, scope domain.Scope) (*openScope, error) {
	s.mu.Lock()
	if sc, ok := s.scopes[scope.Key()]; ok {
		s.mu.Unlock()
		return sc, nil
	}
	s.mu.Unlock()

	list, err := s.elements.GetElementsByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", scope.Key(), err)
	}
	store := editor.New(s.history)
	store.OpenScope(scope, list)
	sc := &openScope{scope: scope, store: store, ids: factory.IDMap{}, persisted: indexElements(list)}

	s.mu.Lock()
	if existing, ok := s.scopes[scope.Key()]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.scopes[scope.Key()] = sc
	s.mu.Unlock()

	sc.unsubscribe = store.Subscribe(func(c editor.Change) { s.onChange(sc, c) })
	log.Printf("[elements] opened %s (%d elements)", scope.Key(), len(list))
	return sc, nil
}

// Forget drops the store of scope and its undo history. Pending writes are
// not waited for.
func (s *ElementService) Forget(scope domain.Scope) {
	s.mu.Lock()
	sc, ok := s.scopes[scope.Key()]
	delete(s.scopes, scope.Key())
	s.mu.Unlock()
	if ok && sc.unsubscribe != nil {
		sc.unsubscribe()
	}
	s.history.Clear(scope.Key())
}

// OpenScopes lists the scopes currently loaded.
func (s *ElementService) OpenScopes() []domain.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Scope, 0, len(s.scopes))
	for _, sc := range s.scopes {
		out = append(out, sc.scope)
	}
	return out
}

// Locate returns the scope owning element id, looking at open stores first.
func (s *ElementService) Locate(ctx context.Context, id string) (domain.Scope, error) {
	s.mu.Lock()
	for _, sc := range s.scopes {
		if _, ok := sc.store.Element(id); ok {
			s.mu.Unlock()
			return sc.scope, nil
		}
	}
	s.mu.Unlock()
	e, err := s.elements.GetElement(ctx, id)
	if err != nil {
		return domain.Scope{}, err
	}
	return e.Scope(), nil
}

// ResolveID maps a temporary id to its persisted id once it has been saved.
// Unknown ids are returned unchanged.
func (s *ElementService) ResolveID(scope domain.Scope, id string) string {
	s.mu.Lock()
	sc, ok := s.scopes[scope.Key()]
	s.mu.Unlock()
	if !ok {
		return id
	}
	return sc.resolve(id)
}

// ── Reads ──────────────────────────────────────────────────

func (s *ElementService) Elements(ctx context.Context, scope domain.Scope) ([]domain.Element, error) {
	store, err := s.Open(ctx, scope)
	if err != nil {
		return nil, err
	}
	return store.Elements(), nil
}

// Tree builds the element tree of scope.
func (s *ElementService) Tree(ctx context.Context, scope domain.Scope) (*hierarchy.Tree, error) {
	list, err := s.Elements(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.trees.BuildElementTree(list), nil
}

func (s *ElementService) Validate(ctx context.Context, scope domain.Scope) (hierarchy.Validation, error) {
	list, err := s.Elements(ctx, scope)
	if err != nil {
		return hierarchy.Validation{}, err
	}
	return hierarchy.ValidateHierarchy(list), nil
}

// State returns what a builder needs to render page.
func (s *ElementService) State(ctx context.Context, page domain.Page) (*domain.PageState, error) {
	store, err := s.Open(ctx, domain.PageScope(page.ID))
	if err != nil {
		return nil, err
	}
	return &domain.PageState{
		Page:     page,
		Elements: store.Elements(),
		CanUndo:  store.CanUndo(),
		CanRedo:  store.CanRedo(),
	}, nil
}

// ── Edits ──────────────────────────────────────────────────

// edit opens scope and holds its edit lock, so ids resolved by fn cannot be
// remapped underneath it.
func (s *ElementService) edit(ctx context.Context, scope domain.Scope, fn func(sc *openScope) error) error {
	sc, err := s.open(ctx, scope)
	if err != nil {
		return err
	}
	sc.editMu.Lock()
	defer sc.editMu.Unlock()
	return fn(sc)
}

// resolve maps id through the ids swapped by earlier saves. Caller holds
// sc.editMu.
func (sc *openScope) resolve(id string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if final, ok := sc.ids[id]; ok {
		return final
	}
	return id
}

// AddElement adds a single element after its last sibling. An empty id gets
// a temporary one; an element without a parent is placed under the scope's
// body.
func (s *ElementService) AddElement(ctx context.Context, scope domain.Scope, e domain.Element) (domain.Element, error) {
	return s.InsertElement(ctx, scope, e, -1)
}

// InsertElement is AddElement at a 0-based sibling index. A negative index
// appends.
func (s *ElementService) InsertElement(ctx context.Context, scope domain.Scope, e domain.Element, index int) (domain.Element, error) {
	if e.Tag == "" {
		return domain.Element{}, fmt.Errorf("add element: %w: tag is required", ErrInvalidInput)
	}
	var added domain.Element
	err := s.edit(ctx, scope, func(sc *openScope) error {
		if e.ID == "" {
			e.ID = factory.TempIDPrefix + uuid.NewString()
		}
		if e.IsRoot() && e.Tag != domain.TagBody {
			if body := factory.FindBody(sc.store.Elements(), scope); body != nil {
				e.ParentID = domain.NullableID(body.ID)
			}
		} else if !e.IsRoot() {
			e.ParentID = domain.NullableID(sc.resolve(string(e.ParentID)))
		}
		scope.Own(&e)
		add := sc.store.AddElement
		if index >= 0 {
			add = func(e domain.Element) error { return sc.store.InsertElement(e, index) }
		}
		if err := add(e); err != nil {
			return err
		}
		added, _ = sc.store.Element(e.ID)
		return nil
	})
	return added, err
}

// AddComponent creates tag under parentID (the body when empty). Composite
// tags are expanded by the factory into one undoable bundle.
func (s *ElementService) AddComponent(ctx context.Context, scope domain.Scope, tag domain.Tag, parentID string) (*factory.Result, error) {
	if !factory.Has(tag) {
		e, err := s.AddElement(ctx, scope, domain.Element{Tag: tag, ParentID: domain.NullableID(parentID)})
		if err != nil {
			return nil, err
		}
		return &factory.Result{Parent: e, AllElements: []domain.Element{e}}, nil
	}
	var res *factory.Result
	err := s.edit(ctx, scope, func(sc *openScope) error {
		var parent *domain.Element
		if parentID != "" {
			p, ok := sc.store.Element(sc.resolve(parentID))
			if !ok {
				return fmt.Errorf("add %s under %q: %w", tag, parentID, editor.ErrUnknownParent)
			}
			parent = &p
		}
		var err error
		res, err = factory.New(sc.store).CreateComplexComponent(ctx, tag, parent, scope, sc.store.Elements())
		return err
	})
	return res, err
}

// UpdateProps merges (or with merge=false replaces) the props of id.
func (s *ElementService) UpdateProps(ctx context.Context, scope domain.Scope, id string, props domain.Props, merge bool) (domain.Element, error) {
	var updated domain.Element
	err := s.edit(ctx, scope, func(sc *openScope) error {
		var err error
		if merge {
			updated, err = sc.store.UpdateElementProps(sc.resolve(id), props)
		} else {
			updated, err = sc.store.ReplaceElementProps(sc.resolve(id), props)
		}
		return err
	})
	return updated, err
}

// RemoveElement removes id and its subtree.
func (s *ElementService) RemoveElement(ctx context.Context, scope domain.Scope, id string) ([]domain.Element, error) {
	var removed []domain.Element
	err := s.edit(ctx, scope, func(sc *openScope) error {
		id = sc.resolve(id)
		if e, ok := sc.store.Element(id); ok && e.Tag == domain.TagBody && e.IsRoot() {
			return ErrProtectedElement
		}
		var err error
		removed, err = sc.store.RemoveElement(id)
		return err
	})
	return removed, err
}

func (s *ElementService) MoveElement(ctx context.Context, scope domain.Scope, id, parentID string, index int) error {
	return s.edit(ctx, scope, func(sc *openScope) error {
		if parentID != "" {
			parentID = sc.resolve(parentID)
		}
		return sc.store.MoveElement(sc.resolve(id), parentID, index)
	})
}

// SetEvents replaces the event descriptors of id as one undoable edit.
func (s *ElementService) SetEvents(ctx context.Context, scope domain.Scope, id string, events []domain.ElementEvent) error {
	return s.edit(ctx, scope, func(sc *openScope) error {
		_, err := sc.store.SetEvents(sc.resolve(id), events)
		return err
	})
}

func (s *ElementService) Undo(ctx context.Context, scope domain.Scope) (bool, error) {
	store, err := s.Open(ctx, scope)
	if err != nil {
		return false, err
	}
	return store.Undo(), nil
}

func (s *ElementService) Redo(ctx context.Context, scope domain.Scope) (bool, error) {
	store, err := s.Open(ctx, scope)
	if err != nil {
		return false, err
	}
	return store.Redo(), nil
}

// Restore applies the latest persisted snapshot of scope as an undoable
// edit. It reports false when no snapshot exists.
func (s *ElementService) Restore(ctx context.Context, scope domain.Scope) (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	store, err := s.Open(ctx, scope)
	if err != nil {
		return false, err
	}
	snap, err := s.snapshots.Latest(ctx, scope)
	if err != nil || snap == nil {
		return false, err
	}
	if err := store.SetElements(snap.Elements, editor.Options{Label: "Restore " + snap.Label}); err != nil {
		return false, fmt.Errorf("restore snapshot %s: %w", snap.ID, err)
	}
	return true, nil
}

// Reload replaces the store of an open scope with what storage holds when
// they differ, e.g. after another process edited the page. Scopes with
// writes in flight are left alone. It reports whether the store changed.
func (s *ElementService) Reload(ctx context.Context, scope domain.Scope) (bool, error) {
	s.mu.Lock()
	sc, ok := s.scopes[scope.Key()]
	s.mu.Unlock()
	if !ok || s.jobs.Running(persistJob(scope)) {
		return false, nil
	}

	sc.syncMu.Lock()
	list, err := s.elements.GetElementsByScope(ctx, scope)
	if err != nil {
		sc.syncMu.Unlock()
		return false, fmt.Errorf("reload %s: %w", scope.Key(), err)
	}
	if sameAsPersisted(list, sc.persisted) {
		sc.syncMu.Unlock()
		return false, nil
	}
	sc.persisted = indexElements(list)
	sc.syncMu.Unlock()

	log.Printf("[elements] %s changed outside this process, reloading", scope.Key())
	return true, sc.store.SetElements(list, editor.Options{SkipHistory: true, Label: "Reload"})
}

// Persisting lists the scopes whose sync loop is draining.
func (s *ElementService) Persisting() []string {
	return s.jobs.Active()
}

// Flush waits for every scheduled persistence pass to finish.
func (s *ElementService) Flush(ctx context.Context) error {
	return s.jobs.WaitAll(ctx)
}

// ── Background persistence ────────────────────────────────

func persistJob(scope domain.Scope) string { return "persist:" + scope.Key() }

func (s *ElementService) onChange(sc *openScope, c editor.Change) {
	ctx := context.Background()
	s.emitter.Emit(ctx, EventElementsChanged, ElementsChanged{
		Scope:    c.Scope,
		Kind:     c.Kind,
		Label:    c.Label,
		Elements: c.Elements,
		CanUndo:  c.CanUndo,
		CanRedo:  c.CanRedo,
	})
	if c.Kind == editor.ChangeOpen || c.Kind == editor.ChangeRemap {
		return
	}
	s.schedule(sc, c.Label)
}

// schedule marks sc dirty and starts its sync loop unless one is running.
// The guard is taken under sc.mu so Flush never misses a loop.
func (s *ElementService) schedule(sc *openScope, label string) {
	sc.mu.Lock()
	sc.dirty = true
	if label != "" {
		sc.label = label
	}
	if sc.running {
		sc.mu.Unlock()
		return
	}
	sc.running = true
	s.jobs.TryLock(persistJob(sc.scope))
	sc.mu.Unlock()
	go s.syncLoop(sc)
}

func (s *ElementService) syncLoop(sc *openScope) {
	for {
		sc.mu.Lock()
		if !sc.dirty {
			sc.running = false
			s.jobs.Unlock(persistJob(sc.scope))
			sc.mu.Unlock()
			return
		}
		sc.dirty = false
		label := sc.label
		sc.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SyncTimeout)
		if err := s.syncOnce(ctx, sc, label); err != nil {
			ae := s.errs.Handle(ctx, err, "persist "+sc.scope.Key())
			s.emitter.Emit(ctx, EventPersistFailed, PersistFailed{Scope: sc.scope, Type: ae.Type, Message: apierr.UserMessage(ae)})
			s.resync(ctx, sc)
		}
		cancel()
	}
}

// syncOnce writes the difference between the store and the last persisted
// state: new elements parent-first, then updates, then deletions.
func (s *ElementService) syncOnce(ctx context.Context, sc *openScope, label string) error {
	sc.syncMu.Lock()
	defer sc.syncMu.Unlock()

	current := sc.store.Elements()
	wrote := false
	var added []domain.Element
	for _, e := range current {
		if _, ok := sc.persisted[e.ID]; !ok {
			added = append(added, e)
		}
	}
	if len(added) > 0 {
		saver := factory.NewBatchSaver(retryingCreator{s}, scopeRemapper{sc})
		ids, err := saver.Save(ctx, added)
		s.recordCreated(ctx, sc, added, ids)
		if err != nil {
			return err
		}
		wrote = true
		current = sc.store.Elements()
	}

	live := make(map[string]bool, len(current))
	for _, e := range current {
		live[e.ID] = true
		if strings.HasPrefix(e.ID, factory.TempIDPrefix) {
			// added while this pass ran; the next pass saves it
			continue
		}
		prev, ok := sc.persisted[e.ID]
		if !ok {
			continue
		}
		switch {
		case structureChanged(prev, e):
			if _, err := withRetry(ctx, s.opts.Retry, "update element", func(ctx context.Context) (*domain.Element, error) {
				return s.elements.UpdateElement(ctx, e.ID, &e)
			}); err != nil {
				return err
			}
		case !sameJSON(prev.Props, e.Props):
			if _, err := withRetry(ctx, s.opts.Retry, "update element props", func(ctx context.Context) (*domain.Element, error) {
				return s.elements.UpdateElementProps(ctx, e.ID, e.Props)
			}); err != nil {
				return err
			}
		default:
			continue
		}
		wrote = true
		sc.persisted[e.ID] = e
	}

	for id, prev := range sc.persisted {
		if live[id] {
			continue
		}
		if _, err := withRetry(ctx, s.opts.Retry, "delete element", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.elements.DeleteElement(ctx, id)
		}); err != nil {
			return err
		}
		wrote = true
		delete(sc.persisted, id)
		if err := s.hooks.OnDelete(ctx, prev); err != nil {
			log.Printf("[elements] %v", err)
		}
	}

	if wrote && s.snapshots != nil {
		if _, err := s.snapshots.Push(ctx, sc.scope, label, sc.store.Elements()); err != nil {
			log.Printf("[elements] snapshot %s: %v", sc.scope.Key(), err)
		}
	}
	return nil
}

// scopeRemapper swaps an id in the store and records it for resolve in one
// step under the edit lock.
type scopeRemapper struct{ sc *openScope }

func (r scopeRemapper) RemapID(oldID, newID string) error {
	r.sc.editMu.Lock()
	defer r.sc.editMu.Unlock()
	if err := r.sc.store.RemapID(oldID, newID); err != nil {
		return err
	}
	r.sc.mu.Lock()
	r.sc.ids[oldID] = newID
	r.sc.mu.Unlock()
	return nil
}

// recordCreated notes what BatchSaver wrote, under the final ids, even when
// the batch stopped half way.
func (s *ElementService) recordCreated(ctx context.Context, sc *openScope, added []domain.Element, ids factory.IDMap) {
	for _, e := range added {
		id, ok := ids[e.ID]
		if !ok {
			continue
		}
		e.ID = id
		if pid, ok := ids[string(e.ParentID)]; ok {
			e.ParentID = domain.NullableID(pid)
		}
		sc.persisted[id] = e
		if err := s.hooks.OnCreate(ctx, e); err != nil {
			log.Printf("[elements] %v", err)
		}
	}
}

// resync reloads the persisted baseline after a failed pass so the next
// pass writes whatever is still missing.
func (s *ElementService) resync(ctx context.Context, sc *openScope) {
	sc.syncMu.Lock()
	defer sc.syncMu.Unlock()
	list, err := s.elements.GetElementsByScope(ctx, sc.scope)
	if err != nil {
		log.Printf("[elements] resync %s: %v", sc.scope.Key(), err)
		return
	}
	sc.persisted = indexElements(list)
}

func withRetry[T any](ctx context.Context, opts apierr.RetryOptions, op string, fn func(context.Context) (T, error)) (T, error) {
	opts.Operation = op
	return apierr.WithRetry(ctx, fn, opts)
}

// retryingCreator retries each CreateElement on its own, so a failed batch
// never re-creates elements that were already saved.
type retryingCreator struct{ s *ElementService }

func (r retryingCreator) CreateElement(ctx context.Context, e *domain.Element) (*domain.Element, error) {
	return withRetry(ctx, r.s.opts.Retry, "create element", func(ctx context.Context) (*domain.Element, error) {
		return r.s.elements.CreateElement(ctx, e)
	})
}

func indexElements(list []domain.Element) map[string]domain.Element {
	m := make(map[string]domain.Element, len(list))
	for _, e := range list {
		m[e.ID] = e.Clone()
	}
	return m
}

func structureChanged(a, b domain.Element) bool {
	return a.Tag != b.Tag ||
		a.ParentID != b.ParentID ||
		a.PageID != b.PageID ||
		a.LayoutID != b.LayoutID ||
		a.OrderNum != b.OrderNum ||
		!sameJSON(a.Events, b.Events)
}

// sameJSON compares through the stored encoding, so 1 and 1.0 are equal.
func sameJSON(a, b any) bool {
	x, err1 := json.Marshal(a)
	y, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}

func sameAsPersisted(list []domain.Element, persisted map[string]domain.Element) bool {
	if len(list) != len(persisted) {
		return false
	}
	for _, e := range list {
		prev, ok := persisted[e.ID]
		if !ok || structureChanged(prev, e) || !sameJSON(prev.Props, e.Props) {
			return false
		}
	}
	return true
}
