package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"pagebuilder/internal/cache"
	"pagebuilder/internal/datasource"
	"pagebuilder/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Binding Service: collection data for ListBox, Table, Select ...
// ─────────────────────────────────────────────────────────────

// ErrRefreshRunning is returned when a binding is already being refreshed.
var ErrRefreshRunning = errors.New("refresh already running")

const (
	refreshTimeout  = 30 * time.Second
	refreshParallel = 4
)

// collectionTags are the element tags that can carry a data binding.
var collectionTags = []domain.Tag{"ListBox", "GridList", "Select", "ComboBox", "TagGroup", "Tree", "Table", "DataTable", "Menu"}

// BindingInput is the service-layer DTO for creating/updating bindings.
type BindingInput struct {
	ElementID    string         `json:"elementId"`
	SourceType   string         `json:"sourceType"`
	SourceConfig map[string]any `json:"sourceConfig"`
	RefreshCron  string         `json:"refreshCron"`
	TTLSeconds   int            `json:"ttlSeconds"`
}

// BindingPersister stores data bindings.
type BindingPersister interface {
	CreateBinding(ctx context.Context, b *domain.DataBinding) error
	GetBinding(ctx context.Context, id string) (*domain.DataBinding, error)
	ListBindings(ctx context.Context) ([]domain.DataBinding, error)
	ListBindingsByElement(ctx context.Context, elementID string) ([]domain.DataBinding, error)
	UpdateBinding(ctx context.Context, b *domain.DataBinding) error
	DeleteBinding(ctx context.Context, id string) error
}

// BindingService resolves collection data through the cache and refreshes it
// on cron schedules.
type BindingService struct {
	store       BindingPersister
	sources     *datasource.Registry
	cache       *cache.CollectionDataCache
	emitter     EventEmitter
	runningJobs jobGuard

	// cron lifecycle
	mu        sync.Mutex
	baseCtx   context.Context
	cronSched *cron.Cron
}

func NewBindingService(
	store BindingPersister,
	sources *datasource.Registry,
	c *cache.CollectionDataCache,
	emitter EventEmitter,
) *BindingService {
	return &BindingService{
		store:   store,
		sources: sources,
		cache:   c,
		emitter: emitter,
		baseCtx: context.Background(),
	}
}

// ── Binding CRUD ───────────────────────────────────────────

func (s *BindingService) validate(input BindingInput) error {
	if input.ElementID == "" {
		return fmt.Errorf("binding: %w: elementId is required", ErrInvalidInput)
	}
	if _, err := s.sources.GetSource(input.SourceType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.RefreshCron != "" {
		if _, err := cron.ParseStandard(input.RefreshCron); err != nil {
			return fmt.Errorf("%w: refresh schedule %q: %v", ErrInvalidInput, input.RefreshCron, err)
		}
	}
	return nil
}

func (s *BindingService) CreateBinding(ctx context.Context, input BindingInput) (*domain.DataBinding, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	b := &domain.DataBinding{
		ElementID:    input.ElementID,
		SourceType:   input.SourceType,
		SourceConfig: input.SourceConfig,
		RefreshCron:  input.RefreshCron,
		TTLSeconds:   input.TTLSeconds,
	}
	if err := s.store.CreateBinding(ctx, b); err != nil {
		return nil, fmt.Errorf("create binding: %w", err)
	}
	if b.RefreshCron != "" {
		s.RestartSchedules(ctx)
	}
	return b, nil
}

func (s *BindingService) GetBinding(ctx context.Context, id string) (*domain.DataBinding, error) {
	return s.store.GetBinding(ctx, id)
}

func (s *BindingService) ListBindings(ctx context.Context) ([]domain.DataBinding, error) {
	return s.store.ListBindings(ctx)
}

func (s *BindingService) ListBindingsByElement(ctx context.Context, elementID string) ([]domain.DataBinding, error) {
	return s.store.ListBindingsByElement(ctx, elementID)
}

// UpdateBinding rewrites a binding and drops its cached data.
func (s *BindingService) UpdateBinding(ctx context.Context, id string, input BindingInput) error {
	if err := s.validate(input); err != nil {
		return err
	}
	b, err := s.store.GetBinding(ctx, id)
	if err != nil {
		return err
	}
	rescheduled := b.RefreshCron != input.RefreshCron
	b.ElementID = input.ElementID
	b.SourceType = input.SourceType
	b.SourceConfig = input.SourceConfig
	b.RefreshCron = input.RefreshCron
	b.TTLSeconds = input.TTLSeconds
	if err := s.store.UpdateBinding(ctx, b); err != nil {
		return err
	}
	s.cache.Delete(id)
	if rescheduled {
		s.RestartSchedules(ctx)
	}
	return nil
}

func (s *BindingService) DeleteBinding(ctx context.Context, id string) error {
	if err := s.store.DeleteBinding(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(id)
	s.RestartSchedules(ctx)
	return nil
}

// DeleteForElement removes every binding of an element.
func (s *BindingService) DeleteForElement(ctx context.Context, elementID string) error {
	bindings, err := s.store.ListBindingsByElement(ctx, elementID)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if err := s.store.DeleteBinding(ctx, b.ID); err != nil {
			return err
		}
		s.cache.Delete(b.ID)
	}
	if len(bindings) > 0 {
		log.Printf("[bindings] removed %d binding(s) of deleted element %s", len(bindings), elementID)
		s.RestartSchedules(ctx)
	}
	return nil
}

// ListSources returns the available source descriptors.
func (s *BindingService) ListSources() []datasource.SourceSpec {
	return s.sources.ListSources()
}

// ── Resolve / Refresh ─────────────────────────────────────

// Resolve returns the binding's items from the cache, fetching them on a
// miss. Concurrent misses share one fetch.
func (s *BindingService) Resolve(ctx context.Context, id string) (*domain.CollectionData, error) {
	b, err := s.store.GetBinding(ctx, id)
	if err != nil {
		return nil, err
	}
	v, cached, err := s.cache.GetOrLoad(ctx, b.ID, b.TTL(), func(ctx context.Context) (any, error) {
		return s.fetch(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	data := *v.(*domain.CollectionData)
	data.Cached = cached
	return &data, nil
}

// Refresh refetches a binding regardless of the cache and tells listeners.
func (s *BindingService) Refresh(ctx context.Context, id string) (*domain.CollectionData, error) {
	jobID := "refresh:" + id
	if !s.runningJobs.TryLock(jobID) {
		return nil, fmt.Errorf("binding %s: %w", id, ErrRefreshRunning)
	}
	defer s.runningJobs.Unlock(jobID)

	b, err := s.store.GetBinding(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.fetch(ctx, b)
	if err != nil {
		return nil, err
	}
	s.cache.Set(b.ID, data, b.TTL())
	s.emitter.Emit(ctx, EventCollectionRefreshed, data)
	return data, nil
}

// RefreshAll refreshes every binding, a few at a time. Failures are joined;
// one failing source does not stop the others.
func (s *BindingService) RefreshAll(ctx context.Context) (int, error) {
	bindings, err := s.store.ListBindings(ctx)
	if err != nil {
		return 0, err
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
		ok   int
	)
	g.SetLimit(refreshParallel)
	for _, b := range bindings {
		g.Go(func() error {
			_, err := s.Refresh(ctx, b.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("binding %s: %w", b.ID, err))
			} else {
				ok++
			}
			return nil
		})
	}
	_ = g.Wait()
	return ok, errors.Join(errs...)
}

func (s *BindingService) fetch(ctx context.Context, b *domain.DataBinding) (*domain.CollectionData, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	items, err := s.sources.Collect(fetchCtx, b.SourceType, datasource.Config(b.SourceConfig))
	if err != nil {
		return nil, err
	}
	return &domain.CollectionData{BindingID: b.ID, Items: items, FetchedAt: time.Now()}, nil
}

// CacheStats exposes the collection cache counters.
func (s *BindingService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// ── Schedules (cron) ───────────────────────────────────────

// Start schedules refreshes for every binding with a refresh cron. Scheduled
// runs use ctx.
func (s *BindingService) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.RestartSchedules(ctx)
}

// RestartSchedules tears down the current cron and rebuilds it from scratch.
func (s *BindingService) RestartSchedules(ctx context.Context) {
	s.stopSchedules()

	bindings, err := s.store.ListBindings(ctx)
	if err != nil {
		log.Printf("bindings cron: failed to list bindings: %v", err)
		return
	}

	s.mu.Lock()
	runCtx := s.baseCtx
	s.mu.Unlock()

	c := cron.New()
	scheduled := 0
	for _, b := range bindings {
		if b.RefreshCron == "" {
			continue
		}
		bid := b.ID
		_, err := c.AddFunc(b.RefreshCron, func() {
			if _, err := s.Refresh(runCtx, bid); err != nil && !errors.Is(err, ErrRefreshRunning) {
				log.Printf("bindings cron: refresh %s failed: %v", bid, err)
			}
		})
		if err != nil {
			log.Printf("bindings cron: invalid expression %q for binding %s: %v", b.RefreshCron, bid, err)
			continue
		}
		scheduled++
	}
	if scheduled == 0 {
		return
	}
	c.Start()
	s.mu.Lock()
	s.cronSched = c
	s.mu.Unlock()
	log.Printf("bindings cron: scheduled %d binding(s)", scheduled)
}

// Scheduled returns the number of cron entries currently registered.
func (s *BindingService) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cronSched == nil {
		return 0
	}
	return len(s.cronSched.Entries())
}

// Refreshing lists the refresh jobs in flight ("refresh:<bindingId>").
func (s *BindingService) Refreshing() []string {
	return s.runningJobs.Active()
}

// WaitRunning blocks until all running refreshes finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *BindingService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down the scheduler.
func (s *BindingService) Stop() {
	s.stopSchedules()
}

func (s *BindingService) stopSchedules() {
	s.mu.Lock()
	c := s.cronSched
	s.cronSched = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// ── Component hooks ───────────────────────────────────────

// Hooks returns the lifecycle hooks that drop bindings of deleted
// collection elements.
func (s *BindingService) Hooks() []ComponentHook {
	hooks := make([]ComponentHook, 0, len(collectionTags))
	for _, t := range collectionTags {
		hooks = append(hooks, bindingCleanup{svc: s, tag: t})
	}
	return hooks
}

type bindingCleanup struct {
	svc *BindingService
	tag domain.Tag
}

func (h bindingCleanup) Tag() domain.Tag { return h.tag }

func (h bindingCleanup) OnCreate(context.Context, domain.Element) error { return nil }

func (h bindingCleanup) OnDelete(ctx context.Context, e domain.Element) error {
	return h.svc.DeleteForElement(ctx, e.ID)
}
