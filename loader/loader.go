// Package loader drives page-by-page fetching of the catalog: it owns the
// in-order live item list, the page cursor and loading flags, and the
// single-flight guard that keeps overlapping viewport triggers from fetching
// the same page twice.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/metric"
	"github.com/c360/catalogstream/pagecache"
	"github.com/c360/catalogstream/pkg/retry"
)

// State is a point-in-time copy of the loader's public state
type State struct {
	// Items is the de-duplicated concatenation across fetched pages,
	// ordered by the active sort mode
	Items []catalog.Item

	// CurrentPage is the highest contiguously loaded page (0 = none yet)
	CurrentPage int

	// TotalCount is the catalog size estimate (valid when TotalKnown)
	TotalCount int
	TotalKnown bool

	HasMore       bool
	IsLoading     bool
	IsLoadingMore bool

	// Err is the last fetch error, cleared by the next successful fetch
	Err error
}

// Deps holds loader dependencies
type Deps struct {
	Source  Source
	Cache   *pagecache.Cache
	Config  Config
	Logger  *slog.Logger
	Metrics *metric.Registry // optional
	Name    string           // metric label, defaults to "loader"
}

// Loader implements incremental catalog loading over a page cache.
// All state mutation happens on the caller's goroutine except the stale-page
// background refetch, which is generation-gated so a late result can never
// resurrect state after Refresh or Close.
type Loader struct {
	source  Source
	cache   *pagecache.Cache
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Registry
	name    string
	limiter *rate.Limiter

	mu          sync.Mutex
	items       []catalog.Item
	present     map[string]struct{}
	currentPage int
	hasMore     bool
	isLoading   bool
	loadingMore bool
	inFlight    bool
	lastErr     error
	generation  uint64
	closed      bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates a loader. Source and Cache are required.
func New(deps Deps) (*Loader, error) {
	if deps.Source == nil {
		return nil, errors.WrapFatal(errors.ErrNoSource, "Loader", "New", "source required")
	}
	if deps.Cache == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Loader", "New", "page cache required")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := deps.Name
	if name == "" {
		name = "loader"
	}

	var limiter *rate.Limiter
	if deps.Config.FetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(deps.Config.FetchRate), deps.Config.FetchBurst)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &Loader{
		source:   deps.Source,
		cache:    deps.Cache,
		cfg:      deps.Config,
		logger:   logger,
		metrics:  deps.Metrics,
		name:     name,
		limiter:  limiter,
		present:  make(map[string]struct{}),
		hasMore:  true,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}, nil
}

// LoadInitial populates the loader from cache or the source per the
// freshness policy: fresh cache serves with zero network calls, stale cache
// serves optimistically and reconciles a background refetch, expired or
// empty cache blocks on a page 1 fetch.
func (l *Loader) LoadInitial(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.WrapFatal(errors.ErrSessionClosed, "Loader", "LoadInitial", "load")
	}
	gen := l.generation
	l.mu.Unlock()

	switch l.cache.TierOf(1) {
	case pagecache.TierFresh:
		l.populateFromCache(gen)
		return nil

	case pagecache.TierStale:
		l.populateFromCache(gen)
		l.refetchInBackground(gen, 1)
		return nil

	default: // expired or never fetched
		l.mu.Lock()
		if gen != l.generation {
			l.mu.Unlock()
			return nil
		}
		l.isLoading = true
		l.mu.Unlock()

		err := l.fetchAndApply(ctx, gen, 1)

		l.mu.Lock()
		if gen == l.generation {
			l.isLoading = false
		}
		l.mu.Unlock()
		return err
	}
}

// LoadMore fetches the next page. It is single-flight: the in-flight guard
// is checked and set atomically with respect to the triggering event, so N
// triggers before the first fetch resolves issue exactly one network call.
// On failure no list state is mutated and the guard is released, so the next
// trigger retries the same page.
func (l *Loader) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.WrapFatal(errors.ErrSessionClosed, "Loader", "LoadMore", "load")
	}
	if !l.hasMore || l.inFlight || l.isLoading {
		l.mu.Unlock()
		return nil
	}
	l.inFlight = true
	l.loadingMore = true
	gen := l.generation
	next := l.currentPage + 1
	l.mu.Unlock()

	// Guard release must run on every exit path. A refresh mid-flight bumps
	// the generation and resets the flags itself; don't clobber its state.
	defer func() {
		l.mu.Lock()
		if gen == l.generation {
			l.inFlight = false
			l.loadingMore = false
		}
		l.mu.Unlock()
	}()

	if entry, ok := l.cache.Get(next); ok && l.cache.TierOf(next) != pagecache.TierExpired {
		l.applyPage(gen, next, entry.Items)
		if l.cache.TierOf(next) == pagecache.TierStale {
			l.refetchInBackground(gen, next)
		}
		return nil
	}

	return l.fetchAndApply(ctx, gen, next)
}

// Refresh discards everything and reloads page 1 from the source: cache
// entries are dropped, the live list empties momentarily, and any in-flight
// fetch from before the refresh is discarded when it resolves.
func (l *Loader) Refresh(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.WrapFatal(errors.ErrSessionClosed, "Loader", "Refresh", "refresh")
	}
	l.generation++
	l.items = nil
	l.present = make(map[string]struct{})
	l.currentPage = 0
	l.hasMore = true
	l.inFlight = false
	l.loadingMore = false
	l.lastErr = nil
	l.mu.Unlock()

	l.cache.InvalidateAll()
	return l.LoadInitial(ctx)
}

// Close invalidates the loader: pending background refetches are cancelled
// and any fetch that resolves afterwards is discarded.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.generation++
	l.mu.Unlock()

	l.bgCancel()
	l.bgWG.Wait()
}

// Snapshot returns a copy of the public loader state
func (l *Loader) Snapshot() State {
	total, known := l.cache.TotalCount()

	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]catalog.Item, len(l.items))
	copy(items, l.items)

	return State{
		Items:         items,
		CurrentPage:   l.currentPage,
		TotalCount:    total,
		TotalKnown:    known,
		HasMore:       l.hasMore,
		IsLoading:     l.isLoading,
		IsLoadingMore: l.loadingMore,
		Err:           l.lastErr,
	}
}

// Busy reports whether any load is in progress. The viewport trigger
// evaluates this at fire time.
func (l *Loader) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLoading || l.loadingMore || l.inFlight
}

// HasMore reports whether more pages exist
func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// fetchAndApply performs one rate-limited source fetch and folds the result
// into the cache and the live list. On error nothing but lastErr changes.
func (l *Loader) fetchAndApply(ctx context.Context, gen uint64, page int) error {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return l.recordFetchError(gen, page, err)
		}
	}

	started := time.Now()
	result, err := l.source.FetchPage(ctx, page, l.cfg.PageSize)
	elapsed := time.Since(started)

	if l.metrics != nil {
		l.metrics.Core.FetchDuration.WithLabelValues(l.name).Observe(elapsed.Seconds())
	}

	if err != nil {
		return l.recordFetchError(gen, page, err)
	}

	if l.metrics != nil {
		l.metrics.Core.PagesFetched.WithLabelValues(l.name, "ok").Inc()
	}

	l.mu.Lock()
	stale := gen != l.generation
	l.mu.Unlock()
	if stale {
		l.logger.Debug("discarding fetch result from previous generation", "page", page)
		return nil
	}

	l.cache.Put(page, result.Items)
	if result.Total >= 0 {
		l.cache.SetTotalCount(result.Total)
	}
	l.applyPage(gen, page, result.Items)

	// Sources that can't count the catalog report HasMore per page instead
	if _, known := l.cache.TotalCount(); !known {
		l.mu.Lock()
		if gen == l.generation {
			l.hasMore = result.HasMore
		}
		l.mu.Unlock()
	}

	l.logger.Debug("page loaded",
		"page", page,
		"items", len(result.Items),
		"total", result.Total,
		"duration", elapsed)
	return nil
}

// recordFetchError surfaces a transient fetch error without touching list state
func (l *Loader) recordFetchError(gen uint64, page int, err error) error {
	wrapped := errors.WrapTransient(err, "Loader", "LoadMore", fmt.Sprintf("page %d fetch", page))

	if l.metrics != nil {
		l.metrics.Core.PagesFetched.WithLabelValues(l.name, "error").Inc()
		l.metrics.Core.ErrorsTotal.WithLabelValues("loader", errors.Classify(wrapped).String()).Inc()
	}

	l.mu.Lock()
	if gen == l.generation {
		l.lastErr = wrapped
	}
	l.mu.Unlock()

	l.logger.Warn("page fetch failed", "page", page, "error", err)
	return wrapped
}

// applyPage appends a page's items to the live list, skipping IDs already
// present, and advances the cursor. Pages arrive pre-sorted from the source
// so appending in page order preserves the global ordering.
func (l *Loader) applyPage(gen uint64, page int, items []catalog.Item) {
	total, known := l.cache.TotalCount()

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		return
	}

	for _, item := range items {
		if _, dup := l.present[item.ID]; dup {
			continue
		}
		l.items = append(l.items, item)
		l.present[item.ID] = struct{}{}
	}

	if page > l.currentPage {
		l.currentPage = page
	}
	if known {
		l.hasMore = len(l.items) < total
	}
	l.lastErr = nil
}

// populateFromCache seeds the live list from every cached page (warm start)
func (l *Loader) populateFromCache(gen uint64) {
	items := l.cache.AllItems()
	last := l.cache.LastPage()
	total, known := l.cache.TotalCount()

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		return
	}

	l.items = l.items[:0]
	l.present = make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := l.present[item.ID]; dup {
			continue
		}
		l.items = append(l.items, item)
		l.present[item.ID] = struct{}{}
	}
	l.currentPage = last
	if known {
		l.hasMore = len(l.items) < total
	}

	l.logger.Debug("populated from cache", "pages", last, "items", len(l.items))
}

// refetchInBackground refreshes a stale page without blocking the caller.
// The result is reconciled only if the generation is still current when the
// retry loop finishes.
func (l *Loader) refetchInBackground(gen uint64, page int) {
	l.bgWG.Add(1)
	go func() {
		defer l.bgWG.Done()

		result, err := retry.DoWithResult(l.bgCtx, l.cfg.BackgroundRetry, func() (catalog.Page, error) {
			return l.source.FetchPage(l.bgCtx, page, l.cfg.PageSize)
		})
		if err != nil {
			l.logger.Warn("background refetch failed", "page", page, "error", err)
			return
		}

		l.mu.Lock()
		stale := gen != l.generation
		l.mu.Unlock()
		if stale {
			return
		}

		l.cache.Put(page, result.Items)
		if result.Total >= 0 {
			l.cache.SetTotalCount(result.Total)
		}
		// Re-seed the live list so the stale-served view converges on the
		// fetched truth
		l.populateFromCache(gen)
	}()
}

// InsertItem splices a new item into the live list at its sorted position.
// Returns false when the ID is already present.
func (l *Loader) InsertItem(item catalog.Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.present[item.ID]; dup {
		return false
	}

	at := sort.Search(len(l.items), func(i int) bool {
		return l.cfg.SortMode.Less(item, l.items[i])
	})
	l.items = append(l.items, catalog.Item{})
	copy(l.items[at+1:], l.items[at:])
	l.items[at] = item
	l.present[item.ID] = struct{}{}
	return true
}

// UpdateItem patches an item in place, relocating it only when the new sort
// key violates the ordering against its neighbors. Returns false when the ID
// is not in the live list.
func (l *Loader) UpdateItem(item catalog.Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.items {
		if l.items[i].ID == item.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	l.items[idx] = item

	ordered := true
	if idx > 0 && l.cfg.SortMode.Less(item, l.items[idx-1]) {
		ordered = false
	}
	if idx < len(l.items)-1 && l.cfg.SortMode.Less(l.items[idx+1], item) {
		ordered = false
	}
	if ordered {
		return true
	}

	// Sort key moved: remove then reinsert at the new position
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	at := sort.Search(len(l.items), func(i int) bool {
		return l.cfg.SortMode.Less(item, l.items[i])
	})
	l.items = append(l.items, catalog.Item{})
	copy(l.items[at+1:], l.items[at:])
	l.items[at] = item
	return true
}

// RemoveItem drops an item from the live list. Returns false when absent.
func (l *Loader) RemoveItem(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.items {
		if l.items[i].ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			delete(l.present, id)
			return true
		}
	}
	return false
}

// LastItem returns the final item of the live list, if any. The reconciler
// compares against it to decide whether an inserted item lands inside the
// loaded window.
func (l *Loader) LastItem() (catalog.Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return catalog.Item{}, false
	}
	return l.items[len(l.items)-1], true
}

// ContainsItem reports whether the ID is in the live list
func (l *Loader) ContainsItem(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.present[id]
	return ok
}
