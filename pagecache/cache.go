// Package pagecache provides keyed, freshness-aware storage for fetched
// catalog pages. It is a passive in-memory structure: no I/O originates here
// and no background goroutines run.
package pagecache

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/metric"
)

// Entry is a materialized view of one cached page
type Entry struct {
	Page      int
	Items     []catalog.Item
	FetchedAt time.Time
}

// pageEntry is the internal arena-style page record: an ordered list of item
// IDs plus the fetch timestamp. Item bodies live in a single map so patches
// and removals are O(1) regardless of page count.
type pageEntry struct {
	ids       []string
	fetchedAt time.Time
}

// Cache stores fetched pages with per-page freshness and an independently
// tracked total-count estimate. Pages are 1-indexed and need not be
// contiguous: a warm-start cache can hold pages 1 and 3 while page 2 is
// refetched lazily.
type Cache struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	items map[string]catalog.Item
	pages map[int]*pageEntry
	index map[string]int // item ID -> owning page

	total      int
	totalAt    time.Time
	totalKnown bool

	stats   *Statistics
	metrics *cacheMetrics
}

// Option configures cache behavior using the functional options pattern
type Option func(*cacheOptions)

type cacheOptions struct {
	metricsReg    *metric.Registry
	metricsPrefix string
	clock         func() time.Time
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil, this option is ignored.
func WithMetrics(registry *metric.Registry, prefix string) Option {
	return func(opts *cacheOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithClock overrides the time source. Used by tests to control freshness
// tiers deterministically.
func WithClock(clock func() time.Time) Option {
	return func(opts *cacheOptions) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

// New creates a page cache with the given configuration
func New(cfg Config, options ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &cacheOptions{clock: time.Now}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &Cache{
		cfg:     cfg,
		now:     opts.clock,
		items:   make(map[string]catalog.Item),
		pages:   make(map[int]*pageEntry),
		index:   make(map[string]int),
		stats:   NewStatistics(),
		metrics: metrics,
	}, nil
}

// Get retrieves a cached page. No side effects beyond hit/miss accounting.
func (c *Cache) Get(page int) (Entry, bool) {
	c.mu.RLock()
	pe, exists := c.pages[page]
	var entry Entry
	if exists {
		entry = Entry{
			Page:      page,
			Items:     c.materialize(pe.ids),
			FetchedAt: pe.fetchedAt,
		}
	}
	c.mu.RUnlock()

	if exists {
		c.stats.Hit()
		if c.metrics != nil {
			c.metrics.hits.Inc()
		}
	} else {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
	}

	return entry, exists
}

// Put stores or wholesale-overwrites a page entry, stamping its fetch time.
// An item that was previously cached under a different page migrates here:
// the catalog renumbers items across pages as it changes, and the cache must
// never hold the same ID twice.
func (c *Cache) Put(page int, items []catalog.Item) {
	now := c.now()

	c.mu.Lock()
	if old, exists := c.pages[page]; exists {
		for _, id := range old.ids {
			if c.index[id] == page {
				delete(c.items, id)
				delete(c.index, id)
			}
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if prev, exists := c.index[item.ID]; exists && prev != page {
			c.removeFromPage(prev, item.ID)
		}
		ids = append(ids, item.ID)
		c.items[item.ID] = item
		c.index[item.ID] = page
	}

	c.pages[page] = &pageEntry{ids: ids, fetchedAt: now}
	pages, count := len(c.pages), len(c.items)
	c.mu.Unlock()

	c.stats.Put()
	c.stats.UpdateSize(int64(pages), int64(count))
	if c.metrics != nil {
		c.metrics.puts.Inc()
		c.metrics.updateSize(pages, count)
	}
}

// PatchItem replaces a cached item in place if the incoming version advances
// past the stored one. Returns true when the patch was applied; a stale patch
// is a recorded no-op, not an error. Position within the page is never
// changed here - sort-key moves are the reconciler's remove-then-reinsert.
func (c *Cache) PatchItem(item catalog.Item) bool {
	c.mu.Lock()
	existing, exists := c.items[item.ID]
	applied := exists && item.Version > existing.Version
	if applied {
		c.items[item.ID] = item
	}
	c.mu.Unlock()

	if !exists {
		return false
	}
	if applied {
		c.stats.Patch()
		if c.metrics != nil {
			c.metrics.patches.Inc()
		}
	} else {
		c.stats.StalePatch()
	}
	return applied
}

// RemoveItem removes the item from its owning page. The page simply shrinks
// by one; item-to-page assignment of other pages is untouched and the total
// count is adjusted separately by the caller.
func (c *Cache) RemoveItem(id string) bool {
	c.mu.Lock()
	page, exists := c.index[id]
	if exists {
		c.removeFromPage(page, id)
	}
	pages, count := len(c.pages), len(c.items)
	c.mu.Unlock()

	if !exists {
		return false
	}

	c.stats.Removal()
	c.stats.UpdateSize(int64(pages), int64(count))
	if c.metrics != nil {
		c.metrics.removals.Inc()
		c.metrics.updateSize(pages, count)
	}
	return true
}

// InsertItem splices a new item into the given page at its sorted position,
// opening the page if it was never cached. Returns false if the ID is already
// present anywhere in the cache.
func (c *Cache) InsertItem(page int, item catalog.Item) bool {
	if item.ID == "" {
		return false
	}
	now := c.now()

	c.mu.Lock()
	if _, exists := c.index[item.ID]; exists {
		c.mu.Unlock()
		return false
	}

	pe, exists := c.pages[page]
	if !exists {
		pe = &pageEntry{fetchedAt: now}
		c.pages[page] = pe
	}

	at := sort.Search(len(pe.ids), func(i int) bool {
		return c.cfg.SortMode.Less(item, c.items[pe.ids[i]])
	})
	pe.ids = append(pe.ids, "")
	copy(pe.ids[at+1:], pe.ids[at:])
	pe.ids[at] = item.ID

	c.items[item.ID] = item
	c.index[item.ID] = page
	pages, count := len(c.pages), len(c.items)
	c.mu.Unlock()

	c.stats.Insert()
	c.stats.UpdateSize(int64(pages), int64(count))
	if c.metrics != nil {
		c.metrics.updateSize(pages, count)
	}
	return true
}

// Invalidate drops a page entry, forcing a refetch on next access
func (c *Cache) Invalidate(page int) bool {
	c.mu.Lock()
	pe, exists := c.pages[page]
	if exists {
		for _, id := range pe.ids {
			if c.index[id] == page {
				delete(c.items, id)
				delete(c.index, id)
			}
		}
		delete(c.pages, page)
	}
	pages, count := len(c.pages), len(c.items)
	c.mu.Unlock()

	if !exists {
		return false
	}

	c.stats.Invalidation()
	c.stats.UpdateSize(int64(pages), int64(count))
	if c.metrics != nil {
		c.metrics.invalidations.Inc()
		c.metrics.updateSize(pages, count)
	}
	return true
}

// InvalidateAll drops every entry and forgets the total count
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	dropped := len(c.pages)
	c.items = make(map[string]catalog.Item)
	c.pages = make(map[int]*pageEntry)
	c.index = make(map[string]int)
	c.totalKnown = false
	c.total = 0
	c.mu.Unlock()

	for i := 0; i < dropped; i++ {
		c.stats.Invalidation()
		if c.metrics != nil {
			c.metrics.invalidations.Inc()
		}
	}
	c.stats.UpdateSize(0, 0)
	if c.metrics != nil {
		c.metrics.updateSize(0, 0)
	}
}

// AllItems returns the concatenation of all cached pages in page order, for
// cache-warm display before network confirmation.
func (c *Cache) AllItems() []catalog.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pages := make([]int, 0, len(c.pages))
	for page := range c.pages {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	var items []catalog.Item
	for _, page := range pages {
		items = append(items, c.materialize(c.pages[page].ids)...)
	}
	return items
}

// Pages returns the cached page numbers in ascending order
func (c *Cache) Pages() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pages := make([]int, 0, len(c.pages))
	for page := range c.pages {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

// GetItem returns a cached item by ID
func (c *Cache) GetItem(id string) (catalog.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, exists := c.items[id]
	return item, exists
}

// ContainsItem reports whether the ID is cached on any page
func (c *Cache) ContainsItem(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.index[id]
	return exists
}

// PageOf returns the page currently owning the item
func (c *Cache) PageOf(id string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	page, exists := c.index[id]
	return page, exists
}

// LastPage returns the highest cached page number, or 0 when empty
func (c *Cache) LastPage() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	last := 0
	for page := range c.pages {
		if page > last {
			last = page
		}
	}
	return last
}

// Mode returns the sort mode the cache splices by
func (c *Cache) Mode() catalog.SortMode {
	return c.cfg.SortMode
}

// TotalCount returns the tracked total-count estimate and whether one is known
func (c *Cache) TotalCount() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total, c.totalKnown
}

// SetTotalCount records an authoritative total from a page fetch
func (c *Cache) SetTotalCount(n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	c.total = n
	c.totalAt = c.now()
	c.totalKnown = true
	c.mu.Unlock()
}

// AdjustTotalCount applies an event-driven delta to the estimate without
// touching its fetch timestamp - freshness tracks the last authoritative
// fetch, not reconciler drift.
func (c *Cache) AdjustTotalCount(delta int) {
	c.mu.Lock()
	if c.totalKnown {
		c.total += delta
		if c.total < 0 {
			c.total = 0
		}
	}
	c.mu.Unlock()
}

// TierOf classifies a page against the freshness policy
func (c *Cache) TierOf(page int) Tier {
	c.mu.RLock()
	pe, exists := c.pages[page]
	var fetchedAt time.Time
	if exists {
		fetchedAt = pe.fetchedAt
	}
	c.mu.RUnlock()

	if !exists {
		return TierMissing
	}
	return c.cfg.tierOf(c.now().Sub(fetchedAt))
}

// TotalTier classifies the total-count estimate against the freshness policy
func (c *Cache) TotalTier() Tier {
	c.mu.RLock()
	known := c.totalKnown
	at := c.totalAt
	c.mu.RUnlock()

	if !known {
		return TierMissing
	}
	return c.cfg.tierOf(c.now().Sub(at))
}

// IsFresh reports whether the page can be served without refetch
func (c *Cache) IsFresh(page int) bool { return c.TierOf(page) == TierFresh }

// IsStale reports whether the page should be served optimistically while a
// background refetch reconciles
func (c *Cache) IsStale(page int) bool { return c.TierOf(page) == TierStale }

// Len returns the current number of cached items
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// PageCount returns the current number of cached pages
func (c *Cache) PageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}

// Stats returns cache statistics
func (c *Cache) Stats() *Statistics {
	return c.stats
}

// materialize resolves an ID list to item values. Caller must hold the lock.
func (c *Cache) materialize(ids []string) []catalog.Item {
	items := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		if item, exists := c.items[id]; exists {
			items = append(items, item)
		}
	}
	return items
}

// removeFromPage drops one ID from a page's list and the arena maps.
// Caller must hold the lock.
func (c *Cache) removeFromPage(page int, id string) {
	pe, exists := c.pages[page]
	if exists {
		for i, cur := range pe.ids {
			if cur == id {
				pe.ids = append(pe.ids[:i], pe.ids[i+1:]...)
				break
			}
		}
	}
	delete(c.items, id)
	delete(c.index, id)
}
