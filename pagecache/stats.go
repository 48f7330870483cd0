package pagecache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks page cache activity. Always collected; Prometheus export
// is layered on top via WithMetrics.
type Statistics struct {
	// Atomic counters for thread-safe updates
	hits          int64
	misses        int64
	puts          int64
	patches       int64
	stalePatches  int64
	removals      int64
	inserts       int64
	invalidations int64

	// Protected by mutex
	mu        sync.RWMutex
	startTime time.Time
	pages     int64
	items     int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Hit records a page cache hit
func (s *Statistics) Hit() { atomic.AddInt64(&s.hits, 1) }

// Miss records a page cache miss
func (s *Statistics) Miss() { atomic.AddInt64(&s.misses, 1) }

// Put records a page store
func (s *Statistics) Put() { atomic.AddInt64(&s.puts, 1) }

// Patch records an applied item patch
func (s *Statistics) Patch() { atomic.AddInt64(&s.patches, 1) }

// StalePatch records a version-gated rejected patch
func (s *Statistics) StalePatch() { atomic.AddInt64(&s.stalePatches, 1) }

// Removal records an item removal
func (s *Statistics) Removal() { atomic.AddInt64(&s.removals, 1) }

// Insert records an item insertion
func (s *Statistics) Insert() { atomic.AddInt64(&s.inserts, 1) }

// Invalidation records a dropped page entry
func (s *Statistics) Invalidation() { atomic.AddInt64(&s.invalidations, 1) }

// UpdateSize records the current page and item counts
func (s *Statistics) UpdateSize(pages, items int64) {
	s.mu.Lock()
	s.pages = pages
	s.items = items
	s.mu.Unlock()
}

// Hits returns the total number of page cache hits
func (s *Statistics) Hits() int64 { return atomic.LoadInt64(&s.hits) }

// Misses returns the total number of page cache misses
func (s *Statistics) Misses() int64 { return atomic.LoadInt64(&s.misses) }

// Puts returns the total number of page stores
func (s *Statistics) Puts() int64 { return atomic.LoadInt64(&s.puts) }

// Patches returns the total number of applied item patches
func (s *Statistics) Patches() int64 { return atomic.LoadInt64(&s.patches) }

// StalePatches returns the total number of version-gated rejected patches
func (s *Statistics) StalePatches() int64 { return atomic.LoadInt64(&s.stalePatches) }

// Removals returns the total number of item removals
func (s *Statistics) Removals() int64 { return atomic.LoadInt64(&s.removals) }

// Inserts returns the total number of item insertions
func (s *Statistics) Inserts() int64 { return atomic.LoadInt64(&s.inserts) }

// Invalidations returns the total number of dropped page entries
func (s *Statistics) Invalidations() int64 { return atomic.LoadInt64(&s.invalidations) }

// Pages returns the current number of cached pages
func (s *Statistics) Pages() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages
}

// Items returns the current number of cached items
func (s *Statistics) Items() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

// HitRatio returns hits / (hits + misses), or 0 when no lookups occurred
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Uptime returns the elapsed time since the statistics tracker was created
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}
