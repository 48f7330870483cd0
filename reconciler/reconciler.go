// Package reconciler folds change-feed events into the page cache and the
// loader's live list. Events are applied one at a time in arrival order;
// a bad event is counted and skipped, never allowed to stop the stream.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/loader"
	"github.com/c360/catalogstream/metric"
	"github.com/c360/catalogstream/pagecache"
)

// Drop reasons used for the events-dropped counter
const (
	reasonMalformed   = "malformed"
	reasonStale       = "stale"
	reasonUnknown     = "unknown"
	reasonOutOfWindow = "out_of_window"
	reasonPanic       = "panic"
)

// Stats counts reconciler activity with always-on atomic counters
type Stats struct {
	inserts     atomic.Int64
	updates     atomic.Int64
	deletes     atomic.Int64
	deferred    atomic.Int64
	dropStale   atomic.Int64
	dropUnknown atomic.Int64
	dropBad     atomic.Int64
	panics      atomic.Int64
}

// Inserts returns applied insert events
func (s *Stats) Inserts() int64 { return s.inserts.Load() }

// Updates returns applied update events
func (s *Stats) Updates() int64 { return s.updates.Load() }

// Deletes returns applied delete events
func (s *Stats) Deletes() int64 { return s.deletes.Load() }

// Deferred returns inserts outside the loaded window, folded into the total
// count only
func (s *Stats) Deferred() int64 { return s.deferred.Load() }

// DroppedStale returns updates rejected by the version gate
func (s *Stats) DroppedStale() int64 { return s.dropStale.Load() }

// DroppedUnknown returns updates and deletes for items never loaded
func (s *Stats) DroppedUnknown() int64 { return s.dropUnknown.Load() }

// DroppedMalformed returns events that failed validation
func (s *Stats) DroppedMalformed() int64 { return s.dropBad.Load() }

// Panics returns events whose application panicked
func (s *Stats) Panics() int64 { return s.panics.Load() }

// Deps holds reconciler dependencies
type Deps struct {
	Cache   *pagecache.Cache
	Loader  *loader.Loader
	Logger  *slog.Logger
	Metrics *metric.Registry // optional
	Name    string           // metric label, defaults to "reconciler"
}

// Reconciler applies catalog change events to the cache and live list
type Reconciler struct {
	cache   *pagecache.Cache
	loader  *loader.Loader
	logger  *slog.Logger
	metrics *metric.Registry
	name    string
	stats   Stats
}

// New creates a reconciler over the given cache and loader
func New(deps Deps) (*Reconciler, error) {
	if deps.Cache == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Reconciler", "New", "page cache required")
	}
	if deps.Loader == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Reconciler", "New", "loader required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := deps.Name
	if name == "" {
		name = "reconciler"
	}
	return &Reconciler{
		cache:   deps.Cache,
		loader:  deps.Loader,
		logger:  logger,
		metrics: deps.Metrics,
		name:    name,
	}, nil
}

// Run consumes events until the channel closes or the context is cancelled.
// Each event is isolated: validation failures and panics are counted and
// logged, then the next event is processed.
func (r *Reconciler) Run(ctx context.Context, events <-chan catalog.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				r.logger.Debug("event channel closed, reconciler stopping")
				return nil
			}
			if err := r.applyRecovered(event); err != nil {
				r.logger.Warn("event dropped",
					"type", event.Type,
					"item", event.ItemID(),
					"error", err)
			}
		}
	}
}

// applyRecovered wraps Apply with per-event panic recovery so one poisoned
// event cannot take the stream down
func (r *Reconciler) applyRecovered(event catalog.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.panics.Add(1)
			r.countDrop(reasonPanic)
			err = errors.WrapFatal(
				fmt.Errorf("panic applying event: %v", rec),
				"Reconciler", "Apply", "event application")
		}
	}()
	return r.Apply(event)
}

// Apply folds a single event into the cache and live list
func (r *Reconciler) Apply(event catalog.Event) error {
	if r.metrics != nil {
		r.metrics.Core.EventsReceived.WithLabelValues(r.name, string(event.Type)).Inc()
	}

	if err := event.Validate(); err != nil {
		r.stats.dropBad.Add(1)
		r.countDrop(reasonMalformed)
		return err
	}

	switch event.Type {
	case catalog.EventInsert:
		return r.applyInsert(*event.Item)
	case catalog.EventUpdate:
		return r.applyUpdate(*event.Item)
	case catalog.EventDelete:
		r.applyDelete(event.ItemID())
		return nil
	default:
		r.stats.dropBad.Add(1)
		r.countDrop(reasonMalformed)
		return errors.WrapInvalid(errors.ErrMalformedEvent, "Reconciler", "Apply",
			"unrecognized event type")
	}
}

func (r *Reconciler) applyInsert(item catalog.Item) error {
	// An insert for a known ID is an update that raced the initial load
	if r.cache.ContainsItem(item.ID) || r.loader.ContainsItem(item.ID) {
		return r.applyUpdate(item)
	}

	r.cache.AdjustTotalCount(1)

	if !r.inWindow(item) {
		// The item sorts past everything loaded; a future page fetch will
		// bring it in. Only the total moved.
		r.stats.deferred.Add(1)
		r.countDrop(reasonOutOfWindow)
		return nil
	}

	page := r.placementPage(item)
	r.cache.InsertItem(page, item)
	r.loader.InsertItem(item)
	r.stats.inserts.Add(1)
	return nil
}

func (r *Reconciler) applyUpdate(item catalog.Item) error {
	existing, ok := r.cache.GetItem(item.ID)
	if !ok {
		// Not in any loaded page; nothing to patch
		r.stats.dropUnknown.Add(1)
		r.countDrop(reasonUnknown)
		return nil
	}

	if !r.cache.PatchItem(item) {
		r.stats.dropStale.Add(1)
		r.countDrop(reasonStale)
		return nil
	}

	// Sort fields moved: the cached copy must be re-spliced, possibly into
	// a different page so the page concatenation stays ordered
	mode := r.cache.Mode()
	if mode.Less(existing, item) || mode.Less(item, existing) {
		r.cache.RemoveItem(item.ID)
		r.cache.InsertItem(r.placementPage(item), item)
	}

	r.loader.UpdateItem(item)
	r.stats.updates.Add(1)
	return nil
}

func (r *Reconciler) applyDelete(id string) {
	present := r.cache.RemoveItem(id)
	r.loader.RemoveItem(id)

	// The catalog shrank whether or not the item was loaded. No eager
	// backfill: the shortened page is topped up by the next natural fetch.
	r.cache.AdjustTotalCount(-1)

	if present {
		r.stats.deletes.Add(1)
	} else {
		r.stats.dropUnknown.Add(1)
		r.countDrop(reasonUnknown)
	}
}

// inWindow reports whether an inserted item lands inside the loaded range.
// With the catalog exhausted everything is in range; otherwise the item must
// sort before the last loaded item.
func (r *Reconciler) inWindow(item catalog.Item) bool {
	if !r.loader.HasMore() {
		return true
	}
	last, ok := r.loader.LastItem()
	if !ok {
		return false
	}
	return r.cache.Mode().Less(item, last)
}

// placementPage picks the cached page an inserted item belongs to: the first
// page whose final item sorts after it, else the last page.
func (r *Reconciler) placementPage(item catalog.Item) int {
	mode := r.cache.Mode()
	for _, page := range r.cache.Pages() {
		entry, ok := r.cache.Get(page)
		if !ok || len(entry.Items) == 0 {
			continue
		}
		last := entry.Items[len(entry.Items)-1]
		if mode.Less(item, last) {
			return page
		}
	}
	if last := r.cache.LastPage(); last > 0 {
		return last
	}
	return 1
}

// Stats returns the reconciler's activity counters
func (r *Reconciler) Stats() *Stats {
	return &r.stats
}

func (r *Reconciler) countDrop(reason string) {
	if r.metrics != nil {
		r.metrics.Core.EventsDropped.WithLabelValues(r.name, reason).Inc()
	}
}
