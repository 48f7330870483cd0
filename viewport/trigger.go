// Package viewport turns end-of-list visibility into load-more requests.
// A Trigger owns at most one sentinel observation at a time and evaluates
// its guard when a visibility event fires, not when it is scheduled, so a
// notification that raced a completed load or a teardown becomes a no-op
// instead of a redundant fetch.
package viewport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/catalogstream/errors"
)

// Guard is consulted at fire time. Returning false skips the fire. The
// loader's single-flight guard makes redundant fires harmless, but skipping
// here keeps the trigger from queueing work against a session that is
// already loading, exhausted, or closed.
type Guard func() bool

// Action is what a fire executes, typically the loader's LoadMore
type Action func(ctx context.Context) error

// Stats counts trigger activity
type Stats struct {
	fired    atomic.Int64
	skipped  atomic.Int64
	attached atomic.Int64
}

// Fired returns how many visibility events passed the guard
func (s *Stats) Fired() int64 { return s.fired.Load() }

// Skipped returns how many visibility events the guard rejected
func (s *Stats) Skipped() int64 { return s.skipped.Load() }

// Attached returns how many observations have been attached
func (s *Stats) Attached() int64 { return s.attached.Load() }

// Deps holds trigger dependencies
type Deps struct {
	Guard  Guard
	Action Action
	Logger *slog.Logger
}

// Trigger converts sentinel visibility into guarded load-more calls
type Trigger struct {
	guard  Guard
	action Action
	logger *slog.Logger
	stats  Stats

	mu      sync.Mutex
	current *Observation
	closed  bool
}

// Observation is the handle for one attached sentinel. Cancelling it stops
// the underlying watch; cancel is idempotent and a cancelled observation
// never fires again even if a stale visibility callback arrives.
type Observation struct {
	trigger *Trigger
	stop    func()

	mu        sync.Mutex
	cancelled bool
}

// Cancel tears down the observation
func (o *Observation) Cancel() {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		return
	}
	o.cancelled = true
	stop := o.stop
	o.mu.Unlock()

	if stop != nil {
		stop()
	}

	o.trigger.mu.Lock()
	if o.trigger.current == o {
		o.trigger.current = nil
	}
	o.trigger.mu.Unlock()
}

func (o *Observation) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// NewTrigger creates a trigger. Action is required; a nil Guard always fires.
func NewTrigger(deps Deps) (*Trigger, error) {
	if deps.Action == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Trigger", "NewTrigger",
			"action required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		guard:  deps.Guard,
		action: deps.Action,
		logger: logger,
	}, nil
}

// Attach starts observing a sentinel. Any previous observation is cancelled
// first; the trigger drives at most one sentinel at a time.
func (t *Trigger) Attach(ctx context.Context, sentinel Sentinel) (*Observation, error) {
	// A sentinel target that never materialized (torn down before it could
	// be observed) is not a caller mistake; hand back an inert observation.
	if sentinel == nil {
		t.logger.Debug("viewport attach skipped, sentinel unavailable")
		return &Observation{trigger: t, cancelled: true}, nil
	}

	obs := &Observation{trigger: t}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrSessionClosed, "Trigger", "Attach", "attach")
	}
	previous := t.current
	t.current = obs
	t.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}

	stop, err := sentinel.Observe(func() { t.fire(ctx, obs) })
	if err != nil {
		t.mu.Lock()
		if t.current == obs {
			t.current = nil
		}
		t.mu.Unlock()
		return nil, errors.Wrap(err, "Trigger", "Attach", "sentinel observe")
	}

	obs.mu.Lock()
	obs.stop = stop
	cancelled := obs.cancelled
	obs.mu.Unlock()

	// Close raced the observe; the watch must not outlive the trigger
	if cancelled {
		stop()
	}

	t.stats.attached.Add(1)
	return obs, nil
}

// Close cancels the active observation and rejects further attaches
func (t *Trigger) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	current := t.current
	t.current = nil
	t.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

// Stats returns the trigger's activity counters
func (t *Trigger) Stats() *Stats {
	return &t.stats
}

// fire runs one visibility event through the guard. All conditions are
// re-checked here because the event may have been scheduled long before it
// runs.
func (t *Trigger) fire(ctx context.Context, obs *Observation) {
	t.mu.Lock()
	closed := t.closed
	stale := t.current != obs
	t.mu.Unlock()

	if closed || stale || obs.isCancelled() {
		t.stats.skipped.Add(1)
		return
	}
	if t.guard != nil && !t.guard() {
		t.stats.skipped.Add(1)
		t.logger.Debug("viewport fire skipped by guard")
		return
	}

	t.stats.fired.Add(1)
	if err := t.action(ctx); err != nil {
		t.logger.Warn("viewport-triggered load failed", "error", err)
	}
}
