// Package session assembles the full browsing pipeline: page cache, loader,
// reconciler, viewport trigger, and change feed, behind one lifecycle and
// one consumer-facing surface.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/feed"
	"github.com/c360/catalogstream/loader"
	"github.com/c360/catalogstream/metric"
	"github.com/c360/catalogstream/pagecache"
	"github.com/c360/catalogstream/reconciler"
	"github.com/c360/catalogstream/viewport"
)

// lifecycle states
type state int

const (
	stateCreated state = iota
	stateInitialized
	stateStarted
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateInitialized:
		return "initialized"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps holds session dependencies. Source is required; Feed is optional and
// enables live reconciliation when present. The session owns the feed once
// handed over and closes it on Stop.
type Deps struct {
	Source  loader.Source
	Feed    feed.Feed
	Config  Config
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Session is one consumer's view of the catalog: an ordered live list that
// grows page by page and tracks the server through the change feed.
type Session struct {
	id      string
	name    string
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Registry

	source loader.Source
	feed   feed.Feed

	cache   *pagecache.Cache
	loader  *loader.Loader
	rec     *reconciler.Reconciler
	trigger *viewport.Trigger

	lifecycleMu sync.Mutex
	state       state
	cancel      context.CancelFunc
	group       *errgroup.Group
}

// New creates a session in the created state. Initialize builds the
// pipeline; Start runs it.
func New(deps Deps) (*Session, error) {
	if deps.Source == nil {
		return nil, errors.WrapFatal(errors.ErrNoSource, "Session", "New", "source required")
	}

	cfg := deps.Config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	name := cfg.Name
	if name == "" {
		name = id
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", name)

	return &Session{
		id:      id,
		name:    name,
		cfg:     cfg,
		logger:  logger,
		metrics: deps.Metrics,
		source:  deps.Source,
		feed:    deps.Feed,
	}, nil
}

// ID returns the generated session identifier
func (s *Session) ID() string { return s.id }

// Initialize builds the cache, loader, reconciler, and trigger. No I/O.
func (s *Session) Initialize() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.state != stateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Session", "Initialize",
			"initialize from state "+s.state.String())
	}

	var cacheOpts []pagecache.Option
	if s.metrics != nil {
		cacheOpts = append(cacheOpts, pagecache.WithMetrics(s.metrics, s.name))
	}
	cache, err := pagecache.New(s.cfg.cacheConfig(), cacheOpts...)
	if err != nil {
		return err
	}

	ldr, err := loader.New(loader.Deps{
		Source:  s.source,
		Cache:   cache,
		Config:  s.cfg.loaderConfig(),
		Logger:  s.logger,
		Metrics: s.metrics,
		Name:    s.name,
	})
	if err != nil {
		return err
	}

	rec, err := reconciler.New(reconciler.Deps{
		Cache:   cache,
		Loader:  ldr,
		Logger:  s.logger,
		Metrics: s.metrics,
		Name:    s.name,
	})
	if err != nil {
		return err
	}

	trigger, err := viewport.NewTrigger(viewport.Deps{
		Guard:  s.loadMoreAllowed,
		Action: ldr.LoadMore,
		Logger: s.logger,
	})
	if err != nil {
		return err
	}

	s.cache = cache
	s.loader = ldr
	s.rec = rec
	s.trigger = trigger
	s.state = stateInitialized
	s.logger.Debug("session initialized")
	return nil
}

// Start loads the first page and begins consuming the change feed
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.state == stateStarted {
		return errors.ErrAlreadyStarted
	}
	if s.state != stateInitialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "Session", "Start",
			"start from state "+s.state.String())
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.loader.LoadInitial(runCtx); err != nil {
		// The session still starts: the feed keeps flowing and the next
		// viewport fire or Refresh retries the fetch
		s.logger.Warn("initial load failed", "error", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	s.group = group
	if s.feed != nil {
		events := s.feed.Events()
		group.Go(func() error {
			err := s.rec.Run(groupCtx, events)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	s.state = stateStarted
	if s.metrics != nil {
		s.metrics.Core.SessionStatus.WithLabelValues(s.name).Set(1)
	}
	s.logger.Info("session started", "page_size", s.cfg.PageSize, "sort", s.cfg.SortMode.String())
	return nil
}

// Stop tears the session down: the trigger stops firing, the feed closes,
// the reconciler drains, and the loader discards in-flight work.
func (s *Session) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.state != stateStarted {
		return nil
	}

	s.trigger.Close()

	if s.feed != nil {
		if err := s.feed.Close(); err != nil {
			s.logger.Warn("feed close error", "error", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("reconciler exited with error", "error", err)
		}
	case <-time.After(timeout):
		s.logger.Warn("session shutdown timeout exceeded")
	}

	s.loader.Close()

	s.state = stateStopped
	if s.metrics != nil {
		s.metrics.Core.SessionStatus.WithLabelValues(s.name).Set(0)
	}
	s.logger.Info("session stopped")
	return nil
}

// Items returns the ordered live list
func (s *Session) Items() []catalog.Item {
	return s.loader.Snapshot().Items
}

// Snapshot returns the full loader state
func (s *Session) Snapshot() loader.State {
	return s.loader.Snapshot()
}

// TotalCount returns the catalog size estimate and whether one is known
func (s *Session) TotalCount() (int, bool) {
	return s.cache.TotalCount()
}

// IsLoading reports whether the initial or a refresh load is running
func (s *Session) IsLoading() bool {
	return s.loader.Snapshot().IsLoading
}

// IsLoadingMore reports whether a next-page load is running
func (s *Session) IsLoadingMore() bool {
	return s.loader.Snapshot().IsLoadingMore
}

// HasMore reports whether unloaded pages remain
func (s *Session) HasMore() bool {
	return s.loader.HasMore()
}

// Err returns the last fetch error, cleared by the next successful fetch
func (s *Session) Err() error {
	return s.loader.Snapshot().Err
}

// LoadMore explicitly requests the next page, bypassing the viewport
func (s *Session) LoadMore(ctx context.Context) error {
	return s.loader.LoadMore(ctx)
}

// Refresh discards all loaded state and reloads from page 1
func (s *Session) Refresh(ctx context.Context) error {
	return s.loader.Refresh(ctx)
}

// Apply folds a single change event into the session, for hosts that
// deliver events themselves instead of through a feed
func (s *Session) Apply(event catalog.Event) error {
	return s.rec.Apply(event)
}

// AttachSentinel wires an end-of-list sentinel to the load-more trigger.
// A previously attached sentinel is detached first.
func (s *Session) AttachSentinel(ctx context.Context, sentinel viewport.Sentinel) (*viewport.Observation, error) {
	return s.trigger.Attach(ctx, sentinel)
}

// CacheStats exposes the page cache counters
func (s *Session) CacheStats() *pagecache.Statistics {
	return s.cache.Stats()
}

// ReconcilerStats exposes the reconciler counters
func (s *Session) ReconcilerStats() *reconciler.Stats {
	return s.rec.Stats()
}

// loadMoreAllowed is the viewport guard: fire only while started, idle, and
// not exhausted
func (s *Session) loadMoreAllowed() bool {
	s.lifecycleMu.Lock()
	started := s.state == stateStarted
	s.lifecycleMu.Unlock()

	return started && !s.loader.Busy() && s.loader.HasMore()
}
