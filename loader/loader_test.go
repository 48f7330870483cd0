package loader

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/pagecache"
	"github.com/c360/catalogstream/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PageSize = 5
	cfg.FetchRate = 0 // no limiter in unit tests
	cfg.BackgroundRetry.MaxAttempts = 2
	cfg.BackgroundRetry.InitialDelay = time.Millisecond
	return cfg
}

func newTestLoader(t *testing.T, source Source) (*Loader, *pagecache.Cache) {
	t.Helper()
	cache, err := pagecache.New(pagecache.DefaultConfig())
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	l, err := New(Deps{Source: source, Cache: cache, Config: testConfig()})
	if err != nil {
		t.Fatalf("creating loader: %v", err)
	}
	t.Cleanup(l.Close)
	return l, cache
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestNewValidation(t *testing.T) {
	cache, _ := pagecache.New(pagecache.DefaultConfig())

	if _, err := New(Deps{Cache: cache, Config: testConfig()}); err == nil {
		t.Error("expected error without source")
	}
	if _, err := New(Deps{Source: testutil.NewFakeSource(nil), Config: testConfig()}); err == nil {
		t.Error("expected error without cache")
	}

	bad := testConfig()
	bad.PageSize = 0
	if _, err := New(Deps{Source: testutil.NewFakeSource(nil), Cache: cache, Config: bad}); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestLoadInitialColdStart(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(12))
	l, _ := newTestLoader(t, source)

	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	st := l.Snapshot()
	if len(st.Items) != 5 {
		t.Errorf("expected 5 items, got %d", len(st.Items))
	}
	if st.CurrentPage != 1 {
		t.Errorf("expected current page 1, got %d", st.CurrentPage)
	}
	if !st.TotalKnown || st.TotalCount != 12 {
		t.Errorf("expected known total 12, got %d (known=%v)", st.TotalCount, st.TotalKnown)
	}
	if !st.HasMore {
		t.Error("expected more pages")
	}
	if source.Calls() != 1 {
		t.Errorf("expected 1 fetch, got %d", source.Calls())
	}
}

func TestLoadInitialServesFreshCacheWithoutFetching(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(12))
	l, cache := newTestLoader(t, source)

	cache.Put(1, testutil.Items(5))
	cache.SetTotalCount(12)

	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if source.Calls() != 0 {
		t.Errorf("fresh cache should serve without fetching, got %d calls", source.Calls())
	}
	if st := l.Snapshot(); len(st.Items) != 5 || st.CurrentPage != 1 {
		t.Errorf("unexpected state from cache: %d items, page %d", len(st.Items), st.CurrentPage)
	}
}

func TestLoadInitialStaleCacheRefetchesInBackground(t *testing.T) {
	items := testutil.Items(12)
	source := testutil.NewFakeSource(items)

	now := time.Now()
	clock := &now
	cacheCfg := pagecache.DefaultConfig()
	cache, err := pagecache.New(cacheCfg, pagecache.WithClock(func() time.Time { return *clock }))
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}

	// Seed the cache with an outdated version of the first item
	old := testutil.Items(5)
	old[0].Version = 0
	cache.Put(1, old)
	cache.SetTotalCount(12)

	// Age the entry past the fresh window but inside the stale window
	aged := now.Add(cacheCfg.FreshFor + time.Second)
	clock = &aged

	l, err := New(Deps{Source: source, Cache: cache, Config: testConfig()})
	if err != nil {
		t.Fatalf("creating loader: %v", err)
	}
	defer l.Close()

	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	// Served immediately from cache
	if st := l.Snapshot(); len(st.Items) != 5 {
		t.Fatalf("expected stale cache to serve 5 items, got %d", len(st.Items))
	}

	// Background refetch converges on the source's version
	waitFor(t, time.Second, func() bool {
		st := l.Snapshot()
		return source.Calls() >= 1 && len(st.Items) == 5 && st.Items[0].Version == 1
	}, "background refetch to reconcile")
}

func TestLoadMoreAppendsNextPage(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(12))
	l, _ := newTestLoader(t, source)
	ctx := context.Background()

	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if err := l.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}

	st := l.Snapshot()
	if len(st.Items) != 10 {
		t.Errorf("expected 10 items after two pages, got %d", len(st.Items))
	}
	if st.CurrentPage != 2 {
		t.Errorf("expected current page 2, got %d", st.CurrentPage)
	}

	seen := make(map[string]bool)
	for _, it := range st.Items {
		if seen[it.ID] {
			t.Errorf("duplicate item %s in live list", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestLoadMoreExhaustsCatalog(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(7))
	l, _ := newTestLoader(t, source)
	ctx := context.Background()

	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if err := l.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}

	st := l.Snapshot()
	if len(st.Items) != 7 {
		t.Errorf("expected all 7 items, got %d", len(st.Items))
	}
	if st.HasMore {
		t.Error("expected HasMore=false at end of catalog")
	}

	// Further loads are no-ops
	calls := source.Calls()
	if err := l.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore at end failed: %v", err)
	}
	if source.Calls() != calls {
		t.Error("LoadMore at end of catalog should not fetch")
	}
}

func TestLoadMoreSingleFlight(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(20))
	l, _ := newTestLoader(t, source)
	ctx := context.Background()

	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	source.Gate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- l.LoadMore(ctx) }()

	waitFor(t, time.Second, l.Busy, "first LoadMore to be in flight")

	// Triggers arriving while a fetch is in flight must be no-ops
	for i := 0; i < 5; i++ {
		if err := l.LoadMore(ctx); err != nil {
			t.Fatalf("concurrent LoadMore failed: %v", err)
		}
	}

	source.Gate <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}

	if source.Calls() != 2 {
		t.Errorf("expected 2 fetches (initial + one more), got %d", source.Calls())
	}
	if st := l.Snapshot(); st.CurrentPage != 2 {
		t.Errorf("expected current page 2, got %d", st.CurrentPage)
	}
}

func TestLoadMoreFailureLeavesStateAndRetriesSamePage(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(12))
	l, _ := newTestLoader(t, source)
	ctx := context.Background()

	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	boom := stderrors.New("backend unavailable")
	source.FailNext(1, boom)

	err := l.LoadMore(ctx)
	if err == nil {
		t.Fatal("expected LoadMore to fail")
	}
	if !errors.IsTransient(err) {
		t.Errorf("fetch failure should classify transient, got %v", err)
	}

	st := l.Snapshot()
	if len(st.Items) != 5 || st.CurrentPage != 1 {
		t.Errorf("failed load mutated state: %d items, page %d", len(st.Items), st.CurrentPage)
	}
	if st.Err == nil {
		t.Error("expected Snapshot.Err after failure")
	}
	if st.IsLoadingMore {
		t.Error("guard not released after failure")
	}

	// Next trigger retries the same page and clears the error
	if err := l.LoadMore(ctx); err != nil {
		t.Fatalf("retry LoadMore failed: %v", err)
	}
	st = l.Snapshot()
	if st.CurrentPage != 2 || len(st.Items) != 10 {
		t.Errorf("retry did not advance: %d items, page %d", len(st.Items), st.CurrentPage)
	}
	if st.Err != nil {
		t.Errorf("error not cleared by successful fetch: %v", st.Err)
	}
}

func TestRefreshReloadsFromScratch(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(12))
	l, cache := newTestLoader(t, source)
	ctx := context.Background()

	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}
	if err := l.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}

	// The server-side catalog shrinks
	source.SetItems(testutil.Items(3))

	if err := l.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	st := l.Snapshot()
	if len(st.Items) != 3 {
		t.Errorf("expected 3 items after refresh, got %d", len(st.Items))
	}
	if st.CurrentPage != 1 {
		t.Errorf("expected current page 1 after refresh, got %d", st.CurrentPage)
	}
	if st.HasMore {
		t.Error("expected HasMore=false after refresh of 3-item catalog")
	}
	if cache.PageCount() != 1 {
		t.Errorf("expected cache to hold only the refetched page, got %d", cache.PageCount())
	}
}

func TestRefreshDiscardsInFlightFetch(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(20))
	l, _ := newTestLoader(t, source)
	ctx := context.Background()

	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	source.Gate = make(chan struct{})

	moreDone := make(chan error, 1)
	go func() { moreDone <- l.LoadMore(ctx) }()
	waitFor(t, time.Second, l.Busy, "LoadMore to be in flight")

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- l.Refresh(ctx) }()
	waitFor(t, time.Second, func() bool { return source.Calls() == 3 }, "refresh fetch to be issued")

	// Release both fetches in whatever order the scheduler picks. The
	// page 2 result predates the refresh and must be dropped.
	source.Gate <- struct{}{}
	source.Gate <- struct{}{}
	if err := <-moreDone; err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}
	if err := <-refreshDone; err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	st := l.Snapshot()
	if st.CurrentPage != 1 {
		t.Errorf("expected current page 1 after refresh, got %d", st.CurrentPage)
	}
	if len(st.Items) != 5 {
		t.Errorf("expected only page 1 items after refresh, got %d", len(st.Items))
	}
	if st.IsLoadingMore {
		t.Error("stale guard release clobbered refreshed state")
	}
}

func TestClosedLoaderRejectsLoads(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(5))
	l, _ := newTestLoader(t, source)
	l.Close()

	if err := l.LoadInitial(context.Background()); !stderrors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from LoadInitial, got %v", err)
	}
	if err := l.LoadMore(context.Background()); !stderrors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from LoadMore, got %v", err)
	}
	if err := l.Refresh(context.Background()); !stderrors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from Refresh, got %v", err)
	}

	// Close is idempotent
	l.Close()
}

func TestInsertItemSortedSplice(t *testing.T) {
	cfg := testConfig()
	cfg.SortMode = catalog.SortKeyDesc
	cache, _ := pagecache.New(pagecache.DefaultConfig())
	l, err := New(Deps{Source: testutil.NewFakeSource(nil), Cache: cache, Config: cfg})
	if err != nil {
		t.Fatalf("creating loader: %v", err)
	}
	defer l.Close()

	for _, it := range []catalog.Item{
		testutil.Item("a", 30, 1),
		testutil.Item("b", 20, 1),
		testutil.Item("c", 10, 1),
	} {
		if !l.InsertItem(it) {
			t.Fatalf("insert %s failed", it.ID)
		}
	}

	if !l.InsertItem(testutil.Item("d", 25, 1)) {
		t.Fatal("insert d failed")
	}
	if l.InsertItem(testutil.Item("d", 99, 2)) {
		t.Error("duplicate insert should return false")
	}

	got := l.Snapshot().Items
	want := []string{"a", "d", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestUpdateItemRepositionsOnSortKeyChange(t *testing.T) {
	cfg := testConfig()
	cfg.SortMode = catalog.SortKeyDesc
	cache, _ := pagecache.New(pagecache.DefaultConfig())
	l, err := New(Deps{Source: testutil.NewFakeSource(nil), Cache: cache, Config: cfg})
	if err != nil {
		t.Fatalf("creating loader: %v", err)
	}
	defer l.Close()

	l.InsertItem(testutil.Item("a", 30, 1))
	l.InsertItem(testutil.Item("b", 20, 1))
	l.InsertItem(testutil.Item("c", 10, 1))

	// Same position: patch in place
	if !l.UpdateItem(testutil.Item("b", 21, 2)) {
		t.Fatal("update b failed")
	}
	if got := l.Snapshot().Items[1]; got.ID != "b" || got.Version != 2 {
		t.Errorf("in-place update wrong: %+v", got)
	}

	// Sort key jump: item must move to the front
	if !l.UpdateItem(testutil.Item("c", 40, 2)) {
		t.Fatal("update c failed")
	}
	got := l.Snapshot().Items
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	if l.UpdateItem(testutil.Item("zzz", 1, 1)) {
		t.Error("update of unknown item should return false")
	}
}

func TestRemoveItem(t *testing.T) {
	source := testutil.NewFakeSource(testutil.Items(5))
	l, _ := newTestLoader(t, source)

	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial failed: %v", err)
	}

	id := l.Snapshot().Items[2].ID
	if !l.RemoveItem(id) {
		t.Fatal("remove failed")
	}
	if l.RemoveItem(id) {
		t.Error("second remove should return false")
	}
	if l.ContainsItem(id) {
		t.Error("removed item still reported present")
	}
	if got := len(l.Snapshot().Items); got != 4 {
		t.Errorf("expected 4 items after removal, got %d", got)
	}
}
