package pagecache

import (
	"testing"
	"time"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/metric"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SortMode = catalog.SortKeyAsc
	return cfg
}

func mustCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("unexpected error creating cache: %v", err)
	}
	return c
}

func item(id string, key float64, version int64) catalog.Item {
	return catalog.Item{ID: id, SortKey: key, Version: version}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"zero FreshFor", func(c *Config) { c.FreshFor = 0 }, true},
		{"StaleFor below FreshFor", func(c *Config) { c.StaleFor = c.FreshFor - 1 }, true},
		{"bad sort mode", func(c *Config) { c.SortMode = catalog.SortMode(42) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetMissAndPutHit(t *testing.T) {
	c := mustCache(t)

	if _, exists := c.Get(1); exists {
		t.Error("expected miss on empty cache")
	}

	c.Put(1, []catalog.Item{item("a", 1, 1), item("b", 2, 1)})

	entry, exists := c.Get(1)
	if !exists {
		t.Fatal("expected hit after Put")
	}
	if len(entry.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(entry.Items))
	}
	if entry.Items[0].ID != "a" || entry.Items[1].ID != "b" {
		t.Errorf("unexpected item order: %v", entry.Items)
	}
	if entry.FetchedAt.IsZero() {
		t.Error("expected fetch timestamp to be stamped")
	}

	if c.Stats().Hits() != 1 || c.Stats().Misses() != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", c.Stats().Hits(), c.Stats().Misses())
	}
}

func TestPutOverwritesWholesale(t *testing.T) {
	c := mustCache(t)

	c.Put(1, []catalog.Item{item("a", 1, 1), item("b", 2, 1)})
	c.Put(1, []catalog.Item{item("c", 3, 1)})

	entry, _ := c.Get(1)
	if len(entry.Items) != 1 || entry.Items[0].ID != "c" {
		t.Errorf("expected wholesale overwrite, got %v", entry.Items)
	}
	if c.ContainsItem("a") || c.ContainsItem("b") {
		t.Error("expected old items to be evicted on overwrite")
	}
}

func TestPutMigratesItemAcrossPages(t *testing.T) {
	c := mustCache(t)

	c.Put(1, []catalog.Item{item("a", 1, 1), item("b", 2, 1)})
	// Server-side renumbering moved "b" onto page 2
	c.Put(2, []catalog.Item{item("b", 2, 2), item("c", 3, 1)})

	page, _ := c.PageOf("b")
	if page != 2 {
		t.Errorf("expected b owned by page 2, got %d", page)
	}

	entry, _ := c.Get(1)
	if len(entry.Items) != 1 || entry.Items[0].ID != "a" {
		t.Errorf("expected b removed from page 1, got %v", entry.Items)
	}

	// No duplicates across concatenation
	all := c.AllItems()
	seen := map[string]bool{}
	for _, it := range all {
		if seen[it.ID] {
			t.Fatalf("duplicate item %s in AllItems", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestPatchItemVersionGating(t *testing.T) {
	c := mustCache(t)
	c.Put(1, []catalog.Item{item("a", 1, 5)})

	// Stale: same version
	if c.PatchItem(item("a", 1, 5)) {
		t.Error("expected same-version patch to be rejected")
	}
	// Stale: lower version
	if c.PatchItem(item("a", 1, 4)) {
		t.Error("expected lower-version patch to be rejected")
	}
	got, _ := c.GetItem("a")
	if got.Version != 5 {
		t.Errorf("stale patch mutated the item: version %d", got.Version)
	}

	// Advances
	if !c.PatchItem(item("a", 9, 6)) {
		t.Error("expected newer-version patch to apply")
	}
	got, _ = c.GetItem("a")
	if got.Version != 6 || got.SortKey != 9 {
		t.Errorf("patch not applied in place: %+v", got)
	}

	// Unknown item
	if c.PatchItem(item("zz", 1, 1)) {
		t.Error("expected patch of unknown item to be a no-op")
	}

	if c.Stats().Patches() != 1 || c.Stats().StalePatches() != 2 {
		t.Errorf("unexpected patch stats: %d applied, %d stale",
			c.Stats().Patches(), c.Stats().StalePatches())
	}
}

func TestRemoveItemShrinksPageOnly(t *testing.T) {
	c := mustCache(t)
	c.Put(1, []catalog.Item{item("a", 1, 1), item("b", 2, 1)})
	c.Put(2, []catalog.Item{item("c", 3, 1)})

	if !c.RemoveItem("a") {
		t.Fatal("expected removal to succeed")
	}
	if c.RemoveItem("a") {
		t.Error("expected second removal to be a no-op")
	}

	entry, exists := c.Get(1)
	if !exists {
		t.Fatal("page 1 should still be cached after item removal")
	}
	if len(entry.Items) != 1 || entry.Items[0].ID != "b" {
		t.Errorf("expected shrunk page [b], got %v", entry.Items)
	}

	// Page 2 untouched
	if page, _ := c.PageOf("c"); page != 2 {
		t.Error("removal must not shift other pages' assignment")
	}
}

func TestInsertItemSortedSplice(t *testing.T) {
	c := mustCache(t) // SortKeyAsc
	c.Put(1, []catalog.Item{item("a", 10, 1), item("c", 30, 1)})

	if !c.InsertItem(1, item("b", 20, 1)) {
		t.Fatal("expected insert to succeed")
	}

	entry, _ := c.Get(1)
	ids := []string{entry.Items[0].ID, entry.Items[1].ID, entry.Items[2].ID}
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected sorted splice a,b,c got %v", ids)
	}

	// Duplicate rejected
	if c.InsertItem(1, item("b", 20, 2)) {
		t.Error("expected duplicate insert to be rejected")
	}

	// Opens a new page when needed
	if !c.InsertItem(3, item("z", 99, 1)) {
		t.Fatal("expected insert into uncached page to open it")
	}
	if _, exists := c.Get(3); !exists {
		t.Error("expected page 3 to exist after insert")
	}
}

func TestInvalidate(t *testing.T) {
	c := mustCache(t)
	c.Put(1, []catalog.Item{item("a", 1, 1)})
	c.Put(2, []catalog.Item{item("b", 2, 1)})

	if !c.Invalidate(1) {
		t.Fatal("expected invalidation to succeed")
	}
	if c.Invalidate(1) {
		t.Error("expected second invalidation to be a no-op")
	}
	if _, exists := c.Get(1); exists {
		t.Error("expected page 1 gone after invalidation")
	}
	if c.ContainsItem("a") {
		t.Error("expected page 1 items gone after invalidation")
	}
	if !c.ContainsItem("b") {
		t.Error("expected page 2 untouched")
	}
}

func TestInvalidateAll(t *testing.T) {
	c := mustCache(t)
	c.Put(1, []catalog.Item{item("a", 1, 1)})
	c.Put(2, []catalog.Item{item("b", 2, 1)})
	c.SetTotalCount(57)

	c.InvalidateAll()

	if _, exists := c.Get(1); exists {
		t.Error("expected Get(1) to miss immediately after InvalidateAll")
	}
	if c.Len() != 0 || c.PageCount() != 0 {
		t.Error("expected empty cache")
	}
	if _, known := c.TotalCount(); known {
		t.Error("expected total count forgotten")
	}
}

func TestTotalCount(t *testing.T) {
	c := mustCache(t)

	if _, known := c.TotalCount(); known {
		t.Error("expected no total before any fetch")
	}

	// Adjust before known is a no-op
	c.AdjustTotalCount(5)
	if _, known := c.TotalCount(); known {
		t.Error("adjust must not invent a total")
	}

	c.SetTotalCount(57)
	c.AdjustTotalCount(-1)
	c.AdjustTotalCount(1)

	total, known := c.TotalCount()
	if !known || total != 57 {
		t.Errorf("expected total 57, got %d (known=%v)", total, known)
	}

	// Never below zero
	c.SetTotalCount(1)
	c.AdjustTotalCount(-5)
	total, _ = c.TotalCount()
	if total != 0 {
		t.Errorf("expected clamped total 0, got %d", total)
	}
}

func TestFreshnessTiers(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := testConfig()
	cfg.FreshFor = 30 * time.Second
	cfg.StaleFor = 5 * time.Minute

	c, err := New(cfg, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	if got := c.TierOf(1); got != TierMissing {
		t.Errorf("expected missing, got %s", got)
	}

	c.Put(1, []catalog.Item{item("a", 1, 1)})
	c.SetTotalCount(10)

	if got := c.TierOf(1); got != TierFresh {
		t.Errorf("expected fresh, got %s", got)
	}
	if !c.IsFresh(1) {
		t.Error("IsFresh disagrees with TierOf")
	}

	now = now.Add(time.Minute)
	if got := c.TierOf(1); got != TierStale {
		t.Errorf("expected stale after 1m, got %s", got)
	}
	if !c.IsStale(1) {
		t.Error("IsStale disagrees with TierOf")
	}
	if got := c.TotalTier(); got != TierStale {
		t.Errorf("expected stale total, got %s", got)
	}

	now = now.Add(10 * time.Minute)
	if got := c.TierOf(1); got != TierExpired {
		t.Errorf("expected expired after 11m, got %s", got)
	}
}

func TestAllItemsPageOrder(t *testing.T) {
	c := mustCache(t)
	c.Put(2, []catalog.Item{item("c", 3, 1)})
	c.Put(1, []catalog.Item{item("a", 1, 1), item("b", 2, 1)})

	all := c.AllItems()
	if len(all) != 3 {
		t.Fatalf("expected 3 items, got %d", len(all))
	}
	if all[0].ID != "a" || all[1].ID != "b" || all[2].ID != "c" {
		t.Errorf("expected page-order concatenation, got %v", all)
	}

	pages := c.Pages()
	if len(pages) != 2 || pages[0] != 1 || pages[1] != 2 {
		t.Errorf("expected pages [1 2], got %v", pages)
	}
	if c.LastPage() != 2 {
		t.Errorf("expected last page 2, got %d", c.LastPage())
	}
}

func TestNonContiguousPages(t *testing.T) {
	c := mustCache(t)

	// Page 3 cached without page 2 - warm start permits gaps
	c.Put(1, []catalog.Item{item("a", 1, 1)})
	c.Put(3, []catalog.Item{item("z", 9, 1)})

	if _, exists := c.Get(2); exists {
		t.Error("expected gap at page 2")
	}
	if _, exists := c.Get(3); !exists {
		t.Error("expected page 3 cached despite gap")
	}
}

func TestWithMetricsRegistersAndCounts(t *testing.T) {
	reg := metric.NewRegistry()
	c, err := New(testConfig(), WithMetrics(reg, "test_cache"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Put(1, []catalog.Item{item("a", 1, 1)})
	c.Get(1)
	c.Get(2)

	// Second cache with the same prefix must fail registration
	if _, err := New(testConfig(), WithMetrics(reg, "test_cache")); err == nil {
		t.Error("expected duplicate metrics registration to fail")
	}
}
