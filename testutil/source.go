// Package testutil provides scripted fakes for exercising the loader,
// reconciler, and session without a real backend.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/catalogstream/catalog"
)

// FakeSource serves pages from an in-memory item slice, slicing it the way
// a paged list endpoint would. It counts calls and can be gated so a test
// holds a fetch in flight at a known point.
type FakeSource struct {
	mu    sync.Mutex
	items []catalog.Item

	calls   atomic.Int64
	failErr error
	failFor int // fail this many upcoming calls

	// Gate, when set, is received from at the start of every fetch. Send or
	// close to release.
	Gate chan struct{}

	// OnFetch, when set, observes every (page, limit) request
	OnFetch func(page, limit int)
}

// NewFakeSource creates a source over the given items. The slice is taken
// as the canonical order; pages are cut from it as-is.
func NewFakeSource(items []catalog.Item) *FakeSource {
	return &FakeSource{items: append([]catalog.Item(nil), items...)}
}

// FetchPage implements loader.Source
func (s *FakeSource) FetchPage(ctx context.Context, page, limit int) (catalog.Page, error) {
	s.calls.Add(1)

	if s.OnFetch != nil {
		s.OnFetch(page, limit)
	}

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return catalog.Page{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFor > 0 {
		s.failFor--
		return catalog.Page{}, s.failErr
	}

	start := (page - 1) * limit
	if start >= len(s.items) {
		return catalog.Page{Total: len(s.items)}, nil
	}
	end := start + limit
	if end > len(s.items) {
		end = len(s.items)
	}

	out := make([]catalog.Item, end-start)
	copy(out, s.items[start:end])
	return catalog.Page{
		Items:   out,
		Total:   len(s.items),
		HasMore: end < len(s.items),
	}, nil
}

// Calls returns how many fetches have been issued
func (s *FakeSource) Calls() int {
	return int(s.calls.Load())
}

// FailNext makes the next n fetches return err
func (s *FakeSource) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor = n
	s.failErr = err
}

// SetItems replaces the backing slice, simulating server-side churn
func (s *FakeSource) SetItems(items []catalog.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]catalog.Item(nil), items...)
}

// Item builds a catalog item with the given ID, sort key, and version
func Item(id string, key float64, version int64) catalog.Item {
	return catalog.Item{ID: id, SortKey: key, Version: version}
}

// Items builds n items with IDs item-001.. in descending sort key order,
// matching the newest-first default.
func Items(n int) []catalog.Item {
	out := make([]catalog.Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, catalog.Item{
			ID:      fmt.Sprintf("item-%03d", i),
			SortKey: float64(n - i),
			Version: 1,
		})
	}
	return out
}
