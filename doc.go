// Package catalogstream provides an embeddable engine for browsing large,
// continuously changing catalogs: paged loading with a freshness-aware
// cache, a live list reconciled against a real-time change feed, and a
// viewport trigger that turns end-of-list visibility into guarded
// load-more requests.
//
// # Architecture
//
// A browsing session wires five pieces together:
//
//   - pagecache: page-granular cache with arena item storage. Items live in
//     one map keyed by ID; pages are ordered ID lists over that map, so a
//     patch lands everywhere at once and an item can never exist twice.
//   - loader: incremental page fetcher. Owns the ordered live list, the
//     page cursor, and the single-flight guard that collapses overlapping
//     load-more requests into one network call.
//   - reconciler: folds insert, update, and delete events into the cache
//     and live list. Updates are version gated, out-of-order events are
//     dropped, and a bad event is isolated rather than fatal.
//   - viewport: converts sentinel visibility into load-more calls, with
//     guard conditions evaluated at fire time so stale notifications become
//     no-ops.
//   - feed: change event transports. In-process channels, JetStream KV
//     watchers, and WebSocket clients all present the same event channel.
//
// The session package assembles the pipeline behind a single lifecycle
// (Initialize, Start, Stop) and a consumer-facing surface (Items, LoadMore,
// Refresh, AttachSentinel).
//
// # Freshness model
//
// Every cached page carries its fetch time and passes through three tiers:
// fresh pages serve with zero network calls, stale pages serve immediately
// while a background refetch reconciles them, expired pages block on a
// fetch. The same tiers apply to the cached total count.
//
// # Consistency
//
// The live list is always a prefix-complete, duplicate-free view in the
// active sort order. Change events move items by remove-then-reinsert, so
// ordering survives sort-key changes; deletes shrink pages without
// renumbering and are healed by the next natural fetch.
//
// # Usage
//
//	source := myapp.NewCatalogSource(api)    // implements loader.Source
//	changes := feed.NewChannelFeed(256)      // or a KV / WebSocket feed
//
//	s, err := session.New(session.Deps{
//		Source: source,
//		Feed:   changes,
//		Config: session.Config{PageSize: 20},
//	})
//	if err != nil {
//		return err
//	}
//	if err := s.Initialize(); err != nil {
//		return err
//	}
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	defer s.Stop(5 * time.Second)
//
//	items := s.Items()                       // ordered live list
//	s.LoadMore(ctx)                          // or drive via viewport sentinels
package catalogstream
