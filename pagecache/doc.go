// Package pagecache stores fetched catalog pages with per-page freshness and
// an independently tracked total-count estimate.
//
// # Overview
//
// The cache is the passive half of the incremental loading triad: the loader
// consults it before issuing network calls and writes fetch results back into
// it, while the reconciler surgically patches it as change feed events arrive.
// The cache itself performs no I/O and runs no goroutines - it only stores
// what it is given.
//
// # Arena Layout
//
// Internally items live in a single map keyed by ID, and pages are ordered
// lists of IDs. PatchItem and RemoveItem are O(1) regardless of how many
// pages are cached; a naive pages-of-slices layout would pay an O(pages)
// scan per change event.
//
// # Freshness Tiers
//
// Entries are classified against two thresholds:
//
//	age < FreshFor             fresh    serve without refetch
//	FreshFor <= age < StaleFor stale    serve, then refetch in background
//	age >= StaleFor            expired  refetch before serving
//
// The total-count estimate has its own timestamp so the "is there more?"
// decision does not require every page to be fresh.
//
// # Invariants
//
//   - Pages are 1-indexed; contiguity is not required (warm start with gaps)
//   - An item ID is cached at most once across all pages
//   - Put overwrites wholesale and re-stamps the fetch time
//   - PatchItem applies only when the incoming version advances
//   - RemoveItem shrinks the owning page without renumbering others
//
// # Observability
//
// Statistics are always collected (atomic counters); Prometheus export is
// enabled per instance via WithMetrics(registry, prefix).
package pagecache
