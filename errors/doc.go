// Package errors provides standardized error handling patterns for
// catalogstream components.
//
// # Overview
//
// Every error that crosses a package boundary in this repository is wrapped
// with context and classified into one of three classes:
//
//   - Transient: temporary failures worth retrying (page fetch failures,
//     timeouts, feed backpressure)
//   - Invalid: bad or stale input that retrying will not fix (malformed
//     change events, version-gated stale updates)
//   - Fatal: unrecoverable conditions (missing configuration, use after close)
//
// # Wrapping Convention
//
// All wrapping follows the "component.method: action failed: %w" pattern:
//
//	if err != nil {
//		return errors.WrapTransient(err, "Loader", "LoadMore", "page fetch")
//	}
//
// # Classification
//
// Consumers branch on classification rather than concrete types:
//
//	if errors.IsTransient(err) {
//		// leave state untouched, surface for retry
//	}
//
// The loader surfaces only transient fetch errors to its caller; stale and
// malformed event errors are swallowed by the reconciler after logging, per
// the self-healing reconciliation design.
package errors
