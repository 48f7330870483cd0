// Package catalog defines the data model shared by the page cache, loader,
// and reconciler: opaque marketplace items, sort modes, page results, and
// change feed events.
package catalog

import (
	"encoding/json"
	"time"

	"github.com/c360/catalogstream/errors"
)

// Item is an opaque catalog record. The library never interprets Payload;
// ordering and identity are driven entirely by the header fields.
type Item struct {
	// ID is the stable unique identifier
	ID string `json:"id"`

	// SortKey is the derived ordering value for the active sort mode
	// (creation time, price, etc.). It is computed by the data source and
	// only changes when the field driving it changes.
	SortKey float64 `json:"sort_key"`

	// Version is a monotonically increasing marker used to discard stale
	// update events arriving out of order.
	Version int64 `json:"version"`

	// UpdatedAt records the last server-side mutation time
	UpdatedAt time.Time `json:"updated_at"`

	// Payload carries the business fields (price, seller, media) untouched
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the item header fields
func (it Item) Validate() error {
	if it.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Item", "Validate", "empty item ID")
	}
	if it.Version < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Item", "Validate", "negative version")
	}
	return nil
}

// SortMode selects the ordering of the live list
type SortMode int

const (
	// SortNewest orders by UpdatedAt descending
	SortNewest SortMode = iota
	// SortOldest orders by UpdatedAt ascending
	SortOldest
	// SortKeyAsc orders by SortKey ascending
	SortKeyAsc
	// SortKeyDesc orders by SortKey descending
	SortKeyDesc
)

// String returns the string representation of SortMode
func (m SortMode) String() string {
	switch m {
	case SortNewest:
		return "newest"
	case SortOldest:
		return "oldest"
	case SortKeyAsc:
		return "key_asc"
	case SortKeyDesc:
		return "key_desc"
	default:
		return "unknown"
	}
}

// Valid reports whether the sort mode is one of the defined values
func (m SortMode) Valid() bool {
	switch m {
	case SortNewest, SortOldest, SortKeyAsc, SortKeyDesc:
		return true
	}
	return false
}

// Less reports whether a sorts before b under this mode. Ties are broken by
// ID so that every mode yields a total order, which keeps binary-search
// insertion deterministic.
func (m SortMode) Less(a, b Item) bool {
	switch m {
	case SortNewest:
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
	case SortOldest:
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	case SortKeyAsc:
		if a.SortKey != b.SortKey {
			return a.SortKey < b.SortKey
		}
	case SortKeyDesc:
		if a.SortKey != b.SortKey {
			return a.SortKey > b.SortKey
		}
	}
	return a.ID < b.ID
}

// Page is the result of one paged list query against the data source.
// A negative Total means the source cannot count the catalog; consumers
// fall back to HasMore in that case.
type Page struct {
	Items   []Item `json:"items"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
}
