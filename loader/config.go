package loader

import (
	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/pkg/retry"
)

// Config holds loader configuration
type Config struct {
	// PageSize is the item limit passed to every FetchPage call
	PageSize int `json:"page_size"`

	// SortMode is the active ordering; must match the page cache's mode
	SortMode catalog.SortMode `json:"sort_mode"`

	// FetchRate caps source fetches per second. Zero disables the limiter.
	// A fast-scrolling viewport already issues at most one fetch at a time
	// (single-flight); the limiter additionally spaces sequential fetches.
	FetchRate float64 `json:"fetch_rate"`

	// FetchBurst is the limiter burst size when FetchRate is set
	FetchBurst int `json:"fetch_burst"`

	// BackgroundRetry governs the stale-page background refetch
	BackgroundRetry retry.Config `json:"-"`
}

// DefaultConfig returns loader defaults suitable for interactive browsing
func DefaultConfig() Config {
	return Config{
		PageSize:        20,
		SortMode:        catalog.SortNewest,
		FetchRate:       10,
		FetchBurst:      3,
		BackgroundRetry: retry.DefaultConfig(),
	}
}

// Validate checks configuration consistency
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"PageSize must be positive")
	}
	if !c.SortMode.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"unrecognized sort mode")
	}
	if c.FetchRate < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"FetchRate cannot be negative")
	}
	if c.FetchRate > 0 && c.FetchBurst <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"FetchBurst must be positive when FetchRate is set")
	}
	return nil
}
