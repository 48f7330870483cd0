package session

import (
	"time"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/loader"
	"github.com/c360/catalogstream/pagecache"
)

// Config holds the full browsing session configuration. Zero values take
// defaults; Validate reports contradictions.
type Config struct {
	// Name labels the session in logs and metrics. Defaults to the
	// generated session ID.
	Name string `json:"name"`

	// PageSize is the item count per fetched page
	PageSize int `json:"page_size"`

	// SortMode selects the catalog ordering
	SortMode catalog.SortMode `json:"sort_mode"`

	// FreshFor is how long a cached page serves with no refetch at all
	FreshFor time.Duration `json:"fresh_for"`

	// StaleFor is how long past FreshFor a cached page still serves while
	// a background refetch runs. Beyond it the page blocks on a fetch.
	StaleFor time.Duration `json:"stale_for"`

	// FetchRate caps source fetches per second (0 disables)
	FetchRate  float64 `json:"fetch_rate"`
	FetchBurst int     `json:"fetch_burst"`
}

// DefaultConfig returns session defaults for interactive browsing
func DefaultConfig() Config {
	cacheDefaults := pagecache.DefaultConfig()
	loaderDefaults := loader.DefaultConfig()
	return Config{
		PageSize:   loaderDefaults.PageSize,
		SortMode:   loaderDefaults.SortMode,
		FreshFor:   cacheDefaults.FreshFor,
		StaleFor:   cacheDefaults.StaleFor,
		FetchRate:  loaderDefaults.FetchRate,
		FetchBurst: loaderDefaults.FetchBurst,
	}
}

// applyDefaults fills zero values from DefaultConfig
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.PageSize == 0 {
		c.PageSize = defaults.PageSize
	}
	if c.FreshFor == 0 {
		c.FreshFor = defaults.FreshFor
	}
	if c.StaleFor == 0 {
		c.StaleFor = defaults.StaleFor
	}
	if c.FetchBurst == 0 && c.FetchRate > 0 {
		c.FetchBurst = defaults.FetchBurst
	}
}

// Validate checks config consistency after defaults are applied
func (c Config) Validate() error {
	if err := c.cacheConfig().Validate(); err != nil {
		return err
	}
	return c.loaderConfig().Validate()
}

func (c Config) cacheConfig() pagecache.Config {
	cfg := pagecache.DefaultConfig()
	cfg.FreshFor = c.FreshFor
	cfg.StaleFor = c.StaleFor
	cfg.SortMode = c.SortMode
	return cfg
}

func (c Config) loaderConfig() loader.Config {
	cfg := loader.DefaultConfig()
	cfg.PageSize = c.PageSize
	cfg.SortMode = c.SortMode
	cfg.FetchRate = c.FetchRate
	cfg.FetchBurst = c.FetchBurst
	return cfg
}
