package pagecache

import (
	"fmt"
	"time"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
)

// Tier classifies the age of cached data against the two-threshold policy.
type Tier int

const (
	// TierMissing means the page has never been fetched (or was invalidated)
	TierMissing Tier = iota
	// TierFresh means the entry is younger than FreshFor: serve without refetch
	TierFresh
	// TierStale means the entry is between FreshFor and StaleFor: serve
	// immediately, refetch in the background
	TierStale
	// TierExpired means the entry is older than StaleFor: refetch before serving
	TierExpired
)

// String returns the string representation of Tier
func (t Tier) String() string {
	switch t {
	case TierMissing:
		return "missing"
	case TierFresh:
		return "fresh"
	case TierStale:
		return "stale"
	case TierExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Config holds page cache configuration
type Config struct {
	// FreshFor is the age below which an entry is served without refetch (T1)
	FreshFor time.Duration `json:"fresh_for"`

	// StaleFor is the age above which an entry must be refetched before
	// serving (T2). Between FreshFor and StaleFor the entry is served
	// optimistically while a background refetch reconciles.
	StaleFor time.Duration `json:"stale_for"`

	// SortMode is the active ordering; cached pages keep their item lists
	// ordered under it so reconciler splices stay cheap.
	SortMode catalog.SortMode `json:"sort_mode"`
}

// DefaultConfig returns page cache defaults suitable for interactive browsing
func DefaultConfig() Config {
	return Config{
		FreshFor: 30 * time.Second,
		StaleFor: 5 * time.Minute,
		SortMode: catalog.SortNewest,
	}
}

// Validate checks configuration consistency
func (c Config) Validate() error {
	if c.FreshFor <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"FreshFor must be positive")
	}
	if c.StaleFor < c.FreshFor {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("StaleFor %s must be >= FreshFor %s", c.StaleFor, c.FreshFor))
	}
	if !c.SortMode.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"unrecognized sort mode")
	}
	return nil
}

// tierOf classifies an age against the thresholds
func (c Config) tierOf(age time.Duration) Tier {
	switch {
	case age < c.FreshFor:
		return TierFresh
	case age < c.StaleFor:
		return TierStale
	default:
		return TierExpired
	}
}
