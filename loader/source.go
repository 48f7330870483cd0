package loader

import (
	"context"

	"github.com/c360/catalogstream/catalog"
)

// Source is the paged list query of the catalog data source. FetchPage must
// be idempotent and side-effect-free for repeated calls with the same
// arguments; the loader relies on that to retry failed pages verbatim.
type Source interface {
	FetchPage(ctx context.Context, page, limit int) (catalog.Page, error)
}

// SourceFunc is a function adapter that implements the Source interface
type SourceFunc func(ctx context.Context, page, limit int) (catalog.Page, error)

// FetchPage implements Source
func (f SourceFunc) FetchPage(ctx context.Context, page, limit int) (catalog.Page, error) {
	return f(ctx, page, limit)
}
