package pagecache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/catalogstream/metric"
)

// cacheMetrics holds Prometheus metrics for page cache operations
type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	puts          prometheus.Counter
	patches       prometheus.Counter
	removals      prometheus.Counter
	invalidations prometheus.Counter

	pages prometheus.Gauge
	items prometheus.Gauge
}

func newCounter(prefix, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "catalogstream",
		Subsystem:   "pagecache",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": prefix},
		Help:        help,
	})
}

// newCacheMetrics creates and registers page cache metrics with the registry
func newCacheMetrics(registry *metric.Registry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits:          newCounter(prefix, "hits_total", "Total number of page cache hits"),
		misses:        newCounter(prefix, "misses_total", "Total number of page cache misses"),
		puts:          newCounter(prefix, "puts_total", "Total number of page stores"),
		patches:       newCounter(prefix, "patches_total", "Total number of applied item patches"),
		removals:      newCounter(prefix, "removals_total", "Total number of item removals"),
		invalidations: newCounter(prefix, "invalidations_total", "Total number of dropped page entries"),
		pages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "catalogstream",
			Subsystem:   "pagecache",
			Name:        "pages",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of cached pages",
		}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "catalogstream",
			Subsystem:   "pagecache",
			Name:        "items",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of cached items",
		}),
	}

	registrations := []struct {
		name string
		err  error
	}{
		{"hits", registry.RegisterCounter(prefix, "pagecache_hits", m.hits)},
		{"misses", registry.RegisterCounter(prefix, "pagecache_misses", m.misses)},
		{"puts", registry.RegisterCounter(prefix, "pagecache_puts", m.puts)},
		{"patches", registry.RegisterCounter(prefix, "pagecache_patches", m.patches)},
		{"removals", registry.RegisterCounter(prefix, "pagecache_removals", m.removals)},
		{"invalidations", registry.RegisterCounter(prefix, "pagecache_invalidations", m.invalidations)},
		{"pages", registry.RegisterGauge(prefix, "pagecache_pages", m.pages)},
		{"items", registry.RegisterGauge(prefix, "pagecache_items", m.items)},
	}
	for _, r := range registrations {
		if r.err != nil {
			return nil, r.err
		}
	}

	return m, nil
}

// updateSize pushes current sizes to the gauges
func (m *cacheMetrics) updateSize(pages, items int) {
	if m == nil {
		return
	}
	m.pages.Set(float64(pages))
	m.items.Set(float64(items))
}
