// Package metrics exposes the coordinator's counters as Prometheus
// metrics. The collector reads a live snapshot on every scrape, so no
// instrumentation hooks are needed inside the cache itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mossline/querycache"
)

// Collector implements prometheus.Collector over a Coordinator. The tier
// label distinguishes the ephemeral and durable counters.
type Collector struct {
	coord *querycache.Coordinator

	hits    *prometheus.Desc
	misses  *prometheus.Desc
	sets    *prometheus.Desc
	deletes *prometheus.Desc
	clears  *prometheus.Desc
	items   *prometheus.Desc
}

// NewCollector creates a collector for coord. Register it with a
// prometheus.Registerer to expose the metrics.
func NewCollector(coord *querycache.Coordinator) *Collector {
	tier := []string{"tier"}
	return &Collector{
		coord:   coord,
		hits:    prometheus.NewDesc("querycache_hits_total", "Cache lookups answered by this tier.", tier, nil),
		misses:  prometheus.NewDesc("querycache_misses_total", "Cache lookups this tier could not answer.", tier, nil),
		sets:    prometheus.NewDesc("querycache_sets_total", "Values written into this tier.", tier, nil),
		deletes: prometheus.NewDesc("querycache_deletes_total", "Keys removed from this tier.", tier, nil),
		clears:  prometheus.NewDesc("querycache_clears_total", "Full flushes of this tier.", tier, nil),
		items:   prometheus.NewDesc("querycache_ephemeral_items", "Entries currently held in the ephemeral tier.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.sets
	ch <- c.deletes
	ch <- c.clears
	ch <- c.items
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.coord.Stats()

	emit := func(desc *prometheus.Desc, tier string, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), tier)
	}
	emit(c.hits, "ephemeral", s.Ephemeral.Hits)
	emit(c.hits, "durable", s.Durable.Hits)
	emit(c.misses, "ephemeral", s.Ephemeral.Misses)
	emit(c.misses, "durable", s.Durable.Misses)
	emit(c.sets, "ephemeral", s.Ephemeral.Sets)
	emit(c.sets, "durable", s.Durable.Sets)
	emit(c.deletes, "ephemeral", s.Ephemeral.Deletes)
	emit(c.deletes, "durable", s.Durable.Deletes)
	emit(c.clears, "ephemeral", s.Ephemeral.Clears)
	emit(c.clears, "durable", s.Durable.Clears)

	ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(c.coord.Ephemeral().Len()))
}

// Handler returns an http.Handler serving the given registry, for mounting
// under /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
