package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the numeric counters of a Registry as untyped
// Prometheus metrics, for long-running host integrations that want to
// scrape a live simulation. String stats are skipped.
type Collector struct {
	registry  *Registry
	namespace string
}

// NewCollector wraps a registry. The namespace is prepended to every
// metric name (typically "memsim").
func NewCollector(registry *Registry, namespace string) *Collector {
	return &Collector{registry: registry, namespace: namespace}
}

func (c *Collector) metricName(s *Stat) string {
	name := strings.NewReplacer(".", "_", "-", "_").Replace(s.Name)
	if c.namespace != "" {
		name = c.namespace + "_" + name
	}
	return name
}

// Describe implements prometheus.Collector. Metrics are unchecked since
// the stat set is only known after configuration.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.Stats() {
		var value float64
		switch v := s.Value().(type) {
		case uint64:
			value = float64(v)
		case int64:
			value = float64(v)
		case float64:
			value = v
		default:
			continue
		}

		desc := prometheus.NewDesc(c.metricName(s), s.Units, nil, nil)
		metric, err := prometheus.NewConstMetric(desc, prometheus.UntypedValue, value)
		if err != nil {
			continue
		}
		ch <- metric
	}
}

var _ prometheus.Collector = (*Collector)(nil)
