package monitoring

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource returns a flat "<stage>.<stat>" snapshot
type StatsSource func() map[string]float64

// StatsCollector exports a stats snapshot as one gauge per stage and stat.
// The source is sampled on every scrape.
type StatsCollector struct {
	source StatsSource
	desc   *prometheus.Desc
}

// NewStatsCollector creates a collector over source
func NewStatsCollector(source StatsSource) *StatsCollector {
	return &StatsCollector{
		source: source,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "stage_stat"),
			"Pipeline stage statistic",
			[]string{"stage", "stat"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for key, value := range c.source() {
		stage, stat, ok := strings.Cut(key, ".")
		if !ok {
			stage, stat = "", key
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, value, stage, stat)
	}
}
