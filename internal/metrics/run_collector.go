package metrics

import (
	"sync"

	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// RunCounter is the read side of the run state store.
type RunCounter interface {
	CountByStatus() map[domain.RunStatus]int
}

type runCollector struct {
	runs           RunCounter
	activeRunsDesc *prometheus.Desc
}

func newRunCollector(runs RunCounter) *runCollector {
	return &runCollector{
		runs: runs,
		activeRunsDesc: prometheus.NewDesc(
			"personaq_active_runs",
			"Runs currently held in the status store, by status.",
			[]string{"status"},
			nil,
		),
	}
}

func (c *runCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeRunsDesc
}

func (c *runCollector) Collect(ch chan<- prometheus.Metric) {
	if c.runs == nil {
		return
	}
	for status, n := range c.runs.CountByStatus() {
		emitGauge(ch, c.activeRunsDesc, float64(n), string(status))
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRunCollectorOnce sync.Once

func RegisterRunCollector(runs RunCounter) {
	registerRunCollectorOnce.Do(func() {
		prometheus.MustRegister(newRunCollector(runs))
	})
}
