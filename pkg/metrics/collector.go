package metrics

import (
	"context"
	"time"

	"github.com/mailscore/core/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GroupStats is a snapshot of a single score group's running state.
type GroupStats struct {
	Group string
	Total float64
	Count int
}

// GroupStatsProvider is implemented by the accumulator to expose its
// current per-group totals to the periodic collector.
type GroupStatsProvider interface {
	GroupStats() []GroupStats
}

var groupTotal = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mailscore_accumulator_group_total",
		Help: "Current running unclamped score total for a symbol group",
	},
	[]string{"group"},
)

// Collector periodically polls a GroupStatsProvider and republishes its
// totals as gauges, in the teacher's Collector/StatsProvider polling style.
type Collector struct {
	provider GroupStatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a Collector with the given poll interval (defaulting
// to 10s when zero).
func NewCollector(provider GroupStatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{provider: provider, interval: interval, stopCh: make(chan struct{})}
}

// Start runs the collection loop until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.collect()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop signals the collection loop to stop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, g := range c.provider.GroupStats() {
		groupTotal.WithLabelValues(g.Group).Set(g.Total)
	}
	logger.Debug("metrics collector: refreshed group totals")
}
