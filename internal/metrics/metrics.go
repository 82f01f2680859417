package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatsProvider exposes live call session counts by state.
type SessionStatsProvider interface {
	ActiveSessionsByState() map[string]int
}

// TransitionCounter returns transfer log transition counts grouped by
// destination state.
type TransitionCounter interface {
	CountByToState(ctx context.Context) (map[string]int64, error)
}

// AppendFailureProvider exposes the number of failed transfer log writes.
type AppendFailureProvider interface {
	AppendFailures() uint64
}

// Collector is a prometheus.Collector that gathers VoxGate metrics at scrape time.
type Collector struct {
	sessions       SessionStatsProvider
	transitions    TransitionCounter
	appendFailures AppendFailureProvider
	startTime      time.Time

	// Metric descriptors.
	activeSessionsDesc *prometheus.Desc
	transitionsDesc    *prometheus.Desc
	appendFailuresDesc *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions SessionStatsProvider,
	transitions TransitionCounter,
	appendFailures AppendFailureProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:       sessions,
		transitions:    transitions,
		appendFailures: appendFailures,
		startTime:      startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"voxgate_active_sessions",
			"Number of live call sessions by state",
			[]string{"state"}, nil,
		),
		transitionsDesc: prometheus.NewDesc(
			"voxgate_transitions_total",
			"Total call state transitions recorded, by destination state",
			[]string{"to_state"}, nil,
		),
		appendFailuresDesc: prometheus.NewDesc(
			"voxgate_transfer_log_append_failures_total",
			"Total transfer log writes that failed since startup",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voxgate_uptime_seconds",
			"Seconds since the VoxGate process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.transitionsDesc
	ch <- c.appendFailuresDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Live sessions by state.
	if c.sessions != nil {
		for state, count := range c.sessions.ActiveSessionsByState() {
			ch <- prometheus.MustNewConstMetric(
				c.activeSessionsDesc, prometheus.GaugeValue,
				float64(count), state,
			)
		}
	}

	// Transition counters from the transfer log.
	if c.transitions != nil {
		counts, err := c.transitions.CountByToState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count transitions", "error", err)
		} else {
			for state, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.transitionsDesc, prometheus.CounterValue,
					float64(n), state,
				)
			}
		}
	}

	// Failed log writes.
	if c.appendFailures != nil {
		ch <- prometheus.MustNewConstMetric(
			c.appendFailuresDesc, prometheus.CounterValue,
			float64(c.appendFailures.AppendFailures()),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
