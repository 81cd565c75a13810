// Package metrics exposes the replication core's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector records replication activity for one peer. It satisfies
// prometheus.Collector so callers can register it with any registry.
type Collector struct {
	commands     *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	votes        *prometheus.CounterVec
	desyncs      prometheus.Counter
	checkpoints  prometheus.Counter
	divergences  prometheus.Counter
	catchupTicks prometheus.Histogram
	members      *prometheus.GaugeVec
}

func New() *Collector {
	return &Collector{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "replication",
				Name:      "commands_applied_total",
				Help:      "Commands applied to the world, by kind.",
			},
			[]string{"kind"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "replication",
				Name:      "commands_skipped_total",
				Help:      "Commands whose effect was skipped, by kind and reason.",
			},
			[]string{"kind", "reason"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "replication",
				Name:      "observations_dropped_total",
				Help:      "Observations dropped before sending, by kind.",
			},
			[]string{"kind"},
		),
		votes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "quorum",
				Name:      "votes_total",
				Help:      "Votes tallied, by outcome.",
			},
			[]string{"outcome"},
		),
		desyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beam",
			Subsystem: "replication",
			Name:      "desyncs_total",
			Help:      "Sequence gaps that forced a resync.",
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beam",
			Subsystem: "checkpoint",
			Name:      "taken_total",
			Help:      "Checkpoints taken locally.",
		}),
		divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beam",
			Subsystem: "checkpoint",
			Name:      "divergences_total",
			Help:      "Checkpoint reports from other peers that did not match the local hash.",
		}),
		catchupTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beam",
			Subsystem: "catchup",
			Name:      "ticks",
			Help:      "Ticks simulated per catch-up.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		members: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "beam",
				Subsystem: "group",
				Name:      "members",
				Help:      "Group members by status.",
			},
			[]string{"status"},
		),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	c.commands.Describe(descs)
	c.skipped.Describe(descs)
	c.dropped.Describe(descs)
	c.votes.Describe(descs)
	c.desyncs.Describe(descs)
	c.checkpoints.Describe(descs)
	c.divergences.Describe(descs)
	c.catchupTicks.Describe(descs)
	c.members.Describe(descs)
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.commands.Collect(metrics)
	c.skipped.Collect(metrics)
	c.dropped.Collect(metrics)
	c.votes.Collect(metrics)
	c.desyncs.Collect(metrics)
	c.checkpoints.Collect(metrics)
	c.divergences.Collect(metrics)
	c.catchupTicks.Collect(metrics)
	c.members.Collect(metrics)
}

func (c *Collector) CommandApplied(kind string) { c.commands.WithLabelValues(kind).Inc() }

func (c *Collector) CommandSkipped(kind, reason string) {
	c.skipped.WithLabelValues(kind, reason).Inc()
}

func (c *Collector) ObservationDropped(kind string) { c.dropped.WithLabelValues(kind).Inc() }

func (c *Collector) Vote(promoted bool) {
	if promoted {
		c.votes.WithLabelValues("promoted").Inc()
		return
	}
	c.votes.WithLabelValues("pending").Inc()
}

func (c *Collector) Desync()          { c.desyncs.Inc() }
func (c *Collector) CheckpointTaken() { c.checkpoints.Inc() }
func (c *Collector) Divergence()      { c.divergences.Inc() }

func (c *Collector) CatchupTicks(n int) { c.catchupTicks.Observe(float64(n)) }

func (c *Collector) Members(status string, n int) {
	c.members.WithLabelValues(status).Set(float64(n))
}
