package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay records sequencing activity for the websocket relay.
type Relay struct {
	sequenced *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	syncs     *prometheus.CounterVec
	peers     prometheus.Gauge
	groups    prometheus.Gauge
}

func NewRelay() *Relay {
	return &Relay{
		sequenced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "relay",
				Name:      "commands_sequenced_total",
				Help:      "Commands given a sequence number, by kind.",
			},
			[]string{"kind"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "relay",
				Name:      "frames_rejected_total",
				Help:      "Frames rejected, by error code.",
			},
			[]string{"code"},
		),
		syncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "relay",
				Name:      "syncs_total",
				Help:      "Sync requests, by outcome.",
			},
			[]string{"outcome"},
		),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beam",
			Subsystem: "relay",
			Name:      "peers",
			Help:      "Connected peers.",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beam",
			Subsystem: "relay",
			Name:      "groups",
			Help:      "Groups with at least one member.",
		}),
	}
}

func (r *Relay) Describe(descs chan<- *prometheus.Desc) {
	r.sequenced.Describe(descs)
	r.rejected.Describe(descs)
	r.syncs.Describe(descs)
	r.peers.Describe(descs)
	r.groups.Describe(descs)
}

func (r *Relay) Collect(metrics chan<- prometheus.Metric) {
	r.sequenced.Collect(metrics)
	r.rejected.Collect(metrics)
	r.syncs.Collect(metrics)
	r.peers.Collect(metrics)
	r.groups.Collect(metrics)
}

func (r *Relay) Sequenced(kind string) { r.sequenced.WithLabelValues(kind).Inc() }
func (r *Relay) Rejected(code string)  { r.rejected.WithLabelValues(code).Inc() }
func (r *Relay) Sync(outcome string)   { r.syncs.WithLabelValues(outcome).Inc() }
func (r *Relay) Peers(n int)           { r.peers.Set(float64(n)) }
func (r *Relay) Groups(n int)          { r.groups.Set(float64(n)) }
