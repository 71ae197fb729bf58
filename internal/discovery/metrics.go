package discovery

import "github.com/prometheus/client_golang/prometheus"

var (
	scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_agent_scans_total",
			Help: "Neighbor table scan cycles by result.",
		},
		[]string{"result"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_agent_events_total",
			Help: "Discovery events emitted by type.",
		},
		[]string{"event_type"},
	)
	knownDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_agent_known_devices",
		Help: "MAC addresses currently held in the known-device table.",
	})
	outboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_agent_outbox_pending",
		Help: "Detections waiting to be re-published.",
	})
)

func init() {
	prometheus.MustRegister(scans, events, knownDevices, outboxPending)
}
