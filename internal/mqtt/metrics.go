package mqtt

import "github.com/prometheus/client_golang/prometheus"

var (
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_mqtt_connects_total",
			Help: "MQTT connection attempts by result.",
		},
		[]string{"result"},
	)
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_mqtt_publish_total",
			Help: "MQTT publish attempts by result.",
		},
		[]string{"result"},
	)
	received = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_mqtt_received_total",
			Help: "MQTT messages delivered to the subscriber by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(connectAttempts, publishes, received)
}
