package mqtt

import "time"

// Config holds MQTT connection settings shared by the agent's publish
// channel and the manager's subscriber.
type Config struct {
	BrokerURL        string        `mapstructure:"broker_url"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"` //nolint:gosec // G101: config field name, not a credential
	ClientID         string        `mapstructure:"client_id"`
	TopicPrefix      string        `mapstructure:"topic_prefix"`
	SubscribeFilter  string        `mapstructure:"subscribe_filter"`
	QoS              byte          `mapstructure:"qos"`
	Retain           bool          `mapstructure:"retain"`
	UseTLS           bool          `mapstructure:"use_tls"`
	CleanSession     bool          `mapstructure:"clean_session"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:        "tcp://M1.local:1883",
		TopicPrefix:      "swarm",
		QoS:              1,
		Retain:           false,
		CleanSession:     true,
		Timeout:          10 * time.Second,
		ReconnectBackoff: 5 * time.Second,
	}
}

// Filter returns the subscription filter, defaulting to every topic
// under the prefix.
func (c Config) Filter() string {
	if c.SubscribeFilter != "" {
		return c.SubscribeFilter
	}
	return c.TopicPrefix + "/#"
}
