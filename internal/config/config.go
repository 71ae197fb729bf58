// Package config loads agent and manager settings with Viper and builds the
// process logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/swarmnet/internal/discovery"
	"github.com/HerbHall/swarmnet/internal/mqtt"
	"github.com/HerbHall/swarmnet/internal/server"
)

// EnvPrefix is prepended to environment overrides: SWARM_MQTT_BROKER_URL.
const EnvPrefix = "SWARM"

// Agent is the swarm-agent configuration.
type Agent struct {
	RobotID   string           `mapstructure:"robot_id"`
	MQTT      mqtt.Config      `mapstructure:"mqtt"`
	Discovery discovery.Config `mapstructure:"discovery"`
	HTTP      server.Config    `mapstructure:"http"`
}

// Database locates the manager's SQLite file.
type Database struct {
	Path string `mapstructure:"path"`
}

// Presence controls how the manager merges and reports presence.
type Presence struct {
	OnlineThreshold time.Duration `mapstructure:"online_threshold"`
	OrderGuard      bool          `mapstructure:"order_guard"`
}

// Manager is the swarm-manager configuration.
type Manager struct {
	MQTT     mqtt.Config   `mapstructure:"mqtt"`
	Database Database      `mapstructure:"database"`
	Presence Presence      `mapstructure:"presence"`
	HTTP     server.Config `mapstructure:"http"`
}

// Load reads configuration from an explicit file, or from name.yaml in the
// usual search paths when configPath is empty, then applies environment
// overrides. A missing file is not an error.
func Load(configPath, name string) (*viper.Viper, error) {
	v := viper.New()
	setCommonDefaults(v)
	switch name {
	case "swarm-agent":
		setAgentDefaults(v)
	case "swarm-manager":
		setManagerDefaults(v)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/swarmnet")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// LoadAgent loads and decodes the agent configuration.
func LoadAgent(configPath string) (*viper.Viper, *Agent, error) {
	v, err := Load(configPath, "swarm-agent")
	if err != nil {
		return nil, nil, err
	}
	var cfg Agent
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decoding agent config: %w", err)
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.RobotID
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return v, &cfg, nil
}

// LoadManager loads and decodes the manager configuration.
func LoadManager(configPath string) (*viper.Viper, *Manager, error) {
	v, err := Load(configPath, "swarm-manager")
	if err != nil {
		return nil, nil, err
	}
	var cfg Manager
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decoding manager config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return v, &cfg, nil
}

// Validate rejects settings the agent cannot run with.
func (c *Agent) Validate() error {
	var errs []error
	if c.RobotID == "" {
		errs = append(errs, errors.New("robot_id is required"))
	}
	if strings.ContainsAny(c.RobotID, "/+#") {
		errs = append(errs, fmt.Errorf("robot_id %q must not contain MQTT topic characters", c.RobotID))
	}
	errs = append(errs, validateMQTT(c.MQTT)...)
	if c.Discovery.ScanInterval <= 0 {
		errs = append(errs, errors.New("discovery.scan_interval must be positive"))
	}
	if c.Discovery.DepartureTimeout <= c.Discovery.ScanInterval {
		errs = append(errs, errors.New("discovery.departure_timeout must exceed discovery.scan_interval"))
	}
	return errors.Join(errs...)
}

// Validate rejects settings the manager cannot run with.
func (c *Manager) Validate() error {
	var errs []error
	errs = append(errs, validateMQTT(c.MQTT)...)
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Presence.OnlineThreshold <= 0 {
		errs = append(errs, errors.New("presence.online_threshold must be positive"))
	}
	return errors.Join(errs...)
}

func validateMQTT(c mqtt.Config) []error {
	var errs []error
	if c.BrokerURL == "" {
		errs = append(errs, errors.New("mqtt.broker_url is required"))
	}
	if c.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.QoS))
	}
	if c.TopicPrefix == "" {
		errs = append(errs, errors.New("mqtt.topic_prefix is required"))
	}
	return errs
}

func setCommonDefaults(v *viper.Viper) {
	m := mqtt.DefaultConfig()
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("mqtt.broker_url", m.BrokerURL)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", m.TopicPrefix)
	v.SetDefault("mqtt.qos", m.QoS)
	v.SetDefault("mqtt.retain", m.Retain)
	v.SetDefault("mqtt.use_tls", m.UseTLS)
	v.SetDefault("mqtt.clean_session", m.CleanSession)
	v.SetDefault("mqtt.timeout", m.Timeout)
	v.SetDefault("mqtt.reconnect_backoff", m.ReconnectBackoff)
}

func setAgentDefaults(v *viper.Viper) {
	host, err := os.Hostname()
	if err != nil {
		host = "robot"
	}
	d := discovery.DefaultConfig()
	v.SetDefault("robot_id", host)
	v.SetDefault("discovery.scan_interval", d.ScanInterval)
	v.SetDefault("discovery.departure_timeout", d.DepartureTimeout)
	v.SetDefault("discovery.error_backoff", d.ErrorBackoff)
	v.SetDefault("discovery.sources", d.Sources)
	v.SetDefault("discovery.outbox_size", d.OutboxSize)
	v.SetDefault("http.listen", "")
}

func setManagerDefaults(v *viper.Viper) {
	// A persistent session keeps unacked messages queued across a restart.
	v.SetDefault("mqtt.client_id", "swarm-manager")
	v.SetDefault("mqtt.clean_session", false)
	// Empty derives <topic_prefix>/# in mqtt.Config.Filter.
	v.SetDefault("mqtt.subscribe_filter", "")
	v.SetDefault("database.path", "swarm_net.db")
	v.SetDefault("presence.online_threshold", 120*time.Second)
	v.SetDefault("presence.order_guard", true)
	v.SetDefault("http.listen", ":8090")
}
