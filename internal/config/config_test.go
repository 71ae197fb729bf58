package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAgent_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	_, cfg, err := LoadAgent("")
	require.NoError(t, err)

	host, _ := os.Hostname()
	if host != "" {
		assert.Equal(t, host, cfg.RobotID)
		assert.Equal(t, host, cfg.MQTT.ClientID)
	}
	assert.Equal(t, "tcp://M1.local:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "swarm", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 10*time.Second, cfg.MQTT.Timeout)
	assert.Equal(t, 5*time.Second, cfg.MQTT.ReconnectBackoff)
	assert.Equal(t, 8*time.Second, cfg.Discovery.ScanInterval)
	assert.Equal(t, 90*time.Second, cfg.Discovery.DepartureTimeout)
	assert.Equal(t, 2*time.Second, cfg.Discovery.ErrorBackoff)
	assert.Equal(t, 1024, cfg.Discovery.OutboxSize)
	assert.NotEmpty(t, cfg.Discovery.Sources)
	assert.Empty(t, cfg.HTTP.Listen)
}

func TestLoadManager_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	_, cfg, err := LoadManager("")
	require.NoError(t, err)

	assert.Equal(t, "swarm-manager", cfg.MQTT.ClientID)
	assert.False(t, cfg.MQTT.CleanSession, "unacked messages must survive a restart")
	assert.Equal(t, "swarm/#", cfg.MQTT.Filter())
	assert.Equal(t, "swarm_net.db", cfg.Database.Path)
	assert.Equal(t, 120*time.Second, cfg.Presence.OnlineThreshold)
	assert.True(t, cfg.Presence.OrderGuard)
	assert.Equal(t, ":8090", cfg.HTTP.Listen)
}

func TestLoadAgent_File(t *testing.T) {
	path := writeConfig(t, `
robot_id: rover-7
mqtt:
  broker_url: tcp://10.0.0.2:1883
  qos: 0
discovery:
  scan_interval: 4s
  departure_timeout: 60s
  sources: [proc_arp]
http:
  listen: 127.0.0.1:9100
logging:
  level: debug
`)
	v, cfg, err := LoadAgent(path)
	require.NoError(t, err)

	assert.Equal(t, "rover-7", cfg.RobotID)
	assert.Equal(t, "rover-7", cfg.MQTT.ClientID)
	assert.Equal(t, "tcp://10.0.0.2:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, 4*time.Second, cfg.Discovery.ScanInterval)
	assert.Equal(t, 60*time.Second, cfg.Discovery.DepartureTimeout)
	assert.Equal(t, []string{"proc_arp"}, cfg.Discovery.Sources)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Listen)
	assert.Equal(t, "debug", v.GetString("logging.level"))
}

func TestLoadManager_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SWARM_MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("SWARM_DATABASE_PATH", "/var/lib/swarm/net.db")
	t.Setenv("SWARM_PRESENCE_ONLINE_THRESHOLD", "45s")
	t.Setenv("SWARM_PRESENCE_ORDER_GUARD", "false")

	_, cfg, err := LoadManager("")
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "/var/lib/swarm/net.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Second, cfg.Presence.OnlineThreshold)
	assert.False(t, cfg.Presence.OrderGuard)
}

func TestLoadManager_FilterFollowsPrefix(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SWARM_MQTT_TOPIC_PREFIX", "fleet")

	_, cfg, err := LoadManager("")
	require.NoError(t, err)
	assert.Equal(t, "fleet/#", cfg.MQTT.Filter())

	t.Setenv("SWARM_MQTT_SUBSCRIBE_FILTER", "fleet/detections/#")
	_, cfg, err = LoadManager("")
	require.NoError(t, err)
	assert.Equal(t, "fleet/detections/#", cfg.MQTT.Filter())
}

func TestLoadAgent_CleanSessionDefault(t *testing.T) {
	t.Chdir(t.TempDir())

	_, cfg, err := LoadAgent("")
	require.NoError(t, err)
	assert.True(t, cfg.MQTT.CleanSession)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "mqtt: [unterminated")
	_, err := Load(path, "swarm-manager")
	assert.Error(t, err)
}

func TestAgentValidate(t *testing.T) {
	valid := func() Agent {
		_, cfg, err := LoadAgent(writeConfig(t, "robot_id: r1\n"))
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Agent)
		wantErr bool
	}{
		{"valid", func(*Agent) {}, false},
		{"empty robot id", func(c *Agent) { c.RobotID = "" }, true},
		{"wildcard in robot id", func(c *Agent) { c.RobotID = "r/1" }, true},
		{"no broker", func(c *Agent) { c.MQTT.BrokerURL = "" }, true},
		{"bad qos", func(c *Agent) { c.MQTT.QoS = 3 }, true},
		{"zero interval", func(c *Agent) { c.Discovery.ScanInterval = 0 }, true},
		{"timeout below interval", func(c *Agent) { c.Discovery.DepartureTimeout = time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerValidate(t *testing.T) {
	cfg := Manager{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker_url")
	assert.Contains(t, err.Error(), "database.path")
	assert.Contains(t, err.Error(), "presence.online_threshold")
}
