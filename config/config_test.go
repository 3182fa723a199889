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
	path := filepath.Join(t.TempDir(), "edgesim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProtocolV5, cfg.MQTT.Protocol)
	assert.Equal(t, 2, cfg.MQTT.QoS)
	assert.Equal(t, "m5stack", cfg.Device.Namespace)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.SettleDelay)
	assert.Equal(t, AfterDeleteRejoin, cfg.Device.AfterDelete)
	assert.True(t, cfg.MQTT.ResubscribeOnReconnect)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  url: mqtts://broker.example.com:8883
  client_id: m5stack
  protocol: v311
device:
  profile: m5stack
  settle_delay: 750ms
  after_delete: retire
  reading_interval: 2s
broker:
  users:
    - username: art
      password: art123
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mqtts://broker.example.com:8883", cfg.MQTT.URL)
	assert.Equal(t, ProtocolV311, cfg.MQTT.Protocol)
	assert.Equal(t, "m5stack", cfg.Device.Profile)
	assert.Equal(t, 750*time.Millisecond, cfg.Device.SettleDelay)
	assert.Equal(t, 2*time.Second, cfg.Device.ReadingInterval)
	assert.Equal(t, AfterDeleteRetire, cfg.Device.AfterDelete)
	require.Len(t, cfg.Broker.Users, 1)
	assert.Equal(t, "art", cfg.Broker.Users[0].Username)
	// untouched sections keep their defaults
	assert.Equal(t, 2, cfg.MQTT.QoS)
	assert.Equal(t, ":8080", cfg.API.Address)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "device:\n  profile: m5stack\n")
	t.Setenv("EDGESIM_DEVICE_PROFILE", "esp32")
	t.Setenv("EDGESIM_MQTT_CLIENT_ID", "esp32-lab")
	t.Setenv("EDGESIM_DEVICE_SETTLE_DELAY", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "esp32", cfg.Device.Profile)
	assert.Equal(t, "esp32-lab", cfg.MQTT.ClientID)
	assert.Equal(t, time.Second, cfg.Device.SettleDelay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown protocol", func(c *Config) { c.MQTT.Protocol = "v4" }},
		{"qos too high", func(c *Config) { c.MQTT.QoS = 3 }},
		{"empty url", func(c *Config) { c.MQTT.URL = "" }},
		{"zero operation timeout", func(c *Config) { c.MQTT.OperationTimeout = 0 }},
		{"empty profile", func(c *Config) { c.Device.Profile = "" }},
		{"namespace with slash", func(c *Config) { c.Device.Namespace = "a/b" }},
		{"namespace with wildcard", func(c *Config) { c.Device.Namespace = "+" }},
		{"negative settle delay", func(c *Config) { c.Device.SettleDelay = -time.Second }},
		{"unknown after delete", func(c *Config) { c.Device.AfterDelete = "forget" }},
		{"bad data label", func(c *Config) { c.Installer.DataLabels = []string{"sensor/#"} }},
		{"user without name", func(c *Config) { c.Broker.Users = []UserConfig{{Password: "x"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
