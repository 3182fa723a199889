package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Supported MQTT protocol versions for the device transport.
const (
	ProtocolV5   = "v5"
	ProtocolV311 = "v311"
)

// Supported behaviours once a device has been deleted.
const (
	AfterDeleteRejoin = "rejoin"
	AfterDeleteRetire = "retire"
)

// Config is the root configuration shared by the installer backend and the
// device simulator. Values are loaded from defaults, then a YAML file, then
// EDGESIM_* environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Device    DeviceConfig    `yaml:"device"`
	Broker    BrokerConfig    `yaml:"broker"`
	API       APIConfig       `yaml:"api"`
	Installer InstallerConfig `yaml:"installer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig describes how a simulated device reaches its broker.
type MQTTConfig struct {
	URL      string `yaml:"url" env:"EDGESIM_MQTT_URL"`
	ClientID string `yaml:"client_id" env:"EDGESIM_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"EDGESIM_MQTT_USERNAME"`
	Password string `yaml:"password" env:"EDGESIM_MQTT_PASSWORD"`
	Protocol string `yaml:"protocol" env:"EDGESIM_MQTT_PROTOCOL"`
	QoS      int    `yaml:"qos" env:"EDGESIM_MQTT_QOS"`

	// KeepAlive is in seconds, SessionExpiry too (MQTT v5 only).
	KeepAlive     int  `yaml:"keep_alive" env:"EDGESIM_MQTT_KEEP_ALIVE"`
	SessionExpiry int  `yaml:"session_expiry" env:"EDGESIM_MQTT_SESSION_EXPIRY"`
	CleanStart    bool `yaml:"clean_start" env:"EDGESIM_MQTT_CLEAN_START"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout" env:"EDGESIM_MQTT_CONNECT_TIMEOUT"`
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"EDGESIM_MQTT_OPERATION_TIMEOUT"`

	ResubscribeOnReconnect bool `yaml:"resubscribe_on_reconnect" env:"EDGESIM_MQTT_RESUBSCRIBE"`
}

// DeviceConfig selects the simulated device and tunes its registration protocol.
type DeviceConfig struct {
	Profile         string        `yaml:"profile" env:"EDGESIM_DEVICE_PROFILE"`
	Namespace       string        `yaml:"namespace" env:"EDGESIM_DEVICE_NAMESPACE"`
	SettleDelay     time.Duration `yaml:"settle_delay" env:"EDGESIM_DEVICE_SETTLE_DELAY"`
	AfterDelete     string        `yaml:"after_delete" env:"EDGESIM_DEVICE_AFTER_DELETE"`
	ReadingInterval time.Duration `yaml:"reading_interval" env:"EDGESIM_DEVICE_READING_INTERVAL"`
}

// BrokerConfig configures the embedded broker run by the installer backend.
type BrokerConfig struct {
	Address             string       `yaml:"address" env:"EDGESIM_BROKER_ADDRESS"`
	AllowAnonymousLocal bool         `yaml:"allow_anonymous_local" env:"EDGESIM_BROKER_ALLOW_LOCAL"`
	Users               []UserConfig `yaml:"users"`
}

// UserConfig is one username/password pair accepted by the embedded broker.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// APIConfig configures the installer HTTP API.
type APIConfig struct {
	Address string `yaml:"address" env:"EDGESIM_API_ADDRESS"`
}

// InstallerConfig configures which device topics the backend follows.
type InstallerConfig struct {
	Namespace  string   `yaml:"namespace" env:"EDGESIM_INSTALLER_NAMESPACE"`
	DataLabels []string `yaml:"data_labels"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"EDGESIM_LOG_LEVEL"`
	Format string `yaml:"format" env:"EDGESIM_LOG_FORMAT"`
	Output string `yaml:"output" env:"EDGESIM_LOG_OUTPUT"`
}

// Load builds the configuration. An empty path skips the file and uses
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			URL:                    "mqtt://localhost:1883",
			ClientID:               "esp32",
			Protocol:               ProtocolV5,
			QoS:                    2,
			KeepAlive:              20,
			SessionExpiry:          60,
			ConnectTimeout:         10 * time.Second,
			OperationTimeout:       5 * time.Second,
			ResubscribeOnReconnect: true,
		},
		Device: DeviceConfig{
			Profile:     "esp32",
			Namespace:   "m5stack",
			SettleDelay: 500 * time.Millisecond,
			AfterDelete: AfterDeleteRejoin,
		},
		Broker: BrokerConfig{
			Address:             ":1883",
			AllowAnonymousLocal: true,
		},
		API: APIConfig{
			Address: ":8080",
		},
		Installer: InstallerConfig{
			Namespace:  "m5stack",
			DataLabels: []string{"sensor", "height"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.MQTT.Protocol {
	case ProtocolV5, ProtocolV311:
	default:
		return fmt.Errorf("mqtt.protocol %q must be %q or %q", c.MQTT.Protocol, ProtocolV5, ProtocolV311)
	}
	if c.MQTT.URL == "" {
		return errors.New("mqtt.url is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.MQTT.OperationTimeout <= 0 {
		return errors.New("mqtt.operation_timeout must be positive")
	}

	if c.Device.Profile == "" {
		return errors.New("device.profile is required")
	}
	if err := validateSegment("device.namespace", c.Device.Namespace); err != nil {
		return err
	}
	if c.Device.SettleDelay < 0 {
		return errors.New("device.settle_delay cannot be negative")
	}
	if c.Device.ReadingInterval < 0 {
		return errors.New("device.reading_interval cannot be negative")
	}
	switch c.Device.AfterDelete {
	case AfterDeleteRejoin, AfterDeleteRetire:
	default:
		return fmt.Errorf("device.after_delete %q must be %q or %q", c.Device.AfterDelete, AfterDeleteRejoin, AfterDeleteRetire)
	}

	if err := validateSegment("installer.namespace", c.Installer.Namespace); err != nil {
		return err
	}
	for _, label := range c.Installer.DataLabels {
		if err := validateSegment("installer.data_labels", label); err != nil {
			return err
		}
	}
	for _, u := range c.Broker.Users {
		if u.Username == "" {
			return errors.New("broker.users: username is required")
		}
	}

	return nil
}

// validateSegment checks a value used as a single MQTT topic level.
func validateSegment(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.ContainsAny(v, "/+#") {
		return fmt.Errorf("%s %q must be a single topic level without wildcards", field, v)
	}
	return nil
}
