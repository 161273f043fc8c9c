package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardware backend names accepted by hardware.backend.
const (
	BackendAuto    = "auto"
	BackendGPIO    = "gpio"
	BackendVirtual = "virtual"
)

// Kill-switch input bias values.
const (
	BiasPullDown = "pull_down"
	BiasPullUp   = "pull_up"
	BiasDisabled = "disabled"
)

// Config is the root configuration structure for the relay service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig          `yaml:"site"`
	Relays     map[int]RelayConfig `yaml:"relays"`
	KillSwitch KillSwitchConfig    `yaml:"kill_switch"`
	Hardware   HardwareConfig      `yaml:"hardware"`
	MQTT       MQTTConfig          `yaml:"mqtt"`
	Broker     BrokerConfig        `yaml:"broker"`
	Database   DatabaseConfig      `yaml:"database"`
	InfluxDB   InfluxDBConfig      `yaml:"influxdb"`
	API        APIConfig           `yaml:"api"`
	Logging    LoggingConfig       `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RelayConfig describes one relay output. The relay number is the map key.
type RelayConfig struct {
	Pin int `yaml:"pin"`

	// ID is an optional alias accepted on command topics.
	ID string `yaml:"id"`

	// Name is the display name. Optional; defaults to "Relay <number>".
	Name string `yaml:"name"`
}

// KillSwitchConfig describes the kill-switch input line.
type KillSwitchConfig struct {
	Pin int `yaml:"pin"`

	// Bias is the input bias: "pull_down" (default), "pull_up" or "disabled".
	Bias string `yaml:"bias"`

	// ActiveLow inverts the line so a low level reads as active.
	ActiveLow bool `yaml:"active_low"`
}

// HardwareConfig selects the digital I/O backend.
type HardwareConfig struct {
	// Backend is "auto", "gpio" or "virtual".
	// auto uses the GPIO chip when it can be opened and the in-memory
	// simulation otherwise.
	Backend  string `yaml:"backend"`
	Chip     string `yaml:"chip"`
	Consumer string `yaml:"consumer"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker          MQTTBrokerConfig    `yaml:"broker"`
	Auth            MQTTAuthConfig      `yaml:"auth"`
	CredentialsFile string              `yaml:"credentials_file"`
	QoS             int                 `yaml:"qos"`
	Reconnect       MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BrokerConfig controls the optional locally managed mosquitto process.
type BrokerConfig struct {
	// Managed starts and supervises a mosquitto process before connecting.
	// If false, the broker is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the mosquitto executable.
	// Default: "/usr/sbin/mosquitto"
	Binary string `yaml:"binary"`

	// ConfigFile is passed to mosquitto with -c. When empty mosquitto is
	// started with -p using mqtt.broker.port.
	ConfigFile string `yaml:"config_file"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite settings for the safety journal.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig contains live event stream settings.
type WebSocketConfig struct {
	// PingInterval and PongTimeout are in seconds.
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	MaxMessageSize int `yaml:"max_message_size"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// credentialsFile is the layout of mqtt.credentials_file.
type credentialsFile struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Credentials file, if mqtt.credentials_file is set
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYSERVICE_SECTION_KEY
// For example: RELAYSERVICE_MQTT_HOST, RELAYSERVICE_HARDWARE_BACKEND
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.MQTT.CredentialsFile != "" {
		if err := cfg.loadCredentials(cfg.MQTT.CredentialsFile); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyRelayDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadCredentials reads MQTT username and password from a separate file.
// Values in the file replace any inline mqtt.auth values.
func (c *Config) loadCredentials(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}

	var creds credentialsFile
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parsing credentials file: %w", err)
	}

	if creds.Username != "" {
		c.MQTT.Auth.Username = creds.Username
	}
	if creds.Password != "" {
		c.MQTT.Auth.Password = creds.Password
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "master",
			Name: "Relay Service",
		},
		KillSwitch: KillSwitchConfig{
			Pin:  -1,
			Bias: BiasPullDown,
		},
		Hardware: HardwareConfig{
			Backend:  BackendAuto,
			Chip:     "gpiochip0",
			Consumer: "relay-service",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relay-service",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Broker: BrokerConfig{
			Binary:              "/usr/sbin/mosquitto",
			RestartOnFailure:    true,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/relay-service.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				PingInterval:   30,
				PongTimeout:    10,
				MaxMessageSize: 4096,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RELAYSERVICE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hardware
	if v := os.Getenv("RELAYSERVICE_HARDWARE_BACKEND"); v != "" {
		cfg.Hardware.Backend = v
	}
	if v := os.Getenv("RELAYSERVICE_HARDWARE_CHIP"); v != "" {
		cfg.Hardware.Chip = v
	}

	// MQTT
	if v := os.Getenv("RELAYSERVICE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYSERVICE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("RELAYSERVICE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYSERVICE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("RELAYSERVICE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("RELAYSERVICE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("RELAYSERVICE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// Every problem is collected so the operator sees them all at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.validateRelays()...)

	if c.KillSwitch.Pin < 0 {
		errs = append(errs, "kill_switch.pin is required")
	}
	switch c.KillSwitch.Bias {
	case BiasPullDown, BiasPullUp, BiasDisabled:
	default:
		errs = append(errs, fmt.Sprintf("kill_switch.bias %q must be pull_down, pull_up or disabled", c.KillSwitch.Bias))
	}

	switch c.Hardware.Backend {
	case BackendAuto, BackendGPIO, BackendVirtual:
	default:
		errs = append(errs, fmt.Sprintf("hardware.backend %q must be auto, gpio or virtual", c.Hardware.Backend))
	}
	if c.Hardware.Backend != BackendVirtual && c.Hardware.Chip == "" {
		errs = append(errs, "hardware.chip is required unless hardware.backend is virtual")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Broker.Managed && c.Broker.Binary == "" {
		errs = append(errs, "broker.binary is required when broker.managed is true")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb.enabled is true")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb.enabled is true")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateRelays checks relay numbers, pins and aliases.
func (c *Config) validateRelays() []string {
	var errs []string

	if len(c.Relays) == 0 {
		return []string{"at least one relay must be configured"}
	}

	pins := make(map[int]int, len(c.Relays))
	aliases := make(map[string]int, len(c.Relays))

	for _, number := range c.RelayNumbers() {
		r := c.Relays[number]
		if number < 1 {
			errs = append(errs, fmt.Sprintf("relays.%d: relay number must be positive", number))
		}
		if r.Pin < 0 {
			errs = append(errs, fmt.Sprintf("relays.%d: pin must not be negative", number))
		} else if other, dup := pins[r.Pin]; dup {
			errs = append(errs, fmt.Sprintf("relays.%d: pin %d already used by relay %d", number, r.Pin, other))
		} else {
			pins[r.Pin] = number
		}
		if r.Pin == c.KillSwitch.Pin {
			errs = append(errs, fmt.Sprintf("relays.%d: pin %d is the kill switch pin", number, r.Pin))
		}

		if r.ID == "" {
			continue
		}
		if isNumeric(r.ID) {
			errs = append(errs, fmt.Sprintf("relays.%d: id %q must not be purely numeric", number, r.ID))
		}
		if strings.ContainsAny(r.ID, "/+#") {
			errs = append(errs, fmt.Sprintf("relays.%d: id %q must not contain '/', '+' or '#'", number, r.ID))
		}
		if other, dup := aliases[r.ID]; dup {
			errs = append(errs, fmt.Sprintf("relays.%d: id %q already used by relay %d", number, r.ID, other))
		} else {
			aliases[r.ID] = number
		}
	}

	return errs
}

// applyRelayDefaults names every relay configured without a name.
func (c *Config) applyRelayDefaults() {
	for number, r := range c.Relays {
		if r.Name == "" {
			r.Name = "Relay " + strconv.Itoa(number)
			c.Relays[number] = r
		}
	}
}

// RelayNumbers returns the configured relay numbers in ascending order.
func (c *Config) RelayNumbers() []int {
	numbers := make([]int, 0, len(c.Relays))
	for n := range c.Relays {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RetentionPeriod returns how long journal events are kept.
// Zero means events are never pruned.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
