package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the PortaCool bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Device    DeviceConfig    `yaml:"device"`
	Polling   PollingConfig   `yaml:"polling"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CloudConfig contains vendor cloud credentials and endpoints.
//
// Paths are joined onto APIBase. The identity toolkit and realtime database
// URLs are absolute.
type CloudConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	APIBase         string `yaml:"api_base"`
	SigninPath      string `yaml:"signin_path"`
	DevicesPath     string `yaml:"devices_path"`
	InvokePath      string `yaml:"invoke_path"`
	AlertsPath      string `yaml:"alerts_path"`
	CustomTokenPath string `yaml:"custom_token_path"`

	// IdentityToolkitURL is the custom-token exchange endpoint. The API key
	// is appended as the "key" query parameter.
	IdentityToolkitURL string `yaml:"identity_toolkit_url"`
	IdentityAPIKey     string `yaml:"identity_api_key"`
	RealtimeDBURL      string `yaml:"realtime_db_url"`

	// RequestTimeout bounds each HTTP request in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// DeviceConfig identifies the single managed appliance.
//
// UniqueID may be left empty, in which case the first device on the
// account is selected at startup.
type DeviceConfig struct {
	UniqueID     string          `yaml:"unique_id"`
	DeviceTypeID int             `yaml:"device_type_id"`
	Name         string          `yaml:"name"`
	Model        string          `yaml:"model"`
	FanCFMMax    int             `yaml:"fan_cfm_max"`
	Datapoints   DatapointConfig `yaml:"datapoints"`
}

// DatapointConfig maps physical quantities to device datapoint IDs.
// The mapping differs between firmware revisions, so it is configuration
// rather than code.
type DatapointConfig struct {
	Power                 int `yaml:"power"`
	FanSpeed              int `yaml:"fan_speed"`
	Timer                 int `yaml:"timer"`
	FanFeedback           int `yaml:"fan_feedback"`
	WaterLevel            int `yaml:"water_level"`
	AmbientTemp           int `yaml:"ambient_temp"`
	ExitTemp              int `yaml:"exit_temp"`
	InternalComponentTemp int `yaml:"internal_component_temp"`
	RelativeHumidity      int `yaml:"relative_humidity"`
	VoltageA              int `yaml:"voltage_a"`
	VoltageB              int `yaml:"voltage_b"`
}

// PollingConfig contains the adaptive polling schedule, in seconds.
type PollingConfig struct {
	IntervalSeconds       int `yaml:"interval_seconds"`
	OfflineRefreshSeconds int `yaml:"offline_refresh_seconds"`
	ForceRefreshSeconds   int `yaml:"force_refresh_seconds"`
	CommandGraceSeconds   int `yaml:"command_grace_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the snapshot and command log.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
	PruneInterval int  `yaml:"prune_interval"` // hours
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PORTACOOL_SECTION_KEY
// For example: PORTACOOL_CLOUD_PASSWORD, PORTACOOL_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with production defaults.
// Credentials and the identity API key have no default.
func Default() *Config {
	return &Config{
		Cloud: CloudConfig{
			APIBase:            "https://api.services.portacool.com",
			SigninPath:         "/user-api/users/signin",
			DevicesPath:        "/device-api/devices/my",
			InvokePath:         "/device-api/devices/invoke-action",
			AlertsPath:         "/device-api/devices/latest-alerts",
			CustomTokenPath:    "/user-api/users/custom-token",
			IdentityToolkitURL: "https://identitytoolkit.googleapis.com/v1/accounts:signInWithCustomToken",
			RealtimeDBURL:      "https://portacool-apex-default-rtdb.firebaseio.com",
			RequestTimeout:     20,
		},
		Device: DeviceConfig{
			FanCFMMax: 3500,
			Datapoints: DatapointConfig{
				Power:                 12,
				FanSpeed:              13,
				Timer:                 21,
				FanFeedback:           7,
				WaterLevel:            5,
				AmbientTemp:           1,
				ExitTemp:              2,
				InternalComponentTemp: 3,
				RelativeHumidity:      4,
				VoltageA:              8,
				VoltageB:              9,
			},
		},
		Polling: PollingConfig{
			IntervalSeconds:       8,
			OfflineRefreshSeconds: 60,
			ForceRefreshSeconds:   15,
			CommandGraceSeconds:   15,
		},
		Database: DatabaseConfig{
			Path:        "./data/portacool.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			PruneInterval: 6,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "portacool-bridge",
			},
			QoS:         1,
			TopicPrefix: "portacool",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8088,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than via the YAML file.
func applyEnvOverrides(cfg *Config) {
	// Cloud
	if v := os.Getenv("PORTACOOL_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("PORTACOOL_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("PORTACOOL_IDENTITY_API_KEY"); v != "" {
		cfg.Cloud.IdentityAPIKey = v
	}

	// Device
	if v := os.Getenv("PORTACOOL_DEVICE_UNIQUE_ID"); v != "" {
		cfg.Device.UniqueID = v
	}
	if v := os.Getenv("PORTACOOL_DEVICE_TYPE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Device.DeviceTypeID = id
		}
	}

	// Database
	if v := os.Getenv("PORTACOOL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PORTACOOL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PORTACOOL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PORTACOOL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PORTACOOL_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PORTACOOL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.Username == "" {
		errs = append(errs, "cloud.username is required (set PORTACOOL_CLOUD_USERNAME)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set PORTACOOL_CLOUD_PASSWORD)")
	}
	if c.Cloud.IdentityAPIKey == "" {
		errs = append(errs, "cloud.identity_api_key is required (set PORTACOOL_IDENTITY_API_KEY)")
	}
	if c.Cloud.APIBase == "" {
		errs = append(errs, "cloud.api_base is required")
	}
	if c.Cloud.RealtimeDBURL == "" {
		errs = append(errs, "cloud.realtime_db_url is required")
	}

	// Device validation
	if c.Device.Datapoints.Power <= 0 || c.Device.Datapoints.FanSpeed <= 0 || c.Device.Datapoints.Timer <= 0 {
		errs = append(errs, "device.datapoints power, fan_speed and timer must be positive")
	}

	// Polling validation
	if c.Polling.IntervalSeconds < 1 {
		errs = append(errs, "polling.interval_seconds must be at least 1")
	}
	if c.Polling.OfflineRefreshSeconds < 0 {
		errs = append(errs, "polling.offline_refresh_seconds cannot be negative")
	}
	if c.Polling.ForceRefreshSeconds < 0 || c.Polling.CommandGraceSeconds < 0 {
		errs = append(errs, "polling force and grace windows cannot be negative")
	}

	// History validation
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the regular polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// OfflineRefresh returns how long cached state is served while the device is off.
func (c *Config) OfflineRefresh() time.Duration {
	return time.Duration(c.Polling.OfflineRefreshSeconds) * time.Second
}

// ForceRefreshWindow returns how long the offline throttle is bypassed after a command.
func (c *Config) ForceRefreshWindow() time.Duration {
	return time.Duration(c.Polling.ForceRefreshSeconds) * time.Second
}

// CommandGrace returns how long a commanded value is preferred over polled data.
func (c *Config) CommandGrace() time.Duration {
	return time.Duration(c.Polling.CommandGraceSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout for cloud calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeout) * time.Second
}

// HistoryRetention returns how long history rows are kept.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// HistoryPruneInterval returns how often old history rows are pruned.
func (c *Config) HistoryPruneInterval() time.Duration {
	return time.Duration(c.History.PruneInterval) * time.Hour
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
