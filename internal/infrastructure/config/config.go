package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the humidifier bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reports.
	ID string `yaml:"id"`

	// DeviceID is the Gray Logic device identifier used in MQTT topics.
	DeviceID string `yaml:"device_id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DeviceConfig describes the humidifier and how it is polled.
type DeviceConfig struct {
	// Address is the device IP address on the local network.
	Address string `yaml:"address"`

	// Token is the 32-character miIO device token.
	// WARNING: Never log this value. Use String() method for safe logging.
	Token string `yaml:"token"`

	// PollingInterval is the status refresh period (seconds).
	// Default: 30 seconds.
	PollingInterval int `yaml:"polling_interval"`

	// RPCTimeout bounds a single property read or command call (seconds).
	// Default: 5 seconds.
	RPCTimeout int `yaml:"rpc_timeout"`

	// OutputAtStartup publishes the full status once polling has initialised.
	OutputAtStartup bool `yaml:"output_at_startup"`

	// HomeKit projects outbound state onto the HomeKit humidifier
	// characteristics and accepts HomeKit payloads as commands.
	HomeKit bool `yaml:"homekit"`

	// Encoding selects how the firmware encodes power, mode and water depth.
	// Values: "legacy" (power "on"/"off", named modes, depth/1.2),
	// "numeric" (power 1/0, gears 1-4, depth*100). Default: "legacy".
	Encoding string `yaml:"encoding"`

	// WaterLevelDivisor calibrates legacy depth readings.
	// Default: 1.2
	WaterLevelDivisor float64 `yaml:"water_level_divisor"`
}

// String returns a string representation with the token masked.
func (d DeviceConfig) String() string {
	token := ""
	if d.Token != "" {
		token = "[REDACTED]"
	}
	return fmt.Sprintf("DeviceConfig{Address:%q, Token:%s, PollingInterval:%d, Encoding:%q, HomeKit:%t}",
		d.Address, token, d.PollingInterval, d.Encoding, d.HomeKit)
}

// MarshalJSON implements json.Marshaler to redact the token in JSON output.
func (d DeviceConfig) MarshalJSON() ([]byte, error) {
	type redacted DeviceConfig
	safe := redacted(d)
	if safe.Token != "" {
		safe.Token = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// ProxyConfig configures the miIO RPC proxy reached over MQTT.
// The proxy owns the encrypted UDP session with the device; this bridge
// only exchanges method calls and results with it.
type ProxyConfig struct {
	// RequestTopic receives {"id","method","params"} requests.
	RequestTopic string `yaml:"request_topic"`

	// ResponseTopic carries {"id","result","error"} replies.
	ResponseTopic string `yaml:"response_topic"`

	// Timeout bounds the handshake and any call without its own deadline
	// (seconds). Default: 10 seconds.
	Timeout int `yaml:"timeout"`

	// Exec optionally launches and supervises the proxy on this host.
	Exec ProxyExecConfig `yaml:"exec"`
}

// ProxyExecConfig describes a locally supervised proxy daemon.
// An empty Binary means the proxy is managed elsewhere.
type ProxyExecConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`

	// RestartDelay is the initial restart backoff (seconds). Default: 2.
	RestartDelay int `yaml:"restart_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret leaves the command API unauthenticated (local deployments).
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUMIDIFIER_SECTION_KEY
// For example: HUMIDIFIER_DEVICE_TOKEN, HUMIDIFIER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "miio-bridge-01",
			DeviceID:       "humidifier",
			HealthInterval: 30,
		},
		Device: DeviceConfig{
			PollingInterval:   30,
			RPCTimeout:        5,
			Encoding:          "legacy",
			WaterLevelDivisor: 1.2,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-humidifier",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Proxy: ProxyConfig{
			RequestTopic:  "miio/proxy/request",
			ResponseTopic: "miio/proxy/response",
			Timeout:       10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
// Environment variables follow the pattern: HUMIDIFIER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("HUMIDIFIER_DEVICE_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}
	if v := os.Getenv("HUMIDIFIER_DEVICE_TOKEN"); v != "" {
		cfg.Device.Token = v
	}
	if v := os.Getenv("HUMIDIFIER_DEVICE_POLLING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.PollingInterval = n
		}
	}

	// MQTT
	if v := os.Getenv("HUMIDIFIER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HUMIDIFIER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HUMIDIFIER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Security
	if v := os.Getenv("HUMIDIFIER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateDevice()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBridge validates bridge identity settings.
func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.DeviceID == "" {
		errs = append(errs, "bridge.device_id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

// tokenHexLen is the length of a hex-encoded miIO token.
const tokenHexLen = 32

// validateDevice validates device and polling settings.
func (c *Config) validateDevice() []string {
	var errs []string
	if c.Device.Address == "" {
		errs = append(errs, "device.address is required")
	}
	if c.Device.Token != "" && len(c.Device.Token) != tokenHexLen {
		errs = append(errs, "device.token must be 32 hex characters")
	}
	if c.Device.PollingInterval < 1 {
		errs = append(errs, "device.polling_interval must be at least 1 second")
	}
	if c.Device.RPCTimeout < 1 {
		errs = append(errs, "device.rpc_timeout must be at least 1 second")
	}
	switch c.Device.Encoding {
	case "legacy", "numeric":
	default:
		errs = append(errs, fmt.Sprintf("device.encoding %q is invalid (use legacy or numeric)", c.Device.Encoding))
	}
	if c.Device.WaterLevelDivisor <= 0 {
		errs = append(errs, "device.water_level_divisor must be positive")
	}
	return errs
}

// validateMQTT validates MQTT broker settings.
func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Proxy.RequestTopic == "" || c.Proxy.ResponseTopic == "" {
		errs = append(errs, "proxy.request_topic and proxy.response_topic are required")
	}
	return errs
}

// validateAPI validates HTTP API settings.
func (c *Config) validateAPI() []string {
	var errs []string
	if !c.API.Enabled {
		return errs
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	return errs
}

// validateLogging validates logging settings.
func (c *Config) validateLogging() []string {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json or text)", c.Logging.Format))
	}

	return errs
}

// GetPollingInterval returns the device polling period as a Duration.
func (c *Config) GetPollingInterval() time.Duration {
	return time.Duration(c.Device.PollingInterval) * time.Second
}

// GetRPCTimeout returns the per-call RPC timeout as a Duration.
func (c *Config) GetRPCTimeout() time.Duration {
	return time.Duration(c.Device.RPCTimeout) * time.Second
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
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

// GetProxyTimeout returns the RPC proxy timeout as a Duration.
func (c *Config) GetProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.Timeout) * time.Second
}
