package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when neither a flag nor STEP_CONFIG names a file.
const DefaultPath = "step_computer.toml"

// EnvPath overrides the config file location.
const EnvPath = "STEP_CONFIG"

// Default decision thresholds when neither config nor model metadata sets them.
const DefaultThreshold = 0.3

// Config holds all application configuration values.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Detector DetectorConfig `toml:"detector"`
	Model    ModelConfig    `toml:"model"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Redis    RedisConfig    `toml:"redis"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	IMU      IMUConfig      `toml:"imu"`
	Serial   SerialConfig   `toml:"serial"`
	Display  DisplayConfig  `toml:"display"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr       string `toml:"addr"`
	SessionDir string `toml:"session_dir"`
}

// DetectorConfig leaves thresholds nil when the file does not set them, so
// model metadata can supply a calibrated value.
type DetectorConfig struct {
	StartThreshold       *float64 `toml:"start_threshold"`
	EndThreshold         *float64 `toml:"end_threshold"`
	UseLatestCalibration bool     `toml:"use_latest_calibration"`
}

type ModelConfig struct {
	Kind         string `toml:"kind"` // "mlp" or "remote"
	WeightsPath  string `toml:"weights_path"`
	MetadataPath string `toml:"metadata_path"`
	RemoteURL    string `toml:"remote_url"`
	RemoteName   string `toml:"remote_name"`
	TimeoutMS    int    `toml:"timeout_ms"`
}

// Timeout returns the remote model call timeout.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

type MQTTConfig struct {
	Broker           string `toml:"broker"`
	ClientIDProducer string `toml:"client_id_producer"`
	ClientIDServer   string `toml:"client_id_server"`
	ClientIDConsole  string `toml:"client_id_console"`
	ClientIDDisplay  string `toml:"client_id_display"`
	TopicReadings    string `toml:"topic_readings"`
	TopicEvents      string `toml:"topic_events"`
	TopicGPS         string `toml:"topic_gps"`
	Enabled          bool   `toml:"enabled"` // ingest in the server
}

type RedisConfig struct {
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	KeyPrefix   string `toml:"key_prefix"`
	EventStream string `toml:"event_stream"`
	Enabled     bool   `toml:"enabled"`
}

type SQLiteConfig struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

type IMUConfig struct {
	SPIDevice string `toml:"spi_device"`
	CSPin     string `toml:"cs_pin"`
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	AccelRange byte `toml:"accel_range"`
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	GyroRange        byte    `toml:"gyro_range"`
	SampleIntervalMS int     `toml:"sample_interval_ms"`
	AccelScale       float64 `toml:"accel_scale"` // LSB per g
	GyroScale        float64 `toml:"gyro_scale"`  // LSB per °/s
}

// SampleInterval returns the producer tick.
func (i IMUConfig) SampleInterval() time.Duration {
	return time.Duration(i.SampleIntervalMS) * time.Millisecond
}

type SerialConfig struct {
	Port string `toml:"port"`
	Baud uint   `toml:"baud"`
}

type DisplayConfig struct {
	I2CBus           string `toml:"i2c_bus"` // empty opens the first bus
	UpdateIntervalMS int    `toml:"update_interval_ms"`
	Enabled          bool   `toml:"enabled"`
}

func (d DisplayConfig) UpdateInterval() time.Duration {
	return time.Duration(d.UpdateIntervalMS) * time.Millisecond
}

type MetricsConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Package-level singleton: InitGlobal sets it once, Get reads it under RLock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key: %q", undecoded[0].String())
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, for tools that run
// without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.SessionDir == "" {
		c.Server.SessionDir = "."
	}
	if c.Model.Kind == "" {
		c.Model.Kind = "mlp"
	}
	if c.Model.RemoteName == "" {
		c.Model.RemoteName = "step_detection"
	}
	if c.Model.TimeoutMS == 0 {
		c.Model.TimeoutMS = 2000
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientIDProducer == "" {
		c.MQTT.ClientIDProducer = "step-producer"
	}
	if c.MQTT.ClientIDServer == "" {
		c.MQTT.ClientIDServer = "step-server"
	}
	if c.MQTT.ClientIDConsole == "" {
		c.MQTT.ClientIDConsole = "step-console"
	}
	if c.MQTT.ClientIDDisplay == "" {
		c.MQTT.ClientIDDisplay = "step-display"
	}
	if c.MQTT.TopicReadings == "" {
		c.MQTT.TopicReadings = "steps/readings"
	}
	if c.MQTT.TopicEvents == "" {
		c.MQTT.TopicEvents = "steps/events"
	}
	if c.MQTT.TopicGPS == "" {
		c.MQTT.TopicGPS = "steps/gps"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "step:"
	}
	if c.Redis.EventStream == "" {
		c.Redis.EventStream = "step:events"
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "steps.db"
	}
	if c.IMU.SPIDevice == "" {
		c.IMU.SPIDevice = "/dev/spidev0.0"
	}
	if c.IMU.SampleIntervalMS == 0 {
		c.IMU.SampleIntervalMS = 20
	}
	if c.IMU.AccelScale == 0 {
		c.IMU.AccelScale = accelLSB[c.IMU.AccelRange&3]
	}
	if c.IMU.GyroScale == 0 {
		c.IMU.GyroScale = gyroLSB[c.IMU.GyroRange&3]
	}
	if c.Serial.Port == "" {
		c.Serial.Port = "/dev/serial0"
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if c.Display.UpdateIntervalMS == 0 {
		c.Display.UpdateIntervalMS = 250
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// MPU9250 sensitivities per full-scale range.
var (
	accelLSB = [4]float64{16384, 8192, 4096, 2048}
	gyroLSB  = [4]float64{131, 65.5, 32.8, 16.4}
)

// validate checks ranges and cross-field requirements.
func (c *Config) validate() error {
	for name, th := range map[string]*float64{
		"detector.start_threshold": c.Detector.StartThreshold,
		"detector.end_threshold":   c.Detector.EndThreshold,
	} {
		if th != nil && (*th <= 0 || *th >= 1) {
			return fmt.Errorf("%s must lie in (0,1), got %v", name, *th)
		}
	}
	switch c.Model.Kind {
	case "mlp":
	case "remote":
		if c.Model.RemoteURL == "" {
			return fmt.Errorf("model.remote_url is required when model.kind is \"remote\"")
		}
	default:
		return fmt.Errorf("model.kind must be \"mlp\" or \"remote\", got %q", c.Model.Kind)
	}
	if c.IMU.AccelRange > 3 {
		return fmt.Errorf("imu.accel_range must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", c.IMU.AccelRange)
	}
	if c.IMU.GyroRange > 3 {
		return fmt.Errorf("imu.gyro_range must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", c.IMU.GyroRange)
	}
	if c.IMU.SampleIntervalMS < 0 {
		return fmt.Errorf("imu.sample_interval_ms must be positive, got %d", c.IMU.SampleIntervalMS)
	}
	return nil
}

// Thresholds resolves the configured thresholds. fallback is used for any
// unset value; callers pass the model's optimal threshold when known.
func (d DetectorConfig) Thresholds(fallback *float64) (start, end float64) {
	def := DefaultThreshold
	if fallback != nil {
		def = *fallback
	}
	start, end = def, def
	if d.StartThreshold != nil {
		start = *d.StartThreshold
	}
	if d.EndThreshold != nil {
		end = *d.EndThreshold
	}
	return start, end
}

// Path picks the config file: an explicit flag value, then STEP_CONFIG,
// then DefaultPath.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
