// Package config loads bridge settings from an optional YAML file, a
// .env.runtime file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is loaded into the environment when present. Variables already
// set in the environment are not overwritten.
const DotEnvFile = ".env.runtime"

// Config holds the complete bridge configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Logging LoggingConfig `yaml:"logging"`

	// StateDB is the SQLite file holding transmitter counters. Empty disables it.
	StateDB string `yaml:"state_db"`
	// MonitorAddr is the listen address of the HTTP monitor. Empty disables it.
	MonitorAddr string `yaml:"monitor_addr"`
}

// SerialConfig describes the serial device the sensor receiver is attached to.
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Wait     time.Duration `yaml:"wait"`
	MaxLine  int           `yaml:"max_line_bytes"`
}

// MQTTConfig contains the broker connection settings.
type MQTTConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ClientID       string        `yaml:"client_id"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

// BridgeConfig controls how records are turned into messages and how the
// loop reacts to a broker that cannot be reached.
type BridgeConfig struct {
	TopicPrefix      string        `yaml:"topic_prefix"`
	TopicKey         string        `yaml:"topic_key"`
	Echo             bool          `yaml:"echo"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyS0",
			BaudRate: 115200,
			MaxLine:  64 * 1024,
		},
		MQTT: MQTTConfig{
			Host:           "localhost",
			Port:           1883,
			ClientID:       "serial2mqtt",
			ConnectTimeout: 10 * time.Second,
			KeepAlive:      60 * time.Second,
		},
		Bridge: BridgeConfig{
			ReconnectInitial: time.Second,
			ReconnectMax:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a Config from defaults, the file named by CONFIG_FILE (if any),
// .env.runtime (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	cfg.Serial.Port = getEnv("SERIAL_PORT", cfg.Serial.Port)
	cfg.Serial.BaudRate = getEnvInt("BAUD_RATE", cfg.Serial.BaudRate, &errs)
	cfg.Serial.Wait = getEnvDuration("SERIAL_WAIT", cfg.Serial.Wait, &errs)
	cfg.Serial.MaxLine = getEnvInt("MAX_LINE_BYTES", cfg.Serial.MaxLine, &errs)

	cfg.MQTT.Host = getEnv("MQTT_HOST", cfg.MQTT.Host)
	cfg.MQTT.Port = getEnvInt("MQTT_PORT", cfg.MQTT.Port, &errs)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.User = getEnv("MQTT_USER", cfg.MQTT.User)
	cfg.MQTT.Password = getEnv("MQTT_PASS", cfg.MQTT.Password)
	cfg.MQTT.ConnectTimeout = getEnvDuration("MQTT_CONNECT_TIMEOUT", cfg.MQTT.ConnectTimeout, &errs)

	cfg.Bridge.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.Bridge.TopicPrefix)
	cfg.Bridge.TopicKey = getEnv("MQTT_TOPIC_KEY", cfg.Bridge.TopicKey)
	cfg.Bridge.Echo = getEnvBool("ECHO", cfg.Bridge.Echo, &errs)
	cfg.Bridge.ReconnectInitial = getEnvDuration("MQTT_RECONNECT_INITIAL", cfg.Bridge.ReconnectInitial, &errs)
	cfg.Bridge.ReconnectMax = getEnvDuration("MQTT_RECONNECT_MAX", cfg.Bridge.ReconnectMax, &errs)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.StateDB = getEnv("STATE_DB", cfg.StateDB)
	cfg.MonitorAddr = getEnv("MONITOR_ADDR", cfg.MonitorAddr)

	return errors.Join(errs...)
}

// Validate reports every setting that would prevent the bridge from starting.
func (c Config) Validate() error {
	var errs []error
	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial port must be set"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid baud rate %d", c.Serial.BaudRate))
	}
	if c.Serial.MaxLine <= 0 {
		errs = append(errs, fmt.Errorf("invalid max line size %d", c.Serial.MaxLine))
	}
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("mqtt host must be set"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid mqtt port %d", c.MQTT.Port))
	}
	if c.MQTT.ClientID == "" {
		errs = append(errs, errors.New("mqtt client id must be set"))
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("mqtt connect timeout must be positive"))
	}
	if c.Bridge.ReconnectInitial <= 0 {
		errs = append(errs, errors.New("reconnect initial delay must be positive"))
	}
	if c.Bridge.ReconnectMax < c.Bridge.ReconnectInitial {
		errs = append(errs, errors.New("reconnect max delay must not be below the initial delay"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if lvl := strings.ToLower(strings.TrimSpace(c.Logging.Level)); lvl != "" {
		if _, err := zerolog.ParseLevel(lvl); err != nil {
			errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
		}
	}
	return errors.Join(errs...)
}

// BrokerURL returns the paho broker address for the configured host and port.
func (c MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int, errs *[]error) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return i
}

func getEnvBool(key string, def bool, errs *[]error) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}
