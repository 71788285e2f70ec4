package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udveo/mavlink-tracking-bridge/internal/sink"
)

const defaultLogLevel = "info"

// Duration parses yaml values like "30s" or "5m" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Settings represents global application settings
type Settings struct {
	LogLevel      string `yaml:"logLevel"`
	MetricsListen string `yaml:"metricsListen"`
}

// Level parses the configured log level name.
func (s Settings) Level() (slog.Level, error) {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level '%s'", s.LogLevel)
	}
}

// MAVLinkConfig represents the telemetry source settings
type MAVLinkConfig struct {
	Device string `yaml:"device"`
}

// Config represents the main application configuration. The AMQP and
// MQTT sections are both optional, but at least one must be present.
type Config struct {
	Settings Settings         `yaml:"settings"`
	MAVLink  MAVLinkConfig    `yaml:"mavlink"`
	AMQP     *sink.AMQPConfig `yaml:"amqp"`
	MQTT     *sink.MQTTConfig `yaml:"mqtt"`

	AltitudeOffsetMeters  float64 `yaml:"altitudeOffsetMeters"`
	SetFlyingWhenGrounded bool    `yaml:"setFlyingWhenGrounded"`

	UavIDPrefix       string `yaml:"uavIdPrefix"`
	FlightOperationID string `yaml:"flightOperationId"`

	// TrackTTL evicts per-system tracking state not updated for this
	// long. Zero keeps entries for the lifetime of the process.
	TrackTTL Duration `yaml:"trackTTL"`
}

// LoadConfig reads and parses the settings file. Validation runs
// separately so CLI overrides can be applied in between.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	config := Config{
		Settings: Settings{LogLevel: defaultLogLevel},
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}

	return &config, nil
}

// Validate checks the merged file and CLI configuration. It must pass
// before any network connection is opened.
func (c *Config) Validate() error {
	if c.AMQP == nil && c.MQTT == nil {
		return errors.New("a valid AMQP or MQTT config is required")
	}

	if c.AMQP != nil {
		if err := c.AMQP.Validate(); err != nil {
			return err
		}
	}
	if c.MQTT != nil {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}

	if c.MAVLink.Device == "" {
		return errors.New("no MAVLink device specified in config or CLI options")
	}

	if _, err := c.Settings.Level(); err != nil {
		return err
	}

	return nil
}
