package microgrid

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunables of the core runtime. The zero value is not
// usable; start from DefaultConfig and override fields, or parse a YAML
// document with LoadConfig. There is no CLI surface in the core; entry
// binaries decide where the document comes from.
type Config struct {
	// MaxDataAge bounds how old the last telemetry message of a component may
	// be before the component is considered not working.
	MaxDataAge time.Duration `yaml:"max_data_age"`
	// MaxBlockingDuration saturates the exponential blocking window applied
	// after failed set-power attempts.
	MaxBlockingDuration time.Duration `yaml:"max_blocking_duration"`
	// ResamplingPeriod is the fixed cadence of the resampled output streams.
	ResamplingPeriod time.Duration `yaml:"resampling_period"`
	// BroadcastQueueDepth bounds the per-receiver queue of every broadcast
	// channel; a slow receiver drops its oldest buffered element on overflow.
	BroadcastQueueDepth int `yaml:"broadcast_queue_depth"`
}

// DefaultConfig returns the configuration the runtime ships with.
func DefaultConfig() Config {
	return Config{
		MaxDataAge:          5 * time.Second,
		MaxBlockingDuration: 30 * time.Second,
		ResamplingPeriod:    time.Second,
		BroadcastQueueDepth: 50,
	}
}

// Validate reports the first nonsensical field value, if any.
func (c Config) Validate() error {
	if c.MaxDataAge <= 0 {
		return fmt.Errorf("max_data_age must be positive, got %s", c.MaxDataAge)
	}
	if c.MaxBlockingDuration <= 0 {
		return fmt.Errorf("max_blocking_duration must be positive, got %s", c.MaxBlockingDuration)
	}
	if c.ResamplingPeriod <= 0 {
		return fmt.Errorf("resampling_period must be positive, got %s", c.ResamplingPeriod)
	}
	if c.BroadcastQueueDepth <= 0 {
		return fmt.Errorf("broadcast_queue_depth must be positive, got %d", c.BroadcastQueueDepth)
	}
	return nil
}

// LoadConfig parses a YAML document, applying the defaults for fields the
// document leaves unset, and validates the result.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if err == io.EOF {
			// An empty document means all defaults.
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes a config mapping, accepting durations in
// time.ParseDuration syntax ("5s", "200ms"). Fields absent from the document
// keep their current (usually default) values; unknown fields are rejected.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config: expected a mapping, got YAML node kind %d", node.Kind)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case "max_data_age":
			err = decodeDuration(value, &c.MaxDataAge)
		case "max_blocking_duration":
			err = decodeDuration(value, &c.MaxBlockingDuration)
		case "resampling_period":
			err = decodeDuration(value, &c.ResamplingPeriod)
		case "broadcast_queue_depth":
			err = value.Decode(&c.BroadcastQueueDepth)
		default:
			return fmt.Errorf("config: unknown field %q on line %d", key.Value, key.Line)
		}
		if err != nil {
			return fmt.Errorf("config: field %q: %w", key.Value, err)
		}
	}
	return nil
}

func decodeDuration(node *yaml.Node, dst *time.Duration) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
