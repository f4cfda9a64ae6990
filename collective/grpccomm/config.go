package grpccomm

import (
	"os"

	"github.com/gomlx/distop/types/faults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultMaxMessageBytes is the default limit of gRPC messages, in both directions.
const DefaultMaxMessageBytes = 256 << 20

// Config of a group of workers communicating through a coordinator.
//
// Example YAML:
//
//	coordinator: "localhost:7070"
//	size: 3
//	max_message_bytes: 67108864
type Config struct {
	// Coordinator address: the coordinator listens on it, the workers dial it.
	Coordinator string `yaml:"coordinator"`

	// Size is the number of workers in the group.
	Size int `yaml:"size"`

	// MaxMessageBytes limits the size of gRPC messages. If 0, DefaultMaxMessageBytes is used.
	// A collective call exchanges its whole buffer in one message.
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// ParseConfig parses and validates a YAML configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, faults.Wrap(faults.PreconditionViolation, err, "failed to parse grpccomm configuration")
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, faults.Wrap(faults.PreconditionViolation, errors.WithStack(err), "failed to read configuration")
	}
	return ParseConfig(data)
}

// Validate returns a PreconditionViolation if the configuration is not usable.
func (cfg Config) Validate() error {
	if cfg.Coordinator == "" {
		return faults.Preconditionf("grpccomm configuration requires a coordinator address")
	}
	if cfg.Size <= 0 {
		return faults.Preconditionf("grpccomm configuration requires a positive group size, got %d", cfg.Size)
	}
	if cfg.MaxMessageBytes < 0 {
		return faults.Preconditionf("grpccomm max_message_bytes must not be negative, got %d", cfg.MaxMessageBytes)
	}
	return nil
}

func (cfg Config) maxMessageBytes() int {
	if cfg.MaxMessageBytes == 0 {
		return DefaultMaxMessageBytes
	}
	return cfg.MaxMessageBytes
}
