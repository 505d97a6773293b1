package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"linkprobe/internal/errors"
	"linkprobe/internal/transport"
)

// Constants for default values
const (
	DefaultBaudRate     = 115200
	DefaultDataBits     = 8
	DefaultParity       = "none"
	DefaultStopBits     = 1.0
	DefaultStartSize    = 1
	DefaultMaxSize      = 1000000
	DefaultFactor       = 2.0
	DefaultTimeout      = 10 * time.Second
	DefaultGrace        = 500 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadTimeout  = transport.DefaultReadTimeout
	DefaultWriteChunk   = 1024
	DefaultOutputFormat = "text"
	DefaultLogDir       = "logs"

	LogDirPerms = 0755
)

// Output formats accepted by the reporter
var OutputFormats = []string{"text", "json", "yaml"}

// Config holds all configuration parameters for the application
type Config struct {
	// Endpoints under test
	PortA string `yaml:"port_a"`
	PortB string `yaml:"port_b"`

	// Line settings applied when the endpoints are opened
	BaudRate     int           `yaml:"baud_rate"`
	DataBits     int           `yaml:"data_bits"`
	Parity       string        `yaml:"parity"`
	StopBits     float64       `yaml:"stop_bits"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Trial parameters
	Timeout      time.Duration `yaml:"timeout"`
	Grace        time.Duration `yaml:"grace"`
	PollInterval time.Duration `yaml:"poll_interval"`
	WriteChunk   int           `yaml:"write_chunk"`
	Seed         uint64        `yaml:"seed"`

	// Search parameters
	StartSize int     `yaml:"start_size"`
	MaxSize   int     `yaml:"max_size"`
	Factor    float64 `yaml:"factor"`
	Require   int     `yaml:"require"`

	// Output and logging
	OutputFormat string `yaml:"output"`
	ShowProgress bool   `yaml:"progress"`
	LogDir       string `yaml:"log_dir"`
	Verbose      bool   `yaml:"verbose"`
	ListPorts    bool   `yaml:"-"`
}

// Default returns a Config holding the tool's defaults.
func Default() *Config {
	return &Config{
		BaudRate:     DefaultBaudRate,
		DataBits:     DefaultDataBits,
		Parity:       DefaultParity,
		StopBits:     DefaultStopBits,
		ReadTimeout:  DefaultReadTimeout,
		Timeout:      DefaultTimeout,
		Grace:        DefaultGrace,
		PollInterval: DefaultPollInterval,
		WriteChunk:   DefaultWriteChunk,
		StartSize:    DefaultStartSize,
		MaxSize:      DefaultMaxSize,
		Factor:       DefaultFactor,
		OutputFormat: DefaultOutputFormat,
		LogDir:       DefaultLogDir,
	}
}

// LoadFile overlays the YAML profile at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewFileSystemError("read_profile", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.NewValidationError("config", path, fmt.Sprintf("malformed profile: %v", err))
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateOutput(); err != nil {
		return err
	}
	if c.ListPorts {
		return nil
	}

	if c.PortA == "" {
		return errors.NewValidationError("port_a", c.PortA, "endpoint A is required")
	}
	if c.PortB == "" {
		return errors.NewValidationError("port_b", c.PortB, "endpoint B is required")
	}
	if c.PortA == c.PortB {
		return errors.NewValidationError("port_b", c.PortB, "endpoints A and B must differ")
	}

	if c.BaudRate <= 0 {
		return errors.NewValidationError("baud_rate", c.BaudRate, "must be positive")
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return errors.NewValidationError("data_bits", c.DataBits, "must be between 5 and 8")
	}
	switch strings.ToLower(c.Parity) {
	case "none", "odd", "even", "mark", "space":
	default:
		return errors.NewValidationError("parity", c.Parity, "expected none, odd, even, mark or space")
	}
	if c.StopBits != 1 && c.StopBits != 1.5 && c.StopBits != 2 {
		return errors.NewValidationError("stop_bits", c.StopBits, "expected 1, 1.5 or 2")
	}
	if c.ReadTimeout <= 0 {
		return errors.NewValidationError("read_timeout", c.ReadTimeout, "must be positive")
	}
	if c.WriteTimeout < 0 {
		return errors.NewValidationError("write_timeout", c.WriteTimeout, "cannot be negative")
	}

	if c.Timeout <= 0 {
		return errors.NewValidationError("timeout", c.Timeout, "must be positive")
	}
	if c.Grace <= 0 {
		return errors.NewValidationError("grace", c.Grace, "must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.NewValidationError("poll_interval", c.PollInterval, "must be positive")
	}
	if c.WriteChunk <= 0 {
		return errors.NewValidationError("write_chunk", c.WriteChunk, "must be positive")
	}

	if c.StartSize <= 0 {
		return errors.NewValidationError("start_size", c.StartSize, "must be positive")
	}
	if c.MaxSize < c.StartSize {
		return errors.NewValidationError("max_size", c.MaxSize, "must not be smaller than the start size")
	}
	if math.IsNaN(c.Factor) || math.IsInf(c.Factor, 0) || c.Factor <= 1 {
		return errors.NewValidationError("factor", c.Factor, "must be greater than 1")
	}
	if c.Require < 0 {
		return errors.NewValidationError("require", c.Require, "cannot be negative")
	}

	return nil
}

func (c *Config) validateOutput() error {
	for _, f := range OutputFormats {
		if strings.EqualFold(c.OutputFormat, f) {
			return nil
		}
	}
	return errors.NewValidationError("output", c.OutputFormat, "expected one of "+strings.Join(OutputFormats, ", "))
}

// TransportSettings returns the settings used to open both endpoints. The
// write timeout falls back to the trial timeout.
func (c *Config) TransportSettings() transport.Settings {
	writeTimeout := c.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = c.Timeout
	}
	return transport.Settings{
		BaudRate:     c.BaudRate,
		DataBits:     c.DataBits,
		Parity:       strings.ToLower(c.Parity),
		StopBits:     c.StopBits,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: writeTimeout,
	}
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	return fmt.Sprintf("Config{A: %s, B: %s, Baud: %d, Framing: %s, Sizes: %d..%d x%g, Timeout: %s}",
		c.PortA, c.PortB, c.BaudRate, c.TransportSettings().Framing(),
		c.StartSize, c.MaxSize, c.Factor, c.Timeout)
}
