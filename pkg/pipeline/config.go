package pipeline

import (
	"fmt"
	"os"
	"time"
)

// Config contains configuration for a playback pipeline
type Config struct {
	Output  OutputConfig  `json:"output"`
	Timing  TimingConfig  `json:"timing"`
	Logging LoggingConfig `json:"logging"`
}

// OutputConfig selects the sink element and output device
type OutputConfig struct {
	// Sink is the factory name of the sink element.
	Sink string `json:"sink"`

	// Device is an engine-specific device identifier, empty for the
	// default device.
	Device string `json:"device"`
}

// TimingConfig contains the pipeline's timing knobs
type TimingConfig struct {
	StateChangeTimeout time.Duration `json:"state_change_timeout"`
	FaderTickInterval  time.Duration `json:"fader_tick_interval"`
	GaplessEpsilon     time.Duration `json:"gapless_epsilon"`
}

// LoggingConfig contains configuration for logging
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Sink: "autoaudiosink",
		},
		Timing: TimingConfig{
			StateChangeTimeout: DefaultStateChangeTimeout,
			FaderTickInterval:  DefaultFaderTickInterval,
			GaplessEpsilon:     DefaultGaplessEpsilon,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadFromEnvironment loads configuration values from environment variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("PIPELINE_OUTPUT_SINK"); val != "" {
		c.Output.Sink = val
	}

	if val := os.Getenv("PIPELINE_OUTPUT_DEVICE"); val != "" {
		c.Output.Device = val
	}

	if val := os.Getenv("PIPELINE_STATE_CHANGE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			c.Timing.StateChangeTimeout = timeout
		}
	}

	if val := os.Getenv("PIPELINE_FADER_TICK_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.Timing.FaderTickInterval = interval
		}
	}

	if val := os.Getenv("PIPELINE_GAPLESS_EPSILON"); val != "" {
		if epsilon, err := time.ParseDuration(val); err == nil {
			c.Timing.GaplessEpsilon = epsilon
		}
	}

	if val := os.Getenv("PIPELINE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}

	if val := os.Getenv("PIPELINE_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
}

// Validate validates the configuration and returns any errors
func (c *Config) Validate() error {
	var errors []string

	if c.Output.Sink == "" {
		errors = append(errors, "output sink cannot be empty")
	}

	if c.Timing.StateChangeTimeout <= 0 {
		errors = append(errors, "timing state_change_timeout must be > 0")
	}

	if c.Timing.FaderTickInterval <= 0 {
		errors = append(errors, "timing fader_tick_interval must be > 0")
	}

	if c.Timing.GaplessEpsilon < 0 {
		errors = append(errors, "timing gapless_epsilon must be >= 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, "logging level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		errors = append(errors, "logging format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}
