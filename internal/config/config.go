// Package config loads loop's defaults from a config file and LOOP_*
// environment variables.
package config

import (
	"fmt"
	"strings"
)

// Config is the file/env layer underneath the command-line flags.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Shell used to run the looped command
	Shell ShellConfig `yaml:"shell" mapstructure:"shell"`

	// Trace export settings
	Trace TraceConfig `yaml:"trace" mapstructure:"trace"`

	// Every is the default pacing interval in the same syntax as --every.
	// Empty means no pacing.
	Every string `yaml:"every" mapstructure:"every"`

	// Summary turns on --summary by default.
	Summary bool `yaml:"summary" mapstructure:"summary"`
}

// LoggingConfig configures diagnostic logging on stderr.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" mapstructure:"level"`

	// Format is console or json.
	Format string `yaml:"format" mapstructure:"format"`

	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ShellConfig names the program that interprets the command line.
type ShellConfig struct {
	Program string `yaml:"program" mapstructure:"program"`
	Flag    string `yaml:"flag" mapstructure:"flag"`
}

// TraceConfig configures OTLP export.
type TraceConfig struct {
	// Endpoint is an OTLP/HTTP host:port. Empty falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// Insecure sends spans over plain HTTP. Local collectors usually want
	// this.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		Shell: ShellConfig{
			Program: "sh",
			Flag:    "-c",
		},
		Trace: TraceConfig{
			ServiceName: "loop",
			Insecure:    true,
		},
	}
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json", "":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if strings.TrimSpace(c.Shell.Program) == "" {
		return fmt.Errorf("shell.program must not be empty")
	}
	return nil
}
