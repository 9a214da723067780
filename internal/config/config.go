package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// explicit path is given.
const DefaultFile = "fbsync.yaml"

// Config represents the complete fbsync configuration
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Build    BuildConfig    `yaml:"build"`
	Projects ProjectsConfig `yaml:"projects"`
	History  HistoryConfig  `yaml:"history"`
}

// DeviceConfig configures the serial connection
type DeviceConfig struct {
	Port           string `yaml:"port"`
	BaudRate       int    `yaml:"baud_rate"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-operation deadline for remote calls.
func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// BuildConfig configures the external packaging step
type BuildConfig struct {
	Command   []string `yaml:"command"`
	OutputDir string   `yaml:"output_dir"`
	Package   string   `yaml:"package"`
}

// ProjectsConfig configures project override directories
type ProjectsConfig struct {
	Root  string `yaml:"root"`
	Guard string `yaml:"guard"`
}

// HistoryConfig configures the local deployment journal
type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

// DefaultPort returns the conventional serial device path for the host
// platform.
func DefaultPort() string {
	switch runtime.GOOS {
	case "darwin":
		return "/dev/tty.usbmodem01"
	case "windows":
		return "COM3"
	default:
		return "/dev/ttyACM0"
	}
}

// Default returns the built-in configuration used when no config file
// exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads the default config file if it exists, otherwise
// returns the built-in defaults. An explicitly-given path must exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultFile); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(DefaultFile)
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Device.Port = os.ExpandEnv(c.Device.Port)
	c.Build.OutputDir = os.ExpandEnv(c.Build.OutputDir)
	c.Projects.Root = os.ExpandEnv(c.Projects.Root)
	c.History.Path = os.ExpandEnv(c.History.Path)
	for i, arg := range c.Build.Command {
		c.Build.Command[i] = os.ExpandEnv(arg)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Device.Port == "" {
		c.Device.Port = DefaultPort()
	}
	if c.Device.BaudRate == 0 {
		c.Device.BaudRate = 115200
	}
	if c.Device.TimeoutSeconds == 0 {
		c.Device.TimeoutSeconds = 10
	}
	if c.Build.Package == "" {
		c.Build.Package = "hello_neopixel"
	}
	if len(c.Build.Command) == 0 {
		c.Build.Command = []string{"python", "setup.py", "build"}
	}
	if c.Build.OutputDir == "" {
		c.Build.OutputDir = filepath.Join("build", "lib", c.Build.Package)
	}
	if c.Projects.Root == "" {
		c.Projects.Root = "projects"
	}
	if c.Projects.Guard == "" {
		c.Projects.Guard = "__init__.py"
	}
	if c.History.Path == "" {
		c.History.Path = "fbsync.db"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Device.BaudRate <= 0 {
		return fmt.Errorf("device.baud_rate must be positive")
	}
	if c.Device.TimeoutSeconds <= 0 {
		return fmt.Errorf("device.timeout_seconds must be positive")
	}
	if c.Build.Package == "" {
		return fmt.Errorf("build.package is required")
	}
	if len(c.Build.Command) == 0 {
		return fmt.Errorf("build.command is required")
	}
	if c.Projects.Guard == "" {
		return fmt.Errorf("projects.guard is required")
	}
	return nil
}
