// Package settings manages gardend's daemon-level configuration: serial
// port discovery, timing knobs, logging, and the database location. It is
// distinct from the Rule/Schedule/Relay configuration held in the Store,
// which operators edit through the (external) web UI and which the core
// only ever reads.
package settings

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults per spec.
const (
	DefaultPortPattern     = `/dev/ttyACM[0-9]+`
	DefaultBaudRate        = 115200
	DefaultSafetySeconds   = 10
	DefaultMinTickInterval = 100 * time.Millisecond
	DefaultSerialTimeout   = 1500 * time.Millisecond
)

// Settings holds the daemon's persistent configuration.
type Settings struct {
	// DBPath is the only field spec.md requires to be externally
	// configurable; every other field below has a spec-given default.
	DBPath string `yaml:"db_path"`

	PortPattern string `yaml:"port_pattern,omitempty"`
	BaudRate    int    `yaml:"baud_rate,omitempty"`

	SafetySeconds   int           `yaml:"safety_seconds,omitempty"`
	MinTickInterval time.Duration `yaml:"min_tick_interval,omitempty"`
	SerialTimeout   time.Duration `yaml:"serial_timeout,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogJSON  bool   `yaml:"log_json,omitempty"`

	// EventBusAddr, if set, enables best-effort Redis pub/sub telemetry
	// of tick-level state transitions. Empty disables pkg/eventbus.
	EventBusAddr string `yaml:"event_bus_addr,omitempty"`
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/gardend_settings.yaml"
	}
	return filepath.Join(home, ".gardend", "settings.yaml")
}

// Load reads settings from the default location, applying defaults for any
// field the file leaves unset. A missing file is not an error.
func Load() (*Settings, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads settings from a specific path.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.applyDefaults()
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}

	s.applyDefaults()
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.PortPattern == "" {
		s.PortPattern = DefaultPortPattern
	}
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.SafetySeconds == 0 {
		s.SafetySeconds = DefaultSafetySeconds
	}
	if s.MinTickInterval == 0 {
		s.MinTickInterval = DefaultMinTickInterval
	}
	if s.SerialTimeout == 0 {
		s.SerialTimeout = DefaultSerialTimeout
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultPath())
}

// SaveTo writes settings to a specific path.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
