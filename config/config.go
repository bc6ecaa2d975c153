// Package config holds the daemon configuration: the daemon section and the per-device
// settings keyed by serial number.
//
// The configuration is loaded once into a Config value and passed by reference to the
// components that need it. Reading a device section that is missing, or that lacks some
// keys, fills in the built-in defaults and marks the configuration dirty. Nothing is written
// back until Save is called.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override the daemon section.
const EnvPrefix = "SPECTRAD_"

// ErrNoPath is returned by Save when the configuration was not loaded from a file.
var ErrNoPath = errors.New("configuration has no file path")

// DaemonConfig is the daemon-wide section.
type DaemonConfig struct {
	Host             string        `yaml:"host" env:"HOST"`
	Port             int           `yaml:"port" env:"PORT"`
	LogLevel         string        `yaml:"log_level" env:"LOG_LEVEL"`
	MetricsAddr      string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
	QueueCapacity    int           `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	AutosaveInterval time.Duration `yaml:"autosave_interval" env:"AUTOSAVE_INTERVAL"`
	RedisAddr        string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisChannel     string        `yaml:"redis_channel" env:"REDIS_CHANNEL"`
	Simulate         int           `yaml:"simulate" env:"SIMULATE"`
}

// DefaultDaemonConfig returns the daemon section defaults.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Host:             "0.0.0.0",
		Port:             1865,
		LogLevel:         "info",
		QueueCapacity:    64,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		AutosaveInterval: time.Minute,
		RedisChannel:     "spectrad:acquisitions",
	}
}

// Addr returns the listen address of the daemon.
func (c DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the daemon section.
func (c DaemonConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("invalid queue capacity %d", c.QueueCapacity)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Simulate < 0 {
		return fmt.Errorf("invalid simulated device count %d", c.Simulate)
	}

	return nil
}

// Config is the whole configuration. It is safe for concurrent use.
type Config struct {
	mu      sync.Mutex
	path    string
	dirty   bool
	daemon  DaemonConfig
	devices map[string]*deviceSection
}

// fileLayout is the YAML document layout.
type fileLayout struct {
	Daemon  DaemonConfig              `yaml:"daemon"`
	Devices map[string]*deviceSection `yaml:"devices,omitempty"`
}

// New returns a configuration holding only defaults and no file path.
func New() *Config {
	return &Config{
		daemon:  DefaultDaemonConfig(),
		devices: make(map[string]*deviceSection),
	}
}

// Load reads the YAML file at path and applies SPECTRAD_* environment overrides to the daemon
// section. A missing file is not an error: the defaults are used and the configuration is
// marked dirty so that the next Save creates the file.
func Load(path string) (*Config, error) {
	cfg := New()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.dirty = true
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		layout := fileLayout{Daemon: DefaultDaemonConfig()}
		if err := yaml.Unmarshal(data, &layout); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.daemon = layout.Daemon
		for serial, sec := range layout.Devices {
			if sec == nil {
				sec = &deviceSection{}
			}
			cfg.devices[serial] = sec
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.daemon.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(&c.daemon, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}

	return nil
}

// Path returns the file the configuration is saved to, or an empty string.
func (c *Config) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.path
}

// Daemon returns a copy of the daemon section.
func (c *Config) Daemon() DaemonConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.daemon
}

// SetDaemon replaces the daemon section and marks the configuration dirty.
func (c *Config) SetDaemon(d DaemonConfig) error {
	if err := d.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.daemon = d
	c.dirty = true

	return nil
}

// Dirty reports whether the configuration has changes that were not saved.
func (c *Config) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dirty
}

// Serials returns the serial numbers of all device sections in sorted order.
func (c *Config) Serials() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	serials := make([]string, 0, len(c.devices))
	for serial := range c.devices {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	return serials
}

// Device returns the settings of the device with the given serial number. Missing keys are
// filled with defaults and, if any were missing, the configuration is marked dirty.
func (c *Config) Device(serial string) DeviceSettings {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.materialize(serial).settings()
}

// UpdateDevice applies fn to the settings of the device and marks the configuration dirty
// when fn changed anything.
func (c *Config) UpdateDevice(serial string, fn func(s *DeviceSettings)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec := c.materialize(serial)
	before := sec.settings()
	after := before
	fn(&after)

	if after != before {
		sec.assign(after)
		c.dirty = true
	}
}

// Store returns a handle bound to one device section.
func (c *Config) Store(serial string) *DeviceStore {
	return &DeviceStore{cfg: c, serial: serial}
}

// materialize must be called with mu held.
func (c *Config) materialize(serial string) *deviceSection {
	sec, ok := c.devices[serial]
	if !ok {
		sec = &deviceSection{}
		c.devices[serial] = sec
	}
	if sec.fillDefaults() {
		c.dirty = true
	}
	if sec.sanitize() {
		c.dirty = true
	}

	return sec
}

// Save writes the configuration to its file if it is dirty and clears the dirty flag.
// The file is replaced atomically.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}
	if c.path == "" {
		return ErrNoPath
	}

	data, err := yaml.Marshal(fileLayout{Daemon: c.daemon, Devices: c.devices})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := writeFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	c.dirty = false

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}

// DeviceStore is the view of one device section handed to the device and sequence of that
// device, so they can persist the settings they change.
type DeviceStore struct {
	cfg    *Config
	serial string
}

// Serial returns the serial number the store is bound to.
func (s *DeviceStore) Serial() string { return s.serial }

// Settings returns the current settings of the device.
func (s *DeviceStore) Settings() DeviceSettings { return s.cfg.Device(s.serial) }

// Update applies fn to the settings of the device.
func (s *DeviceStore) Update(fn func(ds *DeviceSettings)) { s.cfg.UpdateDevice(s.serial, fn) }
