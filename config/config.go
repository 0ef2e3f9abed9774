package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brettbedarf/luxfs/internal/util"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultSrvName    = "bh1750"
	DefaultMountPoint = "/mnt"
	DefaultFsName     = "luxfs"
	DefaultName       = DefaultSrvName

	// DefaultBus is the periph.io bus name; "sim" selects the in-process simulator
	DefaultBus = "1"

	// DefaultAddr is the BH1750 address with the ADDR pin low
	DefaultAddr uint16 = 0x23

	// MinSettleTime is the oscillator settle time after power-on. Shorter
	// configured values are raised to this.
	MinSettleTime = 150 * time.Millisecond

	DefaultLogLvl = util.InfoLevel

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	// DefaultDirectIO bypasses the page cache so every read reaches the sensor
	DefaultDirectIO = true

	// DefaultSingleThreaded serves requests from a single worker loop
	DefaultSingleThreaded = true
)

// Config contains runtime configuration values for the sensor filesystem.
type Config struct {
	MountOptions
	SrvName    string        // Name of the exposed directory (Default "bh1750")
	MountPoint string        // Where the tree is mounted (Default "/mnt")
	LogLvl     util.LogLevel // Internal log level (Default Info)
	Bus        string        // I2C bus name or number, or "sim" (Default "1")
	Addr       uint16        // 7-bit device address (Default 0x23)
	SettleTime time.Duration // Wait between power-on and mode select (Default and minimum 150ms)
	// Listen address for the Prometheus endpoint; empty disables it (Default "")
	MetricsAddr string

	// NOTE: Low-level FUSE config:

	AttrTimeout    float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout   float64 // Directory entry cache timeout in seconds (Default 1.0)
	DirectIO       bool    // Whether to bypass page cache for sensor files (Default true)
	SingleThreaded bool    // Serve requests from one goroutine (Default true)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	FsName         *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name           *string  `yaml:"name,omitempty" json:"name,omitempty"`
	Debug          *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`
	SrvName        *string  `yaml:"srv_name,omitempty" json:"srv_name,omitempty"`
	MountPoint     *string  `yaml:"mount_point,omitempty" json:"mount_point,omitempty"`
	LogLvl         *int     `yaml:"log_lvl,omitempty" json:"log_lvl,omitempty"` // CLI verbosity 1 (error) to 5 (trace)
	LogLevel       *string  `yaml:"log_level,omitempty" json:"log_level,omitempty"` // Level name, wins over log_lvl
	Bus            *string  `yaml:"bus,omitempty" json:"bus,omitempty"`
	Addr           *uint16  `yaml:"addr,omitempty" json:"addr,omitempty"`
	SettleTimeMs   *int     `yaml:"settle_time_ms,omitempty" json:"settle_time_ms,omitempty"`
	MetricsAddr    *string  `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	AttrTimeout    *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout   *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	DirectIO       *bool    `yaml:"direct_io,omitempty" json:"direct_io,omitempty"`
	SingleThreaded *bool    `yaml:"single_threaded,omitempty" json:"single_threaded,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		SrvName:        DefaultSrvName,
		MountPoint:     DefaultMountPoint,
		LogLvl:         DefaultLogLvl,
		Bus:            DefaultBus,
		Addr:           DefaultAddr,
		SettleTime:     MinSettleTime,
		AttrTimeout:    DefaultAttrTimeout,
		EntryTimeout:   DefaultEntryTimeout,
		DirectIO:       DefaultDirectIO,
		SingleThreaded: DefaultSingleThreaded,
	}
}

// NewConfig returns the defaults with override applied. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// VerbosityToLevel maps CLI verbosity 1 (error) through 5 (trace) onto
// [util.LogLevel]. Out of range values are clamped.
func VerbosityToLevel(verbose int) util.LogLevel {
	verbose = min(max(verbose, ErrorVerbose), TraceVerbose)
	lvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return lvls[verbose-1]
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.SrvName != nil {
		c.SrvName = *override.SrvName
	}
	if override.MountPoint != nil {
		c.MountPoint = *override.MountPoint
	}
	if override.LogLvl != nil {
		c.LogLvl = VerbosityToLevel(*override.LogLvl)
	}
	if override.LogLevel != nil {
		if lvl, err := util.ParseLevel(*override.LogLevel); err == nil {
			c.LogLvl = lvl
		}
	}
	if override.Bus != nil {
		c.Bus = *override.Bus
	}
	if override.Addr != nil {
		c.Addr = *override.Addr
	}
	if override.SettleTimeMs != nil {
		c.SettleTime = max(time.Duration(*override.SettleTimeMs)*time.Millisecond, MinSettleTime)
	}
	if override.MetricsAddr != nil {
		c.MetricsAddr = *override.MetricsAddr
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.DirectIO != nil {
		c.DirectIO = *override.DirectIO
	}
	if override.SingleThreaded != nil {
		c.SingleThreaded = *override.SingleThreaded
	}
}

// Validate reports configuration that cannot produce a working server
func (c *Config) Validate() error {
	var errs []error
	if c.SrvName == "" || strings.ContainsRune(c.SrvName, '/') {
		errs = append(errs, fmt.Errorf("invalid srv name %q", c.SrvName))
	}
	if c.MountPoint == "" {
		errs = append(errs, errors.New("mount point must not be empty"))
	}
	if c.Bus == "" {
		errs = append(errs, errors.New("bus must not be empty"))
	}
	if c.Addr == 0 || c.Addr > 0x7f {
		errs = append(errs, fmt.Errorf("address %#x is not a 7-bit i2c address", c.Addr))
	}
	return errors.Join(errs...)
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats. Unknown keys
// are rejected.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&override); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	if override.LogLevel != nil {
		if _, err := util.ParseLevel(*override.LogLevel); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
