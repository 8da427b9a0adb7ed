// Package config loads and validates the driver configuration: one file
// describing the serial ports, the devices on each bus and their channels.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-edge/serial-driver/internal/transport"
)

// Defaults mirrored from the protocol and the device configuration model.
const (
	DefaultInterDeviceDelayMs = 100
	DefaultAccessLevel        = 1
	DefaultFrameTimeoutMs     = -1 // -1 selects the protocol default
	DefaultMaxReadRegisters   = 1
	DefaultPollIntervalMs     = 20
)

// Config is the top-level driver configuration.
type Config struct {
	// LogLevel is trace, debug, info, warn or error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// LogFormat is json or console.
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// MetricsAddr is the listen address of the Prometheus endpoint;
	// empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	// Debug raises frame-level logging on every port.
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// MaxUnchangedCycles republishes unchanged values after this many
	// poll cycles; -1 disables republishing.
	MaxUnchangedCycles int `mapstructure:"max_unchanged_cycles" yaml:"max_unchanged_cycles"`

	// MQTT configures the upstream bridge.
	MQTT MQTT `mapstructure:"mqtt" yaml:"mqtt"`

	// Ports lists the serial buses the driver owns.
	Ports []Port `mapstructure:"ports" yaml:"ports"`
}

// MQTT holds the broker connection settings for the bridge.
type MQTT struct {
	BrokerURL   string `mapstructure:"broker_url" yaml:"broker_url"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
}

// Port describes one serial bus and the devices attached to it.
type Port struct {
	// Device is the serial device path.
	Device string `mapstructure:"device" yaml:"device"`

	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits int    `mapstructure:"data_bits" yaml:"data_bits"`
	Parity   string `mapstructure:"parity" yaml:"parity"`
	StopBits int    `mapstructure:"stop_bits" yaml:"stop_bits"`

	// PollIntervalMs is the target duration of one full poll cycle.
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`

	// Devices are the slaves on this bus, in poll order.
	Devices []Device `mapstructure:"devices" yaml:"devices"`
}

// Device describes one slave on a bus.
type Device struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Name     string `mapstructure:"name" yaml:"name"`
	SlaveID  uint8  `mapstructure:"slave_id" yaml:"slave_id"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"`

	// DelayMs is the silence inserted when the scheduler switches to this
	// device from another one.
	DelayMs int `mapstructure:"delay_ms" yaml:"delay_ms"`

	// AccessLevel gates privileged setup items.
	AccessLevel int `mapstructure:"access_level" yaml:"access_level"`

	// FrameTimeoutMs bounds the response wait; -1 selects the protocol
	// default.
	FrameTimeoutMs int `mapstructure:"frame_timeout_ms" yaml:"frame_timeout_ms"`

	// MaxRegHole and MaxBitHole enable read coalescing across gaps.
	MaxRegHole int `mapstructure:"max_reg_hole" yaml:"max_reg_hole"`
	MaxBitHole int `mapstructure:"max_bit_hole" yaml:"max_bit_hole"`

	// MaxReadRegisters caps 16-bit elements per read.
	MaxReadRegisters int `mapstructure:"max_read_registers" yaml:"max_read_registers"`

	// WordOrder is the default ordering for multi-word values.
	WordOrder string `mapstructure:"word_order" yaml:"word_order"`

	// GuardIntervalUs is the mandatory silence before each request.
	GuardIntervalUs int `mapstructure:"guard_interval_us" yaml:"guard_interval_us"`

	// Channels group the registers published for this device.
	Channels []Channel `mapstructure:"channels" yaml:"channels"`

	// Setup items are written once at first contact.
	Setup []SetupItem `mapstructure:"setup" yaml:"setup"`
}

// Channel is a named group of registers published together.
type Channel struct {
	Name      string        `mapstructure:"name" yaml:"name"`
	Order     int           `mapstructure:"order" yaml:"order"`
	ReadOnly  bool          `mapstructure:"read_only" yaml:"read_only"`
	Registers []RegisterDef `mapstructure:"registers" yaml:"registers"`
}

// RegisterDef describes one register within a channel.
type RegisterDef struct {
	Kind           string `mapstructure:"kind" yaml:"kind"`
	Address        uint16 `mapstructure:"address" yaml:"address"`
	Format         string `mapstructure:"format" yaml:"format"`
	Width          uint16 `mapstructure:"width" yaml:"width"`
	WordOrder      string `mapstructure:"word_order" yaml:"word_order"`
	ReadOnly       bool   `mapstructure:"read_only" yaml:"read_only"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// SetupItem is one address/value pair written during device preparation.
type SetupItem struct {
	Title       string `mapstructure:"title" yaml:"title"`
	Address     uint16 `mapstructure:"address" yaml:"address"`
	Value       uint16 `mapstructure:"value" yaml:"value"`
	AccessLevel int    `mapstructure:"access_level" yaml:"access_level"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("max_unchanged_cycles", -1)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "serial-driver")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.topic_prefix", "/devices")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.PollIntervalMs == 0 {
			p.PollIntervalMs = DefaultPollIntervalMs
		}
		for j := range p.Devices {
			d := &p.Devices[j]
			if d.Protocol == "" {
				d.Protocol = "modbus-rtu"
			}
			if d.DelayMs == 0 {
				d.DelayMs = DefaultInterDeviceDelayMs
			}
			if d.AccessLevel == 0 {
				d.AccessLevel = DefaultAccessLevel
			}
			if d.FrameTimeoutMs == 0 {
				d.FrameTimeoutMs = DefaultFrameTimeoutMs
			}
			if d.MaxReadRegisters == 0 {
				d.MaxReadRegisters = DefaultMaxReadRegisters
			}
			if d.WordOrder == "" {
				d.WordOrder = "big_endian"
			}
		}
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("no ports configured")
	}
	seen := make(map[string]bool)
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.Device == "" {
			return fmt.Errorf("port %d: serial device path is required", i)
		}
		if len(p.Devices) == 0 {
			return fmt.Errorf("port %s: no devices configured", p.Device)
		}
		slaves := make(map[uint8]string)
		for j := range p.Devices {
			d := &p.Devices[j]
			if d.ID == "" {
				return fmt.Errorf("port %s: device %d: id is required", p.Device, j)
			}
			if seen[d.ID] {
				return fmt.Errorf("device %s: duplicate id", d.ID)
			}
			seen[d.ID] = true
			if d.SlaveID == 0 || d.SlaveID > 247 {
				return fmt.Errorf("device %s: slave id %d out of range 1..247", d.ID, d.SlaveID)
			}
			if prev, dup := slaves[d.SlaveID]; dup {
				return fmt.Errorf("device %s: slave id %d already used by %s", d.ID, d.SlaveID, prev)
			}
			slaves[d.SlaveID] = d.ID
			if d.Protocol != "modbus-rtu" {
				return fmt.Errorf("device %s: unsupported protocol %q", d.ID, d.Protocol)
			}
			if len(d.Channels) == 0 {
				return fmt.Errorf("device %s: no channels defined", d.ID)
			}
			names := make(map[string]bool)
			for _, ch := range d.Channels {
				if ch.Name == "" {
					return fmt.Errorf("device %s: channel name is required", d.ID)
				}
				if names[ch.Name] {
					return fmt.Errorf("device %s: duplicate channel %q", d.ID, ch.Name)
				}
				names[ch.Name] = true
				if len(ch.Registers) == 0 {
					return fmt.Errorf("device %s: channel %s: no registers", d.ID, ch.Name)
				}
			}
		}
	}
	return nil
}

// Serial returns the transport settings of the port.
func (p *Port) Serial() transport.SerialConfig {
	return transport.SerialConfig{
		Device:   p.Device,
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		Parity:   p.Parity,
		StopBits: p.StopBits,
	}
}

// PollInterval returns the port's poll cycle target as a duration.
func (p *Port) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}
