package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-edge/serial-driver/internal/adapter/config"
	"github.com/nexus-edge/serial-driver/internal/domain"
)

const sampleConfig = `
log_level: debug
metrics_addr: ":9100"
max_unchanged_cycles: 60
mqtt:
  broker_url: tcp://broker:1883
  client_id: test-driver
ports:
  - device: /dev/ttyUSB0
    baud_rate: 9600
    poll_interval_ms: 50
    devices:
      - id: boiler
        name: Boiler
        slave_id: 1
        max_reg_hole: 10
        max_read_registers: 60
        guard_interval_us: 2500
        setup:
          - title: enable modbus
            address: 128
            value: 1
        channels:
          - name: temperature
            read_only: true
            registers:
              - kind: input
                address: 40
                format: s16
          - name: setpoint
            registers:
              - kind: holding
                address: 70
                format: u16
          - name: energy
            registers:
              - kind: holding
                address: 30
                format: u64
                word_order: little_endian
      - id: relay-board
        slave_id: 2
        channels:
          - name: relay
            registers:
              - kind: coil
                address: 0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MQTT.BrokerURL != "tcp://broker:1883" {
		t.Errorf("BrokerURL = %q", cfg.MQTT.BrokerURL)
	}
	if len(cfg.Ports) != 1 {
		t.Fatalf("got %d ports, want 1", len(cfg.Ports))
	}

	port := cfg.Ports[0]
	if port.PollInterval() != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", port.PollInterval())
	}
	if got := port.Serial(); got.Device != "/dev/ttyUSB0" || got.BaudRate != 9600 {
		t.Errorf("Serial() = %+v", got)
	}
	if len(port.Devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(port.Devices))
	}

	boiler := port.Devices[0]
	if boiler.Protocol != "modbus-rtu" {
		t.Errorf("Protocol default = %q", boiler.Protocol)
	}
	if boiler.DelayMs != config.DefaultInterDeviceDelayMs {
		t.Errorf("DelayMs default = %d", boiler.DelayMs)
	}
	if boiler.FrameTimeoutMs != config.DefaultFrameTimeoutMs {
		t.Errorf("FrameTimeoutMs default = %d", boiler.FrameTimeoutMs)
	}

	relay := port.Devices[1]
	if relay.MaxReadRegisters != config.DefaultMaxReadRegisters {
		t.Errorf("MaxReadRegisters default = %d", relay.MaxReadRegisters)
	}
}

func TestDevice_SessionConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	sc := cfg.Ports[0].Devices[0].SessionConfig()

	if sc.ID != "boiler" || sc.SlaveID != 1 {
		t.Errorf("identity = %s/%d", sc.ID, sc.SlaveID)
	}
	if sc.Delay != 100*time.Millisecond {
		t.Errorf("Delay = %v, want 100ms", sc.Delay)
	}
	if sc.GuardInterval != 2500*time.Microsecond {
		t.Errorf("GuardInterval = %v, want 2.5ms", sc.GuardInterval)
	}
	if sc.FrameTimeout != 0 {
		t.Errorf("FrameTimeout = %v, want 0 (protocol default)", sc.FrameTimeout)
	}
	if sc.MaxRegHole != 10 || sc.MaxReadRegisters != 60 {
		t.Errorf("limits = %d/%d", sc.MaxRegHole, sc.MaxReadRegisters)
	}
	if len(sc.Setup) != 1 || sc.Setup[0].Register.Address != 128 || sc.Setup[0].Value != 1 {
		t.Errorf("setup = %+v", sc.Setup)
	}
}

func TestDevice_BuildRegisters(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	regs, err := cfg.Ports[0].Devices[0].BuildRegisters()
	if err != nil {
		t.Fatalf("BuildRegisters() error = %v", err)
	}
	if len(regs) != 3 {
		t.Fatalf("got %d registers, want 3", len(regs))
	}

	byChannel := make(map[string]*domain.Register)
	for _, reg := range regs {
		byChannel[reg.Channel] = reg
	}

	temp := byChannel["temperature"]
	if temp == nil || temp.Kind != domain.KindInput || !temp.ReadOnly {
		t.Errorf("temperature = %+v", temp)
	}
	energy := byChannel["energy"]
	if energy == nil || energy.Width != 4 || energy.WordOrder != domain.WordOrderLittleEndian {
		t.Errorf("energy = %+v", energy)
	}
	if sp := byChannel["setpoint"]; sp == nil || sp.Writable() != true {
		t.Errorf("setpoint = %+v", sp)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr bool
	}{
		{"duplicate slave id", `
ports:
  - device: /dev/ttyUSB0
    devices:
      - id: a
        slave_id: 1
        channels: [{name: x, registers: [{kind: coil, address: 0}]}]
      - id: b
        slave_id: 1
        channels: [{name: x, registers: [{kind: coil, address: 0}]}]
`, true},
		{"slave id out of range", `
ports:
  - device: /dev/ttyUSB0
    devices:
      - id: a
        slave_id: 250
        channels: [{name: x, registers: [{kind: coil, address: 0}]}]
`, true},
		{"no channels", `
ports:
  - device: /dev/ttyUSB0
    devices:
      - id: a
        slave_id: 3
`, true},
		{"no ports", `
log_level: info
`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.mutate))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
