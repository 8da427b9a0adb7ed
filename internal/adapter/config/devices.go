package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/nexus-edge/serial-driver/internal/bus"
	"github.com/nexus-edge/serial-driver/internal/domain"
)

// SessionConfig converts the device entry into the runtime configuration
// consumed by the port scheduler.
func (d *Device) SessionConfig() bus.DeviceConfig {
	cfg := bus.DeviceConfig{
		ID:               d.ID,
		SlaveID:          d.SlaveID,
		Delay:            time.Duration(d.DelayMs) * time.Millisecond,
		GuardInterval:    time.Duration(d.GuardIntervalUs) * time.Microsecond,
		MaxRegHole:       d.MaxRegHole,
		MaxBitHole:       d.MaxBitHole,
		MaxReadRegisters: d.MaxReadRegisters,
		AccessLevel:      d.AccessLevel,
	}
	if d.FrameTimeoutMs >= 0 {
		cfg.FrameTimeout = time.Duration(d.FrameTimeoutMs) * time.Millisecond
	}
	for _, item := range d.Setup {
		reg := &domain.Register{
			Device:  d.ID,
			Kind:    domain.KindHoldingSingle,
			Address: item.Address,
			Channel: item.Title,
		}
		if err := reg.Validate(); err != nil {
			continue
		}
		cfg.Setup = append(cfg.Setup, bus.SetupItem{
			Title:       item.Title,
			Register:    reg,
			Value:       uint64(item.Value),
			AccessLevel: item.AccessLevel,
		})
	}
	return cfg
}

// BuildRegisters expands the device's channels into register descriptors,
// in channel order. Channels with one register publish under the channel
// name; channels with several append an index.
func (d *Device) BuildRegisters() ([]*domain.Register, error) {
	channels := make([]Channel, len(d.Channels))
	copy(channels, d.Channels)
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].Order < channels[j].Order
	})

	var regs []*domain.Register
	for _, ch := range channels {
		for i, def := range ch.Registers {
			name := ch.Name
			if len(ch.Registers) > 1 {
				name = fmt.Sprintf("%s_%d", ch.Name, i+1)
			}
			order := def.WordOrder
			if order == "" {
				order = d.WordOrder
			}
			reg := &domain.Register{
				Device:       d.ID,
				Kind:         domain.RegisterKind(def.Kind),
				Address:      def.Address,
				Width:        def.Width,
				Format:       domain.Format(def.Format),
				WordOrder:    domain.WordOrder(order),
				ReadOnly:     def.ReadOnly || ch.ReadOnly,
				Channel:      name,
				PollInterval: time.Duration(def.PollIntervalMs) * time.Millisecond,
			}
			if err := reg.Validate(); err != nil {
				return nil, fmt.Errorf("device %s: channel %s: %w", d.ID, ch.Name, err)
			}
			regs = append(regs, reg)
		}
	}
	if len(regs) == 0 {
		return nil, domain.ErrNoRegisters
	}
	return regs, nil
}
