// Package domain contains the core entities of the serial bus driver:
// register kinds, descriptors, value formats and error states.
package domain

import (
	"fmt"
	"time"
)

// RegisterKind represents the protocol register class a descriptor maps onto.
type RegisterKind string

const (
	KindCoil          RegisterKind = "coil"           // Read/Write, 1 bit
	KindDiscrete      RegisterKind = "discrete"       // Read-only, 1 bit
	KindHolding       RegisterKind = "holding"        // Read/Write, 16 bits; multi-write only for wide values
	KindHoldingSingle RegisterKind = "holding_single" // Read/Write single, 16 bits
	KindHoldingMulti  RegisterKind = "holding_multi"  // Read/Write multi, 16 bits
	KindInput         RegisterKind = "input"          // Read-only, 16 bits
)

// KindInfo describes the fixed properties of a register kind.
type KindInfo struct {
	// SingleBit is true for 1-bit element kinds (coils and discrete inputs).
	SingleBit bool

	// Writable is true if the kind accepts write operations at all.
	Writable bool

	// PackedWrite is true if writes always use the multi-element function.
	PackedWrite bool

	// MaxRead is the protocol ceiling on elements per read for this kind.
	MaxRead uint16
}

// Protocol ceilings for a single read.
const (
	MaxReadBits      = 2000
	MaxReadRegisters = 125
)

var kindTable = map[RegisterKind]KindInfo{
	KindCoil:          {SingleBit: true, Writable: true, MaxRead: MaxReadBits},
	KindDiscrete:      {SingleBit: true, MaxRead: MaxReadBits},
	KindHolding:       {Writable: true, MaxRead: MaxReadRegisters},
	KindHoldingSingle: {Writable: true, MaxRead: MaxReadRegisters},
	KindHoldingMulti:  {Writable: true, PackedWrite: true, MaxRead: MaxReadRegisters},
	KindInput:         {MaxRead: MaxReadRegisters},
}

// kindOrder fixes the deterministic ordering of kinds inside a poll plan.
var kindOrder = map[RegisterKind]int{
	KindCoil:          0,
	KindDiscrete:      1,
	KindHolding:       2,
	KindHoldingSingle: 3,
	KindHoldingMulti:  4,
	KindInput:         5,
}

// Info returns the fixed properties of the kind.
func (k RegisterKind) Info() KindInfo {
	return kindTable[k]
}

// Valid reports whether k names a known register kind.
func (k RegisterKind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Order returns the sort rank of the kind within a plan.
func (k RegisterKind) Order() int {
	return kindOrder[k]
}

// WordOrder represents the ordering of 16-bit words inside a multi-word value.
type WordOrder string

const (
	WordOrderBigEndian    WordOrder = "big_endian"    // most significant word first
	WordOrderLittleEndian WordOrder = "little_endian" // least significant word first
)

// Valid reports whether w names a known word order.
func (w WordOrder) Valid() bool {
	return w == WordOrderBigEndian || w == WordOrderLittleEndian
}

// Register is the user-visible logical register: one typed value on one
// device, possibly spanning several consecutive protocol elements.
// A Register is immutable after registration; all mutable state lives in
// the device session that owns it.
type Register struct {
	// Device is the ID of the owning device.
	Device string `json:"device" yaml:"device"`

	// Kind selects the protocol register class.
	Kind RegisterKind `json:"kind" yaml:"kind"`

	// Address is the base element address.
	Address uint16 `json:"address" yaml:"address"`

	// Width is the number of protocol elements the value occupies (1..4).
	// Always 1 for single-bit kinds.
	Width uint16 `json:"width,omitempty" yaml:"width,omitempty"`

	// Format specifies how raw payload bytes map to a typed value.
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`

	// WordOrder specifies word ordering for values with Width > 1.
	WordOrder WordOrder `json:"word_order,omitempty" yaml:"word_order,omitempty"`

	// ReadOnly forbids writes regardless of the kind's capabilities.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`

	// Channel is the consumer-facing name the register publishes under.
	Channel string `json:"channel" yaml:"channel"`

	// PollInterval overrides the port's default cadence for this register.
	// Registers only coalesce into one query when their intervals match.
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
}

// MaxWidth is the largest value, in 16-bit elements, a register may span.
const MaxWidth = 4

// Validate checks the descriptor for internal consistency and applies
// defaults for format, width and word order.
func (r *Register) Validate() error {
	if r.Device == "" {
		return ErrDeviceIDRequired
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	}
	info := r.Kind.Info()

	if info.SingleBit {
		if r.Width > 1 {
			return fmt.Errorf("%w: single-bit register %s cannot have width %d", ErrInvalidWidth, r.Channel, r.Width)
		}
		r.Width = 1
		if r.Format == "" {
			r.Format = FormatU8
		}
		return nil
	}

	if r.Format == "" {
		r.Format = FormatU16
	}
	if !r.Format.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, r.Format)
	}
	if r.WordOrder == "" {
		r.WordOrder = WordOrderBigEndian
	}
	if !r.WordOrder.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidWordOrder, r.WordOrder)
	}
	if r.Width == 0 {
		r.Width = r.Format.WordWidth()
	}
	if r.Width > MaxWidth {
		return fmt.Errorf("%w: width %d exceeds %d elements", ErrInvalidWidth, r.Width, MaxWidth)
	}
	if r.Width < r.Format.WordWidth() {
		return fmt.Errorf("%w: width %d is insufficient for format %s (needs %d)",
			ErrInvalidWidth, r.Width, r.Format, r.Format.WordWidth())
	}
	return nil
}

// End returns the first element address past the register.
func (r *Register) End() uint16 {
	return r.Address + r.Width
}

// Writable reports whether the register accepts writes.
func (r *Register) Writable() bool {
	return !r.ReadOnly && r.Kind.Info().Writable
}

// String renders the register for logs and query descriptions.
func (r *Register) String() string {
	if r.Width > 1 {
		return fmt.Sprintf("%s@%d:%d (%s)", r.Kind, r.Address, r.Width, r.Format)
	}
	return fmt.Sprintf("%s@%d (%s)", r.Kind, r.Address, r.Format)
}
