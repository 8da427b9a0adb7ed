package domain_test

import (
	"errors"
	"testing"

	"github.com/nexus-edge/serial-driver/internal/domain"
)

func TestRegister_Validate(t *testing.T) {
	tests := []struct {
		name    string
		reg     domain.Register
		wantErr error
	}{
		{
			name: "holding with defaults",
			reg:  domain.Register{Device: "d", Kind: domain.KindHolding, Address: 10},
		},
		{
			name: "coil",
			reg:  domain.Register{Device: "d", Kind: domain.KindCoil, Address: 0},
		},
		{
			name:    "missing device",
			reg:     domain.Register{Kind: domain.KindCoil},
			wantErr: domain.ErrDeviceIDRequired,
		},
		{
			name:    "unknown kind",
			reg:     domain.Register{Device: "d", Kind: "analog"},
			wantErr: domain.ErrInvalidKind,
		},
		{
			name:    "wide coil",
			reg:     domain.Register{Device: "d", Kind: domain.KindCoil, Width: 2},
			wantErr: domain.ErrInvalidWidth,
		},
		{
			name:    "width too small for format",
			reg:     domain.Register{Device: "d", Kind: domain.KindHolding, Format: domain.FormatS64, Width: 2},
			wantErr: domain.ErrInvalidWidth,
		},
		{
			name:    "width beyond four elements",
			reg:     domain.Register{Device: "d", Kind: domain.KindHolding, Width: 5},
			wantErr: domain.ErrInvalidWidth,
		},
		{
			name:    "bad word order",
			reg:     domain.Register{Device: "d", Kind: domain.KindHolding, WordOrder: "middle"},
			wantErr: domain.ErrInvalidWordOrder,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegister_ValidateDefaults(t *testing.T) {
	reg := domain.Register{Device: "d", Kind: domain.KindHolding, Format: domain.FormatS64}
	if err := reg.Validate(); err != nil {
		t.Fatal(err)
	}
	if reg.Width != 4 {
		t.Errorf("Width = %d, want 4 for s64", reg.Width)
	}
	if reg.WordOrder != domain.WordOrderBigEndian {
		t.Errorf("WordOrder = %s, want big_endian default", reg.WordOrder)
	}

	coil := domain.Register{Device: "d", Kind: domain.KindCoil}
	if err := coil.Validate(); err != nil {
		t.Fatal(err)
	}
	if coil.Width != 1 {
		t.Errorf("coil Width = %d, want 1", coil.Width)
	}
}

func TestRegister_End(t *testing.T) {
	reg := domain.Register{Device: "d", Kind: domain.KindHolding, Address: 30, Format: domain.FormatS64}
	if err := reg.Validate(); err != nil {
		t.Fatal(err)
	}
	// A width-4 value at address 30 occupies 30..33 inclusive.
	if got := reg.End(); got != 34 {
		t.Errorf("End() = %d, want 34", got)
	}
}

func TestRegister_Writable(t *testing.T) {
	tests := []struct {
		kind     domain.RegisterKind
		readOnly bool
		want     bool
	}{
		{domain.KindCoil, false, true},
		{domain.KindDiscrete, false, false},
		{domain.KindHolding, false, true},
		{domain.KindHoldingSingle, false, true},
		{domain.KindHoldingMulti, false, true},
		{domain.KindInput, false, false},
		{domain.KindHolding, true, false},
	}
	for _, tt := range tests {
		reg := domain.Register{Kind: tt.kind, ReadOnly: tt.readOnly}
		if got := reg.Writable(); got != tt.want {
			t.Errorf("Writable(%s, readonly=%v) = %v, want %v", tt.kind, tt.readOnly, got, tt.want)
		}
	}
}

func TestRegisterKind_Info(t *testing.T) {
	if !domain.KindCoil.Info().SingleBit || !domain.KindDiscrete.Info().SingleBit {
		t.Error("bit kinds must report SingleBit")
	}
	if domain.KindHolding.Info().SingleBit {
		t.Error("holding registers are not single bit")
	}
	if got := domain.KindCoil.Info().MaxRead; got != 2000 {
		t.Errorf("coil MaxRead = %d, want 2000", got)
	}
	if got := domain.KindInput.Info().MaxRead; got != 125 {
		t.Errorf("input MaxRead = %d, want 125", got)
	}
	if !domain.KindHoldingMulti.Info().PackedWrite {
		t.Error("holding_multi always writes packed")
	}
}

func TestErrorStateFor(t *testing.T) {
	tests := []struct {
		read, write bool
		want        domain.ErrorState
	}{
		{false, false, domain.ErrorNone},
		{true, false, domain.ErrorRead},
		{false, true, domain.ErrorWrite},
		{true, true, domain.ErrorReadWrite},
	}
	for _, tt := range tests {
		if got := domain.ErrorStateFor(tt.read, tt.write); got != tt.want {
			t.Errorf("ErrorStateFor(%v, %v) = %v, want %v", tt.read, tt.write, got, tt.want)
		}
	}
}
