package domain_test

import (
	"testing"

	"github.com/nexus-edge/serial-driver/internal/domain"
)

func TestFormat_WordWidth(t *testing.T) {
	tests := []struct {
		format domain.Format
		want   uint16
	}{
		{domain.FormatU8, 1},
		{domain.FormatS16, 1},
		{domain.FormatU24, 2},
		{domain.FormatU32, 2},
		{domain.FormatFloat, 2},
		{domain.FormatS64, 4},
		{domain.FormatDouble, 4},
		{domain.FormatBCD32, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := tt.format.WordWidth(); got != tt.want {
				t.Errorf("WordWidth() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAssembleWords(t *testing.T) {
	words := []uint16{0x0102, 0x0304, 0x0506, 0x0708}
	if got := domain.AssembleWords(words, domain.WordOrderBigEndian); got != 0x0102030405060708 {
		t.Errorf("big endian = 0x%016X", got)
	}
	if got := domain.AssembleWords(words, domain.WordOrderLittleEndian); got != 0x0708050603040102 {
		t.Errorf("little endian = 0x%016X", got)
	}
}

func TestSplitWords_RoundTrip(t *testing.T) {
	for _, order := range []domain.WordOrder{domain.WordOrderBigEndian, domain.WordOrderLittleEndian} {
		words := domain.SplitWords(0xDEADBEEF, 2, order)
		if got := domain.AssembleWords(words, order); got != 0xDEADBEEF {
			t.Errorf("%s round trip = 0x%X, want 0xDEADBEEF", order, got)
		}
	}
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		name   string
		raw    uint64
		format domain.Format
		want   string
	}{
		{"u16", 0x15, domain.FormatU16, "21"},
		{"s16 negative", 0xFFFE, domain.FormatS16, "-2"},
		{"s8 negative", 0xFF, domain.FormatS8, "-1"},
		{"s64", 0x0102030405060708, domain.FormatS64, "72623859790382856"},
		{"s64 negative", 0xFFFFFFFFFFFFFFFF, domain.FormatS64, "-1"},
		{"u32 ignores high bits", 0xAA00000001, domain.FormatU32, "1"},
		{"bcd16", 0x1234, domain.FormatBCD16, "1234"},
		{"bcd8", 0x42, domain.FormatBCD8, "42"},
		{"float", 0x41C80000, domain.FormatFloat, "25"},
		{"char8", 0x41, domain.FormatChar8, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.FormatText(tt.raw, tt.format); got != tt.want {
				t.Errorf("FormatText(0x%X, %s) = %q, want %q", tt.raw, tt.format, got, tt.want)
			}
		})
	}
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		format  domain.Format
		want    uint64
		wantErr bool
	}{
		{"u16", "21", domain.FormatU16, 0x15, false},
		{"s16 negative", "-2", domain.FormatS16, 0xFFFE, false},
		{"bool true", "true", domain.FormatU16, 1, false},
		{"switch on", "on", domain.FormatU16, 1, false},
		{"bcd16", "1234", domain.FormatBCD16, 0x1234, false},
		{"float", "25", domain.FormatFloat, 0x41C80000, false},
		{"u16 overflow", "65536", domain.FormatU16, 0, true},
		{"s8 overflow", "128", domain.FormatS8, 0, true},
		{"bcd16 overflow", "10000", domain.FormatBCD16, 0, true},
		{"garbage", "twelve", domain.FormatU16, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.ParseText(tt.text, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseText(%q, %s) error = %v, wantErr %v", tt.text, tt.format, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseText(%q, %s) = 0x%X, want 0x%X", tt.text, tt.format, got, tt.want)
			}
		})
	}
}

func TestFormatParse_RoundTrip(t *testing.T) {
	cases := []struct {
		format domain.Format
		raw    uint64
	}{
		{domain.FormatU16, 21},
		{domain.FormatS16, 0xFFFE},
		{domain.FormatU32, 0xDEADBEEF},
		{domain.FormatS64, 0xFFFFFFFFFFFFFFFF},
		{domain.FormatBCD16, 0x1234},
		{domain.FormatFloat, 0x41C80000},
	}
	for _, tt := range cases {
		text := domain.FormatText(tt.raw, tt.format)
		back, err := domain.ParseText(text, tt.format)
		if err != nil {
			t.Errorf("%s: ParseText(%q) error = %v", tt.format, text, err)
			continue
		}
		if back != tt.raw {
			t.Errorf("%s: round trip 0x%X -> %q -> 0x%X", tt.format, tt.raw, text, back)
		}
	}
}
