package transport

import (
	"fmt"
	"time"

	"github.com/goburrow/serial"
	"github.com/rs/zerolog"
)

// SerialConfig holds the line settings for one RS-485 port.
type SerialConfig struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string `json:"device" yaml:"device"`

	// BaudRate is the line speed in bits per second.
	BaudRate int `json:"baud_rate" yaml:"baud_rate"`

	// DataBits per character (5..8).
	DataBits int `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`

	// Parity is "N", "E" or "O".
	Parity string `json:"parity,omitempty" yaml:"parity,omitempty"`

	// StopBits is 1 or 2.
	StopBits int `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
}

// readSlice is the granularity of the blocking reads inside ReadFrame;
// short enough to notice frame completion promptly, long enough to not
// spin on an idle line.
const readSlice = 10 * time.Millisecond

// SerialPort drives one serial device through the goburrow/serial driver.
// It implements Port. Not safe for concurrent use; the owning scheduler
// serializes all access.
type SerialPort struct {
	cfg      SerialConfig
	logger   zerolog.Logger
	port     serial.Port
	debug    bool
	frameGap time.Duration
}

// NewSerialPort creates a port for the given line settings. The port is
// created closed; Open establishes the device handle.
func NewSerialPort(cfg SerialConfig, logger zerolog.Logger) *SerialPort {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	return &SerialPort{
		cfg:      cfg,
		logger:   logger.With().Str("component", "serial-port").Str("device", cfg.Device).Logger(),
		frameGap: frameGap(cfg.BaudRate),
	}
}

// frameGap is the inter-frame silence for the baud rate: 3.5 character
// times, the RTU frame boundary.
func frameGap(baud int) time.Duration {
	us := (35_000_000 + baud - 1) / baud
	return time.Duration(us) * time.Microsecond
}

// Open establishes the serial device handle.
func (s *SerialPort) Open() error {
	if s.port != nil {
		return nil
	}
	port, err := serial.Open(&serial.Config{
		Address:  s.cfg.Device,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		Parity:   s.cfg.Parity,
		StopBits: s.cfg.StopBits,
		Timeout:  readSlice,
	})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIO, s.cfg.Device, err)
	}
	s.port = port
	s.logger.Info().Int("baud_rate", s.cfg.BaudRate).Msg("Serial port opened")
	return nil
}

// Close releases the device handle.
func (s *SerialPort) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	s.logger.Debug().Msg("Serial port closed")
	return nil
}

// IsOpen reports whether the device handle is established.
func (s *SerialPort) IsOpen() bool {
	return s.port != nil
}

// WriteBytes transmits one complete frame.
func (s *SerialPort) WriteBytes(p []byte) error {
	if s.port == nil {
		return ErrNotOpen
	}
	if s.debug {
		s.logger.Debug().Hex("frame", p).Msg("TX")
	}
	n, err := s.port.Write(p)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: short write: %d of %d bytes", ErrIO, n, len(p))
	}
	return nil
}

// ReadFrame accumulates bytes until the frame-complete predicate fires or
// the timeout expires. Partial frames are returned to the caller, whose
// parser rejects them; only a completely silent line yields ErrReadTimeout.
func (s *SerialPort) ReadFrame(buf []byte, timeout time.Duration, complete FrameComplete) (int, error) {
	if s.port == nil {
		return 0, ErrNotOpen
	}
	deadline := time.Now().Add(timeout)
	total := 0
	for {
		n, err := s.port.Read(buf[total:])
		if n > 0 {
			total += n
			if total == len(buf) || complete == nil || complete(buf[:total]) {
				break
			}
			// Once the frame has started, it ends at the first 3.5
			// character silence.
			deadline = time.Now().Add(s.frameGap + readSlice)
			continue
		}
		if err != nil && err != serial.ErrTimeout {
			return total, fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if time.Now().After(deadline) {
			if total == 0 {
				return 0, ErrReadTimeout
			}
			break
		}
	}
	if s.debug {
		s.logger.Debug().Hex("frame", buf[:total]).Msg("RX")
	}
	return total, nil
}

// SkipNoise discards bytes until the line has been silent for one frame
// gap, resynchronizing the reader after a corrupt frame.
func (s *SerialPort) SkipNoise() error {
	if s.port == nil {
		return ErrNotOpen
	}
	var scratch [64]byte
	deadline := time.Now().Add(s.frameGap + readSlice)
	skipped := 0
	for time.Now().Before(deadline) {
		n, err := s.port.Read(scratch[:])
		if n > 0 {
			skipped += n
			deadline = time.Now().Add(s.frameGap + readSlice)
			continue
		}
		if err != nil && err != serial.ErrTimeout {
			return fmt.Errorf("%w: skip noise: %v", ErrIO, err)
		}
	}
	if skipped > 0 {
		s.logger.Debug().Int("bytes", skipped).Msg("Skipped bus noise")
	}
	return nil
}

// Sleep suspends the calling goroutine.
func (s *SerialPort) Sleep(d time.Duration) {
	time.Sleep(d)
}

// SetDebug toggles frame-level TX/RX logging.
func (s *SerialPort) SetDebug(debug bool) {
	s.debug = debug
}
