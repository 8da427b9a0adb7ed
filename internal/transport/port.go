// Package transport abstracts the raw byte transport underneath the
// protocol layer and provides the serial implementation.
package transport

import (
	"errors"
	"time"
)

// FrameComplete decides whether the bytes received so far form a complete
// frame; the reader stops as soon as it returns true.
type FrameComplete func(buf []byte) bool

// Transport errors. ErrReadTimeout is recoverable: the caller marks the
// transaction transient and carries on. Anything else wrapping ErrIO means
// the port itself failed and must be reopened.
var (
	ErrNotOpen     = errors.New("transport: port is not open")
	ErrReadTimeout = errors.New("transport: read timed out")
	ErrIO          = errors.New("transport: i/o error")
)

// Port is a single serial bus endpoint. A Port is exclusively owned by one
// scheduler; none of its methods are safe for concurrent use.
type Port interface {
	Open() error
	Close() error
	IsOpen() bool

	// WriteBytes transmits one complete request frame.
	WriteBytes(p []byte) error

	// ReadFrame reads into buf until complete reports a full frame or the
	// timeout expires. It returns the bytes received; ErrReadTimeout is
	// returned only when nothing arrived at all.
	ReadFrame(buf []byte, timeout time.Duration, complete FrameComplete) (int, error)

	// SkipNoise drains stray bytes from the line after a framing failure.
	SkipNoise() error

	// Sleep suspends the calling goroutine, letting fake ports skip time.
	Sleep(d time.Duration)

	SetDebug(debug bool)
}
