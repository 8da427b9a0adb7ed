package domain

import "errors"

// Configuration errors.
var (
	ErrDeviceIDRequired  = errors.New("device ID is required")
	ErrInvalidSlaveID    = errors.New("invalid slave ID")
	ErrInvalidKind       = errors.New("invalid register kind")
	ErrInvalidFormat     = errors.New("invalid value format")
	ErrInvalidWordOrder  = errors.New("invalid word order")
	ErrInvalidWidth      = errors.New("invalid register width")
	ErrNoRegisters       = errors.New("no registers defined")
	ErrDuplicateRegister = errors.New("duplicate register")
)

// Scheduler and session errors.
var (
	ErrSchedulerStarted = errors.New("scheduler already started")
	ErrSchedulerStopped = errors.New("scheduler not running")
	ErrDeviceExists     = errors.New("device already registered")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrRegisterNotFound = errors.New("register not found")
)

// Write path errors.
var (
	ErrRegisterReadOnly = errors.New("register is read-only")
	ErrInvalidValue     = errors.New("invalid value")
	ErrValueOutOfRange  = errors.New("value out of range")
)

// Operation distinguishes the two protocol transaction directions.
type Operation uint8

const (
	OpRead Operation = iota
	OpWrite
)

// String returns the operation name for logs.
func (o Operation) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// QueryStatus is the outcome of one protocol transaction.
type QueryStatus uint8

const (
	// StatusNotExecuted marks a query that has not been driven yet this pass.
	StatusNotExecuted QueryStatus = iota

	// StatusOK marks a fully successful round trip.
	StatusOK

	// StatusUnknownError marks a response that could not be parsed (CRC
	// failure, truncated frame, malformed payload) or that carried an
	// unrecognized exception code.
	StatusUnknownError

	// StatusTransientError marks a failure that can clear on its own: a
	// response timeout, a frame from the wrong transaction, or a device
	// exception reporting a temporary condition; retried next cycle.
	StatusTransientError

	// StatusPermanentError marks a valid device response rejecting the
	// request itself; retrying the same query is pointless.
	StatusPermanentError
)

// String returns the status name for logs and metrics labels.
func (s QueryStatus) String() string {
	switch s {
	case StatusNotExecuted:
		return "not_executed"
	case StatusOK:
		return "ok"
	case StatusUnknownError:
		return "unknown_error"
	case StatusTransientError:
		return "transient_error"
	case StatusPermanentError:
		return "permanent_error"
	default:
		return "invalid"
	}
}

// ErrorState is the per-register error vector surfaced to the consumer.
type ErrorState uint8

const (
	ErrorNone ErrorState = iota
	ErrorRead
	ErrorWrite
	ErrorReadWrite
	ErrorUnknown
)

// ErrorStateFor combines the read and write error bits into a state.
func ErrorStateFor(readErr, writeErr bool) ErrorState {
	switch {
	case readErr && writeErr:
		return ErrorReadWrite
	case readErr:
		return ErrorRead
	case writeErr:
		return ErrorWrite
	default:
		return ErrorNone
	}
}

// String returns the state name for logs.
func (e ErrorState) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorRead:
		return "read_error"
	case ErrorWrite:
		return "write_error"
	case ErrorReadWrite:
		return "read_write_error"
	default:
		return "unknown"
	}
}

// MetaFlags renders the state in the compact form published on error
// meta topics: "r", "w", "rw" or empty for no error.
func (e ErrorState) MetaFlags() string {
	switch e {
	case ErrorRead:
		return "r"
	case ErrorWrite:
		return "w"
	case ErrorReadWrite, ErrorUnknown:
		return "rw"
	default:
		return ""
	}
}
