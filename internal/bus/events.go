// Package bus implements the polling engine: queries, the plan builder,
// the protocol executor, device sessions and the port scheduler.
package bus

import "github.com/nexus-edge/serial-driver/internal/domain"

// EventSink receives register events from a port scheduler. Both callbacks
// run on the scheduler goroutine and must not block; implementations hand
// work off if delivery can stall.
type EventSink interface {
	// ValueChanged is delivered when a successful read decodes a value
	// that differs from the last published one.
	ValueChanged(reg *domain.Register, value string)

	// ErrorChanged is delivered on every transition of the register's
	// read/write error vector, never twice in a row with the same state.
	ErrorChanged(reg *domain.Register, state domain.ErrorState)
}

// SinkFuncs adapts two functions to the EventSink interface. Nil members
// drop their events.
type SinkFuncs struct {
	OnValue func(reg *domain.Register, value string)
	OnError func(reg *domain.Register, state domain.ErrorState)
}

// ValueChanged implements EventSink.
func (s SinkFuncs) ValueChanged(reg *domain.Register, value string) {
	if s.OnValue != nil {
		s.OnValue(reg, value)
	}
}

// ErrorChanged implements EventSink.
func (s SinkFuncs) ErrorChanged(reg *domain.Register, state domain.ErrorState) {
	if s.OnError != nil {
		s.OnError(reg, state)
	}
}
