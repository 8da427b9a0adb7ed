package bus

import (
	"fmt"
	"time"

	"github.com/nexus-edge/serial-driver/internal/domain"
	"github.com/nexus-edge/serial-driver/internal/transport"
	"github.com/rs/zerolog"
)

// DeviceConfig is the runtime configuration of one device on the bus.
type DeviceConfig struct {
	// ID identifies the device to the consumer.
	ID string

	// SlaveID is the 1-byte bus address.
	SlaveID byte

	// Delay is the silence inserted when the scheduler switches to this
	// device from another one on the same bus.
	Delay time.Duration

	// FrameTimeout bounds the wait for a response frame.
	FrameTimeout time.Duration

	// GuardInterval is the mandatory silence before each request.
	GuardInterval time.Duration

	// MaxRegHole and MaxBitHole are the largest address gaps a read query
	// may span for 16-bit and 1-bit kinds respectively.
	MaxRegHole int
	MaxBitHole int

	// MaxReadRegisters caps 16-bit elements per read; clamped to the
	// protocol ceiling by the plan builder.
	MaxReadRegisters int

	// AccessLevel gates which setup items run, mirroring device manuals
	// that reserve some setup registers for privileged access.
	AccessLevel int

	// Setup items are written once at first contact with the device.
	Setup []SetupItem
}

// SetupItem is one address/value pair written during device preparation.
type SetupItem struct {
	Title    string
	Register *domain.Register
	Value    uint64

	// AccessLevel required to run this item; 0 means any.
	AccessLevel int
}

// registerState is the retained per-register state. It is owned by the
// session and touched only from the scheduler goroutine.
type registerState struct {
	value     uint64
	text      string
	didRead   bool
	readErr   bool
	writeErr  bool
	lastState domain.ErrorState
	unchanged int
}

// Session owns one device on the bus: its configuration, the retained
// state of its registers and the cached query plan. All methods run on
// the scheduler goroutine.
type Session struct {
	cfg    DeviceConfig
	logger zerolog.Logger
	sink   EventSink

	// maxUnchanged is the number of poll cycles after which an unchanged
	// value is republished; negative disables republishing.
	maxUnchanged int

	polled   []*domain.Register
	states   map[*domain.Register]*registerState
	plan     []*Query
	prepared bool
}

func newSession(cfg DeviceConfig, sink EventSink, maxUnchanged int, logger zerolog.Logger) *Session {
	return &Session{
		cfg: cfg,
		logger: logger.With().
			Str("device_id", cfg.ID).
			Uint8("slave_id", cfg.SlaveID).
			Logger(),
		sink:         sink,
		maxUnchanged: maxUnchanged,
		states:       make(map[*domain.Register]*registerState),
	}
}

// ID returns the device ID.
func (s *Session) ID() string { return s.cfg.ID }

// SlaveID returns the bus address.
func (s *Session) SlaveID() byte { return s.cfg.SlaveID }

// Config returns the device configuration.
func (s *Session) Config() DeviceConfig { return s.cfg }

// AddRegister registers a descriptor for polling. Must happen before the
// scheduler starts.
func (s *Session) AddRegister(reg *domain.Register) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	if reg.Device != s.cfg.ID {
		return fmt.Errorf("%w: register %s belongs to %q", domain.ErrDeviceNotFound, reg, reg.Device)
	}
	if _, dup := s.states[reg]; dup {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRegister, reg)
	}
	s.states[reg] = &registerState{}
	s.polled = append(s.polled, reg)
	s.plan = nil
	s.logger.Debug().Stringer("register", reg).Str("channel", reg.Channel).Msg("Registered")
	return nil
}

// planQueries returns the device's cached poll plan, building it on first
// use. Runtime query splits never touch the cached plan.
func (s *Session) planQueries() []*Query {
	if s.plan == nil {
		s.plan = buildPlan(s)
		if s.logger.GetLevel() <= zerolog.DebugLevel {
			for _, q := range s.plan {
				s.logger.Debug().Str("query", q.Describe()).Msg("Planned")
			}
		}
	}
	return s.plan
}

// prepare runs the device's one-shot setup items. It is invoked by the
// scheduler the first time it switches to this device after a port open.
// Failed items are logged and do not block polling.
func (s *Session) prepare(exec *Executor, port transport.Port) {
	if s.prepared {
		return
	}
	s.prepared = true
	for _, item := range s.cfg.Setup {
		if item.AccessLevel > s.cfg.AccessLevel {
			continue
		}
		if _, known := s.states[item.Register]; !known {
			s.states[item.Register] = &registerState{}
		}
		q := newWriteQuery(s, item.Register, item.Value)
		status, err := exec.Execute(port, q)
		if err != nil || status != domain.StatusOK {
			s.logger.Warn().
				Str("item", item.Title).
				Stringer("status", status).
				Err(err).
				Msg("Setup item failed")
			continue
		}
		s.logger.Info().Str("item", item.Title).Uint64("value", item.Value).Msg("Setup item written")
	}
}

// resetPrepared re-arms the prepare hook after a port reopen.
func (s *Session) resetPrepared() {
	s.prepared = false
}

// newWriteQuery builds a one-register write query, validating writability.
func (s *Session) newWriteQuery(reg *domain.Register, raw uint64) (*Query, error) {
	if _, known := s.states[reg]; !known {
		return nil, fmt.Errorf("%w: %s", domain.ErrRegisterNotFound, reg)
	}
	if !reg.Writable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrRegisterReadOnly, reg)
	}
	return newWriteQuery(s, reg, raw), nil
}

// acceptDeviceValue stores a decoded value and emits the resulting events:
// an error transition if the read error bit was set, and a value change if
// the value differs from the last published one.
func (s *Session) acceptDeviceValue(reg *domain.Register, raw uint64) {
	st := s.states[reg]
	changed := !st.didRead || st.value != raw
	st.value = raw
	st.didRead = true
	st.readErr = false
	s.updateErrorState(reg, st)

	republish := s.maxUnchanged >= 0 && st.unchanged >= s.maxUnchanged
	if !changed && !republish {
		return
	}
	st.text = domain.FormatText(raw, reg.Format)
	st.unchanged = 0
	s.sink.ValueChanged(reg, st.text)
}

// acceptReadError flags a failed read; retained values stay untouched.
func (s *Session) acceptReadError(reg *domain.Register) {
	st := s.states[reg]
	st.readErr = true
	s.updateErrorState(reg, st)
}

// acceptWriteSuccess clears the write error bit after a confirmed write.
func (s *Session) acceptWriteSuccess(reg *domain.Register) {
	st := s.states[reg]
	st.writeErr = false
	s.updateErrorState(reg, st)
}

// acceptWriteError flags a failed write.
func (s *Session) acceptWriteError(reg *domain.Register) {
	st := s.states[reg]
	st.writeErr = true
	s.updateErrorState(reg, st)
}

// updateErrorState recomputes the error vector and emits the transition if
// it differs from the last one delivered. Identical successive errors are
// coalesced here.
func (s *Session) updateErrorState(reg *domain.Register, st *registerState) {
	state := domain.ErrorStateFor(st.readErr, st.writeErr)
	if state == st.lastState {
		return
	}
	st.lastState = state
	s.sink.ErrorChanged(reg, state)
}

// endCycle advances the unchanged-value counters after a full poll pass.
func (s *Session) endCycle() {
	for _, st := range s.states {
		if st.didRead {
			st.unchanged++
		}
	}
}

// TextValue returns the last published text form of a register value.
// Scheduler goroutine only.
func (s *Session) TextValue(reg *domain.Register) (string, bool) {
	st, ok := s.states[reg]
	if !ok || !st.didRead {
		return "", false
	}
	return domain.FormatText(st.value, reg.Format), true
}

// DidRead reports whether the register was read at least once.
func (s *Session) DidRead(reg *domain.Register) bool {
	st, ok := s.states[reg]
	return ok && st.didRead
}

// ErrorState returns the current error vector of a register.
func (s *Session) ErrorState(reg *domain.Register) domain.ErrorState {
	st, ok := s.states[reg]
	if !ok {
		return domain.ErrorUnknown
	}
	return st.lastState
}
