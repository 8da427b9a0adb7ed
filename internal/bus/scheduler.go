package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/serial-driver/internal/domain"
	"github.com/nexus-edge/serial-driver/internal/metrics"
	"github.com/nexus-edge/serial-driver/internal/transport"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// SchedulerConfig holds the per-port scheduling parameters.
type SchedulerConfig struct {
	// PollInterval is the target duration of one full poll cycle; the
	// per-query flush wait is this divided by the plan length.
	PollInterval time.Duration

	// MaxUnchangedCycles republishes an unchanged value after this many
	// cycles; zero or negative disables republishing.
	MaxUnchangedCycles int

	// Debug raises frame-level logging on the port.
	Debug bool
}

// meteredSink counts delivered events before passing them on.
type meteredSink struct {
	EventSink
	metrics *metrics.Registry
}

func (m meteredSink) ValueChanged(reg *domain.Register, value string) {
	m.metrics.ValueEvents.Inc()
	m.EventSink.ValueChanged(reg, value)
}

func (m meteredSink) ErrorChanged(reg *domain.Register, state domain.ErrorState) {
	m.metrics.ErrorEvents.Inc()
	m.EventSink.ErrorChanged(reg, state)
}

// pendingWrite is one queued asynchronous write request.
type pendingWrite struct {
	session  *Session
	reg      *domain.Register
	raw      uint64
	enqueued time.Time
}

// Scheduler owns one transport port and the ordered set of device sessions
// attached to it. A single goroutine drives all protocol I/O, state
// mutation and event emission; the only cross-thread surface is the
// pending-write queue.
type Scheduler struct {
	cfg     SchedulerConfig
	port    transport.Port
	exec    *Executor
	sink    EventSink
	logger  zerolog.Logger
	metrics *metrics.Registry

	sessions []*Session
	byID     map[string]*Session
	plan     []*Query

	// mu guards pending; flushCh carries the flush-needed signal observed
	// at the top of each per-query wait.
	mu      sync.Mutex
	pending []pendingWrite
	flushCh chan struct{}

	breaker *gobreaker.CircuitBreaker
	last    *Session

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a scheduler owning the given port. The sink
// receives all register events; metrics may be nil.
func NewScheduler(port transport.Port, sink EventSink, cfg SchedulerConfig, logger zerolog.Logger, m *metrics.Registry) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	if cfg.MaxUnchangedCycles == 0 {
		cfg.MaxUnchangedCycles = -1
	}
	if m != nil {
		sink = meteredSink{EventSink: sink, metrics: m}
	}
	log := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cfg:     cfg,
		port:    port,
		exec:    NewExecutor(log, m),
		sink:    sink,
		logger:  log,
		metrics: m,
		byID:    make(map[string]*Session),
		flushCh: make(chan struct{}, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "port-open",
			Timeout: 5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		done: make(chan struct{}),
	}
}

// AddDevice attaches a device session to the port. Must happen before
// Start.
func (s *Scheduler) AddDevice(cfg DeviceConfig) (*Session, error) {
	if s.started.Load() {
		return nil, domain.ErrSchedulerStarted
	}
	if cfg.ID == "" {
		return nil, domain.ErrDeviceIDRequired
	}
	if cfg.SlaveID == 0 {
		return nil, domain.ErrInvalidSlaveID
	}
	if _, exists := s.byID[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrDeviceExists, cfg.ID)
	}
	sess := newSession(cfg, s.sink, s.cfg.MaxUnchangedCycles, s.logger)
	s.sessions = append(s.sessions, sess)
	s.byID[cfg.ID] = sess
	s.logger.Info().
		Str("device_id", cfg.ID).
		Uint8("slave_id", cfg.SlaveID).
		Msg("Registered device")
	return sess, nil
}

// AddRegister registers a descriptor with its device's session. Must
// happen before Start.
func (s *Scheduler) AddRegister(reg *domain.Register) error {
	if s.started.Load() {
		return domain.ErrSchedulerStarted
	}
	sess, ok := s.byID[reg.Device]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, reg.Device)
	}
	return sess.AddRegister(reg)
}

// Session returns the session for a device ID.
func (s *Scheduler) Session(deviceID string) (*Session, bool) {
	sess, ok := s.byID[deviceID]
	return sess, ok
}

// Start opens the port, computes the poll plan and launches the scheduler
// goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started.Load() {
		return domain.ErrSchedulerStarted
	}
	total := 0
	for _, sess := range s.sessions {
		total += len(sess.planQueries())
	}
	if total == 0 {
		return domain.ErrNoRegisters
	}
	s.plan = make([]*Query, 0, total)
	for _, sess := range s.sessions {
		s.plan = append(s.plan, sess.planQueries()...)
	}

	s.port.SetDebug(s.cfg.Debug)
	if err := s.port.Open(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started.Store(true)

	s.logger.Info().
		Int("devices", len(s.sessions)).
		Int("queries", len(s.plan)).
		Dur("poll_interval", s.cfg.PollInterval).
		Msg("Starting poll loop")

	go s.run(runCtx)
	return nil
}

// Stop cancels the loop, waits for the in-flight query to complete and
// closes the port.
func (s *Scheduler) Stop() error {
	if !s.started.Load() {
		return domain.ErrSchedulerStopped
	}
	s.cancel()
	<-s.done
	s.started.Store(false)
	return s.port.Close()
}

// Write enqueues an asynchronous write of a raw register value and nudges
// the scheduler. Safe to call from any goroutine.
func (s *Scheduler) Write(reg *domain.Register, raw uint64) error {
	sess, ok := s.byID[reg.Device]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, reg.Device)
	}
	if !reg.Writable() {
		return fmt.Errorf("%w: %s", domain.ErrRegisterReadOnly, reg)
	}

	s.mu.Lock()
	s.pending = append(s.pending, pendingWrite{
		session:  sess,
		reg:      reg,
		raw:      raw,
		enqueued: time.Now(),
	})
	depth := len(s.pending)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PendingWrites.Set(float64(depth))
	}

	select {
	case s.flushCh <- struct{}{}:
	default:
	}
	return nil
}

// WriteText parses a text value per the register's format and enqueues the
// write. This is the entry point used by the MQTT bridge.
func (s *Scheduler) WriteText(reg *domain.Register, value string) error {
	raw, err := domain.ParseText(value, reg.Format)
	if err != nil {
		return err
	}
	return s.Write(reg, raw)
}

// run is the scheduler goroutine: the only place protocol I/O happens.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	slot := s.cfg.PollInterval / time.Duration(len(s.plan))
	for {
		for _, q := range s.plan {
			if ctx.Err() != nil {
				return
			}
			s.waitFlush(ctx, slot)
			if ctx.Err() != nil {
				return
			}
			if !s.ensureOpen(ctx) {
				continue
			}
			s.prepareToAccess(q.Session())

			start := time.Now()
			status, err := s.exec.Execute(s.port, q)
			if s.metrics != nil {
				s.metrics.RecordQuery(q.Session().ID(), status.String(), time.Since(start).Seconds())
			}
			if err != nil {
				s.handleFatal(err)
			}
		}
		for _, sess := range s.sessions {
			sess.endCycle()
		}
	}
}

// waitFlush waits up to slot for a flush notification, draining the write
// queue every time one arrives, and returns when the slot elapses.
func (s *Scheduler) waitFlush(ctx context.Context, slot time.Duration) {
	timer := time.NewTimer(slot)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.flushCh:
			s.flush(ctx)
		case <-timer.C:
			return
		}
	}
}

// flush drains all pending writes onto the bus in arrival order.
func (s *Scheduler) flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PendingWrites.Set(0)
	}

	for _, w := range pending {
		if ctx.Err() != nil {
			return
		}
		if !s.ensureOpen(ctx) {
			w.session.acceptWriteError(w.reg)
			continue
		}
		q, err := w.session.newWriteQuery(w.reg, w.raw)
		if err != nil {
			s.logger.Error().Err(err).Stringer("register", w.reg).Msg("Dropping write")
			continue
		}
		s.prepareToAccess(w.session)

		status, err := s.exec.Execute(s.port, q)
		if s.metrics != nil {
			s.metrics.RecordWrite(w.session.ID(), status.String(), time.Since(w.enqueued).Seconds())
		}
		if err != nil {
			s.handleFatal(err)
		}
		s.logger.Debug().
			Str("query", q.Describe()).
			Stringer("status", status).
			Msg("Flushed write")
	}
}

// prepareToAccess switches the bus to another device: it applies the
// inter-device delay and runs the device's one-shot setup items.
func (s *Scheduler) prepareToAccess(sess *Session) {
	if sess == s.last {
		return
	}
	s.last = sess
	if d := sess.Config().Delay; d > 0 {
		s.port.Sleep(d)
	}
	sess.prepare(s.exec, s.port)
}

// handleFatal reacts to a transport-level failure: the port is torn down
// and reopened lazily before the next query.
func (s *Scheduler) handleFatal(err error) {
	s.logger.Error().Err(err).Msg("Transport failure, closing port")
	if cerr := s.port.Close(); cerr != nil {
		s.logger.Warn().Err(cerr).Msg("Port close failed")
	}
	s.last = nil
	for _, sess := range s.sessions {
		sess.resetPrepared()
	}
}

// ensureOpen reopens the port if a fatal error closed it. Reopen attempts
// run through a circuit breaker so a dead bus is probed, not hammered.
func (s *Scheduler) ensureOpen(ctx context.Context) bool {
	if s.port.IsOpen() {
		return true
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.port.Open()
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Port reopen failed")
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.PollInterval):
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.PortReopens.Inc()
	}
	s.logger.Info().Msg("Port reopened")
	return true
}
