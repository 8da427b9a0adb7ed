package bus

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/nexus-edge/serial-driver/internal/domain"
	"github.com/nexus-edge/serial-driver/internal/transport"
)

// fakePort is a scripted transport: each request frame selects its canned
// response by content. Unscripted requests time out like a silent bus.
type fakePort struct {
	mu sync.Mutex

	open      bool
	responses map[string][][]byte // request hex -> responses, consumed in order
	requests  [][]byte
	noiseSkip int

	openErr  error
	writeErr error
}

func newFakePort() *fakePort {
	return &fakePort{responses: make(map[string][][]byte)}
}

// respond scripts one response for a request; scripting the same request
// again queues further responses consumed in order (the last one sticks).
func (p *fakePort) respond(request, response []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := hex.EncodeToString(request)
	p.responses[key] = append(p.responses[key], response)
}

func (p *fakePort) sentRequests() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *fakePort) noiseSkips() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noiseSkip
}

func (p *fakePort) Open() error {
	if p.openErr != nil {
		return p.openErr
	}
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
	return nil
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePort) WriteBytes(frame []byte) error {
	if p.writeErr != nil {
		return p.writeErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return transport.ErrNotOpen
	}
	p.requests = append(p.requests, append([]byte(nil), frame...))
	return nil
}

func (p *fakePort) ReadFrame(buf []byte, _ time.Duration, _ transport.FrameComplete) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return 0, transport.ErrReadTimeout
	}
	key := hex.EncodeToString(p.requests[len(p.requests)-1])
	queue := p.responses[key]
	if len(queue) == 0 {
		return 0, transport.ErrReadTimeout
	}
	resp := queue[0]
	if len(queue) > 1 {
		p.responses[key] = queue[1:]
	}
	return copy(buf, resp), nil
}

func (p *fakePort) SkipNoise() error {
	p.mu.Lock()
	p.noiseSkip++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Sleep(time.Duration) {}

func (p *fakePort) SetDebug(bool) {}

// recordingSink collects events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	values []valueEvent
	errors []errorEvent
}

type valueEvent struct {
	reg   *domain.Register
	value string
}

type errorEvent struct {
	reg   *domain.Register
	state domain.ErrorState
}

func (s *recordingSink) ValueChanged(reg *domain.Register, value string) {
	s.mu.Lock()
	s.values = append(s.values, valueEvent{reg, value})
	s.mu.Unlock()
}

func (s *recordingSink) ErrorChanged(reg *domain.Register, state domain.ErrorState) {
	s.mu.Lock()
	s.errors = append(s.errors, errorEvent{reg, state})
	s.mu.Unlock()
}

func (s *recordingSink) valueEvents() []valueEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]valueEvent(nil), s.values...)
}

func (s *recordingSink) errorEvents() []errorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]errorEvent(nil), s.errors...)
}
