package mqtt

import (
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/serial-driver/internal/domain"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var _ pahomqtt.Message = (*fakeMessage)(nil)

func testBridge() *Bridge {
	return NewBridge(Config{TopicPrefix: "/devices"}, zerolog.Nop())
}

func TestBridge_ControlTopic(t *testing.T) {
	b := testBridge()
	reg := &domain.Register{Device: "boiler", Kind: domain.KindHolding, Address: 70, Channel: "setpoint"}
	if got := b.controlTopic(reg); got != "/devices/boiler/controls/setpoint" {
		t.Errorf("controlTopic() = %q", got)
	}
}

func TestBridge_WriteRouting(t *testing.T) {
	b := testBridge()
	reg := &domain.Register{Device: "boiler", Kind: domain.KindHolding, Address: 70, Channel: "setpoint", Format: domain.FormatU16}
	b.Track(reg)

	var gotReg *domain.Register
	var gotValue string
	b.SetWriter(func(r *domain.Register, value string) error {
		gotReg, gotValue = r, value
		return nil
	})

	b.onWrite(nil, &fakeMessage{topic: "/devices/boiler/controls/setpoint/on", payload: []byte("42")})

	if gotReg != reg || gotValue != "42" {
		t.Errorf("routed (%v, %q), want (setpoint, 42)", gotReg, gotValue)
	}
	if got := b.stats.WritesReceived.Load(); got != 1 {
		t.Errorf("WritesReceived = %d, want 1", got)
	}
}

func TestBridge_WriteUnknownChannel(t *testing.T) {
	b := testBridge()
	called := false
	b.SetWriter(func(*domain.Register, string) error {
		called = true
		return nil
	})

	b.onWrite(nil, &fakeMessage{topic: "/devices/ghost/controls/nothing/on", payload: []byte("1")})

	if called {
		t.Error("writer must not run for unknown channels")
	}
	if got := b.stats.WritesRejected.Load(); got != 1 {
		t.Errorf("WritesRejected = %d, want 1", got)
	}
}

func TestBridge_PublishWithoutClient(t *testing.T) {
	b := testBridge()
	reg := &domain.Register{Device: "boiler", Kind: domain.KindCoil, Address: 0, Channel: "relay"}
	// Events before Connect must be dropped, not panic.
	b.ValueChanged(reg, "1")
	b.ErrorChanged(reg, domain.ErrorRead)
}
