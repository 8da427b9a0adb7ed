// Package mqtt bridges the polling engine to an MQTT broker: register
// values publish as retained control topics, error transitions publish on
// error meta topics, and writes arrive on the corresponding /on topics.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/serial-driver/internal/domain"
)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	TopicPrefix    string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// WriteFunc delivers a write request arriving over MQTT to the engine.
type WriteFunc func(reg *domain.Register, value string) error

// Bridge connects one or more port schedulers to an MQTT broker. It
// implements the engine's EventSink; both callbacks hand the publish off
// to the paho client without waiting for broker confirmation, so the
// scheduler goroutine never blocks on the network.
type Bridge struct {
	cfg    Config
	client pahomqtt.Client
	logger zerolog.Logger

	mu      sync.RWMutex
	byTopic map[string]*domain.Register
	write   WriteFunc

	connected atomic.Bool
	stats     BridgeStats
}

// BridgeStats tracks bridge activity.
type BridgeStats struct {
	ValuesPublished atomic.Uint64
	ErrorsPublished atomic.Uint64
	WritesReceived  atomic.Uint64
	WritesRejected  atomic.Uint64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "serial-driver",
		QoS:            1,
		TopicPrefix:    "/devices",
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// NewBridge creates a bridge. Register every descriptor with Track before
// connecting so incoming writes can be routed.
func NewBridge(cfg Config, logger zerolog.Logger) *Bridge {
	def := DefaultConfig()
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = def.BrokerURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	return &Bridge{
		cfg:     cfg,
		logger:  logger.With().Str("component", "mqtt-bridge").Logger(),
		byTopic: make(map[string]*domain.Register),
	}
}

// Track registers a descriptor so writes arriving on its /on topic can be
// routed back to the engine.
func (b *Bridge) Track(reg *domain.Register) {
	b.mu.Lock()
	b.byTopic[b.controlTopic(reg)] = reg
	b.mu.Unlock()
}

// SetWriter installs the engine-side write entry point.
func (b *Bridge) SetWriter(fn WriteFunc) {
	b.mu.Lock()
	b.write = fn
	b.mu.Unlock()
}

// Connect establishes the broker session and subscribes for writes.
func (b *Bridge) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetKeepAlive(b.cfg.KeepAlive).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.connected.Store(false)
			b.logger.Warn().Err(err).Msg("Broker connection lost")
		})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Disconnect closes the broker session.
func (b *Bridge) Disconnect() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	b.connected.Store(false)
}

// IsConnected reports broker session health.
func (b *Bridge) IsConnected() bool {
	return b.connected.Load()
}

func (b *Bridge) onConnect(client pahomqtt.Client) {
	b.connected.Store(true)
	filter := b.cfg.TopicPrefix + "/+/controls/+/on"
	token := client.Subscribe(filter, b.cfg.QoS, b.onWrite)
	go func() {
		if token.Wait() && token.Error() != nil {
			b.logger.Error().Err(token.Error()).Str("filter", filter).Msg("Subscribe failed")
			return
		}
		b.logger.Info().Str("filter", filter).Msg("Connected and subscribed")
	}()
}

// onWrite routes an incoming /on message to the engine's write path.
func (b *Bridge) onWrite(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := strings.TrimSuffix(msg.Topic(), "/on")

	b.mu.RLock()
	reg := b.byTopic[topic]
	write := b.write
	b.mu.RUnlock()

	if reg == nil || write == nil {
		b.stats.WritesRejected.Add(1)
		b.logger.Warn().Str("topic", msg.Topic()).Msg("Write for unknown channel")
		return
	}

	b.stats.WritesReceived.Add(1)
	value := string(msg.Payload())
	if err := write(reg, value); err != nil {
		b.stats.WritesRejected.Add(1)
		b.logger.Error().
			Err(err).
			Str("channel", reg.Channel).
			Str("value", value).
			Msg("Write rejected")
	}
}

// ValueChanged implements the engine event sink: the decoded value is
// published retained on the channel's control topic.
func (b *Bridge) ValueChanged(reg *domain.Register, value string) {
	b.stats.ValuesPublished.Add(1)
	b.publish(b.controlTopic(reg), value)
}

// ErrorChanged implements the engine event sink: the error flags are
// published retained on the channel's error meta topic.
func (b *Bridge) ErrorChanged(reg *domain.Register, state domain.ErrorState) {
	b.stats.ErrorsPublished.Add(1)
	b.publish(b.controlTopic(reg)+"/meta/error", state.MetaFlags())
}

// publish hands a message to paho and confirms completion off-thread.
func (b *Bridge) publish(topic, payload string) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, b.cfg.QoS, true, payload)
	go func() {
		if !token.WaitTimeout(b.cfg.PublishTimeout) {
			b.logger.Warn().Str("topic", topic).Msg("Publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
		}
	}()
}

func (b *Bridge) controlTopic(reg *domain.Register) string {
	return fmt.Sprintf("%s/%s/controls/%s", b.cfg.TopicPrefix, reg.Device, reg.Channel)
}
