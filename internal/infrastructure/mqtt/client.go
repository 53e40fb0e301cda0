package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// Client is the broker connection shared by telemetry ingest and the
// status relay sink.
//
// Routes registered with Subscribe are replayed after every reconnect, and
// the service announces itself on the system status topic each time the
// connection comes up. All methods are safe for concurrent use.
type Client struct {
	pc     pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	up atomic.Bool

	mu     sync.RWMutex
	routes map[string]route
	hooks  hooks

	received      atomic.Uint64
	handlerErrors atomic.Uint64
}

// Logger is the logging surface used by the client.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. paho calls it on its own
// goroutine; a returned error is logged and counted.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Stats is a point-in-time view of the connection.
type Stats struct {
	Connected     bool   `json:"connected"`
	Subscriptions int    `json:"subscriptions"`
	Received      uint64 `json:"messages_received"`
	HandlerErrors uint64 `json:"handler_errors"`
}

// Connect dials the broker described by cfg and waits for the first
// CONNACK. The will message marks the service offline if the connection
// drops without Close.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg, nil)

	opts := clientOptions(cfg)
	setWill(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.brokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.logger(); l != nil {
			l.Warn("MQTT reconnecting", "broker", brokerURL(cfg))
		}
	})

	c.pc = pahomqtt.NewClient(opts)
	token := c.pc.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnect fires asynchronously; the token already proves we are up.
	c.up.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig, pc pahomqtt.Client) *Client {
	return &Client{
		pc:     pc,
		cfg:    cfg,
		topics: NewTopics(cfg.Topics),
		routes: make(map[string]route),
	}
}

// Topics returns the topic builders for this client's configuration.
func (c *Client) Topics() Topics {
	return c.topics
}

// brokerUp runs on the initial connect and on every reconnect.
func (c *Client) brokerUp() {
	c.up.Store(true)

	c.mu.RLock()
	for topic, r := range c.routes {
		c.pc.Subscribe(topic, r.qos, c.dispatch(r.handler))
	}
	onConnect := c.hooks.onConnect
	c.mu.RUnlock()

	c.pc.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, presencePayload(c.cfg.Broker.ClientID, "online", ""))

	if onConnect != nil {
		onConnect()
	}
}

func (c *Client) brokerLost(err error) {
	c.up.Store(false)

	c.mu.RLock()
	onDisconnect, l := c.hooks.onDisconnect, c.hooks.logger
	c.mu.RUnlock()

	if l != nil {
		l.Warn("MQTT connection lost", "error", err)
	}
	if onDisconnect != nil {
		onDisconnect(err)
	}
}

// Close announces a graceful shutdown on the system status topic and
// disconnects. A nil or never-connected client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.pc == nil {
		return nil
	}

	if c.IsConnected() {
		c.pc.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, presencePayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown")).
			WaitTimeout(defaultPublishTimeout)
	}
	c.pc.Disconnect(disconnectQuiesceMS)
	c.up.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both our view and paho's agree the
// connection is up.
func (c *Client) IsConnected() bool {
	if c == nil || c.pc == nil {
		return false
	}
	return c.up.Load() && c.pc.IsConnected()
}

// Stats returns connection and message counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	n := len(c.routes)
	c.mu.RUnlock()

	return Stats{
		Connected:     c.IsConnected(),
		Subscriptions: n,
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
	}
}

// SetOnConnect sets a callback invoked on connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.hooks.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.hooks.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for connection and handler problems.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.hooks.logger = l
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks.logger
}

// dispatch adapts a MessageHandler to paho, counting messages and keeping
// a panicking handler from killing paho's router goroutine.
func (c *Client) dispatch(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		topic := msg.Topic()

		defer func() {
			if r := recover(); r != nil {
				c.handlerErrors.Add(1)
				if l := c.logger(); l != nil {
					l.Error("MQTT handler panicked", "topic", topic, "panic", r)
				}
			}
		}()

		if err := h(topic, msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			if l := c.logger(); l != nil {
				l.Warn("MQTT handler failed", "topic", topic, "error", err)
			}
		}
	}
}
