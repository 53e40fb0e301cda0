package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// fakeToken completes immediately with err.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records calls instead of talking to a broker. Methods the client
// never calls are left to the embedded interface.
type fakePaho struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	publishErr   error
	subscribeErr error
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.published = append(f.published, published{topic, qos, retained, b})
	return &fakeToken{err: f.publishErr}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr == nil {
		f.handlers[topic] = callback
	}
	return &fakeToken{err: f.subscribeErr}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return &fakeToken{}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.connected = false
}

// deliver invokes the handler registered for topic.
func (f *fakePaho) deliver(subscribed, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[subscribed]
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "unitlink-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectedClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig(), fake)
	c.up.Store(true)
	return c, fake
}

func TestPublish(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Publish("unitlink/status/dev-1", []byte(`{"status":"ONLINE"}`), 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fake.published) != 1 {
		t.Fatalf("published = %d, want 1", len(fake.published))
	}
	got := fake.published[0]
	if got.topic != "unitlink/status/dev-1" || got.qos != 0 || got.retained {
		t.Errorf("published = %+v", got)
	}
}

func TestPublishValidation(t *testing.T) {
	c, _ := connectedClient(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 0, ErrInvalidTopic},
		{"invalid qos", "a/b", nil, 3, ErrInvalidQoS},
		{"payload too large", "a/b", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishBrokerError(t *testing.T) {
	c, fake := connectedClient(t)
	fake.publishErr = errors.New("broker refused")

	if err := c.Publish("a/b", []byte("x"), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	c, fake := connectedClient(t)
	fake.connected = false

	if err := c.Publish("a/b", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeAndDeliver(t *testing.T) {
	c, fake := connectedClient(t)

	var mu sync.Mutex
	var gotTopic, gotPayload string
	err := c.Subscribe("unitlink/telemetry/+", 1, func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("unitlink/telemetry/+") || c.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	fake.deliver("unitlink/telemetry/+", "unitlink/telemetry/dev-1", []byte(`{"status":"ONLINE"}`))

	mu.Lock()
	defer mu.Unlock()
	if gotTopic != "unitlink/telemetry/dev-1" || gotPayload != `{"status":"ONLINE"}` {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, fake := connectedClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}

	fake.subscribeErr = errors.New("not authorised")
	if err := c.Subscribe("a", 0, noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("broker error = %v", err)
	}
	if c.HasSubscription("a") {
		t.Error("failed subscription should not be tracked")
	}
}

func TestUnsubscribe(t *testing.T) {
	c, _ := connectedClient(t)
	if err := c.Subscribe("a/+", 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Unsubscribe("a/+"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestHandlerPanicAndErrorAreLogged(t *testing.T) {
	c, fake := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("p", 0, func(string, []byte) error { panic("boom") }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Subscribe("e", 0, func(string, []byte) error { return errors.New("bad payload") }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fake.deliver("p", "p", nil)
	fake.deliver("e", "e", nil)

	if len(logger.errs) != 1 || logger.errs[0] != "MQTT handler panicked" {
		t.Errorf("errors logged = %v", logger.errs)
	}
	if len(logger.warns) != 1 || logger.warns[0] != "MQTT handler failed" {
		t.Errorf("warnings logged = %v", logger.warns)
	}

	stats := c.Stats()
	if stats.Received != 2 || stats.HandlerErrors != 2 || stats.Subscriptions != 2 || !stats.Connected {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c, fake := connectedClient(t)
	if err := c.Subscribe("unitlink/telemetry/+", 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var disconnects, connects int
	c.SetOnDisconnect(func(error) { disconnects++ })
	c.SetOnConnect(func() { connects++ })

	c.brokerLost(errors.New("network down"))
	if c.IsConnected() {
		t.Error("IsConnected() should be false after disconnect")
	}

	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	c.brokerUp()

	if _, ok := fake.handlers["unitlink/telemetry/+"]; !ok {
		t.Error("subscription not restored after reconnect")
	}
	if disconnects != 1 || connects != 1 {
		t.Errorf("callbacks: disconnects=%d connects=%d", disconnects, connects)
	}

	last := fake.published[len(fake.published)-1]
	if last.topic != "unitlink/system/status" || !last.retained {
		t.Errorf("online status = %+v", last)
	}
	if !strings.Contains(string(last.payload), `"status":"online"`) {
		t.Errorf("online payload = %s", last.payload)
	}
}

func TestClose(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnected || c.IsConnected() {
		t.Error("Close() should disconnect")
	}

	var status presence
	if err := json.Unmarshal(fake.published[0].payload, &status); err != nil {
		t.Fatalf("offline payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "graceful_shutdown" || status.ClientID != "unitlink-test" {
		t.Errorf("offline status = %+v", status)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}

	fake.connected = false
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(disconnected) error = %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "unit"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := clientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "unitlink-test" || opts.Username != "unit" {
		t.Errorf("ClientID/Username = %q/%q", opts.ClientID, opts.Username)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}

	setWill(opts, cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "unitlink/system/status" || !opts.WillRetained {
		t.Errorf("LWT = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}
