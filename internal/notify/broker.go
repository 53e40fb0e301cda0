package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/unitlink/unitlink-core/internal/infrastructure/metrics"
)

// Broker errors.
var (
	// ErrQueueFull is returned by Publish when the dispatch queue is full.
	// The update is dropped.
	ErrQueueFull = errors.New("notify: queue full")

	// ErrClosed is returned by Publish after the broker has stopped.
	ErrClosed = errors.New("notify: broker closed")
)

// Default sizes used when the configuration leaves them at zero.
const (
	DefaultQueueSize        = 1024
	DefaultSubscriberBuffer = 64
)

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Config sizes the broker.
type Config struct {
	QueueSize        int
	SubscriberBuffer int
}

// Subscription receives updates on C until it is unsubscribed or the
// broker closes, at which point C is closed.
type Subscription struct {
	C    <-chan StatusUpdate
	name string
	ch   chan StatusUpdate

	dropped atomic.Uint64
}

// Name identifies the subscriber in logs.
func (s *Subscription) Name() string {
	return s.name
}

// Dropped returns how many updates this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats is a snapshot of broker counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Stale       uint64 `json:"stale"`
	Subscribers int    `json:"subscribers"`
	Devices     int    `json:"tracked_devices"`
}

// Broker is a many-to-many broadcast of StatusUpdate values.
type Broker struct {
	queue      chan StatusUpdate
	bufferSize int
	logger     Logger

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	// lastRevision holds one entry per device seen since startup; Forget
	// removes a deleted device.
	revMu        sync.Mutex
	lastRevision map[string]int64

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	stale     atomic.Uint64
}

// NewBroker creates a broker. Call Run to start dispatching.
func NewBroker(cfg Config, logger Logger) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Broker{
		queue:        make(chan StatusUpdate, cfg.QueueSize),
		bufferSize:   cfg.SubscriberBuffer,
		logger:       logger,
		done:         make(chan struct{}),
		subs:         make(map[*Subscription]struct{}),
		lastRevision: make(map[string]int64),
	}
}

// Publish enqueues an update for dispatch. It never blocks.
func (b *Broker) Publish(u StatusUpdate) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.queue <- u:
		b.published.Add(1)
		metrics.IncNotificationPublished()
		return nil
	default:
		b.dropped.Add(1)
		metrics.IncNotificationDropped(metrics.DropQueueFull)
		return ErrQueueFull
	}
}

// Run dispatches queued updates until ctx is cancelled or Close is called.
// Subscriber channels are closed when Run returns.
func (b *Broker) Run(ctx context.Context) {
	defer b.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case u := <-b.queue:
			b.dispatch(u)
		}
	}
}

// dispatch delivers u to every subscriber without blocking.
func (b *Broker) dispatch(u StatusUpdate) {
	if rev := u.Revision(); rev > 0 {
		b.revMu.Lock()
		last, ok := b.lastRevision[u.ID]
		stale := ok && rev <= last
		if !stale {
			b.lastRevision[u.ID] = rev
		}
		b.revMu.Unlock()

		if stale {
			b.stale.Add(1)
			metrics.IncNotificationDropped(metrics.DropStale)
			b.logger.Debug("stale status update discarded",
				"device_id", u.ID,
				"revision", rev,
				"last_revision", last,
			)
			return
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- u:
			b.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			metrics.IncNotificationDropped(metrics.DropSubscriberFull)
			b.logger.Warn("subscriber buffer full, status update dropped",
				"subscriber", sub.name,
				"device_id", u.ID,
			)
		}
	}
}

// Forget drops the revision watermark of a deleted device. An update
// already queued for it may add the entry back once.
func (b *Broker) Forget(deviceID string) {
	b.revMu.Lock()
	delete(b.lastRevision, deviceID)
	b.revMu.Unlock()
}

// Subscribe registers a new subscriber. buffer <= 0 uses the configured
// default. Subscribing to a closed broker returns an already-closed
// subscription.
func (b *Broker) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.bufferSize
	}
	ch := make(chan StatusUpdate, buffer)
	sub := &Subscription{C: ch, name: name, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call concurrently with dispatch and more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Close stops the broker and closes every subscriber channel. Updates
// still queued are discarded.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		defer b.mu.Unlock()

		b.closed = true
		for sub := range b.subs {
			close(sub.ch)
		}
		b.subs = make(map[*Subscription]struct{})
	})
}

// Stats returns current counters.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	b.revMu.Lock()
	devices := len(b.lastRevision)
	b.revMu.Unlock()

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Stale:       b.stale.Load(),
		Subscribers: n,
		Devices:     devices,
	}
}
