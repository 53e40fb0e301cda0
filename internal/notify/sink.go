package notify

import (
	"context"
)

// Sink relays status updates to one external observer.
type Sink interface {
	// Name identifies the sink in logs and broker subscriptions.
	Name() string

	// Deliver relays one update. Errors are logged by RunSink and the
	// update is not retried.
	Deliver(ctx context.Context, u StatusUpdate) error
}

// RunSink subscribes sink to the broker and delivers updates until ctx is
// cancelled or the broker closes. A failed delivery never stops the loop.
func RunSink(ctx context.Context, b *Broker, sink Sink, logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}

	sub := b.Subscribe(sink.Name(), 0)
	defer b.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sink.Deliver(ctx, u); err != nil {
				logger.Warn("status update delivery failed",
					"sink", sink.Name(),
					"device_id", u.ID,
					"error", err,
				)
			}
		}
	}
}
