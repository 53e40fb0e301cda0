package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unitlink/unitlink-core/internal/alert"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/failure"
	"github.com/unitlink/unitlink-core/internal/infrastructure/metrics"
	"github.com/unitlink/unitlink-core/internal/notify"
)

// DefaultCommitTimeout bounds an ingest transaction when Config leaves it zero.
const DefaultCommitTimeout = 5 * time.Second

// Publisher receives the post-commit state of every accepted report.
// *notify.Broker implements it.
type Publisher interface {
	Publish(u notify.StatusUpdate) error
}

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config tunes an Ingestor.
type Config struct {
	CommitTimeout time.Duration
	Thresholds    Thresholds
}

// Result is the outcome of an accepted report.
type Result struct {
	// Device is the state after commit.
	Device *device.Device

	// Telemetry holds the reported measurements and the ingest time.
	Telemetry notify.TelemetrySnapshot

	// Event is the status transition event, nil when the status did not change.
	Event *eventlog.Event

	// ThresholdEvents and Alerts are recorded for threshold breaches.
	ThresholdEvents []eventlog.Event
	Alerts          []alert.Alert
}

// Ingestor applies device reports.
type Ingestor struct {
	store         Store
	publisher     Publisher
	logger        Logger
	commitTimeout time.Duration
	thresholds    Thresholds
	now           func() time.Time
}

// NewIngestor creates an ingestor. publisher and logger may be nil.
func NewIngestor(store Store, publisher Publisher, cfg Config, logger Logger) *Ingestor {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultCommitTimeout
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Ingestor{
		store:         store,
		publisher:     publisher,
		logger:        logger,
		commitTimeout: cfg.CommitTimeout,
		thresholds:    cfg.Thresholds,
		now:           time.Now,
	}
}

// Ingest validates and applies one report for deviceID.
//
// Errors are classified with package failure: Validation for a malformed
// report, NotFound for an unknown device, and Internal for anything that
// went wrong in the store. Nothing is written unless the whole report is
// committed.
func (in *Ingestor) Ingest(ctx context.Context, deviceID string, report Report) (*Result, error) {
	start := time.Now()

	sample, err := Normalize(report)
	if err != nil {
		metrics.ObserveIngest(metrics.ResultValidation, time.Since(start))
		return nil, err
	}

	res, err := in.commit(ctx, deviceID, sample)
	if err != nil {
		if failure.KindOf(err) == failure.KindNotFound {
			metrics.ObserveIngest(metrics.ResultNotFound, time.Since(start))
			return nil, err
		}
		in.logger.Error("ingest failed",
			"device_id", deviceID,
			"error", err,
		)
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		return nil, failure.Internal("ingesting report", err)
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	if res.Event != nil {
		metrics.IncTransition(string(res.Event.EventType))
		in.logger.Info("device status changed",
			"device_id", deviceID,
			"event_type", res.Event.EventType,
			"status", res.Device.Status,
		)
	}

	in.publish(res)
	return res, nil
}

func (in *Ingestor) commit(ctx context.Context, deviceID string, s Sample) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, in.commitTimeout)
	defer cancel()

	now := in.now().UTC()
	res := &Result{
		Telemetry: notify.TelemetrySnapshot{
			SignalRSSI:        s.SignalRSSI,
			LatencyMS:         s.LatencyMS,
			PacketLossPercent: s.PacketLossPercent,
			Timestamp:         now,
		},
	}

	err := in.store.WithinTx(ctx, func(tx Tx) error {
		d, err := tx.Device(ctx, deviceID)
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				return failure.NotFound("device", deviceID)
			}
			return fmt.Errorf("loading device: %w", err)
		}

		status := d.Status
		if s.Status != nil && *s.Status != d.Status {
			if t := Evaluate(d.Name, d.Status, *s.Status); t != nil {
				id := d.ID
				ev := &eventlog.Event{
					Timestamp:  now,
					EventType:  t.EventType,
					Message:    t.Message,
					DeviceID:   &id,
					DeviceName: d.Name,
					Details:    t.Details,
				}
				if err := tx.AppendEvent(ctx, ev); err != nil {
					return fmt.Errorf("appending transition event: %w", err)
				}
				res.Event = ev
			}
			status = *s.Status
		}

		revision, err := tx.UpdateConnectivity(ctx, d.ID, status, now)
		if err != nil {
			return fmt.Errorf("updating device: %w", err)
		}
		d.Status = status
		d.LastSeen = &now
		d.Revision = revision

		if s.HasTelemetry() {
			if err := tx.AppendTelemetry(ctx, &device.TelemetryRecord{
				DeviceID:          d.ID,
				Timestamp:         now,
				SignalRSSI:        s.SignalRSSI,
				LatencyMS:         s.LatencyMS,
				PacketLossPercent: s.PacketLossPercent,
			}); err != nil {
				return fmt.Errorf("appending telemetry: %w", err)
			}
		}

		res.ThresholdEvents, res.Alerts, err = in.thresholds.record(ctx, tx, d, s, now)
		if err != nil {
			return err
		}

		res.Device = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// publish hands the committed state to the publisher. Failures are logged
// and counted; the ingest has already succeeded.
func (in *Ingestor) publish(res *Result) {
	if in.publisher == nil {
		return
	}
	update := notify.NewStatusUpdate(res.Device, res.Telemetry)
	if err := in.publisher.Publish(update); err != nil {
		metrics.IncNotificationFailed()
		in.logger.Warn("status update not published",
			"device_id", res.Device.ID,
			"error", err,
		)
	}
}
