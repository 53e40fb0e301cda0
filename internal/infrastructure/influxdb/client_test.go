package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// fakeWriteAPI records points. Methods the client never calls are left to
// the embedded interface.
type fakeWriteAPI struct {
	api.WriteAPI

	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func connectedClient() (*Client, *fakeWriteAPI) {
	fake := &fakeWriteAPI{}
	c := &Client{writeAPI: fake}
	c.open.Store(true)
	return c, fake
}

func intPtr(v int) *int { return &v }

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "token",
		Org:     "unitlink",
		Bucket:  "telemetry",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.InfluxDBConfig
		wantBatch     int
		wantFlushSecs int
	}{
		{"defaults", config.InfluxDBConfig{}, 100, 10},
		{"negative", config.InfluxDBConfig{BatchSize: -5, FlushInterval: -1}, 100, 10},
		{"configured", config.InfluxDBConfig{BatchSize: 500, FlushInterval: 2}, 500, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, flush := batchSettings(tt.cfg)
			if batch != tt.wantBatch || flush != tt.wantFlushSecs {
				t.Errorf("batchSettings() = %d, %d; want %d, %d", batch, flush, tt.wantBatch, tt.wantFlushSecs)
			}
		})
	}
}

func TestWriteTelemetry(t *testing.T) {
	c, fake := connectedClient()
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	c.WriteTelemetry(TelemetryPoint{
		DeviceID:   "dev-1",
		UnitType:   "CHECKPOINT",
		Status:     "ONLINE",
		SignalRSSI: intPtr(-60),
		Timestamp:  ts,
	})

	if len(fake.points) != 1 {
		t.Fatalf("points = %d, want 1", len(fake.points))
	}
	p := fake.points[0]
	if p.Name() != "telemetry" || !p.Time().Equal(ts) {
		t.Errorf("point = %s at %v", p.Name(), p.Time())
	}

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["device_id"] != "dev-1" || tags["unit_type"] != "CHECKPOINT" {
		t.Errorf("tags = %v", tags)
	}

	fields := make(map[string]any)
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["status"] != "ONLINE" || fields["signal_rssi"] != int64(-60) {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields["latency_ms"]; ok {
		t.Error("absent latency should not be written")
	}
	if _, ok := fields["packet_loss_percent"]; ok {
		t.Error("absent packet loss should not be written")
	}
}

func TestWriteTelemetry_Disconnected(t *testing.T) {
	c, fake := connectedClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c.WriteTelemetry(TelemetryPoint{DeviceID: "dev-1", Status: "OFFLINE"})
	if len(fake.points) != 0 {
		t.Errorf("points after Close = %d, want 0", len(fake.points))
	}
	if fake.flushes != 1 {
		t.Errorf("flushes = %d, want 1 from Close", fake.flushes)
	}

	c.Flush()
	if fake.flushes != 1 {
		t.Error("Flush() after Close should be a no-op")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestWriteErrorsCallback(t *testing.T) {
	c, _ := connectedClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("batch rejected")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if err.Error() != "batch rejected" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Error("error callback not invoked")
	}
}
