package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
	"github.com/unitlink/unitlink-core/internal/infrastructure/logging"
	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"UNITLINK_EMULATOR_DEVICES", "UNITLINK_DEVICE_API_KEY", "UNITLINK_MQTT_USERNAME", "UNITLINK_MQTT_PASSWORD"} {
		t.Setenv(k, "")
	}
}

func TestParseFlags(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"http ok", []string{"-devices", "a, b,,c", "-api-key", "k"}, ""},
		{"mqtt needs no key", []string{"-transport", "mqtt", "-devices", "a"}, ""},
		{"no devices", []string{"-api-key", "k"}, "device ID"},
		{"http without key", []string{"-devices", "a"}, "API key"},
		{"bad transport", []string{"-transport", "grpc", "-devices", "a", "-api-key", "k"}, "unknown transport"},
		{"bad interval", []string{"-interval", "0s", "-devices", "a", "-api-key", "k"}, "interval"},
		{"bad qos", []string{"-transport", "mqtt", "-mqtt-qos", "3", "-devices", "a"}, "mqtt-qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("parseFlags() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("parseFlags() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	clearEnv(t)
	o, err := parseFlags([]string{"-devices", "a, b,,c", "-api-key", "k"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(o.deviceIDs) != 3 || o.deviceIDs[1] != "b" {
		t.Errorf("deviceIDs = %v, want [a b c]", o.deviceIDs)
	}
	if o.interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s", o.interval)
	}
	if o.transport != transportHTTP {
		t.Errorf("transport = %q, want http", o.transport)
	}
}

func TestGenerator_StatusDistribution(t *testing.T) {
	g := newGenerator(42)
	counts := map[device.Status]int{}
	const n = 20000
	for range n {
		counts[g.pickStatus()]++
	}

	want := map[device.Status]float64{
		device.StatusOnline:   0.7,
		device.StatusUnstable: 0.2,
		device.StatusOffline:  0.1,
	}
	for status, p := range want {
		got := float64(counts[status]) / n
		if got < p-0.03 || got > p+0.03 {
			t.Errorf("%s share = %.3f, want about %.2f", status, got, p)
		}
	}
}

func TestGenerator_ReportRanges(t *testing.T) {
	g := newGenerator(7)

	for _, status := range []device.Status{device.StatusOnline, device.StatusUnstable} {
		tr := ranges[status]
		for range 2000 {
			r := g.report(status)
			s, err := telemetry.Normalize(r)
			if err != nil {
				t.Fatalf("Normalize(%+v) error = %v", r, err)
			}
			if *s.Status != status {
				t.Fatalf("status = %s, want %s", *s.Status, status)
			}
			if s.SignalRSSI != nil && (*s.SignalRSSI < tr.rssiMin || *s.SignalRSSI > tr.rssiMax) {
				t.Fatalf("%s rssi = %d out of range", status, *s.SignalRSSI)
			}
			if s.LatencyMS != nil && (*s.LatencyMS < tr.latencyMin || *s.LatencyMS > tr.latencyMax) {
				t.Fatalf("%s latency = %d out of range", status, *s.LatencyMS)
			}
			if s.PacketLossPercent != nil && (*s.PacketLossPercent < tr.lossMin || *s.PacketLossPercent > tr.lossMax) {
				t.Fatalf("%s loss = %v out of range", status, *s.PacketLossPercent)
			}
		}
	}
}

func TestGenerator_OfflineHasNoTelemetry(t *testing.T) {
	g := newGenerator(1)
	r := g.report(device.StatusOffline)
	if r.Status != "OFFLINE" {
		t.Errorf("Status = %q, want OFFLINE", r.Status)
	}
	if r.SignalRSSI.IsSet() || r.LatencyMS.IsSet() || r.PacketLossPercent.IsSet() {
		t.Errorf("OFFLINE report carries telemetry: %+v", r)
	}
}

func TestGenerator_DropsFieldsSometimes(t *testing.T) {
	g := newGenerator(3)
	dropped := 0
	const n = 5000
	for range n {
		if !g.report(device.StatusOnline).LatencyMS.IsSet() {
			dropped++
		}
	}
	if share := float64(dropped) / n; share < 0.02 || share > 0.08 {
		t.Errorf("latency dropped in %.3f of reports, want about 0.05", share)
	}
}

func TestHTTPSender(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(deviceKeyHeader)
		//nolint:errcheck // Test decode
		json.NewDecoder(r.Body).Decode(&gotBody)
		if r.URL.Path == "/api/v1/devices/missing/status" {
			http.Error(w, `{"error":{"code":"not_found"}}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newHTTPSender(srv.URL+"/", "secret", time.Second)
	report := telemetry.Report{Status: "ONLINE", SignalRSSI: telemetry.Int(-60)}
	if err := s.Send(context.Background(), "dev-1", report); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/api/v1/devices/dev-1/status" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("%s = %q, want secret", deviceKeyHeader, gotKey)
	}
	if gotBody["status"] != "ONLINE" || gotBody["signal_rssi"] != float64(-60) || gotBody["latency_ms"] != nil {
		t.Errorf("body = %v", gotBody)
	}

	err := s.Send(context.Background(), "missing", report)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Send() error = %v, want status 404", err)
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	topics  []string
	payload []byte
	err     error
}

func (p *recordingPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payload = payload
	return p.err
}

func TestMQTTSender(t *testing.T) {
	pub := &recordingPublisher{}
	s := &mqttSender{
		client: pub,
		topics: mqtt.NewTopics(config.MQTTTopicsConfig{TelemetryPrefix: "unitlink/telemetry", StatusPrefix: "unitlink/status"}),
		qos:    1,
	}

	if err := s.Send(context.Background(), "dev-9", telemetry.Report{Status: "OFFLINE"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "unitlink/telemetry/dev-9" {
		t.Errorf("topics = %v", pub.topics)
	}
	if !strings.Contains(string(pub.payload), `"status":"OFFLINE"`) {
		t.Errorf("payload = %s", pub.payload)
	}

	pub.err = errors.New("not connected")
	if err := s.Send(context.Background(), "dev-9", telemetry.Report{}); !errors.Is(err, pub.err) {
		t.Errorf("Send() error = %v, want wrapped publish error", err)
	}
}

type countingSender struct {
	mu   sync.Mutex
	seen map[string]int
	fail string
}

func (s *countingSender) Send(_ context.Context, id string, _ telemetry.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id]++
	if id == s.fail {
		return errors.New("rejected")
	}
	return nil
}

func TestEmulatorRound(t *testing.T) {
	s := &countingSender{seen: map[string]int{}, fail: "b"}
	e := &emulator{
		sender:    s,
		gen:       newGenerator(11),
		deviceIDs: []string{"a", "b", "c"},
		log:       logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test"),
	}

	if sent := e.round(context.Background()); sent != 2 {
		t.Errorf("round() = %d, want 2 accepted", sent)
	}
	for _, id := range e.deviceIDs {
		if s.seen[id] != 1 {
			t.Errorf("device %s reported %d times, want 1", id, s.seen[id])
		}
	}
}
