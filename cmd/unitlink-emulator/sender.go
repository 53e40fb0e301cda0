package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

const deviceKeyHeader = "X-Device-Api-Key"

// sender delivers one report for one device.
type sender interface {
	Send(ctx context.Context, deviceID string, r telemetry.Report) error
}

// httpSender posts reports to /api/v1/devices/{id}/status.
type httpSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPSender(baseURL, apiKey string, timeout time.Duration) *httpSender {
	return &httpSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *httpSender) Send(ctx context.Context, deviceID string, r telemetry.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	endpoint := s.baseURL + "/api/v1/devices/" + url.PathEscape(deviceID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(deviceKeyHeader, s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// publisher is the part of *mqtt.Client used by mqttSender.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// mqttSender publishes reports to <telemetry_prefix>/<device_id>.
type mqttSender struct {
	client publisher
	topics mqtt.Topics
	qos    byte
}

func (s *mqttSender) Send(_ context.Context, deviceID string, r telemetry.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := s.client.Publish(s.topics.Telemetry(deviceID), payload, s.qos, false); err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}
	return nil
}
