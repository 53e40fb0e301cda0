package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/unitlink/unitlink-core/internal/alert"
	"github.com/unitlink/unitlink-core/internal/auth"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/failure"
	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database/sqlitetest"
	"github.com/unitlink/unitlink-core/internal/infrastructure/logging"
	"github.com/unitlink/unitlink-core/internal/notify"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

const (
	testSecret    = "test-secret-that-is-at-least-32-characters"
	testDeviceKey = "test-device-key"
)

type testEnv struct {
	srv    *Server
	router http.Handler
	db     *database.DB
	broker *notify.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := sqlitetest.Open(t)
	broker := notify.NewBroker(notify.Config{}, nil)
	ingestor := telemetry.NewIngestor(telemetry.NewSQLiteStore(db), broker, telemetry.Config{}, nil)
	return newTestEnvWith(t, db, broker, ingestor)
}

func newTestEnvWith(t *testing.T, db *database.DB, broker *notify.Broker, ingestor Ingester) *testEnv {
	t.Helper()
	srv, err := New(Deps{
		Security: config.SecurityConfig{
			JWT:          config.JWTConfig{Secret: testSecret, AccessTokenTTL: 60},
			DeviceAPIKey: testDeviceKey,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger: logging.New(config.LoggingConfig{
			Level:  "error",
			Format: "text",
			Output: "stderr",
		}, "test"),
		DB:       db,
		Ingestor: ingestor,
		Broker:   broker,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, router: srv.buildRouter(), db: db, broker: broker}
}

func (e *testEnv) seedDevice(t *testing.T, name string) *device.Device {
	t.Helper()
	d := &device.Device{Name: name, UnitType: device.UnitTypeFieldUnit}
	if err := device.NewSQLiteRepository(e.db).Create(context.Background(), d); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	return d
}

func token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(userID, role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// do sends a request through the router. A non-empty bearer is sent as
// the Authorization header.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) ingest(t *testing.T, id string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/devices/"+id+"/status", "", body, headerDeviceAPIKey, testDeviceKey)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
}

func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorBody {
	t.Helper()
	wantStatus(t, rec, status)
	resp := decode[ErrorResponse](t, rec)
	if resp.Error.Code != code {
		t.Errorf("error code = %q, want %q", resp.Error.Code, code)
	}
	return resp.Error
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without database should fail")
	}
}

func TestIngest_Success(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Alpha")

	rec := env.ingest(t, d.ID, map[string]any{
		"status":              "online",
		"signal_rssi":         -60,
		"latency_ms":          "45",
		"packet_loss_percent": 0.5,
	})
	wantStatus(t, rec, http.StatusOK)

	resp := decode[struct {
		Message string         `json:"message"`
		Device  map[string]any `json:"device"`
	}](t, rec)
	if resp.Message != "Device status updated successfully." {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Device["status"] != "ONLINE" {
		t.Errorf("device status = %v, want ONLINE", resp.Device["status"])
	}
	if resp.Device["last_seen"] == nil {
		t.Error("last_seen should be set")
	}

	history, err := device.NewSQLiteTelemetryRepository(env.db).ListByDevice(context.Background(), d.ID, 0)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(history) != 1 || history[0].LatencyMS == nil || *history[0].LatencyMS != 45 {
		t.Errorf("history = %+v, want one record with latency 45", history)
	}
}

func TestIngest_ValidationRejectsBeforeWrite(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Bravo")

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"unknown status", map[string]any{"status": "SLEEPING"}, "status"},
		{"non-integer rssi", map[string]any{"status": "ONLINE", "signal_rssi": "strong"}, "signal_rssi"},
		{"loss over 100", map[string]any{"packet_loss_percent": 120}, "packet_loss_percent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := wantErrorCode(t, env.ingest(t, d.ID, tt.body), http.StatusBadRequest, ErrCodeValidation)
			if body.Details["field"] != tt.field {
				t.Errorf("details.field = %v, want %q", body.Details["field"], tt.field)
			}
		})
	}

	t.Run("malformed JSON", func(t *testing.T) {
		wantErrorCode(t, env.ingest(t, d.ID, "{not json"), http.StatusBadRequest, ErrCodeValidation)
	})

	got, err := device.NewSQLiteRepository(env.db).GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != device.StatusUnknown || got.LastSeen != nil {
		t.Errorf("device changed after rejected reports: status=%s last_seen=%v", got.Status, got.LastSeen)
	}
}

func TestIngest_UnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	wantErrorCode(t, env.ingest(t, "missing", map[string]any{"status": "ONLINE"}), http.StatusNotFound, ErrCodeNotFound)
}

func TestIngest_DeviceKey(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Charlie")
	path := "/api/v1/devices/" + d.ID + "/status"

	wantErrorCode(t, env.do(t, http.MethodPost, path, "", map[string]any{}), http.StatusUnauthorized, ErrCodeUnauthorized)
	wantErrorCode(t, env.do(t, http.MethodPost, path, "", map[string]any{}, headerDeviceAPIKey, "wrong"),
		http.StatusUnauthorized, ErrCodeUnauthorized)
}

type failingIngester struct{}

func (failingIngester) Ingest(context.Context, string, telemetry.Report) (*telemetry.Result, error) {
	return nil, failure.Internal("ingesting report", errors.New("disk I/O error: secret path /var/lib/unitlink"))
}

func TestIngest_InternalErrorIsGeneric(t *testing.T) {
	db := sqlitetest.Open(t)
	env := newTestEnvWith(t, db, notify.NewBroker(notify.Config{}, nil), failingIngester{})

	body := wantErrorCode(t, env.ingest(t, "dev-1", map[string]any{"status": "ONLINE"}),
		http.StatusInternalServerError, ErrCodeInternal)
	if body.Message != "an internal error occurred" {
		t.Errorf("message = %q, want generic message", body.Message)
	}
	if strings.Contains(body.Message, "secret") {
		t.Error("internal cause leaked to the caller")
	}
}

func TestDevices_CreateListGetDelete(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin-1", auth.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/v1/devices", admin, map[string]any{
		"name":        "Delta",
		"description": "hilltop relay",
		"position":    []float64{48.1, 11.5},
		"unit_type":   "communication_hub",
	})
	wantStatus(t, rec, http.StatusCreated)
	created := decode[map[string]any](t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created device has no id: %v", created)
	}
	if created["unit_type"] != "COMMUNICATION_HUB" || created["status"] != "UNKNOWN" {
		t.Errorf("created = %v", created)
	}
	if created["added_by_user_id"] != "admin-1" {
		t.Errorf("added_by_user_id = %v, want admin-1", created["added_by_user_id"])
	}

	wantErrorCode(t, env.do(t, http.MethodPost, "/api/v1/devices", admin, map[string]any{"name": "Delta"}),
		http.StatusConflict, ErrCodeConflict)

	list := decode[struct {
		Devices []map[string]any `json:"devices"`
		Count   int              `json:"count"`
	}](t, env.do(t, http.MethodGet, "/api/v1/devices", admin, nil))
	if list.Count != 1 || list.Devices[0]["name"] != "Delta" {
		t.Errorf("list = %+v", list)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/devices/"+id, admin, nil), http.StatusOK)
	wantStatus(t, env.do(t, http.MethodDelete, "/api/v1/devices/"+id, admin, nil), http.StatusNoContent)
	wantErrorCode(t, env.do(t, http.MethodGet, "/api/v1/devices/"+id, admin, nil), http.StatusNotFound, ErrCodeNotFound)
	wantErrorCode(t, env.do(t, http.MethodDelete, "/api/v1/devices/"+id, admin, nil), http.StatusNotFound, ErrCodeNotFound)

	page, err := eventlog.NewSQLiteRepository(env.db).List(context.Background(), eventlog.Query{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(page.Events))
	}
	deleted, registered := page.Events[0], page.Events[1]
	if deleted.EventType != eventlog.EventUserAction || deleted.DeviceID != nil {
		t.Errorf("delete event = %+v", deleted)
	}
	if deleted.Details["device_name"] != "Delta" {
		t.Errorf("delete event details = %v", deleted.Details)
	}
	if registered.EventType != eventlog.EventConfigUpdate || registered.UserID == nil || *registered.UserID != "admin-1" {
		t.Errorf("create event = %+v", registered)
	}
}

func TestDevices_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin-1", auth.RoleAdmin)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing name", map[string]any{"name": "  "}, "name"},
		{"bad unit type", map[string]any{"name": "Echo", "unit_type": "TANK"}, "unit_type"},
		{"bad position", map[string]any{"name": "Echo", "position": []float64{91, 0}}, "position"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := wantErrorCode(t, env.do(t, http.MethodPost, "/api/v1/devices", admin, tt.body),
				http.StatusBadRequest, ErrCodeValidation)
			if body.Details["field"] != tt.field {
				t.Errorf("details.field = %v, want %q", body.Details["field"], tt.field)
			}
		})
	}
}

func TestDevices_Permissions(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Foxtrot")
	operator := token(t, "op-1", auth.RoleOperator)

	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/devices", operator, nil), http.StatusOK)
	wantErrorCode(t, env.do(t, http.MethodPost, "/api/v1/devices", operator, map[string]any{"name": "Golf"}),
		http.StatusForbidden, ErrCodeForbidden)
	wantErrorCode(t, env.do(t, http.MethodDelete, "/api/v1/devices/"+d.ID, operator, nil),
		http.StatusForbidden, ErrCodeForbidden)
}

func TestDevices_Update(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Hotel")
	env.seedDevice(t, "India")
	admin := token(t, "admin-1", auth.RoleAdmin)
	path := "/api/v1/devices/" + d.ID

	type updateResponse struct {
		Message string         `json:"message"`
		Device  map[string]any `json:"device"`
		Changed []string       `json:"changed"`
	}

	configEvents := func(t *testing.T) []eventlog.Event {
		t.Helper()
		page, err := eventlog.NewSQLiteRepository(env.db).List(context.Background(),
			eventlog.Query{EventType: eventlog.EventConfigUpdate})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		return page.Events
	}

	rec := env.do(t, http.MethodPut, path, admin, map[string]any{
		"name":      " Hotel-2 ",
		"position":  []float64{47.5, 8.2},
		"unit_type": "observation_post",
	})
	wantStatus(t, rec, http.StatusOK)
	got := decode[updateResponse](t, rec)
	if got.Message != "Device updated." {
		t.Errorf("message = %q", got.Message)
	}
	if got.Device["name"] != "Hotel-2" || got.Device["unit_type"] != "OBSERVATION_POST" {
		t.Errorf("device = %v", got.Device)
	}
	if want := []string{"name", "position", "unit_type"}; !slices.Equal(got.Changed, want) {
		t.Errorf("changed = %v, want %v", got.Changed, want)
	}

	events := configEvents(t)
	if len(events) != 1 {
		t.Fatalf("config events = %d, want 1", len(events))
	}
	if ev := events[0]; ev.DeviceID == nil || *ev.DeviceID != d.ID || ev.UserID == nil || *ev.UserID != "admin-1" {
		t.Errorf("update event = %+v", ev)
	}

	t.Run("no changes", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, path, admin, map[string]any{"name": "Hotel-2", "unit_type": "OBSERVATION_POST"})
		wantStatus(t, rec, http.StatusOK)
		got := decode[updateResponse](t, rec)
		if got.Message != "No changes detected." || len(got.Changed) != 0 {
			t.Errorf("response = %+v", got)
		}
		if n := len(configEvents(t)); n != 1 {
			t.Errorf("config events = %d, want 1", n)
		}
	})

	t.Run("clear position", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, path, admin, map[string]any{"position": nil})
		wantStatus(t, rec, http.StatusOK)
		got := decode[updateResponse](t, rec)
		if got.Device["position"] != nil {
			t.Errorf("position = %v, want null", got.Device["position"])
		}
	})

	t.Run("name taken", func(t *testing.T) {
		wantErrorCode(t, env.do(t, http.MethodPut, path, admin, map[string]any{"name": "India"}),
			http.StatusConflict, ErrCodeConflict)
	})

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"bad unit type", map[string]any{"unit_type": "TANK"}, "unit_type"},
		{"empty name", map[string]any{"name": "   "}, "name"},
		{"bad position", map[string]any{"position": []float64{0, 181}}, "position"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := wantErrorCode(t, env.do(t, http.MethodPut, path, admin, tt.body),
				http.StatusBadRequest, ErrCodeValidation)
			if body.Details["field"] != tt.field {
				t.Errorf("details.field = %v, want %q", body.Details["field"], tt.field)
			}
		})
	}

	t.Run("unknown device", func(t *testing.T) {
		wantErrorCode(t, env.do(t, http.MethodPut, "/api/v1/devices/missing", admin, map[string]any{"name": "X"}),
			http.StatusNotFound, ErrCodeNotFound)
	})

	t.Run("operator", func(t *testing.T) {
		operator := token(t, "op-1", auth.RoleOperator)
		wantErrorCode(t, env.do(t, http.MethodPut, path, operator, map[string]any{"name": "Juliet"}),
			http.StatusForbidden, ErrCodeForbidden)
	})

	stored, err := device.NewSQLiteRepository(env.db).GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Name != "Hotel-2" || stored.Position != nil || stored.UnitType != device.UnitTypeObservationPost {
		t.Errorf("stored = %+v", stored)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: auth.RoleOperator,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	foreign, err := auth.GenerateAccessToken("op-1", auth.RoleOperator, "another-secret-of-sufficient-length!!", time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer garbage"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			wantErrorCode(t, rec, http.StatusUnauthorized, ErrCodeUnauthorized)
		})
	}

	t.Run("query token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?access_token="+token(t, "op-1", auth.RoleOperator), nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		wantStatus(t, rec, http.StatusOK)
	})
}

func TestDeviceHistory(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Hotel")
	operator := token(t, "op-1", auth.RoleOperator)

	for _, rssi := range []int{-70, -65, -60} {
		wantStatus(t, env.ingest(t, d.ID, map[string]any{"signal_rssi": rssi}), http.StatusOK)
	}

	resp := decode[struct {
		DeviceID string                   `json:"device_id"`
		History  []device.TelemetryRecord `json:"history"`
	}](t, env.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/history?limit=2", operator, nil))
	if resp.DeviceID != d.ID {
		t.Errorf("device_id = %q", resp.DeviceID)
	}
	if len(resp.History) != 2 {
		t.Fatalf("history = %d records, want 2", len(resp.History))
	}
	if *resp.History[0].SignalRSSI != -60 {
		t.Errorf("newest rssi = %d, want -60", *resp.History[0].SignalRSSI)
	}

	wantErrorCode(t, env.do(t, http.MethodGet, "/api/v1/devices/"+d.ID+"/history?limit=ten", operator, nil),
		http.StatusBadRequest, ErrCodeValidation)
	wantErrorCode(t, env.do(t, http.MethodGet, "/api/v1/devices/missing/history", operator, nil),
		http.StatusNotFound, ErrCodeNotFound)
}

func TestListLogs(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "India")
	other := env.seedDevice(t, "Juliet")
	operator := token(t, "op-1", auth.RoleOperator)

	// UNKNOWN -> ONLINE -> OFFLINE -> ONLINE gives STATUS_CHANGE, DISCONNECTED, CONNECTED.
	for _, status := range []string{"ONLINE", "OFFLINE", "ONLINE"} {
		wantStatus(t, env.ingest(t, d.ID, map[string]any{"status": status}), http.StatusOK)
	}
	wantStatus(t, env.ingest(t, other.ID, map[string]any{"status": "UNSTABLE"}), http.StatusOK)

	page := decode[eventlog.Page](t, env.do(t, http.MethodGet, "/api/v1/logs?per_page=2", operator, nil))
	if page.Pagination.TotalItems != 4 || page.Pagination.TotalPages != 2 || !page.Pagination.HasNext {
		t.Errorf("pagination = %+v", page.Pagination)
	}
	if len(page.Events) != 2 || page.Events[0].EventType != eventlog.EventStatusChange {
		t.Errorf("first page = %+v", page.Events)
	}

	filtered := decode[eventlog.Page](t, env.do(t, http.MethodGet,
		"/api/v1/logs?device_id="+d.ID+"&event_type=connected", operator, nil))
	if filtered.Pagination.TotalItems != 1 {
		t.Errorf("filtered total = %d, want 1", filtered.Pagination.TotalItems)
	}
	for _, e := range filtered.Events {
		if e.EventType != eventlog.EventConnected || e.DeviceName != "India" {
			t.Errorf("unexpected event %+v", e)
		}
	}

	wantErrorCode(t, env.do(t, http.MethodGet, "/api/v1/logs?event_type=EXPLODED", operator, nil),
		http.StatusBadRequest, ErrCodeValidation)
	wantErrorCode(t, env.do(t, http.MethodGet, "/api/v1/logs?page=first", operator, nil),
		http.StatusBadRequest, ErrCodeValidation)
}

func TestAlerts_ListAndAcknowledge(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Kilo")
	operator := token(t, "op-7", auth.RoleOperator)

	a := &alert.Alert{Severity: alert.SeverityWarning, Message: "Kilo latency high", DeviceID: &d.ID}
	if err := alert.NewSQLiteRepository(env.db).Create(context.Background(), a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	list := decode[struct {
		Alerts []alert.Alert `json:"alerts"`
	}](t, env.do(t, http.MethodGet, "/api/v1/alerts", operator, nil))
	if len(list.Alerts) != 1 || list.Alerts[0].ID != a.ID || list.Alerts[0].DeviceName != "Kilo" {
		t.Fatalf("alerts = %+v", list.Alerts)
	}

	alias := decode[struct {
		Alerts []alert.Alert `json:"alerts"`
	}](t, env.do(t, http.MethodGet, "/api/v1/alerts/unacknowledged", operator, nil))
	if len(alias.Alerts) != 1 || alias.Alerts[0].ID != a.ID {
		t.Fatalf("unacknowledged alerts = %+v", alias.Alerts)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", operator, nil)
	wantStatus(t, rec, http.StatusOK)
	acked := decode[alert.Alert](t, rec)
	if !acked.IsAcknowledged || acked.AcknowledgedBy == nil || *acked.AcknowledgedBy != "op-7" {
		t.Errorf("acknowledged = %+v", acked)
	}

	// Repeating the acknowledgment changes nothing.
	again := decode[alert.Alert](t, env.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", operator, nil))
	if !again.AcknowledgedAt.Equal(*acked.AcknowledgedAt) {
		t.Errorf("acknowledged_at changed: %v -> %v", acked.AcknowledgedAt, again.AcknowledgedAt)
	}

	list = decode[struct {
		Alerts []alert.Alert `json:"alerts"`
	}](t, env.do(t, http.MethodGet, "/api/v1/alerts", operator, nil))
	if len(list.Alerts) != 0 {
		t.Errorf("alerts after ack = %d, want 0", len(list.Alerts))
	}

	wantErrorCode(t, env.do(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", operator, nil),
		http.StatusNotFound, ErrCodeNotFound)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	wantStatus(t, rec, http.StatusOK)
	resp := decode[healthResponse](t, rec)
	if resp.Status != "ok" || resp.Checks["database"] != "ok" || resp.Checks["mqtt"] != "disabled" {
		t.Errorf("health = %+v", resp)
	}

	if err := env.db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	rec = env.do(t, http.MethodGet, "/health", "", nil)
	wantStatus(t, rec, http.StatusServiceUnavailable)
}

func TestSystemMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "Lima")

	rec := env.do(t, http.MethodGet, "/api/v1/system", "", nil)
	wantStatus(t, rec, http.StatusOK)
	resp := decode[SystemMetrics](t, rec)
	if resp.Devices.Total != 1 || resp.Devices.ByStatus["UNKNOWN"] != 1 {
		t.Errorf("devices = %+v", resp.Devices)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q", resp.Version)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	wantStatus(t, rec, http.StatusOK)
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil, headerRequestID, "req-42")
	if got := rec.Header().Get(headerRequestID); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want echoed value", got)
	}
	rec = env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Header().Get(headerRequestID) == "" {
		t.Error("X-Request-ID should be generated")
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://console.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("preflight should allow the origin")
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := newTestEnv(t)
	handler := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	wantErrorCode(t, rec, http.StatusInternalServerError, ErrCodeInternal)
}

func TestMiddleware_BodyLimit(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "Mike")

	huge := `{"status":"ONLINE","pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	wantErrorCode(t, env.ingest(t, d.ID, huge), http.StatusBadRequest, ErrCodeValidation)
}
