package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/unitlink/unitlink-core/internal/failure"
	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
	"github.com/unitlink/unitlink-core/internal/notify"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the body of GET /api/v1/system, a JSON view of the
// pipeline for consoles that do not scrape Prometheus.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Notifications notify.Stats   `json:"notifications"`
	Devices       DeviceMetrics  `json:"devices"`
	Database      PoolMetrics    `json:"database"`
}

type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics carries broker stats only when MQTT is enabled.
type MQTTMetrics struct {
	Enabled bool        `json:"enabled"`
	Stats   *mqtt.Stats `json:"stats,omitempty"`
}

// DeviceMetrics counts registered units per connectivity status.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// PoolMetrics is the SQLite connection pool as seen by database/sql.
type PoolMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func readRuntime() RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / bytesPerMB,
		MemoryTotalMB: float64(m.TotalAlloc) / bytesPerMB,
		NumGC:         m.NumGC,
	}
}

func poolMetrics(st sql.DBStats) PoolMetrics {
	return PoolMetrics{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.devices.CountByStatus(r.Context())
	if err != nil {
		s.writeFailure(w, r, failure.Internal("counting devices", err))
		return
	}

	devices := DeviceMetrics{ByStatus: make(map[string]int, len(counts))}
	for status, n := range counts {
		devices.ByStatus[string(status)] = n
		devices.Total += n
	}

	var mq MQTTMetrics
	if s.mqtt != nil {
		st := s.mqtt.Stats()
		mq = MQTTMetrics{Enabled: true, Stats: &st}
	}

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       readRuntime(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		MQTT:          mq,
		Notifications: s.broker.Stats(),
		Devices:       devices,
		Database:      poolMetrics(s.db.Stats()),
	})
}
