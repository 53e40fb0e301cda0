package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/unitlink/unitlink-core/internal/alert"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/eventlog"
	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
	"github.com/unitlink/unitlink-core/internal/infrastructure/logging"
	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
	"github.com/unitlink/unitlink-core/internal/notify"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Ingester accepts device reports. *telemetry.Ingestor implements it.
type Ingester interface {
	Ingest(ctx context.Context, deviceID string, report telemetry.Report) (*telemetry.Result, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	DB       *database.DB
	Ingestor Ingester
	Broker   *notify.Broker
	MQTT     *mqtt.Client // optional, reported by /health only
	Version  string
}

// Server is the HTTP API server for UnitLink Core.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	db         *database.DB
	devices    *device.SQLiteRepository
	history    *device.SQLiteTelemetryRepository
	events     *eventlog.SQLiteRepository
	alerts     *alert.SQLiteRepository
	ingestor   Ingester
	broker     *notify.Broker
	mqtt       *mqtt.Client
	hub        *Hub
	version    string
	startTime  time.Time
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		db:         deps.DB,
		devices:    device.NewSQLiteRepository(deps.DB),
		history:    device.NewSQLiteTelemetryRepository(deps.DB),
		events:     eventlog.NewSQLiteRepository(deps.DB),
		alerts:     alert.NewSQLiteRepository(deps.DB),
		ingestor:   deps.Ingestor,
		broker:     deps.Broker,
		mqtt:       deps.MQTT,
		hub:        NewHub(deps.WS, deps.Logger),
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the websocket hub against the broker and launches the HTTP
// listener in a background goroutine. Stop it with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx, s.broker)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the hub and gracefully shuts down the HTTP server, waiting
// up to gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
