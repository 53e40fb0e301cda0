// UnitLink Core - Device Status & Telemetry Pipeline
//
// This is the main entry point for the UnitLink Core service. It accepts
// status reports from field units over HTTP or MQTT, keeps the device
// registry and telemetry history in SQLite, records events and alerts, and
// fans unit_status_update notifications out to WebSocket, MQTT, Redis and
// InfluxDB consumers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/unitlink/unitlink-core/migrations"

	"github.com/unitlink/unitlink-core/internal/api"
	"github.com/unitlink/unitlink-core/internal/device"
	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
	"github.com/unitlink/unitlink-core/internal/infrastructure/database"
	"github.com/unitlink/unitlink-core/internal/infrastructure/influxdb"
	"github.com/unitlink/unitlink-core/internal/infrastructure/logging"
	"github.com/unitlink/unitlink-core/internal/infrastructure/metrics"
	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
	"github.com/unitlink/unitlink-core/internal/notify"
	"github.com/unitlink/unitlink-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// retentionInterval is how often old telemetry history is pruned.
const retentionInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = issueToken(os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Deferred cleanups run in reverse order: API, MQTT ingest, background
// workers, InfluxDB, Redis, MQTT, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting UnitLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	// Background workers share one context so shutdown can stop and wait
	// for all of them before their clients are closed.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(workerCtx)
		}()
	}

	broker := notify.NewBroker(notify.Config{
		QueueSize:        cfg.Notify.QueueSize,
		SubscriberBuffer: cfg.Notify.SubscriberBuffer,
	}, log)
	spawn(broker.Run)

	ingestor := telemetry.NewIngestor(
		telemetry.NewSQLiteStore(db),
		broker,
		telemetry.Config{
			CommitTimeout: cfg.GetCommitTimeout(),
			Thresholds:    telemetry.ThresholdsFromConfig(cfg.Ingest.Thresholds),
		},
		log,
	)

	var sinks []notify.Sink

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		sinks = append(sinks, notify.NewMQTTSink(mqttClient, mqttClient.Topics()))
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.Redis.Enabled {
		rdb, dialErr := notify.DialRedis(ctx, cfg.Redis)
		if dialErr != nil {
			return fmt.Errorf("connecting to Redis: %w", dialErr)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		log.Info("Redis connected", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.Redis.Channel))
	} else {
		log.Info("Redis relay disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sinks = append(sinks, notify.NewInfluxSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	for _, sink := range sinks {
		spawn(func(ctx context.Context) { notify.RunSink(ctx, broker, sink, log) })
	}

	if days := cfg.Database.TelemetryRetentionDays; days > 0 {
		history := device.NewSQLiteTelemetryRepository(db)
		retention := time.Duration(days) * 24 * time.Hour
		spawn(func(ctx context.Context) {
			pruneTelemetryLoop(ctx, history, retention, retentionInterval, log)
		})
		log.Info("telemetry retention enabled", "days", days)
	}

	// Stop the workers after the API and ingest adapters are closed, and
	// before the clients they deliver through.
	defer func() {
		log.Info("stopping background workers")
		broker.Close()
		stopWorkers()
		workers.Wait()
	}()

	if mqttClient != nil {
		mqttIngest := telemetry.NewMQTTIngest(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS), ingestor, log)
		if startErr := mqttIngest.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT ingest: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT ingest")
			if stopErr := mqttIngest.Stop(); stopErr != nil {
				log.Error("error stopping MQTT ingest", "error", stopErr)
			}
		}()
		log.Info("MQTT ingest started", "topic", mqttClient.Topics().AllTelemetry())
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Metrics:  cfg.Metrics,
		Logger:   log,
		DB:       db,
		Ingestor: ingestor,
		Broker:   broker,
		MQTT:     mqttClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses UNITLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("UNITLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. mqttClient may be
// nil when MQTT is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// telemetryPruner deletes telemetry history recorded before a cutoff.
type telemetryPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// pruneTelemetryLoop prunes once immediately and then every interval until
// ctx is cancelled.
func pruneTelemetryLoop(ctx context.Context, p telemetryPruner, retention, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := pruneTelemetry(ctx, p, retention, time.Now())
		switch {
		case err != nil:
			log.Error("telemetry pruning failed", "error", err)
		case n > 0:
			log.Info("pruned telemetry history", "records", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneTelemetry(ctx context.Context, p telemetryPruner, retention time.Duration, now time.Time) (int64, error) {
	n, err := p.PruneOlderThan(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pruning telemetry: %w", err)
	}
	return n, nil
}
