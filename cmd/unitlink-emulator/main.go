// UnitLink device emulator.
//
// Posts randomized status reports for a set of device IDs at a fixed
// interval, over HTTP (with the shared device API key) or MQTT. Useful for
// exercising the ingest pipeline and dashboards without field hardware.
//
// Usage:
//
//	unitlink-emulator -devices id1,id2 -api-key secret
//	unitlink-emulator -transport mqtt -mqtt-host localhost -devices id1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
	"github.com/unitlink/unitlink-core/internal/infrastructure/logging"
	"github.com/unitlink/unitlink-core/internal/infrastructure/mqtt"
)

var version = "dev"

const (
	transportHTTP = "http"
	transportMQTT = "mqtt"
)

type options struct {
	transport  string
	interval   time.Duration
	deviceIDs  []string
	maxRounds  int
	sendJitter time.Duration
	seed       uint64
	logLevel   string

	baseURL string
	apiKey  string
	timeout time.Duration

	mqttHost   string
	mqttPort   int
	mqttUseTLS bool
	mqttClient string
	mqttUser   string
	mqttPass   string
	mqttPrefix string
	mqttQoS    int
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var o options
	var devices string
	fs := flag.NewFlagSet("unitlink-emulator", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&o.transport, "transport", transportHTTP, "report transport: http or mqtt")
	fs.DurationVar(&o.interval, "interval", 15*time.Second, "time between report rounds")
	fs.StringVar(&devices, "devices", os.Getenv("UNITLINK_EMULATOR_DEVICES"), "comma-separated device IDs")
	fs.StringVar(&o.baseURL, "url", "http://localhost:8080", "UnitLink API base URL (http transport)")
	fs.StringVar(&o.apiKey, "api-key", os.Getenv("UNITLINK_DEVICE_API_KEY"), "device API key (http transport)")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "per-request timeout (http transport)")
	fs.StringVar(&o.mqttHost, "mqtt-host", "localhost", "MQTT broker host")
	fs.IntVar(&o.mqttPort, "mqtt-port", 1883, "MQTT broker port")
	fs.BoolVar(&o.mqttUseTLS, "mqtt-tls", false, "use TLS for MQTT")
	fs.StringVar(&o.mqttClient, "mqtt-client-id", "unitlink-emulator", "MQTT client ID")
	fs.StringVar(&o.mqttUser, "mqtt-username", os.Getenv("UNITLINK_MQTT_USERNAME"), "MQTT username")
	fs.StringVar(&o.mqttPass, "mqtt-password", os.Getenv("UNITLINK_MQTT_PASSWORD"), "MQTT password")
	fs.StringVar(&o.mqttPrefix, "mqtt-prefix", "unitlink/telemetry", "MQTT telemetry topic prefix")
	fs.IntVar(&o.mqttQoS, "mqtt-qos", 1, "MQTT QoS level")
	fs.Uint64Var(&o.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	fs.IntVar(&o.maxRounds, "rounds", 0, "stop after this many rounds (0 runs forever)")
	fs.DurationVar(&o.sendJitter, "jitter", 400*time.Millisecond, "maximum pause between devices in a round")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	for _, id := range strings.Split(devices, ",") {
		if id = strings.TrimSpace(id); id != "" {
			o.deviceIDs = append(o.deviceIDs, id)
		}
	}

	switch {
	case len(o.deviceIDs) == 0:
		return o, errors.New("at least one device ID is required (-devices)")
	case o.interval <= 0:
		return o, errors.New("interval must be positive")
	case o.transport != transportHTTP && o.transport != transportMQTT:
		return o, fmt.Errorf("unknown transport %q (want http or mqtt)", o.transport)
	case o.transport == transportHTTP && o.apiKey == "":
		return o, errors.New("device API key is required for http transport (-api-key)")
	case o.mqttQoS < 0 || o.mqttQoS > 2:
		return o, errors.New("mqtt-qos must be 0, 1, or 2")
	}
	return o, nil
}

func run(ctx context.Context, o options) error {
	log := logging.New(config.LoggingConfig{Level: o.logLevel, Format: "text", Output: "stdout"}, version)

	var s sender
	switch o.transport {
	case transportMQTT:
		client, err := mqtt.Connect(config.MQTTConfig{
			Enabled: true,
			Broker: config.MQTTBrokerConfig{
				Host:     o.mqttHost,
				Port:     o.mqttPort,
				TLS:      o.mqttUseTLS,
				ClientID: o.mqttClient,
			},
			Auth:      config.MQTTAuthConfig{Username: o.mqttUser, Password: o.mqttPass},
			QoS:       o.mqttQoS,
			Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
			Topics:    config.MQTTTopicsConfig{TelemetryPrefix: o.mqttPrefix, StatusPrefix: "unitlink/status"},
		})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer client.Close() //nolint:errcheck // Best-effort disconnect on exit
		client.SetLogger(log)
		s = &mqttSender{client: client, topics: client.Topics(), qos: byte(o.mqttQoS)}
		log.Info("publishing over MQTT", "broker", fmt.Sprintf("%s:%d", o.mqttHost, o.mqttPort))
	default:
		s = newHTTPSender(o.baseURL, o.apiKey, o.timeout)
		log.Info("posting over HTTP", "url", o.baseURL)
	}

	e := &emulator{
		sender:    s,
		gen:       newGenerator(o.seed),
		deviceIDs: o.deviceIDs,
		jitter:    o.sendJitter,
		log:       log,
	}

	log.Info("starting device emulator",
		"devices", len(o.deviceIDs),
		"interval", o.interval,
	)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		sent := e.round(ctx)
		log.Info("report round sent", "round", round, "accepted", sent, "devices", len(o.deviceIDs))

		if o.maxRounds > 0 && round >= o.maxRounds {
			return nil
		}
		select {
		case <-ctx.Done():
			log.Info("emulator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// emulator sends one randomized report per device each round.
type emulator struct {
	sender    sender
	gen       *generator
	deviceIDs []string
	jitter    time.Duration
	log       *logging.Logger
}

// round reports every device once in random order and returns how many
// reports were accepted.
func (e *emulator) round(ctx context.Context) int {
	ids := append([]string(nil), e.deviceIDs...)
	e.gen.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	sent := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			return sent
		}
		status := e.gen.pickStatus()
		if err := e.sender.Send(ctx, id, e.gen.report(status)); err != nil {
			e.log.Warn("report failed", "device_id", id, "status", status, "error", err)
		} else {
			sent++
			e.log.Debug("report sent", "device_id", id, "status", status)
		}

		if e.jitter > 0 && i < len(ids)-1 {
			pause := time.Duration(e.gen.rnd.Int64N(int64(e.jitter)))
			select {
			case <-ctx.Done():
				return sent
			case <-time.After(pause):
			}
		}
	}
	return sent
}
