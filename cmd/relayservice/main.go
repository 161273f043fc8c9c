// Relay Service - battery cabinet relay controller
//
// This is the main entry point. It drives the relay outputs from MQTT
// commands, runs the timed precharge sequence, and forces every relay off
// while the hardware kill switch is pressed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/SunshadeCorp/relay-service/migrations"

	"github.com/SunshadeCorp/relay-service/internal/api"
	"github.com/SunshadeCorp/relay-service/internal/bridge"
	"github.com/SunshadeCorp/relay-service/internal/broker"
	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/hardware"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/config"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/database"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/influxdb"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/logging"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
	"github.com/SunshadeCorp/relay-service/internal/journal"
	"github.com/SunshadeCorp/relay-service/internal/metrics"
	"github.com/SunshadeCorp/relay-service/internal/relay"
	"github.com/SunshadeCorp/relay-service/internal/safety"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// errFatal marks a shutdown forced by a safety-path failure.
var errFatal = errors.New("fatal relay service error")

func main() {
	configFlag := flag.String("config", "", "path to config file (default $RELAYSERVICE_CONFIG or "+defaultConfigPath+")")
	versionFlag := flag.Bool("version", false, "print version and exit")
	migrateDownFlag := flag.Bool("migrate-down", false, "roll back the latest journal schema migration and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("relayservice %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *migrateDownFlag {
		if err := migrateDown(ctx, getConfigPath(*configFlag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is cancelled or a fatal
// error is reported. Deferred cleanup runs in reverse order of startup.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Linear startup sequence
	log := logging.Default()
	log.Info("starting relay service",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"relays", len(cfg.Relays),
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Managed broker
	var mgr *broker.Manager
	if cfg.Broker.Managed {
		var brokerErr error
		mgr, brokerErr = broker.New(cfg.Broker, cfg.MQTT.Broker.Port)
		if brokerErr != nil {
			return fmt.Errorf("configuring broker: %w", brokerErr)
		}
		mgr.SetLogger(log.Component("broker"))
		mgr.SetOnFailure(func(err error) {
			cancel(fmt.Errorf("%w: broker: %w", errFatal, err))
		})
		if startErr := mgr.Start(ctx); startErr != nil {
			return fmt.Errorf("starting broker: %w", startErr)
		}
		defer func() {
			if stopErr := mgr.Stop(); stopErr != nil {
				log.Error("error stopping broker", "error", stopErr)
			}
		}()
	}

	// Event sinks
	var sinks []event.Sink

	m := metrics.New()
	sinks = append(sinks, m)

	hub := api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
	sinks = append(sinks, hub)

	var (
		db           *database.DB
		journalStore *journal.Store
		influx       *influxdb.Client
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", db.Path())

		journalStore = journal.NewStore(db.DB)
		writer := journal.NewWriter(journalStore, journal.WriterOptions{
			Retention: cfg.RetentionPeriod(),
			Logger:    log.Component("journal"),
		})
		writer.Start(ctx)
		defer func() {
			if closeErr := writer.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
			if dropped := writer.Dropped(); dropped > 0 {
				log.Warn("journal dropped events", "count", dropped)
			}
		}()
		sinks = append(sinks, writer)
	} else {
		log.Info("event journal disabled")
	}

	if cfg.InfluxDB.Enabled {
		var influxErr error
		influx, influxErr = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, continuing without time-series", "error", influxErr)
		} else {
			influx.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			defer func() {
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			sinks = append(sinks, influx)
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	sink := event.Multi(sinks...)

	// Hardware
	backend, err := hardware.Open(cfg.Hardware, log)
	if err != nil {
		return fmt.Errorf("opening hardware: %w", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing hardware", "error", closeErr)
		}
	}()
	log.Info("hardware backend ready", "backend", backend.Name())

	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log.Component("mqtt"))

	registry, err := buildRegistry(cfg, backend, mqttClient, sink, log)
	if err != nil {
		return err
	}

	monitor := safety.NewMonitor(registry, safety.MonitorOptions{
		Publisher: mqttClient,
		Sink:      sink,
		Logger:    log.Component("kill_switch"),
	})
	sequencer := safety.NewSequencer(registry, monitor, safety.SequencerOptions{
		Sink:   sink,
		Logger: log.Component("precharge"),
	})

	b, err := bridge.New(bridge.Options{
		MQTTClient: mqttClient,
		Registry:   registry,
		Monitor:    monitor,
		Sequencer:  sequencer,
		Logger:     log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	// Stop forces every relay off and closes MQTT; it runs before the
	// sinks and hardware are closed.
	defer b.Stop()

	monitor.SetOnFatal(b.ReportFatal)
	go func() {
		select {
		case fatalErr := <-b.Fatal():
			cancel(fmt.Errorf("%w: %w", errFatal, fatalErr))
		case <-ctx.Done():
		}
	}()

	if err := attachKillSwitch(cfg.KillSwitch, backend, monitor); err != nil {
		return err
	}
	log.Info("kill switch attached", "pin", cfg.KillSwitch.Pin, "state", monitor.State())

	m.Seed(registry.Snapshots(), monitor.Unsafe())

	mqttClient.SetOnConnect(func() {
		m.SetMQTTConnected(true)
		b.HandleConnect()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		m.SetMQTTConnected(false)
		log.Warn("MQTT disconnected", "error", err)
	})

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Registry:   registry,
			KillSwitch: monitor,
			Precharge:  sequencer,
			MQTT:       mqttClient,
			Metrics:    m,
			Hub:        hub,
			Version:    version,
		}
		if journalStore != nil {
			deps.Journal = journalStore
			deps.Database = db
		}
		if influx != nil {
			deps.TimeSeries = influx
		}
		if mgr != nil {
			deps.Broker = mgr
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := mqttClient.Connect(ctx); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errFatal) {
			return cause
		}
		if ctx.Err() != nil {
			log.Info("shutdown requested before MQTT connected")
			return nil
		}
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	if cause := context.Cause(ctx); errors.Is(cause, errFatal) {
		log.Error("shutting down after fatal error", "error", cause)
		return cause
	}
	log.Info("shutdown signal received, forcing relays off")
	return nil
}

// migrateDown rolls the journal database back by one migration. The
// service must not be running.
func migrateDown(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	applied, _, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("journal migration rolled back", "path", db.Path(), "applied", len(applied))
	return nil
}

// getConfigPath prefers the -config flag, then RELAYSERVICE_CONFIG, then
// the default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("RELAYSERVICE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRegistry opens one output per configured relay, in ascending relay
// number order.
func buildRegistry(cfg *config.Config, backend hardware.Backend, pub relay.Publisher, sink event.Sink, log *logging.Logger) (*relay.Registry, error) {
	relayLog := log.Component("relay")
	relays := make([]*relay.Relay, 0, len(cfg.Relays))
	for _, number := range cfg.RelayNumbers() {
		rc := cfg.Relays[number]
		out, err := backend.OpenOutput(rc.Pin)
		if err != nil {
			return nil, fmt.Errorf("opening relay %d on pin %d: %w", number, rc.Pin, err)
		}
		relays = append(relays, relay.New(relay.Config{
			Number: number,
			ID:     rc.ID,
			Name:   rc.Name,
			Pin:    rc.Pin,
		}, out, relay.Options{
			Publisher: pub,
			Sink:      sink,
			Logger:    relayLog,
		}))
	}

	registry, err := relay.NewRegistry(relays...)
	if err != nil {
		return nil, fmt.Errorf("building relay registry: %w", err)
	}
	return registry, nil
}

// attachKillSwitch opens the kill-switch input with edge events routed to
// the monitor, then seeds the monitor from the current line level.
func attachKillSwitch(cfg config.KillSwitchConfig, backend hardware.Backend, monitor *safety.Monitor) error {
	bias, err := hardware.ParseBias(cfg.Bias)
	if err != nil {
		return fmt.Errorf("kill switch: %w", err)
	}
	input, err := backend.OpenInput(cfg.Pin, hardware.InputOptions{
		Bias:      bias,
		ActiveLow: cfg.ActiveLow,
		Debounce:  hardware.KillSwitchDebounce,
	}, monitor.HandleEdge)
	if err != nil {
		return fmt.Errorf("opening kill switch on pin %d: %w", cfg.Pin, err)
	}
	monitor.Attach(input)
	return nil
}
