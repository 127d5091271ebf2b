// Voltson Proxy - transparent cloud proxy for Etekcity Voltson outlets
//
// The proxy sits between the outlets and the vendor cloud: point the
// firmware's DNS at this machine and every device session is bridged
// to the real endpoint, validated frame by frame, mirrored into an
// authoritative local state, and made controllable through a local HTTP
// API - with the stock mobile app still working.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/voltson-proxy/migrations"

	"github.com/nerrad567/voltson-proxy/internal/api"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/config"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/database"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/influxdb"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/logging"
	"github.com/nerrad567/voltson-proxy/internal/infrastructure/mqtt"
	"github.com/nerrad567/voltson-proxy/internal/outlet"
	"github.com/nerrad567/voltson-proxy/internal/proxy"
	"github.com/nerrad567/voltson-proxy/internal/telemetry"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Voltson proxy",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations
	db, err := database.Open(database.Config{
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

	// Connect to MQTT broker (optional)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device registry with the telemetry recorder attached to every
	// state it creates.
	registry := outlet.NewRegistry()
	registry.SetLogger(log)

	store := telemetry.NewStore(db)
	recorder := telemetry.NewRecorder(store, influxClient, mqttClient, log)
	defer func() {
		log.Info("stopping telemetry recorder")
		recorder.Close()
	}()
	registry.SetOnCreate(recorder.Attach)

	// Device-facing proxy listener
	proxyServer, err := proxy.New(proxy.Deps{
		Config:   cfg.Proxy,
		Logger:   log,
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("creating proxy server: %w", err)
	}
	proxyServer.Start()
	defer func() {
		log.Info("stopping proxy listener")
		if closeErr := proxyServer.Close(); closeErr != nil {
			log.Error("error closing proxy listener", "error", closeErr)
		}
	}()
	log.Info("proxy listening",
		"address", fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port),
		"path", cfg.Proxy.Path,
		"remote", cfg.Proxy.RemoteURL,
	)

	// HTTP control surface
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Outlets:  cfg.Outlets,
		Logger:   log,
		Registry: registry,
		Store:    store,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, proxy listener, recorder, InfluxDB, MQTT, database.

	log.Info("Voltson proxy stopped")
	return nil
}

// getConfigPath returns the configuration file path, honouring
// VOLTSON_CONFIG when set.
func getConfigPath() string {
	if path := os.Getenv("VOLTSON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
