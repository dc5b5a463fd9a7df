// PortaCool Apex bridge.
//
// Polls a PortaCool Apex evaporative cooler through the vendor cloud,
// throttling reads while the cooler is off, and exposes its state and
// controls over MQTT and a REST/WebSocket API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/portacool-apex/migrations"

	"github.com/nerrad567/portacool-apex/internal/api"
	"github.com/nerrad567/portacool-apex/internal/bridge"
	"github.com/nerrad567/portacool-apex/internal/history"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/database"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/influxdb"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/logging"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/mqtt"
	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
	"github.com/nerrad567/portacool-apex/internal/portacool/entity"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting PortaCool Apex bridge",
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

	// Cloud access
	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	endpoints := cloud.EndpointsFromConfig(cfg.Cloud)
	creds, err := cloud.NewCredentials(cloud.CredentialsOptions{
		HTTPClient:     httpClient,
		Endpoints:      endpoints,
		Username:       cfg.Cloud.Username,
		Password:       cfg.Cloud.Password,
		IdentityAPIKey: cfg.Cloud.IdentityAPIKey,
		Logger:         log.With("component", "cloud"),
	})
	if err != nil {
		return fmt.Errorf("creating credentials: %w", err)
	}

	if cfg.Device.UniqueID == "" {
		if err := setupDevice(ctx, cfg, creds, httpClient, endpoints, log); err != nil {
			return err
		}
	}

	client, err := cloud.NewClient(cloud.ClientOptions{
		HTTPClient:   httpClient,
		Credentials:  creds,
		Endpoints:    endpoints,
		UniqueID:     cfg.Device.UniqueID,
		DeviceTypeID: cfg.Device.DeviceTypeID,
		Logger:       log.With("component", "cloud"),
	})
	if err != nil {
		return fmt.Errorf("creating cloud client: %w", err)
	}
	deviceID := client.UniqueID()

	// Polling and command reconciliation
	coord, err := coordinator.New(coordinator.Options{
		Source:         client,
		PowerDatapoint: cfg.Device.Datapoints.Power,
		PowerOffValue:  entity.PowerOffValue,
		PollInterval:   cfg.PollInterval(),
		OfflineRefresh: cfg.OfflineRefresh(),
		Logger:         log.With("component", "coordinator"),
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	reconciler, err := coordinator.NewReconciler(coordinator.ReconcilerOptions{
		Invoker:      client,
		Coordinator:  coord,
		Grace:        cfg.CommandGrace(),
		ForceRefresh: cfg.ForceRefreshWindow(),
		Logger:       log.With("component", "reconciler"),
	})
	if err != nil {
		return fmt.Errorf("creating reconciler: %w", err)
	}

	view, err := entity.New(entity.Options{
		Reader:     reconciler,
		Snapshots:  coord,
		Datapoints: cfg.Device.Datapoints,
		UniqueID:   deviceID,
		Name:       cfg.Device.Name,
		Model:      cfg.Device.Model,
		FanCFMMax:  cfg.Device.FanCFMMax,
	})
	if err != nil {
		return fmt.Errorf("creating entity view: %w", err)
	}
	// The view observes first so airflow tracking sees each snapshot
	// before anything renders it.
	defer coord.AddListener(func(coordinator.Update) { view.Observe() })()

	if err := coord.FirstRefresh(ctx); err != nil {
		return fmt.Errorf("first refresh: %w", err)
	}
	log.Info("first refresh complete", "device_id", deviceID)

	// History (optional)
	var db *database.DB
	var repo *history.Repository
	if cfg.History.Enabled {
		db, err = database.Open(cfg.Database)
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

		repo = history.NewRepository(db.DB)
		recorder := history.NewRecorder(history.RecorderOptions{
			Repository: repo,
			DeviceID:   deviceID,
			Retention:  cfg.HistoryRetention(),
			PruneEvery: cfg.HistoryPruneInterval(),
			Logger:     log.With("component", "history"),
		})
		defer coord.AddListener(recorder.OnUpdate)()
		go recorder.Run(ctx)
	} else {
		log.Info("history disabled")
	}

	// InfluxDB (optional)
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
		defer coord.AddListener(telemetryWriter(influxClient, view, cfg.Device.Model))()
	} else {
		log.Info("InfluxDB disabled")
	}

	dispatcherOpts := bridge.DispatcherOptions{
		Commander:  reconciler,
		DeviceID:   deviceID,
		Datapoints: cfg.Device.Datapoints,
		Logger:     log.With("component", "dispatcher"),
	}
	if repo != nil {
		dispatcherOpts.History = repo
	}
	dispatcher, err := bridge.NewDispatcher(dispatcherOpts)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	// MQTT (optional)
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

		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		if err := startBridge(ctx, cfg, mqttClient, dispatcher, view, coord, deviceID, log); err != nil {
			return err
		}
	} else {
		log.Info("MQTT disabled")
	}

	// REST and WebSocket API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.With("component", "api"),
			Coordinator: coord,
			State:       view,
			Dispatcher:  dispatcher,
			Credentials: creds,
			AppConfig:   cfg,
			Version:     version,
		}
		if repo != nil {
			deps.History = repo
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, polling",
		"poll_interval", coord.PollInterval(),
		"offline_refresh", coord.OfflineRefresh(),
	)
	coord.Run(ctx)

	log.Info("shutdown signal received, cleaning up")
	log.Info("PortaCool Apex bridge stopped")
	return nil
}

// setupDevice discovers the account's devices and adopts the first one
// into cfg.Device.
func setupDevice(ctx context.Context, cfg *config.Config, creds *cloud.Credentials, httpClient *http.Client, endpoints cloud.Endpoints, log *logging.Logger) error {
	discovery, err := cloud.NewClient(cloud.ClientOptions{
		HTTPClient:  httpClient,
		Credentials: creds,
		Endpoints:   endpoints,
		Logger:      log.With("component", "cloud"),
	})
	if err != nil {
		return fmt.Errorf("creating discovery client: %w", err)
	}

	result, err := cloud.Setup(ctx, discovery)
	if err != nil {
		log.Error("device setup failed", "reason", cloud.ClassifySetupError(err), "error", err)
		return fmt.Errorf("device setup: %w", err)
	}

	applySetup(&cfg.Device, result)
	log.Info("device discovered",
		"title", result.Title,
		"device_type_id", cfg.Device.DeviceTypeID,
	)
	return nil
}

// applySetup copies a discovered device into the device config. Name and
// model already configured are kept.
func applySetup(dev *config.DeviceConfig, result *cloud.SetupResult) {
	dev.UniqueID = result.Device.UniqueID
	dev.DeviceTypeID = result.Device.DeviceTypeID
	if dev.Name == "" {
		dev.Name = result.Device.DeviceName
	}
	if dev.Model == "" {
		dev.Model = result.Device.ModelNumber
	}
}

// startBridge starts the MQTT command bridge and the health reporter.
// Both stop when ctx is cancelled.
func startBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, dispatcher *bridge.Dispatcher, view *entity.View, coord *coordinator.Coordinator, deviceID string, log *logging.Logger) error {
	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}

	b, err := bridge.New(bridge.Options{
		MQTT:       mqttClient,
		Topics:     topics,
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		DeviceID:   deviceID,
		Dispatcher: dispatcher,
		State:      view,
		Logger:     log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	remove := coord.AddListener(b.OnUpdate)
	context.AfterFunc(ctx, func() {
		remove()
		b.Stop()
	})
	log.Info("MQTT bridge started",
		"state_topic", topics.State(deviceID),
		"command_topic", topics.Command(deviceID),
	)

	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Version:    version,
		DeviceID:   deviceID,
		Topics:     topics,
		Publisher:  mqttClient,
		Status:     coord,
		Dispatcher: dispatcher,
		Logger:     log.With("component", "health"),
	})
	health.Start(ctx)
	context.AfterFunc(ctx, health.Stop)
	return nil
}

// telemetryWriter returns a coordinator listener that writes each network
// refresh to InfluxDB.
func telemetryWriter(client *influxdb.Client, view *entity.View, model string) func(coordinator.Update) {
	return func(u coordinator.Update) {
		if !u.Network || u.Err != nil {
			return
		}
		state := view.State()
		client.WriteTelemetry(state.DeviceID, model, state.Fields(), state.FetchedAt)
	}
}

// getConfigPath returns the configuration file path.
// Uses PORTACOOL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PORTACOOL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the enabled infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection (nil when history is disabled)
//   - mqttClient: MQTT client (nil when MQTT is disabled)
//   - influxClient: InfluxDB client (nil when disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
