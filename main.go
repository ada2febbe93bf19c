package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-callengine/internal/api"
	"crm-callengine/internal/config"
	"crm-callengine/internal/database"
	"crm-callengine/internal/device"
	"crm-callengine/internal/directory"
	"crm-callengine/internal/engine"
	"crm-callengine/internal/mqtt"
	"crm-callengine/internal/phone"
	"crm-callengine/internal/reporter"
	"crm-callengine/internal/resolver"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		help        = flag.Bool("help", false, "Show help")
		configTest  = flag.Bool("config-test", false, "Test configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("crm-callengine %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *help {
		printUsage()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *configTest {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	log.Printf("Starting crm-callengine %s...", version)
	log.Printf("Backend: %s", cfg.Backend.BaseURL)
	log.Printf("Voice provider: %s", cfg.Provider.WebsocketURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize database client
	dbClient, err := database.NewClient(cfg.Database.DataDir)
	if err != nil {
		log.Fatalf("Failed to create database client: %v", err)
	}
	if err := dbClient.Connect(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database: %s", dbClient.GetDatabasePath())

	if err := dbClient.RunEmbeddedMigrations(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	log.Println("Database migrations completed successfully")

	// Initialize MQTT client
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(
			cfg.MQTT.Broker,
			cfg.MQTT.Port,
			cfg.MQTT.Username,
			cfg.MQTT.Password,
			cfg.MQTT.ClientID,
			cfg.MQTT.TopicPrefix,
			cfg.MQTT.QoS,
		)
	}

	// Initialize the call engine and its collaborators
	normalizer := phone.NewNormalizer(cfg.Dial.CountryCode, cfg.Dial.TrunkDigit, cfg.Dial.Region)
	directoryCache := directory.NewCache(cfg.Backend.BaseURL)
	identityResolver := resolver.New(directoryCache, resolver.NewProbeLookup(cfg.Backend.BaseURL))
	deviceManager := device.NewManager(device.Config{
		TokenURL:        cfg.TokenURL(),
		ProviderURL:     cfg.Provider.WebsocketURL,
		InputDeviceID:   cfg.Provider.InputDeviceID,
		RefreshInterval: cfg.Provider.RefreshInterval,
	})

	engineConfig := engine.Config{
		Normalizer:  normalizer,
		Resolver:    identityResolver,
		Device:      deviceManager,
		Reporter:    reporter.New(cfg.Backend.BaseURL),
		Store:       dbClient,
		HistorySize: cfg.App.CallHistorySize,
		Guard: engine.GuardConfig{
			FreshClickWindow:   cfg.Guard.FreshClickWindow,
			GlobalCooldown:     cfg.Guard.GlobalCooldown,
			FreshClickCooldown: cfg.Guard.FreshClickCooldown,
			NumberCooldown:     cfg.Guard.NumberCooldown,
			TypingWindow:       cfg.Guard.TypingWindow,
			HardBlockWindow:    cfg.Guard.HardBlockWindow,
		},
	}
	if mqttClient != nil {
		engineConfig.Publisher = mqttClient
	}
	callEngine := engine.New(engineConfig)

	var broker api.BrokerStatus
	if mqttClient != nil {
		broker = mqttClient
	}
	apiServer := api.NewServer(callEngine, dbClient, deviceManager, broker, cfg.API.Port, cfg.API.Secret)

	app := &Application{
		config:         cfg,
		mqttClient:     mqttClient,
		dbClient:       dbClient,
		directoryCache: directoryCache,
		deviceManager:  deviceManager,
		engine:         callEngine,
		apiServer:      apiServer,
		ctx:            ctx,
	}

	go func() {
		if err := app.Run(); err != nil {
			log.Printf("Application error: %v", err)
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	case <-ctx.Done():
		log.Println("Context cancelled, shutting down...")
	}

	app.Shutdown()
	log.Println("crm-callengine stopped")
}

// Application holds all application components
type Application struct {
	config         *config.Config
	mqttClient     *mqtt.Client
	dbClient       *database.Client
	directoryCache *directory.Cache
	deviceManager  *device.Manager
	engine         *engine.Engine
	apiServer      *api.Server
	ctx            context.Context
}

// Run starts the main application loop
func (app *Application) Run() error {
	if app.mqttClient != nil {
		log.Println("Connecting to MQTT broker...")
		if err := app.mqttClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	}

	// Warm the directory cache and keep it fresh in the background
	if err := app.directoryCache.Refresh(app.ctx); err != nil {
		log.Printf("Initial directory load failed: %v", err)
	}
	go app.refreshDirectory()

	go func() {
		if err := app.apiServer.Start(); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	// Device session loop with retry logic. A lost provider connection
	// leaves the manager in an error state; EnsureDevice re-initializes.
	for {
		select {
		case <-app.ctx.Done():
			return nil
		default:
		}

		log.Println("Connecting to voice provider...")
		if err := app.deviceManager.EnsureDevice(app.ctx); err != nil {
			log.Printf("Failed to initialize device session: %v", err)
			log.Printf("Retrying in %v...", app.config.App.ReconnectDelay)

			select {
			case <-time.After(app.config.App.ReconnectDelay):
				continue
			case <-app.ctx.Done():
				return nil
			}
		}

		log.Println("Device session ready, processing provider events")
		app.engine.Run(app.ctx)

		if app.ctx.Err() != nil {
			return nil
		}

		log.Printf("Provider connection lost, reconnecting in %v...", app.config.App.ReconnectDelay)
		select {
		case <-time.After(app.config.App.ReconnectDelay):
		case <-app.ctx.Done():
			return nil
		}
	}
}

// refreshDirectory periodically reloads people and accounts from the backend.
func (app *Application) refreshDirectory() {
	ticker := time.NewTicker(app.config.App.DirectoryRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			if err := app.directoryCache.Refresh(app.ctx); err != nil {
				log.Printf("Directory refresh failed: %v", err)
			}
		}
	}
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() {
	log.Println("Shutting down application...")

	// Any live call is torn down before the device session goes away.
	app.engine.EndCall()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping API server: %v", err)
	}

	app.deviceManager.Shutdown()

	if app.mqttClient != nil {
		app.mqttClient.Disconnect()
	}

	if app.dbClient != nil {
		if err := app.dbClient.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
}

func printUsage() {
	fmt.Printf(`Usage: crm-callengine [OPTIONS]

CRM Call Session Engine - places and receives calls through a realtime voice
provider, resolves caller identity against the CRM, and publishes call
lifecycle events.

Options:
  -version       Show version information
  -help          Show this help message
  -config-test   Test configuration and exit

Configuration via Environment Variables:
  CALLENGINE_BACKEND_BASE_URL           CRM backend base URL (default: http://localhost:3000)
  CALLENGINE_PROVIDER_WEBSOCKET_URL     Voice provider websocket URL (default: ws://localhost:4443/voice)
  CALLENGINE_PROVIDER_TOKEN_PATH        Credential endpoint path (default: /voice/token)
  CALLENGINE_PROVIDER_INPUT_DEVICE_ID   Preferred input device (default: default)
  CALLENGINE_DIAL_COUNTRY_CODE          Country code for 10-digit numbers (default: 1)
  CALLENGINE_DIAL_TRUNK_DIGIT           Trunk digit stripped from 11-digit numbers (default: 1)
  CALLENGINE_DIAL_REGION                ISO region for display formatting (default: US)
  CALLENGINE_MQTT_ENABLED               Publish events over MQTT (default: true)
  CALLENGINE_MQTT_BROKER                MQTT broker hostname (default: localhost)
  CALLENGINE_MQTT_PORT                  MQTT broker port (default: 1883)
  CALLENGINE_MQTT_USERNAME              MQTT username (optional)
  CALLENGINE_MQTT_PASSWORD              MQTT password (optional)
  CALLENGINE_MQTT_CLIENT_ID             MQTT client ID (default: crm-callengine)
  CALLENGINE_MQTT_TOPIC_PREFIX          MQTT topic prefix (default: callengine)
  CALLENGINE_MQTT_QOS                   MQTT QoS level (default: 1)
  CALLENGINE_API_PORT                   Local API port (default: 8080)
  CALLENGINE_API_SECRET                 Shared secret for API requests (optional)
  CALLENGINE_APP_CALL_HISTORY_SIZE      Call history size (default: 50)
  CALLENGINE_APP_RECONNECT_DELAY        Provider reconnect delay (default: 10s)
  CALLENGINE_APP_DIRECTORY_REFRESH      Directory cache refresh interval (default: 15m)
  CALLENGINE_DATABASE_DATA_DIR          Database data directory (default: ./data)

MQTT Topics:
  {prefix}/status                  - Current engine state (retained)
  {prefix}/history                 - Recent calls as JSON (retained)
  {prefix}/events/{event_type}     - Individual call events

Examples:
  crm-callengine                                    # Run with defaults
  crm-callengine -version                           # Show version
  crm-callengine -config-test                       # Test configuration

  # Against a staging backend
  CALLENGINE_BACKEND_BASE_URL=https://staging.example.com crm-callengine

`)
}
