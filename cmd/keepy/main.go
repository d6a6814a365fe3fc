// File: cmd/keepy/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/config"
	"github.com/whalez0416/keepy/internal/detector"
	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/internal/moderation"
	"github.com/whalez0416/keepy/internal/scanner"
	"github.com/whalez0416/keepy/internal/scheduler"
	"github.com/whalez0416/keepy/internal/server"
	"github.com/whalez0416/keepy/internal/storage"
	"github.com/whalez0416/keepy/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "2.0.0"

// Application represents the monitor service
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	storage    storage.Storage
	client     *bridge.Client
	detector   *detector.Detector
	scanner    *scanner.Scanner
	scheduler  *scheduler.Scheduler
	moderation *moderation.Service
	metrics    *metrics.Manager
	server     *server.HTTPServer
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.metrics = metrics.NewManager()
	prom := app.metrics.GetPrometheusMetrics()
	app.storage = storage.NewStorageWithMetrics(app.storage, app.metrics)

	app.client = bridge.NewClient(&bridge.ClientConfig{
		StatusTimeout: app.config.Bridge.StatusTimeout,
		CallTimeout:   app.config.Bridge.CallTimeout,
		FetchTimeout:  app.config.Bridge.FetchTimeout,
		UserAgent:     app.config.Bridge.UserAgent,
	})
	app.client.SetMetrics(prom)

	app.detector = detector.NewDetector(&detector.Config{
		Keywords:         app.config.Detector.Keywords,
		KeywordWeight:    app.config.Detector.KeywordWeight,
		EntropyWeight:    app.config.Detector.EntropyWeight,
		PhoneWeight:      app.config.Detector.PhoneWeight,
		EntropyThreshold: app.config.Detector.EntropyThreshold,
		SpamThreshold:    app.config.Detector.SpamThreshold,
	})

	app.scanner = scanner.New(&scanner.Config{
		BatchSize:   app.config.Scanner.BatchSize,
		LookbackMax: app.config.Scanner.LookbackMax,
	}, app.storage, app.client, app.detector, prom)

	app.scheduler = scheduler.New(&scheduler.Config{
		TickInterval:  app.config.Scheduler.TickInterval,
		Workers:       int64(app.config.Scheduler.Workers),
		SweepTimeout:  app.config.Scheduler.SweepTimeout,
		HealthTimeout: 5 * time.Second,
	}, app.storage, app.scanner, app.client, prom)

	app.moderation = moderation.NewService(app.storage, app.client, prom)

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	storageCfg := &storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	}
	if err := storage.ValidateStorageConfig(storageCfg); err != nil {
		return err
	}

	store, err := storage.NewStorage(storageCfg)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = store
	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		Version:       AppVersion,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.storage, app.scheduler,
		app.moderation, app.client, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting Keepy monitor")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"tick_interval":  app.config.Scheduler.TickInterval.String(),
	}).Info("Keepy monitor started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping Keepy monitor")

	app.scheduler.Stop()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Keepy monitor stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "keepy",
	Short:   "Keepy remote board spam monitor",
	Long:    `Keepy watches third-party bulletin boards through signed bridge endpoints, detects spam postings, and records every detection as an auditable event.`,
	Version: AppVersion,
	RunE:    runMonitor,
}

// runMonitor is the main command to run the monitor
func runMonitor(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Keepy %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Tick interval: %s\n", cfg.Scheduler.TickInterval)
		fmt.Printf("Spam threshold: %.2f\n", cfg.Detector.SpamThreshold)

		return nil
	},
}

// testCmd tests connectivity and configuration
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test storage connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("Storage connection successful")

		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
