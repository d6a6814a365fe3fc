// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// BridgeConfig contains bridge client configuration
type BridgeConfig struct {
	StatusTimeout time.Duration `mapstructure:"status_timeout"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// ScannerConfig contains incremental scan configuration
type ScannerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	LookbackMax  time.Duration `mapstructure:"lookback_max"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DetectorConfig contains spam judgment configuration
type DetectorConfig struct {
	Keywords         []string `mapstructure:"keywords"`
	KeywordWeight    float64  `mapstructure:"keyword_weight"`
	EntropyWeight    float64  `mapstructure:"entropy_weight"`
	PhoneWeight      float64  `mapstructure:"phone_weight"`
	EntropyThreshold float64  `mapstructure:"entropy_threshold"`
	SpamThreshold    float64  `mapstructure:"spam_threshold"`
}

// SchedulerConfig contains sweep scheduling configuration
type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	Workers         int           `mapstructure:"workers"`
	SweepTimeout    time.Duration `mapstructure:"sweep_timeout"`
	DefaultInterval int           `mapstructure:"default_interval"` // minutes
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("KEEPY")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "keepy")
	viper.SetDefault("app.version", "2.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/keepy.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Bridge client defaults
	viper.SetDefault("bridge.status_timeout", "5s")
	viper.SetDefault("bridge.call_timeout", "10s")
	viper.SetDefault("bridge.fetch_timeout", "15s")
	viper.SetDefault("bridge.user_agent", "keepy-monitor/2.0")

	// Scanner defaults
	viper.SetDefault("scanner.batch_size", 100)
	viper.SetDefault("scanner.lookback_max", "168h") // 7 days
	viper.SetDefault("scanner.fetch_timeout", "15s")

	// Detector defaults
	viper.SetDefault("detector.keywords", []string{"카지노", "바다이야기", "도박", "슬롯", "토토"})
	viper.SetDefault("detector.keyword_weight", 0.8)
	viper.SetDefault("detector.entropy_weight", 0.5)
	viper.SetDefault("detector.phone_weight", 0.4)
	viper.SetDefault("detector.entropy_threshold", 4.5)
	viper.SetDefault("detector.spam_threshold", 0.7)

	// Scheduler defaults
	viper.SetDefault("scheduler.tick_interval", "60s")
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.sweep_timeout", "45s")
	viper.SetDefault("scheduler.default_interval", 5)

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Storage.Type != "sqlite" && c.Storage.Type != "postgres" {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be positive")
	}
	if c.Scheduler.DefaultInterval < 1 || c.Scheduler.DefaultInterval > 10 {
		return fmt.Errorf("scheduler default interval must be between 1 and 10 minutes")
	}
	if c.Detector.SpamThreshold <= 0 || c.Detector.SpamThreshold > 1 {
		return fmt.Errorf("detector spam threshold must be in (0, 1]")
	}
	if c.Scanner.BatchSize <= 0 {
		return fmt.Errorf("scanner batch size must be positive")
	}
	return nil
}
