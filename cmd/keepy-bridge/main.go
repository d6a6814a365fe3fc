// File: cmd/keepy-bridge/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/whalez0416/keepy/internal/bridgeserver"
	"github.com/whalez0416/keepy/pkg/utils"
)

// AppVersion contains the bridge endpoint version
const AppVersion = "2.0.0"

// rootCmd runs the bridge endpoint
var rootCmd = &cobra.Command{
	Use:     "keepy-bridge",
	Short:   "Keepy bridge endpoint",
	Long:    `Signed HTTP endpoint deployed next to a bulletin-board database. It answers the monitor's status, discovery, fetch and delete actions and holds no credentials from signed requests at rest.`,
	Version: AppVersion,
	RunE:    runBridge,
}

func runBridge(cmd *cobra.Command, args []string) error {
	if err := utils.InitLogger(viper.GetString("log-level"), "json", "stdout", ""); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := utils.GetLogger()

	cfg := bridgeserver.DefaultConfig()
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.SecretKey = os.Getenv("KEEPY_BRIDGE_SECRET")
	cfg.AllowedOrigin = viper.GetString("allowed-origin")
	cfg.Version = AppVersion
	cfg.DBDriver = viper.GetString("db-driver")
	cfg.DBDSN = os.Getenv("KEEPY_BRIDGE_DSN")

	if cfg.SecretKey == "" {
		return fmt.Errorf("KEEPY_BRIDGE_SECRET must be set")
	}

	srv, err := bridgeserver.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bridge endpoint: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-signalChan:
		logger.Info("Received shutdown signal")
		return srv.Stop()
	}
}

func init() {
	rootCmd.Flags().String("host", "0.0.0.0", "listen host")
	rootCmd.Flags().Int("port", 8090, "listen port")
	rootCmd.Flags().String("db-driver", "sqlite", "local database driver (sqlite, postgres)")
	rootCmd.Flags().String("allowed-origin", "", "browser origin allowed to call the endpoint")
	rootCmd.Flags().String("log-level", "info", "log level")

	viper.BindPFlag("host", rootCmd.Flags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("db-driver", rootCmd.Flags().Lookup("db-driver"))
	viper.BindPFlag("allowed-origin", rootCmd.Flags().Lookup("allowed-origin"))
	viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
