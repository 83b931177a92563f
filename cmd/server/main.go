package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath     string
	port           string
	maxConnections int
	logLevel       string
	logJSON        bool
)

var rootCmd = &cobra.Command{
	Use:   "syncchat-server",
	Short: "SyncChat server",
	Long: `SyncChat server hosts a single chat room over WebSocket at /ws.
Settings come from an optional YAML file, then GOCHAT_* environment
variables, then command line flags.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.Flags().StringVarP(&port, "port", "p", "", "listen address or port (default :8080)")
	rootCmd.Flags().IntVar(&maxConnections, "max-connections", 0, "maximum concurrent connections")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON log lines")
}

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*server.Config, error) {
	var cfg *server.Config
	if configPath != "" {
		loaded, err := server.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = server.NewConfigFromEnv()
	}

	if port != "" {
		if !strings.Contains(port, ":") {
			port = ":" + port
		}
		cfg.Port = port
	}
	if maxConnections > 0 {
		cfg.MaxConnections = maxConnections
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Output: os.Getenv("GOCHAT_LOG_OUTPUT"),
		JSON:   logJSON,
	}); err != nil {
		return err
	}
	defer logger.Sync()

	srv := server.New(cfg)
	srv.Start()

	httpServer := server.CreateServer(srv.Config().Port, srv.SetupRoutes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Shutdown(shutdownTimeout)
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	}

	httpErr := server.ShutdownServer(httpServer, shutdownTimeout)
	chatErr := srv.Shutdown(shutdownTimeout)
	return errors.Join(httpErr, chatErr)
}
