package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/syncchat/internal/client"
	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/tui"
)

var (
	host             string
	port             int
	name             string
	logFile          string
	logLevel         string
	resyncInterval   time.Duration
	messageMaxLength int
)

var rootCmd = &cobra.Command{
	Use:   "syncchat",
	Short: "Terminal client for a SyncChat server",
	Long: `syncchat connects to a SyncChat server, logs in under a name and shows
the room in the terminal. Messages missed while the connection was busy
are recovered automatically.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVarP(&host, "host", "H", envOr("SYNCCHAT_HOST", "localhost"), "server host")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "server port")
	rootCmd.Flags().StringVarP(&name, "name", "n", os.Getenv("SYNCCHAT_NAME"), "name to prefill on the login screen")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file (logging is off otherwise)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.Flags().DurationVar(&resyncInterval, "resync", client.DefaultResyncInterval, "interval between state requests")
	rootCmd.Flags().IntVar(&messageMaxLength, "message-max-length", client.DefaultMessageMaxLength, "longest message the server accepts")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	// The terminal belongs to the UI, so logs only go to a file.
	if logFile != "" {
		if err := logger.Init(logger.Options{Level: logLevel, Output: logFile}); err != nil {
			return err
		}
		defer logger.Sync()
	} else {
		logger.Disable()
	}

	bridge := tui.NewBridge(256)
	agent := client.New(bridge,
		client.WithResyncInterval(resyncInterval),
		client.WithMessageMaxLength(messageMaxLength),
	)
	defer agent.Close()
	defer bridge.Close()

	model := tui.New(agent, bridge, tui.Options{
		Host:             host,
		Port:             port,
		Name:             name,
		MessageMaxLength: messageMaxLength,
	})

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
