// Package cli implements the Hermes command-line surface: the cobra
// commands backing cmd/hermes, mirroring the teacher's cmd/root.go
// structure (persistent flags, SilenceUsage/SilenceErrors, a
// signal.NotifyContext root context).
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hermes/internal/logging"
)

// Version information, set at build time via -ldflags.
var (
	Version   = "0.1.0"
	SpecVer   = "1.0.0"
	BuildTime = "unknown"
)

var (
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command for hermes.
var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Shared-memory simulation orchestrator",
	Long: `hermes runs a simulation from a YAML config: it builds the shared-memory
backplane, spawns the configured modules, and drives the frame loop until
the configured end time or an operator-requested stop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM, the root
// context every long-running subcommand runs under.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path (default: stderr)")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	out := os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			out = f
		}
	}

	level := slog.LevelInfo
	if globalDebug {
		level = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  level,
		Format: globalLogFormat,
		Output: out,
	})
	logging.SetDefault(logger)
}
