// Package cli implements the whatsapp-console commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/term"

	"whatsapp-console/internal/config"
)

var (
	envFile     string
	dataDir     string
	scheduleDir string
	logLevel    string
)

// RootCmd is the top-level command. Without a subcommand it runs the server.
var RootCmd = &cobra.Command{
	Use:           "whatsapp-console",
	Short:         "WhatsApp auto-reply bot with a web operator console",
	Long:          "Links a WhatsApp account, answers incoming messages with an AI model, delivers scheduled messages and serves a console to manage prompts, schedules and conversation history.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")
	RootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: $DATA_DIR or dados)")
	RootCmd.PersistentFlags().StringVar(&scheduleDir, "schedule-dir", "", "Scheduled message directory (default: $SCHEDULE_DIR or mensagens_agendadas)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN or ERROR (default: $LOG_LEVEL or INFO)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() *config.Config {
	var cfg *config.Config
	if _, err := os.Stat(envFile); err == nil {
		cfg = config.Load(envFile)
	} else {
		cfg = config.Load()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if scheduleDir != "" {
		cfg.ScheduleDir = scheduleDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}

func newLogger(cfg *config.Config) waLog.Logger {
	return waLog.Stdout("Main", cfg.LogLevel, term.IsTerminal(int(os.Stdout.Fd())))
}

// Execute runs RootCmd and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
