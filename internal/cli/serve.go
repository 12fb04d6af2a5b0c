package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"whatsapp-console/internal/app"
	"whatsapp-console/internal/config"
)

var servePort string

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the scheduler and the web console",
		RunE:  runServe,
	}
	cmd.Flags().StringVarP(&servePort, "port", "p", "", "HTTP port (default: $PORT or 3000)")
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if servePort != "" {
		cfg.Port = servePort
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			log.Errorf("GPT_API_KEY not found in the environment or .env file")
		}
		return fmt.Errorf("start: %w", err)
	}
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
