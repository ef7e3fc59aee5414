package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"autocheckout/internal/config"
	"autocheckout/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Long: `Run the autocheckout daemon in the foreground.

The daemon listens on a unix socket for save notifications from editor
plugins. The auto_checkout.enabled setting is read once at startup;
logging.level and backend.timeout_ms are reloaded when the config file
changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, daemon.Options{Version: Version, Logger: log.Logger})
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Stop()
		return err
	}

	loader.OnChange(func(c *config.Config) { d.Apply(c, log) })
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	}
	defer loader.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return d.Stop()
		case err := <-loader.Errors():
			log.Warn("config reload failed, keeping previous settings", "error", err)
		}
	}
}
