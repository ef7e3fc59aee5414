// Package cmd implements the autocheckout command line.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autocheckout/internal/config"
	"autocheckout/internal/ipc"
	"autocheckout/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "autocheckout",
	Short: "Open files for edit in version control when an editor saves them",
	Long: `autocheckout listens for save notifications from editor plugins and
opens every file about to be written for edit in the configured
version-control client (Perforce by default).

Checkout failures are reported and recorded but never block a save.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is "+config.ConfigPath()+")")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.Logging.FilePath
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	return logging.New(lc)
}

// dial connects to the running daemon.
func dial(ctx context.Context, cfg *config.Config) (*ipc.IPCClient, error) {
	cc := ipc.DefaultClientConfig(config.PlatformRuntimeDir())
	cc.SocketPath = cfg.IPC.SocketPath
	cc.ClientName = "autocheckout-cli"
	cc.ClientVersion = Version
	cc.RequestTimeout = time.Duration(cfg.IPC.TimeoutSec) * time.Second

	client := ipc.NewClient(cc)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
