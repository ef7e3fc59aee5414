package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"autocheckout/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create the autocheckout configuration",
	Long: `View or create the autocheckout configuration.

Without arguments, displays the effective configuration: the config file
merged over the defaults, with AUTOCHECKOUT_* environment overrides applied.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.PersistentFlags().StringVarP(&configFormat, "format", "o", "toml", "output format: toml, json or yaml")
}

func activeConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.ConfigPath()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snapshot := cfg.Clone()

	format := configFormat
	if format == "toml" {
		format = "text"
	}
	return writeFormatted(cmd.OutOrStdout(), format, snapshot, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(snapshot)
	})
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := activeConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := activeConfigPath()
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Active config: %s\n", path)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", path)
	}
	fmt.Fprintln(out, "\nEnvironment variables: AUTOCHECKOUT_* (e.g., AUTOCHECKOUT_ENABLED, AUTOCHECKOUT_BACKEND)")
	return nil
}
