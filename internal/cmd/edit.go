package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"autocheckout/internal/daemon"
	"autocheckout/internal/host"
)

var editFormat string

var editCmd = &cobra.Command{
	Use:   "edit PATH...",
	Short: "Open files for edit now",
	Long: `Open the given files for edit through the configured backend, without
going through the daemon. Paths are deduplicated and attempts are recorded
in the history like any other batch.

Failures are reported but do not change the exit status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringVarP(&editFormat, "format", "o", "text", "output format: text, json or yaml")
}

func runEdit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, daemon.Options{Version: Version, Logger: log.Logger})
	if err != nil {
		return err
	}
	defer d.Stop()

	resp := host.NotifyResponse(d.Edit(cmd.Context(), args))
	return writeFormatted(cmd.OutOrStdout(), editFormat, resp, func(w io.Writer) error {
		return printNotifyResponse(w, resp)
	})
}
