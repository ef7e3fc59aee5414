package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"autocheckout/internal/ipc"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Display whether the daemon is running, its backend, and checkout counts.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusFormat, "format", "o", "text", "output format: text, json or yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := dial(cmd.Context(), cfg)
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon is not running (socket %s)\n", cfg.IPC.SocketPath)
		return nil
	}
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}

	return writeFormatted(cmd.OutOrStdout(), statusFormat, st, func(w io.Writer) error {
		state := "enabled"
		if !st.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "Daemon: running (version %s)\n", st.Version)
		fmt.Fprintf(w, "Started: %s (up %s)\n", st.StartedAt.Format("2006-01-02 15:04:05"), st.Uptime.Round(time.Second))
		fmt.Fprintf(w, "Auto checkout: %s\n", state)
		fmt.Fprintf(w, "Backend: %s\n", st.Backend)
		fmt.Fprintf(w, "Clients: %d\n", st.Clients)
		fmt.Fprintf(w, "Requests handled: %d\n", st.Handled)

		if st.History.Enabled {
			fmt.Fprintf(w, "History: schema v%d (latest v%d)\n", st.History.SchemaVersion, st.History.SchemaLatest)
			for _, s := range sortedKeys(st.History.Counts) {
				fmt.Fprintf(w, "  %s: %d\n", s, st.History.Counts[s])
			}
		} else {
			fmt.Fprintln(w, "History: disabled")
		}

		if len(st.Metrics) > 0 {
			fmt.Fprintln(w, "Metrics:")
			for _, name := range sortedKeys(st.Metrics) {
				fmt.Fprintf(w, "  %s %g\n", name, st.Metrics[name])
			}
		}
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
