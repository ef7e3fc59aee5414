package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"autocheckout/internal/checkout"
	"autocheckout/internal/config"
	"autocheckout/internal/ipc"
	"autocheckout/internal/store"
)

var (
	historyPath   string
	historyStatus string
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent checkout attempts",
	Long: `Show recent checkout attempts, newest first.

The running daemon is asked first; when it is not running the history
database is read directly.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyPruneDays int

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old checkout attempts",
	Long: `Delete checkout attempts older than --days, or history.retention_days
when --days is not given. Works whether or not the daemon is running.`,
	Args: cobra.NoArgs,
	RunE: runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPruneCmd)
	historyPruneCmd.Flags().IntVar(&historyPruneDays, "days", 0, "keep this many days (default: history.retention_days)")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "only attempts for this file")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only attempts with this status (succeeded, already_editable, failed)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of entries")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "o", "text", "output format: text, json or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if historyStatus != "" {
		if _, ok := checkout.ParseStatus(historyStatus); !ok {
			return fmt.Errorf("unknown status %q (want succeeded, already_editable or failed)", historyStatus)
		}
	}

	req := ipc.HistoryRequest{Status: historyStatus, Limit: historyLimit}
	if historyPath != "" {
		if req.Path, err = checkout.Normalize(historyPath); err != nil {
			return err
		}
	}
	resp, err := queryHistory(cmd.Context(), cfg, req)
	if err != nil {
		return err
	}

	return writeFormatted(cmd.OutOrStdout(), historyFormat, resp, func(w io.Writer) error {
		if len(resp.Entries) == 0 {
			_, err := fmt.Fprintln(w, "No checkout attempts recorded")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tEVENT\tSTATUS\tPATH\tREASON")
		for _, e := range resp.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				e.StartedAt.Format("2006-01-02 15:04:05"), e.EventKind, e.Status, e.Path, e.Reason)
		}
		return tw.Flush()
	})
}

func queryHistory(ctx context.Context, cfg *config.Config, req ipc.HistoryRequest) (*ipc.HistoryResponse, error) {
	client, err := dial(ctx, cfg)
	if err == nil {
		defer client.Close()
		return client.History(ctx, req)
	}
	if !errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, err
	}

	if !cfg.History.Enabled {
		return nil, errors.New("daemon is not running and history is disabled")
	}
	s, err := store.Open(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	recs, err := s.Query(ctx, store.Filter{
		Path:     req.Path,
		FoldCase: cfg.Paths.CaseInsensitive,
		Status:   req.Status,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, err
	}
	resp := &ipc.HistoryResponse{Entries: make([]ipc.HistoryEntry, 0, len(recs))}
	for _, r := range recs {
		resp.Entries = append(resp.Entries, ipc.HistoryEntryFromRecord(r))
	}
	return resp, nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("history is disabled")
	}

	keep := cfg.HistoryRetention()
	if cmd.Flags().Changed("days") {
		if historyPruneDays < 1 {
			return fmt.Errorf("--days must be at least 1, got %d", historyPruneDays)
		}
		keep = time.Duration(historyPruneDays) * 24 * time.Hour
	}
	if keep <= 0 {
		return errors.New("history.retention_days is 0; pass --days to prune")
	}

	s, err := store.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.Prune(cmd.Context(), time.Now().Add(-keep))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d checkout attempts older than %s\n", n, keep)
	return nil
}
