package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"autocheckout/internal/host"
	"autocheckout/internal/ipc"
)

var notifyFormat string

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a save notification to the daemon",
	Long: `Send a host save notification to the running daemon and wait until it
was handled. The workspace snapshot is read from FILE, or from stdin when
FILE is omitted or "-".

This is what editor plugins do; the command is useful for scripting and
for testing a plugin's snapshot output.`,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.PersistentFlags().StringVarP(&notifyFormat, "format", "o", "text", "output format: text, json or yaml")

	for _, sub := range []struct {
		use   string
		short string
		msg   ipc.MessageType
	}{
		{"before-save [FILE]", "A single document is about to be saved (requires document_id)", ipc.MsgBeforeSave},
		{"save-all [FILE]", "The user requested Save All", ipc.MsgSaveAll},
		{"save-selection [FILE]", "The user requested saving the current selection", ipc.MsgSaveSelection},
	} {
		msg := sub.msg
		notifyCmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runNotify(cmd, args, msg)
			},
		})
	}
}

func runNotify(cmd *cobra.Command, args []string, msg ipc.MessageType) error {
	data, err := readSnapshot(cmd, args)
	if err != nil {
		return err
	}
	// Catch malformed snapshots before bothering the daemon.
	if _, err := host.DecodeSnapshot(data); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := dial(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Notify(cmd.Context(), msg, json.RawMessage(data))
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}

	return writeFormatted(cmd.OutOrStdout(), notifyFormat, resp, func(w io.Writer) error {
		return printNotifyResponse(w, resp)
	})
}

func readSnapshot(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read snapshot from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}
