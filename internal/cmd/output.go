package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"autocheckout/internal/ipc"
)

// writeFormatted writes v as JSON or YAML, or calls text for the default
// human-readable form.
func writeFormatted(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch strings.ToLower(format) {
	case "", "text":
		return text(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// printNotifyResponse prints one line per checkout attempt and a summary.
func printNotifyResponse(w io.Writer, resp *ipc.NotifyResponse) error {
	if resp.Disabled {
		_, err := fmt.Fprintln(w, "auto checkout is disabled")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range resp.Results {
		if r.Reason != "" {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Status, r.Path, r.Reason)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t\n", r.Status, r.Path)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d succeeded, %d already editable, %d failed, %d duplicates\n",
		resp.Succeeded, resp.AlreadyEditable, resp.Failed, resp.Duplicates)
	return err
}
