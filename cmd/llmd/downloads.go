package main

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmd/internal/download"
	"llmd/pkg/types"
)

func newDownloadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downloads",
		Short: "Inspect and stop download tasks on a running daemon",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List queued and running download tasks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var resp struct {
					Tasks []download.Task `json:"tasks"`
				}
				if err := newDaemonClient(a.cfg.Addr).do(cmd.Context(), http.MethodGet, "/v1/downloads", nil, &resp); err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS")
				for _, t := range resp.Tasks {
					var done, total int64
					for _, it := range t.Items {
						done += it.DownloadedBytes
						total += it.Bytes
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Status, progressText(done, total))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "stop <task-id>",
			Short: "Stop a download task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var resp types.MessageResponse
				if err := newDaemonClient(a.cfg.Addr).do(cmd.Context(), http.MethodDelete, "/v1/downloads/"+url.PathEscape(args[0]), nil, &resp); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], resp.Message)
				return err
			},
		},
	)
	return cmd
}

func progressText(done, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%d B", done)
	}
	return fmt.Sprintf("%.1f%%", float64(done)*100/float64(total))
}
