package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"llmd/pkg/types"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Start, stop and inspect models on a running daemon",
	}
	cmd.AddCommand(newModelStartCmd(a), newModelStopCmd(a), newModelStatusCmd(a), newModelListCmd(a))
	return cmd
}

func newModelStartCmd(a *app) *cobra.Command {
	var (
		engine string
		params []string
	)
	cmd := &cobra.Command{
		Use:     "start <model>",
		Short:   "Load a model into a new worker",
		Example: "  llmd models start tinyllama-q4 --param ctx_len=4096 --param ngl=99",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseParams(params)
			if err != nil {
				return err
			}
			body["model"] = args[0]
			if engine != "" {
				body["engine"] = engine
			}
			var resp types.StartModelResponse
			if err := newDaemonClient(a.cfg.Addr).do(cmd.Context(), http.MethodPost, "/v1/models/start", body, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s on %s:%d (pid %d)\n", args[0], resp.Message, resp.Worker.Host, resp.Worker.Port, resp.Worker.PID)
			return err
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "", "Engine override")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Worker parameter as key=value (repeatable)")
	return cmd
}

func newModelStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <model>",
		Short: "Stop a model's worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.MessageResponse
			if err := newDaemonClient(a.cfg.Addr).do(cmd.Context(), http.MethodPost, "/v1/models/stop", types.StopModelRequest{Model: args[0]}, &resp); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], resp.Message)
			return err
		},
	}
}

func newModelStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [model]",
		Short: "Show running workers, or whether one model is loaded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newDaemonClient(a.cfg.Addr)
			if len(args) == 1 {
				var st types.ModelStatusResponse
				if err := c.do(cmd.Context(), http.MethodGet, "/v1/models/status/"+url.PathEscape(args[0]), nil, &st); err != nil {
					return err
				}
				state := "not loaded"
				if st.Loaded {
					state = "loaded"
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", st.Model, state)
				return err
			}
			var resp types.WorkersResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/models/status", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tENGINE\tSTATE\tADDRESS\tPID\tUPTIME")
			for _, w := range resp.Workers {
				up := time.Since(time.Unix(w.StartTime, 0)).Truncate(time.Second)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%d\t%d\t%s\n", w.ModelID, w.Engine, w.State, w.Host, w.Port, w.PID, up)
			}
			return tw.Flush()
		},
	}
}

func newModelListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp types.ModelsResponse
			if err := newDaemonClient(a.cfg.Addr).do(cmd.Context(), http.MethodGet, "/v1/models", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tENGINE\tTYPE\tPATH")
			for _, m := range resp.Data {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Engine, dash(m.ModelType), m.Path)
			}
			return tw.Flush()
		},
	}
}

// parseParams turns key=value pairs into a request body. Values that parse
// as bool, integer or float keep that type.
func parseParams(kvs []string) (map[string]any, error) {
	out := make(map[string]any, len(kvs)+2)
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		out[k] = parseScalar(strings.TrimSpace(v))
	}
	return out, nil
}

func parseScalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
