package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmd/internal/engines"
	"llmd/pkg/types"
)

func newEnginesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "Install, inspect and remove inference engines",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List supported engines and their install state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withServices(func(svc *services) error {
					return printEngines(cmd.OutOrStdout(), svc.engines.ListEngines())
				})
			},
		},
		&cobra.Command{
			Use:     "get <engine>",
			Short:   "Show one engine",
			Example: "  llmd engines get llama-cpp",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withServices(func(svc *services) error {
					info, err := svc.engines.GetEngineInfo(args[0])
					if err != nil {
						return err
					}
					return writeIndented(cmd.OutOrStdout(), info)
				})
			},
		},
		&cobra.Command{
			Use:   "releases <engine>",
			Short: "List upstream releases of an engine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withServices(func(svc *services) error {
					rels, err := svc.engines.GetReleases(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "TAG\tPRERELEASE\tPUBLISHED\tASSETS")
					for _, r := range rels {
						fmt.Fprintf(tw, "%s\t%t\t%s\t%d\n", r.Tag, r.Prerelease, r.PublishedAt, len(r.Assets))
					}
					return tw.Flush()
				})
			},
		},
		newEngineInstallCmd(a),
		&cobra.Command{
			Use:   "uninstall <engine>",
			Short: "Remove an installed engine",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withServices(func(svc *services) error {
					if err := svc.engines.UninstallEngine(args[0]); err != nil {
						return err
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "engine %s uninstalled\n", args[0])
					return err
				})
			},
		},
	)
	return cmd
}

func newEngineInstallCmd(a *app) *cobra.Command {
	var opts engines.InstallOptions
	cmd := &cobra.Command{
		Use:   "install <engine>",
		Short: "Download and install the engine build matching this host",
		Example: "  llmd engines install llama-cpp\n" +
			"  llmd engines install llama-cpp --version v0.1.40\n" +
			"  llmd engines install llama-cpp --source ./cortex.llamacpp-0.1.40-linux-amd64-avx2.tar.gz",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, err := newServices(a.cfg, a.log)
			if err != nil {
				return err
			}
			bars := newProgressBars(cmd.ErrOrStderr())
			bars.attach(svc.bus)
			opts.Wait = true
			res, err := svc.engines.InstallEngine(ctx, args[0], opts)
			// Closing the bus delivers the remaining events before the bars finish.
			svc.close()
			bars.wait()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "engine %s %s installed (%s)\n", args[0], res.Version, res.Variant)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Version, "version", "", "Release tag (default latest)")
	cmd.Flags().StringVar(&opts.LocalPath, "source", "", "Install from a local .zip or .tar.gz archive")
	return cmd
}

func (a *app) withServices(fn func(*services) error) error {
	svc, err := newServices(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer svc.close()
	return fn(svc)
}

func printEngines(w io.Writer, infos []types.EngineInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tVERSION\tVARIANT")
	for _, e := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.State, dash(e.Version), dash(e.Variant))
	}
	return tw.Flush()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
