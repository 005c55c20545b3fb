package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/rackscan/internal/app"
	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/rackfile"
	"github.com/efebarandurmaz/rackscan/internal/report"
	"github.com/efebarandurmaz/rackscan/internal/service"
	temporalmod "github.com/efebarandurmaz/rackscan/internal/temporal"
)

func outputFormat(g *globalFlags) (report.Format, error) {
	return report.ParseFormat(g.format)
}

func analyzeCmd(g *globalFlags) *cobra.Command {
	var (
		force bool
		id    string
	)
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Import a rack file, discover its chains and validate the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				rack, err := a.Analyzer.Import(ctx, args[0], id)
				if err != nil {
					return err
				}
				out, err := a.Analyzer.AnalyzeRack(ctx, rack.ID, force)
				if out != nil {
					if rerr := report.Render(cmd.OutOrStdout(), f, out, func(w io.Writer) { report.Analysis(w, out) }); rerr != nil {
						return rerr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-analyze even when a current analysis is stored")
	cmd.Flags().StringVar(&id, "id", "", "Rack id (default derived from the file path)")
	return cmd
}

func importCmd(g *globalFlags) *cobra.Command {
	var analyze bool
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Register every rack file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				racks, err := a.Analyzer.ImportDirectory(ctx, args[0])
				if err != nil {
					return err
				}
				ids := make([]string, len(racks))
				for i, r := range racks {
					ids[i] = r.ID
				}

				var failed int
				if analyze {
					for _, id := range ids {
						if _, err := a.Analyzer.AnalyzeRack(ctx, id, false); err != nil {
							if ctx.Err() != nil {
								return ctx.Err()
							}
							failed++
							a.Logger.Warn("analysis failed", "rack_id", id, "error", err)
						}
					}
				}

				if err := report.Render(cmd.OutOrStdout(), f, racks, func(w io.Writer) {
					for _, r := range racks {
						fmt.Fprintf(w, "%s  %s\n", r.ID, r.Path)
					}
					fmt.Fprintf(w, "%d racks imported\n", len(racks))
					if analyze {
						fmt.Fprintf(w, "%d analyzed, %d failed\n", len(racks)-failed, failed)
					}
				}); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d analyses failed", failed, len(racks))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&analyze, "analyze", false, "Analyze each rack after import")
	return cmd
}

func validateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rack-id>...",
		Short: "Validate stored analyses against the compliance rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					r, err := a.Analyzer.Validate(ctx, args[0])
					if err != nil {
						return err
					}
					if err := report.Render(cmd.OutOrStdout(), f, r, func(w io.Writer) { report.Compliance(w, r) }); err != nil {
						return err
					}
					if !r.Compliant {
						return errors.New("rack is not compliant")
					}
					return nil
				}

				results, err := a.Analyzer.BulkValidate(ctx, args)
				if err != nil {
					return err
				}
				nonCompliant := 0
				for _, res := range results {
					if res.Report == nil || !res.Report.Compliant {
						nonCompliant++
					}
				}
				if err := report.Render(cmd.OutOrStdout(), f, results, func(w io.Writer) {
					for _, res := range results {
						switch {
						case res.Error != "":
							fmt.Fprintf(w, "%-40s ERROR  %s\n", res.RackID, res.Error)
						case res.Report.Compliant:
							fmt.Fprintf(w, "%-40s PASS\n", res.RackID)
						default:
							fmt.Fprintf(w, "%-40s FAIL   %d issues\n", res.RackID, len(res.Report.Issues))
						}
					}
				}); err != nil {
					return err
				}
				if nonCompliant > 0 {
					return fmt.Errorf("%d of %d racks are not compliant", nonCompliant, len(results))
				}
				return nil
			})
		},
	}
}

func reportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the platform-wide compliance report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				r, err := a.Analyzer.PlatformReport(ctx)
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), f, r, func(w io.Writer) { report.Platform(w, r) })
			})
		},
	}
}

func hierarchyCmd(g *globalFlags) *cobra.Command {
	var devices bool
	cmd := &cobra.Command{
		Use:   "hierarchy <rack-id>",
		Short: "Print the stored chain hierarchy of a rack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				tree, err := a.Analyzer.Hierarchy(ctx, args[0], devices)
				if err != nil {
					return err
				}
				if tree == nil {
					tree = []*service.Node{}
				}
				return report.Render(cmd.OutOrStdout(), f, tree, func(w io.Writer) { report.Hierarchy(w, tree) })
			})
		},
	}
	cmd.Flags().BoolVar(&devices, "devices", false, "Include each chain's devices")
	return cmd
}

func statsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate analysis statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				st, err := a.Analyzer.Statistics(ctx)
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), f, st, func(w io.Writer) { report.Stats(w, st) })
			})
		},
	}
}

// previewCmd analyzes a file in memory without touching the store.
func previewCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file>",
		Short: "Run chain discovery on a file without storing the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(g)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.Log, os.Stderr)

			data, err := rackfile.Load(args[0])
			if err != nil {
				return err
			}
			res, err := discovery.NewEngine(discovery.WithLogger(logger)).AnalyzeContext(cmd.Context(), "preview", data)
			if res == nil {
				return err
			}
			out := &service.Outcome{Summary: res.Summary, Chains: res.Chains, Preview: res.Preview()}
			out.Rack.Name = args[0]
			if rerr := report.Render(cmd.OutOrStdout(), f, out, func(w io.Writer) { report.Analysis(w, out) }); rerr != nil {
				return rerr
			}
			return err
		},
	}
}

// submitCmd schedules analyses on the Temporal worker pool.
func submitCmd(g *globalFlags) *cobra.Command {
	var (
		force bool
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "submit <rack-id>...",
		Short: "Schedule rack analyses on the Temporal worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			c, err := temporalclient.Dial(temporalclient.Options{
				HostPort:  cfg.Temporal.Host,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("temporal client: %w", err)
			}
			defer c.Close()

			ctx := cmd.Context()
			for _, id := range args {
				run, err := c.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
					ID:        fmt.Sprintf("analyze-%s-%d", id, time.Now().UnixNano()),
					TaskQueue: cfg.Temporal.TaskQueue,
				}, temporalmod.AnalyzeRackWorkflow, temporalmod.AnalysisInput{RackID: id, Force: force})
				if err != nil {
					return fmt.Errorf("start workflow for %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  workflow %s run %s\n", id, run.GetID(), run.GetRunID())
				if !wait {
					continue
				}
				var out temporalmod.AnalysisOutput
				if err := run.Get(ctx, &out); err != nil {
					return fmt.Errorf("workflow for %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  chains=%d devices=%d compliant=%t\n",
					id, out.ChainsDetected, out.TotalDevices, out.Compliant)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-analyze even when a current analysis is stored")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for each workflow to finish")
	return cmd
}
