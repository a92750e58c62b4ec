package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"polyagents/internal/domain"
)

type rootOptions struct {
	server     string
	configPath string
	dataDir    string
	sqlitePath string
	verbose    bool
	logOut     io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logOut: os.Stderr}

	root := &cobra.Command{
		Use:           "backtest-cli",
		Short:         "Run portfolio backtests and browse stored runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.server, "server", "", "backtest-server base URL; empty runs in-process")
	pf.StringVar(&opts.configPath, "config", "", "config file for in-process runs (default: built-in defaults)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "override storage.data_dir")
	pf.StringVar(&opts.sqlitePath, "sqlite", "", "override storage.sqlite_path")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		runCmd(opts),
		runsCmd(opts),
		plannersCmd(opts),
		versionCmd(),
	)
	return root
}

func runCmd(opts *rootOptions) *cobra.Command {
	var planPath, start, end, out string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest from a YAML plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := domain.LoadPlan(planPath)
			if err != nil {
				return err
			}
			b, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			run, err := b.Run(cmd.Context(), *plan, start, end)
			if err != nil {
				return err
			}
			if out != "" {
				if err := writeRunFile(out, run); err != nil {
					return err
				}
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "plan YAML file")
	cmd.Flags().StringVar(&start, "start", "", "first simulated date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last simulated date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&out, "out", "", "write the full run as JSON to this file")
	cmd.MarkFlagRequired("plan")
	return cmd
}

func runsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Browse stored runs"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			runs, err := b.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRunList(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			run, err := b.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the full run including its curve as JSON")

	cmd.AddCommand(list, show, browseCmd(opts))
	return cmd
}

func plannersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "planners",
		Short: "List available planners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			names, err := b.Planners(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "backtest-cli %s\n", version)
		},
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func writeRunFile(path string, run *domain.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func printRun(w io.Writer, run *domain.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	fmt.Fprintf(tw, "planner\t%s\n", run.Planner)
	fmt.Fprintf(tw, "universe\t%v\n", run.Plan.Universe)
	if run.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", run.Error)
		tw.Flush()
		return
	}
	if n := len(run.Curve); n > 0 {
		fmt.Fprintf(tw, "period\t%s .. %s (%d points)\n",
			run.Curve[0].Time.Format("2006-01-02"), run.Curve[n-1].Time.Format("2006-01-02"), n)
		fmt.Fprintf(tw, "final equity\t%.2f\n", run.Curve[n-1].Value)
	}
	fmt.Fprintf(tw, "rebalances\t%d\n", run.Rebalances)
	fmt.Fprintf(tw, "total return\t%.2f%%\n", run.Stats.TotalReturn*100)
	fmt.Fprintf(tw, "cagr\t%.2f%%\n", run.Stats.CAGREst*100)
	fmt.Fprintf(tw, "vol\t%.2f%%\n", run.Stats.Vol*100)
	fmt.Fprintf(tw, "sharpe\t%.3f\n", run.Stats.Sharpe)
	fmt.Fprintf(tw, "max drawdown\t%.2f%%\n", run.Stats.MaxDD*100)
	tw.Flush()
}

func printRunList(w io.Writer, runs []domain.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tPLANNER\tUNIVERSE\tRETURN\tSHARPE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%.2f%%\t%.3f\t%s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Planner, r.Universe,
			r.Stats.TotalReturn*100, r.Stats.Sharpe, r.Error)
	}
	tw.Flush()
}
