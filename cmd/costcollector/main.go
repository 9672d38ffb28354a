package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/GESkunkworks/costcollector"
	"github.com/inconshreveable/log15"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	region     string
	dataDir    string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "costcollector: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "costcollector",
		Short:         "Collect AWS cost optimization data and render an analysis report",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&g.region, "region", "", "region for regional commands (overrides config and environment)")
	flags.StringVar(&g.dataDir, "data-dir", "", "directory for collector artifacts")
	flags.BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(newListCmd())
	root.AddCommand(newCollectCmd(&g))
	root.AddCommand(newReportCmd(&g))
	return root
}

// load resolves the config once and applies command line overrides.
func (g *globalFlags) load() (*costcollector.Config, log15.Logger, error) {
	logger := costcollector.NewLogger(g.debug)
	cfg, err := costcollector.LoadConfig(g.configPath)
	if err != nil {
		return nil, logger, err
	}
	if g.region != "" {
		cfg.Region = g.region
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	if !cfg.KnownRegion() {
		logger.Warn("region is not in any known partition", "region", cfg.Region)
	}
	return cfg, logger, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available collectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tOUTPUT\tREPORTED\tDESCRIPTION")
			for _, c := range costcollector.Collectors() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.Name, c.Output, c.Summarized(), c.Description)
			}
			return w.Flush()
		},
	}
}

func newCollectCmd(g *globalFlags) *cobra.Command {
	var (
		stdout bool
		report bool
	)
	cmd := &cobra.Command{
		Use:   "collect [collector...]",
		Short: "Run collectors and write their artifacts (all collectors when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			exp, err := costcollector.New(cfg.ExpeditionInput(&logger))
			if err != nil {
				return err
			}
			if stdout {
				if len(args) != 1 {
					return fmt.Errorf("--stdout needs exactly one collector name")
				}
				data, err := exp.Collect(args[0])
				if err != nil {
					return err
				}
				return costcollector.WriteJSON(cmd.OutOrStdout(), data)
			}
			if err := exp.Start(args...); err != nil {
				return err
			}
			if report {
				return exp.ExportReport()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print a single collector's artifact to stdout instead of writing it")
	cmd.Flags().BoolVar(&report, "report", false, "render the analysis report after collecting")
	return cmd
}

func newReportCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the analysis report from existing artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.ReportFile = out
			}
			agg := costcollector.NewAggregator(&costcollector.AggregatorInput{CostDays: &cfg.CostDays, Logger: &logger})
			return agg.ExportReport(cfg.DataDir, cfg.ReportFile)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "report file (default from config)")
	return cmd
}
