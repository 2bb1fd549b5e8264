package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/wms-engine/api"
	"github.com/warp/wms-engine/config"
	"github.com/warp/wms-engine/engine"
	"github.com/warp/wms-engine/factory"
	"github.com/warp/wms-engine/lifecycle"
)

const defaultAt = "2025-03-03T08:00:00Z"

// cli carries the flag state shared by every command.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("WMSCTL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "wmsctl",
		Short:         "WMS lifecycle engine CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("at", defaultAt, "clock start for scenario runs (RFC3339)")
	_ = c.v.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = c.v.BindPFlag("at", root.PersistentFlags().Lookup("at"))

	root.AddCommand(c.scenarioCmd())
	root.AddCommand(c.graphCmd())
	root.AddCommand(c.kpiCmd())
	root.AddCommand(c.configCmd())
	root.AddCommand(c.policyCmd())
	return root
}

func (c *cli) jsonOutput() bool {
	return c.v.GetBool("json")
}

func (c *cli) startTime() (time.Time, error) {
	at, err := time.Parse(time.RFC3339, c.v.GetString("at"))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at: %w", err)
	}
	return at.UTC(), nil
}

// newEngine builds an in-memory engine on a manual clock at --at.
func (c *cli) newEngine() (*engine.Engine, time.Time, error) {
	at, err := c.startTime()
	if err != nil {
		return nil, time.Time{}, err
	}
	eng := engine.New(engine.Options{
		Clock: lifecycle.NewManualClock(at),
		IDs:   lifecycle.NewSequentialIDs("WMS"),
	})
	return eng, at, nil
}

// =============================================================================
// SCENARIO
// =============================================================================

func (c *cli) scenarioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scenario", Short: "Demo scenarios"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			list := api.Scenarios()
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printScenarios(cmd.OutOrStdout(), list)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <id>...",
		Short: "Run scenarios on a fresh in-memory engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := c.newEngine()
			if err != nil {
				return err
			}
			var all []*lifecycle.Aggregate
			for _, id := range args {
				aggs, err := api.RunScenario(cmd.Context(), eng, id)
				if err != nil {
					return fmt.Errorf("scenario %s: %w", id, err)
				}
				all = append(all, aggs...)
			}
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), requestRows(all))
			}
			printRequests(cmd.OutOrStdout(), all)
			return nil
		},
	})
	return cmd
}

// =============================================================================
// GRAPH
// =============================================================================

func (c *cli) graphCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "graph", Short: "Status graphs"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := lifecycle.ListKinds()
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), kinds)
			}
			for _, k := range kinds {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <kind>",
		Short: "Print the edges of a status graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := lifecycle.ParseKind(args[0])
			if err != nil {
				return err
			}
			g, ok := lifecycle.LookupGraph(kind)
			if !ok {
				return lifecycle.ErrUnknownKind
			}
			rows := graphRows(g)
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			printGraph(cmd.OutOrStdout(), g, rows)
			return nil
		},
	})
	return cmd
}

// =============================================================================
// KPI
// =============================================================================

func (c *cli) kpiCmd() *cobra.Command {
	var (
		period    string
		scenarios []string
	)
	cmd := &cobra.Command{
		Use:   "kpi <kind>",
		Short: "Compute a KPI snapshot over scenario data",
		Long: `Runs the given scenarios (all of them by default) on an in-memory
engine and prints the snapshot for the period containing --at.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := lifecycle.ParseKind(args[0])
			if err != nil {
				return err
			}
			p, err := lifecycle.ParsePeriod(period)
			if err != nil {
				return err
			}
			eng, at, err := c.newEngine()
			if err != nil {
				return err
			}
			if len(scenarios) == 0 {
				for _, s := range api.Scenarios() {
					scenarios = append(scenarios, s.ID)
				}
			}
			for _, id := range scenarios {
				if _, err := api.RunScenario(cmd.Context(), eng, id); err != nil {
					return fmt.Errorf("scenario %s: %w", id, err)
				}
			}

			snap, err := eng.SnapshotAt(cmd.Context(), kind, p, at)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), snapshotDoc(snap))
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "DAILY", "DAILY, WEEKLY or MONTHLY")
	cmd.Flags().StringSliceVar(&scenarios, "scenario", nil, "scenarios to run first (default all)")
	return cmd
}

// =============================================================================
// CONFIG AND POLICY
// =============================================================================

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Server configuration"}

	var path string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	show.Flags().StringVarP(&path, "config", "c", "", "YAML config file")
	cmd.AddCommand(show)
	return cmd
}

func (c *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Policy documents"}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a policy document and print the merged result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := factory.NewPolicyFactory().LoadFile(args[0])
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printPolicies(cmd.OutOrStdout(), p)
			return nil
		},
	})
	return cmd
}
