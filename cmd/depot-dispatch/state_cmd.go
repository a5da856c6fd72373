package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/planning"
	"github.com/agsys/depot-dispatch/internal/state"
)

var (
	stateFormat  string
	stateCached  bool
	alertsCached bool
	centerFormat string
)

func addStateCommands(root *cobra.Command) {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show centers, trucks and open routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if stateFormat != formatTable {
					snap, err := a.snapshot(ctx, stateCached)
					if err != nil {
						return err
					}
					_, err = emit(os.Stdout, stateFormat, snap)
					return err
				}
				if stateCached {
					snap, err := a.snapshot(ctx, true)
					if err != nil {
						return err
					}
					printState(snap)
					return nil
				}

				// Cached paint first, then live
				_, err := a.fetcher.Load(ctx, func(snap *model.Snapshot, origin state.Origin) {
					if origin == state.FromCache {
						fmt.Println("(cached)")
					}
					printState(snap)
					fmt.Println()
				})
				return err
			})
		},
	}
	stateCmd.Flags().StringVarP(&stateFormat, "format", "o", formatTable, "Output format (table, json, yaml)")
	stateCmd.Flags().BoolVar(&stateCached, "cached", false, "Use the cached state only")

	centerCmd := &cobra.Command{
		Use:   "center [center-id]",
		Short: "Show the tanks and alerts of one center",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.snapshot(ctx, false)
				if err != nil {
					return err
				}
				center, ok := snap.Center(args[0])
				if !ok {
					return fmt.Errorf("unknown center %s", args[0])
				}
				if done, err := emit(os.Stdout, centerFormat, center); done {
					return err
				}

				fmt.Printf("%s (%s), %s\n\n", center.Name, center.ID, center.WorstStatus().Label())
				w := newTable()
				fmt.Fprintln(w, "TANK\tPRODUCT\tLEVEL %\tCURRENT L\tCAPACITY L\tSTATUS\tRUNOUT")
				fmt.Fprintln(w, "----\t-------\t-------\t---------\t----------\t------\t------")
				for _, t := range center.Tanks {
					fmt.Fprintf(w, "%s\t%s\t%.1f\t%.0f\t%.0f\t%s\t%s\n", t.ID, t.Product, t.Percentage, t.CurrentL, t.CapacityL, t.Status.Label(), formatTS(t.RunoutETA))
				}
				w.Flush()

				alerts := planning.CenterAlerts(planning.Alerts(snap), center)
				if len(alerts) > 0 {
					fmt.Println()
					for _, al := range alerts {
						fmt.Printf("[%s] %s\n", al.Severity, al.Message)
					}
				}
				return nil
			})
		},
	}
	centerCmd.Flags().StringVarP(&centerFormat, "format", "o", formatTable, "Output format (table, json, yaml)")

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show level alerts and the refill table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.snapshot(ctx, alertsCached)
				if err != nil {
					return err
				}
				printAlerts(planning.Alerts(snap), planning.RefillTable(snap))
				return nil
			})
		},
	}
	alertsCmd.Flags().BoolVar(&alertsCached, "cached", false, "Use the cached state only")

	drainCmd := &cobra.Command{
		Use:    "simulate-drain",
		Short:  "Ask the server to lower tank levels (testing only)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.client.SimulateDrain(ctx); err != nil {
					return err
				}
				fmt.Println("Tank levels lowered")
				return nil
			})
		},
	}

	root.AddCommand(stateCmd)
	root.AddCommand(centerCmd)
	root.AddCommand(alertsCmd)
	root.AddCommand(drainCmd)
}
