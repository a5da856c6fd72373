package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/planning"
)

var (
	urgentFormat string
	urgentCached bool

	planWorker     string
	planTruck      string
	planOrigin     string
	planProduct    string
	planStops      []string
	planFromUrgent string
	planDryRun     bool

	assignFormat string

	reassignRoute  string
	reassignTruck  string
	reassignWorker string
)

func addPlanningCommands(root *cobra.Command) {
	urgentCmd := &cobra.Command{
		Use:   "urgent",
		Short: "Show tanks below the urgent threshold grouped by center",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.snapshot(ctx, urgentCached)
				if err != nil {
					return err
				}
				view := planning.BuildUrgentView(snap)
				if done, err := emit(os.Stdout, urgentFormat, view); done {
					return err
				}
				printUrgent(view)
				return nil
			})
		},
	}
	urgentCmd.Flags().StringVarP(&urgentFormat, "format", "o", formatTable, "Output format (table, json, yaml)")
	urgentCmd.Flags().BoolVar(&urgentCached, "cached", false, "Use the cached state only")

	autoplanCmd := &cobra.Command{
		Use:   "autoplan",
		Short: "Let the server plan routes for the pending urgent centers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.fetcher.Fetch(ctx)
				if err != nil {
					return err
				}
				res, err := a.planner.AutoPlan(ctx, planning.BuildUrgentView(snap))
				if errors.Is(err, planning.ErrNothingToPlan) {
					fmt.Println("Nothing to plan: no pending urgent center or no available truck")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("%d routes created\n", res.Created)
				if len(res.Routes) > 0 {
					printRoutes(res.Routes)
				}
				return nil
			})
		},
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a route by hand",
		Long:  "Plan a route by hand. Each --stop is center:tank or center:tank:liters; liters default to the tank deficit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.fetcher.Fetch(ctx)
				if err != nil {
					return err
				}

				draft := &planning.RouteDraft{Worker: planWorker, TruckID: planTruck}
				if planFromUrgent != "" {
					center, ok := findUrgent(planning.BuildUrgentView(snap), planFromUrgent)
					if !ok {
						return errors.Errorf("center %s has no urgent tanks", planFromUrgent)
					}
					draft = planning.DraftFromUrgent(planWorker, planTruck, center)
				}
				draft.Origin = planOrigin
				draft.ProductType = planProduct
				for _, s := range planStops {
					stop, err := parseStop(s)
					if err != nil {
						return err
					}
					draft.Stops = append(draft.Stops, stop)
				}

				if planDryRun {
					req, err := planning.BuildPlan(snap, draft)
					if err != nil {
						return err
					}
					_, err = emit(os.Stdout, formatJSON, req)
					return err
				}

				req, route, err := a.planner.SubmitRoute(ctx, snap, draft)
				if err != nil {
					return err
				}
				fmt.Printf("Route planned for %s on %s, %d stops, %.0f L\n", req.Worker, req.TruckID, len(req.Stops), req.LoadL)
				if route != nil && route.ID != "" {
					fmt.Printf("Route id: %s\n", route.ID)
				}
				return nil
			})
		},
	}
	planCmd.Flags().StringVarP(&planWorker, "worker", "w", "", "Worker username")
	planCmd.Flags().StringVarP(&planTruck, "truck", "t", "", "Truck id")
	planCmd.Flags().StringVar(&planOrigin, "origin", "", "Loading origin")
	planCmd.Flags().StringVar(&planProduct, "product", "", "Product type (default: product of the first stop)")
	planCmd.Flags().StringArrayVarP(&planStops, "stop", "s", nil, "Stop as center:tank[:liters], repeatable")
	planCmd.Flags().StringVar(&planFromUrgent, "from-urgent", "", "Prefill stops with the urgent tanks of a center")
	planCmd.Flags().BoolVar(&planDryRun, "dry-run", false, "Print the request without sending it")

	assignmentsCmd := &cobra.Command{
		Use:   "assignments",
		Short: "List the open auto-planned routes and their truck and worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.fetcher.Fetch(ctx)
				if err != nil {
					return err
				}
				rows := planning.Assignments(snap)
				if done, err := emit(os.Stdout, assignFormat, rows); done {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "ROUTE\tTRUCK\tWORKER")
				fmt.Fprintln(w, "-----\t-----\t------")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.RouteID, r.TruckID, dash(r.Worker))
				}
				return w.Flush()
			})
		},
	}
	assignmentsCmd.Flags().StringVarP(&assignFormat, "format", "o", formatTable, "Output format (table, json, yaml)")

	reassignCmd := &cobra.Command{
		Use:   "reassign",
		Short: "Change the truck or worker of an auto-planned route",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reassignTruck == "" && reassignWorker == "" {
				return errors.New("--truck or --worker is required")
			}
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.fetcher.Fetch(ctx)
				if err != nil {
					return err
				}
				initial := planning.Assignments(snap)
				edited := make([]planning.Assignment, len(initial))
				copy(edited, initial)

				found := false
				for i := range edited {
					if edited[i].RouteID != reassignRoute {
						continue
					}
					found = true
					if reassignTruck != "" {
						edited[i].TruckID = reassignTruck
					}
					if reassignWorker != "" {
						edited[i].Worker = reassignWorker
					}
				}
				if !found {
					return errors.Errorf("route %s is not an open auto-planned route", reassignRoute)
				}

				results := a.planner.Reassign(ctx, initial, edited)
				if len(results) == 0 {
					fmt.Println("Nothing changed")
					return nil
				}
				for _, r := range results {
					if r.Err != nil {
						return r.Err
					}
					fmt.Printf("Route %s reassigned\n", r.RouteID)
				}
				return nil
			})
		},
	}
	reassignCmd.Flags().StringVarP(&reassignRoute, "route", "r", "", "Route id")
	reassignCmd.Flags().StringVarP(&reassignTruck, "truck", "t", "", "New truck id")
	reassignCmd.Flags().StringVarP(&reassignWorker, "worker", "w", "", "New worker username")
	reassignCmd.MarkFlagRequired("route")

	deleteRouteCmd := &cobra.Command{
		Use:   "delete-route [route-id]",
		Short: "Delete a route that has not been started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.fetcher.Fetch(ctx)
				if err != nil {
					return err
				}
				if err := a.planner.DeleteRoute(ctx, snap, args[0]); err != nil {
					return err
				}
				fmt.Printf("Route %s deleted\n", args[0])
				return nil
			})
		},
	}

	root.AddCommand(urgentCmd)
	root.AddCommand(autoplanCmd)
	root.AddCommand(planCmd)
	root.AddCommand(assignmentsCmd)
	root.AddCommand(reassignCmd)
	root.AddCommand(deleteRouteCmd)
}

// parseStop reads center:tank or center:tank:liters
func parseStop(s string) (planning.StopDraft, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return planning.StopDraft{}, errors.Errorf("invalid stop %q, want center:tank[:liters]", s)
	}
	stop := planning.StopDraft{CenterID: parts[0], TankID: parts[1]}
	if len(parts) == 3 {
		liters, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return planning.StopDraft{}, errors.Errorf("invalid liters in stop %q", s)
		}
		stop.Liters = &liters
	}
	return stop, nil
}

func findUrgent(view *planning.UrgentView, centerID string) (planning.UrgentCenter, bool) {
	for _, c := range view.Centers {
		if c.CenterID == centerID {
			return c, true
		}
	}
	return planning.UrgentCenter{}, false
}
