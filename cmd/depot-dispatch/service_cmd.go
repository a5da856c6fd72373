package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/engine"
	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/planning"
)

var (
	watchView   string
	watchScans  bool
	watchCenter string
)

func addServiceCommands(root *cobra.Command) {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the server at the rate of a view and log each refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := engine.ParseView(watchView)
			if err != nil {
				return err
			}
			return runService(view, watchScans)
		},
	}
	watchCmd.Flags().StringVar(&watchView, "view", "home", "View to poll for (home, center, admin)")
	watchCmd.Flags().StringVar(&watchCenter, "center", "", "Center to follow in the center view")
	watchCmd.Flags().BoolVar(&watchScans, "serve-scans", false, "Also serve the local scan endpoint")

	serveCmd := &cobra.Command{
		Use:   "serve-scans",
		Short: "Serve the local scan endpoint for handheld readers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(engine.ViewHome, true)
		},
	}

	root.AddCommand(watchCmd)
	root.AddCommand(serveCmd)
}

func runService(view engine.View, serveScans bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	go func() {
		select {
		case sig := <-sigChan:
			a.log.WithField("signal", sig.String()).Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := a.dash.CheckAuth(ctx); err != nil {
		a.log.WithError(err).Warn("could not check server session")
	}
	a.dash.Warm(ctx)
	a.dash.Subscribe(func(snap *model.Snapshot) {
		logRefresh(a.log, view, snap)
	})

	var services []func(context.Context) error
	if serveScans {
		services = append(services, a.scanServer().ListenAndServe)
	}

	err = a.dash.Run(ctx, view, services...)
	if errors.Is(err, cloud.ErrAuthExpired) {
		return errors.New("session expired, log in again")
	}
	a.log.Info("shutdown complete")
	return err
}

func logRefresh(log *logrus.Logger, view engine.View, snap *model.Snapshot) {
	fields := logrus.Fields{
		"server_time": formatTS(snap.ServerTime),
		"routes":      len(snap.Routes),
	}
	switch view {
	case engine.ViewCenter:
		if c, ok := snap.Center(watchCenter); ok {
			fields["center"] = c.Name
			fields["status"] = c.WorstStatus().Label()
			fields["alerts"] = len(planning.CenterAlerts(planning.Alerts(snap), c))
		}
	case engine.ViewAdmin:
		urgent := planning.BuildUrgentView(snap)
		fields["urgent_centers"] = len(urgent.Pending())
		fields["free_trucks"] = len(urgent.AvailableTrucks)
		fields["auto_routes"] = len(planning.AutoGeneratedRoutes(snap))
	default:
		fields["alerts"] = len(planning.Alerts(snap))
		fields["refill"] = len(planning.RefillTable(snap))
	}
	log.WithFields(fields).Info("state refreshed")
}
