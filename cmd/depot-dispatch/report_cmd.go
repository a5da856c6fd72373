package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/report"
)

var (
	reportWorker string
	reportCenter string
	reportCSV    bool
	reportCached bool
	reportFrom   string
	reportRange  string
	reportFormat string
)

func addReportCommands(root *cobra.Command) {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Unloading times and delivery log",
	}
	reportCmd.PersistentFlags().StringVarP(&reportWorker, "worker", "w", "", "Only this worker")
	reportCmd.PersistentFlags().StringVar(&reportCenter, "center", "", "Only this center (id for durations, name for the log)")
	reportCmd.PersistentFlags().BoolVar(&reportCSV, "csv", false, "Write CSV to stdout")
	reportCmd.PersistentFlags().BoolVar(&reportCached, "cached", false, "Use the cached state only")

	durationsCmd := &cobra.Command{
		Use:   "durations",
		Short: "Minutes spent unloading at each stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := report.Filter{CenterID: reportCenter, Worker: reportWorker}
			if reportFrom != "" {
				f, err := os.Open(reportFrom)
				if err != nil {
					return err
				}
				defer f.Close()
				rows, err := report.ReadDurations(f)
				if err != nil {
					return err
				}
				return writeDurations(report.FilterDurations(rows, filter))
			}
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.snapshot(ctx, reportCached)
				if err != nil {
					return err
				}
				return writeDurations(report.FilterDurations(report.StopDurations(snap.AllRoutes()), filter))
			})
		},
	}
	durationsCmd.Flags().StringVar(&reportFrom, "from", "", "Read a previous CSV export instead of the server")

	totalsCmd := &cobra.Command{
		Use:   "totals",
		Short: "Unloading minutes per center and worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.snapshot(ctx, reportCached)
				if err != nil {
					return err
				}
				rows := report.FilterDurations(report.StopDurations(snap.AllRoutes()), report.Filter{CenterID: reportCenter, Worker: reportWorker})
				totals := report.TotalsByCenter(snap, rows)
				if done, err := emit(os.Stdout, reportFormat, totals); done {
					return err
				}
				printTotals(totals)
				return nil
			})
		},
	}
	totalsCmd.Flags().StringVarP(&reportFormat, "format", "o", formatTable, "Output format (table, json, yaml)")

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Delivery log",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := report.ParseRange(reportRange)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				snap, err := a.snapshot(ctx, reportCached)
				if err != nil {
					return err
				}
				entries := report.FilterDeliveries(snap.DeliveryLog, report.LogFilter{
					Range:  rng,
					Worker: reportWorker,
					Center: reportCenter,
				}, time.Now())
				rows := report.DeliveryRows(entries)
				if reportCSV {
					return report.WriteCSV(os.Stdout, rows)
				}
				printDeliveries(rows)
				return nil
			})
		},
	}
	logCmd.Flags().StringVarP(&reportRange, "range", "r", string(report.RangeAll), "Time range (24h, 3d, all)")

	reportCmd.AddCommand(durationsCmd)
	reportCmd.AddCommand(totalsCmd)
	reportCmd.AddCommand(logCmd)
	root.AddCommand(reportCmd)
}

func writeDurations(rows []report.StopDuration) error {
	if reportCSV {
		return report.WriteCSV(os.Stdout, rows)
	}
	printDurations(rows)
	return nil
}
