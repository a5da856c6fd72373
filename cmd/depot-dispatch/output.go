package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/agsys/depot-dispatch/internal/flow"
	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/planning"
	"github.com/agsys/depot-dispatch/internal/report"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// emit writes v as JSON or YAML. It returns false for the table format so
// the caller prints its own table.
func emit(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case formatTable, "":
		return false, nil
	}
	return true, fmt.Errorf("unknown format %q (want table, json or yaml)", format)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printOutcome(out *flow.Outcome) {
	fmt.Printf("Next step: %s (%s)\n", out.Step, out.Step.Path())
	if out.RouteID != "" {
		fmt.Printf("Route:     %s\n", out.RouteID)
	}
	if out.Notice != "" {
		fmt.Printf("Notice:    %s\n", out.Notice)
	}
	switch {
	case out.Deferred:
		fmt.Println("Scan saved, it will be applied once the step is reached")
	case out.Discarded:
		fmt.Println("Saved scan was already applied, discarded")
	}
	if out.Pending {
		fmt.Println("A saved scan is waiting, run resume once ready")
	}
}

func printState(snap *model.Snapshot) {
	fmt.Printf("Server time: %s\n\n", formatTS(snap.ServerTime))

	w := newTable()
	fmt.Fprintln(w, "CENTER\tNAME\tSTATUS\tTANKS\tMIN %")
	fmt.Fprintln(w, "------\t----\t------\t-----\t-----")
	for _, c := range planning.SortCentersByAlert(snap.Centers) {
		minPct := 100.0
		for _, t := range c.Tanks {
			if t.Percentage < minPct {
				minPct = t.Percentage
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\n", c.ID, c.Name, c.WorstStatus().Label(), len(c.Tanks), minPct)
	}
	w.Flush()
	fmt.Println()

	w = newTable()
	fmt.Fprintln(w, "TRUCK\tDRIVER\tSTATUS\tLOAD L\tCAPACITY L\tROUTE")
	fmt.Fprintln(w, "-----\t------\t------\t------\t----------\t-----")
	for _, t := range snap.Trucks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.0f\t%s\n", t.ID, dash(t.Driver), t.Status.Label(), t.CurrentLoadL, t.CapacityL, dash(t.RouteID))
	}
	w.Flush()
	fmt.Println()

	printRoutes(snap.Routes)
}

func printRoutes(routes []model.Route) {
	w := newTable()
	fmt.Fprintln(w, "ROUTE\tTRUCK\tWORKER\tSTATUS\tSTOP\tLOAD L\tAUTO")
	fmt.Fprintln(w, "-----\t-----\t------\t------\t----\t------\t----")
	for _, r := range routes {
		stop := "-"
		if s, ok := r.CurrentStop(); ok {
			stop = fmt.Sprintf("%d/%d %s:%s", r.CurrentStopIdx+1, len(r.Stops), s.CenterID, s.TankID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0f\t%v\n", r.ID, r.TruckID, dash(r.Worker), r.Status.Label(), stop, r.PlannedLoad(), r.AutoGenerated)
	}
	w.Flush()
}

func printAlerts(alerts []model.Alert, refill []model.Tank) {
	w := newTable()
	fmt.Fprintln(w, "SEVERITY\tCENTER\tTANK\tMESSAGE")
	fmt.Fprintln(w, "--------\t------\t----\t-------")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", strings.ToUpper(string(a.Severity)), a.Center, a.TankID, a.Message)
	}
	w.Flush()
	fmt.Println()

	w = newTable()
	fmt.Fprintln(w, "CENTER\tTANK\tPRODUCT\tLEVEL %\tDEFICIT L\tSTATUS\tRUNOUT")
	fmt.Fprintln(w, "------\t----\t-------\t-------\t---------\t------\t------")
	for _, t := range refill {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.0f\t%s\t%s\n", dash(t.CenterName), t.ID, t.Product, t.Percentage, t.Deficit(), t.Status.Label(), formatTS(t.RunoutETA))
	}
	w.Flush()
}

func printUrgent(view *planning.UrgentView) {
	if len(view.Centers) == 0 {
		fmt.Println("No tanks below the urgent threshold")
		return
	}
	w := newTable()
	fmt.Fprintln(w, "CENTER\tTANK\tPRODUCT\tLEVEL %\tDEFICIT L\tRUNOUT\tASSIGNED")
	fmt.Fprintln(w, "------\t----\t-------\t-------\t---------\t------\t--------")
	for _, c := range view.Centers {
		for _, t := range c.Tanks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.0f\t%s\t%v\n", c.CenterName, t.TankID, t.Product, t.Percentage, t.DeficitL, formatTS(t.RunoutETA), c.Assigned)
		}
	}
	w.Flush()

	fmt.Printf("\n%d centers pending, %d trucks available\n", len(view.Pending()), len(view.AvailableTrucks))
}

func printDurations(rows []report.StopDuration) {
	w := newTable()
	fmt.Fprintln(w, "ROUTE\tCENTER\tTANK\tWORKER\tMINUTES\tARRIVAL")
	fmt.Fprintln(w, "-----\t------\t----\t------\t-------\t-------")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.RouteID, r.CenterID, r.TankID, r.Worker, r.Minutes, r.Arrival.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printTotals(totals []report.CenterTotals) {
	w := newTable()
	fmt.Fprintln(w, "CENTER\tWORKER\tMINUTES")
	fmt.Fprintln(w, "------\t------\t-------")
	for _, c := range totals {
		for _, wt := range c.Workers {
			fmt.Fprintf(w, "%s\t%s\t%d\n", c.CenterName, wt.Worker, wt.Minutes)
		}
	}
	w.Flush()
}

func printDeliveries(rows []report.DeliveryRow) {
	w := newTable()
	fmt.Fprintln(w, "TIME\tTRUCK\tCENTER\tTANK\tLITERS\tBY\tNOTE")
	fmt.Fprintln(w, "----\t-----\t------\t----\t------\t--\t----")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%s\t%s\n", r.TS.Format("2006-01-02 15:04"), r.TruckID, r.Center, r.TankID, r.DeliveredL, dash(r.By), r.Note)
	}
	w.Flush()
}

func formatTS(ts model.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format("2006-01-02 15:04")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
