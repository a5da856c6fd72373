package planning

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agsys/depot-dispatch/internal/model"
)

// RefillTable returns the tanks under the urgent threshold, emptiest first
func RefillTable(snap *model.Snapshot) []model.Tank {
	var tanks []model.Tank
	for _, t := range snap.FlatTanks() {
		if t.Percentage < model.UrgentBelowPct {
			tanks = append(tanks, t)
		}
	}
	sort.SliceStable(tanks, func(i, j int) bool { return tanks[i].Percentage < tanks[j].Percentage })
	return tanks
}

// DeriveAlerts rebuilds the alert list from tank levels. Used when the
// server omits alerts or when a cached snapshot predates them.
func DeriveAlerts(snap *model.Snapshot) []model.Alert {
	var alerts []model.Alert
	for _, t := range snap.FlatTanks() {
		status := model.ClassifyPercentage(t.Percentage)
		if !status.NeedsRefill() {
			continue
		}
		center := t.CenterName
		if center == "" {
			center = snap.CenterName(t.CenterID)
		}
		msg := fmt.Sprintf("%s / %s low level (%.1f%%).", center, t.Label, t.Percentage)
		if !t.RunoutETA.IsZero() {
			msg += " Refill before " + t.RunoutETA.Format("02/01 15:04") + "."
		}
		alerts = append(alerts, model.Alert{
			TankID:    t.ID,
			Center:    center,
			Severity:  status.Severity(),
			Message:   msg,
			RunoutETA: t.RunoutETA,
		})
	}
	return alerts
}

// Alerts returns the server alerts, falling back to derived ones
func Alerts(snap *model.Snapshot) []model.Alert {
	if len(snap.Alerts) > 0 {
		return snap.Alerts
	}
	return DeriveAlerts(snap)
}

// CenterAlerts filters alerts raised for one center
func CenterAlerts(alerts []model.Alert, center *model.Center) []model.Alert {
	var out []model.Alert
	for _, a := range alerts {
		if a.Center == center.Name || a.Center == center.ID {
			out = append(out, a)
		}
	}
	return out
}

type centerRank struct {
	worst  model.TankStatus
	alerts int
	warns  int
	minPct float64
}

func rankCenter(c *model.Center) centerRank {
	r := centerRank{worst: c.WorstStatus(), minPct: 100}
	for _, t := range c.Tanks {
		switch t.Status {
		case model.TankAlert, model.TankCritical:
			r.alerts++
		case model.TankWarn:
			r.warns++
		}
		r.minPct = math.Min(r.minPct, t.Percentage)
	}
	return r
}

// SortCentersByAlert orders centers worst first: by worst tank status, then
// the number of alert tanks, warn tanks, lowest level and finally name.
// The input is left untouched.
func SortCentersByAlert(centers []model.Center) []model.Center {
	sorted := make([]model.Center, len(centers))
	copy(sorted, centers)
	ranks := make(map[string]centerRank, len(sorted))
	for i := range sorted {
		ranks[sorted[i].ID] = rankCenter(&sorted[i])
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := ranks[sorted[i].ID], ranks[sorted[j].ID]
		if a.worst != b.worst {
			return a.worst > b.worst
		}
		if a.alerts != b.alerts {
			return a.alerts > b.alerts
		}
		if a.warns != b.warns {
			return a.warns > b.warns
		}
		if a.minPct != b.minPct {
			return a.minPct < b.minPct
		}
		return strings.Compare(sorted[i].Name, sorted[j].Name) < 0
	})
	return sorted
}
