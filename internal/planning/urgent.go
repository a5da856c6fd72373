// Package planning derives the admin planning views from a snapshot: the
// urgent replenishment board, the refill table and derived alerts. It also
// submits manual routes, auto-plan requests and reassignments.
package planning

import (
	"sort"

	"github.com/agsys/depot-dispatch/internal/model"
)

// UrgentTank is a tank below the urgent threshold
type UrgentTank struct {
	TankID     string           `json:"tank_id" yaml:"tank_id"`
	Label      string           `json:"label" yaml:"label"`
	Product    string           `json:"product" yaml:"product"`
	Percentage float64          `json:"percentage" yaml:"percentage"`
	DeficitL   float64          `json:"deficit_l" yaml:"deficit_l"`
	Status     model.TankStatus `json:"status" yaml:"-"`
	RunoutETA  model.Timestamp  `json:"runout_eta" yaml:"-"`
}

// UrgentCenter groups the urgent tanks of one center
type UrgentCenter struct {
	CenterID      string       `json:"center_id" yaml:"center_id"`
	CenterName    string       `json:"center_name" yaml:"center_name"`
	Tanks         []UrgentTank `json:"tanks" yaml:"tanks"`
	MinPercentage float64      `json:"min_percentage" yaml:"min_percentage"`
	TotalDeficitL float64      `json:"total_deficit_l" yaml:"total_deficit_l"`
	// EarliestRunout is zero when no tank reports a runout estimate
	EarliestRunout model.Timestamp `json:"earliest_runout" yaml:"-"`
	// Assigned is set when an open route already has a stop at the center
	Assigned bool `json:"assigned" yaml:"assigned"`
}

// UrgentView is the urgent replenishment board
type UrgentView struct {
	Centers         []UrgentCenter `json:"centers" yaml:"centers"`
	AvailableTrucks []model.Truck  `json:"available_trucks" yaml:"-"`
}

// BuildUrgentView selects the tanks under the urgent threshold, groups them
// by center and orders the centers most urgent first. Equal minimums keep
// the snapshot order.
func BuildUrgentView(snap *model.Snapshot) *UrgentView {
	assigned := assignedCenters(snap)

	index := make(map[string]int)
	var centers []UrgentCenter
	for _, t := range snap.FlatTanks() {
		if t.Percentage >= model.UrgentBelowPct {
			continue
		}
		i, ok := index[t.CenterID]
		if !ok {
			name := t.CenterName
			if name == "" {
				name = snap.CenterName(t.CenterID)
			}
			i = len(centers)
			index[t.CenterID] = i
			centers = append(centers, UrgentCenter{
				CenterID:      t.CenterID,
				CenterName:    name,
				MinPercentage: t.Percentage,
				Assigned:      assigned[t.CenterID],
			})
		}

		c := &centers[i]
		c.Tanks = append(c.Tanks, UrgentTank{
			TankID:     t.ID,
			Label:      t.Label,
			Product:    t.Product,
			Percentage: t.Percentage,
			DeficitL:   t.Deficit(),
			Status:     t.Status,
			RunoutETA:  t.RunoutETA,
		})
		if t.Percentage < c.MinPercentage {
			c.MinPercentage = t.Percentage
		}
		c.TotalDeficitL += t.Deficit()
		if !t.RunoutETA.IsZero() && (c.EarliestRunout.IsZero() || t.RunoutETA.Before(c.EarliestRunout.Time)) {
			c.EarliestRunout = t.RunoutETA
		}
	}

	for i := range centers {
		tanks := centers[i].Tanks
		sort.SliceStable(tanks, func(a, b int) bool { return tanks[a].Percentage < tanks[b].Percentage })
	}
	sort.SliceStable(centers, func(a, b int) bool { return centers[a].MinPercentage < centers[b].MinPercentage })

	return &UrgentView{
		Centers:         centers,
		AvailableTrucks: snap.AvailableTrucks(),
	}
}

// Pending returns the urgent centers no open route covers yet
func (v *UrgentView) Pending() []UrgentCenter {
	var pending []UrgentCenter
	for _, c := range v.Centers {
		if !c.Assigned {
			pending = append(pending, c)
		}
	}
	return pending
}

// CanAutoPlan reports whether an auto-plan request has anything to work with
func (v *UrgentView) CanAutoPlan() bool {
	return len(v.Pending()) > 0 && len(v.AvailableTrucks) > 0
}

// AutoGeneratedRoutes lists the open routes the server planned on its own
func AutoGeneratedRoutes(snap *model.Snapshot) []model.Route {
	var routes []model.Route
	for _, r := range snap.Routes {
		if r.AutoGenerated && !r.Finalized() {
			routes = append(routes, r)
		}
	}
	return routes
}

func assignedCenters(snap *model.Snapshot) map[string]bool {
	assigned := make(map[string]bool)
	for _, r := range snap.Routes {
		if r.Finalized() {
			continue
		}
		for _, s := range r.Stops {
			assigned[s.CenterID] = true
		}
	}
	return assigned
}
