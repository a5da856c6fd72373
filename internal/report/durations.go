// Package report builds the admin reports: time spent unloading at each
// stop and the filtered delivery log. Both export to CSV.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/agsys/depot-dispatch/internal/model"
)

// UnassignedWorker labels stops of routes no worker claimed
const UnassignedWorker = "unassigned"

// StopDuration is the time between arrival and departure at one stop
type StopDuration struct {
	RouteID  string    `csv:"route_id" json:"route_id"`
	CenterID string    `csv:"center_id" json:"center_id"`
	TankID   string    `csv:"tank_id" json:"tank_id"`
	Worker   string    `csv:"worker" json:"worker"`
	Minutes  int       `csv:"minutes" json:"minutes"`
	Arrival  time.Time `csv:"arrival" json:"arrival"`
}

// Filter narrows a report. Empty fields match everything.
type Filter struct {
	CenterID string
	Worker   string
}

func (f Filter) match(centerID, worker string) bool {
	return (f.CenterID == "" || f.CenterID == centerID) && (f.Worker == "" || f.Worker == worker)
}

// StopDurations lists every stop with both arrival and departure recorded,
// rounded to whole minutes and never negative
func StopDurations(routes []model.Route) []StopDuration {
	var rows []StopDuration
	for _, r := range routes {
		worker := r.Worker
		if worker == "" {
			worker = UnassignedWorker
		}
		for _, s := range r.Stops {
			if !s.Arrived() || !s.Departed() {
				continue
			}
			minutes := int(math.Round(s.DepartAt.Sub(s.ArrivalAt.Time).Minutes()))
			if minutes < 0 {
				minutes = 0
			}
			rows = append(rows, StopDuration{
				RouteID:  r.ID,
				CenterID: s.CenterID,
				TankID:   s.TankID,
				Worker:   worker,
				Minutes:  minutes,
				Arrival:  s.ArrivalAt.Time,
			})
		}
	}
	return rows
}

// FilterDurations keeps the rows matching the filter
func FilterDurations(rows []StopDuration, f Filter) []StopDuration {
	var out []StopDuration
	for _, row := range rows {
		if f.match(row.CenterID, row.Worker) {
			out = append(out, row)
		}
	}
	return out
}

// WorkerTotal is the unloading time of one worker at a center
type WorkerTotal struct {
	Worker  string `json:"worker" yaml:"worker"`
	Minutes int    `json:"minutes" yaml:"minutes"`
}

// CenterTotals groups unloading time per worker for one center
type CenterTotals struct {
	CenterID   string        `json:"center_id" yaml:"center_id"`
	CenterName string        `json:"center_name" yaml:"center_name"`
	Workers    []WorkerTotal `json:"workers" yaml:"workers"`
}

// TotalsByCenter sums the rows per center and worker. Centers keep their
// first appearance order; workers are sorted by time spent, longest first.
func TotalsByCenter(snap *model.Snapshot, rows []StopDuration) []CenterTotals {
	index := make(map[string]int)
	sums := make([]map[string]int, 0)
	var totals []CenterTotals
	for _, row := range rows {
		i, ok := index[row.CenterID]
		if !ok {
			i = len(totals)
			index[row.CenterID] = i
			totals = append(totals, CenterTotals{CenterID: row.CenterID, CenterName: snap.CenterName(row.CenterID)})
			sums = append(sums, make(map[string]int))
		}
		sums[i][row.Worker] += row.Minutes
	}
	for i := range totals {
		for w, m := range sums[i] {
			totals[i].Workers = append(totals[i].Workers, WorkerTotal{Worker: w, Minutes: m})
		}
		workers := totals[i].Workers
		sort.Slice(workers, func(a, b int) bool {
			if workers[a].Minutes != workers[b].Minutes {
				return workers[a].Minutes > workers[b].Minutes
			}
			return workers[a].Worker < workers[b].Worker
		})
	}
	return totals
}
