package planning

import (
	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
)

// Assignment is one row of the reassignment form
type Assignment struct {
	RouteID string `json:"route_id" yaml:"route_id"`
	TruckID string `json:"truck_id" yaml:"truck_id"`
	Worker  string `json:"worker" yaml:"worker"`
}

// RowResult is the outcome of one submitted row
type RowResult struct {
	RouteID string
	Request cloud.ReassignRequest
	Err     error
}

// Assignments returns the form rows for the open auto-generated routes
func Assignments(snap *model.Snapshot) []Assignment {
	var rows []Assignment
	for _, r := range AutoGeneratedRoutes(snap) {
		rows = append(rows, Assignment{RouteID: r.ID, TruckID: r.TruckID, Worker: r.Worker})
	}
	return rows
}

// DiffAssignments returns one request per edited row that differs from its
// initial value, carrying only the changed fields. Rows without an initial
// counterpart are ignored.
func DiffAssignments(initial, edited []Assignment) []cloud.ReassignRequest {
	before := make(map[string]Assignment, len(initial))
	for _, a := range initial {
		before[a.RouteID] = a
	}
	var changes []cloud.ReassignRequest
	for _, a := range edited {
		prev, ok := before[a.RouteID]
		if !ok {
			continue
		}
		req := cloud.ReassignRequest{RouteID: a.RouteID}
		if a.TruckID != "" && a.TruckID != prev.TruckID {
			req.TruckID = a.TruckID
		}
		if a.Worker != "" && a.Worker != prev.Worker {
			req.Worker = a.Worker
		}
		if req.TruckID == "" && req.Worker == "" {
			continue
		}
		changes = append(changes, req)
	}
	return changes
}
