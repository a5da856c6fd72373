package planning

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
)

var (
	ErrNothingToPlan = errors.New("no pending urgent centers or free trucks")
	ErrRouteNotFound = errors.New("route not found")
	ErrRouteStarted  = errors.New("route already started")
)

// API is the admin side of the dispatch server
type API interface {
	PlanRoute(ctx context.Context, req cloud.PlanRequest) (*model.Route, error)
	AutoPlan(ctx context.Context) (*cloud.AutoPlanResult, error)
	ReassignRoute(ctx context.Context, req cloud.ReassignRequest) error
	DeleteRoute(ctx context.Context, routeID string) error
}

// Planner submits admin planning actions
type Planner struct {
	api API
	log *logrus.Logger
}

func NewPlanner(api API, log *logrus.Logger) *Planner {
	return &Planner{api: api, log: log}
}

// AutoPlan asks the server to plan routes for the pending urgent centers.
// Nothing is sent when the view has no pending center or no free truck.
func (p *Planner) AutoPlan(ctx context.Context, view *UrgentView) (*cloud.AutoPlanResult, error) {
	if !view.CanAutoPlan() {
		return nil, ErrNothingToPlan
	}
	res, err := p.api.AutoPlan(ctx)
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"created": res.Created,
		"pending": len(view.Pending()),
		"trucks":  len(view.AvailableTrucks),
	}).Info("auto-plan finished")
	return res, nil
}

// SubmitRoute validates the draft and creates the route in one call
func (p *Planner) SubmitRoute(ctx context.Context, snap *model.Snapshot, draft *RouteDraft) (*cloud.PlanRequest, *model.Route, error) {
	req, err := BuildPlan(snap, draft)
	if err != nil {
		return nil, nil, err
	}
	route, err := p.api.PlanRoute(ctx, *req)
	if err != nil {
		return req, nil, err
	}
	p.log.WithFields(logrus.Fields{
		"worker":   req.Worker,
		"truck_id": req.TruckID,
		"stops":    len(req.Stops),
		"load_l":   req.LoadL,
	}).Info("route planned")
	return req, route, nil
}

// Reassign submits the changed rows one call each. Every row gets a
// result; a failure only affects its own row.
func (p *Planner) Reassign(ctx context.Context, initial, edited []Assignment) []RowResult {
	changes := DiffAssignments(initial, edited)
	results := make([]RowResult, 0, len(changes))
	for _, req := range changes {
		err := p.api.ReassignRoute(ctx, req)
		log := p.log.WithFields(logrus.Fields{"route_id": req.RouteID, "truck_id": req.TruckID, "worker": req.Worker})
		if err != nil {
			log.WithError(err).Warn("reassignment rejected")
		} else {
			log.Info("route reassigned")
		}
		results = append(results, RowResult{RouteID: req.RouteID, Request: req, Err: err})
		if errors.Is(err, cloud.ErrAuthExpired) {
			break
		}
	}
	return results
}

// DeleteRoute removes a route that has not been claimed yet
func (p *Planner) DeleteRoute(ctx context.Context, snap *model.Snapshot, routeID string) error {
	r, ok := snap.Route(routeID)
	if !ok {
		return errors.Wrap(ErrRouteNotFound, routeID)
	}
	if r.Status != model.RoutePlanned {
		return errors.Wrapf(ErrRouteStarted, "%s is %s", r.ID, r.Status.Label())
	}
	if err := p.api.DeleteRoute(ctx, routeID); err != nil {
		return err
	}
	p.log.WithField("route_id", routeID).Info("route deleted")
	return nil
}
