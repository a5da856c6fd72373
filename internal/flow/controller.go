// Package flow drives a worker through a delivery route: claim the truck,
// arrive at and complete each stop, then close the route at the warehouse.
// Every action re-reads the server state first and refuses locally when the
// scan does not match where the route is.
package flow

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/qr"
	"github.com/agsys/depot-dispatch/internal/session"
	"github.com/agsys/depot-dispatch/internal/storage"
)

// API is the set of server mutations the flow performs
type API interface {
	Login(ctx context.Context, req cloud.LoginRequest) (*cloud.LoginResult, error)
	ClaimRoute(ctx context.Context, worker, truckID string) (*model.Route, error)
	ArriveStop(ctx context.Context, routeID string) (*model.Route, error)
	CompleteStop(ctx context.Context, req cloud.CompleteStopRequest) (*model.Route, error)
	ArriveWarehouse(ctx context.Context, routeID string, success bool) (*model.Route, error)
}

// StateSource returns a fresh snapshot
type StateSource interface {
	Fetch(ctx context.Context) (*model.Snapshot, error)
}

// Journal records scans. Optional.
type Journal interface {
	InsertScan(ctx context.Context, e *storage.ScanEntry) error
}

// Controller runs the route steps for the worker in the session store.
// Steps run one at a time so that two reads of the same label see the
// state left by the first.
type Controller struct {
	mu      sync.Mutex
	api     API
	state   StateSource
	session *session.Store
	journal Journal
	log     *logrus.Logger
	now     func() time.Time
}

// NewController creates a controller. journal may be nil.
func NewController(api API, state StateSource, store *session.Store, journal Journal, log *logrus.Logger) *Controller {
	return &Controller{
		api:     api,
		state:   state,
		session: store,
		journal: journal,
		log:     log,
		now:     time.Now,
	}
}

// =============================================================================
// Session
// =============================================================================

// Login authenticates a worker, points the session at the worker's open
// route if there is one and picks the next step from any parked scan.
func (c *Controller) Login(ctx context.Context, username, password string) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	res, err := c.api.Login(ctx, cloud.LoginRequest{Username: username, Password: password, Role: string(session.RoleWorker)})
	if err != nil {
		return nil, err
	}
	if err := c.session.SaveWorker(ctx, res.User); err != nil {
		return nil, err
	}
	log := c.log.WithField("worker", res.User)
	log.Info("worker logged in")

	out := &Outcome{Step: StepDeparture}
	if snap, err := c.state.Fetch(ctx); err != nil {
		log.WithError(err).Warn("could not load routes after login")
	} else if r := firstOpenRoute(snap, res.User); r != nil {
		if err := c.session.SetActiveRouteID(ctx, r.ID); err != nil {
			return nil, err
		}
		out.RouteID = r.ID
	}

	if raw, ok := c.session.PendingScan.Peek(ctx); ok {
		out.Pending = true
		if p, err := qr.Parse(raw); err == nil {
			switch p.Kind() {
			case qr.KindCenter:
				out.Step = StepDestination
			case qr.KindWarehouse:
				out.Step = StepReturn
			}
		}
	}
	return out, nil
}

// LoginAdmin authenticates an admin. Worker state, including a parked
// scan, is dropped.
func (c *Controller) LoginAdmin(ctx context.Context, username, password string) (*Outcome, error) {
	res, err := c.api.Login(ctx, cloud.LoginRequest{Username: username, Password: password, Role: string(session.RoleAdmin)})
	if err != nil {
		return nil, err
	}
	if err := c.session.SaveAdmin(ctx, res.User); err != nil {
		return nil, err
	}
	if err := c.session.Clear(ctx, session.KeyActiveRoute); err != nil {
		return nil, err
	}
	if err := c.session.PendingScan.Discard(ctx); err != nil {
		return nil, err
	}
	c.log.WithField("admin", res.User).Info("admin logged in")
	return &Outcome{Step: StepHome}, nil
}

// =============================================================================
// Scans
// =============================================================================

// HandleScan dispatches one scanned QR text
func (c *Controller) HandleScan(ctx context.Context, raw string) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	p, err := qr.Parse(raw)
	if err != nil {
		c.record(ctx, raw, nil, "", "", storage.ScanRejected, "unrecognized")
		return nil, invalid(ReasonUnrecognizedQR, "", "QR not recognized")
	}

	if _, ok := c.session.Admin(ctx); ok {
		c.record(ctx, raw, p, "", "", storage.ScanIgnored, "admin session")
		return nil, invalid(ReasonAdminScan, "", "admin session: scan ignored")
	}

	worker, ok := c.session.Worker(ctx)
	if !ok {
		if err := c.session.PendingScan.Put(ctx, qr.Format(p)); err != nil {
			return nil, err
		}
		c.record(ctx, raw, p, "", "", storage.ScanDeferred, "no worker session")
		return &Outcome{Step: StepLogin, Deferred: true, Pending: true, Notice: "Log in as a worker to continue"}, nil
	}

	var out *Outcome
	switch p := p.(type) {
	case qr.Truck:
		out, err = c.claim(ctx, worker.User, p.TruckID)
	case qr.Center:
		out, err = c.arrive(ctx, worker.User, p, false)
	case qr.Warehouse:
		out, err = c.closeRoute(ctx, worker.User, p, false)
	}
	c.recordResult(ctx, raw, p, worker.User, out, err)
	return out, c.fail(ctx, err)
}

// Resume applies the scan parked in the mailbox, if any, against fresh
// state. A scan whose transition already happened is dropped. A scan that
// still cannot be acted on goes back in the mailbox. The pending flow
// notice is returned once.
func (c *Controller) Resume(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	notice, _, err := c.session.FlowNotice.Take(ctx)
	if err != nil {
		return nil, err
	}

	worker, ok := c.session.Worker(ctx)
	if !ok {
		_, pending := c.session.PendingScan.Peek(ctx)
		return &Outcome{Step: StepLogin, Notice: notice, Pending: pending}, nil
	}

	raw, ok, err := c.session.PendingScan.Take(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		snap, err := c.state.Fetch(ctx)
		if err != nil {
			return nil, c.fail(ctx, err)
		}
		route, err := c.resolveRoute(ctx, snap, worker.User)
		if err != nil {
			return nil, err
		}
		out := &Outcome{Step: StepFor(route), Notice: notice}
		if route != nil {
			out.RouteID = route.ID
			out.Route = route
		}
		return out, nil
	}

	p, err := qr.Parse(raw)
	if err != nil {
		c.log.WithField("raw", raw).Warn("dropping unreadable parked scan")
		return &Outcome{Step: StepDeparture, Notice: notice, Discarded: true}, nil
	}

	var out *Outcome
	switch p := p.(type) {
	case qr.Truck:
		out, err = c.claim(ctx, worker.User, p.TruckID)
	case qr.Center:
		out, err = c.arrive(ctx, worker.User, p, true)
	case qr.Warehouse:
		out, err = c.closeRoute(ctx, worker.User, p, true)
	}
	c.recordResult(ctx, raw, p, worker.User, out, err)
	if out != nil && out.Notice == "" {
		out.Notice = notice
	}
	return out, c.fail(ctx, err)
}

// =============================================================================
// Transitions
// =============================================================================

// Claim activates the planned route of the truck for the logged in worker
func (c *Controller) Claim(ctx context.Context, truckID string) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	worker, ok := c.session.Worker(ctx)
	if !ok {
		return nil, invalid(ReasonNoSession, "", "log in as a worker first")
	}
	out, err := c.claim(ctx, worker.User, truckID)
	return out, c.fail(ctx, err)
}

// ArriveStop records arrival at the current stop for a scanned center
func (c *Controller) ArriveStop(ctx context.Context, scan qr.Center) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	worker, ok := c.session.Worker(ctx)
	if !ok {
		return nil, invalid(ReasonNoSession, "", "log in as a worker first")
	}
	out, err := c.arrive(ctx, worker.User, scan, false)
	return out, c.fail(ctx, err)
}

// CompleteStop closes the current stop. The server decides whether another
// stop follows or the route turns back to the warehouse.
func (c *Controller) CompleteStop(ctx context.Context, deliveredL float64, note string) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	worker, ok := c.session.Worker(ctx)
	if !ok {
		return nil, invalid(ReasonNoSession, "", "log in as a worker first")
	}
	if deliveredL < 0 || math.IsNaN(deliveredL) || math.IsInf(deliveredL, 0) {
		return nil, invalid(ReasonInvalidLiters, "", "delivered liters must be zero or more")
	}

	snap, err := c.state.Fetch(ctx)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	route, err := c.resolveRoute(ctx, snap, worker.User)
	if err != nil {
		return nil, err
	}
	if route == nil || !route.Active() {
		return nil, invalid(ReasonNoActiveRoute, "", "no active route for %s", worker.User)
	}
	stop, ok := route.CurrentStop()
	if !ok {
		return nil, invalid(ReasonNoStopsLeft, "", "route %s has no stops left", route.ID)
	}
	if !stop.Arrived() {
		return nil, invalid(ReasonNotArrived, stop.CenterID, "scan the QR at %s before closing the stop", snap.CenterName(stop.CenterID))
	}
	if stop.Departed() {
		return nil, invalid(ReasonAlreadyDeparted, "", "stop already closed")
	}

	updated, err := c.api.CompleteStop(ctx, cloud.CompleteStopRequest{RouteID: route.ID, DeliveredL: deliveredL, Note: note})
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	if updated == nil {
		updated = route
	}
	if err := c.session.SetActiveRouteID(ctx, route.ID); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"route_id":    route.ID,
		"worker":      worker.User,
		"center_id":   stop.CenterID,
		"delivered_l": deliveredL,
		"status":      updated.Status.String(),
	}).Info("stop completed")

	out := &Outcome{Step: StepDestination, RouteID: route.ID, Route: updated, Applied: true, Notice: "Stop closed"}
	if updated.Status == model.RouteReturning {
		out.Step = StepReturn
		out.Notice = "Delivery done. Scan the warehouse QR on return."
	}
	return out, nil
}

// ArriveWarehouse closes the returning route
func (c *Controller) ArriveWarehouse(ctx context.Context, scan qr.Warehouse) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()


	worker, ok := c.session.Worker(ctx)
	if !ok {
		return nil, invalid(ReasonNoSession, "", "log in as a worker first")
	}
	out, err := c.closeRoute(ctx, worker.User, scan, false)
	return out, c.fail(ctx, err)
}

func (c *Controller) claim(ctx context.Context, worker, truckID string) (*Outcome, error) {
	snap, err := c.state.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	open, err := claimedRoutes(snap, worker)
	if err != nil {
		return nil, err
	}
	if len(open) == 1 {
		r := open[0]
		if err := c.session.SetActiveRouteID(ctx, r.ID); err != nil {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{"route_id": r.ID, "worker": worker}).Info("resuming route in progress")
		return &Outcome{Step: StepFor(r), RouteID: r.ID, Route: r, Notice: "Route " + r.ID + " already in progress", Pending: c.hasPending(ctx)}, nil
	}

	if mine := plannedFor(snap, worker); mine != nil && mine.TruckID != truckID {
		return nil, invalid(ReasonWrongTruck, mine.TruckID, "that QR is not your truck, go to %s", mine.TruckID)
	}

	route, err := c.api.ClaimRoute(ctx, worker, truckID)
	if err != nil {
		return nil, err
	}
	if route == nil {
		if r, ok := snap.PlannedRouteForTruck(truckID); ok {
			route = r
		} else {
			return nil, errors.Errorf("claim of %s returned no route", truckID)
		}
	}
	if err := c.session.SetActiveRouteID(ctx, route.ID); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{"route_id": route.ID, "worker": worker, "truck_id": truckID}).Info("route claimed")
	return &Outcome{
		Step:    StepDestination,
		RouteID: route.ID,
		Route:   route,
		Applied: true,
		Notice:  "Route " + route.ID + " started",
		Pending: c.hasPending(ctx),
	}, nil
}

func (c *Controller) arrive(ctx context.Context, worker string, scan qr.Center, resumed bool) (*Outcome, error) {
	if _, ok := c.session.ActiveRouteID(ctx); !ok {
		return c.park(ctx, scan, "Scan your truck QR first to start the route")
	}

	snap, err := c.state.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	route, err := c.resolveRoute(ctx, snap, worker)
	if err != nil {
		return nil, err
	}
	if route == nil || !route.Active() {
		return c.park(ctx, scan, "Scan your truck QR first to start the route")
	}

	stop, ok := route.CurrentStop()
	if !ok {
		if resumed {
			return discarded(route), nil
		}
		return nil, invalid(ReasonNoStopsLeft, "", "route %s has no stops left", route.ID)
	}
	if stop.Arrived() && resumed {
		return discarded(route), nil
	}
	if err := checkCenterScan(snap, stop, scan); err != nil {
		return nil, err
	}
	if stop.Arrived() {
		return &Outcome{Step: StepDestination, RouteID: route.ID, Route: route, Notice: "Arrival already recorded"}, nil
	}

	updated, err := c.api.ArriveStop(ctx, route.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = route
	}
	if err := c.session.SetActiveRouteID(ctx, route.ID); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"route_id":  route.ID,
		"worker":    worker,
		"center_id": stop.CenterID,
		"tank_id":   stop.TankID,
	}).Info("arrival recorded")
	return &Outcome{Step: StepDestination, RouteID: route.ID, Route: updated, Applied: true, Notice: "Arrival recorded"}, nil
}

func (c *Controller) closeRoute(ctx context.Context, worker string, scan qr.Warehouse, resumed bool) (*Outcome, error) {
	if _, ok := c.session.ActiveRouteID(ctx); !ok {
		return c.park(ctx, scan, "Scan your truck QR first to start the route")
	}

	snap, err := c.state.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	route, err := c.resolveRoute(ctx, snap, worker)
	if err != nil {
		return nil, err
	}
	if route == nil || route.Status == model.RoutePlanned {
		return c.park(ctx, scan, "Scan your truck QR first to start the route")
	}
	if route.Finalized() {
		if resumed {
			return discarded(route), nil
		}
		return nil, invalid(ReasonAlreadyClosed, "", "route %s is already closed", route.ID)
	}
	if route.Status != model.RouteReturning {
		if resumed {
			if err := c.session.PendingScan.Put(ctx, qr.Format(scan)); err != nil {
				return nil, err
			}
			return &Outcome{Step: StepFor(route), RouteID: route.ID, Route: route, Pending: true,
				Notice: "Warehouse scan kept until the last stop is closed"}, nil
		}
		return nil, invalid(ReasonNotReturning, "", "route %s is not returning yet", route.ID)
	}

	updated, err := c.api.ArriveWarehouse(ctx, route.ID, true)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = route
	}

	c.log.WithFields(logrus.Fields{"route_id": route.ID, "worker": worker, "warehouse": scan.ID}).Info("route closed")
	return &Outcome{Step: StepHome, RouteID: route.ID, Route: updated, Applied: true, Notice: "Route closed"}, nil
}

// park parks the scan and points the operator at the truck claim step
func (c *Controller) park(ctx context.Context, p qr.Payload, notice string) (*Outcome, error) {
	if err := c.session.PendingScan.Put(ctx, qr.Format(p)); err != nil {
		return nil, err
	}
	if err := c.session.FlowNotice.Put(ctx, notice); err != nil {
		return nil, err
	}
	c.log.WithField("kind", p.Kind()).Info("scan parked until a route is active")
	return &Outcome{Step: StepDeparture, Deferred: true, Pending: true, Notice: notice}, nil
}

func (c *Controller) hasPending(ctx context.Context) bool {
	_, ok := c.session.PendingScan.Peek(ctx)
	return ok
}

// fail clears the session when the server no longer accepts it
func (c *Controller) fail(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cloud.ErrAuthExpired) {
		c.log.Warn("server session expired, clearing local session")
		if cerr := c.session.ClearAll(ctx); cerr != nil {
			c.log.WithError(cerr).Error("failed to clear session")
		}
	}
	return err
}

func discarded(route *model.Route) *Outcome {
	return &Outcome{Step: StepFor(route), RouteID: route.ID, Route: route, Discarded: true}
}

// checkCenterScan validates a center scan against the current stop, in
// order: payload type, center, tank
func checkCenterScan(snap *model.Snapshot, stop *model.Stop, scan qr.Payload) error {
	center, ok := scan.(qr.Center)
	if !ok {
		return invalid(ReasonWrongQRType, "", "that QR is not a center label")
	}
	if center.CenterID != stop.CenterID {
		name := snap.CenterName(stop.CenterID)
		return invalid(ReasonWrongCenter, stop.CenterID, "that QR is not the current stop, go to %s", name)
	}
	if center.TankID != "" && center.TankID != stop.TankID {
		label := stop.TankID
		if t, ok := snap.Tank(stop.CenterID, stop.TankID); ok && t.Label != "" {
			label = t.Label
		}
		return invalid(ReasonWrongTank, stop.TankID, "that QR belongs to another tank, look for %s", label)
	}
	return nil
}

// =============================================================================
// Route resolution
// =============================================================================

// resolveRoute finds the route the worker is on. The active pointer wins
// while it names an open route; otherwise the worker's single claimed route
// is used; a closed pointer is returned last so a repeated warehouse scan
// can report it.
func (c *Controller) resolveRoute(ctx context.Context, snap *model.Snapshot, worker string) (*model.Route, error) {
	var pointed *model.Route
	if id, ok := c.session.ActiveRouteID(ctx); ok {
		if r, ok := snap.Route(id); ok && (r.Worker == worker || r.Worker == "") {
			pointed = r
		}
	}

	if pointed != nil && !pointed.Finalized() {
		if _, err := claimedRoutes(snap, worker); err != nil {
			c.log.WithError(err).WithField("route_id", pointed.ID).
				Warn("worker has several open routes, following the active pointer")
		}
		return pointed, nil
	}

	open, err := claimedRoutes(snap, worker)
	if err != nil {
		return nil, err
	}
	if len(open) == 1 {
		if err := c.session.SetActiveRouteID(ctx, open[0].ID); err != nil {
			return nil, err
		}
		return open[0], nil
	}
	return pointed, nil
}

// claimedRoutes returns the worker's claimed, open routes. More than one is
// a conflict.
func claimedRoutes(snap *model.Snapshot, worker string) ([]*model.Route, error) {
	var open []*model.Route
	for _, r := range snap.OpenRoutes(worker) {
		if r.Status != model.RoutePlanned {
			open = append(open, r)
		}
	}
	if len(open) > 1 {
		ids := make([]string, len(open))
		for i, r := range open {
			ids[i] = r.ID
		}
		return open, &ConflictError{Worker: worker, RouteIDs: ids}
	}
	return open, nil
}

func plannedFor(snap *model.Snapshot, worker string) *model.Route {
	for _, r := range snap.OpenRoutes(worker) {
		if r.Status == model.RoutePlanned {
			return r
		}
	}
	return nil
}

// firstOpenRoute prefers a claimed route over a planned one
func firstOpenRoute(snap *model.Snapshot, worker string) *model.Route {
	open := snap.OpenRoutes(worker)
	for _, r := range open {
		if r.Status != model.RoutePlanned {
			return r
		}
	}
	if len(open) > 0 {
		return open[0]
	}
	return nil
}

// =============================================================================
// Journal
// =============================================================================

func (c *Controller) recordResult(ctx context.Context, raw string, p qr.Payload, worker string, out *Outcome, err error) {
	outcome := storage.ScanApplied
	detail := ""
	routeID := ""
	switch {
	case err != nil && IsValidation(err):
		outcome = storage.ScanRejected
		detail = err.Error()
	case err != nil:
		outcome = storage.ScanFailed
		detail = err.Error()
	case out == nil:
	case out.Deferred:
		outcome = storage.ScanDeferred
		detail = out.Notice
	case out.Discarded || !out.Applied:
		outcome = storage.ScanIgnored
		detail = out.Notice
	}
	if out != nil {
		routeID = out.RouteID
	}
	c.record(ctx, raw, p, worker, routeID, outcome, detail)
}

func (c *Controller) record(ctx context.Context, raw string, p qr.Payload, worker, routeID string, outcome storage.ScanOutcome, detail string) {
	if c.journal == nil {
		return
	}
	entry := &storage.ScanEntry{
		ID:        uuid.NewString(),
		Raw:       raw,
		Worker:    worker,
		RouteID:   routeID,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: c.now().UTC(),
	}
	if p != nil {
		entry.Kind = string(p.Kind())
	}
	if err := c.journal.InsertScan(ctx, entry); err != nil {
		c.log.WithError(err).Warn("failed to journal scan")
	}
}
