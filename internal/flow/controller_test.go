package flow

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
	"github.com/agsys/depot-dispatch/internal/qr"
	"github.com/agsys/depot-dispatch/internal/session"
	"github.com/agsys/depot-dispatch/internal/storage"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Login(ctx context.Context, req cloud.LoginRequest) (*cloud.LoginResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*cloud.LoginResult)
	return res, args.Error(1)
}

func (m *mockAPI) ClaimRoute(ctx context.Context, worker, truckID string) (*model.Route, error) {
	args := m.Called(ctx, worker, truckID)
	r, _ := args.Get(0).(*model.Route)
	return r, args.Error(1)
}

func (m *mockAPI) ArriveStop(ctx context.Context, routeID string) (*model.Route, error) {
	args := m.Called(ctx, routeID)
	r, _ := args.Get(0).(*model.Route)
	return r, args.Error(1)
}

func (m *mockAPI) CompleteStop(ctx context.Context, req cloud.CompleteStopRequest) (*model.Route, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*model.Route)
	return r, args.Error(1)
}

func (m *mockAPI) ArriveWarehouse(ctx context.Context, routeID string, success bool) (*model.Route, error) {
	args := m.Called(ctx, routeID, success)
	r, _ := args.Get(0).(*model.Route)
	return r, args.Error(1)
}

type fakeState struct {
	snap  *model.Snapshot
	err   error
	calls int
}

func (f *fakeState) Fetch(ctx context.Context) (*model.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type harness struct {
	ctrl  *Controller
	api   *mockAPI
	state *fakeState
	store *session.Store
	db    *storage.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "depot-flow-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	db, err := storage.Open(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpFile.Name())
	})

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := session.NewStore(session.NewSQLiteBackend(db), log)
	api := &mockAPI{}
	state := &fakeState{}
	return &harness{
		ctrl:  NewController(api, state, store, db, log),
		api:   api,
		state: state,
		store: store,
		db:    db,
	}
}

func (h *harness) loginWorker(t *testing.T, user string) {
	t.Helper()
	require.NoError(t, h.store.SaveWorker(context.Background(), user))
}

func depot(routes ...model.Route) *model.Snapshot {
	snap := &model.Snapshot{
		Centers: []model.Center{
			{ID: "c1", Name: "Nijar", Tanks: []model.Tank{{ID: "t1", Label: "Tank A"}, {ID: "t3", Label: "Tank C"}}},
			{ID: "c2", Name: "Campohermoso", Tanks: []model.Tank{{ID: "t2", Label: "Tank B"}}},
		},
		Trucks: []model.Truck{
			{ID: "TR-01", Status: model.TruckParked},
			{ID: "TR-02", Status: model.TruckParked},
		},
	}
	for _, r := range routes {
		if r.Finalized() {
			snap.RouteHistory = append(snap.RouteHistory, r)
		} else {
			snap.Routes = append(snap.Routes, r)
		}
	}
	return snap
}

func route(id, worker, truck string, status model.RouteStatus, idx int, stops ...model.Stop) model.Route {
	return model.Route{ID: id, Worker: worker, TruckID: truck, Status: status, CurrentStopIdx: idx, Stops: stops}
}

func stop(center, tank string, arrived bool) model.Stop {
	s := model.Stop{CenterID: center, TankID: tank, Liters: 500, Status: model.StopPending}
	if arrived {
		s.ArrivalAt, _ = model.ParseTimestamp("2024-05-02T10:00:00")
		s.Status = model.StopUnloading
	}
	return s
}

func TestClaimScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RoutePlanned, 0, stop("c1", "t1", false)))
	claimed := route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false))
	h.api.On("ClaimRoute", mock.Anything, "w1", "TR-01").Return(&claimed, nil).Once()

	out, err := h.ctrl.HandleScan(ctx, "/scan?type=truck&id=TR-01")
	require.NoError(t, err)
	assert.Equal(t, StepDestination, out.Step)
	assert.True(t, out.Applied)
	assert.Equal(t, "R1", out.RouteID)

	id, ok := h.store.ActiveRouteID(ctx)
	require.True(t, ok)
	assert.Equal(t, "R1", id)
	h.api.AssertExpectations(t)

	scans, err := h.db.RecentScans(ctx, 5)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, storage.ScanApplied, scans[0].Outcome)
	assert.Equal(t, "truck", scans[0].Kind)
}

func TestClaimWrongTruckNamesTheRightOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RoutePlanned, 0, stop("c1", "t1", false)))

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=truck&id=TR-02")
	require.ErrorIs(t, err, ErrWrongTruck)
	var v *ValidationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "TR-01", v.Expected)
	assert.Contains(t, err.Error(), "TR-01")
	h.api.AssertNotCalled(t, "ClaimRoute", mock.Anything, mock.Anything, mock.Anything)

	_, ok := h.store.ActiveRouteID(ctx)
	assert.False(t, ok)
}

func TestClaimResumesRouteInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(route("R7", "w1", "TR-02", model.RouteReturning, 1, stop("c1", "t1", true)))

	out, err := h.ctrl.Claim(ctx, "TR-02")
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, StepReturn, out.Step)
	assert.Equal(t, "R7", out.RouteID)
	h.api.AssertNotCalled(t, "ClaimRoute", mock.Anything, mock.Anything, mock.Anything)

	id, _ := h.store.ActiveRouteID(ctx)
	assert.Equal(t, "R7", id)
}

func TestClaimRejectionSurfacesVerbatim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(route("R1", "", "TR-01", model.RoutePlanned, 0, stop("c1", "t1", false)))
	h.api.On("ClaimRoute", mock.Anything, "w1", "TR-01").
		Return(nil, &cloud.RejectedError{Message: "Ruta asignada a otro operario"}).Once()

	_, err := h.ctrl.Claim(ctx, "TR-01")
	msg, ok := cloud.IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "Ruta asignada a otro operario", msg)

	_, ok = h.store.ActiveRouteID(ctx)
	assert.False(t, ok)
}

func TestClaimConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(
		route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)),
		route("R2", "w1", "TR-02", model.RouteEnRoute, 0, stop("c2", "t2", false)),
	)

	_, err := h.ctrl.Claim(ctx, "TR-01")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.ElementsMatch(t, []string{"R1", "R2"}, conflict.RouteIDs)
}

func TestCenterScanWrongCenterIsLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c2&tank_id=t2")
	require.ErrorIs(t, err, ErrWrongCenter)
	assert.Contains(t, err.Error(), "Nijar")
	h.api.AssertNotCalled(t, "ArriveStop", mock.Anything, mock.Anything)

	scans, err := h.db.RecentScans(ctx, 5)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, storage.ScanRejected, scans[0].Outcome)
}

func TestCenterScanWrongTank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1&tank_id=t3")
	require.ErrorIs(t, err, ErrWrongTank)
	assert.Contains(t, err.Error(), "Tank A")
	h.api.AssertNotCalled(t, "ArriveStop", mock.Anything, mock.Anything)
}

func TestCenterScanNoStopsLeft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 1, stop("c1", "t1", true)))

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1")
	require.ErrorIs(t, err, ErrNoStopsLeft)
}

func TestWrongQRTypeCheck(t *testing.T) {
	snap := depot()
	s := stop("c1", "t1", false)
	err := checkCenterScan(snap, &s, qr.Warehouse{ID: "main"})
	assert.ErrorIs(t, err, ErrWrongQRType)
	assert.NoError(t, checkCenterScan(snap, &s, qr.Center{CenterID: "c1"}))
}

func TestConcurrentClaimsCallServerOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RoutePlanned, 0, stop("c1", "t1", false)))
	claimed := route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false))
	h.api.On("ClaimRoute", mock.Anything, "w1", "TR-01").
		Run(func(mock.Arguments) { h.state.snap = depot(claimed) }).
		Return(&claimed, nil).Once()

	outs := make([]*Outcome, 2)
	var wg sync.WaitGroup
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.ctrl.HandleScan(ctx, "/scan?type=truck&id=TR-01")
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	h.api.AssertNumberOfCalls(t, "ClaimRoute", 1)
	applied := 0
	for _, out := range outs {
		require.NotNil(t, out)
		assert.Equal(t, "R1", out.RouteID)
		if out.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
}

func TestArrivalAppliedOnceOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))
	arrived := route("R1", "w1", "TR-01", model.RouteAtDestination, 0, stop("c1", "t1", true))
	h.api.On("ArriveStop", mock.Anything, "R1").Return(&arrived, nil).Once()

	out, err := h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1&tank_id=t1")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	// the server now reports the arrival; replaying the scan is a no-op
	h.state.snap = depot(arrived)
	out, err = h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1&tank_id=t1")
	require.NoError(t, err)
	assert.False(t, out.Applied)

	require.NoError(t, h.store.PendingScan.Put(ctx, qr.Format(qr.Center{CenterID: "c1", TankID: "t1"})))
	out, err = h.ctrl.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, out.Discarded)

	_, ok := h.store.PendingScan.Peek(ctx)
	assert.False(t, ok)
	h.api.AssertNumberOfCalls(t, "ArriveStop", 1)
}

func TestCenterScanWithoutActiveRouteIsParked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RoutePlanned, 0, stop("c1", "t1", false)))

	out, err := h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1&tank_id=t1")
	require.NoError(t, err)
	assert.True(t, out.Deferred)
	assert.Equal(t, StepDeparture, out.Step)
	assert.Equal(t, 0, h.state.calls, "no state read needed to park the scan")
	h.api.AssertNotCalled(t, "ArriveStop", mock.Anything, mock.Anything)

	parked, ok := h.store.PendingScan.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, qr.Format(qr.Center{CenterID: "c1", TankID: "t1"}), parked)

	// claiming the truck keeps the parked scan
	claimed := route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false))
	h.api.On("ClaimRoute", mock.Anything, "w1", "TR-01").Return(&claimed, nil).Once()
	out, err = h.ctrl.HandleScan(ctx, "/scan?type=truck&id=TR-01")
	require.NoError(t, err)
	assert.True(t, out.Pending)

	// once the route is active the parked scan applies
	h.state.snap = depot(claimed)
	arrived := route("R1", "w1", "TR-01", model.RouteAtDestination, 0, stop("c1", "t1", true))
	h.api.On("ArriveStop", mock.Anything, "R1").Return(&arrived, nil).Once()

	out, err = h.ctrl.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, "Arrival recorded", out.Notice)
	h.api.AssertExpectations(t)

	_, ok = h.store.FlowNotice.Peek(ctx)
	assert.False(t, ok, "the flow notice is shown once")
}

func TestWarehouseScanWithoutActiveRouteIsParked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")

	out, err := h.ctrl.HandleScan(ctx, "/scan?type=warehouse")
	require.NoError(t, err)
	assert.True(t, out.Deferred)
	h.api.AssertNotCalled(t, "ArriveWarehouse", mock.Anything, mock.Anything, mock.Anything)

	notice, ok := h.store.FlowNotice.Peek(ctx)
	require.True(t, ok)
	assert.NotEmpty(t, notice)
}

func TestResumeKeepsScanThatCannotApplyYet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))
	require.NoError(t, h.store.PendingScan.Put(ctx, qr.Format(qr.Warehouse{ID: "main"})))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))

	out, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, out.Pending)
	_, ok := h.store.PendingScan.Peek(ctx)
	assert.True(t, ok)
	h.api.AssertNotCalled(t, "ArriveWarehouse", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompleteStopValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))

	_, err := h.ctrl.CompleteStop(ctx, -5, "")
	assert.ErrorIs(t, err, ErrInvalidLiters)

	_, err = h.ctrl.CompleteStop(ctx, 100, "")
	assert.ErrorIs(t, err, ErrNotArrived)
	h.api.AssertNotCalled(t, "CompleteStop", mock.Anything, mock.Anything)
}

func TestFinalStopReturnAndCloseScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteAtDestination, 0, stop("c1", "t1", true)))
	returning := route("R1", "w1", "TR-01", model.RouteReturning, 1, stop("c1", "t1", true))
	h.api.On("CompleteStop", mock.Anything, cloud.CompleteStopRequest{RouteID: "R1", DeliveredL: 480, Note: "ok"}).
		Return(&returning, nil).Once()

	out, err := h.ctrl.CompleteStop(ctx, 480, "ok")
	require.NoError(t, err)
	assert.Equal(t, StepReturn, out.Step)

	h.state.snap = depot(returning)
	closed := route("R1", "w1", "TR-01", model.RouteFinalized, 1, stop("c1", "t1", true))
	h.api.On("ArriveWarehouse", mock.Anything, "R1", true).Return(&closed, nil).Once()

	out, err = h.ctrl.HandleScan(ctx, "/scan?type=warehouse&id=main")
	require.NoError(t, err)
	assert.Equal(t, StepHome, out.Step)
	assert.True(t, out.Applied)

	h.state.snap = depot(closed)
	_, err = h.ctrl.HandleScan(ctx, "/scan?type=warehouse&id=main")
	require.ErrorIs(t, err, ErrAlreadyClosed)
	h.api.AssertNumberOfCalls(t, "ArriveWarehouse", 1)

	// a closed route no longer accepts center scans; they wait for the next claim
	out, err = h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1")
	require.NoError(t, err)
	assert.True(t, out.Deferred)
}

func TestWarehouseScanBeforeReturning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=warehouse")
	require.ErrorIs(t, err, ErrNotReturning)
	h.api.AssertNotCalled(t, "ArriveWarehouse", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminSessionIgnoresScans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveAdmin(ctx, "admin"))

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=truck&id=TR-01")
	require.ErrorIs(t, err, ErrAdminScan)
	assert.Equal(t, 0, h.state.calls)
}

func TestUnrecognizedScan(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.HandleScan(context.Background(), "   ")
	require.ErrorIs(t, err, ErrUnrecognizedQR)
	assert.True(t, IsValidation(err))
}

func TestScanBeforeLoginThenLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.ctrl.HandleScan(ctx, "/scan?type=center&center_id=c1")
	require.NoError(t, err)
	assert.Equal(t, StepLogin, out.Step)
	assert.True(t, out.Deferred)

	h.api.On("Login", mock.Anything, cloud.LoginRequest{Username: "w1", Password: "123", Role: "worker"}).
		Return(&cloud.LoginResult{User: "w1", Role: "worker"}, nil).Once()
	h.state.snap = depot(route("R1", "w1", "TR-01", model.RouteEnRoute, 0, stop("c1", "t1", false)))

	out, err = h.ctrl.Login(ctx, "w1", "123")
	require.NoError(t, err)
	assert.Equal(t, StepDestination, out.Step)
	assert.Equal(t, "R1", out.RouteID)
	assert.True(t, out.Pending)

	id, ok := h.store.ActiveRouteID(ctx)
	require.True(t, ok)
	assert.Equal(t, "R1", id)
}

func TestAdminLoginDropsWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))
	require.NoError(t, h.store.PendingScan.Put(ctx, "/scan?type=center&center_id=c1"))

	h.api.On("Login", mock.Anything, cloud.LoginRequest{Username: "admin", Password: "123", Role: "admin"}).
		Return(&cloud.LoginResult{User: "admin", Role: "admin"}, nil).Once()

	out, err := h.ctrl.LoginAdmin(ctx, "admin", "123")
	require.NoError(t, err)
	assert.Equal(t, StepHome, out.Step)

	_, ok := h.store.Worker(ctx)
	assert.False(t, ok)
	_, ok = h.store.ActiveRouteID(ctx)
	assert.False(t, ok)
	_, ok = h.store.PendingScan.Peek(ctx)
	assert.False(t, ok, "parked worker scan is dropped")
}

func TestAuthExpiredClearsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.loginWorker(t, "w1")
	require.NoError(t, h.store.SetActiveRouteID(ctx, "R1"))

	h.state.err = cloud.ErrAuthExpired

	_, err := h.ctrl.HandleScan(ctx, "/scan?type=truck&id=TR-01")
	require.ErrorIs(t, err, cloud.ErrAuthExpired)

	_, ok := h.store.Worker(ctx)
	assert.False(t, ok)
	_, ok = h.store.ActiveRouteID(ctx)
	assert.False(t, ok)
}

func TestStepFor(t *testing.T) {
	assert.Equal(t, StepDeparture, StepFor(nil))
	r := route("R", "w", "T", model.RouteUnloading, 0)
	assert.Equal(t, StepDestination, StepFor(&r))
	r.Status = model.RouteFinalized
	assert.Equal(t, StepHome, StepFor(&r))
	assert.Equal(t, "/llegada", StepReturn.Path())
}
