package planning

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) PlanRoute(ctx context.Context, req cloud.PlanRequest) (*model.Route, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*model.Route)
	return r, args.Error(1)
}

func (m *mockAPI) AutoPlan(ctx context.Context) (*cloud.AutoPlanResult, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*cloud.AutoPlanResult)
	return r, args.Error(1)
}

func (m *mockAPI) ReassignRoute(ctx context.Context, req cloud.ReassignRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockAPI) DeleteRoute(ctx context.Context, routeID string) error {
	return m.Called(ctx, routeID).Error(0)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func tank(id, label string, pct, capacity float64) model.Tank {
	return model.Tank{
		ID:         id,
		Label:      label,
		Product:    "NPK",
		Percentage: pct,
		CapacityL:  capacity,
		CurrentL:   capacity * pct / 100,
		Status:     model.ClassifyPercentage(pct),
	}
}

func depot() *model.Snapshot {
	return &model.Snapshot{
		Centers: []model.Center{
			{ID: "c1", Name: "Nijar", Tanks: []model.Tank{tank("t1", "Tank A", 15, 1000), tank("t2", "Tank B", 60, 1000)}},
			{ID: "c2", Name: "Campohermoso", Tanks: []model.Tank{tank("t3", "Tank C", 8, 2000), tank("t4", "Tank D", 18, 1000)}},
			{ID: "c3", Name: "El Ejido", Tanks: []model.Tank{tank("t5", "Tank E", 15, 500)}},
			{ID: "c4", Name: "Vicar", Tanks: []model.Tank{tank("t6", "Tank F", 25, 500)}},
		},
		Trucks: []model.Truck{
			{ID: "TR-01", Status: model.TruckParked, CapacityL: 5000},
			{ID: "TR-02", Status: model.TruckOutbound, CapacityL: 5000, RouteID: "R9"},
			{ID: "TR-03", Status: model.TruckParked, CapacityL: 800},
		},
		Workers: []model.Worker{{Username: "w1"}, {Username: "w2"}},
	}
}

func TestUrgentViewSelectsGroupsAndSorts(t *testing.T) {
	view := BuildUrgentView(depot())

	require.Len(t, view.Centers, 3)
	assert.Equal(t, "c2", view.Centers[0].CenterID)
	assert.Equal(t, 8.0, view.Centers[0].MinPercentage)
	// equal minimums keep snapshot order
	assert.Equal(t, "c1", view.Centers[1].CenterID)
	assert.Equal(t, "c3", view.Centers[2].CenterID)

	c2 := view.Centers[0]
	require.Len(t, c2.Tanks, 2)
	assert.Equal(t, "t3", c2.Tanks[0].TankID)
	assert.InDelta(t, 1840+820, c2.TotalDeficitL, 0.001)

	for _, c := range view.Centers {
		for _, tk := range c.Tanks {
			assert.Less(t, tk.Percentage, model.UrgentBelowPct)
		}
	}

	require.Len(t, view.AvailableTrucks, 2)
	assert.Equal(t, "TR-01", view.AvailableTrucks[0].ID)
	assert.True(t, view.CanAutoPlan())
}

func TestUrgentViewEarliestRunout(t *testing.T) {
	snap := depot()
	early, err := model.ParseTimestamp("2024-05-02T08:00:00")
	require.NoError(t, err)
	late, err := model.ParseTimestamp("2024-05-03T08:00:00")
	require.NoError(t, err)
	snap.Centers[1].Tanks[0].RunoutETA = late
	snap.Centers[1].Tanks[1].RunoutETA = early

	view := BuildUrgentView(snap)
	assert.True(t, view.Centers[0].EarliestRunout.Equal(early.Time))
	assert.True(t, view.Centers[1].EarliestRunout.IsZero())
}

func TestAssignedCenterLeavesPendingSet(t *testing.T) {
	snap := depot()
	ctx := context.Background()

	view := BuildUrgentView(snap)
	require.Len(t, view.Pending(), 3)
	assert.Equal(t, "c1", view.Centers[1].CenterID)
	assert.Equal(t, 15.0, view.Centers[1].MinPercentage)

	api := &mockAPI{}
	api.On("AutoPlan", mock.Anything).Return(&cloud.AutoPlanResult{Created: 1}, nil).Once()
	res, err := NewPlanner(api, quietLogger()).AutoPlan(ctx, view)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	// the next poll shows the server's route covering c1
	snap.Routes = append(snap.Routes, model.Route{
		ID:            "R10",
		TruckID:       "TR-01",
		Status:        model.RoutePlanned,
		AutoGenerated: true,
		Stops:         []model.Stop{{CenterID: "c1", TankID: "t1", Liters: 850}},
	})
	view = BuildUrgentView(snap)
	require.Len(t, view.Centers, 3)
	assert.True(t, view.Centers[1].Assigned)
	for _, c := range view.Pending() {
		assert.NotEqual(t, "c1", c.CenterID)
	}

	// finalized routes no longer count
	snap.Routes[0].Status = model.RouteFinalized
	view = BuildUrgentView(snap)
	assert.False(t, view.Centers[1].Assigned)
}

func TestAutoPlanGated(t *testing.T) {
	snap := depot()
	for i := range snap.Trucks {
		snap.Trucks[i].Status = model.TruckDelivering
	}
	api := &mockAPI{}

	_, err := NewPlanner(api, quietLogger()).AutoPlan(context.Background(), BuildUrgentView(snap))
	assert.ErrorIs(t, err, ErrNothingToPlan)
	api.AssertNotCalled(t, "AutoPlan", mock.Anything)
}

func TestAutoPlanRejectionPassesThrough(t *testing.T) {
	api := &mockAPI{}
	api.On("AutoPlan", mock.Anything).
		Return(nil, &cloud.RejectedError{Message: "Sin centros urgentes o camiones libres"}).Once()

	_, err := NewPlanner(api, quietLogger()).AutoPlan(context.Background(), BuildUrgentView(depot()))
	msg, ok := cloud.IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "Sin centros urgentes o camiones libres", msg)
}

func liters(v float64) *float64 { return &v }

func TestManualRouteRoundTrip(t *testing.T) {
	snap := depot()
	api := &mockAPI{}
	draft := &RouteDraft{
		Worker:  "w1",
		TruckID: "TR-01",
		Stops: []StopDraft{
			{CenterID: "c2", TankID: "t3", Liters: liters(1200)},
			{CenterID: "c1", TankID: "t1", Liters: liters(300)},
			{CenterID: "c2", TankID: "t4", Liters: liters(450.5)},
		},
	}

	api.On("PlanRoute", mock.Anything, mock.Anything).Return(&model.Route{ID: "R11"}, nil).Once()

	req, route, err := NewPlanner(api, quietLogger()).SubmitRoute(context.Background(), snap, draft)
	require.NoError(t, err)
	assert.Equal(t, "R11", route.ID)

	sent := api.Calls[0].Arguments.Get(1).(cloud.PlanRequest)
	assert.Equal(t, *req, sent)
	require.Len(t, sent.Stops, 3)
	for i, d := range draft.Stops {
		assert.Equal(t, d.CenterID, sent.Stops[i].CenterID)
		assert.Equal(t, d.TankID, sent.Stops[i].TankID)
		assert.Equal(t, *d.Liters, sent.Stops[i].Liters)
	}
	assert.Equal(t, 1950.5, sent.LoadL)
	assert.Equal(t, "NPK", sent.ProductType)
}

func TestManualRouteDefaultsAndDrops(t *testing.T) {
	draft := &RouteDraft{
		Worker:  "w1",
		TruckID: "TR-01",
		Stops: []StopDraft{
			{CenterID: "c1", TankID: "t1"},
			{CenterID: "c3", TankID: "t5", Liters: liters(0)},
		},
	}
	req, err := BuildPlan(depot(), draft)
	require.NoError(t, err)
	require.Len(t, req.Stops, 1)
	assert.InDelta(t, 850, req.Stops[0].Liters, 0.001)
	assert.InDelta(t, 850, req.LoadL, 0.001)
}

func TestManualRouteRejections(t *testing.T) {
	snap := depot()
	stops := []StopDraft{{CenterID: "c1", TankID: "t1", Liters: liters(100)}}

	cases := []struct {
		name  string
		draft RouteDraft
		want  error
	}{
		{"no worker", RouteDraft{TruckID: "TR-01", Stops: stops}, ErrNoWorker},
		{"no truck", RouteDraft{Worker: "w1", Stops: stops}, ErrNoTruck},
		{"no stops", RouteDraft{Worker: "w1", TruckID: "TR-01"}, ErrNoStops},
		{"zero liters", RouteDraft{Worker: "w1", TruckID: "TR-01", Stops: []StopDraft{{CenterID: "c1", TankID: "t1", Liters: liters(0)}}}, ErrNoStops},
		{"unknown worker", RouteDraft{Worker: "w9", TruckID: "TR-01", Stops: stops}, ErrUnknownWorker},
		{"unknown truck", RouteDraft{Worker: "w1", TruckID: "TR-99", Stops: stops}, ErrUnknownTruck},
		{"busy truck", RouteDraft{Worker: "w1", TruckID: "TR-02", Stops: stops}, ErrTruckUnavailable},
		{"unknown tank", RouteDraft{Worker: "w1", TruckID: "TR-01", Stops: []StopDraft{{CenterID: "c1", TankID: "t9"}}}, ErrUnknownTank},
		{"blank stop", RouteDraft{Worker: "w1", TruckID: "TR-01", Stops: []StopDraft{{CenterID: "c1"}}}, ErrUnknownTank},
		{"over capacity", RouteDraft{Worker: "w1", TruckID: "TR-03", Stops: []StopDraft{{CenterID: "c2", TankID: "t3"}}}, ErrOverCapacity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := tc.draft
			_, err := BuildPlan(snap, &draft)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestReassignSubmitsOnlyChangedRows(t *testing.T) {
	initial := []Assignment{
		{RouteID: "R1", TruckID: "TR-01", Worker: "w1"},
		{RouteID: "R2", TruckID: "TR-02", Worker: ""},
		{RouteID: "R3", TruckID: "TR-03", Worker: "w2"},
	}
	edited := []Assignment{
		{RouteID: "R1", TruckID: "TR-01", Worker: "w1"},
		{RouteID: "R2", TruckID: "TR-02", Worker: "w2"},
		{RouteID: "R3", TruckID: "TR-01", Worker: "w1"},
	}

	api := &mockAPI{}
	api.On("ReassignRoute", mock.Anything, cloud.ReassignRequest{RouteID: "R2", Worker: "w2"}).
		Return(&cloud.RejectedError{Message: "Ruta no encontrada"}).Once()
	api.On("ReassignRoute", mock.Anything, cloud.ReassignRequest{RouteID: "R3", TruckID: "TR-01", Worker: "w1"}).
		Return(nil).Once()

	results := NewPlanner(api, quietLogger()).Reassign(context.Background(), initial, edited)
	require.Len(t, results, 2)
	assert.Equal(t, "R2", results[0].RouteID)
	assert.EqualError(t, results[0].Err, "Ruta no encontrada")
	assert.Equal(t, "R3", results[1].RouteID)
	assert.NoError(t, results[1].Err)
	api.AssertExpectations(t)
}

func TestAssignmentsListAutoGeneratedRoutes(t *testing.T) {
	snap := depot()
	snap.Routes = []model.Route{
		{ID: "R1", TruckID: "TR-01", Worker: "w1", Status: model.RoutePlanned, AutoGenerated: true},
		{ID: "R2", TruckID: "TR-02", Worker: "w2", Status: model.RouteEnRoute},
	}
	rows := Assignments(snap)
	require.Len(t, rows, 1)
	assert.Equal(t, Assignment{RouteID: "R1", TruckID: "TR-01", Worker: "w1"}, rows[0])
}

func TestDeleteRouteOnlyWhilePlanned(t *testing.T) {
	snap := depot()
	snap.Routes = []model.Route{
		{ID: "R1", Status: model.RoutePlanned},
		{ID: "R2", Status: model.RouteEnRoute},
	}
	api := &mockAPI{}
	api.On("DeleteRoute", mock.Anything, "R1").Return(nil).Once()
	p := NewPlanner(api, quietLogger())
	ctx := context.Background()

	require.NoError(t, p.DeleteRoute(ctx, snap, "R1"))
	assert.ErrorIs(t, p.DeleteRoute(ctx, snap, "R2"), ErrRouteStarted)
	assert.ErrorIs(t, p.DeleteRoute(ctx, snap, "R404"), ErrRouteNotFound)
	api.AssertNumberOfCalls(t, "DeleteRoute", 1)
}

func TestRefillTableAndAlerts(t *testing.T) {
	snap := depot()

	table := RefillTable(snap)
	require.Len(t, table, 4)
	assert.Equal(t, "t3", table[0].ID)
	assert.Equal(t, "Campohermoso", table[0].CenterName)

	alerts := DeriveAlerts(snap)
	require.Len(t, alerts, 5)
	bySeverity := map[string]model.AlertSeverity{}
	for _, a := range alerts {
		bySeverity[a.TankID] = a.Severity
	}
	assert.Equal(t, model.SeverityHigh, bySeverity["t3"])
	assert.Equal(t, model.SeverityHigh, bySeverity["t1"])
	assert.Equal(t, model.SeverityMedium, bySeverity["t6"])

	snap.Alerts = []model.Alert{{TankID: "x"}}
	assert.Len(t, Alerts(snap), 1)

	c1, _ := snap.Center("c1")
	assert.Len(t, CenterAlerts(alerts, c1), 1)
}

func TestSortCentersByAlert(t *testing.T) {
	snap := depot()
	sorted := SortCentersByAlert(snap.Centers)

	ids := make([]string, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"c2", "c3", "c1", "c4"}, ids)
	assert.Equal(t, "c1", snap.Centers[0].ID, "input untouched")
}
