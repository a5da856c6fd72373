// Package model defines the depot snapshot served by the dispatch API:
// centers and their tanks, trucks, routes with their stops, alerts and the
// delivery log.
package model

import (
	"encoding/json"
	"math"
)

// Place is a point on the map, optionally bound to a center tank
type Place struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name,omitempty"`
	CenterID string  `json:"center_id,omitempty"`
	TankID   string  `json:"tank_id,omitempty"`
}

// Climate readings next to a tank
type Climate struct {
	TempC       float64 `json:"temp_c"`
	HumidityPct float64 `json:"humidity_pct"`
	VPD         float64 `json:"vpd"`
}

// Fertilizer mixing line readings
type Fertilizer struct {
	MixL        float64 `json:"mix_l"`
	PressureBar float64 `json:"pressure_bar"`
}

// Sensors is the probe block attached to each tank
type Sensors struct {
	PH         float64    `json:"ph"`
	EC         float64    `json:"ec"`
	DrainPH    float64    `json:"drain_ph"`
	DrainEC    float64    `json:"drain_ec"`
	DrainPct   float64    `json:"drain_pct"`
	Climate    Climate    `json:"climate"`
	Fertilizer Fertilizer `json:"fertilizer"`
}

// Tank is a fertilizer tank at a center. Server owned, read only.
type Tank struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Product     string     `json:"product"`
	Percentage  float64    `json:"percentage"`
	CurrentL    float64    `json:"current_l"`
	CapacityL   float64    `json:"capacity_l"`
	DeficitL    float64    `json:"deficit_l"`
	Status      TankStatus `json:"status"`
	NeedsRefill bool       `json:"needs_refill"`
	RunoutETA   Timestamp  `json:"runout_eta"`
	RunoutHours *float64   `json:"runout_hours,omitempty"`
	Sensors     Sensors    `json:"sensors"`
	Location    Place      `json:"location"`
	CenterID    string     `json:"center_id,omitempty"`
	CenterName  string     `json:"center_name,omitempty"`
	LastReading Timestamp  `json:"last_reading"`
}

// Deficit is the liters needed to fill the tank. The server figure wins
// when present.
func (t *Tank) Deficit() float64 {
	if t.DeficitL > 0 {
		return t.DeficitL
	}
	return math.Max(t.CapacityL-t.CurrentL, 0)
}

// Center is a growing site holding one or more tanks
type Center struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Location Place   `json:"location"`
	Tanks    []Tank  `json:"tanks"`
	AvgPH    float64 `json:"avg_ph"`
	AvgEC    float64 `json:"avg_ec"`
}

// WorstStatus is the most severe status among the tanks, TankOK when empty
func (c *Center) WorstStatus() TankStatus {
	worst := TankOK
	for i := range c.Tanks {
		worst = WorstStatus(worst, c.Tanks[i].Status)
	}
	return worst
}

// Tank finds a tank by id
func (c *Center) Tank(id string) (*Tank, bool) {
	for i := range c.Tanks {
		if c.Tanks[i].ID == id {
			return &c.Tanks[i], true
		}
	}
	return nil, false
}

// Truck is a delivery truck
type Truck struct {
	ID           string      `json:"id"`
	Driver       string      `json:"driver"`
	Status       TruckStatus `json:"status"`
	CapacityL    float64     `json:"capacity_l"`
	CurrentLoadL float64     `json:"current_load_l"`
	Position     *Place      `json:"position,omitempty"`
	Destination  *Place      `json:"destination,omitempty"`
	ETAMinutes   *float64    `json:"eta_minutes,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	RouteID      string      `json:"route_id,omitempty"`
}

// Available reports whether the truck can take a new route
func (t *Truck) Available() bool {
	return t.Status == TruckParked && t.RouteID == ""
}

// Stop is one delivery on a route, in visit order
type Stop struct {
	CenterID   string     `json:"center_id"`
	TankID     string     `json:"tank_id"`
	Liters     float64    `json:"liters"`
	Product    string     `json:"product,omitempty"`
	Status     StopStatus `json:"status,omitempty"`
	ArrivalAt  Timestamp  `json:"arrival_at"`
	DepartAt   Timestamp  `json:"depart_at"`
	DeliveredL *float64   `json:"delivered_l,omitempty"`
}

// Arrived reports whether the arrival scan was recorded
func (s *Stop) Arrived() bool {
	return !s.ArrivalAt.IsZero()
}

// Departed reports whether the stop was completed
func (s *Stop) Departed() bool {
	return !s.DepartAt.IsZero()
}

// RouteEvent is an entry in a route's history
type RouteEvent struct {
	Event string    `json:"event"`
	Note  string    `json:"note,omitempty"`
	TS    Timestamp `json:"ts"`
}

// Leg is the stretch the truck is currently driving
type Leg struct {
	Label       string    `json:"label"`
	ETAMinutes  float64   `json:"eta_minutes"`
	StartedAt   Timestamp `json:"started_at"`
	Destination Place     `json:"destination"`
}

// Route is a delivery run of one truck and one worker
type Route struct {
	ID             string       `json:"id"`
	TruckID        string       `json:"truck_id"`
	Worker         string       `json:"worker"`
	Status         RouteStatus  `json:"status"`
	CurrentStopIdx int          `json:"current_stop_idx"`
	Stops          []Stop       `json:"stops"`
	TotalDelivered float64      `json:"total_delivered"`
	StartedAt      Timestamp    `json:"started_at"`
	FinishedAt     Timestamp    `json:"finished_at"`
	AutoGenerated  bool         `json:"auto_generated"`
	PendingWorker  bool         `json:"pending_worker"`
	PlannedLoadL   *float64     `json:"planned_load_l,omitempty"`
	Origin         string       `json:"origin,omitempty"`
	ProductType    string       `json:"product_type,omitempty"`
	Success        *bool        `json:"success,omitempty"`
	History        []RouteEvent `json:"history,omitempty"`
	CurrentLeg     *Leg         `json:"current_leg,omitempty"`
}

// CurrentStop returns the stop the route is working on, if any remain
func (r *Route) CurrentStop() (*Stop, bool) {
	if r.CurrentStopIdx < 0 || r.CurrentStopIdx >= len(r.Stops) {
		return nil, false
	}
	return &r.Stops[r.CurrentStopIdx], true
}

// Finalized reports whether the route is closed
func (r *Route) Finalized() bool {
	return r.Status == RouteFinalized
}

// Active reports whether the route was claimed and is not yet closed
func (r *Route) Active() bool {
	return r.Status != RoutePlanned && r.Status != RouteFinalized
}

// Visits reports whether any stop targets the center
func (r *Route) Visits(centerID string) bool {
	for i := range r.Stops {
		if r.Stops[i].CenterID == centerID {
			return true
		}
	}
	return false
}

// PlannedLoad is the declared load, falling back to the sum of stop liters
func (r *Route) PlannedLoad() float64 {
	if r.PlannedLoadL != nil {
		return *r.PlannedLoadL
	}
	var total float64
	for _, s := range r.Stops {
		total += s.Liters
	}
	return total
}

// Alert is a low-level warning for one tank
type Alert struct {
	TankID    string        `json:"tank_id"`
	Center    string        `json:"center"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	RunoutETA Timestamp     `json:"runout_eta"`
}

// Delivery is an entry of the delivery log
type Delivery struct {
	TS         Timestamp `json:"ts"`
	TruckID    string    `json:"truck_id"`
	TankID     string    `json:"tank_id"`
	Center     string    `json:"center"`
	DeliveredL float64   `json:"delivered_l"`
	By         string    `json:"by"`
	Note       string    `json:"note,omitempty"`
}

// UrgentTank is a tank entry in the server's urgent digest
type UrgentTank struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Product    string    `json:"product"`
	Percentage float64   `json:"percentage"`
	DeficitL   float64   `json:"deficit_l"`
	RunoutETA  Timestamp `json:"runout_eta"`
	HoursLeft  *float64  `json:"hours_left,omitempty"`
}

// UrgentDigest is the server-computed urgent summary for one center
type UrgentDigest struct {
	CenterID     string       `json:"center_id"`
	CenterName   string       `json:"center_name"`
	Location     Place        `json:"location"`
	Tanks        []UrgentTank `json:"tanks"`
	TotalDeficit float64      `json:"total_deficit"`
	UrgentCount  int          `json:"urgent_count"`
}

// Worker is an operator account. The server may send either a bare
// username or an object.
type Worker struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

func (w *Worker) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*w = Worker{Username: name}
		return nil
	}
	type plain Worker
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = Worker(p)
	return nil
}

// Snapshot is the full state returned by GET /api/state
type Snapshot struct {
	Warehouse     Place          `json:"warehouse"`
	Centers       []Center       `json:"centers"`
	Tanks         []Tank         `json:"tanks"`
	Trucks        []Truck        `json:"trucks"`
	Alerts        []Alert        `json:"alerts"`
	Routes        []Route        `json:"routes"`
	RouteHistory  []Route        `json:"route_history"`
	DeliveryLog   []Delivery     `json:"delivery_log"`
	UrgentCenters []UrgentDigest `json:"urgent_centers"`
	Workers       []Worker       `json:"workers,omitempty"`
	ServerTime    Timestamp      `json:"server_time"`
}
