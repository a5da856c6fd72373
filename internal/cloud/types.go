package cloud

import "github.com/agsys/depot-dispatch/internal/model"

// LoginRequest authenticates a worker or admin
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginResult is the identity the server accepted
type LoginResult struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// AuthStatus is the answer of the cookie session probe
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	User          string `json:"user"`
	Role          string `json:"role,omitempty"`
}

// ClaimRequest activates the planned route of a truck
type ClaimRequest struct {
	Worker  string `json:"worker"`
	TruckID string `json:"truck_id"`
}

// CompleteStopRequest closes the current stop of a route
type CompleteStopRequest struct {
	RouteID    string  `json:"route_id"`
	DeliveredL float64 `json:"delivered_l"`
	Note       string  `json:"note"`
}

// PlanStop is one stop of a manually planned route
type PlanStop struct {
	CenterID string  `json:"center_id"`
	TankID   string  `json:"tank_id"`
	Liters   float64 `json:"liters"`
	Product  string  `json:"product,omitempty"`
}

// PlanRequest creates a route
type PlanRequest struct {
	Worker      string     `json:"worker"`
	TruckID     string     `json:"truck_id"`
	Origin      string     `json:"origin,omitempty"`
	ProductType string     `json:"product_type,omitempty"`
	LoadL       float64    `json:"load_l"`
	Stops       []PlanStop `json:"stops"`
}

// AutoPlanResult reports what the server planned
type AutoPlanResult struct {
	Created int           `json:"created"`
	Routes  []model.Route `json:"routes"`
}

// ReassignRequest changes the truck and/or worker of a route. Empty fields
// are left untouched.
type ReassignRequest struct {
	RouteID string `json:"route_id"`
	TruckID string `json:"truck_id,omitempty"`
	Worker  string `json:"worker,omitempty"`
}

type routeReply struct {
	Route *model.Route `json:"route"`
}
