package flow

import (
	"fmt"

	"github.com/agsys/depot-dispatch/internal/model"
)

// Step is the screen an operator should be on next
type Step int

const (
	StepHome Step = iota
	StepLogin
	StepDeparture
	StepDestination
	StepReturn
)

func (s Step) String() string {
	switch s {
	case StepHome:
		return "home"
	case StepLogin:
		return "login"
	case StepDeparture:
		return "departure"
	case StepDestination:
		return "destination"
	case StepReturn:
		return "return"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Path is the page the web client serves for the step
func (s Step) Path() string {
	switch s {
	case StepLogin:
		return "/trabajador"
	case StepDeparture:
		return "/salida"
	case StepDestination:
		return "/destino"
	case StepReturn:
		return "/llegada"
	}
	return "/"
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StepFor returns the step a route in its current status is waiting on
func StepFor(r *model.Route) Step {
	if r == nil {
		return StepDeparture
	}
	switch r.Status.Phase() {
	case model.PhaseUnclaimed:
		return StepDeparture
	case model.PhaseToStop, model.PhaseAtStop:
		return StepDestination
	case model.PhaseReturning:
		return StepReturn
	}
	return StepHome
}

// Outcome is the result of a flow action
type Outcome struct {
	Step    Step         `json:"step"`
	RouteID string       `json:"route_id,omitempty"`
	Notice  string       `json:"notice,omitempty"`
	Route   *model.Route `json:"-"`

	// Applied is set when a server mutation succeeded
	Applied bool `json:"applied"`
	// Deferred is set when the scan was parked in the pending mailbox
	Deferred bool `json:"deferred,omitempty"`
	// Discarded is set when a parked scan had already taken effect
	Discarded bool `json:"discarded,omitempty"`
	// Pending is set when a parked scan is still waiting after the action
	Pending bool `json:"pending,omitempty"`
}
