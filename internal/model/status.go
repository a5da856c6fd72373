package model

import (
	"encoding/json"
	"fmt"
)

// TankStatus is the fill-level classification of a tank, ordered by severity.
type TankStatus int

const (
	TankOK TankStatus = iota
	TankWarn
	TankAlert
	TankCritical
)

// Fill thresholds in percent
const (
	CriticalBelowPct = 10.0
	UrgentBelowPct   = 20.0
	WarnAtOrBelowPct = 32.0
)

// ClassifyPercentage maps a fill percentage to its status. The mapping is
// monotonic: a lower percentage never yields a less severe status.
func ClassifyPercentage(pct float64) TankStatus {
	switch {
	case pct < CriticalBelowPct:
		return TankCritical
	case pct < UrgentBelowPct:
		return TankAlert
	case pct <= WarnAtOrBelowPct:
		return TankWarn
	default:
		return TankOK
	}
}

// ParseTankStatus converts the wire string into a TankStatus
func ParseTankStatus(s string) (TankStatus, error) {
	switch s {
	case "ok":
		return TankOK, nil
	case "warn":
		return TankWarn, nil
	case "alert":
		return TankAlert, nil
	case "critical":
		return TankCritical, nil
	}
	return TankOK, fmt.Errorf("unknown tank status %q", s)
}

func (s TankStatus) String() string {
	switch s {
	case TankOK:
		return "ok"
	case TankWarn:
		return "warn"
	case TankAlert:
		return "alert"
	case TankCritical:
		return "critical"
	}
	return fmt.Sprintf("TankStatus(%d)", int(s))
}

// Label returns the operator-facing name of the status
func (s TankStatus) Label() string {
	switch s {
	case TankOK:
		return "Correct"
	case TankWarn:
		return "Low"
	case TankAlert:
		return "Refill"
	case TankCritical:
		return "Critical"
	}
	return s.String()
}

// NeedsRefill reports whether the status should be surfaced as an alert
func (s TankStatus) NeedsRefill() bool {
	return s >= TankWarn
}

// Severity returns the alert severity a tank in this status raises
func (s TankStatus) Severity() AlertSeverity {
	if s >= TankAlert {
		return SeverityHigh
	}
	return SeverityMedium
}

func (s TankStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s TankStatus) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *TankStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseTankStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// WorstStatus returns the most severe status in the list, TankOK when empty
func WorstStatus(statuses ...TankStatus) TankStatus {
	worst := TankOK
	for _, s := range statuses {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// RouteStatus is the lifecycle state of a delivery route
type RouteStatus int

const (
	RoutePlanned RouteStatus = iota
	RouteEnRoute
	RouteAtDestination
	RouteUnloading
	RouteReturning
	RouteFinalized
)

var routeStatusNames = map[RouteStatus]string{
	RoutePlanned:       "planificada",
	RouteEnRoute:       "en_ruta",
	RouteAtDestination: "en_destino",
	RouteUnloading:     "en_descarga",
	RouteReturning:     "regresando",
	RouteFinalized:     "finalizada",
}

// ParseRouteStatus converts the wire string into a RouteStatus
func ParseRouteStatus(s string) (RouteStatus, error) {
	for k, v := range routeStatusNames {
		if v == s {
			return k, nil
		}
	}
	return RoutePlanned, fmt.Errorf("unknown route status %q", s)
}

func (s RouteStatus) String() string {
	if name, ok := routeStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RouteStatus(%d)", int(s))
}

// Label returns the operator-facing name of the status
func (s RouteStatus) Label() string {
	switch s {
	case RoutePlanned:
		return "Planned"
	case RouteEnRoute:
		return "En route"
	case RouteAtDestination:
		return "At destination"
	case RouteUnloading:
		return "Unloading"
	case RouteReturning:
		return "Returning"
	case RouteFinalized:
		return "Closed"
	}
	return s.String()
}

// RoutePhase collapses route statuses into the steps an operator can act on
type RoutePhase int

const (
	PhaseUnclaimed RoutePhase = iota
	PhaseToStop
	PhaseAtStop
	PhaseReturning
	PhaseClosed
)

func (p RoutePhase) String() string {
	switch p {
	case PhaseUnclaimed:
		return "unclaimed"
	case PhaseToStop:
		return "to_stop"
	case PhaseAtStop:
		return "at_stop"
	case PhaseReturning:
		return "returning"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("RoutePhase(%d)", int(p))
}

// Phase maps the status to the step the operator is on
func (s RouteStatus) Phase() RoutePhase {
	switch s {
	case RoutePlanned:
		return PhaseUnclaimed
	case RouteEnRoute:
		return PhaseToStop
	case RouteAtDestination, RouteUnloading:
		return PhaseAtStop
	case RouteReturning:
		return PhaseReturning
	case RouteFinalized:
		return PhaseClosed
	}
	return PhaseUnclaimed
}

func (s RouteStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s RouteStatus) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *RouteStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseRouteStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TruckStatus is the movement state of a truck
type TruckStatus int

const (
	TruckParked TruckStatus = iota
	TruckOutbound
	TruckDelivering
	TruckReturning
)

// ParseTruckStatus converts the wire string into a TruckStatus
func ParseTruckStatus(s string) (TruckStatus, error) {
	switch s {
	case "parked":
		return TruckParked, nil
	case "outbound":
		return TruckOutbound, nil
	case "delivering":
		return TruckDelivering, nil
	case "returning":
		return TruckReturning, nil
	}
	return TruckParked, fmt.Errorf("unknown truck status %q", s)
}

func (s TruckStatus) String() string {
	switch s {
	case TruckParked:
		return "parked"
	case TruckOutbound:
		return "outbound"
	case TruckDelivering:
		return "delivering"
	case TruckReturning:
		return "returning"
	}
	return fmt.Sprintf("TruckStatus(%d)", int(s))
}

// Label returns the operator-facing name of the status
func (s TruckStatus) Label() string {
	switch s {
	case TruckParked:
		return "In depot"
	case TruckOutbound:
		return "On the way"
	case TruckDelivering:
		return "Unloading"
	case TruckReturning:
		return "Returning"
	}
	return s.String()
}

func (s TruckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s TruckStatus) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *TruckStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseTruckStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StopStatus is the server-side marker on a single stop
type StopStatus string

const (
	StopPending   StopStatus = "pendiente"
	StopUnloading StopStatus = "en_descarga"
	StopCompleted StopStatus = "completado"
)

// AlertSeverity as reported in the alert list
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "alta"
	SeverityMedium AlertSeverity = "media"
)
