package flow

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Reason classifies a validation failure
type Reason string

const (
	ReasonUnrecognizedQR  Reason = "unrecognized_qr"
	ReasonNoSession       Reason = "no_session"
	ReasonAdminScan       Reason = "admin_scan"
	ReasonWrongTruck      Reason = "wrong_truck"
	ReasonWrongCenter     Reason = "wrong_center"
	ReasonWrongTank       Reason = "wrong_tank"
	ReasonWrongQRType     Reason = "wrong_qr_type"
	ReasonNoStopsLeft     Reason = "no_stops_left"
	ReasonNoActiveRoute   Reason = "no_active_route"
	ReasonNotArrived      Reason = "not_arrived"
	ReasonAlreadyDeparted Reason = "already_departed"
	ReasonInvalidLiters   Reason = "invalid_liters"
	ReasonNotReturning    Reason = "not_returning"
	ReasonAlreadyClosed   Reason = "already_closed"
)

// ValidationError is a local refusal. Nothing was sent to the server and
// no state changed.
type ValidationError struct {
	Reason Reason
	// Expected names the correct truck, center or tank when known
	Expected string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Reason)
}

// Is matches on Reason so callers can test with errors.Is(err, ErrWrongCenter)
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrUnrecognizedQR  = &ValidationError{Reason: ReasonUnrecognizedQR}
	ErrNoSession       = &ValidationError{Reason: ReasonNoSession}
	ErrAdminScan       = &ValidationError{Reason: ReasonAdminScan}
	ErrWrongTruck      = &ValidationError{Reason: ReasonWrongTruck}
	ErrWrongCenter     = &ValidationError{Reason: ReasonWrongCenter}
	ErrWrongTank       = &ValidationError{Reason: ReasonWrongTank}
	ErrWrongQRType     = &ValidationError{Reason: ReasonWrongQRType}
	ErrNoStopsLeft     = &ValidationError{Reason: ReasonNoStopsLeft}
	ErrNoActiveRoute   = &ValidationError{Reason: ReasonNoActiveRoute}
	ErrNotArrived      = &ValidationError{Reason: ReasonNotArrived}
	ErrAlreadyDeparted = &ValidationError{Reason: ReasonAlreadyDeparted}
	ErrInvalidLiters   = &ValidationError{Reason: ReasonInvalidLiters}
	ErrNotReturning    = &ValidationError{Reason: ReasonNotReturning}
	ErrAlreadyClosed   = &ValidationError{Reason: ReasonAlreadyClosed}
)

func invalid(reason Reason, expected, format string, args ...interface{}) error {
	return &ValidationError{Reason: reason, Expected: expected, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a local validation failure
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConflictError is returned when the server reports more than one claimed,
// open route for the same worker and none of them is the active pointer
type ConflictError struct {
	Worker   string
	RouteIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("worker %s has %d open routes (%s)", e.Worker, len(e.RouteIDs), strings.Join(e.RouteIDs, ", "))
}
