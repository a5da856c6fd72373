package cloud

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrAuthExpired is returned when the server no longer recognizes the
// session cookie. The caller must drop every session slot and log in again.
var ErrAuthExpired = errors.New("authentication expired")

// RejectedError is an ok:false answer. Message is the server text, shown
// to the operator verbatim.
type RejectedError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// ServerError is any other non-success status
type ServerError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d on %s: %s", e.Status, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("server error %d on %s", e.Status, e.Endpoint)
}

// IsRejected reports whether err is a server rejection and returns its message
func IsRejected(err error) (string, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Message, true
	}
	return "", false
}
