// Package gateway defines the outbound call errors.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrNoAccessToken  = errors.New("no access token")
)

// ServiceError is returned for every failed gateway call: non-2xx responses
// and transport failures alike. StatusCode is 0 for transport failures.
type ServiceError struct {
	StatusCode  int
	ServiceName string
	Message     string
	Err         error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s service unreachable: %s", e.ServiceName, e.Message)
	}
	return fmt.Sprintf("%s service returned %d: %s", e.ServiceName, e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is eligible for retry: transport
// failures, timeouts and 5xx responses.
func (e *ServiceError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// IsTransient reports whether err is a transient ServiceError.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Transient()
}

// IsUnauthorized reports whether err is a 401 ServiceError.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
