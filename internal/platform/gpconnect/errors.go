package gpconnect

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPatientNotFound     = errors.New("gpconnect: patient not found")
	ErrNoConsent           = errors.New("gpconnect: record sharing not permitted")
	ErrUpstreamUnavailable = errors.New("gpconnect: upstream unavailable")
)

// UpstreamError is a non-success response from PDS or GP Connect.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// Unwrap maps the upstream status onto a sentinel error.
func (e *UpstreamError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrPatientNotFound
	case http.StatusForbidden:
		return ErrNoConsent
	default:
		return ErrUpstreamUnavailable
	}
}

// HTTPStatus is the status the gateway answers with when this error ends
// a demographics query.
func (e *UpstreamError) HTTPStatus() int {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusForbidden:
		return e.StatusCode
	default:
		return http.StatusBadGateway
	}
}

const maxErrorBody = 512

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
