package ihe

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest covers a bad content type, an unparsable
	// envelope or a missing identifier. It maps to HTTP 400.
	ErrMalformedRequest = errors.New("ihe: malformed request")

	// ErrDocumentNotFound is returned when a retrieve names a document
	// that is not (or no longer) cached. It maps to HTTP 404.
	ErrDocumentNotFound = errors.New("ihe: document not found")
)

func malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}
