package ccda

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDate is returned for dates that cannot be normalised. It
	// fails the whole document rather than a single entry.
	ErrInvalidDate = errors.New("ccda: invalid date")

	// ErrUnresolvedReference is returned when a reference is absent from
	// the bundle being converted.
	ErrUnresolvedReference = errors.New("ccda: unresolved reference")

	// ErrNoPatient is returned when the bundle carries no Patient resource.
	ErrNoPatient = errors.New("ccda: bundle contains no patient")

	// ErrNoCoding is returned when a concept carries no codings to map.
	ErrNoCoding = errors.New("ccda: concept has no coding")

	// ErrNotGrouped is returned by the result mapper for observations
	// without has-member relations.
	ErrNotGrouped = errors.New("ccda: observation is not a grouped result")
)

// UnresolvedReferenceError names the reference that could not be resolved.
type UnresolvedReferenceError struct {
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("ccda: unresolved reference %q", e.Reference)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrUnresolvedReference }

// EntryError is a mapping failure confined to one entry. The assembler logs
// it and skips the entry.
type EntryError struct {
	Resource string
	Err      error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("ccda: map %s: %v", e.Resource, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func entryErrorf(resource, format string, args ...interface{}) error {
	return &EntryError{Resource: resource, Err: fmt.Errorf(format, args...)}
}

// isDocumentFatal reports whether err must abort the whole document.
func isDocumentFatal(err error) bool {
	return errors.Is(err, ErrInvalidDate) || errors.Is(err, ErrUnresolvedReference)
}
