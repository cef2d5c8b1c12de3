package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Trail stamps, pseudonymises and stores audit events.
type Trail struct {
	store         Store
	pseudonymizer *Pseudonymizer
	organisation  string
	now           func() time.Time
}

// NewTrail creates a Trail writing to store.
func NewTrail(store Store, secret, organisation string) *Trail {
	return &Trail{
		store:         store,
		pseudonymizer: NewPseudonymizer(secret),
		organisation:  organisation,
		now:           time.Now,
	}
}

// Record stores e. The NHS number is dropped once the subject reference
// has been derived from it.
func (t *Trail) Record(ctx context.Context, e Event) error {
	e.ID = uuid.New()
	e.Time = t.now().UTC()
	if e.Organisation == "" {
		e.Organisation = t.organisation
	}
	if e.SubjectRef == "" {
		e.SubjectRef = t.pseudonymizer.Pseudonym(e.NHSNumber)
	}
	e.NHSNumber = ""
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if e.Outcome != OutcomeSuccess && e.ErrorCode == "" {
		e.ErrorCode = UnknownErrorCode
	}
	return t.store.Insert(ctx, e)
}

// Ping checks the underlying store.
func (t *Trail) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}
