// Package audit records one event per IHE transaction. Patients are
// referenced by a keyed pseudonym of their NHS number, never the number
// itself.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a transaction ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "ok"
	OutcomeFailure  Outcome = "fail"
	OutcomeRejected Outcome = "rejected"
)

// UnknownErrorCode is recorded for unsuccessful events without a code.
const UnknownErrorCode = "UNKNOWN_ERROR"

// Event is a single audited transaction.
type Event struct {
	ID           uuid.UUID
	Time         time.Time
	Organisation string

	Transaction string
	Outcome     Outcome
	ErrorCode   string

	// NHSNumber is replaced by SubjectRef before the event is stored.
	NHSNumber  string
	SubjectRef string

	MessageID  string
	DocumentID string
	RequestID  string
	ClientIP   string
	UserAgent  string
	Status     int
	Duration   time.Duration
}

func (e Event) detail() map[string]interface{} {
	return map[string]interface{}{
		"status":      e.Status,
		"duration_ms": e.Duration.Milliseconds(),
	}
}
