package ihe

import (
	"time"

	"github.com/rs/zerolog"
)

// State is the position of a SOAP transaction in its lifecycle:
// Received, Parsed, Resolved, then Responded or Rejected.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateResolved
	StateResponded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParsed:
		return "parsed"
	case StateResolved:
		return "resolved"
	case StateResponded:
		return "responded"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Transaction names.
const (
	TransactionITI47 = "ITI-47"
	TransactionITI38 = "ITI-38"
	TransactionITI39 = "ITI-39"
)

// Transaction tracks one inbound request through the dispatcher.
type Transaction struct {
	Name       string
	State      State
	MessageID  string
	NHSNumber  string
	CEID       string
	DocumentID string
	Err        error

	started time.Time
}

func newTransaction(name string) *Transaction {
	return &Transaction{Name: name, State: StateReceived, started: time.Now()}
}

// Advance moves the transaction forward. Terminal states are final.
func (t *Transaction) Advance(s State) {
	if t.Done() || s <= t.State {
		return
	}
	t.State = s
}

// Reject marks the transaction as rejected with err.
func (t *Transaction) Reject(err error) {
	if t.Done() {
		return
	}
	t.State = StateRejected
	t.Err = err
}

// Done reports whether the transaction reached a terminal state.
func (t *Transaction) Done() bool {
	return t.State == StateResponded || t.State == StateRejected
}

// Elapsed returns the time since the transaction was received.
func (t *Transaction) Elapsed() time.Duration {
	return time.Since(t.started)
}

// MarshalZerologObject lets a transaction be logged with Object().
func (t *Transaction) MarshalZerologObject(e *zerolog.Event) {
	e.Str("transaction", t.Name).
		Str("state", t.State.String()).
		Dur("elapsed", t.Elapsed())
	if t.MessageID != "" {
		e.Str("message_id", t.MessageID)
	}
	if t.DocumentID != "" {
		e.Str("document_id", t.DocumentID)
	}
	if t.Err != nil {
		e.AnErr("reason", t.Err)
	}
}
