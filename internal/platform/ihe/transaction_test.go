package ihe

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTransaction_Lifecycle(t *testing.T) {
	tx := newTransaction(TransactionITI38)
	if tx.State != StateReceived || tx.Done() {
		t.Fatalf("expected fresh transaction in received state, got %s", tx.State)
	}

	tx.Advance(StateResolved)
	tx.Advance(StateParsed)
	if tx.State != StateResolved {
		t.Errorf("expected state not to move backwards, got %s", tx.State)
	}

	tx.Advance(StateResponded)
	if !tx.Done() {
		t.Fatal("expected responded transaction to be done")
	}
	tx.Reject(errors.New("late"))
	if tx.State != StateResponded || tx.Err != nil {
		t.Errorf("expected terminal state to be final, got %s (%v)", tx.State, tx.Err)
	}
}

func TestTransaction_Reject(t *testing.T) {
	tx := newTransaction(TransactionITI39)
	tx.Advance(StateParsed)
	tx.Reject(ErrDocumentNotFound)
	if tx.State != StateRejected || !errors.Is(tx.Err, ErrDocumentNotFound) {
		t.Errorf("unexpected transaction %s (%v)", tx.State, tx.Err)
	}
	tx.Advance(StateResponded)
	if tx.State != StateRejected {
		t.Errorf("expected rejected to be final, got %s", tx.State)
	}
}

func TestTransaction_LogOmitsNHSNumber(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	tx := newTransaction(TransactionITI47)
	tx.NHSNumber = "9690937278"
	tx.MessageID = "urn:uuid:m-47"
	tx.Reject(malformedf("no care everywhere id found"))
	logger.Info().Object("tx", tx).Msg("soap transaction")

	out := buf.String()
	if strings.Contains(out, "9690937278") {
		t.Errorf("NHS number leaked into log: %s", out)
	}
	for _, want := range []string{`"transaction":"ITI-47"`, `"state":"rejected"`, `"message_id":"urn:uuid:m-47"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name  string
		state State
		err   error
		want  string
	}{
		{"success", StateResponded, nil, ""},
		{"generation failure", StateResponded, errors.New("boom"), "XDSRegistryError"},
		{"malformed", StateRejected, malformedf("bad"), "MalformedRequest"},
		{"not cached", StateRejected, ErrDocumentNotFound, "DocumentNotFound"},
		{"patient not found", StateRejected, &upstreamError{status: 404}, "PatientNotFound"},
		{"no consent", StateRejected, &upstreamError{status: 403}, "NoConsent"},
		{"upstream", StateRejected, errors.New("timeout"), "UpstreamUnavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &Transaction{State: tt.state, Err: tt.err}
			if got := errorCode(tx); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
