package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// =========== Test doubles ===========

type memoryStore struct {
	events []Event
	err    error
}

func (m *memoryStore) Insert(_ context.Context, e Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memoryStore) Ping(context.Context) error { return m.err }

type fakeExecer struct {
	sql  string
	args []interface{}
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeExecer) Ping(context.Context) error { return f.err }

// =========== Tests ===========

func TestPseudonymizer(t *testing.T) {
	p := NewPseudonymizer("test-secret")
	got := p.Pseudonym("9690937278")
	if got != "v1:VCOg0jroLMyxrQUrpgNZ3kmd" {
		t.Errorf("unexpected pseudonym %q", got)
	}
	if p.Pseudonym("9690937278") != got {
		t.Error("expected pseudonym to be stable")
	}
	if NewPseudonymizer("other-secret").Pseudonym("9690937278") == got {
		t.Error("expected pseudonym to depend on the secret")
	}
}

func TestPseudonymizer_Disabled(t *testing.T) {
	if got := NewPseudonymizer("").Pseudonym("9690937278"); got != "" {
		t.Errorf("expected empty pseudonym without a secret, got %q", got)
	}
	if got := NewPseudonymizer("s").Pseudonym(""); got != "" {
		t.Errorf("expected empty pseudonym without an NHS number, got %q", got)
	}
}

func TestTrail_Record(t *testing.T) {
	store := &memoryStore{}
	trail := NewTrail(store, "test-secret", "XHUMA")
	fixed := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	trail.now = func() time.Time { return fixed }

	err := trail.Record(context.Background(), Event{
		Transaction: "ITI-38",
		Outcome:     OutcomeSuccess,
		NHSNumber:   "9690937278",
		DocumentID:  "doc-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(store.events))
	}

	e := store.events[0]
	if e.NHSNumber != "" {
		t.Error("expected NHS number to be dropped before storage")
	}
	if e.SubjectRef != "v1:VCOg0jroLMyxrQUrpgNZ3kmd" {
		t.Errorf("unexpected subject ref %q", e.SubjectRef)
	}
	if e.ID == uuid.Nil {
		t.Error("expected event id to be set")
	}
	if !e.Time.Equal(fixed) {
		t.Errorf("expected event time %v, got %v", fixed, e.Time)
	}
	if e.Organisation != "XHUMA" {
		t.Errorf("expected organisation XHUMA, got %q", e.Organisation)
	}
	if e.ErrorCode != "" {
		t.Errorf("expected no error code for success, got %q", e.ErrorCode)
	}
}

func TestTrail_Record_FailureGetsErrorCode(t *testing.T) {
	store := &memoryStore{}
	trail := NewTrail(store, "", "XHUMA")

	if err := trail.Record(context.Background(), Event{Transaction: "ITI-39", Outcome: OutcomeRejected}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.events[0].ErrorCode; got != UnknownErrorCode {
		t.Errorf("expected %s, got %q", UnknownErrorCode, got)
	}

	if err := trail.Record(context.Background(), Event{Transaction: "ITI-38", Outcome: OutcomeFailure, ErrorCode: "XDSRegistryError"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.events[1].ErrorCode; got != "XDSRegistryError" {
		t.Errorf("expected explicit error code to be kept, got %q", got)
	}
}

func TestTrail_Record_StoreError(t *testing.T) {
	trail := NewTrail(&memoryStore{err: errors.New("down")}, "s", "XHUMA")
	if err := trail.Record(context.Background(), Event{Transaction: "ITI-47"}); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestPgStore_Insert(t *testing.T) {
	db := &fakeExecer{}
	store := NewPgStore(db)

	e := Event{
		ID:          uuid.New(),
		Time:        time.Now().UTC(),
		Transaction: "ITI-38",
		Outcome:     OutcomeFailure,
		ErrorCode:   "XDSRegistryError",
		SubjectRef:  "v1:abc",
		Status:      200,
	}
	if err := store.Insert(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(db.sql, "INSERT INTO audit_event") {
		t.Errorf("unexpected SQL: %s", db.sql)
	}
	if len(db.args) != 13 {
		t.Fatalf("expected 13 args, got %d", len(db.args))
	}
	if db.args[4] != "ITI-38" || db.args[5] != "fail" {
		t.Errorf("unexpected action/outcome args: %v, %v", db.args[4], db.args[5])
	}
	if p, ok := db.args[3].(*string); !ok || p != nil {
		t.Errorf("expected empty request id to be NULL, got %#v", db.args[3])
	}
	if p, ok := db.args[6].(*string); !ok || p == nil || *p != "XDSRegistryError" {
		t.Errorf("unexpected error code arg %#v", db.args[6])
	}
}

func TestPgStore_InsertError(t *testing.T) {
	store := NewPgStore(&fakeExecer{err: errors.New("relation does not exist")})
	err := store.Insert(context.Background(), Event{ID: uuid.New()})
	if err == nil || !strings.Contains(err.Error(), "insert audit event") {
		t.Errorf("expected wrapped insert error, got %v", err)
	}
}

func TestLogStore_Insert(t *testing.T) {
	var buf bytes.Buffer
	store := NewLogStore(zerolog.New(&buf))

	err := store.Insert(context.Background(), Event{
		ID:          uuid.New(),
		Transaction: "ITI-39",
		Outcome:     OutcomeRejected,
		ErrorCode:   "DocumentNotFound",
		SubjectRef:  "v1:abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"type":"audit_event"`, `"action":"ITI-39"`, `"outcome":"rejected"`, `"subject_ref":"v1:abc"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output %s", want, out)
		}
	}
	if strings.Contains(out, "9690937278") {
		t.Error("log output must not contain an NHS number")
	}
}
