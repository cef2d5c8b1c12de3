package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// Store persists audit events.
type Store interface {
	Insert(ctx context.Context, e Event) error
	Ping(ctx context.Context) error
}

// execer is the subset of *pgxpool.Pool used by PgStore.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

const insertEventSQL = `INSERT INTO audit_event (
    audit_id, event_time, organisation, request_id,
    action, outcome, error_code, subject_ref,
    message_id, document_id, client_ip, user_agent, detail
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// PgStore writes events to the audit_event table.
type PgStore struct {
	db execer
}

// NewPgStore creates a PgStore on a pgx pool.
func NewPgStore(db execer) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Insert(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, insertEventSQL,
		e.ID, e.Time, nullable(e.Organisation), nullable(e.RequestID),
		e.Transaction, string(e.Outcome), nullable(e.ErrorCode), nullable(e.SubjectRef),
		nullable(e.MessageID), nullable(e.DocumentID), nullable(e.ClientIP), nullable(e.UserAgent),
		e.detail(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// LogStore emits events as structured log lines. It is used when no
// database is configured.
type LogStore struct {
	logger zerolog.Logger
}

// NewLogStore creates a LogStore.
func NewLogStore(logger zerolog.Logger) *LogStore {
	return &LogStore{logger: logger}
}

func (s *LogStore) Insert(_ context.Context, e Event) error {
	s.logger.Info().
		Str("type", "audit_event").
		Str("audit_id", e.ID.String()).
		Time("event_time", e.Time).
		Str("organisation", e.Organisation).
		Str("action", e.Transaction).
		Str("outcome", string(e.Outcome)).
		Str("error_code", e.ErrorCode).
		Str("subject_ref", e.SubjectRef).
		Str("message_id", e.MessageID).
		Str("document_id", e.DocumentID).
		Str("request_id", e.RequestID).
		Str("client_ip", e.ClientIP).
		Str("user_agent", e.UserAgent).
		Fields(e.detail()).
		Msg("audit")
	return nil
}

func (s *LogStore) Ping(context.Context) error { return nil }
