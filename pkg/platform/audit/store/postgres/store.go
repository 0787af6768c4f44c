package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	id "kycvault/pkg/domain"
	audit "kycvault/pkg/platform/audit"
)

// DBTX is satisfied by pgx.Tx, *pgxpool.Pool and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements audit.Store using the transactional outbox pattern. Each
// Append writes the queryable audit_events row and an outbox row through the
// same executor, so both commit with the caller's transaction.
type Store struct {
	db DBTX
}

// New binds the store to an executor. Pass the open pgx.Tx inside a
// transaction and the pool for read-only queries.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// OutboxPayload is the JSON structure published to Kafka.
type OutboxPayload struct {
	ID        string            `json:"id"`
	Category  string            `json:"category"`
	Timestamp string            `json:"ts"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Target    string            `json:"target"`
	Meta      map[string]string `json:"meta,omitempty"`
}

const insertEventSQL = `INSERT INTO audit_events (id, category, actor, action, target, ts, meta) VALUES ($1, $2, $3, $4, $5, $6, $7)`

const insertOutboxSQL = `INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`

// Append writes the event and its outbox entry.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	eventID := uuid.UUID(event.ID)
	category := event.Category()

	meta, err := json.Marshal(nonNilMeta(event.Meta))
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	if _, err := s.db.Exec(ctx, insertEventSQL,
		eventID,
		string(category),
		event.Actor,
		string(event.Action),
		event.Target,
		event.Timestamp,
		meta,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	payload, err := json.Marshal(OutboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     event.Actor,
		Action:    string(event.Action),
		Target:    event.Target,
		Meta:      event.Meta,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	if _, err := s.db.Exec(ctx, insertOutboxSQL,
		eventID,
		string(category),
		event.Target,
		string(event.Action),
		payload,
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, actor, action, target, ts, meta FROM audit_events`

// ListByTarget returns events for one entity, oldest first.
func (s *Store) ListByTarget(ctx context.Context, target string) ([]audit.Event, error) {
	rows, err := s.db.Query(ctx, selectColumns+` WHERE target = $1 ORDER BY ts ASC, id ASC`, target)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return scanEvents(rows)
}

// ListRecent returns the N most recent events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.Query(ctx, selectColumns+` ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]audit.Event, error) {
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event   audit.Event
			eventID uuid.UUID
			action  string
			meta    []byte
		)
		if err := rows.Scan(&eventID, &event.Actor, &action, &event.Target, &event.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = id.EventID(eventID)
		event.Action = audit.Action(action)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &event.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
