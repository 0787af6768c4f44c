// Package outbox relays committed audit events from the Postgres outbox table
// to Kafka. Rows are claimed with SKIP LOCKED so several replicas can relay
// concurrently without publishing the same row twice in one pass.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Entry is one unpublished outbox row.
type Entry struct {
	ID        uuid.UUID
	Category  string
	Key       string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// DB is satisfied by *pgxpool.Pool and pgxmock.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store reads and acknowledges outbox rows.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const claimSQL = `SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
FROM outbox
WHERE published_at IS NULL
ORDER BY created_at ASC, id ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

const markSQL = `UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`

// Process claims up to limit rows, hands them to publish and marks the ones
// publish reports as delivered. Rows stay locked until the transaction ends.
func (s *Store) Process(ctx context.Context, limit int, now time.Time, publish func(context.Context, []Entry) ([]uuid.UUID, error)) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	entries, err := claim(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	delivered, pubErr := publish(ctx, entries)
	if len(delivered) > 0 {
		ids := make([]string, len(delivered))
		for i, d := range delivered {
			ids[i] = d.String()
		}
		if _, err := tx.Exec(ctx, markSQL, now, ids); err != nil {
			return 0, fmt.Errorf("mark outbox published: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	committed = true
	return len(delivered), pubErr
}

func claim(ctx context.Context, tx pgx.Tx, limit int) ([]Entry, error) {
	rows, err := tx.Query(ctx, claimSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Category, &e.Key, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return entries, nil
}
