package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"kinledger/internal/outbox"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, m *outbox.Message) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO outbox (id, topic, key, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Topic, m.Key, m.EventType, []byte(m.Payload), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// Claim locks unpublished rows with SKIP LOCKED so concurrent workers split
// the backlog instead of publishing the same rows twice.
func (s *PostgresStore) Claim(ctx context.Context, limit int) ([]*outbox.Message, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT id, topic, key, event_type, payload, created_at, attempts
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}
	defer rows.Close()

	var out []*outbox.Message
	for rows.Next() {
		var m outbox.Message
		var payload []byte
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.EventType, &payload, &m.CreatedAt, &m.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		m.Payload = payload
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []id.MessageID, at time.Time) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET published_at = $2, attempts = attempts + 1 WHERE id = ANY($1::uuid[])`,
		pq.Array(messageIDs(ids)), at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAttempted(ctx context.Context, ids []id.MessageID) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1 WHERE id = ANY($1::uuid[])`, pq.Array(messageIDs(ids)))
	if err != nil {
		return fmt.Errorf("mark outbox attempted: %w", err)
	}
	return nil
}

func messageIDs(ids []id.MessageID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}
