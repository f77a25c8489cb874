package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"kinledger/internal/platform/postgres"
	"kinledger/internal/reconciliation/models"
	"kinledger/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orphanColumns = `id, provider, event_id, target, reference, external_reference, outcome, reason,
	event, status, received_at, expires_at, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrphan(row scanner) (*models.Orphan, error) {
	var o models.Orphan
	var raw []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(&o.ID, &o.Provider, &o.EventID, &o.Target, &o.Reference, &o.ExternalReference, &o.Outcome,
		&o.Reason, &raw, &o.Status, &o.ReceivedAt, &o.ExpiresAt, &resolvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &o.Event); err != nil {
		return nil, fmt.Errorf("decode orphan event: %w", err)
	}
	if resolvedAt.Valid {
		o.ResolvedAt = &resolvedAt.Time
	}
	return &o, nil
}

func (s *PostgresStore) FindProcessed(ctx context.Context, provider, eventID string) (*models.ProcessedEvent, error) {
	var p models.ProcessedEvent
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT provider, event_id, disposition, target_id, processed_at
		FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID).
		Scan(&p.Provider, &p.EventID, &p.Disposition, &p.TargetID, &p.ProcessedAt)
	if err != nil {
		return nil, postgres.NotFound(err, "find processed event")
	}
	return &p, nil
}

func (s *PostgresStore) InsertProcessed(ctx context.Context, p *models.ProcessedEvent) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO processed_events (provider, event_id, disposition, target_id, processed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.Provider, p.EventID, p.Disposition, p.TargetID, p.ProcessedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert processed event: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertOrphan(ctx context.Context, o *models.Orphan) error {
	raw, err := json.Marshal(o.Event)
	if err != nil {
		return fmt.Errorf("encode orphan event: %w", err)
	}
	_, err = postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO reconciliation_orphans (`+orphanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.Provider, o.EventID, o.Target, o.Reference, o.ExternalReference, o.Outcome, o.Reason,
		raw, o.Status, o.ReceivedAt, o.ExpiresAt, o.ResolvedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert orphan: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert orphan: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrphan(ctx context.Context, o *models.Orphan) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE reconciliation_orphans SET status = $2, resolved_at = $3 WHERE id = $1`,
		o.ID, o.Status, o.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update orphan: %w", err)
	}
	return postgres.ExpectOne(res, "update orphan")
}

func (s *PostgresStore) PendingOrphans(ctx context.Context, reference, externalID string) ([]*models.Orphan, error) {
	return s.query(ctx, `
		SELECT `+orphanColumns+` FROM reconciliation_orphans
		WHERE status = 'pending' AND target = 'payout'
			AND ((reference <> '' AND reference = $1) OR (external_reference <> '' AND external_reference = $2))
		ORDER BY received_at
		FOR UPDATE`, reference, externalID)
}

func (s *PostgresStore) ExpiredOrphans(ctx context.Context, now time.Time, limit int) ([]*models.Orphan, error) {
	return s.query(ctx, `
		SELECT `+orphanColumns+` FROM reconciliation_orphans
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY received_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
}

// ListOrphans lists orphans in status, or in every status when it is empty.
func (s *PostgresStore) ListOrphans(ctx context.Context, status models.OrphanStatus, limit int) ([]*models.Orphan, error) {
	statuses := []string{string(models.OrphanPending), string(models.OrphanResolved), string(models.OrphanExpired)}
	if status != "" {
		statuses = []string{string(status)}
	}
	return s.query(ctx, `
		SELECT `+orphanColumns+` FROM reconciliation_orphans
		WHERE status = ANY($1)
		ORDER BY received_at
		LIMIT $2`, pq.Array(statuses), limit)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Orphan, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orphans: %w", err)
	}
	defer rows.Close()

	var out []*models.Orphan
	for rows.Next() {
		o, err := scanOrphan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
