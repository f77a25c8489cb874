package store

import (
	"context"
	"database/sql"
	"fmt"

	"kinledger/internal/idempotency"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
)

// PostgresStore persists idempotency records in idempotency_records.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, profileID id.ProfileID, key string) (*idempotency.Record, error) {
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT profile_id, key, kind, fingerprint, result, created_at
		FROM idempotency_records
		WHERE profile_id = $1 AND key = $2`, profileID, key)

	var rec idempotency.Record
	var result []byte
	if err := row.Scan(&rec.ProfileID, &rec.Key, &rec.Kind, &rec.Fingerprint, &result, &rec.CreatedAt); err != nil {
		return nil, postgres.NotFound(err, "find idempotency record")
	}
	rec.Result = result
	return &rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *idempotency.Record) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO idempotency_records (profile_id, key, kind, fingerprint, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ProfileID, rec.Key, rec.Kind, rec.Fingerprint, []byte(rec.Result), rec.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert idempotency record: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}
