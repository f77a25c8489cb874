package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kinledger/internal/payout/models"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const payoutColumns = `id, household_id, request_id, kin_id, initiator_profile_id, amount_cents, currency,
	status, transaction_id, external_transaction_id, failure_reason, description, reversed_at,
	reversal_transaction_id, confirmation_alerted_at, created_at, updated_at, completed_at`

const jobColumns = `id, request_id, household_id, initiator_profile_id, run_at, status, scheduled,
	attempts, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPayout(row scanner) (*models.Payout, error) {
	var p models.Payout
	var externalID, reversalID sql.NullString
	var reversedAt, alertedAt, completedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.HouseholdID, &p.RequestID, &p.KinID, &p.InitiatorProfileID, &p.AmountCents, &p.Currency,
		&p.Status, &p.TransactionID, &externalID, &p.FailureReason, &p.Description, &reversedAt,
		&reversalID, &alertedAt, &p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	p.ExternalTransactionID = externalID.String
	if reversalID.Valid {
		v, err := id.ParseTransactionID(reversalID.String)
		if err != nil {
			return nil, err
		}
		p.ReversalTransactionID = &v
	}
	if reversedAt.Valid {
		p.ReversedAt = &reversedAt.Time
	}
	if alertedAt.Valid {
		p.ConfirmationAlertedAt = &alertedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.RequestID, &j.HouseholdID, &j.InitiatorProfileID, &j.RunAt, &j.Status, &j.Scheduled,
		&j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) CreatePayout(ctx context.Context, p *models.Payout) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.HouseholdID, p.RequestID, p.KinID, p.InitiatorProfileID, p.AmountCents, p.Currency,
		p.Status, p.TransactionID, nullString(p.ExternalTransactionID), p.FailureReason, p.Description, p.ReversedAt,
		p.ReversalTransactionID, p.ConfirmationAlertedAt, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert payout: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindPayout(ctx context.Context, payoutID id.PayoutID) (*models.Payout, error) {
	p, err := scanPayout(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, payoutID))
	if err != nil {
		return nil, postgres.NotFound(err, "find payout")
	}
	return p, nil
}

func (s *PostgresStore) LockPayout(ctx context.Context, payoutID id.PayoutID) (*models.Payout, error) {
	p, err := scanPayout(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, payoutID))
	if err != nil {
		return nil, postgres.NotFound(err, "lock payout")
	}
	return p, nil
}

func (s *PostgresStore) UpdatePayout(ctx context.Context, p *models.Payout) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE payouts
		SET status = $2, external_transaction_id = $3, failure_reason = $4, reversed_at = $5,
			reversal_transaction_id = $6, confirmation_alerted_at = $7, updated_at = $8, completed_at = $9
		WHERE id = $1`,
		p.ID, p.Status, nullString(p.ExternalTransactionID), p.FailureReason, p.ReversedAt,
		p.ReversalTransactionID, p.ConfirmationAlertedAt, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("update payout: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("update payout: %w", err)
	}
	return postgres.ExpectOne(res, "update payout")
}

func (s *PostgresStore) FindLiveByRequest(ctx context.Context, requestID id.RequestID) (*models.Payout, error) {
	p, err := scanPayout(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE request_id = $1 AND status <> 'cancelled'`, requestID))
	if err != nil {
		return nil, postgres.NotFound(err, "find payout by request")
	}
	return p, nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*models.Payout, error) {
	p, err := scanPayout(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE external_transaction_id = $1`, externalID))
	if err != nil {
		return nil, postgres.NotFound(err, "find payout by external id")
	}
	return p, nil
}

func (s *PostgresStore) ListPayouts(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Payout, error) {
	where := []string{"household_id = $1"}
	args := []any{householdID}
	add := func(clause string, v ...any) {
		for _, a := range v {
			args = append(args, a)
			clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		where = append(where, clause)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if filter.KinID != nil {
		add("kin_id = ?", *filter.KinID)
	}
	if filter.Cursor != nil {
		add("(created_at, id) < (?, ?)", filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryPayouts(ctx, query, args...)
}

func (s *PostgresStore) ListUnconfirmed(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payout, error) {
	return s.queryPayouts(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE status IN ('pending', 'processing') AND confirmation_alerted_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
}

func (s *PostgresStore) queryPayouts(ctx context.Context, query string, args ...any) ([]*models.Payout, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()

	var out []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertJob(ctx context.Context, j *models.Job) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO payout_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.ID, j.RequestID, j.HouseholdID, j.InitiatorProfileID, j.RunAt, j.Status, j.Scheduled,
		j.Attempts, j.LastError, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert payout job: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert payout job: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindQueuedJob(ctx context.Context, requestID id.RequestID) (*models.Job, error) {
	j, err := scanJob(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM payout_jobs WHERE request_id = $1 AND status = 'queued' FOR UPDATE`, requestID))
	if err != nil {
		return nil, postgres.NotFound(err, "find queued job")
	}
	return j, nil
}

func (s *PostgresStore) FindJob(ctx context.Context, jobID id.JobID) (*models.Job, error) {
	j, err := scanJob(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM payout_jobs WHERE id = $1`, jobID))
	if err != nil {
		return nil, postgres.NotFound(err, "find job")
	}
	return j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, j *models.Job) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE payout_jobs
		SET run_at = $2, status = $3, scheduled = $4, attempts = $5, last_error = $6, updated_at = $7
		WHERE id = $1`,
		j.ID, j.RunAt, j.Status, j.Scheduled, j.Attempts, j.LastError, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payout job: %w", err)
	}
	return postgres.ExpectOne(res, "update payout job")
}

// DueJobs skips rows another replica is already working on.
func (s *PostgresStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM payout_jobs
		WHERE status = 'queued' AND run_at <= $1
		ORDER BY run_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
}

func (s *PostgresStore) UnscheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM payout_jobs
		WHERE status = 'queued' AND NOT scheduled AND run_at > $1
		ORDER BY run_at
		LIMIT $2`, now, limit)
}

func (s *PostgresStore) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payout jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
