package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"kinledger/internal/obligation/models"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, household_id, kin_id, requester_profile_id, title, description, amount_cents,
	source, status, priority, amount_type, due_date, recurrence_rule, recurrence_end_at,
	recurrence_parent_id, payout_snapshot, failure_reason, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.Request, error) {
	var r models.Request
	var dueDate, endAt sql.NullTime
	var parentID sql.NullString
	var snapshot []byte
	if err := row.Scan(&r.ID, &r.HouseholdID, &r.KinID, &r.RequesterProfileID, &r.Title, &r.Description, &r.AmountCents,
		&r.Source, &r.Status, &r.Priority, &r.AmountType, &dueDate, &r.RecurrenceRule, &endAt,
		&parentID, &snapshot, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if dueDate.Valid {
		r.DueDate = &dueDate.Time
	}
	if endAt.Valid {
		r.RecurrenceEndAt = &endAt.Time
	}
	if parentID.Valid {
		v, err := id.ParseRequestID(parentID.String)
		if err != nil {
			return nil, err
		}
		r.RecurrenceParentID = &v
	}
	if len(snapshot) > 0 {
		var snap models.PayoutSnapshot
		if err := json.Unmarshal(snapshot, &snap); err != nil {
			return nil, fmt.Errorf("decode payout snapshot: %w", err)
		}
		r.PayoutSnapshot = &snap
	}
	return &r, nil
}

func encodeSnapshot(snap *models.PayoutSnapshot) (any, error) {
	if snap == nil {
		return nil, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode payout snapshot: %w", err)
	}
	return raw, nil
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Request) error {
	snapshot, err := encodeSnapshot(r.PayoutSnapshot)
	if err != nil {
		return err
	}
	var parentID sql.NullString
	if r.RecurrenceParentID != nil {
		parentID = sql.NullString{String: r.RecurrenceParentID.String(), Valid: true}
	}
	_, err = postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		r.ID, r.HouseholdID, r.KinID, r.RequesterProfileID, r.Title, r.Description, r.AmountCents,
		r.Source, r.Status, r.Priority, r.AmountType, r.DueDate, r.RecurrenceRule, r.RecurrenceEndAt,
		parentID, snapshot, r.FailureReason, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	r, err := scanRequest(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, requestID))
	if err != nil {
		return nil, postgres.NotFound(err, "find request")
	}
	return r, nil
}

// Execute locks the request row, runs validate and mutate on it and writes
// the mutable columns back. It must run inside a transaction.
func (s *PostgresStore) Execute(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	conn := postgres.Conn(ctx, s.db)
	r, err := scanRequest(conn.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		return nil, postgres.NotFound(err, "lock request")
	}
	if err := validate(r); err != nil {
		return r, err
	}
	previous := r.Status
	mutate(r)

	snapshot, err := encodeSnapshot(r.PayoutSnapshot)
	if err != nil {
		return nil, err
	}
	// the status guard keeps the write a compare-and-swap even without the lock
	res, err := conn.ExecContext(ctx, `
		UPDATE requests
		SET status = $3, payout_snapshot = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1 AND status = $2`,
		r.ID, previous, r.Status, snapshot, r.FailureReason, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	if err := postgres.ExpectOne(res, "update request"); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Request, error) {
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
	query := `SELECT ` + requestColumns + ` FROM requests WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertApproval(ctx context.Context, a *models.Approval) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO approvals (id, request_id, approver_profile_id, approved_at, notes)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.RequestID, a.ApproverProfileID, a.ApprovedAt, a.Notes)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, requestID id.RequestID) ([]*models.Approval, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT id, request_id, approver_profile_id, approved_at, notes
		FROM approvals WHERE request_id = $1 ORDER BY approved_at, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	out := []*models.Approval{}
	for rows.Next() {
		var a models.Approval
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ApproverProfileID, &a.ApprovedAt, &a.Notes); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context, householdID id.HouseholdID, status models.Status) (int, error) {
	var n int
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE household_id = $1 AND status = $2`, householdID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}
