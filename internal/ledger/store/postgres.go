package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"kinledger/internal/ledger/models"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
)

// PostgresStore persists entries in ledger_transactions and running totals
// in balance_projections.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, household_id, profile_id, request_id, payout_id, reversal_of,
	amount_cents, direction, type, status, description, external_reference, created_at, updated_at`

const projectionColumns = `household_id, completed_in, completed_out, pending_in, pending_out, version, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	var profileID, requestID, payoutID, reversalOf sql.NullString
	if err := row.Scan(&t.ID, &t.HouseholdID, &profileID, &requestID, &payoutID, &reversalOf,
		&t.AmountCents, &t.Direction, &t.Type, &t.Status, &t.Description, &t.ExternalReference,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if profileID.Valid {
		v, err := id.ParseProfileID(profileID.String)
		if err != nil {
			return nil, err
		}
		t.ProfileID = &v
	}
	if requestID.Valid {
		v, err := id.ParseRequestID(requestID.String)
		if err != nil {
			return nil, err
		}
		t.RequestID = &v
	}
	if payoutID.Valid {
		v, err := id.ParsePayoutID(payoutID.String)
		if err != nil {
			return nil, err
		}
		t.PayoutID = &v
	}
	if reversalOf.Valid {
		v, err := id.ParseTransactionID(reversalOf.String)
		if err != nil {
			return nil, err
		}
		t.ReversalOf = &v
	}
	return &t, nil
}

func scanProjection(row scanner) (*models.Projection, error) {
	var p models.Projection
	if err := row.Scan(&p.HouseholdID, &p.CompletedIn, &p.CompletedOut, &p.PendingIn, &p.PendingOut, &p.Version, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// LockProjection creates the household's projection row on first use and
// takes a row lock on it for the rest of the transaction.
func (s *PostgresStore) LockProjection(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error) {
	conn := postgres.Conn(ctx, s.db)
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO balance_projections (household_id, updated_at)
		VALUES ($1, now())
		ON CONFLICT (household_id) DO NOTHING`, householdID); err != nil {
		return nil, fmt.Errorf("ensure balance projection: %w", err)
	}
	p, err := scanProjection(conn.QueryRowContext(ctx,
		`SELECT `+projectionColumns+` FROM balance_projections WHERE household_id = $1 FOR UPDATE`, householdID))
	if err != nil {
		return nil, postgres.NotFound(err, "lock balance projection")
	}
	return p, nil
}

func (s *PostgresStore) GetProjection(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error) {
	p, err := scanProjection(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+projectionColumns+` FROM balance_projections WHERE household_id = $1`, householdID))
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Projection{HouseholdID: householdID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance projection: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) SaveProjection(ctx context.Context, p *models.Projection) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE balance_projections
		SET completed_in = $2, completed_out = $3, pending_in = $4, pending_out = $5, version = $6, updated_at = $7
		WHERE household_id = $1`,
		p.HouseholdID, p.CompletedIn, p.CompletedOut, p.PendingIn, p.PendingOut, p.Version, p.UpdatedAt)
	if err != nil {
		if postgres.IsCheckViolation(err) {
			return fmt.Errorf("save balance projection: %w", sentinel.ErrInsufficientFunds)
		}
		return fmt.Errorf("save balance projection: %w", err)
	}
	return postgres.ExpectOne(res, "save balance projection")
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.HouseholdID, nullable(t.ProfileID), nullable(t.RequestID), nullable(t.PayoutID), nullable(t.ReversalOf),
		t.AmountCents, t.Direction, t.Type, t.Status, t.Description, t.ExternalReference, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert ledger transaction: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) LockTransaction(ctx context.Context, txID id.TransactionID) (*models.Transaction, error) {
	t, err := scanTransaction(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1 FOR UPDATE`, txID))
	if err != nil {
		return nil, postgres.NotFound(err, "lock ledger transaction")
	}
	return t, nil
}

func (s *PostgresStore) FindTransaction(ctx context.Context, txID id.TransactionID) (*models.Transaction, error) {
	t, err := scanTransaction(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, txID))
	if err != nil {
		return nil, postgres.NotFound(err, "find ledger transaction")
	}
	return t, nil
}

// UpdateTransaction persists the status change of a pending entry. The
// WHERE clause refuses to touch an entry that is already terminal.
func (s *PostgresStore) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE ledger_transactions SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`, t.ID, t.Status, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ledger transaction: %w", err)
	}
	return postgres.ExpectOne(res, "update ledger transaction")
}

func (s *PostgresStore) FindReversal(ctx context.Context, originalID id.TransactionID) (*models.Transaction, error) {
	t, err := scanTransaction(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions WHERE reversal_of = $1`, originalID))
	if err != nil {
		return nil, postgres.NotFound(err, "find reversal")
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Transaction, error) {
	where := []string{"household_id = $1"}
	args := []any{householdID}
	add := func(clause string, v ...any) {
		for _, a := range v {
			args = append(args, a)
			clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		where = append(where, clause)
	}
	if filter.Direction != "" {
		add("direction = ?", filter.Direction)
	}
	if filter.Type != "" {
		add("type = ?", filter.Type)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		add("(created_at, id) < (?, ?)", filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Totals recomputes the projection from the entries themselves.
func (s *PostgresStore) Totals(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error) {
	live := pq.Array([]string{string(models.StatusPending), string(models.StatusCompleted)})
	row := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed' AND direction = 'in'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed' AND direction = 'out'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'pending' AND direction = 'in'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'pending' AND direction = 'out'), 0)
		FROM ledger_transactions
		WHERE household_id = $1 AND status = ANY($2)`, householdID, live)
	p := &models.Projection{HouseholdID: householdID}
	if err := row.Scan(&p.CompletedIn, &p.CompletedOut, &p.PendingIn, &p.PendingOut); err != nil {
		return nil, fmt.Errorf("sum ledger transactions: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) HasEntries(ctx context.Context, householdID id.HouseholdID) (bool, error) {
	var exists bool
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE household_id = $1)`, householdID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger entries: %w", err)
	}
	return exists, nil
}

type stringer interface{ String() string }

func nullable[T stringer](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: (*v).String(), Valid: true}
}
