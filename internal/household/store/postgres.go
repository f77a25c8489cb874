package store

import (
	"context"
	"database/sql"
	"fmt"

	"kinledger/internal/household/models"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
)

// PostgresStore persists households, profiles, kin, accounts and
// subscriptions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) CreateHousehold(ctx context.Context, h *models.Household) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO households (id, name, currency, owner_profile_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.Name, h.Currency, h.OwnerProfileID, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create household: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create household: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindHousehold(ctx context.Context, householdID id.HouseholdID) (*models.Household, error) {
	var h models.Household
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name, currency, owner_profile_id, created_at, updated_at
		FROM households WHERE id = $1`, householdID).
		Scan(&h.ID, &h.Name, &h.Currency, &h.OwnerProfileID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, postgres.NotFound(err, "find household")
	}
	return &h, nil
}

func (s *PostgresStore) UpdateHousehold(ctx context.Context, h *models.Household) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE households SET name = $2, currency = $3, updated_at = $4 WHERE id = $1`,
		h.ID, h.Name, h.Currency, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update household: %w", err)
	}
	return postgres.ExpectOne(res, "update household")
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *models.Profile) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO profiles (id, household_id, email, full_name, role, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.HouseholdID, p.Email, p.FullName, p.Role, p.AvatarURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create profile: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindProfile(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	var p models.Profile
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, household_id, email, full_name, role, avatar_url, created_at, updated_at
		FROM profiles WHERE id = $1`, profileID).
		Scan(&p.ID, &p.HouseholdID, &p.Email, &p.FullName, &p.Role, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, postgres.NotFound(err, "find profile")
	}
	return &p, nil
}

const kinColumns = `id, household_id, display_name, first_name, last_name, email, profile_url, relationship,
	added_by_profile_id, linked_profile_id, deleted_at, created_at, updated_at`

func scanKin(row scanner) (*models.KinMember, error) {
	var k models.KinMember
	var linked sql.NullString
	var deleted sql.NullTime
	if err := row.Scan(&k.ID, &k.HouseholdID, &k.DisplayName, &k.FirstName, &k.LastName, &k.Email, &k.ProfileURL,
		&k.Relationship, &k.AddedByProfileID, &linked, &deleted, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	if linked.Valid {
		pid, err := id.ParseProfileID(linked.String)
		if err != nil {
			return nil, err
		}
		k.LinkedProfileID = &pid
	}
	if deleted.Valid {
		k.DeletedAt = &deleted.Time
	}
	return &k, nil
}

func linkedProfile(k *models.KinMember) sql.NullString {
	if k.LinkedProfileID == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: k.LinkedProfileID.String(), Valid: true}
}

func (s *PostgresStore) CreateKin(ctx context.Context, k *models.KinMember) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO kin_members (`+kinColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		k.ID, k.HouseholdID, k.DisplayName, k.FirstName, k.LastName, k.Email, k.ProfileURL, k.Relationship,
		k.AddedByProfileID, linkedProfile(k), k.DeletedAt, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create kin member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateKin(ctx context.Context, k *models.KinMember) error {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE kin_members
		SET display_name = $2, first_name = $3, last_name = $4, email = $5, profile_url = $6,
			relationship = $7, linked_profile_id = $8, deleted_at = $9, updated_at = $10
		WHERE id = $1`,
		k.ID, k.DisplayName, k.FirstName, k.LastName, k.Email, k.ProfileURL, k.Relationship,
		linkedProfile(k), k.DeletedAt, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update kin member: %w", err)
	}
	return postgres.ExpectOne(res, "update kin member")
}

func (s *PostgresStore) FindKin(ctx context.Context, kinID id.KinID) (*models.KinMember, error) {
	k, err := scanKin(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+kinColumns+` FROM kin_members WHERE id = $1`, kinID))
	if err != nil {
		return nil, postgres.NotFound(err, "find kin member")
	}
	return k, nil
}

func (s *PostgresStore) ListKin(ctx context.Context, householdID id.HouseholdID) ([]*models.KinMember, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+kinColumns+` FROM kin_members
		WHERE household_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list kin members: %w", err)
	}
	defer rows.Close()
	var out []*models.KinMember
	for rows.Next() {
		k, err := scanKin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kin member: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindPrimaryAccount(ctx context.Context, profileID id.ProfileID) (*models.PrimaryAccount, error) {
	var a models.PrimaryAccount
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, profile_id, account_name, account_number, bank_code, bank_name, created_at, updated_at
		FROM primary_accounts WHERE profile_id = $1`, profileID).
		Scan(&a.ID, &a.ProfileID, &a.AccountName, &a.AccountNumber, &a.BankCode, &a.BankName, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, postgres.NotFound(err, "find primary account")
	}
	return &a, nil
}

func (s *PostgresStore) UpsertPrimaryAccount(ctx context.Context, a *models.PrimaryAccount) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO primary_accounts (id, profile_id, account_name, account_number, bank_code, bank_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (profile_id) DO UPDATE
		SET account_name = EXCLUDED.account_name, account_number = EXCLUDED.account_number,
			bank_code = EXCLUDED.bank_code, bank_name = EXCLUDED.bank_name, updated_at = EXCLUDED.updated_at`,
		a.ID, a.ProfileID, a.AccountName, a.AccountNumber, a.BankCode, a.BankName, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert primary account: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, household_id, tier, status, current_period_start, current_period_end,
	external_subscription_id, external_customer_id, created_at, updated_at`

func scanSubscription(row scanner) (*models.Subscription, error) {
	var sub models.Subscription
	var start, end sql.NullTime
	if err := row.Scan(&sub.ID, &sub.HouseholdID, &sub.Tier, &sub.Status, &start, &end,
		&sub.ExternalSubscriptionID, &sub.ExternalCustomerID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if start.Valid {
		sub.CurrentPeriodStart = &start.Time
	}
	if end.Valid {
		sub.CurrentPeriodEnd = &end.Time
	}
	return &sub, nil
}

func (s *PostgresStore) FindSubscription(ctx context.Context, householdID id.HouseholdID) (*models.Subscription, error) {
	sub, err := scanSubscription(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE household_id = $1`, householdID))
	if err != nil {
		return nil, postgres.NotFound(err, "find subscription")
	}
	return sub, nil
}

func (s *PostgresStore) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	sub, err := scanSubscription(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_subscription_id = $1 AND external_subscription_id <> ''`, externalID))
	if err != nil {
		return nil, postgres.NotFound(err, "find subscription by external id")
	}
	return sub, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (household_id) DO UPDATE
		SET tier = EXCLUDED.tier, status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start, current_period_end = EXCLUDED.current_period_end,
			external_subscription_id = EXCLUDED.external_subscription_id,
			external_customer_id = EXCLUDED.external_customer_id, updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.HouseholdID, sub.Tier, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.ExternalSubscriptionID, sub.ExternalCustomerID, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
