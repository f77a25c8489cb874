package models

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCurrency upper-cases code and checks it is a 3-letter ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !currencyPattern.MatchString(code) {
		return "", dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter ISO 4217 code")
	}
	return code, nil
}

type Household struct {
	ID             id.HouseholdID `json:"id"`
	Name           string         `json:"name"`
	Currency       string         `json:"currency"`
	OwnerProfileID id.ProfileID   `json:"owner_profile_id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Profile struct {
	ID          id.ProfileID   `json:"id"`
	HouseholdID id.HouseholdID `json:"household_id"`
	Email       string         `json:"email"`
	FullName    string         `json:"full_name"`
	Role        id.Role        `json:"role"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (p *Profile) Actor() id.Actor {
	return id.Actor{ProfileID: p.ID, HouseholdID: p.HouseholdID, Role: p.Role}
}

// Me is the caller's own profile with its household.
type Me struct {
	Profile   *Profile   `json:"profile"`
	Household *Household `json:"household"`
}

type Relationship string

const (
	RelationshipSpouse  Relationship = "spouse"
	RelationshipParent  Relationship = "parent"
	RelationshipChild   Relationship = "child"
	RelationshipSibling Relationship = "sibling"
	RelationshipOther   Relationship = "other"
)

func ParseRelationship(s string) (Relationship, error) {
	switch r := Relationship(strings.ToLower(strings.TrimSpace(s))); r {
	case RelationshipSpouse, RelationshipParent, RelationshipChild, RelationshipSibling, RelationshipOther:
		return r, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid relationship %q", s)
}

// KinMember is a payee of household requests.
type KinMember struct {
	ID               id.KinID       `json:"id"`
	HouseholdID      id.HouseholdID `json:"household_id"`
	DisplayName      string         `json:"display_name"`
	FirstName        string         `json:"first_name,omitempty"`
	LastName         string         `json:"last_name,omitempty"`
	Email            string         `json:"email,omitempty"`
	ProfileURL       string         `json:"profile_url,omitempty"`
	Relationship     Relationship   `json:"relationship"`
	AddedByProfileID id.ProfileID   `json:"added_by_profile_id"`
	LinkedProfileID  *id.ProfileID  `json:"linked_profile_id,omitempty"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (k *KinMember) IsDeleted() bool { return k.DeletedAt != nil }

// KinPatch carries the mutable kin fields. Nil fields are left unchanged.
type KinPatch struct {
	DisplayName  *string
	FirstName    *string
	LastName     *string
	Email        *string
	ProfileURL   *string
	Relationship *Relationship
}

// Apply mutates k. Deleted kin are frozen.
func (k *KinMember) Apply(p KinPatch, now time.Time) error {
	if k.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "kin member has been deleted")
	}
	if p.DisplayName != nil {
		name := strings.TrimSpace(*p.DisplayName)
		if name == "" {
			return dErrors.New(dErrors.CodeValidation, "display_name cannot be empty")
		}
		k.DisplayName = name
	}
	if p.FirstName != nil {
		k.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		k.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Email != nil {
		email, err := normalizeOptionalEmail(*p.Email)
		if err != nil {
			return err
		}
		k.Email = email
	}
	if p.ProfileURL != nil {
		k.ProfileURL = strings.TrimSpace(*p.ProfileURL)
	}
	if p.Relationship != nil {
		k.Relationship = *p.Relationship
	}
	k.UpdatedAt = now
	return nil
}

// Delete soft-deletes k.
func (k *KinMember) Delete(now time.Time) error {
	if k.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "kin member has already been deleted")
	}
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// NormalizeEmail lower-cases and validates an address.
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, err := mail.ParseAddress(s); err != nil || s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	return s, nil
}

func normalizeOptionalEmail(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return NormalizeEmail(s)
}

// PrimaryAccount is the bank account a profile is paid into.
type PrimaryAccount struct {
	ID            id.AccountID `json:"id"`
	ProfileID     id.ProfileID `json:"profile_id"`
	AccountName   string       `json:"account_name"`
	AccountNumber string       `json:"account_number"`
	BankCode      string       `json:"bank_code"`
	BankName      string       `json:"bank_name"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

var digits = regexp.MustCompile(`^[0-9]+$`)

func (a *PrimaryAccount) Validate() error {
	if strings.TrimSpace(a.AccountName) == "" {
		return dErrors.New(dErrors.CodeValidation, "account_name is required")
	}
	if !digits.MatchString(a.AccountNumber) || len(a.AccountNumber) < 6 || len(a.AccountNumber) > 20 {
		return dErrors.New(dErrors.CodeValidation, "account_number must be 6 to 20 digits")
	}
	if strings.TrimSpace(a.BankCode) == "" {
		return dErrors.New(dErrors.CodeValidation, "bank_code is required")
	}
	if strings.TrimSpace(a.BankName) == "" {
		return dErrors.New(dErrors.CodeValidation, "bank_name is required")
	}
	return nil
}

// Masked hides all but the last four digits of the account number.
func (a *PrimaryAccount) Masked() string {
	n := len(a.AccountNumber)
	if n <= 4 {
		return a.AccountNumber
	}
	return strings.Repeat("*", n-4) + a.AccountNumber[n-4:]
}

type Tier string

const (
	TierMonthly   Tier = "monthly"
	TierQuarterly Tier = "quarterly"
	TierYearly    Tier = "yearly"
)

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierMonthly, TierQuarterly, TierYearly:
		return t, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid tier %q", s)
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionTrial     SubscriptionStatus = "trial"
)

type Subscription struct {
	ID                     id.SubscriptionID  `json:"id"`
	HouseholdID            id.HouseholdID     `json:"household_id"`
	Tier                   Tier               `json:"tier"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// SubscriptionUpdate is a provider-reported subscription change.
type SubscriptionUpdate struct {
	HouseholdID            *id.HouseholdID
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Tier                   Tier
	Status                 SubscriptionStatus
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
}
