package handler

import (
	"strings"

	"kinledger/internal/household/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

type UpdateHouseholdRequest struct {
	Name     *string `json:"name"`
	Currency *string `json:"currency"`
}

func (r *UpdateHouseholdRequest) Validate() error {
	if r.Name == nil && r.Currency == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	return nil
}

type CreateKinRequest struct {
	DisplayName     string `json:"display_name"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	ProfileURL      string `json:"profile_url"`
	Relationship    string `json:"relationship"`
	LinkedProfileID string `json:"linked_profile_id"`

	relationship models.Relationship
	linked       *id.ProfileID
}

func (r *CreateKinRequest) Validate() error {
	if strings.TrimSpace(r.DisplayName) == "" {
		return dErrors.New(dErrors.CodeValidation, "display_name is required")
	}
	rel, err := models.ParseRelationship(r.Relationship)
	if err != nil {
		return err
	}
	r.relationship = rel
	if r.LinkedProfileID != "" {
		pid, err := id.ParseProfileID(r.LinkedProfileID)
		if err != nil {
			return err
		}
		r.linked = &pid
	}
	return nil
}

type UpdateKinRequest struct {
	DisplayName  *string `json:"display_name"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	Email        *string `json:"email"`
	ProfileURL   *string `json:"profile_url"`
	Relationship *string `json:"relationship"`

	relationship *models.Relationship
}

func (r *UpdateKinRequest) Validate() error {
	if r.Relationship != nil {
		rel, err := models.ParseRelationship(*r.Relationship)
		if err != nil {
			return err
		}
		r.relationship = &rel
	}
	return nil
}

func (r *UpdateKinRequest) Patch() models.KinPatch {
	return models.KinPatch{
		DisplayName:  r.DisplayName,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		ProfileURL:   r.ProfileURL,
		Relationship: r.relationship,
	}
}

type PutPrimaryAccountRequest struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

func (r *PutPrimaryAccountRequest) Validate() error {
	a := models.PrimaryAccount{
		AccountName:   strings.TrimSpace(r.AccountName),
		AccountNumber: strings.TrimSpace(r.AccountNumber),
		BankCode:      strings.TrimSpace(r.BankCode),
		BankName:      strings.TrimSpace(r.BankName),
	}
	return a.Validate()
}

type CheckoutRequest struct {
	Tier string `json:"tier"`

	tier models.Tier
}

func (r *CheckoutRequest) Validate() error {
	t, err := models.ParseTier(r.Tier)
	if err != nil {
		return err
	}
	r.tier = t
	return nil
}

type ProvisionRequest struct {
	HouseholdName string `json:"household_name"`
	Currency      string `json:"currency"`
	OwnerEmail    string `json:"owner_email"`
	OwnerName     string `json:"owner_name"`
}

func (r *ProvisionRequest) Validate() error {
	if strings.TrimSpace(r.HouseholdName) == "" {
		return dErrors.New(dErrors.CodeValidation, "household_name is required")
	}
	if _, err := models.NormalizeCurrency(r.Currency); err != nil {
		return err
	}
	if _, err := models.NormalizeEmail(r.OwnerEmail); err != nil {
		return err
	}
	return nil
}

type AddProfileRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`

	role id.Role
}

func (r *AddProfileRequest) Validate() error {
	if r.Role == "" {
		r.Role = string(id.RoleDependent)
	}
	role, err := id.ParseRole(r.Role)
	if err != nil {
		return err
	}
	r.role = role
	if _, err := models.NormalizeEmail(r.Email); err != nil {
		return err
	}
	return nil
}
