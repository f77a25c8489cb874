package domain

import dErrors "kinledger/pkg/domain-errors"

// Role is a household member's role.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleDependent Role = "dependent"
)

func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleDependent
}

// ParseRole validates a role claim.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown role %q", s)
	}
	return r, nil
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ProfileID   ProfileID
	HouseholdID HouseholdID
	Role        Role
}

func (a Actor) IsOwner() bool { return a.Role == RoleOwner }

// RequireOwner rejects non-owner callers.
func (a Actor) RequireOwner() error {
	if !a.IsOwner() {
		return dErrors.New(dErrors.CodeForbidden, "only the household owner may perform this action")
	}
	return nil
}
