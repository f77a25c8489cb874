package testutil

import (
	"context"
	"net/http"

	id "kinledger/pkg/domain"
	"kinledger/pkg/requestcontext"
)

// OwnerActor returns an owner of a fresh household.
func OwnerActor() id.Actor {
	return id.Actor{ProfileID: id.NewProfileID(), HouseholdID: id.NewHouseholdID(), Role: id.RoleOwner}
}

// DependentOf returns a dependent member of the owner's household.
func DependentOf(owner id.Actor) id.Actor {
	return id.Actor{ProfileID: id.NewProfileID(), HouseholdID: owner.HouseholdID, Role: id.RoleDependent}
}

// WithActor attaches an authenticated caller to the request, as the auth
// middleware would.
func WithActor(req *http.Request, actor id.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
