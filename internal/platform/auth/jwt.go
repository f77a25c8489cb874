package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

// Claims are the access token claims. Subject is the caller's profile id.
type Claims struct {
	HouseholdID string `json:"household_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
}

func NewJWTService(signingKey, issuer string) *JWTService {
	return &JWTService{signingKey: []byte(signingKey), issuer: issuer}
}

// Issue signs a token for actor. Used by tests and local tooling; login lives
// outside this service.
func (s *JWTService) Issue(actor id.Actor, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		HouseholdID: actor.HouseholdID.String(),
		Role:        string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ProfileID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses the token and returns the actor it names.
func (s *JWTService) Validate(tokenString string) (id.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token expired")
		}
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}

	profileID, err := id.ParseProfileID(claims.Subject)
	if err != nil {
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid subject claim")
	}
	householdID, err := id.ParseHouseholdID(claims.HouseholdID)
	if err != nil {
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid household claim")
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return id.Actor{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid role claim")
	}
	return id.Actor{ProfileID: profileID, HouseholdID: householdID, Role: role}, nil
}
