package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

type AuthSuite struct {
	suite.Suite
	jwt   *JWTService
	actor id.Actor
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(AuthSuite))
}

func (s *AuthSuite) SetupTest() {
	s.jwt = NewJWTService("test-signing-key-0123456789", "kinledger")
	s.actor = id.Actor{ProfileID: id.NewProfileID(), HouseholdID: id.NewHouseholdID(), Role: id.RoleOwner}
}

func (s *AuthSuite) TestIssueValidate() {
	s.Run("round trip", func() {
		token, err := s.jwt.Issue(s.actor, time.Hour)
		s.Require().NoError(err)

		got, err := s.jwt.Validate(token)
		s.Require().NoError(err)
		s.Equal(s.actor, got)
	})

	s.Run("expired token", func() {
		token, err := s.jwt.Issue(s.actor, -time.Minute)
		s.Require().NoError(err)

		_, err = s.jwt.Validate(token)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "expired")
	})

	s.Run("wrong key", func() {
		other := NewJWTService("another-signing-key-99999999", "kinledger")
		token, err := other.Issue(s.actor, time.Hour)
		s.Require().NoError(err)

		_, err = s.jwt.Validate(token)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("wrong issuer", func() {
		other := NewJWTService("test-signing-key-0123456789", "someone-else")
		token, err := other.Issue(s.actor, time.Hour)
		s.Require().NoError(err)

		_, err = s.jwt.Validate(token)
		s.Error(err)
	})
}

func (s *AuthSuite) TestRequireAuth() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen id.Actor
	h := RequireAuth(s.jwt, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	s.Run("missing header", func() {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("valid token", func() {
		token, err := s.jwt.Issue(s.actor, time.Hour)
		s.Require().NoError(err)
		r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		s.Equal(http.StatusNoContent, w.Code)
		s.Equal(s.actor, seen)
	})
}

func TestActorFrom(t *testing.T) {
	_, err := ActorFrom(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func (s *AuthSuite) TestRequireAdminToken() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	s.Run("matching token passes", func() {
		req := httptest.NewRequest(http.MethodPost, "/admin/households", nil)
		req.Header.Set("X-Admin-Token", "operator-token")
		rr := httptest.NewRecorder()
		RequireAdminToken("operator-token", logger)(next).ServeHTTP(rr, req)
		s.Equal(http.StatusNoContent, rr.Code)
	})

	s.Run("wrong token is rejected", func() {
		req := httptest.NewRequest(http.MethodPost, "/admin/households", nil)
		req.Header.Set("X-Admin-Token", "guess")
		rr := httptest.NewRecorder()
		RequireAdminToken("operator-token", logger)(next).ServeHTTP(rr, req)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("unset token disables the routes", func() {
		req := httptest.NewRequest(http.MethodPost, "/admin/households", nil)
		rr := httptest.NewRecorder()
		RequireAdminToken("", logger)(next).ServeHTTP(rr, req)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})
}
