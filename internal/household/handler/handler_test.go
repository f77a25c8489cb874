package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"kinledger/internal/household/handler"
	"kinledger/internal/household/models"
	"kinledger/internal/household/service"
	"kinledger/internal/household/store"
	"kinledger/internal/platform/auth"
	id "kinledger/pkg/domain"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/testutil"
)

type noLedger struct{}

func (noLedger) HasEntries(context.Context, id.HouseholdID) (bool, error) { return false, nil }

type HouseholdHandlerSuite struct {
	suite.Suite
	router chi.Router
	jwt    *auth.JWTService
}

func TestHouseholdHandlerSuite(t *testing.T) {
	suite.Run(t, new(HouseholdHandlerSuite))
}

func (s *HouseholdHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store.NewInMemory(), txcontext.NewMemoryRunner(), noLedger{})
	s.jwt = auth.NewJWTService("handler-test-signing-key", "kinledger")

	s.router = chi.NewRouter()
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAdminToken("operator", logger))
		handler.NewAdmin(svc, s.jwt, time.Hour, logger).Register(r)
	})
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.jwt, logger))
		handler.New(svc, logger).Register(r)
	})
}

type provisioned struct {
	Profile     models.Profile   `json:"profile"`
	Household   models.Household `json:"household"`
	AccessToken string           `json:"access_token"`
}

func (s *HouseholdHandlerSuite) provision() provisioned {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/households", map[string]string{
		"household_name": "Bello home",
		"currency":       "NGN",
		"owner_email":    "bola@example.com",
		"owner_name":     "Bola Bello",
	})
	req.Header.Set("X-Admin-Token", "operator")
	rr := testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	return testutil.DecodeEnvelope[provisioned](s.T(), rr).Data
}

func (s *HouseholdHandlerSuite) authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *HouseholdHandlerSuite) TestProvisionAndMe() {
	p := s.provision()
	s.NotEmpty(p.AccessToken)

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(s.T(), http.MethodGet, "/me", nil), p.AccessToken))
	s.Equal(http.StatusOK, rr.Code)
	env := testutil.DecodeEnvelope[models.Me](s.T(), rr)
	s.Equal("Bello home", env.Data.Household.Name)
	s.Equal(id.RoleOwner, env.Data.Profile.Role)
	s.Equal("v1", env.Meta.Version)
}

func (s *HouseholdHandlerSuite) TestAdminRequiresToken() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/households", map[string]string{})
	testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusUnauthorized, "UNAUTHORIZED")
}

func (s *HouseholdHandlerSuite) TestKinAndAccount() {
	p := s.provision()

	s.Run("create kin", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/kin-members", map[string]string{
			"display_name": "Mama",
			"relationship": "parent",
		})
		rr := testutil.DoRequest(s.router, s.authed(req, p.AccessToken))
		s.Equal(http.StatusCreated, rr.Code, rr.Body.String())
		env := testutil.DecodeEnvelope[models.KinMember](s.T(), rr)
		s.Equal(models.RelationshipParent, env.Data.Relationship)
	})

	s.Run("invalid relationship", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/kin-members", map[string]string{
			"display_name": "Mama",
			"relationship": "landlord",
		})
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.authed(req, p.AccessToken)), http.StatusBadRequest, "VALIDATION_ERROR")
	})

	s.Run("unknown kin id", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/kin-members/"+id.NewKinID().String(), nil)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.authed(req, p.AccessToken)), http.StatusNotFound, "NOT_FOUND")
	})

	s.Run("primary account is masked", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/primary-account", map[string]string{
			"account_name":   "Bola Bello",
			"account_number": "0011223344",
			"bank_code":      "058",
			"bank_name":      "GTBank",
		})
		rr := testutil.DoRequest(s.router, s.authed(req, p.AccessToken))
		s.Equal(http.StatusOK, rr.Code, rr.Body.String())
		env := testutil.DecodeEnvelope[map[string]any](s.T(), rr)
		s.Equal("******3344", env.Data["account_number"])
	})
}
