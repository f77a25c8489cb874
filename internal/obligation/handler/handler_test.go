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

	hhmodels "kinledger/internal/household/models"
	"kinledger/internal/idempotency"
	idemstore "kinledger/internal/idempotency/store"
	"kinledger/internal/obligation/handler"
	"kinledger/internal/obligation/models"
	"kinledger/internal/obligation/service"
	"kinledger/internal/obligation/store"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/testutil"
)

type kinDirectory map[id.KinID]id.HouseholdID

func (k kinDirectory) ActiveKin(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhmodels.KinMember, error) {
	return k.FindKin(ctx, householdID, kinID)
}

func (k kinDirectory) FindKin(_ context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhmodels.KinMember, error) {
	if hh, ok := k[kinID]; ok && hh == householdID {
		return &hhmodels.KinMember{ID: kinID, HouseholdID: hh, DisplayName: "Chidi Okafor"}, nil
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "kin member not found")
}

type requestBody struct {
	Request models.Request `json:"request"`
}

type noopJobs struct{}

func (noopJobs) Enqueue(context.Context, *models.Request, id.ProfileID, time.Time) error { return nil }
func (noopJobs) CancelForRequest(context.Context, id.RequestID) error                  { return nil }

type ObligationHandlerSuite struct {
	suite.Suite
	router chi.Router
	owner  id.Actor
	member id.Actor
	kinID  id.KinID
}

func TestObligationHandlerSuite(t *testing.T) {
	suite.Run(t, new(ObligationHandlerSuite))
}

func (s *ObligationHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.owner = testutil.OwnerActor()
	s.member = testutil.DependentOf(s.owner)
	s.kinID = id.NewKinID()
	svc := service.New(store.NewInMemory(), txcontext.NewMemoryRunner(),
		kinDirectory{s.kinID: s.owner.HouseholdID}, noopJobs{},
		idempotency.NewService(idemstore.NewInMemory()),
		service.WithLogger(logger),
	)
	s.router = chi.NewRouter()
	handler.New(svc, logger).Register(s.router)
}


func (s *ObligationHandlerSuite) createAsk(key string) models.Request {
	req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/asks", map[string]any{
		"kin_id":          s.kinID.String(),
		"title":           "Rent share",
		"amount_cents":    12000,
		"due_date":        "2026-05-01",
		"idempotency_key": key,
	}), s.member)
	rr := testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	env := testutil.DecodeEnvelope[requestBody](s.T(), rr)
	s.Equal(key, env.Meta.IdempotencyKey)
	return env.Data.Request
}

func (s *ObligationHandlerSuite) TestCreateAndGet() {
	ask := s.createAsk("ask-1")
	s.Equal(models.StatusPending, ask.Status)
	s.Require().NotNil(ask.DueDate)
	s.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *ask.DueDate)

	replay := s.createAsk("ask-1")
	s.Equal(ask.ID, replay.ID)

	rr := testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodGet, "/asks/"+ask.ID.String(), nil), s.owner))
	s.Require().Equal(http.StatusOK, rr.Code)
	env := testutil.DecodeEnvelope[models.Detail](s.T(), rr)
	s.Equal(ask.ID, env.Data.ID)
	s.Equal(s.kinID, env.Data.Kin.ID)
	s.Equal("Chidi Okafor", env.Data.Kin.DisplayName)
	s.Empty(env.Data.Approvals)
}

func (s *ObligationHandlerSuite) TestCreateValidation() {
	cases := map[string]map[string]any{
		"bad kin":      {"kin_id": "nope", "title": "x", "amount_cents": 1, "idempotency_key": "k"},
		"no amount":    {"kin_id": s.kinID.String(), "title": "x", "idempotency_key": "k"},
		"no key":       {"kin_id": s.kinID.String(), "title": "x", "amount_cents": 1},
		"bad due date": {"kin_id": s.kinID.String(), "title": "x", "amount_cents": 1, "due_date": "tomorrow", "idempotency_key": "k"},
	}
	for name, body := range cases {
		rr := testutil.DoRequest(s.router, testutil.WithActor(
			testutil.NewJSONRequest(s.T(), http.MethodPost, "/asks", body), s.member))
		s.Equal(http.StatusBadRequest, rr.Code, name)
	}
}

func (s *ObligationHandlerSuite) TestDecisions() {
	ask := s.createAsk("ask-1")
	path := "/asks/" + ask.ID.String()

	rr := testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/approve", map[string]any{"idempotency_key": "a1"}), s.member))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "FORBIDDEN")

	rr = testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/approve", map[string]any{"idempotency_key": "a1", "notes": "ok"}), s.owner))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	s.Equal(models.StatusApproved, testutil.DecodeEnvelope[requestBody](s.T(), rr).Data.Request.Status)

	rr = testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/reject", map[string]any{"idempotency_key": "r1", "reason": "no"}), s.owner))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "CONFLICT")

	rr = testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/approve", map[string]any{"idempotency_key": "a1", "notes": "changed"}), s.owner))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "IDEMPOTENCY_CONFLICT")

	rr = testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/cancel", map[string]any{"idempotency_key": "c1"}), s.member))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	s.Equal(models.StatusCancelled, testutil.DecodeEnvelope[requestBody](s.T(), rr).Data.Request.Status)
}

func (s *ObligationHandlerSuite) TestRejectReturnsRequest() {
	ask := s.createAsk("ask-1")
	rr := testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodPost, "/asks/"+ask.ID.String()+"/reject", map[string]any{"idempotency_key": "r1", "reason": "not this month"}), s.owner))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	env := testutil.DecodeEnvelope[requestBody](s.T(), rr)
	s.Equal(ask.ID, env.Data.Request.ID)
	s.Equal(models.StatusRejected, env.Data.Request.Status)
}

func (s *ObligationHandlerSuite) TestListFilters() {
	s.createAsk("ask-1")
	s.createAsk("ask-2")

	rr := testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodGet, "/asks?status=pending&limit=1&kin_id="+s.kinID.String(), nil), s.owner))
	s.Require().Equal(http.StatusOK, rr.Code)
	env := testutil.DecodeEnvelope[struct {
		Requests   []models.WithKin    `json:"requests"`
		Pagination httputil.Pagination `json:"pagination"`
	}](s.T(), rr)
	s.Require().Len(env.Data.Requests, 1)
	s.Equal(s.kinID, env.Data.Requests[0].Kin.ID)
	s.Equal("Chidi Okafor", env.Data.Requests[0].Kin.DisplayName)
	s.Nil(env.Data.Requests[0].Kin.ProfileURL)
	s.Equal(models.StatusPending, env.Data.Requests[0].Status)
	s.True(env.Data.Pagination.HasMore)
	s.NotEmpty(env.Data.Pagination.Cursor)

	rr = testutil.DoRequest(s.router, testutil.WithActor(
		testutil.NewJSONRequest(s.T(), http.MethodGet, "/asks?status=done", nil), s.owner))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "VALIDATION_ERROR")
}
