package handler_test

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	obmodels "kinledger/internal/obligation/models"
	"kinledger/internal/payout/handler"
	"kinledger/internal/payout/models"
	"kinledger/internal/testkit"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/testutil"
)

type PayoutHandlerSuite struct {
	suite.Suite
	stack  *testkit.Stack
	router chi.Router
}

func TestPayoutHandlerSuite(t *testing.T) {
	suite.Run(t, new(PayoutHandlerSuite))
}

func (s *PayoutHandlerSuite) SetupTest() {
	s.stack = testkit.NewStack(s.T())
	s.router = chi.NewRouter()
	handler.New(s.stack.Payouts, s.stack.Logger).Register(s.router)
}

func (s *PayoutHandlerSuite) executeBody(r *obmodels.Request, key string) map[string]any {
	return map[string]any{
		"request_id":      r.ID.String(),
		"kin_id":          r.KinID.String(),
		"amount_cents":    r.AmountCents,
		"idempotency_key": key,
	}
}

func (s *PayoutHandlerSuite) post(body any) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/payouts/execute", body)
	return testutil.WithActor(req.WithContext(s.stack.Ctx), s.stack.Owner)
}

func (s *PayoutHandlerSuite) TestExecute() {
	s.stack.Fund(5_000)
	r := s.stack.ApprovedRequest(3_000)

	s.Run("creates the payout", func() {
		rr := testutil.DoRequest(s.router, s.post(s.executeBody(r, "exec-1")))
		s.Equal(http.StatusCreated, rr.Code)
		env := testutil.DecodeEnvelope[struct {
			Payout models.Payout `json:"payout"`
		}](s.T(), rr)
		s.Equal(models.StatusProcessing, env.Data.Payout.Status)
		s.Equal(r.ID, env.Data.Payout.RequestID)
	})

	s.Run("replays the same key", func() {
		rr := testutil.DoRequest(s.router, s.post(s.executeBody(r, "exec-1")))
		s.Equal(http.StatusCreated, rr.Code)
	})

	s.Run("second key conflicts", func() {
		rr := testutil.DoRequest(s.router, s.post(s.executeBody(r, "exec-2")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "CONFLICT")
	})
}

func (s *PayoutHandlerSuite) TestExecuteValidation() {
	r := s.stack.ApprovedRequest(3_000)

	s.Run("missing key", func() {
		rr := testutil.DoRequest(s.router, s.post(s.executeBody(r, "")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "VALIDATION_ERROR")
	})

	s.Run("bad request id", func() {
		body := s.executeBody(r, "exec-1")
		body["request_id"] = "nope"
		rr := testutil.DoRequest(s.router, s.post(body))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "VALIDATION_ERROR")
	})

	s.Run("dependent is forbidden", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/payouts/execute", s.executeBody(r, "exec-1"))
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.stack.Member))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "FORBIDDEN")
	})

	s.Run("unfunded household", func() {
		rr := testutil.DoRequest(s.router, s.post(s.executeBody(r, "exec-2")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE")
	})
}

type payoutList struct {
	Payouts    []models.Payout     `json:"payouts"`
	Pagination httputil.Pagination `json:"pagination"`
}

func (s *PayoutHandlerSuite) TestListAndGet() {
	s.stack.Fund(5_000)
	r := s.stack.ApprovedRequest(3_000)
	p, err := s.stack.Payouts.Execute(s.stack.Ctx, s.stack.ExecuteCommand(r, "exec-1"))
	s.Require().NoError(err)

	s.Run("list filters by status", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/payouts?status=processing", nil), s.stack.Owner)
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusOK, rr.Code)
		env := testutil.DecodeEnvelope[payoutList](s.T(), rr)
		s.Require().Len(env.Data.Payouts, 1)
		s.Equal(p.ID, env.Data.Payouts[0].ID)

		req = testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/payouts?status=failed", nil), s.stack.Owner)
		rr = testutil.DoRequest(s.router, req)
		s.Require().Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `"payouts":[]`)
		env = testutil.DecodeEnvelope[payoutList](s.T(), rr)
		s.Empty(env.Data.Payouts)
	})

	s.Run("bad status", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/payouts?status=lost", nil), s.stack.Owner)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "VALIDATION_ERROR")
	})

	s.Run("get", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/payouts/"+p.ID.String(), nil), s.stack.Owner)
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusOK, rr.Code)
		env := testutil.DecodeEnvelope[models.Payout](s.T(), rr)
		s.Equal(p.ID, env.Data.ID)
	})

	s.Run("get unknown", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/payouts/"+r.ID.String(), nil), s.stack.Owner)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusNotFound, "NOT_FOUND")
	})
}
