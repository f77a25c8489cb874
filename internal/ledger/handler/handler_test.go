package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"kinledger/internal/idempotency"
	idemstore "kinledger/internal/idempotency/store"
	"kinledger/internal/ledger/handler"
	"kinledger/internal/ledger/models"
	"kinledger/internal/ledger/service"
	"kinledger/internal/ledger/store"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/httputil"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/testutil"
)

type LedgerHandlerSuite struct {
	suite.Suite
	router  chi.Router
	service *service.Service
	owner   id.Actor
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func (s *LedgerHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = service.New(store.NewInMemory(), txcontext.NewMemoryRunner(),
		service.WithIdempotency(idempotency.NewService(idemstore.NewInMemory())),
	)
	s.router = chi.NewRouter()
	handler.New(s.service, logger).Register(s.router)
	s.owner = testutil.OwnerActor()

	_, err := s.service.Record(context.Background(), models.Entry{
		HouseholdID: s.owner.HouseholdID,
		AmountCents: 5000,
		Direction:   models.DirectionIn,
		Type:        models.TypeFunding,
	})
	s.Require().NoError(err)
}

func (s *LedgerHandlerSuite) TestBalance() {
	req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/balance", nil), s.owner)
	rr := testutil.DoRequest(s.router, req)

	s.Equal(http.StatusOK, rr.Code)
	env := testutil.DecodeEnvelope[models.Balance](s.T(), rr)
	s.True(env.OK)
	s.Equal(int64(5000), env.Data.BalanceCents)
	s.Equal(int64(5000), env.Data.AvailableCents)
}

func (s *LedgerHandlerSuite) TestUnauthenticated() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/balance", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func (s *LedgerHandlerSuite) TestList() {
	s.Run("lists household entries", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/ledger?type=funding", nil), s.owner)
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusOK, rr.Code)
		env := testutil.DecodeEnvelope[struct {
			Transactions []models.Transaction `json:"transactions"`
			Pagination   httputil.Pagination  `json:"pagination"`
		}](s.T(), rr)
		s.Len(env.Data.Transactions, 1)
		s.False(env.Data.Pagination.HasMore)
		s.Empty(env.Data.Pagination.Cursor)
	})

	s.Run("bad limit", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/ledger?limit=500", nil), s.owner)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "VALIDATION_ERROR")
	})

	s.Run("bad cursor", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/ledger?cursor=bad!", nil), s.owner)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "VALIDATION_ERROR")
	})
}

func (s *LedgerHandlerSuite) TestVerifyIsOwnerOnly() {
	req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/ledger/verify", nil), testutil.DependentOf(s.owner))
	testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusForbidden, "FORBIDDEN")

	req = testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/ledger/verify", nil), s.owner)
	rr := testutil.DoRequest(s.router, req)
	s.Equal(http.StatusOK, rr.Code)
	env := testutil.DecodeEnvelope[models.VerifyReport](s.T(), rr)
	s.True(env.Data.Consistent)
}

func (s *LedgerHandlerSuite) TestAdjust() {
	body := map[string]any{
		"amount_cents":    1200,
		"direction":       "out",
		"description":     "cash withdrawn at home",
		"idempotency_key": "adj-1",
	}

	s.Run("owner records once per key", func() {
		for range 2 {
			req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/ledger/adjustments", body), s.owner)
			rr := testutil.DoRequest(s.router, req)
			s.Equal(http.StatusCreated, rr.Code, rr.Body.String())
			env := testutil.DecodeEnvelope[models.Transaction](s.T(), rr)
			s.Equal("adj-1", env.Meta.IdempotencyKey)
		}
		b, err := s.service.Balance(context.Background(), s.owner.HouseholdID)
		s.Require().NoError(err)
		s.Equal(int64(3800), b.BalanceCents)
	})

	s.Run("key reuse with other input conflicts", func() {
		other := map[string]any{"amount_cents": 10, "direction": "out", "description": "x", "idempotency_key": "adj-1"}
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/ledger/adjustments", other), s.owner)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusConflict, "IDEMPOTENCY_CONFLICT")
	})

	s.Run("dependent is forbidden", func() {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/ledger/adjustments", body), testutil.DependentOf(s.owner))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusForbidden, "FORBIDDEN")
	})

	s.Run("unknown field is rejected", func() {
		req := testutil.WithActor(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/ledger/adjustments", `{"amount":1}`), s.owner)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "BAD_REQUEST")
	})
}
