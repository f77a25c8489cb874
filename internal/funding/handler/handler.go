package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/funding/service"
	"kinledger/internal/platform/auth"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/requestcontext"
)

type Service interface {
	Initiate(ctx context.Context, cmd service.InitiateCommand) (*service.Topup, error)
	Withdraw(ctx context.Context, cmd service.WithdrawCommand) (*service.Withdrawal, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/balance/topup/initiate", h.HandleInitiate)
	r.Post("/balance/withdraw/initiate", h.HandleWithdraw)
}

type InitiateRequest struct {
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r *InitiateRequest) Validate() error {
	if r.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}
	return nil
}

// HandleInitiate handles POST /balance/topup/initiate.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[InitiateRequest](w, r, h.logger)
	if !ok {
		return
	}
	r = httputil.WithIdempotencyKey(r, req.IdempotencyKey)

	topup, err := h.service.Initiate(r.Context(), service.InitiateCommand{
		Actor:          actor,
		AmountCents:    req.AmountCents,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusCreated, topup)
}

// HandleWithdraw handles POST /balance/withdraw/initiate. The body has the
// same shape as a top-up.
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[InitiateRequest](w, r, h.logger)
	if !ok {
		return
	}
	r = httputil.WithIdempotencyKey(r, req.IdempotencyKey)

	out, err := h.service.Withdraw(r.Context(), service.WithdrawCommand{
		Actor:          actor,
		AmountCents:    req.AmountCents,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "withdrawal failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"household_id", actor.HouseholdID,
			"error", err,
		)
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusCreated, map[string]any{"transaction_id": out.TransactionID})
}
