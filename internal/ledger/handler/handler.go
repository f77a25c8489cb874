package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/ledger/models"
	"kinledger/internal/ledger/service"
	"kinledger/internal/platform/auth"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/platform/pagination"
	"kinledger/pkg/requestcontext"
)

// Service defines the ledger operations exposed over HTTP.
type Service interface {
	Balance(ctx context.Context, householdID id.HouseholdID) (*models.Balance, error)
	List(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Transaction, string, bool, error)
	Get(ctx context.Context, householdID id.HouseholdID, txID id.TransactionID) (*models.Transaction, error)
	Verify(ctx context.Context, householdID id.HouseholdID) (*models.VerifyReport, error)
	Adjust(ctx context.Context, cmd service.AdjustCommand) (*models.Transaction, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/balance", h.HandleBalance)
	r.Get("/ledger", h.HandleList)
	r.Get("/ledger/verify", h.HandleVerify)
	r.Post("/ledger/adjustments", h.HandleAdjust)
	r.Get("/ledger/{id}", h.HandleGet)
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	b, err := h.service.Balance(r.Context(), actor.HouseholdID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, b)
}

// HandleList handles GET /ledger?direction=&type=&status=&cursor=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	limit, rawCursor, err := httputil.PageParams(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	cursor, err := pagination.Decode(rawCursor)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.Filter{
		Direction: models.Direction(strings.ToLower(q.Get("direction"))),
		Type:      models.Type(strings.ToLower(q.Get("type"))),
		Status:    models.Status(strings.ToLower(q.Get("status"))),
		Cursor:    cursor,
		Limit:     limit,
	}

	items, next, more, err := h.service.List(r.Context(), actor.HouseholdID, filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Transaction{}
	}
	httputil.WriteJSON(w, r, http.StatusOK, map[string]any{
		"transactions": items,
		"pagination":   httputil.Pagination{Cursor: next, HasMore: more},
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	txID, err := id.ParseTransactionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	t, err := h.service.Get(r.Context(), actor.HouseholdID, txID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, t)
}

// HandleVerify recomputes the balance from entries. Owner only.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := actor.RequireOwner(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	report, err := h.service.Verify(r.Context(), actor.HouseholdID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, report)
}

type AdjustRequest struct {
	AmountCents    int64  `json:"amount_cents"`
	Direction      string `json:"direction"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (req *AdjustRequest) Validate() error {
	req.Direction = strings.ToLower(strings.TrimSpace(req.Direction))
	req.Description = strings.TrimSpace(req.Description)
	if req.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	if !models.Direction(req.Direction).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "direction must be in or out")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}
	return nil
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdjustRequest](w, r, h.logger)
	if !ok {
		return
	}
	r = httputil.WithIdempotencyKey(r, req.IdempotencyKey)

	t, err := h.service.Adjust(r.Context(), service.AdjustCommand{
		Actor:          actor,
		AmountCents:    req.AmountCents,
		Direction:      models.Direction(req.Direction),
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "ledger adjustment failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"household_id", actor.HouseholdID,
			"error", err,
		)
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusCreated, t)
}
