package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/payout/models"
	"kinledger/internal/payout/service"
	"kinledger/internal/platform/auth"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/platform/pagination"
	"kinledger/pkg/requestcontext"
)

type Service interface {
	Execute(ctx context.Context, cmd service.ExecuteCommand) (*models.Payout, error)
	Get(ctx context.Context, actor id.Actor, payoutID id.PayoutID) (*models.Payout, error)
	List(ctx context.Context, actor id.Actor, filter models.Filter) ([]*models.Payout, string, bool, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/payouts/execute", h.HandleExecute)
	r.Get("/payouts", h.HandleList)
	r.Get("/payouts/{id}", h.HandleGet)
}

type ExecuteRequest struct {
	RequestID      string `json:"request_id"`
	KinID          string `json:"kin_id"`
	AmountCents    int64  `json:"amount_cents"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`

	requestID id.RequestID
	kinID     id.KinID
}

func (r *ExecuteRequest) Validate() error {
	var err error
	if r.requestID, err = id.ParseRequestID(r.RequestID); err != nil {
		return err
	}
	if r.kinID, err = id.ParseKinID(r.KinID); err != nil {
		return err
	}
	if r.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}
	return nil
}

// HandleExecute handles POST /payouts/execute.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ExecuteRequest](w, r, h.logger)
	if !ok {
		return
	}
	r = httputil.WithIdempotencyKey(r, req.IdempotencyKey)

	p, err := h.service.Execute(r.Context(), service.ExecuteCommand{
		Actor:          actor,
		RequestID:      req.requestID,
		KinID:          req.kinID,
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "payout execute failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"obligation_id", req.requestID,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusCreated, map[string]any{"payout": p})
}

// HandleList handles GET /payouts?status=&kin_id=&cursor=&limit=
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
	filter := models.Filter{Limit: limit}
	if filter.Cursor, err = pagination.Decode(rawCursor); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		if filter.Status, err = models.ParseStatus(raw); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	if raw := q.Get("kin_id"); raw != "" {
		kinID, err := id.ParseKinID(raw)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		filter.KinID = &kinID
	}

	items, next, more, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Payout{}
	}
	httputil.WriteJSON(w, r, http.StatusOK, map[string]any{
		"payouts":    items,
		"pagination": httputil.Pagination{Cursor: next, HasMore: more},
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	payoutID, err := id.ParsePayoutID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, err := h.service.Get(r.Context(), actor, payoutID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, p)
}
