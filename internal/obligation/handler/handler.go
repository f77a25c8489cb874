package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/obligation/models"
	"kinledger/internal/obligation/service"
	"kinledger/internal/platform/auth"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/platform/pagination"
	"kinledger/pkg/requestcontext"
)

// Service defines the request operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, cmd service.CreateCommand) (*models.Request, error)
	Approve(ctx context.Context, cmd service.DecisionCommand) (*models.Request, error)
	Reject(ctx context.Context, cmd service.DecisionCommand) (*models.Request, error)
	Cancel(ctx context.Context, cmd service.DecisionCommand) (*models.Request, error)
	Get(ctx context.Context, actor id.Actor, requestID id.RequestID) (*models.Detail, error)
	ListWithKin(ctx context.Context, actor id.Actor, filter models.Filter) ([]*models.WithKin, string, bool, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the request ("ask") endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/asks", h.HandleList)
	r.Post("/asks", h.HandleCreate)
	r.Get("/asks/{id}", h.HandleGet)
	r.Post("/asks/{id}/approve", h.decision("approve", func(ctx context.Context, cmd service.DecisionCommand) (*models.Request, error) {
		return h.service.Approve(ctx, cmd)
	}))
	r.Post("/asks/{id}/reject", h.decision("reject", func(ctx context.Context, cmd service.DecisionCommand) (*models.Request, error) {
		return h.service.Reject(ctx, cmd)
	}))
	r.Post("/asks/{id}/cancel", h.decision("cancel", func(ctx context.Context, cmd service.DecisionCommand) (*models.Request, error) {
		return h.service.Cancel(ctx, cmd)
	}))
}

// HandleList handles GET /asks?status=&kin_id=&cursor=&limit=
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

	items, next, more, err := h.service.ListWithKin(r.Context(), actor, filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, map[string]any{
		"requests":   items,
		"pagination": httputil.Pagination{Cursor: next, HasMore: more},
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger)
	if !ok {
		return
	}
	r = httputil.WithIdempotencyKey(r, req.IdempotencyKey)

	created, err := h.service.Create(r.Context(), service.CreateCommand{
		Actor:           actor,
		KinID:           req.kinID,
		Title:           req.Title,
		Description:     req.Description,
		AmountCents:     req.AmountCents,
		Priority:        strings.TrimSpace(req.Priority),
		AmountType:      strings.TrimSpace(req.AmountType),
		DueDate:         req.dueDate,
		RecurrenceRule:  req.RecurrenceRule,
		RecurrenceEndAt: req.endAt,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusCreated, map[string]any{"request": created})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	detail, err := h.service.Get(r.Context(), actor, requestID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, detail)
}

func (h *Handler) decision(name string, op func(context.Context, service.DecisionCommand) (*models.Request, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.ActorFrom(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger)
		if !ok {
			return
		}
		r = httputil.WithIdempotencyKey(r, req.IdempotencyKey)

		out, err := op(r.Context(), service.DecisionCommand{
			Actor:          actor,
			RequestID:      requestID,
			Notes:          req.Notes,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			h.logger.WarnContext(r.Context(), "request decision failed",
				"request_id", requestcontext.RequestID(r.Context()),
				"decision", name,
				"obligation_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, map[string]any{"request": out})
	}
}
