package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/reconciliation/metrics"
	"kinledger/internal/reconciliation/models"
	"kinledger/internal/reconciliation/provider"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/requestcontext"
)

const maxWebhookBytes = 1 << 20

type Processor interface {
	Process(ctx context.Context, ev models.Event) (*models.Result, error)
	Orphans(ctx context.Context, status models.OrphanStatus, limit int) ([]*models.Orphan, error)
}

// Handler receives provider webhooks. Deliveries that fail verification or
// cannot be parsed are acknowledged and dropped; only processing failures
// ask the provider to redeliver.
type Handler struct {
	processor Processor
	providers map[string]provider.Provider
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(processor Processor, m *metrics.Metrics, logger *slog.Logger, providers ...provider.Provider) *Handler {
	h := &Handler{
		processor: processor,
		providers: make(map[string]provider.Provider, len(providers)),
		metrics:   m,
		logger:    logger,
	}
	for _, p := range providers {
		h.providers[p.Name()] = p
	}
	return h
}

// Register mounts the unauthenticated webhook routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/{provider}", h.HandleWebhook)
}

// RegisterAdmin mounts operator routes; the caller guards them.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/reconciliation/orphans", h.HandleListOrphans)
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[name]
	if !ok {
		httputil.WriteError(w, r, dErrors.Newf(dErrors.CodeNotFound, "unknown provider %q", name))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, r, dErrors.New(dErrors.CodeBadRequest, "webhook body too large"))
			return
		}
		httputil.WriteError(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read webhook body"))
		return
	}

	if err := p.Verify(r.Header, body); err != nil {
		h.metrics.IncrementUnverified(name)
		h.logger.WarnContext(ctx, "webhook signature rejected",
			"request_id", requestcontext.RequestID(ctx),
			"provider", name,
			"error", err,
		)
		httputil.WriteJSON(w, r, http.StatusOK, models.Result{Provider: name, Disposition: models.DispositionUnverified})
		return
	}

	ev, err := p.Normalize(body)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		h.metrics.IncrementEvent(name, string(models.DispositionIgnored))
		h.logger.WarnContext(ctx, "webhook payload not usable",
			"request_id", requestcontext.RequestID(ctx),
			"provider", name,
			"error", err,
		)
		httputil.WriteJSON(w, r, http.StatusOK, models.Result{Provider: name, EventID: ev.EventID, Disposition: models.DispositionIgnored})
		return
	}

	res, err := h.processor.Process(ctx, ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"request_id", requestcontext.RequestID(ctx),
			"provider", name,
			"event_id", ev.EventID,
			"error", err,
		)
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, res)
}

func (h *Handler) HandleListOrphans(w http.ResponseWriter, r *http.Request) {
	limit, _, err := httputil.PageParams(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	status := models.OrphanStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.OrphanPending, models.OrphanResolved, models.OrphanExpired:
	default:
		httputil.WriteError(w, r, dErrors.Newf(dErrors.CodeValidation, "invalid status %q", status))
		return
	}
	orphans, err := h.processor.Orphans(r.Context(), status, limit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusOK, map[string]any{"orphans": orphans})
}
