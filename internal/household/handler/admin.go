package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/household/models"
	"kinledger/internal/household/service"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/requestcontext"
)

// AdminService provisions households and member logins.
type AdminService interface {
	Provision(ctx context.Context, cmd service.ProvisionCommand) (*models.Me, error)
	AddProfile(ctx context.Context, householdID id.HouseholdID, email, fullName string, role id.Role) (*models.Profile, error)
}

// TokenIssuer mints bearer tokens for provisioned profiles.
type TokenIssuer interface {
	Issue(actor id.Actor, expiresIn time.Duration) (string, error)
}

// AdminHandler serves operator routes behind the admin token.
type AdminHandler struct {
	service  AdminService
	tokens   TokenIssuer
	tokenTTL time.Duration
	logger   *slog.Logger
}

func NewAdmin(service AdminService, tokens TokenIssuer, tokenTTL time.Duration, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, tokens: tokens, tokenTTL: tokenTTL, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/admin/households", h.HandleProvision)
	r.Post("/admin/households/{id}/profiles", h.HandleAddProfile)
}

type provisionedProfile struct {
	Profile     *models.Profile   `json:"profile"`
	Household   *models.Household `json:"household,omitempty"`
	AccessToken string            `json:"access_token"`
	ExpiresIn   int64             `json:"expires_in"`
}

func (h *AdminHandler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[ProvisionRequest](w, r, h.logger)
	if !ok {
		return
	}
	me, err := h.service.Provision(r.Context(), service.ProvisionCommand{
		HouseholdName: req.HouseholdName,
		Currency:      req.Currency,
		OwnerEmail:    req.OwnerEmail,
		OwnerName:     req.OwnerName,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeProfile(w, r, me.Profile, me.Household)
}

func (h *AdminHandler) HandleAddProfile(w http.ResponseWriter, r *http.Request) {
	householdID, err := id.ParseHouseholdID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddProfileRequest](w, r, h.logger)
	if !ok {
		return
	}
	p, err := h.service.AddProfile(r.Context(), householdID, req.Email, req.FullName, req.role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeProfile(w, r, p, nil)
}

func (h *AdminHandler) writeProfile(w http.ResponseWriter, r *http.Request, p *models.Profile, hh *models.Household) {
	token, err := h.tokens.Issue(p.Actor(), h.tokenTTL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue token",
			"request_id", requestcontext.RequestID(r.Context()),
			"profile_id", p.ID,
			"error", err,
		)
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, r, http.StatusCreated, provisionedProfile{
		Profile:     p,
		Household:   hh,
		AccessToken: token,
		ExpiresIn:   int64(h.tokenTTL.Seconds()),
	})
}
