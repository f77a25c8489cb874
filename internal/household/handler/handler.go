package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/billing"
	"kinledger/internal/household/models"
	"kinledger/internal/household/service"
	"kinledger/internal/platform/auth"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/requestcontext"
)

// Service defines the household operations exposed over HTTP.
type Service interface {
	Me(ctx context.Context, actor id.Actor) (*models.Me, error)
	UpdateHousehold(ctx context.Context, actor id.Actor, patch service.HouseholdPatch) (*models.Household, error)
	ListKin(ctx context.Context, actor id.Actor) ([]*models.KinMember, error)
	GetKin(ctx context.Context, actor id.Actor, kinID id.KinID) (*models.KinMember, error)
	CreateKin(ctx context.Context, actor id.Actor, cmd service.CreateKinCommand) (*models.KinMember, error)
	UpdateKin(ctx context.Context, actor id.Actor, kinID id.KinID, patch models.KinPatch) (*models.KinMember, error)
	DeleteKin(ctx context.Context, actor id.Actor, kinID id.KinID) error
	GetPrimaryAccount(ctx context.Context, actor id.Actor) (*models.PrimaryAccount, error)
	PutPrimaryAccount(ctx context.Context, actor id.Actor, in service.PrimaryAccountInput) (*models.PrimaryAccount, error)
	GetSubscription(ctx context.Context, actor id.Actor) (*models.Subscription, error)
	StartCheckout(ctx context.Context, actor id.Actor, tier models.Tier) (*billing.Session, error)
	OpenPortal(ctx context.Context, actor id.Actor) (*billing.Session, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts member-facing household routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me", h.HandleMe)
	r.Patch("/household", h.HandleUpdateHousehold)

	r.Get("/kin-members", h.HandleListKin)
	r.Post("/kin-members", h.HandleCreateKin)
	r.Get("/kin-members/{id}", h.HandleGetKin)
	r.Patch("/kin-members/{id}", h.HandleUpdateKin)
	r.Delete("/kin-members/{id}", h.HandleDeleteKin)

	r.Get("/primary-account", h.HandleGetPrimaryAccount)
	r.Put("/primary-account", h.HandlePutPrimaryAccount)

	r.Get("/subscription", h.HandleGetSubscription)
	r.Post("/subscription/checkout", h.HandleCheckout)
	r.Post("/subscription/portal", h.HandlePortal)
}

// withActor runs fn with the authenticated caller, writing UNAUTHORIZED when
// there is none.
func withActor(w http.ResponseWriter, r *http.Request, fn func(actor id.Actor)) {
	actor, err := auth.ActorFrom(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	fn(actor)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		me, err := h.service.Me(r.Context(), actor)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, me)
	})
}

func (h *Handler) HandleUpdateHousehold(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		req, ok := httputil.DecodeAndPrepare[UpdateHouseholdRequest](w, r, h.logger)
		if !ok {
			return
		}
		hh, err := h.service.UpdateHousehold(r.Context(), actor, service.HouseholdPatch{Name: req.Name, Currency: req.Currency})
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, hh)
	})
}

func (h *Handler) HandleListKin(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		kin, err := h.service.ListKin(r.Context(), actor)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if kin == nil {
			kin = []*models.KinMember{}
		}
		httputil.WriteJSON(w, r, http.StatusOK, map[string]any{"kin_members": kin})
	})
}

func (h *Handler) HandleCreateKin(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		req, ok := httputil.DecodeAndPrepare[CreateKinRequest](w, r, h.logger)
		if !ok {
			return
		}
		k, err := h.service.CreateKin(r.Context(), actor, service.CreateKinCommand{
			DisplayName:     req.DisplayName,
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			Email:           req.Email,
			ProfileURL:      req.ProfileURL,
			Relationship:    req.relationship,
			LinkedProfileID: req.linked,
		})
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusCreated, k)
	})
}

func kinIDParam(r *http.Request) (id.KinID, error) {
	return id.ParseKinID(chi.URLParam(r, "id"))
}

func (h *Handler) HandleGetKin(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		kinID, err := kinIDParam(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		k, err := h.service.GetKin(r.Context(), actor, kinID)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, k)
	})
}

func (h *Handler) HandleUpdateKin(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		kinID, err := kinIDParam(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		req, ok := httputil.DecodeAndPrepare[UpdateKinRequest](w, r, h.logger)
		if !ok {
			return
		}
		k, err := h.service.UpdateKin(r.Context(), actor, kinID, req.Patch())
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, k)
	})
}

func (h *Handler) HandleDeleteKin(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		kinID, err := kinIDParam(r)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if err := h.service.DeleteKin(r.Context(), actor, kinID); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, map[string]any{"id": kinID, "deleted": true})
	})
}

// primaryAccountResponse masks the account number.
type primaryAccountResponse struct {
	ID            id.AccountID `json:"id"`
	AccountName   string       `json:"account_name"`
	AccountNumber string       `json:"account_number"`
	BankCode      string       `json:"bank_code"`
	BankName      string       `json:"bank_name"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func toAccountResponse(a *models.PrimaryAccount) primaryAccountResponse {
	return primaryAccountResponse{
		ID:            a.ID,
		AccountName:   a.AccountName,
		AccountNumber: a.Masked(),
		BankCode:      a.BankCode,
		BankName:      a.BankName,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (h *Handler) HandleGetPrimaryAccount(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		a, err := h.service.GetPrimaryAccount(r.Context(), actor)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, toAccountResponse(a))
	})
}

func (h *Handler) HandlePutPrimaryAccount(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		req, ok := httputil.DecodeAndPrepare[PutPrimaryAccountRequest](w, r, h.logger)
		if !ok {
			return
		}
		a, err := h.service.PutPrimaryAccount(r.Context(), actor, service.PrimaryAccountInput{
			AccountName:   req.AccountName,
			AccountNumber: req.AccountNumber,
			BankCode:      req.BankCode,
			BankName:      req.BankName,
		})
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, toAccountResponse(a))
	})
}

func (h *Handler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		sub, err := h.service.GetSubscription(r.Context(), actor)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, sub)
	})
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		req, ok := httputil.DecodeAndPrepare[CheckoutRequest](w, r, h.logger)
		if !ok {
			return
		}
		sess, err := h.service.StartCheckout(r.Context(), actor, req.tier)
		if err != nil {
			h.logger.WarnContext(r.Context(), "subscription checkout failed",
				"request_id", requestcontext.RequestID(r.Context()),
				"household_id", actor.HouseholdID,
				"error", err,
			)
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, map[string]string{"checkout_url": sess.URL, "session_id": sess.ID})
	})
}

func (h *Handler) HandlePortal(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor id.Actor) {
		sess, err := h.service.OpenPortal(r.Context(), actor)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, map[string]string{"portal_url": sess.URL})
	})
}
