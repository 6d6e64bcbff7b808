package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/investmarket/auth-api/internal/application/account"
	"github.com/investmarket/auth-api/internal/application/auth"
	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/transport/http/middleware"
)

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type phoneCodeRequest struct {
	Code string `json:"code" validate:"required,numeric,min=4,max=8"`
}

// MeHandler serves the authenticated caller's own account.
type MeHandler struct {
	accounts account.Service
	auth     auth.Service
}

func NewMeHandler(accounts account.Service, authSvc auth.Service) *MeHandler {
	return &MeHandler{accounts: accounts, auth: authSvc}
}

func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	a, err := h.accounts.Get(r.Context(), p.AccountID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountEnvelope{Account: a})
}

func (h *MeHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req domain.UpdateProfileRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.accounts.UpdateProfile(r.Context(), p.AccountID, req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountEnvelope{Account: a})
}

func (h *MeHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), p.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}

// Phone handles /me/phone/{action}: "request" sends an SMS code and
// "validate-code" confirms it.
func (h *MeHandler) Phone(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch chi.URLParam(r, "action") {
	case "request":
		if err := h.auth.RequestPhoneVerification(r.Context(), p.AccountID); err != nil {
			httpError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "verification SMS sent"})
	case "validate-code":
		var req phoneCodeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		if err := h.auth.VerifyPhone(r.Context(), p.AccountID, req.Code); err != nil {
			httpError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "phone confirmed"})
	default:
		writeError(w, http.StatusBadRequest, "unknown_action", "unknown action")
	}
}

func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	}
	return p, ok
}
