package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/investmarket/auth-api/internal/application/account"
)

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// AccountHandler serves the admin account endpoints.
type AccountHandler struct {
	svc account.Service
}

func NewAccountHandler(svc account.Service) *AccountHandler { return &AccountHandler{svc: svc} }

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, next, err := h.svc.List(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaginatedAccountsEnvelope{Data: items, NextCursor: next})
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountEnvelope{Account: a})
}

func (h *AccountHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req changeRoleRequest
	if !decodeValid(w, r, &req) {
		return
	}
	a, err := h.svc.ChangeRole(r.Context(), p, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountEnvelope{Account: a})
}
