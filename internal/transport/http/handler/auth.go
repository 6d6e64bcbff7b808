package handler

import (
	"net/http"

	"github.com/investmarket/auth-api/internal/application/auth"
	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/pkg/validate"
)

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type codeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,numeric,min=4,max=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,numeric,min=4,max=8"`
	NewPassword string `json:"new_password" validate:"required,min=8,maxbytes=72"`
}

// AuthHandler serves the public registration, login and recovery endpoints.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler { return &AuthHandler{svc: svc} }

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	msg := "account created, check your email for a verification code"
	if !res.VerificationSent {
		msg = "account created, request a new verification code to continue"
	}
	writeJSON(w, http.StatusCreated, RegisterEnvelope{
		Account:          res.Account,
		VerificationSent: res.VerificationSent,
		ExpiresAt:        res.ExpiresAt,
		Message:          msg,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeValid(w, r, &req) {
		return
	}
	a, err := h.svc.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountEnvelope{Account: a})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := h.svc.ResendEmailVerification(r.Context(), req.Email); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "if the account exists, a new code was sent"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeValid(w, r, &req) {
		return
	}
	ch, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *AuthHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeValid(w, r, &req) {
		return
	}
	sess, err := h.svc.VerifyLogin(r.Context(), req.Email, req.Code)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password reset code sent"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}

// decodeValid decodes the body into v and runs its validate tags.
func decodeValid(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !decode(w, r, v) {
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, r, err)
		return false
	}
	return true
}
