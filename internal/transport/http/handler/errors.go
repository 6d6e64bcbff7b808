package handler

import (
	"errors"
	"net/http"

	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/pkg/logger"
	"github.com/investmarket/auth-api/internal/pkg/validate"
)

// httpError maps err onto a status code and a client-safe body. Anything
// that is not a known business failure is logged and reported as a 500.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	var fe validate.FieldErrors
	if errors.As(err, &fe) {
		writeJSON(w, http.StatusUnprocessableEntity, MessageEnvelope{
			Error:  "validation failed",
			Code:   "validation_failed",
			Fields: fieldMessages(fe),
		})
		return
	}

	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error("request failed", "err", err)
		writeError(w, status, domain.ErrInternalFailure.Code, domain.ErrInternalFailure.Msg)
		return
	}

	env := MessageEnvelope{Error: err.Error(), Code: domain.CodeOf(err)}
	var de *domain.Error
	if errors.As(err, &de) {
		env.Error = de.Msg
		if de.Field != "" {
			env.Fields = map[string]string{de.Field: de.Msg}
		}
	}
	if env.Code == "" {
		env.Code = http.StatusText(status)
	}
	writeJSON(w, status, env)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

var ruleMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"e164":     "must be an E.164 phone number",
	"alphanum": "must contain only letters and digits",
	"numeric":  "must contain only digits",
	"min":      "is too short",
	"max":      "is too long",
	"maxbytes": "is too long",
	"oneof":    "is not an allowed value",
}

func fieldMessages(fe validate.FieldErrors) map[string]string {
	out := make(map[string]string, len(fe))
	for field, rule := range fe {
		msg, ok := ruleMessages[rule]
		if !ok {
			msg = "failed " + rule
		}
		out[field] = msg
	}
	return out
}
