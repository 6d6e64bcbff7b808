package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// MessageEnvelope is the generic response wrapper. Code is the stable
// machine-readable reason on failures.
type MessageEnvelope struct {
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RegisterEnvelope wraps the registration response.
type RegisterEnvelope struct {
	Account          *domain.Account `json:"account"`
	VerificationSent bool            `json:"verification_sent"`
	ExpiresAt        *time.Time      `json:"verification_expires_at,omitempty"`
	Message          string          `json:"message"`
}

// AccountEnvelope wraps a single account.
type AccountEnvelope struct {
	Account *domain.Account `json:"account"`
}

// PaginatedAccountsEnvelope wraps cursor-paginated account lists.
type PaginatedAccountsEnvelope struct {
	Data       []domain.Account `json:"data"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, Code: code})
}

// decode reads a single JSON object from the request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}
