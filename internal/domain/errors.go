package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrInternal     = errors.New("internal error")
)

// Error is a business failure with a stable machine-readable code.
// Kind is one of the sentinels above and is what errors.Is matches against.
type Error struct {
	Code  string
	Msg   string
	Field string
	Kind  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, code, msg string) *Error {
	return &Error{Code: code, Msg: msg, Kind: kind}
}

func fieldError(kind error, code, field, msg string) *Error {
	return &Error{Code: code, Msg: msg, Field: field, Kind: kind}
}

// Coded errors returned by the auth pipeline. The messages are client-safe.
var (
	ErrEmailTaken    = fieldError(ErrConflict, "email_taken", "email", "email already registered")
	ErrUsernameTaken = fieldError(ErrConflict, "username_taken", "username", "username already taken")
	ErrPhoneTaken    = fieldError(ErrConflict, "telephone_taken", "telephone", "telephone already registered")

	ErrInvalidCredentials = newError(ErrUnauthorized, "invalid_credentials", "invalid credentials")
	ErrInvalidCode        = newError(ErrUnauthorized, "invalid_code", "invalid code")
	ErrCodeExpired        = newError(ErrUnauthorized, "expired", "code expired")
	ErrMaxAttempts        = newError(ErrUnauthorized, "max_attempts_exceeded", "max attempts exceeded")
	ErrTokenInvalid       = newError(ErrUnauthorized, "invalid_token", "invalid token")
	ErrTokenExpired       = newError(ErrUnauthorized, "token_expired", "token expired")

	ErrEmailNotVerified = newError(ErrForbidden, "email_not_verified", "email not verified")
	ErrRoleForbidden    = newError(ErrForbidden, "insufficient_role", "insufficient role")

	ErrAlreadyVerified  = newError(ErrConflict, "already_verified", "already verified")
	ErrAccountNotFound  = newError(ErrNotFound, "account_not_found", "account does not exist")
	ErrSubjectRequired  = newError(ErrBadRequest, "subject_required", "one of account id, email or phone is required")
	ErrInvalidRole      = fieldError(ErrBadRequest, "invalid_role", "role", "invalid role")
	ErrNoPhoneOnAccount = fieldError(ErrBadRequest, "no_telephone", "telephone", "no telephone on account")

	ErrInternalFailure = newError(ErrInternal, "internal_error", "internal server error")
)

// CodeOf returns the stable code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
