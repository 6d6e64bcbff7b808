package domain

import "time"

// Purpose scopes an OTP challenge to the flow that issued it.
type Purpose string

const (
	PurposeEmailVerification       Purpose = "email_verification"
	PurposeLoginVerification       Purpose = "login_verification"
	PurposePasswordReset           Purpose = "password_reset"
	PurposePhoneVerification       Purpose = "phone_verification"
	PurposeTwoFactor               Purpose = "two_factor"
	PurposeTransactionVerification Purpose = "transaction_verification"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposeLoginVerification, PurposePasswordReset,
		PurposePhoneVerification, PurposeTwoFactor, PurposeTransactionVerification:
		return true
	}
	return false
}

// DefaultMaxAttempts is the attempt cap when the issuer does not set one.
const DefaultMaxAttempts = 3

// Subject identifies who an OTP challenge belongs to. At least one field must be set.
type Subject struct {
	AccountID string
	Email     string
	Phone     string
}

func (s Subject) Empty() bool {
	return s.AccountID == "" && s.Email == "" && s.Phone == ""
}

// Key is the canonical lookup key: email first, then phone, then account id.
func (s Subject) Key() string {
	switch {
	case s.Email != "":
		return "email:" + NormalizeEmail(s.Email)
	case s.Phone != "":
		return "phone:" + s.Phone
	case s.AccountID != "":
		return "account:" + s.AccountID
	}
	return ""
}

// Challenge is a single issued OTP with its own expiry and attempt state.
type Challenge struct {
	ChallengeID  string    `json:"id"`
	SubjectKey   string    `json:"-"`
	AccountID    string    `json:"account_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Code         string    `json:"-"`
	Purpose      Purpose   `json:"purpose"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Consumed     bool      `json:"consumed"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
}

// IsValid reports whether the challenge can still be consumed at now.
func (c *Challenge) IsValid(now time.Time) bool {
	return !c.Consumed && now.Before(c.ExpiresAt) && c.AttemptCount < c.MaxAttempts
}

func (c *Challenge) Expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }

func (c *Challenge) Exhausted() bool { return c.AttemptCount >= c.MaxAttempts }
