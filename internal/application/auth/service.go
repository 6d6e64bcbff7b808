package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/investmarket/auth-api/internal/application/notify"
	"github.com/investmarket/auth-api/internal/application/otp"
	"github.com/investmarket/auth-api/internal/domain"
	jwtinfra "github.com/investmarket/auth-api/internal/infrastructure/jwt"
	"github.com/investmarket/auth-api/internal/pkg/id"
	"github.com/investmarket/auth-api/internal/pkg/logger"
	"github.com/investmarket/auth-api/internal/pkg/password"
	"github.com/investmarket/auth-api/internal/pkg/validate"
)

// Event subjects published on successful transitions.
const (
	EventAccountRegistered = "auth.account.registered"
	EventEmailVerified     = "auth.email.verified"
	EventLoginSucceeded    = "auth.login.succeeded"
	EventPasswordReset     = "auth.password.reset"
	EventPhoneVerified     = "auth.phone.verified"
)

// LoginStatusOTPSent is returned by Login once the second factor is pending.
const LoginStatusOTPSent = "login_otp_sent"

// AccountStore is the credential store the orchestrator depends on.
type AccountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	FindByID(ctx context.Context, accountID string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
	UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error
}

// Ledger issues and judges OTP challenges.
type Ledger interface {
	Issue(ctx context.Context, subject domain.Subject, purpose domain.Purpose, ttl time.Duration, maxAttempts int) (*domain.Challenge, error)
	Verify(ctx context.Context, subject domain.Subject, purpose domain.Purpose, code string) (otp.Result, error)
	InvalidateAccount(ctx context.Context, accountID string) error
}

// TokenMinter signs session tokens.
type TokenMinter interface {
	Mint(in jwtinfra.MintInput) (string, time.Time, error)
}

// EventPublisher receives auth lifecycle events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Policy holds challenge lifetimes and the attempt cap.
type Policy struct {
	VerificationTTL time.Duration
	LoginTTL        time.Duration
	ResetTTL        time.Duration
	MaxAttempts     int
}

// DefaultPolicy is 10 minutes for verification and reset codes, 5 for login codes.
var DefaultPolicy = Policy{
	VerificationTTL: 10 * time.Minute,
	LoginTTL:        5 * time.Minute,
	ResetTTL:        10 * time.Minute,
	MaxAttempts:     domain.DefaultMaxAttempts,
}

// ServiceDeps holds all dependencies for the auth service.
type ServiceDeps struct {
	AccountRepo AccountStore
	Ledger      Ledger
	Hasher      password.Hasher
	Notifier    notify.Notifier
	Tokens      TokenMinter
	Events      EventPublisher
	Policy      Policy
	Now         func() time.Time
}

type RegisterResult struct {
	Account          *domain.Account `json:"account"`
	VerificationSent bool            `json:"verification_sent"`
	ExpiresAt        *time.Time      `json:"verification_expires_at,omitempty"`
}

type LoginChallenge struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Account   *domain.Account `json:"account"`
}

// AccountEvent is the payload of every published auth event.
type AccountEvent struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	At        time.Time `json:"at"`
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*RegisterResult, error)
	VerifyEmail(ctx context.Context, email, code string) (*domain.Account, error)
	ResendEmailVerification(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*LoginChallenge, error)
	VerifyLogin(ctx context.Context, email, code string) (*Session, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	RequestPhoneVerification(ctx context.Context, accountID string) error
	VerifyPhone(ctx context.Context, accountID, code string) error
}

type service struct {
	accounts AccountStore
	ledger   Ledger
	hasher   password.Hasher
	notifier notify.Notifier
	tokens   TokenMinter
	events   EventPublisher
	policy   Policy
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Policy == (Policy{}) {
		deps.Policy = DefaultPolicy
	}
	return &service{
		accounts: deps.AccountRepo,
		ledger:   deps.Ledger,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
		tokens:   deps.Tokens,
		events:   deps.Events,
		policy:   deps.Policy,
		now:      deps.Now,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*RegisterResult, error) {
	req.Email = domain.NormalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(&req); err != nil {
		return nil, err
	}
	role := domain.RoleUser
	if req.Role != "" {
		r, err := domain.ParseRole(req.Role)
		if err != nil {
			return nil, err
		}
		if !r.SelfAssignable() {
			return nil, domain.ErrInvalidRole
		}
		role = r
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.internal(ctx, "register.hash", err)
	}

	now := s.now().UTC()
	a := &domain.Account{
		AccountID:    id.NewAccountID(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		Role:         role,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Telephone != nil && *req.Telephone != "" {
		tel := *req.Telephone
		a.Telephone = &tel
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, s.internal(ctx, "register.create", err)
	}

	res := &RegisterResult{Account: a}
	c, err := s.ledger.Issue(ctx, subjectOf(a), domain.PurposeEmailVerification, s.policy.VerificationTTL, s.policy.MaxAttempts)
	if err != nil {
		logger.WithContext(ctx).Error("failed to issue email verification", "account_id", a.AccountID, "err", err)
	} else {
		res.VerificationSent = s.sendOTP(ctx, a.Email, c)
		res.ExpiresAt = &c.ExpiresAt
	}
	s.publish(ctx, EventAccountRegistered, a)
	return res, nil
}

func (s *service) VerifyEmail(ctx context.Context, email, code string) (*domain.Account, error) {
	a, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, s.internal(ctx, "verify_email.find", err)
	}
	if a.EmailVerified {
		return nil, domain.ErrAlreadyVerified
	}
	if err := s.consume(ctx, a, subjectOf(a), domain.PurposeEmailVerification, code); err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateFields(ctx, a.AccountID, map[string]interface{}{domain.FieldEmailVerified: true}); err != nil {
		return nil, s.internal(ctx, "verify_email.update", err)
	}
	a.EmailVerified = true
	s.publish(ctx, EventEmailVerified, a)
	return a, nil
}

// ResendEmailVerification issues a fresh verification code. Unknown addresses
// succeed silently.
func (s *service) ResendEmailVerification(ctx context.Context, email string) error {
	a, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return s.internal(ctx, "resend_verification.find", err)
	}
	if a.EmailVerified {
		return domain.ErrAlreadyVerified
	}
	c, err := s.ledger.Issue(ctx, subjectOf(a), domain.PurposeEmailVerification, s.policy.VerificationTTL, s.policy.MaxAttempts)
	if err != nil {
		return s.internal(ctx, "resend_verification.issue", err)
	}
	s.sendOTP(ctx, a.Email, c)
	return nil
}

// Login checks the password and starts the second factor. Unverified accounts
// get a fresh email verification code instead.
func (s *service) Login(ctx context.Context, email, pw string) (*LoginChallenge, error) {
	a, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.hasher.Equalize(pw)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "login.find", err)
	}
	if !s.hasher.Verify(pw, a.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	if !a.EmailVerified {
		c, err := s.ledger.Issue(ctx, subjectOf(a), domain.PurposeEmailVerification, s.policy.VerificationTTL, s.policy.MaxAttempts)
		if err != nil {
			logger.WithContext(ctx).Error("failed to issue email verification", "account_id", a.AccountID, "err", err)
		} else {
			s.sendOTP(ctx, a.Email, c)
		}
		return nil, domain.ErrEmailNotVerified
	}

	c, err := s.ledger.Issue(ctx, subjectOf(a), domain.PurposeLoginVerification, s.policy.LoginTTL, s.policy.MaxAttempts)
	if err != nil {
		return nil, s.internal(ctx, "login.issue", err)
	}
	s.sendOTP(ctx, a.Email, c)
	return &LoginChallenge{Status: LoginStatusOTPSent, ExpiresAt: c.ExpiresAt}, nil
}

// VerifyLogin completes the second factor and mints the session token.
func (s *service) VerifyLogin(ctx context.Context, email, code string) (*Session, error) {
	a, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, s.internal(ctx, "verify_login.find", err)
	}
	if err := s.consume(ctx, a, subjectOf(a), domain.PurposeLoginVerification, code); err != nil {
		return nil, err
	}

	// Re-read so the token carries the role as of now, not as of Login.
	a, err = s.accounts.FindByID(ctx, a.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "verify_login.reload", err)
	}
	now := s.now().UTC()
	if err := s.accounts.UpdateFields(ctx, a.AccountID, map[string]interface{}{domain.FieldLastLoginAt: now}); err != nil {
		return nil, s.internal(ctx, "verify_login.update", err)
	}
	a.LastLoginAt = &now

	in := jwtinfra.MintInput{AccountID: a.AccountID, Role: a.Role, Email: a.Email}
	if a.Telephone != nil && a.PhoneVerified {
		in.Phone = *a.Telephone
	}
	token, expiresAt, err := s.tokens.Mint(in)
	if err != nil {
		return nil, s.internal(ctx, "verify_login.mint", err)
	}
	s.publish(ctx, EventLoginSucceeded, a)
	return &Session{Token: token, ExpiresAt: expiresAt, Account: a}, nil
}

// ForgotPassword issues a password reset code. Unknown addresses are reported.
func (s *service) ForgotPassword(ctx context.Context, email string) error {
	a, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrAccountNotFound
		}
		return s.internal(ctx, "forgot_password.find", err)
	}
	c, err := s.ledger.Issue(ctx, subjectOf(a), domain.PurposePasswordReset, s.policy.ResetTTL, s.policy.MaxAttempts)
	if err != nil {
		return s.internal(ctx, "forgot_password.issue", err)
	}
	s.sendOTP(ctx, a.Email, c)
	return nil
}

type resetInput struct {
	NewPassword string `json:"new_password" validate:"required,min=8,maxbytes=72"`
}

// ResetPassword replaces the password of the account owning email. The code
// is judged only against that account's own reset challenge.
func (s *service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := validate.Struct(&resetInput{NewPassword: newPassword}); err != nil {
		return err
	}
	a, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCode
		}
		return s.internal(ctx, "reset_password.find", err)
	}
	if err := s.consume(ctx, a, subjectOf(a), domain.PurposePasswordReset, code); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.internal(ctx, "reset_password.hash", err)
	}
	if err := s.accounts.UpdateFields(ctx, a.AccountID, map[string]interface{}{domain.FieldPasswordHash: hash}); err != nil {
		return s.internal(ctx, "reset_password.update", err)
	}
	if err := s.ledger.InvalidateAccount(ctx, a.AccountID); err != nil {
		logger.WithContext(ctx).Error("failed to invalidate challenges after reset", "account_id", a.AccountID, "err", err)
	}
	s.sendNotice(ctx, a.Email, "Your password was changed",
		"The password for your account was just reset. If this was not you, contact support immediately.")
	s.publish(ctx, EventPasswordReset, a)
	return nil
}

func (s *service) RequestPhoneVerification(ctx context.Context, accountID string) error {
	a, err := s.phoneAccount(ctx, accountID)
	if err != nil {
		return err
	}
	c, err := s.ledger.Issue(ctx, phoneSubject(a), domain.PurposePhoneVerification, s.policy.VerificationTTL, s.policy.MaxAttempts)
	if err != nil {
		return s.internal(ctx, "phone_verification.issue", err)
	}
	s.sendOTP(ctx, *a.Telephone, c)
	return nil
}

func (s *service) VerifyPhone(ctx context.Context, accountID, code string) error {
	a, err := s.phoneAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.consume(ctx, a, phoneSubject(a), domain.PurposePhoneVerification, code); err != nil {
		return err
	}
	if err := s.accounts.UpdateFields(ctx, a.AccountID, map[string]interface{}{domain.FieldPhoneVerified: true}); err != nil {
		return s.internal(ctx, "verify_phone.update", err)
	}
	s.publish(ctx, EventPhoneVerified, a)
	return nil
}

func (s *service) phoneAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, s.internal(ctx, "phone.find", err)
	}
	if a.Telephone == nil || *a.Telephone == "" {
		return nil, domain.ErrNoPhoneOnAccount
	}
	if a.PhoneVerified {
		return nil, domain.ErrAlreadyVerified
	}
	return a, nil
}

// consume verifies code for (subject, purpose) and checks the challenge
// belongs to a.
func (s *service) consume(ctx context.Context, a *domain.Account, subject domain.Subject, purpose domain.Purpose, code string) error {
	res, err := s.ledger.Verify(ctx, subject, purpose, code)
	if err != nil {
		return s.internal(ctx, "otp.verify", err)
	}
	if !res.Valid {
		logger.WithContext(ctx).Info("otp rejected", "account_id", a.AccountID, "purpose", purpose, "reason", res.Reason)
		return res.Err()
	}
	if res.Challenge != nil && res.Challenge.AccountID != "" && res.Challenge.AccountID != a.AccountID {
		logger.WithContext(ctx).Warn("otp challenge owner mismatch", "account_id", a.AccountID, "challenge_id", res.Challenge.ChallengeID)
		return domain.ErrInvalidCode
	}
	return nil
}

func subjectOf(a *domain.Account) domain.Subject {
	return domain.Subject{AccountID: a.AccountID, Email: a.Email}
}

func phoneSubject(a *domain.Account) domain.Subject {
	return domain.Subject{AccountID: a.AccountID, Phone: *a.Telephone}
}

func (s *service) sendOTP(ctx context.Context, to string, c *domain.Challenge) bool {
	ok, err := s.notifier.SendOTP(ctx, to, c.Code, c.Purpose)
	if err != nil || !ok {
		logger.WithContext(ctx).Warn("otp notification not delivered", "account_id", c.AccountID, "purpose", c.Purpose, "err", err)
		return false
	}
	return true
}

func (s *service) sendNotice(ctx context.Context, to, subject, body string) {
	ok, err := s.notifier.SendNotice(ctx, to, subject, body)
	if err != nil || !ok {
		logger.WithContext(ctx).Warn("notice not delivered", "subject", subject, "err", err)
	}
}

func (s *service) publish(ctx context.Context, subject string, a *domain.Account) {
	if s.events == nil {
		return
	}
	ev := AccountEvent{AccountID: a.AccountID, Email: a.Email, Role: string(a.Role), At: s.now().UTC()}
	if err := s.events.Publish(ctx, subject, ev); err != nil {
		logger.WithContext(ctx).Warn("failed to publish event", "subject", subject, "err", err)
	}
}

// internal logs err and returns the client-safe internal failure.
func (s *service) internal(ctx context.Context, op string, err error) error {
	logger.WithContext(ctx).Error("auth operation failed", "op", op, "err", err)
	return fmt.Errorf("%s: %w", op, domain.ErrInternalFailure)
}
