// Package otp issues and verifies single-use, time-bounded passcode challenges.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/pkg/id"
	"github.com/investmarket/auth-api/internal/pkg/passcode"
)

// ChallengeStore persists challenges. IncrementAttempts and Consume are
// conditional writes: when the stored row no longer qualifies they return its
// current state together with domain.ErrConflict.
type ChallengeStore interface {
	Put(ctx context.Context, c *domain.Challenge) error
	Get(ctx context.Context, challengeID string) (*domain.Challenge, error)
	Latest(ctx context.Context, subjectKey string, purpose domain.Purpose) (*domain.Challenge, error)
	Supersede(ctx context.Context, subjectKey string, purpose domain.Purpose) error
	IncrementAttempts(ctx context.Context, challengeID string) (*domain.Challenge, error)
	Consume(ctx context.Context, challengeID string, now time.Time) (*domain.Challenge, error)
	InvalidateAccount(ctx context.Context, accountID string) error
}

// Reason is the machine-readable outcome of a failed verification.
type Reason string

const (
	ReasonInvalidCode Reason = "invalid_code"
	ReasonExpired     Reason = "expired"
	ReasonMaxAttempts Reason = "max_attempts_exceeded"
)

// Result is the outcome of Verify. Challenge is the challenge the attempt was
// judged against, nil when none existed.
type Result struct {
	Valid     bool
	Reason    Reason
	Challenge *domain.Challenge
}

// Err converts a failed result into its domain error, nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	switch r.Reason {
	case ReasonExpired:
		return domain.ErrCodeExpired
	case ReasonMaxAttempts:
		return domain.ErrMaxAttempts
	}
	return domain.ErrInvalidCode
}

type Ledger struct {
	store      ChallengeStore
	codeLength int
	now        func() time.Time
}

type Option func(*Ledger)

// WithClock replaces the ledger clock used for issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithCodeLength sets the number of digits in issued codes.
func WithCodeLength(n int) Option {
	return func(l *Ledger) { l.codeLength = n }
}

func NewLedger(store ChallengeStore, opts ...Option) *Ledger {
	l := &Ledger{store: store, codeLength: passcode.DefaultLength, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Issue stores a fresh challenge for (subject, purpose) after superseding any
// outstanding one. maxAttempts <= 0 uses domain.DefaultMaxAttempts.
func (l *Ledger) Issue(ctx context.Context, subject domain.Subject, purpose domain.Purpose, ttl time.Duration, maxAttempts int) (*domain.Challenge, error) {
	if subject.Empty() {
		return nil, domain.ErrSubjectRequired
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown purpose %q: %w", purpose, domain.ErrBadRequest)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("challenge ttl must be positive: %w", domain.ErrBadRequest)
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	code, err := passcode.Generate(l.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate passcode: %w", err)
	}

	key := subject.Key()
	if err := l.store.Supersede(ctx, key, purpose); err != nil {
		return nil, fmt.Errorf("supersede challenges: %w", err)
	}
	now := l.now().UTC()
	c := &domain.Challenge{
		ChallengeID: id.New(),
		SubjectKey:  key,
		AccountID:   subject.AccountID,
		Email:       domain.NormalizeEmail(subject.Email),
		Phone:       subject.Phone,
		Code:        code,
		Purpose:     purpose,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		MaxAttempts: maxAttempts,
	}
	if err := l.store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return c, nil
}

// Verify judges code against the authoritative challenge for (subject, purpose).
// Business failures come back as a Result; the error is reserved for store failures.
func (l *Ledger) Verify(ctx context.Context, subject domain.Subject, purpose domain.Purpose, code string) (Result, error) {
	if subject.Empty() {
		return Result{}, domain.ErrSubjectRequired
	}
	c, err := l.store.Latest(ctx, subject.Key(), purpose)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{Reason: ReasonInvalidCode}, nil
		}
		return Result{}, fmt.Errorf("load challenge: %w", err)
	}
	if c.Consumed {
		return Result{Reason: ReasonInvalidCode, Challenge: c}, nil
	}

	now := l.now()
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		if !c.Expired(now) && !c.Exhausted() {
			if c, err = l.IncrementAttempt(ctx, c); err != nil {
				return Result{}, err
			}
		}
		return Result{Reason: ReasonInvalidCode, Challenge: c}, nil
	}
	if reason, dead := classify(c, now); dead {
		return Result{Reason: reason, Challenge: c}, nil
	}

	cur, err := l.store.Consume(ctx, c.ChallengeID, now)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) && cur != nil {
			reason, _ := classify(cur, now)
			return Result{Reason: reason, Challenge: cur}, nil
		}
		return Result{}, fmt.Errorf("consume challenge: %w", err)
	}
	return Result{Valid: true, Challenge: cur}, nil
}

// classify reports why a challenge can no longer be consumed at now.
// Expiry outranks the attempt cap.
func classify(c *domain.Challenge, now time.Time) (Reason, bool) {
	switch {
	case c.Consumed:
		return ReasonInvalidCode, true
	case c.Expired(now):
		return ReasonExpired, true
	case c.Exhausted():
		return ReasonMaxAttempts, true
	}
	return ReasonInvalidCode, false
}

// IncrementAttempt records one failed attempt atomically. Once the challenge
// is consumed or at its cap the stored state is returned unchanged.
func (l *Ledger) IncrementAttempt(ctx context.Context, c *domain.Challenge) (*domain.Challenge, error) {
	cur, err := l.store.IncrementAttempts(ctx, c.ChallengeID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) && cur != nil {
			return cur, nil
		}
		return nil, fmt.Errorf("increment attempts: %w", err)
	}
	if cur.Exhausted() {
		slog.Warn("otp challenge reached attempt cap", "challenge_id", cur.ChallengeID, "purpose", cur.Purpose)
	}
	return cur, nil
}

// InvalidateAccount consumes every outstanding challenge linked to accountID.
func (l *Ledger) InvalidateAccount(ctx context.Context, accountID string) error {
	if err := l.store.InvalidateAccount(ctx, accountID); err != nil {
		return fmt.Errorf("invalidate challenges: %w", err)
	}
	return nil
}
