package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
)

const challengeColumns = `challenge_id, subject_key, account_id, email, phone, code, purpose,
issued_at, expires_at, consumed, attempt_count, max_attempts`

type ChallengeRepo struct {
	db DBTX
}

func NewChallengeRepo(db DBTX) *ChallengeRepo {
	return &ChallengeRepo{db: db}
}

func (r *ChallengeRepo) Put(ctx context.Context, c *domain.Challenge) error {
	query :=
		`INSERT INTO otp_challenges (` + challengeColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		c.ChallengeID, c.SubjectKey, optional(c.AccountID), optional(c.Email), optional(c.Phone),
		c.Code, string(c.Purpose), c.IssuedAt, c.ExpiresAt, c.Consumed, c.AttemptCount, c.MaxAttempts)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *ChallengeRepo) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	c, err := scanChallenge(r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges WHERE challenge_id = $1`, challengeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Latest returns the most recently issued challenge for (subjectKey, purpose),
// consumed or not.
func (r *ChallengeRepo) Latest(ctx context.Context, subjectKey string, purpose domain.Purpose) (*domain.Challenge, error) {
	c, err := scanChallenge(r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges
		 WHERE subject_key = $1 AND purpose = $2
		 ORDER BY issued_at DESC, challenge_id DESC
		 LIMIT 1`, subjectKey, string(purpose)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge for %s/%s: %w", subjectKey, purpose, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *ChallengeRepo) Supersede(ctx context.Context, subjectKey string, purpose domain.Purpose) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET consumed = TRUE
		 WHERE subject_key = $1 AND purpose = $2 AND NOT consumed`, subjectKey, string(purpose))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *ChallengeRepo) InvalidateAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET consumed = TRUE
		 WHERE account_id = $1 AND NOT consumed`, accountID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// IncrementAttempts adds one failed attempt to a live, non-exhausted challenge.
// When the row does not qualify the current state is returned with domain.ErrConflict.
func (r *ChallengeRepo) IncrementAttempts(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	return r.conditionalUpdate(ctx, challengeID,
		`UPDATE otp_challenges SET attempt_count = attempt_count + 1
		 WHERE challenge_id = $1 AND NOT consumed AND attempt_count < max_attempts
		 RETURNING `+challengeColumns, challengeID)
}

// Consume marks the challenge used if it is still unconsumed, unexpired at now
// and under its attempt cap.
func (r *ChallengeRepo) Consume(ctx context.Context, challengeID string, now time.Time) (*domain.Challenge, error) {
	return r.conditionalUpdate(ctx, challengeID,
		`UPDATE otp_challenges SET consumed = TRUE
		 WHERE challenge_id = $1 AND NOT consumed AND attempt_count < max_attempts AND expires_at > $2
		 RETURNING `+challengeColumns, challengeID, now)
}

func (r *ChallengeRepo) conditionalUpdate(ctx context.Context, challengeID, query string, args ...any) (*domain.Challenge, error) {
	c, err := scanChallenge(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}
	cur, err := r.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	return cur, domain.ErrConflict
}

func scanChallenge(s scanner) (*domain.Challenge, error) {
	var (
		c                       domain.Challenge
		purpose                 string
		accountID, email, phone sql.NullString
	)
	err := s.Scan(&c.ChallengeID, &c.SubjectKey, &accountID, &email, &phone, &c.Code, &purpose,
		&c.IssuedAt, &c.ExpiresAt, &c.Consumed, &c.AttemptCount, &c.MaxAttempts)
	if err != nil {
		return nil, err
	}
	c.Purpose = domain.Purpose(purpose)
	c.AccountID = accountID.String
	c.Email = email.String
	c.Phone = phone.String
	return &c, nil
}

func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
