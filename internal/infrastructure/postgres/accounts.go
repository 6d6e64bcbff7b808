package postgres

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `account_id, email, username, telephone, password_hash, role, first_name, last_name,
email_verified, phone_verified, last_login_at, created_at, updated_at`

const uniqueViolation = "23505"

// updatable lists the columns UpdateFields accepts.
var updatable = map[string]bool{
	domain.FieldUsername:      true,
	domain.FieldTelephone:     true,
	domain.FieldPasswordHash:  true,
	domain.FieldRole:          true,
	domain.FieldFirstName:     true,
	domain.FieldLastName:      true,
	domain.FieldEmailVerified: true,
	domain.FieldPhoneVerified: true,
	domain.FieldLastLoginAt:   true,
}

type AccountRepo struct {
	db  DBTX
	now func() time.Time
}

func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db, now: time.Now}
}

func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	query :=
		`INSERT INTO accounts (` + accountColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		a.AccountID, domain.NormalizeEmail(a.Email), a.Username, nullString(a.Telephone), a.PasswordHash,
		string(a.Role), a.FirstName, a.LastName, a.EmailVerified, a.PhoneVerified,
		nullTime(a.LastLoginAt), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return uniqueError(err)
	}
	return nil
}

func (r *AccountRepo) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, accountID)
}

func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`, domain.NormalizeEmail(email))
}

func (r *AccountRepo) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(username) = $1`, strings.ToLower(username))
}

func (r *AccountRepo) findOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %v: %w", arg, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// UpdateFields applies a partial update keyed by the domain.Field* names,
// which are also the column names.
func (r *AccountRepo) UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !updatable[k] {
			return fmt.Errorf("unknown field %q: %w", k, domain.ErrBadRequest)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for i, k := range keys {
		sets = append(sets, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, columnValue(k, fields[k]))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, r.now().UTC(), accountID)

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + fmt.Sprintf(` WHERE account_id = $%d`, len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return uniqueError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	return nil
}

// List pages through accounts ordered by id.
func (r *AccountRepo) List(ctx context.Context, limit int32, cursor string) ([]domain.Account, string, error) {
	after := ""
	if cursor != "" {
		b, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
		}
		after = string(b)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id > $1 ORDER BY account_id LIMIT $2`,
		after, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, "", fmt.Errorf("db error: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("db error: %w", err)
	}
	next := ""
	if len(accounts) > int(limit) {
		accounts = accounts[:limit]
		next = base64.RawURLEncoding.EncodeToString([]byte(accounts[len(accounts)-1].AccountID))
	}
	return accounts, next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		a         domain.Account
		role      string
		telephone sql.NullString
		lastLogin sql.NullTime
	)
	err := s.Scan(&a.AccountID, &a.Email, &a.Username, &telephone, &a.PasswordHash, &role,
		&a.FirstName, &a.LastName, &a.EmailVerified, &a.PhoneVerified, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Role = domain.Role(role)
	if telephone.Valid {
		a.Telephone = &telephone.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return &a, nil
}

func columnValue(column string, v interface{}) any {
	switch column {
	case domain.FieldRole:
		if r, ok := v.(domain.Role); ok {
			return string(r)
		}
	case domain.FieldTelephone:
		if s, ok := v.(string); ok && s == "" {
			return nil
		}
	}
	return v
}

// uniqueError maps a unique-index violation onto the per-field conflict error.
func uniqueError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "accounts_email_key":
			return domain.ErrEmailTaken
		case "accounts_username_key":
			return domain.ErrUsernameTaken
		case "accounts_telephone_key":
			return domain.ErrPhoneTaken
		}
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, domain.ErrConflict)
	}
	return fmt.Errorf("db error: %w", err)
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
