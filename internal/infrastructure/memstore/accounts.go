// Package memstore holds process-local account and challenge stores for
// development runs and tests. Nothing survives a restart.
package memstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
)

type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	handles  map[string]string // handle -> account id
	now      func() time.Time
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]domain.Account),
		handles:  make(map[string]string),
		now:      time.Now,
	}
}

func emailHandle(email string) string       { return "email#" + domain.NormalizeEmail(email) }
func usernameHandle(username string) string { return "username#" + strings.ToLower(username) }
func phoneHandle(phone string) string       { return "phone#" + phone }

func (s *AccountStore) Create(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.AccountID]; ok {
		return domain.ErrConflict
	}
	if _, ok := s.handles[emailHandle(a.Email)]; ok {
		return domain.ErrEmailTaken
	}
	if _, ok := s.handles[usernameHandle(a.Username)]; ok {
		return domain.ErrUsernameTaken
	}
	if a.Telephone != nil && *a.Telephone != "" {
		if _, ok := s.handles[phoneHandle(*a.Telephone)]; ok {
			return domain.ErrPhoneTaken
		}
		s.handles[phoneHandle(*a.Telephone)] = a.AccountID
	}
	s.handles[emailHandle(a.Email)] = a.AccountID
	s.handles[usernameHandle(a.Username)] = a.AccountID
	s.accounts[a.AccountID] = cloneAccount(*a)
	return nil
}

func (s *AccountStore) FindByID(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(accountID)
}

func (s *AccountStore) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	return s.findByHandle(emailHandle(email))
}

func (s *AccountStore) FindByUsername(_ context.Context, username string) (*domain.Account, error) {
	return s.findByHandle(usernameHandle(username))
}

func (s *AccountStore) findByHandle(handle string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.handles[handle]
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", handle, domain.ErrNotFound)
	}
	return s.get(id)
}

func (s *AccountStore) get(accountID string) (*domain.Account, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	out := cloneAccount(a)
	return &out, nil
}

// UpdateFields applies a partial update keyed by the domain.Field* names.
func (s *AccountStore) UpdateFields(_ context.Context, accountID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	var claim, release []string
	for k, v := range fields {
		switch k {
		case domain.FieldUsername:
			u, _ := v.(string)
			if usernameHandle(u) != usernameHandle(a.Username) {
				if _, taken := s.handles[usernameHandle(u)]; taken {
					return domain.ErrUsernameTaken
				}
				claim = append(claim, usernameHandle(u))
				release = append(release, usernameHandle(a.Username))
			}
			a.Username = u
		case domain.FieldTelephone:
			p, _ := v.(string)
			if a.Telephone == nil || *a.Telephone != p {
				if _, taken := s.handles[phoneHandle(p)]; taken {
					return domain.ErrPhoneTaken
				}
				claim = append(claim, phoneHandle(p))
				if a.Telephone != nil && *a.Telephone != "" {
					release = append(release, phoneHandle(*a.Telephone))
				}
			}
			a.Telephone = &p
		case domain.FieldPasswordHash:
			a.PasswordHash, _ = v.(string)
		case domain.FieldRole:
			a.Role, _ = v.(domain.Role)
		case domain.FieldFirstName:
			a.FirstName, _ = v.(string)
		case domain.FieldLastName:
			a.LastName, _ = v.(string)
		case domain.FieldEmailVerified:
			a.EmailVerified, _ = v.(bool)
		case domain.FieldPhoneVerified:
			a.PhoneVerified, _ = v.(bool)
		case domain.FieldLastLoginAt:
			t, _ := v.(time.Time)
			a.LastLoginAt = &t
		default:
			return fmt.Errorf("unknown field %q: %w", k, domain.ErrBadRequest)
		}
	}
	for _, h := range release {
		delete(s.handles, h)
	}
	for _, h := range claim {
		s.handles[h] = accountID
	}
	a.UpdatedAt = s.now().UTC()
	s.accounts[accountID] = a
	return nil
}

// List pages through accounts ordered by id.
func (s *AccountStore) List(_ context.Context, limit int32, cursor string) ([]domain.Account, string, error) {
	after := ""
	if cursor != "" {
		b, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
		}
		after = string(b)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	next := ""
	if limit > 0 && len(ids) > int(limit) {
		ids = ids[:limit]
		next = base64.RawURLEncoding.EncodeToString([]byte(ids[len(ids)-1]))
	}
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneAccount(s.accounts[id]))
	}
	return out, next, nil
}

func cloneAccount(a domain.Account) domain.Account {
	if a.Telephone != nil {
		p := *a.Telephone
		a.Telephone = &p
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		a.LastLoginAt = &t
	}
	return a
}
