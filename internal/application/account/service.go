package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/investmarket/auth-api/internal/domain"
	"github.com/investmarket/auth-api/internal/pkg/logger"
	"github.com/investmarket/auth-api/internal/pkg/password"
	"github.com/investmarket/auth-api/internal/pkg/validate"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type Service interface {
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	List(ctx context.Context, limit int, cursor string) ([]domain.Account, string, error)
	UpdateProfile(ctx context.Context, accountID string, req domain.UpdateProfileRequest) (*domain.Account, error)
	ChangeRole(ctx context.Context, actor domain.Principal, accountID, role string) (*domain.Account, error)
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
}

type accountStore interface {
	FindByID(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error
	List(ctx context.Context, limit int32, cursor string) ([]domain.Account, string, error)
}

type notifier interface {
	SendNotice(ctx context.Context, to, subject, body string) (bool, error)
}

type service struct {
	repo     accountStore
	hasher   password.Hasher
	notifier notifier
}

type ServiceDeps struct {
	AccountRepo accountStore
	Hasher      password.Hasher
	Notifier    notifier
}

func NewService(deps ServiceDeps) Service {
	return &service{
		repo:     deps.AccountRepo,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
	}
}

func (s *service) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, s.storeError(ctx, "get", err)
	}
	return a, nil
}

func (s *service) List(ctx context.Context, limit int, cursor string) ([]domain.Account, string, error) {
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, next, err := s.repo.List(ctx, int32(limit), cursor)
	if err != nil {
		if errors.Is(err, domain.ErrBadRequest) {
			return nil, "", err
		}
		return nil, "", s.storeError(ctx, "list", err)
	}
	return items, next, nil
}

// UpdateProfile applies the non-nil fields of req. A changed telephone number
// must be verified again.
func (s *service) UpdateProfile(ctx context.Context, accountID string, req domain.UpdateProfileRequest) (*domain.Account, error) {
	if err := validate.Struct(&req); err != nil {
		return nil, err
	}
	current, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, s.storeError(ctx, "update_profile.find", err)
	}

	updates := map[string]interface{}{}
	if req.Username != nil {
		if u := strings.TrimSpace(*req.Username); u != "" && u != current.Username {
			updates[domain.FieldUsername] = u
		}
	}
	if req.Telephone != nil && *req.Telephone != "" {
		if current.Telephone == nil || *current.Telephone != *req.Telephone {
			updates[domain.FieldTelephone] = *req.Telephone
			updates[domain.FieldPhoneVerified] = false
		}
	}
	if req.FirstName != nil {
		updates[domain.FieldFirstName] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updates[domain.FieldLastName] = strings.TrimSpace(*req.LastName)
	}
	if len(updates) == 0 {
		return current, nil
	}
	if err := s.repo.UpdateFields(ctx, accountID, updates); err != nil {
		return nil, s.storeError(ctx, "update_profile.update", err)
	}
	return s.Get(ctx, accountID)
}

// ChangeRole sets the role of accountID. The new role applies from the
// account's next authenticated request.
func (s *service) ChangeRole(ctx context.Context, actor domain.Principal, accountID, role string) (*domain.Account, error) {
	if !actor.HasRole(domain.RoleAdmin) {
		return nil, domain.ErrRoleForbidden
	}
	r, err := domain.ParseRole(role)
	if err != nil {
		return nil, domain.ErrInvalidRole
	}
	if err := s.repo.UpdateFields(ctx, accountID, map[string]interface{}{domain.FieldRole: r}); err != nil {
		return nil, s.storeError(ctx, "change_role", err)
	}
	logger.WithContext(ctx).Info("account role changed", "account_id", accountID, "role", r, "by", actor.AccountID)
	return s.Get(ctx, accountID)
}

type changePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,maxbytes=72"`
}

func (s *service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if err := validate.Struct(&changePasswordInput{CurrentPassword: currentPassword, NewPassword: newPassword}); err != nil {
		return err
	}
	a, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return s.storeError(ctx, "change_password.find", err)
	}
	if !s.hasher.Verify(currentPassword, a.PasswordHash) {
		return domain.ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.storeError(ctx, "change_password.hash", err)
	}
	if err := s.repo.UpdateFields(ctx, accountID, map[string]interface{}{domain.FieldPasswordHash: hash}); err != nil {
		return s.storeError(ctx, "change_password.update", err)
	}
	if s.notifier != nil {
		if ok, err := s.notifier.SendNotice(ctx, a.Email, "Your password was changed",
			"The password for your account was just changed. If this was not you, contact support immediately."); err != nil || !ok {
			logger.WithContext(ctx).Warn("notice not delivered", "account_id", accountID, "err", err)
		}
	}
	return nil
}

// storeError passes business errors through and hides everything else.
func (s *service) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrAccountNotFound
	}
	if domain.CodeOf(err) != "" {
		return err
	}
	logger.WithContext(ctx).Error("account operation failed", "op", op, "err", err)
	return fmt.Errorf("%s: %w", op, domain.ErrInternalFailure)
}
