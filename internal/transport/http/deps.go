package http

import (
	"context"

	"github.com/investmarket/auth-api/internal/domain"
)

// AccountRepository is the credential store the router requires. It is
// implemented by the dynamo, postgres and memstore backends.
type AccountRepository interface {
	Create(ctx context.Context, a *domain.Account) error
	FindByID(ctx context.Context, accountID string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
	UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error
	List(ctx context.Context, limit int32, cursor string) ([]domain.Account, string, error)
}
