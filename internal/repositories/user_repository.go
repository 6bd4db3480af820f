package repositories

import (
	"context"
	"time"

	"github.com/yattee/server/internal/models"
)

// UserRepository defines the data access contract for API users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	HasAny(ctx context.Context) (bool, error)
	UpsertAdmin(ctx context.Context, username, passwordHash string) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}
