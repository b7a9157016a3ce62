package processor

import (
	"context"

	"github.com/google/uuid"

	"funnel-server/internal/store"
)

// AuthStore is the slice of the store the auth processor needs.
type AuthStore interface {
	GetAdminUserByEmail(ctx context.Context, email string) (store.AdminUser, error)
	TouchAdminLastLogin(ctx context.Context, adminID uuid.UUID) error
}
