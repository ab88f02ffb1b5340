// Package ports defines the directory contracts consumed by the recipient
// resolver.
package ports

import (
	"context"

	"vigil/internal/directory/models"
	"vigil/pkg/domain"
)

// UserStore queries the host application's user directory.
type UserStore interface {
	// ActiveByRole returns active, non-deleted users holding one of the
	// given roles within scope, capped at limit. Role bands above site
	// level ignore the scope's site id.
	ActiveByRole(ctx context.Context, scope domain.Scope, roles []models.Role, limit int) ([]models.User, error)
}
