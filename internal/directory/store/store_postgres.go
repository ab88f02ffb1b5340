package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vigil/internal/directory/models"
	"vigil/pkg/domain"
)

// Postgres reads the host application's user directory.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed directory store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) ActiveByRole(ctx context.Context, scope domain.Scope, roles []models.Role, limit int) ([]models.User, error) {
	roleNames := make([]string, 0, len(roles))
	siteScopedOnly := false
	for _, r := range roles {
		roleNames = append(roleNames, string(r))
		if r == models.RoleSiteManager {
			siteScopedOnly = true
		}
	}

	query := `
		SELECT id, company_id, site_id, email, name, role
		FROM users
		WHERE active AND deleted_at IS NULL
		  AND company_id = $1
		  AND role = ANY($2)
	`
	args := []any{uuid.UUID(scope.CompanyID), pq.Array(roleNames)}
	if siteScopedOnly && scope.SiteScoped() {
		args = append(args, uuid.UUID(scope.SiteID))
		query += fmt.Sprintf(" AND (role <> 'site_manager' OR site_id = $%d)", len(args))
	}
	query += " ORDER BY email"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active users by role: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		var id, companyID, siteID uuid.UUID
		var role string
		if err := rows.Scan(&id, &companyID, &siteID, &u.Email, &u.Name, &role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.ID = domain.UserID(id)
		u.Scope = domain.Scope{CompanyID: domain.CompanyID(companyID), SiteID: domain.SiteID(siteID)}
		u.Role = models.Role(role)
		u.Active = true
		out = append(out, u)
	}
	return out, rows.Err()
}
