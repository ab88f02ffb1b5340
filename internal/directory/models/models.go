// Package models defines the user/role directory consumed by the recipient
// resolver.
package models

import (
	"time"

	"vigil/pkg/domain"
)

// Role is the organizational role band a user holds within a scope.
type Role string

const (
	RoleSiteManager    Role = "site_manager"
	RoleCompanyManager Role = "company_manager"
	RoleOwner          Role = "owner"
)

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	switch r {
	case RoleSiteManager, RoleCompanyManager, RoleOwner:
		return true
	}
	return false
}

// User is a directory entry. Only active, non-deleted users are eligible
// notification recipients.
type User struct {
	ID        domain.UserID
	Scope     domain.Scope
	Email     string
	Name      string
	Role      Role
	Active    bool
	DeletedAt *time.Time
}

// Eligible reports whether the user may receive notifications.
func (u User) Eligible() bool { return u.Active && u.DeletedAt == nil }
