package escalate

import (
	"context"
	"fmt"

	dirmodels "vigil/internal/directory/models"
	dirports "vigil/internal/directory/ports"
	"vigil/pkg/domain"
)

// roleBands maps an escalation level to the role band that must hear about
// it. Level zero notifications go to the site band as well: a new at-risk
// item is a site concern until time escalates it.
var roleBands = map[domain.EscalationLevel][]dirmodels.Role{
	domain.LevelNone:  {dirmodels.RoleSiteManager},
	domain.LevelOne:   {dirmodels.RoleSiteManager},
	domain.LevelTwo:   {dirmodels.RoleCompanyManager},
	domain.LevelThree: {dirmodels.RoleOwner},
}

// Resolver expands (scope, level) into concrete recipients.
type Resolver struct {
	users dirports.UserStore
	// maxRecipients bounds fan-out on misconfigured organizations.
	maxRecipients int
}

// NewResolver creates a Resolver with the configured fan-out cap.
func NewResolver(users dirports.UserStore, maxRecipients int) (*Resolver, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if maxRecipients < 1 {
		return nil, fmt.Errorf("max recipients must be positive")
	}
	return &Resolver{users: users, maxRecipients: maxRecipients}, nil
}

// Resolve returns the eligible recipients for an escalation level. An empty
// result is not an error; the caller records the escalation without sending.
func (r *Resolver) Resolve(ctx context.Context, scope domain.Scope, level domain.EscalationLevel) ([]dirmodels.User, error) {
	roles, ok := roleBands[level]
	if !ok {
		return nil, fmt.Errorf("no role band for level %d", int(level))
	}
	users, err := r.users.ActiveByRole(ctx, scope, roles, r.maxRecipients)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients for level %d: %w", int(level), err)
	}
	out := users[:0]
	for _, u := range users {
		if u.Eligible() {
			out = append(out, u)
		}
	}
	return out, nil
}
