package escalate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dirmodels "vigil/internal/directory/models"
	dirstore "vigil/internal/directory/store"
	"vigil/pkg/domain"
)

func seedUser(dir *dirstore.Memory, scope domain.Scope, email string, role dirmodels.Role, active bool) dirmodels.User {
	u := dirmodels.User{
		ID: domain.UserID(uuid.New()), Scope: scope,
		Email: email, Role: role, Active: active,
	}
	dir.PutUser(u)
	return u
}

func TestResolveRoleBands(t *testing.T) {
	ctx := context.Background()
	scope := domain.Scope{CompanyID: domain.CompanyID(uuid.New())}
	dir := dirstore.NewMemory()

	site := seedUser(dir, scope, "site@example.com", dirmodels.RoleSiteManager, true)
	company := seedUser(dir, scope, "company@example.com", dirmodels.RoleCompanyManager, true)
	owner := seedUser(dir, scope, "owner@example.com", dirmodels.RoleOwner, true)

	resolver, err := NewResolver(dir, 5)
	require.NoError(t, err)

	tests := []struct {
		level domain.EscalationLevel
		want  string
	}{
		{domain.LevelNone, site.Email},
		{domain.LevelOne, site.Email},
		{domain.LevelTwo, company.Email},
		{domain.LevelThree, owner.Email},
	}
	for _, tt := range tests {
		users, err := resolver.Resolve(ctx, scope, tt.level)
		require.NoError(t, err)
		require.Len(t, users, 1, "level %d", int(tt.level))
		assert.Equal(t, tt.want, users[0].Email)
	}
}

func TestResolveSkipsIneligibleUsers(t *testing.T) {
	ctx := context.Background()
	scope := domain.Scope{CompanyID: domain.CompanyID(uuid.New())}
	dir := dirstore.NewMemory()

	seedUser(dir, scope, "inactive@example.com", dirmodels.RoleSiteManager, false)
	deleted := dirmodels.User{
		ID: domain.UserID(uuid.New()), Scope: scope,
		Email: "deleted@example.com", Role: dirmodels.RoleSiteManager, Active: true,
	}
	deletedAt := time.Now()
	deleted.DeletedAt = &deletedAt
	dir.PutUser(deleted)

	resolver, err := NewResolver(dir, 5)
	require.NoError(t, err)

	users, err := resolver.Resolve(ctx, scope, domain.LevelOne)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestResolveCapsFanOut(t *testing.T) {
	ctx := context.Background()
	scope := domain.Scope{CompanyID: domain.CompanyID(uuid.New())}
	dir := dirstore.NewMemory()
	for i := 0; i < 10; i++ {
		seedUser(dir, scope, uuid.NewString()+"@example.com", dirmodels.RoleSiteManager, true)
	}

	resolver, err := NewResolver(dir, 3)
	require.NoError(t, err)

	users, err := resolver.Resolve(ctx, scope, domain.LevelOne)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestResolveSiteScoping(t *testing.T) {
	ctx := context.Background()
	company := domain.CompanyID(uuid.New())
	siteA := domain.Scope{CompanyID: company, SiteID: domain.SiteID(uuid.New())}
	siteB := domain.Scope{CompanyID: company, SiteID: domain.SiteID(uuid.New())}
	dir := dirstore.NewMemory()

	wanted := seedUser(dir, siteA, "site-a@example.com", dirmodels.RoleSiteManager, true)
	seedUser(dir, siteB, "site-b@example.com", dirmodels.RoleSiteManager, true)

	resolver, err := NewResolver(dir, 5)
	require.NoError(t, err)

	users, err := resolver.Resolve(ctx, siteA, domain.LevelOne)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, wanted.Email, users[0].Email)
}

func TestNewResolverValidation(t *testing.T) {
	_, err := NewResolver(nil, 5)
	require.Error(t, err)

	_, err = NewResolver(dirstore.NewMemory(), 0)
	require.Error(t, err)
}
