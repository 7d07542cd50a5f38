package tenancy_test

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

type fakeMemberships struct {
	memberships map[string][]models.TenantMembership
	grants      map[string]bool
}

func (f *fakeMemberships) ListMemberships(_ context.Context, userID string) ([]models.TenantMembership, error) {
	return f.memberships[userID], nil
}

func (f *fakeMemberships) HasPlatformGrant(_ context.Context, userID, _ string) (bool, error) {
	return f.grants[userID], nil
}

const (
	tenantA = "6f1c1a52-8a43-4f4e-9c0e-0a4a7d1f0a01"
	tenantB = "6f1c1a52-8a43-4f4e-9c0e-0a4a7d1f0a02"
	tenantZ = "6f1c1a52-8a43-4f4e-9c0e-0a4a7d1f0a09"
)

func newResolver() *tenancy.Resolver {
	return tenancy.NewResolver(&fakeMemberships{
		memberships: map[string][]models.TenantMembership{
			"solo":   {{TenantID: tenantA, UserID: "solo"}},
			"multi":  {{TenantID: tenantA, UserID: "multi"}, {TenantID: tenantB, UserID: "multi", IsDefault: true}},
			"ambig":  {{TenantID: tenantA, UserID: "ambig"}, {TenantID: tenantB, UserID: "ambig"}},
			"admin":  {{TenantID: tenantA, UserID: "admin"}},
			"nobody": nil,
		},
		grants: map[string]bool{"admin": true},
	}, getTestLogger())
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		requested   string
		crossTenant bool
		wantTenant  string
		wantCross   bool
		wantErr     bool
	}{
		{name: "single membership resolves implicitly", actor: "solo", wantTenant: tenantA},
		{name: "default membership wins", actor: "multi", wantTenant: tenantB},
		{name: "explicit member tenant", actor: "multi", requested: tenantA, wantTenant: tenantA},
		{name: "ambiguous without header", actor: "ambig", wantErr: true},
		{name: "no membership", actor: "nobody", wantErr: true},
		{name: "missing actor", actor: "", wantErr: true},
		{name: "foreign tenant rejected", actor: "solo", requested: tenantB, wantErr: true},
		{name: "cross tenant without grant", actor: "solo", crossTenant: true, wantErr: true},
		{name: "cross tenant with grant", actor: "admin", crossTenant: true, wantTenant: tenantA, wantCross: true},
		{name: "admin may act in foreign tenant", actor: "admin", requested: tenantZ, wantTenant: tenantZ},
		{name: "malformed tenant id", actor: "admin", requested: "not-a-uuid", wantErr: true},
	}

	resolver := newResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := resolver.Resolve(context.Background(), tt.actor, tt.requested, tt.crossTenant)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, apperrors.KindTenantScopeViolation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenant, scope.TenantID)
			assert.Equal(t, tt.actor, scope.ActorID)
			assert.Equal(t, tt.wantCross, scope.CrossTenant)
		})
	}
}

func TestScope_FailsClosed(t *testing.T) {
	scope := tenancy.Scope{TenantID: tenantA, ActorID: "u1"}

	assert.NoError(t, scope.Owns(tenantA))
	assert.True(t, apperrors.Is(scope.Owns(tenantB), apperrors.KindTenantScopeViolation))
	assert.True(t, apperrors.Is(scope.Owns(""), apperrors.KindTenantScopeViolation))
	assert.True(t, apperrors.Is(tenancy.Scope{ActorID: "u1"}.Require(), apperrors.KindTenantScopeViolation))

	cross := tenancy.Scope{TenantID: tenantA, ActorID: "u1", CrossTenant: true}
	assert.NoError(t, cross.CanRead(tenantB))
	assert.Error(t, cross.Owns(tenantB), "writes never cross tenants")
}

func TestFromContext(t *testing.T) {
	_, err := tenancy.FromContext(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.KindTenantScopeViolation))

	ctx := tenancy.WithScope(context.Background(), tenancy.Scope{TenantID: "t", ActorID: "u"})
	scope, err := tenancy.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", scope.TenantID)
}
