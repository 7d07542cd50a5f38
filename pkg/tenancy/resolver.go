package tenancy

import (
	"context"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// MembershipSource answers which tenants a user belongs to.
type MembershipSource interface {
	ListMemberships(ctx context.Context, userID string) ([]models.TenantMembership, error)
	HasPlatformGrant(ctx context.Context, userID, grant string) (bool, error)
}

type Resolver struct {
	source MembershipSource
	logger ectologger.Logger
}

func NewResolver(source MembershipSource, logger ectologger.Logger) *Resolver {
	return &Resolver{
		source: source,
		logger: logger,
	}
}

// Resolve determines the effective tenant for actorID. An empty requestedTenantID resolves to the
// actor's default membership, or the only one. Anything ambiguous or unknown fails closed.
func (r *Resolver) Resolve(ctx context.Context, actorID, requestedTenantID string, wantCrossTenant bool) (Scope, error) {
	ctx, span := tracing.StartSpan(ctx, "tenancy.Resolver.Resolve")
	defer span.End()

	if actorID == "" {
		return Scope{}, apperrors.TenantScopeViolation("request has no acting user")
	}

	if requestedTenantID != "" {
		if _, err := uuid.Parse(requestedTenantID); err != nil {
			return Scope{}, apperrors.TenantScopeViolation("tenant id is malformed")
		}
	}

	memberships, err := r.source.ListMemberships(ctx, actorID)
	if err != nil {
		return Scope{}, err
	}

	privileged := false
	if wantCrossTenant || (requestedTenantID != "" && !isMember(memberships, requestedTenantID)) {
		privileged, err = r.source.HasPlatformGrant(ctx, actorID, models.PlatformGrantCrossTenant)
		if err != nil {
			return Scope{}, err
		}
	}

	tenantID := requestedTenantID
	if tenantID == "" {
		tenantID, err = defaultTenant(memberships)
		if err != nil {
			return Scope{}, err
		}
	} else if !isMember(memberships, tenantID) && !privileged {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"user_id":   actorID,
			"tenant_id": tenantID,
		}).Warn("Rejected request for tenant the user does not belong to")
		return Scope{}, apperrors.TenantScopeViolation("user is not a member of the requested tenant")
	}

	if wantCrossTenant && !privileged {
		return Scope{}, apperrors.TenantScopeViolation("user does not hold a cross-tenant grant")
	}

	return Scope{
		TenantID:    tenantID,
		ActorID:     actorID,
		CrossTenant: wantCrossTenant && privileged,
	}, nil
}

func isMember(memberships []models.TenantMembership, tenantID string) bool {
	return ectolinq.Contains(ectolinq.Map(memberships, func(m models.TenantMembership) string {
		return m.TenantID
	}), tenantID)
}

func defaultTenant(memberships []models.TenantMembership) (string, error) {
	if len(memberships) == 0 {
		return "", apperrors.TenantScopeViolation("user does not belong to any tenant")
	}
	if len(memberships) == 1 {
		return memberships[0].TenantID, nil
	}

	defaults := ectolinq.Filter(memberships, func(m models.TenantMembership) bool {
		return m.IsDefault
	})
	if len(defaults) != 1 {
		return "", apperrors.TenantScopeViolation("tenant is ambiguous; send X-Tenant-ID")
	}
	return defaults[0].TenantID, nil
}
