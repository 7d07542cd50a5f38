// Package tenancy resolves the tenant an actor is operating in and enforces it on records.
package tenancy

import (
	"context"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
)

// Scope is the resolved tenant context of one request. Every core operation takes it explicitly.
type Scope struct {
	TenantID string
	ActorID  string
	// CrossTenant allows reads across tenants for this single request. Writes never honor it.
	CrossTenant bool
}

// System is the scope used by background jobs.
func System(tenantID string) Scope {
	return Scope{TenantID: tenantID, ActorID: "system"}
}

// Require fails closed when the scope has no tenant or actor.
func (s Scope) Require() error {
	if s.TenantID == "" {
		return apperrors.TenantScopeViolation("operation requires a tenant")
	}
	if s.ActorID == "" {
		return apperrors.TenantScopeViolation("operation requires an acting user")
	}
	return nil
}

// Owns checks that a record belongs to the scope's tenant.
func (s Scope) Owns(recordTenantID string) error {
	if err := s.Require(); err != nil {
		return err
	}
	if recordTenantID != s.TenantID {
		return apperrors.TenantScopeViolation("record belongs to a different tenant")
	}
	return nil
}

// CanRead checks read access, honoring a cross-tenant grant.
func (s Scope) CanRead(recordTenantID string) error {
	if s.CrossTenant && s.ActorID != "" {
		return nil
	}
	return s.Owns(recordTenantID)
}

type scopeKey struct{}

func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// FromContext returns the scope resolved by the tenancy middleware.
func FromContext(ctx context.Context) (Scope, error) {
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	if !ok {
		return Scope{}, apperrors.TenantScopeViolation("request has no resolved tenant")
	}
	return scope, scope.Require()
}
