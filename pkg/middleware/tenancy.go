package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/tenancy"
)

type ScopeResolver interface {
	Resolve(ctx context.Context, actorID, requestedTenantID string, wantCrossTenant bool) (tenancy.Scope, error)
}

// Tenancy resolves the request's tenant scope and stores it for handlers. Requests that cannot
// be scoped fail before reaching a handler.
func Tenancy(resolver ScopeResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			scope, err := resolver.Resolve(ctx, appctx.GetUserID(ctx), appctx.GetTenantID(ctx), appctx.GetCrossTenantRequested(ctx))
			if err != nil {
				return err
			}

			ctx = appctx.SetTenantID(ctx, scope.TenantID)
			ctx = tenancy.WithScope(ctx, scope)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
