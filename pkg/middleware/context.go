package middleware

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/context"
)

const (
	// HeaderTenantID selects the tenant a request operates in
	HeaderTenantID = "X-Tenant-ID"
	// HeaderUserID identifies the acting user when authentication is disabled
	HeaderUserID = "X-User-ID"
	// HeaderCrossTenant asks for a cross-tenant read; it is honored only for users holding the grant
	HeaderCrossTenant = "X-Cross-Tenant"
)

// Context copies request metadata into the request context. The user header is only trusted
// when trustUserHeader is set, which is the case when authentication is disabled.
func Context(trustUserHeader bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			crossTenant, _ := strconv.ParseBool(req.Header.Get(HeaderCrossTenant))

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetTenantID(ctx, req.Header.Get(HeaderTenantID))
			ctx = context.SetCrossTenantRequested(ctx, crossTenant)
			if trustUserHeader {
				ctx = context.SetUserID(ctx, req.Header.Get(HeaderUserID))
			}

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
