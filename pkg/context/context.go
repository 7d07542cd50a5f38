package context

import "context"

type ContextKey string

var (
	RequestIDKey   = ContextKey("X-Request-Id")
	MethodKey      = ContextKey("X-Method")
	RouteKey       = ContextKey("X-Route")
	RemoteIPKey    = ContextKey("X-Remote-Ip")
	TenantIDKey    = ContextKey("X-Tenant-Id")
	UserIDKey      = ContextKey("X-User-Id")
	CrossTenantKey = ContextKey("X-Cross-Tenant")
)

func set[T any](ctx context.Context, key ContextKey, value T) context.Context {
	return context.WithValue(ctx, key, value)
}

func get[T any](ctx context.Context, key ContextKey) T {
	value, _ := ctx.Value(key).(T)
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return get[string](ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return get[string](ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return get[string](ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return get[string](ctx, RemoteIPKey)
}

// SetTenantID stores the tenant the caller asked for. It is not authoritative until resolved.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return set(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	return get[string](ctx, TenantIDKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return set(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return get[string](ctx, UserIDKey)
}

// SetCrossTenantRequested records that the caller asked for cross-tenant visibility.
func SetCrossTenantRequested(ctx context.Context, requested bool) context.Context {
	return set(ctx, CrossTenantKey, requested)
}

func GetCrossTenantRequested(ctx context.Context) bool {
	return get[bool](ctx, CrossTenantKey)
}
