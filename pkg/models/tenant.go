package models

// TenantMembership grants a user access to a tenant.
type TenantMembership struct {
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	UserID    string `json:"user_id" db:"user_id"`
	Role      string `json:"role" db:"role"`
	IsDefault bool   `json:"is_default" db:"is_default"`
}

const PlatformGrantCrossTenant = "cross_tenant"

// MatchCount is one row of the per-tenant status projection.
type MatchCount struct {
	TenantID string      `json:"tenant_id" db:"tenant_id"`
	Status   MatchStatus `json:"status" db:"status"`
	Count    int64       `json:"count" db:"count"`
}
