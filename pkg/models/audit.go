package models

import (
	"encoding/json"
	"time"
)

const (
	EntityTypeMatch    = "match"
	EntityTypeLoad     = "load"
	EntityTypePosting  = "load_posting"
	EntityTypeInvoice  = "invoice"
	EntityTypeHuntPlan = "hunt_plan"
)

// AuditLogEntry is append only.
type AuditLogEntry struct {
	ID         string          `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	Action     string          `json:"action" db:"action"`
	Before     json.RawMessage `json:"before,omitempty" db:"before"`
	After      json.RawMessage `json:"after,omitempty" db:"after"`
	ActorID    string          `json:"actor_id" db:"actor_id"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
