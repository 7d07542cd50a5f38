package models

import (
	"time"

	"github.com/lib/pq"
)

// HuntPlan is a vehicle's standing search configuration.
type HuntPlan struct {
	ID             string         `json:"id" db:"id"`
	TenantID       string         `json:"tenant_id" db:"tenant_id"`
	VehicleID      string         `json:"vehicle_id" db:"vehicle_id"`
	Name           string         `json:"name" db:"name"`
	Origin         Location       `json:"origin" db:"origin"`
	RadiusMiles    *float64       `json:"radius_miles,omitempty" db:"radius_miles"`
	EquipmentTypes pq.StringArray `json:"equipment_types" db:"equipment_types"`
	AvailableFeet  *float64       `json:"available_feet,omitempty" db:"available_feet"`
	MaxWeightLbs   *float64       `json:"max_weight_lbs,omitempty" db:"max_weight_lbs"`
	AvailableFrom  *time.Time     `json:"available_from,omitempty" db:"available_from"`
	AvailableUntil *time.Time     `json:"available_until,omitempty" db:"available_until"`
	Active         bool           `json:"active" db:"active"`
	CreatedBy      string         `json:"created_by" db:"created_by"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`

	// Vehicle is joined in by ListActive for eligibility checks.
	Vehicle *Vehicle `json:"vehicle,omitempty" db:"-"`
}

type CreateHuntPlanRequest struct {
	VehicleID      string     `json:"vehicle_id" validate:"required,uuid"`
	Name           string     `json:"name" validate:"required,max=200"`
	Origin         Location   `json:"origin" validate:"required"`
	RadiusMiles    *float64   `json:"radius_miles,omitempty" validate:"omitempty,gt=0,lte=3000"`
	EquipmentTypes []string   `json:"equipment_types" validate:"omitempty,dive,required"`
	AvailableFeet  *float64   `json:"available_feet,omitempty" validate:"omitempty,gt=0,lte=53"`
	MaxWeightLbs   *float64   `json:"max_weight_lbs,omitempty" validate:"omitempty,gt=0"`
	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

type UpdateHuntPlanRequest struct {
	Name           *string    `json:"name,omitempty" validate:"omitempty,max=200"`
	Origin         *Location  `json:"origin,omitempty"`
	RadiusMiles    *float64   `json:"radius_miles,omitempty" validate:"omitempty,gt=0,lte=3000"`
	EquipmentTypes []string   `json:"equipment_types,omitempty" validate:"omitempty,dive,required"`
	AvailableFeet  *float64   `json:"available_feet,omitempty" validate:"omitempty,gt=0,lte=53"`
	MaxWeightLbs   *float64   `json:"max_weight_lbs,omitempty" validate:"omitempty,gt=0"`
	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

// HuntPlanResult is returned by registry writes. Degraded means the audit entry was not written.
type HuntPlanResult struct {
	Plan     *HuntPlan `json:"hunt_plan"`
	Degraded bool      `json:"degraded,omitempty"`
}
