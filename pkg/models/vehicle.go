package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TruckTypeCompany    = "company_truck"
	TruckTypeContractor = "contractor_truck"
)

// Vehicle is read by the core, never written.
type Vehicle struct {
	ID                   string              `json:"id" db:"id"`
	TenantID             string              `json:"tenant_id" db:"tenant_id"`
	UnitNumber           string              `json:"unit_number" db:"unit_number"`
	TruckType            string              `json:"truck_type" db:"truck_type"`
	EquipmentType        string              `json:"equipment_type" db:"equipment_type"`
	ContractorPercentage decimal.NullDecimal `json:"contractor_percentage" db:"contractor_percentage"`
	RequiresLoadApproval bool                `json:"requires_load_approval" db:"requires_load_approval"`
	CarrierID            *string             `json:"carrier_id,omitempty" db:"carrier_id"`
	MaxWeightLbs         *float64            `json:"max_weight_lbs,omitempty" db:"max_weight_lbs"`
	Active               bool                `json:"active" db:"active"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

func (v *Vehicle) IsContractor() bool {
	return v.TruckType == TruckTypeContractor
}
